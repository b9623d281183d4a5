package storage

import (
	"context"
	"errors"
	"io"
)

// ErrNotFound 对象不存在
var ErrNotFound = errors.New("object not found")

// Storage 存储接口
//
// 上传的知识源文件先落到对象存储，入库 worker 再按 key 读取。
type Storage interface {
	// Upload 上传文件，返回对象位置
	Upload(ctx context.Context, key string, data io.Reader, contentType string) (string, error)

	// Download 下载文件，对象不存在时返回 ErrNotFound
	Download(ctx context.Context, key string) (io.ReadCloser, error)

	// Delete 删除文件，对象不存在视为成功
	Delete(ctx context.Context, key string) error

	// Exists 检查文件是否存在
	Exists(ctx context.Context, key string) (bool, error)

	// GetStorageType 获取存储类型
	GetStorageType() string
}

// StorageType 存储类型
type StorageType string

const (
	StorageTypeLocal StorageType = "local" // 本地文件系统
	StorageTypeOSS   StorageType = "oss"   // 阿里云OSS
	StorageTypeS3    StorageType = "s3"    // AWS S3 及兼容服务
)
