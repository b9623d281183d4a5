package storagefactory

import (
	"context"
	"fmt"

	"botforge/internal/config"
	"botforge/internal/pkg/storage"
	"botforge/internal/pkg/storage/local"
	"botforge/internal/pkg/storage/oss"
	"botforge/internal/pkg/storage/s3"
)

// NewStorage 根据配置创建存储实例
func NewStorage(ctx context.Context, cfg *config.StorageConfig) (storage.Storage, error) {
	switch cfg.Type {
	case "local":
		if cfg.Local == nil {
			return nil, fmt.Errorf("local storage config is required")
		}
		st, err := local.NewLocalStorage(cfg.Local.BasePath)
		if err != nil {
			return nil, err
		}
		return st, nil
	case "oss":
		if cfg.OSS == nil {
			return nil, fmt.Errorf("OSS storage config is required")
		}
		st, err := oss.NewOSSStorage(
			cfg.OSS.Endpoint,
			cfg.OSS.Bucket,
			cfg.OSS.AccessKeyID,
			cfg.OSS.AccessKeySecret,
		)
		if err != nil {
			return nil, err
		}
		return st, nil
	case "s3":
		if cfg.S3 == nil {
			return nil, fmt.Errorf("S3 storage config is required")
		}
		st, err := s3.NewS3Storage(ctx, cfg.S3)
		if err != nil {
			return nil, err
		}
		return st, nil
	default:
		return nil, fmt.Errorf("unsupported storage type: %s", cfg.Type)
	}
}
