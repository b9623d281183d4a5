package storagefactory

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"botforge/internal/config"
	"botforge/internal/pkg/storage"
)

func TestNewStorage(t *testing.T) {
	tmpDir := t.TempDir()

	tests := []struct {
		name    string
		cfg     *config.StorageConfig
		wantErr bool
	}{
		{
			name: "valid local storage config",
			cfg: &config.StorageConfig{
				Type:  "local",
				Local: &config.LocalConfig{BasePath: tmpDir},
			},
		},
		{
			name:    "missing local config",
			cfg:     &config.StorageConfig{Type: "local"},
			wantErr: true,
		},
		{
			name:    "missing s3 config",
			cfg:     &config.StorageConfig{Type: "s3"},
			wantErr: true,
		},
		{
			name:    "s3 without bucket",
			cfg:     &config.StorageConfig{Type: "s3", S3: &config.S3Config{Region: "us-east-1"}},
			wantErr: true,
		},
		{
			name:    "unsupported storage type",
			cfg:     &config.StorageConfig{Type: "invalid"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st, err := NewStorage(context.Background(), tt.cfg)
			if tt.wantErr {
				if err == nil {
					t.Errorf("NewStorage() expected error, got nil")
				}
				if st != nil {
					t.Errorf("NewStorage() expected nil storage, got %v", st)
				}
				return
			}
			if err != nil {
				t.Fatalf("NewStorage() unexpected error: %v", err)
			}
			if st == nil {
				t.Fatalf("NewStorage() expected storage instance, got nil")
			}
		})
	}
}

func TestLocalStorage_Operations(t *testing.T) {
	ctx := context.Background()
	st, err := NewStorage(ctx, &config.StorageConfig{
		Type:  "local",
		Local: &config.LocalConfig{BasePath: t.TempDir()},
	})
	if err != nil {
		t.Fatalf("Failed to create storage: %v", err)
	}

	key := "sources/bot-1/src-1.txt"
	content := "Hello, World! This is a test file."

	if _, err := st.Upload(ctx, key, strings.NewReader(content), "text/plain"); err != nil {
		t.Fatalf("Upload() error = %v", err)
	}

	exists, err := st.Exists(ctx, key)
	if err != nil || !exists {
		t.Fatalf("Exists() = %v, %v; want true, nil", exists, err)
	}

	reader, err := st.Download(ctx, key)
	if err != nil {
		t.Fatalf("Download() error = %v", err)
	}
	got, err := io.ReadAll(reader)
	reader.Close()
	if err != nil {
		t.Fatalf("ReadAll() error = %v", err)
	}
	if string(got) != content {
		t.Errorf("Download() content = %q, want %q", got, content)
	}

	if err := st.Delete(ctx, key); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if exists, _ := st.Exists(ctx, key); exists {
		t.Errorf("Exists() = true after delete")
	}

	// 删除不存在的文件视为成功
	if err := st.Delete(ctx, key); err != nil {
		t.Errorf("Delete() error = %v, should succeed for non-existent file", err)
	}

	if _, err := st.Download(ctx, "nonexistent/file.txt"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("Download() error = %v, want ErrNotFound", err)
	}

	if st.GetStorageType() != string(storage.StorageTypeLocal) {
		t.Errorf("GetStorageType() = %s", st.GetStorageType())
	}
}

func TestLocalStorage_RejectsEscapingKey(t *testing.T) {
	ctx := context.Background()
	base := t.TempDir()
	st, err := NewStorage(ctx, &config.StorageConfig{Type: "local", Local: &config.LocalConfig{BasePath: base}})
	if err != nil {
		t.Fatalf("Failed to create storage: %v", err)
	}

	// "../" 被折叠到 basePath 内
	if _, err := st.Upload(ctx, "../../escape.txt", strings.NewReader("x"), "text/plain"); err != nil {
		t.Fatalf("Upload() error = %v", err)
	}
	exists, err := st.Exists(ctx, "escape.txt")
	if err != nil || !exists {
		t.Errorf("expected key to be confined to base path, exists=%v err=%v", exists, err)
	}
}
