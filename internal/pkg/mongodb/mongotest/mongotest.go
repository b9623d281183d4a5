// Package mongotest 仓库层集成测试使用的 MongoDB 连接
package mongotest

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"

	"go.mongodb.org/mongo-driver/mongo"

	"botforge/internal/config"
	"botforge/internal/pkg/id"
	"botforge/internal/pkg/mongodb"
)

// EnvURI 集成测试的 MongoDB 地址，未设置时跳过
const EnvURI = "BOTFORGE_TEST_MONGO_URI"

// Database 创建一个独立的测试库并建好索引，测试结束后删除
func Database(t testing.TB) *mongo.Database {
	t.Helper()
	uri := os.Getenv(EnvURI)
	if uri == "" {
		t.Skipf("%s not set, skipping MongoDB integration test", EnvURI)
	}

	name := "botforge_test_" + strings.ReplaceAll(id.New(), "-", "")[:12]
	client, err := mongodb.New(&config.MongoConfig{URI: uri, Database: name, MaxPoolSize: 32})
	if err != nil {
		t.Fatalf("connect mongo: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := mongodb.EnsureIndexes(ctx, client.Database()); err != nil {
		_ = client.Close(ctx)
		t.Fatalf("ensure indexes: %v", err)
	}

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		_ = client.Database().Drop(ctx)
		_ = client.Close(ctx)
	})
	return client.Database()
}
