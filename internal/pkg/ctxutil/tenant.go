package ctxutil

import "context"

type tenantIDKeyType struct{}

var tenantIDKey = tenantIDKeyType{}

// WithTenantID 将租户 id 注入 context，由认证中间件在解析 JWT 后调用
func WithTenantID(ctx context.Context, tenantID string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, tenantIDKey, tenantID)
}

// TenantID 从 context 中取出租户 id
func TenantID(ctx context.Context) (string, bool) {
	if ctx == nil {
		return "", false
	}
	id, ok := ctx.Value(tenantIDKey).(string)
	if !ok || id == "" {
		return "", false
	}
	return id, true
}
