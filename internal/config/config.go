package config

import (
	"errors"
	"fmt"
	"time"
)

// Config 应用配置根结构
type Config struct {
	Server    ServerConfig               `mapstructure:"server"`
	Log       LogConfig                  `mapstructure:"log"`
	Mongo     MongoConfig                `mapstructure:"mongo"`
	Redis     RedisConfig                `mapstructure:"redis"`
	Auth      AuthConfig                 `mapstructure:"auth"`
	Storage   StorageConfig              `mapstructure:"storage"`
	Gateway   GatewayConfig              `mapstructure:"gateway"`
	Providers ProvidersConfig            `mapstructure:"providers"`
	Embedding EmbeddingConfig            `mapstructure:"embedding"`
	Retrieval RetrievalConfig            `mapstructure:"retrieval"`
	Chat      ChatConfig                 `mapstructure:"chat"`
	Ingest    IngestConfig               `mapstructure:"ingest"`
	Plans     map[string]PlanLimitConfig `mapstructure:"plans"`
}

// ServerConfig HTTP 服务器配置
type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	Mode         string        `mapstructure:"mode"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	CORSOrigins  []string      `mapstructure:"cors_origins"` // 允许的跨域来源
}

// LogConfig 日志配置 (Zerolog)
type LogConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	Output     string `mapstructure:"output"`
	FilePath   string `mapstructure:"file_path"`
	TimeFormat string `mapstructure:"time_format"`
}

// MongoConfig MongoDB 配置
type MongoConfig struct {
	URI         string `mapstructure:"uri"`
	Database    string `mapstructure:"database"`
	MaxPoolSize uint64 `mapstructure:"max_pool_size"`
	MinPoolSize uint64 `mapstructure:"min_pool_size"`
}

// RedisConfig Redis 配置
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// AuthConfig 认证配置
type AuthConfig struct {
	JWTSecret         string        `mapstructure:"jwt_secret"`          // JWT密钥
	AccessTokenExpiry time.Duration `mapstructure:"access_token_expiry"` // Access Token过期时间
}

// StorageConfig 存储配置
type StorageConfig struct {
	Type  string       `mapstructure:"type"` // local, oss, s3
	Local *LocalConfig `mapstructure:"local,omitempty"`
	OSS   *OSSConfig   `mapstructure:"oss,omitempty"`
	S3    *S3Config    `mapstructure:"s3,omitempty"`
}

// LocalConfig 本地文件系统配置
type LocalConfig struct {
	BasePath string `mapstructure:"base_path"` // 基础路径
}

// OSSConfig 阿里云OSS配置
type OSSConfig struct {
	Endpoint        string `mapstructure:"endpoint"`          // OSS端点
	Bucket          string `mapstructure:"bucket"`            // Bucket名称
	AccessKeyID     string `mapstructure:"access_key_id"`     // AccessKey ID
	AccessKeySecret string `mapstructure:"access_key_secret"` // AccessKey Secret
}

// S3Config S3 兼容存储配置
type S3Config struct {
	Region          string `mapstructure:"region"`
	Bucket          string `mapstructure:"bucket"`
	Endpoint        string `mapstructure:"endpoint"` // 自建 S3 兼容服务时填写
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
	UsePathStyle    bool   `mapstructure:"use_path_style"`
}

// GatewayConfig LLM / Embedding 网关主密钥
//
// 各 provider 未单独配置 api_key 时使用 master_key。
type GatewayConfig struct {
	MasterKey string `mapstructure:"master_key"`
	BaseURL   string `mapstructure:"base_url"`
}

// ProvidersConfig 三类模型供应商配置
type ProvidersConfig struct {
	OpenAI    ProviderConfig `mapstructure:"openai"`
	Anthropic ProviderConfig `mapstructure:"anthropic"`
	Gemini    ProviderConfig `mapstructure:"gemini"`
}

// ProviderConfig 单个供应商配置
type ProviderConfig struct {
	Enabled     bool     `mapstructure:"enabled"`
	APIKey      string   `mapstructure:"api_key"`
	BaseURL     string   `mapstructure:"base_url"`
	Models      []string `mapstructure:"models"` // 模型白名单
	MaxTokens   int      `mapstructure:"max_tokens"`
	Temperature float32  `mapstructure:"temperature"`
	// Azure OpenAI
	ByAzure    bool   `mapstructure:"by_azure"`
	APIVersion string `mapstructure:"api_version"`
}

// EmbeddingConfig 向量化配置
type EmbeddingConfig struct {
	Backend     string        `mapstructure:"backend"` // openai, gemini
	Model       string        `mapstructure:"model"`
	APIKey      string        `mapstructure:"api_key"`
	BaseURL     string        `mapstructure:"base_url"`
	Dimension   int           `mapstructure:"dimension"`
	BatchSize   int           `mapstructure:"batch_size"`
	Concurrency int           `mapstructure:"concurrency"`
	Timeout     time.Duration `mapstructure:"timeout"`
}

// RetrievalConfig 检索配置
type RetrievalConfig struct {
	DefaultK   int     `mapstructure:"default_k"`
	ScoreFloor float64 `mapstructure:"score_floor"`
}

// ChatConfig 对话编排配置
type ChatConfig struct {
	RetryDelay      time.Duration `mapstructure:"retry_delay"`
	ProviderTimeout time.Duration `mapstructure:"provider_timeout"`
	HistoryLimit    int           `mapstructure:"history_limit"`
	BotCacheTTL     time.Duration `mapstructure:"bot_cache_ttl"`
}

// IngestConfig 知识源入库配置
type IngestConfig struct {
	Workers        int           `mapstructure:"workers"`
	QueueSize      int           `mapstructure:"queue_size"`
	FetchTimeout   time.Duration `mapstructure:"fetch_timeout"`
	MaxFetchBytes  int64         `mapstructure:"max_fetch_bytes"`
	MaxUploadBytes int64         `mapstructure:"max_upload_bytes"` // 上传请求体上限，超出返回 413
	SweepInterval  time.Duration `mapstructure:"sweep_interval"`   // pending 知识源重新入队的扫描间隔
	ChunkSize      int           `mapstructure:"chunk_size"`
	ChunkOverlap   int           `mapstructure:"chunk_overlap"`
	UserAgent      string        `mapstructure:"user_agent"`
}

// PlanLimitConfig 覆盖内置套餐的限额，未填写的字段沿用内置值
type PlanLimitConfig struct {
	MaxMessagesPerMonth *int64           `mapstructure:"max_messages_per_month"`
	MaxChatbots         *int64           `mapstructure:"max_chatbots"`
	MaxSourcesOfKind    map[string]int64 `mapstructure:"max_sources_of_kind"`
	AllowedProviders    []string         `mapstructure:"allowed_providers"`
	MaxFileSize         *int64           `mapstructure:"max_file_size"`
}

// MaxBotCacheTTL bot 配置缓存的最长有效期
const MaxBotCacheTTL = 5 * time.Minute

// Validate 验证配置有效性
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return errors.New("invalid server port")
	}

	validModes := map[string]bool{"debug": true, "release": true, "test": true}
	if !validModes[c.Server.Mode] {
		return errors.New("invalid server mode, must be debug/release/test")
	}

	// 主密钥为必填项，除非每个启用的供应商都有自己的密钥
	if c.Gateway.MasterKey == "" {
		for name, p := range c.Providers.enabled() {
			if p.APIKey == "" {
				return fmt.Errorf("missing gateway.master_key and providers.%s.api_key", name)
			}
		}
		if c.Embedding.APIKey == "" {
			return errors.New("missing gateway.master_key and embedding.api_key")
		}
	}

	switch c.Embedding.Backend {
	case "openai", "gemini":
	default:
		return fmt.Errorf("invalid embedding backend %q, must be openai/gemini", c.Embedding.Backend)
	}
	if c.Embedding.BatchSize < 1 || c.Embedding.BatchSize > 100 {
		return errors.New("embedding.batch_size must be within 1..100")
	}

	if c.Chat.BotCacheTTL > MaxBotCacheTTL {
		return fmt.Errorf("chat.bot_cache_ttl must not exceed %s", MaxBotCacheTTL)
	}

	if c.Ingest.ChunkSize <= 0 || c.Ingest.ChunkOverlap < 0 || c.Ingest.ChunkOverlap >= c.Ingest.ChunkSize {
		return errors.New("ingest.chunk_overlap must be smaller than ingest.chunk_size")
	}

	return nil
}

func (p ProvidersConfig) enabled() map[string]ProviderConfig {
	out := make(map[string]ProviderConfig, 3)
	if p.OpenAI.Enabled {
		out["openai"] = p.OpenAI
	}
	if p.Anthropic.Enabled {
		out["anthropic"] = p.Anthropic
	}
	if p.Gemini.Enabled {
		out["gemini"] = p.Gemini
	}
	return out
}

// KeyFor 返回供应商实际使用的密钥
func (c *Config) KeyFor(p ProviderConfig) string {
	if p.APIKey != "" {
		return p.APIKey
	}
	return c.Gateway.MasterKey
}
