package cmd

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"botforge/internal/config"
	"botforge/internal/pkg/logger"
)

var (
	cfgFile string
	cfg     *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "botforge",
	Short: "Botforge - multi-tenant chatbot backend",
	Long: `Botforge serves knowledge-grounded chatbots for many tenants.
It ingests documents, web pages and text into per-bot knowledge bases and
answers channel messages through OpenAI, Anthropic or Gemini models.`,
	SilenceUsage: true,
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "",
		"config file (default: ./configs/config.yaml)")
	rootCmd.PersistentFlags().String("env-file", ".env", "dotenv file loaded before reading the environment")

	_ = viper.BindPFlag("config", rootCmd.PersistentFlags().Lookup("config"))
}

func initConfig() {
	// .env 中的变量不覆盖已存在的环境变量
	envFile, _ := rootCmd.PersistentFlags().GetString("env-file")
	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "Failed to load %s: %v\n", envFile, err)
	}

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
		viper.AddConfigPath("./configs")
		viper.AddConfigPath(".")
		viper.AddConfigPath("$HOME/.botforge")
	}

	// 环境变量设置
	viper.SetEnvPrefix("BOTFORGE")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	// 设置默认值
	setDefaults()

	// 读取配置文件
	if err := viper.ReadInConfig(); err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if errors.As(err, &configFileNotFoundError) {
			fmt.Fprintln(os.Stderr, "No config file found, using defaults and environment variables")
		} else {
			fmt.Fprintf(os.Stderr, "Failed to read config: %v\n", err)
			os.Exit(1)
		}
	}

	// 反序列化到结构体
	cfg = &config.Config{}
	if err := viper.Unmarshal(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to unmarshal config: %v\n", err)
		os.Exit(1)
	}

	// 初始化日志
	if err := logger.Init(&cfg.Log); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to init logger: %v\n", err)
		os.Exit(1)
	}

	log.Debug().Str("config_file", viper.ConfigFileUsed()).Msg("configuration loaded")
}

func setDefaults() {
	// Server
	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.mode", "release")
	viper.SetDefault("server.read_timeout", "30s")
	viper.SetDefault("server.write_timeout", "90s")
	viper.SetDefault("server.cors_origins", []string{"*"})

	// Log
	viper.SetDefault("log.level", "info")
	viper.SetDefault("log.format", "console")
	viper.SetDefault("log.output", "stdout")
	viper.SetDefault("log.time_format", "RFC3339")

	// MongoDB
	viper.SetDefault("mongo.database", "botforge")
	viper.SetDefault("mongo.max_pool_size", 100)
	viper.SetDefault("mongo.min_pool_size", 10)

	// Redis
	viper.SetDefault("redis.db", 0)

	// Auth
	viper.SetDefault("auth.access_token_expiry", "24h")

	// Storage
	viper.SetDefault("storage.type", "local")
	viper.SetDefault("storage.local.base_path", "./data/sources")

	// Providers
	viper.SetDefault("providers.openai.enabled", true)
	viper.SetDefault("providers.openai.models", []string{"gpt-4o-mini", "gpt-4o", "gpt-4.1-mini", "gpt-4.1"})
	viper.SetDefault("providers.openai.max_tokens", 1024)
	viper.SetDefault("providers.openai.temperature", 0.7)
	viper.SetDefault("providers.anthropic.enabled", true)
	viper.SetDefault("providers.anthropic.base_url", "https://api.anthropic.com")
	viper.SetDefault("providers.anthropic.models", []string{"claude-3-5-haiku-latest", "claude-3-5-sonnet-latest", "claude-sonnet-4-0"})
	viper.SetDefault("providers.anthropic.max_tokens", 1024)
	viper.SetDefault("providers.anthropic.temperature", 0.7)
	viper.SetDefault("providers.gemini.enabled", true)
	viper.SetDefault("providers.gemini.models", []string{"gemini-1.5-flash", "gemini-1.5-pro", "gemini-2.0-flash"})
	viper.SetDefault("providers.gemini.max_tokens", 1024)
	viper.SetDefault("providers.gemini.temperature", 0.7)

	// Embedding
	viper.SetDefault("embedding.backend", "openai")
	viper.SetDefault("embedding.model", "text-embedding-3-small")
	viper.SetDefault("embedding.dimension", 1536)
	viper.SetDefault("embedding.batch_size", 100)
	viper.SetDefault("embedding.concurrency", 4)
	viper.SetDefault("embedding.timeout", "30s")

	// Retrieval
	viper.SetDefault("retrieval.default_k", 5)
	viper.SetDefault("retrieval.score_floor", 0.0)

	// Chat
	viper.SetDefault("chat.retry_delay", "500ms")
	viper.SetDefault("chat.provider_timeout", "60s")
	viper.SetDefault("chat.history_limit", 20)
	viper.SetDefault("chat.bot_cache_ttl", "5m")

	// Ingest
	viper.SetDefault("ingest.workers", 4)
	viper.SetDefault("ingest.queue_size", 256)
	viper.SetDefault("ingest.fetch_timeout", "30s")
	viper.SetDefault("ingest.max_fetch_bytes", 10<<20)
	viper.SetDefault("ingest.max_upload_bytes", 100<<20)
	viper.SetDefault("ingest.sweep_interval", "30s")
	viper.SetDefault("ingest.chunk_size", 2000)
	viper.SetDefault("ingest.chunk_overlap", 200)
	viper.SetDefault("ingest.user_agent",
		"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0 Safari/537.36")
}

// GetConfig returns the global configuration
func GetConfig() *config.Config {
	return cfg
}
