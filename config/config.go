package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Log        LogConfig        `mapstructure:"log"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Redis      RedisConfig      `mapstructure:"redis"`
	JWT        JWTConfig        `mapstructure:"jwt"`
	Storage    StorageConfig    `mapstructure:"storage"`
	Queue      QueueConfig      `mapstructure:"queue"`
	Summarizer SummarizerConfig `mapstructure:"summarizer"`
	Upload     UploadConfig     `mapstructure:"upload"`
	CORS       CORSConfig       `mapstructure:"cors"`
	RateLimit  RateLimitConfig  `mapstructure:"rate_limit"`
}

type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	Mode            string        `mapstructure:"mode"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // json, console
}

type DatabaseConfig struct {
	Driver       string `mapstructure:"driver"` // mysql, postgres, sqlite
	DSN          string `mapstructure:"dsn"`
	MaxIdleConns int    `mapstructure:"max_idle_conns"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
}

type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	PoolSize int    `mapstructure:"pool_size"`
}

type JWTConfig struct {
	Secret              string `mapstructure:"secret"`
	AccessExpireMinutes int    `mapstructure:"access_expire_minutes"`
	RefreshExpireDays   int    `mapstructure:"refresh_expire_days"`
}

type StorageConfig struct {
	Driver string             `mapstructure:"driver"` // local, minio, oss, gcs
	Local  LocalStorageConfig `mapstructure:"local"`
	MinIO  MinIOConfig        `mapstructure:"minio"`
	OSS    OSSConfig          `mapstructure:"oss"`
	GCS    GCSConfig          `mapstructure:"gcs"`
}

type LocalStorageConfig struct {
	Root    string `mapstructure:"root"`
	BaseURL string `mapstructure:"base_url"`
}

// MinIOConfig also covers S3 and Cloudflare R2 endpoints.
type MinIOConfig struct {
	Endpoint  string `mapstructure:"endpoint"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	Bucket    string `mapstructure:"bucket"`
	UseSSL    bool   `mapstructure:"use_ssl"`
	Region    string `mapstructure:"region"`
	PublicURL string `mapstructure:"public_url"`
}

type OSSConfig struct {
	Endpoint        string `mapstructure:"endpoint"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	AccessKeySecret string `mapstructure:"access_key_secret"`
	BucketName      string `mapstructure:"bucket_name"`
	CDNDomain       string `mapstructure:"cdn_domain"`
}

type GCSConfig struct {
	Bucket          string `mapstructure:"bucket"`
	CredentialsFile string `mapstructure:"credentials_file"`
}

type QueueConfig struct {
	Driver            string        `mapstructure:"driver"` // redis, asynq
	Name              string        `mapstructure:"name"`
	MaxWorkers        int           `mapstructure:"max_workers"`
	VisibilityTimeout time.Duration `mapstructure:"visibility_timeout"`
	MaxDeliveries     int           `mapstructure:"max_deliveries"`
	ResultTTL         time.Duration `mapstructure:"result_ttl"`
	ReapInterval      time.Duration `mapstructure:"reap_interval"`
}

type SummarizerConfig struct {
	Provider      string       `mapstructure:"provider"` // gemini, ollama
	MaxInputChars int          `mapstructure:"max_input_chars"`
	MinTextChars  int          `mapstructure:"min_text_chars"`
	Retry         RetryConfig  `mapstructure:"retry"`
	Gemini        GeminiConfig `mapstructure:"gemini"`
	Ollama        OllamaConfig `mapstructure:"ollama"`
}

type RetryConfig struct {
	MaxAttempts     int           `mapstructure:"max_attempts"`
	InitialInterval time.Duration `mapstructure:"initial_interval"`
	MaxInterval     time.Duration `mapstructure:"max_interval"`
	Multiplier      float64       `mapstructure:"multiplier"`
}

type GeminiConfig struct {
	ProjectID string `mapstructure:"project_id"`
	Location  string `mapstructure:"location"`
	Model     string `mapstructure:"model"`
}

type OllamaConfig struct {
	BaseURL string        `mapstructure:"base_url"`
	Model   string        `mapstructure:"model"`
	Timeout time.Duration `mapstructure:"timeout"`
}

type UploadConfig struct {
	MaxSize         int64  `mapstructure:"max_size"` // bytes
	StagingDir      string `mapstructure:"staging_dir"`
	StagingTTLHours int    `mapstructure:"staging_ttl_hours"`
	PutAttempts     int    `mapstructure:"put_attempts"`
}

type CORSConfig struct {
	AllowedOrigins []string `mapstructure:"allowed_origins"`
	AllowedMethods []string `mapstructure:"allowed_methods"`
	AllowedHeaders []string `mapstructure:"allowed_headers"`
}

type RateLimitConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Requests int           `mapstructure:"requests"`
	Window   time.Duration `mapstructure:"window"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8000)
	v.SetDefault("server.mode", "debug")
	v.SetDefault("server.shutdown_timeout", 10*time.Second)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	v.SetDefault("database.driver", "mysql")
	v.SetDefault("database.max_idle_conns", 10)
	v.SetDefault("database.max_open_conns", 50)

	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.pool_size", 20)

	v.SetDefault("jwt.access_expire_minutes", 20)
	v.SetDefault("jwt.refresh_expire_days", 7)

	v.SetDefault("storage.driver", "local")
	v.SetDefault("storage.local.root", "./data/objects")

	v.SetDefault("queue.driver", "redis")
	v.SetDefault("queue.name", "document_tasks")
	v.SetDefault("queue.max_workers", 2)
	v.SetDefault("queue.visibility_timeout", 5*time.Minute)
	v.SetDefault("queue.max_deliveries", 3)
	v.SetDefault("queue.result_ttl", 24*time.Hour)
	v.SetDefault("queue.reap_interval", 30*time.Second)

	v.SetDefault("summarizer.provider", "ollama")
	v.SetDefault("summarizer.max_input_chars", 8000)
	v.SetDefault("summarizer.min_text_chars", 50)
	v.SetDefault("summarizer.retry.max_attempts", 5)
	v.SetDefault("summarizer.retry.initial_interval", 10*time.Second)
	v.SetDefault("summarizer.retry.max_interval", 60*time.Second)
	v.SetDefault("summarizer.retry.multiplier", 2.0)
	v.SetDefault("summarizer.gemini.location", "us-central1")
	v.SetDefault("summarizer.gemini.model", "gemini-2.0-flash")
	v.SetDefault("summarizer.ollama.base_url", "http://localhost:11434")
	v.SetDefault("summarizer.ollama.model", "llama3")
	v.SetDefault("summarizer.ollama.timeout", 120*time.Second)

	v.SetDefault("upload.max_size", 10*1024*1024)
	v.SetDefault("upload.staging_dir", "./data/staging")
	v.SetDefault("upload.staging_ttl_hours", 24)
	v.SetDefault("upload.put_attempts", 3)

	v.SetDefault("cors.allowed_methods", []string{"GET", "POST", "OPTIONS"})
	v.SetDefault("cors.allowed_headers", []string{"Authorization", "Content-Type", "X-Request-Id"})

	v.SetDefault("rate_limit.enabled", true)
	v.SetDefault("rate_limit.requests", 10)
	v.SetDefault("rate_limit.window", time.Minute)
}

func Load(configPath string) (*Config, error) {
	// config.local.yaml holds real secrets and is never committed
	dir := filepath.Dir(configPath)
	localConfigPath := filepath.Join(dir, "config.local.yaml")
	if _, err := os.Stat(localConfigPath); err == nil {
		configPath = localConfigPath
	}

	v := viper.New()
	setDefaults(v)
	v.SetConfigFile(configPath)
	v.SetConfigType("yaml")

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Addr returns the redis address in host:port form.
func (r RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}
