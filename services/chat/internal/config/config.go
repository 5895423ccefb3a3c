package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// ConfigPath is the default config file location.
const ConfigPath = "config.yaml"

// FileConfig represents configuration loaded from YAML, overlaid with
// environment variables.
type FileConfig struct {
	Port     string `yaml:"port"     env:"CHAT_PORT"`
	LogLevel string `yaml:"logLevel" env:"LOG_LEVEL"`

	StoreDriver string `yaml:"storeDriver" env:"CHAT_STORE_DRIVER"`
	DatabaseURL string `yaml:"databaseURL" env:"DATABASE_URL"`

	RedisAddr     string `yaml:"redisAddr"     env:"REDIS_ADDR"`
	RedisPassword string `yaml:"redisPassword" env:"REDIS_PASSWORD"`

	EventTransport string `yaml:"eventTransport" env:"CHAT_EVENT_TRANSPORT"`
	EventPrefix    string `yaml:"eventPrefix"    env:"CHAT_EVENT_PREFIX"`
	AMQPURL        string `yaml:"amqpURL"        env:"AMQP_URL"`
	AMQPExchange   string `yaml:"amqpExchange"   env:"CHAT_AMQP_EXCHANGE"`

	QueueDriver      string `yaml:"queueDriver"      env:"CHAT_QUEUE_DRIVER"`
	QueueStream      string `yaml:"queueStream"      env:"CHAT_QUEUE_STREAM"`
	QueueGroup       string `yaml:"queueGroup"       env:"CHAT_QUEUE_GROUP"`
	QueueConcurrency int    `yaml:"queueConcurrency" env:"CHAT_QUEUE_CONCURRENCY"`

	GenerationProvider       string `yaml:"generationProvider"       env:"CHAT_GENERATION_PROVIDER"`
	GenerationBaseURL        string `yaml:"generationBaseURL"        env:"CHAT_GENERATION_BASE_URL"`
	GenerationAPIKey         string `yaml:"generationAPIKey"         env:"CHAT_GENERATION_API_KEY"`
	GenerationModel          string `yaml:"generationModel"          env:"CHAT_GENERATION_MODEL"`
	GenerationTimeoutSeconds int    `yaml:"generationTimeoutSeconds" env:"CHAT_GENERATION_TIMEOUT_SECONDS"`

	AuthJWKSURL string `yaml:"authJwksURL" env:"CHAT_AUTH_JWKS_URL"`
	JWTIssuer   string `yaml:"jwtIssuer"   env:"JWT_ISSUER"`
	JWTAudience string `yaml:"jwtAudience" env:"JWT_AUDIENCE"`
	JWTLeeway   string `yaml:"jwtLeeway"   env:"JWT_LEEWAY"`

	InternalJWTPublicKeyPath  string   `yaml:"internalJwtPublicKeyPath"  env:"INTERNAL_JWT_PUBLIC_KEY_PATH"`
	InternalJWTKeyID          string   `yaml:"internalJwtKeyId"          env:"INTERNAL_JWT_KEY_ID"`
	InternalJWTVerifyKeys     string   `yaml:"internalJwtVerifyKeys"     env:"INTERNAL_JWT_VERIFY_PUBLIC_KEYS"`
	InternalJWTAllowedIssuers []string `yaml:"internalJwtAllowedIssuers" env:"INTERNAL_JWT_ALLOWED_ISSUERS"`
	InternalJWTAudience       string   `yaml:"internalJwtAudience"       env:"INTERNAL_JWT_AUDIENCE"`
	InternalJWTPrivateKeyPath string   `yaml:"internalJwtPrivateKeyPath" env:"INTERNAL_JWT_PRIVATE_KEY_PATH"`
	InternalJWTIssuer         string   `yaml:"internalJwtIssuer"         env:"INTERNAL_JWT_ISSUER"`
	InternalJWTTTLSeconds     int      `yaml:"internalJwtTtlSeconds"     env:"INTERNAL_JWT_TTL_SECONDS"`

	DigestSchedule    string `yaml:"digestSchedule"    env:"CHAT_DIGEST_SCHEDULE"`
	DigestConcurrency int    `yaml:"digestConcurrency" env:"CHAT_DIGEST_CONCURRENCY"`

	MessageRateLimitPerMinute int      `yaml:"messageRateLimitPerMinute" env:"CHAT_MESSAGE_RATE_LIMIT_PER_MINUTE"`
	TrustedProxyCIDRs         []string `yaml:"trustedProxyCidrs"         env:"CHAT_TRUSTED_PROXY_CIDRS"`

	MinioEndpoint  string `yaml:"minioEndpoint"  env:"MINIO_ENDPOINT"`
	MinioAccessKey string `yaml:"minioAccessKey" env:"MINIO_ACCESS_KEY"`
	MinioSecretKey string `yaml:"minioSecretKey" env:"MINIO_SECRET_KEY"`
	MinioBucket    string `yaml:"minioBucket"    env:"MINIO_BUCKET"`
	MinioUseSSL    bool   `yaml:"minioUseSSL"    env:"MINIO_USE_SSL"`

	ChatServiceURL string `yaml:"chatServiceURL" env:"CHAT_SERVICE_URL"`
}

// Load reads config from path (defaults to config.yaml).
func Load(path string) (FileConfig, error) {
	cfg := FileConfig{}
	if path == "" {
		path = ConfigPath
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	if err := env.Parse(&cfg); err != nil {
		return cfg, fmt.Errorf("parse env: %w", err)
	}
	applyDefaults(&cfg)
	if err := validateConfig(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyDefaults(cfg *FileConfig) {
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if cfg.StoreDriver == "" {
		cfg.StoreDriver = "postgres"
	}
	if cfg.EventTransport == "" {
		cfg.EventTransport = "local"
	}
	if cfg.QueueDriver == "" {
		cfg.QueueDriver = "local"
	}
	if cfg.QueueStream == "" {
		cfg.QueueStream = "chat:bot-jobs"
	}
	if cfg.QueueConcurrency <= 0 {
		cfg.QueueConcurrency = 4
	}
	if cfg.GenerationTimeoutSeconds <= 0 {
		cfg.GenerationTimeoutSeconds = 30
	}
	if cfg.DigestConcurrency <= 0 {
		cfg.DigestConcurrency = 4
	}
	if cfg.InternalJWTAudience == "" {
		cfg.InternalJWTAudience = "chat"
	}
	if cfg.InternalJWTIssuer == "" {
		cfg.InternalJWTIssuer = "chatctl"
	}
	if len(cfg.InternalJWTAllowedIssuers) == 0 {
		cfg.InternalJWTAllowedIssuers = []string{"chatctl"}
	}
	if cfg.InternalJWTTTLSeconds <= 0 {
		cfg.InternalJWTTTLSeconds = 60
	}
}

func validateConfig(cfg FileConfig) error {
	if cfg.Port == "" {
		return errors.New("config: port is required (set in config.yaml)")
	}
	switch cfg.StoreDriver {
	case "memory":
	case "postgres":
		if strings.TrimSpace(cfg.DatabaseURL) == "" {
			return errors.New("config: databaseURL is required for the postgres store (set in config.yaml or DATABASE_URL)")
		}
	default:
		return fmt.Errorf("config: unsupported storeDriver %q", cfg.StoreDriver)
	}
	if strings.TrimSpace(cfg.AuthJWKSURL) == "" {
		return errors.New("config: authJwksURL is required (set in config.yaml or CHAT_AUTH_JWKS_URL)")
	}
	switch cfg.EventTransport {
	case "local":
	case "redis":
		if strings.TrimSpace(cfg.RedisAddr) == "" {
			return errors.New("config: redisAddr is required for the redis event transport")
		}
	case "amqp":
		if strings.TrimSpace(cfg.AMQPURL) == "" {
			return errors.New("config: amqpURL is required for the amqp event transport")
		}
	default:
		return fmt.Errorf("config: unsupported eventTransport %q", cfg.EventTransport)
	}
	switch cfg.QueueDriver {
	case "local":
	case "redis":
		if strings.TrimSpace(cfg.RedisAddr) == "" {
			return errors.New("config: redisAddr is required for the redis job queue")
		}
	default:
		return fmt.Errorf("config: unsupported queueDriver %q", cfg.QueueDriver)
	}
	if strings.TrimSpace(cfg.GenerationProvider) == "" {
		return errors.New("config: generationProvider is required (set in config.yaml)")
	}
	if strings.TrimSpace(cfg.GenerationModel) == "" {
		return errors.New("config: generationModel is required (set in config.yaml)")
	}
	if cfg.MessageRateLimitPerMinute < 0 {
		return errors.New("config: messageRateLimitPerMinute must be >= 0")
	}
	if cfg.MessageRateLimitPerMinute > 0 && strings.TrimSpace(cfg.RedisAddr) == "" {
		return errors.New("config: redisAddr is required for message rate limiting")
	}
	if cfg.DigestSchedule != "" && strings.TrimSpace(cfg.RedisAddr) == "" {
		return errors.New("config: redisAddr is required for the digest schedule lock")
	}
	if cfg.MinioEndpoint != "" && strings.TrimSpace(cfg.MinioBucket) == "" {
		return errors.New("config: minioBucket is required when minioEndpoint is set")
	}
	if _, err := ParseJWTLeeway(cfg.JWTLeeway); err != nil {
		return err
	}
	return nil
}

// ParseJWTLeeway parses optional JWT leeway duration string.
func ParseJWTLeeway(leewayStr string) (time.Duration, error) {
	if leewayStr == "" {
		return 0, nil
	}
	dur, err := time.ParseDuration(leewayStr)
	if err != nil {
		return 0, fmt.Errorf("invalid jwtLeeway duration: %w", err)
	}
	return dur, nil
}

// GenerationTimeout returns the per-call generation deadline.
func (c FileConfig) GenerationTimeout() time.Duration {
	return time.Duration(c.GenerationTimeoutSeconds) * time.Second
}
