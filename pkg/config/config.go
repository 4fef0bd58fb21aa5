package config

import (
	"errors"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
)

// Token store backends.
const (
	TokenStorePostgres = "postgres"
	TokenStoreRedis    = "redis"
)

type Config struct {
	Env  string
	Port int

	App       AppConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	CORS      CORSConfig
	Log       LogConfig
	Tokens    TokenConfig
	Mail      MailConfig
	MailQueue MailQueueConfig
}

// AppConfig holds values used when building links sent to users.
type AppConfig struct {
	BaseURL string
}

type DatabaseConfig struct {
	Host          string
	Port          int
	User          string
	Password      string
	Name          string
	SSLMode       string
	MaxOpenConns  int
	MaxIdleConns  int
	RunMigrations bool
}

type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

type CORSConfig struct {
	AllowedOrigins []string
}

type LogConfig struct {
	Level  string
	Format string
}

// TokenConfig selects where password reset tokens live and how often expired
// ones are reaped.
type TokenConfig struct {
	Store          string
	ReapSchedule   string
	ReapTimeout    time.Duration
	RedisKeyPrefix string
}

// MailConfig configures outbound mail delivery.
type MailConfig struct {
	Enabled     bool
	Domain      string
	APIKey      string
	EURegion    bool
	Sender      string
	ProductName string
	SendTimeout time.Duration
}

// MailQueueConfig tunes the background mail workers.
type MailQueueConfig struct {
	Workers        int
	Buffer         int
	Retries        int
	RetryDelay     time.Duration
	EnqueueTimeout time.Duration
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
	}

	return fromViper(v)
}

func fromViper(v *viper.Viper) (*Config, error) {
	cfg := &Config{}

	cfg.Env = v.GetString("ENV")
	cfg.Port = v.GetInt("PORT")

	cfg.App = AppConfig{BaseURL: strings.TrimRight(v.GetString("APP_BASE_URL"), "/")}

	cfg.Database = DatabaseConfig{
		Host:          v.GetString("DB_HOST"),
		Port:          v.GetInt("DB_PORT"),
		User:          v.GetString("DB_USER"),
		Password:      v.GetString("DB_PASSWORD"),
		Name:          v.GetString("DB_NAME"),
		SSLMode:       v.GetString("DB_SSL_MODE"),
		MaxOpenConns:  v.GetInt("DB_MAX_OPEN_CONNS"),
		MaxIdleConns:  v.GetInt("DB_MAX_IDLE_CONNS"),
		RunMigrations: v.GetBool("DB_RUN_MIGRATIONS"),
	}

	cfg.Redis = RedisConfig{
		Host:     v.GetString("REDIS_HOST"),
		Port:     v.GetInt("REDIS_PORT"),
		Password: v.GetString("REDIS_PASSWORD"),
		DB:       v.GetInt("REDIS_DB"),
	}

	cfg.CORS = CORSConfig{AllowedOrigins: splitAndTrim(v.GetString("ALLOWED_ORIGINS"))}

	cfg.Log = LogConfig{
		Level:  v.GetString("LOG_LEVEL"),
		Format: v.GetString("LOG_FORMAT"),
	}

	cfg.Tokens = TokenConfig{
		Store:          strings.ToLower(strings.TrimSpace(v.GetString("TOKEN_STORE"))),
		ReapSchedule:   v.GetString("TOKEN_REAP_SCHEDULE"),
		ReapTimeout:    parseDuration(v.GetString("TOKEN_REAP_TIMEOUT"), 30*time.Second),
		RedisKeyPrefix: v.GetString("TOKEN_REDIS_PREFIX"),
	}
	switch cfg.Tokens.Store {
	case TokenStorePostgres, TokenStoreRedis:
	default:
		return nil, errors.New("TOKEN_STORE must be postgres or redis")
	}

	cfg.Mail = MailConfig{
		Enabled:     v.GetBool("MAIL_ENABLED"),
		Domain:      v.GetString("MAIL_DOMAIN"),
		APIKey:      v.GetString("MAIL_API_KEY"),
		EURegion:    v.GetBool("MAIL_EU_REGION"),
		Sender:      v.GetString("MAIL_SENDER"),
		ProductName: v.GetString("MAIL_PRODUCT_NAME"),
		SendTimeout: parseDuration(v.GetString("MAIL_SEND_TIMEOUT"), 5*time.Second),
	}
	if cfg.Mail.Enabled && (cfg.Mail.Domain == "" || cfg.Mail.APIKey == "") {
		return nil, errors.New("MAIL_DOMAIN and MAIL_API_KEY are required when MAIL_ENABLED is set")
	}

	cfg.MailQueue = MailQueueConfig{
		Workers:        v.GetInt("MAIL_QUEUE_WORKERS"),
		Buffer:         v.GetInt("MAIL_QUEUE_BUFFER"),
		Retries:        v.GetInt("MAIL_QUEUE_RETRIES"),
		RetryDelay:     parseDuration(v.GetString("MAIL_QUEUE_RETRY_DELAY"), 2*time.Second),
		EnqueueTimeout: parseDuration(v.GetString("MAIL_QUEUE_ENQUEUE_TIMEOUT"), 2*time.Second),
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ENV", EnvDevelopment)
	v.SetDefault("PORT", 8080)
	v.SetDefault("APP_BASE_URL", "http://localhost:4200")

	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", 5432)
	v.SetDefault("DB_USER", "postgres")
	v.SetDefault("DB_PASSWORD", "postgres")
	v.SetDefault("DB_NAME", "incidents")
	v.SetDefault("DB_SSL_MODE", "disable")
	v.SetDefault("DB_MAX_OPEN_CONNS", 10)
	v.SetDefault("DB_MAX_IDLE_CONNS", 5)
	v.SetDefault("DB_RUN_MIGRATIONS", true)

	v.SetDefault("REDIS_HOST", "localhost")
	v.SetDefault("REDIS_PORT", 6379)
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)

	v.SetDefault("ALLOWED_ORIGINS", "")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")

	v.SetDefault("TOKEN_STORE", TokenStorePostgres)
	v.SetDefault("TOKEN_REAP_SCHEDULE", "@every 15m")
	v.SetDefault("TOKEN_REAP_TIMEOUT", "30s")
	v.SetDefault("TOKEN_REDIS_PREFIX", "reset")

	v.SetDefault("MAIL_ENABLED", false)
	v.SetDefault("MAIL_DOMAIN", "")
	v.SetDefault("MAIL_API_KEY", "")
	v.SetDefault("MAIL_EU_REGION", false)
	v.SetDefault("MAIL_SENDER", "Incident Tracker <no-reply@localhost>")
	v.SetDefault("MAIL_PRODUCT_NAME", "Incident Tracker")
	v.SetDefault("MAIL_SEND_TIMEOUT", "5s")

	v.SetDefault("MAIL_QUEUE_WORKERS", 2)
	v.SetDefault("MAIL_QUEUE_BUFFER", 64)
	v.SetDefault("MAIL_QUEUE_RETRIES", 3)
	v.SetDefault("MAIL_QUEUE_RETRY_DELAY", "2s")
	v.SetDefault("MAIL_QUEUE_ENQUEUE_TIMEOUT", "2s")
}

func parseDuration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}

	d, err := time.ParseDuration(raw)
	if err != nil {
		return fallback
	}

	return d
}

func splitAndTrim(raw string) []string {
	if raw == "" {
		return nil
	}

	parts := strings.Split(raw, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}

	return result
}
