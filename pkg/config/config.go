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

	SessionBackendRedis  = "redis"
	SessionBackendMemory = "memory"
)

type Config struct {
	Env       string
	Port      int
	APIPrefix string

	Database  DatabaseConfig
	Redis     RedisConfig
	JWT       JWTConfig
	CORS      CORSConfig
	Log       LogConfig
	Telegram  TelegramConfig
	Bot       BotConfig
	Session   SessionConfig
	Scoring   ScoringConfig
	Notify    NotifyConfig
	Dashboard DashboardConfig
	Export    ExportConfig
	Seed      SeedConfig
}

type DatabaseConfig struct {
	Host         string
	Port         int
	User         string
	Password     string
	Name         string
	SSLMode      string
	MaxOpenConns int
	MaxIdleConns int
}

type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

type JWTConfig struct {
	Secret     string
	Expiration time.Duration
}

type CORSConfig struct {
	AllowedOrigins []string
}

type LogConfig struct {
	Level  string
	Format string
}

// TelegramConfig holds transport credentials for the bot API.
type TelegramConfig struct {
	Token       string
	APIEndpoint string
	PollTimeout int
	Debug       bool
	// InitDataTTL bounds the age of Mini App init data; zero disables the check.
	InitDataTTL time.Duration
}

// BotConfig tunes the conversation runner.
type BotConfig struct {
	MaxPending int
	Timezone   string
	MiniAppURL string
	ListLimit  int
}

// SessionConfig selects the conversation context store.
type SessionConfig struct {
	Backend string
	TTL     time.Duration
	Prefix  string
}

// ScoringConfig controls background recomputation of trust and discipline indices.
type ScoringConfig struct {
	SweepInterval time.Duration
	Workers       int
	MaxRetries    int
}

// NotifyConfig controls the notification delivery queue.
type NotifyConfig struct {
	Workers    int
	MaxRetries int
	RetryDelay time.Duration
}

// DashboardConfig governs dashboard exposure and cache tuning.
type DashboardConfig struct {
	Enabled  bool
	CacheTTL time.Duration
}

// ExportConfig configures application report rendering.
type ExportConfig struct {
	FontPath string
}

// SeedConfig lists reference data created by the seed command.
type SeedConfig struct {
	Cities []string
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
		// an explicit config file that is absent surfaces as fs.ErrNotExist
		if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
	}

	cfg := &Config{}

	cfg.Env = v.GetString("ENV")
	cfg.Port = v.GetInt("PORT")
	cfg.APIPrefix = v.GetString("API_PREFIX")

	cfg.Database = DatabaseConfig{
		Host:         v.GetString("DB_HOST"),
		Port:         v.GetInt("DB_PORT"),
		User:         v.GetString("DB_USER"),
		Password:     v.GetString("DB_PASSWORD"),
		Name:         v.GetString("DB_NAME"),
		SSLMode:      v.GetString("DB_SSL_MODE"),
		MaxOpenConns: v.GetInt("DB_MAX_OPEN_CONNS"),
		MaxIdleConns: v.GetInt("DB_MAX_IDLE_CONNS"),
	}

	cfg.Redis = RedisConfig{
		Host:     v.GetString("REDIS_HOST"),
		Port:     v.GetInt("REDIS_PORT"),
		Password: v.GetString("REDIS_PASSWORD"),
		DB:       v.GetInt("REDIS_DB"),
	}

	cfg.JWT = JWTConfig{
		Secret:     v.GetString("JWT_SECRET"),
		Expiration: parseDuration(v.GetString("JWT_EXPIRATION"), 24*time.Hour),
	}

	cfg.CORS = CORSConfig{AllowedOrigins: splitAndTrim(v.GetString("ALLOWED_ORIGINS"))}

	cfg.Log = LogConfig{
		Level:  v.GetString("LOG_LEVEL"),
		Format: v.GetString("LOG_FORMAT"),
	}

	cfg.Telegram = TelegramConfig{
		Token:       v.GetString("TELEGRAM_BOT_TOKEN"),
		APIEndpoint: v.GetString("TELEGRAM_API_ENDPOINT"),
		PollTimeout: v.GetInt("TELEGRAM_POLL_TIMEOUT"),
		Debug:       v.GetBool("TELEGRAM_DEBUG"),
		InitDataTTL: parseDuration(v.GetString("WEBAPP_INIT_DATA_TTL"), 24*time.Hour),
	}

	cfg.Bot = BotConfig{
		MaxPending: v.GetInt("BOT_MAX_PENDING"),
		Timezone:   v.GetString("BOT_TIMEZONE"),
		MiniAppURL: v.GetString("MINI_APP_URL"),
		ListLimit:  v.GetInt("BOT_LIST_LIMIT"),
	}

	cfg.Session = SessionConfig{
		Backend: strings.ToLower(v.GetString("SESSION_BACKEND")),
		TTL:     parseDuration(v.GetString("SESSION_TTL"), 24*time.Hour),
		Prefix:  v.GetString("SESSION_PREFIX"),
	}

	cfg.Scoring = ScoringConfig{
		SweepInterval: parseDuration(v.GetString("SCORING_SWEEP_INTERVAL"), time.Hour),
		Workers:       v.GetInt("SCORING_WORKERS"),
		MaxRetries:    v.GetInt("SCORING_RETRIES"),
	}

	cfg.Notify = NotifyConfig{
		Workers:    v.GetInt("NOTIFY_WORKERS"),
		MaxRetries: v.GetInt("NOTIFY_RETRIES"),
		RetryDelay: parseDuration(v.GetString("NOTIFY_RETRY_DELAY"), 2*time.Second),
	}

	cfg.Dashboard = DashboardConfig{
		Enabled:  v.GetBool("ENABLE_DASHBOARD"),
		CacheTTL: parseDuration(v.GetString("DASHBOARD_CACHE_TTL"), 5*time.Minute),
	}

	cfg.Export = ExportConfig{FontPath: v.GetString("EXPORT_FONT_PATH")}

	cfg.Seed = SeedConfig{Cities: splitAndTrim(v.GetString("SEED_CITIES"))}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ENV", EnvDevelopment)
	v.SetDefault("PORT", 8080)
	v.SetDefault("API_PREFIX", "/api/v1")

	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", 5432)
	v.SetDefault("DB_USER", "postgres")
	v.SetDefault("DB_PASSWORD", "postgres")
	v.SetDefault("DB_NAME", "avtomat")
	v.SetDefault("DB_SSL_MODE", "disable")
	v.SetDefault("DB_MAX_OPEN_CONNS", 10)
	v.SetDefault("DB_MAX_IDLE_CONNS", 5)

	v.SetDefault("REDIS_HOST", "localhost")
	v.SetDefault("REDIS_PORT", 6379)
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)

	v.SetDefault("JWT_SECRET", "dev_secret")
	v.SetDefault("JWT_EXPIRATION", "24h")

	v.SetDefault("ALLOWED_ORIGINS", "")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")

	v.SetDefault("TELEGRAM_BOT_TOKEN", "")
	v.SetDefault("TELEGRAM_API_ENDPOINT", "")
	v.SetDefault("TELEGRAM_POLL_TIMEOUT", 30)
	v.SetDefault("TELEGRAM_DEBUG", false)
	v.SetDefault("WEBAPP_INIT_DATA_TTL", "24h")

	v.SetDefault("BOT_MAX_PENDING", 64)
	v.SetDefault("BOT_TIMEZONE", "Asia/Almaty")
	v.SetDefault("MINI_APP_URL", "")
	v.SetDefault("BOT_LIST_LIMIT", 5)

	v.SetDefault("SESSION_BACKEND", SessionBackendRedis)
	v.SetDefault("SESSION_TTL", "24h")
	v.SetDefault("SESSION_PREFIX", "bot:session")

	v.SetDefault("SCORING_SWEEP_INTERVAL", "1h")
	v.SetDefault("SCORING_WORKERS", 2)
	v.SetDefault("SCORING_RETRIES", 3)

	v.SetDefault("NOTIFY_WORKERS", 2)
	v.SetDefault("NOTIFY_RETRIES", 3)
	v.SetDefault("NOTIFY_RETRY_DELAY", "2s")

	v.SetDefault("ENABLE_DASHBOARD", true)
	v.SetDefault("DASHBOARD_CACHE_TTL", "5m")

	v.SetDefault("EXPORT_FONT_PATH", "")
	v.SetDefault("SEED_CITIES", "Алматы,Астана,Шымкент,Караганда,Актобе,Тараз,Павлодар,Усть-Каменогорск,Семей,Атырау")
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
