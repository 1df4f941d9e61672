package bootstrap

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

// Config holds settings loaded from the environment or a .env file.
type Config struct {
	ServerPort string
	AppEnv     string
	LogLevel   string

	DBDriver   string
	DBDSN      string
	DBUser     string
	DBPassword string
	DBHost     string
	DBPort     string
	DBName     string

	RedisAddr     string
	RedisPassword string
	RedisDB       int
	KeyPrefix     string

	JWTSecret      string
	JWTExpiryHours int

	RateLimitMax    int
	RateLimitWindow time.Duration

	TypingDebounce time.Duration
	TypingTTL      time.Duration
	PresenceGrace  time.Duration
	PresenceSweep  time.Duration
	WSPingPeriod   time.Duration

	UploadDriver           string
	UploadDir              string
	UploadBaseURL          string
	CloudinaryCloudName    string
	CloudinaryUploadPreset string

	CORSAllowedOrigin string
	WorkerConcurrency int
}

// LoadConfig reads configuration from the environment, after loading .env if present.
func LoadConfig() (*Config, error) {
	_ = godotenv.Load()
	return loadConfig(viper.New())
}

func loadConfig(v *viper.Viper) (*Config, error) {
	v.SetDefault("SERVER_PORT", "8080")
	v.SetDefault("APP_ENV", "development")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("DB_DRIVER", "mysql")
	v.SetDefault("DB_DSN", "")
	v.SetDefault("DB_USER", "")
	v.SetDefault("DB_PASSWORD", "")
	v.SetDefault("DB_HOST", "127.0.0.1")
	v.SetDefault("DB_PORT", "3306")
	v.SetDefault("DB_NAME", "chat")
	v.SetDefault("REDIS_ADDR", "")
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)
	v.SetDefault("REDIS_KEY_PREFIX", "chat:")
	v.SetDefault("JWT_SECRET", "")
	v.SetDefault("JWT_EXPIRY_HOURS", 24)
	v.SetDefault("RATE_LIMIT_MAX", 100)
	v.SetDefault("RATE_LIMIT_WINDOW", "1s")
	v.SetDefault("TYPING_DEBOUNCE", "300ms")
	v.SetDefault("TYPING_TTL", "10s")
	v.SetDefault("PRESENCE_GRACE", "30s")
	v.SetDefault("PRESENCE_SWEEP", "1m")
	v.SetDefault("WS_PING_PERIOD", "")
	v.SetDefault("UPLOAD_DRIVER", "local")
	v.SetDefault("UPLOAD_DIR", "./uploads")
	v.SetDefault("UPLOAD_BASE_URL", "/uploads")
	v.SetDefault("CLOUDINARY_CLOUD_NAME", "")
	v.SetDefault("CLOUDINARY_UPLOAD_PRESET", "")
	v.SetDefault("CORS_ALLOWED_ORIGIN", "http://localhost:3000")
	v.SetDefault("WORKER_CONCURRENCY", 10)
	v.AutomaticEnv()

	cfg := &Config{
		ServerPort:             v.GetString("SERVER_PORT"),
		AppEnv:                 strings.ToLower(v.GetString("APP_ENV")),
		LogLevel:               v.GetString("LOG_LEVEL"),
		DBDriver:               strings.ToLower(v.GetString("DB_DRIVER")),
		DBDSN:                  v.GetString("DB_DSN"),
		DBUser:                 v.GetString("DB_USER"),
		DBPassword:             v.GetString("DB_PASSWORD"),
		DBHost:                 v.GetString("DB_HOST"),
		DBPort:                 v.GetString("DB_PORT"),
		DBName:                 v.GetString("DB_NAME"),
		RedisAddr:              v.GetString("REDIS_ADDR"),
		RedisPassword:          v.GetString("REDIS_PASSWORD"),
		RedisDB:                v.GetInt("REDIS_DB"),
		KeyPrefix:              v.GetString("REDIS_KEY_PREFIX"),
		JWTSecret:              v.GetString("JWT_SECRET"),
		JWTExpiryHours:         v.GetInt("JWT_EXPIRY_HOURS"),
		RateLimitMax:           v.GetInt("RATE_LIMIT_MAX"),
		RateLimitWindow:        v.GetDuration("RATE_LIMIT_WINDOW"),
		TypingDebounce:         v.GetDuration("TYPING_DEBOUNCE"),
		TypingTTL:              v.GetDuration("TYPING_TTL"),
		PresenceGrace:          v.GetDuration("PRESENCE_GRACE"),
		PresenceSweep:          v.GetDuration("PRESENCE_SWEEP"),
		WSPingPeriod:           v.GetDuration("WS_PING_PERIOD"),
		UploadDriver:           strings.ToLower(v.GetString("UPLOAD_DRIVER")),
		UploadDir:              v.GetString("UPLOAD_DIR"),
		UploadBaseURL:          v.GetString("UPLOAD_BASE_URL"),
		CloudinaryCloudName:    v.GetString("CLOUDINARY_CLOUD_NAME"),
		CloudinaryUploadPreset: v.GetString("CLOUDINARY_UPLOAD_PRESET"),
		CORSAllowedOrigin:      v.GetString("CORS_ALLOWED_ORIGIN"),
		WorkerConcurrency:      v.GetInt("WORKER_CONCURRENCY"),
	}

	if cfg.RedisAddr == "" {
		return nil, fmt.Errorf("environment variable REDIS_ADDR must be set")
	}
	if cfg.JWTSecret == "" {
		return nil, fmt.Errorf("environment variable JWT_SECRET must be set")
	}
	if cfg.RateLimitMax <= 0 || cfg.RateLimitWindow <= 0 {
		return nil, fmt.Errorf("RATE_LIMIT_MAX and RATE_LIMIT_WINDOW must be positive")
	}
	if cfg.TypingDebounce <= 0 || cfg.PresenceGrace <= 0 || cfg.PresenceSweep <= 0 {
		return nil, fmt.Errorf("TYPING_DEBOUNCE, PRESENCE_GRACE and PRESENCE_SWEEP must be positive")
	}
	if cfg.WSPingPeriod <= 0 {
		// Three pongs per grace period keep a healthy connection online.
		cfg.WSPingPeriod = cfg.PresenceGrace / 3
	}
	if cfg.WSPingPeriod < time.Second {
		return nil, fmt.Errorf("WS_PING_PERIOD must be at least 1s (PRESENCE_GRACE %s is too short)", cfg.PresenceGrace)
	}
	if cfg.PresenceGrace <= cfg.WSPingPeriod {
		return nil, fmt.Errorf("PRESENCE_GRACE (%s) must be longer than WS_PING_PERIOD (%s)", cfg.PresenceGrace, cfg.WSPingPeriod)
	}
	switch cfg.UploadDriver {
	case "local":
	case "cloudinary":
		if cfg.CloudinaryCloudName == "" || cfg.CloudinaryUploadPreset == "" {
			return nil, fmt.Errorf("CLOUDINARY_CLOUD_NAME and CLOUDINARY_UPLOAD_PRESET must be set for the cloudinary upload driver")
		}
	default:
		return nil, fmt.Errorf("unsupported UPLOAD_DRIVER %q", cfg.UploadDriver)
	}

	if _, err := logrus.ParseLevel(cfg.LogLevel); err != nil {
		logrus.Warnf("Invalid LOG_LEVEL '%s', using default 'info'", cfg.LogLevel)
		cfg.LogLevel = "info"
	}
	return cfg, nil
}

// IsProduction reports whether the app runs in production mode.
func (c *Config) IsProduction() bool { return c.AppEnv == "production" }
