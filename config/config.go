package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration loaded from environment.
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	JWT      JWTConfig
	AWS      AWSConfig
	Graph    GraphConfig
	ESP32    ESP32Config
	Sync     SyncConfig
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port               string
	ReadTimeout        int
	WriteTimeout       int
	CORSAllowedOrigins string // comma-separated, or "*" for all
}

// DatabaseConfig holds PostgreSQL connection settings.
type DatabaseConfig struct {
	URL      string // if set, used as-is (e.g. postgres://localhost:5432/classroom?sslmode=disable)
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
	SSLMode  string
}

// RedisConfig holds Redis connection settings.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// JWTConfig holds JWT signing and validation settings.
type JWTConfig struct {
	Secret      string
	ExpireHours int
}

// AWSConfig holds AWS credentials and the video bucket.
type AWSConfig struct {
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	VideoBucket     string
	VideoPrefix     string // object key prefix for class videos
}

// GraphConfig holds Microsoft Graph (Entra app) credentials for recording sync.
type GraphConfig struct {
	TenantID     string
	ClientID     string
	ClientSecret string
}

// ESP32Config holds the door controller base URL and optional API key.
type ESP32Config struct {
	BaseURL       string
	APIKey        string
	DoorTimeout   time.Duration
	HealthTimeout time.Duration
}

// SyncConfig holds recording reconciliation defaults.
type SyncConfig struct {
	MaxUploads      int           // per-invocation upload budget (clamped 1-10)
	DownloadTimeout time.Duration // per-recording download budget
}

// DSN returns the PostgreSQL connection string.
// If DatabaseConfig.URL is set (DATABASE_URL env), it is used as-is; otherwise built from components.
func (c DatabaseConfig) DSN() string {
	if c.URL != "" {
		return c.URL
	}
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.DBName, c.SSLMode,
	)
}

// Load reads configuration from environment, with optional .env file.
func Load() (*Config, error) {
	_ = godotenv.Load()

	readTimeout, _ := strconv.Atoi(getEnv("READ_TIMEOUT_SEC", "30"))
	writeTimeout, _ := strconv.Atoi(getEnv("WRITE_TIMEOUT_SEC", "30"))
	redisDB, _ := strconv.Atoi(getEnv("REDIS_DB", "0"))
	jwtExpire, _ := strconv.Atoi(getEnv("JWT_EXPIRE_HOURS", "24"))

	cfg := &Config{
		Server: ServerConfig{
			Port:               getEnv("PORT", "8080"),
			ReadTimeout:        readTimeout,
			WriteTimeout:       writeTimeout,
			CORSAllowedOrigins: getEnv("CORS_ALLOWED_ORIGINS", "http://localhost:3000"),
		},
		Database: DatabaseConfig{
			URL:      getEnv("DATABASE_URL", "postgres://localhost:5432/classroom?sslmode=disable"),
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnv("DB_PORT", "5432"),
			User:     getEnv("DB_USER", "postgres"),
			Password: getEnv("DB_PASSWORD", "postgres"),
			DBName:   getEnv("DB_NAME", "classroom"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       redisDB,
		},
		JWT: JWTConfig{
			Secret:      getEnv("JWT_SECRET", "change-me-in-production"),
			ExpireHours: jwtExpire,
		},
		AWS: AWSConfig{
			Region:          getEnv("AWS_REGION", "us-east-2"),
			AccessKeyID:     getEnv("AWS_ACCESS_KEY_ID", ""),
			SecretAccessKey: getEnv("AWS_SECRET_ACCESS_KEY", ""),
			VideoBucket:     getEnv("AWS_S3_VIDEO_BUCKET", "artiefy-upload"),
			VideoPrefix:     getEnv("AWS_S3_VIDEO_PREFIX", "video_clase"),
		},
		Graph: GraphConfig{
			TenantID:     getEnv("MS_GRAPH_TENANT_ID", ""),
			ClientID:     getEnv("MS_GRAPH_CLIENT_ID", ""),
			ClientSecret: getEnv("MS_GRAPH_CLIENT_SECRET", ""),
		},
		ESP32: ESP32Config{
			BaseURL:       strings.TrimSpace(getEnv("ESP32_BASE_URL", "")),
			APIKey:        strings.TrimSpace(getEnv("ESP32_API_KEY", "")),
			DoorTimeout:   time.Duration(getEnvInt("ESP32_DOOR_TIMEOUT_MS", 5000)) * time.Millisecond,
			HealthTimeout: time.Duration(getEnvInt("ESP32_HEALTH_TIMEOUT_MS", 3000)) * time.Millisecond,
		},
		Sync: SyncConfig{
			MaxUploads:      getEnvInt("SYNC_MAX_UPLOADS", 3),
			DownloadTimeout: time.Duration(getEnvInt("SYNC_DOWNLOAD_TIMEOUT_SEC", 90)) * time.Second,
		},
	}
	return cfg, nil
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
