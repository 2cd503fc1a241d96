package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	defaultJWTSecret  = "dev-secret-change-me"
	devSuperAdminName = "super"
)

type Config struct {
	Port                  string
	Env                   string
	LogLevel              string
	DatabaseDriver        string
	DatabaseDSN           string
	JWTSecret             string
	AccessTokenTTLMinutes int
	RefreshTokenTTLDays   int
	BanSweepInterval      time.Duration
	SuperAdminUsername    string
	RateLimitRPS          int
	RateLimitBurst        int
	CORSOrigins           []string
	UploadMaxBytes        int64
	Storage               StorageConfig
}

// StorageConfig 描述头像与附件的对象存储。
type StorageConfig struct {
	Driver         string
	Dir            string
	MinIOEndpoint  string
	MinIOAccessKey string
	MinIOSecretKey string
	MinIOBucket    string
	MinIOUseSSL    bool
}

func getenv(key, def string) string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	return v
}

// getenvInt 解析正整数，缺失、非法或非正数时回退到默认值。
func getenvInt(key string, def int) int {
	v, err := strconv.Atoi(os.Getenv(key))
	if err != nil || v <= 0 {
		return def
	}
	return v
}

func getenvDuration(key string, def time.Duration) time.Duration {
	v, err := time.ParseDuration(os.Getenv(key))
	if err != nil || v <= 0 {
		return def
	}
	return v
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Load 从环境变量读取配置。SUPER_ADMIN_USERNAME 只在 dev 下有默认值，
// 其他环境留空表示没有站点管理员。
func Load() Config {
	useSSL, _ := strconv.ParseBool(getenv("MINIO_USE_SSL", "false"))
	env := getenv("APP_ENV", "dev")
	superAdmin := ""
	if env == "dev" {
		superAdmin = devSuperAdminName
	}
	return Config{
		Port:                  getenv("APP_PORT", "8080"),
		Env:                   env,
		LogLevel:              getenv("LOG_LEVEL", ""),
		DatabaseDriver:        getenv("DATABASE_DRIVER", "postgres"),
		DatabaseDSN:           getenv("DATABASE_DSN", "host=localhost user=postgres password=postgres dbname=groupchat port=5432 sslmode=disable TimeZone=UTC"),
		JWTSecret:             getenv("JWT_SECRET", defaultJWTSecret),
		AccessTokenTTLMinutes: getenvInt("ACCESS_TOKEN_TTL_MINUTES", 15),
		RefreshTokenTTLDays:   getenvInt("REFRESH_TOKEN_TTL_DAYS", 7),
		BanSweepInterval:      getenvDuration("BAN_SWEEP_INTERVAL", 5*time.Minute),
		SuperAdminUsername:    getenv("SUPER_ADMIN_USERNAME", superAdmin),
		RateLimitRPS:          getenvInt("RATE_LIMIT_RPS", 20),
		RateLimitBurst:        getenvInt("RATE_LIMIT_BURST", 40),
		CORSOrigins:           splitList(getenv("CORS_ORIGINS", "")),
		UploadMaxBytes:        int64(getenvInt("UPLOAD_MAX_BYTES", 8<<20)),
		Storage: StorageConfig{
			Driver:         getenv("STORAGE_DRIVER", "disk"),
			Dir:            getenv("STORAGE_DIR", "./data/uploads"),
			MinIOEndpoint:  getenv("MINIO_ENDPOINT", "localhost:9000"),
			MinIOAccessKey: getenv("MINIO_ACCESS_KEY", ""),
			MinIOSecretKey: getenv("MINIO_SECRET_KEY", ""),
			MinIOBucket:    getenv("MINIO_BUCKET", "groupchat"),
			MinIOUseSSL:    useSSL,
		},
	}
}

// Validate 校验启动所需的关键配置；非 dev 环境禁止使用默认 JWT 密钥。
func Validate(cfg Config) error {
	if cfg.Port == "" {
		return errors.New("config: APP_PORT is required")
	}
	if cfg.DatabaseDSN == "" {
		return errors.New("config: DATABASE_DSN is required")
	}
	if cfg.JWTSecret == "" {
		return errors.New("config: JWT_SECRET is required")
	}
	if cfg.Env != "dev" && cfg.JWTSecret == defaultJWTSecret {
		return errors.New("config: JWT_SECRET must be changed outside dev")
	}
	switch cfg.DatabaseDriver {
	case "", "postgres", "sqlite":
	default:
		return errors.New("config: DATABASE_DRIVER must be postgres or sqlite")
	}
	switch cfg.Storage.Driver {
	case "", "disk", "minio":
	default:
		return errors.New("config: STORAGE_DRIVER must be disk or minio")
	}
	return nil
}
