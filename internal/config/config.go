package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Database
	DatabaseURL string

	// Server
	ServerPort string

	// CORS
	CORSAllowedOrigin string

	// Rate Limit（1分あたりのリクエスト数）
	RateLimitGeneral int
	RateLimitWrite   int

	// Reconciler
	ReconcileTimeout     time.Duration
	ReconcileConcurrency int

	// Recount sweep
	RecountInterval    time.Duration
	RecountConcurrency int
	RecountLockTTL     time.Duration

	// Redis（未設定の場合はスイープのロックを取らない）
	RedisAddress  string
	RedisPassword string
	RedisDB       int

	// Cleanup
	SessionRetentionDays int
}

// Load は環境変数からConfigを読み込む。
// 必須環境変数が未設定の場合はエラーを返す。
func Load() (*Config, error) {
	cfg := &Config{}

	// Required fields
	var missing []string

	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.DatabaseURL == "" {
		missing = append(missing, "DATABASE_URL")
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	// Optional fields with defaults
	cfg.ServerPort = getEnvString("SERVER_PORT", "8080")
	cfg.CORSAllowedOrigin = getEnvString("CORS_ALLOWED_ORIGIN", "http://localhost:3000")
	cfg.RateLimitGeneral = getEnvInt("RATE_LIMIT_GENERAL", 120)
	cfg.RateLimitWrite = getEnvInt("RATE_LIMIT_WRITE", 30)
	cfg.ReconcileTimeout = getEnvDuration("RECONCILE_TIMEOUT", 10*time.Second)
	cfg.ReconcileConcurrency = getEnvInt("RECONCILE_CONCURRENCY", 4)
	cfg.RecountInterval = getEnvDuration("RECOUNT_INTERVAL", time.Hour)
	cfg.RecountConcurrency = getEnvInt("RECOUNT_CONCURRENCY", 8)
	cfg.RecountLockTTL = getEnvDuration("RECOUNT_LOCK_TTL", 10*time.Minute)
	cfg.RedisAddress = getEnvString("REDIS_ADDRESS", "")
	cfg.RedisPassword = getEnvString("REDIS_PASSWORD", "")
	cfg.RedisDB = getEnvInt("REDIS_DB", 0)
	cfg.SessionRetentionDays = getEnvInt("SESSION_RETENTION_DAYS", 30)

	return cfg, nil
}

func getEnvString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}
