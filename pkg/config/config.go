// Package config loads environment-driven configuration and owns the
// shared application logger.
package config

import (
	"os"
	"strings"
	"sync"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

var (
	once sync.Once
	// Logger is the shared logger instance used across the application.
	Logger = logrus.New()
)

// Config holds the runtime settings for the service.
type Config struct {
	ListenAddr    string
	DBPath        string
	RedisAddr     string // empty disables the Redis cache
	S3Enabled     bool
	S3Bucket      string
	S3Region      string
	S3BaseURL     string
	UploadDir     string // local fallback when S3 is disabled
	SubmitTimeout time.Duration
}

// Load reads the .env file if present, configures logging, and returns
// the resolved configuration.
func Load() Config {
	once.Do(func() {
		if err := godotenv.Load(); err != nil {
			Logger.Info("No .env file found, using environment variables")
		}
		configureLogging()
	})

	return Config{
		ListenAddr:    getenv("LISTEN_ADDR", ":8080"),
		DBPath:        getenv("DB_PATH", "loanledger.db"),
		RedisAddr:     os.Getenv("REDIS_ADDR"),
		S3Enabled:     boolenv("PROOF_S3_ENABLED", false),
		S3Bucket:      getenv("PROOF_S3_BUCKET", "loanledger"),
		S3Region:      getenv("PROOF_S3_REGION", "us-east-1"),
		S3BaseURL:     getenv("PROOF_S3_BASE_URL", "https://loanledger.s3.us-east-1.amazonaws.com/"),
		UploadDir:     getenv("UPLOAD_DIR", "uploads"),
		SubmitTimeout: durenv("SUBMIT_TIMEOUT", 30*time.Second),
	}
}

func configureLogging() {
	levelStr := getenv("LOG_LEVEL", "info")
	level, err := logrus.ParseLevel(strings.ToLower(levelStr))
	if err != nil {
		Logger.Warnf("Invalid log level '%s', using 'info'", levelStr)
		level = logrus.InfoLevel
	}
	Logger.SetLevel(level)

	if strings.ToLower(os.Getenv("LOG_FORMAT")) == "json" {
		Logger.SetFormatter(&logrus.JSONFormatter{})
	} else {
		Logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
}

func getenv(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func boolenv(key string, fallback bool) bool {
	v := strings.TrimSpace(strings.ToLower(os.Getenv(key)))
	if v == "" {
		return fallback
	}
	return v == "1" || v == "true" || v == "yes"
}

func durenv(key string, fallback time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		Logger.Warnf("Invalid duration for %s: %q, using %s", key, v, fallback)
		return fallback
	}
	return d
}
