// package config provides the environment-backed configuration loader used
// by the service bootstrap (cmd/refsync/main.go).
package config

import (
	"os"
	"strconv"
	"strings"
)

// Config holds the runtime config values used by main.go.
type Config struct {
	DatabaseURL string // DATABASE_URL

	ExternalBucket string // EXTERNAL_BUCKET (encrypted drop folder)
	ExternalFolder string // EXTERNAL_FOLDER
	InternalBucket string // INTERNAL_BUCKET (decrypted snapshots)
	InternalFolder string // INTERNAL_FOLDER

	DecryptPassword string // DECRYPT_PASSWORD
	DecryptSalt     string // DECRYPT_SALT

	LookbackDays int // LOOKBACK_DAYS (default 100)

	KafkaBrokers []string // KAFKA_BROKERS (comma separated; empty disables publishing)
	KafkaTopic   string   // KAFKA_TOPIC (default refsync.lineage)

	ListenAddr string // LISTEN_ADDR (default :8080)
}

// LoadFromEnv reads config values from environment variables and returns a Config pointer.
func LoadFromEnv() *Config {
	cfg := &Config{
		DatabaseURL:     os.Getenv("DATABASE_URL"),
		ExternalBucket:  os.Getenv("EXTERNAL_BUCKET"),
		ExternalFolder:  os.Getenv("EXTERNAL_FOLDER"),
		InternalBucket:  os.Getenv("INTERNAL_BUCKET"),
		InternalFolder:  os.Getenv("INTERNAL_FOLDER"),
		DecryptPassword: os.Getenv("DECRYPT_PASSWORD"),
		DecryptSalt:     os.Getenv("DECRYPT_SALT"),
		KafkaTopic:      os.Getenv("KAFKA_TOPIC"),
		ListenAddr:      os.Getenv("LISTEN_ADDR"),
	}

	// sensible defaults
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = ":8080"
	}
	if cfg.KafkaTopic == "" {
		cfg.KafkaTopic = "refsync.lineage"
	}
	cfg.LookbackDays = 100
	if v := os.Getenv("LOOKBACK_DAYS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.LookbackDays = n
		}
	}

	if v := os.Getenv("KAFKA_BROKERS"); v != "" {
		for _, b := range strings.Split(v, ",") {
			if b = strings.TrimSpace(b); b != "" {
				cfg.KafkaBrokers = append(cfg.KafkaBrokers, b)
			}
		}
	}

	return cfg
}
