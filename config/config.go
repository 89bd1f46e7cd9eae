package config

import (
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/joho/godotenv"
)

var load sync.Once

// Config returns the value of an environment variable, reading the .env
// file on first use. Variables already present in the environment win.
func Config(key string) string {
	load.Do(func() {
		// A missing .env is fine, the environment may be set by the runtime.
		_ = godotenv.Load(".env")
	})
	return os.Getenv(key)
}

// Default returns Config(key), or def when the key is unset or empty.
func Default(key string, def string) string {
	if value := Config(key); value != "" {
		return value
	}
	return def
}

func Int(key string, def int) int {
	value, err := strconv.Atoi(Config(key))
	if err != nil {
		return def
	}
	return value
}

func Bool(key string, def bool) bool {
	value, err := strconv.ParseBool(Config(key))
	if err != nil {
		return def
	}
	return value
}

// Duration parses values such as "5m" or "3s".
func Duration(key string, def time.Duration) time.Duration {
	value, err := time.ParseDuration(Config(key))
	if err != nil || value <= 0 {
		return def
	}
	return value
}
