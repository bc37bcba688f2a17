// Package config provides environment helpers for go-wrench commands.
// Values set in the environment (or a .env file loaded beforehand) fall
// back to the provided default when unset or malformed.
package config

import (
	"os"
	"strconv"
	"time"
)

// String returns the env var key, or def if unset.
func String(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// Int returns the env var key parsed as an int, or def.
func Int(key string, def int) int {
	if v, err := strconv.Atoi(os.Getenv(key)); err == nil {
		return v
	}
	return def
}

// Duration returns the env var key parsed with time.ParseDuration, or def.
func Duration(key string, def time.Duration) time.Duration {
	if v, err := time.ParseDuration(os.Getenv(key)); err == nil {
		return v
	}
	return def
}

// IsSet reports whether key is present and non-empty.
func IsSet(key string) bool {
	return os.Getenv(key) != ""
}
