// Package config loads environment-driven server/client settings with
// bounded defaults, in the spirit of the teacher's loadConfig() pattern and
// the original Sphynx.Server.* named, bounded settings.
package config

import (
	"fmt"
	"os"
	"strconv"
)

// Config holds the settings an operator may override via environment
// variables; every field has a sane default.
type Config struct {
	Host           string
	Port           int
	MaxPopulation  int
	KeyPairPath    string
	SessionKeyLabel string
	MetricsAddr    string
	NumWorkers     int
}

// Default returns the out-of-the-box configuration.
func Default() Config {
	return Config{
		Host:            "0.0.0.0",
		Port:            7777,
		MaxPopulation:   16384,
		KeyPairPath:     "sphynx.key",
		SessionKeyLabel: "sphynx-session-v1",
		MetricsAddr:     "127.0.0.1:9477",
		NumWorkers:      4,
	}
}

// FromEnv overlays environment variables (SPHYNX_HOST, SPHYNX_PORT,
// SPHYNX_MAX_POPULATION, SPHYNX_KEYPAIR_PATH, SPHYNX_SESSION_KEY_LABEL,
// SPHYNX_METRICS_ADDR, SPHYNX_NUM_WORKERS) onto the defaults.
func FromEnv() (Config, error) {
	c := Default()
	if v, ok := os.LookupEnv("SPHYNX_HOST"); ok {
		c.Host = v
	}
	if v, ok := os.LookupEnv("SPHYNX_PORT"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return Config{}, fmt.Errorf("config: SPHYNX_PORT: %w", err)
		}
		c.Port = n
	}
	if v, ok := os.LookupEnv("SPHYNX_MAX_POPULATION"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return Config{}, fmt.Errorf("config: SPHYNX_MAX_POPULATION: %w", err)
		}
		if n <= 0 || n > 16384 {
			return Config{}, fmt.Errorf("config: SPHYNX_MAX_POPULATION %d out of bounds (1..16384)", n)
		}
		c.MaxPopulation = n
	}
	if v, ok := os.LookupEnv("SPHYNX_KEYPAIR_PATH"); ok {
		c.KeyPairPath = v
	}
	if v, ok := os.LookupEnv("SPHYNX_SESSION_KEY_LABEL"); ok {
		c.SessionKeyLabel = v
	}
	if v, ok := os.LookupEnv("SPHYNX_METRICS_ADDR"); ok {
		c.MetricsAddr = v
	}
	if v, ok := os.LookupEnv("SPHYNX_NUM_WORKERS"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return Config{}, fmt.Errorf("config: SPHYNX_NUM_WORKERS: %w", err)
		}
		if n <= 0 {
			return Config{}, fmt.Errorf("config: SPHYNX_NUM_WORKERS must be positive")
		}
		c.NumWorkers = n
	}
	return c, nil
}
