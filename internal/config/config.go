// Package config loads and hot-reloads the daemon's static configuration:
// listen addresses, the persistence save path, and the operator password.
package config

import (
	"fmt"
	"os"

	"golang.org/x/crypto/bcrypt"
	"gopkg.in/yaml.v3"
)

// Config is the daemon's on-disk configuration shape.
type Config struct {
	AgentAddr    string `yaml:"agent_addr"`
	HTTPAddr     string `yaml:"http_addr"`
	SavePath     string `yaml:"save_path"`
	RingCapacity int    `yaml:"ring_capacity"`
	LogLevel     string `yaml:"log_level"`

	// Password is read from the YAML only as a local-dev convenience; the
	// BOOTWAKE_PASSWORD environment variable, when set, always wins (§6).
	Password string `yaml:"password,omitempty"`
}

// Default returns the reference configuration.
func Default() Config {
	return Config{
		AgentAddr:    ":10870",
		HTTPAddr:     ":8080",
		SavePath:     "./host_save",
		RingCapacity: 4,
		LogLevel:     "info",
	}
}

// Load reads and parses a YAML config file, filling unset fields from
// Default. A missing file is not an error: it yields the defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return Config{}, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return cfg, nil
}

// ResolvePassword returns the operator password, preferring the
// BOOTWAKE_PASSWORD environment variable over the config file.
func (c Config) ResolvePassword() (string, error) {
	if v := os.Getenv("BOOTWAKE_PASSWORD"); v != "" {
		return v, nil
	}
	if c.Password != "" {
		return c.Password, nil
	}
	return "", fmt.Errorf("config: no operator password set (BOOTWAKE_PASSWORD or config password)")
}

// HashPassword bcrypt-hashes a plaintext operator password for storage or
// in-memory comparison (§6's single shared password).
func HashPassword(plaintext string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(plaintext), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("config: hash password: %w", err)
	}
	return string(hash), nil
}
