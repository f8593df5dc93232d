package server

import (
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// AppConfig defines application configuration loaded from files and environment.
type AppConfig struct {
	Env      string         `koanf:"env"`
	Listen   string         `koanf:"listen"`
	Database DatabaseConfig `koanf:"database"`
	Valkey   ValkeyConfig   `koanf:"valkey"`
	Crypto   CryptoConfig   `koanf:"crypto"`
	Auth     AuthConfig     `koanf:"auth"`
	Rotation RotationConfig `koanf:"rotation"`
	Email    EmailConfig    `koanf:"email"`
}

type DatabaseConfig struct {
	DSN string `koanf:"dsn"`
}

type ValkeyConfig struct {
	Addr   string `koanf:"addr"`
	Prefix string `koanf:"prefix"`
}

type CryptoConfig struct {
	// MasterKey is the hex/base64-agnostic passphrase the envelope key is
	// derived from; Salt feeds the same derivation.
	MasterKey string `koanf:"master_key"`
	Salt      string `koanf:"salt"`
}

type AuthConfig struct {
	JWTKey string `koanf:"jwt_key"`
}

type RotationConfig struct {
	SchedulerEnabled bool `koanf:"scheduler_enabled"`
}

type EmailConfig struct {
	Provider    string `koanf:"provider"`
	FromAddress string `koanf:"from_address"`
	FromName    string `koanf:"from_name"`
}

var (
	cfgOnce sync.Once
	cfgInst *AppConfig
)

// GetConfig loads and returns the singleton AppConfig. Loading order:
// 1) config/config.yaml (optional)
// 2) config/config.<APP_ENV>.yaml (optional), APP_ENV defaults to "local"
// 3) Environment variables with prefix SECRETS_ mapped using __ as nested separator, e.g. SECRETS_DATABASE__DSN
func GetConfig() *AppConfig {
	cfgOnce.Do(func() {
		k := koanf.New(".")
		// Config directory (CONFIG_DIR) default ./config
		configDir := os.Getenv("CONFIG_DIR")
		if configDir == "" {
			configDir = "config"
		}
		// Whether to load files (default: disabled to keep tests isolated)
		loadFiles := strings.EqualFold(os.Getenv("APP_CONFIG_FILES"), "1") || strings.EqualFold(os.Getenv("APP_CONFIG_FILES"), "true")
		// 1) base file
		if loadFiles {
			base := filepath.Join(configDir, "config.yaml")
			if _, err := os.Stat(base); err == nil {
				if err := k.Load(file.Provider(base), yaml.Parser()); err != nil {
					log.Printf("config: failed loading base: %v", err)
				}
			}
		}
		// 2) env-specific file
		envName := os.Getenv("APP_ENV")
		if envName == "" {
			envName = "local"
		}
		if loadFiles {
			envFile := filepath.Join(configDir, "config."+envName+".yaml")
			if _, err := os.Stat(envFile); err == nil {
				if err := k.Load(file.Provider(envFile), yaml.Parser()); err != nil {
					log.Printf("config: failed loading env file: %v", err)
				}
			}
		}
		// 3) env vars: SECRETS_ prefix, __ delim for nesting
		_ = k.Load(env.Provider("SECRETS_", "__", func(s string) string {
			// SECRETS_DATABASE__DSN -> database.dsn
			return s
		}), nil)

		var c AppConfig
		if err := k.Unmarshal("", &c); err != nil {
			log.Printf("config: unmarshal error: %v", err)
		}
		if c.Env == "" {
			c.Env = envName
		}
		cfgInst = &c
	})
	return cfgInst
}

// DatabaseDSN returns the effective DSN (config first, then env fallback).
func (c *AppConfig) DatabaseDSN() string {
	if c != nil && c.Database.DSN != "" {
		return strings.TrimSpace(c.Database.DSN)
	}
	dsn := strings.TrimSpace(os.Getenv("SECRETS_DB_DSN"))
	if dsn == "" {
		dsn = strings.TrimSpace(os.Getenv("MIGRATE_DSN"))
	}
	return dsn
}

// ListenAddr returns the HTTP bind address, defaulting to :8080.
func (c *AppConfig) ListenAddr() string {
	if c != nil && strings.TrimSpace(c.Listen) != "" {
		return strings.TrimSpace(c.Listen)
	}
	return ":8080"
}

// JWTSigningKey returns the configured key bytes, falling back to a fixed
// development key.
func (c *AppConfig) JWTSigningKey() []byte {
	if c != nil && strings.TrimSpace(c.Auth.JWTKey) != "" {
		return []byte(strings.TrimSpace(c.Auth.JWTKey))
	}
	return []byte("00000000")
}
