package utils

import (
	"os"

	"gopkg.in/yaml.v3"
)

// Config holds all service configuration, populated from config.yaml.
type Config struct {
	Server struct {
		Host    string `yaml:"host"`
		Port    string `yaml:"port"`
		Prefork bool   `yaml:"prefork"`
	} `yaml:"server"`
	Limits struct {
		MaxUploadBytes int `yaml:"max_upload_bytes"`
	} `yaml:"limits"`
	OCR struct {
		Binary      string `yaml:"binary"`
		TimeoutSecs int    `yaml:"timeout_secs"`
		Optimize    int    `yaml:"optimize"`
		Language    string `yaml:"language"`
	} `yaml:"ocr"`
	Logger struct {
		File       string `yaml:"file"`
		Level      string `yaml:"level"`
		MaxSizeMB  int    `yaml:"max_size_mb"`
		MaxBackups int    `yaml:"max_backups"`
		MaxAgeDays int    `yaml:"max_age_days"`
		Compress   bool   `yaml:"compress"`
	} `yaml:"logger"`
	RateLimiter struct {
		IntervalSecs      int    `yaml:"interval_secs"`
		UserLimit         int    `yaml:"user_limit"`
		EnableUserLimiter bool   `yaml:"enable_user_limiter"`
		RedisHost         string `yaml:"redis_host"`
		RedisDB           int    `yaml:"redis_db"`
	} `yaml:"rate_limiter"`
	Auth struct {
		Postgres PostgresConfig `yaml:"postgres"`
	} `yaml:"auth"`
}

// PostgresConfig describes the connection to the API-token table.
// An empty Host disables API-key authentication entirely.
type PostgresConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Database string `yaml:"database"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	SSLMode  string `yaml:"sslmode"`
}

// AppConfig is the process-wide configuration set by LoadConfig.
var AppConfig Config

// LoadConfig reads config.yaml (or the file named by CONFIG_PATH) and fills
// in defaults for anything left unset. A missing file is not an error; the
// defaults alone describe a working service.
func LoadConfig() Config {
	path := os.Getenv("CONFIG_PATH")
	if path == "" {
		path = "config.yaml"
	}

	var cfg Config
	data, err := os.ReadFile(path)
	if err == nil {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			panic("invalid config file " + path + ": " + err.Error())
		}
	} else if !os.IsNotExist(err) {
		panic("cannot read config file " + path + ": " + err.Error())
	}

	applyDefaults(&cfg)

	AppConfig = cfg
	return cfg
}

// GetConfig returns the configuration loaded by LoadConfig.
func GetConfig() Config {
	return AppConfig
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Port == "" {
		cfg.Server.Port = ":8000"
	}
	if cfg.Limits.MaxUploadBytes <= 0 {
		cfg.Limits.MaxUploadBytes = 50 * 1024 * 1024
	}
	if cfg.OCR.Binary == "" {
		cfg.OCR.Binary = "ocrmypdf"
	}
	if cfg.OCR.TimeoutSecs <= 0 {
		cfg.OCR.TimeoutSecs = 300
	}
	if cfg.OCR.Optimize <= 0 {
		cfg.OCR.Optimize = 1
	}
	if cfg.Logger.Level == "" {
		cfg.Logger.Level = "info"
	}
	if cfg.RateLimiter.IntervalSecs <= 0 {
		cfg.RateLimiter.IntervalSecs = 60
	}
}
