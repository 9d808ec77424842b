// Package config loads service configuration from a YAML file with
// environment expansion, plus environment-variable overrides for deployment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the full service configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Inference InferenceConfig `yaml:"inference"`
	OCR       OCRConfig       `yaml:"ocr"`
	Store     StoreConfig     `yaml:"store"`
	Ingest    IngestConfig    `yaml:"ingest"`
	// Timezone is the IANA zone used for calendar-day bucketing.
	// Default: UTC.
	Timezone string `yaml:"timezone"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Addr string `yaml:"addr"`
}

// InferenceConfig configures the local inference server connection.
type InferenceConfig struct {
	Host string `yaml:"host"`
	// ChatModel drives the conversational tool loop.
	ChatModel string `yaml:"chat_model"`
	// ExtractionModel drives structured document extraction.
	ExtractionModel string `yaml:"extraction_model"`
	// TimeoutSeconds bounds one inference request. Default: 120.
	TimeoutSeconds int `yaml:"timeout_seconds"`
}

// Timeout returns the request timeout as a duration.
func (c InferenceConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// OCRConfig configures the document-parsing sidecar connection.
type OCRConfig struct {
	URL string `yaml:"url"`
}

// StoreConfig configures persistence. An empty URL selects the in-memory
// store.
type StoreConfig struct {
	// URL is a Postgres DSN.
	URL string `yaml:"url"`
}

// IngestConfig configures the ingestion worker pool.
type IngestConfig struct {
	// Workers is the pool size. Default: 2.
	Workers int `yaml:"workers"`
	// UploadDir is where uploaded files are stored. Default: ./uploads.
	UploadDir string `yaml:"upload_dir"`
}

// Load reads the YAML file at path, expands ${VAR} references, applies env
// overrides, then defaults. path may be empty to configure from environment
// alone.
func Load(path string) (*Config, error) {
	var cfg Config
	if strings.TrimSpace(path) != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		expanded := os.ExpandEnv(string(data))
		if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}
	applyEnvOverrides(&cfg)
	applyDefaults(&cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	setString(&cfg.Server.Addr, "SERVER_ADDR")
	setString(&cfg.Inference.Host, "INFERENCE_HOST")
	setString(&cfg.Inference.ChatModel, "INFERENCE_CHAT_MODEL")
	setString(&cfg.Inference.ExtractionModel, "INFERENCE_EXTRACTION_MODEL")
	setInt(&cfg.Inference.TimeoutSeconds, "INFERENCE_TIMEOUT_SECONDS")
	setString(&cfg.OCR.URL, "OCR_SERVICE_URL")
	setString(&cfg.Store.URL, "STORE_URL")
	setInt(&cfg.Ingest.Workers, "INGEST_WORKERS")
	setString(&cfg.Ingest.UploadDir, "UPLOAD_DIR")
	setString(&cfg.Timezone, "TIMEZONE")
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Addr == "" {
		cfg.Server.Addr = ":8000"
	}
	if cfg.Inference.Host == "" {
		cfg.Inference.Host = "http://localhost:11434"
	}
	if cfg.Inference.ChatModel == "" {
		cfg.Inference.ChatModel = "qwen2.5:7b"
	}
	if cfg.Inference.ExtractionModel == "" {
		cfg.Inference.ExtractionModel = cfg.Inference.ChatModel
	}
	if cfg.Inference.TimeoutSeconds <= 0 {
		cfg.Inference.TimeoutSeconds = 120
	}
	if cfg.OCR.URL == "" {
		cfg.OCR.URL = "http://localhost:5001"
	}
	if cfg.Ingest.Workers <= 0 {
		cfg.Ingest.Workers = 2
	}
	if cfg.Ingest.UploadDir == "" {
		cfg.Ingest.UploadDir = "./uploads"
	}
	if cfg.Timezone == "" {
		cfg.Timezone = "UTC"
	}
}

// Validate checks the configuration for obvious mistakes.
func (c *Config) Validate() error {
	if !strings.HasPrefix(c.Inference.Host, "http://") && !strings.HasPrefix(c.Inference.Host, "https://") {
		return fmt.Errorf("inference host %q must be an http(s) URL", c.Inference.Host)
	}
	if !strings.HasPrefix(c.OCR.URL, "http://") && !strings.HasPrefix(c.OCR.URL, "https://") {
		return fmt.Errorf("ocr url %q must be an http(s) URL", c.OCR.URL)
	}
	if _, err := c.Location(); err != nil {
		return fmt.Errorf("timezone: %w", err)
	}
	return nil
}

// Location resolves the configured time zone.
func (c *Config) Location() (*time.Location, error) {
	return time.LoadLocation(c.Timezone)
}

func setString(dst *string, key string) {
	if v, ok := os.LookupEnv(key); ok && strings.TrimSpace(v) != "" {
		*dst = strings.TrimSpace(v)
	}
}

func setInt(dst *int, key string) {
	v, ok := os.LookupEnv(key)
	if !ok {
		return
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return
	}
	*dst = n
}
