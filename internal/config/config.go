// Package config loads server settings. Later sources override earlier ones:
// built-in defaults, an optional YAML file, a .env file, then the process
// environment. Command-line flags are applied on top by the caller.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/erazemk/najdeno/internal/payment"
)

// Config is the full server configuration.
type Config struct {
	Addr     string         `yaml:"addr"`
	DBPath   string         `yaml:"db"`
	LogFile  string         `yaml:"log_file"`
	Debug    bool           `yaml:"debug"`
	Mpesa    MpesaConfig    `yaml:"mpesa"`
	MinIO    MinIOConfig    `yaml:"minio"`
	RabbitMQ RabbitMQConfig `yaml:"rabbitmq"`
}

// MpesaConfig holds the Daraja credentials. Tips are disabled while
// ConsumerKey is empty.
type MpesaConfig struct {
	BaseURL        string        `yaml:"base_url"`
	ConsumerKey    string        `yaml:"consumer_key"`
	ConsumerSecret string        `yaml:"consumer_secret"`
	ShortCode      string        `yaml:"business_short_code"`
	Passkey        string        `yaml:"passkey"`
	CallbackURL    string        `yaml:"callback_url"`
	CallbackSecret string        `yaml:"callback_secret"`
	Timeout        time.Duration `yaml:"timeout"`
}

// Enabled reports whether tips can be sent.
func (m MpesaConfig) Enabled() bool {
	return m.ConsumerKey != ""
}

// MinIOConfig selects object storage for images. Images stay in SQLite
// while Endpoint is empty.
type MinIOConfig struct {
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	Bucket    string `yaml:"bucket"`
	UseSSL    bool   `yaml:"use_ssl"`
}

// Enabled reports whether images go to object storage.
func (m MinIOConfig) Enabled() bool {
	return m.Endpoint != ""
}

// RabbitMQConfig selects the event broker. Events stay in-process while URL
// is empty.
type RabbitMQConfig struct {
	URL      string `yaml:"url"`
	Exchange string `yaml:"exchange"`
}

// Enabled reports whether events are published to RabbitMQ.
func (r RabbitMQConfig) Enabled() bool {
	return r.URL != ""
}

// Default returns the built-in defaults.
func Default() *Config {
	return &Config{
		Addr:   ":8080",
		DBPath: "najdeno.db",
		Mpesa: MpesaConfig{
			BaseURL: payment.SandboxBaseURL,
			Timeout: payment.DefaultTimeout,
		},
		MinIO: MinIOConfig{
			Bucket: "najdeno-images",
		},
		RabbitMQ: RabbitMQConfig{
			Exchange: "najdeno.events",
		},
	}
}

// Load builds the configuration. path names an optional YAML file; a
// missing .env file is not an error.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		if err := loadFile(path, cfg); err != nil {
			return nil, err
		}
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("loading .env: %w", err)
	}

	if err := applyEnv(cfg, os.LookupEnv); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parsing config file %s: %w", path, err)
	}
	return nil
}

func applyEnv(cfg *Config, lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok {
			*dst = v
		}
	}
	boolean := func(key string, dst *bool) error {
		v, ok := lookup(key)
		if !ok {
			return nil
		}
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", key, err)
		}
		*dst = b
		return nil
	}

	str("NAJDENO_ADDR", &cfg.Addr)
	str("NAJDENO_DB", &cfg.DBPath)
	str("NAJDENO_LOG_FILE", &cfg.LogFile)
	if err := boolean("NAJDENO_DEBUG", &cfg.Debug); err != nil {
		return err
	}

	str("MPESA_BASE_URL", &cfg.Mpesa.BaseURL)
	str("MPESA_CONSUMER_KEY", &cfg.Mpesa.ConsumerKey)
	str("MPESA_CONSUMER_SECRET", &cfg.Mpesa.ConsumerSecret)
	str("MPESA_BUSINESS_SHORT_CODE", &cfg.Mpesa.ShortCode)
	str("MPESA_PASSKEY", &cfg.Mpesa.Passkey)
	str("MPESA_CALLBACK_URL", &cfg.Mpesa.CallbackURL)
	str("MPESA_CALLBACK_SECRET", &cfg.Mpesa.CallbackSecret)
	if v, ok := lookup("MPESA_TIMEOUT"); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid MPESA_TIMEOUT: %w", err)
		}
		cfg.Mpesa.Timeout = d
	}

	str("MINIO_ENDPOINT", &cfg.MinIO.Endpoint)
	str("MINIO_ACCESS_KEY", &cfg.MinIO.AccessKey)
	str("MINIO_SECRET_KEY", &cfg.MinIO.SecretKey)
	str("MINIO_BUCKET_NAME", &cfg.MinIO.Bucket)
	if err := boolean("MINIO_USE_SSL", &cfg.MinIO.UseSSL); err != nil {
		return err
	}

	str("RABBITMQ_URL", &cfg.RabbitMQ.URL)
	str("RABBITMQ_EXCHANGE", &cfg.RabbitMQ.Exchange)

	return nil
}

// Validate checks the settings needed to serve.
func (c *Config) Validate() error {
	var errs []error
	if c.Addr == "" {
		errs = append(errs, errors.New("listen address is required"))
	}
	if c.DBPath == "" {
		errs = append(errs, errors.New("database path is required"))
	}
	if c.Mpesa.Enabled() {
		if c.Mpesa.ConsumerSecret == "" {
			errs = append(errs, errors.New("MPESA_CONSUMER_SECRET is required"))
		}
		if c.Mpesa.ShortCode == "" {
			errs = append(errs, errors.New("MPESA_BUSINESS_SHORT_CODE is required"))
		}
		if c.Mpesa.Passkey == "" {
			errs = append(errs, errors.New("MPESA_PASSKEY is required"))
		}
		if c.Mpesa.CallbackURL == "" {
			errs = append(errs, errors.New("MPESA_CALLBACK_URL is required"))
		}
		if c.Mpesa.Timeout <= 0 {
			errs = append(errs, errors.New("M-Pesa timeout must be positive"))
		}
	}
	if c.MinIO.Enabled() && c.MinIO.Bucket == "" {
		errs = append(errs, errors.New("MINIO_BUCKET_NAME is required"))
	}
	if c.RabbitMQ.Enabled() && c.RabbitMQ.Exchange == "" {
		errs = append(errs, errors.New("RABBITMQ_EXCHANGE is required"))
	}
	return errors.Join(errs...)
}
