package main

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/hupe1980/idb"
)

// Config is the idbmgr configuration.
type Config struct {
	Logging LoggingConfig `yaml:"logging"`
	Cache   CacheConfig   `yaml:"cache"`
	Workers int           `yaml:"workers"`
	IOLimit int64         `yaml:"ioLimit"`
	Strict  bool          `yaml:"strictCompound"`
	S3      S3Config      `yaml:"s3"`
	Minio   MinioConfig   `yaml:"minio"`
}

// LoggingConfig controls log level and output format.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// CacheConfig sizes the database caches.
type CacheConfig struct {
	RecordBytes int64 `yaml:"recordBytes"`
	LeafCount   int32 `yaml:"leafCount"`
}

// S3Config configures the S3 backup target.
type S3Config struct {
	Region   string `yaml:"region"`
	Endpoint string `yaml:"endpoint"`
}

// MinioConfig configures the MinIO backup target.
type MinioConfig struct {
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"accessKey"`
	SecretKey string `yaml:"secretKey"`
	Region    string `yaml:"region"`
	Secure    bool   `yaml:"secure"`
}

// Load reads a YAML config file (if provided) and applies environment-variable
// overrides.
func Load(path string) (*Config, error) {
	cfg := defaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file %s: %w", path, err)
		}
	}
	applyEnvOverrides(cfg)
	return cfg, nil
}

func defaultConfig() *Config {
	cc := idb.DefaultCacheConfig()
	return &Config{
		Logging: LoggingConfig{Level: "warn", Format: "text"},
		Cache:   CacheConfig{RecordBytes: cc.RecordCacheBytes, LeafCount: cc.LeafCacheCount},
		Minio:   MinioConfig{Secure: true},
	}
}

// applyEnvOverrides reads IDB_* environment variables and overrides the
// corresponding config fields.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("IDB_LOGGING_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("IDB_LOGGING_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}
	if v := os.Getenv("IDB_CACHE_RECORD_BYTES"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.Cache.RecordBytes = n
		}
	}
	if v := os.Getenv("IDB_CACHE_LEAF_COUNT"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 32); err == nil {
			cfg.Cache.LeafCount = int32(n)
		}
	}
	if v := os.Getenv("IDB_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Workers = n
		}
	}
	if v := os.Getenv("IDB_IO_LIMIT"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.IOLimit = n
		}
	}
	if v := os.Getenv("IDB_STRICT_COMPOUND"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Strict = b
		}
	}
	if v := os.Getenv("IDB_S3_REGION"); v != "" {
		cfg.S3.Region = v
	}
	if v := os.Getenv("IDB_S3_ENDPOINT"); v != "" {
		cfg.S3.Endpoint = v
	}
	if v := os.Getenv("IDB_MINIO_ENDPOINT"); v != "" {
		cfg.Minio.Endpoint = v
	}
	if v := os.Getenv("IDB_MINIO_ACCESS_KEY"); v != "" {
		cfg.Minio.AccessKey = v
	}
	if v := os.Getenv("IDB_MINIO_SECRET_KEY"); v != "" {
		cfg.Minio.SecretKey = v
	}
	if v := os.Getenv("IDB_MINIO_REGION"); v != "" {
		cfg.Minio.Region = v
	}
	if v := os.Getenv("IDB_MINIO_SECURE"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Minio.Secure = b
		}
	}
}

// Logger builds the database logger described by the logging section.
func (c LoggingConfig) Logger() (*idb.Logger, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.Level)); err != nil {
		return nil, fmt.Errorf("logging level %q: %w", c.Level, err)
	}
	switch strings.ToLower(c.Format) {
	case "", "text":
		return idb.NewTextLogger(level), nil
	case "json":
		return idb.NewJSONLogger(level), nil
	default:
		return nil, fmt.Errorf("logging format %q: want text or json", c.Format)
	}
}

// Options returns the database options described by the configuration.
func (c *Config) Options(logger *idb.Logger) []idb.Option {
	opts := []idb.Option{
		idb.WithLogger(logger),
		idb.WithWorkers(c.Workers),
		idb.WithIOLimit(c.IOLimit),
	}
	if c.Strict {
		opts = append(opts, idb.WithStrictCompound())
	}
	return opts
}
