// Package config loads the YAML configuration shared by the mlog binaries.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/mlog-app/mlog-store/internal/logger"
)

// Storage media selectable with store.backend.
const (
	BackendBolt     = "bolt"
	BackendMemory   = "memory"
	BackendLevelDB  = "leveldb"
	BackendRedis    = "redis"
	BackendPostgres = "postgres"
	BackendRemote   = "remote"
)

var backends = []string{BackendBolt, BackendMemory, BackendLevelDB, BackendRedis, BackendPostgres, BackendRemote}

// Environment overrides, applied after the file is read.
const (
	EnvBackend   = "MLOG_BACKEND"
	EnvSocket    = "MLOG_KV_SOCK"
	EnvDBPath    = "MLOG_KV_DB"
	EnvJWTSecret = "MLOG_JWT_SECRET"
	EnvAPIAddr   = "MLOG_API_ADDR"
)

// Store selects and configures the record store medium.
type Store struct {
	Backend string `yaml:"backend"`
	// Path is the bbolt file or LevelDB directory.
	Path   string `yaml:"path"`
	Bucket string `yaml:"bucket"`
	// Socket is where kv-server listens and where the remote backend dials.
	Socket  string        `yaml:"socket"`
	Timeout time.Duration `yaml:"timeout"`
	Metrics bool          `yaml:"metrics"`

	Redis struct {
		Addr      string `yaml:"addr"`
		Password  string `yaml:"password"`
		DB        int    `yaml:"db"`
		Namespace string `yaml:"namespace"`
	} `yaml:"redis"`

	Postgres struct {
		DSN      string `yaml:"dsn"`
		Table    string `yaml:"table"`
		MaxConns int32  `yaml:"max_conns"`
	} `yaml:"postgres"`
}

// API configures the HTTP route handlers.
type API struct {
	Addr         string        `yaml:"addr"`
	JWTSecret    string        `yaml:"jwt_secret"`
	TokenTTL     time.Duration `yaml:"token_ttl"`
	MaxBodyBytes int64         `yaml:"max_body_bytes"`
	CORSOrigin   string        `yaml:"cors_origin"`
}

// Media configures the S3-compatible image bucket. An empty Bucket disables
// uploads.
type Media struct {
	Bucket         string        `yaml:"bucket"`
	Region         string        `yaml:"region"`
	Endpoint       string        `yaml:"endpoint"`
	AccessKey      string        `yaml:"access_key"`
	SecretKey      string        `yaml:"secret_key"`
	SignedURLTTL   time.Duration `yaml:"signed_url_ttl"`
	MaxUploadBytes int64         `yaml:"max_upload_bytes"`
}

// Importer configures the musical page importer.
type Importer struct {
	Parallelism int           `yaml:"parallelism"`
	Timeout     time.Duration `yaml:"timeout"`
	UserAgent   string        `yaml:"user_agent"`
}

// Log configures the logger. Path may be "stderr".
type Log struct {
	Path  string `yaml:"path"`
	Level string `yaml:"level"`
}

// Config is the full configuration tree.
type Config struct {
	Store    Store    `yaml:"store"`
	API      API      `yaml:"api"`
	Media    Media    `yaml:"media"`
	Importer Importer `yaml:"importer"`
	Log      Log      `yaml:"log"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	cfg := &Config{}

	cfg.Store.Backend = BackendBolt
	cfg.Store.Path = filepath.Join(DataDir(), "records.bbolt")
	cfg.Store.Bucket = "records"
	cfg.Store.Socket = filepath.Join(DataDir(), "kv.sock")
	cfg.Store.Timeout = time.Second
	cfg.Store.Redis.Addr = "localhost:6379"
	cfg.Store.Postgres.Table = "mlog_records"

	cfg.API.Addr = ":8080"
	cfg.API.TokenTTL = 24 * time.Hour
	cfg.API.MaxBodyBytes = 1 << 20
	cfg.API.CORSOrigin = "*"

	cfg.Media.Region = "us-east-1"
	cfg.Media.SignedURLTTL = 7 * 24 * time.Hour
	cfg.Media.MaxUploadBytes = 10 << 20

	cfg.Importer.Parallelism = 4
	cfg.Importer.Timeout = 15 * time.Second

	cfg.Log.Level = "info"

	return cfg
}

// DataDir is the per-user directory holding the default database and socket.
func DataDir() string {
	home, _ := os.UserHomeDir()
	if home == "" {
		home = "."
	}
	return filepath.Join(home, ".cache", "mlog")
}

// Load reads path over the defaults, expands ${VAR} references in the file,
// applies environment overrides and validates the result. An empty path
// yields the defaults plus overrides.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		logger.Infof("Loading config from %s", path)
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv(EnvBackend); v != "" {
		c.Store.Backend = v
	}
	if v := os.Getenv(EnvSocket); v != "" {
		c.Store.Socket = v
	}
	if v := os.Getenv(EnvDBPath); v != "" {
		c.Store.Path = v
	}
	if v := os.Getenv(EnvJWTSecret); v != "" {
		c.API.JWTSecret = v
	}
	if v := os.Getenv(EnvAPIAddr); v != "" {
		c.API.Addr = v
	}
}

// Validate reports the first setting that cannot work.
func (c *Config) Validate() error {
	c.Store.Backend = strings.ToLower(strings.TrimSpace(c.Store.Backend))
	if !slices.Contains(backends, c.Store.Backend) {
		return fmt.Errorf("config: unknown store backend %q (want one of %s)",
			c.Store.Backend, strings.Join(backends, ", "))
	}
	switch c.Store.Backend {
	case BackendBolt, BackendLevelDB:
		if c.Store.Path == "" {
			return fmt.Errorf("config: store.path is required for %s", c.Store.Backend)
		}
	case BackendRemote:
		if c.Store.Socket == "" {
			return fmt.Errorf("config: store.socket is required for remote")
		}
	case BackendPostgres:
		if c.Store.Postgres.DSN == "" {
			return fmt.Errorf("config: store.postgres.dsn is required for postgres")
		}
	}
	if c.API.TokenTTL <= 0 {
		return fmt.Errorf("config: api.token_ttl must be positive")
	}
	if c.Media.SignedURLTTL <= 0 || c.Media.SignedURLTTL > 7*24*time.Hour {
		return fmt.Errorf("config: media.signed_url_ttl must be between 0 and 168h")
	}
	if c.Importer.Parallelism < 1 {
		return fmt.Errorf("config: importer.parallelism must be at least 1")
	}
	return nil
}

// Apply points the logger at l. MLOG_LOG and MLOG_LOG_LEVEL, when set, keep
// precedence over the file.
func (l Log) Apply() error {
	if l.Path != "" && os.Getenv("MLOG_LOG") == "" {
		if err := logger.Init(l.Path); err != nil {
			return err
		}
	}
	if l.Level != "" && os.Getenv("MLOG_LOG_LEVEL") == "" {
		return logger.SetLevel(l.Level)
	}
	return nil
}
