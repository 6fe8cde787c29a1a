// Package config loads the gateway configuration from a YAML file and
// OSSGATE_* environment variables.
package config

import (
	"fmt"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"

	"ossgate/internal/metrics"
	"ossgate/internal/storage"

	"gopkg.in/yaml.v2"
)

// Configuration represents the complete application configuration
type Configuration struct {
	Server  ServerConfig   `yaml:"server"`
	Storage StorageConfig  `yaml:"storage"`
	Upload  UploadConfig   `yaml:"upload"`
	Session SessionConfig  `yaml:"session"`
	Log     LogConfig      `yaml:"log"`
	Metrics metrics.Config `yaml:"metrics"`
}

// ServerConfig represents HTTP listener settings
type ServerConfig struct {
	Listen          string        `yaml:"listen"`
	Prefix          string        `yaml:"prefix"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// StorageConfig represents the object store connection
type StorageConfig struct {
	Provider          string        `yaml:"provider"`
	Endpoint          string        `yaml:"endpoint"`
	Region            string        `yaml:"region"`
	Bucket            string        `yaml:"bucket"`
	AccessKey         string        `yaml:"access_key"`
	SecretKey         string        `yaml:"secret_key"`
	UseSSL            bool          `yaml:"use_ssl"`
	PathStyle         bool          `yaml:"path_style"`
	AutoCreateBucket  bool          `yaml:"auto_create_bucket"`
	CORS              bool          `yaml:"cors"`
	MaxConnections    int           `yaml:"max_connections"`
	ConnectionTimeout time.Duration `yaml:"connection_timeout"`
	Compression       string        `yaml:"compression"`
	PublicURL         string        `yaml:"public_url"`
	DataDir           string        `yaml:"data_dir"`
}

// UploadConfig represents chunked upload limits
type UploadConfig struct {
	MaxConcurrency int   `yaml:"max_concurrency"`
	MaxChunkSize   int64 `yaml:"max_chunk_size"`
}

// SessionConfig represents where upload sessions are kept
type SessionConfig struct {
	Backend       string        `yaml:"backend"`
	Path          string        `yaml:"path"`
	TTL           time.Duration `yaml:"ttl"`
	SweepInterval time.Duration `yaml:"sweep_interval"`
	Redis         RedisConfig   `yaml:"redis"`
}

// RedisConfig represents the redis session backend
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Prefix   string `yaml:"prefix"`
}

// LogConfig represents logging settings
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

const (
	SessionBackendMemory = "memory"
	SessionBackendSQLite = "sqlite"
	SessionBackendRedis  = "redis"
)

// NewDefault returns the configuration used when nothing is overridden.
func NewDefault() *Configuration {
	return &Configuration{
		Server: ServerConfig{
			Listen:          ":8080",
			ReadTimeout:     60 * time.Second,
			WriteTimeout:    60 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
		Storage: StorageConfig{
			Provider:          string(storage.ProviderMinio),
			Endpoint:          "http://localhost:9000",
			Region:            "us-east-1",
			Bucket:            "ossgate",
			AutoCreateBucket:  true,
			MaxConnections:    100,
			ConnectionTimeout: 10 * time.Second,
			DataDir:           "./data",
		},
		Upload: UploadConfig{
			MaxConcurrency: 16,
			MaxChunkSize:   64 << 20,
		},
		Session: SessionConfig{
			Backend: SessionBackendMemory,
			Path:    "./data/sessions.sqlite",
			Redis: RedisConfig{
				Addr: "localhost:6379",
			},
		},
		Log: LogConfig{
			Level:  "INFO",
			Format: "text",
		},
		Metrics: metrics.Config{
			Enabled:   true,
			Path:      "/metrics",
			Namespace: "ossgate",
		},
	}
}

// Load builds a configuration from defaults, the optional YAML file at path
// and the environment, in that order, and validates the result.
func Load(path string) (*Configuration, error) {
	cfg := NewDefault()

	if path != "" {
		if err := cfg.LoadFromFile(path); err != nil {
			return nil, err
		}
	}

	if err := cfg.LoadFromEnv(); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// LoadFromFile loads configuration from a YAML file
func (c *Configuration) LoadFromFile(filename string) error {
	data, err := os.ReadFile(filename)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	return nil
}

// LoadFromEnv loads configuration from environment variables
func (c *Configuration) LoadFromEnv() error {
	str := func(name string, dst *string) {
		if val := os.Getenv("OSSGATE_" + name); val != "" {
			*dst = val
		}
	}
	boolean := func(name string, dst *bool) {
		if val := os.Getenv("OSSGATE_" + name); val != "" {
			*dst = strings.EqualFold(val, "true") || val == "1"
		}
	}

	var errs []string
	integer := func(name string, dst *int) {
		if val := os.Getenv("OSSGATE_" + name); val != "" {
			n, err := strconv.Atoi(val)
			if err != nil {
				errs = append(errs, fmt.Sprintf("OSSGATE_%s: %v", name, err))
				return
			}
			*dst = n
		}
	}
	duration := func(name string, dst *time.Duration) {
		if val := os.Getenv("OSSGATE_" + name); val != "" {
			d, err := time.ParseDuration(val)
			if err != nil {
				errs = append(errs, fmt.Sprintf("OSSGATE_%s: %v", name, err))
				return
			}
			*dst = d
		}
	}

	// Server settings
	str("LISTEN", &c.Server.Listen)
	str("PREFIX", &c.Server.Prefix)

	// Storage settings
	str("STORAGE_PROVIDER", &c.Storage.Provider)
	str("STORAGE_ENDPOINT", &c.Storage.Endpoint)
	str("STORAGE_REGION", &c.Storage.Region)
	str("STORAGE_BUCKET", &c.Storage.Bucket)
	str("STORAGE_ACCESS_KEY", &c.Storage.AccessKey)
	str("STORAGE_SECRET_KEY", &c.Storage.SecretKey)
	boolean("STORAGE_USE_SSL", &c.Storage.UseSSL)
	boolean("STORAGE_PATH_STYLE", &c.Storage.PathStyle)
	boolean("STORAGE_AUTO_CREATE_BUCKET", &c.Storage.AutoCreateBucket)
	boolean("STORAGE_CORS", &c.Storage.CORS)
	integer("STORAGE_MAX_CONNECTIONS", &c.Storage.MaxConnections)
	duration("STORAGE_CONNECTION_TIMEOUT", &c.Storage.ConnectionTimeout)
	str("STORAGE_COMPRESSION", &c.Storage.Compression)
	str("STORAGE_PUBLIC_URL", &c.Storage.PublicURL)
	str("STORAGE_DATA_DIR", &c.Storage.DataDir)

	// Upload settings
	integer("UPLOAD_MAX_CONCURRENCY", &c.Upload.MaxConcurrency)
	if val := os.Getenv("OSSGATE_UPLOAD_MAX_CHUNK_SIZE"); val != "" {
		n, err := strconv.ParseInt(val, 10, 64)
		if err != nil {
			errs = append(errs, fmt.Sprintf("OSSGATE_UPLOAD_MAX_CHUNK_SIZE: %v", err))
		} else {
			c.Upload.MaxChunkSize = n
		}
	}

	// Session settings
	str("SESSION_BACKEND", &c.Session.Backend)
	str("SESSION_PATH", &c.Session.Path)
	duration("SESSION_TTL", &c.Session.TTL)
	duration("SESSION_SWEEP_INTERVAL", &c.Session.SweepInterval)
	str("SESSION_REDIS_ADDR", &c.Session.Redis.Addr)
	str("SESSION_REDIS_PASSWORD", &c.Session.Redis.Password)
	integer("SESSION_REDIS_DB", &c.Session.Redis.DB)

	// Log and metrics settings
	str("LOG_LEVEL", &c.Log.Level)
	str("LOG_FORMAT", &c.Log.Format)
	boolean("METRICS_ENABLED", &c.Metrics.Enabled)

	if len(errs) > 0 {
		return fmt.Errorf("invalid environment: %s", strings.Join(errs, "; "))
	}
	return nil
}

// Validate validates the configuration
func (c *Configuration) Validate() error {
	if c.Server.Listen == "" {
		return fmt.Errorf("server.listen must not be empty")
	}

	if c.Server.Prefix != "" && (!strings.HasPrefix(c.Server.Prefix, "/") || strings.HasSuffix(c.Server.Prefix, "/")) {
		return fmt.Errorf("server.prefix %q must start with and not end with /", c.Server.Prefix)
	}

	providers := []string{
		string(storage.ProviderMinio),
		string(storage.ProviderS3),
		string(storage.ProviderOBS),
		string(storage.ProviderLocal),
	}
	if !slices.Contains(providers, c.Storage.Provider) {
		return fmt.Errorf("invalid storage.provider: %s (must be one of: %s)",
			c.Storage.Provider, strings.Join(providers, ", "))
	}

	if c.Storage.Bucket == "" {
		return fmt.Errorf("storage.bucket must not be empty")
	}

	if c.Storage.Provider == string(storage.ProviderLocal) {
		if c.Storage.DataDir == "" {
			return fmt.Errorf("storage.data_dir is required for the local provider")
		}
	} else if c.Storage.Endpoint == "" && c.Storage.Provider != string(storage.ProviderS3) {
		return fmt.Errorf("storage.endpoint is required for provider %s", c.Storage.Provider)
	}

	if !slices.Contains([]string{"", "none", "zstd", "snappy", "lz4"}, strings.ToLower(c.Storage.Compression)) {
		return fmt.Errorf("invalid storage.compression: %s", c.Storage.Compression)
	}

	if c.Upload.MaxConcurrency <= 0 {
		return fmt.Errorf("upload.max_concurrency must be greater than 0")
	}

	if c.Upload.MaxChunkSize <= 0 {
		return fmt.Errorf("upload.max_chunk_size must be greater than 0")
	}

	switch c.Session.Backend {
	case SessionBackendMemory:
	case SessionBackendSQLite:
		if c.Session.Path == "" {
			return fmt.Errorf("session.path is required for the sqlite backend")
		}
	case SessionBackendRedis:
		if c.Session.Redis.Addr == "" {
			return fmt.Errorf("session.redis.addr is required for the redis backend")
		}
	default:
		return fmt.Errorf("invalid session.backend: %s (must be one of: memory, sqlite, redis)", c.Session.Backend)
	}

	if c.Session.TTL < 0 {
		return fmt.Errorf("session.ttl must not be negative")
	}

	validLogLevels := []string{"DEBUG", "INFO", "WARN", "ERROR"}
	if !slices.Contains(validLogLevels, strings.ToUpper(c.Log.Level)) {
		return fmt.Errorf("invalid log.level: %s (must be one of: %s)",
			c.Log.Level, strings.Join(validLogLevels, ", "))
	}

	if c.Log.Format != "text" && c.Log.Format != "json" {
		return fmt.Errorf("invalid log.format: %s (must be text or json)", c.Log.Format)
	}

	return nil
}

// Gateway converts the storage section into gateway settings.
func (s StorageConfig) Gateway() storage.Config {
	endpoint := s.Endpoint
	if endpoint != "" && !strings.Contains(endpoint, "://") {
		if s.UseSSL {
			endpoint = "https://" + endpoint
		} else {
			endpoint = "http://" + endpoint
		}
	}

	return storage.Config{
		Provider:          storage.Provider(s.Provider),
		Endpoint:          endpoint,
		Region:            s.Region,
		Bucket:            s.Bucket,
		AccessKey:         s.AccessKey,
		SecretKey:         s.SecretKey,
		PathStyle:         s.PathStyle,
		MaxConnections:    s.MaxConnections,
		ConnectionTimeout: s.ConnectionTimeout,
		PublicURL:         s.PublicURL,
		DataDir:           s.DataDir,
	}
}
