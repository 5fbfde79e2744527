package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the server configuration.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"db"`
	Log       LogConfig       `mapstructure:"log"`
	Lock      LockConfig      `mapstructure:"lock"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Kafka     KafkaConfig     `mapstructure:"kafka"`
	Ledger    LedgerConfig    `mapstructure:"ledger"`
	Bulk      BulkConfig      `mapstructure:"bulk"`
	Policy    PolicyConfig    `mapstructure:"policy"`
	Bootstrap BootstrapConfig `mapstructure:"bootstrap"`
}

type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	CORS            CORSConfig    `mapstructure:"cors"`
}

type CORSConfig struct {
	AllowOrigins []string `mapstructure:"allow_origins"`
}

// DatabaseConfig points at the SQLite file; ":memory:" keeps everything in process.
type DatabaseConfig struct {
	Path string `mapstructure:"path"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// LockConfig selects the per-key lock. "memory" serializes within one
// process; "redis" across every process sharing the database.
type LockConfig struct {
	Backend       string        `mapstructure:"backend"`
	TTL           time.Duration `mapstructure:"ttl"`
	RetryInterval time.Duration `mapstructure:"retry_interval"`
	MaxRetries    int           `mapstructure:"max_retries"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type KafkaConfig struct {
	Enabled bool     `mapstructure:"enabled"`
	Brokers []string `mapstructure:"brokers"`
	Topic   string   `mapstructure:"topic"`
}

type LedgerConfig struct {
	MaxRetries int `mapstructure:"max_retries"`
}

type BulkConfig struct {
	Parallelism int `mapstructure:"parallelism"`
}

// PolicyConfig optionally seeds the first policy version from a JSON file.
type PolicyConfig struct {
	File string `mapstructure:"file"`
}

// BootstrapConfig seeds an admin directory record so a fresh install can be
// administered over HTTP.
type BootstrapConfig struct {
	AdminID string `mapstructure:"admin_id"`
}

const (
	LockMemory = "memory"
	LockRedis  = "redis"
)

// Load reads configuration from defaults, an optional YAML file and LEAVE_*
// environment variables, in increasing priority.
func Load(path string) (*Config, error) {
	v := viper.New()

	v.SetDefault("server.port", 8080)
	v.SetDefault("server.shutdown_timeout", "10s")
	v.SetDefault("server.cors.allow_origins", []string{"*"})

	v.SetDefault("db.path", "./data/leave.db")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	v.SetDefault("lock.backend", LockMemory)
	v.SetDefault("lock.ttl", "10s")
	v.SetDefault("lock.retry_interval", "50ms")
	v.SetDefault("lock.max_retries", 100)

	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("kafka.enabled", false)
	v.SetDefault("kafka.brokers", []string{"localhost:9092"})
	v.SetDefault("kafka.topic", "leave.audit")

	v.SetDefault("ledger.max_retries", 5)
	v.SetDefault("bulk.parallelism", 4)
	v.SetDefault("policy.file", "")
	v.SetDefault("bootstrap.admin_id", "")

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./config")
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix("LEAVE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects values the server cannot start with.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid config: server.port must be within 1-65535")
	}
	if c.Database.Path == "" {
		return fmt.Errorf("invalid config: db.path is required")
	}
	switch c.Lock.Backend {
	case LockMemory:
	case LockRedis:
		if c.Redis.Addr == "" {
			return fmt.Errorf("invalid config: redis.addr is required for the redis lock backend")
		}
		if c.Lock.TTL <= 0 {
			return fmt.Errorf("invalid config: lock.ttl must be positive")
		}
	default:
		return fmt.Errorf("invalid config: unknown lock.backend %q", c.Lock.Backend)
	}
	if c.Kafka.Enabled && len(c.Kafka.Brokers) == 0 {
		return fmt.Errorf("invalid config: kafka.brokers is required when kafka is enabled")
	}
	if c.Ledger.MaxRetries < 1 {
		return fmt.Errorf("invalid config: ledger.max_retries must be >= 1")
	}
	if c.Bulk.Parallelism < 1 {
		return fmt.Errorf("invalid config: bulk.parallelism must be >= 1")
	}
	return nil
}
