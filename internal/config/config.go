package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds the complete configuration for the citation engine service
type Config struct {
	Environment string          `mapstructure:"environment"`
	Debug       bool            `mapstructure:"debug"`
	Server      ServerConfig    `mapstructure:"server"`
	Database    DatabaseConfig  `mapstructure:"database"`
	Redis       RedisConfig     `mapstructure:"redis"`
	Kafka       KafkaConfig     `mapstructure:"kafka"`
	Security    SecurityConfig  `mapstructure:"security"`
	Citation    CitationConfig  `mapstructure:"citation"`
	Contest     ContestConfig   `mapstructure:"contest"`
	Offense     OffenseConfig   `mapstructure:"offense"`
	Scheduler   SchedulerConfig `mapstructure:"scheduler"`
	Logging     LoggingConfig   `mapstructure:"logging"`
}

// ServerConfig contains server configuration
type ServerConfig struct {
	HTTPPort        int           `mapstructure:"http_port"`
	GRPCPort        int           `mapstructure:"grpc_port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// DatabaseConfig contains database configuration
type DatabaseConfig struct {
	Host               string        `mapstructure:"host"`
	Port               int           `mapstructure:"port"`
	Name               string        `mapstructure:"name"`
	Username           string        `mapstructure:"username"`
	Password           string        `mapstructure:"password"`
	SSLMode            string        `mapstructure:"ssl_mode"`
	MaxOpenConns       int           `mapstructure:"max_open_conns"`
	MaxIdleConns       int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime    time.Duration `mapstructure:"conn_max_lifetime"`
	ConnectTimeout     time.Duration `mapstructure:"connect_timeout"`
	SlowQueryThreshold time.Duration `mapstructure:"slow_query_threshold"`
	LogLevel           string        `mapstructure:"log_level"` // silent, error, warn, info
	AutoMigrate        bool          `mapstructure:"auto_migrate"`
}

// DSN builds the postgres connection string
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s TimeZone=UTC",
		d.Host, d.Port, d.Username, d.Password, d.Name, d.SSLMode)
}

// RedisConfig contains Redis configuration for counters and locks
type RedisConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	PoolSize int    `mapstructure:"pool_size"`
}

// Addr returns the host:port of the Redis server
func (r RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

// KafkaConfig contains Kafka configuration for domain events
type KafkaConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	Brokers      []string      `mapstructure:"brokers"`
	Topic        string        `mapstructure:"topic"`
	BatchTimeout time.Duration `mapstructure:"batch_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	RequiredAcks int           `mapstructure:"required_acks"`
}

// SecurityConfig contains security configuration
type SecurityConfig struct {
	EnableAuthentication bool   `mapstructure:"enable_authentication"`
	JWTSecret            string `mapstructure:"jwt_secret"`
	Issuer               string `mapstructure:"issuer"`
}

// CitationConfig contains citation lifecycle configuration
type CitationConfig struct {
	NumberPrefix    string        `mapstructure:"number_prefix"`
	DefaultDueDays  int           `mapstructure:"default_due_days"`
	LockTimeout     time.Duration `mapstructure:"lock_timeout"`
	LockTTL         time.Duration `mapstructure:"lock_ttl"`
	LockBackend     string        `mapstructure:"lock_backend"`     // memory, redis
	SequenceBackend string        `mapstructure:"sequence_backend"` // database, redis
}

// ContestConfig contains contest workflow configuration
type ContestConfig struct {
	NumberPrefix string `mapstructure:"number_prefix"`
}

// OffenseConfig decides which prior citations count toward the offense ordinal
type OffenseConfig struct {
	CountContested bool `mapstructure:"count_contested"`
	CountDismissed bool `mapstructure:"count_dismissed"`
}

// SchedulerConfig contains scheduler configuration
type SchedulerConfig struct {
	OverdueSweepEnabled  bool   `mapstructure:"overdue_sweep_enabled"`
	OverdueSweepSchedule string `mapstructure:"overdue_sweep_schedule"`
	BatchSize            int    `mapstructure:"batch_size"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // json, console
}

// Load loads configuration from environment variables and config files
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("/etc/citation-engine")

	// Set default values
	setDefaults(v)

	// Enable environment variable binding
	v.SetEnvPrefix("CITATION_ENGINE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	// General
	v.SetDefault("environment", "development")
	v.SetDefault("debug", false)

	// Server
	v.SetDefault("server.http_port", 8088)
	v.SetDefault("server.grpc_port", 9088)
	v.SetDefault("server.read_timeout", "15s")
	v.SetDefault("server.write_timeout", "15s")
	v.SetDefault("server.idle_timeout", "60s")
	v.SetDefault("server.shutdown_timeout", "30s")

	// Database
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.name", "aegisshield_citations")
	v.SetDefault("database.username", "postgres")
	v.SetDefault("database.password", "postgres")
	v.SetDefault("database.ssl_mode", "disable")
	v.SetDefault("database.max_open_conns", 25)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", "5m")
	v.SetDefault("database.connect_timeout", "10s")
	v.SetDefault("database.slow_query_threshold", "200ms")
	v.SetDefault("database.log_level", "warn")
	v.SetDefault("database.auto_migrate", true)

	// Redis
	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.pool_size", 10)

	// Kafka
	v.SetDefault("kafka.enabled", false)
	v.SetDefault("kafka.brokers", []string{"localhost:9092"})
	v.SetDefault("kafka.topic", "citation-events")
	v.SetDefault("kafka.batch_timeout", "10ms")
	v.SetDefault("kafka.write_timeout", "10s")
	v.SetDefault("kafka.required_acks", 1)

	// Security
	v.SetDefault("security.enable_authentication", false)
	v.SetDefault("security.jwt_secret", "")
	v.SetDefault("security.issuer", "aegisshield")

	// Citations
	v.SetDefault("citation.number_prefix", "TCT")
	v.SetDefault("citation.default_due_days", 30)
	v.SetDefault("citation.lock_timeout", "5s")
	v.SetDefault("citation.lock_ttl", "30s")
	v.SetDefault("citation.lock_backend", "memory")
	v.SetDefault("citation.sequence_backend", "database")

	// Contests
	v.SetDefault("contest.number_prefix", "CON")

	// Offense history
	v.SetDefault("offense.count_contested", true)
	v.SetDefault("offense.count_dismissed", false)

	// Scheduler
	v.SetDefault("scheduler.overdue_sweep_enabled", false)
	v.SetDefault("scheduler.overdue_sweep_schedule", "0 */15 * * * *")
	v.SetDefault("scheduler.batch_size", 200)

	// Logging
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
}

// Validate rejects inconsistent settings
func (c *Config) Validate() error {
	if c.Server.HTTPPort <= 0 {
		return fmt.Errorf("server.http_port must be positive")
	}
	if c.Citation.NumberPrefix == "" || c.Contest.NumberPrefix == "" {
		return fmt.Errorf("citation and contest number prefixes are required")
	}
	if c.Citation.DefaultDueDays <= 0 {
		return fmt.Errorf("citation.default_due_days must be positive")
	}
	if c.Citation.LockTimeout <= 0 {
		return fmt.Errorf("citation.lock_timeout must be positive")
	}

	switch c.Citation.LockBackend {
	case "memory":
	case "redis":
		if !c.Redis.Enabled {
			return fmt.Errorf("citation.lock_backend=redis requires redis.enabled")
		}
	default:
		return fmt.Errorf("unknown citation.lock_backend %q", c.Citation.LockBackend)
	}

	switch c.Citation.SequenceBackend {
	case "database":
	case "redis":
		if !c.Redis.Enabled {
			return fmt.Errorf("citation.sequence_backend=redis requires redis.enabled")
		}
	default:
		return fmt.Errorf("unknown citation.sequence_backend %q", c.Citation.SequenceBackend)
	}

	if c.Kafka.Enabled && (len(c.Kafka.Brokers) == 0 || c.Kafka.Topic == "") {
		return fmt.Errorf("kafka.brokers and kafka.topic are required when kafka is enabled")
	}
	if c.Security.EnableAuthentication && c.Security.JWTSecret == "" {
		return fmt.Errorf("security.jwt_secret is required when authentication is enabled")
	}
	return nil
}
