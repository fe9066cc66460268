package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for the SDR gateway.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Gateway   GatewayConfig   `yaml:"gateway"`
	Database  DatabaseConfig  `yaml:"database"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	BrokerAPI BrokerAPIConfig `yaml:"broker_api"`
	API       APIConfig       `yaml:"api"`
	WebSocket WebSocketConfig `yaml:"websocket"`
	InfluxDB  InfluxDBConfig  `yaml:"influxdb"`
	Logging   LoggingConfig   `yaml:"logging"`
	Security  SecurityConfig  `yaml:"security"`
	Codec     CodecConfig     `yaml:"codec"`
	Dispatch  DispatchConfig  `yaml:"dispatch"`
	Batch     BatchConfig     `yaml:"batch"`
	Egress    EgressConfig    `yaml:"egress"`
	Metrics   MetricsConfig   `yaml:"metrics"`
}

// GatewayConfig identifies this gateway instance.
type GatewayConfig struct {
	ID   string `yaml:"id"`
	Name string `yaml:"name"`
}

// Database drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// DatabaseConfig selects and configures the relational store.
type DatabaseConfig struct {
	Driver      string         `yaml:"driver"`
	Path        string         `yaml:"path"`
	WALMode     bool           `yaml:"wal_mode"`
	BusyTimeout int            `yaml:"busy_timeout"`
	Postgres    PostgresConfig `yaml:"postgres"`
}

// PostgresConfig contains connection pool settings for the production store.
type PostgresConfig struct {
	DSN             string `yaml:"dsn"`
	MaxConns        int32  `yaml:"max_conns"`
	MinConns        int32  `yaml:"min_conns"`
	MaxConnLifetime int    `yaml:"max_conn_lifetime"` // seconds
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	Enabled   bool                `yaml:"enabled"`
	Broker    MQTTBrokerConfig    `yaml:"broker"`
	Auth      MQTTAuthConfig      `yaml:"auth"`
	QoS       int                 `yaml:"qos"`
	Reconnect MQTTReconnectConfig `yaml:"reconnect"`
	// Subscribe enables direct ingress consumption from the broker in
	// addition to the webhook.
	Subscribe bool `yaml:"subscribe"`
}

// MQTTBrokerConfig contains MQTT broker connection details.
type MQTTBrokerConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	TLS      bool   `yaml:"tls"`
	ClientID string `yaml:"client_id"`
}

// MQTTAuthConfig contains MQTT authentication credentials.
type MQTTAuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// MQTTReconnectConfig contains MQTT reconnection settings.
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
	MaxAttempts  int `yaml:"max_attempts"`
}

// BrokerAPIConfig contains the broker's management REST API settings.
type BrokerAPIConfig struct {
	URL       string `yaml:"url"`
	APIKey    string `yaml:"api_key"`
	APISecret string `yaml:"api_secret"`
	Timeout   int    `yaml:"timeout"` // seconds
}

// APIConfig contains HTTP API server settings.
type APIConfig struct {
	Host     string           `yaml:"host"`
	Port     int              `yaml:"port"`
	TLS      TLSConfig        `yaml:"tls"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`
	CORS     CORSConfig       `yaml:"cors"`
}

// TLSConfig contains TLS certificate settings.
type TLSConfig struct {
	Enabled  bool   `yaml:"enabled"`
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// APITimeoutConfig contains HTTP timeout settings.
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
	// Codec bounds how long a request waits for the dispatch pool.
	Codec int `yaml:"codec"`
}

// CORSConfig contains Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
	AllowedMethods []string `yaml:"allowed_methods"`
	AllowedHeaders []string `yaml:"allowed_headers"`
}

// WebSocketConfig contains live telemetry WebSocket settings.
type WebSocketConfig struct {
	Path           string `yaml:"path"`
	MaxMessageSize int    `yaml:"max_message_size"`
	PingInterval   int    `yaml:"ping_interval"`
	PongTimeout    int    `yaml:"pong_timeout"`
}

// InfluxDBConfig contains InfluxDB mirror settings.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// SecurityConfig contains security settings.
type SecurityConfig struct {
	JWT JWTConfig `yaml:"jwt"`
}

// JWTConfig contains token settings for both signing domains.
type JWTConfig struct {
	// Secret signs application (user to server) tokens.
	Secret string `yaml:"secret"`
	// BrokerSecret signs device and broker webhook tokens.
	BrokerSecret   string `yaml:"broker_secret"`
	AccessTokenTTL int    `yaml:"access_token_ttl"` // minutes
	DeviceTokenTTL int    `yaml:"device_token_ttl"` // days
}

// CodecConfig contains envelope compression settings.
type CodecConfig struct {
	Quality int `yaml:"quality"`
}

// DispatchConfig contains codec worker pool settings.
type DispatchConfig struct {
	Workers   int  `yaml:"workers"`
	QueueSize int  `yaml:"queue_size"`
	Block     bool `yaml:"block"`
}

// BatchConfig contains reading buffer settings.
type BatchConfig struct {
	Interval     int         `yaml:"interval"` // seconds
	MinBatchSize int         `yaml:"min_batch_size"`
	GraceMS      int         `yaml:"grace_ms"`
	MaxPending   int         `yaml:"max_pending"`
	Retry        RetryConfig `yaml:"retry"`
}

// RetryConfig contains sink write retry settings.
type RetryConfig struct {
	MaxAttempts    int     `yaml:"max_attempts"`
	InitialDelayMS int     `yaml:"initial_delay_ms"`
	MaxDelayMS     int     `yaml:"max_delay_ms"`
	Multiplier     float64 `yaml:"multiplier"`
}

// Egress transports.
const (
	TransportHTTP = "http"
	TransportMQTT = "mqtt"
)

// EgressConfig contains device-bound publish settings.
type EgressConfig struct {
	Transport   string `yaml:"transport"`
	TopicPrefix string `yaml:"topic_prefix"`
	QoS         int    `yaml:"qos"`
	Retain      bool   `yaml:"retain"`
}

// MetricsConfig contains Prometheus exposition settings.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: SDRGW_SECTION_KEY
// For example: SDRGW_DATABASE_PATH, SDRGW_JWT_SECRET
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Gateway: GatewayConfig{
			ID:   "gateway-001",
			Name: "SDR Gateway",
		},
		Database: DatabaseConfig{
			Driver:      DriverSQLite,
			Path:        "./data/sdrgateway.db",
			WALMode:     true,
			BusyTimeout: 5,
			Postgres: PostgresConfig{
				MaxConns:        10,
				MinConns:        1,
				MaxConnLifetime: 3600,
			},
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "sdr-gateway",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
			},
		},
		BrokerAPI: BrokerAPIConfig{
			URL:     "http://localhost:18083",
			Timeout: 10,
		},
		API: APIConfig{
			Host: "0.0.0.0",
			Port: 8000,
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 30,
				Idle:  60,
				Codec: 10,
			},
		},
		WebSocket: WebSocketConfig{
			Path:           "/ws",
			MaxMessageSize: 8192,
			PingInterval:   30,
			PongTimeout:    10,
		},
		InfluxDB: InfluxDBConfig{
			BatchSize:     100,
			FlushInterval: 10,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Security: SecurityConfig{
			JWT: JWTConfig{
				AccessTokenTTL: 15,
				DeviceTokenTTL: 3650,
			},
		},
		Codec: CodecConfig{
			Quality: 11,
		},
		Dispatch: DispatchConfig{
			Workers:   5,
			QueueSize: 1000,
		},
		Batch: BatchConfig{
			Interval:     5,
			MinBatchSize: 10,
			GraceMS:      2500,
			MaxPending:   50000,
			Retry: RetryConfig{
				MaxAttempts:    3,
				InitialDelayMS: 200,
				MaxDelayMS:     2000,
				Multiplier:     2.0,
			},
		},
		Egress: EgressConfig{
			Transport: TransportHTTP,
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: SDRGW_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	// Database
	if v := os.Getenv("SDRGW_DATABASE_DRIVER"); v != "" {
		cfg.Database.Driver = v
	}
	if v := os.Getenv("SDRGW_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}
	if v := os.Getenv("SDRGW_DATABASE_DSN"); v != "" {
		cfg.Database.Postgres.DSN = v
	}

	// MQTT
	if v := os.Getenv("SDRGW_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("SDRGW_MQTT_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.MQTT.Broker.Port = port
		}
	}
	if v := os.Getenv("SDRGW_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("SDRGW_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	// Broker REST API
	if v := os.Getenv("SDRGW_BROKER_API_URL"); v != "" {
		cfg.BrokerAPI.URL = v
	}
	if v := os.Getenv("SDRGW_BROKER_API_KEY"); v != "" {
		cfg.BrokerAPI.APIKey = v
	}
	if v := os.Getenv("SDRGW_BROKER_API_SECRET"); v != "" {
		cfg.BrokerAPI.APISecret = v
	}

	// API
	if v := os.Getenv("SDRGW_API_HOST"); v != "" {
		cfg.API.Host = v
	}
	if v := os.Getenv("SDRGW_API_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.API.Port = port
		}
	}

	// InfluxDB
	if v := os.Getenv("SDRGW_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}

	// Security (IMPORTANT: always override both secrets in production)
	if v := os.Getenv("SDRGW_JWT_SECRET"); v != "" {
		cfg.Security.JWT.Secret = v
	}
	if v := os.Getenv("SDRGW_BROKER_JWT_SECRET"); v != "" {
		cfg.Security.JWT.BrokerSecret = v
	}
}

// minJWTSecretLength is the minimum accepted length for either signing secret.
const minJWTSecretLength = 32

// Validate checks the configuration for errors and security issues.
func (c *Config) Validate() error {
	var errs []string

	if c.Gateway.ID == "" {
		errs = append(errs, "gateway.id is required")
	}

	// The local database holds the audit trail under either driver.
	if c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}

	switch c.Database.Driver {
	case DriverSQLite:
	case DriverPostgres:
		if c.Database.Postgres.DSN == "" {
			errs = append(errs, "database.postgres.dsn is required for the postgres driver (set SDRGW_DATABASE_DSN)")
		}
	default:
		errs = append(errs, "database.driver must be \"sqlite\" or \"postgres\"")
	}

	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}
	if c.MQTT.Subscribe && !c.MQTT.Enabled {
		errs = append(errs, "mqtt.subscribe requires mqtt.enabled")
	}

	if c.API.Port < 1 || c.API.Port > 65535 {
		errs = append(errs, "api.port must be between 1 and 65535")
	}

	// Both secrets are required and must differ: a device token must never
	// verify against the application secret.
	jwt := c.Security.JWT
	switch {
	case jwt.Secret == "":
		errs = append(errs, "security.jwt.secret is required (set SDRGW_JWT_SECRET environment variable)")
	case len(jwt.Secret) < minJWTSecretLength:
		errs = append(errs, "security.jwt.secret must be at least 32 characters")
	}
	switch {
	case jwt.BrokerSecret == "":
		errs = append(errs, "security.jwt.broker_secret is required (set SDRGW_BROKER_JWT_SECRET environment variable)")
	case len(jwt.BrokerSecret) < minJWTSecretLength:
		errs = append(errs, "security.jwt.broker_secret must be at least 32 characters")
	}
	if jwt.Secret != "" && jwt.Secret == jwt.BrokerSecret {
		errs = append(errs, "security.jwt.secret and security.jwt.broker_secret must differ")
	}

	if c.Codec.Quality < 0 || c.Codec.Quality > 11 {
		errs = append(errs, "codec.quality must be between 0 and 11")
	}

	if c.Dispatch.Workers < 1 {
		errs = append(errs, "dispatch.workers must be at least 1")
	}
	if c.Dispatch.QueueSize < 1 {
		errs = append(errs, "dispatch.queue_size must be at least 1")
	}

	if c.Batch.Interval < 1 {
		errs = append(errs, "batch.interval must be at least 1 second")
	}
	if c.Batch.MinBatchSize < 0 {
		errs = append(errs, "batch.min_batch_size must not be negative")
	}
	if c.Batch.MaxPending < c.Batch.MinBatchSize {
		errs = append(errs, "batch.max_pending must be at least batch.min_batch_size")
	}

	switch c.Egress.Transport {
	case TransportHTTP:
		if c.BrokerAPI.URL == "" {
			errs = append(errs, "broker_api.url is required for the http egress transport")
		}
	case TransportMQTT:
		if !c.MQTT.Enabled {
			errs = append(errs, "egress.transport \"mqtt\" requires mqtt.enabled")
		}
	default:
		errs = append(errs, "egress.transport must be \"http\" or \"mqtt\"")
	}
	if c.Egress.QoS < 0 || c.Egress.QoS > 2 {
		errs = append(errs, "egress.qos must be 0, 1, or 2")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// GetReadTimeout returns the API read timeout as a Duration.
func (c *Config) GetReadTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Read) * time.Second
}

// GetWriteTimeout returns the API write timeout as a Duration.
func (c *Config) GetWriteTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Write) * time.Second
}

// GetIdleTimeout returns the API idle timeout as a Duration.
func (c *Config) GetIdleTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Idle) * time.Second
}

// GetCodecTimeout returns how long a request waits for a codec result.
func (c *Config) GetCodecTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Codec) * time.Second
}

// FlushInterval returns the batch flush interval as a Duration.
func (b BatchConfig) FlushInterval() time.Duration {
	return time.Duration(b.Interval) * time.Second
}

// Grace returns the shutdown grace period as a Duration.
func (b BatchConfig) Grace() time.Duration {
	return time.Duration(b.GraceMS) * time.Millisecond
}

// DeviceTokenLifetime returns the device token validity as a Duration.
func (j JWTConfig) DeviceTokenLifetime() time.Duration {
	return time.Duration(j.DeviceTokenTTL) * 24 * time.Hour
}

// AccessTokenLifetime returns the application token validity as a Duration.
func (j JWTConfig) AccessTokenLifetime() time.Duration {
	return time.Duration(j.AccessTokenTTL) * time.Minute
}
