package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"runtime"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Record error policies
const (
	OnRecordErrorSkip  = "skip"
	OnRecordErrorAbort = "abort"
)

const (
	defaultCaller   = "5ExcvnRUfE9dWBgma5DCVeENgiq2jEo1cY4pW7J8yqvjTE3C"
	defaultContract = "gr4LugUgbox1qh3JdjMsecmqREXvDCmAwVc5GhyhQjgei3HyS"
)

// DeviceConfig holds the serial device settings
type DeviceConfig struct {
	Path     string `yaml:"path"`
	BaudRate int    `yaml:"baud_rate"`
	// MaxLineLength bounds a record line in bytes, 0 for no limit
	MaxLineLength int `yaml:"max_line_length"`
}

// NodeConfig holds the ledger node connection settings
type NodeConfig struct {
	Network          string        `yaml:"network"`
	WebSocketURL     string        `yaml:"websocket_url"`
	RuntimeAPI       string        `yaml:"runtime_api"`
	RequestTimeout   time.Duration `yaml:"request_timeout"`
	PingInterval     time.Duration `yaml:"ping_interval"`
	HandshakeTimeout time.Duration `yaml:"handshake_timeout"`
}

// ContractConfig identifies the contract, its metadata and the message called per record
type ContractConfig struct {
	Metadata            string `yaml:"metadata"`
	RedisKey            string `yaml:"redis_key,omitempty"`
	MinioObject         string `yaml:"minio_object,omitempty"`
	Method              string `yaml:"method"`
	Caller              string `yaml:"caller"`
	Address             string `yaml:"address"`
	SS58Format          uint16 `yaml:"ss58_format"`
	AcceptGenericFormat bool   `yaml:"accept_generic_format"`
}

// PipelineConfig controls record parsing and the per-record error policy
type PipelineConfig struct {
	Delimiter     string `yaml:"delimiter"`
	StrictFields  bool   `yaml:"strict_fields"`
	OnRecordError string `yaml:"on_record_error"`
}

// NATSConfig configures optional result fan-out
type NATSConfig struct {
	URL     string `yaml:"url"`
	Stream  string `yaml:"stream"`
	Subject string `yaml:"subject"`
}

// MinioConfig locates contract metadata in object storage
type MinioConfig struct {
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	UseSSL    bool   `yaml:"use_ssl"`
	Bucket    string `yaml:"bucket"`
	BasePath  string `yaml:"base_path"`
}

// LogConfig configures the process logger
type LogConfig struct {
	Level      string `yaml:"level"`
	Format     string `yaml:"format"`
	File       string `yaml:"file,omitempty"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
}

// Config holds the application configuration
type Config struct {
	Device   DeviceConfig   `yaml:"device"`
	Node     NodeConfig     `yaml:"node"`
	Contract ContractConfig `yaml:"contract"`
	Pipeline PipelineConfig `yaml:"pipeline"`
	NATS     NATSConfig     `yaml:"nats"`
	Minio    MinioConfig    `yaml:"minio"`
	Log      LogConfig      `yaml:"log"`

	// Redis configuration
	RedisURL string `yaml:"redis_url,omitempty"`

	// Prometheus listen address, empty disables the endpoint
	MetricsAddr string `yaml:"metrics_addr,omitempty"`
}

// DefaultDevicePath is the serial port used when none is configured
func DefaultDevicePath() string {
	if runtime.GOOS == "windows" {
		return "COM1"
	}
	return "/dev/ttyUSB0"
}

// LoadFromEnv loads configuration from environment variables
func LoadFromEnv() (*Config, error) {
	cfg := fromEnv()
	if err := cfg.resolveNetwork(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func fromEnv() *Config {
	return &Config{
		Device: DeviceConfig{
			Path:          getEnvWithDefault("BRIDGE_DEVICE", DefaultDevicePath()),
			BaudRate:      getEnvAsInt("BRIDGE_BAUD_RATE", 115200),
			MaxLineLength: getEnvAsInt("BRIDGE_MAX_LINE_LENGTH", 4096),
		},
		Node: NodeConfig{
			Network:          getEnvWithDefault("BRIDGE_NETWORK", "goro"),
			WebSocketURL:     os.Getenv("BRIDGE_NODE_URL"),
			RuntimeAPI:       getEnvWithDefault("BRIDGE_RUNTIME_API", "ContractsApi_call"),
			RequestTimeout:   getEnvAsDuration("BRIDGE_REQUEST_TIMEOUT", 5*time.Second),
			PingInterval:     getEnvAsDuration("BRIDGE_PING_INTERVAL", time.Second),
			HandshakeTimeout: getEnvAsDuration("BRIDGE_HANDSHAKE_TIMEOUT", 10*time.Second),
		},
		Contract: ContractConfig{
			Metadata:            getEnvWithDefault("BRIDGE_METADATA", "./resources/rantai_suplai.json"),
			RedisKey:            os.Getenv("BRIDGE_METADATA_REDIS_KEY"),
			MinioObject:         os.Getenv("BRIDGE_METADATA_OBJECT"),
			Method:              getEnvWithDefault("BRIDGE_METHOD", "get_product_status"),
			Caller:              getEnvWithDefault("BRIDGE_CALLER", defaultCaller),
			Address:             getEnvWithDefault("BRIDGE_CONTRACT", defaultContract),
			SS58Format:          uint16(getEnvAsInt("BRIDGE_SS58_FORMAT", 0)),
			AcceptGenericFormat: getEnvAsBool("BRIDGE_ACCEPT_GENERIC_FORMAT", true),
		},
		Pipeline: PipelineConfig{
			Delimiter:     getEnvWithDefault("BRIDGE_DELIMITER", "-"),
			StrictFields:  getEnvAsBool("BRIDGE_STRICT_FIELDS", false),
			OnRecordError: getEnvWithDefault("BRIDGE_ON_RECORD_ERROR", OnRecordErrorSkip),
		},
		NATS: NATSConfig{
			URL:     os.Getenv("NATS_URL"),
			Stream:  getEnvWithDefault("NATS_STREAM", "BRIDGE"),
			Subject: getEnvWithDefault("NATS_SUBJECT", "bridge.results"),
		},
		Minio: MinioConfig{
			Endpoint:  os.Getenv("MINIO_ENDPOINT"),
			AccessKey: os.Getenv("MINIO_ACCESS_KEY"),
			SecretKey: os.Getenv("MINIO_SECRET_KEY"),
			UseSSL:    getEnvAsBool("MINIO_USE_SSL", false),
			Bucket:    getEnvWithDefault("MINIO_BUCKET", "contracts"),
			BasePath:  os.Getenv("MINIO_BASE_PATH"),
		},
		Log: LogConfig{
			Level:      getEnvWithDefault("LOG_LEVEL", "info"),
			Format:     getEnvWithDefault("LOG_FORMAT", "console"),
			File:       os.Getenv("LOG_FILE"),
			MaxSizeMB:  getEnvAsInt("LOG_MAX_SIZE_MB", 100),
			MaxBackups: getEnvAsInt("LOG_MAX_BACKUPS", 3),
			MaxAgeDays: getEnvAsInt("LOG_MAX_AGE_DAYS", 28),
		},
		RedisURL:    os.Getenv("REDIS_URL"),
		MetricsAddr: os.Getenv("METRICS_ADDR"),
	}
}

// Load reads a YAML config file (path), falls back to environment loader on error.
// Values present in the file override the environment.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return LoadFromEnv()
	}

	// Load base config (env or defaults) then override with values from YAML
	cfg := fromEnv()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	// Expand env in URLs and secrets
	cfg.Node.WebSocketURL = os.ExpandEnv(cfg.Node.WebSocketURL)
	cfg.NATS.URL = os.ExpandEnv(cfg.NATS.URL)
	cfg.RedisURL = os.ExpandEnv(cfg.RedisURL)
	cfg.Minio.Endpoint = os.ExpandEnv(cfg.Minio.Endpoint)
	cfg.Minio.AccessKey = os.ExpandEnv(cfg.Minio.AccessKey)
	cfg.Minio.SecretKey = os.ExpandEnv(cfg.Minio.SecretKey)

	if err := cfg.resolveNetwork(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// resolveNetwork fills the endpoint and address format from the named network
func (c *Config) resolveNetwork() error {
	n, err := LookupNetwork(c.Node.Network)
	if err != nil {
		if c.Node.WebSocketURL != "" && c.Contract.SS58Format != 0 {
			return nil
		}
		return err
	}
	if c.Node.WebSocketURL == "" {
		c.Node.WebSocketURL = n.WebSocketURL
	}
	if c.Contract.SS58Format == 0 {
		c.Contract.SS58Format = n.SS58Format
	}
	return nil
}

// Validate checks the configuration for values the bridge cannot run with
func (c *Config) Validate() error {
	var errs []error

	if c.Device.BaudRate <= 0 {
		errs = append(errs, fmt.Errorf("device.baud_rate must be positive, got %d", c.Device.BaudRate))
	}
	if c.Device.MaxLineLength < 0 {
		errs = append(errs, fmt.Errorf("device.max_line_length must not be negative, got %d", c.Device.MaxLineLength))
	}

	if u, err := url.Parse(c.Node.WebSocketURL); err != nil || (u.Scheme != "ws" && u.Scheme != "wss") {
		errs = append(errs, fmt.Errorf("node.websocket_url must be a ws:// or wss:// URL, got %q", c.Node.WebSocketURL))
	}
	if c.Node.RuntimeAPI == "" {
		errs = append(errs, errors.New("node.runtime_api is required"))
	}
	if c.Node.RequestTimeout <= 0 {
		errs = append(errs, errors.New("node.request_timeout must be positive"))
	}
	if c.Node.PingInterval <= 0 {
		errs = append(errs, errors.New("node.ping_interval must be positive"))
	}

	if c.Contract.Method == "" {
		errs = append(errs, errors.New("contract.method is required"))
	}
	if c.Contract.Caller == "" || c.Contract.Address == "" {
		errs = append(errs, errors.New("contract.caller and contract.address are required"))
	}
	switch {
	case c.Contract.RedisKey != "":
		if c.RedisURL == "" {
			errs = append(errs, errors.New("contract.redis_key requires redis_url"))
		}
	case c.Contract.MinioObject != "":
		if c.Minio.Endpoint == "" || c.Minio.Bucket == "" {
			errs = append(errs, errors.New("contract.minio_object requires minio.endpoint and minio.bucket"))
		}
	case c.Contract.Metadata == "":
		errs = append(errs, errors.New("contract.metadata is required"))
	}

	if c.Pipeline.Delimiter == "" {
		errs = append(errs, errors.New("pipeline.delimiter must not be empty"))
	}
	if c.Pipeline.OnRecordError != OnRecordErrorSkip && c.Pipeline.OnRecordError != OnRecordErrorAbort {
		errs = append(errs, fmt.Errorf("pipeline.on_record_error must be %q or %q, got %q",
			OnRecordErrorSkip, OnRecordErrorAbort, c.Pipeline.OnRecordError))
	}

	if c.NATS.URL != "" && (c.NATS.Stream == "" || c.NATS.Subject == "") {
		errs = append(errs, errors.New("nats.stream and nats.subject are required when nats.url is set"))
	}

	switch strings.ToLower(c.Log.Format) {
	case "console", "json":
	default:
		errs = append(errs, fmt.Errorf("log.format must be console or json, got %q", c.Log.Format))
	}

	return errors.Join(errs...)
}

// getEnvWithDefault returns environment variable value or default if not set
func getEnvWithDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt returns environment variable as integer or default if not set
func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

// getEnvAsBool returns environment variable as bool or default if not set
func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

// getEnvAsDuration returns environment variable as duration or default if not set
func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
