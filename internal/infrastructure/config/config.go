package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for the smart garden gateway.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Gateway    GatewayConfig    `yaml:"gateway"`
	MQTT       MQTTConfig       `yaml:"mqtt"`
	Radio      RadioConfig      `yaml:"radio"`
	Database   DatabaseConfig   `yaml:"database"`
	InfluxDB   InfluxDBConfig   `yaml:"influxdb"`
	API        APIConfig        `yaml:"api"`
	WebSocket  WebSocketConfig  `yaml:"websocket"`
	Automation AutomationConfig `yaml:"automation"`
	Logging    LoggingConfig    `yaml:"logging"`
}

// GatewayConfig contains control loop settings.
type GatewayConfig struct {
	ID string `yaml:"id"`

	// PollInterval is the pause between control loop iterations in
	// milliseconds. 0 runs the loop without pausing.
	PollInterval int `yaml:"poll_interval_ms"`

	// HealthInterval is how often a health report is published, in seconds.
	HealthInterval int `yaml:"health_interval"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	Broker    MQTTBrokerConfig    `yaml:"broker"`
	Auth      MQTTAuthConfig      `yaml:"auth"`
	QoS       int                 `yaml:"qos"`
	Topics    MQTTTopicsConfig    `yaml:"topics"`
	Reconnect MQTTReconnectConfig `yaml:"reconnect"`

	// InboxSize bounds the number of received commands waiting for the
	// control loop. When it is full the oldest message is dropped.
	InboxSize int `yaml:"inbox_size"`
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

// MQTTTopicsConfig contains the garden topic layout. Command and Telemetry
// are templates in which "+" stands for the node id.
type MQTTTopicsConfig struct {
	Command      string `yaml:"command"`
	Telemetry    string `yaml:"telemetry"`
	StatusPrefix string `yaml:"status_prefix"`
}

// MQTTReconnectConfig contains MQTT reconnection settings, in seconds.
type MQTTReconnectConfig struct {
	Delay          int `yaml:"delay"`
	ConnectTimeout int `yaml:"connect_timeout"`
}

// RadioConfig contains nRF24 radio settings.
type RadioConfig struct {
	// Driver selects the radio backend: "serial" for a USB radio modem or
	// "sim" for the in-process simulated air with virtual nodes.
	Driver string `yaml:"driver"`

	Serial SerialConfig `yaml:"serial"`

	PALevel     string `yaml:"pa_level"`
	DataRate    string `yaml:"data_rate"`
	Channel     int    `yaml:"channel"`
	PayloadSize int    `yaml:"payload_size"`

	GatewayAddress string   `yaml:"gateway_address"`
	NodeAddresses  []string `yaml:"node_addresses"`

	// SimInterval is the virtual node sampling interval in seconds when
	// Driver is "sim".
	SimInterval int `yaml:"sim_interval"`
}

// SerialConfig contains radio modem port settings.
type SerialConfig struct {
	Port string `yaml:"port"`
	Baud int    `yaml:"baud"`
}

// DatabaseConfig contains SQLite database settings.
type DatabaseConfig struct {
	Path          string `yaml:"path"`
	WALMode       bool   `yaml:"wal_mode"`
	BusyTimeout   int    `yaml:"busy_timeout"`
	RetentionDays int    `yaml:"retention_days"`
}

// InfluxDBConfig contains InfluxDB connection settings.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`
}

// APIConfig contains HTTP API server settings.
type APIConfig struct {
	Enabled  bool             `yaml:"enabled"`
	Host     string           `yaml:"host"`
	Port     int              `yaml:"port"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`
	CORS     CORSConfig       `yaml:"cors"`

	// Dashboard serves the garden dashboard at "/". DashboardDir, when set
	// to an existing directory, replaces the embedded copy.
	Dashboard    bool   `yaml:"dashboard"`
	DashboardDir string `yaml:"dashboard_dir"`
}

// APITimeoutConfig contains HTTP timeout settings.
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// CORSConfig contains Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// WebSocketConfig contains WebSocket server settings.
type WebSocketConfig struct {
	MaxMessageSize int `yaml:"max_message_size"`
	PingInterval   int `yaml:"ping_interval"`
	PongTimeout    int `yaml:"pong_timeout"`
}

// AutomationConfig contains threshold watering settings.
type AutomationConfig struct {
	Enabled bool `yaml:"enabled"`

	// Timezone names the IANA zone rule time windows are read in. Empty
	// uses the host's local time.
	Timezone string `yaml:"timezone"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// envPrefix prefixes every environment override.
const envPrefix = "SMARTGARDEN_"

// DefaultPath is used when neither --config nor SMARTGARDEN_CONFIG is set.
const DefaultPath = "configs/config.yaml"

// ResolvePath picks the configuration file: the explicit flag value, then
// SMARTGARDEN_CONFIG, then DefaultPath.
func ResolvePath(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}
	if v := os.Getenv(envPrefix + "CONFIG"); v != "" {
		return v
	}
	return DefaultPath
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: SMARTGARDEN_SECTION_KEY
// For example: SMARTGARDEN_MQTT_HOST, SMARTGARDEN_RADIO_SERIAL_PORT
//
// Parameters:
//   - path: Path to the YAML configuration file
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: If file cannot be read, parsed, or validation fails
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

// defaultConfig returns a Config matching the deployed firmware.
func defaultConfig() *Config {
	return &Config{
		Gateway: GatewayConfig{
			ID:             "gw-area1",
			PollInterval:   0,
			HealthInterval: 30,
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "smartgarden-gateway",
			},
			QoS: 1,
			Topics: MQTTTopicsConfig{
				Command:      "smartgarden/area1/node/+/pump",
				Telemetry:    "smartgarden/area1/node/+/data",
				StatusPrefix: "smartgarden/area1",
			},
			Reconnect: MQTTReconnectConfig{
				Delay:          5,
				ConnectTimeout: 10,
			},
			InboxSize: 16,
		},
		Radio: RadioConfig{
			Driver: "serial",
			Serial: SerialConfig{
				Port: "/dev/ttyUSB0",
				Baud: 115200,
			},
			PALevel:        "low",
			DataRate:       "1mbps",
			Channel:        76,
			PayloadSize:    32,
			GatewayAddress: "GATWY",
			NodeAddresses:  []string{"1NODE", "2NODE", "3NODE", "4NODE", "5NODE"},
			SimInterval:    15,
		},
		Database: DatabaseConfig{
			Path:          "./data/smartgarden.db",
			WALMode:       true,
			BusyTimeout:   5,
			RetentionDays: 30,
		},
		InfluxDB: InfluxDBConfig{
			BatchSize:     100,
			FlushInterval: 10,
		},
		API: APIConfig{
			Enabled: true,
			Host:    "0.0.0.0",
			Port:    8080,
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 30,
				Idle:  60,
			},
			Dashboard: true,
		},
		WebSocket: WebSocketConfig{
			MaxMessageSize: 8192,
			PingInterval:   30,
			PongTimeout:    10,
		},
		Automation: AutomationConfig{
			Enabled: true,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: SMARTGARDEN_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	// Gateway
	if v := os.Getenv(envPrefix + "GATEWAY_ID"); v != "" {
		cfg.Gateway.ID = v
	}

	// MQTT
	if v := os.Getenv(envPrefix + "MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv(envPrefix + "MQTT_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.MQTT.Broker.Port = port
		}
	}
	if v := os.Getenv(envPrefix + "MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv(envPrefix + "MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	// Radio
	if v := os.Getenv(envPrefix + "RADIO_DRIVER"); v != "" {
		cfg.Radio.Driver = v
	}
	if v := os.Getenv(envPrefix + "RADIO_SERIAL_PORT"); v != "" {
		cfg.Radio.Serial.Port = v
	}

	// Database
	if v := os.Getenv(envPrefix + "DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	// InfluxDB
	if v := os.Getenv(envPrefix + "INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}

	// API
	if v := os.Getenv(envPrefix + "API_HOST"); v != "" {
		cfg.API.Host = v
	}

	// Automation
	if v := os.Getenv(envPrefix + "AUTOMATION_ENABLED"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Automation.Enabled = b
		}
	}
	if v := os.Getenv(envPrefix + "AUTOMATION_TIMEZONE"); v != "" {
		cfg.Automation.Timezone = v
	}

	// Logging
	if v := os.Getenv(envPrefix + "LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
}

// Validate checks the configuration for errors.
//
// Returns:
//   - error: Description of validation failure, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	// Gateway validation
	if c.Gateway.ID == "" {
		errs = append(errs, "gateway.id is required")
	}
	if c.Gateway.PollInterval < 0 {
		errs = append(errs, "gateway.poll_interval_ms must not be negative")
	}

	// MQTT validation
	if c.MQTT.Broker.Host == "" {
		errs = append(errs, "mqtt.broker.host is required")
	}
	if c.MQTT.Broker.Port < 1 || c.MQTT.Broker.Port > 65535 {
		errs = append(errs, "mqtt.broker.port must be between 1 and 65535")
	}
	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}
	if !strings.Contains(c.MQTT.Topics.Command, "+") {
		errs = append(errs, "mqtt.topics.command must contain a + placeholder")
	}
	if !strings.Contains(c.MQTT.Topics.Telemetry, "+") {
		errs = append(errs, "mqtt.topics.telemetry must contain a + placeholder")
	}
	if c.MQTT.Reconnect.Delay < 1 {
		errs = append(errs, "mqtt.reconnect.delay must be at least 1 second")
	}

	// Radio validation
	switch c.Radio.Driver {
	case "serial":
		if c.Radio.Serial.Port == "" {
			errs = append(errs, "radio.serial.port is required for the serial driver")
		}
	case "sim":
	default:
		errs = append(errs, fmt.Sprintf("radio.driver %q must be serial or sim", c.Radio.Driver))
	}
	if c.Radio.Channel < 0 || c.Radio.Channel > 125 {
		errs = append(errs, "radio.channel must be between 0 and 125")
	}
	if c.Radio.PayloadSize < 13 || c.Radio.PayloadSize > 32 {
		errs = append(errs, "radio.payload_size must be between 13 and 32")
	}
	if n := len(c.Radio.NodeAddresses); n < 1 || n > 5 {
		errs = append(errs, "radio.node_addresses must list 1 to 5 addresses")
	}
	for _, a := range append([]string{c.Radio.GatewayAddress}, c.Radio.NodeAddresses...) {
		if len(a) != 5 {
			errs = append(errs, fmt.Sprintf("radio address %q must be 5 bytes", a))
		}
	}

	// Database validation
	if c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}

	// InfluxDB validation
	if c.InfluxDB.Enabled && (c.InfluxDB.URL == "" || c.InfluxDB.Bucket == "") {
		errs = append(errs, "influxdb.url and influxdb.bucket are required when enabled")
	}

	// API validation
	if c.API.Enabled && (c.API.Port < 1 || c.API.Port > 65535) {
		errs = append(errs, "api.port must be between 1 and 65535")
	}

	// Automation validation
	if _, err := c.GetAutomationLocation(); err != nil {
		errs = append(errs, fmt.Sprintf("automation.timezone: %v", err))
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// GetPollInterval returns the control loop pause as a Duration.
func (c *Config) GetPollInterval() time.Duration {
	return time.Duration(c.Gateway.PollInterval) * time.Millisecond
}

// GetHealthInterval returns the health report period as a Duration.
func (c *Config) GetHealthInterval() time.Duration {
	return time.Duration(c.Gateway.HealthInterval) * time.Second
}

// GetReconnectDelay returns the fixed MQTT reconnect delay as a Duration.
func (c *Config) GetReconnectDelay() time.Duration {
	return time.Duration(c.MQTT.Reconnect.Delay) * time.Second
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

// GetAutomationLocation returns the zone rule time windows are read in.
func (c *Config) GetAutomationLocation() (*time.Location, error) {
	if c.Automation.Timezone == "" {
		return time.Local, nil
	}
	return time.LoadLocation(c.Automation.Timezone)
}
