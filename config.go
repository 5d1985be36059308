package main

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	gotoml "github.com/pelletier/go-toml/v2"
	"github.com/urfave/cli/v3"
)

// Duration is a time.Duration read from TOML strings such as "5s".
type Duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// Config holds the application configuration
type Config struct {
	// BindAddress is the address the HTTP server listens on (e.g. "0.0.0.0:8080")
	BindAddress string `toml:"bind_address"`
	// SerialPort is the path to the modem's serial port (e.g. "/dev/ttyUSB0")
	SerialPort string `toml:"serial_port"`
	// BaudRate is the baud rate for serial communication with the modem (e.g. 115200)
	BaudRate int `toml:"baud_rate"`
	// LogLevel sets the logging level (e.g. "trace", "debug", "info", "warn", "error")
	LogLevel string `toml:"log_level"`
	// LogFormat is either "text" or "json"
	LogFormat string `toml:"log_format"`
	// SimPIN is the SIM card PIN code
	SimPIN string `toml:"sim_pin"`

	// ATTimeout bounds a single AT command
	ATTimeout Duration `toml:"at_timeout"`
	// SMSTimeout bounds one SMS submission
	SMSTimeout Duration `toml:"sms_timeout"`

	// HTTPToken enables bearer token authentication on the HTTP API when set
	HTTPToken string `toml:"http_token"`

	// MQTTBroker enables the MQTT ingress when set (e.g. "tcp://localhost:1883")
	MQTTBroker   string `toml:"mqtt_broker"`
	MQTTClientID string `toml:"mqtt_client_id"`
	// MQTTTopic receives JSON send requests
	MQTTTopic string `toml:"mqtt_topic"`
	// MQTTURCTopic receives every unsolicited result code reported by the modem
	MQTTURCTopic string `toml:"mqtt_urc_topic"`
	MQTTUsername string `toml:"mqtt_username"`
	MQTTPassword string `toml:"mqtt_password"`

	// RatePerMinute caps the messages sent in any one minute window
	RatePerMinute int `toml:"rate_per_minute"`
	// MinSendInterval is the minimum gap between two submissions
	MinSendInterval Duration `toml:"min_send_interval"`
	// MaxRetries is the number of retries after a failed submission
	MaxRetries int `toml:"max_retries"`
	// QueueSize is the capacity of the send queue
	QueueSize int `toml:"queue_size"`
}

// ConfigOption is a function that modifies a Config
type ConfigOption func(*Config) error

// LoadConfig creates a new config by applying the given options in order
// and validates the result
func LoadConfig(opts ...ConfigOption) (*Config, error) {
	config := &Config{}

	for _, opt := range opts {
		if err := opt(config); err != nil {
			return nil, err
		}
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// Validate reports every invalid setting
func (c *Config) Validate() error {
	var errs []error
	if c.SerialPort == "" {
		errs = append(errs, errors.New("serial port is required"))
	}
	if c.BaudRate <= 0 {
		errs = append(errs, fmt.Errorf("invalid baud rate %d", c.BaudRate))
	}
	switch strings.ToLower(c.LogFormat) {
	case "", logFormatText, logFormatJSON:
	default:
		errs = append(errs, fmt.Errorf("unknown log format %q", c.LogFormat))
	}
	if c.RatePerMinute <= 0 {
		errs = append(errs, fmt.Errorf("invalid rate per minute %d", c.RatePerMinute))
	}
	if c.MaxRetries < 0 {
		errs = append(errs, fmt.Errorf("invalid max retries %d", c.MaxRetries))
	}
	if c.QueueSize <= 0 {
		errs = append(errs, fmt.Errorf("invalid queue size %d", c.QueueSize))
	}
	if c.MQTTBroker != "" && c.MQTTTopic == "" {
		errs = append(errs, errors.New("mqtt topic is required with a broker"))
	}
	return errors.Join(errs...)
}

// WithDefaults applies default configuration values
func WithDefaults() ConfigOption {
	return func(c *Config) error {
		c.BindAddress = "0.0.0.0:8080"
		c.SerialPort = "/dev/ttyUSB0"
		c.BaudRate = 115200
		c.LogLevel = "info"
		c.LogFormat = logFormatText
		c.ATTimeout = Duration{5 * time.Second}
		c.SMSTimeout = Duration{time.Minute}
		c.MQTTTopic = "sms/send"
		c.MQTTURCTopic = "sms/urc"
		c.RatePerMinute = 30
		c.MinSendInterval = Duration{2 * time.Second}
		c.MaxRetries = 3
		c.QueueSize = 1024
		return nil
	}
}

// WithFile overlays the keys present in a TOML file. An empty path is a
// no-op.
func WithFile(path string) ConfigOption {
	return func(c *Config) error {
		if path == "" {
			return nil
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("reading config file: %w", err)
		}

		dec := gotoml.NewDecoder(bytes.NewReader(data)).DisallowUnknownFields()
		if err := dec.Decode(c); err != nil {
			var strict *gotoml.StrictMissingError
			if errors.As(err, &strict) {
				return fmt.Errorf("config file %s: %s", path, strict.String())
			}
			return fmt.Errorf("config file %s: %w", path, err)
		}
		return nil
	}
}

// WithEnv loads configuration from environment variables
func WithEnv() ConfigOption {
	return func(c *Config) error {
		strs := map[string]*string{
			"BIND_ADDRESS":   &c.BindAddress,
			"SERIAL_PORT":    &c.SerialPort,
			"LOG_LEVEL":      &c.LogLevel,
			"LOG_FORMAT":     &c.LogFormat,
			"SIM_PIN":        &c.SimPIN,
			"HTTP_TOKEN":     &c.HTTPToken,
			"MQTT_BROKER":    &c.MQTTBroker,
			"MQTT_CLIENT_ID": &c.MQTTClientID,
			"MQTT_TOPIC":     &c.MQTTTopic,
			"MQTT_URC_TOPIC": &c.MQTTURCTopic,
			"MQTT_USERNAME":  &c.MQTTUsername,
			"MQTT_PASSWORD":  &c.MQTTPassword,
		}
		for key, field := range strs {
			if v := os.Getenv(key); v != "" {
				*field = v
			}
		}

		ints := map[string]*int{
			"BAUD_RATE":    &c.BaudRate,
			"RATE_PER_MIN": &c.RatePerMinute,
			"MAX_RETRIES":  &c.MaxRetries,
			"QUEUE_SIZE":   &c.QueueSize,
		}
		for key, field := range ints {
			v := os.Getenv(key)
			if v == "" {
				continue
			}
			n, err := strconv.Atoi(v)
			if err != nil {
				return fmt.Errorf("%s: %w", key, err)
			}
			*field = n
		}

		durations := map[string]*Duration{
			"AT_TIMEOUT":        &c.ATTimeout,
			"SMS_TIMEOUT":       &c.SMSTimeout,
			"MIN_SEND_INTERVAL": &c.MinSendInterval,
		}
		for key, field := range durations {
			v := os.Getenv(key)
			if v == "" {
				continue
			}
			if err := field.UnmarshalText([]byte(v)); err != nil {
				return fmt.Errorf("%s: %w", key, err)
			}
		}

		return nil
	}
}

// WithCommand loads the flags that were explicitly set on the command line
func WithCommand(cmd *cli.Command) ConfigOption {
	return func(c *Config) error {
		strs := map[string]*string{
			"bind-address":   &c.BindAddress,
			"serial-port":    &c.SerialPort,
			"log-level":      &c.LogLevel,
			"log-format":     &c.LogFormat,
			"sim-pin":        &c.SimPIN,
			"http-token":     &c.HTTPToken,
			"mqtt-broker":    &c.MQTTBroker,
			"mqtt-client-id": &c.MQTTClientID,
			"mqtt-topic":     &c.MQTTTopic,
			"mqtt-urc-topic": &c.MQTTURCTopic,
		}
		for name, field := range strs {
			if cmd.IsSet(name) {
				*field = cmd.String(name)
			}
		}

		ints := map[string]*int{
			"baud-rate":    &c.BaudRate,
			"rate-per-min": &c.RatePerMinute,
			"max-retries":  &c.MaxRetries,
		}
		for name, field := range ints {
			if cmd.IsSet(name) {
				*field = int(cmd.Int(name))
			}
		}

		return nil
	}
}
