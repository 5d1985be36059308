package modem

import (
	"log/slog"
	"time"
)

// Config holds the settings of a Modem. Use NewConfigBuilder to get one
// with defaults applied.
type Config struct {
	Dialer Dialer
	// SimPIN is entered when the SIM reports SIM PIN.
	SimPIN string
	// MinSendInterval is the minimum time between two outgoing messages.
	// It is enforced by the SMS gateway, not by the Modem.
	MinSendInterval time.Duration
	// ATTimeout bounds a single AT command.
	ATTimeout time.Duration
	// InitTimeout bounds the whole initialization in New.
	InitTimeout time.Duration
	// SMSTimeout bounds SendSMS, which waits for the network.
	SMSTimeout time.Duration
	// SimPoll controls polling for the SIM after the PIN was entered.
	SimPoll PollConfig
	// URCBufferSize is the capacity of the URC channel.
	URCBufferSize int
	Logger        *slog.Logger
}

func (c *Config) validate() error {
	if c.Dialer == nil {
		return ErrNoDialer
	}
	return nil
}

func (c *Config) setDefaults() {
	if c.MinSendInterval == 0 {
		c.MinSendInterval = time.Minute / 30
	}
	if c.ATTimeout == 0 {
		c.ATTimeout = 5 * time.Second
	}
	if c.InitTimeout == 0 {
		c.InitTimeout = 30 * time.Second
	}
	if c.SMSTimeout == 0 {
		c.SMSTimeout = time.Minute
	}
	if c.URCBufferSize == 0 {
		c.URCBufferSize = 100
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// ConfigBuilder builds a validated Config.
type ConfigBuilder struct {
	config Config
}

func NewConfigBuilder() *ConfigBuilder {
	return &ConfigBuilder{}
}

func (b *ConfigBuilder) WithDialer(dialer Dialer) *ConfigBuilder {
	b.config.Dialer = dialer
	return b
}

func (b *ConfigBuilder) WithSimPIN(pin string) *ConfigBuilder {
	b.config.SimPIN = pin
	return b
}

func (b *ConfigBuilder) WithMinSendInterval(d time.Duration) *ConfigBuilder {
	b.config.MinSendInterval = d
	return b
}

func (b *ConfigBuilder) WithATTimeout(d time.Duration) *ConfigBuilder {
	b.config.ATTimeout = d
	return b
}

func (b *ConfigBuilder) WithInitTimeout(d time.Duration) *ConfigBuilder {
	b.config.InitTimeout = d
	return b
}

func (b *ConfigBuilder) WithSMSTimeout(d time.Duration) *ConfigBuilder {
	b.config.SMSTimeout = d
	return b
}

func (b *ConfigBuilder) WithSimPoll(poll PollConfig) *ConfigBuilder {
	b.config.SimPoll = poll
	return b
}

func (b *ConfigBuilder) WithURCBufferSize(n int) *ConfigBuilder {
	b.config.URCBufferSize = n
	return b
}

func (b *ConfigBuilder) WithLogger(logger *slog.Logger) *ConfigBuilder {
	b.config.Logger = logger
	return b
}

// Build applies defaults to unset fields and validates the result.
func (b *ConfigBuilder) Build() (Config, error) {
	config := b.config
	config.setDefaults()
	if err := config.validate(); err != nil {
		return Config{}, err
	}
	return config, nil
}
