package chat

import (
	"fmt"
	"log/slog"
	"strings"
)

// Config configures a Chat.
type Config struct {
	// UserData is passed to every match and script callback.
	UserData any
	// ReceiveBufSize bounds the length of a received line, delimiter
	// included. Longer lines are dropped.
	ReceiveBufSize int
	// Delimiter ends every received line and is appended to every request.
	Delimiter string
	// Filter lists bytes dropped from the received stream before framing,
	// typically "\n" when Delimiter is "\r".
	Filter string
	// Prompts are received as lines of their own although the modem sends
	// no delimiter after them, like the SMS input prompt "> ".
	Prompts []string
	// ArgvSize bounds the number of arguments a line is split into.
	ArgvSize int
	// UnsolMatches is the unsolicited match table.
	UnsolMatches []Match
	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

func (c *Config) validate() error {
	if c.ReceiveBufSize <= 0 {
		return fmt.Errorf("receive buffer size %d: %w", c.ReceiveBufSize, ErrInvalidConfig)
	}
	if c.Delimiter == "" {
		return fmt.Errorf("empty delimiter: %w", ErrInvalidConfig)
	}
	if c.ReceiveBufSize <= len(c.Delimiter) {
		return fmt.Errorf("receive buffer size %d does not fit a line: %w", c.ReceiveBufSize, ErrInvalidConfig)
	}
	if c.ArgvSize <= 0 {
		return fmt.Errorf("argv size %d: %w", c.ArgvSize, ErrInvalidConfig)
	}
	if strings.ContainsAny(c.Delimiter, c.Filter) {
		return fmt.Errorf("filter %q overlaps delimiter %q: %w", c.Filter, c.Delimiter, ErrInvalidConfig)
	}
	for _, prompt := range c.Prompts {
		if prompt == "" || len(prompt) >= c.ReceiveBufSize {
			return fmt.Errorf("prompt %q: %w", prompt, ErrInvalidConfig)
		}
	}
	for i := range c.UnsolMatches {
		if err := c.UnsolMatches[i].validate(); err != nil {
			return fmt.Errorf("unsolicited match %d: %w: %w", i, ErrInvalidConfig, err)
		}
	}
	return nil
}

// ConfigBuilder builds a Config, starting from defaults suited to AT
// modems: a 256 byte receive buffer, "\r" delimiter, "\n" filter and 32
// arguments.
type ConfigBuilder struct {
	config Config
}

// NewConfigBuilder returns a builder holding the defaults.
func NewConfigBuilder() *ConfigBuilder {
	return &ConfigBuilder{
		config: Config{
			ReceiveBufSize: 256,
			Delimiter:      "\r",
			Filter:         "\n",
			ArgvSize:       32,
		},
	}
}

func (b *ConfigBuilder) WithUserData(userData any) *ConfigBuilder {
	b.config.UserData = userData
	return b
}

func (b *ConfigBuilder) WithReceiveBufSize(size int) *ConfigBuilder {
	b.config.ReceiveBufSize = size
	return b
}

func (b *ConfigBuilder) WithDelimiter(delimiter string) *ConfigBuilder {
	b.config.Delimiter = delimiter
	return b
}

func (b *ConfigBuilder) WithFilter(filter string) *ConfigBuilder {
	b.config.Filter = filter
	return b
}

func (b *ConfigBuilder) WithPrompts(prompts ...string) *ConfigBuilder {
	b.config.Prompts = prompts
	return b
}

func (b *ConfigBuilder) WithArgvSize(size int) *ConfigBuilder {
	b.config.ArgvSize = size
	return b
}

func (b *ConfigBuilder) WithUnsolMatches(matches ...Match) *ConfigBuilder {
	b.config.UnsolMatches = matches
	return b
}

func (b *ConfigBuilder) WithLogger(logger *slog.Logger) *ConfigBuilder {
	b.config.Logger = logger
	return b
}

// Build validates and returns the Config.
func (b *ConfigBuilder) Build() (Config, error) {
	if err := b.config.validate(); err != nil {
		return Config{}, err
	}
	return b.config, nil
}
