package lib

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/TheSmallBoat/xwire/transport"
	"gopkg.in/yaml.v3"
)

const (
	DefaultHandshakeTimeout = 10 * time.Second
	DefaultReadBufferSize   = 16 * 1024
	DefaultWriteBufferSize  = 16 * 1024
	DefaultWriteQueueSize   = 256
	DefaultEventBufferSize  = 1024
	DefaultDialAttempts     = 1
)

// Config carries the tunables of a connection. The zero value is usable;
// unset fields take the Default* values.
type Config struct {
	// Display is the display name to connect to; $DISPLAY when empty.
	// Only used by Connect.
	Display string `yaml:"display"`

	// AuthorityFile overrides $XAUTHORITY / ~/.Xauthority.
	AuthorityFile string `yaml:"authority_file"`

	// AuthName and AuthData are sent in the setup request. When AuthName is
	// empty Connect looks the cookie up in the authority file.
	AuthName string `yaml:"-"`
	AuthData []byte `yaml:"-"`

	HandshakeTimeout time.Duration `yaml:"handshake_timeout"`

	// ReplyTimeout bounds every ReceiveResponse call; zero waits until the
	// context is done.
	ReplyTimeout time.Duration `yaml:"reply_timeout"`

	ReadBufferSize  int `yaml:"read_buffer_size"`
	WriteBufferSize int `yaml:"write_buffer_size"`

	// WriteQueueSize is the number of encoded requests that may wait for the
	// writer before SendRequest blocks.
	WriteQueueSize int `yaml:"write_queue_size"`

	// EventBufferSize is how many events the broadcast ring retains for
	// slow subscribers.
	EventBufferSize int `yaml:"event_buffer_size"`

	// Extensions lists the extensions to enable at connect time. Nil
	// enables every extension this package knows; an empty list none.
	Extensions []string `yaml:"extensions"`

	DialAttempts int `yaml:"dial_attempts"`

	Logger    *slog.Logger       `yaml:"-"`
	ConnState ConnStateHandler   `yaml:"-"`
	Dial      transport.DialFunc `yaml:"-"`
}

// LoadConfig reads a YAML config file.
func LoadConfig(path string) (Config, error) {
	var cfg Config

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

func (c Config) withDefaults() Config {
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = DefaultHandshakeTimeout
	}
	if c.ReadBufferSize <= 0 {
		c.ReadBufferSize = DefaultReadBufferSize
	}
	if c.WriteBufferSize <= 0 {
		c.WriteBufferSize = DefaultWriteBufferSize
	}
	if c.WriteQueueSize <= 0 {
		c.WriteQueueSize = DefaultWriteQueueSize
	}
	if c.EventBufferSize <= 0 {
		c.EventBufferSize = DefaultEventBufferSize
	}
	if c.DialAttempts <= 0 {
		c.DialAttempts = DefaultDialAttempts
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.ConnState == nil {
		c.ConnState = DefaultConnStateHandler
	}
	return c
}

func (c Config) wantsExtension(name string) bool {
	if c.Extensions == nil {
		return true
	}
	for _, n := range c.Extensions {
		if n == name {
			return true
		}
	}
	return false
}
