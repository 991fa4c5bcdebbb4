package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

const (
	Prefix      = "COOP"
	DefaultPort = 27015
)

type Config struct {
	Port uint16 `envconfig:"PORT" default:"27015"`

	// AcceptPollInterval bounds how long the host's accept loop blocks
	// before it looks at a pending stop request again.
	AcceptPollInterval time.Duration `envconfig:"ACCEPT_POLL_INTERVAL" default:"250ms"`
	HandshakeTimeout   time.Duration `envconfig:"HANDSHAKE_TIMEOUT" default:"3s"`
	DialTimeout        time.Duration `envconfig:"DIAL_TIMEOUT" default:"5s"`
	WriteTimeout       time.Duration `envconfig:"WRITE_TIMEOUT" default:"1s"`
	PingInterval       time.Duration `envconfig:"PING_INTERVAL" default:"1s"`
	// ShutdownGrace is how long a leaving peer waits for its Disconnect
	// packet to be flushed before the socket is closed regardless.
	ShutdownGrace time.Duration `envconfig:"SHUTDOWN_GRACE" default:"250ms"`
	// SendQueueLimit caps pending outbound packets; 0 means unbounded.
	SendQueueLimit int `envconfig:"SEND_QUEUE_LIMIT" default:"256"`

	TickRate    int    `envconfig:"TICK_RATE" default:"30"`
	MetricsAddr string `envconfig:"METRICS_ADDR"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`
}

// Default mirrors the envconfig defaults without consulting the environment.
func Default() Config {
	return Config{
		Port:               DefaultPort,
		AcceptPollInterval: 250 * time.Millisecond,
		HandshakeTimeout:   3 * time.Second,
		DialTimeout:        5 * time.Second,
		WriteTimeout:       time.Second,
		PingInterval:       time.Second,
		ShutdownGrace:      250 * time.Millisecond,
		SendQueueLimit:     256,
		TickRate:           30,
		LogLevel:           "info",
	}
}

func Load() (Config, error) {
	config := Config{}
	if err := envconfig.Process(Prefix, &config); err != nil {
		return Config{}, err
	}
	if err := config.Validate(); err != nil {
		return Config{}, err
	}
	return config, nil
}

func (c Config) Validate() error {
	switch {
	case c.AcceptPollInterval <= 0:
		return fmt.Errorf("accept poll interval must be positive (got %s)", c.AcceptPollInterval)
	case c.HandshakeTimeout <= 0:
		return fmt.Errorf("handshake timeout must be positive (got %s)", c.HandshakeTimeout)
	case c.WriteTimeout <= 0:
		return fmt.Errorf("write timeout must be positive (got %s)", c.WriteTimeout)
	case c.PingInterval < 0:
		return fmt.Errorf("ping interval must not be negative (got %s)", c.PingInterval)
	case c.SendQueueLimit < 0:
		return fmt.Errorf("send queue limit must not be negative (got %d)", c.SendQueueLimit)
	case c.TickRate <= 0:
		return fmt.Errorf("tick rate must be positive (got %d)", c.TickRate)
	}
	return nil
}

// TickInterval is the duration of one simulation frame.
func (c Config) TickInterval() time.Duration {
	return time.Second / time.Duration(c.TickRate)
}
