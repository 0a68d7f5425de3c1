package app

import (
	"errors"
	"fmt"
)

// ModeClient and ModeServer select which side of the protocol to run.
const (
	ModeClient = "client"
	ModeServer = "server"
)

// Config holds everything an App instance needs to run.
type Config struct {
	ConfigPath string
	Mode       string

	LogFormat string
	LogLevel  string
}

// NewConfig validates and returns a Config.
func NewConfig(cfg Config) (*Config, error) {
	if cfg.ConfigPath == "" {
		return nil, errors.New("ConfigPath is a required configuration field and cannot be empty")
	}
	switch cfg.Mode {
	case ModeClient, ModeServer:
	default:
		return nil, fmt.Errorf("invalid mode %q: must be %q or %q", cfg.Mode, ModeClient, ModeServer)
	}
	return &cfg, nil
}
