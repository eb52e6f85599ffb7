// Package config provides runtime configuration loaded from environment variables.
package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

const logPrefix = "config:Load"

// Config holds meshrt runtime configuration.
type Config struct {
	// Identity
	ServiceName string `envconfig:"SERVICE_NAME" default:"meshrt"`

	// Listening endpoints, comma-separated, tcp:// or tcps:// only (e.g. "tcp://0.0.0.0:9559,tcps://0.0.0.0:9560").
	ListenEndpoints []string `envconfig:"MESH_LISTEN_ENDPOINTS" default:"tcp://0.0.0.0:9559"`

	// ServiceDirectory endpoint of another process. Loaded but not used by
	// meshd: a session always serves its own local directory.
	DirectoryEndpoint string `envconfig:"MESH_DIRECTORY_ENDPOINT"`

	// Executor sizes
	ExecutorWorkers int `envconfig:"MESH_EXECUTOR_WORKERS" default:"8"`

	// Transport
	ConnectTimeout   time.Duration `envconfig:"MESH_CONNECT_TIMEOUT" default:"10s"`
	ReconnectWait    time.Duration `envconfig:"MESH_RECONNECT_WAIT" default:"2s"`
	MaxReconnectRate float64       `envconfig:"MESH_MAX_RECONNECT_RATE" default:"5"`

	// Wire
	CompressThresholdBytes int    `envconfig:"MESH_COMPRESS_THRESHOLD_BYTES" default:"1024"`
	ProtocolVersion        string `envconfig:"MESH_PROTOCOL_VERSION" default:"1.0.0"`

	// Logging
	LogLevel string `envconfig:"LOG_LEVEL" default:"info"`
}

// Load loads configuration from environment variables.
func Load() (*Config, error) {
	var c Config
	if err := envconfig.Process("", &c); err != nil {
		return nil, fmt.Errorf("%s - %w", logPrefix, err)
	}
	return &c, nil
}

// Validate checks required config for running a session.
func (c *Config) Validate() error {
	if len(c.ListenEndpoints) == 0 {
		return fmt.Errorf("%s - at least one listen endpoint is required", logPrefix)
	}
	if c.ExecutorWorkers <= 0 {
		return fmt.Errorf("%s - MESH_EXECUTOR_WORKERS must be positive", logPrefix)
	}
	if c.ConnectTimeout <= 0 {
		return fmt.Errorf("%s - MESH_CONNECT_TIMEOUT must be positive", logPrefix)
	}
	return nil
}
