// Package config handles sandtable configuration loading and management.
package config

import (
	"time"

	"github.com/Faultbox/sandtable/internal/wire"
)

// Config holds all sandtable settings.
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Client  ClientConfig  `yaml:"client"`
	Logging LoggingConfig `yaml:"logging"`
}

// ServerConfig holds the sandbox host's streaming settings.
type ServerConfig struct {
	Port int `yaml:"port"`

	// Water table grid the host produces.
	GridWidth  uint32  `yaml:"grid_width"`
	GridHeight uint32  `yaml:"grid_height"`
	CellWidth  float32 `yaml:"cell_width"`
	CellHeight float32 `yaml:"cell_height"`

	// True elevation range of the source; the server adds quantization
	// headroom before advertising it.
	MinElevation float32 `yaml:"min_elevation"`
	MaxElevation float32 `yaml:"max_elevation"`

	// Time between grid refresh requests.
	RequestInterval time.Duration `yaml:"request_interval"`
}

// Geometry returns the grid geometry the server config describes.
func (c ServerConfig) Geometry() wire.Geometry {
	return wire.Geometry{
		Width:        c.GridWidth,
		Height:       c.GridHeight,
		CellWidth:    c.CellWidth,
		CellHeight:   c.CellHeight,
		MinElevation: c.MinElevation,
		MaxElevation: c.MaxElevation,
	}
}

// ClientConfig holds the remote viewer's connection settings.
type ClientConfig struct {
	Server   string        `yaml:"server"`
	TickRate time.Duration `yaml:"tick_rate"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level   string `yaml:"level"`
	LogFile string `yaml:"log_file"`
}

// Default returns a Config with sensible default values.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            26000,
			GridWidth:       640,
			GridHeight:      480,
			CellWidth:       1.0,
			CellHeight:      1.0,
			MinElevation:    -10.0,
			MaxElevation:    40.0,
			RequestInterval: 100 * time.Millisecond,
		},
		Client: ClientConfig{
			Server:   "127.0.0.1:26000",
			TickRate: 50 * time.Millisecond,
		},
		Logging: LoggingConfig{
			Level:   "info",
			LogFile: "",
		},
	}
}
