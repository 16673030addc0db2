// Package config loads CLI defaults for connecting to a backend: host,
// port, buffer sizes, and a protocol version override. myth/* never reads
// it and always takes these values as explicit Options fields; the cmd/*
// utilities do not load it either and take their settings from their own
// command-line flags. Grounded on the YAML-plus-defaults loader shape
// of internal/config in nishisan-dev-n-backup and snapetech-plexTuner.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/gomyth/cmyth/myth/conn"
)

// Config is the on-disk YAML shape of a client configuration file.
type Config struct {
	Host              string `yaml:"host"`
	Port              int    `yaml:"port"`
	ControlBufferSize int    `yaml:"control_buffer_size"`
	DataBufferSize    int    `yaml:"data_buffer_size"`
	ProtocolVersion   int    `yaml:"protocol_version"`
	LogLevel          string `yaml:"log_level"`
}

// DefaultPort is the backend's default Playback-connection port.
const DefaultPort = 6543

// Default returns the zero-config fallback: localhost, the standard
// backend port, and the library's own buffer defaults.
func Default() Config {
	return Config{
		Host:              "localhost",
		Port:              DefaultPort,
		ControlBufferSize: conn.DefaultControlBuffer,
		DataBufferSize:    conn.DefaultDataBuffer,
	}
}

// Load reads and parses a YAML config file, filling any field the file
// leaves zero with Default()'s value.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("reading config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parsing config %s: %w", path, err)
	}
	if cfg.Host == "" {
		cfg.Host = "localhost"
	}
	if cfg.Port == 0 {
		cfg.Port = DefaultPort
	}
	if cfg.ControlBufferSize == 0 {
		cfg.ControlBufferSize = conn.DefaultControlBuffer
	}
	if cfg.DataBufferSize == 0 {
		cfg.DataBufferSize = conn.DefaultDataBuffer
	}
	return cfg, nil
}

// LoadOrDefault loads path if non-empty and present, falling back to
// Default() otherwise, so an empty path or a missing file is not an error.
func LoadOrDefault(path string) (Config, error) {
	if path == "" {
		return Default(), nil
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return Default(), nil
	}
	return Load(path)
}
