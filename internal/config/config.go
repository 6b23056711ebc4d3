package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete service configuration
type Config struct {
	Transport TransportConfig `yaml:"transport"`
	HTTP      HTTPConfig      `yaml:"http"`
	Sim       SimConfig       `yaml:"sim"`
	Buffers   BuffersConfig   `yaml:"buffers"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// TransportConfig selects and configures the link towards layer 2/3
type TransportConfig struct {
	Type   string       `yaml:"type"` // udp or serial
	UDP    UDPConfig    `yaml:"udp"`
	Serial SerialConfig `yaml:"serial"`
}

// UDPConfig contains the UDP link configuration
type UDPConfig struct {
	Port          int    `yaml:"port"`
	BindAddress   string `yaml:"bind_address"`
	RemoteAddress string `yaml:"remote_address"` // optional, defaults to the last sender
	BufferSize    int    `yaml:"buffer_size"`
	QueueSize     int    `yaml:"queue_size"`
}

// SerialConfig contains the serial link configuration
type SerialConfig struct {
	Device        string  `yaml:"device"`
	BaudRate      int     `yaml:"baud_rate"`
	DataBits      int     `yaml:"data_bits"`
	StopBits      string  `yaml:"stop_bits"`      // one, one_point_five, two
	Parity        string  `yaml:"parity"`         // none, odd, even, mark, space
	ReopenInitial float64 `yaml:"reopen_initial"` // seconds
	ReopenMax     float64 `yaml:"reopen_max"`     // seconds
}

// HTTPConfig contains HTTP API server configuration
type HTTPConfig struct {
	Port    int    `yaml:"port"`
	Address string `yaml:"address"`
	Enabled bool   `yaml:"enabled"`
}

// SimConfig contains the simulated layer 1 configuration
type SimConfig struct {
	FrameDuration   float64 `yaml:"frame_duration"` // milliseconds
	FBSBDelayFrames int     `yaml:"fbsb_delay_frames"`
	BSIC            int     `yaml:"bsic"`
	SignalLevel     int     `yaml:"signal_level"` // dBm reported by power scans
	PMBatchSize     int     `yaml:"pm_batch_size"`
}

// BuffersConfig sizes the message buffer pool
type BuffersConfig struct {
	PoolSize   int `yaml:"pool_size"`
	BufferSize int `yaml:"buffer_size"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level      string `yaml:"level"`
	Format     string `yaml:"format"`
	Output     string `yaml:"output"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
	Compress   bool   `yaml:"compress"`
}

// Load reads and parses the configuration file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

// Validate performs comprehensive validation of the configuration
func (c *Config) Validate() error {
	if err := c.Transport.Validate(); err != nil {
		return fmt.Errorf("transport config: %w", err)
	}

	if err := c.HTTP.Validate(); err != nil {
		return fmt.Errorf("http config: %w", err)
	}

	if err := c.Sim.Validate(); err != nil {
		return fmt.Errorf("sim config: %w", err)
	}

	if err := c.Buffers.Validate(); err != nil {
		return fmt.Errorf("buffers config: %w", err)
	}

	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging config: %w", err)
	}

	return nil
}

// Validate validates the selected transport only
func (t *TransportConfig) Validate() error {
	switch t.Type {
	case "udp":
		if err := t.UDP.Validate(); err != nil {
			return fmt.Errorf("udp: %w", err)
		}
	case "serial":
		if err := t.Serial.Validate(); err != nil {
			return fmt.Errorf("serial: %w", err)
		}
	default:
		return fmt.Errorf("type must be 'udp' or 'serial', got '%s'", t.Type)
	}
	return nil
}

// Validate validates UDP link configuration
func (u *UDPConfig) Validate() error {
	if u.Port < 1 || u.Port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535, got %d", u.Port)
	}

	if u.BindAddress == "" {
		return fmt.Errorf("bind_address cannot be empty")
	}

	if u.BufferSize < 1024 {
		return fmt.Errorf("buffer_size must be at least 1024 bytes, got %d", u.BufferSize)
	}

	if u.QueueSize < 1 {
		return fmt.Errorf("queue_size must be at least 1, got %d", u.QueueSize)
	}

	return nil
}

// Validate validates serial link configuration
func (s *SerialConfig) Validate() error {
	if s.Device == "" {
		return fmt.Errorf("device cannot be empty")
	}

	if s.BaudRate < 1 {
		return fmt.Errorf("baud_rate must be positive, got %d", s.BaudRate)
	}

	if s.DataBits < 5 || s.DataBits > 8 {
		return fmt.Errorf("data_bits must be between 5 and 8, got %d", s.DataBits)
	}

	validStopBits := map[string]bool{"": true, "one": true, "one_point_five": true, "two": true}
	if !validStopBits[s.StopBits] {
		return fmt.Errorf("stop_bits must be one of [one, one_point_five, two], got '%s'", s.StopBits)
	}

	validParity := map[string]bool{"": true, "none": true, "odd": true, "even": true, "mark": true, "space": true}
	if !validParity[s.Parity] {
		return fmt.Errorf("parity must be one of [none, odd, even, mark, space], got '%s'", s.Parity)
	}

	if s.ReopenInitial <= 0 {
		return fmt.Errorf("reopen_initial must be positive, got %f", s.ReopenInitial)
	}

	if s.ReopenMax < s.ReopenInitial {
		return fmt.Errorf("reopen_max (%f) must not be less than reopen_initial (%f)", s.ReopenMax, s.ReopenInitial)
	}

	return nil
}

// Validate validates HTTP configuration
func (h *HTTPConfig) Validate() error {
	if h.Enabled {
		if h.Port < 1 || h.Port > 65535 {
			return fmt.Errorf("http port must be between 1 and 65535, got %d", h.Port)
		}

		if h.Address == "" {
			return fmt.Errorf("http address cannot be empty when HTTP is enabled")
		}
	}

	return nil
}

// Validate validates simulated layer 1 configuration
func (s *SimConfig) Validate() error {
	if s.FrameDuration <= 0 {
		return fmt.Errorf("frame_duration must be positive, got %f", s.FrameDuration)
	}

	if s.FBSBDelayFrames < 1 {
		return fmt.Errorf("fbsb_delay_frames must be at least 1, got %d", s.FBSBDelayFrames)
	}

	if s.BSIC < 0 || s.BSIC > 63 {
		return fmt.Errorf("bsic must be between 0 and 63, got %d", s.BSIC)
	}

	if s.SignalLevel < -110 || s.SignalLevel > -47 {
		return fmt.Errorf("signal_level must be between -110 and -47 dBm, got %d", s.SignalLevel)
	}

	if s.PMBatchSize < 1 || s.PMBatchSize > 50 {
		return fmt.Errorf("pm_batch_size must be between 1 and 50, got %d", s.PMBatchSize)
	}

	return nil
}

// Validate validates message buffer configuration
func (b *BuffersConfig) Validate() error {
	if b.PoolSize < 1 {
		return fmt.Errorf("pool_size must be at least 1, got %d", b.PoolSize)
	}

	// large enough for a full PM_CONF with header and framing
	if b.BufferSize < 256 {
		return fmt.Errorf("buffer_size must be at least 256 bytes, got %d", b.BufferSize)
	}

	return nil
}

// Validate validates logging configuration
func (l *LoggingConfig) Validate() error {
	validLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLevels[l.Level] {
		return fmt.Errorf("level must be one of [debug, info, warn, error], got '%s'", l.Level)
	}

	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[l.Format] {
		return fmt.Errorf("format must be 'json' or 'text', got '%s'", l.Format)
	}

	if l.MaxSizeMB < 0 || l.MaxBackups < 0 || l.MaxAgeDays < 0 {
		return fmt.Errorf("log rotation limits cannot be negative")
	}

	return nil
}

// IsFile reports whether logs go to a file rather than stdout or stderr
func (l *LoggingConfig) IsFile() bool {
	return l.Output != "" && l.Output != "stdout" && l.Output != "stderr"
}

// GetFrameDuration returns the TDMA frame period as a time.Duration
func (s *SimConfig) GetFrameDuration() time.Duration {
	return time.Duration(s.FrameDuration * float64(time.Millisecond))
}

// GetReopenInitial returns the first serial reopen delay as a time.Duration
func (s *SerialConfig) GetReopenInitial() time.Duration {
	return time.Duration(s.ReopenInitial * float64(time.Second))
}

// GetReopenMax returns the longest serial reopen delay as a time.Duration
func (s *SerialConfig) GetReopenMax() time.Duration {
	return time.Duration(s.ReopenMax * float64(time.Second))
}
