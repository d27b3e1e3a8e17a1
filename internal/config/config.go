// Package config provides the build-time configuration of the tcp-print2file
// daemon.
//
// The configuration is a TOML document embedded into the binary when it is
// built (see the root package). It is never read from disk at runtime: the
// listen endpoint and output directory of a given binary are fixed. This
// package decodes that document over [DefaultConfig] and validates it.
package config

//go:generate go run ../../cmd/genconfig

import (
	"bytes"
	"fmt"
	"net/netip"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
)

// CurrentVersion is the configuration schema version this build understands.
const CurrentVersion = 1

// ///////////////////////////////////////////////
// Configuration Types
// ///////////////////////////////////////////////

// Config represents the top-level build-time configuration.
type Config struct {
	// Version is the config schema version.
	Version int `toml:"version"`
	// Listen holds the TCP endpoint settings.
	Listen ListenConfig `toml:"listen"`
	// Output holds capture file settings.
	Output OutputConfig `toml:"output"`
	// Daemon holds process lifecycle settings.
	Daemon DaemonConfig `toml:"daemon"`
	// Log holds logging settings.
	Log LogConfig `toml:"log"`
}

// ListenConfig holds the TCP endpoint settings.
type ListenConfig struct {
	// Address is a literal IPv4 or IPv6 address. Host names are rejected.
	Address string `toml:"address"`
	// Port is the numeric TCP port.
	Port int `toml:"port"`
	// Backlog bounds the queue of not yet accepted connections.
	Backlog int `toml:"backlog"`
}

// OutputConfig holds capture file settings.
type OutputConfig struct {
	// Dir is the prefix every capture path starts with. With a trailing
	// slash it names a directory, which must already exist.
	Dir string `toml:"dir"`
	// ChunkSize is the size of the copy buffer in bytes.
	ChunkSize int `toml:"chunk_size"`
	// FileMode is the octal permission of created capture files.
	FileMode string `toml:"file_mode"`
}

// DaemonConfig holds process lifecycle settings.
type DaemonConfig struct {
	// WorkDir is the working directory of the detached daemon.
	WorkDir string `toml:"work_dir"`
	// PIDFile enables a locked PID file at this path when set.
	PIDFile string `toml:"pid_file,omitempty"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	// Level is the minimum log level (trace, debug, info, notice, warn, error).
	Level string `toml:"level"`
	// Syslog sends records to the system log under the daemon facility.
	Syslog bool `toml:"syslog"`
	// Tag overrides the syslog identity; the program name is used when empty.
	Tag string `toml:"tag,omitempty"`
	// File mirrors records to a rotating log file when set.
	File string `toml:"file,omitempty"`
	// MaxSizeMB is the log file size in megabytes before rotation.
	MaxSizeMB int `toml:"max_size_mb"`
}

// ///////////////////////////////////////////////
// Default Configuration
// ///////////////////////////////////////////////

// DefaultConfig returns a Config populated with the stock build settings.
func DefaultConfig() *Config {
	return &Config{
		Version: CurrentVersion,
		Listen: ListenConfig{
			Address: "127.0.0.1",
			Port:    12345,
			Backlog: 4,
		},
		Output: OutputConfig{
			Dir:       "/usb/tcp_fileprinter/",
			ChunkSize: 512,
			FileMode:  "0600",
		},
		Daemon: DaemonConfig{
			WorkDir: "/",
		},
		Log: LogConfig{
			Level:     "info",
			Syslog:    true,
			MaxSizeMB: 10,
		},
	}
}

// ///////////////////////////////////////////////
// Decoding and Encoding
// ///////////////////////////////////////////////

// Parse decodes a TOML document over [DefaultConfig] and validates the
// result. Unknown keys are rejected so that a typo in the build
// configuration fails the first start instead of being silently ignored.
func Parse(data []byte) (*Config, error) {
	cfg := DefaultConfig()
	md, err := toml.Decode(string(data), cfg)
	if err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return nil, fmt.Errorf("parse config: unknown keys: %s", strings.Join(keys, ", "))
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

// Encode renders the config as TOML.
func (c *Config) Encode() ([]byte, error) {
	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(c); err != nil {
		return nil, fmt.Errorf("encoding config: %w", err)
	}
	return buf.Bytes(), nil
}

// ///////////////////////////////////////////////
// Validation
// ///////////////////////////////////////////////

// validLogLevels is the set of accepted log level strings.
var validLogLevels = map[string]bool{
	"trace": true, "debug": true, "info": true, "notice": true, "warn": true, "error": true,
}

// Validate checks that all configuration values are within acceptable ranges.
func (c *Config) Validate() error {
	if c.Version != CurrentVersion {
		return fmt.Errorf("unsupported config version %d: this build understands %d", c.Version, CurrentVersion)
	}

	if _, err := netip.ParseAddr(c.Listen.Address); err != nil {
		return fmt.Errorf("invalid listen.address %q: must be a literal IP address", c.Listen.Address)
	}
	if c.Listen.Port < 1 || c.Listen.Port > 65535 {
		return fmt.Errorf("listen.port must be in 1..65535, got %d", c.Listen.Port)
	}
	if c.Listen.Backlog <= 0 {
		return fmt.Errorf("listen.backlog must be > 0, got %d", c.Listen.Backlog)
	}

	if c.Output.Dir == "" || !filepath.IsAbs(c.Output.Dir) {
		return fmt.Errorf("invalid output.dir %q: must be an absolute path", c.Output.Dir)
	}
	if c.Output.ChunkSize <= 0 || c.Output.ChunkSize > 1<<20 {
		return fmt.Errorf("output.chunk_size must be in 1..%d, got %d", 1<<20, c.Output.ChunkSize)
	}
	mode, err := parseMode(c.Output.FileMode)
	if err != nil {
		return fmt.Errorf("invalid output.file_mode %q: %w", c.Output.FileMode, err)
	}
	if mode&0o200 == 0 {
		return fmt.Errorf("invalid output.file_mode %q: owner must be able to write", c.Output.FileMode)
	}

	if !filepath.IsAbs(c.Daemon.WorkDir) {
		return fmt.Errorf("invalid daemon.work_dir %q: must be an absolute path", c.Daemon.WorkDir)
	}
	if c.Daemon.PIDFile != "" && !filepath.IsAbs(c.Daemon.PIDFile) {
		return fmt.Errorf("invalid daemon.pid_file %q: must be an absolute path", c.Daemon.PIDFile)
	}

	if !validLogLevels[strings.ToLower(c.Log.Level)] {
		return fmt.Errorf("invalid log.level %q: must be trace, debug, info, notice, warn, or error", c.Log.Level)
	}
	if c.Log.File != "" && !filepath.IsAbs(c.Log.File) {
		return fmt.Errorf("invalid log.file %q: must be an absolute path", c.Log.File)
	}
	if c.Log.MaxSizeMB <= 0 {
		return fmt.Errorf("log.max_size_mb must be > 0, got %d", c.Log.MaxSizeMB)
	}
	return nil
}

// parseMode parses an octal permission string such as "0600".
func parseMode(s string) (os.FileMode, error) {
	v, err := strconv.ParseUint(s, 8, 32)
	if err != nil {
		return 0, fmt.Errorf("not an octal number")
	}
	if v&^0o777 != 0 {
		return 0, fmt.Errorf("only permission bits are allowed")
	}
	return os.FileMode(v), nil
}

// ///////////////////////////////////////////////
// Accessors
// ///////////////////////////////////////////////

// FileMode returns the validated capture file permission.
func (c *Config) FileMode() os.FileMode {
	mode, err := parseMode(c.Output.FileMode)
	if err != nil {
		return 0o600
	}
	return mode
}

// ListenAddr returns the literal host:port of the listener.
func (c *Config) ListenAddr() string {
	return netip.AddrPortFrom(netip.MustParseAddr(c.Listen.Address), uint16(c.Listen.Port)).String()
}

// SyslogTag returns the configured syslog identity, or fallback when unset.
func (c *Config) SyslogTag(fallback string) string {
	if c.Log.Tag != "" {
		return c.Log.Tag
	}
	return fallback
}
