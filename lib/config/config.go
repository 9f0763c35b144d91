// Copyright 2026 The Onionhost Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/onionhost-foundation/onionhost/lib/atomicfile"
	"github.com/onionhost-foundation/onionhost/lib/netcheck"
)

// Method selects how the hidden service reaches local content.
type Method string

const (
	// FileServing serves a local directory through the managed web server.
	FileServing Method = "file-serving"
	// ForwardedPort forwards onion traffic to a service already
	// listening on a local port, without touching the web server.
	ForwardedPort Method = "forwarded-port"
)

// DefaultListenPort is the loopback port the managed web server binds
// when the configuration does not name one.
const DefaultListenPort = 8080

// Config describes the published hidden service.
type Config struct {
	// Method is the active hosting method.
	Method Method `yaml:"method"`

	// SiteDir is the directory served when Method is file-serving.
	SiteDir string `yaml:"site_dir,omitempty"`

	// ForwardPort is the local port onion traffic is forwarded to
	// when Method is forwarded-port.
	ForwardPort int `yaml:"forward_port,omitempty"`

	// ListenPort is the loopback port the managed web server binds
	// for file-serving. Ignored for forwarded-port.
	ListenPort int `yaml:"listen_port"`

	// OnionAddress is the .onion hostname from the last successful
	// start, kept so `onionhost address` works while stopped.
	OnionAddress string `yaml:"onion_address,omitempty"`

	// Running records whether a start completed without a matching
	// stop. It is advisory; live process state always wins.
	Running bool `yaml:"running"`

	// StateDir overrides where supervisor records and the event log
	// live. Empty means alongside the config file.
	StateDir string `yaml:"state_dir,omitempty"`

	// TorrcPath overrides the platform's torrc location.
	TorrcPath string `yaml:"torrc_path,omitempty"`

	// HiddenServiceDir overrides the platform's hidden-service
	// directory.
	HiddenServiceDir string `yaml:"hidden_service_dir,omitempty"`
}

// Default returns the configuration used on first run, before any file
// exists.
func Default() *Config {
	return &Config{
		Method:     FileServing,
		ListenPort: DefaultListenPort,
	}
}

// DefaultPath returns the config file location used when neither the
// environment variable nor the flag names one.
func DefaultPath() (string, error) {
	base, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("resolving config directory: %w", err)
	}
	return filepath.Join(base, "onionhost", "config.yaml"), nil
}

// ResolvePath picks the config file path: the explicit flag value wins,
// then ONIONHOST_CONFIG, then the per-user default.
func ResolvePath(flagValue string) (string, error) {
	if flagValue != "" {
		return flagValue, nil
	}
	if env := os.Getenv("ONIONHOST_CONFIG"); env != "" {
		return env, nil
	}
	return DefaultPath()
}

// Load reads the configuration at path. A missing file is not an
// error: first run returns Default() so commands work before anything
// has been saved.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return Default(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	return cfg, nil
}

// Save writes the configuration atomically, creating parent
// directories on first save.
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}
	if err := atomicfile.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}
	return nil
}

// Validate checks the configuration is internally consistent and its
// ports are usable. It does not touch the filesystem; directory checks
// happen at start time against the live tree.
func (c *Config) Validate() error {
	switch c.Method {
	case FileServing:
		if c.SiteDir == "" {
			return fmt.Errorf("file-serving method requires site_dir")
		}
		if result := netcheck.ValidatePort(c.ListenPort); result.Verdict == netcheck.Rejected {
			return fmt.Errorf("listen_port %d: %s", c.ListenPort, result.Reason)
		}
	case ForwardedPort:
		if c.ForwardPort == 0 {
			return fmt.Errorf("forwarded-port method requires forward_port")
		}
		if result := netcheck.ValidatePort(c.ForwardPort); result.Verdict == netcheck.Rejected {
			return fmt.Errorf("forward_port %d: %s", c.ForwardPort, result.Reason)
		}
	case "":
		return fmt.Errorf("method not set; expected %q or %q", FileServing, ForwardedPort)
	default:
		return fmt.Errorf("unknown method %q; expected %q or %q", c.Method, FileServing, ForwardedPort)
	}
	return nil
}

// TargetPort returns the loopback port the hidden service points at:
// the web server's listen port for file-serving, or the forwarded
// port otherwise.
func (c *Config) TargetPort() int {
	if c.Method == ForwardedPort {
		return c.ForwardPort
	}
	if c.ListenPort == 0 {
		return DefaultListenPort
	}
	return c.ListenPort
}
