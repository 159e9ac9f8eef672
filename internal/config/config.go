// config.go - Relay configuration and validation.
// Copyright (C) 2026  The Onion Relay Authors.
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as
// published by the Free Software Foundation, either version 3 of the
// License, or (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <http://www.gnu.org/licenses/>.

// Package config parses and validates the relay's configuration: a CLI
// flag surface with an optional TOML file providing defaults that flags
// override.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"
)

const (
	// DefaultMinimumHops is the minimum number of intermediate hops an
	// initiator builds before binding the destination.
	DefaultMinimumHops = 2
	// DefaultTCPTimeoutMS is the default read/write/dial timeout, in
	// milliseconds, applied to every socket operation.
	DefaultTCPTimeoutMS = 10000
	// DefaultRPSAddress is the loopback peer source used in
	// development when none is configured out of band.
	DefaultRPSAddress = "127.0.0.1:7401"
	// DefaultLogLevel is the log level used when none is configured.
	DefaultLogLevel = "NOTICE"
)

// Config holds every value the relay needs to start. Flags populate it
// directly; an optional --config file supplies defaults that flags
// override.
type Config struct {
	// Hostname is the interface the two listeners bind to.
	Hostname string

	// Port is the control listener's TCP port.
	Port uint16

	// APIPort is the peer listener's TCP port. Must differ from Port.
	APIPort uint16

	// HostkeyPath is a local file holding this relay's keypair. The
	// file must already exist; it is not generated on first use.
	HostkeyPath string

	// MinimumHops is the number of intermediate hops an initiator
	// extends a tunnel through before binding the destination.
	MinimumHops int

	// RPSAddress is the random-peer-sampling service's TCP endpoint.
	RPSAddress string

	// TCPTimeoutMS is the timeout, in milliseconds, applied to every
	// socket read, write, and dial.
	TCPTimeoutMS int

	// LogFile is the path log output is appended to; empty means
	// stdout.
	LogFile string

	// LogLevel is one of ERROR, WARNING, NOTICE, INFO, DEBUG.
	LogLevel string

	// Verbose forces LogLevel to DEBUG, matching the --verbose flag.
	Verbose bool
}

// Default returns a Config populated with the documented defaults.
// Hostname, Port, APIPort, and HostkeyPath have no sane default and are
// left zero-valued; callers must supply them via flags or a file.
func Default() *Config {
	return &Config{
		MinimumHops:  DefaultMinimumHops,
		RPSAddress:   DefaultRPSAddress,
		TCPTimeoutMS: DefaultTCPTimeoutMS,
		LogLevel:     DefaultLogLevel,
	}
}

// TCPTimeout returns TCPTimeoutMS as a time.Duration.
func (c *Config) TCPTimeout() time.Duration {
	return time.Duration(c.TCPTimeoutMS) * time.Millisecond
}

// Validate checks the configuration errors the command-line surface
// must catch before either listener binds. Validate only checks that a
// hostkey path is set; a missing or unreadable hostkey file is caught
// separately when the keypair is loaded.
func (c *Config) Validate() error {
	if c.Hostname == "" {
		return errors.New("config: hostname must be set")
	}
	if c.Port == 0 {
		return errors.New("config: port must be set")
	}
	if c.APIPort == 0 {
		return errors.New("config: api-port must be set")
	}
	if c.Port == c.APIPort {
		return errors.New("config: port and api-port must differ")
	}
	if c.HostkeyPath == "" {
		return errors.New("config: hostkey path must be set")
	}
	if c.MinimumHops < 1 {
		return errors.New("config: minimum-hops must be at least 1")
	}
	if c.RPSAddress == "" {
		return errors.New("config: rps-address must be set")
	}
	if c.TCPTimeoutMS <= 0 {
		return errors.New("config: tcp-timeout must be positive")
	}
	if c.Verbose {
		c.LogLevel = "DEBUG"
	}
	return nil
}

// LoadFile reads a TOML configuration file and overlays it onto cfg,
// returning the merged configuration. Fields absent from the file leave
// cfg's existing value untouched, since BurntSushi/toml only writes
// fields present in the document.
func LoadFile(path string, cfg *Config) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := toml.Unmarshal(b, cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return cfg, nil
}
