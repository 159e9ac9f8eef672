// config_test.go - Configuration tests.
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

package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func validConfig() *Config {
	cfg := Default()
	cfg.Hostname = "127.0.0.1"
	cfg.Port = 6000
	cfg.APIPort = 6001
	cfg.HostkeyPath = "/tmp/hostkey.pem"
	return cfg
}

func TestValidateAcceptsWellFormedConfig(t *testing.T) {
	require.NoError(t, validConfig().Validate())
}

func TestValidateRejectsPortCollision(t *testing.T) {
	cfg := validConfig()
	cfg.APIPort = cfg.Port
	require.Error(t, cfg.Validate())
}

func TestValidateRejectsMissingHostkey(t *testing.T) {
	cfg := validConfig()
	cfg.HostkeyPath = ""
	require.Error(t, cfg.Validate())
}

func TestValidateRejectsZeroMinimumHops(t *testing.T) {
	cfg := validConfig()
	cfg.MinimumHops = 0
	require.Error(t, cfg.Validate())
}

func TestValidateVerboseForcesDebugLevel(t *testing.T) {
	cfg := validConfig()
	cfg.Verbose = true
	require.NoError(t, cfg.Validate())
	require.Equal(t, "DEBUG", cfg.LogLevel)
}

func TestLoadFileOverlaysOntoDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "relay.toml")
	body := `
Hostname = "10.0.0.5"
Port = 7000
APIPort = 7001
MinimumHops = 4
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0600))

	cfg := Default()
	merged, err := LoadFile(path, cfg)
	require.NoError(t, err)
	require.Equal(t, "10.0.0.5", merged.Hostname)
	require.Equal(t, uint16(7000), merged.Port)
	require.Equal(t, uint16(7001), merged.APIPort)
	require.Equal(t, 4, merged.MinimumHops)
	// Fields absent from the file keep the default.
	require.Equal(t, DefaultRPSAddress, merged.RPSAddress)
}

func TestLoadFileMissingPathFails(t *testing.T) {
	_, err := LoadFile("/nonexistent/relay.toml", Default())
	require.Error(t, err)
}
