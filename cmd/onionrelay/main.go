// main.go - Command-line entry point for the relay.
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

package main

import (
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/katzenpost/onionrelay/internal/config"
	"github.com/katzenpost/onionrelay/internal/relay"
)

// cliConfig holds every value the command line surface can set,
// layered on top of an optional --config file.
type cliConfig struct {
	configFile  string
	hostname    string
	port        uint16
	apiPort     uint16
	hostkeyPath string
	minimumHops int
	rpsAddress  string
	tcpTimeout  int
	logFile     string
	logLevel    string
	verbose     bool
}

func newRootCommand() *cobra.Command {
	var cli cliConfig

	cmd := &cobra.Command{
		Use:   "onionrelay",
		Short: "Onion-routing relay node",
		Long: `onionrelay runs a single relay in an onion-routing overlay: a control
listener for a local client to build and use tunnels, and a peer
listener that other relays extend tunnels through.`,
		Example: `  # Start a relay with explicit ports
  onionrelay --hostname 0.0.0.0 --port 4242 --api-port 4343

  # Start a relay with a config file providing defaults
  onionrelay --config relay.toml

  # Override the config file's log level for this run
  onionrelay --config relay.toml --verbose`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cli)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&cli.configFile, "config", "", "path to a TOML file providing defaults")
	flags.StringVar(&cli.hostname, "hostname", "", "interface the listeners bind to")
	flags.Uint16Var(&cli.port, "port", 0, "control listener TCP port")
	flags.Uint16Var(&cli.apiPort, "api-port", 0, "peer listener TCP port")
	flags.StringVar(&cli.hostkeyPath, "hostkey", "", "path to this relay's keypair file")
	flags.IntVar(&cli.minimumHops, "minimum-hops", config.DefaultMinimumHops, "intermediate hops built before binding the destination")
	flags.StringVar(&cli.rpsAddress, "rps-address", config.DefaultRPSAddress, "random-peer-sampling service address")
	flags.IntVar(&cli.tcpTimeout, "tcp-timeout-ms", config.DefaultTCPTimeoutMS, "socket read/write/dial timeout, in milliseconds")
	flags.StringVar(&cli.logFile, "log-file", "", "log file path; empty logs to stdout")
	flags.StringVar(&cli.logLevel, "log-level", config.DefaultLogLevel, "one of ERROR, WARNING, NOTICE, INFO, DEBUG")
	flags.BoolVar(&cli.verbose, "verbose", false, "force DEBUG logging")

	return cmd
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(cli cliConfig) error {
	// A sane number of OS threads, same reasoning as the mix server this
	// relay is descended from.
	if os.Getenv("GOMAXPROCS") == "" {
		nProcs := runtime.GOMAXPROCS(0)
		nCPU := runtime.NumCPU()
		if nProcs < nCPU {
			runtime.GOMAXPROCS(nCPU)
		}
	}

	cfg := config.Default()
	if cli.configFile != "" {
		var err error
		cfg, err = config.LoadFile(cli.configFile, cfg)
		if err != nil {
			return fmt.Errorf("load config file %q: %w", cli.configFile, err)
		}
	}
	applyFlagOverrides(cfg, cli)

	r, err := relay.New(cfg)
	if err != nil {
		return fmt.Errorf("construct relay: %w", err)
	}
	if err := r.ListenAndServe(); err != nil {
		return fmt.Errorf("start relay: %w", err)
	}
	defer r.Halt()

	haltCh := make(chan os.Signal, 1)
	signal.Notify(haltCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-haltCh
		r.Halt()
	}()

	rotateCh := make(chan os.Signal, 1)
	signal.Notify(rotateCh, syscall.SIGHUP)
	go func() {
		<-rotateCh
		_ = r.RotateLog()
	}()

	r.Wait()
	return nil
}

// applyFlagOverrides writes onto cfg every flag whose value differs from
// its default (the zero value, or the config package's default for
// flags that have one). A flag left at, or explicitly set to, its
// default does not override what a --config file supplied.
func applyFlagOverrides(cfg *config.Config, cli cliConfig) {
	if cli.hostname != "" {
		cfg.Hostname = cli.hostname
	}
	if cli.port != 0 {
		cfg.Port = cli.port
	}
	if cli.apiPort != 0 {
		cfg.APIPort = cli.apiPort
	}
	if cli.hostkeyPath != "" {
		cfg.HostkeyPath = cli.hostkeyPath
	}
	if cli.minimumHops != config.DefaultMinimumHops {
		cfg.MinimumHops = cli.minimumHops
	}
	if cli.rpsAddress != config.DefaultRPSAddress {
		cfg.RPSAddress = cli.rpsAddress
	}
	if cli.tcpTimeout != config.DefaultTCPTimeoutMS {
		cfg.TCPTimeoutMS = cli.tcpTimeout
	}
	if cli.logFile != "" {
		cfg.LogFile = cli.logFile
	}
	if cli.logLevel != config.DefaultLogLevel {
		cfg.LogLevel = cli.logLevel
	}
	if cli.verbose {
		cfg.Verbose = true
	}
}
