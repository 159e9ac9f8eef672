// relay.go - The Relay type and its lifecycle.
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

// Package relay implements the tunnel engine and the two-socket
// listener pair: the hop-by-hop extension protocol, the forward-or-
// terminate peeling rule, and teardown.
package relay

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"net"
	"sync"

	"gopkg.in/op/go-logging.v1"

	"github.com/katzenpost/onionrelay/internal/config"
	"github.com/katzenpost/onionrelay/internal/hoptable"
	"github.com/katzenpost/onionrelay/internal/peersource"
	"github.com/katzenpost/onionrelay/internal/relaylog"
	"github.com/katzenpost/onionrelay/internal/wire"
	"github.com/katzenpost/onionrelay/internal/wirecrypto"
	"github.com/katzenpost/onionrelay/internal/worker"
)

// Relay is one running instance of the onion relay: the hop table, the
// local keypair, the peer source client, configuration, and the logger,
// constructed once at startup and passed to both listeners. Hoisting
// this into an explicit value (rather than a process-wide singleton)
// means a test process can construct several independent Relay values.
type Relay struct {
	worker.Worker

	Config     *config.Config
	Keys       *wirecrypto.Keypair
	Table      *hoptable.Table
	PeerSource *peersource.Client
	Log        *logging.Logger

	logBackend *relaylog.Backend

	// protoErrSampler bounds how many discarded-frame log lines one
	// connection can produce, keyed by the connection's remote address.
	protoErrSampler *relaylog.Sampler

	control *listener
	peer    *listener

	// initiators tracks, for every tunnel this relay initiated, the
	// control connection to deliver replies and inbound data to and,
	// once the tunnel is bound, the destination hostkey.
	initiatorsMu sync.Mutex
	initiators   map[uint32]*initiatorState

	// controlState is the currently attached local control client, used
	// to deliver notifications for tunnels this relay did not itself
	// initiate (TUNNEL_INCOMING, and TUNNEL_DATA when acting as a
	// tunnel's destination).
	controlState controlConnState
}

// New constructs a Relay from cfg, loading the local keypair from
// cfg.HostkeyPath. A missing or unreadable hostkey file is a
// configuration error and is fatal at startup. It does not start
// either listener; call ListenAndServe for that.
func New(cfg *config.Config) (*Relay, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	keys, err := wirecrypto.LoadKeypairFile(cfg.HostkeyPath)
	if err != nil {
		return nil, fmt.Errorf("relay: load hostkey: %w", err)
	}

	backend, err := relaylog.New(cfg.LogFile, cfg.LogLevel, false)
	if err != nil {
		return nil, fmt.Errorf("relay: init logging: %w", err)
	}

	r := &Relay{
		Config:          cfg,
		Keys:            keys,
		Table:           hoptable.New(),
		PeerSource:      peersource.New(cfg.RPSAddress, cfg.TCPTimeout()),
		Log:             backend.GetLogger("relay"),
		logBackend:      backend,
		protoErrSampler: relaylog.NewSampler(protoErrLogEvery),
		initiators:      make(map[uint32]*initiatorState),
	}
	return r, nil
}

// protoErrLogEvery is how many discarded frames from one remote address
// are folded into each logged protocol-error line.
const protoErrLogEvery = 20

// ListenAndServe binds the control and peer listeners and runs their
// accept loops under r.Worker until Halt is called.
func (r *Relay) ListenAndServe() error {
	controlAddr := net.JoinHostPort(r.Config.Hostname, portString(r.Config.Port))
	peerAddr := net.JoinHostPort(r.Config.Hostname, portString(r.Config.APIPort))

	cl, err := newListener(r, controlAddr, "control", r.serveControlConn)
	if err != nil {
		return fmt.Errorf("relay: bind control listener: %w", err)
	}
	r.control = cl

	pl, err := newListener(r, peerAddr, "peer", r.servePeerConn)
	if err != nil {
		cl.Halt()
		return fmt.Errorf("relay: bind peer listener: %w", err)
	}
	r.peer = pl

	r.control.start()
	r.peer.start()
	return nil
}

// Halt stops both listeners and waits for every connection handler
// spawned under this Relay to return.
func (r *Relay) Halt() {
	if r.control != nil {
		r.control.Halt()
	}
	if r.peer != nil {
		r.peer.Halt()
	}
	if outstanding := r.Worker.Outstanding(); len(outstanding) > 0 {
		r.Log.Debugf("halt: waiting on %v", outstanding)
	}
	r.Worker.Halt()
}

// RotateLog reopens the log file, for use from a SIGHUP handler.
func (r *Relay) RotateLog() error {
	return r.logBackend.Rotate()
}

func portString(p uint16) string {
	return fmt.Sprintf("%d", p)
}

// localFingerprint returns the SHA-256 fingerprint of this relay's own
// hostkey, the value every inbound API_DATA's hopFingerprint is compared
// against.
func (r *Relay) localFingerprint() [wire.FingerprintLen]byte {
	return wirecrypto.Fingerprint(r.Keys.PublicKey())
}

// freshTunnelID returns a 16-bit-range tunnel id not currently present
// in the hop table. Picking from the 16-bit range means the id agrees
// with itself when narrowed for the peer-to-peer API and widened back
// for the control plane.
func (r *Relay) freshTunnelID() uint32 {
	return r.Table.FreshID(func() uint16 {
		var b [2]byte
		_, _ = rand.Read(b[:])
		return binary.BigEndian.Uint16(b[:])
	})
}
