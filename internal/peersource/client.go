// client.go - Random peer sampling service client.
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

// Package peersource implements the client side of the random-peer-
// sampling service: a short-lived TCP request for one random peer,
// queried whenever a hop needs a new downstream neighbor.
package peersource

import (
	"fmt"
	"net"
	"net/netip"
	"time"

	"github.com/katzenpost/onionrelay/internal/wire"
)

// Peer is the (address, port, hostkey) tuple returned by the peer
// source for one sampling request.
type Peer struct {
	Addr    netip.Addr
	Port    uint16
	Hostkey []byte
}

// Client queries a configured random-peer-sampling service address.
// Failure is always recoverable from the caller's perspective: there is
// no retry loop inside this package, matching the "no retry loop inside
// the core" resource-exhaustion handling.
type Client struct {
	Address string
	Timeout time.Duration
}

// New constructs a Client targeting address, using timeout as both the
// dial and read/write deadline.
func New(address string, timeout time.Duration) *Client {
	return &Client{Address: address, Timeout: timeout}
}

// GetRandomPeer opens a connection to the peer source, sends RPS_QUERY,
// and parses the reply as RPS_PEER.
func (c *Client) GetRandomPeer() (*Peer, error) {
	conn, err := net.DialTimeout("tcp", c.Address, c.Timeout)
	if err != nil {
		return nil, fmt.Errorf("peersource: dial %s: %w", c.Address, err)
	}
	defer conn.Close()

	deadline := time.Now().Add(c.Timeout)
	if err := conn.SetDeadline(deadline); err != nil {
		return nil, fmt.Errorf("peersource: set deadline: %w", err)
	}

	if err := wire.WriteFrame(conn, &wire.RPSQuery{}); err != nil {
		return nil, fmt.Errorf("peersource: send RPS_QUERY: %w", err)
	}

	frame, err := wire.ReadFrame(conn)
	if err != nil {
		return nil, fmt.Errorf("peersource: read reply: %w", err)
	}
	peer, ok := frame.(*wire.RPSPeer)
	if !ok {
		return nil, fmt.Errorf("peersource: unexpected reply frame %T", frame)
	}

	return &Peer{Addr: peer.Addr, Port: peer.Port, Hostkey: peer.Hostkey}, nil
}
