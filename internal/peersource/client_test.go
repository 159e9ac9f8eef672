// client_test.go - Peer source client tests.
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

package peersource

import (
	"net"
	"net/netip"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/katzenpost/onionrelay/internal/wire"
)

func startFakeRPS(t *testing.T, reply wire.Frame) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		frame, err := wire.ReadFrame(conn)
		if err != nil {
			return
		}
		if _, ok := frame.(*wire.RPSQuery); !ok {
			return
		}
		_ = wire.WriteFrame(conn, reply)
	}()
	return ln.Addr().String()
}

func TestGetRandomPeerParsesReply(t *testing.T) {
	want := &wire.RPSPeer{
		Port:    1400,
		Modules: []wire.RPSModule{},
		Addr:    netip.MustParseAddr("127.0.0.1"),
		Hostkey: []byte("some-hostkey"),
	}
	addr := startFakeRPS(t, want)

	c := New(addr, time.Second)
	peer, err := c.GetRandomPeer()
	require.NoError(t, err)
	require.Equal(t, want.Addr, peer.Addr)
	require.Equal(t, want.Port, peer.Port)
	require.Equal(t, want.Hostkey, peer.Hostkey)
}

func TestGetRandomPeerFailsOnUnreachableSource(t *testing.T) {
	c := New("127.0.0.1:1", 100*time.Millisecond)
	_, err := c.GetRandomPeer()
	require.Error(t, err)
}

func TestGetRandomPeerFailsOnWrongReplyType(t *testing.T) {
	addr := startFakeRPS(t, &wire.TunnelError{RequestType: 0, TunnelID: 0})
	c := New(addr, time.Second)
	_, err := c.GetRandomPeer()
	require.Error(t, err)
}
