// initiator.go - Initiator-side tunnel construction.
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

package relay

import (
	"bytes"
	"crypto/rand"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"sync"

	"github.com/katzenpost/onionrelay/internal/hoptable"
	"github.com/katzenpost/onionrelay/internal/wire"
	"github.com/katzenpost/onionrelay/internal/wirecrypto"
)

// initiatorState is the bookkeeping this relay keeps for a tunnel it
// itself constructed: which control connection to deliver TUNNEL_READY,
// TUNNEL_ERROR, and inbound TUNNEL_DATA to, and the destination hostkey
// once the tunnel is bound (needed to address further outbound
// TUNNEL_DATA payloads).
type initiatorState struct {
	mu          sync.Mutex
	controlConn *conn
	destHostkey wirecrypto.Hostkey
}

func (r *Relay) registerInitiator(id uint32, cc *conn) *initiatorState {
	st := &initiatorState{controlConn: cc}
	r.initiatorsMu.Lock()
	r.initiators[id] = st
	r.initiatorsMu.Unlock()
	return st
}

func (r *Relay) lookupInitiator(id uint32) *initiatorState {
	r.initiatorsMu.Lock()
	defer r.initiatorsMu.Unlock()
	return r.initiators[id]
}

func (r *Relay) takeInitiator(id uint32) *initiatorState {
	r.initiatorsMu.Lock()
	defer r.initiatorsMu.Unlock()
	st := r.initiators[id]
	delete(r.initiators, id)
	return st
}

func (r *Relay) unregisterInitiator(id uint32) {
	r.initiatorsMu.Lock()
	delete(r.initiators, id)
	r.initiatorsMu.Unlock()
}

// BuildTunnel is the initiator side of tunnel construction: it allocates a
// tunnel id, reaches the first hop, extends the tunnel through
// minimum-hops intermediates, binds the destination, and reports the
// outcome to cc.
func (r *Relay) BuildTunnel(cc *conn, build *wire.TunnelBuild) {
	tunnelID32 := r.freshTunnelID()
	r.registerInitiator(tunnelID32, cc)

	c1, err := r.constructTunnel(tunnelID32, build.DestAddr, build.DestPort, build.DestHostkey)
	if err != nil {
		r.unregisterInitiator(tunnelID32)
		r.Table.Remove(tunnelID32)
		r.Log.Warningf("build: tunnel %d failed: %v", tunnelID32, err)
		_ = cc.WriteFrame(&wire.TunnelError{RequestType: uint16(wire.TagTunnelBuild), TunnelID: tunnelID32})
		return
	}

	if init := r.lookupInitiator(tunnelID32); init != nil {
		init.mu.Lock()
		init.destHostkey = wirecrypto.Hostkey(append([]byte{}, build.DestHostkey...))
		init.mu.Unlock()
	}

	if err := cc.WriteFrame(&wire.TunnelReady{TunnelID: tunnelID32, DestHostkey: build.DestHostkey}); err != nil {
		r.Log.Warningf("build: failed to notify control client for tunnel %d: %v", tunnelID32, err)
	}

	// Steady-state traffic (backward data, peer-initiated destroy) on
	// the first-hop socket is handled by the same async dispatcher used
	// for accepted peer connections.
	r.Go("conn:build:"+c1.RemoteAddr().String(), func() { r.servePeerConn(c1) })
}

// constructTunnel runs the synchronous hop-by-hop extension algorithm
// against a freshly allocated tunnel id and returns the live connection
// to the first hop once the destination is bound and verified. It is
// shared by BuildTunnel and the cover-traffic path, which both act as
// the initiator of a fresh tunnel but differ in how (or whether) the
// outcome is reported.
func (r *Relay) constructTunnel(tunnelID32 uint32, destAddr netip.Addr, destPort uint16, destHostkey []byte) (*conn, error) {
	tunnelID16 := wire.NarrowTunnelID(tunnelID32)

	r.Table.InsertOrUpdate(tunnelID32, func(*hoptable.Tunnel) *hoptable.Tunnel {
		return &hoptable.Tunnel{ID: tunnelID32, State: hoptable.StateBuilding}
	})

	peer1, err := r.PeerSource.GetRandomPeer()
	if err != nil {
		return nil, fmt.Errorf("relay: peer source: %w", err)
	}
	c1, err := r.dial(peer1.Addr, peer1.Port)
	if err != nil {
		return nil, err
	}
	hop1Key, err := r.pingHop(c1, tunnelID16)
	if err != nil {
		_ = c1.Close()
		return nil, fmt.Errorf("relay: ping first hop: %w", err)
	}
	r.Table.InsertOrUpdate(tunnelID32, func(cur *hoptable.Tunnel) *hoptable.Tunnel {
		if cur == nil {
			return nil
		}
		cur.Next = &hoptable.Hop{Hostkey: hop1Key, Conn: c1}
		return cur
	})

	// Extending beyond the first hop never touches the peer source from
	// here: the initiator only sends the query. Whichever intermediate
	// it reaches (directly, or via chain relay through hops that
	// already exist) is the one that draws the new peer and reports its
	// hostkey back; see handleNextHopQuery.
	lastHopKey := hop1Key
	for i := 1; i < r.Config.MinimumHops; i++ {
		resp, err := r.sendQueryAndAwaitResponse(c1, tunnelID16, lastHopKey, &wire.APINextHopQuery{TunnelID: tunnelID16})
		if err != nil {
			_ = c1.Close()
			return nil, fmt.Errorf("relay: extend hop %d: %w", i+1, err)
		}
		lastHopKey = wirecrypto.Hostkey(append([]byte{}, resp.Hostkey...))
	}

	finalQuery := &wire.APIFinalHopQuery{
		TunnelID:    tunnelID16,
		DestPort:    destPort,
		DestAddr:    destAddr,
		DestHostkey: destHostkey,
	}
	resp, err := r.sendQueryAndAwaitResponse(c1, tunnelID16, lastHopKey, finalQuery)
	if err != nil {
		_ = c1.Close()
		return nil, fmt.Errorf("relay: bind destination: %w", err)
	}
	if !bytes.Equal(resp.Hostkey, destHostkey) {
		_ = c1.Close()
		return nil, errors.New("relay: destination hostkey mismatch")
	}

	r.Table.InsertOrUpdate(tunnelID32, func(cur *hoptable.Tunnel) *hoptable.Tunnel {
		if cur == nil {
			return nil
		}
		cur.State = hoptable.StateActive
		return cur
	})
	return c1, nil
}

func (r *Relay) dial(addr netip.Addr, port uint16) (*conn, error) {
	nc, err := net.DialTimeout("tcp", net.JoinHostPort(addr.String(), fmt.Sprint(port)), r.Config.TCPTimeout())
	if err != nil {
		return nil, fmt.Errorf("relay: dial %s:%d: %w", addr, port, err)
	}
	return newConn(nc, r.Config.TCPTimeout()), nil
}

// pingHop performs the API_PING / API_PING_RESPONSE handshake used both
// to reach a tunnel's first hop and, by an intermediate, to reach a
// freshly chosen next hop. The ping goes out as a plain frame; the
// response comes back encrypted inside an API_DATA addressed to this
// relay.
func (r *Relay) pingHop(c *conn, tunnelID16 uint16) (wirecrypto.Hostkey, error) {
	ping := &wire.APIPing{TunnelID: tunnelID16, Hostkey: r.Keys.PublicKey()}
	if err := c.WriteFrame(ping); err != nil {
		return nil, err
	}
	frame, err := c.ReadFrame()
	if err != nil {
		return nil, err
	}
	env, ok := frame.(*wire.APIData)
	if !ok {
		return nil, fmt.Errorf("relay: expected API_DATA ping reply, got %T", frame)
	}
	if env.HopFingerprint != r.localFingerprint() {
		return nil, errors.New("relay: ping reply addressed to a different hostkey")
	}
	plaintext, err := wirecrypto.Decrypt(env.Payload, r.Keys)
	if err != nil {
		return nil, fmt.Errorf("relay: decrypt ping reply: %w", err)
	}
	inner, err := wire.Parse(plaintext)
	if err != nil {
		return nil, fmt.Errorf("relay: parse ping reply: %w", err)
	}
	resp, ok := inner.(*wire.APIPingResponse)
	if !ok {
		return nil, fmt.Errorf("relay: expected API_PING_RESPONSE, got %T", inner)
	}
	return wirecrypto.Hostkey(append([]byte{}, resp.Hostkey...)), nil
}

// sendQueryAndAwaitResponse encrypts query under target's hostkey, wraps
// it in an API_DATA addressed to target, sends it over c, and blocks
// for the matching API_NEXT_HOP_RESPONSE. Both the extend-to-hop and
// bind-destination steps use this exchange; only the query's frame type
// and the target hostkey differ.
func (r *Relay) sendQueryAndAwaitResponse(c *conn, tunnelID16 uint16, target wirecrypto.Hostkey, query wire.Frame) (*wire.APINextHopResponse, error) {
	if err := r.sendEncryptedFrame(c, tunnelID16, target, query); err != nil {
		return nil, err
	}
	frame, err := c.ReadFrame()
	if err != nil {
		return nil, err
	}
	env, ok := frame.(*wire.APIData)
	if !ok {
		return nil, fmt.Errorf("relay: expected API_DATA response, got %T", frame)
	}
	if env.HopFingerprint != r.localFingerprint() {
		return nil, errors.New("relay: response addressed to a different hostkey")
	}
	plaintext, err := wirecrypto.Decrypt(env.Payload, r.Keys)
	if err != nil {
		return nil, fmt.Errorf("relay: decrypt response: %w", err)
	}
	inner, err := wire.Parse(plaintext)
	if err != nil {
		return nil, fmt.Errorf("relay: parse response: %w", err)
	}
	resp, ok := inner.(*wire.APINextHopResponse)
	if !ok {
		return nil, fmt.Errorf("relay: expected API_NEXT_HOP_RESPONSE, got %T", inner)
	}
	return resp, nil
}

func randomBytes(n int) []byte {
	b := make([]byte, n)
	_, _ = rand.Read(b)
	return b
}
