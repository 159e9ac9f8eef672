// intermediate.go - Intermediate-hop peeling and forwarding.
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
	"net/netip"

	"github.com/katzenpost/onionrelay/internal/hoptable"
	"github.com/katzenpost/onionrelay/internal/wire"
	"github.com/katzenpost/onionrelay/internal/wirecrypto"
)

// handlePing is the acceptor side of the ping handshake: a fresh tunnel
// row is created with this socket recorded as the previous hop, and the
// control client is told a tunnel has arrived on its behalf in case
// this relay ends up being the one the data is addressed to.
func (r *Relay) handlePing(c *conn, ping *wire.APIPing) {
	tunnelID32 := wire.WidenTunnelID(ping.TunnelID)

	isNew := false
	r.Table.InsertOrUpdate(tunnelID32, func(cur *hoptable.Tunnel) *hoptable.Tunnel {
		if cur != nil {
			return cur
		}
		isNew = true
		return &hoptable.Tunnel{
			ID:       tunnelID32,
			State:    hoptable.StateBuilding,
			Previous: &hoptable.Hop{Hostkey: append([]byte{}, ping.Hostkey...), Conn: c},
		}
	})

	reply := &wire.APIPingResponse{TunnelID: ping.TunnelID, Hostkey: r.Keys.PublicKey()}
	if err := r.sendEncryptedFrame(c, ping.TunnelID, wirecrypto.Hostkey(ping.Hostkey), reply); err != nil {
		r.Log.Warningf("peer: failed to reply to ping for tunnel %d: %v", tunnelID32, err)
		return
	}

	if isNew {
		if cc := r.currentControlConn(); cc != nil {
			_ = cc.WriteFrame(&wire.TunnelIncoming{TunnelID: tunnelID32})
		}
	}
}

// handleAPIData implements the general forward-or-terminate peeling
// rule: a frame not addressed to this relay is forwarded
// verbatim toward the tunnel's opposite adjacency; one addressed to
// this relay is decrypted and, depending on what it reveals, acted on
// locally, relayed one hop further toward the side it flows, or handed
// to the local control client as the frame's ultimate recipient.
func (r *Relay) handleAPIData(c *conn, frame *wire.APIData) {
	tunnelID32 := wire.WidenTunnelID(frame.TunnelID)
	tun := r.Table.Lookup(tunnelID32)
	if tun == nil {
		r.Log.Debugf("peer: API_DATA for unknown tunnel %d, discarding", tunnelID32)
		return
	}
	arrivedOn, ok := r.sideOf(tun, c)
	if !ok {
		r.Log.Debugf("peer: API_DATA for tunnel %d arrived on an unassociated socket, discarding", tunnelID32)
		return
	}

	if frame.HopFingerprint != r.localFingerprint() {
		r.forwardVerbatim(tun, arrivedOn, frame)
		return
	}

	plaintext, err := wirecrypto.Decrypt(frame.Payload, r.Keys)
	if err != nil {
		r.Log.Debugf("peer: crypto: failed to decrypt API_DATA for tunnel %d: %v", tunnelID32, err)
		r.notifyInitiatorErrorIfBuilding(tunnelID32)
		return
	}

	if inner, perr := wire.Parse(plaintext); perr == nil {
		switch v := inner.(type) {
		case *wire.APINextHopQuery:
			r.handleNextHopQuery(tunnelID32, frame.TunnelID)
		case *wire.APIFinalHopQuery:
			r.handleFinalHopQuery(tunnelID32, frame.TunnelID, v)
		case *wire.APINextHopResponse:
			r.replyToPrevious(tun, frame.TunnelID, wirecrypto.Hostkey(append([]byte{}, v.Hostkey...)))
		default:
			r.Log.Debugf("peer: unexpected control frame %T addressed to us for tunnel %d, discarding", v, tunnelID32)
		}
		return
	}

	// plaintext is application data, not a recognized control frame.
	switch arrivedOn {
	case fromPrevious:
		// This relay is the frame's addressed recipient and it arrived
		// flowing away from the initiator: we are the destination.
		r.deliverToControlClient(tunnelID32, plaintext)
	case fromNext:
		// Flowing back toward the initiator. Each hop on the way can
		// only decrypt what was encrypted for it, so relay the
		// plaintext one hop further rather than forwarding the
		// (now-consumed) ciphertext.
		if tun.Previous != nil {
			r.relayDataToPrevious(tun, frame.TunnelID, plaintext)
		} else {
			r.deliverToControlClient(tunnelID32, plaintext)
		}
	}
}

// forwardVerbatim passes a frame not addressed to us along unchanged
// toward the adjacency opposite the one it arrived on.
func (r *Relay) forwardVerbatim(t *hoptable.Tunnel, arrivedOn side, frame *wire.APIData) {
	var target *hoptable.Hop
	if arrivedOn == fromPrevious {
		target = t.Next
	} else {
		target = t.Previous
	}
	tc := asConn(target)
	if tc == nil {
		r.Log.Debugf("peer: no socket to forward tunnel %d frame to, discarding", t.ID)
		r.notifyInitiatorError(t.ID, wire.TagTunnelData)
		return
	}
	if err := tc.WriteFrame(frame); err != nil {
		r.Log.Warningf("peer: forward failed for tunnel %d: %v", t.ID, err)
	}
}

// handleNextHopQuery draws a random peer from the peer source and
// extends the tunnel to it.
func (r *Relay) handleNextHopQuery(tunnelID32 uint32, tunnelID16 uint16) {
	peer, err := r.PeerSource.GetRandomPeer()
	if err != nil {
		r.Log.Warningf("peer: peer source failed extending tunnel %d: %v", tunnelID32, err)
		return
	}
	r.extendToNewHop(tunnelID32, tunnelID16, peer.Addr, peer.Port)
}

// handleFinalHopQuery is identical to handleNextHopQuery except the
// next hop is the caller-supplied destination rather than one drawn
// from the peer source.
func (r *Relay) handleFinalHopQuery(tunnelID32 uint32, tunnelID16 uint16, q *wire.APIFinalHopQuery) {
	r.extendToNewHop(tunnelID32, tunnelID16, q.DestAddr, q.DestPort)
}

// extendToNewHop dials addr:port, performs the ping handshake, records
// the result as this tunnel's next hop, and relays the learned hostkey
// back toward the previous hop. It is the single extension primitive
// shared by both query types and, by extension, ignorant of whether the
// new hop is an ordinary relay or the tunnel's ultimate destination —
// from this relay's point of view they are the same kind of neighbor.
func (r *Relay) extendToNewHop(tunnelID32 uint32, tunnelID16 uint16, addr netip.Addr, port uint16) {
	c, err := r.dial(addr, port)
	if err != nil {
		r.Log.Warningf("peer: %v", err)
		return
	}
	hostkey, err := r.pingHop(c, tunnelID16)
	if err != nil {
		_ = c.Close()
		r.Log.Warningf("peer: ping next hop for tunnel %d failed: %v", tunnelID32, err)
		return
	}

	r.Table.InsertOrUpdate(tunnelID32, func(cur *hoptable.Tunnel) *hoptable.Tunnel {
		if cur == nil {
			return nil
		}
		cur.Next = &hoptable.Hop{Hostkey: hostkey, Conn: c}
		return cur
	})

	tun := r.Table.Lookup(tunnelID32)
	if tun == nil {
		_ = c.Close()
		return
	}
	r.replyToPrevious(tun, tunnelID16, hostkey)
	r.Go("conn:extend:"+c.RemoteAddr().String(), func() { r.servePeerConn(c) })
}

// replyToPrevious builds a fresh API_NEXT_HOP_RESPONSE carrying hostkey
// and relays it toward t's previous hop. It covers both the direct reply
// from a relay that just performed its own extension, and the
// hop-by-hop relay of that same reply by every relay between the one
// that extended and the initiator.
func (r *Relay) replyToPrevious(t *hoptable.Tunnel, tunnelID16 uint16, hostkey wirecrypto.Hostkey) {
	prevConn := asConn(t.Previous)
	if prevConn == nil {
		r.Log.Debugf("peer: no previous hop to reply to for tunnel %d", t.ID)
		return
	}
	resp := &wire.APINextHopResponse{TunnelID: tunnelID16, Hostkey: hostkey}
	if err := r.sendEncryptedFrame(prevConn, tunnelID16, wirecrypto.Hostkey(t.Previous.Hostkey), resp); err != nil {
		r.Log.Warningf("peer: failed to reply to previous hop for tunnel %d: %v", t.ID, err)
	}
}

// relayDataToPrevious re-encrypts plaintext under t's previous hop's
// hostkey and sends it there, continuing a backward-flowing data
// frame's walk toward the initiator.
func (r *Relay) relayDataToPrevious(t *hoptable.Tunnel, tunnelID16 uint16, plaintext []byte) {
	prevConn := asConn(t.Previous)
	if prevConn == nil {
		return
	}
	if err := r.sendEncryptedBytes(prevConn, tunnelID16, wirecrypto.Hostkey(t.Previous.Hostkey), plaintext); err != nil {
		r.Log.Warningf("peer: failed to relay data toward previous hop for tunnel %d: %v", t.ID, err)
	}
}

// notifyInitiatorErrorIfBuilding reports a crypto failure to the local
// control client only when this relay is the tunnel's own initiator and
// construction hasn't completed yet; a crypto failure on an already
// active tunnel is not reported this way.
func (r *Relay) notifyInitiatorErrorIfBuilding(tunnelID32 uint32) {
	init := r.lookupInitiator(tunnelID32)
	if init == nil {
		return
	}
	tun := r.Table.Lookup(tunnelID32)
	if tun == nil || tun.State != hoptable.StateBuilding {
		return
	}
	r.notifyInitiatorError(tunnelID32, wire.TagTunnelBuild)
}
