// cover.go - Cover traffic generation.
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
	"github.com/katzenpost/onionrelay/internal/hoptable"
	"github.com/katzenpost/onionrelay/internal/wire"
	"github.com/katzenpost/onionrelay/internal/wirecrypto"
)

// SendCover sends cover traffic: legal only while no tunnel is active, it
// constructs an ephemeral tunnel to a random destination drawn from the
// peer source, sends coverSize random bytes through it, and tears it
// down. No reply is expected by the control client either way, so
// failures are logged rather than reported.
func (r *Relay) SendCover(f *wire.TunnelCover) {
	if r.Table.AnyMatching(func(t *hoptable.Tunnel) bool { return t.State == hoptable.StateActive }) {
		r.Log.Debugf("cover: rejected, an active tunnel already exists")
		return
	}

	peer, err := r.PeerSource.GetRandomPeer()
	if err != nil {
		r.Log.Warningf("cover: peer source failed: %v", err)
		return
	}

	tunnelID32 := r.freshTunnelID()
	r.registerInitiator(tunnelID32, nil)
	defer r.unregisterInitiator(tunnelID32)

	c1, err := r.constructTunnel(tunnelID32, peer.Addr, peer.Port, peer.Hostkey)
	if err != nil {
		r.Table.Remove(tunnelID32)
		r.Log.Debugf("cover: construction failed: %v", err)
		return
	}

	garbage := randomBytes(int(f.CoverSize))
	if err := r.sendEncryptedBytes(c1, wire.NarrowTunnelID(tunnelID32), wirecrypto.Hostkey(peer.Hostkey), garbage); err != nil {
		r.Log.Debugf("cover: failed to send cover payload: %v", err)
	}

	r.DestroyTunnel(tunnelID32)
}
