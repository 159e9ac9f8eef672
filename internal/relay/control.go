// control.go - Control-client connection dispatch.
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
	"errors"
	"io"
	"sync"

	"github.com/katzenpost/onionrelay/internal/wire"
)

// controlConnState tracks the single local control client this relay is
// currently talking to. The protocol assumes one control client per
// relay instance; this is what lets an intermediate or destination hop
// deliver unsolicited notifications (TUNNEL_INCOMING, TUNNEL_DATA for
// tunnels it did not itself build) without threading a destination
// through every call.
type controlConnState struct {
	mu   sync.Mutex
	conn *conn
}

func (r *Relay) setCurrentControlConn(c *conn) {
	r.controlState.mu.Lock()
	r.controlState.conn = c
	r.controlState.mu.Unlock()
}

func (r *Relay) clearCurrentControlConnIfCurrent(c *conn) {
	r.controlState.mu.Lock()
	if r.controlState.conn == c {
		r.controlState.conn = nil
	}
	r.controlState.mu.Unlock()
}

func (r *Relay) currentControlConn() *conn {
	r.controlState.mu.Lock()
	defer r.controlState.mu.Unlock()
	return r.controlState.conn
}

// deliverToControlClient surfaces inbound application payload as
// TUNNEL_DATA. If this relay initiated the tunnel, the frame goes to
// that tunnel's own control connection; otherwise it goes to whichever
// control client is currently attached, since this relay is acting as
// the tunnel's destination on that client's behalf.
func (r *Relay) deliverToControlClient(tunnelID32 uint32, payload []byte) {
	if init := r.lookupInitiator(tunnelID32); init != nil && init.controlConn != nil {
		_ = init.controlConn.WriteFrame(&wire.TunnelData{TunnelID: tunnelID32, Payload: payload})
		return
	}
	if cc := r.currentControlConn(); cc != nil {
		_ = cc.WriteFrame(&wire.TunnelData{TunnelID: tunnelID32, Payload: payload})
	}
}

// notifyInitiatorError reports requestType's failure to the control
// client that initiated tunnelID32, if any, and reaps the tunnel's
// table row. Relays that are not a tunnel's initiator have no control
// client waiting on it, so this is a no-op for them.
func (r *Relay) notifyInitiatorError(tunnelID32 uint32, requestType wire.Tag) {
	init := r.takeInitiator(tunnelID32)
	if init == nil {
		return
	}
	if init.controlConn != nil {
		_ = init.controlConn.WriteFrame(&wire.TunnelError{RequestType: uint16(requestType), TunnelID: tunnelID32})
	}
	r.Table.Remove(tunnelID32)
}

// serveControlConn is the long-lived handler for one local control
// client connection, dispatching TUNNEL_BUILD, TUNNEL_DESTROY,
// TUNNEL_DATA and TUNNEL_COVER.
func (r *Relay) serveControlConn(cc *conn) {
	remote := cc.RemoteAddr().String()
	r.setCurrentControlConn(cc)
	defer func() {
		_ = cc.Close()
		r.clearCurrentControlConnIfCurrent(cc)
		r.protoErrSampler.Forget(remote)
	}()

	for {
		frame, err := cc.ReadFrame()
		if err != nil {
			if isProtocolError(err) {
				if ok, folded := r.protoErrSampler.Allow(remote); ok {
					r.Log.Debugf("control: %v, discarding frame (%d folded)", err, folded)
				}
				continue
			}
			if !isTimeout(err) && !errors.Is(err, io.EOF) {
				r.Log.Debugf("control: read failed: %v", err)
			}
			return
		}

		switch f := frame.(type) {
		case *wire.TunnelBuild:
			r.BuildTunnel(cc, f)
		case *wire.TunnelDestroy:
			r.DestroyTunnel(f.TunnelID)
		case *wire.TunnelData:
			r.handleTunnelData(cc, f)
		case *wire.TunnelCover:
			cover := f
			r.Go("cover", func() { r.SendCover(cover) })
		default:
			r.Log.Debugf("control: unexpected frame %T, discarding", f)
		}
	}
}

// handleTunnelData implements the initiator's outbound leg of
// steady-state forwarding: the payload is single-layer encrypted
// directly under the destination's hostkey and sent to the first hop,
// relying on every intermediate's forward-or-terminate rule to carry it
// the rest of the way.
func (r *Relay) handleTunnelData(cc *conn, f *wire.TunnelData) {
	init := r.lookupInitiator(f.TunnelID)
	tun := r.Table.Lookup(f.TunnelID)
	if init == nil || tun == nil || tun.Next == nil {
		_ = cc.WriteFrame(&wire.TunnelError{RequestType: uint16(wire.TagTunnelData), TunnelID: f.TunnelID})
		return
	}
	nextConn := asConn(tun.Next)
	if nextConn == nil {
		_ = cc.WriteFrame(&wire.TunnelError{RequestType: uint16(wire.TagTunnelData), TunnelID: f.TunnelID})
		return
	}

	init.mu.Lock()
	destHostkey := init.destHostkey
	init.mu.Unlock()

	if err := r.sendEncryptedBytes(nextConn, wire.NarrowTunnelID(f.TunnelID), destHostkey, f.Payload); err != nil {
		r.Log.Warningf("control: failed to send tunnel %d data: %v", f.TunnelID, err)
		_ = cc.WriteFrame(&wire.TunnelError{RequestType: uint16(wire.TagTunnelData), TunnelID: f.TunnelID})
	}
}
