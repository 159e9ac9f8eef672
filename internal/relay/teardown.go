// teardown.go - Tunnel and adjacency teardown.
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
	"sync"

	"github.com/hashicorp/go-multierror"
	"golang.org/x/sync/errgroup"

	"github.com/katzenpost/onionrelay/internal/hoptable"
	"github.com/katzenpost/onionrelay/internal/wire"
)

// closeAdjacency runs fns concurrently (each closes or forwards-and-closes
// one side of a tunnel's two adjacent sockets) and collects every failure
// rather than discarding all but the first, since a caller diagnosing a
// teardown wants to know whether both sides misbehaved or just one.
func closeAdjacency(fns ...func() error) error {
	var (
		g    errgroup.Group
		mu   sync.Mutex
		merr *multierror.Error
	)
	for _, fn := range fns {
		fn := fn
		g.Go(func() error {
			if err := fn(); err != nil {
				mu.Lock()
				merr = multierror.Append(merr, err)
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()
	return merr.ErrorOrNil()
}

// DestroyTunnel handles a destroy requested by the local control
// client: the tunnel is removed from the hop table, a
// TUNNEL_DESTROY is forwarded to the next hop before it is closed (so a
// genuine intermediate's downstream half unwinds too), and the previous
// hop, if any, is simply closed.
func (r *Relay) DestroyTunnel(tunnelID32 uint32) {
	tun := r.Table.Lookup(tunnelID32)
	if tun == nil {
		return
	}
	r.Table.Remove(tunnelID32)
	r.unregisterInitiator(tunnelID32)

	var fns []func() error
	if nc := asConn(tun.Next); nc != nil {
		fns = append(fns, func() error {
			err := nc.WriteFrame(&wire.TunnelDestroy{TunnelID: tunnelID32})
			if cerr := nc.Close(); cerr != nil && err == nil {
				err = cerr
			}
			return err
		})
	}
	if pc := asConn(tun.Previous); pc != nil {
		fns = append(fns, pc.Close)
	}
	if err := closeAdjacency(fns...); err != nil {
		r.Log.Debugf("teardown: tunnel %d: %v", tunnelID32, err)
	}
}

// handlePeerDestroy handles the peer-to-peer propagation half of
// teardown: a TUNNEL_DESTROY arriving on either adjacency tears down the
// local row and, if this relay is a genuine intermediate, forwards the
// destroy along the remaining direction before closing that socket too.
func (r *Relay) handlePeerDestroy(c *conn, f *wire.TunnelDestroy) {
	tun := r.Table.Lookup(f.TunnelID)
	if tun == nil {
		return
	}
	arrivedOn, ok := r.sideOf(tun, c)
	if !ok {
		return
	}

	r.Table.Remove(f.TunnelID)
	r.unregisterInitiator(f.TunnelID)

	var remaining *hoptable.Hop
	if arrivedOn == fromPrevious {
		remaining = tun.Next
	} else {
		remaining = tun.Previous
	}
	if rc := asConn(remaining); rc != nil {
		if err := closeAdjacency(func() error {
			err := rc.WriteFrame(&wire.TunnelDestroy{TunnelID: f.TunnelID})
			if cerr := rc.Close(); cerr != nil && err == nil {
				err = cerr
			}
			return err
		}); err != nil {
			r.Log.Debugf("teardown: tunnel %d: %v", f.TunnelID, err)
		}
	}
}
