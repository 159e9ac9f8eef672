// dispatch.go - Peer connection dispatch loop.
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
	"net"

	"github.com/katzenpost/onionrelay/internal/hoptable"
	"github.com/katzenpost/onionrelay/internal/wire"
)

// side identifies which adjacency a frame arrived on or is headed
// toward, relative to a tunnel's Previous/Next hops.
type side int

const (
	fromPrevious side = iota
	fromNext
)

// servePeerConn is the long-lived handler for one peer connection,
// whether it was accepted by the peer listener or dialed out by this
// relay while extending a tunnel. Per the peer listener's contract,
// once a relay pings us the same connection carries all subsequent
// forwarding traffic for that tunnel, so this loop runs for the
// lifetime of the socket.
func (r *Relay) servePeerConn(c *conn) {
	remote := c.RemoteAddr().String()
	defer func() {
		_ = c.Close()
		r.onSocketLost(c)
		r.protoErrSampler.Forget(remote)
	}()

	for {
		frame, err := c.ReadFrame()
		if err != nil {
			if isProtocolError(err) {
				if ok, folded := r.protoErrSampler.Allow(remote); ok {
					r.Log.Debugf("peer: %v, discarding frame (%d folded)", err, folded)
				}
				continue
			}
			if !isTimeout(err) && !errors.Is(err, io.EOF) {
				r.Log.Debugf("peer: read failed: %v", err)
			}
			return
		}

		switch f := frame.(type) {
		case *wire.APIPing:
			r.handlePing(c, f)
		case *wire.APIData:
			r.handleAPIData(c, f)
		case *wire.TunnelDestroy:
			r.handlePeerDestroy(c, f)
		default:
			r.Log.Debugf("peer: unexpected frame %T in this context, discarding", f)
		}
	}
}

// sideOf reports which of a tunnel's two adjacencies c is, or false if c
// is neither (a stale or unrelated connection).
func (r *Relay) sideOf(t *hoptable.Tunnel, c *conn) (side, bool) {
	if t.Previous != nil && t.Previous.Conn == c {
		return fromPrevious, true
	}
	if t.Next != nil && t.Next.Conn == c {
		return fromNext, true
	}
	return 0, false
}

func isTimeout(err error) bool {
	var ne net.Error
	if errors.As(err, &ne) {
		return ne.Timeout()
	}
	return false
}

// isProtocolError reports whether err is a frame-level problem (an
// unrecognized tag, or a header/body that doesn't parse) rather than a
// transport failure. Per §7's error taxonomy, a protocol error is logged
// and the offending frame discarded; it never implies the underlying
// connection is broken.
func isProtocolError(err error) bool {
	return errors.Is(err, wire.ErrUnknownType) || errors.Is(err, wire.ErrMalformed) || errors.Is(err, wire.ErrTruncated)
}

// onSocketLost is the transport-error path: every tunnel routed through
// c transitions to inactive, its other socket is closed, and an
// initiator waiting on a reply is told via TUNNEL_ERROR.
func (r *Relay) onSocketLost(c *conn) {
	lost := r.Table.RemoveMatching(func(t *hoptable.Tunnel) bool {
		return (t.Previous != nil && t.Previous.Conn == c) || (t.Next != nil && t.Next.Conn == c)
	})
	for _, t := range lost {
		var fns []func() error
		if t.Previous != nil && t.Previous.Conn != c {
			fns = append(fns, t.Previous.Conn.Close)
		}
		if t.Next != nil && t.Next.Conn != c {
			fns = append(fns, t.Next.Conn.Close)
		}
		if err := closeAdjacency(fns...); err != nil {
			r.Log.Debugf("teardown: tunnel %d: %v", t.ID, err)
		}
		r.notifyInitiatorError(t.ID, wire.TagTunnelBuild)
	}
}
