// conn.go - Connection wrapper with write mutex and deadlines.
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
	"net"
	"sync"
	"time"

	"github.com/katzenpost/onionrelay/internal/hoptable"
	"github.com/katzenpost/onionrelay/internal/wire"
)

// conn wraps a net.Conn with the per-socket write lock required by the
// concurrency model: any task may write to a conn it does not own (to
// forward a frame along a tunnel), so every write is serialized here,
// while reads stay the sole responsibility of whichever task owns the
// conn.
type conn struct {
	net.Conn

	writeMu sync.Mutex
	timeout time.Duration
}

func newConn(c net.Conn, timeout time.Duration) *conn {
	return &conn{Conn: c, timeout: timeout}
}

// ReadFrame reads one frame within the configured timeout. Only the
// owning task should call this.
func (c *conn) ReadFrame() (wire.Frame, error) {
	if err := c.SetReadDeadline(time.Now().Add(c.timeout)); err != nil {
		return nil, err
	}
	return wire.ReadFrame(c.Conn)
}

// WriteFrame serializes and writes f, holding the write lock for the
// duration so concurrent forwarders never interleave partial frames.
func (c *conn) WriteFrame(f wire.Frame) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.SetWriteDeadline(time.Now().Add(c.timeout)); err != nil {
		return err
	}
	return wire.WriteFrame(c.Conn, f)
}

// asConn recovers the concrete *conn behind a hoptable.Socket, or nil if
// hop is nil or its socket isn't one (which shouldn't happen outside of
// tests, since the relay package is the only producer of hoptable.Hop
// values).
func asConn(hop *hoptable.Hop) *conn {
	if hop == nil || hop.Conn == nil {
		return nil
	}
	c, _ := hop.Conn.(*conn)
	return c
}
