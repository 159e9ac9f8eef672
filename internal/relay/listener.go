// listener.go - Shared accept-loop listener type.
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
	"net"
)

// listener is one accept loop. The control listener and the peer
// listener are both instances of this same type, differing only in
// their bind address and the handler run for each accepted connection —
// the two loops are near-duplicates by construction, so there is no
// chance of one confusing its own bind address for the other's in a log
// line.
type listener struct {
	relay   *Relay
	name    string
	ln      net.Listener
	handler func(c *conn)
}

func newListener(r *Relay, addr, name string, handler func(c *conn)) (*listener, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	return &listener{relay: r, name: name, ln: ln, handler: handler}, nil
}

func (l *listener) start() {
	l.relay.Go("accept:"+l.name, l.acceptLoop)
}

func (l *listener) acceptLoop() {
	l.relay.Log.Noticef("%s: listening on %s", l.name, l.ln.Addr())
	defer l.relay.Log.Noticef("%s: stopped listening on %s", l.name, l.ln.Addr())

	for {
		c, err := l.ln.Accept()
		if err != nil {
			select {
			case <-l.relay.HaltCh():
				return
			default:
			}
			if errors.Is(err, net.ErrClosed) {
				return
			}
			l.relay.Log.Errorf("%s: accept failed: %v", l.name, err)
			return
		}

		l.relay.Log.Debugf("%s: accepted connection from %s", l.name, c.RemoteAddr())
		wrapped := newConn(c, l.relay.Config.TCPTimeout())
		l.relay.Go("conn:"+l.name+":"+c.RemoteAddr().String(), func() {
			l.handler(wrapped)
		})
	}
}

// Halt closes the listening socket. Connections already accepted are
// tracked by r.Worker and halted by Relay.Halt, not here.
func (l *listener) Halt() {
	_ = l.ln.Close()
}
