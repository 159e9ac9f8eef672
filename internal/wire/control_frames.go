// control_frames.go - Control-plane (560-series) and RPS (540-series) frame bodies.
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

package wire

import (
	"encoding/binary"
	"net/netip"
)

// TunnelBuild is TUNNEL_BUILD: a request from the control client to
// construct a new tunnel to the given destination.
type TunnelBuild struct {
	Flags       uint16
	DestPort    uint16
	DestAddr    netip.Addr
	DestHostkey []byte
}

func (f *TunnelBuild) Tag() Tag { return TagTunnelBuild }

func (f *TunnelBuild) marshalBody() []byte {
	addrBytes, ver := encodeAddr(f.DestAddr)
	flags := (f.Flags &^ addrVerMask) | uint16(ver)
	out := make([]byte, 4, 4+len(addrBytes)+len(f.DestHostkey))
	binary.BigEndian.PutUint16(out[0:2], flags)
	binary.BigEndian.PutUint16(out[2:4], f.DestPort)
	out = append(out, addrBytes...)
	out = append(out, f.DestHostkey...)
	return out
}

func parseTunnelBuild(b []byte) (Frame, error) {
	if len(b) < 4 {
		return nil, ErrTruncated
	}
	flags := binary.BigEndian.Uint16(b[0:2])
	destPort := binary.BigEndian.Uint16(b[2:4])
	addr, n, err := decodeAddr(b[4:], byte(flags))
	if err != nil {
		return nil, err
	}
	hostkey := append([]byte{}, b[4+n:]...)
	return &TunnelBuild{Flags: flags, DestPort: destPort, DestAddr: addr, DestHostkey: hostkey}, nil
}

// TunnelReady is TUNNEL_READY: emitted to the control client once a
// tunnel is fully constructed and verified against its destination.
type TunnelReady struct {
	Reserved    uint16
	TunnelID    uint32
	DestHostkey []byte
}

func (f *TunnelReady) Tag() Tag { return TagTunnelReady }

func (f *TunnelReady) marshalBody() []byte {
	out := make([]byte, 6, 6+len(f.DestHostkey))
	binary.BigEndian.PutUint16(out[0:2], f.Reserved)
	binary.BigEndian.PutUint32(out[2:6], f.TunnelID)
	out = append(out, f.DestHostkey...)
	return out
}

func parseTunnelReady(b []byte) (Frame, error) {
	if len(b) < 6 {
		return nil, ErrTruncated
	}
	return &TunnelReady{
		Reserved:    binary.BigEndian.Uint16(b[0:2]),
		TunnelID:    binary.BigEndian.Uint32(b[2:6]),
		DestHostkey: append([]byte{}, b[6:]...),
	}, nil
}

// TunnelIncoming is TUNNEL_INCOMING: notifies the control client that a
// remote peer has extended a tunnel to this relay as an intermediate hop.
type TunnelIncoming struct {
	Reserved uint16
	TunnelID uint32
}

func (f *TunnelIncoming) Tag() Tag { return TagTunnelIncoming }

func (f *TunnelIncoming) marshalBody() []byte {
	out := make([]byte, 6)
	binary.BigEndian.PutUint16(out[0:2], f.Reserved)
	binary.BigEndian.PutUint32(out[2:6], f.TunnelID)
	return out
}

func parseTunnelIncoming(b []byte) (Frame, error) {
	if len(b) < 6 {
		return nil, ErrTruncated
	}
	return &TunnelIncoming{
		Reserved: binary.BigEndian.Uint16(b[0:2]),
		TunnelID: binary.BigEndian.Uint32(b[2:6]),
	}, nil
}

// TunnelDestroy is TUNNEL_DESTROY: torn down explicitly by the control
// client, or forwarded hop-to-hop by an intermediate relay.
type TunnelDestroy struct {
	Reserved uint16
	TunnelID uint32
}

func (f *TunnelDestroy) Tag() Tag { return TagTunnelDestroy }

func (f *TunnelDestroy) marshalBody() []byte {
	out := make([]byte, 6)
	binary.BigEndian.PutUint16(out[0:2], f.Reserved)
	binary.BigEndian.PutUint32(out[2:6], f.TunnelID)
	return out
}

func parseTunnelDestroy(b []byte) (Frame, error) {
	if len(b) < 6 {
		return nil, ErrTruncated
	}
	return &TunnelDestroy{
		Reserved: binary.BigEndian.Uint16(b[0:2]),
		TunnelID: binary.BigEndian.Uint32(b[2:6]),
	}, nil
}

// TunnelData is TUNNEL_DATA: a user payload flowing between the control
// client and the tunnel's first hop.
type TunnelData struct {
	Reserved uint16
	TunnelID uint32
	Payload  []byte
}

func (f *TunnelData) Tag() Tag { return TagTunnelData }

func (f *TunnelData) marshalBody() []byte {
	out := make([]byte, 6, 6+len(f.Payload))
	binary.BigEndian.PutUint16(out[0:2], f.Reserved)
	binary.BigEndian.PutUint32(out[2:6], f.TunnelID)
	out = append(out, f.Payload...)
	return out
}

func parseTunnelData(b []byte) (Frame, error) {
	if len(b) < 6 {
		return nil, ErrTruncated
	}
	return &TunnelData{
		Reserved: binary.BigEndian.Uint16(b[0:2]),
		TunnelID: binary.BigEndian.Uint32(b[2:6]),
		Payload:  append([]byte{}, b[6:]...),
	}, nil
}

// TunnelError is TUNNEL_ERROR: reports that requestType's handling for
// tunnelID failed unrecoverably.
type TunnelError struct {
	RequestType uint16
	Reserved    uint16
	TunnelID    uint32
}

func (f *TunnelError) Tag() Tag { return TagTunnelError }

func (f *TunnelError) marshalBody() []byte {
	out := make([]byte, 8)
	binary.BigEndian.PutUint16(out[0:2], f.RequestType)
	binary.BigEndian.PutUint16(out[2:4], f.Reserved)
	binary.BigEndian.PutUint32(out[4:8], f.TunnelID)
	return out
}

func parseTunnelError(b []byte) (Frame, error) {
	if len(b) < 8 {
		return nil, ErrTruncated
	}
	return &TunnelError{
		RequestType: binary.BigEndian.Uint16(b[0:2]),
		Reserved:    binary.BigEndian.Uint16(b[2:4]),
		TunnelID:    binary.BigEndian.Uint32(b[4:8]),
	}, nil
}

// TunnelCover is TUNNEL_COVER: requests coverSize bytes of cover traffic
// through an ephemeral tunnel. Legal only when no tunnel is active.
type TunnelCover struct {
	CoverSize uint16
	Reserved  uint16
}

func (f *TunnelCover) Tag() Tag { return TagTunnelCover }

func (f *TunnelCover) marshalBody() []byte {
	out := make([]byte, 4)
	binary.BigEndian.PutUint16(out[0:2], f.CoverSize)
	binary.BigEndian.PutUint16(out[2:4], f.Reserved)
	return out
}

func parseTunnelCover(b []byte) (Frame, error) {
	if len(b) < 4 {
		return nil, ErrTruncated
	}
	return &TunnelCover{
		CoverSize: binary.BigEndian.Uint16(b[0:2]),
		Reserved:  binary.BigEndian.Uint16(b[2:4]),
	}, nil
}

// RPSQuery is RPS_QUERY: an empty-bodied request for one random peer.
type RPSQuery struct{}

func (f *RPSQuery) Tag() Tag          { return TagRPSQuery }
func (f *RPSQuery) marshalBody() []byte { return nil }

func parseRPSQuery(b []byte) (Frame, error) {
	return &RPSQuery{}, nil
}

// RPSModule describes one module entry advertised alongside a sampled
// peer (module type and the port it listens on).
type RPSModule struct {
	ModuleType uint16
	Port       uint16
}

// RPSPeer is RPS_PEER: the random-peer-sampling service's reply to
// RPS_QUERY.
type RPSPeer struct {
	Port    uint16
	Flags   uint8
	Modules []RPSModule
	Addr    netip.Addr
	Hostkey []byte
}

func (f *RPSPeer) Tag() Tag { return TagRPSPeer }

func (f *RPSPeer) marshalBody() []byte {
	addrBytes, ver := encodeAddr(f.Addr)
	flags := (f.Flags &^ addrVerMask) | ver
	out := make([]byte, 4, 4+4*len(f.Modules)+len(addrBytes)+len(f.Hostkey))
	binary.BigEndian.PutUint16(out[0:2], f.Port)
	out[2] = byte(len(f.Modules))
	out[3] = flags
	for _, m := range f.Modules {
		var mb [4]byte
		binary.BigEndian.PutUint16(mb[0:2], m.ModuleType)
		binary.BigEndian.PutUint16(mb[2:4], m.Port)
		out = append(out, mb[:]...)
	}
	out = append(out, addrBytes...)
	out = append(out, f.Hostkey...)
	return out
}

func parseRPSPeer(b []byte) (Frame, error) {
	if len(b) < 4 {
		return nil, ErrTruncated
	}
	port := binary.BigEndian.Uint16(b[0:2])
	numModules := int(b[2])
	flags := b[3]
	off := 4
	if len(b) < off+4*numModules {
		return nil, ErrTruncated
	}
	modules := make([]RPSModule, 0, numModules)
	for i := 0; i < numModules; i++ {
		modules = append(modules, RPSModule{
			ModuleType: binary.BigEndian.Uint16(b[off : off+2]),
			Port:       binary.BigEndian.Uint16(b[off+2 : off+4]),
		})
		off += 4
	}
	addr, n, err := decodeAddr(b[off:], flags)
	if err != nil {
		return nil, err
	}
	off += n
	return &RPSPeer{
		Port:    port,
		Flags:   flags,
		Modules: modules,
		Addr:    addr,
		Hostkey: append([]byte{}, b[off:]...),
	}, nil
}
