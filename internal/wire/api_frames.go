// api_frames.go - Peer-API (9000-series) frame bodies.
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

// APIPing is API_PING: the first frame sent to a freshly-connected peer,
// introducing the sender's hostkey and the tunnel id it wants to use.
type APIPing struct {
	TunnelID uint16
	Hostkey  []byte
}

func (f *APIPing) Tag() Tag { return TagAPIPing }

func (f *APIPing) marshalBody() []byte {
	out := make([]byte, 2, 2+len(f.Hostkey))
	binary.BigEndian.PutUint16(out[0:2], f.TunnelID)
	out = append(out, f.Hostkey...)
	return out
}

func parseAPIPing(b []byte) (Frame, error) {
	if len(b) < 2 {
		return nil, ErrTruncated
	}
	return &APIPing{
		TunnelID: binary.BigEndian.Uint16(b[0:2]),
		Hostkey:  append([]byte{}, b[2:]...),
	}, nil
}

// APIPingResponse is API_PING_RESPONSE: the reply to API_PING, carrying
// the responder's own hostkey.
type APIPingResponse struct {
	TunnelID uint16
	Hostkey  []byte
}

func (f *APIPingResponse) Tag() Tag { return TagAPIPingResponse }

func (f *APIPingResponse) marshalBody() []byte {
	out := make([]byte, 2, 2+len(f.Hostkey))
	binary.BigEndian.PutUint16(out[0:2], f.TunnelID)
	out = append(out, f.Hostkey...)
	return out
}

func parseAPIPingResponse(b []byte) (Frame, error) {
	if len(b) < 2 {
		return nil, ErrTruncated
	}
	return &APIPingResponse{
		TunnelID: binary.BigEndian.Uint16(b[0:2]),
		Hostkey:  append([]byte{}, b[2:]...),
	}, nil
}

// APINextHopQuery is API_NEXT_HOP_QUERY: asks a hop to extend the tunnel
// by one more relay drawn from the peer source.
type APINextHopQuery struct {
	TunnelID uint16
}

func (f *APINextHopQuery) Tag() Tag { return TagAPINextHopQuery }

func (f *APINextHopQuery) marshalBody() []byte {
	out := make([]byte, 2)
	binary.BigEndian.PutUint16(out[0:2], f.TunnelID)
	return out
}

func parseAPINextHopQuery(b []byte) (Frame, error) {
	if len(b) < 2 {
		return nil, ErrTruncated
	}
	return &APINextHopQuery{TunnelID: binary.BigEndian.Uint16(b[0:2])}, nil
}

// APINextHopResponse is API_NEXT_HOP_RESPONSE: the reply to both
// API_NEXT_HOP_QUERY and API_FINAL_HOP_QUERY, carrying the hostkey of
// the hop that was just connected.
type APINextHopResponse struct {
	TunnelID uint16
	Reserved uint16
	Hostkey  []byte
}

func (f *APINextHopResponse) Tag() Tag { return TagAPINextHopResp }

func (f *APINextHopResponse) marshalBody() []byte {
	out := make([]byte, 4, 4+len(f.Hostkey))
	binary.BigEndian.PutUint16(out[0:2], f.TunnelID)
	binary.BigEndian.PutUint16(out[2:4], f.Reserved)
	out = append(out, f.Hostkey...)
	return out
}

func parseAPINextHopResponse(b []byte) (Frame, error) {
	if len(b) < 4 {
		return nil, ErrTruncated
	}
	return &APINextHopResponse{
		TunnelID: binary.BigEndian.Uint16(b[0:2]),
		Reserved: binary.BigEndian.Uint16(b[2:4]),
		Hostkey:  append([]byte{}, b[4:]...),
	}, nil
}

// APIFinalHopQuery is API_FINAL_HOP_QUERY: like API_NEXT_HOP_QUERY, but
// the next hop is the tunnel's destination rather than a peer drawn from
// the peer source.
//
// The hostkey field starts at frame offset 14 for an IPv4 destination
// (after the 4-byte header, 2-byte tunnel id, 2-byte port, 2-byte flags,
// and 4-byte address) or offset 26 for IPv6 (16-byte address); that is,
// body offset 10 or 22. An earlier draft of this
// parser used fixed IPv4 offsets that overlapped the address bytes with
// the hostkey; see REDESIGN FLAG (b).
type APIFinalHopQuery struct {
	TunnelID    uint16
	DestPort    uint16
	Flags       uint16
	DestAddr    netip.Addr
	DestHostkey []byte
}

func (f *APIFinalHopQuery) Tag() Tag { return TagAPIFinalHopQuery }

func (f *APIFinalHopQuery) marshalBody() []byte {
	addrBytes, ver := encodeAddr(f.DestAddr)
	flags := (f.Flags &^ addrVerMask) | uint16(ver)
	out := make([]byte, 6, 6+len(addrBytes)+len(f.DestHostkey))
	binary.BigEndian.PutUint16(out[0:2], f.TunnelID)
	binary.BigEndian.PutUint16(out[2:4], f.DestPort)
	binary.BigEndian.PutUint16(out[4:6], flags)
	out = append(out, addrBytes...)
	out = append(out, f.DestHostkey...)
	return out
}

func parseAPIFinalHopQuery(b []byte) (Frame, error) {
	if len(b) < 6 {
		return nil, ErrTruncated
	}
	tunnelID := binary.BigEndian.Uint16(b[0:2])
	destPort := binary.BigEndian.Uint16(b[2:4])
	flags := binary.BigEndian.Uint16(b[4:6])
	addr, n, err := decodeAddr(b[6:], byte(flags))
	if err != nil {
		return nil, err
	}
	return &APIFinalHopQuery{
		TunnelID:    tunnelID,
		DestPort:    destPort,
		Flags:       flags,
		DestAddr:    addr,
		DestHostkey: append([]byte{}, b[6+n:]...),
	}, nil
}

// APIData is API_DATA: an onion-encrypted envelope. hopFingerprint
// addresses the frame at one specific hop's hostkey so that every
// intermediate relay can decide, in O(1), whether to peel a layer or
// forward verbatim; see Fingerprint and the forward-or-terminate rule.
type APIData struct {
	TunnelID       uint16
	HopFingerprint [FingerprintLen]byte
	Payload        []byte
}

func (f *APIData) Tag() Tag { return TagAPIData }

func (f *APIData) marshalBody() []byte {
	out := make([]byte, 2+FingerprintLen, 2+FingerprintLen+len(f.Payload))
	binary.BigEndian.PutUint16(out[0:2], f.TunnelID)
	copy(out[2:2+FingerprintLen], f.HopFingerprint[:])
	out = append(out, f.Payload...)
	return out
}

func parseAPIData(b []byte) (Frame, error) {
	if len(b) < 2+FingerprintLen {
		return nil, ErrTruncated
	}
	f := &APIData{
		TunnelID: binary.BigEndian.Uint16(b[0:2]),
		Payload:  append([]byte{}, b[2+FingerprintLen:]...),
	}
	copy(f.HopFingerprint[:], b[2:2+FingerprintLen])
	return f, nil
}
