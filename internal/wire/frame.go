// frame.go - Frame interface and common header.
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

import "encoding/binary"

// Frame is the common interface satisfied by every concrete frame body.
// Dispatchers match on a type switch over the concrete types rather than
// on Tag directly. Go does not check such a switch for exhaustiveness: a
// frame type with no case falls through to the switch's default branch.
type Frame interface {
	// Tag returns the frame's wire type.
	Tag() Tag
	// marshalBody renders the frame's body, excluding the common header.
	marshalBody() []byte
}

// Serialize renders f as a complete frame: the 4-byte length+type header
// followed by the body.
func Serialize(f Frame) []byte {
	body := f.marshalBody()
	out := make([]byte, HeaderLen+len(body))
	binary.BigEndian.PutUint16(out[0:2], uint16(HeaderLen+len(body)))
	binary.BigEndian.PutUint16(out[2:4], uint16(f.Tag()))
	copy(out[HeaderLen:], body)
	return out
}

// Parse decodes a complete frame (header and body) from b. It returns
// ErrTruncated if b does not contain as many bytes as the length header
// declares, and ErrUnknownType if the tag is not one of the fixed
// family. Parse never panics.
func Parse(b []byte) (Frame, error) {
	if len(b) < HeaderLen {
		return nil, ErrTruncated
	}
	length := binary.BigEndian.Uint16(b[0:2])
	tag := Tag(binary.BigEndian.Uint16(b[2:4]))
	if int(length) < HeaderLen || int(length) > len(b) {
		return nil, ErrTruncated
	}
	return parseBody(tag, b[HeaderLen:length])
}

func parseBody(tag Tag, body []byte) (Frame, error) {
	switch tag {
	case TagTunnelBuild:
		return parseTunnelBuild(body)
	case TagTunnelReady:
		return parseTunnelReady(body)
	case TagTunnelIncoming:
		return parseTunnelIncoming(body)
	case TagTunnelDestroy:
		return parseTunnelDestroy(body)
	case TagTunnelData:
		return parseTunnelData(body)
	case TagTunnelError:
		return parseTunnelError(body)
	case TagTunnelCover:
		return parseTunnelCover(body)
	case TagRPSQuery:
		return parseRPSQuery(body)
	case TagRPSPeer:
		return parseRPSPeer(body)
	case TagAPIPing:
		return parseAPIPing(body)
	case TagAPIPingResponse:
		return parseAPIPingResponse(body)
	case TagAPINextHopQuery:
		return parseAPINextHopQuery(body)
	case TagAPINextHopResp:
		return parseAPINextHopResponse(body)
	case TagAPIFinalHopQuery:
		return parseAPIFinalHopQuery(body)
	case TagAPIData:
		return parseAPIData(body)
	default:
		return nil, ErrUnknownType
	}
}
