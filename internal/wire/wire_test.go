// wire_test.go - Wire codec tests.
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
	"bytes"
	"net/netip"
	"testing"

	"github.com/stretchr/testify/require"
)

func payloadOfLen(n int) []byte {
	p := make([]byte, n)
	for i := range p {
		p[i] = byte(i)
	}
	return p
}

func fingerprintOf(b byte) [FingerprintLen]byte {
	var fp [FingerprintLen]byte
	for i := range fp {
		fp[i] = b
	}
	return fp
}

func TestRoundTripEveryFrame(t *testing.T) {
	v4 := netip.MustParseAddr("127.0.0.1")
	v6 := netip.MustParseAddr("::1")

	frames := []Frame{
		&TunnelBuild{Flags: 0, DestPort: 1400, DestAddr: v4, DestHostkey: []byte("hostkey-v4")},
		&TunnelBuild{Flags: 1, DestPort: 1400, DestAddr: v6, DestHostkey: []byte("hostkey-v6")},
		&TunnelReady{Reserved: 0, TunnelID: 42, DestHostkey: []byte("dest-hostkey")},
		&TunnelIncoming{Reserved: 0, TunnelID: 7},
		&TunnelDestroy{Reserved: 0, TunnelID: 42},
		&TunnelData{Reserved: 0, TunnelID: 42, Payload: []byte{}},
		&TunnelData{Reserved: 0, TunnelID: 42, Payload: payloadOfLen(1024)},
		&TunnelError{RequestType: 560, Reserved: 0, TunnelID: 42},
		&TunnelCover{CoverSize: 256, Reserved: 0},
		&RPSQuery{},
		&RPSPeer{Port: 4000, Flags: 0, Modules: []RPSModule{}, Addr: v4, Hostkey: []byte("peer-hostkey")},
		&RPSPeer{Port: 4000, Flags: 1, Modules: []RPSModule{{ModuleType: 1, Port: 4001}, {ModuleType: 2, Port: 4002}}, Addr: v6, Hostkey: []byte("peer-hostkey-v6")},
		&APIPing{TunnelID: 7, Hostkey: []byte("h")},
		&APIPingResponse{TunnelID: 7, Hostkey: payloadOfLen(16)},
		&APINextHopQuery{TunnelID: 7},
		&APINextHopResponse{TunnelID: 7, Reserved: 0, Hostkey: []byte("next-hop-hostkey")},
		&APIFinalHopQuery{TunnelID: 7, DestPort: 1400, Flags: 0, DestAddr: v4, DestHostkey: []byte("dest-hostkey")},
		&APIFinalHopQuery{TunnelID: 7, DestPort: 1400, Flags: 1, DestAddr: v6, DestHostkey: []byte("dest-hostkey-v6")},
		&APIData{TunnelID: 7, HopFingerprint: fingerprintOf(0xAB), Payload: []byte{}},
		&APIData{TunnelID: 7, HopFingerprint: fingerprintOf(0xCD), Payload: payloadOfLen(1)},
	}

	for _, f := range frames {
		serialized := Serialize(f)
		got, err := Parse(serialized)
		require.NoError(t, err)
		require.Equal(t, f, got)

		// ReadFrame over a stream must agree with Parse over the buffer.
		fromStream, err := ReadFrame(bytes.NewReader(serialized))
		require.NoError(t, err)
		require.Equal(t, f, fromStream)
	}
}

func TestParseTruncatedPrefixes(t *testing.T) {
	f := &TunnelReady{Reserved: 0, TunnelID: 99, DestHostkey: []byte("abcdefgh")}
	full := Serialize(f)

	for n := 0; n < len(full); n++ {
		_, err := Parse(full[:n])
		require.ErrorIs(t, err, ErrTruncated, "prefix length %d", n)
	}
}

func TestParseUnknownType(t *testing.T) {
	_, err := Parse([]byte{0x00, 0x04, 0xFF, 0xFF})
	require.ErrorIs(t, err, ErrUnknownType)
}

func TestParseEmptyInput(t *testing.T) {
	_, err := Parse(nil)
	require.ErrorIs(t, err, ErrTruncated)
}

func TestSerializeRoundTripsAcrossAddressVersionsAndLengths(t *testing.T) {
	v4 := netip.MustParseAddr("10.0.0.1")
	v6 := netip.MustParseAddr("2001:db8::1")
	for _, n := range []int{0, 1, 16, 1024} {
		f := &TunnelData{TunnelID: 1, Payload: payloadOfLen(n)}
		got, err := Parse(Serialize(f))
		require.NoError(t, err)
		require.Equal(t, f, got)
	}
	builds := []*TunnelBuild{
		{DestPort: 1, DestAddr: v4, DestHostkey: payloadOfLen(16)},
		{Flags: 1, DestPort: 1, DestAddr: v6, DestHostkey: payloadOfLen(16)},
	}
	for _, build := range builds {
		got, err := Parse(Serialize(build))
		require.NoError(t, err)
		require.Equal(t, build, got)
	}
}
