// address.go - Wire address encoding.
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

import "net/netip"

// encodeAddr renders addr as its 4- or 16-byte canonical wire form and
// reports which address-version bit to set alongside it.
func encodeAddr(addr netip.Addr) (b []byte, version byte) {
	if addr.Is4() || addr.Is4In6() {
		a4 := addr.As4()
		return a4[:], addrV4
	}
	a16 := addr.As16()
	return a16[:], addrV6
}

// decodeAddr parses the 4- or 16-byte address form selected by version
// from the front of b, returning the address and the number of bytes
// consumed.
func decodeAddr(b []byte, version byte) (netip.Addr, int, error) {
	switch version & addrVerMask {
	case addrV4:
		if len(b) < addrLenV4 {
			return netip.Addr{}, 0, ErrTruncated
		}
		var a [4]byte
		copy(a[:], b[:addrLenV4])
		return netip.AddrFrom4(a), addrLenV4, nil
	default:
		if len(b) < addrLenV6 {
			return netip.Addr{}, 0, ErrTruncated
		}
		var a [16]byte
		copy(a[:], b[:addrLenV6])
		return netip.AddrFrom16(a), addrLenV6, nil
	}
}
