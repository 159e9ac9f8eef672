// ids.go - Tunnel id width mapping.
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

// NarrowTunnelID maps a control-plane 32-bit tunnel id onto the 16-bit
// namespace used by the peer-to-peer API frames (the 9000 series). An
// initiator picks ids from the 16-bit range to begin with, so this is
// lossless for every id this relay itself allocates; see REDESIGN FLAG
// (d) for why the two widths are not assumed equivalent in general.
func NarrowTunnelID(id uint32) uint16 {
	return uint16(id)
}

// WidenTunnelID maps a 16-bit peer-to-peer tunnel id onto the 32-bit
// control-plane namespace by zero-extension. It is the inverse of
// NarrowTunnelID for any id that originated in the 16-bit range.
func WidenTunnelID(id uint16) uint32 {
	return uint32(id)
}
