// doc.go - Package wire documentation.
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

// Package wire implements the onion relay's binary frame codec.
//
// Every frame on the wire begins with a 4-byte common header: a 16-bit
// big-endian length covering the whole frame (header + body) followed by a
// 16-bit big-endian type tag. The tag selects one of the fixed frame
// bodies enumerated in constants.go. Parse never panics on
// short or malformed input; unrecognized tags are reported as
// ErrUnknownType rather than propagated as a partially-decoded frame.
package wire
