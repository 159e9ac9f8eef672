// codec.go - Frame read/write over a net.Conn.
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
	"fmt"
	"io"
)

// ReadFrame reads exactly one frame from r: the 4-byte header, then
// however many body bytes the header declares. It never reads a fixed
// guess-sized buffer, so a frame whose body is smaller or larger than
// any historical constant is handled identically.
func ReadFrame(r io.Reader) (Frame, error) {
	var hdr [HeaderLen]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, err
	}
	length := binary.BigEndian.Uint16(hdr[0:2])
	tag := Tag(binary.BigEndian.Uint16(hdr[2:4]))
	if int(length) < HeaderLen {
		return nil, fmt.Errorf("wire: %w: length %d shorter than header", ErrMalformed, length)
	}
	body := make([]byte, int(length)-HeaderLen)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, err
	}
	return parseBody(tag, body)
}

// WriteFrame serializes f and writes it to w in one call.
func WriteFrame(w io.Writer, f Frame) error {
	_, err := w.Write(Serialize(f))
	return err
}
