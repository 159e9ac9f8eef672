// crypto.go - Outbound encrypted frame helpers.
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
	"github.com/katzenpost/onionrelay/internal/wire"
	"github.com/katzenpost/onionrelay/internal/wirecrypto"
)

// sendEncryptedBytes wraps plaintext in a single confidentiality layer
// addressed to recipient and writes the resulting API_DATA on c. Every
// construction message and every application payload, in either
// direction, goes out through this one path.
func (r *Relay) sendEncryptedBytes(c *conn, tunnelID16 uint16, recipient wirecrypto.Hostkey, plaintext []byte) error {
	ciphertext, err := wirecrypto.Encrypt(plaintext, recipient)
	if err != nil {
		return err
	}
	env := &wire.APIData{
		TunnelID:       tunnelID16,
		HopFingerprint: wirecrypto.Fingerprint(recipient),
		Payload:        ciphertext,
	}
	return c.WriteFrame(env)
}

func (r *Relay) sendEncryptedFrame(c *conn, tunnelID16 uint16, recipient wirecrypto.Hostkey, f wire.Frame) error {
	return r.sendEncryptedBytes(c, tunnelID16, recipient, wire.Serialize(f))
}
