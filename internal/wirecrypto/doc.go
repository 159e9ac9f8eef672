// doc.go - Package wirecrypto documentation.
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

// Package wirecrypto implements the onion relay's crypto box: public-key
// encryption of a frame to a peer's advertised hostkey, and the SHA-256
// fingerprint used to address API_DATA envelopes.
//
// The cipher primitive is curve25519-xsalsa20-poly1305 (NaCl box), the
// standard sealed-box construction for addressing a message to a
// recipient's public key with no prior handshake. Encrypt generates a
// fresh ephemeral keypair per call
// and prepends the ephemeral public key and nonce to the ciphertext, so
// the sender never needs a long-term keypair of its own to address a
// message at a recipient's hostkey.
package wirecrypto
