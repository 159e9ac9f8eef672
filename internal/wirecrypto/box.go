// box.go - Sealed-box encryption and fingerprinting.
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

package wirecrypto

import (
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"io"

	"golang.org/x/crypto/nacl/box"
)

// KeyLen is the size, in bytes, of a curve25519 key.
const KeyLen = 32

// NonceLen is the size, in bytes, of a box nonce.
const NonceLen = 24

// overhead is the ephemeral public key plus nonce plus box.Overhead,
// the bytes every ciphertext carries in addition to the plaintext.
const overhead = KeyLen + NonceLen + box.Overhead

// ErrCrypto is returned when decryption fails, either because the
// ciphertext is malformed or because it was not sealed for the key
// presented to Decrypt.
var ErrCrypto = errors.New("wirecrypto: decryption failed")

// Hostkey is an opaque byte string: a peer's long-term public key, as
// advertised to other relays and carried on the wire.
type Hostkey []byte

// Fingerprint computes the SHA-256 digest of a hostkey's canonical byte
// representation. It is deterministic and used as a compact,
// address-independent identifier for a hop within a tunnel.
func Fingerprint(h Hostkey) [sha256.Size]byte {
	return sha256.Sum256(h)
}

// Keypair is a relay's long-term curve25519 keypair. The public half is
// the Hostkey this relay advertises; the private half is never
// serialized onto the wire.
type Keypair struct {
	priv [KeyLen]byte
	pub  [KeyLen]byte
}

// GenerateKeypair produces a fresh keypair using entropy from rnd.
func GenerateKeypair(rnd io.Reader) (*Keypair, error) {
	pub, priv, err := box.GenerateKey(rnd)
	if err != nil {
		return nil, err
	}
	return &Keypair{priv: *priv, pub: *pub}, nil
}

// KeypairFromBytes reconstructs a Keypair from the 64-byte
// concatenation of private key then public key produced by Bytes.
func KeypairFromBytes(b []byte) (*Keypair, error) {
	if len(b) != 2*KeyLen {
		return nil, errors.New("wirecrypto: keypair material must be 64 bytes")
	}
	kp := &Keypair{}
	copy(kp.priv[:], b[:KeyLen])
	copy(kp.pub[:], b[KeyLen:])
	return kp, nil
}

// Bytes serializes the keypair as private key || public key, suitable
// for PEM-encoding to disk.
func (k *Keypair) Bytes() []byte {
	out := make([]byte, 0, 2*KeyLen)
	out = append(out, k.priv[:]...)
	out = append(out, k.pub[:]...)
	return out
}

// PublicKey returns the hostkey this relay advertises.
func (k *Keypair) PublicKey() Hostkey {
	return Hostkey(append([]byte{}, k.pub[:]...))
}

// Encrypt seals plaintext so that only the holder of the private key
// matching recipient can recover it. plaintext is, in practice, always
// itself a serialized frame; the result is carried as the payload of an
// API_DATA envelope.
func Encrypt(plaintext []byte, recipient Hostkey) ([]byte, error) {
	if len(recipient) != KeyLen {
		return nil, errors.New("wirecrypto: recipient hostkey must be 32 bytes")
	}
	var recipientPub [KeyLen]byte
	copy(recipientPub[:], recipient)

	ephPub, ephPriv, err := box.GenerateKey(rand.Reader)
	if err != nil {
		return nil, err
	}
	var nonce [NonceLen]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return nil, err
	}

	sealed := box.Seal(nil, plaintext, &nonce, &recipientPub, ephPriv)

	out := make([]byte, 0, overhead+len(plaintext))
	out = append(out, ephPub[:]...)
	out = append(out, nonce[:]...)
	out = append(out, sealed...)
	return out, nil
}

// Decrypt opens a ciphertext produced by Encrypt using this relay's
// keypair. It fails if the ciphertext is too short to contain the
// envelope, or if it was not sealed for this keypair's public key.
func Decrypt(ciphertext []byte, myKeys *Keypair) ([]byte, error) {
	if len(ciphertext) < overhead {
		return nil, ErrCrypto
	}
	var ephPub [KeyLen]byte
	copy(ephPub[:], ciphertext[:KeyLen])
	var nonce [NonceLen]byte
	copy(nonce[:], ciphertext[KeyLen:KeyLen+NonceLen])
	sealed := ciphertext[KeyLen+NonceLen:]

	plaintext, ok := box.Open(nil, sealed, &nonce, &ephPub, &myKeys.priv)
	if !ok {
		return nil, ErrCrypto
	}
	return plaintext, nil
}
