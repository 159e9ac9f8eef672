// keyfile.go - On-disk hostkey keypair loading.
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
	"encoding/pem"
	"fmt"
	"os"
)

// pemBlockType is the PEM block type under which a relay's keypair is
// stored on disk. The file's public half is the hostkey a relay
// advertises to its peers; the private half never leaves this package.
const pemBlockType = "ONION RELAY KEYPAIR"

// LoadKeypairFile reads and PEM-decodes a keypair previously written by
// SaveKeypairFile. A missing hostkey file is a configuration error; it
// is returned as-is (wrapping os.ErrNotExist) rather than papered over
// by minting a fresh identity, since the caller is expected to treat a
// hostkey load failure as fatal at startup.
func LoadKeypairFile(path string) (*Keypair, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("wirecrypto: read hostkey %s: %w", path, err)
	}
	blk, _ := pem.Decode(raw)
	if blk == nil || blk.Type != pemBlockType {
		return nil, fmt.Errorf("wirecrypto: %s: not a valid hostkey file", path)
	}
	return KeypairFromBytes(blk.Bytes)
}

// SaveKeypairFile PEM-encodes kp and writes it to path with owner-only
// permissions, since the file carries the private half of the keypair.
func SaveKeypairFile(path string, kp *Keypair) error {
	blk := &pem.Block{Type: pemBlockType, Bytes: kp.Bytes()}
	return os.WriteFile(path, pem.EncodeToMemory(blk), 0600)
}
