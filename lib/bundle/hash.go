// Copyright 2026 The Warrant Authors
// SPDX-License-Identifier: Apache-2.0

package bundle

import (
	"encoding/binary"
	"encoding/hex"
	"sort"

	"github.com/zeebo/blake3"
)

// Hash is a 32-byte BLAKE3 digest of a bundle's canonical content.
type Hash [32]byte

// String returns the hex form used in IDs and logs.
func (h Hash) String() string {
	return hex.EncodeToString(h[:])
}

// contentDomainKey is the BLAKE3 keyed-hashing domain for bundle
// content. Domain separation keeps bundle hashes from colliding with
// hashes of the same bytes computed elsewhere. The value is the ASCII
// domain name zero-padded to 32 bytes, readable in hex dumps.
var contentDomainKey = [32]byte{
	'w', 'a', 'r', 'r', 'a', 'n', 't', '.', 'b', 'u', 'n', 'd', 'l', 'e', '.',
	'c', 'o', 'n', 't', 'e', 'n', 't', 0, 0, 0, 0, 0, 0, 0, 0, 0, 0,
}

// hashFiles computes the canonical content hash of a file set: names
// sorted, each name and content length-prefixed so that no two
// distinct file sets serialize to the same byte stream.
func hashFiles(files map[string][]byte) Hash {
	names := make([]string, 0, len(files))
	for name := range files {
		names = append(names, name)
	}
	sort.Strings(names)

	hasher, err := blake3.NewKeyed(contentDomainKey[:])
	if err != nil {
		panic("bundle: BLAKE3 keyed hash initialization failed: " + err.Error())
	}

	var length [8]byte
	writeChunk := func(chunk []byte) {
		binary.LittleEndian.PutUint64(length[:], uint64(len(chunk)))
		hasher.Write(length[:])
		hasher.Write(chunk)
	}
	for _, name := range names {
		writeChunk([]byte(name))
		writeChunk(files[name])
	}

	var hash Hash
	copy(hash[:], hasher.Sum(nil))
	return hash
}
