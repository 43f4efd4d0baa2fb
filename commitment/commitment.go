// Copyright (C) 2020-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package commitment implements the hybrid value commitment (spec.md
// §4.11, C11): a hash commitment bound to value, blinding, and recipient,
// with no elliptic-curve object and no homomorphism. Deliberately not
// grounded on _examples/original_source/src/hybrid_commit.rs (an
// EC/Ristretto scheme); spec.md §4.11 explicitly excludes that shape.
// Grounded instead on the KMAC-commitment idiom in
// _examples/original_source/src/stark_mini.rs's commitments module.
package commitment

import (
	"encoding/binary"

	"github.com/luxfi/consensus/khash"
)

// Commit computes KMAC("TX_OUTPUT.v1", value_LE(8) || blinding(32) ||
// recipient(32)).
func Commit(value uint64, blinding, recipient [32]byte) khash.Hash32 {
	var valueLE [8]byte
	binary.LittleEndian.PutUint64(valueLE[:], value)
	return khash.KMAC256(khash.LabelTxOutput, valueLE[:], blinding[:], recipient[:])
}

// Open reports whether c == Commit(value, blinding, recipient).
func Open(c khash.Hash32, value uint64, blinding, recipient [32]byte) bool {
	return Commit(value, blinding, recipient) == c
}
