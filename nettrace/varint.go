// Copyright 2024 The go-nettrace Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package nettrace

// VarUInt decoding: 7 bits per byte, continuation bit 0x80, little-endian,
// per spec §4.4/GLOSSARY. Grounded on
// other_examples/8406b052_mknyszek-goat__parse.go.go's parseVarint, which
// decodes the same base-128 scheme for Go's runtime allocation trace
// format; generalized here to enforce the distinct 5-byte (u32) and
// 10-byte (u64) caps spec §4.4 calls for.
const (
	maxVarUInt32Bytes = 5
	maxVarUInt64Bytes = 10
)

func readVarUInt(r *StreamReader, maxBytes int) (uint64, error) {
	var result uint64
	var shift uint
	for i := 0; i < maxBytes; i++ {
		b, err := r.ReadU8()
		if err != nil {
			return 0, err
		}
		result |= uint64(b&0x7f) << shift
		if b&0x80 == 0 {
			return result, nil
		}
		shift += 7
	}
	return 0, &ErrMalformedVarInt{MaxBytes: maxBytes}
}

// readVarUInt32 decodes a VarUInt32, capped at 5 bytes.
func readVarUInt32(r *StreamReader) (uint32, error) {
	v, err := readVarUInt(r, maxVarUInt32Bytes)
	if err != nil {
		return 0, err
	}
	return uint32(v), nil
}

// readVarUInt64 decodes a VarUInt64, capped at 10 bytes.
func readVarUInt64(r *StreamReader) (uint64, error) {
	return readVarUInt(r, maxVarUInt64Bytes)
}
