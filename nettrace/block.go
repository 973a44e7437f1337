// Copyright 2024 The go-nettrace Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package nettrace

import (
	"io"

	"github.com/go-nettrace/nettrace/internal/bufpool"
)

// blockKind is the closed, small set of block tags the wire format uses.
// Per spec §9 this is modeled as a closed tagged variant, not an open
// plugin registry — the same shape perffile/records.go uses for its
// recordHeader.Type switch.
type blockKind int

const (
	blockUnknown blockKind = iota
	blockEventBlock
	blockMetadataBlock
	blockStackBlock
	blockSPBlock
)

func blockKindFromName(name string) blockKind {
	switch name {
	case "EventBlock":
		return blockEventBlock
	case "MetadataBlock":
		return blockMetadataBlock
	case "StackBlock":
		return blockStackBlock
	case "SPBlock":
		return blockSPBlock
	default:
		return blockUnknown
	}
}

// byteSliceSource adapts a plain byte slice to RandomAccessSource so a
// block's copied-out contents can be decoded through a bounded,
// independent StreamReader (the Block Framer must not let a nested
// decode's cursor interfere with the outer block loop's cursor).
type byteSliceSource []byte

func (b byteSliceSource) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 || off >= int64(len(b)) {
		return 0, io.EOF
	}
	n := copy(p, b[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

func (b byteSliceSource) Len() int64 { return int64(len(b)) }

func newBodyReader(body []byte) *StreamReader {
	return NewReaderFromSource(byteSliceSource(body))
}

// blockHandler receives each block's raw, copied-out contents, keyed by
// kind.
type blockHandler struct {
	onEventBlock    func(body []byte) error
	onMetadataBlock func(body []byte) error
	onStackBlock    func(body []byte) error
	onSPBlock       func(body []byte) error
}

// runBlockLoop implements the Block Framer for V4+ traces (spec §4.3):
// repeatedly read a named, length-prefixed, 4-byte-aligned block until the
// null-object marker (a block whose name length is zero).
//
// Grounded on perffile/records.go's Records.Next: read a fixed header,
// dispatch by tag, and defensively reseek to the declared end of the
// record regardless of how much the handler actually consumed.
func runBlockLoop(r *StreamReader, h blockHandler, pool *bufpool.Pool) error {
	for {
		wrapperStart := r.Position()
		nameLen, err := r.ReadU8()
		if err != nil {
			return err
		}
		if nameLen == 0 {
			return nil // null-object marker: end of block stream
		}
		nameBytes, err := r.Read(int(nameLen))
		if err != nil {
			return err
		}
		name := string(nameBytes)

		size, err := r.ReadU32()
		if err != nil {
			return err
		}
		if err := r.AlignTo4(wrapperStart); err != nil {
			return err
		}

		contentStart := r.Position()
		body := pool.Get(int(size))
		raw, err := r.Read(int(size))
		if err != nil {
			pool.Put(body)
			return err
		}
		copy(body, raw)

		var dispatchErr error
		switch blockKindFromName(name) {
		case blockEventBlock:
			if h.onEventBlock != nil {
				dispatchErr = h.onEventBlock(body)
			}
		case blockMetadataBlock:
			if h.onMetadataBlock != nil {
				dispatchErr = h.onMetadataBlock(body)
			}
		case blockStackBlock:
			if h.onStackBlock != nil {
				dispatchErr = h.onStackBlock(body)
			}
		case blockSPBlock:
			if h.onSPBlock != nil {
				dispatchErr = h.onSPBlock(body)
			}
		default:
			// Unknown block kind: skipped using its declared size
			// (spec §7, contained). Nothing to dispatch.
		}
		pool.Put(body)
		if dispatchErr != nil {
			return dispatchErr
		}

		// Defensive re-seek: trust the declared size over whatever the
		// handler actually consumed.
		if err := r.Goto(contentStart.Add(int64(size))); err != nil {
			return err
		}
		if err := r.AlignTo4(wrapperStart); err != nil {
			return err
		}
	}
}
