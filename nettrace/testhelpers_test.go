// Copyright 2024 The go-nettrace Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package nettrace

import (
	"bytes"
	"encoding/binary"
	"unicode/utf16"
)

// byteWriter is a tiny little-endian encoder shared by the decoder tests
// to hand-construct wire bytes, mirroring the primitive reads in
// reader.go.
type byteWriter struct {
	bytes.Buffer
}

func (w *byteWriter) u8(v uint8)   { w.WriteByte(v) }
func (w *byteWriter) i16(v int16)  { w.u16(uint16(v)) }
func (w *byteWriter) u16(v uint16) { binary.Write(w, binary.LittleEndian, v) }
func (w *byteWriter) i32(v int32)  { w.u32(uint32(v)) }
func (w *byteWriter) u32(v uint32) { binary.Write(w, binary.LittleEndian, v) }
func (w *byteWriter) i64(v int64)  { w.u64(uint64(v)) }
func (w *byteWriter) u64(v uint64) { binary.Write(w, binary.LittleEndian, v) }

func (w *byteWriter) guid(g GUID) { w.Write(g[:]) }

func (w *byteWriter) utf16nul(s string) {
	for _, u := range utf16.Encode([]rune(s)) {
		w.u16(u)
	}
	w.u16(0)
}

func (w *byteWriter) raw(b []byte) { w.Write(b) }

// varUInt writes v using the base-128 scheme varint.go decodes.
func (w *byteWriter) varUInt(v uint64) {
	for {
		b := byte(v & 0x7f)
		v >>= 7
		if v != 0 {
			b |= 0x80
		}
		w.u8(b)
		if v == 0 {
			return
		}
	}
}

// v3EventSize returns the eventSize field that makes readEventHeaderV3's
// totalNonHeaderSize come out to exactly payloadSize (no stack bytes
// beyond the trailing size field).
func v3EventSize(payloadSize int32) int32 {
	const headerSize = 56 - 4
	return payloadSize + headerSize - 4
}

// writeMetadataBlob encodes one metadata event payload per spec §4.5,
// with no parameter schema (the common "no parameters" case).
func writeMetadataBlob(metadataID int32, providerName string, eventID int32, eventName string, keywords int64, version, level int32) []byte {
	var w byteWriter
	w.i32(metadataID)
	w.utf16nul(providerName)
	w.i32(eventID)
	w.utf16nul(eventName)
	w.i64(keywords)
	w.i32(version)
	w.i32(level)
	return w.Bytes()
}

// capturingSink records every dispatched EventRecord and stack in order.
type capturingSink struct {
	events []*EventRecord
	stacks [][]byte
}

func (s *capturingSink) OnEvent(e *EventRecord) error {
	cp := *e
	cp.Payload = append([]byte(nil), e.Payload...)
	s.events = append(s.events, &cp)
	return nil
}

func (s *capturingSink) OnStack(e *EventRecord, stack []byte) error {
	s.stacks = append(s.stacks, append([]byte(nil), stack...))
	return nil
}
