// Copyright 2024 The go-nettrace Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package nettrace

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func writeV4UncompressedEvent(w *byteWriter, metadataID int32, sorted bool, seq uint32, threadID, captureThreadID int64, cpu int32, timestamp int64, payload []byte) {
	raw := uint32(metadataID)
	if !sorted {
		raw |= 1 << 31
	}
	w.i32(0) // eventSize, unused by the V4 decode path
	w.u32(raw)
	w.u32(seq)
	w.i64(threadID)
	w.i64(captureThreadID)
	w.i32(cpu)
	w.i64(timestamp)
	w.guid(GUID{})
	w.guid(GUID{})
	w.i32(0) // stackId
	w.i32(int32(len(payload)))
	w.raw(payload)
}

// TestEventHeaderV4CompressedDelta is scenario S3: an uncompressed event
// establishes the baseline state, then a compressed event with the
// CaptureThreadAndSequence flag clear but a nonzero inherited metadataId
// advances the sequence number unconditionally by one, and applies its
// timestamp delta against the inherited timestamp.
func TestEventHeaderV4CompressedDelta(t *testing.T) {
	var w byteWriter
	writeV4UncompressedEvent(&w, 9, true, 5, 42, 9, 1, 1000, []byte{0xAA})

	r := newBodyReader(w.Bytes())
	h1, err := readEventHeaderV4Uncompressed(r)
	require.NoError(t, err)
	require.Equal(t, int32(9), h1.MetadataID)
	require.EqualValues(t, 5, h1.SequenceNumber)
	require.Equal(t, int64(9), h1.CaptureThreadID)
	require.Equal(t, int64(1000), h1.Timestamp)

	st := compressionState{
		have:              true,
		metadataID:        h1.MetadataID,
		sequenceNumber:    h1.SequenceNumber,
		captureThreadID:   h1.CaptureThreadID,
		captureProcessor:  h1.CaptureProcessorNumber,
		threadID:          h1.ThreadID,
		timestamp:         h1.Timestamp,
		stackID:           h1.StackID,
		payloadSize:       h1.PayloadSize,
		activityID:        h1.ActivityID,
		relatedActivityID: h1.RelatedActivityID,
	}

	var w2 byteWriter
	w2.u8(flagDataLength) // no metadataId/thread/stack/activity bits, no CaptureThreadAndSequence
	w2.varUInt(50)        // timestamp delta
	payload := []byte{1, 2, 3}
	w2.varUInt(uint64(len(payload)))
	w2.raw(payload)

	r2 := newBodyReader(w2.Bytes())
	h2, err := readEventHeaderV4Compressed(r2, &st)
	require.NoError(t, err)
	require.Equal(t, int32(9), h2.MetadataID, "metadataId is inherited, not reset")
	require.EqualValues(t, 6, h2.SequenceNumber, "flag clear but metadataId != 0 advances seq unconditionally by one")
	require.Equal(t, int64(9), h2.CaptureThreadID, "captureThreadId is inherited when the flag bit is clear")
	require.Equal(t, int64(1050), h2.Timestamp)
	require.Equal(t, payload, h2.Payload)
	require.False(t, h2.IsSorted, "flagSorted bit was not set")
}

// TestEventHeaderV4CompressedCaptureThreadAndSequence exercises the other
// sequence-advance path: when the flag IS set, the sequence number moves
// by (delta+1) and a fresh captureThreadId/captureProcessorNumber pair is
// read from the stream instead of being inherited.
func TestEventHeaderV4CompressedCaptureThreadAndSequence(t *testing.T) {
	st := compressionState{
		have:           true,
		metadataID:     3,
		sequenceNumber: 10,
		timestamp:      500,
	}

	var w byteWriter
	w.u8(flagCaptureThreadAndSequence | flagDataLength)
	w.varUInt(4) // delta+1 => sequenceNumber = 10 + 4 = 14
	w.varUInt(77) // new captureThreadId
	w.varUInt(2)  // new captureProcessorNumber
	w.varUInt(25) // timestamp delta
	w.varUInt(0)  // zero-length payload

	r := newBodyReader(w.Bytes())
	h, err := readEventHeaderV4Compressed(r, &st)
	require.NoError(t, err)
	require.EqualValues(t, 14, h.SequenceNumber)
	require.Equal(t, int64(77), h.CaptureThreadID)
	require.Equal(t, int32(2), h.CaptureProcessorNumber)
	require.Equal(t, int64(525), h.Timestamp)
}
