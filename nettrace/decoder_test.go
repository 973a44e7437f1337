// Copyright 2024 The go-nettrace Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package nettrace

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func writeV3Header(w *byteWriter, processID int32) {
	w.i32(3) // fileFormatVersion
	w.i16(2024)
	w.i16(1)
	w.i16(0) // dayOfWeek, ignored
	w.i16(15)
	w.i16(12)
	w.i16(0)
	w.i16(0)
	w.i16(0)
	w.i64(1000) // syncTimeQPC
	w.i64(1_000_000) // qpcFrequency
	w.i32(8)    // pointerSize
	w.i32(processID)
	w.i32(1) // processorCount
	w.i32(0) // expectedCPUSamplingRate
}

func writeV3MetadataEvent(w *byteWriter, blob []byte) {
	w.i32(v3EventSize(int32(len(blob))))
	w.i32(0) // metadataId == 0 marks a metadata event
	w.i32(0) // threadId
	w.i64(0) // timestamp
	w.guid(GUID{})
	w.guid(GUID{})
	w.i32(int32(len(blob)))
	w.raw(blob)
	w.i32(0) // stackBytesSize
}

func writeV3NormalEvent(w *byteWriter, metadataID int32, threadID int32, timestamp int64, payload []byte) {
	w.i32(v3EventSize(int32(len(payload))))
	w.i32(metadataID)
	w.i32(threadID)
	w.i64(timestamp)
	w.guid(GUID{})
	w.guid(GUID{})
	w.i32(int32(len(payload)))
	w.raw(payload)
	w.i32(0) // stackBytesSize
}

// TestDecodeV3MinimalTrace is scenario S1: a flat V3 trace carrying one
// metadata event followed by one normal event decodes to exactly one
// dispatched EventRecord with the registered descriptor's fields.
func TestDecodeV3MinimalTrace(t *testing.T) {
	var w byteWriter
	writeV3Header(&w, 4242)

	blob := writeMetadataBlob(1, "My-Provider", 7, "RequestStart", 0xF0, 2, 4)
	writeV3MetadataEvent(&w, blob)
	writeV3NormalEvent(&w, 1, 99, 12345, []byte{1, 2, 3, 4})

	r := NewReaderFromSource(byteSliceSource(w.Bytes()))
	d := NewDecoder(r, Options{})

	sink := &capturingSink{}
	require.NoError(t, d.Run(sink))

	require.Len(t, sink.events, 1)
	ev := sink.events[0]
	require.Equal(t, uint16(7), ev.EventID)
	require.Equal(t, OpcodeStart, ev.Opcode)
	require.Equal(t, ProviderGUIDFromName("My-Provider"), ev.ProviderID)
	require.Equal(t, int64(99), ev.ThreadID)
	require.Equal(t, int64(12345), ev.Timestamp)
	require.Equal(t, 4242, ev.ProcessID)
	require.Equal(t, []byte{1, 2, 3, 4}, ev.Payload)

	stats := d.Stats()
	require.EqualValues(t, 1, stats.EventsDispatched)
	require.EqualValues(t, 0, stats.EventsLost)

	require.Equal(t, 3, d.Params().FileFormatVersion)
	require.Equal(t, 4242, d.Params().ProcessID)
}
