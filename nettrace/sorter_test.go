// Copyright 2024 The go-nettrace Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package nettrace

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/go-nettrace/nettrace/internal/bufpool"
)

func newTestSorter(t *testing.T) (*EventSorter, *[]*PendingEvent) {
	t.Helper()
	var dispatched []*PendingEvent
	s := newEventSorter(bufpool.New(256, 4096), func(pe *PendingEvent) error {
		dispatched = append(dispatched, pe)
		return nil
	})
	return s, &dispatched
}

func enqueue(t *testing.T, s *EventSorter, threadID int64, seq uint32, ts int64, sorted bool) {
	t.Helper()
	h := &EventHeader{
		CaptureThreadID: threadID,
		SequenceNumber:  seq,
		Timestamp:       ts,
		IsSorted:        sorted,
	}
	require.NoError(t, s.Enqueue(h, &EventDescriptor{MetadataID: 1}))
}

// TestSorterCrossThreadOrder is scenario S4: two capture threads A and B.
// A emits ts=10,20 (unsorted); B emits ts=15 (sorted). Expected dispatch
// order: A@10, B@15, then A@20 released at end of stream.
func TestSorterCrossThreadOrder(t *testing.T) {
	s, dispatched := newTestSorter(t)

	enqueue(t, s, 1 /* A */, 1, 10, false)
	enqueue(t, s, 1 /* A */, 2, 20, false)
	enqueue(t, s, 2 /* B */, 1, 15, true)

	require.NoError(t, s.Flush())
	require.Len(t, *dispatched, 3)
	require.Equal(t, int64(10), (*dispatched)[0].Timestamp)
	require.Equal(t, int64(1), (*dispatched)[0].CaptureThreadID)
	require.Equal(t, int64(15), (*dispatched)[1].Timestamp)
	require.Equal(t, int64(2), (*dispatched)[1].CaptureThreadID)
	require.Equal(t, int64(20), (*dispatched)[2].Timestamp)
	require.Equal(t, int64(1), (*dispatched)[2].CaptureThreadID)
}

// TestSorterSequencePointGap is scenario S5: thread A dispatches
// sequenceNumber 1,2,3; an SPBlock declares A's sequenceNumber=10.
// Expected: eventsLost increments by 7; subsequent A events starting at
// 11 dispatch normally.
func TestSorterSequencePointGap(t *testing.T) {
	s, dispatched := newTestSorter(t)

	enqueue(t, s, 1, 1, 100, true)
	enqueue(t, s, 1, 2, 101, true)
	enqueue(t, s, 1, 3, 102, true)
	require.Len(t, *dispatched, 3)

	require.NoError(t, s.ProcessSequencePointBlock(102, []sequencePointEntry{
		{CaptureThreadID: 1, SequenceNumber: 10},
	}))
	require.EqualValues(t, 7, s.EventsLost())

	enqueue(t, s, 1, 11, 200, true)
	require.Len(t, *dispatched, 4)
	require.Equal(t, int64(200), (*dispatched)[3].Timestamp)
}

// TestSorterGlobalChronologicalOrder is testable property 1: every
// dispatched event's timestamp is >= the previous one's, across an
// interleaved multi-thread stream.
func TestSorterGlobalChronologicalOrder(t *testing.T) {
	s, dispatched := newTestSorter(t)

	enqueue(t, s, 1, 1, 5, false)
	enqueue(t, s, 2, 1, 3, false)
	// B's sorted checkpoint at ts=6 must be enqueued before A's at ts=8:
	// a sorted flag only promises "every older event on this thread has
	// already arrived", not anything about other threads.
	enqueue(t, s, 2, 2, 6, true)
	enqueue(t, s, 1, 2, 8, true)
	require.NoError(t, s.Flush())

	require.Len(t, *dispatched, 4)
	for i := 1; i < len(*dispatched); i++ {
		require.GreaterOrEqual(t, (*dispatched)[i].Timestamp, (*dispatched)[i-1].Timestamp)
	}
}

// TestSorterDuplicateAfterSequencePointDropped verifies the "drop any
// event with sequenceNumber <= lastDispatchedSeq" rule from
// ProcessSequencePointBlock: an event the barrier already retired must
// never be dispatched.
func TestSorterDuplicateAfterSequencePointDropped(t *testing.T) {
	s, dispatched := newTestSorter(t)

	// Timestamp is past the barrier's own timestamp, so releaseUpTo(100)
	// does not dispatch it before the per-entry drop check runs.
	enqueue(t, s, 1, 1, 150, false)
	require.Empty(t, *dispatched)

	require.NoError(t, s.ProcessSequencePointBlock(100, []sequencePointEntry{
		{CaptureThreadID: 1, SequenceNumber: 5},
	}))
	require.EqualValues(t, 5, s.EventsLost())

	// The pending seq=1 event is now <= the retired seq=5 and must be dropped,
	// not dispatched, once end of stream flushes everything else.
	require.NoError(t, s.Flush())
	require.Empty(t, *dispatched)
}
