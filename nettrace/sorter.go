// Copyright 2024 The go-nettrace Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package nettrace

import (
	"container/heap"
	"math"

	"github.com/go-nettrace/nettrace/internal/bufpool"
)

// PendingEvent is a fully materialized event buffered in the sorter (spec
// §3). Once buffered, Payload and Stack are owned copies, never aliases
// into a reusable block buffer — spec §9 calls this "the single most
// important ownership decision in the port": a pointer-into-buffer header
// becomes a borrowed range that must be copied out the moment it is
// retained past the current block. The pre-V4 flat path dispatches a
// PendingEvent directly without buffering it; there Payload and Stack
// alias the Stream Reader's buffer.
type PendingEvent struct {
	Descriptor        *EventDescriptor
	ThreadID          int64
	CaptureThreadID   int64
	SequenceNumber    uint32
	ProcessorNumber   int32
	Timestamp         int64
	ActivityID        GUID
	RelatedActivityID GUID
	Payload           []byte
	Stack             []byte
}

// sequencePointEntry is one row of an SPBlock's per-thread table (spec
// §4.8's ProcessSequencePointBlock layout).
type sequencePointEntry struct {
	CaptureThreadID int64
	SequenceNumber  uint32
}

type threadQueue struct {
	lastDispatchedSeq uint32
	haveDispatched    bool
	pending           []*PendingEvent // FIFO: arrival order is sequence order (spec §4.8)
}

// readyHeap orders the head-of-queue pending event from each active
// capture thread by timestamp, so the sorter never has to scan every
// thread's queue to find the next event to release. Ties are broken by
// (captureThreadId, sequenceNumber), matching the tie-break spec §4.8
// specifies for ProcessSequencePointBlock.
type readyHeap []*PendingEvent

func (h readyHeap) Len() int { return len(h) }
func (h readyHeap) Less(i, j int) bool {
	if h[i].Timestamp != h[j].Timestamp {
		return h[i].Timestamp < h[j].Timestamp
	}
	if h[i].CaptureThreadID != h[j].CaptureThreadID {
		return h[i].CaptureThreadID < h[j].CaptureThreadID
	}
	return h[i].SequenceNumber < h[j].SequenceNumber
}
func (h readyHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }
func (h *readyHeap) Push(x any)   { *h = append(*h, x.(*PendingEvent)) }
func (h *readyHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return item
}

// EventSorter implements the Event Cache / Sorter (spec §4.8). Within an
// EventBlock, events from a single capture thread are monotonic in
// sequence number but threads are interleaved; the sorter buffers each
// thread's stream independently and merge-releases by timestamp so the
// Dispatcher Adapter always sees a single chronological sequence.
//
// Grounded on perffile/reader.go's Records(RecordsTimeOrder) two-pass
// sort.Stable(&timeSorter{...}), generalized from "sort once over a
// static slice" to a streaming per-thread priority queue, since this
// component must release events as they become eligible rather than
// after the whole file has been read. container/heap backs the
// cross-thread release ordering; the teacher's own sort.Stable approach
// does not fit a producer/consumer queue.
type EventSorter struct {
	threads  map[int64]*threadQueue
	ready    readyHeap
	pool     *bufpool.Pool
	dispatch func(*PendingEvent) error

	eventsLost int64 // saturating; reported capped at math.MaxInt32 (spec §4.8)
}

func newEventSorter(pool *bufpool.Pool, dispatch func(*PendingEvent) error) *EventSorter {
	return &EventSorter{
		threads:  make(map[int64]*threadQueue),
		pool:     pool,
		dispatch: dispatch,
	}
}

func (s *EventSorter) queueFor(captureThreadID int64) *threadQueue {
	q, ok := s.threads[captureThreadID]
	if !ok {
		q = &threadQueue{}
		s.threads[captureThreadID] = q
	}
	return q
}

// Enqueue copies h's payload/stack out of the caller's buffer and buffers
// the event under its capture thread. If h.IsSorted, every pending event
// across all threads with timestamp <= h.Timestamp becomes eligible for
// release and is dispatched in timestamp order — the sort invariant holds
// because a sorted event is only emitted once all older same-thread
// events have already appeared in the stream (spec §4.8).
func (s *EventSorter) Enqueue(h *EventHeader, desc *EventDescriptor) error {
	q := s.queueFor(h.CaptureThreadID)

	if q.haveDispatched && h.SequenceNumber <= q.lastDispatchedSeq {
		return nil // duplicate / already-retired: dropped silently.
	}

	if q.haveDispatched || len(q.pending) > 0 {
		expected := int64(q.lastDispatchedSeq) + int64(len(q.pending)) + 1
		if observed := int64(h.SequenceNumber); observed > expected {
			s.addEventsLost(observed - expected)
		}
	}

	pe := &PendingEvent{
		Descriptor:        desc,
		ThreadID:          h.ThreadID,
		CaptureThreadID:   h.CaptureThreadID,
		SequenceNumber:    h.SequenceNumber,
		ProcessorNumber:   h.CaptureProcessorNumber,
		Timestamp:         h.Timestamp,
		ActivityID:        h.ActivityID,
		RelatedActivityID: h.RelatedActivityID,
	}
	if len(h.Payload) > 0 {
		pe.Payload = s.pool.Get(len(h.Payload))
		copy(pe.Payload, h.Payload)
	}
	if len(h.StackBytes) > 0 {
		pe.Stack = s.pool.Get(len(h.StackBytes))
		copy(pe.Stack, h.StackBytes)
	}

	wasEmpty := len(q.pending) == 0
	q.pending = append(q.pending, pe)
	if wasEmpty {
		heap.Push(&s.ready, pe)
	}

	if h.IsSorted {
		return s.releaseUpTo(h.Timestamp)
	}
	return nil
}

// releaseUpTo dispatches every pending event, across all threads, whose
// timestamp is <= maxTimestamp, in global timestamp order.
func (s *EventSorter) releaseUpTo(maxTimestamp int64) error {
	for len(s.ready) > 0 && s.ready[0].Timestamp <= maxTimestamp {
		pe := heap.Pop(&s.ready).(*PendingEvent)
		q := s.threads[pe.CaptureThreadID]
		q.pending = q.pending[1:]
		q.lastDispatchedSeq = pe.SequenceNumber
		q.haveDispatched = true

		err := s.dispatch(pe)
		s.pool.Put(pe.Payload)
		s.pool.Put(pe.Stack)
		if err != nil {
			return err
		}

		if len(q.pending) > 0 {
			heap.Push(&s.ready, q.pending[0])
		}
	}
	return nil
}

// ProcessSequencePointBlock implements spec §4.8's hard barrier: flush
// every pending event up to and including timestamp, then resync each
// thread's lastDispatchedSeq from the table, accounting any forward gap
// into eventsLost and dropping any still-pending event the table marks
// as already retired.
func (s *EventSorter) ProcessSequencePointBlock(timestamp int64, entries []sequencePointEntry) error {
	if err := s.releaseUpTo(timestamp); err != nil {
		return err
	}

	for _, e := range entries {
		q := s.queueFor(e.CaptureThreadID)
		if e.SequenceNumber > q.lastDispatchedSeq {
			s.addEventsLost(int64(e.SequenceNumber) - int64(q.lastDispatchedSeq))
		}
		q.lastDispatchedSeq = e.SequenceNumber
		q.haveDispatched = true

		kept := q.pending[:0]
		for _, pe := range q.pending {
			if pe.SequenceNumber <= q.lastDispatchedSeq {
				s.pool.Put(pe.Payload)
				s.pool.Put(pe.Stack)
				continue
			}
			kept = append(kept, pe)
		}
		q.pending = kept
	}

	s.rebuildReadyHeap()
	return nil
}

// rebuildReadyHeap recomputes the ready heap from each thread's current
// queue head. Called after ProcessSequencePointBlock may have dropped the
// event a heap entry pointed at.
func (s *EventSorter) rebuildReadyHeap() {
	s.ready = s.ready[:0]
	for _, q := range s.threads {
		if len(q.pending) > 0 {
			s.ready = append(s.ready, q.pending[0])
		}
	}
	heap.Init(&s.ready)
}

// Flush releases everything remaining, in timestamp order. Called once at
// end of stream (spec §4.8).
func (s *EventSorter) Flush() error {
	return s.releaseUpTo(math.MaxInt64)
}

func (s *EventSorter) addEventsLost(n int64) {
	s.eventsLost += n
	if s.eventsLost > math.MaxInt32 {
		s.eventsLost = math.MaxInt32
	}
}

// EventsLost returns the saturating event-loss counter (spec §4.8).
func (s *EventSorter) EventsLost() int32 { return int32(s.eventsLost) }
