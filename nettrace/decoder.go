// Copyright 2024 The go-nettrace Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package nettrace

import (
	"github.com/go-nettrace/nettrace/internal/bufpool"
)

// Options configures a Decoder.
type Options struct {
	// Instrumentation, if non-nil, wraps stream reads and event dispatch
	// with {start,stop} timing hooks (spec §4.1, §4.9, §5). Construct one
	// with NewInstrumentationFromEnv or NewRotatingLogger; nil disables
	// it entirely with no overhead beyond a nil check.
	Instrumentation *RotatingLogger
	// BufferPool overrides the pool used to copy block and event bodies
	// out of the Stream Reader's retained window; nil uses
	// bufpool.Default.
	BufferPool *bufpool.Pool
}

// Stats exposes the decode pass's bookkeeping counters (SPEC_FULL §3:
// spec §4.8's event-loss accounting made queryable, mirroring how
// perffile.File exposes Meta alongside Records).
type Stats struct {
	EventsDispatched int64
	EventsLost       int32
	StacksInterned   int64
}

// Decoder is the top-level orchestration described by spec §2's data-flow
// diagram: Stream Reader -> Header Parser -> Block Framer -> (Metadata
// Registry | Event Cache/Sorter | Stack Cache) -> Dispatcher Adapter ->
// Sink.
//
// Grounded on perffile/reader.go's File/New/Open construction pattern:
// scoped acquisition of the registry, stack cache, and sorter, with
// guaranteed release on every exit path including aborts (spec §5).
type Decoder struct {
	r    *StreamReader
	opts Options
	pool *bufpool.Pool

	registry *MetadataRegistry
	stacks   *StackCache
	sorter   *EventSorter

	params           TraceParameters
	stacksInterned   int64
	eventsDispatched int64
	eventsLost       int32 // sorter's count, kept once Run releases the sorter
}

// NewDecoder wraps r (from NewReaderFromSource or NewReaderFromStream)
// with the given Options. The decoder is single-threaded cooperative
// (spec §5): one call to Run drives the stream to completion.
func NewDecoder(r *StreamReader, opts Options) *Decoder {
	pool := opts.BufferPool
	if pool == nil {
		pool = bufpool.Default
	}
	return &Decoder{
		r:        r,
		opts:     opts,
		pool:     pool,
		registry: newMetadataRegistry(),
		stacks:   newStackCache(),
	}
}

// Params returns the trace-wide parameters decoded from the file header.
// Populated once Run's Header Parser step completes; the zero value
// beforehand.
func (d *Decoder) Params() TraceParameters { return d.params }

// Stats returns the decoder's bookkeeping counters. Meaningful once Run
// has returned (or, for a long-running decode, as a snapshot at any point
// after Run has started — the caller must not call Stats concurrently
// with Run, per spec §5's single-threaded model).
func (d *Decoder) Stats() Stats {
	lost := d.eventsLost
	if d.sorter != nil {
		lost = d.sorter.EventsLost()
	}
	return Stats{
		EventsDispatched: d.eventsDispatched,
		EventsLost:       lost,
		StacksInterned:   d.stacksInterned,
	}
}

// Run drives the stream to completion, delivering every decoded event to
// sink in chronological order (spec §8 property 1). On any
// non-contained error (spec §7) it aborts the pass and returns the error;
// on success it returns nil once the block stream (or, pre-V4, the event
// stream) is exhausted.
//
// All internal resources — the metadata registry, stack cache, and
// sorter's pending queues — are released when Run returns, on every exit
// path (spec §5).
func (d *Decoder) Run(sink Sink) (err error) {
	defer func() {
		if d.sorter != nil {
			d.eventsLost = d.sorter.EventsLost()
		}
		d.registry = nil
		d.stacks = nil
		d.sorter = nil
	}()

	hdr, err := parseHeader(d.r)
	if err != nil {
		return err
	}
	d.params = hdr.params
	disp := newDispatcher(sink, hdr.params.ProcessID, d.opts.Instrumentation)

	if hdr.params.FileFormatVersion >= 4 {
		return d.runBlockFramed(disp)
	}
	return d.runFlat(hdr, disp)
}

// runFlat implements the V1–V3 "no block wrapper" framing (spec §4.3):
// fixed-layout events (or a metadata event, when metadataId == 0) are
// concatenated directly. V1/V2 stop at the forward-referenced
// end-of-event-stream offset; V3 has no such reference and instead runs
// until the Stream Reader reports Truncated at end of stream, exactly as
// spec §4.3 describes.
func (d *Decoder) runFlat(hdr *parsedHeader, disp *Dispatcher) error {
	for {
		if hdr.hasEndOfEvents && !d.r.Position().Less(hdr.endOfEventsHint) {
			return nil
		}

		d.opts.Instrumentation.LogString("startRead")
		h, err := readEventHeaderV3(d.r)
		d.opts.Instrumentation.LogString("stopRead")
		if err != nil {
			if !hdr.hasEndOfEvents {
				if _, ok := err.(*ErrTruncated); ok {
					return nil
				}
			}
			return err
		}
		if err := d.handleDecodedHeader(h, disp, nil); err != nil {
			return err
		}
	}
}

// runBlockFramed implements the V4+ block-structured framing (spec
// §4.3/§4.8): a Block Framer loop dispatches by block kind, with
// MetadataBlock feeding the registry, EventBlock feeding the sorter,
// StackBlock feeding the stack cache, and SPBlock flushing both the
// sorter and the stack cache.
func (d *Decoder) runBlockFramed(disp *Dispatcher) error {
	sorter := newEventSorter(d.pool, func(pe *PendingEvent) error {
		if err := disp.Dispatch(pe); err != nil {
			return err
		}
		d.eventsDispatched++
		return nil
	})
	d.sorter = sorter

	handler := blockHandler{
		onMetadataBlock: d.processMetadataBlock,
		onEventBlock: func(body []byte) error {
			return d.processEventBlock(body, sorter)
		},
		onStackBlock: func(body []byte) error {
			n, err := d.stacks.processStackBlock(body)
			d.stacksInterned += int64(n)
			return err
		},
		onSPBlock: func(body []byte) error {
			if err := d.processSPBlock(body, sorter); err != nil {
				return err
			}
			d.stacks.Flush()
			return nil
		},
	}

	d.opts.Instrumentation.LogString("startRead")
	err := runBlockLoop(d.r, handler, d.pool)
	d.opts.Instrumentation.LogString("stopRead")
	if err != nil {
		return err
	}
	return sorter.Flush()
}

// blockHeaderPrefix reads the common MetadataBlock/EventBlock prefix
// (spec §6): headerSize:i16 (>= 20), flags:i16, minTimestamp:i64,
// maxTimestamp:i64, then positions r at blockStart+headerSize.
func blockHeaderPrefix(r *StreamReader) (flags int16, err error) {
	blockStart := r.Position()
	headerSize, err := r.ReadI16()
	if err != nil {
		return 0, err
	}
	if headerSize < 20 {
		return 0, &ErrInvalidFormat{Reason: "block headerSize below minimum"}
	}
	if flags, err = r.ReadI16(); err != nil {
		return 0, err
	}
	if _, err := r.ReadI64(); err != nil { // minTimestamp, unused here
		return 0, err
	}
	if _, err := r.ReadI64(); err != nil { // maxTimestamp, unused here
		return 0, err
	}
	if err := r.Goto(blockStart.Add(int64(headerSize))); err != nil {
		return 0, err
	}
	return flags, nil
}

// processMetadataBlock decodes a MetadataBlock's concatenated metadata
// events and registers each one (spec §4.3/§4.5/§6).
func (d *Decoder) processMetadataBlock(body []byte) error {
	r := newBodyReader(body)
	if _, err := blockHeaderPrefix(r); err != nil {
		return err
	}

	for {
		if _, err := r.Peek(1); err != nil {
			return nil
		}
		h, err := readEventHeaderV4Uncompressed(r)
		if err != nil {
			return err
		}
		if h.MetadataID != 0 {
			return &ErrInvalidFormat{Reason: "metadata block event carries non-zero metadataId"}
		}
		if _, err := d.registry.parseMetadataBlob(h.Payload); err != nil {
			return err
		}
	}
}

// processEventBlock decodes an EventBlock's concatenated event headers
// (flag bit 0 selects per-event delta compression, spec §6) and enqueues
// each normal event into the sorter.
func (d *Decoder) processEventBlock(body []byte, sorter *EventSorter) error {
	r := newBodyReader(body)
	flags, err := blockHeaderPrefix(r)
	if err != nil {
		return err
	}
	compressed := flags&1 != 0

	var st compressionState
	for {
		if _, err := r.Peek(1); err != nil {
			return nil
		}
		var h *EventHeader
		if compressed {
			h, err = readEventHeaderV4Compressed(r, &st)
		} else {
			h, err = readEventHeaderV4Uncompressed(r)
		}
		if err != nil {
			return err
		}
		if h.StackID != 0 {
			if b, ok := d.stacks.TryGetStack(h.StackID); ok {
				h.StackBytes = b
				h.StackBytesSize = int32(len(b))
			}
		}
		if err := d.handleDecodedHeader(h, nil, sorter); err != nil {
			return err
		}
	}
}

// processSPBlock decodes an SPBlock (spec §4.8): timestamp:i64,
// threadCount:i32, then threadCount x { captureThreadId:i64,
// sequenceNumber:i32 }.
func (d *Decoder) processSPBlock(body []byte, sorter *EventSorter) error {
	r := newBodyReader(body)
	timestamp, err := r.ReadI64()
	if err != nil {
		return err
	}
	threadCount, err := r.ReadI32()
	if err != nil {
		return err
	}
	if threadCount < 0 {
		return &ErrInvalidFormat{Reason: "sequence point threadCount negative"}
	}
	entries := make([]sequencePointEntry, 0, threadCount)
	for i := int32(0); i < threadCount; i++ {
		tid, err := r.ReadI64()
		if err != nil {
			return err
		}
		seq, err := r.ReadI32()
		if err != nil {
			return err
		}
		entries = append(entries, sequencePointEntry{CaptureThreadID: tid, SequenceNumber: uint32(seq)})
	}
	return sorter.ProcessSequencePointBlock(timestamp, entries)
}

// handleDecodedHeader implements spec §4.4's metadata-vs-normal-event
// split once a header is decoded, regardless of which framing produced
// it. A nil metadataId registers the payload as a schema; an unknown
// metadataId is dropped silently (spec §4.4, §7); otherwise the event
// either goes straight to the dispatcher (pre-V4, no sorting required) or
// is buffered in sorter (V4+).
func (d *Decoder) handleDecodedHeader(h *EventHeader, disp *Dispatcher, sorter *EventSorter) error {
	if h.MetadataID == 0 {
		_, err := d.registry.parseMetadataBlob(h.Payload)
		return err
	}

	desc := d.registry.Lookup(h.MetadataID)
	if desc == nil {
		return nil // UnknownMetadataId: contained (spec §7).
	}

	if sorter != nil {
		return sorter.Enqueue(h, desc)
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
		Payload:           h.Payload,
		Stack:             h.StackBytes,
	}
	if err := disp.Dispatch(pe); err != nil {
		return err
	}
	d.eventsDispatched++
	return nil
}
