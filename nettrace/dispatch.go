// Copyright 2024 The go-nettrace Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package nettrace

// EventRecord is the materialized, decoded event handed to a Sink (spec
// §4.9). Stack bytes are delivered separately through StackAwareSink
// rather than as a field here, so a Sink that does not care about stacks
// never receives them.
type EventRecord struct {
	ProviderID        GUID
	EventID           uint16
	Version           uint8
	Level             uint8
	Keywords          uint64
	Opcode            Opcode
	ThreadID          int64
	ProcessID         int
	ProcessorNumber   int32
	Timestamp         int64
	ActivityID        GUID
	RelatedActivityID GUID
	Payload           []byte
}

// Sink is the downstream dispatch collaborator spec §1 explicitly places
// out of scope: this module only needs to know how to hand it one event
// at a time.
//
// Grounded on perffile/records.go's Record interface and doc_test.go's
// Example (a plain callback consuming each decoded record in order).
type Sink interface {
	OnEvent(e *EventRecord) error
}

// StackAwareSink is the optional SPEC_FULL §3 supplement: a Sink that
// additionally wants the raw stack bytes an event carried, if any. This
// is purely additive — a Sink that does not implement it is never handed
// stack bytes. The decoder still resolves and, in V4+, copies an event's
// stack bytes whatever the sink type.
type StackAwareSink interface {
	Sink
	OnStack(e *EventRecord, stack []byte) error
}

// Dispatcher is the Dispatcher Adapter (spec §4.9): it materializes an
// EventRecord from a PendingEvent's header/descriptor/payload and hands it
// to the sink, wrapping the call in {startDispatch, stopDispatch}
// instrumentation when configured.
type Dispatcher struct {
	sink       Sink
	stackAware StackAwareSink // non-nil when sink also implements StackAwareSink
	processID  int
	instr      *RotatingLogger
}

func newDispatcher(sink Sink, processID int, instr *RotatingLogger) *Dispatcher {
	d := &Dispatcher{sink: sink, processID: processID, instr: instr}
	if sa, ok := sink.(StackAwareSink); ok {
		d.stackAware = sa
	}
	return d
}

// Dispatch delivers pe to the configured sink.
func (d *Dispatcher) Dispatch(pe *PendingEvent) error {
	d.instr.LogString("startDispatch")
	defer d.instr.LogString("stopDispatch")

	desc := pe.Descriptor
	rec := &EventRecord{
		ProviderID:        desc.ProviderID,
		EventID:           desc.EventID,
		Version:           desc.EventVersion,
		Level:             desc.Level,
		Keywords:          desc.Keywords,
		Opcode:            desc.Opcode,
		ThreadID:          pe.ThreadID,
		ProcessID:         d.processID,
		ProcessorNumber:   pe.ProcessorNumber,
		Timestamp:         pe.Timestamp,
		ActivityID:        pe.ActivityID,
		RelatedActivityID: pe.RelatedActivityID,
		Payload:           pe.Payload,
	}
	if err := d.sink.OnEvent(rec); err != nil {
		return err
	}
	if d.stackAware != nil && len(pe.Stack) > 0 {
		return d.stackAware.OnStack(rec, pe.Stack)
	}
	return nil
}
