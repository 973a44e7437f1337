// Copyright 2024 The go-nettrace Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package nettrace

import "time"

var nettraceMagic = [8]byte{'N', 'e', 't', 't', 'r', 'a', 'c', 'e'}

// parsedHeader is the result of the Header Parser (spec §4.2): the trace
// parameters plus the V1/V2 forward reference to end-of-event-stream, if
// present.
type parsedHeader struct {
	params          TraceParameters
	isNetTrace      bool
	endOfEventsHint Pos // V1/V2 only; zero if unset
	hasEndOfEvents  bool
}

// parseHeader implements spec §4.2.
//
// Grounded on perffile/reader.go's New: peek/consume a fixed magic,
// branch on it, then sequentially decode the fixed preamble fields; the
// version-gated optional fields mirror perffile.readFileAttr's "read
// whatever the declared size says is present" pattern.
func parseHeader(r *StreamReader) (*parsedHeader, error) {
	magic, err := r.Peek(8)
	isNetTrace := err == nil && [8]byte(magic[:8]) == nettraceMagic
	if isNetTrace {
		if err := r.Skip(8); err != nil {
			return nil, err
		}
	}

	version, err := r.ReadI32()
	if err != nil {
		return nil, err
	}
	if (version >= 4) != isNetTrace {
		return nil, &ErrInvalidFormat{Reason: "fileFormatVersion/magic mismatch"}
	}

	var h parsedHeader
	h.isNetTrace = isNetTrace
	h.params.FileFormatVersion = int(version)

	year, err := r.ReadI16()
	if err != nil {
		return nil, err
	}
	month, err := r.ReadI16()
	if err != nil {
		return nil, err
	}
	if _, err := r.ReadI16(); err != nil { // dayOfWeek, ignored per spec §4.2
		return nil, err
	}
	day, err := r.ReadI16()
	if err != nil {
		return nil, err
	}
	hour, err := r.ReadI16()
	if err != nil {
		return nil, err
	}
	minute, err := r.ReadI16()
	if err != nil {
		return nil, err
	}
	second, err := r.ReadI16()
	if err != nil {
		return nil, err
	}
	ms, err := r.ReadI16()
	if err != nil {
		return nil, err
	}
	h.params.SyncTimeUTC = time.Date(int(year), time.Month(month), int(day),
		int(hour), int(minute), int(second), int(ms)*int(time.Millisecond), time.UTC)

	if h.params.SyncTimeQPC, err = r.ReadI64(); err != nil {
		return nil, err
	}
	if h.params.QPCFrequency, err = r.ReadI64(); err != nil {
		return nil, err
	}

	if version >= 3 {
		ptrSize, err := r.ReadI32()
		if err != nil {
			return nil, err
		}
		pid, err := r.ReadI32()
		if err != nil {
			return nil, err
		}
		nproc, err := r.ReadI32()
		if err != nil {
			return nil, err
		}
		sampleRate, err := r.ReadI32()
		if err != nil {
			return nil, err
		}
		h.params.PointerSize = int(ptrSize)
		h.params.ProcessID = int(pid)
		h.params.ProcessorCount = int(nproc)
		h.params.ExpectedCPUSamplingRate = int(sampleRate)
	} else {
		h.params.PointerSize = 8
		h.params.ProcessID = 0
		h.params.ProcessorCount = 1
	}

	if version < 3 {
		endOff, err := r.ReadU64()
		if err != nil {
			return nil, err
		}
		h.endOfEventsHint = Pos(endOff)
		h.hasEndOfEvents = true
	}

	return &h, nil
}
