// Copyright 2024 The go-nettrace Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package nettrace

import "time"

// TraceParameters holds the trace-wide parameters populated from the
// file-level entry object (spec §3).
type TraceParameters struct {
	// SyncTimeUTC is the wall-clock anchor for the trace.
	SyncTimeUTC time.Time
	// SyncTimeQPC is the monotonic counter value at SyncTimeUTC.
	SyncTimeQPC int64
	// QPCFrequency is the number of monotonic-counter ticks per second.
	QPCFrequency int64
	// PointerSize is 4 or 8, describing the trace source process.
	PointerSize             int
	ProcessID               int
	ProcessorCount          int
	ExpectedCPUSamplingRate int
	// FileFormatVersion governs all per-event parsing choices.
	FileFormatVersion int
}

// TimestampToUTC converts a raw QPC timestamp from this trace into wall
// clock time using SyncTimeUTC/SyncTimeQPC/QPCFrequency.
func (p *TraceParameters) TimestampToUTC(qpc int64) time.Time {
	if p.QPCFrequency == 0 {
		return p.SyncTimeUTC
	}
	deltaTicks := qpc - p.SyncTimeQPC
	seconds := float64(deltaTicks) / float64(p.QPCFrequency)
	return p.SyncTimeUTC.Add(time.Duration(seconds * float64(time.Second)))
}
