// Copyright 2024 The go-nettrace Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package nettrace

// v3PayloadSizeBound is the upper bound spec §9 requires to be preserved
// bug-for-bug: the original emitter used 0x20000 rather than the documented
// 0x10000 (attributed to a known bug affecting
// BulkSurvivingObjectRanges). Do not "fix" this to 0x10000.
const v3PayloadSizeBound = 0x20000

const maxStackBytesSize = 800

// compression flag bits, LSB first, per spec §4.4.
const (
	flagMetadataID uint8 = 1 << iota
	flagCaptureThreadAndSequence
	flagThreadID
	flagStackID
	flagActivityID
	flagRelatedActivityID
	flagSorted
	flagDataLength
)

// EventHeader is the uniform, version-independent decoded event header
// (spec §3).
type EventHeader struct {
	EventSize              int32
	MetadataID             int32
	IsSorted               bool
	SequenceNumber         uint32
	CaptureThreadID        int64
	CaptureProcessorNumber int32
	ThreadID               int64
	Timestamp              int64
	ActivityID             GUID
	RelatedActivityID      GUID
	PayloadSize            int32
	Payload                []byte
	StackID                int32
	StackBytesSize         int32
	StackBytes             []byte
	HeaderSize             int32
	TotalNonHeaderSize     int32
}

// compressionState carries the inherited fields a compressed event delta
// applies against; it is reset at each EventBlock boundary (spec §4.8).
type compressionState struct {
	have              bool
	metadataID        int32
	sequenceNumber    uint32
	captureThreadID   int64
	captureProcessor  int32
	threadID          int64
	timestamp         int64
	stackID           int32
	payloadSize       int32
	activityID        GUID
	relatedActivityID GUID
}

// readEventHeaderV3 decodes the fixed V3 layout (spec §4.4).
func readEventHeaderV3(r *StreamReader) (*EventHeader, error) {
	var h EventHeader
	var err error
	if h.EventSize, err = r.ReadI32(); err != nil {
		return nil, err
	}
	if h.MetadataID, err = r.ReadI32(); err != nil {
		return nil, err
	}
	threadID, err := r.ReadI32()
	if err != nil {
		return nil, err
	}
	h.ThreadID = int64(threadID)
	if h.Timestamp, err = r.ReadI64(); err != nil {
		return nil, err
	}
	if h.ActivityID, err = r.ReadGUID(); err != nil {
		return nil, err
	}
	if h.RelatedActivityID, err = r.ReadGUID(); err != nil {
		return nil, err
	}
	if h.PayloadSize, err = r.ReadI32(); err != nil {
		return nil, err
	}

	// headerSize = sizeof(header) - 4: eventSize(4) + metadataId(4) +
	// threadId(4) + timestamp(8) + activityId(16) + relatedActivityId(16)
	// + payloadSize(4) = 56, minus the trailing variable-length slot's
	// own 4-byte count field.
	h.HeaderSize = 56 - 4
	h.TotalNonHeaderSize = h.EventSize + 4 - h.HeaderSize

	if h.PayloadSize < 0 || h.PayloadSize > h.TotalNonHeaderSize || h.TotalNonHeaderSize >= v3PayloadSizeBound {
		return nil, &ErrInvalidFormat{Reason: "V3 event payload size out of range"}
	}
	payload, err := r.Read(int(h.PayloadSize))
	if err != nil {
		return nil, err
	}
	h.Payload = payload

	stackSize, err := r.ReadI32()
	if err != nil {
		return nil, err
	}
	h.StackBytesSize = stackSize
	if h.StackBytesSize < 0 || h.StackBytesSize > maxStackBytesSize {
		return nil, &ErrInvalidFormat{Reason: "V3 stack bytes size out of range"}
	}
	stackBytes, err := r.Read(int(h.StackBytesSize))
	if err != nil {
		return nil, err
	}
	h.StackBytes = stackBytes
	return &h, nil
}

// readEventHeaderV4Uncompressed decodes the V4+ uncompressed layout.
func readEventHeaderV4Uncompressed(r *StreamReader) (*EventHeader, error) {
	var h EventHeader
	var err error
	if h.EventSize, err = r.ReadI32(); err != nil {
		return nil, err
	}
	rawMetadataID, err := r.ReadI32()
	if err != nil {
		return nil, err
	}
	h.IsSorted = rawMetadataID&(1<<31) == 0
	h.MetadataID = rawMetadataID &^ (1 << 31)

	seq, err := r.ReadU32()
	if err != nil {
		return nil, err
	}
	h.SequenceNumber = seq
	if h.ThreadID, err = r.ReadI64(); err != nil {
		return nil, err
	}
	if h.CaptureThreadID, err = r.ReadI64(); err != nil {
		return nil, err
	}
	cpu, err := r.ReadI32()
	if err != nil {
		return nil, err
	}
	h.CaptureProcessorNumber = cpu
	if h.Timestamp, err = r.ReadI64(); err != nil {
		return nil, err
	}
	if h.ActivityID, err = r.ReadGUID(); err != nil {
		return nil, err
	}
	if h.RelatedActivityID, err = r.ReadGUID(); err != nil {
		return nil, err
	}
	stackID, err := r.ReadI32()
	if err != nil {
		return nil, err
	}
	h.StackID = stackID
	if h.PayloadSize, err = r.ReadI32(); err != nil {
		return nil, err
	}
	payload, err := r.Read(int(h.PayloadSize))
	if err != nil {
		return nil, err
	}
	h.Payload = payload
	return &h, nil
}

// readEventHeaderV4Compressed decodes a delta-compressed V4+ event header
// against the running compressionState, implementing spec §4.4's flag
// byte exactly — including the two distinct sequenceNumber update paths
// spec §9 calls out as an intentionally preserved quirk: the
// CaptureThreadAndSequence branch advances by (delta+1), while the "flag
// clear but metadataId != 0" branch advances unconditionally by 1. They
// must not be unified into one code path.
func readEventHeaderV4Compressed(r *StreamReader, st *compressionState) (*EventHeader, error) {
	flags, err := r.ReadU8()
	if err != nil {
		return nil, err
	}

	var h EventHeader
	h.MetadataID = st.metadataID
	if flags&flagMetadataID != 0 {
		v, err := readVarUInt32(r)
		if err != nil {
			return nil, err
		}
		h.MetadataID = int32(v)
	}

	h.SequenceNumber = st.sequenceNumber
	h.CaptureThreadID = st.captureThreadID
	h.CaptureProcessorNumber = st.captureProcessor
	if flags&flagCaptureThreadAndSequence != 0 {
		deltaPlusOne, err := readVarUInt32(r)
		if err != nil {
			return nil, err
		}
		h.SequenceNumber = st.sequenceNumber + deltaPlusOne
		captureThread, err := readVarUInt64(r)
		if err != nil {
			return nil, err
		}
		h.CaptureThreadID = int64(captureThread)
		captureProc, err := readVarUInt32(r)
		if err != nil {
			return nil, err
		}
		h.CaptureProcessorNumber = int32(captureProc)
	} else if h.MetadataID != 0 {
		h.SequenceNumber = st.sequenceNumber + 1
	}

	h.ThreadID = st.threadID
	if flags&flagThreadID != 0 {
		v, err := readVarUInt64(r)
		if err != nil {
			return nil, err
		}
		h.ThreadID = int64(v)
	}

	h.StackID = st.stackID
	if flags&flagStackID != 0 {
		v, err := readVarUInt32(r)
		if err != nil {
			return nil, err
		}
		h.StackID = int32(v)
	}

	delta, err := readVarUInt64(r)
	if err != nil {
		return nil, err
	}
	h.Timestamp = st.timestamp + int64(delta)

	h.ActivityID = st.activityID
	if flags&flagActivityID != 0 {
		if h.ActivityID, err = r.ReadGUID(); err != nil {
			return nil, err
		}
	}
	h.RelatedActivityID = st.relatedActivityID
	if flags&flagRelatedActivityID != 0 {
		if h.RelatedActivityID, err = r.ReadGUID(); err != nil {
			return nil, err
		}
	}

	h.IsSorted = flags&flagSorted != 0

	h.PayloadSize = st.payloadSize
	if flags&flagDataLength != 0 {
		v, err := readVarUInt32(r)
		if err != nil {
			return nil, err
		}
		h.PayloadSize = int32(v)
	}
	payload, err := r.Read(int(h.PayloadSize))
	if err != nil {
		return nil, err
	}
	h.Payload = payload

	*st = compressionState{
		have:              true,
		metadataID:        h.MetadataID,
		sequenceNumber:    h.SequenceNumber,
		captureThreadID:   h.CaptureThreadID,
		captureProcessor:  h.CaptureProcessorNumber,
		threadID:          h.ThreadID,
		timestamp:         h.Timestamp,
		stackID:           h.StackID,
		payloadSize:       h.PayloadSize,
		activityID:        h.ActivityID,
		relatedActivityID: h.RelatedActivityID,
	}
	return &h, nil
}
