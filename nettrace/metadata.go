// Copyright 2024 The go-nettrace Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package nettrace

import "strings"

// Opcode mirrors the u8 opcode field, with the two derivable values spec
// §4.5 calls out by name.
type Opcode uint8

const (
	OpcodeInfo  Opcode = 0
	OpcodeStart Opcode = 1
	OpcodeStop  Opcode = 2
)

const tagOpcode = 1
const tagParameterPayloadV2 = 2

// EventDescriptor is the registered metadata record for one metadataId
// (spec §3).
type EventDescriptor struct {
	MetadataID                int32
	ProviderName              string
	ProviderID                GUID
	EventID                   uint16
	EventName                 string // empty means "no name" (spec's null)
	EventVersion              uint8
	Keywords                  uint64
	Level                     uint8
	Opcode                    Opcode
	ContainsParameterMetadata bool
	ParameterSchema           []PayloadFetch
}

// MetadataRegistry maps metadataId to its EventDescriptor (spec §4.1 of
// the component table / §3's ownership note: owned by the decoder for the
// whole trace).
type MetadataRegistry struct {
	byID map[int32]*EventDescriptor
	guid *providerGUIDCache
}

func newMetadataRegistry() *MetadataRegistry {
	return &MetadataRegistry{
		byID: make(map[int32]*EventDescriptor),
		guid: newProviderGUIDCache(),
	}
}

// Lookup returns the descriptor registered for id, or nil if none has been
// seen yet (spec §4.4's "UnknownMetadataId" case).
func (m *MetadataRegistry) Lookup(id int32) *EventDescriptor {
	return m.byID[id]
}

// parseMetadataBlob decodes one metadata event's payload (spec §4.5) and
// registers the resulting descriptor.
func (m *MetadataRegistry) parseMetadataBlob(body []byte) (*EventDescriptor, error) {
	r := newBodyReader(body)

	metadataID, err := r.ReadI32()
	if err != nil {
		return nil, err
	}
	providerName, err := r.ReadUTF16NulString()
	if err != nil {
		return nil, err
	}
	eventIDRaw, err := r.ReadI32()
	if err != nil {
		return nil, err
	}
	eventName, err := r.ReadUTF16NulString()
	if err != nil {
		return nil, err
	}
	keywordsRaw, err := r.ReadI64()
	if err != nil {
		return nil, err
	}
	versionRaw, err := r.ReadI32()
	if err != nil {
		return nil, err
	}
	levelRaw, err := r.ReadI32()
	if err != nil {
		return nil, err
	}

	d := &EventDescriptor{
		MetadataID:   metadataID,
		ProviderName: providerName,
		ProviderID:   m.guid.Lookup(providerName),
		EventID:      uint16(eventIDRaw),
		EventName:    eventName,
		EventVersion: uint8(versionRaw),
		Keywords:     uint64(keywordsRaw),
		Level:        uint8(levelRaw),
	}

	var headerOpcode uint8
	var haveHeaderOpcode bool
	var parameterPayloadV2Applied bool

	if hasMoreMetadataBytes(r) {
		fields, parsed, err := parseParameterSchema(r, layoutV1)
		if err != nil {
			return nil, err
		}
		if parsed {
			d.ParameterSchema = fields
			d.ContainsParameterMetadata = true

			for hasMoreMetadataBytes(r) {
				tagLength, err := r.ReadI32()
				if err != nil {
					return nil, err
				}
				tagStart := r.Position()
				tag, err := r.ReadU8()
				if err != nil {
					return nil, err
				}
				switch tag {
				case tagOpcode:
					b, err := r.ReadU8()
					if err != nil {
						return nil, err
					}
					headerOpcode = b
					haveHeaderOpcode = true
				case tagParameterPayloadV2:
					fields, parsed, err := parseParameterSchema(r, layoutV2)
					if err != nil {
						return nil, err
					}
					if parsed {
						d.ParameterSchema = fields
						d.ContainsParameterMetadata = true
						parameterPayloadV2Applied = true
					}
				}
				if err := r.Goto(tagStart.Add(int64(tagLength))); err != nil {
					return nil, err
				}
			}
		}
		// else: an UnsupportedTypeCode discarded the whole schema (spec
		// §7, contained). The remaining bytes of this metadata blob have
		// no reliable boundary to resume parsing from — layout V1
		// entries carry no length prefix to skip by — so tag extensions
		// are skipped for this descriptor rather than misread as schema
		// bytes.
	}
	_ = parameterPayloadV2Applied

	d.Opcode, d.EventName = resolveOpcode(haveHeaderOpcode, headerOpcode, d.EventName)

	if isDiagnosticSourceOverride(d.ProviderName, eventName) {
		d.ParameterSchema = diagnosticSourceSchema()
		d.ContainsParameterMetadata = true
	}

	m.byID[metadataID] = d
	return d, nil
}

func hasMoreMetadataBytes(r *StreamReader) bool {
	_, err := r.Peek(1)
	return err == nil
}

// resolveOpcode picks the descriptor's opcode: an explicit Opcode tag wins;
// otherwise it is derived from a "…Start"/"…Stop" name suffix (matched
// case-insensitively), in which case the suffix is stripped from the
// canonical event name; otherwise it is OpcodeInfo. The base metadata
// fields carry no opcode byte, so no other source is consulted.
func resolveOpcode(haveHeaderOpcode bool, headerOpcode uint8, eventName string) (Opcode, string) {
	if haveHeaderOpcode {
		return Opcode(headerOpcode), eventName
	}
	const start, stop = "start", "stop"
	lower := strings.ToLower(eventName)
	switch {
	case strings.HasSuffix(lower, start):
		return OpcodeStart, eventName[:len(eventName)-len(start)]
	case strings.HasSuffix(lower, stop):
		return OpcodeStop, eventName[:len(eventName)-len(stop)]
	default:
		return OpcodeInfo, eventName
	}
}
