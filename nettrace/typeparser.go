// Copyright 2024 The go-nettrace Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package nettrace

// FetchKind enumerates the payload field shapes a PayloadFetch can
// describe (spec §3's PayloadFetch sum type).
type FetchKind int

const (
	FetchBool FetchKind = iota
	FetchChar16
	FetchI8
	FetchU8
	FetchI16
	FetchU16
	FetchI32
	FetchU32
	FetchI64
	FetchU64
	FetchF32
	FetchF64
	FetchDecimal
	FetchDateTime
	FetchGUID
	FetchString
	FetchStruct
	FetchArray
)

// OffsetRuntime is the "resolve-at-runtime" sentinel: once any variable
// or composite field is seen, every subsequent offset in the schema is
// this sentinel (spec §3).
const OffsetRuntime = 0xFFFF

// sizeNulTerminated and sizeCounted are the non-fixed-width size sentinels a
// PayloadFetch.Size may carry in place of a byte width.
const (
	sizeNulTerminated = -1
	sizeCounted       = -2
)

// PayloadFetch describes how to locate and interpret one field of an
// event's payload (spec §3). Struct and Array carry their nested shape in
// Fields/Elem rather than through heap-indirected polymorphism, matching
// spec §9's guidance to model this as a flat tagged-variant tree.
type PayloadFetch struct {
	Name   string
	Kind   FetchKind
	Size   int // byte width, or sizeNulTerminated / sizeCounted
	Offset int // byte offset, or OffsetRuntime

	Fields []PayloadFetch // Struct
	Elem   *PayloadFetch  // Array
}

const typeCodeStruct = 1
const (
	typeCodeBool = 3 + iota
	typeCodeChar16
	typeCodeI8
	typeCodeU8
	typeCodeI16
	typeCodeU16
	typeCodeI32
	typeCodeU32
	typeCodeI64
	typeCodeU64
	typeCodeF32
	typeCodeF64
	typeCodeDecimal
	typeCodeDateTime
	typeCodeGUID
	typeCodeString
)

const typeCodeArray = 19

var fixedSizeByCode = map[int32]struct {
	kind FetchKind
	size int
}{
	typeCodeBool:     {FetchBool, 4},
	typeCodeChar16:   {FetchChar16, 2},
	typeCodeI8:       {FetchI8, 1},
	typeCodeU8:       {FetchU8, 1},
	typeCodeI16:      {FetchI16, 2},
	typeCodeU16:      {FetchU16, 2},
	typeCodeI32:      {FetchI32, 4},
	typeCodeU32:      {FetchU32, 4},
	typeCodeI64:      {FetchI64, 8},
	typeCodeU64:      {FetchU64, 8},
	typeCodeF32:      {FetchF32, 4},
	typeCodeF64:      {FetchF64, 8},
	typeCodeDecimal:  {FetchDecimal, 16},
	typeCodeDateTime: {FetchDateTime, 8},
	typeCodeGUID:     {FetchGUID, 16},
}

// parseType reads one TypeCode and recursively decodes its shape (spec
// §4.5's ParseType). Name is attached by the caller once the nested type
// resolves. Returns errUnsupportedTypeCode (contained by the caller) for
// any code outside the known table.
func parseType(r *StreamReader) (PayloadFetch, error) {
	code, err := r.ReadI32()
	if err != nil {
		return PayloadFetch{}, err
	}
	switch code {
	case typeCodeString:
		return PayloadFetch{Kind: FetchString, Size: sizeNulTerminated}, nil
	case typeCodeStruct:
		fieldCount, err := r.ReadI32()
		if err != nil {
			return PayloadFetch{}, err
		}
		if fieldCount < 0 || fieldCount >= 0x4000 {
			return PayloadFetch{}, &ErrInvalidFormat{Reason: "struct field count out of range"}
		}
		fields := make([]PayloadFetch, 0, fieldCount)
		for i := int32(0); i < fieldCount; i++ {
			f, err := parseSchemaEntry(r, layoutV1)
			if err != nil {
				return PayloadFetch{}, err
			}
			fields = append(fields, f)
		}
		return PayloadFetch{Kind: FetchStruct, Fields: fields}, nil
	case typeCodeArray:
		elem, err := parseType(r)
		if err != nil {
			return PayloadFetch{}, err
		}
		return PayloadFetch{Kind: FetchArray, Size: sizeCounted, Elem: &elem}, nil
	}
	if e, ok := fixedSizeByCode[code]; ok {
		return PayloadFetch{Kind: e.kind, Size: e.size}, nil
	}
	return PayloadFetch{}, &errUnsupportedTypeCode{Code: code}
}

type schemaLayout int

const (
	layoutV1 schemaLayout = iota
	layoutV2
)

// parseSchemaEntry reads one parameter-schema entry, either layout (spec
// §4.5).
func parseSchemaEntry(r *StreamReader, layout schemaLayout) (PayloadFetch, error) {
	if layout == layoutV1 {
		f, err := parseType(r)
		if err != nil {
			return PayloadFetch{}, err
		}
		name, err := r.ReadUTF16NulString()
		if err != nil {
			return PayloadFetch{}, err
		}
		f.Name = name
		return f, nil
	}

	entryStart := r.Position()
	length, err := r.ReadI32()
	if err != nil {
		return PayloadFetch{}, err
	}
	name, err := r.ReadUTF16NulString()
	if err != nil {
		return PayloadFetch{}, err
	}
	f, err := parseType(r)
	if err != nil {
		return PayloadFetch{}, err
	}
	f.Name = name
	// length includes the length field itself; skip any trailer.
	if err := r.Goto(entryStart.Add(int64(length))); err != nil {
		return PayloadFetch{}, err
	}
	return f, nil
}

// parseParameterSchema reads `fieldCount:i32` then that many schema
// entries (spec §4.5). UnsupportedTypeCode anywhere in the list is
// contained here: the whole schema is discarded and parsed=false is
// returned so the caller registers an empty parameter list instead of
// failing the trace.
func parseParameterSchema(r *StreamReader, layout schemaLayout) (fields []PayloadFetch, parsed bool, err error) {
	fieldCount, err := r.ReadI32()
	if err != nil {
		return nil, false, err
	}
	if fieldCount < 0 || fieldCount >= 0x4000 {
		return nil, false, &ErrInvalidFormat{Reason: "parameter field count out of range"}
	}
	out := make([]PayloadFetch, 0, fieldCount)
	for i := int32(0); i < fieldCount; i++ {
		f, err := parseSchemaEntry(r, layout)
		if err != nil {
			if _, ok := err.(*errUnsupportedTypeCode); ok {
				return nil, false, nil
			}
			return nil, false, err
		}
		out = append(out, f)
	}
	computeOffsets(out)
	return out, true, nil
}

// computeOffsets implements spec §4.5's offset-computation walk and is
// covered directly by the parameter-offset monotonicity property (spec
// §8, property 6).
func computeOffsets(fields []PayloadFetch) {
	offset := 0
	runtime := false
	for i := range fields {
		if runtime || fields[i].Kind == FetchStruct || fields[i].Kind == FetchArray || fields[i].Kind == FetchString {
			fields[i].Offset = OffsetRuntime
			runtime = true
			continue
		}
		fields[i].Offset = offset
		offset += fields[i].Size
	}
}

// diagnosticSourceSchema is the hard-coded well-known-provider override
// (spec §4.5) for Microsoft-Diagnostics-DiagnosticSource's handful of
// events, which a historical emitter limitation prevented from declaring
// an accurate schema for.
func diagnosticSourceSchema() []PayloadFetch {
	fields := []PayloadFetch{
		{Name: "SourceName", Kind: FetchString, Size: sizeNulTerminated},
		{Name: "EventName", Kind: FetchString, Size: sizeNulTerminated},
		{Name: "Arguments", Kind: FetchArray, Size: sizeCounted, Elem: &PayloadFetch{
			Kind: FetchStruct,
			Fields: []PayloadFetch{
				{Name: "Key", Kind: FetchString, Size: sizeNulTerminated},
				{Name: "Value", Kind: FetchString, Size: sizeNulTerminated},
			},
		}},
	}
	computeOffsets(fields)
	return fields
}

var diagnosticSourceEventNames = map[string]bool{
	"Event":                   true,
	"Activity1Start":          true,
	"Activity1Stop":           true,
	"Activity2Start":          true,
	"Activity2Stop":           true,
	"RecursiveActivity1Start": true,
	"RecursiveActivity1Stop":  true,
}

func isDiagnosticSourceOverride(providerName, eventName string) bool {
	return providerName == "Microsoft-Diagnostics-DiagnosticSource" && diagnosticSourceEventNames[eventName]
}
