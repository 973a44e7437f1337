// Copyright 2024 The go-nettrace Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package nettrace

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// TestParameterOffsetMonotonicity is testable property 6: offsets are
// strictly increasing up to the first special/variable field, and every
// subsequent offset is the resolve-at-runtime sentinel.
func TestParameterOffsetMonotonicity(t *testing.T) {
	var w byteWriter
	w.i32(4) // fieldCount
	// I32 "a"
	w.i32(typeCodeI32)
	w.utf16nul("a")
	// I64 "b"
	w.i32(typeCodeI64)
	w.utf16nul("b")
	// String "c" -- forces runtime offsets from here on
	w.i32(typeCodeString)
	w.utf16nul("c")
	// U8 "d" -- still runtime, even though it is fixed-size
	w.i32(typeCodeU8)
	w.utf16nul("d")

	r := newBodyReader(w.Bytes())
	fields, parsed, err := parseParameterSchema(r, layoutV1)
	require.NoError(t, err)
	require.True(t, parsed)
	require.Len(t, fields, 4)

	require.Equal(t, 0, fields[0].Offset)
	require.Equal(t, 4, fields[1].Offset) // after the 4-byte i32
	require.Equal(t, OffsetRuntime, fields[2].Offset)
	require.Equal(t, OffsetRuntime, fields[3].Offset)
}

// TestParseTypeNestedStructArray exercises the recursive struct/array tree
// spec §9 calls out, here a struct containing an array of I32.
func TestParseTypeNestedStructArray(t *testing.T) {
	var w byteWriter
	// Struct { Inner: Array<I32> }
	w.i32(typeCodeStruct)
	w.i32(1) // fieldCount
	w.i32(typeCodeArray)
	w.i32(typeCodeI32)
	w.utf16nul("Inner")

	r := newBodyReader(w.Bytes())
	f, err := parseType(r)
	require.NoError(t, err)
	require.Equal(t, FetchStruct, f.Kind)
	require.Len(t, f.Fields, 1)
	require.Equal(t, FetchArray, f.Fields[0].Kind)
	require.Equal(t, FetchI32, f.Fields[0].Elem.Kind)
}

// TestUnsupportedTypeCodeContained is scenario S6: a field with an
// unrecognized type code discards the whole schema rather than failing
// the trace.
func TestUnsupportedTypeCodeContained(t *testing.T) {
	var w byteWriter
	w.i32(1) // fieldCount
	w.i32(99) // unknown type code
	w.utf16nul("mystery")

	r := newBodyReader(w.Bytes())
	fields, parsed, err := parseParameterSchema(r, layoutV1)
	require.NoError(t, err)
	require.False(t, parsed)
	require.Nil(t, fields)
}

// TestMetadataBlobUnsupportedTypeRegistersEmptySchema is S6's full path:
// a metadata event whose schema contains an unsupported type code still
// registers a descriptor, just with no parameters.
func TestMetadataBlobUnsupportedTypeRegistersEmptySchema(t *testing.T) {
	var w byteWriter
	w.i32(42)
	w.utf16nul("Sample")
	w.i32(7)
	w.utf16nul("Weird")
	w.i64(0)
	w.i32(0)
	w.i32(0)
	w.i32(1)  // fieldCount
	w.i32(99) // unknown type code
	w.utf16nul("mystery")

	reg := newMetadataRegistry()
	desc, err := reg.parseMetadataBlob(w.Bytes())
	require.NoError(t, err)
	require.False(t, desc.ContainsParameterMetadata)
	require.Empty(t, desc.ParameterSchema)
	require.Equal(t, reg.Lookup(42), desc)
}

// TestDiagnosticSourceOverride exercises spec §4.5's well-known-provider
// schema substitution.
func TestDiagnosticSourceOverride(t *testing.T) {
	var w byteWriter
	w.i32(5)
	w.utf16nul("Microsoft-Diagnostics-DiagnosticSource")
	w.i32(1)
	w.utf16nul("Event")
	w.i64(0)
	w.i32(0)
	w.i32(0)
	// No parameter schema bytes follow: the override applies regardless.

	reg := newMetadataRegistry()
	desc, err := reg.parseMetadataBlob(w.Bytes())
	require.NoError(t, err)
	require.True(t, desc.ContainsParameterMetadata)
	require.Len(t, desc.ParameterSchema, 3)
	require.Equal(t, "SourceName", desc.ParameterSchema[0].Name)
	require.Equal(t, "Arguments", desc.ParameterSchema[2].Name)
	require.Equal(t, FetchArray, desc.ParameterSchema[2].Kind)
}

// TestOpcodeResolutionFromNameSuffix is scenario S2.
func TestOpcodeResolutionFromNameSuffix(t *testing.T) {
	op, name := resolveOpcode(false, 0, "RequestStart")
	require.Equal(t, OpcodeStart, op)
	require.Equal(t, "Request", name)

	op, name = resolveOpcode(false, 0, "WidgetStop")
	require.Equal(t, OpcodeStop, op)
	require.Equal(t, "Widget", name)
}

func TestOpcodeResolutionExplicitTagWins(t *testing.T) {
	op, name := resolveOpcode(true, 9, "SomethingStart")
	require.Equal(t, Opcode(9), op)
	require.Equal(t, "SomethingStart", name, "explicit tag must not strip the name suffix")
}
