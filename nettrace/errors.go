// Copyright 2024 The go-nettrace Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package nettrace

import "fmt"

// ErrTruncated indicates the stream ended before a declared structure
// completed. Fatal to the current decode pass, except in a V3 trace, whose
// flat event loop treats it as the end of the event stream.
type ErrTruncated struct {
	// What names the structure that was being read.
	What string
	// Want is the number of bytes that were needed.
	Want int
	// Got is the number of bytes actually available.
	Got int
}

func (e *ErrTruncated) Error() string {
	return fmt.Sprintf("nettrace: truncated stream reading %s: wanted %d bytes, got %d", e.What, e.Want, e.Got)
}

// ErrInvalidFormat indicates a magic/version mismatch, a misaligned block,
// or a header field out of its documented range. Always fatal.
type ErrInvalidFormat struct {
	Reason string
}

func (e *ErrInvalidFormat) Error() string {
	return "nettrace: invalid format: " + e.Reason
}

// ErrMalformedVarInt indicates a VarUInt continuation sequence ran past its
// byte cap. Fatal for the current event; the enclosing block is abandoned.
type ErrMalformedVarInt struct {
	MaxBytes int
}

func (e *ErrMalformedVarInt) Error() string {
	return fmt.Sprintf("nettrace: malformed varint: exceeded %d-byte cap", e.MaxBytes)
}

// errUnsupportedTypeCode is not exported: it is always contained at the
// point a parameter schema is parsed (the descriptor is registered with an
// empty parameter list instead) and must never reach a caller of Decoder.Run.
type errUnsupportedTypeCode struct {
	Code int32
}

func (e *errUnsupportedTypeCode) Error() string {
	return fmt.Sprintf("nettrace: unsupported parameter type code %d", e.Code)
}

// errUnknownBlockKind is contained by the Block Framer, which skips the
// block using its declared size; it is never surfaced to the caller.
type errUnknownBlockKind struct {
	Name string
}

func (e *errUnknownBlockKind) Error() string {
	return "nettrace: unknown block kind " + e.Name
}
