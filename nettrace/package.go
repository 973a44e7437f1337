// Copyright 2024 The go-nettrace Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package nettrace is a streaming decoder for the Nettrace/NetPerf binary
// trace format emitted by a managed-runtime event pipe.
//
// Decoding starts with a call to NewDecoder, which wraps a StreamReader
// built by NewReaderFromStream (an io.Reader, such as a socket) or
// NewReaderFromSource (a RandomAccessSource, such as a file or mmap'd
// data). Decoder.Run drives the stream to completion, reconstructing a
// chronologically ordered sequence of EventRecord values and delivering
// each to a Sink.
//
// The format is self-describing: event schemas arrive in-band as metadata
// events and are registered before any event referencing them is decoded.
// Newer format versions interleave and reorder events across capture
// threads, so the decoder buffers each thread's events in sequence order and
// merges the threads by timestamp before dispatch (see sorter.go).
package nettrace // import "github.com/go-nettrace/nettrace"
