// Copyright 2024 The go-nettrace Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package nettrace

import (
	"encoding/binary"
	"io"
	"unicode/utf16"
)

// RandomAccessSource is a seekable byte source, such as a file or an
// mmap'd region. Sources of this kind support Goto to any earlier label.
type RandomAccessSource interface {
	io.ReaderAt
	// Len returns the total size of the source in bytes.
	Len() int64
}

// StreamReader is a forward-biased cursor over a byte source. It is the
// Stream Reader component of the decoder: every other component reads
// through it rather than touching a Source directly.
//
// Reads and peeks return slices that alias the reader's internal buffer.
// Those slices are only valid until the next Read, Peek, or Goto call —
// callers that need to retain bytes past an event's lifetime (the sorter's
// PendingEvent, in particular) must copy them out explicitly. This mirrors
// the "pointer-into-buffer payload" ownership model of spec §9: the
// borrowed range is bound to the lifetime of the current block.
type StreamReader struct {
	ra RandomAccessSource // non-nil for a seekable source
	rd io.Reader          // non-nil for a forward-only source

	buf     []byte // retained window, buf[0:w] holds bytes [bufBase, bufBase+w)
	r, w    int
	bufBase Pos
}

// NewReaderFromSource wraps a RandomAccessSource (a file or mmap region).
// Goto may reposition to any label within [0, src.Len()).
func NewReaderFromSource(src RandomAccessSource) *StreamReader {
	return &StreamReader{ra: src, buf: make([]byte, 0, 64<<10)}
}

// NewReaderFromStream wraps a plain io.Reader, such as a socket. Goto may
// only reposition within the currently buffered window; anything earlier
// that has already scrolled out of the buffer is unreachable.
func NewReaderFromStream(rd io.Reader) *StreamReader {
	return &StreamReader{rd: rd, buf: make([]byte, 0, 64<<10)}
}

// Position returns the reader's current absolute position.
func (s *StreamReader) Position() Pos { return s.bufBase.Add(int64(s.r)) }

// Seekable reports whether the underlying source supports arbitrary Goto.
func (s *StreamReader) Seekable() bool { return s.ra != nil }

// ensure makes at least n unread bytes available starting at the current
// read position, growing or refilling the buffer as needed. It never
// discards bytes before s.r implicitly except when it must grow the window
// past its capacity, in which case bytes strictly before bufBase+r are
// dropped (they fall out of the "currently buffered window").
func (s *StreamReader) ensure(n int) error {
	for s.w-s.r < n {
		if s.r > 0 && (cap(s.buf)-s.w < n-(s.w-s.r) || s.r == cap(s.buf)) {
			// Compact: slide unread bytes to the front, dropping
			// everything before the read cursor.
			copy(s.buf[:cap(s.buf)], s.buf[s.r:s.w])
			s.bufBase = s.bufBase.Add(int64(s.r))
			s.w -= s.r
			s.r = 0
		}
		if cap(s.buf)-s.w < n-(s.w-s.r) {
			grown := make([]byte, s.w, maxInt(cap(s.buf)*2, s.w+n))
			copy(grown, s.buf[:s.w])
			s.buf = grown
		}
		got, err := s.fillOnce()
		if got == 0 {
			if err != nil && err != io.EOF {
				return err
			}
			return &ErrTruncated{What: "stream reader ensure", Want: n, Got: s.w - s.r}
		}
	}
	return nil
}

func (s *StreamReader) fillOnce() (int, error) {
	if s.ra != nil {
		n, err := s.ra.ReadAt(s.buf[s.w:cap(s.buf)], int64(s.bufBase)+int64(s.w))
		s.w += n
		if err == io.EOF && n > 0 {
			err = nil
		}
		return n, err
	}
	n, err := s.rd.Read(s.buf[s.w:cap(s.buf)])
	s.w += n
	return n, err
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

// Peek returns the next n bytes without advancing the cursor. The
// returned slice aliases the reader's buffer and is only valid until the
// next Read/Peek/Goto call.
func (s *StreamReader) Peek(n int) ([]byte, error) {
	if err := s.ensure(n); err != nil {
		return nil, err
	}
	return s.buf[s.r : s.r+n], nil
}

// Read consumes and returns the next n bytes. The returned slice aliases
// the reader's buffer; see the StreamReader doc comment about lifetime.
func (s *StreamReader) Read(n int) ([]byte, error) {
	b, err := s.Peek(n)
	if err != nil {
		return nil, err
	}
	s.r += n
	return b, nil
}

// Goto repositions the cursor to label. For a RandomAccessSource-backed
// reader this always succeeds as long as label is within [0, Len()). For a
// forward-only reader, it succeeds for a forward label (bytes in between
// are consumed and discarded) and for a backward label only if label is
// still within the currently buffered window.
func (s *StreamReader) Goto(label Pos) error {
	cur := s.Position()
	if label == cur {
		return nil
	}
	if label < cur {
		rel := label.Sub(s.bufBase)
		if rel < 0 || rel > int64(s.w) {
			if s.ra != nil {
				// Re-seek directly: drop the buffered window and reposition.
				s.bufBase = label
				s.r, s.w = 0, 0
				return nil
			}
			return &ErrInvalidFormat{Reason: "goto target has scrolled out of the buffered window"}
		}
		s.r = int(rel)
		return nil
	}
	// Forward.
	if s.ra != nil {
		if int64(label) > s.ra.Len() {
			return &ErrTruncated{What: "goto", Want: int(label.Sub(cur)), Got: 0}
		}
		// Re-seek directly: drop the buffered window and reposition.
		s.bufBase = label
		s.r, s.w = 0, 0
		return nil
	}
	skip := label.Sub(cur)
	for skip > 0 {
		chunk := skip
		if chunk > int64(cap(s.buf)) {
			chunk = int64(cap(s.buf))
		}
		if _, err := s.Read(int(chunk)); err != nil {
			return err
		}
		skip -= chunk
	}
	return nil
}

// The following primitive reads are little-endian per spec §6.

func (s *StreamReader) ReadU8() (uint8, error) {
	b, err := s.Read(1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

func (s *StreamReader) ReadI16() (int16, error) {
	b, err := s.Read(2)
	if err != nil {
		return 0, err
	}
	return int16(binary.LittleEndian.Uint16(b)), nil
}

func (s *StreamReader) ReadU16() (uint16, error) {
	b, err := s.Read(2)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint16(b), nil
}

func (s *StreamReader) ReadI32() (int32, error) {
	b, err := s.Read(4)
	if err != nil {
		return 0, err
	}
	return int32(binary.LittleEndian.Uint32(b)), nil
}

func (s *StreamReader) ReadU32() (uint32, error) {
	b, err := s.Read(4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b), nil
}

func (s *StreamReader) ReadI64() (int64, error) {
	b, err := s.Read(8)
	if err != nil {
		return 0, err
	}
	return int64(binary.LittleEndian.Uint64(b)), nil
}

func (s *StreamReader) ReadU64() (uint64, error) {
	b, err := s.Read(8)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(b), nil
}

// ReadGUID reads the 16-byte RFC-4122 in-memory GUID layout.
func (s *StreamReader) ReadGUID() (GUID, error) {
	b, err := s.Read(16)
	if err != nil {
		return GUID{}, err
	}
	var g GUID
	copy(g[:], b)
	return g, nil
}

// ReadUTF16NulString reads a UTF-16LE string terminated by a u16 0x0000.
func (s *StreamReader) ReadUTF16NulString() (string, error) {
	var units []uint16
	for {
		u, err := s.ReadU16()
		if err != nil {
			return "", err
		}
		if u == 0 {
			break
		}
		units = append(units, u)
	}
	return string(utf16.Decode(units)), nil
}

// Skip discards n bytes, advancing the cursor without returning them.
func (s *StreamReader) Skip(n int) error {
	_, err := s.Read(n)
	return err
}

// AlignTo4 advances the cursor to the next 4-byte boundary relative to
// base, consuming padding bytes. This implements spec §6's alignment rule
// for block framing.
func (s *StreamReader) AlignTo4(base Pos) error {
	off := s.Position().Sub(base)
	pad := (4 - int(off%4)) % 4
	if pad == 0 {
		return nil
	}
	return s.Skip(pad)
}
