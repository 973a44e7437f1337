// Copyright 2024 The go-nettrace Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package nettrace

import (
	"io"
	"os"

	mmap "github.com/edsrzf/mmap-go"
)

// MmapSource memory-maps a local trace file read-only and exposes it as a
// RandomAccessSource, the fast local-file path for NewReaderFromSource.
//
// Grounded on saferwall-pe's File, which backs its parser with
// mmap.Map(f, mmap.RDONLY, 0) instead of buffered reads.
type MmapSource struct {
	f    *os.File
	data mmap.MMap
}

// OpenMmapSource opens and memory-maps name for reading.
func OpenMmapSource(name string) (*MmapSource, error) {
	f, err := os.Open(name)
	if err != nil {
		return nil, err
	}
	data, err := mmap.Map(f, mmap.RDONLY, 0)
	if err != nil {
		f.Close()
		return nil, err
	}
	return &MmapSource{f: f, data: data}, nil
}

// ReadAt implements io.ReaderAt.
func (m *MmapSource) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 || off >= int64(len(m.data)) {
		return 0, io.EOF
	}
	n := copy(p, m.data[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

// Len implements RandomAccessSource.
func (m *MmapSource) Len() int64 { return int64(len(m.data)) }

// Close unmaps the file and closes the underlying descriptor.
func (m *MmapSource) Close() error {
	unmapErr := m.data.Unmap()
	closeErr := m.f.Close()
	if unmapErr != nil {
		return unmapErr
	}
	return closeErr
}
