// Copyright 2024 The go-nettrace Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package nettrace

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Codec compresses a retired instrumentation log before it either joins
// the two-file retention window or is dropped.
//
// Grounded on arloliu-mebo/compress.Codec's Compress/Decompress pair.
type Codec interface {
	Compress(data []byte) ([]byte, error)
	Decompress(data []byte) ([]byte, error)
}

// ZstdCodec is the default instrumentation log codec.
type ZstdCodec struct{}

func (ZstdCodec) Compress(data []byte) ([]byte, error) {
	enc, err := zstd.NewWriter(nil)
	if err != nil {
		return nil, err
	}
	defer enc.Close()
	return enc.EncodeAll(data, nil), nil
}

func (ZstdCodec) Decompress(data []byte) ([]byte, error) {
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, err
	}
	defer dec.Close()
	return dec.DecodeAll(data, nil)
}

// LZ4Codec is the alternate, faster instrumentation log codec (spec §2
// domain-stack wiring table).
type LZ4Codec struct{}

func (LZ4Codec) Compress(data []byte) ([]byte, error) {
	var c lz4.Compressor
	dst := make([]byte, lz4.CompressBlockBound(len(data)))
	n, err := c.CompressBlock(data, dst)
	if err != nil {
		return nil, err
	}
	if n == 0 && len(data) > 0 {
		// Incompressible input: lz4 signals this by writing nothing.
		return data, nil
	}
	return dst[:n], nil
}

func (LZ4Codec) Decompress(data []byte) ([]byte, error) {
	bufSize := len(data) * 4
	if bufSize == 0 {
		bufSize = 64
	}
	const maxSize = 128 << 20
	for {
		dst := make([]byte, bufSize)
		n, err := lz4.UncompressBlock(data, dst)
		if err == nil {
			return dst[:n], nil
		}
		if bufSize >= maxSize {
			return nil, err
		}
		bufSize *= 2
	}
}

// RotatingLogger is the decoder's optional instrumentation log (spec §5):
// a timer-driven rollover that retains the most recent two retired,
// compressed log files. It is the only shared-state concurrency in the
// design, gated behind TRACE_EVENT_ENABLE_INSTRUMENTATION (spec §6), and
// shares no state with the decoder beyond timing hooks (spec §9).
//
// Grounded on mabhi256-jdiag/internal/jmx/debug.go's initDebugLogging
// (timestamped file, O_APPEND, header line) for the log-file shape, and
// on the two-phase "build new sink, then swap under a write guard"
// pattern spec §5 specifies.
type RotatingLogger struct {
	dir      string
	prefix   string
	codec    Codec
	interval time.Duration

	mu       sync.RWMutex // the "write guard" spec §5 calls for
	active   *os.File
	openedAt time.Time
	retained []string // up to two retired, compressed log paths
}

// NewInstrumentationFromEnv constructs a RotatingLogger gated by
// TRACE_EVENT_ENABLE_INSTRUMENTATION (spec §6): a positive integer value
// sets the rollover interval in minutes; unset disables it entirely; any
// other non-empty value defaults to 30 minutes, matching legacy behavior.
// Returns (nil, nil) when instrumentation is disabled.
func NewInstrumentationFromEnv(dir string) (*RotatingLogger, error) {
	raw, ok := os.LookupEnv("TRACE_EVENT_ENABLE_INSTRUMENTATION")
	if !ok || raw == "" {
		return nil, nil
	}
	minutes, err := strconv.Atoi(raw)
	if err != nil || minutes <= 0 {
		minutes = 30
	}
	return NewRotatingLogger(dir, "nettrace-decode", ZstdCodec{}, time.Duration(minutes)*time.Minute)
}

// NewRotatingLogger opens the first log file under dir and returns a
// logger that rotates every interval.
func NewRotatingLogger(dir, prefix string, codec Codec, interval time.Duration) (*RotatingLogger, error) {
	l := &RotatingLogger{dir: dir, prefix: prefix, codec: codec, interval: interval}
	f, err := l.openNewFile()
	if err != nil {
		return nil, err
	}
	l.active = f
	l.openedAt = time.Now()
	return l, nil
}

func (l *RotatingLogger) openNewFile() (*os.File, error) {
	name := fmt.Sprintf("%s-%d.log", l.prefix, time.Now().UnixNano())
	f, err := os.OpenFile(filepath.Join(l.dir, name), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("nettrace: open instrumentation log: %w", err)
	}
	header := fmt.Sprintf("=== instrumentation session started %s ===\n", time.Now().Format(time.RFC3339))
	if _, err := f.WriteString(header); err != nil {
		f.Close()
		return nil, err
	}
	return f, nil
}

// LogString appends a timestamped line to the active log, rotating first
// if the configured interval has elapsed. l may be nil (instrumentation
// disabled), in which case this is a no-op — every call site in the
// decoder calls this unconditionally rather than checking for nil.
func (l *RotatingLogger) LogString(line string) {
	if l == nil {
		return
	}
	l.maybeRotate()
	l.mu.RLock()
	defer l.mu.RUnlock()
	fmt.Fprintf(l.active, "%s %s\n", time.Now().Format(time.RFC3339Nano), line)
}

func (l *RotatingLogger) maybeRotate() {
	l.mu.RLock()
	due := time.Since(l.openedAt) >= l.interval
	l.mu.RUnlock()
	if !due {
		return
	}

	// Build the new sink before touching any shared state.
	newFile, err := l.openNewFile()
	if err != nil {
		return // best-effort: keep logging to the current file
	}

	// Swap under the write guard, then dispose of the old sink.
	l.mu.Lock()
	old := l.active
	l.active = newFile
	l.openedAt = time.Now()
	l.mu.Unlock()

	oldPath := old.Name()
	old.Close()
	l.retireAndCompress(oldPath)
}

func (l *RotatingLogger) retireAndCompress(path string) {
	data, err := os.ReadFile(path)
	if err != nil {
		return
	}
	compressed, err := l.codec.Compress(data)
	if err != nil {
		return
	}
	compressedPath := path + ".zst"
	if err := os.WriteFile(compressedPath, compressed, 0644); err != nil {
		return
	}
	os.Remove(path)

	l.mu.Lock()
	l.retained = append(l.retained, compressedPath)
	for len(l.retained) > 2 {
		stale := l.retained[0]
		l.retained = l.retained[1:]
		os.Remove(stale)
	}
	l.mu.Unlock()
}

// Close flushes and closes the active log file. l may be nil.
func (l *RotatingLogger) Close() error {
	if l == nil {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.active.Close()
}
