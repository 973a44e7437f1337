// Copyright 2024 The go-nettrace Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package bufpool provides a size-bucketed pool of reusable byte slices for
// the decode paths that repeatedly copy block and event bodies out of the
// Stream Reader's retained window (spec §9's ownership rule: anything
// outliving the current block must be copied).
//
// Adapted from arloliu-mebo's internal/pool.ByteBufferPool: a sync.Pool
// wrapper with a default size and a discard threshold above which buffers
// are dropped instead of retained, to avoid a single oversized block
// inflating the pool forever.
package bufpool

import "sync"

const (
	defaultSize  = 4 * 1024
	maxThreshold = 1024 * 1024
)

// Pool is a pool of reusable []byte buffers.
type Pool struct {
	pool         sync.Pool
	maxThreshold int
}

// New creates a Pool whose buffers start at defaultSize capacity and are
// discarded, rather than retained, once they exceed maxThreshold.
func New(defaultSize, maxThreshold int) *Pool {
	return &Pool{
		pool: sync.Pool{
			New: func() any {
				b := make([]byte, 0, defaultSize)
				return &b
			},
		},
		maxThreshold: maxThreshold,
	}
}

// Get returns a buffer with length n, reusing pooled capacity when possible.
func (p *Pool) Get(n int) []byte {
	bp, _ := p.pool.Get().(*[]byte)
	b := *bp
	if cap(b) < n {
		b = make([]byte, n)
	} else {
		b = b[:n]
	}
	return b
}

// Put returns b to the pool for reuse. Buffers larger than maxThreshold are
// dropped instead of retained.
func (p *Pool) Put(b []byte) {
	if b == nil {
		return
	}
	if p.maxThreshold > 0 && cap(b) > p.maxThreshold {
		return
	}
	b = b[:0]
	p.pool.Put(&b)
}

// Default is a process-wide pool sized for typical block and event bodies.
var Default = New(defaultSize, maxThreshold)
