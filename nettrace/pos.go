// Copyright 2024 The go-nettrace Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package nettrace

import "fmt"

// Pos is an opaque, monotonic absolute offset into a byte stream. It
// supports the small amount of arithmetic the Stream Reader and Block
// Framer need (adding a known length, computing the distance between two
// positions, and ordering) without exposing the position as a bare int64
// that could be confused with a length or a count.
type Pos int64

// Add returns the position k bytes after p.
func (p Pos) Add(k int64) Pos { return p + Pos(k) }

// Sub returns the number of bytes between other and p (p - other).
func (p Pos) Sub(other Pos) int64 { return int64(p - other) }

// Less reports whether p precedes other.
func (p Pos) Less(other Pos) bool { return p < other }

// String implements fmt.Stringer.
func (p Pos) String() string { return fmt.Sprintf("0x%x", int64(p)) }
