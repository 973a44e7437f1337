// Copyright 2024 The go-nettrace Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package nettrace

import "testing"

func TestReadVarUInt32(t *testing.T) {
	tests := []struct {
		name string
		in   []byte
		want uint32
	}{
		{"zero", []byte{0x00}, 0},
		{"one byte max", []byte{0x7f}, 0x7f},
		{"two bytes", []byte{0x80, 0x01}, 128},
		{"five byte max", []byte{0xff, 0xff, 0xff, 0xff, 0x0f}, 0xffffffff},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newBodyReader(tt.in)
			got, err := readVarUInt32(r)
			if err != nil {
				t.Fatalf("readVarUInt32: %v", err)
			}
			if got != tt.want {
				t.Errorf("got %#x, want %#x", got, tt.want)
			}
		})
	}
}

func TestReadVarUInt32Overflow(t *testing.T) {
	// Six continuation bytes exceeds the 5-byte cap for a u32.
	in := []byte{0x80, 0x80, 0x80, 0x80, 0x80, 0x01}
	r := newBodyReader(in)
	_, err := readVarUInt32(r)
	if _, ok := err.(*ErrMalformedVarInt); !ok {
		t.Fatalf("expected ErrMalformedVarInt, got %v", err)
	}
}

func TestReadVarUInt64RoundTrip(t *testing.T) {
	values := []uint64{0, 1, 127, 128, 300, 1 << 40, ^uint64(0)}
	for _, v := range values {
		var w byteWriter
		w.varUInt(v)
		r := newBodyReader(w.Bytes())
		got, err := readVarUInt64(r)
		if err != nil {
			t.Fatalf("readVarUInt64(%d): %v", v, err)
		}
		if got != v {
			t.Errorf("readVarUInt64(%d) = %d", v, got)
		}
	}
}

func TestReadVarUInt64Overflow(t *testing.T) {
	in := make([]byte, 11)
	for i := range in {
		in[i] = 0x80
	}
	r := newBodyReader(in)
	_, err := readVarUInt64(r)
	if _, ok := err.(*ErrMalformedVarInt); !ok {
		t.Fatalf("expected ErrMalformedVarInt, got %v", err)
	}
}
