// Copyright 2024 The go-nettrace Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package nettrace

// StackCache interns stack blobs by stack-id (spec §4.7). It is a plain
// owned map, cleared wholesale on a sequence point or end of trace — no
// cyclic ownership, per spec §9's guidance for this component.
//
// Grounded on perffile/meta.go's feature caches (m.PMUMappings): a
// map populated by one block-shaped parser and read by TryGetStack
// elsewhere.
type StackCache struct {
	byID map[int32][]byte
}

func newStackCache() *StackCache {
	return &StackCache{byID: make(map[int32][]byte)}
}

// TryGetStack returns the bytes registered for id, or (nil, false) if
// absent. An absent lookup is not an error (spec §4.7): the event simply
// dispatches without a stack.
func (c *StackCache) TryGetStack(id int32) ([]byte, bool) {
	if id == 0 {
		return nil, false
	}
	b, ok := c.byID[id]
	return b, ok
}

// Flush clears every interned stack. Called on every SPBlock (spec
// §4.7/§4.8); at end of trace the whole cache is released instead.
func (c *StackCache) Flush() {
	c.byID = make(map[int32][]byte)
}

// processStackBlock decodes a StackBlock body (spec §4.7):
// firstId:i32, count:i32, then count entries of { length:i32,
// bytes[length] }, registered at firstId, firstId+1, …. Returns the
// number of stacks registered.
func (c *StackCache) processStackBlock(body []byte) (int, error) {
	r := newBodyReader(body)

	firstID, err := r.ReadI32()
	if err != nil {
		return 0, err
	}
	count, err := r.ReadI32()
	if err != nil {
		return 0, err
	}
	if count < 0 {
		return 0, &ErrInvalidFormat{Reason: "stack block count negative"}
	}

	id := firstID
	for i := int32(0); i < count; i++ {
		length, err := r.ReadI32()
		if err != nil {
			return int(i), err
		}
		if length < 0 {
			return int(i), &ErrInvalidFormat{Reason: "stack entry length negative"}
		}
		raw, err := r.Read(int(length))
		if err != nil {
			return int(i), err
		}
		cp := make([]byte, length)
		copy(cp, raw)
		c.byID[id] = cp
		id++
	}
	return int(count), nil
}
