// Copyright 2024 The go-nettrace Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package nettrace

import (
	"crypto/sha1"
	"encoding/binary"
	"fmt"
	"strings"
	"unicode/utf16"

	"github.com/cespare/xxhash/v2"
)

// GUID is the 16-byte RFC-4122 in-memory layout used throughout the wire
// format (activity IDs, related activity IDs, provider IDs). Grounded on
// perffile.BuildID's "fixed-width byte identifier with a String method"
// shape.
type GUID [16]byte

// String renders the GUID in the conventional
// "xxxxxxxx-xxxx-xxxx-xxxx-xxxxxxxxxxxx" form. The first three fields are
// stored little-endian in the wire layout, matching the managed-runtime
// Guid in-memory representation.
func (g GUID) String() string {
	d1 := binary.LittleEndian.Uint32(g[0:4])
	d2 := binary.LittleEndian.Uint16(g[4:6])
	d3 := binary.LittleEndian.Uint16(g[6:8])
	return fmt.Sprintf("%08x-%04x-%04x-%02x%02x-%02x%02x%02x%02x%02x%02x",
		d1, d2, d3, g[8], g[9], g[10], g[11], g[12], g[13], g[14], g[15])
}

// IsZero reports whether g is the all-zero GUID.
func (g GUID) IsZero() bool { return g == GUID{} }

func mustGUID(hex16 [16]byte) GUID { return GUID(hex16) }

// Well-known legacy provider GUIDs (spec §4.6). These predate the
// EventSource name-hash algorithm and must be returned verbatim rather
// than derived.
var (
	guidCLR = mustGUID([16]byte{
		0x23, 0x0d, 0x3c, 0xe1, 0xbc, 0xcc, 0x12, 0x4e,
		0x93, 0x1b, 0xd9, 0xcc, 0x2e, 0xee, 0x27, 0xe4,
	})
	guidCLRPrivate = mustGUID([16]byte{
		0x54, 0xd7, 0x3f, 0x76, 0x86, 0x70, 0xfe, 0x4d,
		0x95, 0xeb, 0xc0, 0x1a, 0x46, 0xfa, 0xf4, 0xca,
	})
	guidCLRRundown = mustGUID([16]byte{
		0x1c, 0x02, 0x69, 0xa6, 0x50, 0xc4, 0x09, 0x46,
		0xa0, 0x35, 0x5a, 0xf5, 0x9a, 0xf4, 0xdf, 0x18,
	})
	guidCLRStress = mustGUID([16]byte{
		0xba, 0xcb, 0x2b, 0xcc, 0xb6, 0x16, 0xf3, 0x4c,
		0x89, 0x90, 0xd7, 0x4c, 0x2e, 0x8a, 0xf5, 0x00,
	})
	guidFramework = mustGUID([16]byte{
		0x45, 0x2b, 0x6f, 0x78, 0xe4, 0xb1, 0xa7, 0x49,
		0x9c, 0x2c, 0xb7, 0xf3, 0x0c, 0x5c, 0x24, 0xae,
	})
	guidSampleProfiler = mustGUID([16]byte{
		0x44, 0x0d, 0x53, 0x3c, 0xae, 0x97, 0x3a, 0x51,
		0x1e, 0x6d, 0x78, 0x3e, 0x8f, 0x8e, 0x03, 0xa9,
	})
	guidTPL = mustGUID([16]byte{
		0x47, 0xba, 0x5d, 0x2e, 0xd2, 0xa3, 0x16, 0x4d,
		0x8e, 0xe0, 0x66, 0x71, 0xff, 0xdc, 0xd7, 0xb5,
	})
)

var knownProviders = map[string]GUID{
	"System.Threading.Tasks.TplEventSource":  guidTPL,
	"Microsoft-Windows-DotNETRuntime":        guidCLR,
	"Microsoft-Windows-DotNETRuntimePrivate": guidCLRPrivate,
	"Microsoft-Windows-DotNETRuntimeRundown": guidCLRRundown,
	"Microsoft-Windows-DotNETRuntimeStress":  guidCLRStress,
	"Microsoft-Windows-DotNETFramework":      guidFramework,
	"Microsoft-DotNETCore-SampleProfiler":    guidSampleProfiler,
}

// eventSourceNamespace is the fixed namespace used by the EventSource
// name-to-GUID algorithm (the literal bytes of the namespace GUID
// 482C2DB2-5271-4B2F-8641-BAE0F8CED7D3, prepended verbatim rather than
// reinterpreted as a GUID).
var eventSourceNamespace = []byte{
	0x48, 0x2c, 0x2d, 0xb2, 0x52, 0x71, 0x4b, 0x2f,
	0x86, 0x41, 0xba, 0xe0, 0xf8, 0xce, 0xd7, 0xd3,
}

// eventSourceHashGUID implements the standard EventSource name-to-GUID
// algorithm: SHA-1 of the namespace bytes followed by the UTF-16BE encoding
// of the upper-cased name, truncated to 16 bytes with RFC-4122
// version/variant bits patched in. Because the managed Guid's first three
// fields are read back little-endian from the same bytes they were written
// big-endian into by BitConverter on a little-endian host, the round trip
// cancels out: the wire-layout GUID is simply the patched hash bytes,
// unreordered.
func eventSourceHashGUID(name string) GUID {
	upper := strings.ToUpper(name)
	units := utf16.Encode([]rune(upper))
	nameBytes := make([]byte, len(units)*2)
	for i, u := range units {
		nameBytes[2*i] = byte(u >> 8)
		nameBytes[2*i+1] = byte(u)
	}

	h := sha1.New()
	h.Write(eventSourceNamespace)
	h.Write(nameBytes)
	sum := h.Sum(nil)

	var g GUID
	copy(g[:], sum[:16])
	g[7] = (g[7] & 0x0F) | 0x50
	g[8] = (g[8] & 0x3F) | 0x80
	return g
}

// providerGUIDCache memoizes ProviderGUIDFromName by an xxhash of the
// provider name, grounded on arloliu-mebo's internal/hash.ID name-hashing
// cache key pattern: repeated metadata events for the same provider are
// common in a long trace, so this avoids re-running SHA-1 on every one.
type providerGUIDCache struct {
	byHash map[uint64]GUID
}

func newProviderGUIDCache() *providerGUIDCache {
	return &providerGUIDCache{byHash: make(map[uint64]GUID)}
}

// Lookup returns the provider GUID for name, computing and caching it if
// this is the first time name has been seen. Empty names map to the zero
// GUID (spec §4.6).
func (c *providerGUIDCache) Lookup(name string) GUID {
	if name == "" {
		return GUID{}
	}
	key := xxhash.Sum64String(name)
	if g, ok := c.byHash[key]; ok {
		return g
	}
	g := ProviderGUIDFromName(name)
	c.byHash[key] = g
	return g
}

// ProviderGUIDFromName derives a provider's GUID from its name: a
// hardcoded constant for the known legacy registrations, the EventSource
// name-hash algorithm otherwise, and the zero GUID for an empty name.
func ProviderGUIDFromName(name string) GUID {
	if name == "" {
		return GUID{}
	}
	if g, ok := knownProviders[name]; ok {
		return g
	}
	return eventSourceHashGUID(name)
}
