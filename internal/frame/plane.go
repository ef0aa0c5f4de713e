// Package frame implements the runtime's video/audio frame and plane
// data model.
//
// IMMUTABILITY CONTRACT: a Frame handed to a filter as input is never
// mutated by that filter. A filter that wants to transform a frame's
// pixels calls WritePtr, which performs copy-on-write: if the
// underlying plane is still shared with another Frame, WritePtr
// allocates a fresh plane and copies the data into it before handing
// back a writable slice; a uniquely-held plane is returned as-is.
// Frames are therefore "COW-immutable", not literally immutable —
// callers must go through WritePtr rather than keeping a stale
// pointer from ReadPtr around across a mutation.
//
// Guard bands: a frame allocated with guarded set to true carries a
// fixed pattern immediately before and after each plane's usable
// region; VerifyGuardPattern reports whether a filter wrote outside
// its bounds. Frames allocated with guarded false have no guard bands,
// trading the corruption check for a smaller footprint.
package frame

import (
	"sync/atomic"

	"github.com/visiona/framecore/internal/membuf"
)

// guardSpace is the number of bytes of guard pattern placed before
// and after a plane's usable region when guard bands are enabled.
const guardSpace = 32

// guardPattern32 is written as a repeating uint32 across each guard
// band.
const guardPattern32 uint32 = 0xDEADBEEF

// PlaneData is a refcounted buffer drawn from a membuf.Pool.
type PlaneData struct {
	pool         *membuf.Pool
	buf          []byte
	usableOffset int
	usableLen    int
	refcount     atomic.Int32
}

// newPlaneData allocates a plane of usableLen bytes from pool. When
// guarded is true, guardSpace extra bytes are reserved and filled with
// guardPattern32 on both sides of the usable region.
func newPlaneData(pool *membuf.Pool, usableLen int, guarded bool) *PlaneData {
	pad := 0
	if guarded {
		pad = guardSpace
	}
	buf := pool.Alloc(usableLen + 2*pad)
	p := &PlaneData{pool: pool, buf: buf, usableOffset: pad, usableLen: usableLen}
	p.refcount.Store(1)
	if guarded {
		p.writeGuardPattern()
	}
	return p
}

func (p *PlaneData) writeGuardPattern() {
	words := guardSpace / 4
	for i := 0; i < words; i++ {
		putPattern(p.buf[i*4:], guardPattern32)
		tailStart := p.usableOffset + p.usableLen + i*4
		putPattern(p.buf[tailStart:], guardPattern32)
	}
}

func putPattern(b []byte, v uint32) {
	b[0] = byte(v)
	b[1] = byte(v >> 8)
	b[2] = byte(v >> 16)
	b[3] = byte(v >> 24)
}

func getPattern(b []byte) uint32 {
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}

// verifyGuardPattern reports whether the guard bands surrounding the
// usable region are intact. Always true when the plane has no guard
// padding (pad == 0).
func (p *PlaneData) verifyGuardPattern() bool {
	if p.usableOffset == 0 {
		return true
	}
	words := guardSpace / 4
	for i := 0; i < words; i++ {
		if getPattern(p.buf[i*4:]) != guardPattern32 {
			return false
		}
		tailStart := p.usableOffset + p.usableLen + i*4
		if getPattern(p.buf[tailStart:]) != guardPattern32 {
			return false
		}
	}
	return true
}

// smashGuard corrupts one byte of the trailing guard band, for tests
// that exercise verifyGuardPattern's failure path. A no-op on planes
// without guard padding.
func (p *PlaneData) smashGuard() {
	if p.usableOffset == 0 {
		return
	}
	p.buf[p.usableOffset+p.usableLen] ^= 0xFF
}

func (p *PlaneData) usable() []byte {
	return p.buf[p.usableOffset : p.usableOffset+p.usableLen]
}

func (p *PlaneData) addRef() *PlaneData {
	p.refcount.Add(1)
	return p
}

func (p *PlaneData) release() {
	if p.refcount.Add(-1) == 0 {
		p.pool.Free(p.buf)
	}
}

func (p *PlaneData) unique() bool {
	return p.refcount.Load() == 1
}

// clone returns a new, uniquely-owned PlaneData with the same usable
// contents and guard configuration as p.
func (p *PlaneData) clone() *PlaneData {
	guarded := p.usableOffset != 0
	c := newPlaneData(p.pool, p.usableLen, guarded)
	copy(c.usable(), p.usable())
	return c
}
