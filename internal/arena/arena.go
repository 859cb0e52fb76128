// Package arena implements the kernel's dynamic memory allocator: a
// single contiguous byte buffer carved into blocks by a first-fit,
// split-on-alloc, coalesce-on-free walk.
//
// There is no free list and no back-pointers. Every operation walks the
// arena from the start, trading O(n) time for the smallest possible
// per-block overhead — one header word. This is the same trade the
// Go runtime's own allocator refuses to make (it keeps per-size-class
// free lists in MCentral/MCache precisely to avoid the walk), but it is
// the right one here: arenas in this kernel are a few hundred bytes and
// allocation only happens at task/mutex creation, never on a hot path.
package arena

import "math/bits"

// headerSize, usedBit and sizeMask mirror the spec's HEADER_BITS: the
// top bit of the 32-bit header marks a block used, the remaining 31 bits hold its size
// (header + payload), capping the largest representable block at
// 2^31-1 bytes — far beyond anything this kernel's arenas will ever be.
const (
	headerSize = 4
	usedBit    = uint32(1) << 31
	sizeMask   = usedBit - 1
	maxAlign   = 8
)

// Block is an opaque handle to an allocated region of an Arena. It is an
// arena-relative offset/length pair rather than a raw pointer, per the
// "use arena-index handles, not raw addresses" guidance: a Block minted
// by one Arena is meaningless against another, and copying it around
// cannot dangle the way a raw pointer into freed memory would.
type Block struct {
	arena   *Arena
	header  int // offset of the block header
	payload int // offset of the payload (header + headerSize); only the header offset is maxAlign-aligned, so the payload starts 4 bytes past an 8-byte boundary
	size    int // total block size, header included
}

// Valid reports whether b was minted by this arena and still describes a
// live (non-freed) block. It is cheap enough to call on every access.
func (b Block) Valid() bool {
	if b.arena == nil || b.header < 0 || b.header+headerSize > len(b.arena.buf) {
		return false
	}
	h := b.arena.headerAt(b.header)
	return h&usedBit != 0 && int(h&sizeMask) == b.size
}

// Len returns the number of payload bytes available in the block — at
// least the size requested by the Alloc call that produced it, possibly
// more if the request didn't leave room for a split.
func (b Block) Len() int {
	return b.size - headerSize
}

// Bytes returns the payload slice backing b. The slice aliases the
// arena's storage and must not be retained past a Free of b.
func (b Block) Bytes() []byte {
	return b.arena.buf[b.payload : b.payload+b.Len()]
}

// Arena is a fixed-size byte buffer from which all kernel memory —
// task control blocks, stacks, and mutexes — is carved.
type Arena struct {
	buf []byte
}

// New wraps buf as a fresh Arena: one large free block spanning the
// whole buffer. buf is owned by the Arena from this
// point on; callers must not read or write it directly.
func New(buf []byte) *Arena {
	a := &Arena{buf: buf}
	a.Reset()
	return a
}

// Reset marks the entire arena as a single free block, discarding any
// outstanding allocations. Called by New.
func (a *Arena) Reset() {
	base := alignUp(0)
	if base >= len(a.buf) {
		return
	}
	a.putHeader(base, 0, uint32(len(a.buf)-base))
}

// Size returns the total number of bytes the arena manages.
func (a *Arena) Size() int {
	return len(a.buf)
}

func alignUp(n int) int {
	return (n + maxAlign - 1) &^ (maxAlign - 1)
}

func (a *Arena) headerAt(off int) uint32 {
	b := a.buf[off : off+headerSize]
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}

func (a *Arena) putHeader(off int, used uint32, size uint32) {
	h := (used & 1 << 31) | (size & sizeMask)
	b := a.buf[off : off+headerSize]
	b[0] = byte(h)
	b[1] = byte(h >> 8)
	b[2] = byte(h >> 16)
	b[3] = byte(h >> 24)
}

// Alloc returns a Block of at least n payload bytes, or ok=false if no
// free block is large enough. A zero-size request is granted the
// smallest block the arena can carve, AlignedSize(0) bytes: a header
// plus alignment padding, so its Len reports the padding bytes. It
// never aliases another block's payload, and like any other request it
// fails when no free block of that size is left.
func (a *Arena) Alloc(n int) (Block, bool) {
	if n < 0 {
		return Block{}, false
	}
	need := alignUp(n + headerSize)

	base := alignUp(0)
	end := len(a.buf)
	for off := base; off+headerSize <= end; {
		h := a.headerAt(off)
		used := h&usedBit != 0
		size := int(h & sizeMask)
		if size == 0 {
			break // corrupt/uninitialized tail, stop rather than loop forever
		}
		if !used && size >= need {
			if size > need+headerSize {
				tailOff := off + need
				a.putHeader(tailOff, 0, uint32(size-need))
				size = need
			}
			a.putHeader(off, 1, uint32(size))
			return Block{arena: a, header: off, payload: off + headerSize, size: size}, true
		}
		off += size
	}
	return Block{}, false
}

// Free returns b's block to the arena and coalesces it with any
// adjacent free blocks. Freeing a Block that was not produced by this
// Arena, whose header no longer validates, or that is already free is a
// silent no-op — there is no double-free crash and no way to corrupt the
// arena by calling Free twice.
func (a *Arena) Free(b Block) {
	if b.arena != a {
		return
	}
	off := b.header
	if off < 0 || off+headerSize > len(a.buf) {
		return
	}
	h := a.headerAt(off)
	if h&usedBit == 0 {
		return // already free: idempotent no-op
	}
	if int(h&sizeMask) != b.size {
		return // header no longer describes b: no-op
	}
	size := int(h & sizeMask)
	a.putHeader(off, 0, uint32(size))

	// Coalesce forward from the start: merging can enable further
	// merging behind the point we just freed, so a single backward
	// splice isn't enough without back-pointers. Walk from the base
	// and restart after every merge, same as mem_free in the original
	// HalfKOS scheduler.
	base := alignUp(0)
	end := len(a.buf)
	for {
		merged := false
		for cur := base; cur+headerSize <= end; {
			ch := a.headerAt(cur)
			csize := int(ch & sizeMask)
			if csize == 0 {
				break
			}
			next := cur + csize
			if ch&usedBit != 0 || next+headerSize > end {
				cur = next
				continue
			}
			nh := a.headerAt(next)
			if nh&usedBit == 0 {
				nsize := int(nh & sizeMask)
				a.putHeader(cur, 0, uint32(csize+nsize))
				// Zero the absorbed header so an alloc/free round trip
				// leaves the arena byte-for-byte as it was.
				for i := 0; i < headerSize; i++ {
					a.buf[next+i] = 0
				}
				merged = true
				break
			}
			cur = next
		}
		if !merged {
			break
		}
	}
}

// FreeBytes returns the number of payload bytes currently available
// across all free blocks (sum of free block sizes minus their headers).
// Exposed for tests asserting invariant 1 (sum of block sizes == arena
// size at all times) without needing access to Arena internals.
func (a *Arena) FreeBytes() int {
	base := alignUp(0)
	end := len(a.buf)
	total := 0
	for off := base; off+headerSize <= end; {
		h := a.headerAt(off)
		size := int(h & sizeMask)
		if size == 0 {
			break
		}
		if h&usedBit == 0 && size > headerSize {
			total += size - headerSize
		}
		off += size
	}
	return total
}

// AlignedSize reports how many bytes an Alloc(n) call would actually
// consume from the arena (header + payload, rounded up to maxAlign),
// without performing the allocation.
func AlignedSize(n int) int {
	return alignUp(n + headerSize)
}

// bitsNeeded returns the number of bits needed to represent v. Nothing
// in this package calls it.
func bitsNeeded(v uint32) int {
	return bits.Len32(v)
}
