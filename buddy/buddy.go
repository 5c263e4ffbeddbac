// Package buddy implements a binary buddy allocator over a single,
// caller-provided, contiguous region of memory.
//
// The region is carved into power-of-two blocks between block.RankMin and
// the region's own rank. Allocation finds or manufactures (by splitting) a
// block of the smallest sufficient rank; release coalesces a freed block
// with its buddy whenever possible, recursively, before the call returns.
//
// The allocator is single-threaded: it holds no internal lock, and two
// goroutines must not call Allocate/Release/Destroy on the same Allocator
// concurrently without external synchronization (see cmd/buddystress for
// the shape that synchronization should take).
package buddy

import (
	"fmt"
	"unsafe"

	"github.com/bytedance/gopkg/lang/mcache"

	"github.com/go-buddy/allocator/block"
	"github.com/go-buddy/allocator/dlist"
	"github.com/go-buddy/allocator/internal/hack"
)

// magic tags the reserved header bytes at the front of every allocated
// block, so Release can reject a pointer that was never handed out by this
// allocator (or was already released) before touching any free-list state.
const magic uint32 = 0xB0DD11E5

// CapacityMax is the largest payload size Allocate will ever consider,
// accounting for the header bytes every block reserves.
const CapacityMax = int(^uint(0)>>1) - block.HeaderSize

// Options configures policy decisions left to the embedder.
type Options struct {
	// Strict, if true, makes Release panic when given a pointer whose
	// header is not busy (double free, or a pointer foreign to this
	// allocator) instead of silently ignoring the call.
	Strict bool
}

// Allocator is a binary buddy allocator over one backing region.
type Allocator struct {
	arena      []byte
	arenaStart unsafe.Pointer

	headerBuf []byte // host-allocated bookkeeping storage, see mcache usage below
	headers   []block.Header

	// Sized RankRange+1, not RankRange: Bucket(r) ranges over
	// [0, RankRange] inclusive because backingRank (and so the largest
	// rank ever pushed to a bucket) may itself be RankMax, and
	// Bucket(RankMax) == RankRange.
	buckets [block.RankRange + 1]*dlist.List[int32]
	counts  [block.RankRange + 1]int

	backingRank block.Rank
	opts        Options
}

// slotAccessor is the dlist.Accessor binding List[int32] handles to one
// Allocator's header array: the free-list links genuinely live in the
// bookkeeping record for each slot, not in a separate list node.
type slotAccessor struct {
	headers []block.Header
}

func (a slotAccessor) Nil() int32        { return block.NilSlot }
func (a slotAccessor) Prev(n int32) int32 { return a.headers[n].Prev }
func (a slotAccessor) SetPrev(n, v int32) { a.headers[n].Prev = v }
func (a slotAccessor) Next(n int32) int32 { return a.headers[n].Next }
func (a slotAccessor) SetNext(n, v int32) { a.headers[n].Next = v }

// Create carves a binary buddy allocator out of raw, which must be a
// power-of-two number of bytes whose rank lies in [block.RankMin,
// block.RankMax]. raw's own alignment must be at least block.HeaderSize
// bytes, since that is the effective alignment this allocator promises
// its own allocations; alignment beyond that is not guaranteed.
//
// Create never retains raw's backing array beyond what the returned
// Allocator needs; raw remains owned by the caller, who must keep it
// alive and must not touch it directly while the Allocator is in use.
func Create(raw []byte, opts Options) (*Allocator, error) {
	if raw == nil {
		return nil, fmt.Errorf("buddy: raw must not be nil")
	}
	size := len(raw)
	if size == 0 || size&(size-1) != 0 {
		return nil, fmt.Errorf("buddy: size must be a power of two, got %d", size)
	}
	if uintptr(unsafe.Pointer(&raw[0]))%block.HeaderSize != 0 {
		return nil, fmt.Errorf("buddy: raw must be aligned to %d bytes", block.HeaderSize)
	}

	backingRank := block.ComputeRank(uint64(size))
	if backingRank < block.RankMin || backingRank > block.RankMax {
		return nil, fmt.Errorf("buddy: backing rank %d out of range [%d, %d]",
			backingRank, block.RankMin, block.RankMax)
	}

	numSlots := size >> block.RankMin
	headerBytes := numSlots * int(unsafe.Sizeof(block.Header{}))
	headerBuf := mcache.Malloc(headerBytes)
	headers := unsafe.Slice((*block.Header)(unsafe.Pointer(&headerBuf[0])), numSlots)
	for i := range headers {
		headers[i] = block.Header{Prev: block.NilSlot, Next: block.NilSlot}
	}

	a := &Allocator{
		arena:       raw,
		arenaStart:  unsafe.Pointer(&raw[0]),
		headerBuf:   headerBuf,
		headers:     headers,
		backingRank: backingRank,
		opts:        opts,
	}
	acc := slotAccessor{headers: a.headers}
	for i := range a.buckets {
		a.buckets[i] = dlist.New[int32](acc)
	}

	// The whole region starts as one free block of the backing rank.
	// Routing it through pushChunk instead of inserting it directly
	// keeps Create on the same code path that re-establishes invariants
	// after every other state change.
	a.headers[0].Offset = 0
	a.headers[0].Rank = backingRank
	a.pushChunk(0)

	return a, nil
}

// Destroy releases the allocator's bookkeeping storage. It does not touch
// the backing region, which the caller owns. Destroy is not idempotent;
// using a or its backing region afterward is undefined.
func (a *Allocator) Destroy() {
	mcache.Free(a.headerBuf)
}

// MaxCapacity returns the largest payload size Allocate can ever satisfy
// for this allocator. It is constant for the allocator's lifetime.
func (a *Allocator) MaxCapacity() int {
	return (1 << a.backingRank) - block.HeaderSize
}

// BucketLen returns the number of free blocks currently in rank r's
// bucket. O(1); used by diagnostics and by tests, distinct from
// dlist.List.Len which stays an O(n) traversal.
func (a *Allocator) BucketLen(r block.Rank) int {
	if r < block.RankMin || r > a.backingRank {
		return 0
	}
	return a.counts[block.Bucket(r)]
}

// Allocate returns a slice of at least size usable bytes, or nil if no
// sufficiently large free block is available or size is too large to ever
// be satisfied.
func (a *Allocator) Allocate(size int) []byte {
	if size < 0 || size >= CapacityMax {
		return nil
	}
	want := block.ComputeRank(uint64(size) + block.HeaderSize)
	if want < block.RankMin {
		want = block.RankMin
	}
	if want > a.backingRank {
		return nil
	}

	slot := a.popChunk(want)
	if slot == block.NilSlot {
		return nil
	}
	h := &a.headers[slot]
	h.Busy = true

	ptr := unsafe.Add(a.arenaStart, h.Offset)
	*(*uint32)(ptr) = magic
	blockSize := uint64(1) << want
	return unsafe.Slice((*byte)(unsafe.Add(ptr, block.HeaderSize)), blockSize-block.HeaderSize)[:size]
}

// Release returns a block previously obtained from Allocate. Releasing
// nil is a no-op. Releasing a pointer whose header is not busy (a double
// free, or a slice foreign to this allocator) is silently ignored unless
// Options.Strict was set at Create, in which case it panics.
func (a *Allocator) Release(p []byte) {
	if p == nil {
		return
	}

	dataPtr := hack.SliceDataPointer(p)
	rawOffset := int64(uintptr(dataPtr)-uintptr(a.arenaStart)) - block.HeaderSize
	if rawOffset < 0 || rawOffset >= int64(len(a.arena)) {
		a.fail("buddy: pointer not in arena")
		return
	}
	offset := uint64(rawOffset)

	headerPtr := unsafe.Add(a.arenaStart, offset)
	magicPtr := (*uint32)(headerPtr)
	if *magicPtr != magic {
		a.fail("buddy: double free or invalid pointer")
		return
	}

	slot := offset >> block.RankMin
	if slot >= uint64(len(a.headers)) {
		a.fail("buddy: pointer not in arena")
		return
	}
	h := &a.headers[slot]
	if !h.Busy || h.Offset != offset {
		a.fail("buddy: double free or invalid pointer")
		return
	}

	*magicPtr = 0
	a.pushChunk(int32(slot))
}

func (a *Allocator) fail(msg string) {
	if a.opts.Strict {
		panic(msg)
	}
}

// popChunk returns a free block of exactly rank want, splitting a larger
// free block if necessary. Walking up to the smallest available rank and
// splitting back down is naturally recursive; it is written here as an
// explicit loop to avoid call overhead on the allocator's hottest path.
func (a *Allocator) popChunk(want block.Rank) int32 {
	if want < block.RankMin || want > a.backingRank {
		return block.NilSlot
	}

	found := want
	for found <= a.backingRank && a.buckets[block.Bucket(found)].Empty() {
		found++
	}
	if found > a.backingRank {
		return block.NilSlot
	}

	slot := a.buckets[block.Bucket(found)].PopFront()
	a.counts[block.Bucket(found)]--
	h := &a.headers[slot]

	for found > want {
		found--
		buddyOffset, ok := block.Buddy(h.Offset, found, a.backingRank)
		if !ok {
			panic("buddy: split produced a rank with no buddy")
		}
		buddySlot := int32(buddyOffset >> block.RankMin)
		bh := &a.headers[buddySlot]
		bh.Offset = buddyOffset
		bh.Rank = found
		bh.Busy = false
		a.buckets[block.Bucket(found)].PushFront(buddySlot)
		a.counts[block.Bucket(found)]++
	}

	h.Rank = want
	return slot
}

// pushChunk releases slot's block back to its bucket, coalescing with its
// buddy as many times as possible. Written as an explicit loop rather
// than recursion for the same reason as popChunk.
func (a *Allocator) pushChunk(slot int32) {
	h := &a.headers[slot]

	for {
		buddyOffset, ok := block.Buddy(h.Offset, h.Rank, a.backingRank)
		if ok {
			buddySlot := int32(buddyOffset >> block.RankMin)
			bh := &a.headers[buddySlot]
			if !bh.Busy && bh.Rank == h.Rank {
				a.buckets[block.Bucket(h.Rank)].Remove(buddySlot)
				a.counts[block.Bucket(h.Rank)]--

				parentSlot := slot
				if buddyOffset < h.Offset {
					parentSlot = buddySlot
				}
				ph := &a.headers[parentSlot]
				ph.Rank = h.Rank + 1
				ph.Offset = minUint64(h.Offset, buddyOffset)

				slot = parentSlot
				h = ph
				continue
			}
		}

		h.Busy = false
		a.buckets[block.Bucket(h.Rank)].PushFront(slot)
		a.counts[block.Bucket(h.Rank)]++
		return
	}
}

func minUint64(a, b uint64) uint64 {
	if a < b {
		return a
	}
	return b
}
