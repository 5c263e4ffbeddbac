package buddy

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/go-buddy/allocator/block"
)

func newRegion(t *testing.T, rank block.Rank) (*Allocator, []byte) {
	t.Helper()
	region := make([]byte, 1<<rank)
	a, err := Create(region, Options{})
	require.NoError(t, err)
	return a, region
}

// --- boundary behaviors ---

func TestCreateRejectsBadSizes(t *testing.T) {
	_, err := Create(nil, Options{})
	assert.Error(t, err)

	_, err = Create([]byte{}, Options{})
	assert.Error(t, err)

	_, err = Create(make([]byte, 1), Options{})
	assert.Error(t, err)

	_, err = Create(make([]byte, (1<<block.RankMin)-1), Options{})
	assert.Error(t, err)

	_, err = Create(make([]byte, 3*(1<<block.RankMin)), Options{})
	assert.Error(t, err, "not a power of two")
}

func TestAllocateZeroReturnsMinimumClassBlock(t *testing.T) {
	a, _ := newRegion(t, block.RankMin+2)
	buf := a.Allocate(0)
	require.NotNil(t, buf)
	assert.Equal(t, 0, len(buf))
	a.Release(buf)
}

func TestAllocateAboveMaxCapacityReturnsNil(t *testing.T) {
	a, _ := newRegion(t, block.RankMin+2)
	assert.Nil(t, a.Allocate(a.MaxCapacity()+1))
}

func TestOverAllocatingDoesNotCorruptState(t *testing.T) {
	a, _ := newRegion(t, block.RankMin)
	buf := a.Allocate(a.MaxCapacity())
	require.NotNil(t, buf)

	assert.Nil(t, a.Allocate(1))
	assert.Nil(t, a.Allocate(a.MaxCapacity()))

	a.Release(buf)
	buf2 := a.Allocate(a.MaxCapacity())
	assert.NotNil(t, buf2)
}

// --- round-trip / idempotence ---

func TestReleaseNilIsNoop(t *testing.T) {
	a, _ := newRegion(t, block.RankMin+1)
	a.Release(nil)
	buf := a.Allocate(1)
	assert.NotNil(t, buf)
}

func TestDoubleReleaseIsNoop(t *testing.T) {
	a, _ := newRegion(t, block.RankMin+2)
	buf := a.Allocate(100)
	require.NotNil(t, buf)

	a.Release(buf)
	before := a.BucketLen(block.RankMin + 2)

	a.Release(buf) // must be a no-op, not a panic or corruption
	after := a.BucketLen(block.RankMin + 2)
	assert.Equal(t, before, after)
}

func TestDoubleReleaseStrictPanics(t *testing.T) {
	a, _ := newRegion(t, block.RankMin+2)
	a.opts.Strict = true
	buf := a.Allocate(100)
	require.NotNil(t, buf)
	a.Release(buf)
	assert.Panics(t, func() { a.Release(buf) })
}

func TestAllocateAllSizeClassesThenReleaseCoalescesFully(t *testing.T) {
	backing := block.RankMin + 4
	a, _ := newRegion(t, backing)

	// Allocating one block sized for each rank from RankMin up to
	// backing-1 consumes all of the region but one RankMin block, each at
	// a different size class (the first allocation splits the region down
	// to RankMin, leaving one free block of every rank below backing for
	// the later allocations to take, plus the spare RankMin buddy).
	var bufs [][]byte
	for r := block.RankMin; r < backing; r++ {
		size := (1 << r) - block.HeaderSize
		buf := a.Allocate(size)
		require.NotNil(t, buf, "rank %d", r)
		bufs = append(bufs, buf)
	}

	// release in reverse order; regardless of order the region must end
	// up fully coalesced back into one block of the backing rank.
	for i := len(bufs) - 1; i >= 0; i-- {
		a.Release(bufs[i])
	}
	assert.Equal(t, 1, a.BucketLen(backing))
}

// --- concrete scenario 1: fill-and-drain with minimum-class allocations ---

func TestFillAndDrainMinimumClass(t *testing.T) {
	const rankRange = 5
	backing := block.RankMin + rankRange
	a, _ := newRegion(t, backing)

	const want = 1 << rankRange
	var bufs [][]byte
	for i := 0; i < want; i++ {
		buf := a.Allocate(8)
		require.NotNil(t, buf, "allocation %d should succeed", i)
		for j := range buf {
			buf[j] = byte(i)
		}
		bufs = append(bufs, buf)
	}
	assert.Nil(t, a.Allocate(8), "the 33rd minimum-class allocation must fail")

	for i, buf := range bufs {
		for j := range buf {
			assert.Equal(t, byte(i), buf[j])
		}
	}

	for _, buf := range bufs {
		a.Release(buf)
	}

	full := a.Allocate(a.MaxCapacity())
	assert.NotNil(t, full)
	a.Release(full)
}

// --- concrete scenario 2: every-size walk ---

func TestEverySizeWalk(t *testing.T) {
	a, _ := newRegion(t, block.RankMin)
	before := a.BucketLen(block.RankMin)

	for n := 0; n <= a.MaxCapacity(); n++ {
		p := a.Allocate(n)
		require.NotNil(t, p, "allocate(%d)", n)
		a.Release(p)
	}

	assert.Equal(t, before, a.BucketLen(block.RankMin))
}

// --- concrete scenario 3: randomized integrity ---

func TestRandomizedIntegrity(t *testing.T) {
	const rankRange = 5
	const storageSize = 1 << rankRange
	const iterations = 999

	backing := block.RankMin + rankRange
	a, _ := newRegion(t, backing)
	capacityMax := a.MaxCapacity()

	for seed := 0; seed < iterations; seed++ {
		rng := rand.New(rand.NewSource(int64(seed)))
		storage := make([][]byte, storageSize)

		for i := 0; i < storageSize; i++ {
			size := rng.Intn(capacityMax) + 1
			storage[i] = a.Allocate(size)
			if storage[i] != nil {
				for j := range storage[i] {
					storage[i][j] = byte(rng.Intn(256))
				}
			}
		}

		rng = rand.New(rand.NewSource(int64(seed)))
		for i := 0; i < storageSize; i++ {
			size := rng.Intn(capacityMax) + 1
			_ = size
			if storage[i] != nil {
				for j := range storage[i] {
					assert.Equal(t, byte(rng.Intn(256)), storage[i][j],
						"seed=%d i=%d j=%d: corruption", seed, i, j)
				}
			}
		}

		for _, s := range storage {
			if s != nil {
				a.Release(s)
			}
		}
	}

	assert.Equal(t, 1, a.BucketLen(backing))
}

// --- concrete scenario 4: split correctness ---

func TestSplitCorrectness(t *testing.T) {
	backing := block.RankMin + 2 // rank 14
	a, _ := newRegion(t, backing)

	// A payload whose size plus header crosses the rank-12 boundary
	// must be served from rank 13: a single split of the rank-14 region
	// consumes the lower-addressed rank-13 half and leaves the other
	// rank-13 half free.
	size := (1 << block.RankMin) - block.HeaderSize + 1
	buf := a.Allocate(size)
	require.NotNil(t, buf)

	assert.Equal(t, 0, a.BucketLen(block.RankMin))
	assert.Equal(t, 1, a.BucketLen(block.RankMin+1))
	assert.Equal(t, 0, a.BucketLen(backing))

	a.Release(buf)
	assert.Equal(t, 1, a.BucketLen(backing))
}

// --- concrete scenario 5: coalesce correctness ---

func TestCoalesceCorrectness(t *testing.T) {
	backing := block.RankMin + 2 // rank 14, four rank-12 blocks
	a, _ := newRegion(t, backing)

	minSize := (1 << block.RankMin) - block.HeaderSize
	bufA := a.Allocate(minSize)
	bufB := a.Allocate(minSize)
	bufC := a.Allocate(minSize)
	bufD := a.Allocate(minSize)
	require.NotNil(t, bufA)
	require.NotNil(t, bufB)
	require.NotNil(t, bufC)
	require.NotNil(t, bufD)

	a.Release(bufA)
	a.Release(bufC)
	assert.Equal(t, 2, a.BucketLen(block.RankMin))
	assert.Equal(t, 0, a.BucketLen(block.RankMin+1))

	a.Release(bufB)
	assert.Equal(t, 1, a.BucketLen(block.RankMin)) // C remains alone
	assert.Equal(t, 1, a.BucketLen(block.RankMin+1))

	a.Release(bufD)
	assert.Equal(t, 0, a.BucketLen(block.RankMin))
	assert.Equal(t, 0, a.BucketLen(block.RankMin+1))
	assert.Equal(t, 1, a.BucketLen(backing))
}

// --- concrete scenario 6: double-release safety ---

func TestDoubleReleaseScenario(t *testing.T) {
	a, _ := newRegion(t, block.RankMin+2)
	p := a.Allocate(100)
	require.NotNil(t, p)
	a.Release(p)

	snapshot := make([]int, int(block.RankMax)+1)
	for r := block.RankMin; r <= a.backingRank; r++ {
		snapshot[r] = a.BucketLen(r)
	}

	a.Release(p)

	for r := block.RankMin; r <= a.backingRank; r++ {
		assert.Equal(t, snapshot[r], a.BucketLen(r), "rank %d", r)
	}
}

func TestMaxCapacityIsConstant(t *testing.T) {
	a, _ := newRegion(t, block.RankMin+3)
	want := a.MaxCapacity()

	var bufs [][]byte
	for {
		b := a.Allocate(8)
		if b == nil {
			break
		}
		bufs = append(bufs, b)
	}
	assert.Equal(t, want, a.MaxCapacity())

	for _, b := range bufs {
		a.Release(b)
	}
	assert.Equal(t, want, a.MaxCapacity())
	assert.Equal(t, (1<<(block.RankMin+3))-block.HeaderSize, want)
}

func TestDestroyFreesBookkeeping(t *testing.T) {
	a, _ := newRegion(t, block.RankMin+1)
	a.Destroy()
}
