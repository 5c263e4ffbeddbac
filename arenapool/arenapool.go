// Package arenapool pools the raw backing regions buddy.Allocators are
// created over, so a program that repeatedly stands up and tears down
// allocators (one per request, one per connection, one per test case) does
// not pay a fresh OS allocation for each one.
//
// One sync.Pool is kept per rank in [block.RankMin, block.RankMax]. Every
// region handed out by Get carries an 8-byte footer: a nonce and an
// xxhash3 checksum of that nonce. Put recomputes the checksum before
// returning a region to its pool and then scrubs the footer, so a region
// released twice (whose footer the first Put already scrubbed) or a slice
// never obtained from this pool is rejected rather than silently
// corrupting pool state.
package arenapool

import (
	"encoding/binary"
	"sync"
	"sync/atomic"

	"github.com/bytedance/gopkg/lang/dirtmake"
	"github.com/bytedance/gopkg/util/xxhash3"

	"github.com/go-buddy/allocator/block"
)

// footerLen is the number of trailing bytes reserved on every pooled
// region for the ownership tag. Regions are sized 2^r + footerLen; only
// the leading 2^r bytes are ever exposed to a caller or handed to
// buddy.Create.
const footerLen = 8

// Pool pools backing regions for buddy allocators, one region size per
// rank. The zero value is ready to use.
type Pool struct {
	mu    sync.Mutex
	pools [block.RankMax + 1]*sync.Pool
	nonce uint32
}

func (p *Pool) poolFor(r block.Rank) *sync.Pool {
	p.mu.Lock()
	sp := p.pools[r]
	if sp == nil {
		sp = &sync.Pool{}
		p.pools[r] = sp
	}
	p.mu.Unlock()
	return sp
}

func checksum(nonce uint32) uint32 {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], nonce)
	return uint32(xxhash3.Hash(b[:]))
}

// Get returns a backing region of exactly 2^r usable bytes, suitable for
// passing directly to buddy.Create. r must be in [block.RankMin,
// block.RankMax]. The region's content is not zeroed.
func (p *Pool) Get(r block.Rank) []byte {
	if r < block.RankMin || r > block.RankMax {
		panic("arenapool: rank out of range")
	}
	size := 1 << r

	sp := p.poolFor(r)
	var region []byte
	if v := sp.Get(); v != nil {
		region = *(v.(*[]byte))
	} else {
		region = dirtmake.Bytes(size+footerLen, size+footerLen)
	}

	nonce := atomic.AddUint32(&p.nonce, 1)
	footer := region[size : size+footerLen]
	binary.LittleEndian.PutUint32(footer[0:4], nonce)
	binary.LittleEndian.PutUint32(footer[4:8], checksum(nonce))
	return region[:size]
}

// Put returns a region previously obtained from Get back to its pool. buf
// must be exactly the slice Get returned (same length, same backing
// array); anything else, including a region already Put once, is
// rejected silently.
func (p *Pool) Put(buf []byte) {
	size := len(buf)
	r := block.ComputeRank(uint64(size))
	if size == 0 || int(1)<<r != size || r < block.RankMin || r > block.RankMax {
		return
	}
	if cap(buf) < size+footerLen {
		return
	}
	region := buf[:size+footerLen:size+footerLen]
	footer := region[size : size+footerLen]
	nonce := binary.LittleEndian.Uint32(footer[0:4])
	want := binary.LittleEndian.Uint32(footer[4:8])
	if checksum(nonce) != want {
		return
	}
	// Scrub the footer so a second Put of the same slice fails the check
	// above instead of double-pooling the region.
	binary.LittleEndian.PutUint32(footer[0:4], 0)
	binary.LittleEndian.PutUint32(footer[4:8], 1)

	sp := p.poolFor(r)
	sp.Put(&region)
}
