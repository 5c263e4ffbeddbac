// Command buddydump creates a buddy allocator over a fresh region and
// prints its maximum capacity followed by its bucket layout, one line per
// rank that holds at least one free block, from the smallest rank up.
// Ranks with no free blocks are not printed. It is a diagnostic tool, not
// a benchmark: no allocations are made by default, so without -alloc the
// only bucket line shows a single free block at the backing rank.
//
// Usage:
//
//	buddydump [-size N] [-alloc SIZE]...
//
// -size sets the region size in bytes (must be a power of two, default
// 64KiB). -alloc may be repeated; each occurrence allocates SIZE bytes
// before the dump is printed, so the split pattern it produces is visible.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/cloudwego/gopkg/bufiox"

	"github.com/go-buddy/allocator/block"
	"github.com/go-buddy/allocator/buddy"
)

type sizeList []int

func (s *sizeList) String() string {
	return fmt.Sprint(*s)
}

func (s *sizeList) Set(v string) error {
	var n int
	if _, err := fmt.Sscanf(v, "%d", &n); err != nil {
		return err
	}
	*s = append(*s, n)
	return nil
}

func main() {
	size := flag.Int("size", 64<<10, "region size in bytes, must be a power of two")
	var allocs sizeList
	flag.Var(&allocs, "alloc", "allocate SIZE bytes before dumping (may repeat)")
	flag.Parse()

	region := make([]byte, *size)
	a, err := buddy.Create(region, buddy.Options{})
	if err != nil {
		fmt.Fprintln(os.Stderr, "buddydump:", err)
		os.Exit(1)
	}

	for _, n := range allocs {
		if buf := a.Allocate(n); buf == nil {
			fmt.Fprintf(os.Stderr, "buddydump: allocate(%d) failed\n", n)
		}
	}

	w := bufiox.NewDefaultWriter(os.Stdout)
	dump(w, a)
	if err := w.Flush(); err != nil {
		fmt.Fprintln(os.Stderr, "buddydump:", err)
		os.Exit(1)
	}
}

func dump(w bufiox.Writer, a *buddy.Allocator) {
	line := func(format string, args ...interface{}) {
		s := fmt.Sprintf(format, args...)
		_, _ = w.WriteBinary([]byte(s))
	}

	line("max capacity: %d bytes\n", a.MaxCapacity())
	for r := block.RankMin; r <= block.RankMax; r++ {
		n := a.BucketLen(r)
		if n == 0 {
			continue
		}
		line("rank %2d (%8d bytes/block): %d free\n", r, int(1)<<r, n)
	}
}
