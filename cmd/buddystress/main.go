// Command buddystress drives many concurrent callers against a single
// buddy.Allocator, each repeatedly allocating a random size, writing a
// pattern into it and reading it back, then releasing it. The Allocator
// itself holds no lock, so every call into it here is wrapped in a
// sync.Mutex held by the caller, the shape callers embedding package
// buddy in a concurrent program are expected to use.
package main

import (
	"context"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cloudwego/gopkg/concurrency/gopool"

	"github.com/go-buddy/allocator/buddy"
)

func main() {
	size := flag.Int("size", 1<<20, "region size in bytes, must be a power of two")
	workers := flag.Int("workers", 64, "number of concurrent callers")
	iterations := flag.Int("iterations", 2000, "allocate/release cycles per worker")
	maxAlloc := flag.Int("max-alloc", 4096, "largest payload size a worker will request")
	flag.Parse()

	region := make([]byte, *size)
	a, err := buddy.Create(region, buddy.Options{Strict: true})
	if err != nil {
		fmt.Fprintln(os.Stderr, "buddystress:", err)
		os.Exit(1)
	}

	var mu sync.Mutex
	var failures, completed int64

	pool := gopool.NewGoPool("buddystress", nil)

	var wg sync.WaitGroup
	wg.Add(*workers)
	for w := 0; w < *workers; w++ {
		w := w
		pool.CtxGo(context.Background(), func() {
			defer wg.Done()
			runWorker(w, *iterations, *maxAlloc, a, &mu, &failures, &completed)
		})
	}
	wg.Wait()

	fmt.Printf("completed=%d failures=%d\n", atomic.LoadInt64(&completed), atomic.LoadInt64(&failures))
	if atomic.LoadInt64(&failures) > 0 {
		os.Exit(1)
	}
}

func runWorker(id, iterations, maxAlloc int, a *buddy.Allocator, mu *sync.Mutex, failures, completed *int64) {
	rng := rand.New(rand.NewSource(time.Now().UnixNano() ^ int64(id)))
	tag := byte(id)

	for i := 0; i < iterations; i++ {
		n := rng.Intn(maxAlloc) + 1

		mu.Lock()
		buf := a.Allocate(n)
		mu.Unlock()
		if buf == nil {
			atomic.AddInt64(failures, 1)
			continue
		}

		for j := range buf {
			buf[j] = tag
		}
		for j := range buf {
			if buf[j] != tag {
				atomic.AddInt64(failures, 1)
				break
			}
		}

		mu.Lock()
		a.Release(buf)
		mu.Unlock()

		atomic.AddInt64(completed, 1)
	}
}
