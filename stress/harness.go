/*
 * Copyright 2024 CloudWeGo Authors
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

// Package stress fans concurrent Malloc/Free traffic out across a goroutine
// pool and checks the resulting allocations for overlap, to shake loose
// locking-discipline bugs that only show up under contention. It does not
// call Realloc or Calloc.
package stress

import (
	"context"
	"fmt"
	"math/rand"
	"sort"
	"sync"
	"unsafe"

	"github.com/voidkernel/kballoc"
	"github.com/voidkernel/kballoc/concurrency/gopool"
)

// Config controls one Run.
type Config struct {
	Workers    int // concurrent goroutines hammering the allocator
	OpsPerWork int // Malloc/Free pairs each worker performs
	MaxSize    int // largest single allocation requested, in bytes
	Seed       int64
}

// Result summarizes one Run.
type Result struct {
	TotalAllocs int
	TotalFrees  int
	MaxLiveSize int // high-water mark of bytes outstanding at once
}

// Run drives Config.Workers goroutines, each performing Config.OpsPerWork
// random-sized Malloc/Free cycles against a, through the shared gopool
// worker pool rather than raw `go`. Every live allocation is recorded with
// its [start, start+size) byte range; a worker that ever observes two live
// ranges overlapping panics, and that panic is re-raised on the worker's
// goroutine rather than recovered by the pool, ending the process. An
// overlap would mean the buddy allocator handed out the same bytes twice.
func Run(a *kballoc.Allocator, cfg Config) (Result, error) {
	if cfg.Workers <= 0 || cfg.OpsPerWork <= 0 || cfg.MaxSize <= 0 {
		return Result{}, fmt.Errorf("stress: invalid config %+v", cfg)
	}

	pool := gopool.NewGoPool("kballoc-stress", nil)
	// The pool recovers task panics and only logs them by default; re-raise
	// them instead so an overlap found by a worker is not swallowed.
	pool.SetPanicHandler(func(_ context.Context, r interface{}) { panic(r) })

	var (
		mu       sync.Mutex
		live     = map[uintptr]int{} // start address -> size
		allocs   int
		frees    int
		maxLive  int
		liveSize int
	)

	var wg sync.WaitGroup
	wg.Add(cfg.Workers)
	for w := 0; w < cfg.Workers; w++ {
		w := w
		pool.Go(func() {
			defer wg.Done()
			rng := rand.New(rand.NewSource(cfg.Seed + int64(w)))
			for i := 0; i < cfg.OpsPerWork; i++ {
				size := 1 + rng.Intn(cfg.MaxSize)
				p := a.Malloc(size)
				if p == nil {
					continue
				}
				start := uintptr(p)

				mu.Lock()
				checkNoOverlap(live, start, size)
				live[start] = size
				allocs++
				liveSize += size
				if liveSize > maxLive {
					maxLive = liveSize
				}
				mu.Unlock()

				// Immediately free about half of what we allocate so the
				// population of live blocks churns instead of only growing.
				if rng.Intn(2) == 0 {
					mu.Lock()
					delete(live, start)
					frees++
					liveSize -= size
					mu.Unlock()
					a.Free(p)
				}
			}
		})
	}
	wg.Wait()

	mu.Lock()
	remaining := make([]uintptr, 0, len(live))
	for start := range live {
		remaining = append(remaining, start)
	}
	mu.Unlock()
	sort.Slice(remaining, func(i, j int) bool { return remaining[i] < remaining[j] })
	for _, start := range remaining {
		a.Free(unsafe.Pointer(start))
		frees++
	}

	return Result{TotalAllocs: allocs, TotalFrees: frees, MaxLiveSize: maxLive}, nil
}

// checkNoOverlap panics if [start, start+size) intersects any range already
// recorded in live. Caller holds the map's lock.
func checkNoOverlap(live map[uintptr]int, start uintptr, size int) {
	end := start + uintptr(size)
	for s, sz := range live {
		e := s + uintptr(sz)
		if start < e && s < end {
			panic(fmt.Sprintf("stress: overlapping allocations [%d,%d) and [%d,%d)", start, end, s, e))
		}
	}
}
