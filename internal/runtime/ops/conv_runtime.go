package ops

import (
	"sync"
	"sync/atomic"
)

// convWorkers controls the number of goroutines used by Conv1D. A value of
// 0 or 1 means sequential (default).
var convWorkers atomic.Int32

// SetConvWorkers sets the maximum number of goroutines used for parallel
// Conv1D execution. n <= 1 disables parallelism.
func SetConvWorkers(n int) {
	const maxInt32 = int(^uint32(0) >> 1)

	convWorkers.Store(int32(min(max(n, 0), maxInt32)))
}

// getConvWorkers returns the current worker count (0 or 1 -> sequential).
func getConvWorkers() int { return int(convWorkers.Load()) }

// parallelFor splits [0, n) into chunks and runs fn(lo, hi) concurrently.
// When workers <= 1 the call is sequential.
func parallelFor(n, workers int, fn func(lo, hi int)) {
	if workers <= 1 || n <= 1 {
		fn(0, n)
		return
	}

	workers = min(workers, n)

	var wg sync.WaitGroup

	chunk := (n + workers - 1) / workers
	for lo := 0; lo < n; lo += chunk {
		hi := min(lo+chunk, n)

		wg.Add(1)

		go func() {
			defer wg.Done()
			fn(lo, hi)
		}()
	}

	wg.Wait()
}

// scratchPools holds reusable im2col buffers in power-of-two size classes
// from 2^10 to 2^26 floats.
var scratchPools [17]sync.Pool

// getScratch returns a zeroed []float32 of exactly n elements. The caller
// must call putScratch when done.
func getScratch(n int) []float32 {
	cls := scratchClass(n)

	sz := 1 << (cls + 10)
	if sz < n {
		return make([]float32, n)
	}

	if v := scratchPools[cls].Get(); v != nil {
		if buf, ok := v.([]float32); ok {
			buf = buf[:n]
			clear(buf)

			return buf
		}
	}

	return make([]float32, sz)[:n]
}

// putScratch returns a buffer obtained from getScratch to its pool.
// Oversized buffers are dropped.
func putScratch(buf []float32) {
	c := cap(buf)

	cls := scratchClass(c)
	if 1<<(cls+10) != c {
		return
	}

	scratchPools[cls].Put(buf[:c])
}

// scratchClass returns the pool index for a buffer of n elements.
func scratchClass(n int) int {
	if n <= 1<<10 {
		return 0
	}

	bits := 0
	for v := n - 1; v > 0; v >>= 1 {
		bits++
	}

	return min(max(bits-10, 0), 16)
}
