package tensor

import (
	"sync"
	"sync/atomic"
)

// workers controls goroutine parallelism for Linear and MatVec. Values
// <= 1 disable parallel execution.
var workers atomic.Int32

func init() {
	workers.Store(1)
}

// SetWorkers sets the maximum number of goroutines used by tensor kernels.
// n <= 1 disables kernel parallelism.
func SetWorkers(n int) {
	const maxInt32 = int(^uint32(0) >> 1)

	n = min(max(n, 1), maxInt32)
	workers.Store(int32(n))
}

// Workers returns the configured kernel parallelism.
func Workers() int {
	return max(int(workers.Load()), 1)
}

// minRowsPerWorker keeps small products on the calling goroutine.
const minRowsPerWorker = 64

func parallelFor(n, maxWorkers int, fn func(lo, hi int)) {
	if n <= 0 {
		return
	}

	maxWorkers = min(maxWorkers, n/minRowsPerWorker)
	if maxWorkers <= 1 {
		fn(0, n)
		return
	}

	chunk := (n + maxWorkers - 1) / maxWorkers

	var wg sync.WaitGroup

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
