// Package parallel splits data-parallel loops across worker goroutines.
package parallel

import (
	"runtime"
	"sync"
)

// Config controls parallel execution behavior.
type Config struct {
	Enabled      bool // Whether parallel execution is enabled.
	NumWorkers   int  // Number of worker goroutines to use.
	MinChunkSize int  // Minimum items per goroutine to avoid overhead.
}

// DefaultConfig returns sensible defaults based on CPU count.
func DefaultConfig() Config {
	n := runtime.NumCPU()
	return Config{
		Enabled:      n > 1,
		NumWorkers:   n,
		MinChunkSize: 64, // Typical cache line aware chunk.
	}
}

// Sequential returns a configuration that runs every loop on the calling goroutine.
func Sequential() Config {
	return Config{}
}

// ForRange calls f(start, end) over disjoint sub-ranges covering [0, n).
// Falls back to a single call if parallelism is disabled or n is too small.
func ForRange(n int, f func(start, end int), cfg Config) {
	if n <= 0 {
		return
	}
	if !cfg.Enabled || cfg.NumWorkers < 2 || n < 2*cfg.MinChunkSize {
		f(0, n)
		return
	}

	var wg sync.WaitGroup
	chunkSize := max((n+cfg.NumWorkers-1)/cfg.NumWorkers, cfg.MinChunkSize, 1)

	for start := 0; start < n; start += chunkSize {
		end := min(start+chunkSize, n)
		wg.Add(1)
		go func(s, e int) {
			defer wg.Done()
			f(s, e)
		}(start, end)
	}
	wg.Wait()
}

// For executes f(i) for i in [0, n) with optional parallelism.
func For(n int, f func(i int), cfg Config) {
	ForRange(n, func(s, e int) {
		for i := s; i < e; i++ {
			f(i)
		}
	}, cfg)
}

// For2D executes f(a, b) for every pair in [0, na) x [0, nb), splitting the
// collapsed index space across workers.
func For2D(na, nb int, f func(a, b int), cfg Config) {
	For(na*nb, func(k int) {
		f(k/nb, k%nb)
	}, cfg)
}

// For3D executes f(a, b, c) over the collapsed 3-D index space.
func For3D(na, nb, nc int, f func(a, b, c int), cfg Config) {
	For(na*nb*nc, func(k int) {
		c := k % nc
		k /= nc
		f(k/nb, k%nb, c)
	}, cfg)
}

// For4D executes f(a, b, c, d) over the collapsed 4-D index space.
func For4D(na, nb, nc, nd int, f func(a, b, c, d int), cfg Config) {
	For(na*nb*nc*nd, func(k int) {
		d := k % nd
		k /= nd
		c := k % nc
		k /= nc
		f(k/nb, k%nb, c, d)
	}, cfg)
}
