// Package parallel spreads independent per-node work over worker goroutines.
package parallel

import (
	"runtime"
	"sync"
)

// Config controls how For splits work.
type Config struct {
	Enabled      bool // run on several goroutines
	NumWorkers   int  // upper bound on goroutines
	MinChunkSize int  // items below which work stays on the caller's goroutine
}

// DefaultConfig uses one worker per CPU. Graphs with fewer than 32
// selected nodes are handled sequentially.
func DefaultConfig() Config {
	n := runtime.NumCPU()
	return Config{
		Enabled:      n > 1,
		NumWorkers:   n,
		MinChunkSize: 32,
	}
}

// Sequential returns a Config that never starts goroutines.
func Sequential() Config {
	return Config{}
}

// For calls f(i) for every i in [0, n) and returns when all calls are
// done. f must be safe for concurrent use when cfg is enabled; calls for
// distinct i never overlap on the same index.
func For(n int, f func(i int), cfg Config) {
	if !cfg.Enabled || cfg.NumWorkers < 2 || n < cfg.MinChunkSize {
		for i := range n {
			f(i)
		}
		return
	}

	var wg sync.WaitGroup
	chunk := max((n+cfg.NumWorkers-1)/cfg.NumWorkers, cfg.MinChunkSize, 1)
	for start := 0; start < n; start += chunk {
		end := min(start+chunk, n)
		wg.Add(1)
		go func(s, e int) {
			defer wg.Done()
			for i := s; i < e; i++ {
				f(i)
			}
		}(start, end)
	}
	wg.Wait()
}
