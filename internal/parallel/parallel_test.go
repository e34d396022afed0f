package parallel

import (
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestForVisitsEveryIndexOnce(t *testing.T) {
	configs := map[string]Config{
		"default":      DefaultConfig(),
		"sequential":   Sequential(),
		"four workers": {Enabled: true, NumWorkers: 4, MinChunkSize: 1},
		"zero chunk":   {Enabled: true, NumWorkers: 3, MinChunkSize: 0},
	}
	for name, cfg := range configs {
		t.Run(name, func(t *testing.T) {
			const n = 1000
			seen := make([]int32, n)
			For(n, func(i int) { atomic.AddInt32(&seen[i], 1) }, cfg)
			for i, c := range seen {
				assert.EqualValues(t, 1, c, "index %d", i)
			}
		})
	}
}

func TestForSmallInputStaysSequential(t *testing.T) {
	cfg := Config{Enabled: true, NumWorkers: 8, MinChunkSize: 16}

	// Appending without synchronisation is only safe on one goroutine.
	var order []int
	For(cfg.MinChunkSize-1, func(i int) { order = append(order, i) }, cfg)

	want := make([]int, cfg.MinChunkSize-1)
	for i := range want {
		want[i] = i
	}
	assert.Equal(t, want, order)
}

func TestForEmpty(t *testing.T) {
	called := false
	For(0, func(int) { called = true }, Config{Enabled: true, NumWorkers: 4, MinChunkSize: 1})
	assert.False(t, called)
}

func BenchmarkFor(b *testing.B) {
	cfg := DefaultConfig()
	n := 10000

	b.Run("parallel", func(b *testing.B) {
		for b.Loop() {
			var sum int64
			For(n, func(i int) { atomic.AddInt64(&sum, int64(i)) }, cfg)
		}
	})

	b.Run("sequential", func(b *testing.B) {
		for b.Loop() {
			var sum int64
			For(n, func(i int) { atomic.AddInt64(&sum, int64(i)) }, Sequential())
		}
	})
}
