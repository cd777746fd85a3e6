// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HSG Members Contributors

package throttle

import (
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func newTestWindow(t *testing.T, cfg Config, opts ...Option) (*Window, *fakeClock) {
	t.Helper()
	clock := newFakeClock()
	w := New(cfg, append([]Option{WithClock(clock.Now)}, opts...)...)
	t.Cleanup(w.Close)
	return w, clock
}

func TestNew(t *testing.T) {
	t.Run("zero config uses defaults", func(t *testing.T) {
		w, _ := newTestWindow(t, Config{})
		assert.Equal(t, DefaultWindow, w.window)
		assert.Equal(t, DefaultLimit, w.limit)
	})

	t.Run("negative values use defaults", func(t *testing.T) {
		w, _ := newTestWindow(t, Config{Window: -time.Second, Limit: -3})
		assert.Equal(t, DefaultWindow, w.window)
		assert.Equal(t, DefaultLimit, w.limit)
	})
}

func TestWindow_Admit(t *testing.T) {
	t.Run("admits up to the limit then rejects", func(t *testing.T) {
		w, _ := newTestWindow(t, Config{Limit: 30})
		for i := 1; i <= 30; i++ {
			require.True(t, w.Admit("10.0.0.1"), "request %d", i)
		}
		assert.False(t, w.Admit("10.0.0.1"), "31st request within the window")
		assert.False(t, w.Admit("10.0.0.1"))
	})

	t.Run("keys are independent", func(t *testing.T) {
		w, _ := newTestWindow(t, Config{Limit: 1})
		assert.True(t, w.Admit("a"))
		assert.False(t, w.Admit("a"))
		assert.True(t, w.Admit("b"))
	})

	t.Run("markers expire after the window", func(t *testing.T) {
		w, clock := newTestWindow(t, Config{Window: time.Minute, Limit: 2})
		assert.True(t, w.Admit("k"))
		clock.Advance(30 * time.Second)
		assert.True(t, w.Admit("k"))
		assert.False(t, w.Admit("k"))

		clock.Advance(30 * time.Second)
		assert.Equal(t, 2, w.Count("k"), "first marker expired exactly at the window")
		assert.False(t, w.Admit("k"), "still two live markers after recording")

		clock.Advance(time.Minute)
		assert.True(t, w.Admit("k"))
		assert.Equal(t, 1, w.Count("k"))
	})

	t.Run("sustained rejection keeps the key rejected", func(t *testing.T) {
		w, clock := newTestWindow(t, Config{Window: time.Minute, Limit: 3})
		for range 3 {
			w.Admit("k")
		}
		for range 10 {
			clock.Advance(10 * time.Second)
			assert.False(t, w.Admit("k"))
		}
	})
}

func TestWindow_CountIsCapped(t *testing.T) {
	w, _ := newTestWindow(t, Config{Limit: 5})
	for range 100 {
		w.Admit("flood")
	}
	assert.Equal(t, 6, w.Count("flood"))
	assert.Equal(t, 0, w.Count("unknown"))
}

func TestWindow_Reset(t *testing.T) {
	w, _ := newTestWindow(t, Config{Limit: 1})
	w.Admit("a")
	w.Admit("b")
	require.False(t, w.Admit("a"))

	w.Reset()
	assert.Zero(t, w.Keys())
	assert.Zero(t, w.Count("a"))
	assert.True(t, w.Admit("a"))
}

func TestWindow_Sweep(t *testing.T) {
	w, clock := newTestWindow(t, Config{Window: time.Minute, Limit: 10})
	w.Admit("old")
	clock.Advance(45 * time.Second)
	w.Admit("recent")
	clock.Advance(30 * time.Second)

	w.Sweep()
	assert.Equal(t, 1, w.Keys())
	assert.Equal(t, 1, w.Count("recent"))
}

func TestWindow_Metrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	w, _ := newTestWindow(t, Config{Limit: 1}, WithRegistry(reg))

	w.Admit("a")
	w.Admit("a")
	w.Admit("b")

	assert.Equal(t, float64(2), testutil.ToFloat64(w.admitted))
	assert.Equal(t, float64(1), testutil.ToFloat64(w.rejected))
	assert.Equal(t, float64(2), testutil.ToFloat64(w.keys))

	w.Reset()
	assert.Equal(t, float64(0), testutil.ToFloat64(w.keys))
}

func TestWindow_Concurrent(t *testing.T) {
	w, _ := newTestWindow(t, Config{Limit: 50})

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		admitted int
	)
	for range 200 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if w.Admit("shared") {
				mu.Lock()
				admitted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 50, admitted)
}

func TestWindow_CloseStopsSweeper(t *testing.T) {
	defer goleak.VerifyNone(t)

	w := New(Config{SweepInterval: time.Millisecond})
	w.Admit("k")
	time.Sleep(5 * time.Millisecond)
	w.Close()
	w.Close()
}

func TestWindow_SweeperRuns(t *testing.T) {
	clock := newFakeClock()
	w := New(Config{Window: time.Second, SweepInterval: time.Millisecond}, WithClock(clock.Now))
	defer w.Close()

	w.Admit("k")
	clock.Advance(2 * time.Second)
	assert.Eventually(t, func() bool { return w.Keys() == 0 }, time.Second, time.Millisecond)
}
