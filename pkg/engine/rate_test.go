package engine_test

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"bandwire/pkg/engine"
)

type fakeClock struct {
	t time.Time
}

func (c *fakeClock) Now() time.Time { return c.t }

func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func newClock() *fakeClock {
	return &fakeClock{t: time.Unix(1700000000, 0)}
}

func TestRateMeterCumulative(t *testing.T) {
	clock := newClock()
	m := engine.NewRateMeter(engine.WithClock(clock.Now))

	const n = 250
	const span = 5 * time.Second
	step := span / n
	for i := 0; i < n; i++ {
		clock.Advance(step)
		m.RecordArrival()
	}

	r := m.Snapshot(clock.Now())
	assert.Equal(t, uint64(n), r.Total)
	assert.Equal(t, span, r.Elapsed)
	assert.InDelta(t, float64(n)/span.Seconds(), r.Cumulative, 0.01)
}

func TestRateMeterWindowed(t *testing.T) {
	clock := newClock()
	m := engine.NewRateMeter(engine.WithClock(clock.Now))

	for i := 0; i < 10; i++ {
		clock.Advance(50 * time.Millisecond)
		m.RecordArrival()
	}
	r := m.Snapshot(clock.Now())
	assert.Zero(t, r.Windowed, "partial windows are not extrapolated")

	clock.Advance(500 * time.Millisecond)
	r = m.Snapshot(clock.Now())
	assert.InDelta(t, 10.0, r.Windowed, 1e-9)

	// The next window holds nothing until it closes.
	clock.Advance(1 * time.Second)
	r = m.Snapshot(clock.Now())
	assert.Zero(t, r.Windowed)
	assert.Equal(t, uint64(10), r.Total)
}

func TestRateMeterWindowClosesOnArrival(t *testing.T) {
	clock := newClock()
	m := engine.NewRateMeter(engine.WithClock(clock.Now), engine.WithWindow(time.Second))

	for i := 0; i < 20; i++ {
		m.RecordArrival()
	}
	clock.Advance(2 * time.Second)
	m.RecordArrival()

	r := m.Snapshot(clock.Now())
	assert.InDelta(t, 10.0, r.Windowed, 1e-9)
	assert.Equal(t, uint64(21), r.Total)
}

func TestRateMeterEmpty(t *testing.T) {
	clock := newClock()
	m := engine.NewRateMeter(engine.WithClock(clock.Now))
	r := m.Snapshot(clock.Now())
	assert.Zero(t, r.Cumulative)
	assert.Zero(t, r.Windowed)
	assert.Zero(t, r.Total)
}

func TestRateMeterConcurrentArrivalsAndSnapshots(t *testing.T) {
	m := engine.NewRateMeter(engine.WithWindow(time.Millisecond))
	const n = 20000

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < n; i++ {
			m.RecordArrival()
		}
	}()

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	var prev engine.Rate
	for reading := true; reading; {
		select {
		case <-done:
			reading = false
		default:
		}
		r := m.Snapshot(time.Now())
		if r.Total < prev.Total {
			t.Fatalf("total went backwards: %d after %d", r.Total, prev.Total)
		}
		if r.Elapsed < prev.Elapsed {
			t.Fatalf("elapsed went backwards: %v after %v", r.Elapsed, prev.Elapsed)
		}
		if r.Elapsed > 0 {
			assert.InDelta(t, float64(r.Total)/r.Elapsed.Seconds(), r.Cumulative, 1e-6)
		}
		assert.GreaterOrEqual(t, r.Windowed, 0.0)
		prev = r
	}

	assert.Equal(t, uint64(n), m.Snapshot(time.Now()).Total)
}
