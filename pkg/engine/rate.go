package engine

import (
	"sync"
	"time"
)

// DefaultWindow is the span after which a rate window closes.
const DefaultWindow = time.Second

// Rate is a consistent view of a RateMeter at one instant.
type Rate struct {
	Total uint64
	// Cumulative is Total divided by the time since the meter started.
	Cumulative float64
	// Windowed is the count of the last closed window divided by its length.
	// It stays zero until the first window closes.
	Windowed float64
	Elapsed  time.Duration
}

// RateMeter counts arrivals and derives packets-per-second on demand.
type RateMeter struct {
	mu          sync.Mutex
	window      time.Duration
	start       time.Time
	total       uint64
	windowStart time.Time
	windowCount uint64
	windowRate  float64
	now         func() time.Time
}

type RateOption func(*RateMeter)

// WithWindow overrides DefaultWindow.
func WithWindow(d time.Duration) RateOption {
	return func(m *RateMeter) {
		if d > 0 {
			m.window = d
		}
	}
}

// WithClock replaces time.Now, for tests and replays.
func WithClock(now func() time.Time) RateOption {
	return func(m *RateMeter) {
		if now != nil {
			m.now = now
		}
	}
}

func NewRateMeter(opts ...RateOption) *RateMeter {
	m := &RateMeter{
		window: DefaultWindow,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.start = m.now()
	m.windowStart = m.start
	return m
}

func (m *RateMeter) RecordArrival() {
	m.RecordArrivalAt(m.now())
}

func (m *RateMeter) RecordArrivalAt(t time.Time) {
	m.mu.Lock()
	m.roll(t)
	m.total++
	m.windowCount++
	m.mu.Unlock()
}

// Snapshot reports the rates as of now.
func (m *RateMeter) Snapshot(now time.Time) Rate {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.roll(now)

	elapsed := now.Sub(m.start)
	r := Rate{
		Total:    m.total,
		Windowed: m.windowRate,
		Elapsed:  elapsed,
	}
	if elapsed > 0 {
		r.Cumulative = float64(m.total) / elapsed.Seconds()
	}
	return r
}

// Now reads the meter's clock.
func (m *RateMeter) Now() time.Time {
	return m.now()
}

// roll closes the current window once it has spanned at least m.window.
// Callers hold m.mu.
func (m *RateMeter) roll(t time.Time) {
	span := t.Sub(m.windowStart)
	if span < m.window {
		return
	}
	m.windowRate = float64(m.windowCount) / span.Seconds()
	m.windowCount = 0
	m.windowStart = t
}
