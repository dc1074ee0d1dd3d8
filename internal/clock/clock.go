package clock

import (
	"sync/atomic"
	"time"
)

// Source returns the current logical time in ticks.
type Source interface {
	Now() int64
}

// Logical is a manually advanced clock. The zero value starts at tick 0.
type Logical struct {
	now atomic.Int64
}

// NewLogical creates a logical clock starting at start.
func NewLogical(start int64) *Logical {
	l := &Logical{}
	l.now.Store(start)
	return l
}

// Now returns the current tick.
func (l *Logical) Now() int64 {
	return l.now.Load()
}

// Advance moves the clock forward by one tick and returns the new time.
func (l *Logical) Advance() int64 {
	return l.now.Add(1)
}

// Wall converts elapsed wall time into ticks of a fixed interval.
type Wall struct {
	start    time.Time
	interval time.Duration
	now      func() time.Time
}

// NewWall creates a wall clock whose tick 0 is the moment of creation.
func NewWall(interval time.Duration) *Wall {
	return newWall(interval, time.Now)
}

func newWall(interval time.Duration, now func() time.Time) *Wall {
	if interval <= 0 {
		interval = time.Second
	}
	return &Wall{start: now(), interval: interval, now: now}
}

// Now returns the number of whole intervals since creation.
func (w *Wall) Now() int64 {
	return int64(w.now().Sub(w.start) / w.interval)
}

// Interval returns the tick length.
func (w *Wall) Interval() time.Duration {
	return w.interval
}
