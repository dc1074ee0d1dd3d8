package clock

import (
	"testing"
	"time"
)

func TestLogical_Advance(t *testing.T) {
	c := NewLogical(5)
	if c.Now() != 5 {
		t.Fatalf("Expected 5, got %d", c.Now())
	}
	if got := c.Advance(); got != 6 {
		t.Errorf("Expected 6 after advance, got %d", got)
	}

	var zero Logical
	if zero.Now() != 0 {
		t.Errorf("Expected zero value to start at 0, got %d", zero.Now())
	}
}

func TestWall_Ticks(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	current := base
	w := newWall(100*time.Millisecond, func() time.Time { return current })

	if w.Now() != 0 {
		t.Errorf("Expected tick 0, got %d", w.Now())
	}
	current = base.Add(250 * time.Millisecond)
	if w.Now() != 2 {
		t.Errorf("Expected tick 2, got %d", w.Now())
	}
	current = base.Add(time.Second)
	if w.Now() != 10 {
		t.Errorf("Expected tick 10, got %d", w.Now())
	}
}

func TestWall_DefaultInterval(t *testing.T) {
	if w := NewWall(0); w.Interval() != time.Second {
		t.Errorf("Expected default interval of 1s, got %v", w.Interval())
	}
}
