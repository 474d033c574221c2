package clock

import "testing"

func TestManualAdvance(t *testing.T) {
	c := NewManual(5)
	c.Advance(1.5)
	c.Advance(-3)
	if got := c.Now(); got != 6.5 {
		t.Errorf("Now() = %v, want 6.5", got)
	}
}

func TestFramesFollowsDelivery(t *testing.T) {
	c := NewFrames(8000)
	if got := c.Now(); got != 0 {
		t.Errorf("Now() = %v before any frames, want 0", got)
	}
	c.Add(4000)
	c.Add(-10)
	c.Add(2000)
	if got := c.Now(); got != 0.75 {
		t.Errorf("Now() = %v, want 0.75", got)
	}
}
