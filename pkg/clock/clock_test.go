package clock

import (
	"testing"
	"time"
)

func TestManual(t *testing.T) {
	start := time.Unix(1_700_000_000, 0)
	c := NewManual(start)

	if !c.Now().Equal(start) {
		t.Fatalf("Now() = %v, want %v", c.Now(), start)
	}
	if got := c.Advance(90 * time.Second); !got.Equal(start.Add(90 * time.Second)) {
		t.Errorf("Advance() = %v", got)
	}
	c.Set(start)
	if !c.Now().Equal(start) {
		t.Errorf("Set() did not take effect")
	}
}

func TestOrReal(t *testing.T) {
	if OrReal(nil) != Real {
		t.Error("OrReal(nil) should be Real")
	}
	m := NewManual(time.Time{})
	if OrReal(m) != m {
		t.Error("OrReal(m) should be m")
	}
}
