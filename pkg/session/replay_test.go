package session

import (
	"sync"
	"testing"
)

func TestReplayFilter_Duplicate(t *testing.T) {
	f := NewReplayFilter(0)

	if err := f.CheckAndUpdate(7, 100); err != nil {
		t.Fatalf("first CheckAndUpdate() error = %v", err)
	}
	if err := f.CheckAndUpdate(7, 100); err != ErrReplay {
		t.Errorf("second CheckAndUpdate() error = %v, want %v", err, ErrReplay)
	}
}

func TestReplayFilter_TooOld(t *testing.T) {
	tests := []struct {
		name    string
		counter uint64
		wantErr error
	}{
		{"far behind", 50, ErrTooOld},
		{"one past window", 975, ErrTooOld},
		{"window edge", 976, nil},
		{"inside window", 1500, nil},
		{"highest again", 2000, ErrReplay},
		{"ahead", 2001, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := NewReplayFilter(1024)
			if err := f.CheckAndUpdate(7, 2000); err != nil {
				t.Fatalf("CheckAndUpdate(2000) error = %v", err)
			}
			if err := f.CheckAndUpdate(7, tt.counter); err != tt.wantErr {
				t.Errorf("CheckAndUpdate(%d) error = %v, want %v", tt.counter, err, tt.wantErr)
			}
		})
	}
}

func TestReplayFilter_OutOfOrder(t *testing.T) {
	f := NewReplayFilter(16)

	for _, c := range []uint64{5, 3, 4, 1, 2, 10, 8} {
		if err := f.CheckAndUpdate(1, c); err != nil {
			t.Fatalf("CheckAndUpdate(%d) error = %v", c, err)
		}
	}
	for _, c := range []uint64{5, 3, 10, 8} {
		if err := f.CheckAndUpdate(1, c); err != ErrReplay {
			t.Errorf("CheckAndUpdate(%d) replay error = %v, want %v", c, err, ErrReplay)
		}
	}
	if err := f.CheckAndUpdate(1, 9); err != nil {
		t.Errorf("CheckAndUpdate(9) error = %v", err)
	}
	if h, _ := f.Highest(1); h != 10 {
		t.Errorf("Highest() = %d, want 10", h)
	}
}

func TestReplayFilter_AdvanceClearsSlots(t *testing.T) {
	f := NewReplayFilter(8)

	// 1..9 fill the ring; 10..18 reuse the same slots and must be fresh.
	for c := uint64(1); c <= 18; c++ {
		if err := f.CheckAndUpdate(2, c); err != nil {
			t.Fatalf("CheckAndUpdate(%d) error = %v", c, err)
		}
	}

	// A jump larger than the ring clears everything.
	if err := f.CheckAndUpdate(2, 1000); err != nil {
		t.Fatalf("CheckAndUpdate(1000) error = %v", err)
	}
	if err := f.CheckAndUpdate(2, 995); err != nil {
		t.Errorf("CheckAndUpdate(995) error = %v", err)
	}
	if err := f.CheckAndUpdate(2, 18); err != ErrTooOld {
		t.Errorf("CheckAndUpdate(18) error = %v, want %v", err, ErrTooOld)
	}
}

func TestReplayFilter_StreamsIndependent(t *testing.T) {
	f := NewReplayFilter(0)

	if err := f.CheckAndUpdate(StreamID(HostToController, ChannelControl), 1); err != nil {
		t.Fatal(err)
	}
	if err := f.CheckAndUpdate(StreamID(HostToController, ChannelFrames), 1); err != nil {
		t.Errorf("same counter on another stream: error = %v", err)
	}
}

func TestReplayFilter_CheckDoesNotMark(t *testing.T) {
	f := NewReplayFilter(0)
	f.CheckAndUpdate(3, 10)

	if err := f.Check(3, 11); err != nil {
		t.Fatalf("Check(11) error = %v", err)
	}
	if err := f.Check(3, 11); err != nil {
		t.Errorf("Check(11) twice error = %v", err)
	}
	if err := f.Check(3, 10); err != ErrReplay {
		t.Errorf("Check(10) error = %v, want %v", err, ErrReplay)
	}
}

func TestReplayFilter_Reset(t *testing.T) {
	f := NewReplayFilter(0)
	f.CheckAndUpdate(3, 10)
	f.Reset()

	if _, ok := f.Highest(3); ok {
		t.Error("Highest() after Reset should report no stream")
	}
	if err := f.CheckAndUpdate(3, 10); err != nil {
		t.Errorf("CheckAndUpdate after Reset error = %v", err)
	}
}

func TestReplayFilter_Concurrent(t *testing.T) {
	f := NewReplayFilter(0)

	const workers = 8
	const perWorker = 100

	var accepted sync.Map
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for c := uint64(1); c <= perWorker; c++ {
				if f.CheckAndUpdate(9, c) == nil {
					if _, dup := accepted.LoadOrStore(c, true); dup {
						t.Errorf("counter %d accepted twice", c)
					}
				}
			}
		}()
	}
	wg.Wait()

	for c := uint64(1); c <= perWorker; c++ {
		if _, ok := accepted.Load(c); !ok {
			t.Errorf("counter %d never accepted", c)
		}
	}
}

func TestSendCounter(t *testing.T) {
	var c SendCounter

	for want := uint64(1); want <= 3; want++ {
		got, err := c.Next()
		if err != nil || got != want {
			t.Fatalf("Next() = %d, %v; want %d", got, err, want)
		}
	}
	if err := c.Advance(3); err != ErrSequenceNotMonotonic {
		t.Errorf("Advance(3) error = %v, want %v", err, ErrSequenceNotMonotonic)
	}
	if err := c.Advance(10); err != nil {
		t.Errorf("Advance(10) error = %v", err)
	}
	if got, _ := c.Next(); got != 11 {
		t.Errorf("Next() after Advance(10) = %d, want 11", got)
	}
	if c.Last() != 11 {
		t.Errorf("Last() = %d, want 11", c.Last())
	}
}
