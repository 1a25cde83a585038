package session

import "sync"

// DefaultWindowSize is the default replay window, in sequence numbers.
const DefaultWindowSize = 1024

// ReplayFilter tracks, per stream, the highest sequence number seen and
// which of the window_size numbers below it have been seen.
//
// A counter is accepted if it is above the highest seen, or within
// [highest-window_size, highest] and not yet marked. It is safe for
// concurrent use.
type ReplayFilter struct {
	windowSize uint64

	mu      sync.Mutex
	streams map[uint32]*replayWindow
}

// replayWindow is a ring of windowSize+1 bits; counter c lives at bit
// c mod (windowSize+1). Every counter in [highest-windowSize, highest]
// maps to a distinct bit.
type replayWindow struct {
	highest uint64
	bits    []uint64
}

// NewReplayFilter creates a filter. windowSize 0 uses DefaultWindowSize.
func NewReplayFilter(windowSize uint64) *ReplayFilter {
	if windowSize == 0 {
		windowSize = DefaultWindowSize
	}
	return &ReplayFilter{
		windowSize: windowSize,
		streams:    make(map[uint32]*replayWindow),
	}
}

// WindowSize returns the configured window.
func (f *ReplayFilter) WindowSize() uint64 {
	return f.windowSize
}

// Check reports whether counter would be accepted, without marking it.
func (f *ReplayFilter) Check(stream uint32, counter uint64) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	w, ok := f.streams[stream]
	if !ok || counter > w.highest {
		return nil
	}
	return f.checkInWindow(w, counter)
}

// CheckAndUpdate accepts and marks counter, or returns ErrReplay or
// ErrTooOld.
func (f *ReplayFilter) CheckAndUpdate(stream uint32, counter uint64) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	w, ok := f.streams[stream]
	if !ok {
		w = &replayWindow{
			highest: counter,
			bits:    make([]uint64, (f.windowSize+1+63)/64),
		}
		f.streams[stream] = w
		f.mark(w, counter)
		return nil
	}

	if counter > w.highest {
		f.advance(w, counter)
		f.mark(w, counter)
		return nil
	}

	if err := f.checkInWindow(w, counter); err != nil {
		return err
	}
	f.mark(w, counter)
	return nil
}

// Highest returns the highest counter seen on stream.
func (f *ReplayFilter) Highest(stream uint32) (uint64, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	w, ok := f.streams[stream]
	if !ok {
		return 0, false
	}
	return w.highest, true
}

// Reset forgets every stream. Used when keys are re-derived, since new
// keys restart sequence numbering.
func (f *ReplayFilter) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.streams = make(map[uint32]*replayWindow)
}

// checkInWindow handles counter <= highest. Must be called with mu held.
func (f *ReplayFilter) checkInWindow(w *replayWindow, counter uint64) error {
	if w.highest-counter > f.windowSize {
		return ErrTooOld
	}
	if f.isSet(w, counter) {
		return ErrReplay
	}
	return nil
}

// advance moves highest up to counter, clearing the bits that now
// represent new, unseen counters. Must be called with mu held.
func (f *ReplayFilter) advance(w *replayWindow, counter uint64) {
	ring := f.windowSize + 1
	if counter-w.highest >= ring {
		for i := range w.bits {
			w.bits[i] = 0
		}
	} else {
		for c := w.highest + 1; c <= counter; c++ {
			f.clear(w, c)
		}
	}
	w.highest = counter
}

func (f *ReplayFilter) slot(c uint64) (int, uint64) {
	i := c % (f.windowSize + 1)
	return int(i / 64), 1 << (i % 64)
}

func (f *ReplayFilter) isSet(w *replayWindow, c uint64) bool {
	word, bit := f.slot(c)
	return w.bits[word]&bit != 0
}

func (f *ReplayFilter) mark(w *replayWindow, c uint64) {
	word, bit := f.slot(c)
	w.bits[word] |= bit
}

func (f *ReplayFilter) clear(w *replayWindow, c uint64) {
	word, bit := f.slot(c)
	w.bits[word] &^= bit
}
