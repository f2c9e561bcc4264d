package frame

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"

	"github.com/backkem/linksec/internal/syncutil"
	"github.com/backkem/linksec/pkg/security"
)

// DefaultCounterReserve is how many counter values a persisted
// FrameCounter reserves per write to its store.
const DefaultCounterReserve = 1024

// CounterSaver records a counter high-water mark: no value at or above
// limit has been handed out.
type CounterSaver func(limit uint32) error

// FrameCounter manages the outgoing frame counter (macFrameCounter).
// The counter feeds the CCM* nonce, so a value is never handed out twice
// and 0xFFFFFFFF is never used. It is safe for concurrent use.
//
// A counter built with NewReservingFrameCounter persists a limit ahead of
// the values it hands out, so a restart that resumes from the stored limit
// never repeats a value even if the process died without saving.
type FrameCounter struct {
	mu      syncutil.Mutex
	value   uint32
	limit   uint32
	reserve uint32
	save    CounterSaver
}

// NewFrameCounter creates a counter starting at 0.
func NewFrameCounter() *FrameCounter {
	return &FrameCounter{}
}

// NewFrameCounterWithValue creates a counter with a specific initial value.
func NewFrameCounterWithValue(initial uint32) *FrameCounter {
	return &FrameCounter{value: initial}
}

// NewReservingFrameCounter creates a counter starting at initial that calls
// save with value+reserve before handing out values beyond the last saved
// limit. initial must be the limit loaded from the same store.
func NewReservingFrameCounter(initial, reserve uint32, save CounterSaver) *FrameCounter {
	if reserve == 0 {
		reserve = DefaultCounterReserve
	}
	return &FrameCounter{value: initial, limit: initial, reserve: reserve, save: save}
}

// RandomCounterInit returns a random starting value in [1, 2^28], leaving
// ample room below 0xFFFFFFFF. It suits counters that cannot be persisted.
func RandomCounterInit() uint32 {
	var buf [4]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return 1
	}
	return binary.LittleEndian.Uint32(buf[:])&(counterInitMax-1) + 1
}

const counterInitMax = 1 << 28

// Next returns the next counter value and increments the internal counter.
// Returns ErrCounterExhausted once the counter reaches 0xFFFFFFFF; the key
// must be replaced before more frames can be secured. For a reserving
// counter, a failed save is returned and no value is handed out.
func (c *FrameCounter) Next() (uint32, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.value == CounterExhausted {
		return 0, ErrCounterExhausted
	}
	if c.save != nil && c.value >= c.limit {
		limit := uint32(CounterExhausted)
		if CounterExhausted-c.value > c.reserve {
			limit = c.value + c.reserve
		}
		if err := c.save(limit); err != nil {
			return 0, fmt.Errorf("%w: %w", ErrCounterPersist, err)
		}
		c.limit = limit
	}
	current := c.value
	c.value++
	return current, nil
}

// Checkpoint saves the exact next value, shrinking the reserved gap, for a
// clean shutdown. Values handed out later are reserved again first.
func (c *FrameCounter) Checkpoint() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.save == nil {
		return nil
	}
	if err := c.save(c.value); err != nil {
		return fmt.Errorf("%w: %w", ErrCounterPersist, err)
	}
	c.limit = c.value
	return nil
}

// Current returns the next value Next will return, without incrementing.
func (c *FrameCounter) Current() uint32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.value
}

// IsExhausted returns true if no more counter values are available.
func (c *FrameCounter) IsExhausted() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.value == CounterExhausted
}

// ReceptionState implements the sliding window bitmap for replay detection
// of one originator's frame counters. Counters never roll over.
type ReceptionState struct {
	mu          syncutil.Mutex
	maxCounter  uint32 // Largest valid counter received
	bitmap      uint32 // Bitmap for window [maxCounter-32, maxCounter-1]
	initialized bool   // Whether any counter has been received
}

// NewReceptionState creates a reception state with a known max counter.
// Only counters > initialMax are accepted.
func NewReceptionState(initialMax uint32) *ReceptionState {
	return &ReceptionState{
		maxCounter:  initialMax,
		bitmap:      0xFFFFFFFF,
		initialized: true,
	}
}

// NewReceptionStateEmpty creates a reception state that accepts any first frame.
func NewReceptionStateEmpty() *ReceptionState {
	return &ReceptionState{}
}

// CheckAndAccept checks that counter is not a replay and records it.
// Returns true if the frame should be processed.
//
// Call it only after the frame has authenticated, so a forged frame cannot
// advance the window.
func (r *ReceptionState) CheckAndAccept(counter uint32) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.initialized {
		r.maxCounter = counter
		r.bitmap = 0
		r.initialized = true
		return true
	}

	if counter > r.maxCounter {
		r.advanceWindow(counter)
		return true
	}
	if counter == r.maxCounter {
		return false
	}

	offset := r.maxCounter - counter - 1
	if offset >= CounterWindowSize {
		// Behind the window
		return false
	}

	mask := uint32(1) << offset
	if r.bitmap&mask != 0 {
		return false
	}
	r.bitmap |= mask
	return true
}

// advanceWindow updates maxCounter and shifts the bitmap.
func (r *ReceptionState) advanceWindow(newMax uint32) {
	shift := newMax - r.maxCounter
	if shift > CounterWindowSize {
		r.bitmap = 0
	} else {
		// Shift left and mark the old max as received.
		r.bitmap = (r.bitmap << shift) | (1 << (shift - 1))
	}
	r.maxCounter = newMax
}

// MaxCounter returns the current maximum counter value.
func (r *ReceptionState) MaxCounter() uint32 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.maxCounter
}

// ReplayFilter keeps one ReceptionState per (key, originator) pair.
// Counters are only unique under one key, so a frame accepted under one key
// says nothing about the window under another. It is safe for concurrent use.
type ReplayFilter struct {
	mu     syncutil.Mutex
	states map[replayKey]*ReceptionState
}

type replayKey struct {
	id     security.KeyID
	source uint64
}

// NewReplayFilter creates an empty replay filter.
func NewReplayFilter() *ReplayFilter {
	return &ReplayFilter{states: make(map[replayKey]*ReceptionState)}
}

// Check accepts counter from source under key id or returns
// ErrReplayDetected.
func (f *ReplayFilter) Check(id security.KeyID, source uint64, counter uint32) error {
	k := replayKey{id: id, source: source}
	f.mu.Lock()
	state, ok := f.states[k]
	if !ok {
		state = NewReceptionStateEmpty()
		f.states[k] = state
	}
	f.mu.Unlock()

	if !state.CheckAndAccept(counter) {
		return ErrReplayDetected
	}
	return nil
}

// Forget drops the state for source under every key.
func (f *ReplayFilter) Forget(source uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for k := range f.states {
		if k.source == source {
			delete(f.states, k)
		}
	}
}

// ForgetKey drops every window kept under key id. Call it once id is bound
// to different key material.
func (f *ReplayFilter) ForgetKey(id security.KeyID) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for k := range f.states {
		if k.id == id {
			delete(f.states, k)
		}
	}
}

// Reset drops all reception state.
func (f *ReplayFilter) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	clear(f.states)
}

// Len returns the number of tracked (key, originator) pairs.
func (f *ReplayFilter) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.states)
}
