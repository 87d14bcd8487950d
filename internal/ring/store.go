package ring

import (
	"fmt"

	"BarPulse/internal/domain/models"
)

// Store is fixed-capacity circular storage of raw bars for one
// (symbol, timeframe) pair. It is exclusively owned by its symbol's
// pipeline worker and is never written concurrently.
type Store struct {
	symbol     string
	timeframe  string
	capacity   int
	bars       []models.Bar
	writeIndex uint64 // monotonic, never reset
}

// WriteOutcome reports what an append did. Event is non-nil exactly when the
// write cursor crossed a capacity boundary after at least one full cycle.
type WriteOutcome struct {
	Wrapped bool
	Event   *models.WrapEvent
}

// NewStore creates an empty ring for the given timeframe.
func NewStore(symbol, timeframe string, capacity int) (*Store, error) {
	if capacity <= 0 {
		return nil, fmt.Errorf("ring %s/%s: capacity must be positive, got %d", symbol, timeframe, capacity)
	}
	return &Store{
		symbol:    symbol,
		timeframe: timeframe,
		capacity:  capacity,
		bars:      make([]models.Bar, capacity),
	}, nil
}

// Append stores one bar. Timestamps must be strictly increasing; a violation
// returns ErrOutOfOrderBar and leaves the ring untouched.
func (s *Store) Append(b models.Bar) (WriteOutcome, error) {
	if s.writeIndex > 0 && b.Timestamp <= s.NewestTime() {
		return WriteOutcome{}, fmt.Errorf("ring %s/%s: append t=%d newest=%d: %w",
			s.symbol, s.timeframe, b.Timestamp, s.NewestTime(), models.ErrOutOfOrderBar)
	}

	var out WriteOutcome
	cap64 := uint64(s.capacity)
	if s.writeIndex >= cap64 && s.writeIndex%cap64 == 0 {
		out.Wrapped = true
		out.Event = &models.WrapEvent{
			Symbol:    s.symbol,
			Timeframe: s.timeframe,
			WrapCount: s.writeIndex / cap64,
		}
	}

	s.bars[s.writeIndex%cap64] = b
	s.writeIndex++
	return out, nil
}

// Len returns the number of occupied slots.
func (s *Store) Len() int {
	if s.writeIndex < uint64(s.capacity) {
		return int(s.writeIndex)
	}
	return s.capacity
}

// Capacity returns the fixed slot count.
func (s *Store) Capacity() int { return s.capacity }

// WriteIndex returns the monotonic write cursor.
func (s *Store) WriteIndex() uint64 { return s.writeIndex }

// WrapCount returns how many full cycles the cursor has completed.
func (s *Store) WrapCount() uint64 {
	return s.writeIndex / uint64(s.capacity)
}

// Timeframe returns the owning timeframe.
func (s *Store) Timeframe() string { return s.timeframe }

// NewestTime returns the timestamp of the most recent bar (0 when empty).
func (s *Store) NewestTime() int64 {
	if s.writeIndex == 0 {
		return 0
	}
	return s.bars[(s.writeIndex-1)%uint64(s.capacity)].Timestamp
}

// OldestTime returns the timestamp of the oldest retained bar (0 when empty).
func (s *Store) OldestTime() int64 {
	if s.writeIndex == 0 {
		return 0
	}
	if s.writeIndex <= uint64(s.capacity) {
		return s.bars[0].Timestamp
	}
	return s.bars[s.writeIndex%uint64(s.capacity)].Timestamp
}

// Recent returns the most recent n bars in chronological order, spanning the
// wrap boundary. The view references the underlying storage in at most two
// segments; nothing is copied unless the caller flattens it.
func (s *Store) Recent(n int) (View, error) {
	if n <= 0 || n > s.Len() {
		return View{}, fmt.Errorf("ring %s/%s: recent(%d) with %d retained: %w",
			s.symbol, s.timeframe, n, s.Len(), models.ErrInsufficientHistory)
	}
	cap64 := uint64(s.capacity)
	startIdx := s.writeIndex - uint64(n)
	lo := int(startIdx % cap64)
	hi := int((s.writeIndex - 1) % cap64)
	if lo <= hi {
		return View{head: s.bars[lo : hi+1]}, nil
	}
	return View{head: s.bars[lo:], tail: s.bars[:hi+1]}, nil
}

// Window is Recent flattened into one contiguous slice (copies across the
// wrap boundary when necessary).
func (s *Store) Window(n int) ([]models.Bar, error) {
	v, err := s.Recent(n)
	if err != nil {
		return nil, err
	}
	return v.Flatten(), nil
}

// View is a chronological read over at most two ring segments.
type View struct {
	head []models.Bar
	tail []models.Bar
}

// Len returns the number of bars in the view.
func (v View) Len() int { return len(v.head) + len(v.tail) }

// At returns the i-th bar in chronological order.
func (v View) At(i int) models.Bar {
	if i < len(v.head) {
		return v.head[i]
	}
	return v.tail[i-len(v.head)]
}

// Flatten copies the view into a single slice. When the view does not span
// the wrap boundary the head segment is returned as-is.
func (v View) Flatten() []models.Bar {
	if len(v.tail) == 0 {
		return v.head
	}
	out := make([]models.Bar, 0, v.Len())
	out = append(out, v.head...)
	out = append(out, v.tail...)
	return out
}
