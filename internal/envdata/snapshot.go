// Package envdata holds environment readings and the guarded snapshot
// shared by aggregator (writer) and delivery (reader).
package envdata

import (
	"fmt"
	"time"

	"github.com/juju/errors"
)

const DefaultLockTimeout = time.Second

var (
	ErrFull    = fmt.Errorf("snapshot capacity exceeded")
	ErrTimeout = errors.Timeoutf("snapshot lock")
)

type Reading struct {
	Sensor string
	Kind   Kind
	Value  int32
	Shift  int8
}

func (r Reading) String() string {
	return fmt.Sprintf("%s: %s = %s", r.Sensor, r.Kind.String(), FormatFixed(r.Value, r.Shift, 2))
}

// Snapshot is ordered readings of one aggregation cycle.
// Storage is allocated once, entries beyond Len() are undefined.
type Snapshot struct {
	readings []Reading
	count    int
}

func NewSnapshot(capacity int) *Snapshot {
	if capacity < 0 {
		panic("code error snapshot capacity < 0")
	}
	return &Snapshot{readings: make([]Reading, capacity)}
}

func (s *Snapshot) Cap() int   { return len(s.readings) }
func (s *Snapshot) Len() int   { return s.count }
func (s *Snapshot) Reset()     { s.count = 0 }
func (s *Snapshot) Full() bool { return s.count >= len(s.readings) }

func (s *Snapshot) Append(r Reading) error {
	if s.Full() {
		return ErrFull
	}
	s.readings[s.count] = r
	s.count++
	return nil
}

func (s *Snapshot) At(i int) Reading {
	if i < 0 || i >= s.count {
		panic(fmt.Sprintf("code error snapshot index=%d count=%d", i, s.count))
	}
	return s.readings[i]
}

// Readings returns view valid only while guard is held.
func (s *Snapshot) Readings() []Reading { return s.readings[:s.count] }

// Buffer is exclusive access wrapper around single Snapshot.
type Buffer struct {
	sem  chan struct{}
	snap *Snapshot
}

func NewBuffer(capacity int) *Buffer {
	b := &Buffer{
		sem:  make(chan struct{}, 1),
		snap: NewSnapshot(capacity),
	}
	return b
}

func (b *Buffer) Cap() int { return b.snap.Cap() }

// Acquire blocks at most timeout. Caller must Release() after success.
func (b *Buffer) Acquire(timeout time.Duration) (*Snapshot, error) {
	select {
	case b.sem <- struct{}{}:
		return b.snap, nil
	default:
	}
	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case b.sem <- struct{}{}:
		return b.snap, nil
	case <-t.C:
		return nil, ErrTimeout
	}
}

func (b *Buffer) Release() {
	select {
	case <-b.sem:
	default:
		panic("code error envdata.Buffer Release without Acquire")
	}
}

// With runs f holding the guard, released on every exit path including panic.
func (b *Buffer) With(timeout time.Duration, f func(*Snapshot) error) error {
	s, err := b.Acquire(timeout)
	if err != nil {
		return err
	}
	defer b.Release()
	return f(s)
}
