// Package clock abstracts wall-clock access so temporal logic stays testable.
package clock

import (
	"sync"
	"time"
)

// Clock supplies the current time. Services take a Clock instead of calling
// time.Now directly; production code passes System, tests pass a Fake.
type Clock interface {
	Now() time.Time
}

// System reads the real wall clock.
type System struct{}

func (System) Now() time.Time { return time.Now() }

// Fake is a manually advanced clock for tests. Zero value starts at the
// zero time; use NewFake to seed it.
type Fake struct {
	mu  sync.Mutex
	now time.Time
}

func NewFake(at time.Time) *Fake { return &Fake{now: at} }

func (f *Fake) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

// Set moves the clock to an absolute instant.
func (f *Fake) Set(at time.Time) {
	f.mu.Lock()
	f.now = at
	f.mu.Unlock()
}

// Advance moves the clock forward by d.
func (f *Fake) Advance(d time.Duration) {
	f.mu.Lock()
	f.now = f.now.Add(d)
	f.mu.Unlock()
}
