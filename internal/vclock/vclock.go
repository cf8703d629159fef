// Package vclock contains a virtual clock that runs scheduled functions
// deterministically.  It is used in tests.
package vclock

import (
	"cmp"
	"slices"
	"sync"
	"time"

	"github.com/AdguardTeam/golibs/timeutil"
)

// task is a function scheduled to run at a point of virtual time.
type task struct {
	at time.Time
	f  func()
	id uint64
}

// Clock is a virtual clock.  Time only moves in [Clock.Run] and [Clock.Skip].
// It is safe for concurrent use.
type Clock struct {
	// mu protects all fields.
	mu *sync.Mutex

	now   time.Time
	tasks []*task

	// nextID orders the tasks scheduled for the same time.
	nextID uint64
}

// type check
var _ timeutil.Clock = (*Clock)(nil)

// New returns a new clock that starts at now.
func New(now time.Time) (c *Clock) {
	return &Clock{
		mu:  &sync.Mutex{},
		now: now,
	}
}

// Now implements the [timeutil.Clock] interface for *Clock.
func (c *Clock) Now() (now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.now
}

// Schedule adds f to run once delay has passed.  delay must not be negative,
// and f must not be nil.
func (c *Clock) Schedule(delay time.Duration, f func()) (cancel func()) {
	if delay < 0 {
		panic("vclock: negative delay")
	} else if f == nil {
		panic("vclock: nil function")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	t := &task{
		at: c.now.Add(delay),
		f:  f,
		id: c.nextID,
	}
	c.nextID++
	c.tasks = append(c.tasks, t)

	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()

		c.tasks = slices.DeleteFunc(c.tasks, func(other *task) (found bool) { return other == t })
	}
}

// Pending returns the number of scheduled functions.
func (c *Clock) Pending() (n int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	return len(c.tasks)
}

// Run advances the clock by d and runs every function that becomes due, in
// the order of their times.  The clock shows the time of each function while
// it runs.  settle, if not nil, is called after each function, which lets the
// caller wait for the work the function has started.
func (c *Clock) Run(d time.Duration, settle func()) {
	c.mu.Lock()
	end := c.now.Add(d)
	c.mu.Unlock()

	for {
		t := c.popDue(end)
		if t == nil {
			return
		}

		t.f()
		if settle != nil {
			settle()
		}
	}
}

// popDue removes the earliest task due at or before end and moves the clock to
// its time.  If there is none, it moves the clock to end and returns nil.
func (c *Clock) popDue(end time.Time) (t *task) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.tasks) == 0 {
		c.now = end

		return nil
	}

	t = slices.MinFunc(c.tasks, compareTasks)
	if t.at.After(end) {
		c.now = end

		return nil
	}

	i := slices.Index(c.tasks, t)
	c.tasks = slices.Delete(c.tasks, i, i+1)
	if t.at.After(c.now) {
		c.now = t.at
	}

	return t
}

// compareTasks orders tasks by time, then by the order of scheduling.
func compareTasks(a, b *task) (res int) {
	return cmp.Or(a.at.Compare(b.at), cmp.Compare(a.id, b.id))
}

// Skip advances the clock by d without running anything, as if the process
// had been suspended.  Functions that became due in the meantime are moved to
// the new time.
func (c *Clock) Skip(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.now = c.now.Add(d)
	for _, t := range c.tasks {
		if t.at.Before(c.now) {
			t.at = c.now
		}
	}
}
