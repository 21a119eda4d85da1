package timing

import (
	"context"
	"sync"
	"time"
)

// Timer is a scheduled event on a Scheduler
type Timer struct {
	WakeTime uint64
	Handler  func(*Timer) uint8

	next   *Timer
	queued bool
}

// Handler results
const (
	SF_DONE       = 0
	SF_RESCHEDULE = 1 // re-insert at the (updated) WakeTime
)

// Scheduler is a cooperative timer queue. Timers are kept sorted by wake time
// and dispatched in order; handlers run without the queue lock held so they
// may schedule or cancel timers themselves.
type Scheduler struct {
	mu    sync.Mutex
	clock Clock
	list  *Timer
	kick  chan struct{}
}

// NewScheduler creates a scheduler driven by clock.
func NewScheduler(clock Clock) *Scheduler {
	if clock == nil {
		clock = NewMonotonicClock()
	}
	return &Scheduler{
		clock: clock,
		kick:  make(chan struct{}, 1),
	}
}

// Now returns the scheduler's current time in ns
func (s *Scheduler) Now() uint64 {
	return s.clock.Now()
}

// Clock returns the clock driving the scheduler
func (s *Scheduler) Clock() Clock {
	return s.clock
}

// Schedule (re)inserts t to fire at wake.
func (s *Scheduler) Schedule(t *Timer, wake uint64) {
	s.mu.Lock()
	if t.queued {
		s.remove(t)
	}
	t.WakeTime = wake
	s.insert(t)
	head := s.list == t
	s.mu.Unlock()

	if head {
		s.wakeup()
	}
}

// Cancel removes t from the queue. It reports whether t was pending.
func (s *Scheduler) Cancel(t *Timer) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !t.queued {
		return false
	}
	s.remove(t)
	return true
}

// Pending returns the number of queued timers
func (s *Scheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for t := s.list; t != nil; t = t.next {
		n++
	}
	return n
}

// NextWake returns the wake time of the earliest timer.
func (s *Scheduler) NextWake() (uint64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.list == nil {
		return 0, false
	}
	return s.list.WakeTime, true
}

// insert adds t in wake time order; equal wake times keep insertion order
func (s *Scheduler) insert(t *Timer) {
	t.queued = true
	if s.list == nil || t.WakeTime < s.list.WakeTime {
		t.next = s.list
		s.list = t
		return
	}

	cur := s.list
	for cur.next != nil && cur.next.WakeTime <= t.WakeTime {
		cur = cur.next
	}
	t.next = cur.next
	cur.next = t
}

func (s *Scheduler) remove(t *Timer) {
	if s.list == t {
		s.list = t.next
	} else {
		for cur := s.list; cur != nil; cur = cur.next {
			if cur.next == t {
				cur.next = t.next
				break
			}
		}
	}
	t.next = nil
	t.queued = false
}

// popDue removes and returns the head timer if it is due at now
func (s *Scheduler) popDue(now uint64) *Timer {
	s.mu.Lock()
	defer s.mu.Unlock()

	t := s.list
	if t == nil || t.WakeTime > now {
		return nil
	}
	s.list = t.next
	t.next = nil
	t.queued = false
	return t
}

func (s *Scheduler) fire(t *Timer) {
	if t.Handler(t) == SF_RESCHEDULE {
		s.mu.Lock()
		if !t.queued {
			s.insert(t)
		}
		s.mu.Unlock()
	}
}

// Dispatch runs every timer due at now and returns how many fired.
func (s *Scheduler) Dispatch(now uint64) int {
	n := 0
	for {
		t := s.popDue(now)
		if t == nil {
			return n
		}
		s.fire(t)
		n++
	}
}

type settableClock interface {
	Set(t uint64)
}

// RunNext fires the earliest timer, first moving a ManualClock to its wake
// time. It reports false when the queue is empty.
func (s *Scheduler) RunNext() bool {
	wake, ok := s.NextWake()
	if !ok {
		return false
	}
	if c, ok := s.clock.(settableClock); ok {
		c.Set(wake)
	}

	t := s.popDue(wake)
	if t == nil {
		// cancelled between peek and pop
		return true
	}
	s.fire(t)
	return true
}

// RunUntilIdle fires timers in wake order until the queue is empty or limit
// timers have fired, and returns the number fired.
func (s *Scheduler) RunUntilIdle(limit int) int {
	n := 0
	for n < limit && s.RunNext() {
		n++
	}
	return n
}

func (s *Scheduler) wakeup() {
	select {
	case s.kick <- struct{}{}:
	default:
	}
}

// Run dispatches timers in real time until ctx is done.
func (s *Scheduler) Run(ctx context.Context) error {
	sleep := time.NewTimer(time.Hour)
	defer sleep.Stop()

	for {
		wake, ok := s.NextWake()
		if !ok {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-s.kick:
				continue
			}
		}

		now := s.clock.Now()
		if wake <= now {
			s.Dispatch(now)
			continue
		}

		if !sleep.Stop() {
			select {
			case <-sleep.C:
			default:
			}
		}
		sleep.Reset(time.Duration(wake - now))

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.kick:
		case <-sleep.C:
		}
	}
}
