package timing

import "sync"

// SoftwareTimer is a Source backed by a reschedulable task on a Scheduler.
// Resolution and jitter are bounded by the scheduler's dispatch latency.
type SoftwareTimer struct {
	sched *Scheduler
	timer Timer

	mu       sync.Mutex
	callback Callback
	interval uint64
	wake     uint64 // wake time last scheduled
	firing   bool
	base     uint64 // wake time of the expiry being handled
}

// NewSoftwareTimer creates a software timer on sched.
func NewSoftwareTimer(sched *Scheduler) *SoftwareTimer {
	st := &SoftwareTimer{sched: sched}
	st.timer.Handler = st.expired
	return st
}

func (st *SoftwareTimer) Init(cb Callback) error {
	if cb == nil {
		return ErrNilCallback
	}
	st.mu.Lock()
	defer st.mu.Unlock()

	if st.callback != nil {
		return ErrAlreadyInitialized
	}
	st.callback = cb
	return nil
}

// Start reschedules the task intervalNs out. An interval of 0 means never.
// When called from the callback the interval is measured from the expiry
// being handled rather than from the current time, so dispatch latency does
// not accumulate across steps. A Stop while the callback runs ends that
// window; later Starts measure from the current time.
func (st *SoftwareTimer) Start(intervalNs uint64) error {
	st.mu.Lock()
	if st.callback == nil {
		st.mu.Unlock()
		return ErrNotInitialized
	}
	if intervalNs == 0 {
		st.interval = 0
		st.firing = false
		st.mu.Unlock()
		st.sched.Cancel(&st.timer)
		return nil
	}

	from := st.sched.Now()
	if st.firing {
		from = st.base
	}
	st.interval = intervalNs
	st.wake = from + intervalNs
	st.mu.Unlock()

	st.sched.Schedule(&st.timer, from+intervalNs)
	return nil
}

func (st *SoftwareTimer) Stop() error {
	st.mu.Lock()
	st.interval = 0
	st.firing = false
	st.mu.Unlock()

	st.sched.Cancel(&st.timer)
	return nil
}

func (st *SoftwareTimer) Interval() uint64 {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.interval
}

func (st *SoftwareTimer) expired(*Timer) uint8 {
	st.mu.Lock()
	st.firing = true
	st.base = st.wake
	cb := st.callback
	st.mu.Unlock()

	cb()

	st.mu.Lock()
	st.firing = false
	st.mu.Unlock()
	return SF_DONE
}
