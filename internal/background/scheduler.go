package background

import (
	"sync"
	"time"
)

// Clock reports the current time.
type Clock interface {
	Now() time.Time
}

// Timer is a handle to a scheduled task.
type Timer interface {
	// Stop prevents the task from running again. It reports whether the
	// call stopped a pending task.
	Stop() bool
}

// Scheduler runs one-shot and periodic tasks. Tasks run on their own
// goroutine with RealScheduler and synchronously inside Advance with
// ManualScheduler.
type Scheduler interface {
	Clock
	AfterFunc(d time.Duration, fn func()) Timer
	Every(interval time.Duration, fn func()) Timer
}

// RealScheduler is backed by the runtime timers.
type RealScheduler struct{}

func NewRealScheduler() *RealScheduler {
	return &RealScheduler{}
}

func (RealScheduler) Now() time.Time {
	return time.Now()
}

func (RealScheduler) AfterFunc(d time.Duration, fn func()) Timer {
	return time.AfterFunc(d, fn)
}

func (RealScheduler) Every(interval time.Duration, fn func()) Timer {
	t := &ticker{stopCh: make(chan struct{})}
	tk := time.NewTicker(interval)

	go func() {
		defer tk.Stop()
		for {
			select {
			case <-tk.C:
				fn()
			case <-t.stopCh:
				return
			}
		}
	}()

	return t
}

type ticker struct {
	once   sync.Once
	stopCh chan struct{}
}

func (t *ticker) Stop() bool {
	stopped := false
	t.once.Do(func() {
		close(t.stopCh)
		stopped = true
	})
	return stopped
}
