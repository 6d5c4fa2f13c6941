package failure

import (
	"sync"
	"time"
)

// Task is a handle on a scheduled callback.
type Task struct {
	stop chan struct{}
	done chan struct{}
	once sync.Once
}

func newTask() *Task {
	return &Task{stop: make(chan struct{}), done: make(chan struct{})}
}

// Every runs fn every interval until fn returns false or the task is
// cancelled.
func Every(interval time.Duration, fn func() bool) *Task {
	t := newTask()
	go func() {
		defer close(t.done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-t.stop:
				return
			case <-ticker.C:
			}
			// A tick and a cancel may be ready together; cancel wins.
			select {
			case <-t.stop:
				return
			default:
			}
			if !fn() {
				return
			}
		}
	}()
	return t
}

// After runs fn once after d unless the task is cancelled first.
func After(d time.Duration, fn func()) *Task {
	t := newTask()
	go func() {
		defer close(t.done)
		timer := time.NewTimer(d)
		defer timer.Stop()
		select {
		case <-t.stop:
			return
		case <-timer.C:
		}
		select {
		case <-t.stop:
			return
		default:
		}
		fn()
	}()
	return t
}

// Cancel stops the task and waits for a running callback to return. Once
// Cancel returns the callback will not run again. It must not be called
// from inside the task's own callback.
func (t *Task) Cancel() {
	t.once.Do(func() { close(t.stop) })
	<-t.done
}

// Done is closed when the task will never run its callback again.
func (t *Task) Done() <-chan struct{} {
	return t.done
}
