package sampler

import (
	"context"
	"sync"
	"time"
)

// Task runs fn on a fixed period until stopped, until its context ends, or
// until fn returns false. The first call happens one period after start.
type Task struct {
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

// Every starts a repeating task.
func Every(ctx context.Context, interval time.Duration, fn func() bool) *Task {
	ctx, cancel := context.WithCancel(ctx)
	t := &Task{cancel: cancel, done: make(chan struct{})}

	go func() {
		defer close(t.done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if !fn() {
					return
				}
			}
		}
	}()
	return t
}

// Stop cancels future ticks and waits for the loop to exit. It must not be
// called from inside fn.
func (t *Task) Stop() {
	t.once.Do(t.cancel)
	<-t.done
}

// Done is closed once the loop has exited.
func (t *Task) Done() <-chan struct{} { return t.done }
