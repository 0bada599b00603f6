package reconciler

import (
	"sync"
	"time"
)

type stopper interface {
	Stop() bool
}

type afterFunc func(d time.Duration, f func()) stopper

func realAfterFunc(d time.Duration, f func()) stopper {
	return time.AfterFunc(d, f)
}

// Debouncer runs fn once delay has passed since the most recent Schedule call.
type Debouncer struct {
	mu        sync.Mutex
	delay     time.Duration
	fn        func()
	timer     stopper
	afterFunc afterFunc
}

func NewDebouncer(delay time.Duration, fn func()) *Debouncer {
	return &Debouncer{delay: delay, fn: fn, afterFunc: realAfterFunc}
}

// Schedule cancels any armed timer and re-arms it.
func (d *Debouncer) Schedule() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.timer != nil {
		d.timer.Stop()
	}
	var armed stopper
	armed = d.afterFunc(d.delay, func() {
		d.mu.Lock()
		if d.timer != armed {
			// re-armed after this timer already fired
			d.mu.Unlock()
			return
		}
		d.timer = nil
		d.mu.Unlock()
		d.fn()
	})
	d.timer = armed
}

func (d *Debouncer) Pending() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.timer != nil
}

func (d *Debouncer) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
}
