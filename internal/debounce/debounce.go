package debounce

import (
	"sync"
	"time"
)

type Options[T any] struct {
	// Delay is the quiet period before a key flushes. Zero flushes on Add.
	Delay   time.Duration
	OnFlush func(key string, value T)
}

// Debouncer collapses bursts of values per key into the last one, delivered
// once the key has been quiet for Delay.
type Debouncer[T any] struct {
	mu      sync.Mutex
	delay   time.Duration
	onFlush func(string, T)
	pending map[string]*pending[T]
	stopped bool
}

type pending[T any] struct {
	value T
	seq   uint64
	timer *time.Timer
}

func New[T any](opts Options[T]) *Debouncer[T] {
	delay := opts.Delay
	if delay < 0 {
		delay = 0
	}
	return &Debouncer[T]{
		delay:   delay,
		onFlush: opts.OnFlush,
		pending: make(map[string]*pending[T]),
	}
}

// Add replaces the pending value for key and restarts its timer.
func (d *Debouncer[T]) Add(key string, value T) {
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return
	}

	if d.delay == 0 {
		if p, ok := d.pending[key]; ok {
			p.timer.Stop()
			delete(d.pending, key)
		}
		onFlush := d.onFlush
		d.mu.Unlock()
		if onFlush != nil {
			onFlush(key, value)
		}
		return
	}

	p, ok := d.pending[key]
	if !ok {
		p = &pending[T]{}
		d.pending[key] = p
	} else if p.timer != nil {
		p.timer.Stop()
	}
	p.value = value
	p.seq++
	seq := p.seq
	p.timer = time.AfterFunc(d.delay, func() {
		d.fire(key, seq)
	})
	d.mu.Unlock()
}

// Flush delivers key's pending value now, if there is one.
func (d *Debouncer[T]) Flush(key string) bool {
	d.mu.Lock()
	p, ok := d.pending[key]
	if !ok {
		d.mu.Unlock()
		return false
	}
	return d.deliver(key, p)
}

// Cancel drops key's pending value without delivering it.
func (d *Debouncer[T]) Cancel(key string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	p, ok := d.pending[key]
	if !ok {
		return false
	}
	p.timer.Stop()
	delete(d.pending, key)
	return true
}

func (d *Debouncer[T]) Pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.pending)
}

// Stop drops everything pending; later Adds are ignored.
func (d *Debouncer[T]) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stopped = true
	for key, p := range d.pending {
		p.timer.Stop()
		delete(d.pending, key)
	}
}

func (d *Debouncer[T]) fire(key string, seq uint64) {
	d.mu.Lock()
	p, ok := d.pending[key]
	if !ok || p.seq != seq {
		d.mu.Unlock()
		return
	}
	d.deliver(key, p)
}

// deliver is called with d.mu held and releases it before the callback.
func (d *Debouncer[T]) deliver(key string, p *pending[T]) bool {
	p.timer.Stop()
	delete(d.pending, key)
	value := p.value
	onFlush := d.onFlush
	d.mu.Unlock()

	if onFlush != nil {
		onFlush(key, value)
	}
	return true
}
