package ui

import (
	"context"
	"errors"
	"sync"

	"github.com/rs/zerolog"

	"not-you-kiosk/internal/logging"
)

// ErrLoopStopped is returned by Call once the loop has exited.
var ErrLoopStopped = errors.New("ui loop stopped")

// Scheduler runs closures on the goroutine that owns the views.
type Scheduler interface {
	Post(fn func())
}

// Immediate runs every closure on the caller's goroutine.
type Immediate struct{}

func (Immediate) Post(fn func()) { fn() }

type LoopOptions struct {
	Logger *zerolog.Logger
}

// Loop is a single goroutine that serializes all view mutation. Post never
// blocks, so observers on worker goroutines can hand work over freely.
type Loop struct {
	mu      sync.Mutex
	queue   []func()
	wake    chan struct{}
	done    chan struct{}
	stopped bool
	logger  *zerolog.Logger
}

func NewLoop(opts LoopOptions) *Loop {
	return &Loop{
		wake:   make(chan struct{}, 1),
		done:   make(chan struct{}),
		logger: logging.OrDiscard(opts.Logger),
	}
}

func (l *Loop) Post(fn func()) {
	l.mu.Lock()
	if l.stopped {
		l.mu.Unlock()
		return
	}
	l.queue = append(l.queue, fn)
	l.mu.Unlock()

	select {
	case l.wake <- struct{}{}:
	default:
	}
}

// Run processes posted closures until ctx is done. Closures still queued at
// that point are dropped.
func (l *Loop) Run(ctx context.Context) error {
	defer func() {
		l.mu.Lock()
		l.stopped = true
		l.queue = nil
		l.mu.Unlock()
		close(l.done)
	}()

	for {
		l.mu.Lock()
		batch := l.queue
		l.queue = nil
		l.mu.Unlock()

		for _, fn := range batch {
			if ctx.Err() != nil {
				return nil
			}
			l.call(fn)
		}
		if len(batch) > 0 {
			continue
		}

		select {
		case <-ctx.Done():
			return nil
		case <-l.wake:
		}
	}
}

// Done is closed once Run has returned.
func (l *Loop) Done() <-chan struct{} { return l.done }

func (l *Loop) call(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			l.logger.Error().Interface("panic", r).Msg("ui task failed")
		}
	}()
	fn()
}

// Call posts fn and waits for it to finish. It is meant for goroutines other
// than the loop's own, such as HTTP handlers.
func Call(ctx context.Context, s Scheduler, fn func() error) error {
	result := make(chan error, 1)
	s.Post(func() {
		defer func() {
			if r := recover(); r != nil {
				result <- errors.New("ui task panicked")
				panic(r)
			}
		}()
		result <- fn()
	})

	var stopped <-chan struct{}
	if l, ok := s.(*Loop); ok {
		stopped = l.Done()
	}

	select {
	case err := <-result:
		return err
	case <-stopped:
		return ErrLoopStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}
