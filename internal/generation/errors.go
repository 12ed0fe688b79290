package generation

import (
	"errors"
	"fmt"
)

type Kind string

const (
	KindNetwork  Kind = "network"
	KindProtocol Kind = "protocol"
	KindDecode   Kind = "decode"
	KindRejected Kind = "rejected"
)

var (
	// ErrDecode means images[0] was not base64 encoded PNG data.
	ErrDecode    = errors.New("image decode failed")
	ErrQueueFull = errors.New("generation queue is full")
	ErrClosed    = errors.New("generation client is closed")
)

// Error is what onError receives.
type Error struct {
	Kind     Kind
	Job      JobID
	Attempts int
	Err      error
}

func (e *Error) Error() string {
	if e.Attempts > 1 {
		return fmt.Sprintf("generation job %d: %s error after %d attempts: %v", e.Job, e.Kind, e.Attempts, e.Err)
	}
	return fmt.Sprintf("generation job %d: %s error: %v", e.Job, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// KindOf returns the kind of a generation error, or "" for anything else.
func KindOf(err error) Kind {
	var ge *Error
	if errors.As(err, &ge) {
		return ge.Kind
	}
	return ""
}
