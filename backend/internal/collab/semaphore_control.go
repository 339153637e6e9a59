package collab

import (
	"context"
	"errors"
)

var (
	ErrAcquireTimeout = errors.New("semaphore acquire timed out")
	ErrNotAcquired    = errors.New("semaphore release without acquire")
)

// DefaultMaxSemaphore caps concurrent seed loads when no limit is configured.
const DefaultMaxSemaphore = 100

type SemaphoreControl struct {
	ch chan struct{}
}

func NewSemaphoreControl(n int) *SemaphoreControl {
	if n <= 0 {
		n = DefaultMaxSemaphore
	}
	return &SemaphoreControl{ch: make(chan struct{}, n)}
}

func (s *SemaphoreControl) Acquire(ctx context.Context) error {
	select {
	case s.ch <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ErrAcquireTimeout
	}
}

func (s *SemaphoreControl) Release() error {
	select {
	case <-s.ch:
		return nil
	default:
		return ErrNotAcquired
	}
}
