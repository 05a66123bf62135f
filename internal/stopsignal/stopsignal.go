// Package stopsignal provides the one-shot cooperative stop signal handed to a
// bundle worker.
//
// The Sender side belongs to the lifecycle stop call and the Receiver side to
// the worker. A signal is sent at most once and sending never fails, even when
// the worker has already returned.
//
// Workers can observe the signal in whichever way suits their loop:
//
//	for !stop.Stopped() { doWork() }            // polling
//	select { case <-stop.Done(): ... }          // blocking
//	ctx, cancel := stop.Context(parent)         // context-aware calls
package stopsignal

import (
	"context"
	"sync"
	"time"
)

type signal struct {
	once sync.Once
	done chan struct{}
}

// Sender delivers the stop signal.
type Sender struct {
	s *signal
}

// Receiver observes the stop signal.
type Receiver struct {
	s *signal
}

// New opens a fresh stop channel.
func New() (*Sender, *Receiver) {
	s := &signal{done: make(chan struct{})}
	return &Sender{s: s}, &Receiver{s: s}
}

// Send asks the worker to stop. Calls after the first are no-ops.
func (s *Sender) Send() {
	s.s.once.Do(func() {
		close(s.s.done)
	})
}

// Sent reports whether Send has been called.
func (s *Sender) Sent() bool {
	return closed(s.s.done)
}

// Done returns a channel closed when the stop signal arrives.
func (r *Receiver) Done() <-chan struct{} {
	return r.s.done
}

// Stopped reports whether the stop signal has arrived.
func (r *Receiver) Stopped() bool {
	return closed(r.s.done)
}

// Wait blocks until the stop signal arrives or ctx is done. It returns nil on
// stop and ctx.Err() otherwise.
func (r *Receiver) Wait(ctx context.Context) error {
	select {
	case <-r.s.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Sleep pauses for d or until the stop signal arrives, whichever is first.
// It returns true if the worker should stop.
func (r *Receiver) Sleep(d time.Duration) bool {
	if d <= 0 {
		return r.Stopped()
	}
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-r.s.done:
		return true
	case <-t.C:
		return r.Stopped()
	}
}

// Context derives a context from parent that is cancelled when the stop
// signal arrives. The returned cancel func must be called to release it.
func (r *Receiver) Context(parent context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)
	go func() {
		select {
		case <-r.s.done:
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx, cancel
}

func closed(ch <-chan struct{}) bool {
	select {
	case <-ch:
		return true
	default:
		return false
	}
}
