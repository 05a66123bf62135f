// Package sender delivers bundle lifecycle events to an audit sink.
package sender

import (
	"context"
	"time"
)

// Kind names the lifecycle transition an Event records.
type Kind string

const (
	KindCreated   Kind = "created"
	KindStarted   Kind = "started"
	KindStopped   Kind = "stopped"
	KindDestroyed Kind = "destroyed"
)

// Verb returns the entry point name that produces k.
func (k Kind) Verb() string {
	switch k {
	case KindCreated:
		return "create"
	case KindStarted:
		return "start"
	case KindStopped:
		return "stop"
	case KindDestroyed:
		return "destroy"
	}
	return string(k)
}

// Event is one lifecycle entry point call and its outcome.
type Event struct {
	Kind       Kind      `json:"kind"`
	Bundle     string    `json:"bundle"`
	Handle     string    `json:"handle,omitempty"`
	Status     int32     `json:"status"`
	StatusText string    `json:"status_text"`
	Error      string    `json:"error,omitempty"`
	Hostname   string    `json:"hostname,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// Sender defines the interface for delivering lifecycle events.
type Sender interface {
	// Send delivers one event.
	Send(ctx context.Context, ev *Event) error

	// SendBatch delivers events in order, stopping at the first failure.
	SendBatch(ctx context.Context, evs []*Event) error

	// Close releases any resources held by the sender.
	Close() error
}

// NopSender discards every event.
type NopSender struct{}

func (NopSender) Send(context.Context, *Event) error { return nil }

func (NopSender) SendBatch(context.Context, []*Event) error { return nil }

func (NopSender) Close() error { return nil }

func sendEach(ctx context.Context, s Sender, evs []*Event) error {
	for _, ev := range evs {
		if err := s.Send(ctx, ev); err != nil {
			return err
		}
	}
	return nil
}
