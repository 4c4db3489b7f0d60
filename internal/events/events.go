// Package events broadcasts mission status changes.
//
// Broadcasts are best-effort and at-most-once. A subscriber observes the
// updates of a given mission in the order they were emitted; there is no
// ordering across subscribers.
package events

import (
	"context"
	"errors"
	"time"
)

// TypeStatus is the event type of a mission status transition.
const TypeStatus = "status"

// Event is a mission status notification.
type Event struct {
	Type      string    `json:"type"`
	MissionID string    `json:"mission_id"`
	Status    string    `json:"status"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// Sink receives mission events.
type Sink interface {
	Broadcast(ctx context.Context, missionID string, ev Event) error
}

// Multi fans a broadcast out to several sinks. Every sink is tried; the
// failures are joined.
type Multi []Sink

func (m Multi) Broadcast(ctx context.Context, missionID string, ev Event) error {
	var errs []error
	for _, s := range m {
		if s == nil {
			continue
		}
		if err := s.Broadcast(ctx, missionID, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Discard drops every event.
type Discard struct{}

func (Discard) Broadcast(context.Context, string, Event) error { return nil }

var (
	_ Sink = Multi(nil)
	_ Sink = Discard{}
)
