// Package notify defines the push-subscription capability: change events
// scoped by user that carry no row payload, only the fact that something
// changed.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

type EventKind string

const (
	EventInsert EventKind = "INSERT"
	EventUpdate EventKind = "UPDATE"
	EventDelete EventKind = "DELETE"
)

// ChangeEvent is the wire message of every push transport.
type ChangeEvent struct {
	Kind  EventKind `json:"kind"`
	Table string    `json:"table"`
	At    time.Time `json:"at"`
}

func NewChangeEvent(kind EventKind, table string) ChangeEvent {
	return ChangeEvent{Kind: kind, Table: table, At: time.Now().UTC()}
}

func (e ChangeEvent) ToJSON() ([]byte, error) {
	return json.Marshal(e)
}

func ChangeEventFromJSON(data []byte) (ChangeEvent, error) {
	var ev ChangeEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return ChangeEvent{}, fmt.Errorf("decode change event: %w", err)
	}
	if ev.Kind == "" {
		return ChangeEvent{}, fmt.Errorf("decode change event: missing kind")
	}
	return ev, nil
}

// Handler receives events. It must not block for long; transports call it
// from their delivery goroutine.
type Handler func(ChangeEvent)

type Subscriber interface {
	// Subscribe delivers events for scope to h until unsubscribe is called.
	Subscribe(ctx context.Context, scope string, h Handler) (unsubscribe func(), err error)
}

type Publisher interface {
	Publish(ctx context.Context, scope string, ev ChangeEvent) error
}

// Bus is a transport that both publishes and subscribes.
type Bus interface {
	Publisher
	Subscriber
	Close() error
}
