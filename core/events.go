package core

import (
	"context"
	"time"
)

// EventType names an engine event. Values follow the
// "{subject}:{action}:{phase}" convention.
type EventType string

const (
	DocumentCreateStart     EventType = "document:create:start"
	DocumentCreateSuccess   EventType = "document:create:success"
	DocumentCreateFailed    EventType = "document:create:failed"
	DocumentUpdateStart     EventType = "document:update:start"
	DocumentUpdateSuccess   EventType = "document:update:success"
	DocumentUpdateFailed    EventType = "document:update:failed"
	DocumentDeleteStart     EventType = "document:delete:start"
	DocumentDeleteSuccess   EventType = "document:delete:success"
	DocumentDeleteFailed    EventType = "document:delete:failed"
	CollectionCreateSuccess EventType = "collection:create:success"
	CollectionDropSuccess   EventType = "collection:drop:success"
	IndexCreateSuccess      EventType = "index:create:success"
	IndexDropSuccess        EventType = "index:drop:success"
	TransactionStart        EventType = "transaction:start"
	TransactionSuccess      EventType = "transaction:success"
	TransactionFailed       EventType = "transaction:failed"
	TransactionRollback     EventType = "transaction:rollback"
)

// EventTypes lists every event the engine emits.
func EventTypes() []EventType {
	return []EventType{
		DocumentCreateStart, DocumentCreateSuccess, DocumentCreateFailed,
		DocumentUpdateStart, DocumentUpdateSuccess, DocumentUpdateFailed,
		DocumentDeleteStart, DocumentDeleteSuccess, DocumentDeleteFailed,
		CollectionCreateSuccess, CollectionDropSuccess,
		IndexCreateSuccess, IndexDropSuccess,
		TransactionStart, TransactionSuccess, TransactionFailed, TransactionRollback,
	}
}

// Event is emitted by the engine around every mutating operation.
type Event struct {
	Type          EventType      `json:"type"`
	Timestamp     int64          `json:"timestamp"` // Unix milliseconds.
	Operation     string         `json:"operation"`
	Database      string         `json:"database,omitempty"` // "space/db"
	Collection    string         `json:"collection,omitempty"`
	DocumentID    string         `json:"documentId,omitempty"`
	TransactionID string         `json:"transactionId,omitempty"`
	Input         any            `json:"input,omitempty"`
	Output        any            `json:"output,omitempty"`
	Error         *string        `json:"error,omitempty"`
	Duration      *int64         `json:"duration,omitempty"` // Milliseconds.
	Context       map[string]any `json:"context,omitempty"`
}

// EventCallback receives engine events.
type EventCallback func(ctx context.Context, event Event) error

// SubscriptionInfo describes a registered event callback.
type SubscriptionInfo struct {
	ID          string    `json:"id"`
	Event       EventType `json:"event"`
	Label       string    `json:"label,omitempty"`
	Description string    `json:"description,omitempty"`
	Unsubscribe func()    `json:"-"`
}

// Subscriber is implemented by components that publish engine events.
type Subscriber interface {
	Subscribe(event EventType, label string, callback EventCallback) string
	Unsubscribe(id string)
}

// NewEvent builds an event stamped with the current time. A non-zero start
// time records the elapsed duration.
func NewEvent(eventType EventType, operation, collection string, start time.Time) Event {
	e := Event{
		Type:       eventType,
		Timestamp:  time.Now().UnixMilli(),
		Operation:  operation,
		Collection: collection,
	}
	if !start.IsZero() {
		d := time.Since(start).Milliseconds()
		e.Duration = &d
	}
	return e
}

// WithError returns a copy of the event carrying err's message.
func (e Event) WithError(err error) Event {
	if err != nil {
		e.Error = StringPtr(err.Error())
	}
	return e
}
