package collections

import (
	"context"
	"time"

	"github.com/asaidimu/go-jsondb/core"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Subscribe registers callback for one event type and returns the
// subscription id.
func (m *Manager) Subscribe(event core.EventType, label string, callback core.EventCallback) string {
	m.subMu.Lock()
	defer m.subMu.Unlock()

	unsubscribe := m.bus.Subscribe(string(event), callback)
	id := uuid.New().String()
	m.subscriptions[id] = &core.SubscriptionInfo{
		ID:          id,
		Event:       event,
		Label:       label,
		Unsubscribe: unsubscribe,
	}
	return id
}

// Unsubscribe removes a subscription by id. Unknown ids are ignored.
func (m *Manager) Unsubscribe(id string) {
	m.subMu.Lock()
	defer m.subMu.Unlock()

	if info, ok := m.subscriptions[id]; ok {
		info.Unsubscribe()
		delete(m.subscriptions, id)
	}
}

// Subscriptions lists the active subscriptions.
func (m *Manager) Subscriptions() []core.SubscriptionInfo {
	m.subMu.RLock()
	defer m.subMu.RUnlock()

	subs := make([]core.SubscriptionInfo, 0, len(m.subscriptions))
	for _, sub := range m.subscriptions {
		subs = append(subs, *sub)
	}
	return subs
}

// Emit publishes an event on the manager's bus, stamping the database.
func (m *Manager) Emit(event core.Event) {
	if m.bus == nil {
		return
	}
	event.Database = m.space + "/" + m.db
	m.bus.Emit(string(event.Type), event)
}

// withEvents brackets fn with start and success/failed events for one
// document operation.
func (m *Manager) withEvents(
	ctx context.Context,
	operation string,
	start, success, failed core.EventType,
	collection string,
	input core.Document,
	fn func() (core.Document, error),
) (core.Document, error) {
	began := time.Now()

	startEvent := core.NewEvent(start, operation, collection, time.Time{})
	startEvent.DocumentID = input.ID()
	startEvent.Input = input.Clone()
	startEvent.TransactionID = transactionID(ctx)
	m.Emit(startEvent)

	result, err := fn()
	if err != nil {
		failEvent := core.NewEvent(failed, operation, collection, began).WithError(err)
		failEvent.DocumentID = input.ID()
		failEvent.Input = input.Clone()
		failEvent.TransactionID = transactionID(ctx)
		m.Emit(failEvent)
		m.logger.Debug("Document operation failed",
			zap.String("operation", operation),
			zap.String("collection", collection),
			zap.Error(err))
		return nil, err
	}

	successEvent := core.NewEvent(success, operation, collection, began)
	successEvent.DocumentID = result.ID()
	successEvent.Input = input.Clone()
	successEvent.Output = result.Clone()
	successEvent.TransactionID = transactionID(ctx)
	m.Emit(successEvent)
	return result, nil
}

type txKey struct{}

// WithTransactionID tags ctx so events emitted by writes made with it carry
// the transaction id.
func WithTransactionID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, txKey{}, id)
}

func transactionID(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	id, _ := ctx.Value(txKey{}).(string)
	return id
}
