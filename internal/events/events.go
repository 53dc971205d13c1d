package events

import (
	"context"
	"sync"
	"time"

	"card-match-api/internal/models"
)

// EventType represents the type of event.
type EventType string

const (
	// EventTransactionRequested is emitted when a buyer requests a transaction
	EventTransactionRequested EventType = "transaction.requested"
	// EventTransactionResponded is emitted when an owner approves or rejects
	EventTransactionResponded EventType = "transaction.responded"
	// EventTransactionCompleted is emitted when a buyer completes a transaction
	EventTransactionCompleted EventType = "transaction.completed"
	// EventMatchPerformed is emitted when a matching query is served
	EventMatchPerformed EventType = "match.performed"
)

// Event represents an event in the system.
type Event struct {
	Type      EventType
	Timestamp time.Time
	Data      interface{}
}

// TransactionRequestedData contains data for transaction requested events.
type TransactionRequestedData struct {
	Transaction models.Transaction
}

// TransactionRespondedData contains data for approval/rejection events.
type TransactionRespondedData struct {
	TransactionID string
	Status        string
}

// TransactionCompletedData carries the settlement the downstream notification
// consumers quote to the card owner.
type TransactionCompletedData struct {
	TransactionID string
	CardOwnerID   string
	OwnerEarnings float64
	Rating        float64
}

// MatchPerformedData contains data for matching events.
type MatchPerformedData struct {
	Platform   models.Platform
	Candidates int
	Matches    int
}

// Handler is a function that handles events.
type Handler func(ctx context.Context, event Event) error

// Manager manages event handlers and event publishing.
type Manager struct {
	mu       sync.RWMutex
	handlers map[EventType][]Handler
	enabled  bool
}

// NewManager creates a new event manager.
func NewManager(enabled bool) *Manager {
	return &Manager{
		handlers: make(map[EventType][]Handler),
		enabled:  enabled,
	}
}

// Subscribe subscribes a handler to a specific event type.
func (m *Manager) Subscribe(eventType EventType, handler Handler) {
	if !m.enabled {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.handlers[eventType] = append(m.handlers[eventType], handler)
}

// Publish publishes an event to all subscribed handlers. Handlers run
// asynchronously so publishing never blocks a request.
func (m *Manager) Publish(ctx context.Context, eventType EventType, data interface{}) {
	if !m.enabled {
		return
	}

	m.mu.RLock()
	handlers := m.handlers[eventType]
	m.mu.RUnlock()

	if len(handlers) == 0 {
		return
	}

	event := Event{
		Type:      eventType,
		Timestamp: time.Now(),
		Data:      data,
	}

	for _, handler := range handlers {
		go func(h Handler) {
			if err := h(ctx, event); err != nil {
				_ = err
			}
		}(handler)
	}
}

// PublishTransactionRequested publishes a transaction requested event.
func (m *Manager) PublishTransactionRequested(ctx context.Context, txn models.Transaction) {
	m.Publish(ctx, EventTransactionRequested, TransactionRequestedData{Transaction: txn})
}

// PublishTransactionResponded publishes an approval/rejection event.
func (m *Manager) PublishTransactionResponded(ctx context.Context, txnID, status string) {
	m.Publish(ctx, EventTransactionResponded, TransactionRespondedData{
		TransactionID: txnID,
		Status:        status,
	})
}

// PublishTransactionCompleted publishes a completion event.
func (m *Manager) PublishTransactionCompleted(ctx context.Context, txn models.Transaction) {
	m.Publish(ctx, EventTransactionCompleted, TransactionCompletedData{
		TransactionID: txn.ID,
		CardOwnerID:   txn.CardOwnerID,
		OwnerEarnings: txn.OwnerEarnings,
		Rating:        txn.Rating,
	})
}

// PublishMatchPerformed publishes a matching event.
func (m *Manager) PublishMatchPerformed(ctx context.Context, platform models.Platform, candidates, matches int) {
	m.Publish(ctx, EventMatchPerformed, MatchPerformedData{
		Platform:   platform,
		Candidates: candidates,
		Matches:    matches,
	})
}

// Shutdown shuts down the event manager.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.enabled = false
	m.handlers = make(map[EventType][]Handler)
}
