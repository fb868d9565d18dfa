// Package events carries the typed events produced for one conversation to
// whatever transport consumes them. Delivery is FIFO per conversation.
package events

import (
	"context"
	"sync"
	"time"

	"github.com/hyperjump/scribe/internal/models"
)

// Kind is the type of an outbound event.
type Kind string

const (
	KindQuestionPosed   Kind = "question_posed"
	KindDocumentUpdated Kind = "document_updated"
	KindError           Kind = "error"
)

// DocumentSummary describes a document version without its content.
type DocumentSummary struct {
	ID           string                `json:"id"`
	DocumentType models.DocumentType   `json:"document_type"`
	Version      int                   `json:"version"`
	Status       models.DocumentStatus `json:"status"`
	Coverage     float64               `json:"coverage"`
}

// Summarize returns the summary of doc.
func Summarize(doc *models.Document) *DocumentSummary {
	return &DocumentSummary{
		ID:           doc.ID,
		DocumentType: doc.DocumentType,
		Version:      doc.Version,
		Status:       doc.Status,
		Coverage:     doc.Coverage,
	}
}

// ErrorPayload is the body of an error event.
type ErrorPayload struct {
	Kind    models.ErrorKind `json:"kind"`
	Message string           `json:"message"`
}

// Event is one entry of a conversation's queue. Seq starts at 1 and increases
// by one per event.
type Event struct {
	Seq            uint64                  `json:"seq"`
	ConversationID string                  `json:"conversation_id"`
	Kind           Kind                    `json:"kind"`
	Time           time.Time               `json:"time"`
	Question       *models.PendingQuestion `json:"question,omitempty"`
	Phase          models.Phase            `json:"phase,omitempty"`
	Document       *DocumentSummary        `json:"document,omitempty"`
	Error          *ErrorPayload           `json:"error,omitempty"`
}

// Queue is the append-only event log of one conversation. It keeps the last
// limit events; readers that fall further behind miss the oldest ones.
type Queue struct {
	mu     sync.Mutex
	id     string
	events []Event
	next   uint64
	limit  int
	wake   chan struct{}
}

// NewQueue returns an empty queue for conversationID.
func NewQueue(conversationID string, limit int) *Queue {
	if limit <= 0 {
		limit = 256
	}
	return &Queue{id: conversationID, next: 1, limit: limit, wake: make(chan struct{})}
}

// Publish appends e, stamping its sequence number and conversation id.
func (q *Queue) Publish(e Event) Event {
	q.mu.Lock()
	e.Seq = q.next
	e.ConversationID = q.id
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	q.next++
	q.events = append(q.events, e)
	if len(q.events) > q.limit {
		q.events = append(q.events[:0:0], q.events[len(q.events)-q.limit:]...)
	}
	wake := q.wake
	q.wake = make(chan struct{})
	q.mu.Unlock()
	close(wake)
	return e
}

// Since returns the retained events with a sequence number greater than seq.
func (q *Queue) Since(seq uint64) []Event {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.since(seq)
}

func (q *Queue) since(seq uint64) []Event {
	for i, e := range q.events {
		if e.Seq > seq {
			return append([]Event(nil), q.events[i:]...)
		}
	}
	return nil
}

// Wait blocks until an event after seq exists or ctx is done.
func (q *Queue) Wait(ctx context.Context, seq uint64) ([]Event, error) {
	for {
		q.mu.Lock()
		out := q.since(seq)
		wake := q.wake
		q.mu.Unlock()
		if len(out) > 0 {
			return out, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-wake:
		}
	}
}

// Last returns the sequence number of the latest event, 0 when empty.
func (q *Queue) Last() uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.next - 1
}

// Hub owns the queues of all conversations.
type Hub struct {
	mu     sync.Mutex
	queues map[string]*Queue
	limit  int
}

// NewHub returns a hub whose queues retain limit events each.
func NewHub(limit int) *Hub {
	return &Hub{queues: make(map[string]*Queue), limit: limit}
}

// Queue returns the queue of conversationID, creating it on first use.
func (h *Hub) Queue(conversationID string) *Queue {
	h.mu.Lock()
	defer h.mu.Unlock()
	q, ok := h.queues[conversationID]
	if !ok {
		q = NewQueue(conversationID, h.limit)
		h.queues[conversationID] = q
	}
	return q
}

// Drop forgets the queue of conversationID.
func (h *Hub) Drop(conversationID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.queues, conversationID)
}

// Len returns the number of live queues.
func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.queues)
}
