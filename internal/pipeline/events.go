// Package pipeline is the delivery state machine: it consumes queue messages,
// runs a document through validation, signing and dispatch, and persists
// every transition together with its acknowledgment decision.
package pipeline

import (
	"time"

	"sunatflow/internal/document"
	id "sunatflow/pkg/domain"
)

// Event types emitted when a document reaches a terminal state.
const (
	EventDocumentDelivered = "document.delivered"
	EventDocumentFailed    = "document.failed"
)

// Event is a completion notification for downstream consumers (REST polling,
// push relays). Emitted through the outbox so it is never lost and never
// published for a transition that did not commit.
type Event struct {
	Type       string                  `json:"type"`
	DocumentID id.DocumentID           `json:"documentId"`
	ProjectID  id.ProjectID            `json:"projectId"`
	Status     document.DeliveryStatus `json:"status"`
	Error      document.ErrorKind      `json:"error,omitempty"`
	OccurredAt time.Time               `json:"occurredAt"`
}

func completionEvent(doc *document.Document) Event {
	eventType := EventDocumentDelivered
	if doc.Status == document.StatusFailed {
		eventType = EventDocumentFailed
	}
	return Event{
		Type:       eventType,
		DocumentID: doc.ID,
		ProjectID:  doc.ProjectID,
		Status:     doc.Status,
		Error:      doc.Error,
		OccurredAt: time.Now(),
	}
}
