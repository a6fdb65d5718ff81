package pipeline

import (
	"time"

	"sunatflow/internal/document"
	"sunatflow/internal/queue"
)

// maxRetries is the hard attempt ceiling: after the initial attempt a
// document gets three scheduled retries, then fails terminally.
const maxRetries = 2

// RetryDecision is the backoff scheduler's verdict for one retryable failure.
type RetryDecision struct {
	// Exhausted means the retry budget is consumed; the document must be
	// failed with RetryConsumed.
	Exhausted bool
	// Retries is the incremented attempt counter to persist.
	Retries int
	// Delay until redelivery.
	Delay time.Duration
	// Channel is the delay tier the redelivery goes through.
	Channel string
}

// scheduleRetry applies the backoff policy: while retries <= 2 the counter is
// incremented and the delay grows as 5^retries minutes (5, 25, 125), each
// attempt routed to its own tier channel. Beyond that the budget is consumed.
// The counter is never reset on success; it records lifetime transport
// failures of the document.
func scheduleRetry(doc *document.Document) RetryDecision {
	if doc.Retries > maxRetries {
		return RetryDecision{Exhausted: true, Retries: doc.Retries}
	}
	retries := doc.Retries + 1
	delay := time.Minute
	for i := 0; i < retries; i++ {
		delay *= 5
	}
	return RetryDecision{
		Retries: retries,
		Delay:   delay,
		Channel: queue.RetryChannel(retries),
	}
}
