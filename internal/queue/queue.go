// Package queue carries the pipeline messages between orchestrator stages.
// Channels are at-least-once: a handler decides per message whether it is
// acknowledged or redelivered.
package queue

import (
	"context"
	"time"

	id "sunatflow/pkg/domain"
)

// Channel names. send-document enters the pipeline, the retry tiers hold
// delayed redeliveries, check-ticket polls asynchronous submissions and error
// collects terminal failures for audit.
const (
	ChannelSendDocument = "send-document"
	ChannelRetryTier1   = "retry-tier-1"
	ChannelRetryTier2   = "retry-tier-2"
	ChannelRetryTier3   = "retry-tier-3"
	ChannelCheckTicket  = "check-ticket"
	ChannelError        = "error"
	// ChannelEvents carries terminal-state notifications for downstream
	// consumers, fed by the outbox relay.
	ChannelEvents = "document-events"
)

// Channels lists every channel, used to provision topics.
var Channels = []string{
	ChannelSendDocument,
	ChannelRetryTier1,
	ChannelRetryTier2,
	ChannelRetryTier3,
	ChannelCheckTicket,
	ChannelError,
	ChannelEvents,
}

// RetryChannel maps the attempt number to its delay tier.
func RetryChannel(retries int) string {
	switch retries {
	case 1:
		return ChannelRetryTier1
	case 2:
		return ChannelRetryTier2
	default:
		return ChannelRetryTier3
	}
}

// Message is the only payload the channels carry.
type Message struct {
	DocumentID id.DocumentID `json:"documentId"`
	RetryCount int           `json:"retryCount"`
}

// Disposition is the handler's acknowledgment decision.
type Disposition int

const (
	// Ack commits the message; it is never redelivered.
	Ack Disposition = iota
	// Nack leaves the message uncommitted for redelivery.
	Nack
)

// Handler processes one message. It must be idempotent: at-least-once
// delivery means the same message can arrive again after a crash.
type Handler func(ctx context.Context, msg Message) Disposition

// Publisher emits messages onto a channel.
type Publisher interface {
	Publish(ctx context.Context, channel string, msg Message) error
}

// Consumer runs a handler over a channel until the context ends. The message
// is committed only when the handler returns Ack.
type Consumer interface {
	Consume(ctx context.Context, channel string, handler Handler) error
}

// Delayer schedules a message for future delivery without occupying a
// worker. Implementations suspend the message, never a thread.
type Delayer interface {
	Schedule(ctx context.Context, channel string, msg Message, at time.Time) error
}
