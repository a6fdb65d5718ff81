package pipeline

import (
	"context"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"sunatflow/internal/queue"
)

// Broker is the queue surface the workers need.
type Broker interface {
	queue.Publisher
	queue.Consumer
}

// Workers runs the pipeline consumers until the context ends. Send workers
// drain the entry channel and all three retry tiers; ticket workers drain the
// poll channel; one consumer drains the error sink into the log.
type Workers struct {
	broker        Broker
	orchestrator  *Orchestrator
	sendWorkers   int
	ticketWorkers int
	logger        *slog.Logger
}

func NewWorkers(broker Broker, orchestrator *Orchestrator, sendWorkers, ticketWorkers int, logger *slog.Logger) *Workers {
	if sendWorkers < 1 {
		sendWorkers = 1
	}
	if ticketWorkers < 1 {
		ticketWorkers = 1
	}
	return &Workers{
		broker:        broker,
		orchestrator:  orchestrator,
		sendWorkers:   sendWorkers,
		ticketWorkers: ticketWorkers,
		logger:        logger,
	}
}

func (w *Workers) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	sendChannels := []string{
		queue.ChannelSendDocument,
		queue.ChannelRetryTier1,
		queue.ChannelRetryTier2,
		queue.ChannelRetryTier3,
	}
	for _, channel := range sendChannels {
		for i := 0; i < w.sendWorkers; i++ {
			channel := channel
			g.Go(func() error {
				return w.broker.Consume(ctx, channel, w.orchestrator.HandleSend)
			})
		}
	}
	for i := 0; i < w.ticketWorkers; i++ {
		g.Go(func() error {
			return w.broker.Consume(ctx, queue.ChannelCheckTicket, w.orchestrator.HandleCheckTicket)
		})
	}
	g.Go(func() error {
		return w.broker.Consume(ctx, queue.ChannelError, w.logFailure)
	})

	return g.Wait()
}

// logFailure is the audit sink for terminally failed documents.
func (w *Workers) logFailure(ctx context.Context, msg queue.Message) queue.Disposition {
	w.logger.WarnContext(ctx, "document reached the error sink",
		"document", msg.DocumentID, "retries", msg.RetryCount)
	return queue.Ack
}
