package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"sunatflow/internal/document"
	docstore "sunatflow/internal/document/store"
	"sunatflow/internal/keys"
	"sunatflow/internal/queue"
	"sunatflow/internal/storage"
	"sunatflow/internal/sunat"
	"sunatflow/internal/tenant"
	"sunatflow/internal/ubl"
	iddomain "sunatflow/pkg/domain"
	dErrors "sunatflow/pkg/domain-errors"
	"sunatflow/pkg/platform/sentinel"
)

const defaultTicketPollDelay = 30 * time.Second

// ConfigProvider resolves the SUNAT connection bundle for an issuer.
type ConfigProvider interface {
	SunatConfig(ctx context.Context, projectID iddomain.ProjectID, ruc string) (*tenant.SunatConfig, error)
}

// KeyResolver supplies the signing key for a project.
type KeyResolver interface {
	ResolveActiveKey(ctx context.Context, project iddomain.ProjectID, use keys.KeyUse, algorithm string) (*keys.ResolvedKey, error)
}

// Dispatcher is the SUNAT adapter the orchestrator drives.
type Dispatcher interface {
	Send(ctx context.Context, signedXML []byte, content *ubl.Content, cfg *tenant.SunatConfig) sunat.Result
	CheckTicket(ctx context.Context, ticket string, content *ubl.Content, cfg *tenant.SunatConfig) sunat.Result
}

// Orchestrator owns every document state transition. No failure escapes it as
// an error: outcomes become document state plus an acknowledgment decision.
type Orchestrator struct {
	documents  docstore.DocumentStore
	blobs      storage.BlobStore
	configs    ConfigProvider
	keys       KeyResolver
	signer     *ubl.Signer
	dispatcher Dispatcher
	publisher  queue.Publisher
	delayer    queue.Delayer

	events          EventSink
	ticketPollDelay time.Duration
	logger          *slog.Logger
	metrics         *Metrics
	tracer          trace.Tracer
}

// OrchestratorOption configures an Orchestrator.
type OrchestratorOption func(*Orchestrator)

func WithLogger(logger *slog.Logger) OrchestratorOption {
	return func(o *Orchestrator) { o.logger = logger }
}

func WithMetrics(metrics *Metrics) OrchestratorOption {
	return func(o *Orchestrator) { o.metrics = metrics }
}

func WithEventSink(events EventSink) OrchestratorOption {
	return func(o *Orchestrator) { o.events = events }
}

func WithTicketPollDelay(delay time.Duration) OrchestratorOption {
	return func(o *Orchestrator) { o.ticketPollDelay = delay }
}

func NewOrchestrator(
	documents docstore.DocumentStore,
	blobs storage.BlobStore,
	configs ConfigProvider,
	keyResolver KeyResolver,
	signer *ubl.Signer,
	dispatcher Dispatcher,
	publisher queue.Publisher,
	delayer queue.Delayer,
	opts ...OrchestratorOption,
) *Orchestrator {
	o := &Orchestrator{
		documents:       documents,
		blobs:           blobs,
		configs:         configs,
		keys:            keyResolver,
		signer:          signer,
		dispatcher:      dispatcher,
		publisher:       publisher,
		delayer:         delayer,
		ticketPollDelay: defaultTicketPollDelay,
		logger:          slog.Default(),
		tracer:          otel.Tracer("sunatflow/internal/pipeline"),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// HandleSend processes a send-document (or retry tier) message end to end.
func (o *Orchestrator) HandleSend(ctx context.Context, msg queue.Message) queue.Disposition {
	ctx, span := o.tracer.Start(ctx, "pipeline.send",
		trace.WithAttributes(attribute.String("document.id", msg.DocumentID.String())))
	defer span.End()

	doc, disposition, ok := o.load(ctx, msg)
	if !ok {
		return disposition
	}

	// Redelivery of a document already waiting on a ticket just forwards
	// the work to the poll channel.
	if doc.Sunat.Ticket != "" {
		if err := o.publisher.Publish(ctx, queue.ChannelCheckTicket, msg); err != nil {
			o.logger.ErrorContext(ctx, "could not forward to ticket channel", "document", doc.ID, "error", err)
			return queue.Nack
		}
		return queue.Ack
	}

	doc.Status = document.StatusValidating
	file, err := o.blobs.Get(ctx, doc.StorageFileRef)
	if err != nil {
		// The blob store may be down or the write not yet visible.
		// Redeliver rather than fail a document we never looked at.
		o.logger.WarnContext(ctx, "could not fetch source file", "document", doc.ID, "error", err)
		return queue.Nack
	}

	content, err := ubl.Extract(file)
	if err != nil {
		kind := document.ErrorReadFile
		if dErrors.HasCode(err, dErrors.CodeInvalidInput) {
			kind = document.ErrorUnsupportedDocumentType
		}
		return o.failTerminal(ctx, doc, kind, err.Error())
	}
	doc.RUC = content.RUC
	doc.DocumentType = string(content.Kind)
	doc.DocumentID = content.DocumentID
	doc.VoidedLineDocType = content.VoidedLineType

	doc.Status = document.StatusSigning
	key, err := o.keys.ResolveActiveKey(ctx, doc.ProjectID, keys.UseSig, keys.AlgRS256)
	if err != nil {
		return o.failTerminal(ctx, doc, document.ErrorNoCertificateToSign, err.Error())
	}
	signed, didSign, err := o.signer.Sign(file, key)
	if err != nil {
		return o.failTerminal(ctx, doc, document.ErrorReadFile, err.Error())
	}
	if didSign {
		ref, err := o.blobs.Put(ctx, signed)
		if err != nil {
			o.logger.WarnContext(ctx, "could not store signed file", "document", doc.ID, "error", err)
			return queue.Nack
		}
		doc.StorageFileRef = ref
	}

	cfg, err := o.configs.SunatConfig(ctx, doc.ProjectID, doc.RUC)
	if err != nil {
		if errors.Is(err, tenant.ErrNoSunatConfig) {
			return o.failTerminal(ctx, doc, document.ErrorCompanyNotFound, err.Error())
		}
		o.logger.ErrorContext(ctx, "could not resolve tenant config", "document", doc.ID, "error", err)
		return queue.Nack
	}

	doc.Status = document.StatusSending
	if !o.persist(ctx, doc) {
		return queue.Nack
	}

	result := o.dispatch(func() sunat.Result {
		return o.dispatcher.Send(ctx, signed, content, cfg)
	})
	return o.applyResult(ctx, doc, result, document.ErrorSendFile)
}

// HandleCheckTicket polls an asynchronous submission.
func (o *Orchestrator) HandleCheckTicket(ctx context.Context, msg queue.Message) queue.Disposition {
	ctx, span := o.tracer.Start(ctx, "pipeline.check-ticket",
		trace.WithAttributes(attribute.String("document.id", msg.DocumentID.String())))
	defer span.End()

	doc, disposition, ok := o.load(ctx, msg)
	if !ok {
		return disposition
	}
	if doc.Sunat.Ticket == "" {
		// Never dispatched; send it through the front of the pipeline.
		if err := o.publisher.Publish(ctx, queue.ChannelSendDocument, msg); err != nil {
			return queue.Nack
		}
		return queue.Ack
	}

	content := &ubl.Content{
		Kind:           ubl.Kind(doc.DocumentType),
		RUC:            doc.RUC,
		DocumentID:     doc.DocumentID,
		VoidedLineType: doc.VoidedLineDocType,
	}
	cfg, err := o.configs.SunatConfig(ctx, doc.ProjectID, doc.RUC)
	if err != nil {
		if errors.Is(err, tenant.ErrNoSunatConfig) {
			return o.failTerminal(ctx, doc, document.ErrorCompanyNotFound, err.Error())
		}
		return queue.Nack
	}

	result := o.dispatch(func() sunat.Result {
		return o.dispatcher.CheckTicket(ctx, doc.Sunat.Ticket, content, cfg)
	})
	return o.applyResult(ctx, doc, result, document.ErrorCheckTicket)
}

// load fetches the document and applies the idempotent-redelivery
// short-circuit. The bool result reports whether processing should continue.
func (o *Orchestrator) load(ctx context.Context, msg queue.Message) (*document.Document, queue.Disposition, bool) {
	doc, err := o.documents.FindByID(ctx, msg.DocumentID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			o.logger.WarnContext(ctx, "message for unknown document dropped", "document", msg.DocumentID)
			return nil, queue.Ack, false
		}
		return nil, queue.Nack, false
	}
	if doc.Status.Terminal() {
		return nil, queue.Ack, false
	}
	return doc, queue.Ack, true
}

func (o *Orchestrator) dispatch(call func() sunat.Result) sunat.Result {
	start := time.Now()
	result := call()
	if o.metrics != nil {
		o.metrics.DispatchSeconds.Observe(time.Since(start).Seconds())
	}
	return result
}

// applyResult turns a dispatcher result into a committed transition plus an
// ack decision. failKind classifies a retryable failure for this stage and
// picks where a delayed redelivery goes: send failures walk the tier
// channels, ticket failures come back through check-ticket.
func (o *Orchestrator) applyResult(
	ctx context.Context,
	doc *document.Document,
	result sunat.Result,
	failKind document.ErrorKind,
) queue.Disposition {
	switch result.Outcome {
	case sunat.OutcomeRejected:
		// The authority answered definitively; protocol-wise this is a
		// delivery, just a rejected one.
		doc.Status = document.StatusDelivered
		doc.Error = ""
		doc.ErrorMessage = ""
		doc.ScheduledDelivery = nil
		doc.Sunat.Status = result.Status
		doc.Sunat.Code = result.Code
		doc.Sunat.Description = result.Description
		doc.Sunat.Notes = result.Notes
		if !o.persist(ctx, doc) {
			return queue.Nack
		}
		o.emitCompletion(ctx, doc)
		if o.metrics != nil {
			o.metrics.Delivered.Inc()
		}
		return queue.Ack

	case sunat.OutcomeTicket:
		doc.Status = document.StatusAwaitingTicket
		doc.Sunat.Ticket = result.Ticket
		doc.ScheduledDelivery = nil
		if !o.persist(ctx, doc) {
			return queue.Nack
		}
		poll := queue.Message{DocumentID: doc.ID, RetryCount: doc.Retries}
		if err := o.delayer.Schedule(ctx, queue.ChannelCheckTicket, poll, time.Now().Add(o.ticketPollDelay)); err != nil {
			o.logger.ErrorContext(ctx, "could not schedule ticket poll", "document", doc.ID, "error", err)
			return queue.Nack
		}
		return queue.Ack

	case sunat.OutcomeDelivered:
		cdrRef, err := o.blobs.Put(ctx, result.CDR)
		if err != nil {
			// The authoritative outcome exists and must not be lost:
			// redeliver until the receipt can be stored.
			o.logger.ErrorContext(ctx, "could not store cdr", "document", doc.ID, "error", err)
			return queue.Nack
		}
		doc.Status = document.StatusDelivered
		doc.Error = ""
		doc.ErrorMessage = ""
		doc.ScheduledDelivery = nil
		doc.StorageCdrRef = cdrRef
		doc.Sunat.Status = result.Status
		doc.Sunat.Code = result.Code
		doc.Sunat.Description = result.Description
		doc.Sunat.Notes = result.Notes
		if !o.persist(ctx, doc) {
			return queue.Nack
		}
		o.emitCompletion(ctx, doc)
		if o.metrics != nil {
			o.metrics.Delivered.Inc()
		}
		return queue.Ack

	default: // sunat.OutcomeUnavailable
		decision := scheduleRetry(doc)
		if decision.Exhausted {
			return o.failTerminal(ctx, doc, document.ErrorRetryConsumed, result.Description)
		}
		at := time.Now().Add(decision.Delay)
		doc.Retries = decision.Retries
		doc.ScheduledDelivery = &at
		doc.Error = failKind
		doc.ErrorMessage = result.Description
		if !o.persist(ctx, doc) {
			return queue.Nack
		}
		redelivery := queue.Message{DocumentID: doc.ID, RetryCount: decision.Retries}
		channel := decision.Channel
		if failKind == document.ErrorCheckTicket {
			channel = queue.ChannelCheckTicket
		}
		if err := o.delayer.Schedule(ctx, channel, redelivery, at); err != nil {
			o.logger.ErrorContext(ctx, "could not schedule retry", "document", doc.ID, "error", err)
			return queue.Nack
		}
		if o.metrics != nil {
			o.metrics.Retried.Inc()
		}
		return queue.Ack
	}
}

// failTerminal commits a terminal failure and routes the message to the audit
// sink. Terminal failures are always acknowledged; redelivering them cannot
// change the outcome.
func (o *Orchestrator) failTerminal(ctx context.Context, doc *document.Document, kind document.ErrorKind, message string) queue.Disposition {
	doc.Status = document.StatusFailed
	doc.Error = kind
	doc.ErrorMessage = message
	doc.ScheduledDelivery = nil
	if !o.persist(ctx, doc) {
		return queue.Nack
	}
	if err := o.publisher.Publish(ctx, queue.ChannelError, queue.Message{DocumentID: doc.ID, RetryCount: doc.Retries}); err != nil {
		o.logger.ErrorContext(ctx, "could not publish to error channel", "document", doc.ID, "error", err)
	}
	o.emitCompletion(ctx, doc)
	if o.metrics != nil {
		o.metrics.Failed.Inc()
	}
	o.logger.InfoContext(ctx, "document failed terminally",
		"document", doc.ID, "kind", kind, "message", message)
	return queue.Ack
}

func (o *Orchestrator) persist(ctx context.Context, doc *document.Document) bool {
	if err := doc.CheckInvariants(); err != nil {
		o.logger.ErrorContext(ctx, "refusing to persist invalid transition", "document", doc.ID, "error", err)
		return false
	}
	if err := o.documents.UpdateVersioned(ctx, doc); err != nil {
		if errors.Is(err, sentinel.ErrConflict) {
			o.logger.WarnContext(ctx, "document moved underneath us, redelivering", "document", doc.ID)
		} else {
			o.logger.ErrorContext(ctx, "could not persist transition", "document", doc.ID, "error", err)
		}
		return false
	}
	return true
}

func (o *Orchestrator) emitCompletion(ctx context.Context, doc *document.Document) {
	if o.events == nil {
		return
	}
	if err := o.events.Record(ctx, completionEvent(doc)); err != nil {
		// The terminal state is committed; the notification is best
		// effort and observable through the document itself.
		o.logger.ErrorContext(ctx, "could not record completion event", "document", doc.ID, "error", err)
	}
}
