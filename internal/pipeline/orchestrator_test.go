package pipeline_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"sunatflow/internal/document"
	docstore "sunatflow/internal/document/store"
	"sunatflow/internal/keys"
	keystore "sunatflow/internal/keys/store"
	"sunatflow/internal/pipeline"
	"sunatflow/internal/queue"
	"sunatflow/internal/storage"
	"sunatflow/internal/sunat"
	"sunatflow/internal/tenant"
	tenantstore "sunatflow/internal/tenant/store"
	"sunatflow/internal/ubl"
	id "sunatflow/pkg/domain"
)

const invoiceXML = `<?xml version="1.0" encoding="UTF-8"?>
<Invoice xmlns="urn:oasis:names:specification:ubl:schema:xsd:Invoice-2"
	xmlns:cac="urn:oasis:names:specification:ubl:schema:xsd:CommonAggregateComponents-2"
	xmlns:cbc="urn:oasis:names:specification:ubl:schema:xsd:CommonBasicComponents-2">
	<cbc:ID>F001-1</cbc:ID>
	<cac:AccountingSupplierParty>
		<cac:Party>
			<cac:PartyIdentification>
				<cbc:ID>20123456789</cbc:ID>
			</cac:PartyIdentification>
		</cac:Party>
	</cac:AccountingSupplierParty>
</Invoice>`

// fakeDispatcher replays a scripted sequence of results.
type fakeDispatcher struct {
	mu          sync.Mutex
	results     []sunat.Result
	sendCalls   int
	ticketCalls int
}

func (d *fakeDispatcher) next() sunat.Result {
	if len(d.results) == 0 {
		return sunat.Result{Outcome: sunat.OutcomeUnavailable, Description: "scripted outage"}
	}
	r := d.results[0]
	d.results = d.results[1:]
	return r
}

func (d *fakeDispatcher) Send(ctx context.Context, signedXML []byte, content *ubl.Content, cfg *tenant.SunatConfig) sunat.Result {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.sendCalls++
	return d.next()
}

func (d *fakeDispatcher) CheckTicket(ctx context.Context, ticket string, content *ubl.Content, cfg *tenant.SunatConfig) sunat.Result {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.ticketCalls++
	return d.next()
}

type scheduled struct {
	channel string
	msg     queue.Message
	at      time.Time
}

// captureDelayer records schedules without delivering them.
type captureDelayer struct {
	mu        sync.Mutex
	scheduled []scheduled
}

func (d *captureDelayer) Schedule(ctx context.Context, channel string, msg queue.Message, at time.Time) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.scheduled = append(d.scheduled, scheduled{channel: channel, msg: msg, at: at})
	return nil
}

func (d *captureDelayer) last() scheduled {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.scheduled[len(d.scheduled)-1]
}

// capturePublisher records immediate publishes per channel.
type capturePublisher struct {
	mu        sync.Mutex
	published map[string][]queue.Message
}

func newCapturePublisher() *capturePublisher {
	return &capturePublisher{published: make(map[string][]queue.Message)}
}

func (p *capturePublisher) Publish(ctx context.Context, channel string, msg queue.Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.published[channel] = append(p.published[channel], msg)
	return nil
}

// captureEvents records completion events.
type captureEvents struct {
	mu     sync.Mutex
	events []pipeline.Event
}

func (e *captureEvents) Record(ctx context.Context, event pipeline.Event) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.events = append(e.events, event)
	return nil
}

type OrchestratorSuite struct {
	suite.Suite

	ctx        context.Context
	documents  *docstore.InMemory
	blobs      *storage.InMemory
	dispatcher *fakeDispatcher
	delayer    *captureDelayer
	publisher  *capturePublisher
	events     *captureEvents

	orchestrator *pipeline.Orchestrator
	project      id.ProjectID
}

func TestOrchestratorSuite(t *testing.T) {
	suite.Run(t, new(OrchestratorSuite))
}

func (s *OrchestratorSuite) SetupTest() {
	s.ctx = context.Background()
	s.documents = docstore.NewInMemory()
	s.blobs = storage.NewInMemory()
	s.dispatcher = &fakeDispatcher{}
	s.delayer = &captureDelayer{}
	s.publisher = newCapturePublisher()
	s.events = &captureEvents{}
	s.project = id.NewProjectID()

	components := keystore.NewInMemory()
	keyManager := keys.NewManager(components, keys.NewRegistry(
		keys.ImportedRsaFactory{},
		keys.NewGeneratedRsaFactory(components),
	))

	projects := tenantstore.NewInMemory()
	companies := tenantstore.NewInMemoryCompanies()
	s.Require().NoError(projects.Create(s.ctx, &tenant.Project{
		ID:   s.project,
		Name: "acme",
		Sunat: &tenant.SunatConfig{
			InvoiceURL: "https://sunat.example/billService",
			Username:   "20123456789MODDATOS",
			Password:   "MODDATOS",
		},
	}))

	s.orchestrator = pipeline.NewOrchestrator(
		s.documents,
		s.blobs,
		tenant.NewService(projects, companies),
		keyManager,
		ubl.NewSigner(),
		s.dispatcher,
		s.publisher,
		s.delayer,
		pipeline.WithEventSink(s.events),
	)
}

func (s *OrchestratorSuite) createDocument(xml string) *document.Document {
	ref, err := s.blobs.Put(s.ctx, []byte(xml))
	s.Require().NoError(err)
	doc := &document.Document{
		ID:             id.NewDocumentID(),
		ProjectID:      s.project,
		Status:         document.StatusCreated,
		StorageFileRef: ref,
	}
	s.Require().NoError(s.documents.Create(s.ctx, doc))
	return doc
}

func (s *OrchestratorSuite) reload(docID id.DocumentID) *document.Document {
	doc, err := s.documents.FindByID(s.ctx, docID)
	s.Require().NoError(err)
	s.Require().NoError(doc.CheckInvariants())
	return doc
}

func (s *OrchestratorSuite) handleSend(doc *document.Document) queue.Disposition {
	return s.orchestrator.HandleSend(s.ctx, queue.Message{DocumentID: doc.ID})
}

func acceptedCDR() sunat.Result {
	code := 0
	return sunat.Result{
		Outcome:     sunat.OutcomeDelivered,
		CDR:         []byte("cdr-zip"),
		Status:      sunat.StatusAccepted,
		Code:        &code,
		Description: "La Factura numero F001-1, ha sido aceptada",
	}
}

func (s *OrchestratorSuite) TestSend() {
	s.Run("synchronous delivery", func() {
		s.SetupTest()
		doc := s.createDocument(invoiceXML)
		s.dispatcher.results = []sunat.Result{acceptedCDR()}

		s.Equal(queue.Ack, s.handleSend(doc))

		got := s.reload(doc.ID)
		s.Equal(document.StatusDelivered, got.Status)
		s.Equal("20123456789", got.RUC)
		s.Equal(string(ubl.KindInvoice), got.DocumentType)
		s.Equal("F001-1", got.DocumentID)
		s.Equal(sunat.StatusAccepted, got.Sunat.Status)
		s.NotEmpty(got.StorageCdrRef)

		cdr, err := s.blobs.Get(s.ctx, got.StorageCdrRef)
		s.Require().NoError(err)
		s.Equal([]byte("cdr-zip"), cdr)

		s.Require().Len(s.events.events, 1)
		s.Equal(pipeline.EventDocumentDelivered, s.events.events[0].Type)
	})

	s.Run("signing uses a generated fallback key", func() {
		s.SetupTest()
		doc := s.createDocument(invoiceXML)
		s.dispatcher.results = []sunat.Result{acceptedCDR()}

		s.Equal(queue.Ack, s.handleSend(doc))

		// The stored file was replaced by its signed form.
		got := s.reload(doc.ID)
		signed, err := s.blobs.Get(s.ctx, got.StorageFileRef)
		s.Require().NoError(err)
		s.Contains(string(signed), "SignatureValue")
	})

	s.Run("authority rejection is a delivery", func() {
		s.SetupTest()
		doc := s.createDocument(invoiceXML)
		code := 2335
		s.dispatcher.results = []sunat.Result{{
			Outcome:     sunat.OutcomeRejected,
			Status:      sunat.StatusRejected,
			Code:        &code,
			Description: "documento alterado",
		}}

		s.Equal(queue.Ack, s.handleSend(doc))

		got := s.reload(doc.ID)
		s.Equal(document.StatusDelivered, got.Status)
		s.Equal(sunat.StatusRejected, got.Sunat.Status)
		s.Empty(got.StorageCdrRef)
		s.Equal(0, got.Retries)
		s.Empty(s.delayer.scheduled)
	})

	s.Run("unsupported document type fails terminally", func() {
		s.SetupTest()
		doc := s.createDocument(`<Quotation><ID>Q-1</ID></Quotation>`)

		s.Equal(queue.Ack, s.handleSend(doc))

		got := s.reload(doc.ID)
		s.Equal(document.StatusFailed, got.Status)
		s.Equal(document.ErrorUnsupportedDocumentType, got.Error)
		s.Zero(s.dispatcher.sendCalls)
		s.Len(s.publisher.published[queue.ChannelError], 1)
		s.Require().Len(s.events.events, 1)
		s.Equal(pipeline.EventDocumentFailed, s.events.events[0].Type)
	})

	s.Run("unreadable XML fails terminally", func() {
		s.SetupTest()
		doc := s.createDocument(`<Invoice><unclosed`)

		s.Equal(queue.Ack, s.handleSend(doc))
		s.Equal(document.ErrorReadFile, s.reload(doc.ID).Error)
	})

	s.Run("missing tenant config fails terminally", func() {
		s.SetupTest()
		projects := tenantstore.NewInMemory()
		empty := &tenant.Project{ID: s.project, Name: "bare"}
		s.Require().NoError(projects.Create(s.ctx, empty))
		s.orchestrator = pipeline.NewOrchestrator(
			s.documents, s.blobs,
			tenant.NewService(projects, tenantstore.NewInMemoryCompanies()),
			fallbackOnlyKeyManager(),
			ubl.NewSigner(), s.dispatcher, s.publisher, s.delayer,
			pipeline.WithEventSink(s.events),
		)
		doc := s.createDocument(invoiceXML)

		s.Equal(queue.Ack, s.handleSend(doc))
		s.Equal(document.ErrorCompanyNotFound, s.reload(doc.ID).Error)
	})

	s.Run("missing blob is redelivered", func() {
		s.SetupTest()
		doc := &document.Document{
			ID:             id.NewDocumentID(),
			ProjectID:      s.project,
			Status:         document.StatusCreated,
			StorageFileRef: "missing",
		}
		s.Require().NoError(s.documents.Create(s.ctx, doc))

		s.Equal(queue.Nack, s.handleSend(doc))
		s.Equal(document.StatusCreated, s.reload(doc.ID).Status)
	})

	s.Run("unknown document is dropped", func() {
		s.SetupTest()
		s.Equal(queue.Ack, s.orchestrator.HandleSend(s.ctx, queue.Message{DocumentID: id.NewDocumentID()}))
	})
}

// fallbackOnlyKeyManager builds a key manager over an empty component store;
// fallback generation still yields a usable key.
func fallbackOnlyKeyManager() *keys.Manager {
	components := keystore.NewInMemory()
	return keys.NewManager(components, keys.NewRegistry(keys.NewGeneratedRsaFactory(components)))
}

func (s *OrchestratorSuite) TestTicketFlow() {
	s.Run("ticket moves to awaiting and schedules a poll", func() {
		s.SetupTest()
		doc := s.createDocument(invoiceXML)
		s.dispatcher.results = []sunat.Result{{Outcome: sunat.OutcomeTicket, Ticket: "T-001"}}

		s.Equal(queue.Ack, s.handleSend(doc))

		got := s.reload(doc.ID)
		s.Equal(document.StatusAwaitingTicket, got.Status)
		s.Equal("T-001", got.Sunat.Ticket)
		s.Require().Len(s.delayer.scheduled, 1)
		s.Equal(queue.ChannelCheckTicket, s.delayer.last().channel)
	})

	s.Run("poll delivering keeps the ticket for audit", func() {
		s.SetupTest()
		doc := s.createDocument(invoiceXML)
		s.dispatcher.results = []sunat.Result{
			{Outcome: sunat.OutcomeTicket, Ticket: "T-001"},
			acceptedCDR(),
		}

		s.Equal(queue.Ack, s.handleSend(doc))
		s.Equal(queue.Ack, s.orchestrator.HandleCheckTicket(s.ctx, queue.Message{DocumentID: doc.ID}))

		got := s.reload(doc.ID)
		s.Equal(document.StatusDelivered, got.Status)
		s.Equal("T-001", got.Sunat.Ticket)
		s.NotEmpty(got.StorageCdrRef)
	})

	s.Run("poll still in process stays awaiting", func() {
		s.SetupTest()
		doc := s.createDocument(invoiceXML)
		s.dispatcher.results = []sunat.Result{
			{Outcome: sunat.OutcomeTicket, Ticket: "T-001"},
			{Outcome: sunat.OutcomeTicket, Ticket: "T-001"},
		}

		s.Equal(queue.Ack, s.handleSend(doc))
		s.Equal(queue.Ack, s.orchestrator.HandleCheckTicket(s.ctx, queue.Message{DocumentID: doc.ID}))

		s.Equal(document.StatusAwaitingTicket, s.reload(doc.ID).Status)
		s.Len(s.delayer.scheduled, 2)
	})

	s.Run("send redelivery while awaiting forwards to the poll channel", func() {
		s.SetupTest()
		doc := s.createDocument(invoiceXML)
		s.dispatcher.results = []sunat.Result{{Outcome: sunat.OutcomeTicket, Ticket: "T-001"}}

		s.Equal(queue.Ack, s.handleSend(doc))
		s.Equal(queue.Ack, s.handleSend(doc))

		s.Equal(1, s.dispatcher.sendCalls)
		s.Len(s.publisher.published[queue.ChannelCheckTicket], 1)
	})
}

func (s *OrchestratorSuite) TestRetryPolicy() {
	s.Run("backoff walks the tiers then consumes the budget", func() {
		s.SetupTest()
		doc := s.createDocument(invoiceXML)

		expected := []struct {
			retries int
			delay   time.Duration
			channel string
		}{
			{1, 5 * time.Minute, queue.ChannelRetryTier1},
			{2, 25 * time.Minute, queue.ChannelRetryTier2},
			{3, 125 * time.Minute, queue.ChannelRetryTier3},
		}
		for _, want := range expected {
			before := time.Now()
			s.Equal(queue.Ack, s.handleSend(doc))

			got := s.reload(doc.ID)
			s.Equal(want.retries, got.Retries)
			s.Equal(document.ErrorSendFile, got.Error)
			s.Require().NotNil(got.ScheduledDelivery)
			s.WithinDuration(before.Add(want.delay), *got.ScheduledDelivery, 5*time.Second)
			s.Equal(want.channel, s.delayer.last().channel)
			s.Equal(want.retries, s.delayer.last().msg.RetryCount)
		}

		// Fourth consecutive failure: budget consumed, never a fourth dispatch
		// beyond it.
		s.Equal(queue.Ack, s.handleSend(doc))
		got := s.reload(doc.ID)
		s.Equal(document.StatusFailed, got.Status)
		s.Equal(document.ErrorRetryConsumed, got.Error)
		s.Equal(3, got.Retries)
		s.Len(s.delayer.scheduled, 3)

		// A further redelivery is a no-op.
		s.Equal(queue.Ack, s.handleSend(doc))
		s.Equal(4, s.dispatcher.sendCalls)
	})

	s.Run("retries are not reset by success", func() {
		s.SetupTest()
		doc := s.createDocument(invoiceXML)
		s.dispatcher.results = []sunat.Result{
			{Outcome: sunat.OutcomeUnavailable, Description: "timeout"},
			acceptedCDR(),
		}

		s.Equal(queue.Ack, s.handleSend(doc))
		s.Equal(queue.Ack, s.handleSend(doc))

		got := s.reload(doc.ID)
		s.Equal(document.StatusDelivered, got.Status)
		s.Equal(1, got.Retries)
	})

	s.Run("ticket poll outage reschedules the poll", func() {
		s.SetupTest()
		doc := s.createDocument(invoiceXML)
		s.dispatcher.results = []sunat.Result{
			{Outcome: sunat.OutcomeTicket, Ticket: "T-001"},
			{Outcome: sunat.OutcomeUnavailable, Description: "timeout"},
		}

		s.Equal(queue.Ack, s.handleSend(doc))
		s.Equal(queue.Ack, s.orchestrator.HandleCheckTicket(s.ctx, queue.Message{DocumentID: doc.ID}))

		got := s.reload(doc.ID)
		s.Equal(document.StatusAwaitingTicket, got.Status)
		s.Equal(document.ErrorCheckTicket, got.Error)
		s.Equal(1, got.Retries)
		s.Equal(queue.ChannelCheckTicket, s.delayer.last().channel)
	})
}

func (s *OrchestratorSuite) TestIdempotentRedelivery() {
	s.SetupTest()
	doc := s.createDocument(invoiceXML)
	s.dispatcher.results = []sunat.Result{acceptedCDR()}

	s.Equal(queue.Ack, s.handleSend(doc))
	delivered := s.reload(doc.ID)

	s.Equal(queue.Ack, s.handleSend(doc))
	s.Equal(queue.Ack, s.orchestrator.HandleCheckTicket(s.ctx, queue.Message{DocumentID: doc.ID}))

	s.Equal(1, s.dispatcher.sendCalls)
	s.Zero(s.dispatcher.ticketCalls)
	after := s.reload(doc.ID)
	s.Equal(delivered.Version, after.Version)
	s.Equal(delivered.Status, after.Status)
}
