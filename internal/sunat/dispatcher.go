package sunat

import (
	"bytes"
	"context"
	"encoding/base64"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/beevik/etree"

	"sunatflow/internal/tenant"
	"sunatflow/internal/ubl"
)

const defaultTimeout = 30 * time.Second

// Dispatcher talks to the SUNAT billService endpoints.
type Dispatcher struct {
	client *http.Client
	logger *slog.Logger
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

func WithHTTPClient(client *http.Client) Option {
	return func(d *Dispatcher) { d.client = client }
}

func WithLogger(logger *slog.Logger) Option {
	return func(d *Dispatcher) { d.logger = logger }
}

func NewDispatcher(opts ...Option) *Dispatcher {
	d := &Dispatcher{
		client: &http.Client{Timeout: defaultTimeout},
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Send uploads the signed document. Voided and summary documents go through
// sendSummary and come back as tickets; everything else goes through sendBill
// and normally comes back as a synchronous CDR.
func (d *Dispatcher) Send(ctx context.Context, signedXML []byte, content *ubl.Content, cfg *tenant.SunatConfig) Result {
	xmlName := ubl.FileName(content.Kind, content.RUC, content.DocumentID)
	zipName := strings.TrimSuffix(xmlName, ".xml") + ".zip"

	zipBytes, err := ubl.Zip(xmlName, signedXML)
	if err != nil {
		d.logger.ErrorContext(ctx, "could not zip document", "file", xmlName, "error", err)
		return Result{Outcome: OutcomeUnavailable, Description: "could not package file"}
	}

	operation := "sendBill"
	if content.Kind.Ticketed() {
		operation = "sendSummary"
	}
	payload, fault, result := d.call(ctx, serviceURL(content, cfg), cfg, operation, map[string]string{
		"fileName":    zipName,
		"contentFile": base64.StdEncoding.EncodeToString(zipBytes),
	})
	if result != nil {
		return *result
	}
	if fault != nil {
		return faultResult(fault)
	}

	if operation == "sendSummary" {
		ticket := textOf(payload, "ticket")
		if ticket == "" {
			return Result{Outcome: OutcomeUnavailable, Description: "authority returned no ticket"}
		}
		return Result{Outcome: OutcomeTicket, Ticket: ticket}
	}

	cdr, err := base64.StdEncoding.DecodeString(textOf(payload, "applicationResponse"))
	if err != nil || len(cdr) == 0 {
		return Result{Outcome: OutcomeUnavailable, Description: "authority returned no receipt"}
	}
	return deliveredResult(cdr)
}

// CheckTicket polls the status of an asynchronous submission.
func (d *Dispatcher) CheckTicket(ctx context.Context, ticket string, content *ubl.Content, cfg *tenant.SunatConfig) Result {
	payload, fault, result := d.call(ctx, serviceURL(content, cfg), cfg, "getStatus", map[string]string{
		"ticket": ticket,
	})
	if result != nil {
		return *result
	}
	if fault != nil {
		return faultResult(fault)
	}

	statusCode := textOf(payload, "statusCode")
	cdr, _ := base64.StdEncoding.DecodeString(textOf(payload, "content"))

	switch {
	case statusCode == "98":
		// Still processing; come back later with the same ticket.
		return Result{Outcome: OutcomeTicket, Ticket: ticket}
	case len(cdr) > 0:
		return deliveredResult(cdr)
	default:
		return Result{Outcome: OutcomeUnavailable, Description: "ticket status " + statusCode + " without receipt"}
	}
}

// call performs one SOAP round trip. The third result is non-nil only for
// transport-level failures.
func (d *Dispatcher) call(ctx context.Context, url string, cfg *tenant.SunatConfig, operation string, params map[string]string) (*etree.Element, *soapFault, *Result) {
	envelope, err := buildEnvelope(cfg.Username, cfg.Password, operation, params)
	if err != nil {
		return nil, nil, &Result{Outcome: OutcomeUnavailable, Description: "could not build request"}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(envelope))
	if err != nil {
		return nil, nil, &Result{Outcome: OutcomeUnavailable, Description: "could not build request"}
	}
	req.Header.Set("Content-Type", "text/xml; charset=utf-8")
	req.Header.Set("SOAPAction", "urn:"+operation)

	resp, err := d.client.Do(req)
	if err != nil {
		d.logger.WarnContext(ctx, "sunat unreachable", "operation", operation, "error", err)
		return nil, nil, &Result{Outcome: OutcomeUnavailable, Description: truncate(err.Error())}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil, &Result{Outcome: OutcomeUnavailable, Description: "could not read response"}
	}

	payload, fault, err := parseResponse(body)
	if err != nil {
		if resp.StatusCode != http.StatusOK {
			return nil, nil, &Result{Outcome: OutcomeUnavailable, Description: "http status " + resp.Status}
		}
		return nil, nil, &Result{Outcome: OutcomeUnavailable, Description: "unreadable response"}
	}
	return payload, fault, nil
}

// faultResult classifies a SOAP fault. SUNAT rejection codes live in the
// 2000-3999 band; anything else is an authority-side exception worth
// retrying.
func faultResult(fault *soapFault) Result {
	code := fault.errorCode()
	if code >= 2000 && code <= 3999 {
		return Result{
			Outcome:     OutcomeRejected,
			Status:      StatusRejected,
			Code:        &code,
			Description: truncate(fault.Detail),
		}
	}
	return Result{Outcome: OutcomeUnavailable, Description: truncate(fault.Detail)}
}

func deliveredResult(cdr []byte) Result {
	summary := readCDR(cdr)
	return Result{
		Outcome:     OutcomeDelivered,
		CDR:         cdr,
		Status:      statusFromCode(summary.Code),
		Code:        summary.Code,
		Description: summary.Description,
		Notes:       summary.Notes,
	}
}

// serviceURL routes a document to its SUNAT endpoint. Voided documents that
// cancel perception or retention documents go to the perception-retention
// service despite being RA series.
func serviceURL(content *ubl.Content, cfg *tenant.SunatConfig) string {
	switch content.Kind {
	case ubl.KindPerception, ubl.KindRetention:
		if cfg.PerceptionRetentionURL != "" {
			return cfg.PerceptionRetentionURL
		}
	case ubl.KindDespatchAdvice:
		if cfg.DespatchURL != "" {
			return cfg.DespatchURL
		}
	case ubl.KindVoidedDocuments:
		if (content.VoidedLineType == "20" || content.VoidedLineType == "40") && cfg.PerceptionRetentionURL != "" {
			return cfg.PerceptionRetentionURL
		}
	}
	return cfg.InvoiceURL
}
