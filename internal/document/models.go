package document

import (
	"time"

	id "sunatflow/pkg/domain"
)

// DeliveryStatus tracks a document through the delivery pipeline.
type DeliveryStatus string

const (
	StatusCreated        DeliveryStatus = "CREATED"
	StatusValidating     DeliveryStatus = "VALIDATING"
	StatusSigning        DeliveryStatus = "SIGNING"
	StatusSending        DeliveryStatus = "SENDING"
	StatusAwaitingTicket DeliveryStatus = "AWAITING_TICKET"
	StatusDelivered      DeliveryStatus = "DELIVERED"
	StatusFailed         DeliveryStatus = "FAILED"
)

// Terminal reports whether the status admits no further transitions.
func (s DeliveryStatus) Terminal() bool {
	return s == StatusDelivered || s == StatusFailed
}

// ErrorKind classifies a pipeline failure. It is state, not a Go error:
// no failure propagates past the orchestrator as an error value.
type ErrorKind string

const (
	ErrorFetchFile               ErrorKind = "FETCH_FILE"
	ErrorReadFile                ErrorKind = "READ_FILE"
	ErrorUnsupportedDocumentType ErrorKind = "UNSUPPORTED_DOCUMENT_TYPE"
	ErrorNoCertificateToSign     ErrorKind = "NO_CERTIFICATE_TO_SIGN"
	ErrorCompanyNotFound         ErrorKind = "COMPANY_NOT_FOUND"
	ErrorSendFile                ErrorKind = "SEND_FILE"
	ErrorCheckTicket             ErrorKind = "CHECK_TICKET"
	ErrorSaveCdrFile             ErrorKind = "SAVE_CDR_FILE"
	ErrorRetryConsumed           ErrorKind = "RETRY_CONSUMED"
)

// Retryable reports whether the kind is a transport failure eligible for
// the backoff scheduler. Everything else is terminal the moment it happens.
func (k ErrorKind) Retryable() bool {
	return k == ErrorSendFile || k == ErrorCheckTicket
}

// SunatResult captures the authority's answer as recorded on the document.
type SunatResult struct {
	Ticket      string
	Status      string
	Code        *int
	Description string
	Notes       []string
}

// Document is an electronic tax document owned by the delivery pipeline.
// Only the orchestrator mutates it once the pipeline starts, always through
// a version-checked update.
type Document struct {
	ID        id.DocumentID
	ProjectID id.ProjectID

	RUC                 string
	DocumentType        string
	DocumentID          string
	VoidedLineDocType   string

	Status            DeliveryStatus
	Error             ErrorKind
	ErrorMessage      string
	Retries           int
	ScheduledDelivery *time.Time

	Sunat SunatResult

	StorageFileRef string
	StorageCdrRef  string

	Version   int64
	CreatedAt time.Time
	UpdatedAt time.Time
}

// CheckInvariants validates the cross-field rules that must hold after every
// transition. A ticket on a live document means we are waiting for it; a CDR
// reference only exists on delivered documents. Terminal documents keep their
// ticket for audit.
func (d *Document) CheckInvariants() error {
	if d.Sunat.Ticket != "" && !d.Status.Terminal() && d.Status != StatusAwaitingTicket {
		return errInvariant("ticket set but status is " + string(d.Status))
	}
	if d.StorageCdrRef != "" && d.Status != StatusDelivered {
		return errInvariant("cdr stored but status is " + string(d.Status))
	}
	if d.Retries < 0 {
		return errInvariant("negative retries")
	}
	return nil
}

type invariantError string

func errInvariant(msg string) error { return invariantError(msg) }

func (e invariantError) Error() string { return "document invariant: " + string(e) }
