// Package sunat is the adapter over the tax authority's SOAP services. It
// performs no retries and owns no state; every call maps to one typed result
// the orchestrator turns into a state transition.
package sunat

// Outcome discriminates the dispatch result union.
type Outcome int

const (
	// OutcomeTicket means the authority accepted the file for asynchronous
	// processing and issued a ticket.
	OutcomeTicket Outcome = iota
	// OutcomeRejected means the authority definitively rejected the
	// document content. Terminal; never retried.
	OutcomeRejected
	// OutcomeDelivered means the authority answered with a CDR.
	OutcomeDelivered
	// OutcomeUnavailable means the service could not be reached or failed
	// in a way that says nothing about the document. Retryable.
	OutcomeUnavailable
)

// Authority processing statuses as SUNAT reports them.
const (
	StatusAccepted   = "ACEPTADO"
	StatusRejected   = "RECHAZADO"
	StatusException  = "EXCEPCION"
	StatusInProgress = "EN_PROCESO"
)

// Result is the tagged union every dispatcher call returns. Which fields are
// meaningful depends on Outcome: Ticket for OutcomeTicket, CDR/Status/Code/
// Description for OutcomeDelivered, Code/Description/Notes for
// OutcomeRejected.
type Result struct {
	Outcome     Outcome
	Ticket      string
	CDR         []byte
	Status      string
	Code        *int
	Description string
	Notes       []string
}

const maxDescription = 250

// truncate caps free-text coming back from the authority so it fits the
// document record.
func truncate(s string) string {
	if len(s) > maxDescription {
		return s[:maxDescription]
	}
	return s
}
