// Package ubl reads, classifies and signs the UBL documents the pipeline
// delivers.
package ubl

// Kind is the document class, taken from the XML root element name.
type Kind string

const (
	KindInvoice          Kind = "Invoice"
	KindCreditNote       Kind = "CreditNote"
	KindDebitNote        Kind = "DebitNote"
	KindVoidedDocuments  Kind = "VoidedDocuments"
	KindSummaryDocuments Kind = "SummaryDocuments"
	KindPerception       Kind = "Perception"
	KindRetention        Kind = "Retention"
	KindDespatchAdvice   Kind = "DespatchAdvice"
)

// ParseKind maps a root element local name to a Kind. The second result is
// false for anything the pipeline cannot deliver.
func ParseKind(rootName string) (Kind, bool) {
	switch Kind(rootName) {
	case KindInvoice, KindCreditNote, KindDebitNote, KindVoidedDocuments,
		KindSummaryDocuments, KindPerception, KindRetention, KindDespatchAdvice:
		return Kind(rootName), true
	}
	return "", false
}

// Code is the SUNAT document type code used in upload file names. Voided and
// summary documents carry the code inside their document ID (RA-/RC- series)
// so they return "".
func (k Kind) Code() string {
	switch k {
	case KindInvoice:
		return "01"
	case KindCreditNote:
		return "07"
	case KindDebitNote:
		return "08"
	case KindDespatchAdvice:
		return "09"
	case KindRetention:
		return "20"
	case KindPerception:
		return "40"
	}
	return ""
}

// Ticketed reports whether SUNAT processes this kind asynchronously. Voided
// and summary documents go through sendSummary and always yield a ticket.
func (k Kind) Ticketed() bool {
	return k == KindVoidedDocuments || k == KindSummaryDocuments
}

// FileName builds the upload name SUNAT expects: {ruc}-{code}-{id}.xml, or
// {ruc}-{id}.xml when the id embeds the series prefix.
func FileName(kind Kind, ruc, documentID string) string {
	if code := kind.Code(); code != "" {
		return ruc + "-" + code + "-" + documentID + ".xml"
	}
	return ruc + "-" + documentID + ".xml"
}
