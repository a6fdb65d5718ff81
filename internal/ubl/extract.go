package ubl

import (
	"fmt"
	"strings"

	"github.com/beevik/etree"

	dErrors "sunatflow/pkg/domain-errors"
)

// Content is what the pipeline needs from an uploaded document: its class,
// the issuer RUC and the business document ID. VoidedLineType carries the
// DocumentTypeCode of the first voided line, used to route voided documents.
type Content struct {
	Kind           Kind
	RUC            string
	DocumentID     string
	VoidedLineType string
}

// Extract parses the uploaded XML and classifies it. Unparsable XML and
// unsupported root elements come back as coded validation errors so the
// orchestrator can map them to the right terminal failure.
func Extract(data []byte) (*Content, error) {
	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(data); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeValidation, "file is not valid XML")
	}
	root := doc.Root()
	if root == nil {
		return nil, dErrors.New(dErrors.CodeValidation, "file has no root element")
	}

	kind, ok := ParseKind(root.Tag)
	if !ok {
		return nil, dErrors.New(dErrors.CodeInvalidInput, fmt.Sprintf("unsupported document type %q", root.Tag))
	}

	content := &Content{
		Kind:       kind,
		DocumentID: textAt(root, "ID"),
	}
	content.RUC = extractRUC(root, kind)
	if kind == KindVoidedDocuments {
		content.VoidedLineType = textAt(root, "VoidedDocumentsLine", "DocumentTypeCode")
	}

	if content.RUC == "" {
		return nil, dErrors.New(dErrors.CodeValidation, "document carries no issuer RUC")
	}
	if content.DocumentID == "" {
		return nil, dErrors.New(dErrors.CodeValidation, "document carries no ID")
	}
	return content, nil
}

// extractRUC walks the issuer party that varies per document class. Older
// UBL 2.0 layouts use CustomerAssignedAccountID instead of
// PartyIdentification/ID, so both are tried.
func extractRUC(root *etree.Element, kind Kind) string {
	var parties [][]string
	switch kind {
	case KindPerception, KindRetention:
		parties = [][]string{
			{"AgentParty", "PartyIdentification", "ID"},
		}
	case KindDespatchAdvice:
		parties = [][]string{
			{"DespatchSupplierParty", "Party", "PartyIdentification", "ID"},
			{"DespatchSupplierParty", "CustomerAssignedAccountID"},
		}
	default:
		parties = [][]string{
			{"AccountingSupplierParty", "Party", "PartyIdentification", "ID"},
			{"AccountingSupplierParty", "CustomerAssignedAccountID"},
		}
	}
	for _, path := range parties {
		if ruc := textAt(root, path...); ruc != "" {
			return ruc
		}
	}
	return ""
}

// textAt resolves a path of local element names, ignoring namespaces, and
// returns the trimmed text of the final element.
func textAt(el *etree.Element, path ...string) string {
	current := el
	for _, name := range path {
		var next *etree.Element
		for _, child := range current.ChildElements() {
			if child.Tag == name {
				next = child
				break
			}
		}
		if next == nil {
			return ""
		}
		current = next
	}
	return strings.TrimSpace(current.Text())
}
