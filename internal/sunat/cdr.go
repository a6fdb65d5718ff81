package sunat

import (
	"strconv"
	"strings"

	"github.com/beevik/etree"

	"sunatflow/internal/ubl"
)

// cdrSummary is what the ApplicationResponse inside a CDR says about the
// submitted document.
type cdrSummary struct {
	Code        *int
	Description string
	Notes       []string
}

// readCDR opens the CDR ZIP and summarizes its ApplicationResponse. A CDR
// that cannot be parsed still counts as delivered; the summary is just empty.
func readCDR(cdrZip []byte) cdrSummary {
	_, xmlBytes, err := ubl.UnzipFirstXML(cdrZip)
	if err != nil {
		return cdrSummary{}
	}
	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(xmlBytes); err != nil {
		return cdrSummary{}
	}
	root := doc.Root()
	if root == nil {
		return cdrSummary{}
	}

	summary := cdrSummary{}
	if codeText := textOf(root, "ResponseCode"); codeText != "" {
		if code, err := strconv.Atoi(codeText); err == nil {
			summary.Code = &code
		}
	}
	summary.Description = truncate(textOf(root, "Description"))
	summary.Notes = cdrNotes(root)
	return summary
}

// cdrNotes collects the observation notes the authority attaches to accepted
// documents (codes 4000 and up).
func cdrNotes(root *etree.Element) []string {
	var notes []string
	queue := []*etree.Element{root}
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		for _, child := range current.ChildElements() {
			if child.Tag == "Note" {
				if text := strings.TrimSpace(child.Text()); text != "" {
					notes = append(notes, truncate(text))
				}
				continue
			}
			queue = append(queue, child)
		}
	}
	return notes
}

// statusFromCode maps the CDR response code to the authority status. Zero is
// acceptance, 2000-3999 rejection, anything else an exception on their side.
func statusFromCode(code *int) string {
	if code == nil {
		return StatusAccepted
	}
	switch {
	case *code == 0:
		return StatusAccepted
	case *code >= 2000 && *code <= 3999:
		return StatusRejected
	default:
		return StatusException
	}
}
