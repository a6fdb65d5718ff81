package sunat

import (
	"fmt"
	"strings"

	"github.com/beevik/etree"
)

const (
	nsSoapEnv = "http://schemas.xmlsoap.org/soap/envelope/"
	nsService = "http://service.sunat.gob.pe"
	nsWsse    = "http://docs.oasis-open.org/wss/2004/01/oasis-200401-wss-wssecurity-secext-1.0.xsd"
)

// buildEnvelope renders a SOAP 1.1 request with a WS-Security UsernameToken
// header and the given operation body children.
func buildEnvelope(username, password, operation string, params map[string]string) ([]byte, error) {
	doc := etree.NewDocument()
	doc.CreateProcInst("xml", `version="1.0" encoding="UTF-8"`)

	envelope := doc.CreateElement("soapenv:Envelope")
	envelope.CreateAttr("xmlns:soapenv", nsSoapEnv)
	envelope.CreateAttr("xmlns:ser", nsService)
	envelope.CreateAttr("xmlns:wsse", nsWsse)

	header := envelope.CreateElement("soapenv:Header")
	security := header.CreateElement("wsse:Security")
	token := security.CreateElement("wsse:UsernameToken")
	token.CreateElement("wsse:Username").SetText(username)
	token.CreateElement("wsse:Password").SetText(password)

	body := envelope.CreateElement("soapenv:Body")
	op := body.CreateElement("ser:" + operation)
	// SUNAT expects parameters unqualified and in declaration order.
	for _, name := range paramOrder {
		if value, ok := params[name]; ok {
			op.CreateElement(name).SetText(value)
		}
	}

	return doc.WriteToBytes()
}

var paramOrder = []string{"fileName", "contentFile", "ticket"}

// soapFault is a parsed SOAP fault.
type soapFault struct {
	Code   string
	Detail string
}

// parseResponse splits a SOAP response into its body payload or fault.
func parseResponse(data []byte) (*etree.Element, *soapFault, error) {
	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(data); err != nil {
		return nil, nil, fmt.Errorf("sunat: parse SOAP response: %w", err)
	}
	root := doc.Root()
	if root == nil {
		return nil, nil, fmt.Errorf("sunat: empty SOAP response")
	}
	body := childByTag(root, "Body")
	if body == nil {
		return nil, nil, fmt.Errorf("sunat: SOAP response has no body")
	}
	if fault := childByTag(body, "Fault"); fault != nil {
		return nil, &soapFault{
			Code:   textOf(fault, "faultcode"),
			Detail: textOf(fault, "faultstring"),
		}, nil
	}
	children := body.ChildElements()
	if len(children) == 0 {
		return nil, nil, fmt.Errorf("sunat: SOAP body is empty")
	}
	return children[0], nil, nil
}

// errorCode extracts the numeric error code SUNAT embeds in fault codes like
// "soap-env:Client.2335". Returns -1 when no number is present.
func (f *soapFault) errorCode() int {
	digits := f.Code
	if idx := strings.LastIndexByte(digits, '.'); idx >= 0 {
		digits = digits[idx+1:]
	}
	code := 0
	seen := false
	for _, r := range digits {
		if r < '0' || r > '9' {
			if seen {
				break
			}
			continue
		}
		seen = true
		code = code*10 + int(r-'0')
	}
	if !seen {
		return -1
	}
	return code
}

func childByTag(el *etree.Element, tag string) *etree.Element {
	for _, child := range el.ChildElements() {
		if child.Tag == tag {
			return child
		}
	}
	return nil
}

// textOf returns the trimmed text of the first descendant with the given
// local name, searching breadth-first.
func textOf(el *etree.Element, tag string) string {
	queue := []*etree.Element{el}
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		for _, child := range current.ChildElements() {
			if child.Tag == tag {
				return strings.TrimSpace(child.Text())
			}
			queue = append(queue, child)
		}
	}
	return ""
}
