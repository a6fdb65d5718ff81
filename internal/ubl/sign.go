package ubl

import (
	"fmt"

	"github.com/beevik/etree"
	dsig "github.com/russellhaering/goxmldsig"

	"sunatflow/internal/keys"
)

const extNamespace = "urn:oasis:names:specification:ubl:schema:xsd:CommonExtensionComponents-2"

// Signer produces the enveloped XML-DSig signature SUNAT requires, placed
// inside UBLExtensions/UBLExtension/ExtensionContent.
type Signer struct{}

func NewSigner() *Signer {
	return &Signer{}
}

// Sign returns the signed document. A document that already carries a
// signature is returned unchanged (second result false), so re-running the
// signing stage never double-signs.
func (s *Signer) Sign(data []byte, key *keys.ResolvedKey) ([]byte, bool, error) {
	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(data); err != nil {
		return nil, false, fmt.Errorf("ubl: parse document: %w", err)
	}
	root := doc.Root()
	if root == nil {
		return nil, false, fmt.Errorf("ubl: document has no root element")
	}
	if hasSignature(root) {
		return data, false, nil
	}

	ensureExtensionContent(root)

	sigCtx := dsig.NewDefaultSigningContext(key)
	if err := sigCtx.SetSignatureMethod(signatureMethod(key.Algorithm)); err != nil {
		return nil, false, fmt.Errorf("ubl: signature method: %w", err)
	}
	signed, err := sigCtx.SignEnveloped(root)
	if err != nil {
		return nil, false, fmt.Errorf("ubl: sign document: %w", err)
	}

	// SignEnveloped appends the signature as the last child of the root.
	// The enveloped transform strips it wherever it sits, so moving it
	// into the extension slot keeps the digest valid.
	signature := signed.ChildElements()[len(signed.ChildElements())-1]
	signed.RemoveChild(signature)
	slot := extensionContentOf(signed)
	if slot == nil {
		return nil, false, fmt.Errorf("ubl: extension content slot missing after signing")
	}
	slot.AddChild(signature)

	doc.SetRoot(signed)
	out, err := doc.WriteToBytes()
	if err != nil {
		return nil, false, fmt.Errorf("ubl: serialize signed document: %w", err)
	}
	return out, true, nil
}

// hasSignature looks for an XML-DSig signature anywhere in the tree. UBL's
// own cac:Signature metadata element is not one; a real signature has a
// SignedInfo child.
func hasSignature(el *etree.Element) bool {
	if el.Tag == "Signature" {
		for _, child := range el.ChildElements() {
			if child.Tag == "SignedInfo" {
				return true
			}
		}
	}
	for _, child := range el.ChildElements() {
		if hasSignature(child) {
			return true
		}
	}
	return false
}

// ensureExtensionContent guarantees an empty ExtensionContent slot exists
// before signing so the digest covers the final document shape.
func ensureExtensionContent(root *etree.Element) {
	if extensionContentOf(root) != nil {
		return
	}
	var extensions *etree.Element
	for _, child := range root.ChildElements() {
		if child.Tag == "UBLExtensions" {
			extensions = child
			break
		}
	}
	if extensions == nil {
		extensions = etree.NewElement("ext:UBLExtensions")
		extensions.CreateAttr("xmlns:ext", extNamespace)
		root.InsertChildAt(0, extensions)
	}
	extension := extensions.CreateElement("ext:UBLExtension")
	extension.CreateElement("ext:ExtensionContent")
}

// extensionContentOf returns the first empty ExtensionContent element.
func extensionContentOf(root *etree.Element) *etree.Element {
	for _, child := range root.ChildElements() {
		if child.Tag != "UBLExtensions" {
			continue
		}
		for _, extension := range child.ChildElements() {
			if extension.Tag != "UBLExtension" {
				continue
			}
			for _, content := range extension.ChildElements() {
				if content.Tag == "ExtensionContent" && len(content.ChildElements()) == 0 {
					return content
				}
			}
		}
	}
	return nil
}

func signatureMethod(algorithm string) string {
	switch algorithm {
	case keys.AlgRS512, keys.AlgPS512:
		return dsig.RSASHA512SignatureMethod
	default:
		return dsig.RSASHA256SignatureMethod
	}
}
