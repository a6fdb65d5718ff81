package ubl_test

import (
	"crypto/rand"
	"crypto/rsa"
	"testing"

	"github.com/beevik/etree"
	"github.com/stretchr/testify/suite"

	"sunatflow/internal/keys"
	"sunatflow/internal/ubl"
	dErrors "sunatflow/pkg/domain-errors"
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

const legacyInvoiceXML = `<?xml version="1.0" encoding="UTF-8"?>
<Invoice xmlns="urn:oasis:names:specification:ubl:schema:xsd:Invoice-2"
	xmlns:cac="urn:oasis:names:specification:ubl:schema:xsd:CommonAggregateComponents-2"
	xmlns:cbc="urn:oasis:names:specification:ubl:schema:xsd:CommonBasicComponents-2">
	<cbc:ID>F001-2</cbc:ID>
	<cac:AccountingSupplierParty>
		<cbc:CustomerAssignedAccountID>20123456789</cbc:CustomerAssignedAccountID>
	</cac:AccountingSupplierParty>
</Invoice>`

const voidedXML = `<?xml version="1.0" encoding="UTF-8"?>
<VoidedDocuments xmlns="urn:sunat:names:specification:ubl:peru:schema:xsd:VoidedDocuments-1"
	xmlns:cac="urn:oasis:names:specification:ubl:schema:xsd:CommonAggregateComponents-2"
	xmlns:cbc="urn:oasis:names:specification:ubl:schema:xsd:CommonBasicComponents-2"
	xmlns:sac="urn:sunat:names:specification:ubl:peru:schema:xsd:SunatAggregateComponents-1">
	<cbc:ID>RA-20200328-1</cbc:ID>
	<cac:AccountingSupplierParty>
		<cac:Party>
			<cac:PartyIdentification>
				<cbc:ID>20123456789</cbc:ID>
			</cac:PartyIdentification>
		</cac:Party>
	</cac:AccountingSupplierParty>
	<sac:VoidedDocumentsLine>
		<cbc:DocumentTypeCode>01</cbc:DocumentTypeCode>
	</sac:VoidedDocumentsLine>
</VoidedDocuments>`

const perceptionXML = `<?xml version="1.0" encoding="UTF-8"?>
<Perception xmlns="urn:sunat:names:specification:ubl:peru:schema:xsd:Perception-1"
	xmlns:cac="urn:oasis:names:specification:ubl:schema:xsd:CommonAggregateComponents-2"
	xmlns:cbc="urn:oasis:names:specification:ubl:schema:xsd:CommonBasicComponents-2">
	<cbc:ID>P001-1</cbc:ID>
	<cac:AgentParty>
		<cac:PartyIdentification>
			<cbc:ID>20123456789</cbc:ID>
		</cac:PartyIdentification>
	</cac:AgentParty>
</Perception>`

type ExtractSuite struct {
	suite.Suite
}

func TestExtractSuite(t *testing.T) {
	suite.Run(t, new(ExtractSuite))
}

func (s *ExtractSuite) TestExtract() {
	s.Run("invoice", func() {
		content, err := ubl.Extract([]byte(invoiceXML))
		s.Require().NoError(err)
		s.Equal(ubl.KindInvoice, content.Kind)
		s.Equal("20123456789", content.RUC)
		s.Equal("F001-1", content.DocumentID)
	})

	s.Run("legacy supplier layout", func() {
		content, err := ubl.Extract([]byte(legacyInvoiceXML))
		s.Require().NoError(err)
		s.Equal("20123456789", content.RUC)
	})

	s.Run("voided documents carry the line type", func() {
		content, err := ubl.Extract([]byte(voidedXML))
		s.Require().NoError(err)
		s.Equal(ubl.KindVoidedDocuments, content.Kind)
		s.Equal("01", content.VoidedLineType)
		s.Equal("RA-20200328-1", content.DocumentID)
	})

	s.Run("perception uses the agent party", func() {
		content, err := ubl.Extract([]byte(perceptionXML))
		s.Require().NoError(err)
		s.Equal(ubl.KindPerception, content.Kind)
		s.Equal("20123456789", content.RUC)
	})

	s.Run("unsupported root element", func() {
		_, err := ubl.Extract([]byte(`<Quotation><ID>Q-1</ID></Quotation>`))
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeInvalidInput))
	})

	s.Run("broken XML", func() {
		_, err := ubl.Extract([]byte(`<Invoice><unclosed`))
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
	})
}

func (s *ExtractSuite) TestFileName() {
	s.Equal("20123456789-01-F001-1.xml", ubl.FileName(ubl.KindInvoice, "20123456789", "F001-1"))
	s.Equal("20123456789-07-FC01-2.xml", ubl.FileName(ubl.KindCreditNote, "20123456789", "FC01-2"))
	s.Equal("20123456789-RA-20200328-1.xml", ubl.FileName(ubl.KindVoidedDocuments, "20123456789", "RA-20200328-1"))
	s.Equal("20123456789-RC-20200328-1.xml", ubl.FileName(ubl.KindSummaryDocuments, "20123456789", "RC-20200328-1"))
}

type SignSuite struct {
	suite.Suite

	key *keys.ResolvedKey
}

func TestSignSuite(t *testing.T) {
	suite.Run(t, new(SignSuite))
}

func (s *SignSuite) SetupSuite() {
	rsaKey, err := rsa.GenerateKey(rand.Reader, 2048)
	s.Require().NoError(err)
	cert, err := keys.GenerateSelfSignedCertificate(rsaKey, "sign-test")
	s.Require().NoError(err)
	kid, err := keys.KeyID(rsaKey.Public())
	s.Require().NoError(err)
	s.key = &keys.ResolvedKey{
		Kid:         kid,
		Use:         keys.UseSig,
		Type:        "RSA",
		Algorithm:   keys.AlgRS256,
		Status:      keys.StatusActive,
		PrivateKey:  rsaKey,
		PublicKey:   rsaKey.Public(),
		Certificate: cert,
	}
}

func (s *SignSuite) TestSign() {
	signer := ubl.NewSigner()

	s.Run("signature lands in the extension slot", func() {
		signed, didSign, err := signer.Sign([]byte(invoiceXML), s.key)
		s.Require().NoError(err)
		s.True(didSign)

		doc := etree.NewDocument()
		s.Require().NoError(doc.ReadFromBytes(signed))
		root := doc.Root()

		var signature *etree.Element
		for _, ext := range root.ChildElements() {
			if ext.Tag != "UBLExtensions" {
				continue
			}
			for _, e := range ext.ChildElements() {
				for _, c := range e.ChildElements() {
					if c.Tag == "ExtensionContent" {
						for _, sig := range c.ChildElements() {
							if sig.Tag == "Signature" {
								signature = sig
							}
						}
					}
				}
			}
		}
		s.Require().NotNil(signature, "signature not found in UBLExtensions")
	})

	s.Run("already signed documents pass through", func() {
		signed, _, err := signer.Sign([]byte(invoiceXML), s.key)
		s.Require().NoError(err)

		again, didSign, err := signer.Sign(signed, s.key)
		s.Require().NoError(err)
		s.False(didSign)
		s.Equal(signed, again)
	})
}

func (s *SignSuite) TestZipRoundTrip() {
	name := ubl.FileName(ubl.KindInvoice, "20123456789", "F001-1")
	zipped, err := ubl.Zip(name, []byte(invoiceXML))
	s.Require().NoError(err)

	gotName, content, err := ubl.UnzipFirstXML(zipped)
	s.Require().NoError(err)
	s.Equal(name, gotName)
	s.Equal([]byte(invoiceXML), content)
}
