// Package idp provides a signing SAML Identity Provider fixture for
// tests. It mints base64-encoded SAML Responses with controllable
// defects (unsigned, tampered signature, expired window, wrong audience
// or destination, missing NameID) using the same goxmldsig library the
// production verifier uses, so tests exercise the full signature path.
package idp

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/base64"
	"encoding/pem"
	"fmt"
	"math/big"
	"strings"
	"testing"
	"time"

	"github.com/beevik/etree"
	"github.com/google/uuid"
	dsig "github.com/russellhaering/goxmldsig"
)

const (
	samlNS  = "urn:oasis:names:tc:SAML:2.0:assertion"
	samlpNS = "urn:oasis:names:tc:SAML:2.0:protocol"

	statusSuccess   = "urn:oasis:names:tc:SAML:2.0:status:Success"
	nameIDFormat    = "urn:oasis:names:tc:SAML:1.1:nameid-format:emailAddress"
	bearerMethod    = "urn:oasis:names:tc:SAML:2.0:cm:bearer"
	passwordContext = "urn:oasis:names:tc:SAML:2.0:ac:classes:PasswordProtectedTransport"
)

// TestIdP mints signed SAML Responses for tests.
type TestIdP struct {
	t    testing.TB
	key  *rsa.PrivateKey
	cert *x509.Certificate

	EntityID string
}

// New creates a test IdP with a fresh self-signed signing certificate.
func New(t testing.TB) *TestIdP {
	t.Helper()

	key, cert, err := generateSelfSignedCert()
	if err != nil {
		t.Fatalf("failed to generate IdP certificate: %v", err)
	}

	return &TestIdP{
		t:        t,
		key:      key,
		cert:     cert,
		EntityID: "https://idp.example.org/metadata",
	}
}

// Certificate returns the IdP signing certificate for verifier setup.
func (idp *TestIdP) Certificate() *x509.Certificate {
	return idp.cert
}

// CertificatePEM returns the IdP certificate in PEM format, for
// configuring SPs that need to trust the IdP.
func (idp *TestIdP) CertificatePEM() []byte {
	return pem.EncodeToMemory(&pem.Block{
		Type:  "CERTIFICATE",
		Bytes: idp.cert.Raw,
	})
}

// ResponseOpts controls the shape of a minted Response. Zero values
// produce a well-formed, signed, currently valid response.
type ResponseOpts struct {
	Destination  string
	Audience     string
	InResponseTo string
	NameID       string
	SessionIndex string
	Attributes   map[string][]string

	// StatusCode overrides the Success status when nonempty.
	StatusCode string

	// NotBefore/NotOnOrAfter override the default window of
	// [now-1m, now+5m] when nonzero.
	NotBefore    time.Time
	NotOnOrAfter time.Time

	// OmitNameID drops the NameID element entirely.
	OmitNameID bool

	// Unsigned skips signing altogether.
	Unsigned bool

	// TamperSignature corrupts the SignatureValue after signing.
	TamperSignature bool

	// SignResponse signs the Response element instead of the Assertion.
	SignResponse bool
}

// MakeResponse mints a SAML Response and returns it base64-encoded,
// ready for use as a SAMLResponse form value.
func (idp *TestIdP) MakeResponse(opts ResponseOpts) string {
	idp.t.Helper()

	raw := idp.makeResponseXML(opts)
	return base64.StdEncoding.EncodeToString(raw)
}

// MakeResponseXML mints a SAML Response and returns the raw XML.
func (idp *TestIdP) MakeResponseXML(opts ResponseOpts) []byte {
	idp.t.Helper()
	return idp.makeResponseXML(opts)
}

func (idp *TestIdP) makeResponseXML(opts ResponseOpts) []byte {
	now := time.Now().UTC()
	notBefore := now.Add(-time.Minute)
	if !opts.NotBefore.IsZero() {
		notBefore = opts.NotBefore.UTC()
	}
	notOnOrAfter := now.Add(5 * time.Minute)
	if !opts.NotOnOrAfter.IsZero() {
		notOnOrAfter = opts.NotOnOrAfter.UTC()
	}
	status := statusSuccess
	if opts.StatusCode != "" {
		status = opts.StatusCode
	}

	response := etree.NewElement("samlp:Response")
	response.CreateAttr("xmlns:samlp", samlpNS)
	response.CreateAttr("xmlns:saml", samlNS)
	response.CreateAttr("ID", newID())
	response.CreateAttr("Version", "2.0")
	response.CreateAttr("IssueInstant", now.Format(time.RFC3339))
	if opts.Destination != "" {
		response.CreateAttr("Destination", opts.Destination)
	}
	if opts.InResponseTo != "" {
		response.CreateAttr("InResponseTo", opts.InResponseTo)
	}

	issuer := response.CreateElement("saml:Issuer")
	issuer.SetText(idp.EntityID)

	statusEl := response.CreateElement("samlp:Status")
	statusCode := statusEl.CreateElement("samlp:StatusCode")
	statusCode.CreateAttr("Value", status)

	assertion := idp.buildAssertion(opts, now, notBefore, notOnOrAfter)

	if opts.Unsigned {
		response.AddChild(assertion)
	} else if opts.SignResponse {
		response.AddChild(assertion)
		response = idp.signElement(response)
	} else {
		response.AddChild(idp.signElement(assertion))
	}

	if opts.TamperSignature {
		tamperSignature(idp.t, response)
	}

	doc := etree.NewDocument()
	doc.SetRoot(response)
	out, err := doc.WriteToBytes()
	if err != nil {
		idp.t.Fatalf("failed to serialize response: %v", err)
	}
	return out
}

func (idp *TestIdP) buildAssertion(opts ResponseOpts, now, notBefore, notOnOrAfter time.Time) *etree.Element {
	assertion := etree.NewElement("saml:Assertion")
	assertion.CreateAttr("xmlns:saml", samlNS)
	assertion.CreateAttr("ID", newID())
	assertion.CreateAttr("Version", "2.0")
	assertion.CreateAttr("IssueInstant", now.Format(time.RFC3339))

	issuer := assertion.CreateElement("saml:Issuer")
	issuer.SetText(idp.EntityID)

	subject := assertion.CreateElement("saml:Subject")
	if !opts.OmitNameID {
		nameID := subject.CreateElement("saml:NameID")
		nameID.CreateAttr("Format", nameIDFormat)
		nameID.SetText(opts.NameID)
	}
	confirmation := subject.CreateElement("saml:SubjectConfirmation")
	confirmation.CreateAttr("Method", bearerMethod)
	confirmationData := confirmation.CreateElement("saml:SubjectConfirmationData")
	if opts.Destination != "" {
		confirmationData.CreateAttr("Recipient", opts.Destination)
	}
	if opts.InResponseTo != "" {
		confirmationData.CreateAttr("InResponseTo", opts.InResponseTo)
	}
	confirmationData.CreateAttr("NotOnOrAfter", notOnOrAfter.Format(time.RFC3339))

	conditions := assertion.CreateElement("saml:Conditions")
	conditions.CreateAttr("NotBefore", notBefore.Format(time.RFC3339))
	conditions.CreateAttr("NotOnOrAfter", notOnOrAfter.Format(time.RFC3339))
	if opts.Audience != "" {
		restriction := conditions.CreateElement("saml:AudienceRestriction")
		audience := restriction.CreateElement("saml:Audience")
		audience.SetText(opts.Audience)
	}

	authnStatement := assertion.CreateElement("saml:AuthnStatement")
	authnStatement.CreateAttr("AuthnInstant", now.Format(time.RFC3339))
	if opts.SessionIndex != "" {
		authnStatement.CreateAttr("SessionIndex", opts.SessionIndex)
	}
	authnContext := authnStatement.CreateElement("saml:AuthnContext")
	classRef := authnContext.CreateElement("saml:AuthnContextClassRef")
	classRef.SetText(passwordContext)

	if len(opts.Attributes) > 0 {
		statement := assertion.CreateElement("saml:AttributeStatement")
		for name, values := range opts.Attributes {
			attr := statement.CreateElement("saml:Attribute")
			attr.CreateAttr("Name", name)
			for _, value := range values {
				attrValue := attr.CreateElement("saml:AttributeValue")
				attrValue.SetText(value)
			}
		}
	}

	return assertion
}

// signElement returns a copy of the element carrying an enveloped
// RSA-SHA256 signature.
func (idp *TestIdP) signElement(el *etree.Element) *etree.Element {
	idp.t.Helper()

	keyStore := dsig.TLSCertKeyStore(tls.Certificate{
		Certificate: [][]byte{idp.cert.Raw},
		PrivateKey:  idp.key,
		Leaf:        idp.cert,
	})

	ctx := dsig.NewDefaultSigningContext(keyStore)
	ctx.Canonicalizer = dsig.MakeC14N10ExclusiveCanonicalizerWithPrefixList("")

	signed, err := ctx.SignEnveloped(el)
	if err != nil {
		idp.t.Fatalf("failed to sign element: %v", err)
	}
	return signed
}

// tamperSignature flips a character in the first SignatureValue found.
func tamperSignature(t testing.TB, root *etree.Element) {
	t.Helper()

	sigValue := root.FindElement("//SignatureValue")
	if sigValue == nil {
		t.Fatal("no SignatureValue element to tamper with")
	}
	text := sigValue.Text()
	if text == "" {
		t.Fatal("empty SignatureValue")
	}
	replacement := "A"
	if strings.HasPrefix(text, "A") {
		replacement = "B"
	}
	sigValue.SetText(replacement + text[1:])
}

func newID() string {
	return "id-" + uuid.NewString()
}

// GenerateKeyPair returns a fresh RSA key and self-signed certificate,
// for tests that need SP-side key material.
func GenerateKeyPair(t testing.TB) (*rsa.PrivateKey, *x509.Certificate) {
	t.Helper()

	key, cert, err := generateSelfSignedCert()
	if err != nil {
		t.Fatalf("failed to generate key pair: %v", err)
	}
	return key, cert
}

// generateSelfSignedCert creates a self-signed certificate for the test IdP.
func generateSelfSignedCert() (*rsa.PrivateKey, *x509.Certificate, error) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return nil, nil, fmt.Errorf("generate key: %w", err)
	}

	template := x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject: pkix.Name{
			CommonName:   "Test IdP",
			Organization: []string{"Test"},
		},
		NotBefore:             time.Now(),
		NotAfter:              time.Now().Add(24 * time.Hour),
		KeyUsage:              x509.KeyUsageKeyEncipherment | x509.KeyUsageDigitalSignature,
		BasicConstraintsValid: true,
	}

	certDER, err := x509.CreateCertificate(rand.Reader, &template, &template, &key.PublicKey, key)
	if err != nil {
		return nil, nil, fmt.Errorf("create certificate: %w", err)
	}

	cert, err := x509.ParseCertificate(certDER)
	if err != nil {
		return nil, nil, fmt.Errorf("parse certificate: %w", err)
	}

	return key, cert, nil
}
