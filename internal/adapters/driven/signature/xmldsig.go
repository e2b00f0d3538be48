package signature

import (
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"

	"github.com/beevik/etree"
	dsig "github.com/russellhaering/goxmldsig"
	"github.com/russellhaering/goxmldsig/etreeutils"
	"go.uber.org/zap"

	"github.com/kstyle2198/saml-sso/internal/core/ports"
)

// ErrNoSignature is returned when neither the Response nor the Assertion
// carries a signature.
var ErrNoSignature = errors.New("neither response nor assertion is signed")

// XMLDsigVerifier verifies enveloped XML signatures on SAML responses
// using goxmldsig. A response passes when the signature over the Response
// element or over the Assertion element validates against one of the
// trusted certificates.
type XMLDsigVerifier struct {
	certStore dsig.X509CertificateStore
	logger    *zap.Logger
}

// NewXMLDsigVerifier creates a verifier with a single trust anchor
// certificate, typically the IdP signing certificate.
func NewXMLDsigVerifier(cert *x509.Certificate) *XMLDsigVerifier {
	return NewXMLDsigVerifierWithCerts([]*x509.Certificate{cert})
}

// NewXMLDsigVerifierWithCerts creates a verifier with multiple trust
// anchor certificates. This supports certificate rollover scenarios.
func NewXMLDsigVerifierWithCerts(certs []*x509.Certificate) *XMLDsigVerifier {
	return &XMLDsigVerifier{
		certStore: &dsig.MemoryX509CertificateStore{
			Roots: certs,
		},
	}
}

// WithLogger attaches a logger for verification events and returns the
// verifier for chaining.
func (v *XMLDsigVerifier) WithLogger(logger *zap.Logger) *XMLDsigVerifier {
	v.logger = logger
	return v
}

// VerifyResponse checks the enveloped signature over the Response element
// or, when the response envelope is unsigned, over the Assertion element.
// On success it returns the canonical bytes of the validated Assertion;
// identity must be extracted from those bytes only, which defeats
// signature wrapping.
func (v *XMLDsigVerifier) VerifyResponse(response []byte) ([]byte, error) {
	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(response); err != nil {
		return nil, fmt.Errorf("parse response XML: %w", err)
	}
	root := doc.Root()
	if root == nil {
		return nil, errors.New("empty XML document")
	}

	if childByTag(root, "Signature") != nil {
		validated, err := v.validateElement(root)
		if err != nil {
			return nil, fmt.Errorf("response signature: %w", err)
		}
		assertionEl := validated.FindElement("//Assertion")
		if assertionEl == nil {
			return nil, errors.New("signed response contains no assertion")
		}
		return serializeElement(assertionEl)
	}

	assertionEl := childByTag(root, "Assertion")
	if assertionEl == nil {
		return nil, errors.New("response contains no assertion")
	}
	if childByTag(assertionEl, "Signature") == nil {
		return nil, ErrNoSignature
	}

	validated, err := v.validateElement(assertionEl)
	if err != nil {
		return nil, fmt.Errorf("assertion signature: %w", err)
	}
	if v.logger != nil {
		v.logger.Debug("assertion signature verified")
	}
	return serializeElement(validated)
}

// validateElement validates the enveloped signature on el. The element is
// detached with its namespace context intact so that canonicalization
// sees the same bytes the signer produced.
func (v *XMLDsigVerifier) validateElement(el *etree.Element) (*etree.Element, error) {
	ctx, err := etreeutils.NSBuildParentContext(el)
	if err != nil {
		return nil, err
	}
	ctx, err = ctx.SubContext(el)
	if err != nil {
		return nil, err
	}
	detached, err := etreeutils.NSDetatch(ctx, el)
	if err != nil {
		return nil, err
	}

	validationContext := dsig.NewDefaultValidationContext(v.certStore)
	validationContext.IdAttribute = "ID"

	return validationContext.Validate(detached)
}

// childByTag returns the first direct child with the given local tag,
// ignoring namespace prefixes.
func childByTag(parent *etree.Element, tag string) *etree.Element {
	for _, child := range parent.ChildElements() {
		if child.Tag == tag {
			return child
		}
	}
	return nil
}

func serializeElement(el *etree.Element) ([]byte, error) {
	doc := etree.NewDocument()
	doc.SetRoot(el.Copy())
	out, err := doc.WriteToBytes()
	if err != nil {
		return nil, fmt.Errorf("serialize validated element: %w", err)
	}
	return out, nil
}

// XMLDsigSigner signs XML documents using goxmldsig.
// It creates enveloped signatures with the provided key pair. It is used
// for publishing signed SP metadata and by the test IdP fixture.
type XMLDsigSigner struct {
	privateKey  *rsa.PrivateKey
	certificate *x509.Certificate
}

// NewXMLDsigSigner creates a signer with the given key pair.
func NewXMLDsigSigner(privateKey *rsa.PrivateKey, certificate *x509.Certificate) *XMLDsigSigner {
	return &XMLDsigSigner{
		privateKey:  privateKey,
		certificate: certificate,
	}
}

// Sign adds an enveloped XML signature to the document root and returns
// the signed bytes.
func (s *XMLDsigSigner) Sign(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return nil, errors.New("empty document")
	}

	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(data); err != nil {
		return nil, fmt.Errorf("parse XML: %w", err)
	}
	root := doc.Root()
	if root == nil {
		return nil, errors.New("empty XML document")
	}

	signedRoot, err := s.SignElement(root)
	if err != nil {
		return nil, err
	}

	doc.SetRoot(signedRoot)
	signedBytes, err := doc.WriteToBytes()
	if err != nil {
		return nil, fmt.Errorf("serialize signed XML: %w", err)
	}
	return signedBytes, nil
}

// SignElement adds an enveloped signature to the given element and
// returns the signed element.
func (s *XMLDsigSigner) SignElement(el *etree.Element) (*etree.Element, error) {
	tlsCert := tls.Certificate{
		Certificate: [][]byte{s.certificate.Raw},
		PrivateKey:  s.privateKey,
	}
	keyStore := dsig.TLSCertKeyStore(tlsCert)

	signingContext := dsig.NewDefaultSigningContext(keyStore)
	signingContext.Canonicalizer = dsig.MakeC14N10ExclusiveCanonicalizerWithPrefixList("")

	signedEl, err := signingContext.SignEnveloped(el)
	if err != nil {
		return nil, fmt.Errorf("sign XML: %w", err)
	}
	return signedEl, nil
}

// Ensure implementations satisfy interfaces
var _ ports.ResponseVerifier = (*XMLDsigVerifier)(nil)
var _ ports.MetadataSigner = (*XMLDsigSigner)(nil)
