package signature

import (
	"errors"

	"github.com/beevik/etree"

	"github.com/kstyle2198/saml-sso/internal/core/ports"
)

// PermissiveVerifier extracts the assertion without checking signatures.
// It backs non-strict mode and tests only; never wire it into a strict
// deployment.
type PermissiveVerifier struct{}

// NewPermissiveVerifier creates a new PermissiveVerifier.
func NewPermissiveVerifier() *PermissiveVerifier {
	return &PermissiveVerifier{}
}

// VerifyResponse returns the assertion bytes without signature
// verification.
func (v *PermissiveVerifier) VerifyResponse(response []byte) ([]byte, error) {
	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(response); err != nil {
		return nil, err
	}
	root := doc.Root()
	if root == nil {
		return nil, errors.New("empty XML document")
	}

	assertionEl := root.FindElement("//Assertion")
	if assertionEl == nil {
		return nil, errors.New("response contains no assertion")
	}
	return serializeElement(assertionEl)
}

// NoopSigner is a pass-through signer for development/testing.
// It returns the input unchanged without signing.
type NoopSigner struct{}

// NewNoopSigner creates a new NoopSigner.
func NewNoopSigner() *NoopSigner {
	return &NoopSigner{}
}

// Sign returns the input unchanged without signing.
func (s *NoopSigner) Sign(data []byte) ([]byte, error) {
	return data, nil
}

// Ensure implementations satisfy interfaces
var _ ports.ResponseVerifier = (*PermissiveVerifier)(nil)
var _ ports.MetadataSigner = (*NoopSigner)(nil)
