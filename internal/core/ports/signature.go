package ports

// ResponseVerifier verifies the XML signature on a SAML Response.
// This is a port interface - implementations are adapters.
//
// The interface returns the validated assertion bytes (not just error)
// following goxmldsig practice to prevent signature wrapping attacks:
// callers must extract identity only from the returned bytes.
type ResponseVerifier interface {
	// VerifyResponse checks the enveloped signature over either the
	// Response element or the Assertion element of the given response
	// document and returns the canonical bytes of the validated
	// Assertion. Returns an error when no signature is present or the
	// signature does not verify against the trusted certificates.
	VerifyResponse(response []byte) ([]byte, error)
}

// MetadataSigner signs XML documents for SAML metadata.
// This is a port interface - implementations are adapters.
type MetadataSigner interface {
	// Sign adds an enveloped XML signature to the metadata and returns
	// the signed XML bytes.
	Sign(data []byte) ([]byte, error)
}
