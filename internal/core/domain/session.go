package domain

import "time"

// Session holds authenticated user information.
// This is the core domain model - it has no external dependencies.
// Sessions are keyed by an opaque server-generated token; the subject
// identifier is never used as a key and never leaves the process in a
// cookie.
type Session struct {
	// Subject is the SAML NameID (user identifier).
	Subject string

	// Attributes contains SAML attributes from the assertion.
	// Values keep the order they appeared in the AttributeStatement.
	Attributes map[string][]string

	// IdPEntityID identifies which IdP authenticated the user.
	IdPEntityID string

	// NameIDFormat is the format of the NameID (needed for LogoutRequest).
	NameIDFormat string

	// SessionIndex is the IdP session index (needed for LogoutRequest).
	SessionIndex string

	// IssuedAt is when the session was created.
	IssuedAt time.Time

	// ExpiresAt is when the session expires.
	ExpiresAt time.Time
}

// Expired reports whether the session is past its expiry at the given time.
func (s *Session) Expired(now time.Time) bool {
	return !s.ExpiresAt.IsZero() && !now.Before(s.ExpiresAt)
}

// AssertionInfo is the validated identity extracted from an IdP response.
// It is transient: produced by the response validator, consumed by the
// controller to create a Session, never stored raw.
type AssertionInfo struct {
	// NameID is the asserted subject identifier.
	NameID string

	// NameIDFormat is the declared format of the NameID.
	NameIDFormat string

	// Issuer is the IdP entity ID that issued the assertion.
	Issuer string

	// Audience is the intended SP entity ID from the AudienceRestriction.
	Audience string

	// SessionIndex links the assertion to the IdP-side session for SLO.
	SessionIndex string

	// NotBefore and NotOnOrAfter bound the assertion validity window.
	NotBefore    time.Time
	NotOnOrAfter time.Time

	// InResponseTo is the AuthnRequest ID this response answers, if any.
	InResponseTo string

	// Attributes holds the attribute statements, multi-valued, in
	// document order.
	Attributes map[string][]string
}
