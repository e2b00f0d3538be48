package samlsso

import (
	"encoding/base64"
	"encoding/xml"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/kstyle2198/saml-sso/internal/core/domain"
	"github.com/kstyle2198/saml-sso/internal/core/ports"
)

// ClockSkew is the tolerance applied to the assertion validity window.
const ClockSkew = 180 * time.Second

// Validator checks an IdP Response and extracts the asserted identity.
// Every step is a distinct rejection point with its own error code so
// the caller can log precisely while the browser sees only a generic
// failure.
type Validator struct {
	cfg      *TrustConfig
	verifier ports.ResponseVerifier
	requests ports.RequestStore
	logger   *zap.Logger
	now      func() time.Time
}

// ValidatorOption configures a Validator.
type ValidatorOption func(*Validator)

// WithValidatorLogger sets the logger used by the validator.
func WithValidatorLogger(logger *zap.Logger) ValidatorOption {
	return func(v *Validator) {
		v.logger = logger
	}
}

// WithClock overrides the validator's time source. Tests use this to
// pin the validity window.
func WithClock(now func() time.Time) ValidatorOption {
	return func(v *Validator) {
		v.now = now
	}
}

// NewValidator creates a response validator. The verifier checks the
// XML signature and hands back the assertion it vouches for; the
// request store supplies the pending AuthnRequest IDs.
func NewValidator(cfg *TrustConfig, verifier ports.ResponseVerifier, requests ports.RequestStore, opts ...ValidatorOption) *Validator {
	v := &Validator{
		cfg:      cfg,
		verifier: verifier,
		requests: requests,
		logger:   zap.NewNop(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Validate runs the full pipeline over a base64-encoded SAMLResponse
// form value. On success it returns the extracted assertion info; any
// failure is terminal for this response and leaves no residual state.
func (v *Validator) Validate(samlResponse string) (*domain.AssertionInfo, error) {
	raw, err := base64.StdEncoding.DecodeString(samlResponse)
	if err != nil {
		return nil, domain.ValidationError(domain.ErrCodeMalformedResponse, "decode SAMLResponse", err)
	}

	var resp responseEnvelope
	if err := xml.Unmarshal(raw, &resp); err != nil {
		return nil, domain.ValidationError(domain.ErrCodeMalformedResponse, "parse response XML", err)
	}

	assertionXML, err := v.verifier.VerifyResponse(raw)
	if err != nil {
		if v.cfg.StrictValidation {
			return nil, domain.ValidationError(domain.ErrCodeSignatureInvalid, "verify response signature", err)
		}
		return nil, domain.ValidationError(domain.ErrCodeMalformedResponse, "extract assertion", err)
	}

	if resp.Destination != v.cfg.ACSURL.String() {
		if resp.Destination != "" || v.cfg.StrictValidation {
			return nil, domain.ValidationError(domain.ErrCodeDestinationMismatch,
				fmt.Sprintf("destination %q does not match ACS URL %q", resp.Destination, v.cfg.ACSURL.String()), nil)
		}
	}

	if code := resp.Status.StatusCode.Value; code != statusSuccess {
		return nil, domain.ValidationError(domain.ErrCodeStatusNotSuccess,
			fmt.Sprintf("IdP returned status %q", code), nil)
	}

	// The matched pending ID is consumed here, before the remaining
	// checks run. A response that fails later cannot be resubmitted.
	if err := v.checkInResponseTo(resp.InResponseTo); err != nil {
		return nil, err
	}

	var assertion assertionEnvelope
	if err := xml.Unmarshal(assertionXML, &assertion); err != nil {
		return nil, domain.ValidationError(domain.ErrCodeMalformedResponse, "parse assertion XML", err)
	}

	notBefore, notOnOrAfter, err := v.checkConditions(&assertion)
	if err != nil {
		return nil, err
	}

	if err := v.checkAudience(&assertion); err != nil {
		return nil, err
	}

	nameID := assertion.Subject.NameID.Value
	if nameID == "" {
		return nil, domain.ValidationError(domain.ErrCodeMissingNameID, "assertion has no NameID", nil)
	}

	return &domain.AssertionInfo{
		NameID:       nameID,
		NameIDFormat: assertion.Subject.NameID.Format,
		Issuer:       assertion.Issuer,
		Audience:     v.cfg.SPEntityID,
		SessionIndex: assertion.sessionIndex(),
		NotBefore:    notBefore,
		NotOnOrAfter: notOnOrAfter,
		InResponseTo: resp.InResponseTo,
		Attributes:   assertion.attributes(),
	}, nil
}

// checkInResponseTo matches the response against a pending request ID
// and consumes it. Unsolicited responses are accepted only in
// non-strict mode.
func (v *Validator) checkInResponseTo(inResponseTo string) error {
	if inResponseTo == "" {
		if v.cfg.StrictValidation {
			return domain.ValidationError(domain.ErrCodeReplayOrUnsolicited,
				"response carries no InResponseTo", nil)
		}
		return nil
	}

	if !v.requests.Valid(inResponseTo) {
		if v.cfg.StrictValidation {
			return domain.ValidationError(domain.ErrCodeReplayOrUnsolicited,
				fmt.Sprintf("no pending request %q", inResponseTo), nil)
		}
		v.logger.Warn("accepting response with unknown InResponseTo",
			zap.String("in_response_to", inResponseTo))
	}
	return nil
}

// checkConditions verifies the validity window with clock-skew
// tolerance and returns the parsed bounds.
func (v *Validator) checkConditions(assertion *assertionEnvelope) (time.Time, time.Time, error) {
	var notBefore, notOnOrAfter time.Time
	now := v.now()

	if s := assertion.Conditions.NotBefore; s != "" {
		t, err := parseSAMLInstant(s)
		if err != nil {
			return notBefore, notOnOrAfter,
				domain.ValidationError(domain.ErrCodeMalformedResponse, "parse NotBefore", err)
		}
		notBefore = t
		if now.Add(ClockSkew).Before(t) {
			return notBefore, notOnOrAfter,
				domain.ValidationError(domain.ErrCodeAssertionNotYetValid,
					fmt.Sprintf("assertion not valid before %s", t.Format(time.RFC3339)), nil)
		}
	}

	if s := assertion.Conditions.NotOnOrAfter; s != "" {
		t, err := parseSAMLInstant(s)
		if err != nil {
			return notBefore, notOnOrAfter,
				domain.ValidationError(domain.ErrCodeMalformedResponse, "parse NotOnOrAfter", err)
		}
		notOnOrAfter = t
		if !now.Add(-ClockSkew).Before(t) {
			return notBefore, notOnOrAfter,
				domain.ValidationError(domain.ErrCodeAssertionExpired,
					fmt.Sprintf("assertion expired at %s", t.Format(time.RFC3339)), nil)
		}
	}

	return notBefore, notOnOrAfter, nil
}

// checkAudience requires an AudienceRestriction naming this SP.
func (v *Validator) checkAudience(assertion *assertionEnvelope) error {
	audiences := assertion.audiences()
	if len(audiences) == 0 {
		if v.cfg.StrictValidation {
			return domain.ValidationError(domain.ErrCodeAudienceMismatch,
				"assertion carries no audience restriction", nil)
		}
		return nil
	}

	for _, aud := range audiences {
		if aud == v.cfg.SPEntityID {
			return nil
		}
	}
	return domain.ValidationError(domain.ErrCodeAudienceMismatch,
		fmt.Sprintf("audience %v does not include %q", audiences, v.cfg.SPEntityID), nil)
}
