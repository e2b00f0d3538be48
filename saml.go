package samlsso

import (
	"encoding/base64"
	"encoding/xml"
	"fmt"
	"net/url"
	"time"

	"github.com/crewjam/saml"
	dsig "github.com/russellhaering/goxmldsig"
	"go.uber.org/zap"

	"github.com/kstyle2198/saml-sso/internal/core/domain"
	"github.com/kstyle2198/saml-sso/internal/core/ports"
)

// Service provides the SAML Service Provider operations: metadata
// publishing, AuthnRequest construction, and LogoutRequest construction.
type Service struct {
	cfg      *TrustConfig
	requests ports.RequestStore
	signer   ports.MetadataSigner
	logger   *zap.Logger
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithLogger sets the logger used by the service.
func WithLogger(logger *zap.Logger) ServiceOption {
	return func(s *Service) {
		s.logger = logger
	}
}

// WithMetadataSigner sets the signer applied to published metadata.
func WithMetadataSigner(signer ports.MetadataSigner) ServiceOption {
	return func(s *Service) {
		s.signer = signer
	}
}

// NewService creates a SAML service. The request store records issued
// AuthnRequest IDs for InResponseTo matching at the ACS.
func NewService(cfg *TrustConfig, requests ports.RequestStore, opts ...ServiceOption) *Service {
	s := &Service{
		cfg:      cfg,
		requests: requests,
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// buildServiceProvider creates a crewjam/saml.ServiceProvider from the
// trust configuration.
func (s *Service) buildServiceProvider() *saml.ServiceProvider {
	sp := &saml.ServiceProvider{
		EntityID:       s.cfg.SPEntityID,
		Key:            s.cfg.SPPrivateKey,
		Certificate:    s.cfg.SPCertificate,
		MetadataURL:    *s.cfg.MetadataURL,
		AcsURL:         *s.cfg.ACSURL,
		SloURL:         *s.cfg.SLOURL,
		LogoutBindings: []string{s.cfg.SLOBinding},
		IDPMetadata:    s.idpEntityDescriptor(),
	}
	if s.cfg.StrictValidation {
		sp.SignatureMethod = dsig.RSASHA256SignatureMethod
	}
	return sp
}

// idpEntityDescriptor synthesizes an EntityDescriptor for the configured
// IdP from its endpoints and signing certificates.
func (s *Service) idpEntityDescriptor() *saml.EntityDescriptor {
	ed := &saml.EntityDescriptor{
		EntityID: s.cfg.IdPEntityID,
		IDPSSODescriptors: []saml.IDPSSODescriptor{{
			SingleSignOnServices: []saml.Endpoint{{
				Binding:  s.cfg.IdPSSOBinding,
				Location: s.cfg.IdPSSOURL,
			}},
		}},
	}

	if s.cfg.IdPSLOURL != "" {
		ed.IDPSSODescriptors[0].SingleLogoutServices = []saml.Endpoint{{
			Binding:  saml.HTTPRedirectBinding,
			Location: s.cfg.IdPSLOURL,
		}}
	}

	for _, cert := range s.cfg.IdPCertificates {
		ed.IDPSSODescriptors[0].KeyDescriptors = append(
			ed.IDPSSODescriptors[0].KeyDescriptors,
			saml.KeyDescriptor{
				Use: "signing",
				KeyInfo: saml.KeyInfo{
					X509Data: saml.X509Data{
						X509Certificates: []saml.X509Certificate{{
							Data: base64.StdEncoding.EncodeToString(cert.Raw),
						}},
					},
				},
			},
		)
	}

	return ed
}

// Metadata renders the SP metadata XML. When a metadata signer is
// configured the document carries an enveloped signature.
func (s *Service) Metadata() ([]byte, error) {
	sp := s.buildServiceProvider()
	out, err := xml.MarshalIndent(sp.Metadata(), "", "  ")
	if err != nil {
		return nil, domain.ServiceError("render metadata", err)
	}
	if s.signer != nil {
		if out, err = s.signer.Sign(out); err != nil {
			return nil, domain.ServiceError("sign metadata", err)
		}
	}
	return []byte(xml.Header + string(out)), nil
}

// LoginRedirect builds an AuthnRequest redirect URL for the configured
// IdP. The request ID is recorded in the request store so the matching
// Response can be tied back to it. RelayState is passed through verbatim.
func (s *Service) LoginRedirect(relayState string) (*url.URL, error) {
	if s.cfg.IdPSSOURL == "" {
		return nil, domain.ConfigError("IdP SSO URL is not configured")
	}

	sp := s.buildServiceProvider()

	authReq, err := sp.MakeAuthenticationRequest(s.cfg.IdPSSOURL, s.cfg.IdPSSOBinding, s.cfg.ACSBinding)
	if err != nil {
		return nil, domain.ServiceError("build authentication request", err)
	}

	if err := s.requests.Store(authReq.ID, time.Now().Add(s.cfg.RequestTTL)); err != nil {
		return nil, domain.ServiceError("record request ID", err)
	}

	redirectURL, err := authReq.Redirect(relayState, sp)
	if err != nil {
		return nil, domain.ServiceError("build redirect URL", err)
	}

	s.logger.Debug("issued authentication request",
		zap.String("request_id", authReq.ID),
		zap.String("relay_state", relayState))

	return redirectURL, nil
}

// LogoutRedirect builds a front-channel LogoutRequest redirect URL for
// the IdP SLO endpoint. The request names the subject with the NameID
// format the IdP issued, and carries the recorded session index so the
// IdP terminates only the session established at login.
func (s *Service) LogoutRedirect(session *domain.Session) (*url.URL, error) {
	if s.cfg.IdPSLOURL == "" {
		return nil, domain.ConfigError("IdP SLO URL is not configured")
	}

	sp := s.buildServiceProvider()

	req, err := sp.MakeLogoutRequest(s.cfg.IdPSLOURL, session.Subject)
	if err != nil {
		return nil, domain.ServiceError(fmt.Sprintf("build logout request for %s", s.cfg.IdPSLOURL), err)
	}

	mutated := false
	if session.NameIDFormat != "" {
		req.NameID.Format = session.NameIDFormat
		mutated = true
	}
	if session.SessionIndex != "" {
		req.SessionIndex = &saml.SessionIndex{Value: session.SessionIndex}
		mutated = true
	}
	if mutated && sp.SignatureMethod != "" {
		// The signature from MakeLogoutRequest does not cover fields
		// set after construction, so sign again from scratch.
		req.Signature = nil
		if err := sp.SignLogoutRequest(req); err != nil {
			return nil, domain.ServiceError("sign logout request", err)
		}
	}

	return req.Redirect(""), nil
}
