package samlsso

import (
	"crypto/rsa"
	"crypto/x509"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/crewjam/saml"
	"github.com/joeshaw/envdecode"

	"github.com/kstyle2198/saml-sso/internal/adapters/driven/signature"
	"github.com/kstyle2198/saml-sso/internal/core/domain"
)

// Config is the environment-driven service configuration. It is the raw
// input; BuildTrustConfig turns it into the validated TrustConfig the
// components operate on.
type Config struct {
	ListenAddr string `env:"SP_LISTEN_ADDR,default=:8000"`
	BaseURL    string `env:"SP_BASE_URL,default=http://localhost:8000"`
	EntityID   string `env:"SP_ENTITY_ID"`

	CertFile string `env:"SP_CERT_FILE,required"`
	KeyFile  string `env:"SP_KEY_FILE,required"`

	IdPEntityID string `env:"IDP_ENTITY_ID,required"`
	IdPSSOURL   string `env:"IDP_SSO_URL,required"`
	IdPSLOURL   string `env:"IDP_SLO_URL"`
	IdPCertFile string `env:"IDP_CERT_FILE,required"`

	StrictValidation bool          `env:"SP_STRICT_VALIDATION,default=true"`
	SignMetadata     bool          `env:"SP_SIGN_METADATA,default=false"`
	SessionTTL       time.Duration `env:"SP_SESSION_TTL,default=8h"`
	RequestTTL       time.Duration `env:"SP_REQUEST_TTL,default=10m"`

	CookieName   string `env:"SP_COOKIE_NAME,default=session_id"`
	CookieSecure bool   `env:"SP_COOKIE_SECURE,default=true"`

	CORSOrigins string `env:"SP_CORS_ORIGINS,default=*"`
}

// LoadConfig populates Config from the environment.
func LoadConfig() (*Config, error) {
	var cfg Config
	if err := envdecode.StrictDecode(&cfg); err != nil {
		return nil, domain.ConfigError(fmt.Sprintf("decode environment: %v", err))
	}
	return &cfg, nil
}

// CORSOriginList splits the configured origins into a slice.
func (c *Config) CORSOriginList() []string {
	var origins []string
	for _, o := range strings.Split(c.CORSOrigins, ",") {
		if o = strings.TrimSpace(o); o != "" {
			origins = append(origins, o)
		}
	}
	return origins
}

// TrustConfig holds the SP and IdP cryptographic identities and endpoints.
// It is immutable after construction and passed explicitly into every
// component that needs it.
type TrustConfig struct {
	SPEntityID  string
	BaseURL     *url.URL
	MetadataURL *url.URL
	ACSURL      *url.URL
	ACSBinding  string
	SLOURL      *url.URL
	SLOBinding  string

	SPCertificate *x509.Certificate
	SPPrivateKey  *rsa.PrivateKey

	IdPEntityID     string
	IdPSSOURL       string
	IdPSSOBinding   string
	IdPSLOURL       string
	IdPCertificates []*x509.Certificate

	StrictValidation bool
	SessionTTL       time.Duration
	RequestTTL       time.Duration
	CookieName       string
	CookieSecure     bool
}

// BuildTrustConfig validates the raw configuration and loads the key
// material. All failures are startup-fatal config errors.
func BuildTrustConfig(cfg *Config) (*TrustConfig, error) {
	base, err := url.Parse(cfg.BaseURL)
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, domain.ConfigError(fmt.Sprintf("invalid base URL %q", cfg.BaseURL))
	}

	if _, err := url.Parse(cfg.IdPSSOURL); err != nil {
		return nil, domain.ConfigError(fmt.Sprintf("invalid IdP SSO URL %q", cfg.IdPSSOURL))
	}

	certs, err := signature.LoadSigningCertificates(cfg.CertFile)
	if err != nil {
		return nil, domain.ConfigError(fmt.Sprintf("load SP certificate: %v", err))
	}
	key, err := signature.LoadPrivateKey(cfg.KeyFile)
	if err != nil {
		return nil, domain.ConfigError(fmt.Sprintf("load SP private key: %v", err))
	}
	if err := verifyKeyMatchesCert(key, certs[0]); err != nil {
		return nil, domain.ConfigError(err.Error())
	}

	idpCerts, err := signature.LoadSigningCertificates(cfg.IdPCertFile)
	if err != nil {
		return nil, domain.ConfigError(fmt.Sprintf("load IdP certificate: %v", err))
	}

	entityID := cfg.EntityID
	if entityID == "" {
		entityID = base.ResolveReference(&url.URL{Path: "/metadata"}).String()
	}

	return &TrustConfig{
		SPEntityID:  entityID,
		BaseURL:     base,
		MetadataURL: base.ResolveReference(&url.URL{Path: "/metadata"}),
		ACSURL:      base.ResolveReference(&url.URL{Path: "/sso/acs"}),
		ACSBinding:  saml.HTTPPostBinding,
		SLOURL:      base.ResolveReference(&url.URL{Path: "/sso/logout"}),
		SLOBinding:  saml.HTTPRedirectBinding,

		SPCertificate: certs[0],
		SPPrivateKey:  key,

		IdPEntityID:     cfg.IdPEntityID,
		IdPSSOURL:       cfg.IdPSSOURL,
		IdPSSOBinding:   saml.HTTPRedirectBinding,
		IdPSLOURL:       cfg.IdPSLOURL,
		IdPCertificates: idpCerts,

		StrictValidation: cfg.StrictValidation,
		SessionTTL:       cfg.SessionTTL,
		RequestTTL:       cfg.RequestTTL,
		CookieName:       cfg.CookieName,
		CookieSecure:     cfg.CookieSecure,
	}, nil
}

// verifyKeyMatchesCert rejects a private key whose public half does not
// match the certificate.
func verifyKeyMatchesCert(key *rsa.PrivateKey, cert *x509.Certificate) error {
	pub, ok := cert.PublicKey.(*rsa.PublicKey)
	if !ok {
		return fmt.Errorf("certificate public key is %T, want RSA", cert.PublicKey)
	}
	if pub.N.Cmp(key.PublicKey.N) != 0 || pub.E != key.PublicKey.E {
		return fmt.Errorf("private key does not match certificate")
	}
	return nil
}
