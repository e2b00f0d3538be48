package httpserver

import (
	"crypto/x509"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/crewjam/saml"
	"github.com/prometheus/client_golang/prometheus"

	samlsso "github.com/kstyle2198/saml-sso"
	"github.com/kstyle2198/saml-sso/internal/adapters/driven/metrics"
	"github.com/kstyle2198/saml-sso/internal/adapters/driven/request"
	"github.com/kstyle2198/saml-sso/internal/adapters/driven/session"
	"github.com/kstyle2198/saml-sso/internal/adapters/driven/signature"
	"github.com/kstyle2198/saml-sso/testfixtures/idp"
)

type testEnv struct {
	trust    *samlsso.TrustConfig
	fake     *idp.TestIdP
	requests *request.InMemoryRequestStore
	sessions *session.MemoryStore
	handler  http.Handler
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	fake := idp.New(t)
	key, cert := idp.GenerateKeyPair(t)
	base := mustURL(t, "https://sp.example.com")

	trust := &samlsso.TrustConfig{
		SPEntityID:  "https://sp.example.com/metadata",
		BaseURL:     base,
		MetadataURL: mustURL(t, "https://sp.example.com/metadata"),
		ACSURL:      mustURL(t, "https://sp.example.com/sso/acs"),
		ACSBinding:  saml.HTTPPostBinding,
		SLOURL:      mustURL(t, "https://sp.example.com/sso/logout"),
		SLOBinding:  saml.HTTPRedirectBinding,

		SPCertificate: cert,
		SPPrivateKey:  key,

		IdPEntityID:     fake.EntityID,
		IdPSSOURL:       "https://idp.example.org/sso",
		IdPSSOBinding:   saml.HTTPRedirectBinding,
		IdPSLOURL:       "https://idp.example.org/slo",
		IdPCertificates: []*x509.Certificate{fake.Certificate()},

		StrictValidation: true,
		SessionTTL:       time.Hour,
		RequestTTL:       10 * time.Minute,
		CookieName:       "session_id",
		CookieSecure:     false,
	}

	requests := request.NewInMemoryRequestStore()
	sessions := session.NewMemoryStore(trust.SessionTTL)
	svc := samlsso.NewService(trust, requests)
	verifier := signature.NewXMLDsigVerifier(fake.Certificate())
	validator := samlsso.NewValidator(trust, verifier, requests)

	recorder := metrics.NewPrometheusMetricsRecorderWithRegistry(prometheus.NewRegistry())
	srv := NewServer(trust, svc, validator, sessions, WithMetrics(recorder))

	return &testEnv{
		trust:    trust,
		fake:     fake,
		requests: requests,
		sessions: sessions,
		handler:  srv.Routes(),
	}
}

func mustURL(t *testing.T, raw string) *url.URL {
	t.Helper()
	u, err := url.Parse(raw)
	if err != nil {
		t.Fatalf("parse URL %q: %v", raw, err)
	}
	return u
}

func (env *testEnv) do(t *testing.T, req *http.Request) *http.Response {
	t.Helper()
	w := httptest.NewRecorder()
	env.handler.ServeHTTP(w, req)
	return w.Result()
}

// postACS submits a SAMLResponse to the ACS and returns the response.
func (env *testEnv) postACS(t *testing.T, samlResponse, relayState string) *http.Response {
	t.Helper()

	form := url.Values{"SAMLResponse": {samlResponse}}
	if relayState != "" {
		form.Set("RelayState", relayState)
	}
	req := httptest.NewRequest(http.MethodPost, "/sso/acs", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return env.do(t, req)
}

// login drives /sso/login and returns the recorded AuthnRequest ID.
func (env *testEnv) login(t *testing.T) string {
	t.Helper()

	resp := env.do(t, httptest.NewRequest(http.MethodGet, "/sso/login?return_to=/dashboard", nil))
	if resp.StatusCode != http.StatusFound {
		t.Fatalf("GET /sso/login status = %d, want 302", resp.StatusCode)
	}

	location := resp.Header.Get("Location")
	if !strings.Contains(location, "SAMLRequest=") {
		t.Fatalf("login redirect %q carries no SAMLRequest", location)
	}
	if !strings.Contains(location, "RelayState=/dashboard") {
		t.Fatalf("login redirect %q does not carry RelayState=/dashboard", location)
	}

	ids := env.requests.GetAll()
	if len(ids) != 1 {
		t.Fatalf("request store holds %d IDs, want 1", len(ids))
	}
	return ids[0]
}

// authenticate performs login + ACS and returns the session cookie.
func (env *testEnv) authenticate(t *testing.T, nameID string) *http.Cookie {
	t.Helper()

	reqID := env.login(t)
	resp := env.postACS(t, env.fake.MakeResponse(idp.ResponseOpts{
		Destination:  env.trust.ACSURL.String(),
		Audience:     env.trust.SPEntityID,
		InResponseTo: reqID,
		NameID:       nameID,
		SessionIndex: "idx-1",
	}), "/dashboard")

	if resp.StatusCode != http.StatusFound {
		t.Fatalf("POST /sso/acs status = %d, want 302", resp.StatusCode)
	}
	if loc := resp.Header.Get("Location"); loc != "/dashboard" {
		t.Fatalf("ACS redirect = %q, want /dashboard", loc)
	}

	for _, c := range resp.Cookies() {
		if c.Name == env.trust.CookieName {
			return c
		}
	}
	t.Fatal("ACS response did not set a session cookie")
	return nil
}

func TestServer_Home(t *testing.T) {
	env := newTestEnv(t)

	resp := env.do(t, httptest.NewRequest(http.MethodGet, "/", nil))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("GET / status = %d, want 200", resp.StatusCode)
	}
}

func TestServer_Metadata(t *testing.T) {
	env := newTestEnv(t)

	resp := env.do(t, httptest.NewRequest(http.MethodGet, "/metadata", nil))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("GET /metadata status = %d, want 200", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "application/xml" {
		t.Errorf("Content-Type = %q, want application/xml", ct)
	}
}

func TestServer_Healthz(t *testing.T) {
	env := newTestEnv(t)

	resp := env.do(t, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("GET /healthz status = %d, want 200", resp.StatusCode)
	}
}

func TestServer_Login_RejectsAbsoluteReturnTo(t *testing.T) {
	env := newTestEnv(t)

	for _, target := range []string{"https://evil.example.com/", "//evil.example.com", "/\\evil"} {
		req := httptest.NewRequest(http.MethodGet,
			"/sso/login?return_to="+url.QueryEscape(target), nil)
		resp := env.do(t, req)
		if resp.StatusCode != http.StatusBadRequest {
			t.Errorf("return_to=%q status = %d, want 400", target, resp.StatusCode)
		}
	}
}

func TestServer_FullSSOFlow(t *testing.T) {
	env := newTestEnv(t)

	cookie := env.authenticate(t, "alice@example.com")

	if !cookie.HttpOnly {
		t.Error("session cookie is not HttpOnly")
	}
	if cookie.SameSite != http.SameSiteLaxMode {
		t.Error("session cookie is not SameSite=Lax")
	}
	if cookie.Value == "alice@example.com" {
		t.Error("session cookie must carry an opaque token, not the subject")
	}

	// Dashboard with the cookie: 200 with the subject identity.
	req := httptest.NewRequest(http.MethodGet, "/dashboard", nil)
	req.AddCookie(cookie)
	resp := env.do(t, req)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("GET /dashboard status = %d, want 200", resp.StatusCode)
	}
	body := readBody(t, resp)
	if !strings.Contains(body, "alice@example.com") {
		t.Errorf("dashboard body does not contain the subject: %s", body)
	}

	// Logout destroys the session and redirects to the IdP SLO URL.
	req = httptest.NewRequest(http.MethodGet, "/sso/logout", nil)
	req.AddCookie(cookie)
	resp = env.do(t, req)
	if resp.StatusCode != http.StatusFound {
		t.Fatalf("GET /sso/logout status = %d, want 302", resp.StatusCode)
	}
	if loc := resp.Header.Get("Location"); !strings.HasPrefix(loc, "https://idp.example.org/slo") {
		t.Errorf("logout redirect = %q, want IdP SLO URL", loc)
	}
	cleared := false
	for _, c := range resp.Cookies() {
		if c.Name == env.trust.CookieName && c.MaxAge < 0 {
			cleared = true
		}
	}
	if !cleared {
		t.Error("logout did not clear the session cookie")
	}

	// The destroyed session no longer grants access.
	req = httptest.NewRequest(http.MethodGet, "/dashboard", nil)
	req.AddCookie(cookie)
	resp = env.do(t, req)
	if resp.StatusCode != http.StatusFound {
		t.Fatalf("GET /dashboard after logout status = %d, want 302", resp.StatusCode)
	}
	if loc := resp.Header.Get("Location"); loc != "/sso/login" {
		t.Errorf("redirect = %q, want /sso/login", loc)
	}
}

func TestServer_Dashboard_NoCookie(t *testing.T) {
	env := newTestEnv(t)

	resp := env.do(t, httptest.NewRequest(http.MethodGet, "/dashboard", nil))
	if resp.StatusCode != http.StatusFound {
		t.Fatalf("status = %d, want 302", resp.StatusCode)
	}
	if loc := resp.Header.Get("Location"); loc != "/sso/login" {
		t.Errorf("redirect = %q, want /sso/login", loc)
	}
}

// Cookie presence alone must never grant access: an unknown token is
// redirected to login.
func TestServer_Dashboard_ForgedCookie(t *testing.T) {
	env := newTestEnv(t)

	req := httptest.NewRequest(http.MethodGet, "/dashboard", nil)
	req.AddCookie(&http.Cookie{Name: env.trust.CookieName, Value: "forged-token"})
	resp := env.do(t, req)
	if resp.StatusCode != http.StatusFound {
		t.Fatalf("status = %d, want 302", resp.StatusCode)
	}
}

func TestServer_ACS_MissingSAMLResponse(t *testing.T) {
	env := newTestEnv(t)

	req := httptest.NewRequest(http.MethodPost, "/sso/acs", strings.NewReader(""))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	resp := env.do(t, req)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
}

func TestServer_ACS_GenericFailureBody(t *testing.T) {
	env := newTestEnv(t)
	reqID := env.login(t)

	resp := env.postACS(t, env.fake.MakeResponse(idp.ResponseOpts{
		Destination:     env.trust.ACSURL.String(),
		Audience:        env.trust.SPEntityID,
		InResponseTo:    reqID,
		NameID:          "alice@example.com",
		TamperSignature: true,
	}), "/dashboard")

	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", resp.StatusCode)
	}

	// The body must not leak which validation step failed.
	body := readBody(t, resp)
	for _, leak := range []string{"signature", "Signature", "destination", "audience", "replay"} {
		if strings.Contains(body, leak) {
			t.Errorf("failure body leaks %q: %s", leak, body)
		}
	}
	for _, c := range resp.Cookies() {
		if c.Name == env.trust.CookieName {
			t.Error("failed authentication must not set a session cookie")
		}
	}
}

func TestServer_ACS_ReplayRejected(t *testing.T) {
	env := newTestEnv(t)
	reqID := env.login(t)

	encoded := env.fake.MakeResponse(idp.ResponseOpts{
		Destination:  env.trust.ACSURL.String(),
		Audience:     env.trust.SPEntityID,
		InResponseTo: reqID,
		NameID:       "alice@example.com",
	})

	if resp := env.postACS(t, encoded, ""); resp.StatusCode != http.StatusFound {
		t.Fatalf("first ACS status = %d, want 302", resp.StatusCode)
	}
	if resp := env.postACS(t, encoded, ""); resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("replayed ACS status = %d, want 401", resp.StatusCode)
	}
}

func TestServer_ACS_AbsoluteRelayStateFallsBack(t *testing.T) {
	env := newTestEnv(t)
	reqID := env.login(t)

	resp := env.postACS(t, env.fake.MakeResponse(idp.ResponseOpts{
		Destination:  env.trust.ACSURL.String(),
		Audience:     env.trust.SPEntityID,
		InResponseTo: reqID,
		NameID:       "alice@example.com",
	}), "https://evil.example.com/phish")

	if resp.StatusCode != http.StatusFound {
		t.Fatalf("status = %d, want 302", resp.StatusCode)
	}
	if loc := resp.Header.Get("Location"); loc != "/dashboard" {
		t.Errorf("redirect = %q, want fallback /dashboard", loc)
	}
}

func TestServer_Logout_NoSession(t *testing.T) {
	env := newTestEnv(t)

	resp := env.do(t, httptest.NewRequest(http.MethodGet, "/sso/logout", nil))
	if resp.StatusCode != http.StatusFound {
		t.Fatalf("status = %d, want 302", resp.StatusCode)
	}
	if loc := resp.Header.Get("Location"); loc != "/sso/login" {
		t.Errorf("redirect = %q, want /sso/login", loc)
	}
}

func TestServer_SessionExpiry(t *testing.T) {
	env := newTestEnv(t)
	cookie := env.authenticate(t, "alice@example.com")

	// Force-expire everything in the store.
	env.sessions.SweepExpired(time.Now().Add(2 * time.Hour))

	req := httptest.NewRequest(http.MethodGet, "/dashboard", nil)
	req.AddCookie(cookie)
	resp := env.do(t, req)
	if resp.StatusCode != http.StatusFound {
		t.Fatalf("status after expiry = %d, want 302", resp.StatusCode)
	}
}

func TestIsRelativePath(t *testing.T) {
	testCases := []struct {
		path string
		want bool
	}{
		{"/dashboard", true},
		{"/a/b?c=d", true},
		{"/", true},
		{"", false},
		{"dashboard", false},
		{"//evil.example.com", false},
		{"/\\evil.example.com", false},
		{"https://evil.example.com", false},
	}

	for _, tc := range testCases {
		if got := isRelativePath(tc.path); got != tc.want {
			t.Errorf("isRelativePath(%q) = %v, want %v", tc.path, got, tc.want)
		}
	}
}

func readBody(t *testing.T, resp *http.Response) string {
	t.Helper()
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return string(body)
}
