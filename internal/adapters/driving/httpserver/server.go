package httpserver

import (
	"errors"
	"fmt"
	"html"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	samlsso "github.com/kstyle2198/saml-sso"
	"github.com/kstyle2198/saml-sso/internal/core/domain"
	"github.com/kstyle2198/saml-sso/internal/core/ports"
)

const defaultReturnTo = "/dashboard"

// Server is the HTTP driving adapter. It orchestrates the SSO state
// machine over the SAML service, the response validator, and the
// session store.
type Server struct {
	cfg       *samlsso.TrustConfig
	svc       *samlsso.Service
	validator *samlsso.Validator
	sessions  ports.SessionStore
	metrics   ports.MetricsRecorder
	logger    *zap.Logger

	corsOrigins []string
}

// ServerOption configures a Server.
type ServerOption func(*Server)

// WithLogger sets the server logger.
func WithLogger(logger *zap.Logger) ServerOption {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithMetrics sets the metrics recorder.
func WithMetrics(metrics ports.MetricsRecorder) ServerOption {
	return func(s *Server) {
		s.metrics = metrics
	}
}

// WithCORSOrigins sets the allowed CORS origins.
func WithCORSOrigins(origins []string) ServerOption {
	return func(s *Server) {
		s.corsOrigins = origins
	}
}

// NewServer creates the HTTP adapter over the given components.
func NewServer(cfg *samlsso.TrustConfig, svc *samlsso.Service, validator *samlsso.Validator, sessions ports.SessionStore, opts ...ServerOption) *Server {
	s := &Server{
		cfg:       cfg,
		svc:       svc,
		validator: validator,
		sessions:  sessions,
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Routes builds the chi router with all endpoints mounted.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.logRequests)
	r.Use(middleware.Recoverer)

	if len(s.corsOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins:   s.corsOrigins,
			AllowedMethods:   []string{http.MethodGet, http.MethodPost},
			AllowCredentials: true,
		}))
	}

	r.Get("/", s.handleHome)
	r.Get("/metadata", s.handleMetadata)
	r.Get("/sso/login", s.handleLogin)
	r.Post("/sso/acs", s.handleACS)
	r.Get("/sso/logout", s.handleLogout)
	r.Get("/dashboard", s.handleDashboard)
	r.Get("/healthz", s.handleHealthz)
	r.Handle("/metrics", promhttp.Handler())

	return r
}

// logRequests logs each request with method, path, status, and duration.
func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Info("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("duration", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())))
	})
}

func (s *Server) handleHome(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	fmt.Fprint(w, `<!DOCTYPE html>
<html>
<head><title>SAML Service Provider</title></head>
<body>
<h1>SAML Service Provider</h1>
<p><a href="/sso/login?return_to=/dashboard">Log in</a></p>
</body>
</html>`)
}

func (s *Server) handleMetadata(w http.ResponseWriter, r *http.Request) {
	metadata, err := s.svc.Metadata()
	if err != nil {
		s.internalError(w, r, "render metadata", err)
		return
	}
	w.Header().Set("Content-Type", "application/xml")
	w.Write(metadata)
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	returnTo := r.URL.Query().Get("return_to")
	if returnTo == "" {
		returnTo = defaultReturnTo
	}
	if !isRelativePath(returnTo) {
		http.Error(w, "invalid return_to", http.StatusBadRequest)
		return
	}

	redirectURL, err := s.svc.LoginRedirect(returnTo)
	if err != nil {
		s.internalError(w, r, "build login redirect", err)
		return
	}

	http.Redirect(w, r, redirectURL.String(), http.StatusFound)
}

func (s *Server) handleACS(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "invalid form data", http.StatusBadRequest)
		return
	}
	samlResponse := r.PostFormValue("SAMLResponse")
	if samlResponse == "" {
		http.Error(w, "missing SAMLResponse", http.StatusBadRequest)
		return
	}

	info, err := s.validator.Validate(samlResponse)
	if err != nil {
		s.authFailure(w, r, err)
		return
	}

	token, err := s.sessions.Create(&domain.Session{
		Subject:      info.NameID,
		Attributes:   info.Attributes,
		IdPEntityID:  info.Issuer,
		NameIDFormat: info.NameIDFormat,
		SessionIndex: info.SessionIndex,
	})
	if err != nil {
		s.recordAuth(domain.ErrCodeTokenGeneration.String())
		s.internalError(w, r, "create session", err)
		return
	}

	s.recordAuth("success")
	if s.metrics != nil {
		s.metrics.RecordSessionCreated()
	}
	s.logger.Info("authentication succeeded",
		zap.String("subject", info.NameID),
		zap.String("issuer", info.Issuer))

	s.setSessionCookie(w, token)

	returnTo := r.PostFormValue("RelayState")
	if !isRelativePath(returnTo) {
		returnTo = defaultReturnTo
	}
	http.Redirect(w, r, returnTo, http.StatusFound)
}

func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	session, ok := s.currentSession(r)
	if s.metrics != nil {
		s.metrics.RecordSessionValidation(ok)
	}
	if !ok {
		http.Redirect(w, r, "/sso/login", http.StatusFound)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	fmt.Fprintf(w, `<!DOCTYPE html>
<html>
<head><title>Dashboard</title></head>
<body>
<h1>Dashboard</h1>
<p>Logged in as %s</p>
<p><a href="/sso/logout">Log out</a></p>
</body>
</html>`, html.EscapeString(session.Subject))
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	cookie, err := r.Cookie(s.cfg.CookieName)
	if err != nil {
		http.Redirect(w, r, "/sso/login", http.StatusFound)
		return
	}

	session, err := s.sessions.Get(cookie.Value)
	if err != nil {
		s.clearSessionCookie(w)
		http.Redirect(w, r, "/sso/login", http.StatusFound)
		return
	}

	if err := s.sessions.Delete(cookie.Value); err != nil {
		s.internalError(w, r, "destroy session", err)
		return
	}
	s.clearSessionCookie(w)
	if s.metrics != nil {
		s.metrics.RecordLogout()
	}
	s.logger.Info("session destroyed", zap.String("subject", session.Subject))

	redirectURL, err := s.svc.LogoutRedirect(session)
	if err != nil {
		// No IdP SLO endpoint configured; the local session is gone.
		http.Redirect(w, r, "/", http.StatusFound)
		return
	}
	http.Redirect(w, r, redirectURL.String(), http.StatusFound)
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Write([]byte("ok"))
}

// currentSession resolves the session cookie through the store. Access
// is granted only on a successful lookup, never on cookie presence.
func (s *Server) currentSession(r *http.Request) (*domain.Session, bool) {
	cookie, err := r.Cookie(s.cfg.CookieName)
	if err != nil {
		return nil, false
	}
	session, err := s.sessions.Get(cookie.Value)
	if err != nil {
		return nil, false
	}
	return session, true
}

func (s *Server) setSessionCookie(w http.ResponseWriter, token string) {
	http.SetCookie(w, &http.Cookie{
		Name:     s.cfg.CookieName,
		Value:    token,
		Path:     "/",
		MaxAge:   int(s.cfg.SessionTTL.Seconds()),
		HttpOnly: true,
		Secure:   s.cfg.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
}

func (s *Server) clearSessionCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     s.cfg.CookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   s.cfg.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
}

// authFailure logs the precise validation failure server-side and
// returns a generic body so the browser learns nothing about which
// rejection point fired.
func (s *Server) authFailure(w http.ResponseWriter, r *http.Request, err error) {
	code := domain.ErrCodeServiceError
	var appErr *domain.AppError
	if errors.As(err, &appErr) {
		code = appErr.Code
	}
	s.recordAuth(code.String())
	s.logger.Warn("authentication failed",
		zap.String("code", code.String()),
		zap.Error(err),
		zap.String("request_id", middleware.GetReqID(r.Context())))
	http.Error(w, "authentication failed", code.HTTPStatus())
}

func (s *Server) internalError(w http.ResponseWriter, r *http.Request, msg string, err error) {
	s.logger.Error(msg,
		zap.Error(err),
		zap.String("request_id", middleware.GetReqID(r.Context())))
	http.Error(w, "internal server error", http.StatusInternalServerError)
}

func (s *Server) recordAuth(code string) {
	if s.metrics != nil {
		s.metrics.RecordAuthAttempt(code)
	}
}

// isRelativePath reports whether p is a same-origin relative path,
// rejecting scheme-relative ("//host") and absolute URLs so redirect
// targets cannot leave the SP.
func isRelativePath(p string) bool {
	if p == "" || p[0] != '/' {
		return false
	}
	if len(p) > 1 && (p[1] == '/' || p[1] == '\\') {
		return false
	}
	return true
}
