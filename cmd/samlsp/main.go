package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	samlsso "github.com/kstyle2198/saml-sso"
	"github.com/kstyle2198/saml-sso/internal/adapters/driven/metrics"
	"github.com/kstyle2198/saml-sso/internal/adapters/driven/request"
	"github.com/kstyle2198/saml-sso/internal/adapters/driven/session"
	"github.com/kstyle2198/saml-sso/internal/adapters/driven/signature"
	"github.com/kstyle2198/saml-sso/internal/adapters/driving/httpserver"
	"github.com/kstyle2198/saml-sso/internal/core/ports"
)

const sweepInterval = time.Minute

func main() {
	logger, err := zap.NewProduction()
	if err != nil {
		os.Exit(1)
	}
	defer logger.Sync()

	cfg, err := samlsso.LoadConfig()
	if err != nil {
		logger.Fatal("configuration error", zap.Error(err))
	}
	trust, err := samlsso.BuildTrustConfig(cfg)
	if err != nil {
		logger.Fatal("trust configuration error", zap.Error(err))
	}

	requests := request.NewInMemoryRequestStoreWithCleanup(sweepInterval)
	defer requests.Stop()

	sessions := session.NewMemoryStoreWithSweeper(trust.SessionTTL, sweepInterval,
		session.WithLogger(logger))
	defer sessions.Stop()

	var verifier ports.ResponseVerifier
	if trust.StrictValidation {
		verifier = signature.NewXMLDsigVerifierWithCerts(trust.IdPCertificates).
			WithLogger(logger)
	} else {
		logger.Warn("strict validation disabled; response signatures are not checked")
		verifier = signature.NewPermissiveVerifier()
	}

	svcOpts := []samlsso.ServiceOption{samlsso.WithLogger(logger)}
	if cfg.SignMetadata {
		svcOpts = append(svcOpts, samlsso.WithMetadataSigner(
			signature.NewXMLDsigSigner(trust.SPPrivateKey, trust.SPCertificate)))
	}
	svc := samlsso.NewService(trust, requests, svcOpts...)
	validator := samlsso.NewValidator(trust, verifier, requests,
		samlsso.WithValidatorLogger(logger))

	srv := httpserver.NewServer(trust, svc, validator, sessions,
		httpserver.WithLogger(logger),
		httpserver.WithMetrics(metrics.NewPrometheusMetricsRecorder()),
		httpserver.WithCORSOrigins(cfg.CORSOriginList()))

	httpSrv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           srv.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		logger.Info("listening",
			zap.String("addr", cfg.ListenAddr),
			zap.String("entity_id", trust.SPEntityID))
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server error", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", zap.Error(err))
	}
}
