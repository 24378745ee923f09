// Package main is the entry point for the Tukang BFF server.
// It wires all dependencies together and starts the HTTP server.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/tukangworks/tukang/internal/catalog"
	"github.com/tukangworks/tukang/internal/config"
	"github.com/tukangworks/tukang/internal/definition"
	"github.com/tukangworks/tukang/internal/observability"
	"github.com/tukangworks/tukang/internal/openapi"
	"github.com/tukangworks/tukang/internal/rules"
	"github.com/tukangworks/tukang/internal/session"
	"github.com/tukangworks/tukang/internal/transport"
)

// Build-time variables set via ldflags:
//
//	go build -ldflags "-X main.version=1.0.0 -X main.commit=abc1234"
var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "config.yaml", "path to configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		return 1
	}

	observability.Version = version
	observability.Commit = commit

	logger, err := observability.NewLogger(cfg.Observability)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger error: %v\n", err)
		return 1
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	tracingShutdown, err := observability.InitTracing(ctx, cfg.Observability.Tracing, "tukang-bff", version)
	if err != nil {
		logger.Error("tracing initialization failed", zap.Error(err))
		return 1
	}

	metrics := observability.InitMetrics(prometheus.DefaultRegisterer)

	// Load OpenAPI specs and build the path index used to verify catalog
	// endpoints at startup.
	oaIndex := openapi.NewIndex()
	specSources := buildSpecSources(cfg.Specs)
	if err := oaIndex.Load(specSources); err != nil {
		logger.Error("OpenAPI index load failed", zap.Error(err))
		return 1
	}
	for _, src := range specSources {
		metrics.SetOpenAPIOperationsIndexed(src.ServiceID, float64(oaIndex.PathCount(src.ServiceID)))
	}

	// Load definitions, validate, build the registry.
	loader := definition.NewLoader()
	defs, err := loader.LoadAll(cfg.Definitions.Directories)
	if err != nil {
		logger.Error("definition loading failed", zap.Error(err))
		return 1
	}

	services := make(map[string]bool, len(cfg.Services))
	for id := range cfg.Services {
		services[id] = true
	}
	validator := definition.NewValidator(rules.KnownFormats())
	verrs := validator.Validate(defs, services, oaIndex)
	if len(verrs) > 0 {
		for _, ve := range verrs {
			logger.Error("definition validation error", zap.String("error", ve.Error()))
		}
		logger.Error("definition validation failed", zap.Int("errors", len(verrs)))
		return 1
	}

	registry := definition.NewRegistry(defs)
	metrics.SetDefinitionsLoaded(float64(len(defs)))

	// Catalog client and enumeration cache.
	client := catalog.NewClient(registry, cfg.Services, cfg.Catalog.Postcode, metrics)
	cache := catalog.NewCache(client, cfg.Catalog.Cache.TTL, cfg.Catalog.Cache.MaxEntries, metrics)

	// Session manager with TTL sweep.
	sessions := session.NewManager(cfg.Sessions, cache, metrics, logger)
	sessions.Start()
	defer sessions.Stop()

	// HTTP router.
	jwks := transport.NewJWKSClient(cfg.Identity.JWKSURL, cfg.Identity.JWKSCacheTTL)
	handlers := transport.NewHandlers(registry, sessions, client, metrics, logger)

	specServiceIDs := make([]string, 0, len(specSources))
	for _, s := range specSources {
		specServiceIDs = append(specServiceIDs, s.ServiceID)
	}
	ready := observability.ReadinessChecks{
		DefinitionsLoaded: func() bool { return len(registry.AllDomains()) > 0 },
		OpenAPILoaded: func() bool {
			for _, svcID := range specServiceIDs {
				if oaIndex.PathCount(svcID) > 0 {
					return true
				}
			}
			return len(specServiceIDs) == 0 // OK if no specs configured
		},
		JWKSLoaded: jwks.Loaded,
	}

	router := transport.NewRouter(transport.Dependencies{
		Config:       cfg,
		Handlers:     handlers,
		Metrics:      metrics,
		Ready:        ready,
		Authenticate: transport.JWTAuthenticator(cfg.Identity, jwks),
	})

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	logger.Info("server started",
		zap.Int("port", cfg.Server.Port),
		zap.String("version", version),
		zap.String("commit", commit),
		zap.Int("definitions", len(defs)),
		zap.String("checksum", registry.Checksum()),
	)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown initiated")
	case err := <-errCh:
		logger.Error("server error", zap.Error(err))
		return 1
	}

	shutdownTimeout := cfg.Server.ShutdownTimeout
	if shutdownTimeout == 0 {
		shutdownTimeout = 30 * time.Second
	}
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown error", zap.Error(err))
	}

	if err := tracingShutdown(shutdownCtx); err != nil {
		logger.Error("tracing shutdown error", zap.Error(err))
	}

	logger.Info("shutdown complete")
	return 0
}

// buildSpecSources converts config spec sources to openapi.SpecSource.
func buildSpecSources(specsCfg config.SpecsConfig) []openapi.SpecSource {
	sources := make([]openapi.SpecSource, len(specsCfg.Sources))
	for i, s := range specsCfg.Sources {
		specPath := s.SpecFile
		if specsCfg.Directory != "" && !filepath.IsAbs(specPath) {
			specPath = filepath.Join(specsCfg.Directory, specPath)
		}
		sources[i] = openapi.SpecSource{
			ServiceID: s.ServiceID,
			SpecPath:  specPath,
		}
	}
	return sources
}
