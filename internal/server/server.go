/*
 * Copyright 2025 Cong Wang
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package server

import (
	"context"
	"crypto/tls"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/amtp-protocol/schemavault/internal/config"
	"github.com/amtp-protocol/schemavault/internal/logging"
	"github.com/amtp-protocol/schemavault/internal/metrics"
	"github.com/amtp-protocol/schemavault/internal/middleware"
	"github.com/amtp-protocol/schemavault/internal/schema"
	"github.com/amtp-protocol/schemavault/internal/storage"
	"github.com/amtp-protocol/schemavault/internal/validation"
)

// Version is reported by the health endpoints and the admin CLI
const Version = "1.0"

// Server represents the schemavault HTTP server
type Server struct {
	config     *config.Config
	httpServer *http.Server
	router     *gin.Engine
	repo       schema.Repository
	registry   *schema.Registry
	validator  *validation.Validator
	logger     *logging.Logger
	metrics    metrics.MetricsProvider
	tracing    *tracing
}

// New creates a new schemavault server
func New(cfg *config.Config) (*Server, error) {
	// Create logger
	baseLogger := logging.NewLogger(cfg.Logging)
	logger := baseLogger.WithComponent("server")

	// Metrics are always collected; /metrics is only routed when enabled
	metricsInstance := metrics.NewMetricsProvider()

	// Create tracing
	var tracerProvider trace.TracerProvider = noop.NewTracerProvider()
	var tracingSetup *tracing
	if cfg.Tracing != nil && cfg.Tracing.Enabled {
		tracingSetup = newTracing(cfg.Tracing.ServiceName, baseLogger)
		tracerProvider = tracingSetup.provider
	}

	// Create storage
	repo, err := storage.NewRepository(storageConfigFrom(cfg.Storage))
	if err != nil {
		return nil, fmt.Errorf("failed to create schema repository: %w", err)
	}

	// Create schema registry
	registry, err := schema.NewRegistry(
		schema.Config{
			StorageRoot: cfg.Schema.StorageRoot,
			Deduplicate: cfg.Schema.Deduplicate,
		},
		repo,
		schema.WithLogger(baseLogger),
		schema.WithTracerProvider(tracerProvider),
	)
	if err != nil {
		_ = repo.Close()
		return nil, fmt.Errorf("failed to create schema registry: %w", err)
	}

	// Set Gin mode based on environment
	if cfg.Logging.Level == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	// Create router
	router := gin.New()

	// Create server
	server := &Server{
		config:    cfg,
		router:    router,
		repo:      repo,
		registry:  registry,
		validator: validation.New(cfg.Upload.MaxSize, cfg.Upload.RequireOpenAPIFields),
		logger:    logger,
		metrics:   metricsInstance,
		tracing:   tracingSetup,
	}

	// Setup middleware
	server.setupMiddleware(baseLogger)

	// Setup routes
	server.setupRoutes()

	// Create HTTP server
	server.httpServer = &http.Server{
		Addr:         cfg.Server.Address,
		Handler:      server.router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Configure TLS if enabled
	if cfg.TLS.Enabled {
		tlsConfig, err := server.createTLSConfig()
		if err != nil {
			_ = repo.Close()
			return nil, fmt.Errorf("failed to create TLS config: %w", err)
		}
		server.httpServer.TLSConfig = tlsConfig
	}

	return server, nil
}

func storageConfigFrom(cfg config.StorageConfig) storage.StorageConfig {
	if cfg.Type != "database" {
		return storage.StorageConfig{Type: cfg.Type}
	}
	return storage.StorageConfig{
		Type: cfg.Type,
		Database: &storage.DatabaseStorageConfig{
			Driver:           cfg.Database.Driver,
			ConnectionString: cfg.Database.ConnectionString,
			MaxConnections:   cfg.Database.MaxConnections,
			MaxIdleTime:      cfg.Database.MaxIdleTime,
			AutoMigrate:      cfg.Database.AutoMigrate,
		},
	}
}

// Start starts the HTTP server
func (s *Server) Start() error {
	s.logger.WithFields(map[string]interface{}{
		"address":      s.config.Server.Address,
		"tls":          s.config.TLS.Enabled,
		"storage":      s.config.Storage.Type,
		"storage_root": s.registry.Root(),
	}).Info("Starting schemavault server")

	if s.config.TLS.Enabled {
		return s.httpServer.ListenAndServeTLS(s.config.TLS.CertFile, s.config.TLS.KeyFile)
	}
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the server, then releases the repository
// and flushes pending spans
func (s *Server) Shutdown(ctx context.Context) error {
	err := s.httpServer.Shutdown(ctx)

	if s.tracing != nil {
		if tErr := s.tracing.shutdown(ctx); tErr != nil {
			s.logger.Error("Failed to shut down tracing", tErr)
		}
	}
	if cErr := s.repo.Close(); cErr != nil && err == nil {
		err = fmt.Errorf("failed to close repository: %w", cErr)
	}
	return err
}

// GetRouter returns the Gin router for testing purposes
func (s *Server) GetRouter() *gin.Engine {
	return s.router
}

// setupMiddleware configures middleware for the server
func (s *Server) setupMiddleware(logger *logging.Logger) {
	// Request ID first so every later log line and error carries it
	s.router.Use(middleware.RequestID())

	// Recovery middleware
	s.router.Use(middleware.Recovery(logger))

	// Logging middleware
	s.router.Use(middleware.Logger(logger))

	// CORS middleware
	s.router.Use(middleware.CORS())

	// Request size limit middleware. Multipart framing needs headroom over
	// the file limit; the file itself is checked by the validator.
	s.router.Use(middleware.RequestSizeLimit(s.config.Upload.MaxSize + multipartOverhead))

	// Security headers middleware
	s.router.Use(middleware.SecurityHeaders())
}

// setupRoutes configures routes for the server
func (s *Server) setupRoutes() {
	// Capture server instance to avoid method value binding issues
	server := s

	// Health check endpoints
	server.router.GET("/health", func(c *gin.Context) { server.handleHealth(c) })
	server.router.GET("/ready", func(c *gin.Context) { server.handleReady(c) })

	v1 := server.router.Group("/v1")
	{
		// Schema endpoints
		schemas := v1.Group("/schemas")
		{
			schemas.POST("", server.withRequestMetrics(func(c *gin.Context) { server.handleImportSchema(c) }))
			schemas.GET("/latest", server.withRequestMetrics(func(c *gin.Context) { server.handleGetLatest(c) }))
			schemas.GET("/versions", server.withRequestMetrics(func(c *gin.Context) { server.handleListVersions(c) }))
			schemas.GET("/versions/:version", server.withRequestMetrics(func(c *gin.Context) { server.handleGetVersion(c) }))
			schemas.GET("/versions/:version/content", server.withRequestMetrics(func(c *gin.Context) { server.handleGetContent(c) }))
		}

		// Namespace endpoints
		v1.GET("/applications", server.withRequestMetrics(func(c *gin.Context) { server.handleListApplications(c) }))
		v1.GET("/applications/:name/services", server.withRequestMetrics(func(c *gin.Context) { server.handleListServices(c) }))

		v1.GET("/stats", server.withRequestMetrics(func(c *gin.Context) { server.handleStats(c) }))
	}

	if server.config.Metrics != nil && server.config.Metrics.Enabled {
		server.router.GET("/metrics", gin.WrapH(server.metrics.Handler()))
	}
}

// createTLSConfig creates TLS configuration
func (s *Server) createTLSConfig() (*tls.Config, error) {
	tlsConfig := &tls.Config{
		MinVersion: tls.VersionTLS13, // Default to TLS 1.3
	}

	// Set minimum TLS version based on configuration
	switch s.config.TLS.MinVersion {
	case "1.2":
		tlsConfig.MinVersion = tls.VersionTLS12
		tlsConfig.CipherSuites = []uint16{
			tls.TLS_ECDHE_ECDSA_WITH_AES_256_GCM_SHA384,
			tls.TLS_ECDHE_RSA_WITH_AES_256_GCM_SHA384,
			tls.TLS_ECDHE_ECDSA_WITH_AES_128_GCM_SHA256,
			tls.TLS_ECDHE_RSA_WITH_AES_128_GCM_SHA256,
			tls.TLS_ECDHE_ECDSA_WITH_CHACHA20_POLY1305_SHA256,
			tls.TLS_ECDHE_RSA_WITH_CHACHA20_POLY1305_SHA256,
		}
	case "", "1.3":
		tlsConfig.MinVersion = tls.VersionTLS13
	default:
		return nil, fmt.Errorf("unsupported TLS min_version: %s", s.config.TLS.MinVersion)
	}

	return tlsConfig, nil
}

// handleHealth handles health check requests (liveness probe)
func (s *Server) handleHealth(c *gin.Context) {
	health := s.checkHealth()

	statusCode := http.StatusOK
	if !health.Healthy {
		statusCode = http.StatusServiceUnavailable
	}

	c.JSON(statusCode, health)
}

// handleReady handles readiness check requests (readiness probe)
func (s *Server) handleReady(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), readinessTimeout)
	defer cancel()

	readiness := s.checkReadiness(ctx)

	statusCode := http.StatusOK
	if !readiness.Ready {
		statusCode = http.StatusServiceUnavailable
	}

	c.JSON(statusCode, readiness)
}

// HealthStatus represents the health status of the server
type HealthStatus struct {
	Status     string            `json:"status"`
	Healthy    bool              `json:"healthy"`
	Timestamp  time.Time         `json:"timestamp"`
	Version    string            `json:"version"`
	Components map[string]string `json:"components"`
}

// ReadinessStatus represents the readiness status of the server
type ReadinessStatus struct {
	Status       string            `json:"status"`
	Ready        bool              `json:"ready"`
	Timestamp    time.Time         `json:"timestamp"`
	Version      string            `json:"version"`
	Dependencies map[string]string `json:"dependencies"`
}

// checkHealth performs basic health checks (liveness)
func (s *Server) checkHealth() HealthStatus {
	healthy := true
	components := make(map[string]string)

	if s.router == nil {
		healthy = false
		components["router"] = "not_initialized"
	} else {
		components["router"] = "healthy"
	}

	if s.registry == nil {
		healthy = false
		components["schema_registry"] = "not_initialized"
	} else {
		components["schema_registry"] = "healthy"
	}

	if s.validator == nil {
		healthy = false
		components["validator"] = "not_initialized"
	} else {
		components["validator"] = "healthy"
	}

	status := "healthy"
	if !healthy {
		status = "unhealthy"
	}

	return HealthStatus{
		Status:     status,
		Healthy:    healthy,
		Timestamp:  time.Now().UTC(),
		Version:    Version,
		Components: components,
	}
}

// checkReadiness checks the repository connection and the storage root
func (s *Server) checkReadiness(ctx context.Context) ReadinessStatus {
	ready := true
	dependencies := make(map[string]string)

	if s.registry == nil {
		ready = false
		dependencies["schema_registry"] = "not_initialized"
	} else if err := s.registry.HealthCheck(ctx); err != nil {
		ready = false
		dependencies["schema_registry"] = "unavailable"
		s.logger.Warnf("Readiness check failed: %v", err)
	} else {
		dependencies["schema_registry"] = "ready"
	}

	status := "ready"
	if !ready {
		status = "not_ready"
	}

	return ReadinessStatus{
		Status:       status,
		Ready:        ready,
		Timestamp:    time.Now().UTC(),
		Version:      Version,
		Dependencies: dependencies,
	}
}
