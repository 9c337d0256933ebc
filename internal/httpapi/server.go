// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package httpapi is the HTTP dispatch layer of the gateway.
//
// # Description
//
// This package owns the route table, the two API dialects (native
// NDJSON and OpenAI-style SSE), per-request access control, and the
// request/response shaping that feeds the scheduler. Handlers never
// enter the generator directly; they submit work closures and await
// completion.
//
// # Authentication Flow
//
// Every non-OPTIONS request passes through the auth middleware before
// its handler runs:
//
//	Request
//	   │
//	   ▼
//	authMiddleware
//	   │
//	   ├─► filter.Authenticate("Authorization: Bearer <token>")
//	   │
//	   ├─► filter.GlobalGate (strict mode: 403 on missing/invalid/
//	   │                      non-overlapping token)
//	   │
//	   └─► Store allowed-model list in context
//	           │
//	           ▼
//	       Handler (retrieves via allowedModels)
//
// # Thread Safety
//
// The Server is safe for concurrent use; per-request state lives in
// the gin context and the per-request sink objects.
package httpapi

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/aleutian-oss/llmgateway/internal/access"
	"github.com/aleutian-oss/llmgateway/internal/datatypes"
	"github.com/aleutian-oss/llmgateway/internal/lifecycle"
	"github.com/aleutian-oss/llmgateway/internal/observability"
	"github.com/aleutian-oss/llmgateway/internal/scheduler"
)

// =============================================================================
// Context Keys
// =============================================================================

// allowedModelsKey is the gin-context key under which the auth
// middleware stores a valid token's allowed-model list.
// The package-specific prefix keeps it apart from other context values.
const allowedModelsKey = "llmgateway_allowed_models"

// =============================================================================
// Server
// =============================================================================

// Server wires the lifecycle manager, scheduler, and access filter
// into the gateway's HTTP surface.
//
// # Description
//
// Server implements http.Handler; the outer ServeHTTP handles CORS
// preflight and trailing-slash normalization before dispatching into
// the gin engine, whose middleware chain runs recovery, tracing, the
// access log, CORS headers, and authentication ahead of every
// handler.
//
// # Thread Safety
//
// Safe for concurrent use. All fields are set once by NewServer and
// read-only afterwards.
type Server struct {
	version   string
	lifecycle *lifecycle.Manager
	sched     *scheduler.Scheduler
	filter    *access.Filter
	metrics   *observability.Metrics
	logger    *slog.Logger

	engine *gin.Engine
}

// NewServer constructs the Server and its route table.
//
// # Description
//
// Builds the gin engine, installs the middleware chain, and registers
// every route. The /metrics route is mounted only when metrics is
// non-nil, so tests can run without touching the default Prometheus
// registry.
//
// # Inputs
//
//   - version: Reported by GET /api/version.
//   - lc: Model lifecycle manager; also the model-name source for the
//     strict-mode gate.
//   - sched: Request scheduler every chat handler submits to.
//   - filter: Access filter; its strict flag drives the global gate.
//   - metrics: May be nil to disable /metrics and instrument updates.
//   - logger: May be nil; slog.Default() is used then.
//
// # Outputs
//
//   - *Server: Ready to serve via http.Server.
func NewServer(version string, lc *lifecycle.Manager, sched *scheduler.Scheduler, filter *access.Filter, metrics *observability.Metrics, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		version:   version,
		lifecycle: lc,
		sched:     sched,
		filter:    filter,
		metrics:   metrics,
		logger:    logger,
	}

	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.RedirectTrailingSlash = false
	engine.Use(gin.Recovery(), otelgin.Middleware("llmgateway"), s.accessLog(), s.corsHeaders(), s.authMiddleware())

	engine.GET("/", s.handleRoot)
	engine.HEAD("/", s.handleRootHead)
	engine.GET("/api/version", s.handleVersion)
	engine.GET("/api/tags", s.handleTags)
	engine.GET("/api/ps", s.handlePs)
	engine.POST("/api/show", s.handleShow)
	engine.POST("/api/chat", s.handleChat)
	engine.POST("/api/generate", s.handleGenerate)
	engine.POST("/v1/chat/completions", s.handleOpenAIChat)
	engine.GET("/v1/models", s.handleOpenAIModels)
	if metrics != nil {
		engine.GET("/metrics", gin.WrapH(metrics.Handler()))
	}

	engine.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, datatypes.ErrorResponse{Error: "Not found"})
	})

	s.engine = engine
	return s
}

// =============================================================================
// Dispatch
// =============================================================================

// ServeHTTP answers CORS preflight unconditionally, strips a single
// trailing slash from the path, and hands the request to the router.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		setCORSHeaders(w.Header())
		w.WriteHeader(http.StatusNoContent)
		return
	}
	if p := r.URL.Path; len(p) > 1 && strings.HasSuffix(p, "/") {
		r.URL.Path = strings.TrimSuffix(p, "/")
	}
	s.engine.ServeHTTP(w, r)
}

// =============================================================================
// Middleware
// =============================================================================

// accessLog emits one structured line per completed request.
func (s *Server) accessLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.Info("request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
		)
	}
}

func (s *Server) corsHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		setCORSHeaders(c.Writer.Header())
		c.Next()
	}
}

// authMiddleware authenticates every request ahead of its handler.
//
// # Description
//
// Runs the strict-mode global gate first, then per-endpoint auth,
// storing a valid token's allowed-model list in the gin context for
// handlers to filter with. Gate rejections are 403; per-endpoint
// rejections carry the filter's own status and body.
func (s *Server) authMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		result := s.filter.Authenticate(c.GetHeader("Authorization"))

		pass, status, body := s.filter.GlobalGate(result, s.lifecycle.GetModelNames(), false)
		if !pass {
			c.AbortWithStatusJSON(status, datatypes.ErrorResponse{Error: body})
			return
		}

		switch result.Outcome {
		case access.OutcomeRejected:
			c.AbortWithStatusJSON(result.Status, datatypes.ErrorResponse{Error: result.Body})
			return
		case access.OutcomeAllowed:
			c.Set(allowedModelsKey, result.Allowed)
		}

		c.Next()
	}
}

// allowedModels returns the request's allow-list, or nil when no
// filter applies.
func allowedModels(c *gin.Context) []string {
	v, ok := c.Get(allowedModelsKey)
	if !ok {
		return nil
	}
	allowed, _ := v.([]string)
	return allowed
}

// modelAllowed reports whether name passes the request's allow-list.
// A nil list means no filter.
func modelAllowed(allowed []string, name string) bool {
	if allowed == nil {
		return true
	}
	for _, m := range allowed {
		if m == name {
			return true
		}
	}
	return false
}
