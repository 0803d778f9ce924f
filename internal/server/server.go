// Package server exposes the compile and query pipeline over HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/meridian-gis/geoquery/internal/compliance"
	"github.com/meridian-gis/geoquery/internal/executor"
	"github.com/meridian-gis/geoquery/internal/nlq"
	"github.com/meridian-gis/geoquery/internal/observability"
	"github.com/meridian-gis/geoquery/internal/schema"
	"github.com/meridian-gis/geoquery/internal/source"
)

// Config tunes the HTTP server.
type Config struct {
	Host             string
	Port             int
	ReadTimeout      time.Duration
	WriteTimeout     time.Duration
	RequestTimeout   time.Duration
	GracefulShutdown time.Duration
}

// Deps are the pipeline components the API serves.
type Deps struct {
	Compiler *nlq.Compiler
	Executor *executor.Executor
	Source   source.FeatureSource
	Checker  *compliance.Checker
	Registry *schema.Registry
}

// Server is the geoquery HTTP API.
type Server struct {
	cfg    Config
	deps   Deps
	logger *observability.Logger
	http   *http.Server
}

func New(cfg Config, deps Deps, logger *observability.Logger) *Server {
	s := &Server{cfg: cfg, deps: deps, logger: logger}
	s.http = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:      s.router(),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}
	return s
}

func (s *Server) router() http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.Timeout(s.cfg.RequestTimeout))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"healthy","service":"geoquery"}`))
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/compile", s.handleCompile)
		r.Post("/query", s.handleQuery)
		r.Post("/compliance", s.handleCompliance)
		r.Get("/schema", s.handleSchema)
	})

	return r
}

// ListenAndServe runs the server until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().Str("addr", s.http.Addr).Msg("HTTP server listening")
		if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.GracefulShutdown)
	defer cancel()
	s.logger.Info().Msg("Shutting down HTTP server")
	return s.http.Shutdown(shutdownCtx)
}

type compileRequest struct {
	Query string `json:"query"`
}

type complianceRequest struct {
	Filter         string  `json:"filter"`
	MinAreaSqMiles float64 `json:"min_area_sq_miles,omitempty"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) handleCompile(w http.ResponseWriter, r *http.Request) {
	var req compileRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	compiled, err := s.deps.Compiler.Compile(r.Context(), req.Query)
	if err != nil {
		s.writeCompileError(w, err)
		return
	}

	s.writeJSON(w, http.StatusOK, compiled)
}

func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	var req compileRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	compiled, err := s.deps.Compiler.Compile(r.Context(), req.Query)
	if err != nil {
		s.writeCompileError(w, err)
		return
	}

	results, err := s.deps.Executor.Execute(r.Context(), compiled)
	if err != nil {
		s.logger.Error().Err(err).Str("query", req.Query).Msg("Query execution failed")
		s.writeError(w, http.StatusBadGateway, "query execution failed")
		return
	}

	s.writeJSON(w, http.StatusOK, results)
}

func (s *Server) handleCompliance(w http.ResponseWriter, r *http.Request) {
	var req complianceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Filter == "" {
		req.Filter = "1=1"
	}

	result, err := s.deps.Source.Query(r.Context(), req.Filter, source.QueryOptions{PageSize: 1000})
	if err != nil {
		s.logger.Error().Err(err).Msg("Feature fetch failed")
		s.writeError(w, http.StatusBadGateway, "feature fetch failed")
		return
	}

	checker := s.deps.Checker
	if req.MinAreaSqMiles > 0 {
		var cerr error
		checker, cerr = compliance.NewChecker(compliance.Policy{MinAreaSqMiles: req.MinAreaSqMiles}, s.logger)
		if cerr != nil {
			s.writeError(w, http.StatusBadRequest, cerr.Error())
			return
		}
	}

	s.writeJSON(w, http.StatusOK, checker.Check(result.Features))
}

func (s *Server) handleSchema(w http.ResponseWriter, r *http.Request) {
	resp := struct {
		Fields      []schema.FieldDescriptor `json:"fields"`
		Mappings    [][2]string              `json:"mappings"`
		Fingerprint string                   `json:"fingerprint"`
	}{
		Fields:      s.deps.Registry.Fields(),
		Mappings:    s.deps.Registry.Mappings(),
		Fingerprint: s.deps.Registry.Fingerprint(),
	}
	s.writeJSON(w, http.StatusOK, resp)
}

// writeCompileError maps pipeline error types to HTTP statuses.
func (s *Server) writeCompileError(w http.ResponseWriter, err error) {
	var valErr *nlq.ValidationError
	var secErr *nlq.SecurityError
	var parseErr *nlq.ParsingError

	switch {
	case errors.As(err, &secErr):
		s.writeError(w, http.StatusForbidden, secErr.Error())
	case errors.As(err, &valErr):
		s.writeError(w, http.StatusUnprocessableEntity, valErr.Error())
	case errors.As(err, &parseErr):
		s.logger.Error().Err(err).Msg("Compile failed")
		s.writeError(w, http.StatusBadGateway, "model response could not be parsed")
	default:
		s.logger.Error().Err(err).Msg("Compile failed")
		s.writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error().Err(err).Msg("Failed to encode response")
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, errorResponse{Error: msg})
}
