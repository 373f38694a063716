// Package server exposes the ingester and cataloger as one-shot remote
// functions over HTTP. Each request is a single bounded invocation; the
// long-running work stays in the invoked component.
package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/heliocloud-data/registry/internal/catalog"
	"github.com/heliocloud-data/registry/internal/cataloger"
	"github.com/heliocloud-data/registry/internal/ingest"
	"github.com/heliocloud-data/registry/internal/repository"
)

type Server struct {
	logger    *zap.Logger
	ingester  *ingest.Ingester
	cataloger *cataloger.Cataloger
}

type Option func(*Server)

func WithLogger(logger *zap.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

func WithIngester(i *ingest.Ingester) Option {
	return func(s *Server) {
		s.ingester = i
	}
}

func WithCataloger(c *cataloger.Cataloger) Option {
	return func(s *Server) {
		s.cataloger = c
	}
}

func New(opts ...Option) *Server {
	s := &Server{
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Server) Routes() chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/ingest", s.handleIngest)
		r.Post("/catalog/rebuild", s.handleRebuild)
	})

	return r
}

// ingestRequest is the invocation contract for the ingester.
type ingestRequest struct {
	JobFolder string `json:"job_folder"`
}

type ingestResponse struct {
	Success            bool            `json:"success"`
	Error              string          `json:"error,omitempty"`
	NumDatasetsUpdated int             `json:"num_datasets_updated"`
	Updates            []ingest.Update `json:"updates"`
}

type rebuildResponse struct {
	Success             bool               `json:"success"`
	Error               string             `json:"error,omitempty"`
	NumEndpointsUpdated int                `json:"num_endpoints_updated"`
	Updates             []cataloger.Update `json:"updates"`
}

// handlerError is the payload for failures outside the application's
// error contract, mirroring hosted-function error propagation.
type handlerError struct {
	ErrorType    string `json:"errorType"`
	ErrorMessage string `json:"errorMessage"`
}

func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	var req ingestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, handlerError{
			ErrorType:    "BadRequest",
			ErrorMessage: err.Error(),
		})
		return
	}
	if req.JobFolder == "" {
		writeJSON(w, http.StatusBadRequest, handlerError{
			ErrorType:    "BadRequest",
			ErrorMessage: "job_folder is required",
		})
		return
	}

	result, err := s.ingester.Ingest(r.Context(), req.JobFolder)
	if err != nil {
		s.logger.Warn("ingest failed",
			zap.String("job_folder", req.JobFolder),
			zap.Error(err),
		)
		if isApplicationError(err) {
			writeJSON(w, http.StatusOK, ingestResponse{Success: false, Error: err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, handlerError{
			ErrorType:    fmt.Sprintf("%T", err),
			ErrorMessage: err.Error(),
		})
		return
	}

	writeJSON(w, http.StatusOK, ingestResponse{
		Success:            true,
		NumDatasetsUpdated: result.NumDatasetsUpdated,
		Updates:            result.Updates,
	})
}

func (s *Server) handleRebuild(w http.ResponseWriter, r *http.Request) {
	updates, err := s.cataloger.Rebuild(r.Context())
	if err != nil {
		s.logger.Warn("catalog rebuild failed", zap.Error(err))
		if isApplicationError(err) {
			writeJSON(w, http.StatusOK, rebuildResponse{Success: false, Error: err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, handlerError{
			ErrorType:    fmt.Sprintf("%T", err),
			ErrorMessage: err.Error(),
		})
		return
	}

	if updates == nil {
		updates = []cataloger.Update{}
	}
	writeJSON(w, http.StatusOK, rebuildResponse{
		Success:             true,
		NumEndpointsUpdated: len(updates),
		Updates:             updates,
	})
}

// isApplicationError separates the registry's own error contract from
// unexpected handler failures.
func isApplicationError(err error) bool {
	var ierr *ingest.IngesterError
	var verr *catalog.ValidationError
	var rerr *repository.RegistryError
	return errors.As(err, &ierr) || errors.As(err, &verr) || errors.As(err, &rerr)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
