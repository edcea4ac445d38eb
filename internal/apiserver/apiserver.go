package apiserver

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	apiv1 "github.com/slok/mvm/internal/api/v1"
	"github.com/slok/mvm/internal/lifecycle"
	"github.com/slok/mvm/internal/log"
	"github.com/slok/mvm/internal/model"
)

// ServerConfig is the configuration for the API server.
type ServerConfig struct {
	Lifecycle lifecycle.Manager
	Logger    log.Logger
}

func (c *ServerConfig) defaults() error {
	if c.Lifecycle == nil {
		return fmt.Errorf("lifecycle manager is required")
	}
	if c.Logger == nil {
		c.Logger = log.Noop
	}
	c.Logger = c.Logger.WithValues(log.Kv{"svc": "apiserver.Server"})
	return nil
}

// Server exposes the lifecycle manager over a JSON HTTP API.
type Server struct {
	lifecycle lifecycle.Manager
	logger    log.Logger
}

// NewServer creates a new API server.
func NewServer(cfg ServerConfig) (*Server, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Server{
		lifecycle: cfg.Lifecycle,
		logger:    cfg.Logger,
	}, nil
}

// Handler returns the HTTP handler with every API route mounted.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", s.healthz)
	mux.HandleFunc("POST /api/v1/vms", s.createVM)
	mux.HandleFunc("GET /api/v1/vms", s.listVMs)
	mux.HandleFunc("GET /api/v1/vms/{id}", s.getVM)
	mux.HandleFunc("POST /api/v1/vms/{id}/stop", s.stopVM)
	mux.HandleFunc("DELETE /api/v1/vms/{id}", s.deleteVM)

	return mux
}

func (s *Server) healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}

func (s *Server) createVM(w http.ResponseWriter, r *http.Request) {
	var req apiv1.CreateVMRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, fmt.Errorf("decoding request body: %w: %w", err, model.ErrNotValid))
		return
	}

	vm, err := s.lifecycle.Create(r.Context(), req.Spec())
	if err != nil {
		s.writeError(w, err)
		return
	}

	s.writeJSON(w, http.StatusCreated, apiv1.NewVM(*vm))
}

func (s *Server) listVMs(w http.ResponseWriter, r *http.Request) {
	vms, err := s.lifecycle.List(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}

	list := apiv1.VMList{VMs: make([]apiv1.VM, 0, len(vms))}
	for _, vm := range vms {
		list.VMs = append(list.VMs, apiv1.NewVM(vm))
	}

	s.writeJSON(w, http.StatusOK, list)
}

func (s *Server) getVM(w http.ResponseWriter, r *http.Request) {
	vm, err := s.lifecycle.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, err)
		return
	}

	s.writeJSON(w, http.StatusOK, apiv1.NewVM(*vm))
}

func (s *Server) stopVM(w http.ResponseWriter, r *http.Request) {
	if err := s.lifecycle.Stop(r.Context(), r.PathValue("id")); err != nil {
		s.writeError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) deleteVM(w http.ResponseWriter, r *http.Request) {
	if err := s.lifecycle.Delete(r.Context(), r.PathValue("id")); err != nil {
		s.writeError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.logger.Errorf("Could not encode response: %v", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := errStatus(err)
	if status >= http.StatusInternalServerError {
		s.logger.Errorf("Request failed: %v", err)
	}
	s.writeJSON(w, status, apiv1.Error{Error: err.Error()})
}

// errStatus maps domain errors onto HTTP status codes.
func errStatus(err error) int {
	switch {
	case errors.Is(err, model.ErrNotValid):
		return http.StatusBadRequest
	case errors.Is(err, model.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, model.ErrAlreadyExists), errors.Is(err, model.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, model.ErrResourceExhausted):
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}
