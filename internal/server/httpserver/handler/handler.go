package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/kvmesh/kvmesh-go/internal/core/domain"
	"github.com/kvmesh/kvmesh-go/internal/storage"
	"github.com/kvmesh/kvmesh-go/internal/storage/snapshot"
)

// ClusterView exposes replication state for the stats and peers
// endpoints.
type ClusterView interface {
	Snapshot() []domain.Peer
}

// BackupManager creates and lists backup snapshots.
type BackupManager interface {
	Create(objects []*domain.Object) (*snapshot.Info, error)
	List() ([]*snapshot.Info, error)
	Prune() error
}

// Config configures the handler.
type Config struct {
	NodeID            string
	MaxStorageBytes   int64
	ReplicationFactor int

	// Cluster may be nil when replication is disabled.
	Cluster ClusterView

	// Backups may be nil when backups are disabled.
	Backups BackupManager

	Logger *slog.Logger
}

// Handler routes API requests to the storage engine.
type Handler struct {
	cfg    Config
	engine *storage.Engine
	logger *slog.Logger
	mux    *http.ServeMux
}

// New creates a handler for the given engine.
func New(engine *storage.Engine, cfg Config) *Handler {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	h := &Handler{
		cfg:    cfg,
		engine: engine,
		logger: cfg.Logger,
		mux:    http.NewServeMux(),
	}
	h.registerRoutes()
	return h
}

// ServeHTTP implements http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

func (h *Handler) registerRoutes() {
	h.mux.HandleFunc("GET /healthz", h.handleHealth)

	// Object API.
	h.mux.HandleFunc("PUT /v1/objects/{key}", h.handlePutObject)
	h.mux.HandleFunc("GET /v1/objects/{key}", h.handleGetObject)
	h.mux.HandleFunc("DELETE /v1/objects/{key}", h.handleDeleteObject)
	h.mux.HandleFunc("GET /v1/objects", h.handleTagQuery)

	// Node statistics and peers.
	h.mux.HandleFunc("GET /v1/stats", h.handleStats)
	h.mux.HandleFunc("GET /v1/peers", h.handlePeers)

	// Backups.
	h.mux.HandleFunc("POST /v1/backups", h.handleCreateBackup)
	h.mux.HandleFunc("GET /v1/backups", h.handleListBackups)

	// Peer replication surface.
	h.mux.HandleFunc("POST /v1/replication/mutations", h.handleReplicationMutation)
	h.mux.HandleFunc("GET /v1/replication/digest", h.handleReplicationDigest)
	h.mux.HandleFunc("POST /v1/replication/pull", h.handleReplicationPull)
	h.mux.HandleFunc("POST /v1/replication/push", h.handleReplicationPush)
}

// writeJSON writes a success response in the standard envelope.
func (h *Handler) writeJSON(w http.ResponseWriter, r *http.Request, status int, data any) {
	requestID := r.Header.Get("X-Request-ID")
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(NewResponse(requestID, data)); err != nil {
		h.logger.Error("encode response", "error", err)
	}
}

// writeError writes an error response in the standard envelope.
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, status int, code, message string, details any) {
	requestID := r.Header.Get("X-Request-ID")
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Error-Code", code)
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(NewErrorResponse(requestID, code, message, details))
}

// writeEngineError maps a storage error to an HTTP response.
func (h *Handler) writeEngineError(w http.ResponseWriter, r *http.Request, err error) {
	var de *domain.DomainError
	if !errors.As(err, &de) {
		h.writeError(w, r, http.StatusInternalServerError, domain.ErrInternal.Code, err.Error(), nil)
		return
	}

	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, domain.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, domain.ErrInvalidKey):
		status = http.StatusBadRequest
	case errors.Is(err, domain.ErrCapacityExceeded):
		status = http.StatusInsufficientStorage
	case errors.Is(err, domain.ErrEngineClosed):
		status = http.StatusServiceUnavailable
	}
	h.writeError(w, r, status, de.Code, de.Message, de.Details)
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, r, http.StatusOK, HealthResponse{
		Status: "ok",
		NodeID: h.cfg.NodeID,
	})
}
