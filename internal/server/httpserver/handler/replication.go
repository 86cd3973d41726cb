package handler

import (
	"encoding/json"
	"net/http"

	"github.com/kvmesh/kvmesh-go/internal/core/domain"
)

func (h *Handler) handleReplicationMutation(w http.ResponseWriter, r *http.Request) {
	var m domain.Mutation
	if err := json.NewDecoder(r.Body).Decode(&m); err != nil {
		h.writeError(w, r, http.StatusBadRequest, domain.ErrInvalidKey.Code, "invalid mutation body", err.Error())
		return
	}

	applied, err := h.engine.ApplyRemote(r.Context(), m)
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}

	n := 0
	if applied {
		n = 1
	}
	h.writeJSON(w, r, http.StatusOK, ApplyMutationResponse{Applied: n})
}

func (h *Handler) handleReplicationDigest(w http.ResponseWriter, r *http.Request) {
	// The digest endpoint is consumed raw by peer transports; it
	// skips the response envelope.
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(DigestResponse{
		NodeID:    h.cfg.NodeID,
		Digest:    h.engine.Digest(),
		UsedBytes: h.engine.UsedBytes(),
	})
}

func (h *Handler) handleReplicationPull(w http.ResponseWriter, r *http.Request) {
	var req PullRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, r, http.StatusBadRequest, domain.ErrInvalidKey.Code, "invalid pull body", err.Error())
		return
	}

	batch := MutationBatch{Mutations: make([]domain.Mutation, 0, len(req.Keys))}
	for _, key := range req.Keys {
		if m, ok := h.engine.MutationFor(key); ok {
			batch.Mutations = append(batch.Mutations, m)
		}
	}

	// Raw body, consumed by peer transports.
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(batch)
}

func (h *Handler) handleReplicationPush(w http.ResponseWriter, r *http.Request) {
	var batch MutationBatch
	if err := json.NewDecoder(r.Body).Decode(&batch); err != nil {
		h.writeError(w, r, http.StatusBadRequest, domain.ErrInvalidKey.Code, "invalid push body", err.Error())
		return
	}

	applied := 0
	for _, m := range batch.Mutations {
		ok, err := h.engine.ApplyRemote(r.Context(), m)
		if err != nil {
			h.writeEngineError(w, r, err)
			return
		}
		if ok {
			applied++
		}
	}

	h.writeJSON(w, r, http.StatusOK, ApplyMutationResponse{Applied: applied})
}
