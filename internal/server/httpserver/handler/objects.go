package handler

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/kvmesh/kvmesh-go/internal/core/domain"
	"github.com/kvmesh/kvmesh-go/internal/storage"
)

func (h *Handler) handlePutObject(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("key")

	var req PutObjectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, r, http.StatusBadRequest, domain.ErrInvalidKey.Code, "invalid request body", err.Error())
		return
	}
	if req.TTLMs < 0 {
		h.writeError(w, r, http.StatusBadRequest, domain.ErrInvalidKey.Code, "ttl_ms must not be negative", nil)
		return
	}

	version, err := h.engine.Put(r.Context(), key, req.Value, storage.PutOptions{
		Tags: req.Tags,
		TTL:  time.Duration(req.TTLMs) * time.Millisecond,
	})
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}

	h.writeJSON(w, r, http.StatusOK, PutObjectResponse{Key: key, Version: version})
}

func (h *Handler) handleGetObject(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("key")

	value, err := h.engine.Get(r.Context(), key)
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}

	h.writeJSON(w, r, http.StatusOK, GetObjectResponse{Key: key, Value: value})
}

func (h *Handler) handleDeleteObject(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("key")

	deleted, err := h.engine.Delete(r.Context(), key)
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}

	h.writeJSON(w, r, http.StatusOK, DeleteObjectResponse{Key: key, Deleted: deleted})
}

func (h *Handler) handleTagQuery(w http.ResponseWriter, r *http.Request) {
	tag := r.URL.Query().Get("tag")
	if tag == "" {
		h.writeError(w, r, http.StatusBadRequest, domain.ErrInvalidKey.Code, "tag query parameter is required", nil)
		return
	}

	values := make([][]byte, 0)
	for v := range h.engine.FindByTag(tag) {
		values = append(values, v)
	}

	h.writeJSON(w, r, http.StatusOK, TagQueryResponse{
		Tag:    tag,
		Values: values,
		Count:  len(values),
	})
}
