package handler

import (
	"net/http"

	"github.com/kvmesh/kvmesh-go/internal/core/domain"
	"github.com/kvmesh/kvmesh-go/internal/storage/snapshot"
)

func (h *Handler) handleStats(w http.ResponseWriter, r *http.Request) {
	stats := h.engine.Stats()

	peerCount := 0
	if h.cfg.Cluster != nil {
		peerCount = len(h.cfg.Cluster.Snapshot())
	}

	h.writeJSON(w, r, http.StatusOK, StatsResponse{
		NodeID:            h.cfg.NodeID,
		TotalObjects:      stats.TotalObjects,
		UsedBytes:         stats.UsedBytes,
		MaxBytes:          h.cfg.MaxStorageBytes,
		UtilizationPct:    stats.UtilizationPercent,
		PeerCount:         peerCount,
		ReplicationFactor: h.cfg.ReplicationFactor,
	})
}

func (h *Handler) handlePeers(w http.ResponseWriter, r *http.Request) {
	peers := []domain.Peer{}
	if h.cfg.Cluster != nil {
		peers = h.cfg.Cluster.Snapshot()
	}
	h.writeJSON(w, r, http.StatusOK, PeersResponse{Peers: peers})
}

func (h *Handler) handleCreateBackup(w http.ResponseWriter, r *http.Request) {
	if h.cfg.Backups == nil {
		h.writeError(w, r, http.StatusNotImplemented, domain.ErrInternal.Code, "backups are not configured", nil)
		return
	}

	info, err := h.cfg.Backups.Create(h.engine.Export())
	if err != nil {
		h.writeError(w, r, http.StatusInternalServerError, domain.ErrInternal.Code, "backup failed", err.Error())
		return
	}
	if err := h.cfg.Backups.Prune(); err != nil {
		h.logger.Warn("backup retention prune failed", "error", err)
	}

	h.writeJSON(w, r, http.StatusCreated, BackupResponse{Snapshot: info})
}

func (h *Handler) handleListBackups(w http.ResponseWriter, r *http.Request) {
	if h.cfg.Backups == nil {
		h.writeError(w, r, http.StatusNotImplemented, domain.ErrInternal.Code, "backups are not configured", nil)
		return
	}

	infos, err := h.cfg.Backups.List()
	if err != nil {
		h.writeError(w, r, http.StatusInternalServerError, domain.ErrInternal.Code, "list backups failed", err.Error())
		return
	}
	if infos == nil {
		infos = []*snapshot.Info{}
	}

	h.writeJSON(w, r, http.StatusOK, BackupListResponse{Snapshots: infos})
}
