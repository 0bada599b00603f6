package api

import (
	"context"
	"net/http"

	"go.uber.org/zap"

	"shield/apps/reconciler/internal/model"
	"shield/apps/reconciler/internal/nav"
)

type SnapshotReader interface {
	ListSnapshots(ctx context.Context, limit int) ([]model.NAVSnapshot, error)
}

// NAVTrigger queues a calculator run; the scheduler coalesces bursts.
type NAVTrigger interface {
	Trigger(reason string)
}

type NAVHandler struct {
	responder
	snapshots SnapshotReader
	trigger   NAVTrigger
}

func NewNAVHandler(snapshots SnapshotReader, trigger NAVTrigger, logger *zap.Logger) *NAVHandler {
	return &NAVHandler{
		responder: responder{logger: logger},
		snapshots: snapshots,
		trigger:   trigger,
	}
}

// ListSnapshots handles GET /api/nav/snapshots?limit=N, newest first
func (h *NAVHandler) ListSnapshots(w http.ResponseWriter, r *http.Request) {
	limit, ok := parseLimit(r)
	if !ok {
		h.writeErrorResponse(w, http.StatusBadRequest, "invalid_limit", "Limit must be a positive integer")
		return
	}

	snapshots, err := h.snapshots.ListSnapshots(r.Context(), limit)
	if err != nil {
		h.logger.Error("Failed to list NAV snapshots", zap.Error(err))
		h.writeErrorResponse(w, http.StatusInternalServerError, "database_error", "Failed to list NAV snapshots")
		return
	}

	response := SnapshotListResponse{Snapshots: make([]SnapshotResponse, 0, len(snapshots))}
	for _, s := range snapshots {
		response.Snapshots = append(response.Snapshots, SnapshotResponse{
			NAVSnapshot:                s,
			NAVPerTokenFormatted:       formatProtocolAmount(s.NAVPerToken),
			TotalManagedValueFormatted: formatProtocolAmount(s.TotalManagedValue),
		})
	}
	h.writeJSONResponse(w, http.StatusOK, response)
}

// Recompute handles POST /api/admin/nav/recompute. The run happens asynchronously.
func (h *NAVHandler) Recompute(w http.ResponseWriter, r *http.Request) {
	h.trigger.Trigger(nav.TriggerOperator)
	h.logger.Info("NAV recompute requested", zap.String("remote_addr", r.RemoteAddr))
	h.writeJSONResponse(w, http.StatusAccepted, RecomputeResponse{Status: "queued", Trigger: nav.TriggerOperator})
}
