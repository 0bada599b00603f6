package api

import (
	"context"
	"errors"
	"net/http"
	"regexp"
	"strconv"
	"strings"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"shield/apps/reconciler/internal/assets"
	"shield/apps/reconciler/internal/model"
	"shield/apps/reconciler/internal/repository"
)

const (
	defaultListLimit = 50
	maxListLimit     = 500
)

var hash32Pattern = regexp.MustCompile(`^0x[0-9a-fA-F]{64}$`)

type IntentReader interface {
	GetIntent(ctx context.Context, intentID string) (*model.Intent, error)
	ListIntentsByStatus(ctx context.Context, status model.IntentStatus, limit int) ([]model.Intent, error)
}

type AuditReader interface {
	GetAuditRecordsByTxHash(ctx context.Context, txHash string) ([]model.AuditRecord, error)
}

type CheckpointReader interface {
	GetCheckpoint(ctx context.Context) (*model.Checkpoint, error)
}

// IntentHandler serves the ledger: intents, audit rows and the crawler checkpoint
type IntentHandler struct {
	responder
	intents     IntentReader
	audit       AuditReader
	checkpoints CheckpointReader
}

func NewIntentHandler(intents IntentReader, audit AuditReader, checkpoints CheckpointReader, logger *zap.Logger) *IntentHandler {
	return &IntentHandler{
		responder:   responder{logger: logger},
		intents:     intents,
		audit:       audit,
		checkpoints: checkpoints,
	}
}

// GetIntent handles GET /api/intents/{intent_id}
func (h *IntentHandler) GetIntent(w http.ResponseWriter, r *http.Request) {
	intentID := strings.ToLower(mux.Vars(r)["intent_id"])
	if !hash32Pattern.MatchString(intentID) {
		h.writeErrorResponse(w, http.StatusBadRequest, "invalid_intent_id", "Intent id must be a 0x-prefixed 32-byte hex string")
		return
	}

	intent, err := h.intents.GetIntent(r.Context(), intentID)
	if errors.Is(err, repository.ErrIntentNotFound) {
		h.writeErrorResponse(w, http.StatusNotFound, "intent_not_found", "Intent not found")
		return
	}
	if err != nil {
		h.logger.Error("Failed to get intent", zap.String("intent_id", intentID), zap.Error(err))
		h.writeErrorResponse(w, http.StatusInternalServerError, "database_error", "Failed to retrieve intent")
		return
	}

	h.writeJSONResponse(w, http.StatusOK, toIntentResponse(*intent))
}

// ListIntents handles GET /api/intents?status=PENDING&limit=N
func (h *IntentHandler) ListIntents(w http.ResponseWriter, r *http.Request) {
	status := model.IntentStatus(strings.ToUpper(r.URL.Query().Get("status")))
	if status == "" {
		status = model.IntentStatusPending
	}
	if !status.Valid() {
		h.writeErrorResponse(w, http.StatusBadRequest, "invalid_status", "Status must be one of PENDING, PROCESSED, FAILED, EXPIRED")
		return
	}

	limit, ok := parseLimit(r)
	if !ok {
		h.writeErrorResponse(w, http.StatusBadRequest, "invalid_limit", "Limit must be a positive integer")
		return
	}

	intents, err := h.intents.ListIntentsByStatus(r.Context(), status, limit)
	if err != nil {
		h.logger.Error("Failed to list intents", zap.String("status", string(status)), zap.Error(err))
		h.writeErrorResponse(w, http.StatusInternalServerError, "database_error", "Failed to list intents")
		return
	}

	response := IntentListResponse{Status: status, Intents: make([]IntentResponse, 0, len(intents))}
	for _, intent := range intents {
		response.Intents = append(response.Intents, toIntentResponse(intent))
	}
	h.writeJSONResponse(w, http.StatusOK, response)
}

// GetAudit handles GET /api/audit/{tx_hash}
func (h *IntentHandler) GetAudit(w http.ResponseWriter, r *http.Request) {
	txHash := strings.ToLower(mux.Vars(r)["tx_hash"])
	if !hash32Pattern.MatchString(txHash) {
		h.writeErrorResponse(w, http.StatusBadRequest, "invalid_tx_hash", "Transaction hash must be a 0x-prefixed 32-byte hex string")
		return
	}

	records, err := h.audit.GetAuditRecordsByTxHash(r.Context(), txHash)
	if err != nil {
		h.logger.Error("Failed to get audit records", zap.String("tx_hash", txHash), zap.Error(err))
		h.writeErrorResponse(w, http.StatusInternalServerError, "database_error", "Failed to retrieve audit records")
		return
	}
	if len(records) == 0 {
		h.writeErrorResponse(w, http.StatusNotFound, "audit_not_found", "No audit records for transaction")
		return
	}

	h.writeJSONResponse(w, http.StatusOK, AuditResponse{TxHash: txHash, Records: records})
}

// GetCheckpoint handles GET /api/checkpoint
func (h *IntentHandler) GetCheckpoint(w http.ResponseWriter, r *http.Request) {
	checkpoint, err := h.checkpoints.GetCheckpoint(r.Context())
	if errors.Is(err, repository.ErrCheckpointNotFound) {
		h.writeErrorResponse(w, http.StatusNotFound, "checkpoint_not_found", "Crawler has not started yet")
		return
	}
	if err != nil {
		h.logger.Error("Failed to get checkpoint", zap.Error(err))
		h.writeErrorResponse(w, http.StatusInternalServerError, "database_error", "Failed to retrieve checkpoint")
		return
	}

	h.writeJSONResponse(w, http.StatusOK, CheckpointResponse{
		LastProcessedBlock: checkpoint.LastProcessedBlock,
		UpdatedAt:          checkpoint.UpdatedAt,
	})
}

func toIntentResponse(intent model.Intent) IntentResponse {
	return IntentResponse{
		Intent:                  intent,
		AmountFormatted:         formatProtocolAmount(intent.Amount),
		ExpectedOutputFormatted: formatProtocolAmount(intent.ExpectedOutput),
	}
}

func parseLimit(r *http.Request) (int, bool) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return defaultListLimit, true
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit <= 0 {
		return 0, false
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	return limit, true
}

// formatProtocolAmount renders a raw 18-decimal integer string; unparseable input is returned as is.
func formatProtocolAmount(raw string) string {
	amount, err := assets.ParseAmount(raw, 0)
	if err != nil {
		return raw
	}
	return assets.FormatAmount(amount, assets.ProtocolDecimals)
}
