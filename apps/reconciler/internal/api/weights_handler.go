package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"shield/apps/reconciler/internal/model"
	"shield/apps/reconciler/internal/submitter"
	"shield/apps/reconciler/internal/weights"
)

type RecommendationReader interface {
	GetLatestRecommendation(ctx context.Context) (*model.WeightRecommendation, error)
}

type WeightUpdater interface {
	CurrentWeights(ctx context.Context) ([]uint64, error)
	Apply(ctx context.Context, index, newBps uint64) (common.Hash, error)
}

type WeightsHandler struct {
	responder
	recommendations RecommendationReader
	recommender     weights.Recommender
	updater         WeightUpdater
}

func NewWeightsHandler(recommendations RecommendationReader, recommender weights.Recommender, updater WeightUpdater, logger *zap.Logger) *WeightsHandler {
	return &WeightsHandler{
		responder:       responder{logger: logger},
		recommendations: recommendations,
		recommender:     recommender,
		updater:         updater,
	}
}

// GetLatestRecommendation handles GET /api/recommendations/latest. Nothing is applied;
// the operator submits each change through the admin endpoint.
func (h *WeightsHandler) GetLatestRecommendation(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	rec, err := h.recommendations.GetLatestRecommendation(ctx)
	if err != nil {
		h.logger.Error("Failed to get recommendation", zap.Error(err))
		h.writeErrorResponse(w, http.StatusInternalServerError, "database_error", "Failed to retrieve recommendation")
		return
	}
	if rec == nil {
		h.writeErrorResponse(w, http.StatusNotFound, "recommendation_not_found", "No weight recommendation received yet")
		return
	}

	current, err := h.updater.CurrentWeights(ctx)
	if err != nil {
		h.logger.Error("Failed to read basket weights", zap.Error(err))
		h.writeErrorResponse(w, http.StatusBadGateway, "chain_error", "Failed to read on-chain basket weights")
		return
	}

	target, err := h.recommender.Recommend(ctx, rec.Regime, current, nil)
	if err != nil {
		h.writeErrorResponse(w, http.StatusConflict, "recommendation_mismatch", err.Error())
		return
	}
	changes, err := weights.Diff(current, target)
	if err != nil {
		h.writeErrorResponse(w, http.StatusConflict, "recommendation_mismatch", err.Error())
		return
	}

	h.writeJSONResponse(w, http.StatusOK, RecommendationResponse{
		Recommendation: *rec,
		CurrentWeights: current,
		Changes:        changes,
	})
}

// UpdateWeight handles POST /api/admin/weights
func (h *WeightsHandler) UpdateWeight(w http.ResponseWriter, r *http.Request) {
	var req WeightUpdateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeErrorResponse(w, http.StatusBadRequest, "invalid_request_body", "Invalid JSON in request body")
		return
	}
	if req.BasketIndex == nil || req.NewWeightBps == nil {
		h.writeErrorResponse(w, http.StatusBadRequest, "missing_fields", "basket_index and new_weight_bps are required")
		return
	}

	txHash, err := h.updater.Apply(r.Context(), *req.BasketIndex, *req.NewWeightBps)
	switch {
	case err == nil:
	case errors.Is(err, weights.ErrIndexOutOfRange):
		h.writeErrorResponse(w, http.StatusBadRequest, "index_out_of_range", err.Error())
		return
	case errors.Is(err, weights.ErrInvalidTotalWeight):
		h.writeErrorResponse(w, http.StatusUnprocessableEntity, "invalid_total_weight", err.Error())
		return
	case errors.Is(err, submitter.ErrTxFailed), errors.Is(err, submitter.ErrReceiptTimeout):
		h.logger.Error("Weight update transaction failed", zap.Uint64("basket_index", *req.BasketIndex), zap.Error(err))
		resp := ErrorResponse{Error: "transaction_failed", Message: err.Error()}
		if txHash != (common.Hash{}) {
			resp.TxHash = txHash.Hex()
		}
		h.writeJSONResponse(w, http.StatusBadGateway, resp)
		return
	default:
		h.logger.Error("Weight update failed", zap.Uint64("basket_index", *req.BasketIndex), zap.Error(err))
		h.writeErrorResponse(w, http.StatusBadGateway, "chain_error", "Failed to submit weight update")
		return
	}

	h.logger.Info("Basket weight updated",
		zap.Uint64("basket_index", *req.BasketIndex),
		zap.Uint64("new_weight_bps", *req.NewWeightBps),
		zap.String("tx_hash", txHash.Hex()))

	h.writeJSONResponse(w, http.StatusOK, WeightUpdateResponse{
		BasketIndex:  *req.BasketIndex,
		NewWeightBps: *req.NewWeightBps,
		TxHash:       txHash.Hex(),
	})
}
