package api

import (
	"time"

	"shield/apps/reconciler/internal/model"
	"shield/apps/reconciler/internal/weights"
)

// CheckpointResponse represents the crawler's progress
type CheckpointResponse struct {
	LastProcessedBlock uint64    `json:"last_processed_block"`
	UpdatedAt          time.Time `json:"updated_at"`
}

// IntentResponse is an intent with its amounts rendered for humans next to the raw values
type IntentResponse struct {
	model.Intent
	AmountFormatted         string `json:"amount_formatted"`
	ExpectedOutputFormatted string `json:"expected_output_formatted"`
}

type IntentListResponse struct {
	Status  model.IntentStatus `json:"status"`
	Intents []IntentResponse   `json:"intents"`
}

type AuditResponse struct {
	TxHash  string              `json:"tx_hash"`
	Records []model.AuditRecord `json:"records"`
}

// SnapshotResponse adds a decimal rendering of the 18-decimal NAV fields
type SnapshotResponse struct {
	model.NAVSnapshot
	NAVPerTokenFormatted       string `json:"nav_per_token_formatted"`
	TotalManagedValueFormatted string `json:"total_managed_value_formatted"`
}

type SnapshotListResponse struct {
	Snapshots []SnapshotResponse `json:"snapshots"`
}

// RecommendationResponse compares the latest advisory vector with the on-chain basket
type RecommendationResponse struct {
	Recommendation model.WeightRecommendation `json:"recommendation"`
	CurrentWeights []uint64                   `json:"current_weights"`
	Changes        []weights.Change           `json:"changes"`
}

// WeightUpdateRequest represents the request body for a single basket weight change
type WeightUpdateRequest struct {
	BasketIndex  *uint64 `json:"basket_index"`
	NewWeightBps *uint64 `json:"new_weight_bps"`
}

type WeightUpdateResponse struct {
	BasketIndex  uint64 `json:"basket_index"`
	NewWeightBps uint64 `json:"new_weight_bps"`
	TxHash       string `json:"tx_hash"`
}

type RecomputeResponse struct {
	Status  string `json:"status"`
	Trigger string `json:"trigger"`
}

// ErrorResponse represents the API error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	TxHash  string `json:"tx_hash,omitempty"`
}
