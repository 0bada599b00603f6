package model

import (
	"time"
)

// WeightRecommendation is a target weight vector published by the advisory engine.
type WeightRecommendation struct {
	ID            string    `db:"id" json:"id"`
	Regime        string    `db:"regime" json:"regime"`
	TargetWeights []uint64  `db:"target_weights" json:"target_weights"` // bps, index-aligned with the on-chain basket
	Source        string    `db:"source" json:"source"`
	ReceivedAt    time.Time `db:"received_at" json:"received_at"`
}
