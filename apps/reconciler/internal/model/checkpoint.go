package model

import (
	"time"
)

type Checkpoint struct {
	LastProcessedBlock uint64    `db:"last_processed_block" json:"last_processed_block"`
	UpdatedAt          time.Time `db:"updated_at" json:"updated_at"`
}
