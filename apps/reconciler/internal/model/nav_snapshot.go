package model

import (
	"time"
)

// NAVSnapshot is written once per calculator run. TxHash is nil when the oracle submission failed.
type NAVSnapshot struct {
	ID                string    `db:"id" json:"id"`
	NAVPerToken       string    `db:"nav_per_token" json:"nav_per_token"`             // 18 decimals
	TotalManagedValue string    `db:"total_managed_value" json:"total_managed_value"` // 18 decimals
	ShieldSupply      string    `db:"shield_supply" json:"shield_supply"`             // 18 decimals
	Timestamp         int64     `db:"nav_timestamp" json:"nav_timestamp"`             // signed timestamp, unix seconds
	Trigger           string    `db:"trigger" json:"trigger"`
	TxHash            *string   `db:"tx_hash" json:"tx_hash"`
	CreatedAt         time.Time `db:"created_at" json:"created_at"`
}
