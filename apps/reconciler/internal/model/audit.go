package model

import (
	"encoding/json"
	"time"
)

type AuditEventType string

const (
	AuditDepositProcessed        AuditEventType = "DepositProcessed"
	AuditWithdrawalProcessed     AuditEventType = "WithdrawalProcessed"
	AuditBasketAllocationUpdated AuditEventType = "BasketAllocationUpdated"
	AuditRebalanceExecuted       AuditEventType = "RebalanceExecuted"
)

// AuditRecord is an append-only copy of a decoded basket manager event.
// (TxHash, LogIndex) is the identity; a transaction may emit the same event more than once.
type AuditRecord struct {
	TxHash      string          `db:"tx_hash" json:"tx_hash"`
	LogIndex    uint            `db:"log_index" json:"log_index"`
	BlockNumber uint64          `db:"block_number" json:"block_number"`
	EventType   AuditEventType  `db:"event_type" json:"event_type"`
	Payload     json.RawMessage `db:"payload" json:"payload"`
	CreatedAt   time.Time       `db:"created_at" json:"created_at"`
}
