package model

import (
	"time"
)

type IntentKind string

const (
	IntentKindMint   IntentKind = "MINT"
	IntentKindRedeem IntentKind = "REDEEM"
)

type IntentStatus string

const (
	IntentStatusPending   IntentStatus = "PENDING"
	IntentStatusProcessed IntentStatus = "PROCESSED"
	IntentStatusFailed    IntentStatus = "FAILED"
	IntentStatusExpired   IntentStatus = "EXPIRED"
)

// IsTerminal reports whether no further transition may leave this status.
func (s IntentStatus) IsTerminal() bool {
	return s == IntentStatusProcessed || s == IntentStatusFailed || s == IntentStatusExpired
}

// CanTransitionTo only allows PENDING to move, and only into a terminal status.
func (s IntentStatus) CanTransitionTo(next IntentStatus) bool {
	return s == IntentStatusPending && next.IsTerminal()
}

func (s IntentStatus) Valid() bool {
	switch s {
	case IntentStatusPending, IntentStatusProcessed, IntentStatusFailed, IntentStatusExpired:
		return true
	}
	return false
}

// Intent is a mint or redeem request recorded from a *IntentCreated event.
// Amount fields hold raw 18-decimal fixed-point integers as decimal strings.
type Intent struct {
	IntentID        string       `db:"intent_id" json:"intent_id"` // 0x-prefixed bytes32
	Kind            IntentKind   `db:"kind" json:"kind"`
	UserAddress     string       `db:"user_address" json:"user_address"`
	Asset           string       `db:"asset" json:"asset"`   // deposit asset (mint) or output asset (redeem)
	Amount          string       `db:"amount" json:"amount"` // deposit amount (mint) or shield amount (redeem)
	LockedNAV       string       `db:"locked_nav" json:"locked_nav"`
	ExpectedOutput  string       `db:"expected_output" json:"expected_output"`
	ExecutionFee    string       `db:"execution_fee" json:"execution_fee"`
	ExpiresAt       int64        `db:"expires_at" json:"expires_at"`
	Status          IntentStatus `db:"status" json:"status"`
	BlockNumber     uint64       `db:"block_number" json:"block_number"`
	TxHash          string       `db:"tx_hash" json:"tx_hash"`
	ExecutionTxHash *string      `db:"execution_tx_hash" json:"execution_tx_hash"` // nullable
	// set once an execution transaction may have been broadcast
	ExecutionAttemptedAt *time.Time `db:"execution_attempted_at" json:"execution_attempted_at,omitempty"`
	CreatedAt            time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt            time.Time  `db:"updated_at" json:"updated_at"`
}
