package model

import (
	"encoding/json"
	"time"
)

const (
	OutboxStatusUnsent     = "unsent"
	OutboxStatusProcessing = "processing"
	OutboxStatusSent       = "sent"
)

// OutboxEvent is relayed to Kafka by the event publisher.
// EventKey is unique per logical fact so replays never enqueue twice.
type OutboxEvent struct {
	EventKey  string          `db:"event_key" json:"event_key"`
	EventType string          `db:"event_type" json:"event_type"`
	Subject   string          `db:"subject" json:"subject"` // intent id, tx hash or snapshot id; used as the Kafka key
	Status    string          `db:"status" json:"status"`
	Payload   json.RawMessage `db:"payload" json:"payload"`
	CreatedAt time.Time       `db:"created_at" json:"created_at"`
}
