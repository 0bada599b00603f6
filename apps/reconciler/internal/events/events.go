package events

import (
	"encoding/json"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

const (
	NameMintIntentCreated       = "MintIntentCreated"
	NameRedeemIntentCreated     = "RedeemIntentCreated"
	NameDepositProcessed        = "DepositProcessed"
	NameWithdrawalProcessed     = "WithdrawalProcessed"
	NameBasketAllocationUpdated = "BasketAllocationUpdated"
	NameRebalanceExecuted       = "RebalanceExecuted"
)

// Event is a decoded contract log.
type Event interface {
	EventName() string
	Meta() LogMeta
}

// LogMeta locates a log on chain.
type LogMeta struct {
	Contract    common.Address
	TxHash      common.Hash
	BlockNumber uint64
	LogIndex    uint
}

func (m LogMeta) Meta() LogMeta { return m }

type MintIntentCreated struct {
	LogMeta
	IntentID       common.Hash
	User           common.Address
	DepositAsset   common.Address
	DepositAmount  *big.Int
	LockedNAV      *big.Int
	ExpectedShield *big.Int
	ExecutionFee   *big.Int
	ExpiresAt      *big.Int
}

func (MintIntentCreated) EventName() string { return NameMintIntentCreated }

type RedeemIntentCreated struct {
	LogMeta
	IntentID           common.Hash
	User               common.Address
	OutputAsset        common.Address
	ShieldAmount       *big.Int
	LockedNAV          *big.Int
	ExpectedStablecoin *big.Int
	ExecutionFee       *big.Int
	ExpiresAt          *big.Int
}

func (RedeemIntentCreated) EventName() string { return NameRedeemIntentCreated }

// DepositProcessed and WithdrawalProcessed share a shape; ID is the deposit or withdrawal id.
type DepositProcessed struct {
	LogMeta
	DepositID *big.Int
	User      common.Address
	Amount    *big.Int
	Success   bool
}

func (DepositProcessed) EventName() string { return NameDepositProcessed }

type WithdrawalProcessed struct {
	LogMeta
	WithdrawalID *big.Int
	User         common.Address
	Amount       *big.Int
	Success      bool
}

func (WithdrawalProcessed) EventName() string { return NameWithdrawalProcessed }

type BasketAllocationUpdated struct {
	LogMeta
	BasketIndex  *big.Int
	OldWeightBps *big.Int
	NewWeightBps *big.Int
}

func (BasketAllocationUpdated) EventName() string { return NameBasketAllocationUpdated }

type RebalanceExecuted struct {
	LogMeta
	FromToken common.Address
	ToToken   common.Address
	Amount    *big.Int
	Timestamp *big.Int
}

func (RebalanceExecuted) EventName() string { return NameRebalanceExecuted }

// ProtocolEvent is the envelope published to Kafka for every outbox row.
type ProtocolEvent struct {
	EventKey  string          `json:"event_key"`
	EventType string          `json:"event_type"`
	Subject   string          `json:"subject"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt time.Time       `json:"created_at"`
	Timestamp time.Time       `json:"timestamp"`
}

// WeightRecommendationMessage is consumed from the recommendations topic.
type WeightRecommendationMessage struct {
	Regime        string   `json:"regime"`
	TargetWeights []uint64 `json:"target_weights"`
	Source        string   `json:"source"`
}
