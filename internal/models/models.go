package models

import (
	"math/big"
	"time"
)

// ClaimStatus is the lifecycle state of a single faucet claim.
type ClaimStatus string

const (
	ClaimStatusQueue      ClaimStatus = "QUEUE"
	ClaimStatusProcessing ClaimStatus = "PROCESSING"
	ClaimStatusPending    ClaimStatus = "PENDING"
	ClaimStatusConfirmed  ClaimStatus = "CONFIRMED"
	ClaimStatusFailed     ClaimStatus = "FAILED"
)

// IsTerminal reports whether no further transition is possible for status.
func (s ClaimStatus) IsTerminal() bool {
	return s == ClaimStatusConfirmed || s == ClaimStatusFailed
}

// SessionStatus is the subset of the upstream session lifecycle this
// subsystem observes. Everything before CLAIMABLE belongs to the
// eligibility/anti-abuse modules and is not modelled here.
type SessionStatus string

const (
	SessionStatusClaimable SessionStatus = "CLAIMABLE"
	SessionStatusClaiming  SessionStatus = "CLAIMING"
)

// Claim is the persisted record of one on-chain settlement attempt.
type Claim struct {
	ClaimIdx  int64       `json:"claimIdx" gorm:"primaryKey;autoIncrement:false"`
	Status    ClaimStatus `json:"status" gorm:"not null"`
	ClaimTime int64       `json:"claimTime" gorm:"not null"` // unix seconds
	TxHash    string      `json:"txHash,omitempty"`
	TxHeight  int64       `json:"txHeight,omitempty"`
	TxFee     string      `json:"txFee,omitempty"`
	TxError   string      `json:"txError,omitempty"`
}

// ClaimInfo binds a Claim to the session and target that requested it.
type ClaimInfo struct {
	SessionID  string `json:"sessionId" gorm:"primaryKey"`
	TargetAddr string `json:"targetAddr" gorm:"not null"`
	Amount     string `json:"amount" gorm:"not null"` // base-unit integer string, never a float
	Claim      Claim  `json:"claim" gorm:"embedded;embeddedPrefix:claim_"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

// WalletState is an immutable snapshot of the dispensing wallet. It is
// replaced wholesale by WalletManager.LoadWalletState, and replaced by
// an optimistically debited copy by WalletManager.SendTokens and
// ExecuteContract after a successful broadcast; never mutated in place.
type WalletState struct {
	Ready         bool
	Sequence      uint64
	TokenBalance  *big.Int
	NativeBalance *big.Int
	RefreshedAt   time.Time
}

// ZeroState is the conservative snapshot published while the wallet is
// unreachable: ready=false, zero balances.
func ZeroState() *WalletState {
	return &WalletState{TokenBalance: big.NewInt(0), NativeBalance: big.NewInt(0)}
}

// RefillState tracks the cooldown bookkeeping for RefillController.
type RefillState struct {
	LastSuccessTime time.Time
	LastAttemptTime time.Time
	InFlight        bool
}

// RefillAction is the decision RefillController reaches for one invocation.
type RefillAction string

const (
	RefillActionNone     RefillAction = "NONE"
	RefillActionRefill   RefillAction = "REFILL"
	RefillActionOverflow RefillAction = "OVERFLOW"
)

// SessionRecord is the GORM row backing the abstract SessionStore the
// pipeline consumes; it carries only the fields this subsystem needs to
// read and write, not the full upstream session shape (eligibility
// state, anti-abuse counters, etc. are out of scope).
type SessionRecord struct {
	SessionID  string        `gorm:"primaryKey;column:session_id"`
	Status     SessionStatus `gorm:"column:status;not null"`
	TargetAddr string        `gorm:"column:target_addr"`
	Amount     string        `gorm:"column:amount"`
	ClaimIdx   int64         `gorm:"column:claim_idx"`
	ClaimJSON  string        `gorm:"column:claim_json;type:jsonb"` // serialized Claim
	CreatedAt  time.Time     `gorm:"column:created_at"`
	UpdatedAt  time.Time     `gorm:"column:updated_at"`
}

func (SessionRecord) TableName() string { return "faucet_sessions" }
