package types

import (
	"time"

	"github.com/google/uuid"
)

// OperationKind represents the kind of chain-mutating operation
type OperationKind string

const (
	OperationMint              OperationKind = "MINT"
	OperationStake             OperationKind = "STAKE"
	OperationUnstake           OperationKind = "UNSTAKE"
	OperationClaim             OperationKind = "CLAIM"
	OperationDeposit           OperationKind = "DEPOSIT"
	OperationAdminUpdate       OperationKind = "ADMIN_UPDATE"
	OperationEmergencyWithdraw OperationKind = "EMERGENCY_WITHDRAW"
)

// OperationStatus represents the lifecycle state of a pending operation
type OperationStatus string

const (
	OperationStatusPending OperationStatus = "PENDING"
	OperationStatusSuccess OperationStatus = "SUCCESS"
	OperationStatusFailed  OperationStatus = "FAILED"
)

// PendingOperation tracks one user-initiated transaction flow from
// submission through settlement. A flow may span more than one
// transaction (approve followed by stake), so it carries a hash list.
type PendingOperation struct {
	ID      string          `json:"id"`
	Kind    OperationKind   `json:"kind"`
	TokenID *uint64         `json:"token_id,omitempty"`
	Amount  string          `json:"amount,omitempty"`
	Status  OperationStatus `json:"status"`

	TxHashes []string `json:"tx_hashes,omitempty"`
	Message  string   `json:"message,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewPendingOperation creates a pending operation record
func NewPendingOperation(kind OperationKind) *PendingOperation {
	now := time.Now()
	return &PendingOperation{
		ID:        uuid.New().String(),
		Kind:      kind,
		Status:    OperationStatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// WithToken attaches the subject token ID
func (op *PendingOperation) WithToken(tokenID uint64) *PendingOperation {
	op.TokenID = &tokenID
	return op
}

// WithAmount attaches the user-supplied amount in display units
func (op *PendingOperation) WithAmount(amount string) *PendingOperation {
	op.Amount = amount
	return op
}

// RecordTx appends a transaction hash to the flow
func (op *PendingOperation) RecordTx(hash string) {
	op.TxHashes = append(op.TxHashes, hash)
	op.UpdatedAt = time.Now()
}

// Succeed marks the operation successful
func (op *PendingOperation) Succeed(message string) {
	op.Status = OperationStatusSuccess
	op.Message = message
	op.UpdatedAt = time.Now()
}

// Fail marks the operation failed with the raw provider message
func (op *PendingOperation) Fail(message string) {
	op.Status = OperationStatusFailed
	op.Message = message
	op.UpdatedAt = time.Now()
}
