package types

import "errors"

// Error taxonomy surfaced by every component. Callers wrap these with
// fmt.Errorf("...: %w", ...) so errors.Is matching works across layers,
// and the console API maps them onto stable error codes.
var (
	// ErrWalletUnavailable means the wallet provider is absent or locked.
	ErrWalletUnavailable = errors.New("wallet unavailable")

	// ErrUnrecognizedChain is returned by a wallet switch attempt when the
	// target chain is not registered with the provider. The connector reacts
	// by running the add-network flow.
	ErrUnrecognizedChain = errors.New("unrecognized chain")

	// ErrChainSwitchRejected means the network switch was refused, including
	// the retry after a successful network add.
	ErrChainSwitchRejected = errors.New("chain switch rejected")

	// ErrChainAddFailed means the add-network flow itself failed.
	ErrChainAddFailed = errors.New("chain add failed")

	// ErrRPCExhausted means the resilient caller used up every attempt.
	ErrRPCExhausted = errors.New("rpc attempts exhausted")

	// ErrValidation means user input was rejected before any transaction
	// was submitted.
	ErrValidation = errors.New("validation failed")

	// ErrOwnershipMismatch means an on-chain ownership or eligibility
	// check contradicted the requested operation.
	ErrOwnershipMismatch = errors.New("ownership mismatch")

	// ErrTransactionReverted means a submitted transaction failed on-chain.
	ErrTransactionReverted = errors.New("transaction reverted")
)
