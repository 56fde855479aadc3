// Package orchestrator drives the mutating operations: validate, check
// ownership, sign, submit, wait for settlement, then apply the local
// state mutation the chain will confirm on the next reconciliation.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strconv"
	"strings"
	"time"

	"github.com/calyptra-labs/stakedeck/internal/config"
	"github.com/calyptra-labs/stakedeck/internal/monitoring"
	"github.com/calyptra-labs/stakedeck/internal/retry"
	"github.com/calyptra-labs/stakedeck/internal/state"
	"github.com/calyptra-labs/stakedeck/internal/types"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

const (
	defaultReceiptPoll = 3 * time.Second
	defaultMineTimeout = 5 * time.Minute
)

// Signer produces transaction options for the configured chain
type Signer interface {
	Address() (common.Address, error)
	NewTransactor(chainID *big.Int) (*bind.TransactOpts, error)
}

// CollectionContract is the collection surface operations use
type CollectionContract interface {
	OwnerOf(ctx context.Context, tokenID *big.Int) (common.Address, error)
	GetApproved(ctx context.Context, tokenID *big.Int) (common.Address, error)
	TotalSupply(ctx context.Context) (*big.Int, error)
	MaxSupply(ctx context.Context) (*big.Int, error)
	MintPrice(ctx context.Context) (*big.Int, error)
	IsWhitelisted(ctx context.Context, account common.Address) (bool, error)
	Approve(opts *bind.TransactOpts, to common.Address, tokenID *big.Int) (*ethtypes.Transaction, error)
	Mint(opts *bind.TransactOpts, quantity *big.Int) (*ethtypes.Transaction, error)
}

// StakingContract is the staking surface operations use
type StakingContract interface {
	Address() common.Address
	Vault(ctx context.Context, tokenID *big.Int) (*types.StakeRecord, error)
	StakeNFT(opts *bind.TransactOpts, tokenID *big.Int) (*ethtypes.Transaction, error)
	UnstakeAndRemove(opts *bind.TransactOpts, tokenID *big.Int) (*ethtypes.Transaction, error)
	ClaimRewards(opts *bind.TransactOpts) (*ethtypes.Transaction, error)
	DepositRewards(opts *bind.TransactOpts) (*ethtypes.Transaction, error)
	UpdateDailyRewardCap(opts *bind.TransactOpts, newCap *big.Int) (*ethtypes.Transaction, error)
	InitiateEmergencyWithdraw(opts *bind.TransactOpts, recipient common.Address, amount *big.Int) (*ethtypes.Transaction, error)
	CompleteEmergencyWithdraw(opts *bind.TransactOpts) (*ethtypes.Transaction, error)
}

// Receipts resolves submitted transactions to receipts
type Receipts interface {
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*ethtypes.Receipt, error)
}

// Reconciler schedules the settle-delay reconciliation pass
type Reconciler interface {
	ScheduleAfter(ctx context.Context, delay time.Duration)
}

// Kicker forces an immediate reward refresh
type Kicker interface {
	Kick()
}

// Orchestrator runs each operation through the pending lifecycle. There
// is no orchestration-level auto-retry: a failed operation stays failed
// until the user triggers it again.
type Orchestrator struct {
	cfg        *config.Config
	signer     Signer
	collection CollectionContract
	staking    StakingContract
	receipts   Receipts
	caller     *retry.Caller
	store      *state.Store
	reconciler Reconciler
	refresher  Kicker
	logger     zerolog.Logger

	// appCtx outlives request contexts so a settle-delay pass scheduled
	// by an API call is not dropped when the request ends
	appCtx      context.Context
	pollEvery   time.Duration
	mineTimeout time.Duration
}

// NewOrchestrator wires an orchestrator. appCtx bounds background work
// the orchestrator schedules past an operation's own lifetime.
func NewOrchestrator(appCtx context.Context, cfg *config.Config, signer Signer, collection CollectionContract, staking StakingContract, receipts Receipts, caller *retry.Caller, store *state.Store, reconciler Reconciler, refresher Kicker, logger zerolog.Logger) *Orchestrator {
	return &Orchestrator{
		cfg:         cfg,
		signer:      signer,
		collection:  collection,
		staking:     staking,
		receipts:    receipts,
		caller:      caller,
		store:       store,
		reconciler:  reconciler,
		refresher:   refresher,
		logger:      logger.With().Str("component", "orchestrator").Logger(),
		appCtx:      appCtx,
		pollEvery:   defaultReceiptPoll,
		mineTimeout: defaultMineTimeout,
	}
}

// Stake approves the staking contract for the token when needed, then
// stakes it. The two transactions are independent: an approval that
// lands before a failed stake is left in place and reused on retry.
func (o *Orchestrator) Stake(ctx context.Context, tokenID uint64) (*types.PendingOperation, error) {
	address, ok := o.store.SessionAddress()
	if !ok {
		return nil, fmt.Errorf("no active wallet session: %w", types.ErrWalletUnavailable)
	}

	id := new(big.Int).SetUint64(tokenID)
	owner, err := retry.Value(ctx, o.caller, "owner_of", func(ctx context.Context) (common.Address, error) {
		return o.collection.OwnerOf(ctx, id)
	})
	if err != nil {
		return nil, err
	}
	if owner != address {
		return nil, fmt.Errorf("token %d is owned by %s, not the session account: %w", tokenID, owner.Hex(), types.ErrOwnershipMismatch)
	}

	op := types.NewPendingOperation(types.OperationStake).WithToken(tokenID)
	o.store.PutOperation(op)
	start := time.Now()

	return o.conclude(op, start, fmt.Sprintf("token %d staked", tokenID), o.stakeFlow(ctx, op, id, tokenID))
}

func (o *Orchestrator) stakeFlow(ctx context.Context, op *types.PendingOperation, id *big.Int, tokenID uint64) error {
	opts, err := o.transactor()
	if err != nil {
		return err
	}

	approved, err := retry.Value(ctx, o.caller, "get_approved", func(ctx context.Context) (common.Address, error) {
		return o.collection.GetApproved(ctx, id)
	})
	if err != nil {
		return err
	}

	if approved != o.staking.Address() {
		if err := o.submit(ctx, op, func() (*ethtypes.Transaction, error) {
			return o.collection.Approve(opts, o.staking.Address(), id)
		}); err != nil {
			return fmt.Errorf("approval: %w", err)
		}
	}

	if err := o.submit(ctx, op, func() (*ethtypes.Transaction, error) {
		return o.staking.StakeNFT(opts, id)
	}); err != nil {
		return err
	}

	if !o.store.MoveToStaked(tokenID) {
		o.logger.Debug().Uint64("token_id", tokenID).Msg("Staked token was not in the owned set, reconciliation will pick it up")
	}
	o.store.AdjustTotalStaked(1)
	o.settle()
	return nil
}

// Unstake returns a staked token to the wallet
func (o *Orchestrator) Unstake(ctx context.Context, tokenID uint64) (*types.PendingOperation, error) {
	address, ok := o.store.SessionAddress()
	if !ok {
		return nil, fmt.Errorf("no active wallet session: %w", types.ErrWalletUnavailable)
	}

	id := new(big.Int).SetUint64(tokenID)
	record, err := retry.Value(ctx, o.caller, "vault", func(ctx context.Context) (*types.StakeRecord, error) {
		return o.staking.Vault(ctx, id)
	})
	if err != nil {
		return nil, err
	}
	if record.Staker != address {
		return nil, fmt.Errorf("token %d is staked by %s, not the session account: %w", tokenID, record.Staker.Hex(), types.ErrOwnershipMismatch)
	}

	op := types.NewPendingOperation(types.OperationUnstake).WithToken(tokenID)
	o.store.PutOperation(op)
	start := time.Now()

	err = func() error {
		if err := o.submit(ctx, op, func() (*ethtypes.Transaction, error) {
			opts, err := o.transactor()
			if err != nil {
				return nil, err
			}
			return o.staking.UnstakeAndRemove(opts, id)
		}); err != nil {
			return err
		}

		if !o.store.MoveToOwned(tokenID) {
			o.logger.Debug().Uint64("token_id", tokenID).Msg("Unstaked token was not in the staked set, reconciliation will pick it up")
		}
		o.store.AdjustTotalStaked(-1)
		o.settle()
		return nil
	}()

	return o.conclude(op, start, fmt.Sprintf("token %d unstaked", tokenID), err)
}

// Claim pays out the accrued rewards to the session account
func (o *Orchestrator) Claim(ctx context.Context) (*types.PendingOperation, error) {
	if _, ok := o.store.SessionAddress(); !ok {
		return nil, fmt.Errorf("no active wallet session: %w", types.ErrWalletUnavailable)
	}

	op := types.NewPendingOperation(types.OperationClaim)
	o.store.PutOperation(op)
	start := time.Now()

	err := o.submit(ctx, op, func() (*ethtypes.Transaction, error) {
		opts, err := o.transactor()
		if err != nil {
			return nil, err
		}
		return o.staking.ClaimRewards(opts)
	})
	if err == nil {
		o.store.ZeroEarned()
		o.refresher.Kick()
	}

	return o.conclude(op, start, "rewards claimed", err)
}

// Mint mints new tokens to the session account, paying the on-chain
// price per token. The whitelist and the remaining supply are checked
// first so a mint the contract would revert never reaches the wallet.
func (o *Orchestrator) Mint(ctx context.Context, quantity uint64) (*types.PendingOperation, error) {
	address, ok := o.store.SessionAddress()
	if !ok {
		return nil, fmt.Errorf("no active wallet session: %w", types.ErrWalletUnavailable)
	}
	if quantity == 0 {
		return nil, fmt.Errorf("mint quantity must be at least 1: %w", types.ErrValidation)
	}

	whitelisted, err := retry.Value(ctx, o.caller, "is_whitelisted", func(ctx context.Context) (bool, error) {
		return o.collection.IsWhitelisted(ctx, address)
	})
	if err != nil {
		return nil, err
	}
	if !whitelisted {
		return nil, fmt.Errorf("account %s is not on the mint whitelist: %w", address.Hex(), types.ErrOwnershipMismatch)
	}

	maxSupply, err := retry.Value(ctx, o.caller, "max_supply", func(ctx context.Context) (*big.Int, error) {
		return o.collection.MaxSupply(ctx)
	})
	if err != nil {
		return nil, err
	}
	minted, err := retry.Value(ctx, o.caller, "total_supply", func(ctx context.Context) (*big.Int, error) {
		return o.collection.TotalSupply(ctx)
	})
	if err != nil {
		return nil, err
	}
	remaining := new(big.Int).Sub(maxSupply, minted)
	if remaining.Cmp(new(big.Int).SetUint64(quantity)) < 0 {
		return nil, fmt.Errorf("mint quantity %d exceeds the %s token(s) left in the collection: %w", quantity, remaining, types.ErrValidation)
	}

	price, err := retry.Value(ctx, o.caller, "mint_price", func(ctx context.Context) (*big.Int, error) {
		return o.collection.MintPrice(ctx)
	})
	if err != nil {
		return nil, err
	}

	op := types.NewPendingOperation(types.OperationMint).WithAmount(strconv.FormatUint(quantity, 10))
	o.store.PutOperation(op)
	start := time.Now()

	err = func() error {
		opts, err := o.transactor()
		if err != nil {
			return err
		}
		opts.Value = new(big.Int).Mul(price, new(big.Int).SetUint64(quantity))

		if err := o.submit(ctx, op, func() (*ethtypes.Transaction, error) {
			return o.collection.Mint(opts, new(big.Int).SetUint64(quantity))
		}); err != nil {
			return err
		}
		o.settle()
		return nil
	}()

	return o.conclude(op, start, fmt.Sprintf("%d token(s) minted", quantity), err)
}

// Deposit funds the reward pool with a decimal amount of the native
// currency
func (o *Orchestrator) Deposit(ctx context.Context, amount string) (*types.PendingOperation, error) {
	if _, ok := o.store.SessionAddress(); !ok {
		return nil, fmt.Errorf("no active wallet session: %w", types.ErrWalletUnavailable)
	}
	value, err := o.parseAmount(amount)
	if err != nil {
		return nil, err
	}

	op := types.NewPendingOperation(types.OperationDeposit).WithAmount(amount)
	o.store.PutOperation(op)
	start := time.Now()

	err = o.submit(ctx, op, func() (*ethtypes.Transaction, error) {
		opts, err := o.transactor()
		if err != nil {
			return nil, err
		}
		opts.Value = value
		return o.staking.DepositRewards(opts)
	})
	if err == nil {
		o.refresher.Kick()
	}

	return o.conclude(op, start, fmt.Sprintf("deposited %s into the reward pool", amount), err)
}

// UpdateDailyCap sets the contract-wide daily reward cap from a decimal
// amount
func (o *Orchestrator) UpdateDailyCap(ctx context.Context, amount string) (*types.PendingOperation, error) {
	if _, ok := o.store.SessionAddress(); !ok {
		return nil, fmt.Errorf("no active wallet session: %w", types.ErrWalletUnavailable)
	}
	value, err := o.parseAmount(amount)
	if err != nil {
		return nil, err
	}

	op := types.NewPendingOperation(types.OperationAdminUpdate).WithAmount(amount)
	o.store.PutOperation(op)
	start := time.Now()

	err = o.submit(ctx, op, func() (*ethtypes.Transaction, error) {
		opts, err := o.transactor()
		if err != nil {
			return nil, err
		}
		return o.staking.UpdateDailyRewardCap(opts, value)
	})
	if err == nil {
		o.refresher.Kick()
	}

	return o.conclude(op, start, fmt.Sprintf("daily reward cap set to %s", amount), err)
}

// InitiateEmergencyWithdraw starts the timelocked withdrawal of pool
// funds to a recipient
func (o *Orchestrator) InitiateEmergencyWithdraw(ctx context.Context, recipient string, amount string) (*types.PendingOperation, error) {
	if _, ok := o.store.SessionAddress(); !ok {
		return nil, fmt.Errorf("no active wallet session: %w", types.ErrWalletUnavailable)
	}
	if !common.IsHexAddress(recipient) {
		return nil, fmt.Errorf("recipient %q is not a valid address: %w", recipient, types.ErrValidation)
	}
	value, err := o.parseAmount(amount)
	if err != nil {
		return nil, err
	}

	op := types.NewPendingOperation(types.OperationEmergencyWithdraw).WithAmount(amount)
	o.store.PutOperation(op)
	start := time.Now()

	err = o.submit(ctx, op, func() (*ethtypes.Transaction, error) {
		opts, err := o.transactor()
		if err != nil {
			return nil, err
		}
		return o.staking.InitiateEmergencyWithdraw(opts, common.HexToAddress(recipient), value)
	})
	if err == nil {
		o.refresher.Kick()
	}

	return o.conclude(op, start, fmt.Sprintf("emergency withdrawal of %s initiated to %s", amount, recipient), err)
}

// CompleteEmergencyWithdraw finishes a matured withdrawal
func (o *Orchestrator) CompleteEmergencyWithdraw(ctx context.Context) (*types.PendingOperation, error) {
	if _, ok := o.store.SessionAddress(); !ok {
		return nil, fmt.Errorf("no active wallet session: %w", types.ErrWalletUnavailable)
	}

	op := types.NewPendingOperation(types.OperationEmergencyWithdraw)
	o.store.PutOperation(op)
	start := time.Now()

	err := o.submit(ctx, op, func() (*ethtypes.Transaction, error) {
		opts, err := o.transactor()
		if err != nil {
			return nil, err
		}
		return o.staking.CompleteEmergencyWithdraw(opts)
	})
	if err == nil {
		o.refresher.Kick()
	}

	return o.conclude(op, start, "emergency withdrawal completed", err)
}

// submit sends one transaction and waits for it to settle. The raw
// provider message travels with any failure.
func (o *Orchestrator) submit(ctx context.Context, op *types.PendingOperation, send func() (*ethtypes.Transaction, error)) error {
	tx, err := send()
	if err != nil {
		return fmt.Errorf("%v: %w", err, types.ErrTransactionReverted)
	}

	op.RecordTx(tx.Hash().Hex())
	o.store.PutOperation(op)
	o.logger.Info().Str("tx_hash", tx.Hash().Hex()).Str("operation", op.ID).Msg("Transaction submitted")

	receipt, err := o.waitMined(ctx, tx.Hash())
	if err != nil {
		return err
	}
	if receipt.Status != ethtypes.ReceiptStatusSuccessful {
		return fmt.Errorf("transaction %s reverted on chain: %w", tx.Hash().Hex(), types.ErrTransactionReverted)
	}
	return nil
}

// waitMined polls for the receipt until the transaction settles or the
// timeout ends. The poll loop is its own resilience here; a missing
// receipt just means still pending.
func (o *Orchestrator) waitMined(ctx context.Context, txHash common.Hash) (*ethtypes.Receipt, error) {
	ctx, cancel := context.WithTimeout(ctx, o.mineTimeout)
	defer cancel()

	ticker := time.NewTicker(o.pollEvery)
	defer ticker.Stop()

	for {
		receipt, err := o.receipts.TransactionReceipt(ctx, txHash)
		if err == nil && receipt != nil {
			return receipt, nil
		}
		if err != nil && !errors.Is(err, ethereum.NotFound) {
			o.logger.Debug().Err(err).Str("tx_hash", txHash.Hex()).Msg("Receipt poll failed")
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("gave up waiting for transaction %s: %w", txHash.Hex(), ctx.Err())
		case <-ticker.C:
		}
	}
}

// settle kicks the refresher and schedules the post-settlement
// reconciliation pass on the application context
func (o *Orchestrator) settle() {
	o.refresher.Kick()
	o.reconciler.ScheduleAfter(o.appCtx, o.cfg.Refresh.SettleDelayDuration())
}

func (o *Orchestrator) conclude(op *types.PendingOperation, start time.Time, successMessage string, err error) (*types.PendingOperation, error) {
	if err != nil {
		op.Fail(err.Error())
		o.store.PutOperation(op)
		monitoring.RecordOperation(string(op.Kind), string(types.OperationStatusFailed), time.Since(start).Seconds())
		if len(op.TxHashes) > 0 {
			monitoring.OptimisticRollbacksTotal.WithLabelValues(string(op.Kind)).Inc()
		}
		o.logger.Warn().Err(err).Str("operation", op.ID).Str("kind", string(op.Kind)).Msg("Operation failed")
		return op, err
	}

	op.Succeed(successMessage)
	o.store.PutOperation(op)
	monitoring.RecordOperation(string(op.Kind), string(types.OperationStatusSuccess), time.Since(start).Seconds())
	o.logger.Info().Str("operation", op.ID).Str("kind", string(op.Kind)).Dur("took", time.Since(start)).Msg("Operation settled")
	return op, nil
}

func (o *Orchestrator) transactor() (*bind.TransactOpts, error) {
	return o.signer.NewTransactor(new(big.Int).SetUint64(o.cfg.Network.ChainID))
}

// parseAmount converts decimal display input into base units
func (o *Orchestrator) parseAmount(input string) (*big.Int, error) {
	trimmed := strings.TrimSpace(input)
	if trimmed == "" {
		return nil, fmt.Errorf("amount is required: %w", types.ErrValidation)
	}

	value, err := decimal.NewFromString(trimmed)
	if err != nil {
		return nil, fmt.Errorf("amount %q is not numeric: %w", input, types.ErrValidation)
	}
	if value.Sign() <= 0 {
		return nil, fmt.Errorf("amount must be positive: %w", types.ErrValidation)
	}

	base := value.Shift(int32(o.cfg.Network.CurrencyDecimals))
	if !base.IsInteger() {
		return nil, fmt.Errorf("amount %q exceeds %d decimal places: %w", input, o.cfg.Network.CurrencyDecimals, types.ErrValidation)
	}
	return base.BigInt(), nil
}
