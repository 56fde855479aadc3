package orchestrator

import (
	"context"
	"errors"
	"math/big"
	"strings"
	"testing"
	"time"

	"github.com/calyptra-labs/stakedeck/internal/config"
	"github.com/calyptra-labs/stakedeck/internal/retry"
	"github.com/calyptra-labs/stakedeck/internal/state"
	"github.com/calyptra-labs/stakedeck/internal/types"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

var (
	sessionAddr = common.HexToAddress("0x1111111111111111111111111111111111111111")
	otherAddr   = common.HexToAddress("0x2222222222222222222222222222222222222222")
	stakingAddr = common.HexToAddress("0x5741Ee3e77a3a0DfF31cBa1Ac77e2AF21cf24aE6")
)

// nextTx builds distinct transactions so every submission gets its own
// hash
var txNonce uint64

func nextTx() *ethtypes.Transaction {
	txNonce++
	return ethtypes.NewTx(&ethtypes.LegacyTx{Nonce: txNonce, Gas: 21000, GasPrice: big.NewInt(1), Value: big.NewInt(0)})
}

type fakeSigner struct {
	addr common.Address
	err  error
}

func (s *fakeSigner) Address() (common.Address, error) { return s.addr, s.err }

func (s *fakeSigner) NewTransactor(chainID *big.Int) (*bind.TransactOpts, error) {
	if s.err != nil {
		return nil, s.err
	}
	return &bind.TransactOpts{From: s.addr}, nil
}

type fakeCollection struct {
	owners    map[uint64]common.Address
	approved  map[uint64]common.Address
	mintPrice *big.Int
	minted    *big.Int
	maxSupply *big.Int
	whitelist map[common.Address]bool

	approveCalls int
	approveErr   error
	mintValue    *big.Int
	mintQuantity *big.Int
}

func (c *fakeCollection) OwnerOf(ctx context.Context, tokenID *big.Int) (common.Address, error) {
	owner, ok := c.owners[tokenID.Uint64()]
	if !ok {
		return common.Address{}, errors.New("ERC721: invalid token ID")
	}
	return owner, nil
}

func (c *fakeCollection) GetApproved(ctx context.Context, tokenID *big.Int) (common.Address, error) {
	return c.approved[tokenID.Uint64()], nil
}

func (c *fakeCollection) TotalSupply(ctx context.Context) (*big.Int, error) {
	return c.minted, nil
}

func (c *fakeCollection) MaxSupply(ctx context.Context) (*big.Int, error) {
	return c.maxSupply, nil
}

func (c *fakeCollection) MintPrice(ctx context.Context) (*big.Int, error) {
	return c.mintPrice, nil
}

func (c *fakeCollection) IsWhitelisted(ctx context.Context, account common.Address) (bool, error) {
	return c.whitelist[account], nil
}

func (c *fakeCollection) Approve(opts *bind.TransactOpts, to common.Address, tokenID *big.Int) (*ethtypes.Transaction, error) {
	c.approveCalls++
	if c.approveErr != nil {
		return nil, c.approveErr
	}
	if c.approved == nil {
		c.approved = make(map[uint64]common.Address)
	}
	c.approved[tokenID.Uint64()] = to
	return nextTx(), nil
}

func (c *fakeCollection) Mint(opts *bind.TransactOpts, quantity *big.Int) (*ethtypes.Transaction, error) {
	c.mintValue = opts.Value
	c.mintQuantity = quantity
	return nextTx(), nil
}

type fakeStaking struct {
	addr  common.Address
	vault map[uint64]*types.StakeRecord

	stakeCalls   int
	stakeErr     error
	unstakeCalls int
	depositValue *big.Int
	capValue     *big.Int

	withdrawRecipient common.Address
	withdrawValue     *big.Int
	completeCalls     int
}

func (s *fakeStaking) Address() common.Address { return s.addr }

func (s *fakeStaking) Vault(ctx context.Context, tokenID *big.Int) (*types.StakeRecord, error) {
	record, ok := s.vault[tokenID.Uint64()]
	if !ok {
		return &types.StakeRecord{TokenID: tokenID.Uint64()}, nil
	}
	return record, nil
}

func (s *fakeStaking) StakeNFT(opts *bind.TransactOpts, tokenID *big.Int) (*ethtypes.Transaction, error) {
	s.stakeCalls++
	if s.stakeErr != nil {
		return nil, s.stakeErr
	}
	return nextTx(), nil
}

func (s *fakeStaking) UnstakeAndRemove(opts *bind.TransactOpts, tokenID *big.Int) (*ethtypes.Transaction, error) {
	s.unstakeCalls++
	return nextTx(), nil
}

func (s *fakeStaking) ClaimRewards(opts *bind.TransactOpts) (*ethtypes.Transaction, error) {
	return nextTx(), nil
}

func (s *fakeStaking) DepositRewards(opts *bind.TransactOpts) (*ethtypes.Transaction, error) {
	s.depositValue = opts.Value
	return nextTx(), nil
}

func (s *fakeStaking) UpdateDailyRewardCap(opts *bind.TransactOpts, newCap *big.Int) (*ethtypes.Transaction, error) {
	s.capValue = newCap
	return nextTx(), nil
}

func (s *fakeStaking) InitiateEmergencyWithdraw(opts *bind.TransactOpts, recipient common.Address, amount *big.Int) (*ethtypes.Transaction, error) {
	s.withdrawRecipient = recipient
	s.withdrawValue = amount
	return nextTx(), nil
}

func (s *fakeStaking) CompleteEmergencyWithdraw(opts *bind.TransactOpts) (*ethtypes.Transaction, error) {
	s.completeCalls++
	return nextTx(), nil
}

// fakeReceipts settles every transaction with the configured status
type fakeReceipts struct {
	status uint64
}

func (r *fakeReceipts) TransactionReceipt(ctx context.Context, txHash common.Hash) (*ethtypes.Receipt, error) {
	return &ethtypes.Receipt{Status: r.status, TxHash: txHash}, nil
}

type fakeReconciler struct {
	calls  int
	delays []time.Duration
}

func (r *fakeReconciler) ScheduleAfter(ctx context.Context, delay time.Duration) {
	r.calls++
	r.delays = append(r.delays, delay)
}

type fakeKicker struct {
	kicks int
}

func (k *fakeKicker) Kick() { k.kicks++ }

type fixture struct {
	orch       *Orchestrator
	store      *state.Store
	collection *fakeCollection
	staking    *fakeStaking
	receipts   *fakeReceipts
	reconciler *fakeReconciler
	kicker     *fakeKicker
}

func setup(t *testing.T) *fixture {
	t.Helper()

	cfg := &config.Config{
		Network: types.NetworkParams{ChainID: 11155111, Name: "Sepolia", CurrencySymbol: "ETH", CurrencyDecimals: 18, RPCEndpoints: []string{"http://127.0.0.1:8545"}},
		Retry:   config.RetryConfig{MaxAttempts: 2, BaseDelay: "1ms", GrowthFactor: 1.0, MaxJitter: "1ms"},
		Refresh: config.RefreshConfig{SettleDelay: "10ms"},
	}

	store := state.NewStore()
	store.SetSession(&types.WalletSession{Address: sessionAddr, ChainID: 11155111, Connected: true})
	pass := store.NextGeneration()
	store.ApplyReconciliation(pass,
		types.NewTokenSet(3, 7),
		types.NewTokenSet(),
		map[uint64]*types.NFTRecord{
			3: {TokenID: 3, DisplayName: "Token #3"},
			7: {TokenID: 7, DisplayName: "Token #7"},
		})

	f := &fixture{
		store: store,
		collection: &fakeCollection{
			owners:    map[uint64]common.Address{3: sessionAddr, 7: sessionAddr},
			mintPrice: big.NewInt(10000000000000000),
			minted:    big.NewInt(120),
			maxSupply: big.NewInt(500),
			whitelist: map[common.Address]bool{sessionAddr: true},
		},
		staking:    &fakeStaking{addr: stakingAddr, vault: map[uint64]*types.StakeRecord{}},
		receipts:   &fakeReceipts{status: ethtypes.ReceiptStatusSuccessful},
		reconciler: &fakeReconciler{},
		kicker:     &fakeKicker{},
	}

	caller := retry.NewCaller(&cfg.Retry, zerolog.Nop())
	f.orch = NewOrchestrator(context.Background(), cfg, &fakeSigner{addr: sessionAddr}, f.collection, f.staking, f.receipts, caller, store, f.reconciler, f.kicker, zerolog.Nop())
	f.orch.pollEvery = time.Millisecond
	f.orch.mineTimeout = 2 * time.Second
	return f
}

func TestStake_MovesTokenAndSchedulesSettle(t *testing.T) {
	f := setup(t)

	op, err := f.orch.Stake(context.Background(), 7)
	if err != nil {
		t.Fatalf("Stake failed: %v", err)
	}
	if op.Status != types.OperationStatusSuccess {
		t.Errorf("Status mismatch: got %s", op.Status)
	}
	if len(op.TxHashes) != 2 {
		t.Errorf("Expected approve and stake transactions, got %d hashes", len(op.TxHashes))
	}

	owned := f.store.OwnedTokens()
	staked := f.store.StakedTokens()
	if len(owned) != 1 || owned[0] != 3 {
		t.Errorf("Owned mismatch: got %v, want [3]", owned)
	}
	if len(staked) != 1 || staked[0] != 7 {
		t.Errorf("Staked mismatch: got %v, want [7]", staked)
	}
	if f.store.Rewards().TotalStaked != 1 {
		t.Errorf("Cached total staked should be bumped: got %d", f.store.Rewards().TotalStaked)
	}
	if f.reconciler.calls != 1 {
		t.Errorf("One settle-delay reconciliation expected, got %d", f.reconciler.calls)
	}
	if f.reconciler.delays[0] != 10*time.Millisecond {
		t.Errorf("Settle delay mismatch: got %s", f.reconciler.delays[0])
	}
	if f.kicker.kicks == 0 {
		t.Error("Reward refresher should be kicked after a stake")
	}
}

func TestStake_SkipsApproveWhenAlreadyApproved(t *testing.T) {
	f := setup(t)
	f.collection.approved = map[uint64]common.Address{7: stakingAddr}

	op, err := f.orch.Stake(context.Background(), 7)
	if err != nil {
		t.Fatalf("Stake failed: %v", err)
	}
	if f.collection.approveCalls != 0 {
		t.Errorf("Approve should be skipped: got %d calls", f.collection.approveCalls)
	}
	if len(op.TxHashes) != 1 {
		t.Errorf("Only the stake transaction expected, got %d hashes", len(op.TxHashes))
	}
}

func TestStake_OwnershipMismatchBeforeAnyWrite(t *testing.T) {
	f := setup(t)
	f.collection.owners[7] = otherAddr

	op, err := f.orch.Stake(context.Background(), 7)
	if !errors.Is(err, types.ErrOwnershipMismatch) {
		t.Fatalf("Expected ErrOwnershipMismatch, got %v", err)
	}
	if op != nil {
		t.Error("No operation should be recorded for a failed precondition")
	}
	if f.collection.approveCalls != 0 || f.staking.stakeCalls != 0 {
		t.Error("No write call may reach the contracts on an ownership mismatch")
	}
	if len(f.store.Operations()) != 0 {
		t.Error("Operation log should stay empty")
	}
}

func TestStake_ApprovalSurvivesFailedStake(t *testing.T) {
	f := setup(t)
	f.staking.stakeErr = errors.New("insufficient funds for gas * price + value")

	op, err := f.orch.Stake(context.Background(), 7)
	if !errors.Is(err, types.ErrTransactionReverted) {
		t.Fatalf("Expected ErrTransactionReverted, got %v", err)
	}
	if op.Status != types.OperationStatusFailed {
		t.Errorf("Status mismatch: got %s", op.Status)
	}
	if !strings.Contains(op.Message, "insufficient funds") {
		t.Errorf("Raw provider message should surface: got %q", op.Message)
	}

	// The landed approval stays; a retry will reuse it
	if f.collection.approved[7] != stakingAddr {
		t.Error("Approval must not be rolled back after a failed stake")
	}
	if len(op.TxHashes) != 1 {
		t.Errorf("Only the approval should have settled, got %d hashes", len(op.TxHashes))
	}

	owned := f.store.OwnedTokens()
	if len(owned) != 2 {
		t.Errorf("Owned set must be untouched on failure: got %v", owned)
	}
	if len(f.store.StakedTokens()) != 0 {
		t.Error("Staked set must be untouched on failure")
	}
	if f.reconciler.calls != 0 {
		t.Error("No settle pass should be scheduled for a failed stake")
	}
}

func TestStake_RevertedReceipt(t *testing.T) {
	f := setup(t)
	f.receipts.status = ethtypes.ReceiptStatusFailed

	op, err := f.orch.Stake(context.Background(), 7)
	if !errors.Is(err, types.ErrTransactionReverted) {
		t.Fatalf("Expected ErrTransactionReverted, got %v", err)
	}
	if op.Status != types.OperationStatusFailed {
		t.Errorf("Status mismatch: got %s", op.Status)
	}
	if len(f.store.StakedTokens()) != 0 {
		t.Error("Reverted stake must not move the token")
	}
}

func TestStake_NoSession(t *testing.T) {
	f := setup(t)
	f.store.ClearSession()

	if _, err := f.orch.Stake(context.Background(), 7); !errors.Is(err, types.ErrWalletUnavailable) {
		t.Fatalf("Expected ErrWalletUnavailable, got %v", err)
	}
}

func TestUnstake_MovesTokenBack(t *testing.T) {
	f := setup(t)
	pass := f.store.NextGeneration()
	f.store.ApplyReconciliation(pass,
		types.NewTokenSet(3),
		types.NewTokenSet(7),
		map[uint64]*types.NFTRecord{
			3: {TokenID: 3},
			7: {TokenID: 7},
		})
	f.store.SetRewards(types.RewardSnapshot{TotalStaked: 1})
	f.staking.vault[7] = &types.StakeRecord{TokenID: 7, Staker: sessionAddr, Staked: true}

	op, err := f.orch.Unstake(context.Background(), 7)
	if err != nil {
		t.Fatalf("Unstake failed: %v", err)
	}
	if op.Status != types.OperationStatusSuccess {
		t.Errorf("Status mismatch: got %s", op.Status)
	}

	owned := f.store.OwnedTokens()
	if len(owned) != 2 {
		t.Errorf("Owned mismatch: got %v", owned)
	}
	if len(f.store.StakedTokens()) != 0 {
		t.Error("Staked set should be empty")
	}
	if f.store.Rewards().TotalStaked != 0 {
		t.Errorf("Cached total staked should drop: got %d", f.store.Rewards().TotalStaked)
	}
	if f.reconciler.calls != 1 {
		t.Error("Settle pass should be scheduled")
	}
}

func TestUnstake_RequiresVaultOwnership(t *testing.T) {
	f := setup(t)
	f.staking.vault[7] = &types.StakeRecord{TokenID: 7, Staker: otherAddr, Staked: true}

	_, err := f.orch.Unstake(context.Background(), 7)
	if !errors.Is(err, types.ErrOwnershipMismatch) {
		t.Fatalf("Expected ErrOwnershipMismatch, got %v", err)
	}
	if f.staking.unstakeCalls != 0 {
		t.Error("No unstake call may reach the contract")
	}
}

func TestClaim_ZeroesEarned(t *testing.T) {
	f := setup(t)
	f.store.SetRewards(types.RewardSnapshot{Earned: decimal.RequireFromString("10"), TotalStaked: 1})

	op, err := f.orch.Claim(context.Background())
	if err != nil {
		t.Fatalf("Claim failed: %v", err)
	}
	if op.Status != types.OperationStatusSuccess {
		t.Errorf("Status mismatch: got %s", op.Status)
	}
	if !f.store.Rewards().Earned.IsZero() {
		t.Errorf("Earned should reset after claim: got %s", f.store.Rewards().Earned)
	}
	if f.kicker.kicks == 0 {
		t.Error("Claim should kick the refresher")
	}
}

func TestMint_PaysPricePerToken(t *testing.T) {
	f := setup(t)

	op, err := f.orch.Mint(context.Background(), 2)
	if err != nil {
		t.Fatalf("Mint failed: %v", err)
	}
	if op.Status != types.OperationStatusSuccess {
		t.Errorf("Status mismatch: got %s", op.Status)
	}

	wantValue := new(big.Int).Mul(big.NewInt(10000000000000000), big.NewInt(2))
	if f.collection.mintValue == nil || f.collection.mintValue.Cmp(wantValue) != 0 {
		t.Errorf("Mint value mismatch: got %v, want %v", f.collection.mintValue, wantValue)
	}
	if f.collection.mintQuantity.Uint64() != 2 {
		t.Errorf("Mint quantity mismatch: got %v", f.collection.mintQuantity)
	}
	if f.reconciler.calls != 1 {
		t.Error("Mint should schedule a settle pass to pick up the new tokens")
	}
}

func TestMint_RejectsZeroQuantity(t *testing.T) {
	f := setup(t)

	if _, err := f.orch.Mint(context.Background(), 0); !errors.Is(err, types.ErrValidation) {
		t.Fatalf("Expected ErrValidation, got %v", err)
	}
}

func TestMint_RequiresWhitelistedAccount(t *testing.T) {
	f := setup(t)
	f.collection.whitelist[sessionAddr] = false

	_, err := f.orch.Mint(context.Background(), 1)
	if !errors.Is(err, types.ErrOwnershipMismatch) {
		t.Fatalf("Expected ErrOwnershipMismatch, got %v", err)
	}
	if !strings.Contains(err.Error(), sessionAddr.Hex()) {
		t.Errorf("Error should name the rejected account: got %q", err)
	}
	if f.collection.mintQuantity != nil {
		t.Error("No mint call may reach the contract for an unlisted account")
	}
	if len(f.store.Operations()) != 0 {
		t.Error("Operation log should stay empty")
	}
}

func TestMint_RespectsRemainingSupply(t *testing.T) {
	f := setup(t)
	f.collection.minted = big.NewInt(499)

	// One token left, two requested
	_, err := f.orch.Mint(context.Background(), 2)
	if !errors.Is(err, types.ErrValidation) {
		t.Fatalf("Expected ErrValidation, got %v", err)
	}
	if f.collection.mintQuantity != nil {
		t.Error("No mint call may reach the contract past the supply cap")
	}

	// The last token is still mintable
	op, err := f.orch.Mint(context.Background(), 1)
	if err != nil {
		t.Fatalf("Mint of the final token failed: %v", err)
	}
	if op.Status != types.OperationStatusSuccess {
		t.Errorf("Status mismatch: got %s", op.Status)
	}

	// Sold out entirely
	f.collection.minted = big.NewInt(500)
	if _, err := f.orch.Mint(context.Background(), 1); !errors.Is(err, types.ErrValidation) {
		t.Fatalf("Expected ErrValidation once sold out, got %v", err)
	}
}

func TestDeposit_ConvertsDecimalToBaseUnits(t *testing.T) {
	f := setup(t)

	op, err := f.orch.Deposit(context.Background(), "1.5")
	if err != nil {
		t.Fatalf("Deposit failed: %v", err)
	}
	if op.Status != types.OperationStatusSuccess {
		t.Errorf("Status mismatch: got %s", op.Status)
	}

	want, _ := new(big.Int).SetString("1500000000000000000", 10)
	if f.staking.depositValue == nil || f.staking.depositValue.Cmp(want) != 0 {
		t.Errorf("Deposit value mismatch: got %v, want %v", f.staking.depositValue, want)
	}
}

func TestDeposit_ValidatesAmount(t *testing.T) {
	f := setup(t)

	cases := []struct {
		name   string
		amount string
	}{
		{"empty", ""},
		{"whitespace", "   "},
		{"not numeric", "ten"},
		{"negative", "-3"},
		{"zero", "0"},
		{"too many decimals", "0.0000000000000000001"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := f.orch.Deposit(context.Background(), tc.amount); !errors.Is(err, types.ErrValidation) {
				t.Errorf("Expected ErrValidation for %q, got %v", tc.amount, err)
			}
		})
	}

	if f.staking.depositValue != nil {
		t.Error("No deposit call may reach the contract on invalid input")
	}
	if len(f.store.Operations()) != 0 {
		t.Error("Validation failures must not record operations")
	}
}

func TestUpdateDailyCap(t *testing.T) {
	f := setup(t)

	op, err := f.orch.UpdateDailyCap(context.Background(), "100")
	if err != nil {
		t.Fatalf("UpdateDailyCap failed: %v", err)
	}
	if op.Kind != types.OperationAdminUpdate {
		t.Errorf("Kind mismatch: got %s", op.Kind)
	}

	want, _ := new(big.Int).SetString("100000000000000000000", 10)
	if f.staking.capValue == nil || f.staking.capValue.Cmp(want) != 0 {
		t.Errorf("Cap value mismatch: got %v, want %v", f.staking.capValue, want)
	}
}

func TestEmergencyWithdraw(t *testing.T) {
	f := setup(t)

	if _, err := f.orch.InitiateEmergencyWithdraw(context.Background(), "not-an-address", "1"); !errors.Is(err, types.ErrValidation) {
		t.Fatalf("Expected ErrValidation for a bad recipient, got %v", err)
	}

	op, err := f.orch.InitiateEmergencyWithdraw(context.Background(), otherAddr.Hex(), "2")
	if err != nil {
		t.Fatalf("InitiateEmergencyWithdraw failed: %v", err)
	}
	if op.Kind != types.OperationEmergencyWithdraw {
		t.Errorf("Kind mismatch: got %s", op.Kind)
	}
	if f.staking.withdrawRecipient != otherAddr {
		t.Errorf("Recipient mismatch: got %s", f.staking.withdrawRecipient.Hex())
	}

	if _, err := f.orch.CompleteEmergencyWithdraw(context.Background()); err != nil {
		t.Fatalf("CompleteEmergencyWithdraw failed: %v", err)
	}
	if f.staking.completeCalls != 1 {
		t.Errorf("Complete call count mismatch: got %d", f.staking.completeCalls)
	}
	if f.kicker.kicks != 2 {
		t.Errorf("Both withdrawal steps should kick the refresher: got %d kicks", f.kicker.kicks)
	}
}

func TestOperations_RecordedInStore(t *testing.T) {
	f := setup(t)

	op, err := f.orch.Stake(context.Background(), 7)
	if err != nil {
		t.Fatalf("Stake failed: %v", err)
	}

	stored, ok := f.store.Operation(op.ID)
	if !ok {
		t.Fatal("Operation should be retrievable from the store")
	}
	if stored.Status != types.OperationStatusSuccess {
		t.Errorf("Stored status mismatch: got %s", stored.Status)
	}
	if stored.TokenID == nil || *stored.TokenID != 7 {
		t.Error("Stored operation should reference the token")
	}
}
