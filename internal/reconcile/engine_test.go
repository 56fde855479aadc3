package reconcile

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"testing"

	"github.com/calyptra-labs/stakedeck/internal/config"
	"github.com/calyptra-labs/stakedeck/internal/retry"
	"github.com/calyptra-labs/stakedeck/internal/state"
	"github.com/calyptra-labs/stakedeck/internal/types"
	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"
)

var (
	sessionAddr = common.HexToAddress("0x1111111111111111111111111111111111111111")
	otherAddr   = common.HexToAddress("0x2222222222222222222222222222222222222222")
	vaultAddr   = common.HexToAddress("0x5741Ee3e77a3a0DfF31cBa1Ac77e2AF21cf24aE6")
)

var errReverted = errors.New("execution reverted")

// fakeCollection scripts the enumeration surface. Token lists use -1 as
// a poisoned index that fails its read.
type fakeCollection struct {
	tokensByOwner map[common.Address][]int64
	balanceErr    error
	uriErr        error
}

func (c *fakeCollection) BalanceOf(ctx context.Context, owner common.Address) (*big.Int, error) {
	if c.balanceErr != nil {
		return nil, c.balanceErr
	}
	return big.NewInt(int64(len(c.tokensByOwner[owner]))), nil
}

func (c *fakeCollection) TokenOfOwnerByIndex(ctx context.Context, owner common.Address, index *big.Int) (*big.Int, error) {
	tokens := c.tokensByOwner[owner]
	i := index.Int64()
	if i >= int64(len(tokens)) {
		return nil, errReverted
	}
	if tokens[i] < 0 {
		return nil, errors.New("index read failed")
	}
	return big.NewInt(tokens[i]), nil
}

func (c *fakeCollection) TokenURI(ctx context.Context, tokenID *big.Int) (string, error) {
	if c.uriErr != nil {
		return "", c.uriErr
	}
	return fmt.Sprintf("ipfs://bafyMeta/%d.json", tokenID.Uint64()), nil
}

// fakeStaking scripts every discovery view. Zero values mean "answers
// with nothing", which falls through the chain the same way an absent
// view does.
type fakeStaking struct {
	addr common.Address

	totalStaked int64
	totalErr    error

	stakedNFTs    []int64
	stakedNFTsErr error

	stakerMapping    map[common.Address]int64
	stakerMappingErr error

	getStakedTokens    []int64
	getStakedTokensErr error
	getStaked          []int64
	getStakedErr       error
	stakedTokens       []int64
	stakedTokensErr    error

	isStakerVal bool
	isStakerErr error

	tokenToStaker    map[uint64]common.Address
	tokenToStakerErr error
	isStakedMap      map[uint64]bool
	stakerOfMap      map[uint64]common.Address
	stakerOfErr      error
}

func (s *fakeStaking) Address() common.Address { return s.addr }

func (s *fakeStaking) GetTotalStakedNFTs(ctx context.Context) (*big.Int, error) {
	if s.totalErr != nil {
		return nil, s.totalErr
	}
	return big.NewInt(s.totalStaked), nil
}

func toBigs(list []int64) []*big.Int {
	out := make([]*big.Int, 0, len(list))
	for _, id := range list {
		out = append(out, big.NewInt(id))
	}
	return out
}

func (s *fakeStaking) StakedNFTs(ctx context.Context, staker common.Address) ([]*big.Int, error) {
	if s.stakedNFTsErr != nil {
		return nil, s.stakedNFTsErr
	}
	return toBigs(s.stakedNFTs), nil
}

func (s *fakeStaking) StakerToTokenID(ctx context.Context, staker common.Address) (*big.Int, error) {
	if s.stakerMappingErr != nil {
		return nil, s.stakerMappingErr
	}
	return big.NewInt(s.stakerMapping[staker]), nil
}

func (s *fakeStaking) GetStakedTokens(ctx context.Context, staker common.Address) ([]*big.Int, error) {
	if s.getStakedTokensErr != nil {
		return nil, s.getStakedTokensErr
	}
	return toBigs(s.getStakedTokens), nil
}

func (s *fakeStaking) GetStaked(ctx context.Context, staker common.Address) ([]*big.Int, error) {
	if s.getStakedErr != nil {
		return nil, s.getStakedErr
	}
	return toBigs(s.getStaked), nil
}

func (s *fakeStaking) StakedTokens(ctx context.Context, staker common.Address) ([]*big.Int, error) {
	if s.stakedTokensErr != nil {
		return nil, s.stakedTokensErr
	}
	return toBigs(s.stakedTokens), nil
}

func (s *fakeStaking) IsStaker(ctx context.Context, account common.Address) (bool, error) {
	if s.isStakerErr != nil {
		return false, s.isStakerErr
	}
	return s.isStakerVal, nil
}

func (s *fakeStaking) TokenIDToStaker(ctx context.Context, tokenID *big.Int) (common.Address, error) {
	if s.tokenToStakerErr != nil {
		return common.Address{}, s.tokenToStakerErr
	}
	return s.tokenToStaker[tokenID.Uint64()], nil
}

func (s *fakeStaking) IsStaked(ctx context.Context, tokenID *big.Int) (bool, error) {
	return s.isStakedMap[tokenID.Uint64()], nil
}

func (s *fakeStaking) StakerOf(ctx context.Context, tokenID *big.Int) (common.Address, error) {
	if s.stakerOfErr != nil {
		return common.Address{}, s.stakerOfErr
	}
	return s.stakerOfMap[tokenID.Uint64()], nil
}

// fakeResolver materializes without touching the network
type fakeResolver struct{}

func (fakeResolver) Placeholder(tokenID uint64) *types.NFTRecord {
	return &types.NFTRecord{TokenID: tokenID, DisplayName: fmt.Sprintf("Token #%d", tokenID)}
}

func (fakeResolver) Resolve(ctx context.Context, tokenID uint64, tokenURI string) *types.NFTRecord {
	record := fakeResolver{}.Placeholder(tokenID)
	record.Description = tokenURI
	return record
}

func testEngine(t *testing.T, collection *fakeCollection, staking *fakeStaking) (*Engine, *state.Store) {
	t.Helper()
	if staking.addr == (common.Address{}) {
		staking.addr = vaultAddr
	}
	store := state.NewStore()
	store.SetSession(&types.WalletSession{Address: sessionAddr, ChainID: 11155111, Connected: true})

	caller := retry.NewCaller(&config.RetryConfig{
		MaxAttempts:  2,
		BaseDelay:    "1ms",
		GrowthFactor: 1.0,
		MaxJitter:    "1ms",
	}, zerolog.Nop())

	return NewEngine(collection, staking, fakeResolver{}, caller, store, zerolog.Nop()), store
}

func wantTokens(t *testing.T, label string, got, want []uint64) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("%s mismatch: got %v, want %v", label, got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("%s mismatch at %d: got %v, want %v", label, i, got, want)
		}
	}
}

func TestReconcile_OwnedOnly(t *testing.T) {
	collection := &fakeCollection{tokensByOwner: map[common.Address][]int64{sessionAddr: {3, 7}}}
	staking := &fakeStaking{totalStaked: 0}
	engine, store := testEngine(t, collection, staking)

	if err := engine.Reconcile(context.Background()); err != nil {
		t.Fatalf("Reconcile failed: %v", err)
	}

	wantTokens(t, "Owned", store.OwnedTokens(), []uint64{3, 7})
	wantTokens(t, "Staked", store.StakedTokens(), nil)

	snap := store.Snapshot()
	if snap.Owned[0].Description != "ipfs://bafyMeta/3.json" {
		t.Errorf("Record should carry resolved metadata: got %q", snap.Owned[0].Description)
	}
}

func TestReconcile_TotalStakedZeroShortCircuits(t *testing.T) {
	collection := &fakeCollection{tokensByOwner: map[common.Address][]int64{sessionAddr: {3}}}
	// A stale list view answer must not survive the zero total
	staking := &fakeStaking{totalStaked: 0, stakedNFTs: []int64{7}}
	engine, store := testEngine(t, collection, staking)

	if err := engine.Reconcile(context.Background()); err != nil {
		t.Fatalf("Reconcile failed: %v", err)
	}
	wantTokens(t, "Staked", store.StakedTokens(), nil)
}

func TestReconcile_CanonicalListStrategy(t *testing.T) {
	collection := &fakeCollection{tokensByOwner: map[common.Address][]int64{sessionAddr: {3}}}
	staking := &fakeStaking{totalStaked: 1, stakedNFTs: []int64{7}}
	engine, store := testEngine(t, collection, staking)

	if err := engine.Reconcile(context.Background()); err != nil {
		t.Fatalf("Reconcile failed: %v", err)
	}

	wantTokens(t, "Owned", store.OwnedTokens(), []uint64{3})
	wantTokens(t, "Staked", store.StakedTokens(), []uint64{7})

	snap := store.Snapshot()
	if len(snap.Staked) != 1 || snap.Staked[0].TokenID != 7 {
		t.Fatal("Staked record missing")
	}
	if !snap.Staked[0].Staked {
		t.Error("Staked record should be flagged")
	}
}

func TestReconcile_FallsThroughToLegacyView(t *testing.T) {
	collection := &fakeCollection{tokensByOwner: map[common.Address][]int64{}}
	staking := &fakeStaking{
		totalStaked:   1,
		stakedNFTsErr: errReverted,
		getStaked:     []int64{5},
	}
	engine, store := testEngine(t, collection, staking)

	if err := engine.Reconcile(context.Background()); err != nil {
		t.Fatalf("Reconcile failed: %v", err)
	}
	wantTokens(t, "Staked", store.StakedTokens(), []uint64{5})
}

func TestReconcile_SingleMappingStrategy(t *testing.T) {
	collection := &fakeCollection{tokensByOwner: map[common.Address][]int64{}}
	staking := &fakeStaking{
		totalStaked:   2,
		stakedNFTsErr: errReverted,
		stakerMapping: map[common.Address]int64{sessionAddr: 9},
	}
	engine, store := testEngine(t, collection, staking)

	if err := engine.Reconcile(context.Background()); err != nil {
		t.Fatalf("Reconcile failed: %v", err)
	}
	wantTokens(t, "Staked", store.StakedTokens(), []uint64{9})
}

func TestReconcile_DedupesStakedList(t *testing.T) {
	collection := &fakeCollection{tokensByOwner: map[common.Address][]int64{sessionAddr: {3}}}
	staking := &fakeStaking{totalStaked: 2, stakedNFTs: []int64{7, 7, 3}}
	engine, store := testEngine(t, collection, staking)

	if err := engine.Reconcile(context.Background()); err != nil {
		t.Fatalf("Reconcile failed: %v", err)
	}

	wantTokens(t, "Staked", store.StakedTokens(), []uint64{7, 3})
	// Token 3 also enumerated as owned; the staked set wins the overlap
	wantTokens(t, "Owned", store.OwnedTokens(), nil)
}

func TestReconcile_SkipsFailedOwnedIndex(t *testing.T) {
	collection := &fakeCollection{tokensByOwner: map[common.Address][]int64{sessionAddr: {3, -1, 7}}}
	staking := &fakeStaking{totalStaked: 0}
	engine, store := testEngine(t, collection, staking)

	if err := engine.Reconcile(context.Background()); err != nil {
		t.Fatalf("A failed index must not fail the pass: %v", err)
	}
	wantTokens(t, "Owned", store.OwnedTokens(), []uint64{3, 7})
}

func TestReconcile_BalanceFailureFailsPass(t *testing.T) {
	collection := &fakeCollection{balanceErr: errors.New("endpoint down")}
	staking := &fakeStaking{totalStaked: 0}
	engine, store := testEngine(t, collection, staking)

	if err := engine.Reconcile(context.Background()); err == nil {
		t.Fatal("Balance read failure should fail the pass")
	}
	if len(store.OwnedTokens()) != 0 {
		t.Error("Failed pass should not have written state")
	}
}

func TestReconcile_BruteForceVaultHoldings(t *testing.T) {
	collection := &fakeCollection{tokensByOwner: map[common.Address][]int64{
		sessionAddr: {3},
		vaultAddr:   {7, 9},
	}}
	staking := &fakeStaking{
		totalStaked: 2,
		tokenToStaker: map[uint64]common.Address{
			7: sessionAddr,
			9: otherAddr,
		},
	}
	engine, store := testEngine(t, collection, staking)

	if err := engine.Reconcile(context.Background()); err != nil {
		t.Fatalf("Reconcile failed: %v", err)
	}

	wantTokens(t, "Staked", store.StakedTokens(), []uint64{7})
	wantTokens(t, "Owned", store.OwnedTokens(), []uint64{3})
}

func TestReconcile_BruteForcePairProbe(t *testing.T) {
	collection := &fakeCollection{tokensByOwner: map[common.Address][]int64{
		vaultAddr: {7, 9},
	}}
	staking := &fakeStaking{
		totalStaked:      1,
		tokenToStakerErr: errReverted,
		isStakedMap:      map[uint64]bool{7: true, 9: false},
		stakerOfMap:      map[uint64]common.Address{7: sessionAddr},
	}
	engine, store := testEngine(t, collection, staking)

	if err := engine.Reconcile(context.Background()); err != nil {
		t.Fatalf("Reconcile failed: %v", err)
	}
	wantTokens(t, "Staked", store.StakedTokens(), []uint64{7})
}

func TestReconcile_StaleCacheFallback(t *testing.T) {
	collection := &fakeCollection{tokensByOwner: map[common.Address][]int64{sessionAddr: {3}}}
	staking := &fakeStaking{totalStaked: 1, stakedNFTs: []int64{7}}
	engine, store := testEngine(t, collection, staking)

	if err := engine.Reconcile(context.Background()); err != nil {
		t.Fatalf("Seeding pass failed: %v", err)
	}
	wantTokens(t, "Staked", store.StakedTokens(), []uint64{7})

	// Every chain view now fails; the previous set must survive
	staking.totalErr = errReverted
	staking.stakedNFTsErr = errReverted
	staking.stakerMappingErr = errReverted
	staking.getStakedTokensErr = errReverted
	staking.getStakedErr = errReverted
	staking.stakedTokensErr = errReverted
	staking.isStakerErr = errReverted
	collection.tokensByOwner[vaultAddr] = nil
	staking.tokenToStakerErr = errReverted

	if err := engine.Reconcile(context.Background()); err != nil {
		t.Fatalf("Second pass failed: %v", err)
	}
	wantTokens(t, "Staked", store.StakedTokens(), []uint64{7})
}

func TestReconcile_NoSessionSkips(t *testing.T) {
	collection := &fakeCollection{tokensByOwner: map[common.Address][]int64{sessionAddr: {3}}}
	staking := &fakeStaking{totalStaked: 0}
	engine, store := testEngine(t, collection, staking)
	store.ClearSession()

	if err := engine.Reconcile(context.Background()); err != nil {
		t.Fatalf("Reconcile without a session should be a no-op: %v", err)
	}
	if len(store.OwnedTokens()) != 0 {
		t.Error("No state should be written without a session")
	}
}

func TestReconcile_MetadataFailureKeepsPlaceholder(t *testing.T) {
	collection := &fakeCollection{
		tokensByOwner: map[common.Address][]int64{sessionAddr: {3}},
		uriErr:        errors.New("uri view reverted"),
	}
	staking := &fakeStaking{totalStaked: 0}
	engine, store := testEngine(t, collection, staking)

	if err := engine.Reconcile(context.Background()); err != nil {
		t.Fatalf("Reconcile failed: %v", err)
	}

	snap := store.Snapshot()
	if len(snap.Owned) != 1 {
		t.Fatal("Owned record missing")
	}
	if snap.Owned[0].DisplayName != "Token #3" {
		t.Errorf("Placeholder should be kept: got %q", snap.Owned[0].DisplayName)
	}
	if snap.Owned[0].Description != "" {
		t.Error("Failed URI read should leave the description empty")
	}
}
