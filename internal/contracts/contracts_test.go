package contracts

import (
	"context"
	"encoding/hex"
	"errors"
	"math/big"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
)

// fakeBackend serves canned ABI-encoded responses keyed by method selector
type fakeBackend struct {
	responses map[string][]byte
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{responses: make(map[string][]byte)}
}

func (f *fakeBackend) respond(parsed abi.ABI, method string, values ...interface{}) {
	packed, err := parsed.Methods[method].Outputs.Pack(values...)
	if err != nil {
		panic(err)
	}
	f.responses[hex.EncodeToString(parsed.Methods[method].ID)] = packed
}

func (f *fakeBackend) respondRaw(parsed abi.ABI, method string, raw []byte) {
	f.responses[hex.EncodeToString(parsed.Methods[method].ID)] = raw
}

func (f *fakeBackend) CallContract(ctx context.Context, call ethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
	if len(call.Data) < 4 {
		return nil, errors.New("short calldata")
	}
	out, ok := f.responses[hex.EncodeToString(call.Data[:4])]
	if !ok {
		return nil, errors.New("execution reverted")
	}
	return out, nil
}

func (f *fakeBackend) CodeAt(ctx context.Context, contract common.Address, blockNumber *big.Int) ([]byte, error) {
	return []byte{0x01}, nil
}

func (f *fakeBackend) HeaderByNumber(ctx context.Context, number *big.Int) (*ethtypes.Header, error) {
	return &ethtypes.Header{Number: big.NewInt(1)}, nil
}

func (f *fakeBackend) PendingCodeAt(ctx context.Context, account common.Address) ([]byte, error) {
	return []byte{0x01}, nil
}

func (f *fakeBackend) PendingNonceAt(ctx context.Context, account common.Address) (uint64, error) {
	return 0, nil
}

func (f *fakeBackend) SuggestGasPrice(ctx context.Context) (*big.Int, error) {
	return big.NewInt(1), nil
}

func (f *fakeBackend) SuggestGasTipCap(ctx context.Context) (*big.Int, error) {
	return big.NewInt(1), nil
}

func (f *fakeBackend) EstimateGas(ctx context.Context, call ethereum.CallMsg) (uint64, error) {
	return 21000, nil
}

func (f *fakeBackend) SendTransaction(ctx context.Context, tx *ethtypes.Transaction) error {
	return nil
}

func (f *fakeBackend) FilterLogs(ctx context.Context, query ethereum.FilterQuery) ([]ethtypes.Log, error) {
	return nil, nil
}

func (f *fakeBackend) SubscribeFilterLogs(ctx context.Context, query ethereum.FilterQuery, ch chan<- ethtypes.Log) (ethereum.Subscription, error) {
	return nil, errors.New("not supported")
}

func mustParse(t *testing.T, raw string) abi.ABI {
	t.Helper()
	parsed, err := abi.JSON(strings.NewReader(raw))
	if err != nil {
		t.Fatalf("Failed to parse ABI: %v", err)
	}
	return parsed
}

func TestCollection_Reads(t *testing.T) {
	parsed := mustParse(t, CollectionABI)
	backend := newFakeBackend()

	owner := common.HexToAddress("0x1111111111111111111111111111111111111111")
	backend.respond(parsed, "balanceOf", big.NewInt(2))
	backend.respond(parsed, "ownerOf", owner)
	backend.respond(parsed, "tokenURI", "ipfs://bafybeihash/7.json")
	backend.respond(parsed, "totalSupply", big.NewInt(120))
	backend.respond(parsed, "maxSupply", big.NewInt(500))
	backend.respond(parsed, "isWhitelisted", true)

	collection, err := NewCollection(common.HexToAddress("0xC0113C71e8D0bb4a5a03DE2DAf151E4eA5BE941A"), backend)
	if err != nil {
		t.Fatalf("Failed to bind collection: %v", err)
	}

	ctx := context.Background()

	balance, err := collection.BalanceOf(ctx, owner)
	if err != nil {
		t.Fatalf("balanceOf failed: %v", err)
	}
	if balance.Int64() != 2 {
		t.Errorf("Balance mismatch: got %d, want 2", balance.Int64())
	}

	gotOwner, err := collection.OwnerOf(ctx, big.NewInt(7))
	if err != nil {
		t.Fatalf("ownerOf failed: %v", err)
	}
	if gotOwner != owner {
		t.Errorf("Owner mismatch: got %s, want %s", gotOwner.Hex(), owner.Hex())
	}

	uri, err := collection.TokenURI(ctx, big.NewInt(7))
	if err != nil {
		t.Fatalf("tokenURI failed: %v", err)
	}
	if uri != "ipfs://bafybeihash/7.json" {
		t.Errorf("URI mismatch: got %s", uri)
	}

	supply, err := collection.TotalSupply(ctx)
	if err != nil {
		t.Fatalf("totalSupply failed: %v", err)
	}
	if supply.Int64() != 120 {
		t.Errorf("Supply mismatch: got %d, want 120", supply.Int64())
	}

	maxSupply, err := collection.MaxSupply(ctx)
	if err != nil {
		t.Fatalf("maxSupply failed: %v", err)
	}
	if maxSupply.Int64() != 500 {
		t.Errorf("Max supply mismatch: got %d, want 500", maxSupply.Int64())
	}

	listed, err := collection.IsWhitelisted(ctx, owner)
	if err != nil {
		t.Fatalf("isWhitelisted failed: %v", err)
	}
	if !listed {
		t.Error("Address should be whitelisted")
	}
}

func TestCollection_MissingMethodSurfacesError(t *testing.T) {
	backend := newFakeBackend()

	collection, err := NewCollection(common.HexToAddress("0xC0113C71e8D0bb4a5a03DE2DAf151E4eA5BE941A"), backend)
	if err != nil {
		t.Fatalf("Failed to bind collection: %v", err)
	}

	if _, err := collection.MintPrice(context.Background()); err == nil {
		t.Error("Expected error when the contract lacks the method")
	}
}

func TestStaking_StakedNFTsDecodesList(t *testing.T) {
	parsed := mustParse(t, StakingABI)
	backend := newFakeBackend()

	staker := common.HexToAddress("0x2222222222222222222222222222222222222222")
	backend.respond(parsed, "stakedNFTs", []*big.Int{big.NewInt(3), big.NewInt(7)})

	staking, err := NewStaking(common.HexToAddress("0x5741Ee3e77a3a0DfF31cBa1Ac77e2AF21cf24aE6"), backend)
	if err != nil {
		t.Fatalf("Failed to bind staking: %v", err)
	}

	ids, err := staking.StakedNFTs(context.Background(), staker)
	if err != nil {
		t.Fatalf("stakedNFTs failed: %v", err)
	}
	if len(ids) != 2 || ids[0].Int64() != 3 || ids[1].Int64() != 7 {
		t.Errorf("Token list mismatch: got %v", ids)
	}
}

func TestStaking_StakedNFTsDecodesSingleValue(t *testing.T) {
	parsed := mustParse(t, StakingABI)
	backend := newFakeBackend()

	staker := common.HexToAddress("0x2222222222222222222222222222222222222222")
	staking, err := NewStaking(common.HexToAddress("0x5741Ee3e77a3a0DfF31cBa1Ac77e2AF21cf24aE6"), backend)
	if err != nil {
		t.Fatalf("Failed to bind staking: %v", err)
	}

	// Deployment returning one uint256 from the same selector
	backend.respondRaw(parsed, "stakedNFTs", common.BigToHash(big.NewInt(9)).Bytes())
	ids, err := staking.StakedNFTs(context.Background(), staker)
	if err != nil {
		t.Fatalf("stakedNFTs failed: %v", err)
	}
	if len(ids) != 1 || ids[0].Int64() != 9 {
		t.Errorf("Single-value decode mismatch: got %v", ids)
	}

	// A zero word means nothing staked
	backend.respondRaw(parsed, "stakedNFTs", common.BigToHash(big.NewInt(0)).Bytes())
	ids, err = staking.StakedNFTs(context.Background(), staker)
	if err != nil {
		t.Fatalf("stakedNFTs failed: %v", err)
	}
	if len(ids) != 0 {
		t.Errorf("Zero word should yield no tokens: got %v", ids)
	}
}

func TestStaking_VaultDecodesRecord(t *testing.T) {
	parsed := mustParse(t, StakingABI)
	backend := newFakeBackend()

	staker := common.HexToAddress("0x3333333333333333333333333333333333333333")
	stakedAt := time.Date(2024, 5, 10, 12, 0, 0, 0, time.UTC)
	backend.respond(parsed, "vault", staker, big.NewInt(stakedAt.Unix()), true)

	staking, err := NewStaking(common.HexToAddress("0x5741Ee3e77a3a0DfF31cBa1Ac77e2AF21cf24aE6"), backend)
	if err != nil {
		t.Fatalf("Failed to bind staking: %v", err)
	}

	record, err := staking.Vault(context.Background(), big.NewInt(9))
	if err != nil {
		t.Fatalf("vault failed: %v", err)
	}
	if record.TokenID != 9 {
		t.Errorf("TokenID mismatch: got %d, want 9", record.TokenID)
	}
	if record.Staker != staker {
		t.Errorf("Staker mismatch: got %s", record.Staker.Hex())
	}
	if !record.Staked {
		t.Error("Record should be staked")
	}
	if !record.StakedAt.Equal(stakedAt) {
		t.Errorf("StakedAt mismatch: got %v, want %v", record.StakedAt, stakedAt)
	}
}

func TestStaking_EventTopicsAreDistinct(t *testing.T) {
	staking, err := NewStaking(common.HexToAddress("0x5741Ee3e77a3a0DfF31cBa1Ac77e2AF21cf24aE6"), newFakeBackend())
	if err != nil {
		t.Fatalf("Failed to bind staking: %v", err)
	}

	topics := map[common.Hash]string{
		staking.StakedTopic():         "Staked",
		staking.UnstakedTopic():       "Unstaked",
		staking.RewardsClaimedTopic(): "RewardsClaimed",
	}
	if len(topics) != 3 {
		t.Error("Event topics should be pairwise distinct")
	}
	for topic := range topics {
		if topic == (common.Hash{}) {
			t.Error("Event topic should not be zero")
		}
	}
}

func TestStaking_ParseEvents(t *testing.T) {
	parsed := mustParse(t, StakingABI)
	backend := newFakeBackend()

	staking, err := NewStaking(common.HexToAddress("0x5741Ee3e77a3a0DfF31cBa1Ac77e2AF21cf24aE6"), backend)
	if err != nil {
		t.Fatalf("Failed to bind staking: %v", err)
	}

	staker := common.HexToAddress("0x4444444444444444444444444444444444444444")
	stakerTopic := common.BytesToHash(common.LeftPadBytes(staker.Bytes(), 32))

	stakedData, err := parsed.Events["Staked"].Inputs.NonIndexed().Pack(big.NewInt(7))
	if err != nil {
		t.Fatalf("Failed to pack event data: %v", err)
	}

	ev, err := staking.ParseStaked(ethtypes.Log{
		Topics: []common.Hash{staking.StakedTopic(), stakerTopic},
		Data:   stakedData,
	})
	if err != nil {
		t.Fatalf("ParseStaked failed: %v", err)
	}
	if ev.Staker != staker {
		t.Errorf("Staker mismatch: got %s", ev.Staker.Hex())
	}
	if ev.TokenId.Int64() != 7 {
		t.Errorf("TokenId mismatch: got %d, want 7", ev.TokenId.Int64())
	}

	claimData, err := parsed.Events["RewardsClaimed"].Inputs.NonIndexed().Pack(big.NewInt(1500))
	if err != nil {
		t.Fatalf("Failed to pack event data: %v", err)
	}

	claim, err := staking.ParseRewardsClaimed(ethtypes.Log{
		Topics: []common.Hash{staking.RewardsClaimedTopic(), stakerTopic},
		Data:   claimData,
	})
	if err != nil {
		t.Fatalf("ParseRewardsClaimed failed: %v", err)
	}
	if claim.Amount.Int64() != 1500 {
		t.Errorf("Amount mismatch: got %d, want 1500", claim.Amount.Int64())
	}

	// Wrong topic must be rejected
	if _, err := staking.ParseStaked(ethtypes.Log{
		Topics: []common.Hash{staking.UnstakedTopic(), stakerTopic},
		Data:   stakedData,
	}); err == nil {
		t.Error("ParseStaked should reject a log with the wrong topic")
	}
}
