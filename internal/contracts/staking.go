package contracts

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/calyptra-labs/stakedeck/internal/types"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
)

// Staking is a high-level wrapper around the deployed staking contract
type Staking struct {
	abi      abi.ABI
	address  common.Address
	contract *bind.BoundContract

	// caller is kept for the one view whose return shape varies across
	// deployments and needs a raw decode
	caller bind.ContractCaller
}

// StakedEvent mirrors the Staked log
type StakedEvent struct {
	Staker  common.Address
	TokenId *big.Int
}

// UnstakedEvent mirrors the Unstaked log
type UnstakedEvent struct {
	Staker  common.Address
	TokenId *big.Int
}

// RewardsClaimedEvent mirrors the RewardsClaimed log
type RewardsClaimedEvent struct {
	Staker common.Address
	Amount *big.Int
}

// NewStaking connects to an already-deployed staking contract
func NewStaking(addr common.Address, backend bind.ContractBackend) (*Staking, error) {
	parsed, err := abi.JSON(strings.NewReader(StakingABI))
	if err != nil {
		return nil, err
	}
	return &Staking{
		abi:      parsed,
		address:  addr,
		contract: bind.NewBoundContract(addr, parsed, backend, backend, backend),
		caller:   backend,
	}, nil
}

// Address returns the bound contract address
func (s *Staking) Address() common.Address {
	return s.address
}

// StakedNFTs returns the canonical list of tokens staked by an address.
// Some deployments return a single uint256 from the same selector, so
// the raw return data is decoded as a list first and as one token id
// when that fails, zero meaning nothing staked.
func (s *Staking) StakedNFTs(ctx context.Context, staker common.Address) ([]*big.Int, error) {
	input, err := s.abi.Pack("stakedNFTs", staker)
	if err != nil {
		return nil, err
	}
	raw, err := s.caller.CallContract(ctx, ethereum.CallMsg{To: &s.address, Data: input}, nil)
	if err != nil {
		return nil, err
	}

	if out, err := s.abi.Unpack("stakedNFTs", raw); err == nil {
		return out[0].([]*big.Int), nil
	}
	if len(raw) == 32 {
		id := new(big.Int).SetBytes(raw)
		if id.Sign() == 0 {
			return nil, nil
		}
		return []*big.Int{id}, nil
	}
	return nil, fmt.Errorf("stakedNFTs: unexpected return shape (%d bytes)", len(raw))
}

// Rewards returns the accumulated reward balance for an address in wei
func (s *Staking) Rewards(ctx context.Context, staker common.Address) (*big.Int, error) {
	var out []interface{}
	err := s.contract.Call(&bind.CallOpts{Context: ctx}, &out, "rewards", staker)
	if err != nil {
		return nil, err
	}
	return out[0].(*big.Int), nil
}

// DailyRewardCap returns the contract-wide daily reward cap in wei
func (s *Staking) DailyRewardCap(ctx context.Context) (*big.Int, error) {
	var out []interface{}
	err := s.contract.Call(&bind.CallOpts{Context: ctx}, &out, "dailyRewardCap")
	if err != nil {
		return nil, err
	}
	return out[0].(*big.Int), nil
}

// GetTotalStakedNFTs returns the contract-wide staked token count
func (s *Staking) GetTotalStakedNFTs(ctx context.Context) (*big.Int, error) {
	var out []interface{}
	err := s.contract.Call(&bind.CallOpts{Context: ctx}, &out, "getTotalStakedNFTs")
	if err != nil {
		return nil, err
	}
	return out[0].(*big.Int), nil
}

// IsStaker reports whether an address currently has anything staked
func (s *Staking) IsStaker(ctx context.Context, account common.Address) (bool, error) {
	var out []interface{}
	err := s.contract.Call(&bind.CallOpts{Context: ctx}, &out, "isStaker", account)
	if err != nil {
		return false, err
	}
	return out[0].(bool), nil
}

// Vault returns the stake record for a token
func (s *Staking) Vault(ctx context.Context, tokenID *big.Int) (*types.StakeRecord, error) {
	var out []interface{}
	err := s.contract.Call(&bind.CallOpts{Context: ctx}, &out, "vault", tokenID)
	if err != nil {
		return nil, err
	}
	stakedAt := out[1].(*big.Int)
	return &types.StakeRecord{
		TokenID:  tokenID.Uint64(),
		Staker:   out[0].(common.Address),
		StakedAt: time.Unix(stakedAt.Int64(), 0),
		Staked:   out[2].(bool),
	}, nil
}

// GetStakedTokens is a legacy discovery view kept for older deployments
func (s *Staking) GetStakedTokens(ctx context.Context, staker common.Address) ([]*big.Int, error) {
	return s.tokenListView(ctx, "getStakedTokens", staker)
}

// GetStaked is a legacy discovery view kept for older deployments
func (s *Staking) GetStaked(ctx context.Context, staker common.Address) ([]*big.Int, error) {
	return s.tokenListView(ctx, "getStaked", staker)
}

// StakedTokens is a legacy discovery view kept for older deployments
func (s *Staking) StakedTokens(ctx context.Context, staker common.Address) ([]*big.Int, error) {
	return s.tokenListView(ctx, "stakedTokens", staker)
}

func (s *Staking) tokenListView(ctx context.Context, method string, staker common.Address) ([]*big.Int, error) {
	var out []interface{}
	err := s.contract.Call(&bind.CallOpts{Context: ctx}, &out, method, staker)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", method, err)
	}
	return out[0].([]*big.Int), nil
}

// StakerToTokenID returns the single token mapped to a staker on
// deployments that allowed one stake per address
func (s *Staking) StakerToTokenID(ctx context.Context, staker common.Address) (*big.Int, error) {
	var out []interface{}
	err := s.contract.Call(&bind.CallOpts{Context: ctx}, &out, "stakerToTokenId", staker)
	if err != nil {
		return nil, err
	}
	return out[0].(*big.Int), nil
}

// TokenIDToStaker returns the staker recorded for a token
func (s *Staking) TokenIDToStaker(ctx context.Context, tokenID *big.Int) (common.Address, error) {
	var out []interface{}
	err := s.contract.Call(&bind.CallOpts{Context: ctx}, &out, "tokenIdToStaker", tokenID)
	if err != nil {
		return common.Address{}, err
	}
	return out[0].(common.Address), nil
}

// IsStaked reports whether a token is currently staked
func (s *Staking) IsStaked(ctx context.Context, tokenID *big.Int) (bool, error) {
	var out []interface{}
	err := s.contract.Call(&bind.CallOpts{Context: ctx}, &out, "isStaked", tokenID)
	if err != nil {
		return false, err
	}
	return out[0].(bool), nil
}

// StakerOf returns the staker of a token on deployments exposing the
// per-token owner view
func (s *Staking) StakerOf(ctx context.Context, tokenID *big.Int) (common.Address, error) {
	var out []interface{}
	err := s.contract.Call(&bind.CallOpts{Context: ctx}, &out, "stakerOf", tokenID)
	if err != nil {
		return common.Address{}, err
	}
	return out[0].(common.Address), nil
}

// StakeNFT stakes a token the caller owns
func (s *Staking) StakeNFT(opts *bind.TransactOpts, tokenID *big.Int) (*ethtypes.Transaction, error) {
	return s.contract.Transact(opts, "stakeNFT", tokenID)
}

// UnstakeAndRemove unstakes a token and clears its vault record
func (s *Staking) UnstakeAndRemove(opts *bind.TransactOpts, tokenID *big.Int) (*ethtypes.Transaction, error) {
	return s.contract.Transact(opts, "unstakeAndRemove", tokenID)
}

// ClaimRewards pays out the caller's accumulated rewards
func (s *Staking) ClaimRewards(opts *bind.TransactOpts) (*ethtypes.Transaction, error) {
	return s.contract.Transact(opts, "claimRewards")
}

// DepositRewards funds the reward pool with the attached value
func (s *Staking) DepositRewards(opts *bind.TransactOpts) (*ethtypes.Transaction, error) {
	return s.contract.Transact(opts, "depositRewards")
}

// UpdateDailyRewardCap sets the contract-wide daily reward cap
func (s *Staking) UpdateDailyRewardCap(opts *bind.TransactOpts, newCap *big.Int) (*ethtypes.Transaction, error) {
	return s.contract.Transact(opts, "updateDailyRewardCap", newCap)
}

// InitiateEmergencyWithdraw starts the timelocked pool withdrawal
func (s *Staking) InitiateEmergencyWithdraw(opts *bind.TransactOpts, recipient common.Address, amount *big.Int) (*ethtypes.Transaction, error) {
	return s.contract.Transact(opts, "initiateEmergencyWithdraw", recipient, amount)
}

// CompleteEmergencyWithdraw finishes a matured pool withdrawal
func (s *Staking) CompleteEmergencyWithdraw(opts *bind.TransactOpts) (*ethtypes.Transaction, error) {
	return s.contract.Transact(opts, "completeEmergencyWithdraw")
}

// StakedTopic returns the Staked event topic hash
func (s *Staking) StakedTopic() common.Hash {
	return s.abi.Events["Staked"].ID
}

// UnstakedTopic returns the Unstaked event topic hash
func (s *Staking) UnstakedTopic() common.Hash {
	return s.abi.Events["Unstaked"].ID
}

// RewardsClaimedTopic returns the RewardsClaimed event topic hash
func (s *Staking) RewardsClaimedTopic() common.Hash {
	return s.abi.Events["RewardsClaimed"].ID
}

// ParseStaked decodes a Staked log
func (s *Staking) ParseStaked(log ethtypes.Log) (*StakedEvent, error) {
	var ev StakedEvent
	if err := s.contract.UnpackLog(&ev, "Staked", log); err != nil {
		return nil, err
	}
	return &ev, nil
}

// ParseUnstaked decodes an Unstaked log
func (s *Staking) ParseUnstaked(log ethtypes.Log) (*UnstakedEvent, error) {
	var ev UnstakedEvent
	if err := s.contract.UnpackLog(&ev, "Unstaked", log); err != nil {
		return nil, err
	}
	return &ev, nil
}

// ParseRewardsClaimed decodes a RewardsClaimed log
func (s *Staking) ParseRewardsClaimed(log ethtypes.Log) (*RewardsClaimedEvent, error) {
	var ev RewardsClaimedEvent
	if err := s.contract.UnpackLog(&ev, "RewardsClaimed", log); err != nil {
		return nil, err
	}
	return &ev, nil
}
