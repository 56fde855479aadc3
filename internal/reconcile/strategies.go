package reconcile

import (
	"context"
	"math/big"

	"github.com/calyptra-labs/stakedeck/internal/monitoring"
	"github.com/calyptra-labs/stakedeck/internal/retry"
	"github.com/calyptra-labs/stakedeck/internal/state"
	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"
)

// StakingReader is the staking contract read surface the engine consumes
type StakingReader interface {
	Address() common.Address
	StakedNFTs(ctx context.Context, staker common.Address) ([]*big.Int, error)
	StakerToTokenID(ctx context.Context, staker common.Address) (*big.Int, error)
	GetStakedTokens(ctx context.Context, staker common.Address) ([]*big.Int, error)
	GetStaked(ctx context.Context, staker common.Address) ([]*big.Int, error)
	StakedTokens(ctx context.Context, staker common.Address) ([]*big.Int, error)
	IsStaker(ctx context.Context, account common.Address) (bool, error)
	GetTotalStakedNFTs(ctx context.Context) (*big.Int, error)
	TokenIDToStaker(ctx context.Context, tokenID *big.Int) (common.Address, error)
	IsStaked(ctx context.Context, tokenID *big.Int) (bool, error)
	StakerOf(ctx context.Context, tokenID *big.Int) (common.Address, error)
}

// CollectionReader is the collection contract read surface the engine
// consumes
type CollectionReader interface {
	BalanceOf(ctx context.Context, owner common.Address) (*big.Int, error)
	TokenOfOwnerByIndex(ctx context.Context, owner common.Address, index *big.Int) (*big.Int, error)
	TokenURI(ctx context.Context, tokenID *big.Int) (string, error)
}

// Strategy is one way of asking which tokens an address has staked.
// Deployed staking contracts expose different discovery views, so the
// engine walks an ordered chain of these until one yields a non-empty
// answer. Returning an empty list without an error is a valid outcome
// that sends the engine to the next rung.
type Strategy interface {
	Name() string
	Resolve(ctx context.Context, staker common.Address) ([]uint64, error)
}

// listStrategy wraps a view returning a token list
type listStrategy struct {
	name   string
	caller *retry.Caller
	fetch  func(ctx context.Context, staker common.Address) ([]*big.Int, error)
}

func (s *listStrategy) Name() string { return s.name }

func (s *listStrategy) Resolve(ctx context.Context, staker common.Address) ([]uint64, error) {
	list, err := retry.Value(ctx, s.caller, s.name, func(ctx context.Context) ([]*big.Int, error) {
		return s.fetch(ctx, staker)
	})
	if err != nil {
		return nil, err
	}
	return toUint64s(list), nil
}

// mappingStrategy reads the one-token-per-staker mapping kept by older
// deployments. A zero result means no mapping.
type mappingStrategy struct {
	caller  *retry.Caller
	staking StakingReader
}

func (s *mappingStrategy) Name() string { return "staker_to_token_id" }

func (s *mappingStrategy) Resolve(ctx context.Context, staker common.Address) ([]uint64, error) {
	tokenID, err := retry.Value(ctx, s.caller, s.Name(), func(ctx context.Context) (*big.Int, error) {
		return s.staking.StakerToTokenID(ctx, staker)
	})
	if err != nil {
		return nil, err
	}
	if tokenID.Sign() == 0 {
		return nil, nil
	}
	return []uint64{tokenID.Uint64()}, nil
}

// gatedMappingStrategy checks the staker flag before resolving the
// mapping, for deployments where the bare mapping read reverts
type gatedMappingStrategy struct {
	caller  *retry.Caller
	staking StakingReader
}

func (s *gatedMappingStrategy) Name() string { return "is_staker_mapping" }

func (s *gatedMappingStrategy) Resolve(ctx context.Context, staker common.Address) ([]uint64, error) {
	isStaker, err := retry.Value(ctx, s.caller, "is_staker", func(ctx context.Context) (bool, error) {
		return s.staking.IsStaker(ctx, staker)
	})
	if err != nil {
		return nil, err
	}
	if !isStaker {
		return nil, nil
	}

	tokenID, err := retry.Value(ctx, s.caller, s.Name(), func(ctx context.Context) (*big.Int, error) {
		return s.staking.StakerToTokenID(ctx, staker)
	})
	if err != nil {
		return nil, err
	}
	if tokenID.Sign() == 0 {
		return nil, nil
	}
	return []uint64{tokenID.Uint64()}, nil
}

// holdingsStrategy is the brute-force rung: staked tokens are held by
// the staking contract, so its holdings are enumerated through the
// collection and each token probed for the caller's ownership. Probes
// prefer the explicit staker mapping and fall back to the
// isStaked/stakerOf pair when the mapping view is absent.
type holdingsStrategy struct {
	caller     *retry.Caller
	collection CollectionReader
	staking    StakingReader
	logger     zerolog.Logger
}

func (s *holdingsStrategy) Name() string { return "contract_holdings" }

func (s *holdingsStrategy) Resolve(ctx context.Context, staker common.Address) ([]uint64, error) {
	vault := s.staking.Address()
	balance, err := retry.Value(ctx, s.caller, "vault_balance_of", func(ctx context.Context) (*big.Int, error) {
		return s.collection.BalanceOf(ctx, vault)
	})
	if err != nil {
		return nil, err
	}

	var tokens []uint64
	count := balance.Uint64()
	for i := uint64(0); i < count; i++ {
		index := new(big.Int).SetUint64(i)
		tokenID, err := retry.Value(ctx, s.caller, "vault_token_by_index", func(ctx context.Context) (*big.Int, error) {
			return s.collection.TokenOfOwnerByIndex(ctx, vault, index)
		})
		if err != nil {
			monitoring.EnumerationIndexFailures.Inc()
			s.logger.Warn().Err(err).Uint64("index", i).Msg("Vault holdings index read failed, skipping")
			continue
		}

		if s.stakedByCaller(ctx, tokenID, staker) {
			tokens = append(tokens, tokenID.Uint64())
		}
	}
	return tokens, nil
}

func (s *holdingsStrategy) stakedByCaller(ctx context.Context, tokenID *big.Int, staker common.Address) bool {
	mapped, err := retry.Value(ctx, s.caller, "token_id_to_staker", func(ctx context.Context) (common.Address, error) {
		return s.staking.TokenIDToStaker(ctx, tokenID)
	})
	if err == nil {
		return mapped == staker
	}

	isStaked, err := retry.Value(ctx, s.caller, "is_staked", func(ctx context.Context) (bool, error) {
		return s.staking.IsStaked(ctx, tokenID)
	})
	if err != nil || !isStaked {
		return false
	}

	owner, err := retry.Value(ctx, s.caller, "staker_of", func(ctx context.Context) (common.Address, error) {
		return s.staking.StakerOf(ctx, tokenID)
	})
	return err == nil && owner == staker
}

// staleCacheStrategy is the terminal rung: with every chain view
// exhausted, the previous pass's staked set is better than losing the
// user's tokens from the display
type staleCacheStrategy struct {
	store *state.Store
}

func (s *staleCacheStrategy) Name() string { return "stale_cache" }

func (s *staleCacheStrategy) Resolve(ctx context.Context, staker common.Address) ([]uint64, error) {
	return s.store.StakedTokens(), nil
}

func toUint64s(list []*big.Int) []uint64 {
	out := make([]uint64, 0, len(list))
	for _, id := range list {
		out = append(out, id.Uint64())
	}
	return out
}
