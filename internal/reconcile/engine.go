// Package reconcile rebuilds the owned and staked token sets for the
// session address from chain state. Staked-token discovery walks an
// ordered strategy chain because deployed staking contracts disagree on
// which query views they expose.
package reconcile

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/calyptra-labs/stakedeck/internal/monitoring"
	"github.com/calyptra-labs/stakedeck/internal/retry"
	"github.com/calyptra-labs/stakedeck/internal/state"
	"github.com/calyptra-labs/stakedeck/internal/types"
	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"
)

// Materializer turns a token ID and its on-chain URI into a display
// record. The production implementation is metadata.Resolver.
type Materializer interface {
	Placeholder(tokenID uint64) *types.NFTRecord
	Resolve(ctx context.Context, tokenID uint64, tokenURI string) *types.NFTRecord
}

// Engine runs full reconciliation passes against the bound contracts and
// installs the result into the state store
type Engine struct {
	collection CollectionReader
	staking    StakingReader
	resolver   Materializer
	caller     *retry.Caller
	store      *state.Store
	strategies []Strategy
	logger     zerolog.Logger
}

// NewEngine builds an engine with the full discovery chain in canonical
// order
func NewEngine(collection CollectionReader, staking StakingReader, resolver Materializer, caller *retry.Caller, store *state.Store, logger zerolog.Logger) *Engine {
	log := logger.With().Str("component", "reconcile").Logger()
	return &Engine{
		collection: collection,
		staking:    staking,
		resolver:   resolver,
		caller:     caller,
		store:      store,
		logger:     log,
		strategies: []Strategy{
			&listStrategy{name: "staked_nfts", caller: caller, fetch: staking.StakedNFTs},
			&mappingStrategy{caller: caller, staking: staking},
			&listStrategy{name: "get_staked_tokens", caller: caller, fetch: staking.GetStakedTokens},
			&listStrategy{name: "get_staked", caller: caller, fetch: staking.GetStaked},
			&listStrategy{name: "staked_tokens", caller: caller, fetch: staking.StakedTokens},
			&gatedMappingStrategy{caller: caller, staking: staking},
			&holdingsStrategy{caller: caller, collection: collection, staking: staking, logger: log},
			&staleCacheStrategy{store: store},
		},
	}
}

// Reconcile runs one full pass: enumerate owned tokens, discover staked
// tokens, materialize display records, and install the result. The
// write is generation-stamped, so a pass that finishes after a newer one
// is discarded by the store rather than clobbering fresher state.
func (e *Engine) Reconcile(ctx context.Context) error {
	address, ok := e.store.SessionAddress()
	if !ok {
		e.logger.Debug().Msg("No session, skipping reconciliation")
		return nil
	}

	pass := e.store.NextGeneration()
	start := time.Now()
	e.logger.Debug().Uint64("pass", pass).Str("address", address.Hex()).Msg("Reconciliation pass started")

	owned, records, err := e.discoverOwned(ctx, address)
	if err != nil {
		monitoring.ReconcilePassesTotal.WithLabelValues("failure").Inc()
		return fmt.Errorf("owned token enumeration: %w", err)
	}

	staked := e.discoverStaked(ctx, address)

	// The staked set wins any overlap; a token must never show in both
	for _, id := range staked.Tokens() {
		owned.Remove(id)
		if _, ok := records[id]; !ok {
			records[id] = e.materialize(ctx, id)
		}
	}

	applied := e.store.ApplyReconciliation(pass, owned, staked, records)
	monitoring.ReconcilePassesTotal.WithLabelValues("success").Inc()
	monitoring.ReconcileDuration.Observe(time.Since(start).Seconds())

	e.logger.Info().
		Uint64("pass", pass).
		Int("owned", owned.Len()).
		Int("staked", staked.Len()).
		Bool("applied", applied).
		Dur("took", time.Since(start)).
		Msg("Reconciliation pass finished")
	return nil
}

// ScheduleAfter runs one pass after the delay, dropping it if the
// context ends first. Mutating operations use it to re-read chain state
// once the transaction has settled into the read path.
func (e *Engine) ScheduleAfter(ctx context.Context, delay time.Duration) {
	go func() {
		timer := time.NewTimer(delay)
		defer timer.Stop()

		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}

		if err := e.Reconcile(ctx); err != nil {
			e.logger.Warn().Err(err).Msg("Scheduled reconciliation failed")
		}
	}()
}

func (e *Engine) discoverOwned(ctx context.Context, address common.Address) (*types.TokenSet, map[uint64]*types.NFTRecord, error) {
	balance, err := retry.Value(ctx, e.caller, "balance_of", func(ctx context.Context) (*big.Int, error) {
		return e.collection.BalanceOf(ctx, address)
	})
	if err != nil {
		return nil, nil, err
	}

	owned := types.NewTokenSet()
	records := make(map[uint64]*types.NFTRecord)

	count := balance.Uint64()
	for i := uint64(0); i < count; i++ {
		index := new(big.Int).SetUint64(i)
		tokenID, err := retry.Value(ctx, e.caller, "token_of_owner_by_index", func(ctx context.Context) (*big.Int, error) {
			return e.collection.TokenOfOwnerByIndex(ctx, address, index)
		})
		if err != nil {
			monitoring.EnumerationIndexFailures.Inc()
			e.logger.Warn().Err(err).Uint64("index", i).Msg("Owned token index read failed, skipping")
			continue
		}

		id := tokenID.Uint64()
		owned.Add(id)
		records[id] = e.materialize(ctx, id)
	}
	return owned, records, nil
}

// discoverStaked walks the strategy chain. It never fails the pass; with
// every rung exhausted the staked set is simply empty.
func (e *Engine) discoverStaked(ctx context.Context, address common.Address) *types.TokenSet {
	total, err := retry.Value(ctx, e.caller, "total_staked", func(ctx context.Context) (*big.Int, error) {
		return e.staking.GetTotalStakedNFTs(ctx)
	})
	if err == nil && total.Sign() == 0 {
		return types.NewTokenSet()
	}
	if err != nil {
		e.logger.Debug().Err(err).Msg("Total staked read failed, walking the discovery chain anyway")
	}

	for _, strategy := range e.strategies {
		tokens, err := strategy.Resolve(ctx, address)
		if err != nil {
			e.logger.Debug().Err(err).Str("strategy", strategy.Name()).Msg("Staked discovery strategy failed")
			continue
		}
		if len(tokens) == 0 {
			continue
		}

		monitoring.ReconcileStrategyHits.WithLabelValues(strategy.Name()).Inc()
		e.logger.Debug().Str("strategy", strategy.Name()).Int("tokens", len(tokens)).Msg("Staked discovery strategy answered")
		return types.NewTokenSet(tokens...)
	}
	return types.NewTokenSet()
}

func (e *Engine) materialize(ctx context.Context, tokenID uint64) *types.NFTRecord {
	uri, err := retry.Value(ctx, e.caller, "token_uri", func(ctx context.Context) (string, error) {
		return e.collection.TokenURI(ctx, new(big.Int).SetUint64(tokenID))
	})
	if err != nil {
		return e.resolver.Placeholder(tokenID)
	}
	return e.resolver.Resolve(ctx, tokenID, uri)
}
