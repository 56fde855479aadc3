// Package events mirrors staking contract activity into the local state.
// A poll loop scans staking logs emitted for the session address, so a
// stake, unstake or claim settled from another device shows up here
// without waiting for the next full reconciliation pass.
package events

import (
	"context"
	"math/big"
	"time"

	"github.com/calyptra-labs/stakedeck/internal/config"
	"github.com/calyptra-labs/stakedeck/internal/contracts"
	"github.com/calyptra-labs/stakedeck/internal/monitoring"
	"github.com/calyptra-labs/stakedeck/internal/retry"
	"github.com/calyptra-labs/stakedeck/internal/state"
	"github.com/calyptra-labs/stakedeck/internal/types"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/rs/zerolog"
)

// LogSource is the chain surface the watcher polls
type LogSource interface {
	BlockNumber(ctx context.Context) (uint64, error)
	FilterLogs(ctx context.Context, query ethereum.FilterQuery) ([]ethtypes.Log, error)
}

// StakingEvents decodes staking contract logs
type StakingEvents interface {
	Address() common.Address
	StakedTopic() common.Hash
	UnstakedTopic() common.Hash
	RewardsClaimedTopic() common.Hash
	ParseStaked(log ethtypes.Log) (*contracts.StakedEvent, error)
	ParseUnstaked(log ethtypes.Log) (*contracts.UnstakedEvent, error)
	ParseRewardsClaimed(log ethtypes.Log) (*contracts.RewardsClaimedEvent, error)
}

// Placeholders materializes a display record for a token the watcher
// sees before any enumeration did
type Placeholders interface {
	Placeholder(tokenID uint64) *types.NFTRecord
}

// Kicker forces an immediate reward refresh
type Kicker interface {
	Kick()
}

// Watcher scans staking logs for the session address on a timer. The
// scan window starts at the head observed when the session appears, so
// only activity after connect is mirrored; history belongs to
// reconciliation.
type Watcher struct {
	client       LogSource
	staking      StakingEvents
	store        *state.Store
	placeholders Placeholders
	refresher    Kicker
	caller       *retry.Caller
	logger       zerolog.Logger
	interval     time.Duration

	tracking    bool
	sessionAddr common.Address
	lastBlock   uint64
}

// NewWatcher builds an event watcher from configuration
func NewWatcher(client LogSource, staking StakingEvents, store *state.Store, placeholders Placeholders, refresher Kicker, caller *retry.Caller, cfg *config.Config, logger zerolog.Logger) *Watcher {
	return &Watcher{
		client:       client,
		staking:      staking,
		store:        store,
		placeholders: placeholders,
		refresher:    refresher,
		caller:       caller,
		logger:       logger.With().Str("component", "events").Logger(),
		interval:     cfg.Refresh.EventPollIntervalDuration(),
	}
}

// Run polls until the context ends
func (w *Watcher) Run(ctx context.Context) {
	w.logger.Info().
		Dur("interval", w.interval).
		Str("staking", w.staking.Address().Hex()).
		Msg("Event watcher started")

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.logger.Info().Msg("Event watcher stopped")
			return
		case <-ticker.C:
			w.poll(ctx)
		}
	}
}

// poll advances the scan window by one head read. The first poll of a
// session only records the baseline block; scanning starts on the next.
func (w *Watcher) poll(ctx context.Context) {
	session := w.store.Session()
	if session == nil {
		w.tracking = false
		return
	}

	head, err := retry.Value(ctx, w.caller, "event_head", func(ctx context.Context) (uint64, error) {
		return w.client.BlockNumber(ctx)
	})
	if err != nil {
		w.logger.Warn().Err(err).Msg("Event poll could not read the chain head")
		return
	}

	if !w.tracking || session.Address != w.sessionAddr {
		w.tracking = true
		w.sessionAddr = session.Address
		w.lastBlock = head
		monitoring.EventPollLastBlock.Set(float64(head))
		w.logger.Debug().
			Uint64("from_block", head).
			Str("address", session.Address.Hex()).
			Msg("Event tracking started")
		return
	}

	if head <= w.lastBlock {
		return
	}

	query := ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(w.lastBlock + 1),
		ToBlock:   new(big.Int).SetUint64(head),
		Addresses: []common.Address{w.staking.Address()},
		Topics: [][]common.Hash{
			{w.staking.StakedTopic(), w.staking.UnstakedTopic(), w.staking.RewardsClaimedTopic()},
			{common.BytesToHash(w.sessionAddr.Bytes())},
		},
	}

	logs, err := retry.Value(ctx, w.caller, "filter_logs", func(ctx context.Context) ([]ethtypes.Log, error) {
		return w.client.FilterLogs(ctx, query)
	})
	if err != nil {
		w.logger.Warn().
			Err(err).
			Uint64("from", w.lastBlock+1).
			Uint64("to", head).
			Msg("Event poll could not filter logs")
		return
	}

	for _, entry := range logs {
		w.apply(entry)
	}

	w.lastBlock = head
	monitoring.EventPollLastBlock.Set(float64(head))
}

func (w *Watcher) apply(entry ethtypes.Log) {
	if len(entry.Topics) == 0 {
		return
	}

	switch entry.Topics[0] {
	case w.staking.StakedTopic():
		ev, err := w.staking.ParseStaked(entry)
		if err != nil {
			w.logger.Debug().Err(err).Str("tx_hash", entry.TxHash.Hex()).Msg("Undecodable Staked log")
			return
		}
		w.applyStaked(ev.TokenId.Uint64())
		monitoring.EventsDetectedTotal.WithLabelValues("staked").Inc()

	case w.staking.UnstakedTopic():
		ev, err := w.staking.ParseUnstaked(entry)
		if err != nil {
			w.logger.Debug().Err(err).Str("tx_hash", entry.TxHash.Hex()).Msg("Undecodable Unstaked log")
			return
		}
		w.applyUnstaked(ev.TokenId.Uint64())
		monitoring.EventsDetectedTotal.WithLabelValues("unstaked").Inc()

	case w.staking.RewardsClaimedTopic():
		ev, err := w.staking.ParseRewardsClaimed(entry)
		if err != nil {
			w.logger.Debug().Err(err).Str("tx_hash", entry.TxHash.Hex()).Msg("Undecodable RewardsClaimed log")
			return
		}
		w.store.ZeroEarned()
		w.logger.Info().Str("amount_wei", ev.Amount.String()).Msg("Rewards claim observed on chain")
	}

	w.refresher.Kick()
}

// applyStaked mirrors a Staked log. A token the orchestrator already
// moved is left alone so the cached total is not bumped twice.
func (w *Watcher) applyStaked(tokenID uint64) {
	if w.store.MoveToStaked(tokenID) {
		w.store.AdjustTotalStaked(1)
		w.logger.Info().Uint64("token_id", tokenID).Msg("Stake observed on chain")
		return
	}
	if w.store.StakedSetSnapshot().Contains(tokenID) {
		return
	}
	w.store.AddStaked(w.placeholders.Placeholder(tokenID))
	w.store.AdjustTotalStaked(1)
	w.logger.Info().Uint64("token_id", tokenID).Msg("Stake of an unseen token observed on chain")
}

// applyUnstaked mirrors an Unstaked log
func (w *Watcher) applyUnstaked(tokenID uint64) {
	if w.store.MoveToOwned(tokenID) {
		w.store.AdjustTotalStaked(-1)
		w.logger.Info().Uint64("token_id", tokenID).Msg("Unstake observed on chain")
		return
	}
	if containsToken(w.store.OwnedTokens(), tokenID) {
		return
	}
	w.store.AddOwned(w.placeholders.Placeholder(tokenID))
	w.logger.Info().Uint64("token_id", tokenID).Msg("Unstake of an unseen token observed on chain")
}

func containsToken(ids []uint64, id uint64) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}
