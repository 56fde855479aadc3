// Package rewards keeps the reward snapshot current: accrued balance,
// daily cap, and the contract-wide staked count, read on a timer and
// converted to display units. Figures are display-only; payout math
// stays on the contract.
package rewards

import (
	"context"
	"math/big"
	"time"

	"github.com/calyptra-labs/stakedeck/internal/config"
	"github.com/calyptra-labs/stakedeck/internal/monitoring"
	"github.com/calyptra-labs/stakedeck/internal/retry"
	"github.com/calyptra-labs/stakedeck/internal/state"
	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// Reader is the staking contract surface the refresher consumes
type Reader interface {
	Rewards(ctx context.Context, staker common.Address) (*big.Int, error)
	DailyRewardCap(ctx context.Context) (*big.Int, error)
	GetTotalStakedNFTs(ctx context.Context) (*big.Int, error)
}

// Refresher polls the three reward reads on a timer: the configured
// interval after a clean cycle, the longer failure interval after any
// read failed. Kick forces the next cycle immediately, used after every
// mutating transaction.
type Refresher struct {
	staking Reader
	caller  *retry.Caller
	store   *state.Store
	logger  zerolog.Logger

	decimals     int32
	successEvery time.Duration
	failureEvery time.Duration
	kick         chan struct{}
}

// NewRefresher builds a refresher from configuration
func NewRefresher(staking Reader, caller *retry.Caller, store *state.Store, cfg *config.Config, logger zerolog.Logger) *Refresher {
	return &Refresher{
		staking:      staking,
		caller:       caller,
		store:        store,
		logger:       logger.With().Str("component", "rewards").Logger(),
		decimals:     int32(cfg.Network.CurrencyDecimals),
		successEvery: cfg.Refresh.RewardsIntervalDuration(),
		failureEvery: cfg.Refresh.FailureIntervalDuration(),
		kick:         make(chan struct{}, 1),
	}
}

// Kick requests an immediate refresh cycle without blocking
func (r *Refresher) Kick() {
	select {
	case r.kick <- struct{}{}:
	default:
	}
}

// RefreshOnce runs a single cycle outside the loop, for one-shot tools.
// Reports whether every read succeeded.
func (r *Refresher) RefreshOnce(ctx context.Context) bool {
	return r.refresh(ctx)
}

// Run cycles until the context ends. The first cycle runs immediately;
// each later one waits out the interval chosen by the previous outcome
// or a kick, whichever lands first.
func (r *Refresher) Run(ctx context.Context) {
	r.logger.Info().
		Dur("interval", r.successEvery).
		Dur("failure_interval", r.failureEvery).
		Msg("Reward refresher started")

	for {
		interval := r.successEvery
		if !r.refresh(ctx) {
			interval = r.failureEvery
		}

		timer := time.NewTimer(interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			r.logger.Info().Msg("Reward refresher stopped")
			return
		case <-timer.C:
		case <-r.kick:
			timer.Stop()
		}
	}
}

// refresh runs one cycle. The three reads are independent: one failing
// leaves the others' results standing and the failed field keeps its
// previous value. Reports whether the whole cycle was clean.
func (r *Refresher) refresh(ctx context.Context) bool {
	address, ok := r.store.SessionAddress()
	if !ok {
		return true
	}

	snapshot := r.store.Rewards()
	failures := 0

	earned, err := retry.Value(ctx, r.caller, "rewards", func(ctx context.Context) (*big.Int, error) {
		return r.staking.Rewards(ctx, address)
	})
	if err != nil {
		failures++
		r.logger.Warn().Err(err).Msg("Accrued reward read failed")
	} else {
		snapshot.Earned = decimal.NewFromBigInt(earned, -r.decimals)
		monitoring.RewardEarned.Set(snapshot.Earned.InexactFloat64())
	}

	dailyCap, err := retry.Value(ctx, r.caller, "daily_reward_cap", func(ctx context.Context) (*big.Int, error) {
		return r.staking.DailyRewardCap(ctx)
	})
	if err != nil {
		failures++
		r.logger.Warn().Err(err).Msg("Daily cap read failed")
	} else {
		snapshot.DailyCap = decimal.NewFromBigInt(dailyCap, -r.decimals)
		monitoring.RewardDailyCap.Set(snapshot.DailyCap.InexactFloat64())
	}

	total, err := retry.Value(ctx, r.caller, "total_staked", func(ctx context.Context) (*big.Int, error) {
		return r.staking.GetTotalStakedNFTs(ctx)
	})
	if err != nil {
		failures++
		r.logger.Warn().Err(err).Msg("Total staked read failed")
	} else {
		snapshot.TotalStaked = total.Uint64()
		monitoring.ContractTotalStaked.Set(float64(snapshot.TotalStaked))
	}

	snapshot.UpdatedAt = time.Now()
	r.store.SetRewards(snapshot)

	outcome := "success"
	if failures > 0 {
		outcome = "failure"
	}
	monitoring.RewardRefreshesTotal.WithLabelValues(outcome).Inc()

	r.logger.Debug().
		Str("earned", snapshot.Earned.String()).
		Str("daily_cap", snapshot.DailyCap.String()).
		Uint64("total_staked", snapshot.TotalStaked).
		Int("failed_reads", failures).
		Msg("Reward snapshot refreshed")
	return failures == 0
}
