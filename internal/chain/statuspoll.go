package chain

import (
	"context"
	"fmt"
	"time"

	"github.com/calyptra-labs/stakedeck/internal/monitoring"
	"github.com/calyptra-labs/stakedeck/internal/retry"
)

// RunStatusPoll keeps the chain health gauges current and tears the
// session down when the wallet or the endpoints leave the configured
// network. It blocks until the context is cancelled.
func (c *Connector) RunStatusPoll(ctx context.Context) {
	interval := c.cfg.Refresh.StatusIntervalDuration()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	c.logger.Info().Dur("interval", interval).Msg("Chain status poller started")

	for {
		select {
		case <-ctx.Done():
			c.logger.Info().Msg("Chain status poller stopped")
			return
		case <-ticker.C:
			c.pollStatus(ctx)
		}
	}
}

func (c *Connector) pollStatus(ctx context.Context) {
	head, err := retry.Value(ctx, c.caller, "block_number", func(ctx context.Context) (uint64, error) {
		return c.client.BlockNumber(ctx)
	})
	if err != nil {
		monitoring.UpdateChainHealth(false)
		c.logger.Warn().Err(err).Msg("Chain status poll failed")
		return
	}
	monitoring.UpdateChainHealth(true)
	monitoring.UpdateChainBlockNumber(head)

	session := c.store.Session()
	if session == nil {
		return
	}

	if active := c.wallet.ActiveChain(); active != session.ChainID {
		c.teardown(fmt.Sprintf("wallet moved to chain %d", active))
		return
	}

	chainID, err := c.client.ChainID(ctx)
	if err != nil {
		return
	}
	if chainID.Uint64() != session.ChainID {
		c.teardown(fmt.Sprintf("endpoint now serves chain %d", chainID.Uint64()))
	}
}

// teardown closes the session without recording an explicit disconnect,
// so the next start may reconnect on its own
func (c *Connector) teardown(reason string) {
	c.store.ClearSession()
	c.logger.Warn().Str("reason", reason).Msg("Wallet session torn down")
}
