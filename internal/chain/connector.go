package chain

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"time"

	"github.com/calyptra-labs/stakedeck/internal/config"
	"github.com/calyptra-labs/stakedeck/internal/contracts"
	"github.com/calyptra-labs/stakedeck/internal/monitoring"
	"github.com/calyptra-labs/stakedeck/internal/retry"
	"github.com/calyptra-labs/stakedeck/internal/state"
	"github.com/calyptra-labs/stakedeck/internal/types"
	"github.com/rs/zerolog"
)

// disconnectMarker is the file recording an explicit disconnect, so the
// next start does not reconnect on its own.
const disconnectMarker = "disconnected"

// Connector owns the session lifecycle: wallet negotiation, chain
// verification, and publishing the active session to the state store.
// The RPC client and contract bindings are built once at startup from
// network configuration, so connecting and reconnecting stay cheap.
type Connector struct {
	cfg    *config.Config
	wallet WalletProvider
	caller *retry.Caller
	store  *state.Store
	logger zerolog.Logger

	client     *Client
	collection *contracts.Collection
	staking    *contracts.Staking
}

// NewConnector dials the configured endpoints and binds both contracts
// against the failover client
func NewConnector(cfg *config.Config, wallet WalletProvider, caller *retry.Caller, store *state.Store, logger zerolog.Logger) (*Connector, error) {
	client, err := NewClient(&cfg.Network, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize rpc client: %w", err)
	}

	collection, err := contracts.NewCollection(cfg.Contracts.CollectionAddress(), client)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to bind collection contract: %w", err)
	}

	staking, err := contracts.NewStaking(cfg.Contracts.StakingAddress(), client)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to bind staking contract: %w", err)
	}

	return &Connector{
		cfg:        cfg,
		wallet:     wallet,
		caller:     caller,
		store:      store,
		logger:     logger.With().Str("component", "connector").Logger(),
		client:     client,
		collection: collection,
		staking:    staking,
	}, nil
}

// Connect runs the full session handshake: wallet availability, chain
// negotiation, endpoint verification, a binding health check, and the
// session publish
func (c *Connector) Connect(ctx context.Context) error {
	err := c.connect(ctx)
	if err != nil {
		monitoring.SessionConnectsTotal.WithLabelValues("failure").Inc()
		return err
	}
	monitoring.SessionConnectsTotal.WithLabelValues("success").Inc()
	return nil
}

func (c *Connector) connect(ctx context.Context) error {
	if !c.wallet.Available() {
		return fmt.Errorf("no unlocked account: %w", types.ErrWalletUnavailable)
	}

	address, err := c.wallet.Address()
	if err != nil {
		return fmt.Errorf("failed to read wallet account: %w", types.ErrWalletUnavailable)
	}

	if err := c.negotiateChain(ctx); err != nil {
		return err
	}

	if err := c.caller.Do(ctx, "verify_chain", func(ctx context.Context) error {
		return c.client.VerifyChainID(ctx)
	}); err != nil {
		return err
	}

	// Confirm the bindings actually answer before declaring the session live
	if _, err := retry.Value(ctx, c.caller, "collection_health", func(ctx context.Context) (*big.Int, error) {
		return c.collection.TotalSupply(ctx)
	}); err != nil {
		return fmt.Errorf("collection contract unreachable: %w", err)
	}

	c.store.SetSession(&types.WalletSession{
		Address:     address,
		ChainID:     c.cfg.Network.ChainID,
		Connected:   true,
		ConnectedAt: time.Now(),
	})
	c.clearDisconnectMarker()

	c.logger.Info().
		Str("address", address.Hex()).
		Uint64("chain_id", c.cfg.Network.ChainID).
		Str("endpoint", c.client.ActiveEndpoint()).
		Msg("Wallet session established")
	return nil
}

// negotiateChain walks the wallet onto the target network. When the
// wallet does not recognize the chain, the network is registered and the
// switch retried exactly once. An add failure surfaces as
// ErrChainAddFailed, any rejected switch as ErrChainSwitchRejected.
func (c *Connector) negotiateChain(ctx context.Context) error {
	chainID := c.cfg.Network.ChainID

	err := c.wallet.SwitchChain(ctx, chainID)
	if err == nil {
		return nil
	}
	if !errors.Is(err, types.ErrUnrecognizedChain) {
		return fmt.Errorf("switch to chain %d: %v: %w", chainID, err, types.ErrChainSwitchRejected)
	}

	c.logger.Info().
		Uint64("chain_id", chainID).
		Str("network", c.cfg.Network.Name).
		Msg("Wallet does not recognize target chain, registering it")

	if addErr := c.wallet.AddChain(ctx, c.cfg.Network); addErr != nil {
		return fmt.Errorf("register chain %d: %v: %w", chainID, addErr, types.ErrChainAddFailed)
	}

	if retryErr := c.wallet.SwitchChain(ctx, chainID); retryErr != nil {
		return fmt.Errorf("switch to chain %d after registering it: %v: %w", chainID, retryErr, types.ErrChainSwitchRejected)
	}
	return nil
}

// Disconnect tears the session down and records the choice so the next
// start stays disconnected until asked
func (c *Connector) Disconnect() {
	c.store.ClearSession()

	if err := c.writeDisconnectMarker(); err != nil {
		c.logger.Warn().Err(err).Msg("Failed to persist disconnect marker")
	}
	c.logger.Info().Msg("Wallet session closed")
}

// ShouldAutoConnect reports whether startup should re-establish the
// session without being asked
func (c *Connector) ShouldAutoConnect() bool {
	if !c.wallet.Available() {
		return false
	}

	path, err := c.markerPath()
	if err != nil {
		return true
	}
	if _, err := os.Stat(path); err == nil {
		return false
	}
	return true
}

// Client returns the failover RPC client
func (c *Connector) Client() *Client {
	return c.client
}

// Collection returns the collection contract binding
func (c *Connector) Collection() *contracts.Collection {
	return c.collection
}

// Staking returns the staking contract binding
func (c *Connector) Staking() *contracts.Staking {
	return c.staking
}

// Wallet returns the wallet provider
func (c *Connector) Wallet() WalletProvider {
	return c.wallet
}

// Close releases the endpoint connections
func (c *Connector) Close() {
	c.client.Close()
}

func (c *Connector) markerPath() (string, error) {
	dir := c.cfg.Wallet.StateDir
	if dir == "" {
		base, err := os.UserConfigDir()
		if err != nil {
			return "", err
		}
		dir = filepath.Join(base, "stakedeck")
	}
	return filepath.Join(dir, disconnectMarker), nil
}

func (c *Connector) writeDisconnectMarker() error {
	path, err := c.markerPath()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(time.Now().UTC().Format(time.RFC3339)+"\n"), 0o600)
}

func (c *Connector) clearDisconnectMarker() {
	path, err := c.markerPath()
	if err != nil {
		return
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		c.logger.Warn().Err(err).Msg("Failed to clear disconnect marker")
	}
}
