// Package chain owns connectivity to the target network: the failover RPC
// client, the wallet provider, and the connect/disconnect session flow.
package chain

import (
	"context"
	"fmt"
	"math/big"
	"sync"

	"github.com/calyptra-labs/stakedeck/internal/monitoring"
	"github.com/calyptra-labs/stakedeck/internal/types"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/rs/zerolog"
)

// gasLimitBuffer is the headroom applied over the node's gas estimate
const gasLimitBuffer = 1.2

// Client is a failover RPC client over the network's endpoint list. It
// implements bind.ContractBackend, so bindings created against it inherit
// endpoint rotation on every call.
type Client struct {
	network      *types.NetworkParams
	endpoints    []string
	clients      []*ethclient.Client
	currentIndex int
	mu           sync.RWMutex
	logger       zerolog.Logger
}

// NewClient dials every configured endpoint and keeps the reachable ones
// in priority order
func NewClient(network *types.NetworkParams, logger zerolog.Logger) (*Client, error) {
	client := &Client{
		network: network,
		logger:  logger.With().Str("component", "chain").Str("network", network.Name).Logger(),
	}

	for i, endpoint := range network.RPCEndpoints {
		rpcClient, err := ethclient.Dial(endpoint)
		if err != nil {
			client.logger.Warn().
				Err(err).
				Str("endpoint", endpoint).
				Int("index", i).
				Msg("Failed to connect to RPC endpoint")
			continue
		}
		client.clients = append(client.clients, rpcClient)
		client.endpoints = append(client.endpoints, endpoint)
	}

	if len(client.clients) == 0 {
		return nil, fmt.Errorf("failed to connect to any RPC endpoint for %s", network.Name)
	}

	client.logger.Info().
		Int("connected_rpcs", len(client.clients)).
		Msg("RPC client initialized")

	return client, nil
}

// getClient returns the current active client
func (c *Client) getClient() *ethclient.Client {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if len(c.clients) == 0 {
		return nil
	}
	return c.clients[c.currentIndex%len(c.clients)]
}

// rotateClient rotates to the next available endpoint
func (c *Client) rotateClient() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.currentIndex = (c.currentIndex + 1) % len(c.clients)
	monitoring.EndpointRotationsTotal.Inc()
	c.logger.Debug().
		Str("endpoint", c.endpoints[c.currentIndex]).
		Msg("Rotated to next RPC endpoint")
}

// ActiveEndpoint returns the endpoint currently serving calls
func (c *Client) ActiveEndpoint() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.endpoints[c.currentIndex%len(c.endpoints)]
}

// executeWithFailover runs fn against the active endpoint, rotating
// through the remaining ones on failure
func (c *Client) executeWithFailover(ctx context.Context, fn func(*ethclient.Client) error) error {
	maxRetries := len(c.clients)
	var lastErr error

	for i := 0; i < maxRetries; i++ {
		client := c.getClient()
		if client == nil {
			return fmt.Errorf("no available clients")
		}

		err := fn(client)
		if err == nil {
			return nil
		}

		lastErr = err
		c.logger.Warn().
			Err(err).
			Int("attempt", i+1).
			Msg("RPC call failed, trying next endpoint")

		c.rotateClient()
	}

	return fmt.Errorf("all RPC endpoints failed: %w", lastErr)
}

// Close closes all endpoint connections
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	for i, client := range c.clients {
		if client != nil {
			client.Close()
			c.logger.Debug().Int("index", i).Msg("Closed RPC client")
		}
	}
}

// BlockNumber returns the latest block number
func (c *Client) BlockNumber(ctx context.Context) (uint64, error) {
	var blockNumber uint64
	err := c.executeWithFailover(ctx, func(client *ethclient.Client) error {
		bn, err := client.BlockNumber(ctx)
		if err != nil {
			return err
		}
		blockNumber = bn
		return nil
	})
	return blockNumber, err
}

// ChainID returns the chain ID reported by the active endpoint
func (c *Client) ChainID(ctx context.Context) (*big.Int, error) {
	var chainID *big.Int
	err := c.executeWithFailover(ctx, func(client *ethclient.Client) error {
		cid, err := client.ChainID(ctx)
		if err != nil {
			return err
		}
		chainID = cid
		return nil
	})
	return chainID, err
}

// VerifyChainID checks that the endpoints actually serve the configured
// network
func (c *Client) VerifyChainID(ctx context.Context) error {
	chainID, err := c.ChainID(ctx)
	if err != nil {
		return fmt.Errorf("failed to read chain id: %w", err)
	}
	if chainID.Uint64() != c.network.ChainID {
		return fmt.Errorf("endpoint serves chain %d, expected %d (%s)",
			chainID.Uint64(), c.network.ChainID, c.network.Name)
	}
	return nil
}

// BalanceAt returns the native balance for an address
func (c *Client) BalanceAt(ctx context.Context, account common.Address) (*big.Int, error) {
	var balance *big.Int
	err := c.executeWithFailover(ctx, func(client *ethclient.Client) error {
		b, err := client.BalanceAt(ctx, account, nil)
		if err != nil {
			return err
		}
		balance = b
		return nil
	})
	return balance, err
}

// TransactionReceipt returns the receipt for a mined transaction
func (c *Client) TransactionReceipt(ctx context.Context, txHash common.Hash) (*ethtypes.Receipt, error) {
	var receipt *ethtypes.Receipt
	err := c.executeWithFailover(ctx, func(client *ethclient.Client) error {
		r, err := client.TransactionReceipt(ctx, txHash)
		if err != nil {
			return err
		}
		receipt = r
		return nil
	})
	return receipt, err
}

// CodeAt implements bind.ContractCaller
func (c *Client) CodeAt(ctx context.Context, contract common.Address, blockNumber *big.Int) ([]byte, error) {
	var code []byte
	err := c.executeWithFailover(ctx, func(client *ethclient.Client) error {
		out, err := client.CodeAt(ctx, contract, blockNumber)
		if err != nil {
			return err
		}
		code = out
		return nil
	})
	return code, err
}

// CallContract implements bind.ContractCaller
func (c *Client) CallContract(ctx context.Context, call ethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
	var out []byte
	err := c.executeWithFailover(ctx, func(client *ethclient.Client) error {
		result, err := client.CallContract(ctx, call, blockNumber)
		if err != nil {
			return err
		}
		out = result
		return nil
	})
	return out, err
}

// HeaderByNumber implements bind.ContractTransactor
func (c *Client) HeaderByNumber(ctx context.Context, number *big.Int) (*ethtypes.Header, error) {
	var header *ethtypes.Header
	err := c.executeWithFailover(ctx, func(client *ethclient.Client) error {
		h, err := client.HeaderByNumber(ctx, number)
		if err != nil {
			return err
		}
		header = h
		return nil
	})
	return header, err
}

// PendingCodeAt implements bind.ContractTransactor
func (c *Client) PendingCodeAt(ctx context.Context, account common.Address) ([]byte, error) {
	var code []byte
	err := c.executeWithFailover(ctx, func(client *ethclient.Client) error {
		out, err := client.PendingCodeAt(ctx, account)
		if err != nil {
			return err
		}
		code = out
		return nil
	})
	return code, err
}

// PendingNonceAt implements bind.ContractTransactor
func (c *Client) PendingNonceAt(ctx context.Context, account common.Address) (uint64, error) {
	var nonce uint64
	err := c.executeWithFailover(ctx, func(client *ethclient.Client) error {
		n, err := client.PendingNonceAt(ctx, account)
		if err != nil {
			return err
		}
		nonce = n
		return nil
	})
	return nonce, err
}

// SuggestGasPrice implements bind.ContractTransactor
func (c *Client) SuggestGasPrice(ctx context.Context) (*big.Int, error) {
	var gasPrice *big.Int
	err := c.executeWithFailover(ctx, func(client *ethclient.Client) error {
		gp, err := client.SuggestGasPrice(ctx)
		if err != nil {
			return err
		}
		gasPrice = gp
		return nil
	})
	return gasPrice, err
}

// SuggestGasTipCap implements bind.ContractTransactor
func (c *Client) SuggestGasTipCap(ctx context.Context) (*big.Int, error) {
	var tip *big.Int
	err := c.executeWithFailover(ctx, func(client *ethclient.Client) error {
		t, err := client.SuggestGasTipCap(ctx)
		if err != nil {
			return err
		}
		tip = t
		return nil
	})
	return tip, err
}

// EstimateGas implements bind.ContractTransactor, applying headroom over
// the node's estimate
func (c *Client) EstimateGas(ctx context.Context, call ethereum.CallMsg) (uint64, error) {
	var gasLimit uint64
	err := c.executeWithFailover(ctx, func(client *ethclient.Client) error {
		gas, err := client.EstimateGas(ctx, call)
		if err != nil {
			return err
		}
		gasLimit = gas
		return nil
	})
	if err != nil {
		return 0, err
	}
	return uint64(float64(gasLimit) * gasLimitBuffer), nil
}

// SendTransaction implements bind.ContractTransactor
func (c *Client) SendTransaction(ctx context.Context, tx *ethtypes.Transaction) error {
	err := c.executeWithFailover(ctx, func(client *ethclient.Client) error {
		return client.SendTransaction(ctx, tx)
	})
	if err != nil {
		return err
	}
	c.logger.Info().
		Str("tx_hash", tx.Hash().Hex()).
		Msg("Transaction sent")
	return nil
}

// FilterLogs implements bind.ContractFilterer
func (c *Client) FilterLogs(ctx context.Context, query ethereum.FilterQuery) ([]ethtypes.Log, error) {
	var logs []ethtypes.Log
	err := c.executeWithFailover(ctx, func(client *ethclient.Client) error {
		result, err := client.FilterLogs(ctx, query)
		if err != nil {
			return err
		}
		logs = result
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to filter logs: %w", err)
	}
	return logs, nil
}

// SubscribeFilterLogs implements bind.ContractFilterer. Live subscriptions
// need a websocket endpoint; the event watcher polls FilterLogs instead.
func (c *Client) SubscribeFilterLogs(ctx context.Context, query ethereum.FilterQuery, ch chan<- ethtypes.Log) (ethereum.Subscription, error) {
	return nil, fmt.Errorf("log subscriptions are not supported over http endpoints")
}
