package types

import (
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// NetworkParams describes one EVM network: the exact parameter block
// handed to the wallet provider's add-network flow, and the endpoint list
// the RPC client dials (primary first, fallbacks after).
type NetworkParams struct {
	ChainID          uint64   `mapstructure:"chain_id" json:"chain_id"`
	Name             string   `mapstructure:"name" json:"name"`
	CurrencySymbol   string   `mapstructure:"currency_symbol" json:"currency_symbol"`
	CurrencyDecimals uint8    `mapstructure:"currency_decimals" json:"currency_decimals"`
	RPCEndpoints     []string `mapstructure:"rpc_endpoints" json:"rpc_endpoints"`
	ExplorerURL      string   `mapstructure:"explorer_url" json:"explorer_url,omitempty"`
}

// Validate checks the parameter block is usable for both the wallet
// add-network flow and the RPC client
func (n *NetworkParams) Validate() error {
	if n.ChainID == 0 {
		return fmt.Errorf("network chain_id is required")
	}
	if n.Name == "" {
		return fmt.Errorf("network name is required")
	}
	if len(n.RPCEndpoints) == 0 {
		return fmt.Errorf("network %s: at least one rpc endpoint is required", n.Name)
	}
	if n.CurrencyDecimals == 0 {
		return fmt.Errorf("network %s: currency_decimals is required", n.Name)
	}
	return nil
}

// WalletSession is the live connection to a wallet account on the target
// network. It is created by the connector, owned by the state store, and
// destroyed on disconnect or on a detected chain change.
type WalletSession struct {
	Address     common.Address `json:"address"`
	ChainID     uint64         `json:"chain_id"`
	Connected   bool           `json:"connected"`
	ConnectedAt time.Time      `json:"connected_at"`
}

// StakeRecord mirrors the staking contract's vault entry for one token
type StakeRecord struct {
	TokenID  uint64         `json:"token_id"`
	Staker   common.Address `json:"staker"`
	StakedAt time.Time      `json:"staked_at"`
	Staked   bool           `json:"staked"`
}
