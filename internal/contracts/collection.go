// Package contracts provides high-level Go bindings for the two deployed
// contracts: the ERC-721 collection and the staking vault. Wrappers keep
// chain types at this boundary; callers convert to domain types.
package contracts

import (
	"context"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// Collection is a high-level wrapper around the deployed ERC-721
// contract. The backend it is bound against rotates endpoints
// internally, so the binding itself never needs to re-derive.
type Collection struct {
	address  common.Address
	contract *bind.BoundContract
}

// NewCollection connects to an already-deployed collection contract
func NewCollection(addr common.Address, backend bind.ContractBackend) (*Collection, error) {
	parsed, err := abi.JSON(strings.NewReader(CollectionABI))
	if err != nil {
		return nil, err
	}
	return &Collection{
		address:  addr,
		contract: bind.NewBoundContract(addr, parsed, backend, backend, backend),
	}, nil
}

// Address returns the bound contract address
func (c *Collection) Address() common.Address {
	return c.address
}

// BalanceOf returns how many tokens an address owns
func (c *Collection) BalanceOf(ctx context.Context, owner common.Address) (*big.Int, error) {
	var out []interface{}
	err := c.contract.Call(&bind.CallOpts{Context: ctx}, &out, "balanceOf", owner)
	if err != nil {
		return nil, err
	}
	return out[0].(*big.Int), nil
}

// OwnerOf returns the current owner of a token
func (c *Collection) OwnerOf(ctx context.Context, tokenID *big.Int) (common.Address, error) {
	var out []interface{}
	err := c.contract.Call(&bind.CallOpts{Context: ctx}, &out, "ownerOf", tokenID)
	if err != nil {
		return common.Address{}, err
	}
	return out[0].(common.Address), nil
}

// TokenOfOwnerByIndex returns the token held at the given enumeration index
func (c *Collection) TokenOfOwnerByIndex(ctx context.Context, owner common.Address, index *big.Int) (*big.Int, error) {
	var out []interface{}
	err := c.contract.Call(&bind.CallOpts{Context: ctx}, &out, "tokenOfOwnerByIndex", owner, index)
	if err != nil {
		return nil, err
	}
	return out[0].(*big.Int), nil
}

// TokenURI returns the metadata document URI for a token
func (c *Collection) TokenURI(ctx context.Context, tokenID *big.Int) (string, error) {
	var out []interface{}
	err := c.contract.Call(&bind.CallOpts{Context: ctx}, &out, "tokenURI", tokenID)
	if err != nil {
		return "", err
	}
	return out[0].(string), nil
}

// GetApproved returns the address approved to transfer a token
func (c *Collection) GetApproved(ctx context.Context, tokenID *big.Int) (common.Address, error) {
	var out []interface{}
	err := c.contract.Call(&bind.CallOpts{Context: ctx}, &out, "getApproved", tokenID)
	if err != nil {
		return common.Address{}, err
	}
	return out[0].(common.Address), nil
}

// TotalSupply returns the number of minted tokens
func (c *Collection) TotalSupply(ctx context.Context) (*big.Int, error) {
	var out []interface{}
	err := c.contract.Call(&bind.CallOpts{Context: ctx}, &out, "totalSupply")
	if err != nil {
		return nil, err
	}
	return out[0].(*big.Int), nil
}

// MaxSupply returns the collection size cap
func (c *Collection) MaxSupply(ctx context.Context) (*big.Int, error) {
	var out []interface{}
	err := c.contract.Call(&bind.CallOpts{Context: ctx}, &out, "maxSupply")
	if err != nil {
		return nil, err
	}
	return out[0].(*big.Int), nil
}

// MintPrice returns the per-token mint price in wei
func (c *Collection) MintPrice(ctx context.Context) (*big.Int, error) {
	var out []interface{}
	err := c.contract.Call(&bind.CallOpts{Context: ctx}, &out, "mintPrice")
	if err != nil {
		return nil, err
	}
	return out[0].(*big.Int), nil
}

// IsWhitelisted reports whether an address is on the mint whitelist
func (c *Collection) IsWhitelisted(ctx context.Context, account common.Address) (bool, error) {
	var out []interface{}
	err := c.contract.Call(&bind.CallOpts{Context: ctx}, &out, "isWhitelisted", account)
	if err != nil {
		return false, err
	}
	return out[0].(bool), nil
}

// Approve grants an address permission to transfer a specific token
func (c *Collection) Approve(opts *bind.TransactOpts, to common.Address, tokenID *big.Int) (*types.Transaction, error) {
	return c.contract.Transact(opts, "approve", to, tokenID)
}

// Mint mints the given quantity of tokens. The mint price times quantity
// must be attached as the transaction value.
func (c *Collection) Mint(opts *bind.TransactOpts, quantity *big.Int) (*types.Transaction, error) {
	return c.contract.Transact(opts, "mint", quantity)
}
