package chain

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"os"
	"strings"
	"sync"

	"github.com/calyptra-labs/stakedeck/internal/config"
	"github.com/calyptra-labs/stakedeck/internal/types"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/accounts/keystore"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/rs/zerolog"
)

// WalletProvider is the wallet surface the connector negotiates with. The
// production implementation is keystore-backed; tests substitute fakes.
type WalletProvider interface {
	// Available reports whether the wallet holds an unlocked account
	Available() bool

	// Address returns the selected account address
	Address() (common.Address, error)

	// SwitchChain selects a network the wallet already recognizes. It
	// returns an error matching types.ErrUnrecognizedChain when the chain
	// is not registered.
	SwitchChain(ctx context.Context, chainID uint64) error

	// AddChain registers a network parameter block with the wallet
	AddChain(ctx context.Context, params types.NetworkParams) error

	// ActiveChain returns the chain the wallet currently sits on, zero
	// before the first switch
	ActiveChain() uint64

	// NewTransactor returns signing transaction options for the chain
	NewTransactor(chainID *big.Int) (*bind.TransactOpts, error)
}

// KeystoreWallet implements WalletProvider over a local keystore
// directory, with a raw private key from the environment as an
// alternative for development setups. A missing keystore or password
// leaves the wallet present but locked; that state surfaces as
// ErrWalletUnavailable at connect time rather than failing startup.
type KeystoreWallet struct {
	privateKey *ecdsa.PrivateKey
	address    common.Address
	unlocked   bool

	registry map[uint64]types.NetworkParams
	active   uint64

	mu     sync.Mutex
	logger zerolog.Logger
}

// NewKeystoreWallet loads the wallet account and seeds the network
// registry with the networks the wallet already recognizes
func NewKeystoreWallet(cfg *config.WalletConfig, logger zerolog.Logger) *KeystoreWallet {
	w := &KeystoreWallet{
		registry: make(map[uint64]types.NetworkParams),
		logger:   logger.With().Str("component", "wallet").Logger(),
	}

	for _, network := range cfg.KnownNetworks {
		w.registry[network.ChainID] = network
	}

	if keyHex := os.Getenv(cfg.PrivateKeyEnvVar); keyHex != "" {
		key, err := crypto.HexToECDSA(strings.TrimPrefix(keyHex, "0x"))
		if err != nil {
			w.logger.Warn().Err(err).Msg("Failed to parse private key from environment")
			return w
		}
		w.privateKey = key
		w.address = crypto.PubkeyToAddress(key.PublicKey)
		w.unlocked = true
		w.logger.Info().Str("address", w.address.Hex()).Msg("Wallet loaded from environment key")
		return w
	}

	ks := keystore.NewKeyStore(cfg.KeystorePath, keystore.StandardScryptN, keystore.StandardScryptP)
	accounts := ks.Accounts()
	if len(accounts) == 0 {
		w.logger.Warn().Str("path", cfg.KeystorePath).Msg("No accounts found in keystore")
		return w
	}

	account := accounts[0]
	if cfg.Account != "" {
		wanted := common.HexToAddress(cfg.Account)
		found := false
		for _, a := range accounts {
			if a.Address == wanted {
				account = a
				found = true
				break
			}
		}
		if !found {
			w.logger.Warn().Str("account", cfg.Account).Msg("Configured account not in keystore")
			return w
		}
	}

	password := os.Getenv(cfg.PasswordEnvVar)
	if password == "" {
		w.logger.Warn().Str("env_var", cfg.PasswordEnvVar).Msg("Wallet password not set, wallet stays locked")
		w.address = account.Address
		return w
	}

	keyJSON, err := ks.Export(account, password, password)
	if err != nil {
		w.logger.Warn().Err(err).Msg("Failed to unlock keystore account")
		w.address = account.Address
		return w
	}
	key, err := keystore.DecryptKey(keyJSON, password)
	if err != nil {
		w.logger.Warn().Err(err).Msg("Failed to decrypt keystore account")
		w.address = account.Address
		return w
	}

	w.privateKey = key.PrivateKey
	w.address = crypto.PubkeyToAddress(key.PrivateKey.PublicKey)
	w.unlocked = true
	w.logger.Info().Str("address", w.address.Hex()).Msg("Wallet unlocked from keystore")
	return w
}

// Available reports whether the wallet holds an unlocked account
func (w *KeystoreWallet) Available() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.unlocked
}

// Address returns the selected account address
func (w *KeystoreWallet) Address() (common.Address, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.unlocked {
		return common.Address{}, fmt.Errorf("no unlocked account: %w", types.ErrWalletUnavailable)
	}
	return w.address, nil
}

// SwitchChain selects a registered network as active
func (w *KeystoreWallet) SwitchChain(ctx context.Context, chainID uint64) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.unlocked {
		return fmt.Errorf("no unlocked account: %w", types.ErrWalletUnavailable)
	}
	if _, ok := w.registry[chainID]; !ok {
		return fmt.Errorf("chain %d not registered with wallet: %w", chainID, types.ErrUnrecognizedChain)
	}

	w.active = chainID
	w.logger.Info().Uint64("chain_id", chainID).Msg("Switched active network")
	return nil
}

// AddChain registers a network parameter block with the wallet
func (w *KeystoreWallet) AddChain(ctx context.Context, params types.NetworkParams) error {
	if err := params.Validate(); err != nil {
		return fmt.Errorf("rejected network parameters: %w", err)
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	w.registry[params.ChainID] = params
	w.logger.Info().
		Uint64("chain_id", params.ChainID).
		Str("name", params.Name).
		Msg("Registered network with wallet")
	return nil
}

// ActiveChain returns the currently selected chain ID
func (w *KeystoreWallet) ActiveChain() uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.active
}

// NewTransactor returns signing transaction options bound to the chain
func (w *KeystoreWallet) NewTransactor(chainID *big.Int) (*bind.TransactOpts, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.unlocked {
		return nil, fmt.Errorf("no unlocked account: %w", types.ErrWalletUnavailable)
	}
	return bind.NewKeyedTransactorWithChainID(w.privateKey, chainID)
}
