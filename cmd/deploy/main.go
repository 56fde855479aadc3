package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"math/big"
	"os"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	"github.com/calyptra-labs/stakedeck/internal/chain"
	"github.com/calyptra-labs/stakedeck/internal/config"
)

var (
	configPath         = flag.String("config", "config/config.yaml", "Path to configuration file")
	collectionArtifact = flag.String("collection", "artifacts/StakeDeckCollection.json", "Path to collection contract artifact")
	stakingArtifact    = flag.String("staking", "artifacts/StakeDeckStaking.json", "Path to staking contract artifact")
	deployTimeout      = flag.Duration("timeout", 10*time.Minute, "Overall deployment timeout")
)

// artifact is the compiler output we need: the ABI and the creation
// bytecode. Extra fields in the file are ignored.
type artifact struct {
	ABI      json.RawMessage `json:"abi"`
	Bytecode string          `json:"bytecode"`
}

func main() {
	flag.Parse()

	_ = godotenv.Load()

	logger := setupLogger()

	logger.Info().
		Str("service", "deploy").
		Str("config", *configPath).
		Msg("Starting StakeDeck contract deployment")

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to load configuration")
	}

	logger.Info().
		Str("network", cfg.Network.Name).
		Uint64("chain_id", cfg.Network.ChainID).
		Msg("Configuration loaded")

	ctx, cancel := context.WithTimeout(context.Background(), *deployTimeout)
	defer cancel()

	client, err := chain.NewClient(&cfg.Network, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to reach the target network")
	}
	defer client.Close()

	if err := client.VerifyChainID(ctx); err != nil {
		logger.Fatal().Err(err).Msg("Endpoint is not on the configured chain")
	}

	wallet := chain.NewKeystoreWallet(&cfg.Wallet, logger)
	if !wallet.Available() {
		logger.Fatal().Msg("No deployer key available, check the wallet configuration")
	}

	deployer, err := wallet.Address()
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to derive deployer address")
	}

	logger.Info().
		Str("deployer", deployer.Hex()).
		Msg("Deployer key loaded")

	opts, err := wallet.NewTransactor(new(big.Int).SetUint64(cfg.Network.ChainID))
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to build transactor")
	}
	opts.Context = ctx

	collectionAddr := deploy(ctx, logger, client, opts, *collectionArtifact, "collection")
	stakingAddr := deploy(ctx, logger, client, opts, *stakingArtifact, "staking", collectionAddr)

	fmt.Println("✓ Contracts deployed")
	fmt.Printf("  collection: %s\n", collectionAddr.Hex())
	fmt.Printf("  staking:    %s\n", stakingAddr.Hex())
	fmt.Println("Update contracts.collection and contracts.staking in the configuration")
}

// deploy sends one contract creation and waits until code is live at
// the resulting address.
func deploy(ctx context.Context, logger zerolog.Logger, client *chain.Client, opts *bind.TransactOpts, path, name string, args ...interface{}) common.Address {
	parsed, bytecode := loadArtifact(logger, path)

	logger.Info().
		Str("contract", name).
		Str("artifact", path).
		Int("bytecode_bytes", len(bytecode)).
		Msg("Deploying contract")

	addr, tx, _, err := bind.DeployContract(opts, parsed, bytecode, client, args...)
	if err != nil {
		logger.Fatal().Err(err).Str("contract", name).Msg("Deployment transaction failed")
	}

	logger.Info().
		Str("contract", name).
		Str("tx_hash", tx.Hash().Hex()).
		Str("address", addr.Hex()).
		Msg("Deployment transaction sent")

	if _, err := bind.WaitDeployed(ctx, client, tx); err != nil {
		logger.Fatal().Err(err).Str("contract", name).Msg("Deployment did not confirm")
	}

	logger.Info().
		Str("contract", name).
		Str("address", addr.Hex()).
		Msg("Contract is live")

	return addr
}

func loadArtifact(logger zerolog.Logger, path string) (abi.ABI, []byte) {
	raw, err := os.ReadFile(path)
	if err != nil {
		logger.Fatal().Err(err).Str("path", path).Msg("Failed to read artifact")
	}

	var art artifact
	if err := json.Unmarshal(raw, &art); err != nil {
		logger.Fatal().Err(err).Str("path", path).Msg("Artifact is not valid JSON")
	}

	parsed, err := abi.JSON(bytes.NewReader(art.ABI))
	if err != nil {
		logger.Fatal().Err(err).Str("path", path).Msg("Artifact ABI did not parse")
	}

	bytecode := common.FromHex(art.Bytecode)
	if len(bytecode) == 0 {
		logger.Fatal().Str("path", path).Msg("Artifact carries no creation bytecode")
	}

	return parsed, bytecode
}

func setupLogger() zerolog.Logger {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix

	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}).
		With().
		Timestamp().
		Logger()

	return logger
}
