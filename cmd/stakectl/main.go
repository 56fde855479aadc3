package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	"github.com/calyptra-labs/stakedeck/internal/chain"
	"github.com/calyptra-labs/stakedeck/internal/config"
	"github.com/calyptra-labs/stakedeck/internal/metadata"
	"github.com/calyptra-labs/stakedeck/internal/orchestrator"
	"github.com/calyptra-labs/stakedeck/internal/reconcile"
	"github.com/calyptra-labs/stakedeck/internal/retry"
	"github.com/calyptra-labs/stakedeck/internal/rewards"
	"github.com/calyptra-labs/stakedeck/internal/state"
	"github.com/calyptra-labs/stakedeck/internal/types"
)

// stakectl runs a single StakeDeck operation from the command line and
// prints the result as JSON on stdout. Logs go to stderr so the output
// stays pipeable.

var (
	configPath = flag.String("config", "config/config.yaml", "Path to configuration file")
	op         = flag.String("op", "", "Operation: status, tokens, rewards, stake, unstake, claim, mint, deposit, reward-cap, withdraw, withdraw-complete")
	tokenID    = flag.Uint64("token", 0, "Token ID for stake and unstake")
	quantity   = flag.Uint64("quantity", 1, "Number of tokens for mint")
	amount     = flag.String("amount", "", "Decimal token amount for deposit, reward-cap and withdraw")
	recipient  = flag.String("recipient", "", "Recipient address for withdraw")
	timeout    = flag.Duration("timeout", 10*time.Minute, "Overall operation timeout")
)

func main() {
	flag.Parse()

	_ = godotenv.Load()

	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
		With().
		Timestamp().
		Logger().
		Level(zerolog.WarnLevel)

	if *op == "" {
		flag.Usage()
		os.Exit(2)
	}

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		fail(fmt.Errorf("load configuration: %w", err))
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	store := state.NewStore()
	caller := retry.NewCaller(&cfg.Retry, logger)
	wallet := chain.NewKeystoreWallet(&cfg.Wallet, logger)

	connector, err := chain.NewConnector(cfg, wallet, caller, store, logger)
	if err != nil {
		fail(fmt.Errorf("reach network: %w", err))
	}
	defer connector.Close()

	if *op == "status" {
		printJSON(status(ctx, connector, store))
		return
	}

	if err := connector.Connect(ctx); err != nil {
		fail(fmt.Errorf("connect: %w", err))
	}

	resolver := metadata.NewResolver(&cfg.Metadata, logger)
	engine := reconcile.NewEngine(connector.Collection(), connector.Staking(), resolver, caller, store, logger)
	refresher := rewards.NewRefresher(connector.Staking(), caller, store, cfg, logger)
	orch := orchestrator.NewOrchestrator(
		ctx, cfg, wallet,
		connector.Collection(), connector.Staking(), connector.Client(),
		caller, store, engine, refresher, logger,
	)

	switch *op {
	case "tokens":
		if err := engine.Reconcile(ctx); err != nil {
			fail(err)
		}
		snapshot := store.Snapshot()
		printJSON(map[string]interface{}{
			"owned":  snapshot.Owned,
			"staked": snapshot.Staked,
		})
	case "rewards":
		refresher.RefreshOnce(ctx)
		printJSON(store.Rewards())
	case "stake":
		report(orch.Stake(ctx, *tokenID))
	case "unstake":
		report(orch.Unstake(ctx, *tokenID))
	case "claim":
		report(orch.Claim(ctx))
	case "mint":
		report(orch.Mint(ctx, *quantity))
	case "deposit":
		report(orch.Deposit(ctx, *amount))
	case "reward-cap":
		report(orch.UpdateDailyCap(ctx, *amount))
	case "withdraw":
		report(orch.InitiateEmergencyWithdraw(ctx, *recipient, *amount))
	case "withdraw-complete":
		report(orch.CompleteEmergencyWithdraw(ctx))
	default:
		fmt.Fprintf(os.Stderr, "unknown operation %q\n", *op)
		flag.Usage()
		os.Exit(2)
	}
}

func status(ctx context.Context, connector *chain.Connector, store *state.Store) map[string]interface{} {
	result := map[string]interface{}{
		"endpoint":         connector.Client().ActiveEndpoint(),
		"wallet_available": connector.Wallet().Available(),
	}

	if block, err := connector.Client().BlockNumber(ctx); err == nil {
		result["block_number"] = block
	} else {
		result["network_error"] = err.Error()
	}

	if session := store.Session(); session != nil {
		result["session"] = session
	}

	return result
}

// report prints the operation record whether it succeeded or not. A
// failed operation still carries its message and transaction hashes.
func report(operation *types.PendingOperation, err error) {
	if err != nil && operation == nil {
		fail(err)
	}

	printJSON(operation)

	if err != nil {
		os.Exit(1)
	}
}

func printJSON(v interface{}) {
	encoded, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		fail(err)
	}
	fmt.Println(string(encoded))
}

func fail(err error) {
	encoded, _ := json.Marshal(map[string]string{"error": err.Error()})
	fmt.Println(string(encoded))
	os.Exit(1)
}
