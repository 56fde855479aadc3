package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/calyptra-labs/stakedeck/internal/types"
	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/viper"
)

// Fallback contract addresses, used when neither the config file nor the
// STAKEDECK_CONTRACTS_* environment variables supply one.
const (
	DefaultCollectionAddress = "0xC0113C71e8D0bb4a5a03DE2DAf151E4eA5BE941A"
	DefaultStakingAddress    = "0x5741Ee3e77a3a0DfF31cBa1Ac77e2AF21cf24aE6"
)

// Config represents the main application configuration
type Config struct {
	Environment string              `mapstructure:"environment"`
	Network     types.NetworkParams `mapstructure:"network"`
	Wallet      WalletConfig        `mapstructure:"wallet"`
	Contracts   ContractsConfig     `mapstructure:"contracts"`
	Retry       RetryConfig         `mapstructure:"retry"`
	Refresh     RefreshConfig       `mapstructure:"refresh"`
	Metadata    MetadataConfig      `mapstructure:"metadata"`
	Server      ServerConfig        `mapstructure:"server"`
	Monitoring  MonitoringConfig    `mapstructure:"monitoring"`
	Admin       AdminConfig         `mapstructure:"admin"`
}

// WalletConfig represents the keystore-backed wallet provider configuration
type WalletConfig struct {
	KeystorePath     string `mapstructure:"keystore_path"`
	PasswordEnvVar   string `mapstructure:"password_env_var"`
	PrivateKeyEnvVar string `mapstructure:"private_key_env_var"`
	Account          string `mapstructure:"account"`
	StateDir         string `mapstructure:"state_dir"`

	// Networks the wallet provider already recognizes. The target network
	// is added through the add-network flow when it is missing here.
	KnownNetworks []types.NetworkParams `mapstructure:"known_networks"`
}

// ContractsConfig holds the two deployed contract addresses
type ContractsConfig struct {
	Collection string `mapstructure:"collection"`
	Staking    string `mapstructure:"staking"`
}

// RetryConfig tunes the resilient RPC caller
type RetryConfig struct {
	MaxAttempts  int     `mapstructure:"max_attempts"`
	BaseDelay    string  `mapstructure:"base_delay"`
	GrowthFactor float64 `mapstructure:"growth_factor"`
	MaxJitter    string  `mapstructure:"max_jitter"`
}

// RefreshConfig tunes the periodic loops
type RefreshConfig struct {
	RewardsInterval   string `mapstructure:"rewards_interval"`
	FailureInterval   string `mapstructure:"failure_interval"`
	SettleDelay       string `mapstructure:"settle_delay"`
	StatusInterval    string `mapstructure:"status_interval"`
	EventPollInterval string `mapstructure:"event_poll_interval"`
}

// MetadataConfig tunes token metadata resolution
type MetadataConfig struct {
	IPFSGateway  string   `mapstructure:"ipfs_gateway"`
	ImageBases   []string `mapstructure:"image_bases"`
	NamePrefix   string   `mapstructure:"name_prefix"`
	FetchTimeout string   `mapstructure:"fetch_timeout"`
}

// ServerConfig represents the console API server configuration
type ServerConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	ReadTimeout  string `mapstructure:"read_timeout"`
	WriteTimeout string `mapstructure:"write_timeout"`
}

// MonitoringConfig represents logging configuration
type MonitoringConfig struct {
	LogLevel string `mapstructure:"log_level"`
}

// AdminConfig gates the administrative endpoints. TokenHash is a bcrypt
// hash of the admin token; empty disables the admin surface entirely.
type AdminConfig struct {
	TokenHash string `mapstructure:"token_hash"`
}

// LoadConfig loads configuration from file and environment variables
func LoadConfig(configPath string) (*Config, error) {
	if configPath == "" {
		configPath = "config/config.yaml"
	}

	setDefaults()

	viper.SetConfigFile(configPath)

	// Allow environment variable overrides
	viper.AutomaticEnv()
	viper.SetEnvPrefix("STAKEDECK")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := viper.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := ValidateConfig(&config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

// setDefaults registers every config key so environment overrides resolve
// even when the file omits a section
func setDefaults() {
	viper.SetDefault("environment", "development")

	viper.SetDefault("network.chain_id", 11155111)
	viper.SetDefault("network.name", "Sepolia")
	viper.SetDefault("network.currency_symbol", "ETH")
	viper.SetDefault("network.currency_decimals", 18)
	viper.SetDefault("network.rpc_endpoints", []string{
		"https://rpc.sepolia.org",
		"https://ethereum-sepolia-rpc.publicnode.com",
	})
	viper.SetDefault("network.explorer_url", "https://sepolia.etherscan.io")

	viper.SetDefault("wallet.keystore_path", "keystore")
	viper.SetDefault("wallet.password_env_var", "STAKEDECK_WALLET_PASSWORD")
	viper.SetDefault("wallet.private_key_env_var", "STAKEDECK_WALLET_KEY")
	viper.SetDefault("wallet.account", "")
	viper.SetDefault("wallet.state_dir", "")

	viper.SetDefault("contracts.collection", DefaultCollectionAddress)
	viper.SetDefault("contracts.staking", DefaultStakingAddress)

	viper.SetDefault("retry.max_attempts", 4)
	viper.SetDefault("retry.base_delay", "250ms")
	viper.SetDefault("retry.growth_factor", 2.0)
	viper.SetDefault("retry.max_jitter", "250ms")

	viper.SetDefault("refresh.rewards_interval", "60s")
	viper.SetDefault("refresh.failure_interval", "90s")
	viper.SetDefault("refresh.settle_delay", "12s")
	viper.SetDefault("refresh.status_interval", "30s")
	viper.SetDefault("refresh.event_poll_interval", "15s")

	viper.SetDefault("metadata.ipfs_gateway", "https://ipfs.io")
	viper.SetDefault("metadata.image_bases", []string{
		"https://ipfs.io/ipfs/bafybeigdyrzt5sfp7udm7hu76uh7y26nf3efuylqabf3oclgtqy55fbzdi/",
		"https://cloudflare-ipfs.com/ipfs/bafybeigdyrzt5sfp7udm7hu76uh7y26nf3efuylqabf3oclgtqy55fbzdi/",
	})
	viper.SetDefault("metadata.name_prefix", "Token")
	viper.SetDefault("metadata.fetch_timeout", "10s")

	viper.SetDefault("server.host", "127.0.0.1")
	viper.SetDefault("server.port", 8787)
	viper.SetDefault("server.read_timeout", "15s")
	viper.SetDefault("server.write_timeout", "30s")

	viper.SetDefault("monitoring.log_level", "info")

	viper.SetDefault("admin.token_hash", "")
}

// ValidateConfig validates the configuration
func ValidateConfig(config *Config) error {
	if config.Environment == "" {
		return fmt.Errorf("environment must be specified")
	}

	if err := config.Network.Validate(); err != nil {
		return fmt.Errorf("invalid network config: %w", err)
	}

	for i := range config.Wallet.KnownNetworks {
		if err := config.Wallet.KnownNetworks[i].Validate(); err != nil {
			return fmt.Errorf("invalid known network at index %d: %w", i, err)
		}
	}

	if !common.IsHexAddress(config.Contracts.Collection) {
		return fmt.Errorf("invalid collection contract address: %s", config.Contracts.Collection)
	}
	if !common.IsHexAddress(config.Contracts.Staking) {
		return fmt.Errorf("invalid staking contract address: %s", config.Contracts.Staking)
	}

	if config.Retry.MaxAttempts < 1 || config.Retry.MaxAttempts > 10 {
		return fmt.Errorf("retry max_attempts must be between 1 and 10")
	}
	if config.Retry.GrowthFactor < 1.0 {
		return fmt.Errorf("retry growth_factor must be at least 1.0")
	}

	if config.Wallet.KeystorePath == "" {
		return fmt.Errorf("wallet keystore_path must be specified")
	}

	if config.Server.Port < 1 || config.Server.Port > 65535 {
		return fmt.Errorf("server port must be between 1 and 65535")
	}

	return nil
}

// CollectionAddress returns the parsed collection contract address
func (c *ContractsConfig) CollectionAddress() common.Address {
	return common.HexToAddress(c.Collection)
}

// StakingAddress returns the parsed staking contract address
func (c *ContractsConfig) StakingAddress() common.Address {
	return common.HexToAddress(c.Staking)
}

// BaseDelayDuration returns the retry base delay as a duration
func (r *RetryConfig) BaseDelayDuration() time.Duration {
	return parseDurationOr(r.BaseDelay, 250*time.Millisecond)
}

// MaxJitterDuration returns the retry jitter cap as a duration
func (r *RetryConfig) MaxJitterDuration() time.Duration {
	return parseDurationOr(r.MaxJitter, 250*time.Millisecond)
}

// RewardsIntervalDuration returns the post-success refresh interval
func (r *RefreshConfig) RewardsIntervalDuration() time.Duration {
	return parseDurationOr(r.RewardsInterval, 60*time.Second)
}

// FailureIntervalDuration returns the post-failure refresh interval
func (r *RefreshConfig) FailureIntervalDuration() time.Duration {
	return parseDurationOr(r.FailureInterval, 90*time.Second)
}

// SettleDelayDuration returns the wait before post-transaction reconciliation
func (r *RefreshConfig) SettleDelayDuration() time.Duration {
	return parseDurationOr(r.SettleDelay, 12*time.Second)
}

// StatusIntervalDuration returns the network status poll interval
func (r *RefreshConfig) StatusIntervalDuration() time.Duration {
	return parseDurationOr(r.StatusInterval, 30*time.Second)
}

// EventPollIntervalDuration returns the staking event poll interval
func (r *RefreshConfig) EventPollIntervalDuration() time.Duration {
	return parseDurationOr(r.EventPollInterval, 15*time.Second)
}

// FetchTimeoutDuration returns the metadata fetch timeout
func (m *MetadataConfig) FetchTimeoutDuration() time.Duration {
	return parseDurationOr(m.FetchTimeout, 10*time.Second)
}

// ReadTimeoutDuration returns the server read timeout
func (s *ServerConfig) ReadTimeoutDuration() time.Duration {
	return parseDurationOr(s.ReadTimeout, 15*time.Second)
}

// WriteTimeoutDuration returns the server write timeout
func (s *ServerConfig) WriteTimeoutDuration() time.Duration {
	return parseDurationOr(s.WriteTimeout, 30*time.Second)
}

func parseDurationOr(value string, fallback time.Duration) time.Duration {
	if value == "" {
		return fallback
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return d
}
