// Package config holds the reputation miner's configuration and loads it
// from a TOML file, REPMINER_* environment variables and command-line
// flags.
package config

import (
	"crypto/ecdsa"
	"path/filepath"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"
	"github.com/pkg/errors"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment variable the miner reads.
const EnvPrefix = "REPMINER"

// Tree and justification store backends.
const (
	BackendMemory   = "memory"
	BackendContract = "contract"
	BackendPebble   = "pebble"
)

// Config holds all configuration for a reputation miner.
type Config struct {
	// RPCURL is the JSON-RPC endpoint of the chain the colony network lives on.
	RPCURL string `mapstructure:"rpc-url"`

	// ColonyNetworkAddress is the colony network contract.
	ColonyNetworkAddress string `mapstructure:"colony-network"`

	// PrivateKey signs submissions (hex, no 0x prefix required). Empty means
	// read-only.
	PrivateKey string `mapstructure:"private-key"`

	ChainID uint64 `mapstructure:"chain-id"`

	// TreeBackend selects memory or contract reputation and justification
	// trees. The contract backend takes trees from TreeContractAddresses.
	TreeBackend           string   `mapstructure:"tree-backend"`
	TreeContractAddresses []string `mapstructure:"tree-contracts"`

	// JustificationStore selects memory or pebble justification entries.
	JustificationStore string `mapstructure:"justification-store"`

	// DataDir is the root directory for persisted state.
	DataDir string `mapstructure:"datadir"`

	// LogLevel is one of debug, info, warn, desync, error.
	LogLevel string `mapstructure:"log-level"`

	// MetricsAddr serves Prometheus metrics when set.
	MetricsAddr string `mapstructure:"metrics-addr"`

	// CacheSize bounds each per-cycle read cache.
	CacheSize int `mapstructure:"cache-size"`

	// Decay factor as decimal integers.
	DecayNumerator   string `mapstructure:"decay-numerator"`
	DecayDenominator string `mapstructure:"decay-denominator"`

	// EntryIndex is passed to submitRootHash.
	EntryIndex uint64 `mapstructure:"entry-index"`

	// PollInterval paces the dispute loop.
	PollInterval time.Duration `mapstructure:"poll-interval"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		RPCURL:             "http://127.0.0.1:8545",
		ChainID:            1,
		TreeBackend:        BackendMemory,
		JustificationStore: BackendMemory,
		DataDir:            "repminer-data",
		LogLevel:           "info",
		CacheSize:          4096,
		DecayNumerator:     "999679150010888",
		DecayDenominator:   "1000000000000000",
		EntryIndex:         1,
		PollInterval:       5 * time.Second,
	}
}

// Validate checks configuration values for correctness.
func (c *Config) Validate() error {
	if c.RPCURL == "" {
		return errors.New("config: rpc-url must not be empty")
	}
	if !common.IsHexAddress(c.ColonyNetworkAddress) {
		return errors.Errorf("config: invalid colony network address %q", c.ColonyNetworkAddress)
	}
	if c.PrivateKey != "" {
		if _, err := c.Key(); err != nil {
			return err
		}
	}
	switch c.TreeBackend {
	case BackendMemory:
	case BackendContract:
		if len(c.TreeContractAddresses) < 2 {
			return errors.New("config: contract tree backend needs at least two tree contracts")
		}
		for _, a := range c.TreeContractAddresses {
			if !common.IsHexAddress(a) {
				return errors.Errorf("config: invalid tree contract address %q", a)
			}
		}
	default:
		return errors.Errorf("config: unknown tree backend %q", c.TreeBackend)
	}
	switch c.JustificationStore {
	case BackendMemory:
	case BackendPebble:
		if c.DataDir == "" {
			return errors.New("config: pebble justification store needs a datadir")
		}
	default:
		return errors.Errorf("config: unknown justification store %q", c.JustificationStore)
	}
	switch strings.ToLower(strings.TrimSpace(c.LogLevel)) {
	case "debug", "info", "warn", "warning", "desync", "error":
	default:
		return errors.Errorf("config: unknown log level %q", c.LogLevel)
	}
	if c.CacheSize < 0 {
		return errors.Errorf("config: invalid cache size: %d", c.CacheSize)
	}
	if _, _, err := c.Decay(); err != nil {
		return err
	}
	if c.EntryIndex == 0 {
		return errors.New("config: entry index must be at least 1")
	}
	if c.PollInterval <= 0 {
		return errors.Errorf("config: invalid poll interval %s", c.PollInterval)
	}
	return nil
}

// ResolvePath resolves a path relative to the data directory.
func (c *Config) ResolvePath(path string) string {
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(c.DataDir, path)
}

// NetworkAddress returns the parsed colony network address.
func (c *Config) NetworkAddress() common.Address {
	return common.HexToAddress(c.ColonyNetworkAddress)
}

// TreeAddresses returns the parsed tree contract addresses.
func (c *Config) TreeAddresses() []common.Address {
	out := make([]common.Address, len(c.TreeContractAddresses))
	for i, a := range c.TreeContractAddresses {
		out[i] = common.HexToAddress(a)
	}
	return out
}

// Key parses the signing key.
func (c *Config) Key() (*ecdsa.PrivateKey, error) {
	if c.PrivateKey == "" {
		return nil, errors.New("config: no private key configured")
	}
	key, err := crypto.HexToECDSA(strings.TrimPrefix(c.PrivateKey, "0x"))
	if err != nil {
		return nil, errors.Wrap(err, "config: invalid private key")
	}
	return key, nil
}

// Decay parses the decay factor. The numerator may not exceed the
// denominator.
func (c *Config) Decay() (num, den *uint256.Int, err error) {
	if num, err = uint256.FromDecimal(c.DecayNumerator); err != nil {
		return nil, nil, errors.Wrapf(err, "config: decay numerator %q", c.DecayNumerator)
	}
	if den, err = uint256.FromDecimal(c.DecayDenominator); err != nil {
		return nil, nil, errors.Wrapf(err, "config: decay denominator %q", c.DecayDenominator)
	}
	if den.IsZero() {
		return nil, nil, errors.New("config: decay denominator must not be zero")
	}
	if num.Gt(den) {
		return nil, nil, errors.New("config: decay numerator exceeds denominator")
	}
	return num, den, nil
}

// Load reads the configuration known to v. Defaults come from
// DefaultConfig; the file named by the "config" key, REPMINER_* variables
// and any flags bound to v override them in viper's usual order.
func Load(v *viper.Viper) (*Config, error) {
	def := DefaultConfig()
	defaults := map[string]any{
		"rpc-url":             def.RPCURL,
		"colony-network":      def.ColonyNetworkAddress,
		"private-key":         def.PrivateKey,
		"chain-id":            def.ChainID,
		"tree-backend":        def.TreeBackend,
		"tree-contracts":      def.TreeContractAddresses,
		"justification-store": def.JustificationStore,
		"datadir":             def.DataDir,
		"log-level":           def.LogLevel,
		"metrics-addr":        def.MetricsAddr,
		"cache-size":          def.CacheSize,
		"decay-numerator":     def.DecayNumerator,
		"decay-denominator":   def.DecayDenominator,
		"entry-index":         def.EntryIndex,
		"poll-interval":       def.PollInterval,
	}
	for k, val := range defaults {
		v.SetDefault(k, val)
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if file := v.GetString("config"); file != "" {
		v.SetConfigFile(file)
		v.SetConfigType("toml")
		if err := v.ReadInConfig(); err != nil {
			return nil, errors.Wrapf(err, "config: read %s", file)
		}
	}

	cfg := def
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, errors.Wrap(err, "config: decode")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}
