package main

import (
	"context"
	"math/big"
	"path/filepath"

	"github.com/ethereum/go-ethereum/accounts/abi/bind/v2"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/pkg/errors"

	"github.com/eth2030/reputation-miner/chain"
	"github.com/eth2030/reputation-miner/config"
	"github.com/eth2030/reputation-miner/log"
	"github.com/eth2030/reputation-miner/metrics"
	"github.com/eth2030/reputation-miner/miner"
	"github.com/eth2030/reputation-miner/store"
)

// app is a miner wired to a live node.
type app struct {
	cfg     *config.Config
	log     *log.Logger
	client  *ethclient.Client
	network *chain.Network
	metrics *metrics.Metrics
	miner   *miner.Miner
}

func newApp(ctx context.Context, cfg *config.Config, logger *log.Logger, m *metrics.Metrics, needSigner bool) (*app, error) {
	client, err := ethclient.DialContext(ctx, cfg.RPCURL)
	if err != nil {
		return nil, errors.Wrapf(err, "dial %s", cfg.RPCURL)
	}
	a := &app{cfg: cfg, log: logger, client: client, metrics: m}

	opts, err := a.transactOpts(ctx, needSigner)
	if err != nil {
		client.Close()
		return nil, err
	}
	chainLog := logger.Module("chain")
	a.network = chain.NewNetwork(cfg.NetworkAddress(), client, opts, chainLog)

	num, den, err := cfg.Decay()
	if err != nil {
		client.Close()
		return nil, err
	}
	a.miner, err = miner.New(ctx, miner.Config{
		Network:   a.network,
		NewTree:   newTreeFactory(cfg, client, opts, chainLog),
		NewStore:  newStoreFactory(cfg),
		Decay:     &miner.DecayRate{Numerator: *num, Denominator: *den},
		CacheSize: cfg.CacheSize,
		Logger:    logger.Module("miner"),
		Metrics:   m,
	})
	if err != nil {
		client.Close()
		return nil, err
	}
	return a, nil
}

// transactOpts returns nil for a read-only miner.
func (a *app) transactOpts(ctx context.Context, required bool) (*bind.TransactOpts, error) {
	if a.cfg.PrivateKey == "" {
		if required {
			return nil, errors.New("a private key is required to submit")
		}
		return nil, nil
	}
	key, err := a.cfg.Key()
	if err != nil {
		return nil, err
	}
	chainID := new(big.Int).SetUint64(a.cfg.ChainID)
	if a.cfg.ChainID == 0 {
		if chainID, err = a.client.ChainID(ctx); err != nil {
			return nil, errors.Wrap(err, "query chain id")
		}
	}
	opts := chain.NewTransactOpts(key, chainID)
	a.log.Info("signing submissions", "account", opts.From.Hex(), "chain", chainID)
	return opts, nil
}

func (a *app) close() {
	a.client.Close()
}

func newTreeFactory(cfg *config.Config, backend chain.Backend, opts *bind.TransactOpts, logger *log.Logger) miner.TreeFactory {
	if cfg.TreeBackend != config.BackendContract {
		return miner.LocalTreeFactory
	}
	return chain.NewTreePool(cfg.TreeAddresses(), backend, opts, logger).NewTree
}

// newStoreFactory keeps each cycle's pebble entries in their own directory
// under the data dir.
func newStoreFactory(cfg *config.Config) miner.StoreFactory {
	if cfg.JustificationStore != config.BackendPebble {
		return func(common.Address) (store.EntryStore, error) { return store.NewMemoryStore(), nil }
	}
	return func(cycle common.Address) (store.EntryStore, error) {
		return store.OpenPebble(cfg.ResolvePath(filepath.Join("justifications", cycle.Hex())))
	}
}
