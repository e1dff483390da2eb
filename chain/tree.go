package chain

import (
	"context"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/accounts/abi/bind/v2"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/pkg/errors"

	"github.com/eth2030/reputation-miner/geth"
	"github.com/eth2030/reputation-miner/log"
	"github.com/eth2030/reputation-miner/miner"
)

var (
	// ErrTreePoolExhausted is returned when every configured tree contract
	// has been handed out.
	ErrTreePoolExhausted = errors.New("chain: no unused tree contract left")
	// ErrTreeNotEmpty is returned when a pooled tree contract already holds
	// entries.
	ErrTreeNotEmpty = errors.New("chain: tree contract is not empty")
)

// PatriciaTree is a deployed PatriciaTree contract used as a miner.Tree.
// Inserts are transactions; reads are calls.
type PatriciaTree struct {
	c *contract
}

var _ miner.Tree = (*PatriciaTree)(nil)

// NewPatriciaTree binds the tree contract at address.
func NewPatriciaTree(address common.Address, backend Backend, opts *bind.TransactOpts, logger *log.Logger) *PatriciaTree {
	if logger == nil {
		logger = log.Default().Module("chain")
	}
	return &PatriciaTree{c: newContract(address, patriciaTreeABIParsed, backend, opts, logger)}
}

// Address returns the tree contract address.
func (t *PatriciaTree) Address() common.Address { return t.c.address }

// Insert stores value under key in one transaction.
func (t *PatriciaTree) Insert(ctx context.Context, key, value []byte) error {
	return t.c.transact(ctx, "insert", key, value)
}

// RootHash returns the tree contract's current root.
func (t *PatriciaTree) RootHash(ctx context.Context) (common.Hash, error) {
	out, err := t.c.call(ctx, "getRootHash")
	if err != nil {
		return common.Hash{}, err
	}
	h, err := outAt[[32]byte](out, 0)
	return common.Hash(h), err
}

// Proof maps a reverted lookup to miner.ErrKeyNotFound.
func (t *PatriciaTree) Proof(ctx context.Context, key []byte) (*uint256.Int, []common.Hash, error) {
	out, err := t.c.call(ctx, "getProof", key)
	if isRevert(err) {
		return nil, nil, miner.ErrKeyNotFound
	}
	if err != nil {
		return nil, nil, err
	}
	mask, err := outAt[*big.Int](out, 0)
	if err != nil {
		return nil, nil, err
	}
	siblings, err := outAt[[][32]byte](out, 1)
	if err != nil {
		return nil, nil, err
	}
	p, err := geth.FromProofArgs(mask, siblings)
	if err != nil {
		return nil, nil, err
	}
	return &p.BranchMask, p.Siblings, nil
}

// ImpliedRoot asks the contract for the root a proof of (key, value) implies.
func (t *PatriciaTree) ImpliedRoot(ctx context.Context, key, value []byte, branchMask *uint256.Int, siblings []common.Hash) (common.Hash, error) {
	out, err := t.c.call(ctx, "getImpliedRoot", key, value, geth.FromUint256(branchMask), geth.ToBytes32s(siblings))
	if err != nil {
		return common.Hash{}, err
	}
	h, err := outAt[[32]byte](out, 0)
	return common.Hash(h), err
}

// TreePool hands out pre-deployed, empty tree contracts in order. The miner
// takes one for its reputation tree and one per mining cycle.
type TreePool struct {
	backend Backend
	opts    *bind.TransactOpts
	log     *log.Logger

	mu   sync.Mutex
	free []common.Address
}

// NewTreePool creates a pool over the given contract addresses.
func NewTreePool(addrs []common.Address, backend Backend, opts *bind.TransactOpts, logger *log.Logger) *TreePool {
	if logger == nil {
		logger = log.Default().Module("chain")
	}
	return &TreePool{
		backend: backend,
		opts:    opts,
		log:     logger,
		free:    append([]common.Address(nil), addrs...),
	}
}

// Remaining returns the number of contracts not yet handed out.
func (p *TreePool) Remaining() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.free)
}

// NewTree implements miner.TreeFactory.
func (p *TreePool) NewTree(ctx context.Context) (miner.Tree, error) {
	p.mu.Lock()
	if len(p.free) == 0 {
		p.mu.Unlock()
		return nil, ErrTreePoolExhausted
	}
	addr := p.free[0]
	p.free = p.free[1:]
	p.mu.Unlock()

	t := NewPatriciaTree(addr, p.backend, p.opts, p.log)
	root, err := t.RootHash(ctx)
	if err != nil {
		return nil, err
	}
	if root != (common.Hash{}) {
		return nil, errors.Wrapf(ErrTreeNotEmpty, "%s has root %s", addr.Hex(), root.Hex())
	}
	p.log.Info("using tree contract", "address", addr.Hex())
	return t, nil
}
