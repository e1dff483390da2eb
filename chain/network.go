package chain

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi/bind/v2"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/pkg/errors"

	"github.com/eth2030/reputation-miner/core/types"
	"github.com/eth2030/reputation-miner/geth"
	"github.com/eth2030/reputation-miner/log"
	"github.com/eth2030/reputation-miner/miner"
)

// ErrNoActiveCycle is returned when the network reports no active mining
// cycle.
var ErrNoActiveCycle = errors.New("chain: no active mining cycle")

// Network is the colony network contract.
type Network struct {
	c *contract
}

var _ miner.Network = (*Network)(nil)

// NewNetwork binds the colony network at address. opts may be nil for a
// read-only miner; the cycles it hands out inherit it.
func NewNetwork(address common.Address, backend Backend, opts *bind.TransactOpts, logger *log.Logger) *Network {
	if logger == nil {
		logger = log.Default().Module("chain")
	}
	return &Network{c: newContract(address, colonyNetworkABIParsed, backend, opts, logger)}
}

// Address returns the network contract address.
func (n *Network) Address() common.Address { return n.c.address }

// ActiveCycle binds the currently active reputation mining cycle.
func (n *Network) ActiveCycle(ctx context.Context) (miner.MiningCycle, error) {
	out, err := n.c.call(ctx, "getReputationMiningCycle", true)
	if err != nil {
		return nil, err
	}
	addr, err := outAt[common.Address](out, 0)
	if err != nil {
		return nil, err
	}
	if addr == (common.Address{}) {
		return nil, ErrNoActiveCycle
	}
	return NewCycle(addr, n.c.backend, n.c.opts, n.c.log), nil
}

// ReputationRootHash returns the last accepted reputation root.
func (n *Network) ReputationRootHash(ctx context.Context) (common.Hash, error) {
	out, err := n.c.call(ctx, "getReputationRootHash")
	if err != nil {
		return common.Hash{}, err
	}
	h, err := outAt[[32]byte](out, 0)
	return common.Hash(h), err
}

// ReputationRootHashNNodes returns the node count of the accepted root.
func (n *Network) ReputationRootHashNNodes(ctx context.Context) (uint64, error) {
	out, err := n.c.call(ctx, "getReputationRootHashNNodes")
	if err != nil {
		return 0, err
	}
	v, err := outAt[*big.Int](out, 0)
	if err != nil {
		return 0, err
	}
	return geth.ToUint64(v)
}

// Skill reads the parent and child counts of skill id.
func (n *Network) Skill(ctx context.Context, id *uint256.Int) (types.Skill, error) {
	out, err := n.c.call(ctx, "getSkill", geth.FromUint256(id))
	if err != nil {
		return types.Skill{}, err
	}
	var counts [2]uint64
	for i := range counts {
		v, err := outAt[*big.Int](out, i)
		if err != nil {
			return types.Skill{}, err
		}
		if counts[i], err = geth.ToUint64(v); err != nil {
			return types.Skill{}, errors.Wrapf(err, "skill %s", id.Dec())
		}
	}
	return types.Skill{NParents: counts[0], NChildren: counts[1]}, nil
}

// ChildSkillID returns the idx-th child of skill id.
func (n *Network) ChildSkillID(ctx context.Context, id *uint256.Int, idx uint64) (*uint256.Int, error) {
	return n.skillID(ctx, "getChildSkillId", id, idx)
}

// ParentSkillID returns the idx-th parent of skill id.
func (n *Network) ParentSkillID(ctx context.Context, id *uint256.Int, idx uint64) (*uint256.Int, error) {
	return n.skillID(ctx, "getParentSkillId", id, idx)
}

func (n *Network) skillID(ctx context.Context, method string, id *uint256.Int, idx uint64) (*uint256.Int, error) {
	out, err := n.c.call(ctx, method, geth.FromUint256(id), geth.FromUint64(idx))
	if err != nil {
		return nil, err
	}
	v, err := outAt[*big.Int](out, 0)
	if err != nil {
		return nil, err
	}
	return geth.ToUint256(v)
}
