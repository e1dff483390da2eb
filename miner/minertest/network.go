// Package minertest provides an in-memory colony network and mining cycle
// for tests. The cycle checks every proof it is sent against its own view
// of the protocol, the way the on-chain verifier would.
package minertest

import (
	"context"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/pkg/errors"

	"github.com/eth2030/reputation-miner/core/types"
	"github.com/eth2030/reputation-miner/miner"
)

// ErrUnknownSkill is returned for skill ids never added.
var ErrUnknownSkill = errors.New("unknown skill")

type skillNode struct {
	parents  []uint256.Int // nearest first
	children []uint256.Int
}

// Network is a fake colony network with a skill tree, a committed
// reputation root and one active mining cycle.
type Network struct {
	mu         sync.Mutex
	skills     map[uint256.Int]*skillNode
	nextSkill  uint64
	root       common.Hash
	nNodes     uint64
	cycle      *Cycle
	nextCycle  uint64
	skillReads int
}

var _ miner.Network = (*Network)(nil)

// NewNetwork returns a network with an empty skill tree and an open cycle.
func NewNetwork() *Network {
	n := &Network{skills: make(map[uint256.Int]*skillNode), nextSkill: 1}
	n.NewCycle()
	return n
}

// AddSkill adds a skill under parent (nil for a root skill) and returns its id.
func (n *Network) AddSkill(parent *uint256.Int) *uint256.Int {
	n.mu.Lock()
	defer n.mu.Unlock()
	id := *uint256.NewInt(n.nextSkill)
	n.nextSkill++
	node := &skillNode{}
	if parent != nil {
		p, ok := n.skills[*parent]
		if !ok {
			panic("minertest: unknown parent skill")
		}
		node.parents = append([]uint256.Int{*parent}, p.parents...)
		for _, a := range node.parents {
			anc := n.skills[a]
			anc.children = append(anc.children, id)
		}
	}
	n.skills[id] = node
	return &id
}

// SetCommitted sets the last accepted reputation root and node count.
func (n *Network) SetCommitted(root common.Hash, nNodes uint64) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.root, n.nNodes = root, nNodes
}

// NewCycle opens a fresh mining cycle with an empty log and makes it active.
func (n *Network) NewCycle() *Cycle {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.nextCycle++
	var addr common.Address
	new(big.Int).SetUint64(0xc0c1e000 + n.nextCycle).FillBytes(addr[:])
	n.cycle = &Cycle{network: n, address: addr, rounds: [][]*slot{nil}}
	return n.cycle
}

// Cycle returns the active cycle.
func (n *Network) Cycle() *Cycle {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.cycle
}

// SkillReads returns how many skill-graph queries were answered.
func (n *Network) SkillReads() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.skillReads
}

// UpdatesFor returns the number of logical updates a log entry for skill
// with the given amount implies.
func (n *Network) UpdatesFor(skill *uint256.Int, amount *big.Int) uint64 {
	n.mu.Lock()
	defer n.mu.Unlock()
	node, ok := n.skills[*skill]
	if !ok {
		return 2
	}
	per := uint64(len(node.parents)) + 1
	if amount.Sign() < 0 {
		per += uint64(len(node.children))
	}
	return 2 * per
}

func (n *Network) ActiveCycle(context.Context) (miner.MiningCycle, error) {
	return n.Cycle(), nil
}

func (n *Network) ReputationRootHash(context.Context) (common.Hash, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.root, nil
}

func (n *Network) ReputationRootHashNNodes(context.Context) (uint64, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.nNodes, nil
}

func (n *Network) lookup(id *uint256.Int) (*skillNode, error) {
	n.skillReads++
	node, ok := n.skills[*id]
	if !ok {
		return nil, errors.Wrapf(ErrUnknownSkill, "skill %s", id.Dec())
	}
	return node, nil
}

func (n *Network) Skill(_ context.Context, id *uint256.Int) (types.Skill, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	node, err := n.lookup(id)
	if err != nil {
		return types.Skill{}, err
	}
	return types.Skill{NParents: uint64(len(node.parents)), NChildren: uint64(len(node.children))}, nil
}

func (n *Network) ChildSkillID(_ context.Context, id *uint256.Int, idx uint64) (*uint256.Int, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	node, err := n.lookup(id)
	if err != nil {
		return nil, err
	}
	if idx >= uint64(len(node.children)) {
		return nil, errors.Errorf("skill %s has no child %d", id.Dec(), idx)
	}
	c := node.children[idx]
	return &c, nil
}

func (n *Network) ParentSkillID(_ context.Context, id *uint256.Int, idx uint64) (*uint256.Int, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	node, err := n.lookup(id)
	if err != nil {
		return nil, err
	}
	if idx >= uint64(len(node.parents)) {
		return nil, errors.Errorf("skill %s has no parent %d", id.Dec(), idx)
	}
	p := node.parents[idx]
	return &p, nil
}
