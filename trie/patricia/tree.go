// Package patricia implements the in-process binary Patricia tree used for
// the reputation state and the justification tree.
//
// Keys are hashed with Keccak-256 and walked bit by bit from the most
// significant end. An edge commits to its child with
//
//	keccak256(node || uint256(labelLength) || labelData)
//
// and a branch node is keccak256(edgeHash(left) || edgeHash(right)). The root
// hash of the tree is the hash of its root edge, or the zero hash while the
// tree is empty. Proofs are a branch mask, with bit 255-d set for every
// branch at depth d on the key's path, and the sibling edge hashes from the
// root downwards.
package patricia

import (
	"errors"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/eth2030/reputation-miner/crypto"
)

var (
	// ErrKeyNotFound is returned when a key has never been inserted.
	ErrKeyNotFound = errors.New("patricia: key not found")

	// ErrInvalidProof is returned when the number of siblings does not match
	// the branch mask.
	ErrInvalidProof = errors.New("patricia: invalid proof")
)

type edge struct {
	node  common.Hash
	label label
}

type node struct {
	children [2]edge
}

// Tree is a binary Patricia tree. It is not safe for concurrent use; callers
// serialise access.
type Tree struct {
	root     common.Hash
	rootEdge edge
	nodes    map[common.Hash]node
	values   map[common.Hash][]byte
	size     int
}

// New returns an empty tree.
func New() *Tree {
	return &Tree{
		nodes:  make(map[common.Hash]node),
		values: make(map[common.Hash][]byte),
	}
}

func edgeHash(e edge) common.Hash {
	length := uint256.NewInt(uint64(e.label.length)).Bytes32()
	data := e.label.data.Bytes32()
	return crypto.Keccak256Hash(e.node[:], length[:], data[:])
}

func nodeHash(n node) common.Hash {
	return crypto.HashPair(edgeHash(n.children[0]), edgeHash(n.children[1]))
}

// RootHash returns the hash committing to the whole tree.
func (t *Tree) RootHash() common.Hash {
	return t.root
}

// Len returns the number of distinct keys in the tree.
func (t *Tree) Len() int {
	return t.size
}

// Insert sets key to value, replacing any previous value.
func (t *Tree) Insert(key, value []byte) {
	k := fullLabel(crypto.Keccak256Hash(key))
	valueHash := crypto.Keccak256Hash(value)
	t.values[valueHash] = common.CopyBytes(value)

	var e edge
	if t.root == (common.Hash{}) {
		e = edge{node: valueHash, label: k}
		t.size++
	} else {
		var added bool
		e, added = t.insertAtEdge(t.rootEdge, k, valueHash)
		if added {
			t.size++
		}
	}
	t.rootEdge = e
	t.root = edgeHash(e)
}

func (t *Tree) insertAtEdge(e edge, key label, value common.Hash) (edge, bool) {
	prefix, suffix := splitCommonPrefix(key, e.label)
	var (
		newNode common.Hash
		added   bool
	)
	switch {
	case suffix.length == 0:
		// Full match: update in place.
		newNode = value
	case prefix.length >= e.label.length:
		// Edge label fully matched, descend.
		n := t.nodes[e.node]
		head, tail := chopFirstBit(suffix)
		n.children[head], added = t.insertAtEdge(n.children[head], tail, value)
		delete(t.nodes, e.node)
		newNode = t.insertNode(n)
	default:
		// Mismatch inside the label: split it with a new branch.
		head, tail := chopFirstBit(suffix)
		var branch node
		branch.children[head] = edge{node: value, label: tail}
		branch.children[1-head] = edge{node: e.node, label: removePrefix(e.label, prefix.length+1)}
		newNode = t.insertNode(branch)
		added = true
	}
	return edge{node: newNode, label: prefix}, added
}

func (t *Tree) insertNode(n node) common.Hash {
	h := nodeHash(n)
	t.nodes[h] = n
	return h
}

// Get returns the value stored under key.
func (t *Tree) Get(key []byte) ([]byte, error) {
	e, _, _, err := t.walk(key)
	if err != nil {
		return nil, err
	}
	v, ok := t.values[e.node]
	if !ok {
		return nil, ErrKeyNotFound
	}
	return common.CopyBytes(v), nil
}

// Proof returns the branch mask and root-to-leaf sibling hashes for key.
func (t *Tree) Proof(key []byte) (*uint256.Int, []common.Hash, error) {
	_, mask, siblings, err := t.walk(key)
	if err != nil {
		return nil, nil, err
	}
	return mask, siblings, nil
}

func (t *Tree) walk(key []byte) (edge, *uint256.Int, []common.Hash, error) {
	if t.root == (common.Hash{}) {
		return edge{}, nil, nil, ErrKeyNotFound
	}
	k := fullLabel(crypto.Keccak256Hash(key))
	e := t.rootEdge
	mask := new(uint256.Int)
	siblings := []common.Hash{}
	var depth uint
	for {
		prefix, suffix := splitCommonPrefix(k, e.label)
		if prefix.length != e.label.length {
			return edge{}, nil, nil, ErrKeyNotFound
		}
		if suffix.length == 0 {
			return e, mask, siblings, nil
		}
		depth += prefix.length
		mask.Or(mask, new(uint256.Int).Lsh(uint256.NewInt(1), 255-depth))
		depth++

		n, ok := t.nodes[e.node]
		if !ok {
			return edge{}, nil, nil, ErrKeyNotFound
		}
		head, tail := chopFirstBit(suffix)
		siblings = append(siblings, edgeHash(n.children[1-head]))
		e = n.children[head]
		k = tail
	}
}

// ImpliedRoot recomputes the root hash committed to by a proof that key maps
// to value. It does not consult the tree's contents.
func ImpliedRoot(key, value []byte, branchMask *uint256.Int, siblings []common.Hash) (common.Hash, error) {
	mask := new(uint256.Int)
	if branchMask != nil {
		mask.Set(branchMask)
	}
	if uint(len(siblings)) != popCount(mask) {
		return common.Hash{}, ErrInvalidProof
	}
	k := fullLabel(crypto.Keccak256Hash(key))
	e := edge{node: crypto.Keccak256Hash(value)}
	for i := 0; !mask.IsZero(); i++ {
		bitSet := lowestBitSet(mask)
		mask.And(mask, new(uint256.Int).Not(new(uint256.Int).Lsh(uint256.NewInt(1), bitSet)))

		k, e.label = splitAt(k, 255-bitSet)
		var bit uint
		bit, e.label = chopFirstBit(e.label)

		var hashes [2]common.Hash
		hashes[bit] = edgeHash(e)
		hashes[1-bit] = siblings[len(siblings)-i-1]
		e.node = crypto.HashPair(hashes[0], hashes[1])
	}
	e.label = k
	return edgeHash(e), nil
}

// ImpliedRoot is the method form of the package-level ImpliedRoot.
func (t *Tree) ImpliedRoot(key, value []byte, branchMask *uint256.Int, siblings []common.Hash) (common.Hash, error) {
	return ImpliedRoot(key, value, branchMask, siblings)
}

