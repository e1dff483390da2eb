package patricia

import (
	"errors"
	"fmt"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestTree_EmptyRoot(t *testing.T) {
	tr := New()
	require.Equal(t, common.Hash{}, tr.RootHash())
	_, _, err := tr.Proof([]byte("missing"))
	require.True(t, errors.Is(err, ErrKeyNotFound))
}

func TestTree_SingleKeyProof(t *testing.T) {
	tr := New()
	tr.Insert([]byte("a"), []byte("1"))

	mask, siblings, err := tr.Proof([]byte("a"))
	require.NoError(t, err)
	require.True(t, mask.IsZero())
	require.Empty(t, siblings)

	root, err := ImpliedRoot([]byte("a"), []byte("1"), mask, siblings)
	require.NoError(t, err)
	require.Equal(t, tr.RootHash(), root)
}

func TestTree_ProofsValidForAllKeys(t *testing.T) {
	tr := New()
	for i := 0; i < 64; i++ {
		tr.Insert([]byte(fmt.Sprintf("key-%d", i)), []byte(fmt.Sprintf("value-%d", i)))
	}
	require.Equal(t, 64, tr.Len())

	for i := 0; i < 64; i++ {
		key := []byte(fmt.Sprintf("key-%d", i))
		value, err := tr.Get(key)
		require.NoError(t, err)
		require.Equal(t, []byte(fmt.Sprintf("value-%d", i)), value)

		mask, siblings, err := tr.Proof(key)
		require.NoError(t, err)
		require.Equal(t, int(popCount(mask)), len(siblings))

		root, err := ImpliedRoot(key, value, mask, siblings)
		require.NoError(t, err)
		require.Equal(t, tr.RootHash(), root, "key %s", key)
	}
}

func TestTree_UpdateKeepsSize(t *testing.T) {
	tr := New()
	tr.Insert([]byte("a"), []byte("1"))
	tr.Insert([]byte("b"), []byte("2"))
	before := tr.RootHash()

	tr.Insert([]byte("a"), []byte("3"))
	require.Equal(t, 2, tr.Len())
	require.NotEqual(t, before, tr.RootHash())

	v, err := tr.Get([]byte("a"))
	require.NoError(t, err)
	require.Equal(t, []byte("3"), v)

	tr.Insert([]byte("a"), []byte("1"))
	require.Equal(t, before, tr.RootHash())
}

func TestTree_WrongValueImpliesOtherRoot(t *testing.T) {
	tr := New()
	tr.Insert([]byte("a"), []byte("1"))
	tr.Insert([]byte("b"), []byte("2"))

	mask, siblings, err := tr.Proof([]byte("a"))
	require.NoError(t, err)
	root, err := ImpliedRoot([]byte("a"), []byte("2"), mask, siblings)
	require.NoError(t, err)
	require.NotEqual(t, tr.RootHash(), root)
}

func TestImpliedRoot_MaskSiblingMismatch(t *testing.T) {
	_, err := ImpliedRoot([]byte("a"), []byte("1"), uint256.NewInt(3), []common.Hash{{}})
	require.True(t, errors.Is(err, ErrInvalidProof))
}

func TestTree_MissingKeyAmongOthers(t *testing.T) {
	tr := New()
	tr.Insert([]byte("a"), []byte("1"))
	tr.Insert([]byte("b"), []byte("2"))
	_, err := tr.Get([]byte("c"))
	require.True(t, errors.Is(err, ErrKeyNotFound))
}

// The root only depends on the final contents, not on insertion order.
func TestTree_RootIndependentOfOrder(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		n := rapid.IntRange(1, 24).Draw(t, "n").(int)
		perm := rapid.Permutation(rangeInts(n)).Draw(t, "perm").([]int)

		a, b := New(), New()
		for i := 0; i < n; i++ {
			a.Insert([]byte{byte(i)}, []byte{byte(i), 1})
		}
		for _, i := range perm {
			b.Insert([]byte{byte(i)}, []byte{byte(i), 1})
		}
		require.Equal(t, a.RootHash(), b.RootHash())
	})
}

func rangeInts(n int) []int {
	out := make([]int, n)
	for i := range out {
		out[i] = i
	}
	return out
}

func TestLabel_SplitAndChop(t *testing.T) {
	var h [32]byte
	h[0] = 0b1010_0000
	l := fullLabel(h)

	prefix, suffix := splitAt(l, 3)
	require.Equal(t, uint(3), prefix.length)
	require.Equal(t, uint(253), suffix.length)

	head, tail := chopFirstBit(l)
	require.Equal(t, uint(1), head)
	head, _ = chopFirstBit(tail)
	require.Equal(t, uint(0), head)

	require.Equal(t, uint(256), commonPrefix(l, l))
	var g [32]byte
	g[0] = 0b1000_0000
	require.Equal(t, uint(2), commonPrefix(l, fullLabel(g)))
}
