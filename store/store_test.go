package store

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"

	"github.com/eth2030/reputation-miner/core/types"
)

func sampleEntry(index uint64) *types.JustificationEntry {
	key := make([]byte, types.KeyLength)
	key[0] = byte(index)
	proof := types.Proof{
		Key:      key,
		Value:    types.EncodeValue(uint256.NewInt(100), uint256.NewInt(1)),
		Siblings: []common.Hash{common.HexToHash("0x01"), common.HexToHash("0x02")},
		NNodes:   3,
	}
	proof.BranchMask.SetUint64(0x8001)
	return &types.JustificationEntry{
		Index:                 index,
		InterimHash:           common.HexToHash("0xabcdef"),
		NNodes:                3,
		JustUpdatedProof:      proof,
		NextUpdateProof:       types.EmptyProof(key, 3),
		NewestReputationProof: types.EmptyProof(nil, 3),
	}
}

func TestCodec_RoundTrip(t *testing.T) {
	e := sampleEntry(5)
	enc, err := EncodeEntry(e)
	require.NoError(t, err)

	got, err := DecodeEntry(enc)
	require.NoError(t, err)
	require.Equal(t, e, got)
}

func TestCodec_Garbage(t *testing.T) {
	_, err := DecodeEntry([]byte{0xff, 0x00})
	require.Error(t, err)
}

func testStore(t *testing.T, s EntryStore) {
	t.Helper()
	_, err := s.Get(0)
	require.True(t, errors.Is(err, ErrNotFound))

	for i := uint64(0); i < 4; i++ {
		require.NoError(t, s.Put(sampleEntry(i)))
	}
	require.Equal(t, 4, s.Len())

	got, err := s.Get(2)
	require.NoError(t, err)
	require.Equal(t, sampleEntry(2), got)

	require.NoError(t, s.Reset())
	require.Equal(t, 0, s.Len())
	_, err = s.Get(2)
	require.True(t, errors.Is(err, ErrNotFound))
}

func TestMemoryStore(t *testing.T) {
	testStore(t, NewMemoryStore())
}

func TestPebbleStore(t *testing.T) {
	s, err := OpenPebble(filepath.Join(t.TempDir(), "cycle"))
	require.NoError(t, err)
	defer s.Close()
	testStore(t, s)
}

func TestPebbleStore_Reopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cycle")
	s, err := OpenPebble(path)
	require.NoError(t, err)
	require.NoError(t, s.Put(sampleEntry(0)))
	require.NoError(t, s.Put(sampleEntry(1)))
	require.NoError(t, s.Close())

	s, err = OpenPebble(path)
	require.NoError(t, err)
	defer s.Close()
	require.Equal(t, 2, s.Len())
	got, err := s.Get(1)
	require.NoError(t, err)
	require.Equal(t, uint64(1), got.Index)
}
