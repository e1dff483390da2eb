package main

import (
	"bytes"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"github.com/eth2030/reputation-miner/config"
	"github.com/eth2030/reputation-miner/core/types"
	"github.com/eth2030/reputation-miner/store"
)

func TestRun_Version(t *testing.T) {
	var out, errOut bytes.Buffer
	require.Equal(t, 0, run([]string{"version"}, &out, &errOut))
	require.True(t, strings.HasPrefix(out.String(), "repminer "+version))
}

func TestRun_InvalidConfig(t *testing.T) {
	var out, errOut bytes.Buffer
	// No colony network address.
	require.Equal(t, 1, run([]string{"replay"}, &out, &errOut))
	require.Contains(t, errOut.String(), "colony network")
}

func TestRun_UnknownFlag(t *testing.T) {
	var out, errOut bytes.Buffer
	require.Equal(t, 1, run([]string{"replay", "--no-such-flag"}, &out, &errOut))
}

func TestRun_RequiresSignerForRun(t *testing.T) {
	var out, errOut bytes.Buffer
	code := run([]string{
		"run",
		"--colony-network", "0x5eed000000000000000000000000000000000001",
		"--rpc-url", "http://127.0.0.1:1",
	}, &out, &errOut)
	require.Equal(t, 1, code)
	require.Contains(t, errOut.String(), "private key")
}

func TestStoreFactory(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.DataDir = t.TempDir()
	cycle := common.HexToAddress("0xc1")

	mem, err := newStoreFactory(&cfg)(cycle)
	require.NoError(t, err)
	require.IsType(t, &store.MemoryStore{}, mem)

	cfg.JustificationStore = config.BackendPebble
	s, err := newStoreFactory(&cfg)(cycle)
	require.NoError(t, err)
	defer s.Close()
	require.IsType(t, &store.PebbleStore{}, s)

	e := &types.JustificationEntry{
		Index:                 0,
		NNodes:                1,
		JustUpdatedProof:      types.EmptyProof(nil, 0),
		NextUpdateProof:       types.EmptyProof(nil, 0),
		NewestReputationProof: types.EmptyProof(nil, 0),
	}
	require.NoError(t, s.Put(e))
	require.Equal(t, 1, s.Len())
}
