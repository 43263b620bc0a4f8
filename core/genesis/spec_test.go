package genesis

import (
	"math/big"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"custodychain/core/state"
	"custodychain/crypto"
	nativecommon "custodychain/native/common"
	"custodychain/storage"
	"custodychain/storage/trie"
)

func testAddress(b byte) [20]byte {
	var out [20]byte
	for i := range out {
		out[i] = b
	}
	return out
}

func newManager(t *testing.T) *state.Manager {
	t.Helper()
	db := storage.NewMemDB()
	t.Cleanup(db.Close)
	tr, err := trie.NewTrie(db, nil)
	require.NoError(t, err)
	return state.NewManager(tr)
}

func TestLoadAndApply(t *testing.T) {
	alice := testAddress(0x01)
	bob := testAddress(0x02)
	doc := "genesisTime: 2024-01-01T00:00:00Z\n" +
		"pausedModules: [auction]\n" +
		"alloc:\n" +
		"  " + crypto.FromArray(alice).String() + ": \"1000\"\n" +
		"  \"0x0202020202020202020202020202020202020202\": \"2500\"\n"
	path := filepath.Join(t.TempDir(), "genesis.yaml")
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o600))

	spec, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), spec.GenesisTimestamp().UTC())

	allocs := spec.Allocations()
	require.Len(t, allocs, 2)
	require.Equal(t, alice, allocs[0].Address)
	require.Equal(t, bob, allocs[1].Address)

	manager := newManager(t)
	require.NoError(t, Apply(spec, manager))

	balance, err := manager.Balance(alice)
	require.NoError(t, err)
	require.Equal(t, big.NewInt(1000), balance)
	balance, err = manager.Balance(bob)
	require.NoError(t, err)
	require.Equal(t, big.NewInt(2500), balance)

	require.True(t, manager.IsPaused(nativecommon.ModuleAuction))
	require.False(t, manager.IsPaused(nativecommon.ModuleEscrow))

	version, ok, err := manager.SchemaVersion()
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, state.SchemaVersion, version)
}

func TestApplyIsDeterministic(t *testing.T) {
	doc := []byte("alloc:\n" +
		"  \"0x0303030303030303030303030303030303030303\": \"7\"\n" +
		"  \"0x0101010101010101010101010101010101010101\": \"5\"\n" +
		"  \"0x0202020202020202020202020202020202020202\": \"6\"\n")

	roots := make([][32]byte, 0, 2)
	for i := 0; i < 2; i++ {
		spec, err := Parse(doc)
		require.NoError(t, err)
		manager := newManager(t)
		require.NoError(t, Apply(spec, manager))
		root, err := manager.Trie().Commit()
		require.NoError(t, err)
		roots = append(roots, root)
	}
	require.Equal(t, roots[0], roots[1])
}

func TestParseRejectsInvalidDocuments(t *testing.T) {
	cases := map[string]string{
		"unknown field":  "chainId: 7\n",
		"bad address":    "alloc:\n  nope: \"1\"\n",
		"negative":       "alloc:\n  \"0x0101010101010101010101010101010101010101\": \"-1\"\n",
		"not a number":   "alloc:\n  \"0x0101010101010101010101010101010101010101\": \"ten\"\n",
		"unknown module": "pausedModules: [lottery]\n",
		"bad time":       "genesisTime: yesterday\n",
		"too large": "alloc:\n  \"0x0101010101010101010101010101010101010101\": \"" +
			new(big.Int).Lsh(big.NewInt(1), 256).String() + "\"\n",
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Parse([]byte(doc))
			require.Error(t, err)
		})
	}
}

func TestParseEmptyDocumentHasNoTime(t *testing.T) {
	spec, err := Parse([]byte("alloc: {}\n"))
	require.NoError(t, err)
	require.True(t, spec.GenesisTimestamp().IsZero())
	require.Empty(t, spec.Allocations())
}
