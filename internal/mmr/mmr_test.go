package mmr

import (
	"context"
	"errors"
	"math/big"
	"path/filepath"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/goran-ethernal/BlockIndexor/internal/db"
	"github.com/goran-ethernal/BlockIndexor/internal/logger"
	"github.com/goran-ethernal/BlockIndexor/internal/migrations"
	"github.com/goran-ethernal/BlockIndexor/pkg/config"
	"github.com/stretchr/testify/require"
)

func blockHash(i uint64) common.Hash {
	return common.BigToHash(new(big.Int).SetUint64(1000 + i))
}

// referenceRoot computes the bagged root by building each perfect subtree directly.
func referenceRoot(hashes []common.Hash) common.Hash {
	var peaks []common.Hash
	rest := hashes
	for len(rest) > 0 {
		size := 1
		for size*2 <= len(rest) {
			size *= 2
		}

		level := make([]common.Hash, size)
		for i, h := range rest[:size] {
			level[i] = LeafDigest(h)
		}
		for len(level) > 1 {
			next := make([]common.Hash, len(level)/2)
			for i := range next {
				next[i] = Merge(level[2*i], level[2*i+1])
			}
			level = next
		}

		peaks = append(peaks, level[0])
		rest = rest[size:]
	}

	return bagPeaks(peaks)
}

func newSQLTestDb(t *testing.T) *SQLDb {
	t.Helper()

	cfg := config.DatabaseConfig{Path: filepath.Join(t.TempDir(), "mmr.db")}
	cfg.ApplyDefaults()

	database, err := db.NewSQLiteDBFromConfig(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })

	require.NoError(t, migrations.RunMigrationsDB(logger.NewNopLogger(), database))

	return NewSQLDb(database, nil)
}

func newFileTestDb(t *testing.T, path string) *FileDb {
	t.Helper()

	fdb, err := OpenFileDb(path)
	require.NoError(t, err)

	return fdb
}

func backends(t *testing.T) map[string]Db {
	t.Helper()

	return map[string]Db{
		"memory": NewMemoryDb(),
		"file":   newFileTestDb(t, filepath.Join(t.TempDir(), "mmr.bin")),
		"sqlite": newSQLTestDb(t),
	}
}

func TestMMR_AppendAndRootMatchReference(t *testing.T) {
	for name, store := range backends(t) {
		t.Run(name, func(t *testing.T) {
			m, err := New(store, logger.NewNopLogger())
			require.NoError(t, err)
			defer m.Close()

			_, err = m.Root()
			require.ErrorIs(t, err, ErrEmpty)

			var hashes []common.Hash
			for i := range uint64(33) {
				h := blockHash(i)
				hashes = append(hashes, h)

				idx, err := m.Append(h)
				require.NoError(t, err)
				require.Equal(t, i, idx)

				root, err := m.Root()
				require.NoError(t, err)
				require.Equal(t, referenceRoot(hashes), root, "root after %d leaves", i+1)
			}

			require.Equal(t, uint64(33), m.LeafCount())

			// historical roots stay reachable
			for n := uint64(1); n <= 33; n++ {
				root, err := m.RootAt(n)
				require.NoError(t, err)
				require.Equal(t, referenceRoot(hashes[:n]), root)
			}

			_, err = m.RootAt(34)
			require.ErrorIs(t, err, ErrLeafOutOfRange)
		})
	}
}

func TestMMR_RootIndependentOfBackend(t *testing.T) {
	roots := map[string]common.Hash{}
	for name, store := range backends(t) {
		m, err := New(store, logger.NewNopLogger())
		require.NoError(t, err)

		for i := range uint64(20) {
			_, err := m.Append(blockHash(i))
			require.NoError(t, err)
		}

		root, err := m.Root()
		require.NoError(t, err)
		roots[name] = root
		require.NoError(t, m.Close())
	}

	require.Equal(t, roots["memory"], roots["file"])
	require.Equal(t, roots["memory"], roots["sqlite"])
}

func TestMMR_ReopenFileDb(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mmr.bin")

	m, err := New(newFileTestDb(t, path), logger.NewNopLogger())
	require.NoError(t, err)
	for i := range uint64(11) {
		_, err := m.Append(blockHash(i))
		require.NoError(t, err)
	}
	before, err := m.Root()
	require.NoError(t, err)
	require.NoError(t, m.Close())

	reopened, err := New(newFileTestDb(t, path), logger.NewNopLogger())
	require.NoError(t, err)
	defer reopened.Close()

	require.Equal(t, uint64(11), reopened.LeafCount())
	after, err := reopened.Root()
	require.NoError(t, err)
	require.Equal(t, before, after)

	// appends continue from the persisted state
	_, err = reopened.Append(blockHash(11))
	require.NoError(t, err)

	var hashes []common.Hash
	for i := range uint64(12) {
		hashes = append(hashes, blockHash(i))
	}
	root, err := reopened.Root()
	require.NoError(t, err)
	require.Equal(t, referenceRoot(hashes), root)
}

func TestMMR_Truncate(t *testing.T) {
	for name, store := range backends(t) {
		t.Run(name, func(t *testing.T) {
			m, err := New(store, logger.NewNopLogger())
			require.NoError(t, err)
			defer m.Close()

			var hashes []common.Hash
			for i := range uint64(15) {
				hashes = append(hashes, blockHash(i))
				_, err := m.Append(blockHash(i))
				require.NoError(t, err)
			}

			require.NoError(t, m.Truncate(9))
			require.Equal(t, uint64(9), m.LeafCount())

			root, err := m.Root()
			require.NoError(t, err)
			require.Equal(t, referenceRoot(hashes[:9]), root)

			// truncating beyond the end is a no-op
			require.NoError(t, m.Truncate(20))
			require.Equal(t, uint64(9), m.LeafCount())

			// a different fork replaces the removed leaves
			forked := append([]common.Hash{}, hashes[:9]...)
			for i := uint64(100); i < 104; i++ {
				forked = append(forked, blockHash(i))
				_, err := m.Append(blockHash(i))
				require.NoError(t, err)
			}

			root, err = m.Root()
			require.NoError(t, err)
			require.Equal(t, referenceRoot(forked), root)
			require.NoError(t, m.CheckIntegrity(context.Background()))

			require.NoError(t, m.Truncate(0))
			require.Zero(t, m.LeafCount())
		})
	}
}

func TestMMR_Proofs(t *testing.T) {
	m, err := New(NewMemoryDb(), logger.NewNopLogger())
	require.NoError(t, err)

	const total = 19
	for i := range uint64(total) {
		_, err := m.Append(blockHash(i))
		require.NoError(t, err)
	}

	tests := []struct {
		name      string
		leaves    []uint64
		leafCount uint64
	}{
		{name: "first leaf", leaves: []uint64{0}, leafCount: total},
		{name: "last leaf is a peak", leaves: []uint64{18}, leafCount: total},
		{name: "siblings", leaves: []uint64{4, 5}, leafCount: total},
		{name: "across peaks", leaves: []uint64{1, 9, 17}, leafCount: total},
		{name: "every leaf", leaves: []uint64{0, 1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15, 16, 17, 18}, leafCount: total},
		{name: "historical root", leaves: []uint64{2, 6}, leafCount: 7},
		{name: "duplicates", leaves: []uint64{3, 3}, leafCount: total},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			proof, err := m.Proof(tt.leaves, tt.leafCount)
			require.NoError(t, err)
			require.Equal(t, tt.leafCount, proof.LeafCount)

			root, err := m.RootAt(tt.leafCount)
			require.NoError(t, err)

			leaves := make(map[uint64]common.Hash)
			for _, idx := range tt.leaves {
				leaves[idx] = blockHash(idx)
			}
			require.NoError(t, VerifyProof(root, proof, leaves))

			// a wrong block hash must not verify
			tampered := make(map[uint64]common.Hash)
			for idx := range leaves {
				tampered[idx] = blockHash(idx + 500)
			}
			var integrityErr *IntegrityError
			require.ErrorAs(t, VerifyProof(root, proof, tampered), &integrityErr)
		})
	}
}

func TestMMR_ProofErrors(t *testing.T) {
	m, err := New(NewMemoryDb(), logger.NewNopLogger())
	require.NoError(t, err)
	for i := range uint64(4) {
		_, err := m.Append(blockHash(i))
		require.NoError(t, err)
	}

	_, err = m.Proof(nil, 4)
	require.ErrorIs(t, err, ErrInvalidProof)

	_, err = m.Proof([]uint64{4}, 4)
	require.ErrorIs(t, err, ErrLeafOutOfRange)

	_, err = m.Proof([]uint64{0}, 5)
	require.ErrorIs(t, err, ErrLeafOutOfRange)

	proof, err := m.Proof([]uint64{0}, 4)
	require.NoError(t, err)
	root, err := m.Root()
	require.NoError(t, err)

	short := &Proof{LeafCount: proof.LeafCount, Items: proof.Items[:len(proof.Items)-1]}
	require.ErrorIs(t, VerifyProof(root, short, map[uint64]common.Hash{0: blockHash(0)}), ErrInvalidProof)

	long := &Proof{LeafCount: proof.LeafCount, Items: append(append([]common.Hash{}, proof.Items...), common.Hash{})}
	require.ErrorIs(t, VerifyProof(root, long, map[uint64]common.Hash{0: blockHash(0)}), ErrInvalidProof)
}

func TestMMR_CheckIntegrity(t *testing.T) {
	store := NewMemoryDb()
	m, err := New(store, logger.NewNopLogger())
	require.NoError(t, err)

	for i := range uint64(16) {
		_, err := m.Append(blockHash(i))
		require.NoError(t, err)
	}
	require.NoError(t, m.CheckIntegrity(context.Background()))

	// corrupt an internal node
	require.NoError(t, store.SetNodes(map[uint64]common.Hash{13: common.HexToHash("0xdead")}))

	err = m.CheckIntegrity(context.Background())
	var integrityErr *IntegrityError
	require.ErrorAs(t, err, &integrityErr)
	require.Contains(t, []uint64{13, 14}, integrityErr.Pos)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.ErrorIs(t, m.CheckIntegrity(ctx), context.Canceled)
}

func TestMMR_MissingNode(t *testing.T) {
	store := NewMemoryDb()
	require.NoError(t, store.SetLeafLength(2))

	m, err := New(store, logger.NewNopLogger())
	require.NoError(t, err)

	_, err = m.Root()
	var missing *MissingNodeError
	require.True(t, errors.As(err, &missing))
	require.Equal(t, uint64(2), missing.Pos)
}

func TestMMR_LeafDigestAt(t *testing.T) {
	m, err := New(NewMemoryDb(), logger.NewNopLogger())
	require.NoError(t, err)

	for i := range uint64(5) {
		_, err := m.Append(blockHash(i))
		require.NoError(t, err)
	}

	for i := range uint64(5) {
		digest, err := m.LeafDigestAt(i)
		require.NoError(t, err)
		require.Equal(t, LeafDigest(blockHash(i)), digest)
	}

	_, err = m.LeafDigestAt(5)
	require.ErrorIs(t, err, ErrLeafOutOfRange)
}
