package mmr

import (
	"database/sql"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/goran-ethernal/BlockIndexor/internal/db"
	"github.com/russross/meddler"
)

// maximum number of positions bound in a single IN clause
const sqlQueryChunk = 500

type nodeRow struct {
	Pos    uint64      `meddler:"pos"`
	Digest common.Hash `meddler:"digest,hash"`
}

type metaRow struct {
	ID         int64  `meddler:"id,pk"`
	LeafLength uint64 `meddler:"leaf_length"`
}

// SQLDb stores nodes in the mmr_nodes and mmr_meta tables of the indexer database.
type SQLDb struct {
	db          *sql.DB
	maintenance db.Maintenance
}

var (
	_ Db     = (*SQLDb)(nil)
	_ Pruner = (*SQLDb)(nil)
)

// NewSQLDb uses an already migrated database. The database is owned by the
// caller and is not closed by Close.
func NewSQLDb(database *sql.DB, maintenance db.Maintenance) *SQLDb {
	if maintenance == nil {
		maintenance = &db.NoOpMaintenance{}
	}

	return &SQLDb{db: database, maintenance: maintenance}
}

func (s *SQLDb) GetLeafLength() (uint64, error) {
	var meta metaRow
	if err := meddler.Load(s.db, "mmr_meta", &meta, 1); err != nil {
		return 0, fmt.Errorf("failed to load mmr leaf length: %w", err)
	}

	return meta.LeafLength, nil
}

func (s *SQLDb) SetLeafLength(leafLength uint64) error {
	unlock := s.maintenance.AcquireOperationLock()
	defer unlock()

	if err := meddler.Update(s.db, "mmr_meta", &metaRow{ID: 1, LeafLength: leafLength}); err != nil {
		return fmt.Errorf("failed to store mmr leaf length: %w", err)
	}

	return nil
}

func (s *SQLDb) GetNodes(positions []uint64) (map[uint64]common.Hash, error) {
	out := make(map[uint64]common.Hash, len(positions))

	for start := 0; start < len(positions); start += sqlQueryChunk {
		chunk := positions[start:min(start+sqlQueryChunk, len(positions))]

		args := make([]any, len(chunk))
		for i, pos := range chunk {
			args[i] = pos
		}

		query := fmt.Sprintf("SELECT pos, digest FROM mmr_nodes WHERE pos IN (%s)",
			strings.TrimSuffix(strings.Repeat("?,", len(chunk)), ","))

		var rows []*nodeRow
		if err := meddler.QueryAll(s.db, &rows, query, args...); err != nil {
			return nil, fmt.Errorf("failed to load mmr nodes: %w", err)
		}

		for _, row := range rows {
			out[row.Pos] = row.Digest
		}
	}

	return out, nil
}

func (s *SQLDb) SetNodes(nodes map[uint64]common.Hash) error {
	unlock := s.maintenance.AcquireOperationLock()
	defer unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	stmt, err := tx.Prepare("INSERT OR REPLACE INTO mmr_nodes (pos, digest) VALUES (?, ?)")
	if err != nil {
		return fmt.Errorf("failed to prepare mmr node insert: %w", err)
	}
	defer stmt.Close()

	for pos, digest := range nodes {
		if _, err := stmt.Exec(pos, digest.Hex()); err != nil {
			return fmt.Errorf("failed to store mmr node %d: %w", pos, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit mmr nodes: %w", err)
	}

	return nil
}

func (s *SQLDb) DeleteFrom(pos uint64) error {
	unlock := s.maintenance.AcquireOperationLock()
	defer unlock()

	if _, err := s.db.Exec("DELETE FROM mmr_nodes WHERE pos >= ?", pos); err != nil {
		return fmt.Errorf("failed to delete mmr nodes from %d: %w", pos, err)
	}

	return nil
}

func (s *SQLDb) Close() error {
	return nil
}
