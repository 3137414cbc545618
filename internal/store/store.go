// Package store persists entities, processed block hashes and indexing
// progress in SQLite.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/lru"
	internalcommon "github.com/goran-ethernal/BlockIndexor/internal/common"
	"github.com/goran-ethernal/BlockIndexor/internal/db"
	"github.com/goran-ethernal/BlockIndexor/internal/logger"
	"github.com/goran-ethernal/BlockIndexor/internal/migrations"
	"github.com/goran-ethernal/BlockIndexor/pkg/config"
	pkgstore "github.com/goran-ethernal/BlockIndexor/pkg/store"
	"github.com/goran-ethernal/BlockIndexor/pkg/types"
	"github.com/russross/meddler"
)

// ErrNonContiguous is returned when a commit does not extend the watermark by one.
var ErrNonContiguous = errors.New("block does not extend the watermark")

// Compile-time check to ensure SQLiteStore implements pkgstore.Store interface.
var _ pkgstore.Store = (*SQLiteStore)(nil)

// Options configures a SQLiteStore.
type Options struct {
	// HistoryDepth is how many heights of entity history are kept for rollback.
	HistoryDepth uint64
	// HashCacheSize is the number of block hashes kept in memory.
	HashCacheSize int
}

// SQLiteStore is the SQLite implementation of pkgstore.Store. Every block is
// committed in one transaction together with the watermark, and the previous
// state of every touched entity is kept so heights can be undone.
type SQLiteStore struct {
	db          *sql.DB
	owned       bool
	opts        Options
	hashes      *lru.Cache[uint64, common.Hash]
	maintenance db.Maintenance
	log         *logger.Logger
}

// Open opens the database described by cfg, applies migrations and returns a
// store owning the connection.
func Open(cfg config.DatabaseConfig, opts Options, log *logger.Logger) (*SQLiteStore, error) {
	cfg.ApplyDefaults()

	database, err := db.NewSQLiteDBFromConfig(cfg)
	if err != nil {
		return nil, err
	}

	if err := migrations.RunMigrationsDB(log, database); err != nil {
		database.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	s := New(database, opts, nil, log)
	s.owned = true

	return s, nil
}

// New creates a store on an already migrated database. A nil maintenance
// coordinator disables operation locking.
func New(database *sql.DB, opts Options, maintenance db.Maintenance, log *logger.Logger) *SQLiteStore {
	if opts.HashCacheSize <= 0 {
		opts.HashCacheSize = 1024
	}
	if maintenance == nil {
		maintenance = &db.NoOpMaintenance{}
	}

	return &SQLiteStore{
		db:          database,
		opts:        opts,
		hashes:      lru.NewCache[uint64, common.Hash](opts.HashCacheSize),
		maintenance: maintenance,
		log:         log.WithComponent(internalcommon.ComponentEntityStore),
	}
}

// DB returns the underlying database handle.
func (s *SQLiteStore) DB() *sql.DB {
	return s.db
}

// SetMaintenance installs the coordinator whose operation lock guards writes.
func (s *SQLiteStore) SetMaintenance(maintenance db.Maintenance) {
	s.maintenance = maintenance
}

// Commit applies ops for block and advances the watermark in one transaction.
func (s *SQLiteStore) Commit(ctx context.Context, block *types.RawBlock, ops []types.EntityOperation) error {
	unlock := s.maintenance.AcquireOperationLock()
	defer unlock()

	start := time.Now()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer s.rollback(tx)

	state, err := loadSyncState(tx)
	if err != nil {
		return err
	}

	if state.Processed && block.Height != state.LastProcessedHeight+1 {
		return fmt.Errorf("%w: got %d, watermark %d", ErrNonContiguous, block.Height, state.LastProcessedHeight)
	}

	for _, op := range ops {
		if err := s.apply(tx, block.Height, op); err != nil {
			return err
		}
	}

	record := &BlockRecord{
		Height:     block.Height,
		Hash:       block.Hash,
		ParentHash: block.ParentHash,
		Timestamp:  block.Timestamp,
	}
	if err := meddler.Insert(tx, "block_hashes", record); err != nil {
		return fmt.Errorf("failed to insert block hash %d: %w", block.Height, err)
	}

	state.LastProcessedHeight = block.Height
	state.Processed = true
	state.UpdatedAt = time.Now().Unix()
	if err := meddler.Update(tx, "sync_state", state); err != nil {
		return fmt.Errorf("failed to update watermark: %w", err)
	}

	if s.opts.HistoryDepth > 0 && block.Height > s.opts.HistoryDepth {
		const pruneQuery = `DELETE FROM entity_history WHERE height < ?`
		if _, err := tx.Exec(pruneQuery, block.Height-s.opts.HistoryDepth); err != nil {
			return fmt.Errorf("failed to prune entity history: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	s.hashes.Add(block.Height, block.Hash)
	CommitLog(time.Since(start), block.Height)

	s.log.Debugf("committed block %d with %d entity operations", block.Height, len(ops))

	return nil
}

// apply records the previous state of the entity touched by op and applies it.
func (s *SQLiteStore) apply(tx *sql.Tx, height uint64, op types.EntityOperation) error {
	prev, err := loadEntity(tx, op.EntityType, op.ID)
	if err != nil {
		return err
	}

	if op.Type == types.OpRemove && prev == nil {
		return nil
	}

	history := &historyRow{
		Height:      height,
		EntityType:  op.EntityType,
		ID:          op.ID,
		PrevExisted: prev != nil,
	}
	if prev != nil {
		history.PrevData = &prev.Data
		history.PrevHeight = &prev.Height
	}
	if err := meddler.Insert(tx, "entity_history", history); err != nil {
		return fmt.Errorf("failed to record history of %s/%s: %w", op.EntityType, op.ID, err)
	}

	switch op.Type {
	case types.OpSet:
		if err := upsertEntity(tx, &entityRow{
			EntityType: op.EntityType,
			ID:         op.ID,
			Data:       string(op.Data),
			Height:     height,
		}); err != nil {
			return err
		}
	case types.OpRemove:
		if err := deleteEntity(tx, op.EntityType, op.ID); err != nil {
			return err
		}
	default:
		return fmt.Errorf("unknown entity operation %s", op.Type)
	}

	EntityOpInc(op.EntityType, op.Type.String())

	return nil
}

// Truncate removes every height >= fromHeight and restores entities to their
// state at fromHeight-1.
func (s *SQLiteStore) Truncate(ctx context.Context, fromHeight uint64) error {
	unlock := s.maintenance.AcquireOperationLock()
	defer unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer s.rollback(tx)

	var history []*historyRow
	const historyQuery = `SELECT * FROM entity_history WHERE height >= ? ORDER BY seq DESC`
	if err := meddler.QueryAll(tx, &history, historyQuery, fromHeight); err != nil {
		return fmt.Errorf("failed to query entity history: %w", err)
	}

	for _, h := range history {
		if !h.PrevExisted {
			if err := deleteEntity(tx, h.EntityType, h.ID); err != nil {
				return err
			}
			continue
		}

		if h.PrevData == nil || h.PrevHeight == nil {
			return fmt.Errorf("entity history %d of %s/%s has no previous state", h.Seq, h.EntityType, h.ID)
		}
		if err := upsertEntity(tx, &entityRow{
			EntityType: h.EntityType,
			ID:         h.ID,
			Data:       *h.PrevData,
			Height:     *h.PrevHeight,
		}); err != nil {
			return err
		}
	}

	if _, err := tx.Exec(`DELETE FROM entity_history WHERE height >= ?`, fromHeight); err != nil {
		return fmt.Errorf("failed to delete entity history: %w", err)
	}
	if _, err := tx.Exec(`DELETE FROM block_hashes WHERE height >= ?`, fromHeight); err != nil {
		return fmt.Errorf("failed to delete block hashes: %w", err)
	}

	var last sql.NullInt64
	if err := tx.QueryRow(`SELECT MAX(height) FROM block_hashes`).Scan(&last); err != nil {
		return fmt.Errorf("failed to query last block: %w", err)
	}

	state, err := loadSyncState(tx)
	if err != nil {
		return err
	}
	state.Processed = last.Valid
	state.LastProcessedHeight = 0
	if last.Valid {
		state.LastProcessedHeight = uint64(last.Int64)
	}
	state.UpdatedAt = time.Now().Unix()
	if err := meddler.Update(tx, "sync_state", state); err != nil {
		return fmt.Errorf("failed to update watermark: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	s.hashes.Purge()
	TruncateLog(len(history), state.LastProcessedHeight)

	s.log.Infow("truncated store",
		"from_height", fromHeight,
		"restored_entities", len(history),
		"processed", state.Processed,
		"watermark", state.LastProcessedHeight,
	)

	return nil
}

// HashAt returns the stored hash of a processed height.
func (s *SQLiteStore) HashAt(height uint64) (common.Hash, bool, error) {
	if hash, ok := s.hashes.Get(height); ok {
		return hash, true, nil
	}

	record, err := s.Block(height)
	if err != nil || record == nil {
		return common.Hash{}, false, err
	}

	s.hashes.Add(height, record.Hash)

	return record.Hash, true, nil
}

// Block returns the stored record of height, or nil if it was not processed.
func (s *SQLiteStore) Block(height uint64) (*BlockRecord, error) {
	var record BlockRecord
	err := meddler.QueryRow(s.db, &record, `SELECT * FROM block_hashes WHERE height = ?`, height)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query block %d: %w", height, err)
	}

	return &record, nil
}

// Blocks returns the stored records in [fromHeight, toHeight], ordered by height.
func (s *SQLiteStore) Blocks(fromHeight, toHeight uint64) ([]*BlockRecord, error) {
	var records []*BlockRecord
	const query = `SELECT * FROM block_hashes WHERE height >= ? AND height <= ? ORDER BY height ASC`
	if err := meddler.QueryAll(s.db, &records, query, fromHeight, toHeight); err != nil {
		return nil, fmt.Errorf("failed to query blocks %d-%d: %w", fromHeight, toHeight, err)
	}

	return records, nil
}

// Watermark returns the persisted progress.
func (s *SQLiteStore) Watermark() (pkgstore.Watermark, error) {
	state, err := loadSyncState(s.db)
	if err != nil {
		return pkgstore.Watermark{}, err
	}

	return pkgstore.Watermark{Height: state.LastProcessedHeight, Processed: state.Processed}, nil
}

// SetMMRRoot records the MMR root reached after appending height.
func (s *SQLiteStore) SetMMRRoot(height uint64, root common.Hash) error {
	unlock := s.maintenance.AcquireOperationLock()
	defer unlock()

	res, err := s.db.Exec(`UPDATE block_hashes SET mmr_root = ? WHERE height = ?`, root.Hex(), height)
	if err != nil {
		return fmt.Errorf("failed to set mmr root of %d: %w", height, err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to set mmr root of %d: %w", height, err)
	}
	if affected == 0 {
		return fmt.Errorf("failed to set mmr root of %d: block not stored", height)
	}

	return nil
}

// MMRRootAt returns the MMR root recorded for height.
func (s *SQLiteStore) MMRRootAt(height uint64) (common.Hash, bool, error) {
	record, err := s.Block(height)
	if err != nil || record == nil || record.MMRRoot == nil {
		return common.Hash{}, false, err
	}

	return *record.MMRRoot, true, nil
}

// GetEntity returns the current data of an entity.
func (s *SQLiteStore) GetEntity(entityType, id string) ([]byte, bool, error) {
	row, err := loadEntity(s.db, entityType, id)
	if err != nil || row == nil {
		return nil, false, err
	}

	return []byte(row.Data), true, nil
}

// CountEntities returns the number of stored entities of entityType.
func (s *SQLiteStore) CountEntities(entityType string) (uint64, error) {
	var count uint64
	err := s.db.QueryRow(`SELECT COUNT(*) FROM entities WHERE entity_type = ?`, entityType).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count %s entities: %w", entityType, err)
	}

	return count, nil
}

// GetMetadata returns the value stored under key.
func (s *SQLiteStore) GetMetadata(key string) (string, bool, error) {
	var row metadataRow
	err := meddler.QueryRow(s.db, &row, `SELECT * FROM metadata WHERE key = ?`, key)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to read metadata %s: %w", key, err)
	}

	return row.Value, true, nil
}

// SetMetadata stores value under key, replacing any previous value.
func (s *SQLiteStore) SetMetadata(key, value string) error {
	const query = `INSERT OR REPLACE INTO metadata (key, value) VALUES (?, ?)`
	if _, err := s.db.Exec(query, key, value); err != nil {
		return fmt.Errorf("failed to write metadata %s: %w", key, err)
	}

	return nil
}

// Close closes the database when the store opened it.
func (s *SQLiteStore) Close() error {
	if !s.owned {
		return nil
	}

	return s.db.Close()
}

func (s *SQLiteStore) rollback(tx *sql.Tx) {
	if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		s.log.Errorf("failed to rollback transaction: %v", err)
	}
}

func loadSyncState(q meddler.DB) (*syncStateRow, error) {
	var state syncStateRow
	if err := meddler.Load(q, "sync_state", &state, 1); err != nil {
		return nil, fmt.Errorf("failed to load watermark: %w", err)
	}

	return &state, nil
}

func loadEntity(q meddler.DB, entityType, id string) (*entityRow, error) {
	var row entityRow
	err := meddler.QueryRow(q, &row, `SELECT * FROM entities WHERE entity_type = ? AND id = ?`, entityType, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load entity %s/%s: %w", entityType, id, err)
	}

	return &row, nil
}

func upsertEntity(tx *sql.Tx, row *entityRow) error {
	const query = `INSERT OR REPLACE INTO entities (entity_type, id, data, height) VALUES (?, ?, ?, ?)`
	if _, err := tx.Exec(query, row.EntityType, row.ID, row.Data, row.Height); err != nil {
		return fmt.Errorf("failed to write entity %s/%s: %w", row.EntityType, row.ID, err)
	}

	return nil
}

func deleteEntity(tx *sql.Tx, entityType, id string) error {
	const query = `DELETE FROM entities WHERE entity_type = ? AND id = ?`
	if _, err := tx.Exec(query, entityType, id); err != nil {
		return fmt.Errorf("failed to delete entity %s/%s: %w", entityType, id, err)
	}

	return nil
}
