package migrations

import (
	"database/sql"
	_ "embed"

	"github.com/goran-ethernal/BlockIndexor/internal/db"
	"github.com/goran-ethernal/BlockIndexor/internal/logger"
	"github.com/goran-ethernal/BlockIndexor/pkg/config"
)

//go:embed 001_sync_state.sql
var mig001 string

//go:embed 002_block_hashes.sql
var mig002 string

//go:embed 003_entities.sql
var mig003 string

//go:embed 004_entity_history.sql
var mig004 string

//go:embed 005_metadata.sql
var mig005 string

//go:embed 006_mmr.sql
var mig006 string

// All returns the indexer schema migrations in order.
func All() []db.Migration {
	return []db.Migration{
		{ID: "001_sync_state.sql", SQL: mig001},
		{ID: "002_block_hashes.sql", SQL: mig002},
		{ID: "003_entities.sql", SQL: mig003},
		{ID: "004_entity_history.sql", SQL: mig004},
		{ID: "005_metadata.sql", SQL: mig005},
		{ID: "006_mmr.sql", SQL: mig006},
	}
}

// RunMigrations applies the indexer schema to the database described by cfg.
func RunMigrations(cfg config.DatabaseConfig) error {
	return db.RunMigrations(cfg, All())
}

// RunMigrationsDB applies the indexer schema to an open database.
func RunMigrationsDB(log *logger.Logger, database *sql.DB) error {
	return db.RunMigrationsDB(log, database, All())
}
