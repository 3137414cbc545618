package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/goran-ethernal/BlockIndexor/internal/common"
	"github.com/goran-ethernal/BlockIndexor/internal/logger"
	"github.com/goran-ethernal/BlockIndexor/pkg/config"
)

// Maintenance serializes database writes with periodic WAL checkpoints and
// VACUUM runs.
type Maintenance interface {
	Start(ctx context.Context) error
	// Stop ends background maintenance and waits for a running pass.
	Stop() error
	// AcquireOperationLock blocks while maintenance runs. The returned
	// function releases the lock.
	AcquireOperationLock() func()
	GetMetrics() MaintenanceMetrics
	RunMaintenance(ctx context.Context) error
}

var (
	_ Maintenance = (*NoOpMaintenance)(nil)
	_ Maintenance = (*MaintenanceCoordinator)(nil)
)

// NoOpMaintenance is used when no maintenance section is configured.
type NoOpMaintenance struct{}

func (*NoOpMaintenance) Start(context.Context) error          { return nil }
func (*NoOpMaintenance) Stop() error                          { return nil }
func (*NoOpMaintenance) RunMaintenance(context.Context) error { return nil }
func (*NoOpMaintenance) AcquireOperationLock() func()         { return func() {} }
func (*NoOpMaintenance) GetMetrics() MaintenanceMetrics       { return MaintenanceMetrics{} }

// MaintenanceCoordinator shares one database between the entity store and the
// MMR node tables and runs maintenance between their writes. Writers hold the
// read side of opLock; a maintenance run holds the write side.
type MaintenanceCoordinator struct {
	db     *sql.DB
	config config.MaintenanceConfig
	dbPath string
	log    *logger.Logger

	opLock sync.RWMutex

	maintenanceCtx    context.Context
	maintenanceCancel context.CancelFunc
	maintenanceWg     sync.WaitGroup

	metricsLock         sync.Mutex
	lastMaintenanceTime time.Time
	maintenanceCount    uint64
	lastMaintenanceErr  error
}

// NewMaintenanceCoordinator creates a new maintenance coordinator.
func NewMaintenanceCoordinator(
	dbPath string,
	db *sql.DB,
	cfg *config.MaintenanceConfig,
	log *logger.Logger,
) Maintenance {
	if cfg == nil {
		return &NoOpMaintenance{}
	}

	return newMaintenanceCoordinator(dbPath, db, *cfg, log)
}

func newMaintenanceCoordinator(
	dbPath string,
	db *sql.DB,
	cfg config.MaintenanceConfig,
	log *logger.Logger,
) *MaintenanceCoordinator {
	return &MaintenanceCoordinator{
		db:     db,
		config: cfg,
		dbPath: dbPath,
		log:    log.WithComponent(common.ComponentMaintenance),
	}
}

// Start begins background maintenance if enabled.
func (m *MaintenanceCoordinator) Start(ctx context.Context) error {
	if !m.config.Enabled {
		m.log.Infow("background maintenance disabled", "db", m.dbPath)
		return nil
	}

	m.maintenanceCtx, m.maintenanceCancel = context.WithCancel(ctx)

	if m.config.VacuumOnStartup {
		if err := m.RunMaintenance(m.maintenanceCtx); err != nil {
			m.log.Warnw("startup maintenance failed", "error", err)
		}
	}

	m.maintenanceWg.Add(1)
	go m.maintenanceWorker(m.config.CheckInterval.Duration)

	m.log.Infow("background maintenance started",
		"interval", m.config.CheckInterval.Duration,
		"checkpoint_mode", m.config.WALCheckpointMode,
	)

	return nil
}

// Stop stops background maintenance and waits for completion.
func (m *MaintenanceCoordinator) Stop() error {
	if m.maintenanceCancel == nil {
		return nil
	}

	m.maintenanceCancel()
	m.maintenanceWg.Wait()
	m.log.Infow("background maintenance stopped", "runs", m.GetMetrics().MaintenanceCount)

	return nil
}

func (m *MaintenanceCoordinator) maintenanceWorker(checkInterval time.Duration) {
	defer m.maintenanceWg.Done()

	ticker := time.NewTicker(checkInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.maintenanceCtx.Done():
			return

		case <-ticker.C:
			if err := m.RunMaintenance(m.maintenanceCtx); err != nil {
				m.log.Warnw("periodic maintenance failed", "error", err)
			}
		}
	}
}

// maintenanceStep is one operation of a maintenance run. A failed step is
// recorded and the run continues with the next one.
type maintenanceStep struct {
	name string
	run  func() error
}

func (m *MaintenanceCoordinator) steps() []maintenanceStep {
	return []maintenanceStep{
		{name: "wal_checkpoint", run: m.walCheckpoint},
		{name: "vacuum", run: m.vacuum},
		{name: "optimize", run: m.optimize},
	}
}

// RunMaintenance checkpoints the WAL, vacuums and refreshes the query planner
// statistics. It holds the operation lock exclusively, so commits and MMR
// writes wait until it is done.
func (m *MaintenanceCoordinator) RunMaintenance(ctx context.Context) error {
	start := time.Now().UTC()
	MaintenanceRunsInc()

	m.opLock.Lock()
	defer m.opLock.Unlock()

	if ctx.Err() != nil {
		return ctx.Err()
	}

	initialDBSize, err := DBTotalSize(m.dbPath)
	if err != nil {
		m.log.Warnw("failed to read db size", "error", err)
	}

	var errs []error
	for _, step := range m.steps() {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}

		if err := step.run(); err != nil {
			MaintenanceStepFailedInc(step.name)
			m.log.Warnw("maintenance step failed", "step", step.name, "error", err)
			errs = append(errs, fmt.Errorf("%s: %w", step.name, err))
		}
	}
	maintenanceErr := errors.Join(errs...)

	finalDBSize, err := DBTotalSize(m.dbPath)
	if err != nil {
		m.log.Warnw("failed to read db size", "error", err)
	}

	duration := time.Since(start)

	m.metricsLock.Lock()
	m.lastMaintenanceTime = time.Now().UTC()
	m.maintenanceCount++
	m.lastMaintenanceErr = maintenanceErr
	m.metricsLock.Unlock()

	MaintenanceDurationLog(duration)
	MaintenanceLastRunLog()
	DBSizeLog(finalDBSize)

	if maintenanceErr != nil {
		MaintenanceErrorInc()
		return maintenanceErr
	}

	MaintenanceSuccessInc()

	var reclaimed uint64
	if initialDBSize > finalDBSize {
		reclaimed = uint64(initialDBSize - finalDBSize)
		MaintenanceSpaceReclaimedLog(reclaimed)
	}

	m.log.Infow("maintenance completed",
		"duration", duration,
		"size_mb", common.BytesToMB(uint64(max(finalDBSize, 0))),
		"reclaimed_mb", common.BytesToMB(reclaimed),
	)

	return nil
}

func (m *MaintenanceCoordinator) walCheckpoint() error {
	isWAL, err := m.isWALMode()
	if err != nil {
		return fmt.Errorf("failed to check journal mode: %w", err)
	}

	if !isWAL {
		return nil
	}

	var busyCount, logFrames, checkpointedFrames int
	err = m.db.QueryRow(fmt.Sprintf("PRAGMA wal_checkpoint(%s)", m.config.WALCheckpointMode)).
		Scan(&busyCount, &logFrames, &checkpointedFrames)
	if err != nil {
		return fmt.Errorf("failed to execute WAL checkpoint: %w", err)
	}

	WALCheckpointInc(strings.ToLower(m.config.WALCheckpointMode))

	m.log.Debugw("wal checkpoint complete",
		"mode", m.config.WALCheckpointMode,
		"busy", busyCount,
		"log_frames", logFrames,
		"checkpointed", checkpointedFrames,
	)

	if busyCount > 0 {
		m.log.Warnw("wal checkpoint left busy pages", "busy", busyCount)
	}

	return nil
}

// vacuum reclaims pages freed by rollbacks and history pruning. It needs
// exclusive access, which the caller holds.
func (m *MaintenanceCoordinator) vacuum() error {
	if err := Vacuum(m.db); err != nil {
		return err
	}

	VacuumRunsInc()

	return nil
}

// optimize refreshes planner statistics for the entity and block tables.
func (m *MaintenanceCoordinator) optimize() error {
	if _, err := m.db.Exec("PRAGMA optimize"); err != nil {
		return fmt.Errorf("failed to optimize: %w", err)
	}

	return nil
}

func (m *MaintenanceCoordinator) isWALMode() (bool, error) {
	var mode string
	if err := m.db.QueryRow("PRAGMA journal_mode").Scan(&mode); err != nil {
		return false, err
	}
	return strings.EqualFold(mode, "wal"), nil
}

// AcquireOperationLock takes the shared side of the operation lock. Writers
// run concurrently with each other and wait only while maintenance runs.
func (m *MaintenanceCoordinator) AcquireOperationLock() func() {
	start := time.Now()
	m.opLock.RLock()
	OperationLockWaitLog(time.Since(start))

	return m.opLock.RUnlock
}

// GetMetrics returns current maintenance metrics.
func (m *MaintenanceCoordinator) GetMetrics() MaintenanceMetrics {
	m.metricsLock.Lock()
	defer m.metricsLock.Unlock()

	return MaintenanceMetrics{
		LastMaintenanceTime:  m.lastMaintenanceTime,
		MaintenanceCount:     m.maintenanceCount,
		LastMaintenanceError: m.lastMaintenanceErr,
	}
}

// MaintenanceMetrics provides visibility into maintenance operations.
type MaintenanceMetrics struct {
	LastMaintenanceTime  time.Time
	MaintenanceCount     uint64
	LastMaintenanceError error
}
