package config

import (
	"fmt"
	"net/url"
	"slices"
	"strings"
	"time"

	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/goran-ethernal/BlockIndexor/internal/common"
	"github.com/goran-ethernal/BlockIndexor/internal/logger"
	"github.com/goran-ethernal/BlockIndexor/pkg/types"
)

// Config represents the complete configuration for the BlockIndexor.
type Config struct {
	// Network contains the chain endpoints and head tracking configuration
	Network NetworkConfig `yaml:"network" json:"network" toml:"network"`

	// Fetcher contains the fetch worker pool configuration
	Fetcher FetcherConfig `yaml:"fetcher" json:"fetcher" toml:"fetcher"`

	// Dispatcher contains the block dispatcher configuration
	Dispatcher DispatcherConfig `yaml:"dispatcher" json:"dispatcher" toml:"dispatcher"`

	// Retry contains the retry configuration shared by fetching, handlers and commits
	Retry RetryConfig `yaml:"retry" json:"retry" toml:"retry"`

	// Reorg contains reorganization handling configuration
	Reorg ReorgConfig `yaml:"reorg" json:"reorg" toml:"reorg"`

	// DB contains the entity store database configuration
	DB DatabaseConfig `yaml:"db" json:"db" toml:"db"`

	// MMR contains the proof-of-index configuration
	MMR MMRConfig `yaml:"mmr" json:"mmr" toml:"mmr"`

	// Maintenance contains optional database maintenance settings
	Maintenance *MaintenanceConfig `yaml:"maintenance,omitempty" json:"maintenance,omitempty" toml:"maintenance,omitempty"`

	// DataSources lists what to index and with which handler
	DataSources []DataSourceConfig `yaml:"data_sources" json:"data_sources" toml:"data_sources"`

	// Logging contains logging configuration
	Logging *LoggingConfig `yaml:"logging,omitempty" json:"logging,omitempty" toml:"logging,omitempty"`

	// Metrics contains Prometheus metrics configuration
	Metrics *MetricsConfig `yaml:"metrics,omitempty" json:"metrics,omitempty" toml:"metrics,omitempty"`
}

// NetworkConfig configures the connection pool.
type NetworkConfig struct {
	// Endpoints is the list of RPC endpoints to balance requests over
	Endpoints []EndpointConfig `yaml:"endpoints" json:"endpoints" toml:"endpoints"`

	// Finality specifies the head used as fetch target: "finalized", "safe", or "latest"
	Finality string `yaml:"finality" json:"finality" toml:"finality"`

	// FailureThreshold is the number of consecutive failures after which an endpoint is unhealthy
	FailureThreshold int `yaml:"failure_threshold" json:"failure_threshold" toml:"failure_threshold"`

	// ProbeInterval is how often unhealthy endpoints are probed for recovery
	ProbeInterval common.Duration `yaml:"probe_interval" json:"probe_interval" toml:"probe_interval"`

	// RequestTimeout bounds a single RPC call
	RequestTimeout common.Duration `yaml:"request_timeout" json:"request_timeout" toml:"request_timeout"`
}

// ApplyDefaults sets default values for optional network configuration fields.
func (n *NetworkConfig) ApplyDefaults() {
	if n.Finality == "" {
		n.Finality = types.FinalityFinalized.String()
	}
	if n.FailureThreshold == 0 {
		n.FailureThreshold = 3
	}
	if n.ProbeInterval.Duration == 0 {
		n.ProbeInterval = common.NewDuration(10 * time.Second) //nolint:mnd
	}
	if n.RequestTimeout.Duration == 0 {
		n.RequestTimeout = common.NewDuration(30 * time.Second) //nolint:mnd
	}
	for i := range n.Endpoints {
		if n.Endpoints[i].Name == "" {
			n.Endpoints[i].Name = fmt.Sprintf("endpoint-%d", i)
		}
	}
}

// Validate checks if the network configuration is valid.
func (n *NetworkConfig) Validate() error {
	if len(n.Endpoints) == 0 {
		return fmt.Errorf("at least one endpoint must be configured")
	}

	if _, err := types.ParseBlockFinality(n.Finality); err != nil {
		return fmt.Errorf("finality: %w", err)
	}

	if n.FailureThreshold < 1 {
		return fmt.Errorf("failure_threshold must be at least 1")
	}

	names := make(map[string]struct{}, len(n.Endpoints))
	for i, e := range n.Endpoints {
		if e.URL == "" {
			return fmt.Errorf("endpoints[%d]: url is required", i)
		}
		if _, err := url.Parse(e.URL); err != nil {
			return fmt.Errorf("endpoints[%d]: invalid url: %w", i, err)
		}
		if e.RateLimit < 0 {
			return fmt.Errorf("endpoints[%d]: rate_limit must not be negative", i)
		}
		if _, dup := names[e.Name]; dup {
			return fmt.Errorf("endpoints[%d]: duplicate endpoint name '%s'", i, e.Name)
		}
		names[e.Name] = struct{}{}
	}

	return nil
}

// EndpointConfig describes a single RPC endpoint.
type EndpointConfig struct {
	// Name identifies the endpoint in logs and metrics
	Name string `yaml:"name" json:"name" toml:"name"`

	// URL is the JSON-RPC endpoint (http, https, ws or wss)
	URL string `yaml:"url" json:"url" toml:"url"`

	// RateLimit is the maximum requests per second sent to this endpoint (0 = unlimited)
	RateLimit int `yaml:"rate_limit" json:"rate_limit" toml:"rate_limit"`
}

// FetcherConfig configures the fetch worker pool.
type FetcherConfig struct {
	// Workers is the number of concurrent fetch workers
	Workers int `yaml:"workers" json:"workers" toml:"workers"`

	// QueueCapacity bounds the number of fetched but unprocessed blocks
	QueueCapacity int `yaml:"queue_capacity" json:"queue_capacity" toml:"queue_capacity"`

	// HeadPollInterval is how often the chain head is polled once caught up
	HeadPollInterval common.Duration `yaml:"head_poll_interval" json:"head_poll_interval" toml:"head_poll_interval"`

	// ShutdownGrace is how long in-flight fetches may run after shutdown is requested
	ShutdownGrace common.Duration `yaml:"shutdown_grace" json:"shutdown_grace" toml:"shutdown_grace"`
}

// ApplyDefaults sets default values for optional fetcher configuration fields.
func (f *FetcherConfig) ApplyDefaults() {
	if f.Workers == 0 {
		f.Workers = 4
	}
	if f.QueueCapacity == 0 {
		f.QueueCapacity = 64
	}
	if f.HeadPollInterval.Duration == 0 {
		f.HeadPollInterval = common.NewDuration(2 * time.Second) //nolint:mnd
	}
	if f.ShutdownGrace.Duration == 0 {
		f.ShutdownGrace = common.NewDuration(5 * time.Second) //nolint:mnd
	}
}

// Validate checks if the fetcher configuration is valid.
func (f *FetcherConfig) Validate() error {
	if f.Workers < 1 {
		return fmt.Errorf("workers must be at least 1")
	}
	if f.QueueCapacity < 1 {
		return fmt.Errorf("queue_capacity must be at least 1")
	}

	return nil
}

// DispatcherConfig configures the block dispatcher.
type DispatcherConfig struct {
	// MaxBatchSize is the maximum number of blocks drained from the queue at once
	MaxBatchSize int `yaml:"max_batch_size" json:"max_batch_size" toml:"max_batch_size"`

	// StartParentHash, when set, is the expected parent hash of the first indexed block
	StartParentHash string `yaml:"start_parent_hash,omitempty" json:"start_parent_hash,omitempty" toml:"start_parent_hash,omitempty"` //nolint:lll
}

// ApplyDefaults sets default values for optional dispatcher configuration fields.
func (d *DispatcherConfig) ApplyDefaults() {
	if d.MaxBatchSize == 0 {
		d.MaxBatchSize = 16
	}
}

// Validate checks if the dispatcher configuration is valid.
func (d *DispatcherConfig) Validate() error {
	if d.MaxBatchSize < 1 {
		return fmt.Errorf("max_batch_size must be at least 1")
	}

	if d.StartParentHash != "" {
		if _, err := d.ParentHash(); err != nil {
			return err
		}
	}

	return nil
}

// ParentHash parses StartParentHash. It returns nil when none is configured.
func (d *DispatcherConfig) ParentHash() (*ethcommon.Hash, error) {
	if d.StartParentHash == "" {
		return nil, nil
	}

	raw := strings.TrimPrefix(d.StartParentHash, "0x")
	if len(raw) != 2*ethcommon.HashLength {
		return nil, fmt.Errorf("start_parent_hash: expected %d hex characters, got %d", 2*ethcommon.HashLength, len(raw))
	}

	hash := ethcommon.HexToHash(d.StartParentHash)

	return &hash, nil
}

// RetryConfig represents retry configuration with exponential backoff.
type RetryConfig struct {
	// MaxAttempts is the maximum number of attempts (including initial request)
	MaxAttempts int `yaml:"max_attempts" json:"max_attempts" toml:"max_attempts"`

	// HandlerMaxAttempts is the maximum number of attempts for a failing handler
	HandlerMaxAttempts int `yaml:"handler_max_attempts" json:"handler_max_attempts" toml:"handler_max_attempts"`

	// InitialBackoff is the initial backoff duration before first retry
	InitialBackoff common.Duration `yaml:"initial_backoff" json:"initial_backoff" toml:"initial_backoff"`

	// MaxBackoff is the maximum backoff duration
	MaxBackoff common.Duration `yaml:"max_backoff" json:"max_backoff" toml:"max_backoff"`

	// BackoffMultiplier is the multiplier for exponential backoff
	BackoffMultiplier float64 `yaml:"backoff_multiplier" json:"backoff_multiplier" toml:"backoff_multiplier"`
}

// ApplyDefaults sets default values for retry configuration.
func (r *RetryConfig) ApplyDefaults() {
	if r.MaxAttempts == 0 {
		r.MaxAttempts = 5
	}
	if r.HandlerMaxAttempts == 0 {
		r.HandlerMaxAttempts = 3
	}
	if r.InitialBackoff.Duration == 0 {
		r.InitialBackoff = common.NewDuration(1 * time.Second)
	}
	if r.MaxBackoff.Duration == 0 {
		r.MaxBackoff = common.NewDuration(30 * time.Second) //nolint:mnd
	}
	if r.BackoffMultiplier == 0 {
		r.BackoffMultiplier = 2.0
	}
}

// Validate checks if the retry configuration is valid.
func (r *RetryConfig) Validate() error {
	if r.MaxAttempts < 1 || r.HandlerMaxAttempts < 1 {
		return fmt.Errorf("max_attempts and handler_max_attempts must be at least 1")
	}
	if r.BackoffMultiplier < 1 {
		return fmt.Errorf("backoff_multiplier must be at least 1")
	}
	if r.MaxBackoff.Duration < r.InitialBackoff.Duration {
		return fmt.Errorf("max_backoff must not be lower than initial_backoff")
	}

	return nil
}

// ReorgConfig configures reorganization handling.
type ReorgConfig struct {
	// MaxDepth is the deepest rollback the indexer performs before giving up
	MaxDepth uint64 `yaml:"max_depth" json:"max_depth" toml:"max_depth"`
}

// ApplyDefaults sets default values for reorg configuration.
func (r *ReorgConfig) ApplyDefaults() {
	if r.MaxDepth == 0 {
		r.MaxDepth = 64
	}
}

// DatabaseConfig represents database configuration.
type DatabaseConfig struct {
	// Path is the file path to the SQLite database
	Path string `yaml:"path" json:"path" toml:"path"`

	// JournalMode sets the SQLite journal mode (e.g., "WAL", "DELETE")
	// WAL mode is recommended for better concurrency
	JournalMode string `yaml:"journal_mode" json:"journal_mode" toml:"journal_mode"`

	// Synchronous sets the synchronization level ("FULL", "NORMAL", "OFF")
	Synchronous string `yaml:"synchronous" json:"synchronous" toml:"synchronous"`

	// BusyTimeout is the time in milliseconds to wait when the database is locked
	BusyTimeout int `yaml:"busy_timeout" json:"busy_timeout" toml:"busy_timeout"`

	// CacheSize is the size of the page cache (negative = KB, positive = pages)
	CacheSize int `yaml:"cache_size" json:"cache_size" toml:"cache_size"`

	// MaxOpenConnections is the maximum number of open database connections
	MaxOpenConnections int `yaml:"max_open_connections" json:"max_open_connections" toml:"max_open_connections"`

	// MaxIdleConnections is the maximum number of idle connections in the pool
	MaxIdleConnections int `yaml:"max_idle_connections" json:"max_idle_connections" toml:"max_idle_connections"`

	// EnableForeignKeys enables foreign key constraint enforcement
	EnableForeignKeys bool `yaml:"enable_foreign_keys" json:"enable_foreign_keys" toml:"enable_foreign_keys"`

	// HashCacheSize is the number of recent block hashes kept in memory
	HashCacheSize int `yaml:"hash_cache_size" json:"hash_cache_size" toml:"hash_cache_size"`
}

// ApplyDefaults sets default values for optional database configuration fields.
func (d *DatabaseConfig) ApplyDefaults() {
	if d.JournalMode == "" {
		d.JournalMode = "WAL"
	}
	if d.Synchronous == "" {
		d.Synchronous = "NORMAL"
	}
	if d.BusyTimeout == 0 {
		d.BusyTimeout = 5000
	}
	if d.CacheSize == 0 {
		d.CacheSize = 10000
	}
	if d.MaxOpenConnections == 0 {
		d.MaxOpenConnections = 25
	}
	if d.MaxIdleConnections == 0 {
		d.MaxIdleConnections = 5
	}
	if d.HashCacheSize == 0 {
		d.HashCacheSize = 1024
	}
}

// Validate checks if the database configuration is valid.
func (d *DatabaseConfig) Validate() error {
	if d.Path == "" {
		return fmt.Errorf("path is required")
	}

	if d.JournalMode != "" &&
		!slices.Contains([]string{"WAL", "DELETE", "TRUNCATE", "PERSIST", "MEMORY"}, d.JournalMode) {
		return fmt.Errorf("journal_mode must be one of: WAL, DELETE, TRUNCATE, PERSIST, MEMORY")
	}

	if d.Synchronous != "" && !slices.Contains([]string{"FULL", "NORMAL", "OFF"}, d.Synchronous) {
		return fmt.Errorf("synchronous must be one of: FULL, NORMAL, OFF")
	}

	return nil
}

// MMR storage backends.
const (
	MMRBackendSQLite = "sqlite"
	MMRBackendFile   = "file"
	MMRBackendMemory = "memory"
)

// MMRConfig configures the proof-of-index Merkle Mountain Range.
type MMRConfig struct {
	// Backend selects node storage: "sqlite" (shares the entity database), "file" or "memory"
	Backend string `yaml:"backend" json:"backend" toml:"backend"`

	// Path is the node file used by the "file" backend
	Path string `yaml:"path,omitempty" json:"path,omitempty" toml:"path,omitempty"`

	// VerifyOnStartup recomputes every internal node before indexing resumes
	VerifyOnStartup bool `yaml:"verify_on_startup" json:"verify_on_startup" toml:"verify_on_startup"`
}

// ApplyDefaults sets default values for MMR configuration.
func (m *MMRConfig) ApplyDefaults() {
	if m.Backend == "" {
		m.Backend = MMRBackendSQLite
	}
}

// Validate checks if the MMR configuration is valid.
func (m *MMRConfig) Validate() error {
	switch m.Backend {
	case MMRBackendSQLite, MMRBackendMemory:
		return nil
	case MMRBackendFile:
		if m.Path == "" {
			return fmt.Errorf("path is required for the file backend")
		}
		return nil
	default:
		return fmt.Errorf("backend must be one of: sqlite, file, memory")
	}
}

// MaintenanceConfig configures database maintenance behavior.
type MaintenanceConfig struct {
	// Enabled controls whether background maintenance runs
	Enabled bool `yaml:"enabled" json:"enabled" toml:"enabled"`

	// CheckInterval is how often to run maintenance (e.g., "30m", "1h")
	CheckInterval common.Duration `yaml:"check_interval" json:"check_interval" toml:"check_interval"`

	// VacuumOnStartup runs maintenance immediately on startup
	VacuumOnStartup bool `yaml:"vacuum_on_startup" json:"vacuum_on_startup" toml:"vacuum_on_startup"`

	// WALCheckpointMode controls the WAL checkpoint aggressiveness
	// Options: PASSIVE, FULL, RESTART, TRUNCATE
	WALCheckpointMode string `yaml:"wal_checkpoint_mode" json:"wal_checkpoint_mode" toml:"wal_checkpoint_mode"`
}

// ApplyDefaults sets default values for optional maintenance configuration fields.
func (m *MaintenanceConfig) ApplyDefaults() {
	if m.CheckInterval.Duration == 0 {
		m.CheckInterval = common.NewDuration(30 * time.Minute) //nolint:mnd
	}
	if m.WALCheckpointMode == "" {
		m.WALCheckpointMode = "TRUNCATE"
	}
}

// Validate checks if the maintenance configuration is valid.
func (m *MaintenanceConfig) Validate() error {
	if m.WALCheckpointMode != "" {
		validModes := []string{"PASSIVE", "FULL", "RESTART", "TRUNCATE"}
		if !slices.Contains(validModes, m.WALCheckpointMode) {
			return fmt.Errorf("maintenance.wal_checkpoint_mode: must be one of: PASSIVE, FULL, RESTART, TRUNCATE")
		}
	}

	return nil
}

// Data source kinds.
const (
	KindBlock       = "block"
	KindTransaction = "transaction"
	KindLog         = "log"
)

// DataSourceConfig binds a registered handler to a block range.
type DataSourceConfig struct {
	// Name is a unique identifier for this data source, used as the handler name
	Name string `yaml:"name" json:"name" toml:"name"`

	// Kind is what the handler receives: "block", "transaction" or "log"
	Kind string `yaml:"kind" json:"kind" toml:"kind"`

	// Handler is the registered handler type to instantiate
	Handler string `yaml:"handler" json:"handler" toml:"handler"`

	// StartBlock is the first height this data source applies to
	StartBlock uint64 `yaml:"start_block" json:"start_block" toml:"start_block"`

	// EndBlock is the last height this data source applies to (0 = unbounded)
	EndBlock uint64 `yaml:"end_block,omitempty" json:"end_block,omitempty" toml:"end_block,omitempty"`

	// Addresses filters transactions (by recipient) and logs (by emitter)
	Addresses []string `yaml:"addresses,omitempty" json:"addresses,omitempty" toml:"addresses,omitempty"`

	// Events filters logs by event signature, e.g. "Transfer(address,address,uint256)"
	Events []string `yaml:"events,omitempty" json:"events,omitempty" toml:"events,omitempty"`
}

// Validate checks if the data source configuration is valid.
func (d *DataSourceConfig) Validate() error {
	if d.Name == "" {
		return fmt.Errorf("name is required")
	}

	if !slices.Contains([]string{KindBlock, KindTransaction, KindLog}, d.Kind) {
		return fmt.Errorf("kind must be one of: block, transaction, log")
	}

	if d.Handler == "" {
		return fmt.Errorf("handler is required")
	}

	if d.EndBlock != 0 && d.EndBlock < d.StartBlock {
		return fmt.Errorf("end_block %d is lower than start_block %d", d.EndBlock, d.StartBlock)
	}

	for _, addr := range d.Addresses {
		if !ethcommon.IsHexAddress(addr) {
			return fmt.Errorf("invalid address '%s'", addr)
		}
	}

	if d.Kind != KindLog && len(d.Events) > 0 {
		return fmt.Errorf("events are only supported for the log kind")
	}

	return nil
}

// LoggingConfig configures logging behavior with per-component log levels.
type LoggingConfig struct {
	// DefaultLevel is the default log level for all components
	// Options: "debug", "info", "warn", "error"
	DefaultLevel string `yaml:"default_level" json:"default_level" toml:"default_level"`

	// Development enables development mode (stack traces, console encoder)
	Development bool `yaml:"development" json:"development" toml:"development"`

	// ComponentLevels sets log levels for specific components
	// Available components:
	//   - indexer: Lifecycle orchestration
	//   - fetcher: Fetch worker pool
	//   - dispatcher: Block dispatch state machine
	//   - connection-pool: RPC endpoint selection and health
	//   - reorg-controller: Reorganization rollback
	//   - entity-store: Entity storage layer
	//   - mmr: Proof-of-index maintenance
	//   - maintenance: Database maintenance
	//   - retry: Retry manager
	ComponentLevels map[string]string `yaml:"component_levels,omitempty" json:"component_levels,omitempty" toml:"component_levels,omitempty"` //nolint:lll
}

// ApplyDefaults sets default values for optional logging configuration fields.
func (l *LoggingConfig) ApplyDefaults() {
	if l.DefaultLevel == "" {
		l.DefaultLevel = "info"
	}
	if l.ComponentLevels == nil {
		l.ComponentLevels = make(map[string]string)
	}
}

// Validate checks if the logging configuration is valid.
func (l *LoggingConfig) Validate() error {
	if l.DefaultLevel != "" {
		if _, valid := logger.ValidLogLevels[common.ToLowerWithTrim(l.DefaultLevel)]; !valid {
			return fmt.Errorf("logging.default_level: must be one of: debug, info, warn, error")
		}
	}

	for component, level := range l.ComponentLevels {
		if _, validComponent := common.AllComponents[common.ToLowerWithTrim(component)]; !validComponent {
			return fmt.Errorf("logging.component_levels: unknown component '%s'", component)
		}

		if _, valid := logger.ValidLogLevels[common.ToLowerWithTrim(level)]; !valid {
			return fmt.Errorf("logging.component_levels[%s]: must be one of: debug, info, warn, error", component)
		}
	}

	return nil
}

// GetComponentLevel returns the log level for a specific component.
// Falls back to DefaultLevel if no component-specific level is set.
func (l *LoggingConfig) GetComponentLevel(component string) string {
	if level, ok := l.ComponentLevels[component]; ok {
		return common.ToLowerWithTrim(level)
	}
	return common.ToLowerWithTrim(l.DefaultLevel)
}

// GetDefaultLevel returns the default log level.
func (l *LoggingConfig) GetDefaultLevel() string {
	return common.ToLowerWithTrim(l.DefaultLevel)
}

// IsDevelopment returns whether development mode is enabled.
func (l *LoggingConfig) IsDevelopment() bool {
	return l.Development
}

// MetricsConfig configures Prometheus metrics exposition.
type MetricsConfig struct {
	// Enabled controls whether metrics collection and HTTP endpoint are active
	Enabled bool `yaml:"enabled" json:"enabled" toml:"enabled"`

	// ListenAddress is the address to bind the metrics HTTP server to
	// Format: "host:port" or ":port"
	ListenAddress string `yaml:"listen_address" json:"listen_address" toml:"listen_address"`

	// Path is the HTTP path where metrics are exposed
	Path string `yaml:"path" json:"path" toml:"path"`
}

// ApplyDefaults sets default values for optional metrics configuration fields.
func (m *MetricsConfig) ApplyDefaults() {
	if m.ListenAddress == "" {
		m.ListenAddress = ":9090"
	}
	if m.Path == "" {
		m.Path = "/metrics"
	}
}

// Validate checks if the metrics configuration is valid.
func (m *MetricsConfig) Validate() error {
	if m.Enabled {
		if m.ListenAddress == "" {
			return fmt.Errorf("listen_address is required when metrics are enabled")
		}
		if m.Path == "" {
			return fmt.Errorf("path is required when metrics are enabled")
		}
		if m.Path[0] != '/' {
			return fmt.Errorf("path must start with '/'")
		}
	}
	return nil
}

// StartHeight is the first height indexed: the lowest start block of all data sources.
func (c *Config) StartHeight() uint64 {
	if len(c.DataSources) == 0 {
		return 0
	}

	start := c.DataSources[0].StartBlock
	for _, ds := range c.DataSources[1:] {
		start = min(start, ds.StartBlock)
	}

	return start
}

// EndHeight is the last height indexed. It is bounded only when every data
// source has an end block; ok is false otherwise.
func (c *Config) EndHeight() (end uint64, ok bool) {
	if len(c.DataSources) == 0 {
		return 0, false
	}

	for _, ds := range c.DataSources {
		if ds.EndBlock == 0 {
			return 0, false
		}
		end = max(end, ds.EndBlock)
	}

	return end, true
}

// BlockFinality returns the parsed network finality, finalized when unset or
// invalid. Validate reports invalid values.
func (c *Config) BlockFinality() types.BlockFinality {
	f, err := types.ParseBlockFinality(c.Network.Finality)
	if err != nil {
		return types.FinalityFinalized
	}

	return f
}

// ApplyDefaults sets default values for optional configuration fields.
func (c *Config) ApplyDefaults() {
	c.Network.ApplyDefaults()
	c.Fetcher.ApplyDefaults()
	c.Dispatcher.ApplyDefaults()
	c.Retry.ApplyDefaults()
	c.Reorg.ApplyDefaults()
	c.DB.ApplyDefaults()
	c.MMR.ApplyDefaults()

	if c.Maintenance != nil {
		c.Maintenance.ApplyDefaults()
	}

	if c.Logging != nil {
		c.Logging.ApplyDefaults()
	}

	if c.Metrics != nil {
		c.Metrics.ApplyDefaults()
	}
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if err := c.Network.Validate(); err != nil {
		return fmt.Errorf("network: %w", err)
	}

	if err := c.Fetcher.Validate(); err != nil {
		return fmt.Errorf("fetcher: %w", err)
	}

	if err := c.Dispatcher.Validate(); err != nil {
		return fmt.Errorf("dispatcher: %w", err)
	}

	if err := c.Retry.Validate(); err != nil {
		return fmt.Errorf("retry: %w", err)
	}

	if err := c.DB.Validate(); err != nil {
		return fmt.Errorf("db: %w", err)
	}

	if err := c.MMR.Validate(); err != nil {
		return fmt.Errorf("mmr: %w", err)
	}

	if c.Maintenance != nil {
		if err := c.Maintenance.Validate(); err != nil {
			return err
		}
	}

	if c.Logging != nil {
		if err := c.Logging.Validate(); err != nil {
			return err
		}
	}

	if c.Metrics != nil {
		if err := c.Metrics.Validate(); err != nil {
			return fmt.Errorf("metrics: %w", err)
		}
	}

	if len(c.DataSources) == 0 {
		return fmt.Errorf("at least one data source must be configured")
	}

	names := make(map[string]bool)
	for i, ds := range c.DataSources {
		if err := ds.Validate(); err != nil {
			return fmt.Errorf("data_sources[%d]: %w", i, err)
		}

		if names[ds.Name] {
			return fmt.Errorf("data_sources[%d]: duplicate data source name '%s'", i, ds.Name)
		}
		names[ds.Name] = true
	}

	return nil
}
