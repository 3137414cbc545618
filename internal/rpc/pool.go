package rpc

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	internalcommon "github.com/goran-ethernal/BlockIndexor/internal/common"
	"github.com/goran-ethernal/BlockIndexor/internal/logger"
	"github.com/goran-ethernal/BlockIndexor/pkg/chain"
	"github.com/goran-ethernal/BlockIndexor/pkg/config"
	"github.com/goran-ethernal/BlockIndexor/pkg/types"
	"go.uber.org/ratelimit"
)

// ErrNoHealthyConnection is returned when every endpoint is excluded.
var ErrNoHealthyConnection = errors.New("no healthy connection available")

// Compile-time check to ensure Pool implements chain.Client interface.
var _ chain.Client = (*Pool)(nil)

// Endpoint is a named chain client to be managed by a Pool.
type Endpoint struct {
	Name   string
	Client chain.Client
	// RateLimit is the maximum requests per second, 0 for unlimited.
	RateLimit int
}

// ConnectionState is a snapshot of an endpoint's health.
type ConnectionState struct {
	Endpoint            string
	Healthy             bool
	LastLatency         time.Duration
	ConsecutiveFailures int
}

// Connection is an endpoint handed out by Pool.Get.
type Connection struct {
	name    string
	client  chain.Client
	limiter ratelimit.Limiter

	mu    sync.Mutex
	state ConnectionState
}

// Name returns the endpoint name.
func (c *Connection) Name() string {
	return c.name
}

// Client returns the endpoint client. Calls made directly on it bypass the
// rate limiter and health accounting of the pool.
func (c *Connection) Client() chain.Client {
	return c.client
}

func (c *Connection) snapshot() ConnectionState {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.state
}

// Pool balances requests over several endpoints, preferring low latency ones
// and excluding endpoints that keep failing until a health probe restores them.
type Pool struct {
	connections []*Connection
	byName      map[string]*Connection

	failureThreshold int
	probeInterval    time.Duration
	requestTimeout   time.Duration

	// randFloat returns a number in [0, 1), replaced in tests
	randFloat func() float64

	log *logger.Logger

	startOnce sync.Once
	stopOnce  sync.Once
	stopCh    chan struct{}
	wg        sync.WaitGroup
}

// NewPool creates a pool over already connected endpoints.
func NewPool(endpoints []Endpoint, cfg config.NetworkConfig, log *logger.Logger) (*Pool, error) {
	if len(endpoints) == 0 {
		return nil, errors.New("at least one endpoint is required")
	}

	cfg.ApplyDefaults()

	p := &Pool{
		byName:           make(map[string]*Connection, len(endpoints)),
		failureThreshold: cfg.FailureThreshold,
		probeInterval:    cfg.ProbeInterval.Duration,
		requestTimeout:   cfg.RequestTimeout.Duration,
		randFloat:        rand.Float64,
		log:              log.WithComponent(internalcommon.ComponentConnectionPool),
		stopCh:           make(chan struct{}),
	}

	for _, e := range endpoints {
		if _, dup := p.byName[e.Name]; dup {
			return nil, fmt.Errorf("duplicate endpoint name '%s'", e.Name)
		}

		limiter := ratelimit.NewUnlimited()
		if e.RateLimit > 0 {
			limiter = ratelimit.New(e.RateLimit)
		}

		conn := &Connection{
			name:    e.Name,
			client:  e.Client,
			limiter: limiter,
			state:   ConnectionState{Endpoint: e.Name, Healthy: true},
		}
		p.connections = append(p.connections, conn)
		p.byName[e.Name] = conn
		EndpointHealthLog(e.Name, true)
	}

	return p, nil
}

// Dial connects to every configured endpoint and builds a pool over them.
func Dial(ctx context.Context, cfg config.NetworkConfig, log *logger.Logger) (*Pool, error) {
	cfg.ApplyDefaults()

	endpoints := make([]Endpoint, 0, len(cfg.Endpoints))
	for _, e := range cfg.Endpoints {
		client, err := NewClient(ctx, e.URL)
		if err != nil {
			for _, opened := range endpoints {
				opened.Client.Close()
			}
			return nil, fmt.Errorf("failed to connect to endpoint %s: %w", e.Name, err)
		}

		endpoints = append(endpoints, Endpoint{Name: e.Name, Client: client, RateLimit: e.RateLimit})
	}

	return NewPool(endpoints, cfg, log)
}

// Start launches the background health probe. It stops when ctx is done or Close is called.
func (p *Pool) Start(ctx context.Context) {
	p.startOnce.Do(func() {
		p.wg.Add(1)
		go p.probeLoop(ctx)
	})
}

// Get picks a healthy endpoint. Each healthy endpoint is chosen with
// probability proportional to 1/(latency+1ms).
func (p *Pool) Get() (*Connection, error) {
	var (
		candidates []*Connection
		weights    []float64
		total      float64
	)

	for _, conn := range p.connections {
		state := conn.snapshot()
		if !state.Healthy {
			continue
		}

		weight := 1 / (state.LastLatency + time.Millisecond).Seconds()
		candidates = append(candidates, conn)
		weights = append(weights, weight)
		total += weight
	}

	if len(candidates) == 0 {
		return nil, ErrNoHealthyConnection
	}

	pick := p.randFloat() * total
	for i, w := range weights {
		if pick < w {
			return candidates[i], nil
		}
		pick -= w
	}

	return candidates[len(candidates)-1], nil
}

// ReportSuccess records a successful call and restores the endpoint if it was excluded.
func (p *Pool) ReportSuccess(name string, latency time.Duration) {
	conn, ok := p.byName[name]
	if !ok {
		return
	}

	conn.mu.Lock()
	recovered := !conn.state.Healthy
	conn.state.Healthy = true
	conn.state.ConsecutiveFailures = 0
	conn.state.LastLatency = latency
	conn.mu.Unlock()

	EndpointLatencyLog(name, latency)
	if recovered {
		EndpointHealthLog(name, true)
		p.log.Infow("endpoint restored", "endpoint", name, "latency", latency)
	}
}

// ReportFailure records a failed call. After failure_threshold consecutive
// failures the endpoint is excluded from selection.
func (p *Pool) ReportFailure(name string, err error) {
	conn, ok := p.byName[name]
	if !ok {
		return
	}

	conn.mu.Lock()
	conn.state.ConsecutiveFailures++
	failures := conn.state.ConsecutiveFailures
	excluded := conn.state.Healthy && failures >= p.failureThreshold
	if excluded {
		conn.state.Healthy = false
	}
	conn.mu.Unlock()

	if excluded {
		EndpointHealthLog(name, false)
		p.log.Warnw("endpoint marked unhealthy",
			"endpoint", name,
			"consecutive_failures", failures,
			"error", err,
		)
		return
	}

	p.log.Debugw("endpoint request failed", "endpoint", name, "consecutive_failures", failures, "error", err)
}

// States returns a snapshot of every endpoint.
func (p *Pool) States() []ConnectionState {
	states := make([]ConnectionState, 0, len(p.connections))
	for _, conn := range p.connections {
		states = append(states, conn.snapshot())
	}

	return states
}

// BlockByHeight retrieves the block at height from a healthy endpoint.
func (p *Pool) BlockByHeight(ctx context.Context, height uint64) (*types.RawBlock, error) {
	return call(ctx, p, "eth_getBlockByNumber", func(ctx context.Context, c chain.Client) (*types.RawBlock, error) {
		return c.BlockByHeight(ctx, height)
	})
}

// HashAt retrieves the canonical hash at height from a healthy endpoint.
func (p *Pool) HashAt(ctx context.Context, height uint64) (common.Hash, error) {
	return call(ctx, p, "eth_getHeaderByNumber", func(ctx context.Context, c chain.Client) (common.Hash, error) {
		return c.HashAt(ctx, height)
	})
}

// LatestHeight returns the head height at finality from a healthy endpoint.
func (p *Pool) LatestHeight(ctx context.Context, finality types.BlockFinality) (uint64, error) {
	return call(ctx, p, "eth_blockNumber", func(ctx context.Context, c chain.Client) (uint64, error) {
		return c.LatestHeight(ctx, finality)
	})
}

// LogsByHash retrieves the logs of a block from a healthy endpoint.
func (p *Pool) LogsByHash(
	ctx context.Context, blockHash common.Hash, addresses []common.Address,
) ([]gethtypes.Log, error) {
	return call(ctx, p, "eth_getLogs", func(ctx context.Context, c chain.Client) ([]gethtypes.Log, error) {
		return c.LogsByHash(ctx, blockHash, addresses)
	})
}

// ChainID returns the chain identifier from a healthy endpoint.
func (p *Pool) ChainID(ctx context.Context) (*big.Int, error) {
	return call(ctx, p, "eth_chainId", func(ctx context.Context, c chain.Client) (*big.Int, error) {
		return c.ChainID(ctx)
	})
}

// Close stops the health probe and closes every endpoint.
func (p *Pool) Close() {
	p.stopOnce.Do(func() {
		close(p.stopCh)
		p.wg.Wait()

		for _, conn := range p.connections {
			conn.client.Close()
		}
	})
}

// call runs fn on a selected endpoint, accounts the outcome and marks
// retryable failures as *types.TransientFetchError.
func call[T any](ctx context.Context, p *Pool, method string, fn func(context.Context, chain.Client) (T, error)) (T, error) {
	var zero T

	conn, err := p.Get()
	if err != nil {
		return zero, &types.TransientFetchError{Err: err}
	}

	conn.limiter.Take()

	callCtx := ctx
	if p.requestTimeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, p.requestTimeout)
		defer cancel()
	}

	RPCMethodInc(method)
	start := time.Now()
	result, err := fn(callCtx, conn.client)
	duration := time.Since(start)
	RPCMethodDuration(method, duration)

	if err != nil {
		// the caller gave up, the endpoint is not to blame
		if ctx.Err() != nil {
			return zero, err
		}

		RPCMethodError(method, errorType(err))
		p.ReportFailure(conn.name, err)

		if IsRetryable(err) {
			return zero, &types.TransientFetchError{Endpoint: conn.name, Err: err}
		}

		return zero, fmt.Errorf("%s on %s: %w", method, conn.name, err)
	}

	p.ReportSuccess(conn.name, duration)

	return result, nil
}

func (p *Pool) probeLoop(ctx context.Context) {
	defer p.wg.Done()

	ticker := time.NewTicker(p.probeInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-p.stopCh:
			return
		case <-ticker.C:
			p.probe(ctx)
		}
	}
}

// probe calls every unhealthy endpoint once and restores those that answer.
func (p *Pool) probe(ctx context.Context) {
	for _, conn := range p.connections {
		if conn.snapshot().Healthy {
			continue
		}

		probeCtx, cancel := context.WithTimeout(ctx, p.requestTimeout)
		start := time.Now()
		_, err := conn.client.LatestHeight(probeCtx, types.FinalityLatest)
		cancel()

		if err != nil {
			p.log.Debugw("health probe failed", "endpoint", conn.name, "error", err)
			continue
		}

		EndpointRecoveryInc(conn.name)
		p.ReportSuccess(conn.name, time.Since(start))
	}
}
