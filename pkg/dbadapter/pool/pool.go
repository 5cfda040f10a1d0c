// Package pool manages bounded, health-checked database connections.
// One process-wide Manager hands out leases keyed by datasource id,
// enforcing a per-datasource cap and a process-wide cap with FIFO
// acquisition and a bounded wait.
package pool

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/jonboulle/clockwork"

	"github.com/smartbi/analyst/pkg/dbadapter"
	"github.com/smartbi/analyst/pkg/enginerr"
	"github.com/smartbi/analyst/pkg/metrics"
	"github.com/smartbi/analyst/pkg/models"
)

// Config bounds the pool.
type Config struct {
	// MaxTotal is the process-wide live connection ceiling.
	MaxTotal int
	// MaxPerDatasource caps live connections per datasource.
	MaxPerDatasource int
	// AcquireTimeout bounds the wait for a lease before POOL_EXHAUSTED.
	AcquireTimeout time.Duration
	// HealthInterval is how stale a connection may be before it is probed
	// again on checkout.
	HealthInterval time.Duration
	// DialRetries is how many times a failed dial is retried.
	DialRetries uint64
	// DialBackoffInitial seeds the exponential dial backoff
	// (initial, 4x multiplier, ±20% jitter).
	DialBackoffInitial time.Duration
}

// DefaultConfig returns the documented defaults.
func DefaultConfig() Config {
	return Config{
		MaxTotal:           50,
		MaxPerDatasource:   10,
		AcquireTimeout:     5 * time.Second,
		HealthInterval:     30 * time.Second,
		DialRetries:        3,
		DialBackoffInitial: 100 * time.Millisecond,
	}
}

// Manager is the process-wide pool. Its zero value is not usable; create
// with NewManager.
type Manager struct {
	cfg     Config
	clock   clockwork.Clock
	factory dbadapter.Factory
	log     *slog.Logger

	// globalSem and each dsPool.sem are token-bucket semaphores: a token
	// must be held for every live connection. Channel receive order gives
	// waiting acquirers FIFO wakeup.
	globalSem chan struct{}

	mu     sync.Mutex
	pools  map[string]*dsPool
	closed bool
}

// dsPool tracks one datasource's connections.
type dsPool struct {
	ds   *models.Datasource
	sem  chan struct{}
	mu   sync.Mutex
	idle []*pooledConn
	live int
}

// setLive updates the live count and its gauge. Caller holds p.mu.
func (p *dsPool) setLive(n int) {
	p.live = n
	metrics.PoolLive.WithLabelValues(p.ds.ID).Set(float64(n))
}

// pooledConn is one live adapter with its probe bookkeeping.
type pooledConn struct {
	adapter       dbadapter.Adapter
	lastCheckedAt time.Time
}

// Lease is a checked-out connection. Callers must Release exactly once.
type Lease struct {
	manager *Manager
	pool    *dsPool
	conn    *pooledConn
	once    sync.Once
}

// Adapter returns the leased adapter.
func (l *Lease) Adapter() dbadapter.Adapter { return l.conn.adapter }

// Release returns the connection to the pool.
func (l *Lease) Release() {
	l.once.Do(func() { l.manager.release(l.pool, l.conn, false) })
}

// Discard drops the connection instead of returning it, freeing its slot.
// Use after errors that poison the connection.
func (l *Lease) Discard() {
	l.once.Do(func() { l.manager.release(l.pool, l.conn, true) })
}

// Option customises the manager.
type Option func(*Manager)

// WithClock substitutes the wall clock, for tests.
func WithClock(clock clockwork.Clock) Option {
	return func(m *Manager) { m.clock = clock }
}

// WithFactory substitutes the adapter factory, for tests.
func WithFactory(factory dbadapter.Factory) Option {
	return func(m *Manager) { m.factory = factory }
}

// NewManager creates the pool manager.
func NewManager(cfg Config, opts ...Option) *Manager {
	m := &Manager{
		cfg:       cfg,
		clock:     clockwork.NewRealClock(),
		factory:   dbadapter.New,
		log:       slog.With("component", "dbpool"),
		globalSem: newSemaphore(cfg.MaxTotal),
		pools:     make(map[string]*dsPool),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func newSemaphore(n int) chan struct{} {
	sem := make(chan struct{}, n)
	for i := 0; i < n; i++ {
		sem <- struct{}{}
	}
	return sem
}

// Acquire leases a connection for the datasource, waiting up to
// AcquireTimeout for a slot. Returns POOL_EXHAUSTED on a timed-out wait.
func (m *Manager) Acquire(ctx context.Context, ds *models.Datasource) (*Lease, error) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, enginerr.New(enginerr.KindInternal, "pool manager closed")
	}
	pool, ok := m.pools[ds.ID]
	if !ok {
		pool = &dsPool{ds: ds, sem: newSemaphore(m.cfg.MaxPerDatasource)}
		m.pools[ds.ID] = pool
	}
	m.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, m.cfg.AcquireTimeout)
	defer cancel()

	// Per-datasource slot first, then the process-wide slot. Both waits
	// count against the same acquire deadline.
	select {
	case <-pool.sem:
	case <-ctx.Done():
		return nil, exhausted(ds.ID, ctx.Err())
	}
	select {
	case <-m.globalSem:
	case <-ctx.Done():
		pool.sem <- struct{}{}
		return nil, exhausted(ds.ID, ctx.Err())
	}

	conn, err := m.checkout(ctx, pool)
	if err != nil {
		pool.sem <- struct{}{}
		m.globalSem <- struct{}{}
		return nil, err
	}
	return &Lease{manager: m, pool: pool, conn: conn}, nil
}

func exhausted(dsID string, cause error) error {
	return enginerr.Wrap(enginerr.KindPoolExhausted, cause,
		"no connection available for datasource %s within acquire timeout", dsID)
}

// checkout pops an idle connection (probing it when stale) or dials a new
// one. The caller already holds both semaphore tokens.
func (m *Manager) checkout(ctx context.Context, pool *dsPool) (*pooledConn, error) {
	for {
		pool.mu.Lock()
		var conn *pooledConn
		if n := len(pool.idle); n > 0 {
			conn = pool.idle[n-1]
			pool.idle = pool.idle[:n-1]
		}
		pool.mu.Unlock()

		if conn == nil {
			break
		}
		if m.clock.Since(conn.lastCheckedAt) <= m.cfg.HealthInterval {
			return conn, nil
		}
		if err := conn.adapter.Ping(ctx); err == nil {
			conn.lastCheckedAt = m.clock.Now()
			return conn, nil
		}
		m.log.Warn("Discarding unhealthy connection", "datasource_id", pool.ds.ID)
		_ = conn.adapter.Disconnect(ctx)
		pool.mu.Lock()
		pool.setLive(pool.live - 1)
		pool.mu.Unlock()
	}

	adapter, err := m.dial(ctx, pool.ds)
	if err != nil {
		return nil, err
	}
	pool.mu.Lock()
	pool.setLive(pool.live + 1)
	pool.mu.Unlock()
	return &pooledConn{adapter: adapter, lastCheckedAt: m.clock.Now()}, nil
}

// dial opens a fresh connection with bounded exponential backoff.
func (m *Manager) dial(ctx context.Context, ds *models.Datasource) (dbadapter.Adapter, error) {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = m.cfg.DialBackoffInitial
	policy.Multiplier = 4
	policy.RandomizationFactor = 0.2
	policy.MaxInterval = 2 * time.Second

	var adapter dbadapter.Adapter
	operation := func() error {
		a, err := m.factory(ds)
		if err != nil {
			return backoff.Permanent(err)
		}
		if err := a.Connect(ctx); err != nil {
			if !enginerr.IsRetryable(err) {
				return backoff.Permanent(err)
			}
			return err
		}
		adapter = a
		return nil
	}
	err := backoff.Retry(operation,
		backoff.WithContext(backoff.WithMaxRetries(policy, m.cfg.DialRetries), ctx))
	if err != nil {
		return nil, err
	}
	return adapter, nil
}

// release returns a connection to its pool, or drops it.
func (m *Manager) release(pool *dsPool, conn *pooledConn, discard bool) {
	if discard {
		_ = conn.adapter.Disconnect(context.Background())
		pool.mu.Lock()
		pool.setLive(pool.live - 1)
		pool.mu.Unlock()
	} else {
		pool.mu.Lock()
		pool.idle = append(pool.idle, conn)
		pool.mu.Unlock()
	}
	pool.sem <- struct{}{}
	m.globalSem <- struct{}{}
}

// Stats reports current occupancy.
type Stats struct {
	Live          int            `json:"live"`
	PerDatasource map[string]int `json:"per_datasource"`
}

// Stats returns a consistent snapshot of live connection counts.
func (m *Manager) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	stats := Stats{PerDatasource: make(map[string]int, len(m.pools))}
	for id, pool := range m.pools {
		pool.mu.Lock()
		stats.PerDatasource[id] = pool.live
		stats.Live += pool.live
		pool.mu.Unlock()
	}
	return stats
}

// Invalidate drops all idle connections for a datasource, for use after
// its connection settings change. Leased connections drain on release.
func (m *Manager) Invalidate(dsID string) {
	m.mu.Lock()
	pool, ok := m.pools[dsID]
	m.mu.Unlock()
	if !ok {
		return
	}
	pool.mu.Lock()
	idle := pool.idle
	pool.idle = nil
	pool.setLive(pool.live - len(idle))
	pool.mu.Unlock()
	for _, conn := range idle {
		_ = conn.adapter.Disconnect(context.Background())
	}
}

// Close disconnects every idle connection and rejects future acquires.
func (m *Manager) Close() {
	m.mu.Lock()
	m.closed = true
	pools := m.pools
	m.pools = make(map[string]*dsPool)
	m.mu.Unlock()

	for _, pool := range pools {
		pool.mu.Lock()
		idle := pool.idle
		pool.idle = nil
		pool.mu.Unlock()
		for _, conn := range idle {
			_ = conn.adapter.Disconnect(context.Background())
		}
	}
}
