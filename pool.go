package adclient

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-hclog"
	"github.com/jonboulle/clockwork"
)

// PoolStats is a point-in-time snapshot of pool activity.
type PoolStats struct {
	Capacity  int // configured ceiling
	Idle      int // handles parked in the pool
	Borrowed  int // handles currently held by callers
	Created   uint64
	Reused    uint64 // acquires satisfied from idle handles
	Discarded uint64 // handles dropped after failing validation or aging out
	Timeouts  uint64 // acquires that hit ErrPoolExhausted
}

// PooledConn is a borrowed connection handle. A handle belongs to exactly
// one borrower between Acquire and Release/Discard.
type PooledConn struct {
	id        string
	conn      DirectoryConn
	idleSince time.Time
	released  atomic.Bool
	pool      *Pool
}

// ID returns the handle's identifier, stable for the handle's lifetime.
func (pc *PooledConn) ID() string { return pc.id }

// Conn exposes the underlying directory session.
func (pc *PooledConn) Conn() DirectoryConn { return pc.conn }

// Release returns the handle to the pool. The session is validated first;
// dead sessions are destroyed rather than parked. Releasing twice is a
// no-op.
func (pc *PooledConn) Release() {
	pc.pool.release(pc)
}

// Discard destroys the handle without returning the session to the pool.
// Borrowers call this after an operation error leaves session state in
// doubt.
func (pc *PooledConn) Discard() {
	pc.pool.discard(pc)
}

// Pool maintains a bounded set of directory connections. Capacity covers
// idle and borrowed handles combined; when every slot is taken, Acquire
// waits up to the configured timeout for a release.
type Pool struct {
	connector      Connector
	capacity       int
	acquireTimeout time.Duration
	maxIdleTime    time.Duration
	clock          clockwork.Clock
	log            hclog.Logger

	slots chan struct{}    // one token per unfilled capacity slot
	idle  chan *PooledConn // parked handles, ready for reuse

	mu     sync.Mutex
	closed bool

	created   atomic.Uint64
	reused    atomic.Uint64
	discarded atomic.Uint64
	timeouts  atomic.Uint64
}

// NewPool creates a pool over the given connector. No connections are
// dialed until the first Acquire.
func NewPool(cfg *Config, connector Connector) (*Pool, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return newPool(cfg, connector, clockwork.NewRealClock()), nil
}

func newPool(cfg *Config, connector Connector, clock clockwork.Clock) *Pool {
	p := &Pool{
		connector:      connector,
		capacity:       cfg.PoolCapacity,
		acquireTimeout: cfg.AcquireTimeout,
		maxIdleTime:    cfg.MaxIdleTime,
		clock:          clock,
		log:            cfg.Logger,
		slots:          make(chan struct{}, cfg.PoolCapacity),
		idle:           make(chan *PooledConn, cfg.PoolCapacity),
	}
	if p.log == nil {
		p.log = hclog.NewNullLogger()
	}
	for i := 0; i < cfg.PoolCapacity; i++ {
		p.slots <- struct{}{}
	}
	return p
}

// Acquire returns a handle, reusing an idle session when a live one is
// available and dialing otherwise. It fails with ErrPoolExhausted when the
// pool stays at capacity beyond the acquire timeout, and with the caller's
// cancellation when ctx ends first.
func (p *Pool) Acquire(ctx context.Context) (*PooledConn, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, ErrPoolClosed
	}
	p.mu.Unlock()

	// Fast path: take a free slot without arming the wait timer.
	select {
	case <-p.slots:
	default:
		timer := p.clock.NewTimer(p.acquireTimeout)
		defer timer.Stop()
		select {
		case <-p.slots:
		case <-ctx.Done():
			return nil, cancelled(ctx)
		case <-timer.Chan():
			p.timeouts.Add(1)
			return nil, ErrPoolExhausted
		}
	}

	// Holding a slot token. Either hand back an idle handle or create a
	// fresh one; on failure the token must be returned.
	if pc := p.takeIdle(); pc != nil {
		p.reused.Add(1)
		return pc, nil
	}

	pc, err := p.create(ctx)
	if err != nil {
		p.slots <- struct{}{}
		return nil, err
	}
	return pc, nil
}

// takeIdle pops idle handles until one passes validation. Stale and dead
// handles are destroyed along the way.
func (p *Pool) takeIdle() *PooledConn {
	for {
		select {
		case pc := <-p.idle:
			if p.maxIdleTime > 0 && p.clock.Since(pc.idleSince) > p.maxIdleTime {
				p.destroy(pc, "idle timeout")
				continue
			}
			if !pc.conn.Validate() {
				p.destroy(pc, "failed validation")
				continue
			}
			pc.released.Store(false)
			return pc
		default:
			return nil
		}
	}
}

// create dials a new session. A retryable failure gets one retry against a
// second fresh dial before the error propagates.
func (p *Pool) create(ctx context.Context) (*PooledConn, error) {
	conn, err := p.connector.Connect(ctx)
	if err != nil && isRetryable(err) && ctx.Err() == nil {
		p.log.Debug("connection attempt failed, retrying once", "error", err)
		conn, err = p.connector.Connect(ctx)
	}
	if err != nil {
		return nil, opError("connect", err)
	}
	p.created.Add(1)
	return &PooledConn{
		id:   uuid.New().String(),
		conn: conn,
		pool: p,
	}, nil
}

func (p *Pool) release(pc *PooledConn) {
	if pc.released.Swap(true) {
		return
	}

	p.mu.Lock()
	closed := p.closed
	p.mu.Unlock()

	if closed || !pc.conn.Validate() {
		pc.conn.Close()
		if !closed {
			p.discarded.Add(1)
			p.log.Debug("discarding handle on release", "id", pc.id)
		}
		p.slots <- struct{}{}
		return
	}

	pc.idleSince = p.clock.Now()
	p.idle <- pc
	p.slots <- struct{}{}

	// Close may have set closed and drained idle while the validation
	// probe above was in flight, in which case the handle just parked
	// would leak. Re-check and sweep.
	p.mu.Lock()
	closed = p.closed
	p.mu.Unlock()
	if closed {
		p.drainIdle()
	}
}

func (p *Pool) discard(pc *PooledConn) {
	if pc.released.Swap(true) {
		return
	}
	p.destroy(pc, "caller discard")
	p.slots <- struct{}{}
}

// destroy closes a handle's session without touching the slot token. The
// caller owns token bookkeeping.
func (p *Pool) destroy(pc *PooledConn, reason string) {
	pc.conn.Close()
	p.discarded.Add(1)
	p.log.Debug("destroyed pooled connection", "id", pc.id, "reason", reason)
}

// Close shuts the pool down and closes all idle sessions. Borrowed handles
// are closed as their holders release them. Acquire fails with
// ErrPoolClosed afterwards.
func (p *Pool) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.mu.Unlock()

	p.drainIdle()
	return nil
}

func (p *Pool) drainIdle() {
	for {
		select {
		case pc := <-p.idle:
			pc.conn.Close()
		default:
			return
		}
	}
}

// Stats returns a snapshot of pool occupancy and counters.
func (p *Pool) Stats() PoolStats {
	// Each borrowed handle holds one slot token; idle handles hold none.
	return PoolStats{
		Capacity:  p.capacity,
		Idle:      len(p.idle),
		Borrowed:  p.capacity - len(p.slots),
		Created:   p.created.Load(),
		Reused:    p.reused.Load(),
		Discarded: p.discarded.Load(),
		Timeouts:  p.timeouts.Load(),
	}
}
