package adclient

import (
	"context"
	"errors"
	"slices"
	"sync/atomic"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/jonboulle/clockwork"
)

// Client is the entry point for directory access. It owns a connection
// pool, a shared concurrency limiter, and a TTL result cache, and exposes
// the search operations built on them. A Client is safe for concurrent use.
type Client struct {
	cfg     *Config
	pool    *Pool
	limiter *ConcurrencyLimiter
	cache   *ResultCache
	log     hclog.Logger
	closed  atomic.Bool
}

// New creates a Client dialing the configured endpoint with go-ldap.
func New(cfg *Config) (*Client, error) {
	if err := cfg.hydrate(); err != nil {
		return nil, err
	}
	connector, err := NewConnector(cfg)
	if err != nil {
		return nil, err
	}
	return NewWithConnector(cfg, connector)
}

// NewWithConnector creates a Client over a caller-supplied Connector.
func NewWithConnector(cfg *Config, connector Connector) (*Client, error) {
	return newClient(cfg, connector, clockwork.NewRealClock())
}

func newClient(cfg *Config, connector Connector, clock clockwork.Clock) (*Client, error) {
	if err := cfg.hydrate(); err != nil {
		return nil, err
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	cache, err := newResultCache(cfg.CacheSize, clock)
	if err != nil {
		return nil, err
	}
	return &Client{
		cfg:     cfg,
		pool:    newPool(cfg, connector, clock),
		limiter: NewConcurrencyLimiter(cfg.MaxConcurrent),
		cache:   cache,
		log:     cfg.Logger,
	}, nil
}

// normalize fills search defaults from the configuration.
func (c *Client) normalize(spec SearchSpec) SearchSpec {
	if spec.BaseDN == "" {
		spec.BaseDN = c.cfg.BaseDN
	}
	if spec.PageSize == 0 {
		spec.PageSize = c.cfg.PageSize
	}
	return spec
}

// StreamSearch starts a paged search and returns a stream over its
// records. The stream holds a pool handle and a concurrency slot until
// exhausted or closed; callers must call Close.
func (c *Client) StreamSearch(ctx context.Context, spec SearchSpec) (*RecordStream, error) {
	if c.isClosed() {
		return nil, ErrPoolClosed
	}
	spec = c.normalize(spec)

	if err := c.limiter.Enter(ctx); err != nil {
		return nil, err
	}
	handle, err := c.pool.Acquire(ctx)
	if err != nil {
		c.limiter.Exit()
		return nil, err
	}
	return newRecordStream(ctx, spec, handle, c.limiter), nil
}

// Search runs a paged search to completion and returns all records.
// Prefer StreamSearch for result sets of unknown size.
func (c *Client) Search(ctx context.Context, spec SearchSpec) ([]DirectoryRecord, error) {
	if c.isClosed() {
		return nil, ErrPoolClosed
	}
	return c.searchAll(ctx, c.normalize(spec))
}

// CachedSearch is Search memoized by query shape for ttl. A non-positive
// ttl uses the configured CacheTTL. Expired entries are refreshed on the
// lookup that finds them; failures are never cached.
//
// The returned slice is the caller's to keep or reorder; the records
// themselves (and their attribute maps) are shared with the cache and
// must be treated as read-only.
func (c *Client) CachedSearch(ctx context.Context, spec SearchSpec, ttl time.Duration) ([]DirectoryRecord, error) {
	if c.isClosed() {
		return nil, ErrPoolClosed
	}
	spec = c.normalize(spec)
	if ttl <= 0 {
		ttl = c.cfg.CacheTTL
	}

	key := spec.signature()
	if records, ok := c.cache.Get(key); ok {
		c.log.Debug("cache hit", "filter", spec.Filter)
		return slices.Clone(records), nil
	}

	records, err := c.searchAll(ctx, spec)
	if err != nil {
		return nil, err
	}
	c.cache.Put(key, slices.Clone(records), ttl)
	return records, nil
}

// InvalidateCache drops the cached result for a query shape.
func (c *Client) InvalidateCache(spec SearchSpec) {
	c.cache.Invalidate(c.normalize(spec).signature())
}

// searchAll borrows a handle and drains every page of a search under the
// shared limiter and the per-call timeout. Caller cancellation surfaces as
// ErrOperationCancelled; a per-call timeout without caller cancellation
// surfaces as a timeout-kind OpError.
func (c *Client) searchAll(ctx context.Context, spec SearchSpec) ([]DirectoryRecord, error) {
	opCtx := ctx
	if c.cfg.CallTimeout > 0 {
		var cancel context.CancelFunc
		opCtx, cancel = context.WithTimeout(ctx, c.cfg.CallTimeout)
		defer cancel()
	}

	if err := c.limiter.Enter(opCtx); err != nil {
		return nil, c.callError(ctx, "search", spec, err)
	}
	defer c.limiter.Exit()

	handle, err := c.pool.Acquire(opCtx)
	if err != nil {
		if errors.Is(err, ErrOperationCancelled) {
			return nil, c.callError(ctx, "search", spec, err)
		}
		return nil, err
	}

	var (
		records []DirectoryRecord
		cookie  []byte
	)
	for {
		page, err := handle.Conn().SearchPage(opCtx, spec, cookie)
		if err != nil {
			handle.Discard()
			return nil, c.callError(ctx, "search", spec, err)
		}
		records = append(records, page.Records...)
		if len(page.Cookie) == 0 {
			break
		}
		cookie = page.Cookie
	}
	handle.Release()
	return records, nil
}

// callError maps an operation failure to the caller's view: cancellation
// of the caller's own context keeps the cancellation sentinel, while an
// expiry of the internal per-call deadline is reported as a timeout.
func (c *Client) callError(ctx context.Context, op string, spec SearchSpec, err error) error {
	if ctx.Err() != nil {
		if errors.Is(err, ErrOperationCancelled) {
			return err
		}
		return cancelled(ctx)
	}
	kind := classifyKind(err)
	if errors.Is(err, ErrOperationCancelled) || errors.Is(err, context.DeadlineExceeded) {
		// The caller did not cancel, so the internal per-call deadline
		// expired. Report plain deadline expiry rather than leaking the
		// cancellation sentinel into a timeout.
		kind = KindTimeout
		err = context.DeadlineExceeded
	}
	return &OpError{
		Op:     op,
		Kind:   kind,
		Filter: spec.Filter,
		DN:     spec.BaseDN,
		Err:    err,
	}
}

// Stats returns a snapshot of pool activity.
func (c *Client) Stats() PoolStats {
	return c.pool.Stats()
}

// Close shuts down the pool and empties the cache. Operations on a closed
// Client fail with ErrPoolClosed.
func (c *Client) Close() error {
	if c.closed.Swap(true) {
		return nil
	}
	c.cache.Purge()
	return c.pool.Close()
}

func (c *Client) isClosed() bool {
	return c.closed.Load()
}
