package adclient

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// fakeConn is a scripted DirectoryConn for tests.
type fakeConn struct {
	connector    *fakeConnector
	search       func(ctx context.Context, spec SearchSpec, cookie []byte) (*ResultPage, error)
	validateHook func() // runs at the start of Validate when set
	valid        atomic.Bool
	closed       atomic.Bool
	searches     atomic.Int32
}

func (f *fakeConn) SearchPage(ctx context.Context, spec SearchSpec, cookie []byte) (*ResultPage, error) {
	f.searches.Add(1)
	select {
	case <-ctx.Done():
		return nil, cancelled(ctx)
	default:
	}
	if f.search == nil {
		return &ResultPage{}, nil
	}
	return f.search(ctx, spec, cookie)
}

func (f *fakeConn) Validate() bool {
	if f.validateHook != nil {
		f.validateHook()
	}
	return f.valid.Load() && !f.closed.Load()
}

func (f *fakeConn) Close() error {
	if !f.closed.Swap(true) && f.connector != nil {
		f.connector.open.Add(-1)
	}
	return nil
}

// fakeConnector hands out fakeConns and records dial activity, including
// the high-water mark of simultaneously open connections.
type fakeConnector struct {
	mu       sync.Mutex
	dialErrs []error // consumed one per dial; nil entries succeed
	search   func(ctx context.Context, spec SearchSpec, cookie []byte) (*ResultPage, error)
	conns    []*fakeConn

	dials   atomic.Int32
	open    atomic.Int32
	maxOpen atomic.Int32
}

func (f *fakeConnector) Connect(ctx context.Context) (DirectoryConn, error) {
	f.dials.Add(1)

	f.mu.Lock()
	var err error
	if len(f.dialErrs) > 0 {
		err = f.dialErrs[0]
		f.dialErrs = f.dialErrs[1:]
	}
	f.mu.Unlock()
	if err != nil {
		return nil, err
	}

	conn := &fakeConn{connector: f, search: f.search}
	conn.valid.Store(true)

	open := f.open.Add(1)
	for {
		max := f.maxOpen.Load()
		if open <= max || f.maxOpen.CompareAndSwap(max, open) {
			break
		}
	}

	f.mu.Lock()
	f.conns = append(f.conns, conn)
	f.mu.Unlock()
	return conn, nil
}

// totalSearches sums search calls across every connection handed out.
func (f *fakeConnector) totalSearches() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int32
	for _, c := range f.conns {
		n += c.searches.Load()
	}
	return int(n)
}

// scriptedPages returns a search function yielding the given pages in
// order, joined by continuation cookies.
func scriptedPages(pages ...[]DirectoryRecord) func(context.Context, SearchSpec, []byte) (*ResultPage, error) {
	return func(_ context.Context, _ SearchSpec, cookie []byte) (*ResultPage, error) {
		idx := 0
		if len(cookie) > 0 {
			idx = int(cookie[0])
		}
		if idx >= len(pages) {
			return &ResultPage{}, nil
		}
		page := &ResultPage{Records: pages[idx]}
		if idx+1 < len(pages) {
			page.Cookie = []byte{byte(idx + 1)}
		}
		return page, nil
	}
}

func rec(dn string) DirectoryRecord {
	return DirectoryRecord{DN: dn, Attributes: map[string][]string{}}
}

func testConfig() *Config {
	cfg := DefaultConfig()
	cfg.URL = "ldap://dc.example.com"
	cfg.BaseDN = "dc=example,dc=com"
	cfg.AcquireTimeout = 2 * time.Second
	return cfg
}
