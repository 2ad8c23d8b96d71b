package adclient

import (
	"context"
	"errors"
	"sync"
)

// RecordStream iterates over a paged search one record at a time, fetching
// pages on demand so only a single page of entries is resident at once.
//
//	stream, err := client.StreamSearch(ctx, spec)
//	if err != nil { ... }
//	defer stream.Close()
//	for stream.Next() {
//	    rec := stream.Record()
//	    ...
//	}
//	if err := stream.Err(); err != nil { ... }
//
// The stream holds one pool handle and one concurrency slot until it is
// exhausted or closed. Cancelling ctx ends iteration after the current
// record without reporting an error.
type RecordStream struct {
	ctx     context.Context
	spec    SearchSpec
	handle  *PooledConn
	limiter *ConcurrencyLimiter

	page    *ResultPage
	idx     int
	cookie  []byte
	started bool

	done     bool
	err      error
	finished sync.Once
}

func newRecordStream(ctx context.Context, spec SearchSpec, handle *PooledConn, limiter *ConcurrencyLimiter) *RecordStream {
	return &RecordStream{
		ctx:     ctx,
		spec:    spec,
		handle:  handle,
		limiter: limiter,
		idx:     -1,
	}
}

// Next advances to the next record, fetching the next page from the server
// when the current one is exhausted. It returns false at the end of the
// result set, on error, and on cancellation; Err distinguishes the error
// case.
func (s *RecordStream) Next() bool {
	if s.done {
		return false
	}
	if s.ctx.Err() != nil {
		// Cancellation mid-stream is a deliberate stop, not a failure.
		// Release validates the session before parking it.
		s.finish(false)
		return false
	}

	if s.page != nil && s.idx+1 < len(s.page.Records) {
		s.idx++
		return true
	}

	// Current page exhausted. An empty cookie after the first page means
	// the server is done.
	if s.started && len(s.cookie) == 0 {
		s.finish(false)
		return false
	}

	page, err := s.handle.Conn().SearchPage(s.ctx, s.spec, s.cookie)
	if err != nil {
		if errors.Is(err, ErrOperationCancelled) || s.ctx.Err() != nil {
			s.finish(false)
			return false
		}
		s.err = &OpError{
			Op:     "search",
			Kind:   classifyKind(err),
			Filter: s.spec.Filter,
			DN:     s.spec.BaseDN,
			Err:    err,
		}
		s.finish(true)
		return false
	}

	s.started = true
	s.page = page
	s.cookie = page.Cookie
	s.idx = 0

	if len(page.Records) == 0 {
		if len(s.cookie) == 0 {
			s.finish(false)
			return false
		}
		return s.Next()
	}
	return true
}

// Record returns the record Next positioned on. Only valid after Next has
// returned true.
func (s *RecordStream) Record() DirectoryRecord {
	return s.page.Records[s.idx]
}

// Err returns the error that stopped iteration, if any. Cancellation and
// normal exhaustion both leave it nil.
func (s *RecordStream) Err() error {
	return s.err
}

// Close releases the stream's pool handle and concurrency slot. It is safe
// to call multiple times and after exhaustion.
func (s *RecordStream) Close() error {
	s.finish(s.err != nil)
	return nil
}

// finish releases held resources exactly once. A stream stopped by a page
// fetch error destroys its handle; every other exit path returns the
// handle to the pool, where release-side validation decides reuse.
func (s *RecordStream) finish(discard bool) {
	s.finished.Do(func() {
		s.done = true
		if discard {
			s.handle.Discard()
		} else {
			s.handle.Release()
		}
		s.limiter.Exit()
	})
}
