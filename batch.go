package adclient

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"
)

// defaultBatchAttribute is the identifier attribute used when a BatchSpec
// does not name one.
const defaultBatchAttribute = "distinguishedName"

// partitionIdentifiers splits ids into consecutive chunks of at most size,
// preserving order. The chunks alias the input slice.
func partitionIdentifiers(ids []string, size int) [][]string {
	if size <= 0 || len(ids) == 0 {
		return nil
	}
	batches := make([][]string, 0, (len(ids)+size-1)/size)
	for start := 0; start < len(ids); start += size {
		end := start + size
		if end > len(ids) {
			end = len(ids)
		}
		batches = append(batches, ids[start:end])
	}
	return batches
}

// ResolveBatch looks up many directory objects by identifier. Identifiers
// are partitioned into OR-filter batches which run in parallel, bounded by
// MaxParallelBatches and by the shared concurrency limiter.
//
// A batch whose search fails is counted in FailedBatches and its records
// are absent from the result; the remaining batches still run. Cancellation
// is different: ctx ending aborts the whole operation and returns
// ErrOperationCancelled with no partial result.
func (c *Client) ResolveBatch(ctx context.Context, spec BatchSpec) (*BatchResult, error) {
	if c.isClosed() {
		return nil, ErrPoolClosed
	}
	if len(spec.Identifiers) == 0 {
		return &BatchResult{}, nil
	}

	attribute := spec.Attribute
	if attribute == "" {
		attribute = defaultBatchAttribute
	}
	baseDN := spec.BaseDN
	if baseDN == "" {
		baseDN = c.cfg.BaseDN
	}

	batches := partitionIdentifiers(spec.Identifiers, c.cfg.BatchSize)

	var (
		mu      sync.Mutex
		records []DirectoryRecord
		failed  atomic.Int64
	)

	grp, gctx := errgroup.WithContext(ctx)
	grp.SetLimit(c.cfg.MaxParallelBatches)

	for i, batch := range batches {
		i, batch := i, batch
		grp.Go(func() error {
			search := SearchSpec{
				BaseDN:     baseDN,
				Scope:      ScopeSubtree,
				Filter:     IdentifierFilter(spec.ObjectClass, attribute, batch),
				Attributes: spec.Attributes,
				PageSize:   c.cfg.PageSize,
			}
			recs, err := c.searchAll(gctx, search)
			if err != nil {
				if gctx.Err() != nil {
					return err
				}
				// Server-side failure of one batch must not sink the
				// rest.
				failed.Add(1)
				c.log.Warn("batch lookup failed",
					"batch", i,
					"size", len(batch),
					"error", err)
				return nil
			}
			mu.Lock()
			records = append(records, recs...)
			mu.Unlock()
			return nil
		})
	}

	if err := grp.Wait(); err != nil {
		if errors.Is(err, ErrOperationCancelled) {
			return nil, err
		}
		if ctx.Err() != nil {
			return nil, cancelled(ctx)
		}
		return nil, opError("resolve", err)
	}

	return &BatchResult{
		Records:       records,
		FailedBatches: int(failed.Load()),
	}, nil
}
