package adclient

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPartitionIdentifiers(t *testing.T) {
	ids := func(n int) []string {
		out := make([]string, n)
		for i := range out {
			out[i] = fmt.Sprintf("id%d", i)
		}
		return out
	}

	tests := []struct {
		name      string
		ids       []string
		size      int
		wantSizes []int
	}{
		{"uneven split", ids(250), 100, []int{100, 100, 50}},
		{"exact multiple", ids(200), 100, []int{100, 100}},
		{"fewer than one batch", ids(3), 100, []int{3}},
		{"single element batches", ids(3), 1, []int{1, 1, 1}},
		{"empty input", nil, 100, nil},
		{"non-positive size", ids(5), 0, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			batches := partitionIdentifiers(tt.ids, tt.size)
			require.Len(t, batches, len(tt.wantSizes))

			var flattened []string
			for i, batch := range batches {
				assert.Len(t, batch, tt.wantSizes[i])
				flattened = append(flattened, batch...)
			}
			if len(tt.wantSizes) > 0 {
				assert.Equal(t, tt.ids, flattened, "partition must cover input exactly")
			}
		})
	}
}

// batchEcho returns one record per identifier clause in the filter, so
// merged results can be counted against the requested identifiers.
func batchEcho(attribute string) func(context.Context, SearchSpec, []byte) (*ResultPage, error) {
	var seq atomic.Int32
	return func(_ context.Context, spec SearchSpec, _ []byte) (*ResultPage, error) {
		n := strings.Count(spec.Filter, "("+attribute+"=")
		page := &ResultPage{}
		for i := 0; i < n; i++ {
			page.Records = append(page.Records, rec(fmt.Sprintf("cn=r%d", seq.Add(1))))
		}
		return page, nil
	}
}

func TestResolveBatchMergesAllBatches(t *testing.T) {
	connector := &fakeConnector{search: batchEcho("employeeID")}
	cfg := testConfig()
	cfg.BatchSize = 100
	c := newTestClient(t, cfg, connector)

	ids := make([]string, 250)
	for i := range ids {
		ids[i] = fmt.Sprintf("%d", 1000+i)
	}

	result, err := c.ResolveBatch(context.Background(), BatchSpec{
		Identifiers: ids,
		ObjectClass: ObjectClassUser,
		Attribute:   "employeeID",
	})
	require.NoError(t, err)

	assert.Len(t, result.Records, 250)
	assert.Equal(t, 0, result.FailedBatches)
	assert.Equal(t, 3, connector.totalSearches())
}

func TestResolveBatchEmptyIdentifiers(t *testing.T) {
	connector := &fakeConnector{}
	c := newTestClient(t, testConfig(), connector)

	result, err := c.ResolveBatch(context.Background(), BatchSpec{})
	require.NoError(t, err)
	assert.Empty(t, result.Records)
	assert.Equal(t, 0, result.FailedBatches)
	assert.Equal(t, int32(0), connector.dials.Load())
}

func TestResolveBatchDefaultsAttribute(t *testing.T) {
	var captured atomic.Value
	connector := &fakeConnector{
		search: func(_ context.Context, spec SearchSpec, _ []byte) (*ResultPage, error) {
			captured.Store(spec.Filter)
			return &ResultPage{}, nil
		},
	}
	c := newTestClient(t, testConfig(), connector)

	_, err := c.ResolveBatch(context.Background(), BatchSpec{
		Identifiers: []string{"cn=a,dc=example,dc=com"},
	})
	require.NoError(t, err)
	assert.Contains(t, captured.Load().(string), "(distinguishedName=")
}

func TestResolveBatchCountsFailedBatches(t *testing.T) {
	connector := &fakeConnector{
		search: func(_ context.Context, spec SearchSpec, _ []byte) (*ResultPage, error) {
			if strings.Contains(spec.Filter, "boom") {
				return nil, errors.New("search failed: size limit exceeded")
			}
			return &ResultPage{Records: []DirectoryRecord{rec("cn=ok")}}, nil
		},
	}
	cfg := testConfig()
	cfg.BatchSize = 2
	c := newTestClient(t, cfg, connector)

	result, err := c.ResolveBatch(context.Background(), BatchSpec{
		Identifiers: []string{"a", "b", "boom", "d", "e", "f"},
		Attribute:   "cn",
	})
	require.NoError(t, err, "a failed batch must not fail the operation")

	assert.Equal(t, 1, result.FailedBatches)
	assert.Len(t, result.Records, 2, "records from the failed batch are absent")
}

func TestResolveBatchCancellation(t *testing.T) {
	started := make(chan struct{})
	connector := &fakeConnector{
		search: func(ctx context.Context, _ SearchSpec, _ []byte) (*ResultPage, error) {
			select {
			case started <- struct{}{}:
			default:
			}
			<-ctx.Done()
			return nil, cancelled(ctx)
		},
	}
	cfg := testConfig()
	cfg.BatchSize = 1
	c := newTestClient(t, cfg, connector)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	var (
		result *BatchResult
		err    error
	)
	go func() {
		result, err = c.ResolveBatch(ctx, BatchSpec{
			Identifiers: []string{"a", "b", "c"},
			Attribute:   "cn",
		})
		close(done)
	}()

	<-started
	cancel()
	<-done

	require.ErrorIs(t, err, ErrOperationCancelled)
	assert.Nil(t, result, "cancellation returns no partial result")
}

func TestResolveBatchHonorsParallelLimit(t *testing.T) {
	var inflight, peak atomic.Int32
	connector := &fakeConnector{
		search: func(_ context.Context, _ SearchSpec, _ []byte) (*ResultPage, error) {
			n := inflight.Add(1)
			for {
				max := peak.Load()
				if n <= max || peak.CompareAndSwap(max, n) {
					break
				}
			}
			defer inflight.Add(-1)
			return &ResultPage{}, nil
		},
	}
	cfg := testConfig()
	cfg.BatchSize = 1
	cfg.MaxParallelBatches = 2
	c := newTestClient(t, cfg, connector)

	ids := make([]string, 20)
	for i := range ids {
		ids[i] = fmt.Sprintf("id%d", i)
	}
	_, err := c.ResolveBatch(context.Background(), BatchSpec{
		Identifiers: ids,
		Attribute:   "cn",
	})
	require.NoError(t, err)
	assert.LessOrEqual(t, peak.Load(), int32(2))
}
