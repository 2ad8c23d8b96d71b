package adclient

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, cfg *Config, connector *fakeConnector) *Client {
	t.Helper()
	c, err := NewWithConnector(cfg, connector)
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

func TestStreamYieldsAllPagesInOrder(t *testing.T) {
	connector := &fakeConnector{
		search: scriptedPages(
			[]DirectoryRecord{rec("cn=a"), rec("cn=b")},
			[]DirectoryRecord{rec("cn=c"), rec("cn=d")},
			[]DirectoryRecord{rec("cn=e")},
		),
	}
	c := newTestClient(t, testConfig(), connector)

	stream, err := c.StreamSearch(context.Background(), SearchSpec{Filter: "(objectClass=user)"})
	require.NoError(t, err)
	defer stream.Close()

	var dns []string
	for stream.Next() {
		dns = append(dns, stream.Record().DN)
	}
	require.NoError(t, stream.Err())
	assert.Equal(t, []string{"cn=a", "cn=b", "cn=c", "cn=d", "cn=e"}, dns)

	// Exhaustion returned the handle to the pool.
	stats := c.Stats()
	assert.Equal(t, 0, stats.Borrowed)
	assert.Equal(t, 1, stats.Idle)
}

func TestStreamEmptyResultSet(t *testing.T) {
	connector := &fakeConnector{search: scriptedPages([]DirectoryRecord{})}
	c := newTestClient(t, testConfig(), connector)

	stream, err := c.StreamSearch(context.Background(), SearchSpec{Filter: "(cn=nobody)"})
	require.NoError(t, err)
	defer stream.Close()

	assert.False(t, stream.Next())
	assert.NoError(t, stream.Err())
}

func TestStreamCancellationStopsWithoutError(t *testing.T) {
	connector := &fakeConnector{
		search: scriptedPages(
			[]DirectoryRecord{rec("cn=a"), rec("cn=b")},
			[]DirectoryRecord{rec("cn=c")},
		),
	}
	c := newTestClient(t, testConfig(), connector)

	ctx, cancel := context.WithCancel(context.Background())
	stream, err := c.StreamSearch(ctx, SearchSpec{Filter: "(objectClass=user)"})
	require.NoError(t, err)
	defer stream.Close()

	require.True(t, stream.Next())
	require.True(t, stream.Next())
	cancel()

	assert.False(t, stream.Next())
	assert.NoError(t, stream.Err(), "cancellation is not an error")

	// The handle went back to the pool after its liveness check.
	stats := c.Stats()
	assert.Equal(t, 0, stats.Borrowed)
	assert.Equal(t, 1, stats.Idle)
}

func TestStreamPageErrorSurfacesAsOpError(t *testing.T) {
	pageErr := errors.New("search failed: filter malformed")
	connector := &fakeConnector{
		search: func(_ context.Context, _ SearchSpec, cookie []byte) (*ResultPage, error) {
			if len(cookie) > 0 {
				return nil, pageErr
			}
			return &ResultPage{
				Records: []DirectoryRecord{rec("cn=a")},
				Cookie:  []byte{1},
			}, nil
		},
	}
	c := newTestClient(t, testConfig(), connector)

	stream, err := c.StreamSearch(context.Background(), SearchSpec{
		Filter: "(bad=*)",
		BaseDN: "ou=x,dc=example,dc=com",
	})
	require.NoError(t, err)
	defer stream.Close()

	require.True(t, stream.Next())
	assert.Equal(t, "cn=a", stream.Record().DN)
	assert.False(t, stream.Next())

	var oe *OpError
	require.ErrorAs(t, stream.Err(), &oe)
	assert.Equal(t, "search", oe.Op)
	assert.Equal(t, "(bad=*)", oe.Filter)
	assert.Equal(t, "ou=x,dc=example,dc=com", oe.DN)
	assert.ErrorIs(t, stream.Err(), pageErr)
}

func TestStreamCloseIsIdempotent(t *testing.T) {
	connector := &fakeConnector{
		search: scriptedPages([]DirectoryRecord{rec("cn=a")}),
	}
	c := newTestClient(t, testConfig(), connector)

	stream, err := c.StreamSearch(context.Background(), SearchSpec{Filter: "(cn=a)"})
	require.NoError(t, err)

	require.NoError(t, stream.Close())
	require.NoError(t, stream.Close())
	assert.False(t, stream.Next())

	assert.Equal(t, 0, c.Stats().Borrowed)
}

func TestStreamHoldsConcurrencySlotUntilClosed(t *testing.T) {
	connector := &fakeConnector{
		search: scriptedPages([]DirectoryRecord{rec("cn=a")}),
	}
	cfg := testConfig()
	cfg.MaxConcurrent = 1
	c := newTestClient(t, cfg, connector)

	stream, err := c.StreamSearch(context.Background(), SearchSpec{Filter: "(cn=a)"})
	require.NoError(t, err)

	assert.False(t, c.limiter.TryEnter(), "stream should occupy the only slot")

	require.NoError(t, stream.Close())
	require.True(t, c.limiter.TryEnter())
	c.limiter.Exit()
}
