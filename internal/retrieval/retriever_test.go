package retrieval

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/citation-etl/backend/internal/dataset"
)

func TestOffsets(t *testing.T) {
	assert.Equal(t, []int{0, 50000, 100000}, Offsets(150000, 50000))
	assert.Equal(t, []int{0, 10, 20}, Offsets(25, 10))
	assert.Len(t, Offsets(3500000, 50000), 70)
	assert.Empty(t, Offsets(0, 10))
	assert.Empty(t, Offsets(10, 0))
}

func TestRetriever_PartialFailure(t *testing.T) {
	failing := map[int]bool{30: true, 70: true}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		offset, limit := pageParams(r)
		if failing[offset] {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		_, _ = w.Write([]byte(pageBody(offset, limit)))
	}))
	defer srv.Close()

	fetcher := newTestFetcher(t, srv.URL, func(c *FetcherConfig) { c.Retry = fastRetry(2) })
	result := NewRetriever(fetcher, 100, 10, 4).Retrieve(context.Background())

	require.Len(t, result.Pages, 10)
	assert.Equal(t, 8, result.Succeeded())
	assert.Equal(t, 2, result.Failed())
	assert.Equal(t, []int{30, 70}, result.FailedOffsets())
	assert.InDelta(t, 0.8, result.CompletionRatio(), 1e-9)
	assert.Equal(t, 80, result.Table.Len())

	// rows are assembled in offset order
	assert.Equal(t, "T0000000", result.Table.Value(0, "ticket_number"))
	assert.Equal(t, "T0000029", result.Table.Value(29, "ticket_number"))
	assert.Equal(t, "T0000040", result.Table.Value(30, "ticket_number"))
	assert.Equal(t, "T0000099", result.Table.Value(79, "ticket_number"))
}

func TestRetriever_LastPageIsTruncated(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		offset, limit := pageParams(r)
		_, _ = w.Write([]byte(pageBody(offset, limit)))
	}))
	defer srv.Close()

	result := NewRetriever(newTestFetcher(t, srv.URL, nil), 25, 10, 2).Retrieve(context.Background())

	require.Len(t, result.Pages, 3)
	assert.Equal(t, 5, result.Pages[2].Limit)
	assert.Equal(t, 25, result.Table.Len())
}

func TestRetriever_AllPagesFail(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	result := NewRetriever(newTestFetcher(t, srv.URL, nil), 50, 10, 8).Retrieve(context.Background())

	assert.True(t, result.Table.Empty())
	assert.Equal(t, 0, result.Succeeded())
	assert.Equal(t, 0.0, result.CompletionRatio())
	assert.Len(t, result.FailedOffsets(), 5)
}

type stubFetcher struct {
	delay    time.Duration
	inFlight atomic.Int32
	peak     atomic.Int32
	calls    atomic.Int32
}

func (s *stubFetcher) FetchBatch(ctx context.Context, offset, limit int) Page {
	s.calls.Add(1)
	n := s.inFlight.Add(1)
	defer s.inFlight.Add(-1)
	for {
		peak := s.peak.Load()
		if n <= peak || s.peak.CompareAndSwap(peak, n) {
			break
		}
	}

	select {
	case <-ctx.Done():
		return Page{Offset: offset, Limit: limit, Table: dataset.NewTable(), Err: ctx.Err()}
	case <-time.After(s.delay):
	}

	t := dataset.NewTable(dataset.ColTicketNumber)
	for i := 0; i < limit; i++ {
		t.AppendRow([]string{"x"})
	}
	return Page{Offset: offset, Limit: limit, Table: t}
}

func TestRetriever_BoundsConcurrency(t *testing.T) {
	stub := &stubFetcher{delay: 10 * time.Millisecond}
	result := NewRetriever(stub, 200, 10, 3).Retrieve(context.Background())

	assert.Equal(t, int32(20), stub.calls.Load())
	assert.LessOrEqual(t, stub.peak.Load(), int32(3))
	assert.Equal(t, 200, result.Table.Len())
}

func TestRetriever_CancelledContext(t *testing.T) {
	stub := &stubFetcher{delay: time.Second}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result := NewRetriever(stub, 100, 10, 2).Retrieve(ctx)

	assert.Equal(t, int32(0), stub.calls.Load())
	require.Len(t, result.Pages, 10)
	for _, p := range result.Pages {
		assert.True(t, errors.Is(p.Err, context.Canceled))
	}
	assert.True(t, result.Table.Empty())
}
