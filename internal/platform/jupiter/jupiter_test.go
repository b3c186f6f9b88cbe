package jupiter

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/sniperbot/internal/domain"
)

const bonk = "DezXAZ8z7PnrnRJjz3wXBoRgixCa6xjnB7YaB1pPB263"

func TestClient_Price(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, bonk, r.URL.Query().Get("ids"))
		assert.Equal(t, WrappedSOL, r.URL.Query().Get("vsToken"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"data":{"`+bonk+`":{"id":"`+bonk+`","type":"derivedPrice","price":"0.000000123"}},"timeTaken":0.01}`)
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	p, err := c.Price(context.Background(), domain.ChainSolana, bonk)
	require.NoError(t, err)
	assert.InDelta(t, 0.000000123, p, 1e-15)
}

func TestClient_NumericPriceAndMissing(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, `{"data":{"a":{"id":"a","price":1.5},"b":null,"c":{"id":"c","price":"0"}}}`)
	}))
	defer srv.Close()

	prices, err := NewClient(srv.URL).Prices(context.Background(), domain.ChainSolana, []string{"a", "b", "c"})
	require.NoError(t, err)
	assert.Equal(t, map[string]float64{"a": 1.5}, prices)

	_, err = NewClient(srv.URL).Price(context.Background(), domain.ChainSolana, "b")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestClient_StatusMapping(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "slow down", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL).Price(context.Background(), domain.ChainSolana, bonk)
	assert.ErrorIs(t, err, domain.ErrRateLimited)
}

func TestClient_UnsupportedChain(t *testing.T) {
	_, err := NewClient("http://unused").Price(context.Background(), domain.ChainBase, "0xabc")
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

type countingSource struct {
	calls int
	price float64
}

func (s *countingSource) Price(context.Context, domain.Chain, string) (float64, error) {
	s.calls++
	return s.price, nil
}

type mapCache struct {
	mu sync.Mutex
	m  map[string]struct {
		p  float64
		ts time.Time
	}
}

func (c *mapCache) SetPrice(_ context.Context, k string, p float64, ts time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.m == nil {
		c.m = map[string]struct {
			p  float64
			ts time.Time
		}{}
	}
	c.m[k] = struct {
		p  float64
		ts time.Time
	}{p, ts}
	return nil
}

func (c *mapCache) GetPrice(_ context.Context, k string) (float64, time.Time, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.m[k]
	if !ok {
		return 0, time.Time{}, domain.ErrNotFound
	}
	return v.p, v.ts, nil
}

func (c *mapCache) GetPrices(context.Context, []string) (map[string]float64, error) {
	return nil, nil
}

func TestCachedSource(t *testing.T) {
	src := &countingSource{price: 2}
	cs := NewCachedSource(src, &mapCache{}, 5*time.Second, slog.New(slog.NewTextHandler(io.Discard, nil)))
	now := time.Unix(1_700_000_000, 0)
	cs.now = func() time.Time { return now }

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		p, err := cs.Price(ctx, domain.ChainSolana, bonk)
		require.NoError(t, err)
		assert.Equal(t, 2.0, p)
	}
	assert.Equal(t, 1, src.calls)

	now = now.Add(6 * time.Second)
	_, err := cs.Price(ctx, domain.ChainSolana, bonk)
	require.NoError(t, err)
	assert.Equal(t, 2, src.calls)
}
