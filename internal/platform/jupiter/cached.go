package jupiter

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/alanyoungcy/sniperbot/internal/domain"
)

// CachedSource fronts a PriceSource with a PriceCache. Quotes younger than
// maxAge are served from the cache; fresh quotes are written back.
type CachedSource struct {
	src    domain.PriceSource
	cache  domain.PriceCache
	maxAge time.Duration
	now    func() time.Time
	logger *slog.Logger
}

// NewCachedSource wraps src with cache.
func NewCachedSource(src domain.PriceSource, cache domain.PriceCache, maxAge time.Duration, logger *slog.Logger) *CachedSource {
	return &CachedSource{
		src:    src,
		cache:  cache,
		maxAge: maxAge,
		now:    time.Now,
		logger: logger.With(slog.String("component", "price_cache")),
	}
}

// Price returns a cached quote when fresh, otherwise asks the source.
func (s *CachedSource) Price(ctx context.Context, chain domain.Chain, mint string) (float64, error) {
	key := string(chain) + ":" + mint
	now := s.now()

	price, ts, err := s.cache.GetPrice(ctx, key)
	switch {
	case err == nil && now.Sub(ts) < s.maxAge:
		return price, nil
	case err != nil && !errors.Is(err, domain.ErrNotFound):
		s.logger.WarnContext(ctx, "price_cache: read failed", slog.String("mint", mint), slog.String("error", err.Error()))
	}

	price, err = s.src.Price(ctx, chain, mint)
	if err != nil {
		return 0, err
	}
	if err := s.cache.SetPrice(ctx, key, price, now); err != nil {
		s.logger.WarnContext(ctx, "price_cache: write failed", slog.String("mint", mint), slog.String("error", err.Error()))
	}
	return price, nil
}

var _ domain.PriceSource = (*CachedSource)(nil)
