package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/alanyoungcy/sniperbot/internal/domain"
)

// DefaultOnlineTimeout is how long a heartbeat keeps a worker online.
const DefaultOnlineTimeout = 30 * time.Second

// IsOnline reports whether a heartbeat at lastSeen is still fresh at now.
// A gap of exactly timeout counts as offline.
func IsOnline(lastSeen, now time.Time, timeout time.Duration) bool {
	return now.Sub(lastSeen) < timeout
}

// LivenessService records worker heartbeats. It is informational and never
// gates lifecycle operations.
type LivenessService struct {
	workers domain.WorkerStore
	timeout time.Duration
	hooks   Hooks
	now     func() time.Time
	logger  *slog.Logger
}

// NewLivenessService creates a LivenessService. A non-positive timeout uses
// DefaultOnlineTimeout.
func NewLivenessService(workers domain.WorkerStore, timeout time.Duration, hooks Hooks, logger *slog.Logger) *LivenessService {
	if timeout <= 0 {
		timeout = DefaultOnlineTimeout
	}
	return &LivenessService{
		workers: workers,
		timeout: timeout,
		hooks:   hooks,
		now:     time.Now,
		logger:  logger.With(slog.String("component", "liveness")),
	}
}

// Heartbeat upserts the worker's last-seen time with status online.
func (s *LivenessService) Heartbeat(ctx context.Context, name string, metadata map[string]any) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return fmt.Errorf("liveness: heartbeat: %w: empty worker name", domain.ErrInvalidInput)
	}
	hb := domain.WorkerHeartbeat{
		Name:     name,
		Status:   "online",
		Metadata: metadata,
		LastSeen: s.now().UTC(),
	}
	if err := s.workers.Upsert(ctx, hb); err != nil {
		return fmt.Errorf("liveness: heartbeat %s: %w", name, err)
	}
	s.hooks.Metrics.Heartbeat(name)
	s.logger.DebugContext(ctx, "liveness: heartbeat", slog.String("worker", name))
	return nil
}

// IsOnline reports whether the named worker has a fresh heartbeat at now.
// Unknown workers are offline.
func (s *LivenessService) IsOnline(ctx context.Context, name string, now time.Time) (bool, error) {
	hb, err := s.workers.Get(ctx, name)
	if errors.Is(err, domain.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("liveness: get %s: %w", name, err)
	}
	return IsOnline(hb.LastSeen, now, s.timeout), nil
}

// List returns every known worker with its online flag at now.
func (s *LivenessService) List(ctx context.Context, now time.Time) ([]domain.WorkerStatus, error) {
	hbs, err := s.workers.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("liveness: list: %w", err)
	}
	out := make([]domain.WorkerStatus, 0, len(hbs))
	for _, hb := range hbs {
		st := domain.WorkerStatus{WorkerHeartbeat: hb, Online: IsOnline(hb.LastSeen, now, s.timeout)}
		if !st.Online {
			st.Status = "offline"
		}
		out = append(out, st)
	}
	return out, nil
}
