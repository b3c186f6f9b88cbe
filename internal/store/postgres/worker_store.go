package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/alanyoungcy/sniperbot/internal/domain"
)

// WorkerStore implements domain.WorkerStore using PostgreSQL.
type WorkerStore struct {
	q querier
}

// Upsert records the latest heartbeat of a worker.
func (s *WorkerStore) Upsert(ctx context.Context, hb domain.WorkerHeartbeat) error {
	meta, err := json.Marshal(hb.Metadata)
	if err != nil {
		return fmt.Errorf("postgres: marshal worker metadata: %w", err)
	}
	if hb.Metadata == nil {
		meta = []byte("{}")
	}
	_, err = s.q.Exec(ctx,
		`INSERT INTO workers (name, status, metadata, last_seen)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (name) DO UPDATE SET
			status    = EXCLUDED.status,
			metadata  = EXCLUDED.metadata,
			last_seen = EXCLUDED.last_seen`,
		hb.Name, hb.Status, meta, hb.LastSeen)
	if err != nil {
		return fmt.Errorf("postgres: upsert worker %s: %w", hb.Name, err)
	}
	return nil
}

// Get returns the last heartbeat of a worker.
func (s *WorkerStore) Get(ctx context.Context, name string) (domain.WorkerHeartbeat, error) {
	hb, err := scanWorker(s.q.QueryRow(ctx,
		`SELECT name, status, metadata, last_seen FROM workers WHERE name = $1`, name))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.WorkerHeartbeat{}, domain.ErrNotFound
		}
		return domain.WorkerHeartbeat{}, fmt.Errorf("postgres: get worker %s: %w", name, err)
	}
	return hb, nil
}

// List returns all workers sorted by name.
func (s *WorkerStore) List(ctx context.Context) ([]domain.WorkerHeartbeat, error) {
	rows, err := s.q.Query(ctx, `SELECT name, status, metadata, last_seen FROM workers ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("postgres: list workers: %w", err)
	}
	defer rows.Close()

	var out []domain.WorkerHeartbeat
	for rows.Next() {
		hb, err := scanWorker(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan worker: %w", err)
		}
		out = append(out, hb)
	}
	return out, rows.Err()
}

func scanWorker(row pgx.Row) (domain.WorkerHeartbeat, error) {
	var (
		hb   domain.WorkerHeartbeat
		meta []byte
	)
	if err := row.Scan(&hb.Name, &hb.Status, &meta, &hb.LastSeen); err != nil {
		return domain.WorkerHeartbeat{}, err
	}
	if len(meta) > 0 {
		if err := json.Unmarshal(meta, &hb.Metadata); err != nil {
			return domain.WorkerHeartbeat{}, err
		}
	}
	return hb, nil
}
