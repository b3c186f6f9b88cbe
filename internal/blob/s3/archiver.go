package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/sniperbot/internal/domain"
)

const jsonlContentType = "application/x-ndjson"

// ArchiverConfig bounds one archive run.
type ArchiverConfig struct {
	// LookbackMonths is how many complete months before the cutoff are
	// considered on each run.
	LookbackMonths int
	// BatchSize caps the trades written to one monthly object.
	BatchSize int
}

// Archiver implements domain.Archiver. It writes one JSONL object per
// complete calendar month for closed trades and another for their ledger
// events. Months whose trades object already exists are skipped, so runs
// are idempotent. Nothing is deleted from the primary store.
type Archiver struct {
	blobs  domain.BlobStore
	trades domain.TradeStore
	events domain.EventReader
	cfg    ArchiverConfig
	logger *slog.Logger
}

// NewArchiver creates an Archiver.
func NewArchiver(
	blobs domain.BlobStore,
	trades domain.TradeStore,
	events domain.EventReader,
	cfg ArchiverConfig,
	logger *slog.Logger,
) *Archiver {
	if cfg.LookbackMonths <= 0 {
		cfg.LookbackMonths = 12
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 10000
	}
	return &Archiver{
		blobs:  blobs,
		trades: trades,
		events: events,
		cfg:    cfg,
		logger: logger.With(slog.String("component", "archiver")),
	}
}

// ArchiveClosedTrades uploads every complete month that ends at or before
// the cutoff and returns the number of trades written.
func (a *Archiver) ArchiveClosedTrades(ctx context.Context, before time.Time) (int64, error) {
	before = before.UTC()
	cutoff := time.Date(before.Year(), before.Month(), 1, 0, 0, 0, 0, time.UTC)

	var total int64
	for k := a.cfg.LookbackMonths; k >= 1; k-- {
		start := cutoff.AddDate(0, -k, 0)
		n, err := a.archiveMonth(ctx, start, start.AddDate(0, 1, 0))
		if err != nil {
			return total, err
		}
		total += n
	}
	return total, nil
}

func (a *Archiver) archiveMonth(ctx context.Context, start, end time.Time) (int64, error) {
	tradesPath := archivePath("trades", start)
	exists, err := a.blobs.Exists(ctx, tradesPath)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive %s: %w", tradesPath, err)
	}
	if exists {
		return 0, nil
	}

	trades, err := a.trades.ListClosedBetween(ctx, start, end, a.cfg.BatchSize+1)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive query %s: %w", start.Format("2006-01"), err)
	}
	if len(trades) == 0 {
		return 0, nil
	}
	if len(trades) > a.cfg.BatchSize {
		return 0, fmt.Errorf("s3blob: archive %s: more than %d closed trades in month", start.Format("2006-01"), a.cfg.BatchSize)
	}

	var events []domain.TradeEvent
	for _, t := range trades {
		evs, err := a.events.ListByTrade(ctx, t.ID)
		if err != nil {
			return 0, fmt.Errorf("s3blob: archive events for %s: %w", t.ID, err)
		}
		events = append(events, evs...)
	}

	// Events go first: the trades object marks the month as done.
	eventsPath := archivePath("events", start)
	if err := uploadJSONL(ctx, a.blobs, eventsPath, events); err != nil {
		return 0, err
	}
	if err := uploadJSONL(ctx, a.blobs, tradesPath, trades); err != nil {
		return 0, err
	}

	a.logger.InfoContext(ctx, "archiver: month archived",
		slog.String("month", start.Format("2006-01")),
		slog.Int("trades", len(trades)),
		slog.Int("events", len(events)),
	)
	return int64(len(trades)), nil
}

func uploadJSONL[T any](ctx context.Context, blobs domain.BlobStore, path string, records []T) error {
	buf, err := marshalJSONL(records)
	if err != nil {
		return fmt.Errorf("s3blob: archive marshal %s: %w", path, err)
	}
	err = blobs.Upload(ctx, domain.BlobObject{
		Path:        path,
		ContentType: jsonlContentType,
		Records:     len(records),
		Body:        buf,
	})
	if err != nil {
		return fmt.Errorf("s3blob: archive upload %s: %w", path, err)
	}
	return nil
}

// archivePath is archive/<kind>/YYYY-MM.jsonl.
func archivePath(kind string, month time.Time) string {
	return fmt.Sprintf("archive/%s/%s.jsonl", kind, month.Format("2006-01"))
}

// marshalJSONL encodes records as newline-delimited JSON.
func marshalJSONL[T any](records []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	for i, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return nil, fmt.Errorf("jsonl encode record %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}

var _ domain.Archiver = (*Archiver)(nil)
