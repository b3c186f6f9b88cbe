package worker

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"
)

// MonthArchiver uploads closed trades for complete months before a cutoff.
type MonthArchiver interface {
	ArchiveClosedTrades(ctx context.Context, before time.Time) (int64, error)
}

// ArchiveJob runs the closed-trade archiver on a cron schedule.
type ArchiveJob struct {
	archiver MonthArchiver
	logger   *slog.Logger
	now      func() time.Time
}

// NewArchiveJob creates an ArchiveJob.
func NewArchiveJob(archiver MonthArchiver, logger *slog.Logger) *ArchiveJob {
	return &ArchiveJob{
		archiver: archiver,
		logger:   logger.With(slog.String("component", "archive_job")),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Run archives every complete month before now.
func (j *ArchiveJob) Run(ctx context.Context) error {
	now := j.now()
	j.logger.InfoContext(ctx, "archive: run started", slog.Time("before", now))
	n, err := j.archiver.ArchiveClosedTrades(ctx, now)
	if err != nil {
		return fmt.Errorf("archive: closed trades: %w", err)
	}
	j.logger.InfoContext(ctx, "archive: run complete", slog.Int64("trades_archived", n))
	return nil
}

// RunCron runs the job on a 5-field cron expression until ctx is cancelled,
// e.g. "0 3 1 * *" for 03:00 UTC on the first of each month. As in standard
// cron, a day matches either day-of-month or day-of-week when both are
// restricted.
func (j *ArchiveJob) RunCron(ctx context.Context, expr string) error {
	sched, err := parseCron(expr)
	if err != nil {
		return fmt.Errorf("archive: cron %q: %w", expr, err)
	}
	j.logger.InfoContext(ctx, "archive: cron started", slog.String("cron", expr))

	for {
		next, err := sched.next(j.now())
		if err != nil {
			return fmt.Errorf("archive: cron %q: %w", expr, err)
		}
		timer := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
			if err := j.Run(ctx); err != nil {
				j.logger.ErrorContext(ctx, "archive: run failed", slog.String("error", err.Error()))
			}
		}
	}
}

// cronField matches one cron position. A nil set matches everything. star
// records a field written as "*" or "*/n".
type cronField struct {
	set  map[int]bool
	star bool
}

func (f cronField) matches(v int) bool {
	return f.set == nil || f.set[v]
}

// parseCronField accepts "*", "*/n", "a", "a-b", "a-b/n" and comma lists of
// those, bounded by [lo, hi].
func parseCronField(field string, lo, hi int) (cronField, error) {
	if field == "*" {
		return cronField{star: true}, nil
	}
	set := make(map[int]bool)
	for _, part := range strings.Split(field, ",") {
		part = strings.TrimSpace(part)
		step := 1
		if base, s, ok := strings.Cut(part, "/"); ok {
			n, err := strconv.Atoi(s)
			if err != nil || n <= 0 {
				return cronField{}, fmt.Errorf("invalid step %q", part)
			}
			step, part = n, base
		}
		from, to := lo, hi
		switch {
		case part == "*":
		case strings.Contains(part, "-"):
			a, b, _ := strings.Cut(part, "-")
			var err error
			if from, err = strconv.Atoi(a); err != nil {
				return cronField{}, fmt.Errorf("invalid range %q", part)
			}
			if to, err = strconv.Atoi(b); err != nil {
				return cronField{}, fmt.Errorf("invalid range %q", part)
			}
		default:
			v, err := strconv.Atoi(part)
			if err != nil {
				return cronField{}, fmt.Errorf("invalid value %q", part)
			}
			from, to = v, v
		}
		if from < lo || to > hi || from > to {
			return cronField{}, fmt.Errorf("value %q outside [%d,%d]", part, lo, hi)
		}
		for v := from; v <= to; v += step {
			set[v] = true
		}
	}
	return cronField{set: set, star: strings.HasPrefix(field, "*")}, nil
}

type schedule struct {
	minute, hour, dom, month, dow cronField
}

func parseCron(expr string) (schedule, error) {
	fields := strings.Fields(expr)
	if len(fields) != 5 {
		return schedule{}, fmt.Errorf("want 5 fields, got %d", len(fields))
	}
	bounds := [5][2]int{{0, 59}, {0, 23}, {1, 31}, {1, 12}, {0, 6}}
	var parsed [5]cronField
	for i, f := range fields {
		cf, err := parseCronField(f, bounds[i][0], bounds[i][1])
		if err != nil {
			return schedule{}, fmt.Errorf("field %d: %w", i+1, err)
		}
		parsed[i] = cf
	}
	return schedule{parsed[0], parsed[1], parsed[2], parsed[3], parsed[4]}, nil
}

func (s schedule) matches(t time.Time) bool {
	return s.minute.matches(t.Minute()) &&
		s.hour.matches(t.Hour()) &&
		s.month.matches(int(t.Month())) &&
		s.dayMatches(t)
}

func (s schedule) dayMatches(t time.Time) bool {
	dom, dow := s.dom.matches(t.Day()), s.dow.matches(int(t.Weekday()))
	if s.dom.star || s.dow.star {
		return dom && dow
	}
	return dom || dow
}

// maxCronSearchYears reaches the next Feb 29 across a skipped century leap year.
const maxCronSearchYears = 8

// next returns the first minute strictly after t that matches. It skips
// whole days and hours that cannot match.
func (s schedule) next(t time.Time) (time.Time, error) {
	c := t.Truncate(time.Minute).Add(time.Minute)
	limit := c.AddDate(maxCronSearchYears, 0, 0)
	loc := c.Location()
	for c.Before(limit) {
		switch {
		case !s.month.matches(int(c.Month())) || !s.dayMatches(c):
			c = time.Date(c.Year(), c.Month(), c.Day()+1, 0, 0, 0, 0, loc)
		case !s.hour.matches(c.Hour()):
			c = time.Date(c.Year(), c.Month(), c.Day(), c.Hour()+1, 0, 0, 0, loc)
		case !s.minute.matches(c.Minute()):
			c = c.Add(time.Minute)
		default:
			return c, nil
		}
	}
	return time.Time{}, fmt.Errorf("no match within %d years after %s", maxCronSearchYears, t.Format(time.RFC3339))
}
