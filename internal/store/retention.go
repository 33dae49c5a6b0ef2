package store

import (
	"context"
	"fmt"
	"time"
)

// PruneEvents deletes project events older than maxAge and returns how many
// were removed. Projects, tasks and their positions are never touched.
func (s *Store) PruneEvents(ctx context.Context, maxAge time.Duration) (int64, error) {
	if maxAge <= 0 {
		return 0, nil
	}
	cutoff := time.Now().Add(-maxAge).UnixMilli()

	res, err := s.db.ExecContext(ctx, "DELETE FROM project_events WHERE created_at < ?", cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to prune events: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// SizeBytes returns the database size in bytes.
func (s *Store) SizeBytes(ctx context.Context) (int64, error) {
	var pageCount, pageSize int64
	if err := s.db.QueryRowContext(ctx, "PRAGMA page_count").Scan(&pageCount); err != nil {
		return 0, fmt.Errorf("failed to get page count: %w", err)
	}
	if err := s.db.QueryRowContext(ctx, "PRAGMA page_size").Scan(&pageSize); err != nil {
		return 0, fmt.Errorf("failed to get page size: %w", err)
	}
	return pageCount * pageSize, nil
}

// RunRetention prunes events older than maxAge every interval until ctx is
// cancelled.
func (s *Store) RunRetention(ctx context.Context, maxAge, interval time.Duration) {
	if maxAge <= 0 {
		return
	}
	if interval <= 0 {
		interval = time.Hour
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		n, err := s.PruneEvents(ctx, maxAge)
		if err != nil {
			s.logger.Error().Err(err).Msg("retention pass failed")
		} else {
			size, _ := s.SizeBytes(ctx)
			s.logger.Info().Int64("events_pruned", n).Int64("db_size_bytes", size).Msg("retention pass done")
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
