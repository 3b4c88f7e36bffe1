package store

import (
	"context"
	"fmt"

	"rateshopper/internal/model"
)

// Snapshot is a point-in-time view of the job queue and lock table, consumed
// by the status command and the ops HTTP surface.
type Snapshot struct {
	SearchCounts map[model.SearchStatus]int64 `json:"search_counts"`
	Locks        []model.ExtractionLock       `json:"locks"`
}

// QueueSnapshot counts searches per status and lists the live leases.
func (s *gormStore) QueueSnapshot(ctx context.Context) (*Snapshot, error) {
	type statusCount struct {
		Status model.SearchStatus
		N      int64
	}
	var rows []statusCount
	err := s.db.WithContext(ctx).Model(&model.Search{}).
		Select("status, COUNT(*) AS n").
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to count searches: %w", err)
	}

	snap := &Snapshot{SearchCounts: make(map[model.SearchStatus]int64, len(rows))}
	for _, r := range rows {
		snap.SearchCounts[r.Status] = r.N
	}

	locks, err := s.ActiveLocks(ctx)
	if err != nil {
		return nil, err
	}
	snap.Locks = locks
	return snap, nil
}
