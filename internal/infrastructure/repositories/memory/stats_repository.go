package memory

import (
	"context"
	"sync"
	"time"

	"streamgate/internal/core/domain"
	"streamgate/internal/core/ports"
)

type StatsRepository struct {
	mu    sync.Mutex
	stats map[domain.StreamKey]*domain.StreamStats
}

func NewStatsRepository() *StatsRepository {
	return &StatsRepository{stats: make(map[domain.StreamKey]*domain.StreamStats)}
}

var _ ports.StatsRepository = (*StatsRepository)(nil)

func (r *StatsRepository) RecordPublish(_ context.Context, key domain.StreamKey, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := r.entry(key)
	s.TotalPublishes++
	t := at.UTC()
	s.LastPublish = &t
	return nil
}

func (r *StatsRepository) RecordPlay(_ context.Context, key domain.StreamKey, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := r.entry(key)
	s.TotalPlays++
	t := at.UTC()
	s.LastPlay = &t
	return nil
}

func (r *StatsRepository) Get(_ context.Context, key domain.StreamKey) (*domain.StreamStats, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.stats[key]; ok {
		cp := *s
		return &cp, nil
	}
	return &domain.StreamStats{StreamKey: key}, nil
}

func (r *StatsRepository) entry(key domain.StreamKey) *domain.StreamStats {
	s, ok := r.stats[key]
	if !ok {
		s = &domain.StreamStats{StreamKey: key}
		r.stats[key] = s
	}
	return s
}
