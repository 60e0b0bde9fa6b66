package cache

import (
	"context"
	"time"

	"pharmapos/backend/internal/domain"
)

type ReportCache interface {
	Get(ctx context.Context, key string) (*domain.ProfitReport, bool, error)
	Set(ctx context.Context, key string, value *domain.ProfitReport, ttl time.Duration) error
	Invalidate(ctx context.Context) error
}

type NoopReportCache struct{}

func (NoopReportCache) Get(_ context.Context, _ string) (*domain.ProfitReport, bool, error) {
	return nil, false, nil
}

func (NoopReportCache) Set(_ context.Context, _ string, _ *domain.ProfitReport, _ time.Duration) error {
	return nil
}

func (NoopReportCache) Invalidate(_ context.Context) error {
	return nil
}
