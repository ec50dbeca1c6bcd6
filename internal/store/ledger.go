package store

import (
	"context"
	"errors"
	"time"
)

var ErrNotConfigured = errors.New("report ledger not configured")

const (
	defaultListLimit = 50
	maxListLimit     = 500
)

type Ledger interface {
	RecordRun(ctx context.Context, input RunInput) (Run, error)
	ListRuns(ctx context.Context, limit int) ([]Run, error)
	ExpiredRuns(ctx context.Context, olderThan time.Time) ([]Run, error)
	DeleteRuns(ctx context.Context, ids []string) (int, error)
	Health(ctx context.Context) error
	Close()
}

type NoopLedger struct{}

func NewNoopLedger() *NoopLedger {
	return &NoopLedger{}
}

func (l *NoopLedger) RecordRun(_ context.Context, _ RunInput) (Run, error) {
	return Run{}, ErrNotConfigured
}

func (l *NoopLedger) ListRuns(_ context.Context, _ int) ([]Run, error) {
	return nil, ErrNotConfigured
}

func (l *NoopLedger) ExpiredRuns(_ context.Context, _ time.Time) ([]Run, error) {
	return nil, ErrNotConfigured
}

func (l *NoopLedger) DeleteRuns(_ context.Context, _ []string) (int, error) {
	return 0, ErrNotConfigured
}

func (l *NoopLedger) Health(_ context.Context) error {
	return ErrNotConfigured
}

func (l *NoopLedger) Close() {}

func clampLimit(limit int) int {
	if limit <= 0 {
		return defaultListLimit
	}
	if limit > maxListLimit {
		return maxListLimit
	}
	return limit
}

// RetentionCutoff is the creation time before which runs are expired.
func RetentionCutoff(now time.Time, retentionDays int) time.Time {
	if retentionDays < 1 {
		retentionDays = 1
	}
	return now.AddDate(0, 0, -retentionDays)
}
