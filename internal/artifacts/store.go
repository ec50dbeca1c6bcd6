package artifacts

import (
	"context"
	"errors"
	"path"
	"strings"
)

var ErrNotConfigured = errors.New("artifact store not configured")

// ReportPrefix is the key prefix of every published report workbook.
const ReportPrefix = "reports/"

const XLSXContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

type Store interface {
	StoreObject(ctx context.Context, objectKey string, payload []byte, contentType string) error
	LoadObject(ctx context.Context, objectKey string) ([]byte, string, error)
	DeleteObject(ctx context.Context, objectKey string) error
	Close() error
}

type LifecycleConfigurer interface {
	EnsureLifecyclePolicy(ctx context.Context, expirationDays int, prefixes []string) error
}

// ReportKey is the object key of the report produced by one run.
func ReportKey(runID, fileName string) string {
	fileName = path.Base(strings.TrimSpace(fileName))
	if fileName == "." || fileName == "/" || fileName == "" {
		fileName = "Summary.xlsx"
	}
	return ReportPrefix + strings.TrimSpace(runID) + "/" + fileName
}

type NoopStore struct{}

func NewNoopStore() *NoopStore {
	return &NoopStore{}
}

func (s *NoopStore) StoreObject(_ context.Context, _ string, _ []byte, _ string) error {
	return ErrNotConfigured
}

func (s *NoopStore) LoadObject(_ context.Context, _ string) ([]byte, string, error) {
	return nil, "", ErrNotConfigured
}

func (s *NoopStore) DeleteObject(_ context.Context, _ string) error {
	return ErrNotConfigured
}

func (s *NoopStore) Close() error {
	return nil
}

func (s *NoopStore) EnsureLifecyclePolicy(_ context.Context, _ int, _ []string) error {
	return ErrNotConfigured
}
