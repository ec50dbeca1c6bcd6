package main

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/samber/lo"

	"sitealarms/services/summarizer/internal/artifacts"
	"sitealarms/services/summarizer/internal/reference"
	"sitealarms/services/summarizer/internal/report"
	"sitealarms/services/summarizer/internal/store"
)

type maintenanceObserver interface {
	ObserveCleanup(reportObjects, uploadDirs int)
	ObserveReferenceRefreshError()
}

type maintenance struct {
	ledger        store.Ledger
	artifactStore artifacts.Store
	references    *reference.Cache
	observer      maintenanceObserver
	uploadDir     string
	reportDir     string
	retentionDays int
	now           func() time.Time
}

func startMaintenanceLoops(
	ctx context.Context,
	m *maintenance,
	cleanupInterval time.Duration,
	referenceInterval time.Duration,
) {
	if cleanupInterval > 0 {
		go runLoop(ctx, cleanupInterval, func(cycleCtx context.Context) {
			m.runCleanupCycle(cycleCtx)
		})
	}
	if referenceInterval > 0 && m.references != nil {
		go runLoop(ctx, referenceInterval, m.runReferenceRefresh)
	}
}

func runLoop(ctx context.Context, interval time.Duration, cycle func(context.Context)) {
	run := func() {
		cycleCtx, cancel := context.WithTimeout(ctx, 45*time.Second)
		defer cancel()
		cycle(cycleCtx)
	}
	run()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			run()
		}
	}
}

// runReferenceRefresh reloads the reference snapshot ahead of requests. A failed reload keeps
// the previous snapshot.
func (m *maintenance) runReferenceRefresh(ctx context.Context) {
	m.references.Invalidate()
	snapshot, err := m.references.Refresh(ctx, m.now())
	if err != nil {
		if m.observer != nil {
			m.observer.ObserveReferenceRefreshError()
		}
		log.Warn().Err(err).Time("servedLoadedAt", snapshot.LoadedAt).Msg("reference refresh failed")
		return
	}
	log.Debug().Int("sites", len(snapshot.Sites)).Int("zones", len(snapshot.Zones())).Msg("reference data refreshed")
}

// runCleanupCycle drops ledger runs past retention with their published reports, and upload
// and per-run report directories older than the same cutoff.
func (m *maintenance) runCleanupCycle(ctx context.Context) store.CleanupResult {
	now := m.now()
	cutoff := store.RetentionCutoff(now, m.retentionDays)
	result := store.CleanupResult{RetentionDays: m.retentionDays}

	runs, err := m.ledger.ExpiredRuns(ctx, cutoff)
	switch {
	case errors.Is(err, store.ErrNotConfigured):
	case err != nil:
		log.Error().Err(err).Msg("auto-cleanup failed loading expired runs")
	default:
		m.deleteRuns(ctx, runs, &result)
	}

	uploadDirs := removeStaleDirs(m.uploadDir, cutoff)
	reportDirs := 0
	if m.reportDir != "" {
		reportDirs = removeStaleDirs(filepath.Join(m.reportDir, report.RunsDir), cutoff)
	}
	if m.observer != nil {
		m.observer.ObserveCleanup(result.DeletedReportObjects, uploadDirs)
	}

	log.Info().
		Int("runs", result.DeletedRuns).
		Int("reportObjects", result.DeletedReportObjects).
		Int("failedReportObjects", result.FailedReportObjectDelete).
		Int("uploadDirs", uploadDirs).
		Int("reportDirs", reportDirs).
		Int("retentionDays", result.RetentionDays).
		Msg("auto-cleanup completed")
	return result
}

func (m *maintenance) deleteRuns(ctx context.Context, runs []store.Run, result *store.CleanupResult) {
	if len(runs) == 0 {
		return
	}

	for _, objectKey := range lo.Uniq(lo.FilterMap(runs, func(run store.Run, _ int) (string, bool) {
		return run.ReportKey, run.ReportKey != ""
	})) {
		err := m.artifactStore.DeleteObject(ctx, objectKey)
		switch {
		case err == nil:
			result.DeletedReportObjects++
			result.DeletedReportObjectKeys = append(result.DeletedReportObjectKeys, objectKey)
		case errors.Is(err, artifacts.ErrNotConfigured):
		default:
			result.FailedReportObjectDelete++
			log.Warn().Err(err).Str("objectKey", objectKey).Msg("auto-cleanup failed deleting report object")
		}
	}

	deleted, err := m.ledger.DeleteRuns(ctx, lo.Map(runs, func(run store.Run, _ int) string { return run.ID }))
	if err != nil {
		log.Error().Err(err).Int("runs", len(runs)).Msg("auto-cleanup failed deleting runs")
		return
	}
	result.DeletedRuns = deleted
}

// removeStaleDirs deletes the per-upload or per-run directories under root last modified before
// cutoff. Only directories named by a uuid are considered.
func removeStaleDirs(root string, cutoff time.Time) int {
	if root == "" {
		return 0
	}
	entries, err := os.ReadDir(root)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			log.Warn().Err(err).Str("dir", root).Msg("auto-cleanup failed listing directory")
		}
		return 0
	}

	removed := 0
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		if _, err := uuid.Parse(entry.Name()); err != nil {
			continue
		}
		info, err := entry.Info()
		if err != nil || !info.ModTime().Before(cutoff) {
			continue
		}
		path := filepath.Join(root, entry.Name())
		if err := os.RemoveAll(path); err != nil {
			log.Warn().Err(err).Str("dir", path).Msg("auto-cleanup failed removing directory")
			continue
		}
		removed++
	}
	return removed
}
