// Package summary runs the full pipeline for one uploaded workbook: extract, classify,
// aggregate, export and publish.
package summary

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"sitealarms/services/summarizer/internal/alarms"
	"sitealarms/services/summarizer/internal/artifacts"
	"sitealarms/services/summarizer/internal/classify"
	"sitealarms/services/summarizer/internal/dashboard"
	"sitealarms/services/summarizer/internal/reference"
	"sitealarms/services/summarizer/internal/report"
	"sitealarms/services/summarizer/internal/session"
	"sitealarms/services/summarizer/internal/store"
	"sitealarms/services/summarizer/internal/workbook"
)

var ErrZoneRequired = errors.New("an operational zone must be selected")

const DefaultTimeout = 2 * time.Minute

type Options struct {
	TechSheets  []alarms.TechSheet
	EnvSheet    string
	RecencyDays int
	Location    *time.Location
	Timeout     time.Duration
}

// Request describes one pipeline invocation.
type Request struct {
	SessionID    string
	WorkbookPath string
	WorkbookName string
	Zone         string
	// From and To bound the report by calendar day, inclusive. Either may be zero.
	From     time.Time
	To       time.Time
	Comments map[string]string
}

type Outcome struct {
	RunID     string              `json:"runId"`
	Kind      string              `json:"kind"`
	Zone      string              `json:"zone"`
	Result    classify.Result     `json:"result"`
	Dashboard dashboard.Dashboard `json:"dashboard"`
	Artifact  report.Artifact     `json:"artifact"`
	ReportKey string              `json:"reportKey,omitempty"`
}

type Service struct {
	provider  reference.Provider
	engine    classify.Engine
	exporter  report.Exporter
	artifacts artifacts.Store
	ledger    store.Ledger
	sessions  session.Store
	notifier  Notifier
	opts      Options
	now       func() time.Time
}

func NewService(
	provider reference.Provider,
	exporter report.Exporter,
	artifactStore artifacts.Store,
	ledger store.Ledger,
	sessions session.Store,
	notifier Notifier,
	opts Options,
) *Service {
	if artifactStore == nil {
		artifactStore = artifacts.NewNoopStore()
	}
	if ledger == nil {
		ledger = store.NewNoopLedger()
	}
	if notifier == nil {
		notifier = NoopNotifier{}
	}
	if provider == nil {
		provider = reference.Static{}
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.Location == nil {
		opts.Location = time.Local
	}
	if opts.EnvSheet == "" {
		opts.EnvSheet = alarms.DefaultEnvSheet
	}

	return &Service{
		provider:  provider,
		engine:    classify.NewEngine(provider),
		exporter:  exporter,
		artifacts: artifactStore,
		ledger:    ledger,
		sessions:  sessions,
		notifier:  notifier,
		opts:      opts,
		now:       time.Now,
	}
}

// Run processes a fresh upload and remembers it for later re-exports of the same session.
func (s *Service) Run(ctx context.Context, req Request) (Outcome, error) {
	req.Zone = strings.TrimSpace(req.Zone)
	if req.Zone == "" {
		return Outcome{}, ErrZoneRequired
	}

	outcome, err := s.execute(ctx, req, store.RunKindUpload)
	if err != nil {
		return Outcome{}, err
	}

	if s.sessions != nil && req.SessionID != "" {
		upload := session.Upload{
			WorkbookPath: req.WorkbookPath,
			WorkbookName: req.WorkbookName,
			Zone:         req.Zone,
			RunID:        outcome.RunID,
			UploadedAt:   s.now().UTC(),
		}
		if err := s.sessions.RememberUpload(ctx, req.SessionID, upload); err != nil {
			log.Warn().Err(err).Str("runId", outcome.RunID).Msg("remember upload failed")
		}
	}
	return outcome, nil
}

// Reexport rebuilds the report of the session's last upload with the caller's comments and
// date range.
func (s *Service) Reexport(ctx context.Context, req Request) (Outcome, error) {
	if s.sessions == nil || req.SessionID == "" {
		return Outcome{}, session.ErrNoUpload
	}
	upload, err := s.sessions.LastUpload(ctx, req.SessionID)
	if err != nil {
		return Outcome{}, err
	}
	if _, err := os.Stat(upload.WorkbookPath); err != nil {
		log.Warn().Err(err).Str("path", upload.WorkbookPath).Msg("remembered upload is gone")
		return Outcome{}, session.ErrNoUpload
	}

	req.WorkbookPath = upload.WorkbookPath
	req.WorkbookName = upload.WorkbookName
	req.Zone = upload.Zone
	outcome, err := s.execute(ctx, req, store.RunKindReexport)
	if err != nil {
		return Outcome{}, err
	}

	upload.RunID = outcome.RunID
	if err := s.sessions.RememberUpload(ctx, req.SessionID, upload); err != nil {
		log.Warn().Err(err).Str("runId", outcome.RunID).Msg("remember re-export failed")
	}
	return outcome, nil
}

func (s *Service) execute(parent context.Context, req Request, kind string) (Outcome, error) {
	ctx, cancel := context.WithTimeout(parent, s.opts.Timeout)
	defer cancel()

	started := s.now()
	runID := uuid.NewString()
	logger := log.With().Str("runId", runID).Str("kind", kind).Str("zone", req.Zone).Logger()

	snapshot, err := s.provider.Refresh(ctx, started)
	if err != nil {
		logger.Warn().Err(err).Time("referenceLoadedAt", snapshot.LoadedAt).Msg("using cached reference data")
	}

	book, err := workbook.Open(req.WorkbookPath)
	if err != nil {
		return Outcome{}, fmt.Errorf("open workbook: %w", err)
	}
	defer func() {
		if err := book.Close(); err != nil {
			logger.Warn().Err(err).Msg("close workbook")
		}
	}()

	reportWindow := alarms.DayRange(req.From, req.To, s.opts.Location)
	extractWindow := reportWindow
	if !extractWindow.Active() {
		extractWindow = alarms.RecentDays(started, s.opts.RecencyDays)
	}

	extractor := alarms.Extractor{
		Snapshot:   snapshot,
		TechSheets: s.opts.TechSheets,
		EnvSheet:   s.opts.EnvSheet,
		Window:     extractWindow,
		Location:   s.opts.Location,
	}
	down, err := extractor.Down(ctx, book)
	if err != nil {
		return Outcome{}, fmt.Errorf("extract down alarms: %w", err)
	}
	env, err := extractor.Env(ctx, book)
	if err != nil {
		return Outcome{}, fmt.Errorf("extract environmental alarms: %w", err)
	}

	result := s.engine.Classify(ctx, classify.Input{
		Snapshot: snapshot,
		Down:     down,
		Env:      env,
		Zone:     req.Zone,
		Now:      started,
	})
	board := dashboard.Build(result.Rows)

	artifact, err := s.exporter.Export(ctx, result, report.Options{
		Comments: req.Comments,
		Window:   reportWindow,
		RunID:    runID,
	})
	if err != nil {
		return Outcome{}, fmt.Errorf("export report: %w", err)
	}

	outcome := Outcome{
		RunID:     runID,
		Kind:      kind,
		Zone:      req.Zone,
		Result:    result,
		Dashboard: board,
		Artifact:  artifact,
		ReportKey: s.publish(ctx, logger, runID, artifact),
	}

	s.record(ctx, logger, outcome, req, started)
	s.notify(ctx, logger, outcome)

	logger.Info().
		Int("rows", len(result.Rows)).
		Int("critical", len(result.Critical)).
		Int("totalDown", board.Summary.TotalDown).
		Int("partialDown", board.Summary.PartialDown).
		Dur("elapsed", s.now().Sub(started)).
		Msg("report generated")
	return outcome, nil
}

// publish copies the run's report to the artifact store. Failures leave the local run copy as
// the only one.
func (s *Service) publish(ctx context.Context, logger zerolog.Logger, runID string, artifact report.Artifact) string {
	objectKey := artifacts.ReportKey(runID, filepath.Base(artifact.Path))
	if err := s.artifacts.StoreObject(ctx, objectKey, artifact.Content, artifacts.XLSXContentType); err != nil {
		if !errors.Is(err, artifacts.ErrNotConfigured) {
			logger.Warn().Err(err).Str("objectKey", objectKey).Msg("publish report failed")
		}
		return ""
	}
	return objectKey
}

func (s *Service) record(ctx context.Context, logger zerolog.Logger, outcome Outcome, req Request, started time.Time) {
	_, err := s.ledger.RecordRun(ctx, store.RunInput{
		ID:           outcome.RunID,
		Kind:         outcome.Kind,
		Zone:         outcome.Zone,
		WorkbookName: filepath.Base(req.WorkbookName),
		ReportKey:    outcome.ReportKey,
		SiteRows:     len(outcome.Result.Rows),
		DownRows:     len(outcome.Dashboard.DownRows),
		EnvRows:      len(outcome.Dashboard.EnvOnlyRows),
		CriticalRows: len(outcome.Result.Critical),
		TotalDown:    outcome.Dashboard.Summary.TotalDown,
		PartialDown:  outcome.Dashboard.Summary.PartialDown,
		EnvAlarms:    outcome.Dashboard.Summary.EnvAlarms,
		DurationMs:   int(s.now().Sub(started).Milliseconds()),
	})
	if err != nil && !errors.Is(err, store.ErrNotConfigured) {
		logger.Warn().Err(err).Msg("record report run failed")
	}
}

func (s *Service) notify(ctx context.Context, logger zerolog.Logger, outcome Outcome) {
	if len(outcome.Result.Critical) == 0 {
		return
	}
	alert := CriticalAlert{
		RunID:     outcome.RunID,
		Zone:      outcome.Zone,
		ReportKey: outcome.ReportKey,
		Sites:     outcome.Result.Critical,
	}
	if err := s.notifier.NotifyCritical(ctx, alert); err != nil {
		logger.Warn().Err(err).Int("sites", len(alert.Sites)).Msg("critical alarm webhook failed")
	}
}
