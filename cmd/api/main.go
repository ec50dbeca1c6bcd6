package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"sitealarms/services/summarizer/internal/alarms"
	"sitealarms/services/summarizer/internal/api"
	"sitealarms/services/summarizer/internal/artifacts"
	"sitealarms/services/summarizer/internal/config"
	"sitealarms/services/summarizer/internal/logging"
	"sitealarms/services/summarizer/internal/reference"
	"sitealarms/services/summarizer/internal/report"
	"sitealarms/services/summarizer/internal/session"
	"sitealarms/services/summarizer/internal/store"
	"sitealarms/services/summarizer/internal/summary"
)

func main() {
	cfg := config.Load()
	if err := logging.Init(logging.Config{Level: cfg.LogLevel, Format: cfg.LogFormat}); err != nil {
		log.Warn().Err(err).Str("level", cfg.LogLevel).Msg("unknown log level, using info")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var ledger store.Ledger = store.NewNoopLedger()
	if cfg.DatabaseURL != "" {
		db, err := store.NewPostgres(ctx, cfg.DatabaseURL)
		if err != nil {
			log.Fatal().Err(err).Msg("database connection failed")
		}
		if err := db.EnsureSchema(ctx); err != nil {
			log.Fatal().Err(err).Msg("database schema setup failed")
		}
		ledger = db
	}
	defer ledger.Close()

	var artifactStore artifacts.Store = artifacts.NewNoopStore()
	if cfg.S3Bucket != "" {
		s3Store, err := artifacts.NewS3Store(ctx, cfg.S3Region, cfg.S3Endpoint, cfg.S3AccessKey, cfg.S3SecretKey, cfg.S3Bucket)
		if err != nil {
			log.Fatal().Err(err).Msg("artifact store setup failed")
		}
		if err := s3Store.EnsureLifecyclePolicy(ctx, cfg.ReportRetentionDays, []string{artifacts.ReportPrefix}); err != nil {
			log.Warn().Err(err).Msg("report lifecycle policy not applied")
		}
		artifactStore = s3Store
	}
	defer artifactStore.Close()

	var sessions session.Store
	redisSessions, err := session.NewRedisStore(cfg.RedisAddr, cfg.SessionTTL())
	if err != nil {
		log.Warn().Err(err).Str("addr", cfg.RedisAddr).Msg("redis unavailable, keeping sessions in memory")
		sessions = session.NewMemoryStore(cfg.SessionTTL())
	} else {
		sessions = redisSessions
	}
	defer sessions.Close()

	references := reference.NewCache(reference.Sources{
		SiteCatalog:       cfg.SiteCatalogURL,
		Comments:          cfg.CommentsURL,
		AlarmCategoryPath: cfg.AlarmCategoryPath,
		AlarmRenamePath:   cfg.AlarmRenamePath,
		HardwarePath:      cfg.HardwareRenamePath,
	}, cfg.ReferenceTTL())
	if snapshot, err := references.Refresh(ctx, time.Now()); err != nil {
		log.Warn().Err(err).Msg("reference data not loaded at startup")
	} else {
		log.Info().Int("sites", len(snapshot.Sites)).Strs("zones", snapshot.Zones()).Msg("reference data loaded")
	}

	techSheets := make([]alarms.TechSheet, 0, len(cfg.TechSheets))
	for _, sheet := range cfg.TechSheets {
		techSheets = append(techSheets, alarms.TechSheet{Sheet: sheet.Sheet, Tech: sheet.Tech})
	}

	exporter := report.NewExporter(cfg.ReportDir, cfg.ReportFileName)
	notifier := summary.NewWebhookNotifier(cfg.CriticalWebhookURL, cfg.CriticalWebhookAuthHeader, cfg.CriticalCooldownMinutes)
	service := summary.NewService(references, exporter, artifactStore, ledger, sessions, notifier, summary.Options{
		TechSheets:  techSheets,
		EnvSheet:    cfg.EnvironmentalSheet,
		RecencyDays: cfg.RecencyWindowDays,
		Location:    cfg.Location(),
		Timeout:     cfg.ProcessTimeout(),
	})

	handler := api.NewHandler(service, references, ledger, artifactStore, sessions, api.Options{
		CORSAllowedOrigins:       cfg.CORSAllowedOrigins,
		RateLimitRequestsPerSec:  cfg.RateLimitRequestsPerSec,
		RateLimitBurst:           cfg.RateLimitBurst,
		ReportRateLimitPerMinute: cfg.ReportRateLimitPerMinute,
		ReportRateLimitBurst:     cfg.ReportRateLimitBurst,
		UploadDir:                cfg.UploadDir,
		ReportPath:               exporter.Path(),
		MaxUploadMB:              cfg.MaxUploadMB,
		Location:                 cfg.Location(),
		ReportTokenSecret:        cfg.ReportTokenSecret,
		ReportTokenTTL:           time.Duration(cfg.ReportTokenTTLSeconds) * time.Second,
	})

	startMaintenanceLoops(ctx, &maintenance{
		ledger:        ledger,
		artifactStore: artifactStore,
		references:    references,
		observer:      handler,
		uploadDir:     cfg.UploadDir,
		reportDir:     cfg.ReportDir,
		retentionDays: cfg.ReportRetentionDays,
		now:           time.Now,
	}, time.Duration(cfg.CleanupIntervalMinutes)*time.Minute, cfg.ReferenceTTL())

	server := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           handler.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info().Str("addr", cfg.ListenAddr).Msg("summarizer listening")
		if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	<-ctx.Done()
	ctxTimeout, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(ctxTimeout); err != nil {
		log.Error().Err(err).Msg("graceful shutdown failed")
	}
}
