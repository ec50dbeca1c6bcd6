package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/araddon/dateparse"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"sitealarms/services/summarizer/internal/artifacts"
	"sitealarms/services/summarizer/internal/reference"
	"sitealarms/services/summarizer/internal/report"
	"sitealarms/services/summarizer/internal/session"
	"sitealarms/services/summarizer/internal/store"
	"sitealarms/services/summarizer/internal/summary"
	"sitealarms/services/summarizer/internal/upload"
)

const (
	uploadField       = "NSN Update"
	sessionCookieName = "summarizer_session"
	multipartMemory   = 32 << 20
)

type Handler struct {
	service            *summary.Service
	references         reference.Provider
	ledger             store.Ledger
	artifactStore      artifacts.Store
	sessions           session.Store
	uploadDir          string
	reportPath         string
	maxUploadBytes     int64
	location           *time.Location
	corsAllowedOrigins []string
	rateLimiter        *clientLimiter
	reportLimiter      *clientLimiter
	metrics            *apiMetrics
	reportTokenSecret  string
	reportTokenTTL     time.Duration
	now                func() time.Time
}

type Options struct {
	CORSAllowedOrigins       []string
	RateLimitRequestsPerSec  float64
	RateLimitBurst           int
	ReportRateLimitPerMinute float64
	ReportRateLimitBurst     int
	UploadDir                string
	ReportPath               string
	MaxUploadMB              int
	Location                 *time.Location
	ReportTokenSecret        string
	ReportTokenTTL           time.Duration
}

type healthChecker interface {
	Health(ctx context.Context) error
}

func NewHandler(
	service *summary.Service,
	references reference.Provider,
	ledger store.Ledger,
	artifactStore artifacts.Store,
	sessions session.Store,
	opts Options,
) *Handler {
	if ledger == nil {
		ledger = store.NewNoopLedger()
	}
	if artifactStore == nil {
		artifactStore = artifacts.NewNoopStore()
	}
	if opts.MaxUploadMB <= 0 {
		opts.MaxUploadMB = 64
	}
	if opts.Location == nil {
		opts.Location = time.Local
	}
	if opts.ReportTokenTTL <= 0 {
		opts.ReportTokenTTL = 15 * time.Minute
	}

	metrics := newAPIMetrics()
	limiter := newClientLimiter(scopeAPI, rate.Limit(opts.RateLimitRequestsPerSec), opts.RateLimitBurst)
	if limiter != nil {
		limiter.onReject = metrics.observeRateLimited
	}
	reportLimiter := newClientLimiter(scopeReports, perMinute(opts.ReportRateLimitPerMinute), opts.ReportRateLimitBurst)
	if reportLimiter != nil {
		reportLimiter.onReject = metrics.observeRateLimited
	}

	return &Handler{
		service:            service,
		references:         references,
		ledger:             ledger,
		artifactStore:      artifactStore,
		sessions:           sessions,
		uploadDir:          opts.UploadDir,
		reportPath:         opts.ReportPath,
		maxUploadBytes:     int64(opts.MaxUploadMB) << 20,
		location:           opts.Location,
		corsAllowedOrigins: opts.CORSAllowedOrigins,
		rateLimiter:        limiter,
		reportLimiter:      reportLimiter,
		metrics:            metrics,
		reportTokenSecret:  opts.ReportTokenSecret,
		reportTokenTTL:     opts.ReportTokenTTL,
		now:                time.Now,
	}
}

// ObserveCleanup records a retention cleanup pass in the exported metrics.
func (h *Handler) ObserveCleanup(reportObjects, uploadDirs int) {
	h.metrics.ObserveCleanup(reportObjects, uploadDirs)
}

func (h *Handler) ObserveReferenceRefreshError() {
	h.metrics.ObserveReferenceRefreshError()
}

func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(accessLog)
	r.Use(middleware.Recoverer)
	if h.rateLimiter != nil {
		r.Use(h.rateLimiter.Middleware)
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   h.corsAllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Content-Disposition"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(15 * time.Second))
		r.Get("/healthz", h.healthz)
		r.Get("/metrics", h.metrics.handleMetrics)
		r.Get("/v1/zones", h.listZones)
		r.Get("/v1/comments", h.listComments)
		r.Get("/v1/reports", h.listReports)
	})

	// report generation carries its own per-invocation deadline.
	r.Group(func(r chi.Router) {
		if h.reportLimiter != nil {
			r.Use(h.reportLimiter.Middleware)
		}
		r.Post("/v1/uploads", h.uploadWorkbook)
		r.Post("/v1/reports/export", h.exportReport)
	})
	r.Get("/v1/reports/latest", h.downloadLatestReport)

	return r
}

func (h *Handler) healthz(w http.ResponseWriter, r *http.Request) {
	checks := map[string]string{}
	healthy := true
	for name, dependency := range map[string]any{"ledger": h.ledger, "sessions": h.sessions} {
		checker, ok := dependency.(healthChecker)
		if !ok {
			continue
		}
		err := checker.Health(r.Context())
		switch {
		case err == nil:
			checks[name] = "ok"
		case errors.Is(err, store.ErrNotConfigured):
			checks[name] = "disabled"
		default:
			checks[name] = "down"
			healthy = false
		}
	}

	if !healthy {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "down", "checks": checks})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "checks": checks})
}

func (h *Handler) snapshot(ctx context.Context) *reference.Snapshot {
	if h.references == nil {
		return reference.Empty()
	}
	snapshot, err := h.references.Refresh(ctx, h.now())
	if err != nil {
		h.metrics.ObserveReferenceRefreshError()
		log.Warn().Err(err).Msg("serving cached reference data")
	}
	if snapshot == nil {
		return reference.Empty()
	}
	return snapshot
}

func (h *Handler) listZones(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"zones": h.snapshot(r.Context()).Zones()})
}

func (h *Handler) listComments(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"comments": h.snapshot(r.Context()).Comments})
}

func (h *Handler) listReports(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "limit must be a positive integer"})
			return
		}
		limit = parsed
	}

	runs, err := h.ledger.ListRuns(r.Context(), limit)
	if err != nil {
		if errors.Is(err, store.ErrNotConfigured) {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "report ledger unavailable"})
			return
		}
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "report lookup failed"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"reports": runs})
}

func (h *Handler) uploadWorkbook(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadBytes)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		h.metrics.uploadsRejectedTotal.Add(1)
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeJSON(w, http.StatusRequestEntityTooLarge, map[string]string{"error": "upload exceeds size limit"})
			return
		}
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid multipart form"})
		return
	}
	defer func() {
		_ = r.MultipartForm.RemoveAll()
	}()

	file, header, err := r.FormFile(uploadField)
	if err != nil {
		h.reject(w, "no file uploaded")
		return
	}
	defer file.Close()

	zone := strings.TrimSpace(r.FormValue("zone"))
	if zone == "" {
		h.reject(w, summary.ErrZoneRequired.Error())
		return
	}
	from, to, err := h.parseRange(r.FormValue("from"), r.FormValue("to"))
	if err != nil {
		h.reject(w, err.Error())
		return
	}

	fileName := filepath.Base(strings.TrimSpace(header.Filename))
	if !upload.Supported(fileName) {
		h.reject(w, upload.ErrUnsupportedExtension.Error())
		return
	}

	runDir := filepath.Join(h.uploadDir, uuid.NewString())
	keep := false
	defer func() {
		if !keep {
			_ = os.RemoveAll(runDir)
		}
	}()

	savedPath, err := saveUpload(file, runDir, fileName)
	if err != nil {
		log.Error().Err(err).Str("dir", runDir).Msg("save upload failed")
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "unable to store upload"})
		return
	}
	workbookPath, err := upload.Resolve(savedPath, runDir)
	if err != nil {
		if errors.Is(err, upload.ErrUnsupportedExtension) || errors.Is(err, upload.ErrNoWorkbook) || errors.Is(err, upload.ErrMultipleWorkbooks) {
			h.reject(w, err.Error())
			return
		}
		h.metrics.uploadsRejectedTotal.Add(1)
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"error": "unable to read archive"})
		return
	}

	sessionID := h.ensureSession(w, r)
	outcome, err := h.service.Run(r.Context(), summary.Request{
		SessionID:    sessionID,
		WorkbookPath: workbookPath,
		WorkbookName: fileName,
		Zone:         zone,
		From:         from,
		To:           to,
	})
	if err != nil {
		h.writeRunError(w, err)
		return
	}
	keep = true

	h.metrics.uploadsTotal.Add(1)
	h.observeOutcome(outcome)
	writeJSON(w, http.StatusOK, h.reportResponse(sessionID, outcome))
}

type exportRequest struct {
	Comments map[string]string `json:"comments"`
	From     string            `json:"from"`
	To       string            `json:"to"`
}

func (h *Handler) exportReport(w http.ResponseWriter, r *http.Request) {
	payload := exportRequest{}
	if err := json.NewDecoder(io.LimitReader(r.Body, 4<<20)).Decode(&payload); err != nil && !errors.Is(err, io.EOF) {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid payload"})
		return
	}
	from, to, err := h.parseRange(payload.From, payload.To)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	sessionID, ok := sessionFromRequest(r)
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": session.ErrNoUpload.Error()})
		return
	}

	outcome, err := h.service.Reexport(r.Context(), summary.Request{
		SessionID: sessionID,
		From:      from,
		To:        to,
		Comments:  sanitizeComments(payload.Comments),
	})
	if err != nil {
		h.writeRunError(w, err)
		return
	}

	h.metrics.reexportsTotal.Add(1)
	h.observeOutcome(outcome)
	writeJSON(w, http.StatusOK, h.reportResponse(sessionID, outcome))
}

func (h *Handler) downloadLatestReport(w http.ResponseWriter, r *http.Request) {
	runID := ""
	if token := strings.TrimSpace(r.URL.Query().Get("token")); token != "" {
		claims, err := h.verifyReportToken(token, h.now())
		if err != nil {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "invalid or expired token"})
			return
		}
		runID = claims.RunID
	} else {
		sessionID, ok := sessionFromRequest(r)
		if !ok || h.sessions == nil {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": session.ErrNoUpload.Error()})
			return
		}
		last, err := h.sessions.LastUpload(r.Context(), sessionID)
		if err != nil {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": session.ErrNoUpload.Error()})
			return
		}
		runID = last.RunID
	}

	fileName := filepath.Base(h.reportPath)
	objectKey := artifacts.ReportKey(runID, fileName)
	content, contentType, err := h.artifactStore.LoadObject(r.Context(), objectKey)
	if err == nil {
		if contentType == "" {
			contentType = artifacts.XLSXContentType
		}
		h.metrics.reportDownloadsTotal.Add(1)
		w.Header().Set("Content-Type", contentType)
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", fileName))
		w.Header().Set("Cache-Control", "private, max-age=60")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(content)
		return
	}
	if !errors.Is(err, artifacts.ErrNotConfigured) {
		log.Warn().Err(err).Str("objectKey", objectKey).Msg("published report unavailable, serving local copy")
	}

	if _, err := uuid.Parse(runID); err != nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "report not found"})
		return
	}
	local, err := os.Open(report.RunPath(h.reportPath, runID))
	if err != nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "report not found"})
		return
	}
	defer local.Close()
	info, err := local.Stat()
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "unable to read report"})
		return
	}

	h.metrics.reportDownloadsTotal.Add(1)
	w.Header().Set("Content-Type", artifacts.XLSXContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", fileName))
	w.Header().Set("Cache-Control", "no-store")
	http.ServeContent(w, r, fileName, info.ModTime(), local)
}

func (h *Handler) reject(w http.ResponseWriter, message string) {
	h.metrics.uploadsRejectedTotal.Add(1)
	writeJSON(w, http.StatusBadRequest, map[string]string{"error": message})
}

func (h *Handler) writeRunError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, summary.ErrZoneRequired):
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	case errors.Is(err, session.ErrNoUpload):
		writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
		return
	}

	h.metrics.reportFailuresTotal.Add(1)
	if errors.Is(err, context.DeadlineExceeded) {
		writeJSON(w, http.StatusGatewayTimeout, map[string]string{"error": "report generation timed out"})
		return
	}
	log.Error().Err(err).Msg("report generation failed")
	writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"error": "unable to process workbook"})
}

func (h *Handler) observeOutcome(outcome summary.Outcome) {
	h.metrics.criticalSitesTotal.Add(int64(len(outcome.Result.Critical)))
	h.metrics.lastReportUnix.Store(h.now().Unix())
}

func (h *Handler) reportResponse(sessionID string, outcome summary.Outcome) map[string]any {
	downloadURL := "/v1/reports/latest"
	if h.hasReportTokenSecret() {
		token, err := h.signReportToken(sessionID, outcome.RunID, h.now().Add(h.reportTokenTTL))
		if err != nil {
			log.Warn().Err(err).Str("runId", outcome.RunID).Msg("sign report token failed")
		} else {
			downloadURL += "?token=" + url.QueryEscape(token)
		}
	}

	return map[string]any{
		"runId":     outcome.RunID,
		"kind":      outcome.Kind,
		"zone":      outcome.Zone,
		"dashboard": outcome.Dashboard,
		"critical":  outcome.Result.Critical,
		"comments":  outcome.Result.Comments,
		"report": map[string]any{
			"sheets":      outcome.Artifact.Sheets,
			"bytes":       outcome.Artifact.Bytes,
			"objectKey":   outcome.ReportKey,
			"downloadUrl": downloadURL,
		},
	}
}

// parseRange reads optional inclusive day bounds in the configured zone.
func (h *Handler) parseRange(rawFrom, rawTo string) (time.Time, time.Time, error) {
	from, err := h.parseDay(rawFrom)
	if err != nil {
		return time.Time{}, time.Time{}, errors.New("from must be a date")
	}
	to, err := h.parseDay(rawTo)
	if err != nil {
		return time.Time{}, time.Time{}, errors.New("to must be a date")
	}
	if !from.IsZero() && !to.IsZero() && to.Before(from) {
		return time.Time{}, time.Time{}, errors.New("to must not be before from")
	}
	return from, to, nil
}

func (h *Handler) parseDay(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, nil
	}
	return dateparse.ParseIn(raw, h.location)
}

func (h *Handler) ensureSession(w http.ResponseWriter, r *http.Request) string {
	if sessionID, ok := sessionFromRequest(r); ok {
		return sessionID
	}
	sessionID := uuid.NewString()
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    sessionID,
		Path:     "/",
		HttpOnly: true,
		Secure:   r.TLS != nil,
		SameSite: http.SameSiteLaxMode,
	})
	return sessionID
}

func sessionFromRequest(r *http.Request) (string, bool) {
	cookie, err := r.Cookie(sessionCookieName)
	if err != nil {
		return "", false
	}
	if _, err := uuid.Parse(cookie.Value); err != nil {
		return "", false
	}
	return cookie.Value, true
}

func saveUpload(src io.Reader, dir, fileName string) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	path := filepath.Join(dir, fileName)
	dst, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(dst, src); err != nil {
		_ = dst.Close()
		return "", err
	}
	return path, dst.Close()
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
