package api

import (
	"fmt"
	"net/http"
	"sync/atomic"
	"time"
)

type apiMetrics struct {
	startedAtUnix             int64
	uploadsTotal              atomic.Int64
	uploadsRejectedTotal      atomic.Int64
	reexportsTotal            atomic.Int64
	reportFailuresTotal       atomic.Int64
	reportDownloadsTotal      atomic.Int64
	criticalSitesTotal        atomic.Int64
	cleanupRunsTotal          atomic.Int64
	cleanupReportObjectsTotal atomic.Int64
	cleanupUploadDirsTotal    atomic.Int64
	referenceRefreshErrors    atomic.Int64
	rateLimitedAPI            atomic.Int64
	rateLimitedReports        atomic.Int64
	lastReportUnix            atomic.Int64
}

func newAPIMetrics() *apiMetrics {
	return &apiMetrics{startedAtUnix: time.Now().Unix()}
}

// ObserveCleanup records one retention cleanup pass.
func (m *apiMetrics) ObserveCleanup(reportObjects, uploadDirs int) {
	m.cleanupRunsTotal.Add(1)
	m.cleanupReportObjectsTotal.Add(int64(reportObjects))
	m.cleanupUploadDirsTotal.Add(int64(uploadDirs))
}

func (m *apiMetrics) ObserveReferenceRefreshError() {
	m.referenceRefreshErrors.Add(1)
}

func (m *apiMetrics) observeRateLimited(scope string) {
	if scope == scopeReports {
		m.rateLimitedReports.Add(1)
		return
	}
	m.rateLimitedAPI.Add(1)
}

func (m *apiMetrics) handleMetrics(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; version=0.0.4")
	w.WriteHeader(http.StatusOK)

	writeMetric(w, "summarizer_uptime_seconds", "gauge", "Process uptime in seconds.", time.Now().Unix()-m.startedAtUnix)
	writeMetric(w, "summarizer_uploads_total", "counter", "Workbook uploads processed into a report.", m.uploadsTotal.Load())
	writeMetric(w, "summarizer_uploads_rejected_total", "counter", "Uploads rejected before processing.", m.uploadsRejectedTotal.Load())
	writeMetric(w, "summarizer_reexports_total", "counter", "Reports regenerated from a remembered upload.", m.reexportsTotal.Load())
	writeMetric(w, "summarizer_report_failures_total", "counter", "Report generations that failed.", m.reportFailuresTotal.Load())
	writeMetric(w, "summarizer_report_downloads_total", "counter", "Report workbooks served.", m.reportDownloadsTotal.Load())
	writeMetric(w, "summarizer_critical_sites_total", "counter", "Critical environmental sites reported.", m.criticalSitesTotal.Load())
	writeMetric(w, "summarizer_last_report_timestamp_seconds", "gauge", "Unix time of the last generated report.", m.lastReportUnix.Load())
	writeMetric(w, "summarizer_cleanup_runs_total", "counter", "Retention cleanup runs executed.", m.cleanupRunsTotal.Load())
	writeMetric(w, "summarizer_cleanup_report_objects_total", "counter", "Report objects deleted by cleanup.", m.cleanupReportObjectsTotal.Load())
	writeMetric(w, "summarizer_cleanup_upload_dirs_total", "counter", "Upload directories deleted by cleanup.", m.cleanupUploadDirsTotal.Load())
	writeMetric(w, "summarizer_reference_refresh_errors_total", "counter", "Reference data refreshes that failed.", m.referenceRefreshErrors.Load())
	writeMetric(w, "summarizer_rate_limited_total", "counter", "Requests rejected due to rate limiting.", 0,
		labeled{`scope="api"`, m.rateLimitedAPI.Load()},
		labeled{`scope="reports"`, m.rateLimitedReports.Load()},
	)
}

type labeled struct {
	labels string
	value  int64
}

// writeMetric writes one family. With labeled samples the plain value is ignored.
func writeMetric(w http.ResponseWriter, name, kind, help string, value int64, samples ...labeled) {
	_, _ = fmt.Fprintf(w, "# HELP %s %s\n", name, help)
	_, _ = fmt.Fprintf(w, "# TYPE %s %s\n", name, kind)
	if len(samples) == 0 {
		_, _ = fmt.Fprintf(w, "%s %d\n", name, value)
		return
	}
	for _, sample := range samples {
		_, _ = fmt.Fprintf(w, "%s{%s} %d\n", name, sample.labels, sample.value)
	}
}
