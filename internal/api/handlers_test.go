package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/xuri/excelize/v2"

	"sitealarms/services/summarizer/internal/alarms"
	"sitealarms/services/summarizer/internal/artifacts"
	"sitealarms/services/summarizer/internal/reference"
	"sitealarms/services/summarizer/internal/report"
	"sitealarms/services/summarizer/internal/session"
	"sitealarms/services/summarizer/internal/store"
	"sitealarms/services/summarizer/internal/summary"
	"sitealarms/services/summarizer/internal/workbook/workbooktest"
)

var alarmHeader = []any{alarms.ColAlarmText, alarms.ColAlarmTime, alarms.ColSiteName, alarms.ColName}

func testSnapshot() *reference.Snapshot {
	return reference.NewSnapshot(
		map[string]reference.SiteRecord{
			"1234AL": {Code: "1234AL", Name: "Downtown", Office: "East", Class: reference.ClassMacro, Zone: "North"},
			"3456AL": {Code: "3456AL", Name: "Hill", Office: "East", Class: reference.ClassMacro, Zone: "North"},
			"5678DE": {Code: "5678DE", Name: "Mall", Office: "West", Class: reference.ClassMicro, Zone: "South"},
		},
		map[string]string{"NE O&M CONNECTION FAILURE": reference.CategoryOM},
		map[string]reference.AlarmRename{"DOOR OPEN": {DisplayName: "Door Open", Critical: true}},
		nil,
		[]string{"", "Power Issue", "Cleared"},
		time.Now(),
	)
}

func workbookBytes(t *testing.T) []byte {
	t.Helper()
	recent := time.Now().Add(-2 * time.Hour).Format("2006-01-02 15:04:05")
	path := workbooktest.Write(t, t.TempDir(), "NSN Update.xlsx",
		workbooktest.Sheet{Name: "2G_Down", Rows: [][]any{alarmHeader, {"NE O&M Connection Failure", recent, "1234AL_Downtown", ""}}},
		workbooktest.Sheet{Name: "3G_Down", Rows: [][]any{alarmHeader, {"NE O&M Connection Failure", recent, "1234AL_Downtown", ""}}},
		workbooktest.Sheet{Name: "4G_Down", Rows: [][]any{alarmHeader, {"NE O&M Connection Failure", recent, "1234AL_Downtown", ""}}},
		workbooktest.Sheet{Name: alarms.DefaultEnvSheet, Rows: [][]any{alarmHeader, {"Door Open", recent, "3456AL_Hill", ""}}},
	)
	payload, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read fixture: %v", err)
	}
	return payload
}

type stubLedger struct {
	store.NoopLedger
	runs []store.Run
	err  error
}

func (l *stubLedger) ListRuns(_ context.Context, limit int) ([]store.Run, error) {
	if l.err != nil {
		return nil, l.err
	}
	if limit > 0 && limit < len(l.runs) {
		return l.runs[:limit], nil
	}
	return l.runs, nil
}

func (l *stubLedger) Health(context.Context) error { return l.err }

func newTestHandler(t *testing.T, ledger store.Ledger, secret string) (*Handler, string) {
	t.Helper()
	root := t.TempDir()
	provider := reference.Static{Snapshot: testSnapshot()}
	sessions := session.NewMemoryStore(time.Hour)
	exporter := report.NewExporter(filepath.Join(root, "reports"), "")
	service := summary.NewService(provider, exporter, nil, ledger, sessions, nil, summary.Options{
		TechSheets: []alarms.TechSheet{
			{Sheet: "2G_Down", Tech: "2G"},
			{Sheet: "3G_Down", Tech: "3G"},
			{Sheet: "4G_Down", Tech: "4G"},
		},
		RecencyDays: 40,
	})

	handler := NewHandler(service, provider, ledger, nil, sessions, Options{
		CORSAllowedOrigins: []string{"*"},
		UploadDir:          filepath.Join(root, "uploads"),
		ReportPath:         exporter.Path(),
		MaxUploadMB:        4,
		ReportTokenSecret:  secret,
	})
	return handler, filepath.Join(root, "uploads")
}

func uploadRequest(t *testing.T, fileName string, payload []byte, fields map[string]string) *http.Request {
	t.Helper()
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	if payload != nil {
		part, err := writer.CreateFormFile(uploadField, fileName)
		if err != nil {
			t.Fatalf("create form file: %v", err)
		}
		if _, err := part.Write(payload); err != nil {
			t.Fatalf("write form file: %v", err)
		}
	}
	for key, value := range fields {
		if err := writer.WriteField(key, value); err != nil {
			t.Fatalf("write field: %v", err)
		}
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("close multipart: %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, "/v1/uploads", body)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	return req
}

func decode(t *testing.T, recorder *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	payload := map[string]any{}
	if err := json.Unmarshal(recorder.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode response %q: %v", recorder.Body.String(), err)
	}
	return payload
}

func TestHealthzReportsDependencies(t *testing.T) {
	handler, _ := newTestHandler(t, nil, "")
	recorder := httptest.NewRecorder()
	handler.Router().ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", recorder.Code)
	}
	checks := decode(t, recorder)["checks"].(map[string]any)
	if checks["ledger"] != "disabled" {
		t.Fatalf("expected disabled ledger, got %v", checks)
	}

	failing, _ := newTestHandler(t, &stubLedger{err: errors.New("connection refused")}, "")
	recorder = httptest.NewRecorder()
	failing.Router().ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if recorder.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 for a failing ledger, got %d", recorder.Code)
	}
}

func TestReferenceListings(t *testing.T) {
	handler, _ := newTestHandler(t, nil, "")
	router := handler.Router()

	recorder := httptest.NewRecorder()
	router.ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/v1/zones", nil))
	zones := decode(t, recorder)["zones"].([]any)
	if len(zones) != 2 || zones[0] != "North" || zones[1] != "South" {
		t.Fatalf("unexpected zones %v", zones)
	}

	recorder = httptest.NewRecorder()
	router.ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/v1/comments", nil))
	comments := decode(t, recorder)["comments"].([]any)
	if len(comments) != 3 || comments[1] != "Power Issue" {
		t.Fatalf("unexpected comments %v", comments)
	}
}

func TestUploadRejectsInvalidRequests(t *testing.T) {
	handler, uploadDir := newTestHandler(t, nil, "")
	router := handler.Router()
	payload := workbookBytes(t)

	cases := []struct {
		name   string
		req    *http.Request
		status int
	}{
		{"missing file", uploadRequest(t, "", nil, map[string]string{"zone": "North"}), http.StatusBadRequest},
		{"missing zone", uploadRequest(t, "NSN Update.xlsx", payload, nil), http.StatusBadRequest},
		{"bad extension", uploadRequest(t, "alarms.txt", payload, map[string]string{"zone": "North"}), http.StatusBadRequest},
		{"bad date", uploadRequest(t, "NSN Update.xlsx", payload, map[string]string{"zone": "North", "from": "not a date"}), http.StatusBadRequest},
		{"corrupt workbook", uploadRequest(t, "NSN Update.xlsx", []byte("garbage"), map[string]string{"zone": "North"}), http.StatusUnprocessableEntity},
	}
	for _, tc := range cases {
		recorder := httptest.NewRecorder()
		router.ServeHTTP(recorder, tc.req)
		if recorder.Code != tc.status {
			t.Fatalf("%s: expected %d, got %d (%s)", tc.name, tc.status, recorder.Code, recorder.Body.String())
		}
	}

	entries, _ := os.ReadDir(uploadDir)
	if len(entries) != 0 {
		t.Fatalf("rejected uploads must not be kept, found %d", len(entries))
	}
}

func TestUploadExportAndDownload(t *testing.T) {
	handler, _ := newTestHandler(t, nil, "")
	router := handler.Router()

	recorder := httptest.NewRecorder()
	router.ServeHTTP(recorder, uploadRequest(t, "NSN Update.xlsx", workbookBytes(t), map[string]string{"zone": "North"}))
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (%s)", recorder.Code, recorder.Body.String())
	}

	response := decode(t, recorder)
	dashboard := response["dashboard"].(map[string]any)
	summaryCounts := dashboard["summary"].(map[string]any)
	if summaryCounts["totalDown"] != float64(1) || summaryCounts["envAlarms"] != float64(1) {
		t.Fatalf("unexpected dashboard summary %v", summaryCounts)
	}
	if critical := response["critical"].([]any); len(critical) != 1 {
		t.Fatalf("expected one critical site, got %v", critical)
	}
	reportInfo := response["report"].(map[string]any)
	if reportInfo["downloadUrl"] != "/v1/reports/latest" {
		t.Fatalf("unexpected download url %v", reportInfo["downloadUrl"])
	}

	cookies := recorder.Result().Cookies()
	if len(cookies) != 1 || cookies[0].Name != sessionCookieName || !cookies[0].HttpOnly {
		t.Fatalf("expected a session cookie, got %v", cookies)
	}

	exportBody := strings.NewReader(`{"comments":{"1234al":"Power Issue\u0000"},"from":"","to":""}`)
	exportReq := httptest.NewRequest(http.MethodPost, "/v1/reports/export", exportBody)
	exportReq.AddCookie(cookies[0])
	recorder = httptest.NewRecorder()
	router.ServeHTTP(recorder, exportReq)
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected re-export to succeed, got %d (%s)", recorder.Code, recorder.Body.String())
	}
	if decode(t, recorder)["kind"] != store.RunKindReexport {
		t.Fatalf("expected a re-export run")
	}

	downloadReq := httptest.NewRequest(http.MethodGet, "/v1/reports/latest", nil)
	downloadReq.AddCookie(cookies[0])
	recorder = httptest.NewRecorder()
	router.ServeHTTP(recorder, downloadReq)
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected report download, got %d", recorder.Code)
	}
	if recorder.Header().Get("Content-Type") != artifacts.XLSXContentType {
		t.Fatalf("unexpected content type %q", recorder.Header().Get("Content-Type"))
	}
	if !strings.Contains(recorder.Header().Get("Content-Disposition"), report.DefaultFileName) {
		t.Fatalf("unexpected disposition %q", recorder.Header().Get("Content-Disposition"))
	}
	if recorder.Body.Len() == 0 {
		t.Fatal("expected workbook bytes")
	}

	recorder = httptest.NewRecorder()
	router.ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	metrics, _ := io.ReadAll(recorder.Body)
	for _, line := range []string{"summarizer_uploads_total 1", "summarizer_reexports_total 1", "summarizer_report_downloads_total 1"} {
		if !strings.Contains(string(metrics), line) {
			t.Fatalf("expected %q in metrics:\n%s", line, metrics)
		}
	}
}

func downloadedSiteCodes(t *testing.T, router http.Handler, cookie *http.Cookie) []string {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/v1/reports/latest", nil)
	req.AddCookie(cookie)
	recorder := httptest.NewRecorder()
	router.ServeHTTP(recorder, req)
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected report download, got %d", recorder.Code)
	}

	book, err := excelize.OpenReader(bytes.NewReader(recorder.Body.Bytes()))
	if err != nil {
		t.Fatalf("open downloaded report: %v", err)
	}
	defer book.Close()
	rows, err := book.GetRows(report.SheetDown)
	if err != nil {
		t.Fatalf("read %s: %v", report.SheetDown, err)
	}
	var codes []string
	for _, row := range rows[min(1, len(rows)):] {
		if len(row) > 0 {
			codes = append(codes, row[0])
		}
	}
	return codes
}

func TestDownloadServesEachSessionsOwnReport(t *testing.T) {
	handler, _ := newTestHandler(t, nil, "")
	router := handler.Router()

	upload := func(zone string) *http.Cookie {
		recorder := httptest.NewRecorder()
		router.ServeHTTP(recorder, uploadRequest(t, "NSN Update.xlsx", workbookBytes(t), map[string]string{"zone": zone}))
		if recorder.Code != http.StatusOK {
			t.Fatalf("%s upload: expected 200, got %d (%s)", zone, recorder.Code, recorder.Body.String())
		}
		cookies := recorder.Result().Cookies()
		if len(cookies) != 1 {
			t.Fatalf("%s upload: expected a session cookie, got %v", zone, cookies)
		}
		return cookies[0]
	}
	north := upload("North")
	south := upload("South")

	if codes := downloadedSiteCodes(t, router, north); len(codes) != 1 || codes[0] != "1234AL" {
		t.Fatalf("north session should get its own report, got site codes %v", codes)
	}
	if codes := downloadedSiteCodes(t, router, south); len(codes) != 0 {
		t.Fatalf("south session should get an empty report, got site codes %v", codes)
	}
}

func TestExportWithoutUploadIsRejected(t *testing.T) {
	handler, _ := newTestHandler(t, nil, "")
	router := handler.Router()

	recorder := httptest.NewRecorder()
	router.ServeHTTP(recorder, httptest.NewRequest(http.MethodPost, "/v1/reports/export", strings.NewReader(`{}`)))
	if recorder.Code != http.StatusNotFound {
		t.Fatalf("expected 404 without a session, got %d", recorder.Code)
	}

	req := httptest.NewRequest(http.MethodPost, "/v1/reports/export", strings.NewReader(`{}`))
	req.AddCookie(&http.Cookie{Name: sessionCookieName, Value: "5f0b2b2e-8c1d-4a3e-9a57-2f1c5f8f2b10"})
	recorder = httptest.NewRecorder()
	router.ServeHTTP(recorder, req)
	if recorder.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for a session without uploads, got %d", recorder.Code)
	}

	recorder = httptest.NewRecorder()
	router.ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/v1/reports/latest", nil))
	if recorder.Code != http.StatusNotFound {
		t.Fatalf("expected 404 download without a session, got %d", recorder.Code)
	}
}

func TestSignedDownloadLink(t *testing.T) {
	handler, _ := newTestHandler(t, nil, "link-secret")
	router := handler.Router()

	recorder := httptest.NewRecorder()
	router.ServeHTTP(recorder, uploadRequest(t, "NSN Update.xlsx", workbookBytes(t), map[string]string{"zone": "North"}))
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (%s)", recorder.Code, recorder.Body.String())
	}
	link := decode(t, recorder)["report"].(map[string]any)["downloadUrl"].(string)
	if !strings.HasPrefix(link, "/v1/reports/latest?token=") {
		t.Fatalf("expected a signed link, got %q", link)
	}

	recorder = httptest.NewRecorder()
	router.ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, link, nil))
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected signed download to succeed without a cookie, got %d", recorder.Code)
	}

	recorder = httptest.NewRecorder()
	router.ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, link+"tampered", nil))
	if recorder.Code != http.StatusUnauthorized {
		t.Fatalf("expected tampered token to be rejected, got %d", recorder.Code)
	}
}

func TestListReports(t *testing.T) {
	handler, _ := newTestHandler(t, nil, "")
	recorder := httptest.NewRecorder()
	handler.Router().ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/v1/reports", nil))
	if recorder.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 without a ledger, got %d", recorder.Code)
	}

	ledger := &stubLedger{runs: []store.Run{{ID: "run-2"}, {ID: "run-1"}}}
	handler, _ = newTestHandler(t, ledger, "")
	router := handler.Router()

	recorder = httptest.NewRecorder()
	router.ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/v1/reports?limit=1", nil))
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", recorder.Code)
	}
	if runs := decode(t, recorder)["reports"].([]any); len(runs) != 1 {
		t.Fatalf("expected one run, got %v", runs)
	}

	recorder = httptest.NewRecorder()
	router.ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/v1/reports?limit=abc", nil))
	if recorder.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for a bad limit, got %d", recorder.Code)
	}
}
