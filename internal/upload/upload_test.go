package upload

import (
	"archive/zip"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func writeZip(t *testing.T, path string, entries map[string]string) {
	t.Helper()

	file, err := os.Create(path)
	if err != nil {
		t.Fatalf("create zip: %v", err)
	}
	writer := zip.NewWriter(file)
	for name, content := range entries {
		entry, err := writer.Create(name)
		if err != nil {
			t.Fatalf("create entry %s: %v", name, err)
		}
		if _, err := entry.Write([]byte(content)); err != nil {
			t.Fatalf("write entry %s: %v", name, err)
		}
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("close zip writer: %v", err)
	}
	if err := file.Close(); err != nil {
		t.Fatalf("close zip file: %v", err)
	}
}

func TestResolveReturnsWorkbookPathUnchanged(t *testing.T) {
	got, err := Resolve("/data/NSN Update.XLSX", t.TempDir())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "/data/NSN Update.XLSX" {
		t.Fatalf("expected path unchanged, got %q", got)
	}
}

func TestResolveRejectsUnsupportedExtension(t *testing.T) {
	if _, err := Resolve("/data/report.pdf", t.TempDir()); !errors.Is(err, ErrUnsupportedExtension) {
		t.Fatalf("expected ErrUnsupportedExtension, got %v", err)
	}
	if Supported("alarms.xls") {
		t.Fatal("legacy .xls must not be reported as supported")
	}
}

func TestResolveExtractsSingleWorkbookFromZip(t *testing.T) {
	dir := t.TempDir()
	archive := filepath.Join(dir, "extract.zip")
	writeZip(t, archive, map[string]string{
		"nested/NSN Update.xlsx":     "workbook-bytes",
		"readme.txt":                 "ignored",
		"__MACOSX/._NSN Update.xlsx": "fork",
		"~$NSN Update.xlsx":          "lock",
	})

	extractDir := filepath.Join(dir, "out")
	got, err := Resolve(archive, extractDir)
	if err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	if got != filepath.Join(extractDir, "NSN Update.xlsx") {
		t.Fatalf("expected entry flattened into extract dir, got %q", got)
	}

	content, err := os.ReadFile(got)
	if err != nil {
		t.Fatalf("read extracted: %v", err)
	}
	if string(content) != "workbook-bytes" {
		t.Fatalf("unexpected extracted content %q", content)
	}
}

func TestResolveZipWithoutWorkbook(t *testing.T) {
	dir := t.TempDir()
	archive := filepath.Join(dir, "extract.zip")
	writeZip(t, archive, map[string]string{"notes.txt": "nothing here"})

	if _, err := Resolve(archive, filepath.Join(dir, "out")); !errors.Is(err, ErrNoWorkbook) {
		t.Fatalf("expected ErrNoWorkbook, got %v", err)
	}
}

func TestResolveZipWithTwoWorkbooks(t *testing.T) {
	dir := t.TempDir()
	archive := filepath.Join(dir, "extract.zip")
	writeZip(t, archive, map[string]string{"a.xlsx": "a", "b.xlsm": "b"})

	if _, err := Resolve(archive, filepath.Join(dir, "out")); !errors.Is(err, ErrMultipleWorkbooks) {
		t.Fatalf("expected ErrMultipleWorkbooks, got %v", err)
	}
}

func TestResolveCorruptZip(t *testing.T) {
	dir := t.TempDir()
	archive := filepath.Join(dir, "broken.zip")
	if err := os.WriteFile(archive, []byte("not a zip"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}

	_, err := Resolve(archive, filepath.Join(dir, "out"))
	if err == nil || errors.Is(err, ErrNoWorkbook) {
		t.Fatalf("expected extraction error, got %v", err)
	}
}

func TestResolveExtractsSingleWorkbookFromRar(t *testing.T) {
	extractDir := filepath.Join(t.TempDir(), "out")
	got, err := Resolve(filepath.Join("testdata", "single.rar"), extractDir)
	if err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	if got != filepath.Join(extractDir, "NSN Update.xlsx") {
		t.Fatalf("expected entry flattened into extract dir, got %q", got)
	}

	content, err := os.ReadFile(got)
	if err != nil {
		t.Fatalf("read extracted: %v", err)
	}
	if string(content) != "workbook-bytes" {
		t.Fatalf("unexpected extracted content %q", content)
	}
}

func TestResolveRarWithoutWorkbook(t *testing.T) {
	if _, err := Resolve(filepath.Join("testdata", "none.rar"), filepath.Join(t.TempDir(), "out")); !errors.Is(err, ErrNoWorkbook) {
		t.Fatalf("expected ErrNoWorkbook, got %v", err)
	}
}

func TestResolveRarWithTwoWorkbooks(t *testing.T) {
	extractDir := filepath.Join(t.TempDir(), "out")
	if _, err := Resolve(filepath.Join("testdata", "two.rar"), extractDir); !errors.Is(err, ErrMultipleWorkbooks) {
		t.Fatalf("expected ErrMultipleWorkbooks, got %v", err)
	}

	entries, _ := os.ReadDir(extractDir)
	if len(entries) != 0 {
		t.Fatalf("expected the first extracted workbook to be removed, found %d entries", len(entries))
	}
}

func TestResolveCorruptRar(t *testing.T) {
	dir := t.TempDir()
	archive := filepath.Join(dir, "broken.rar")
	if err := os.WriteFile(archive, []byte("not a rar"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}

	_, err := Resolve(archive, filepath.Join(dir, "out"))
	if err == nil || errors.Is(err, ErrNoWorkbook) {
		t.Fatalf("expected extraction error, got %v", err)
	}
}
