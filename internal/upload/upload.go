// Package upload turns an uploaded file into the path of exactly one workbook.
package upload

import (
	"archive/zip"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/nwaples/rardecode/v2"
)

var (
	ErrUnsupportedExtension = errors.New("unsupported file extension")
	ErrNoWorkbook           = errors.New("archive does not contain a workbook")
	ErrMultipleWorkbooks    = errors.New("archive contains more than one workbook")
)

var workbookExtensions = map[string]bool{
	".xlsx": true,
	".xlsm": true,
}

// maxEntryBytes bounds a single extracted workbook.
const maxEntryBytes = 256 << 20

// IsWorkbook reports whether name carries a workbook extension.
func IsWorkbook(name string) bool {
	return workbookExtensions[strings.ToLower(filepath.Ext(name))]
}

// Supported reports whether name can be resolved at all.
func Supported(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	return workbookExtensions[ext] || ext == ".zip" || ext == ".rar"
}

// Resolve returns path itself for a workbook, or extracts the single workbook in a zip or rar
// archive into extractDir and returns the extracted path.
func Resolve(path, extractDir string) (string, error) {
	ext := strings.ToLower(filepath.Ext(path))
	switch {
	case workbookExtensions[ext]:
		return path, nil
	case ext == ".zip":
		return extractZip(path, extractDir)
	case ext == ".rar":
		return extractRar(path, extractDir)
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedExtension, ext)
	}
}

func extractZip(path, extractDir string) (string, error) {
	reader, err := zip.OpenReader(path)
	if err != nil {
		return "", fmt.Errorf("open zip archive: %w", err)
	}
	defer reader.Close()

	var candidate *zip.File
	for _, entry := range reader.File {
		if entry.FileInfo().IsDir() || !isCandidate(entry.Name) {
			continue
		}
		if candidate != nil {
			return "", ErrMultipleWorkbooks
		}
		candidate = entry
	}
	if candidate == nil {
		return "", ErrNoWorkbook
	}

	src, err := candidate.Open()
	if err != nil {
		return "", fmt.Errorf("open zip entry %s: %w", candidate.Name, err)
	}
	defer src.Close()

	return writeEntry(extractDir, candidate.Name, src)
}

func extractRar(path, extractDir string) (string, error) {
	file, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open rar archive: %w", err)
	}
	defer file.Close()

	reader, err := rardecode.NewReader(file)
	if err != nil {
		return "", fmt.Errorf("read rar archive: %w", err)
	}

	extracted := ""
	for {
		header, err := reader.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", fmt.Errorf("read rar entry: %w", err)
		}
		if header.IsDir || !isCandidate(header.Name) {
			continue
		}
		if extracted != "" {
			_ = os.Remove(extracted)
			return "", ErrMultipleWorkbooks
		}

		extracted, err = writeEntry(extractDir, header.Name, reader)
		if err != nil {
			return "", err
		}
	}

	if extracted == "" {
		return "", ErrNoWorkbook
	}
	return extracted, nil
}

// isCandidate skips office lock files and macOS resource forks that share the extension.
func isCandidate(name string) bool {
	base := filepath.Base(filepath.ToSlash(name))
	if strings.HasPrefix(base, "~$") || strings.HasPrefix(base, "._") {
		return false
	}
	if strings.Contains(filepath.ToSlash(name), "__MACOSX/") {
		return false
	}
	return IsWorkbook(base)
}

func writeEntry(extractDir, entryName string, src io.Reader) (string, error) {
	base := filepath.Base(filepath.ToSlash(entryName))
	if base == "." || base == "/" || base == ".." {
		return "", fmt.Errorf("invalid archive entry name %q", entryName)
	}

	if err := os.MkdirAll(extractDir, 0o755); err != nil {
		return "", fmt.Errorf("create extract dir: %w", err)
	}

	target := filepath.Join(extractDir, base)
	dst, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return "", fmt.Errorf("create extracted workbook: %w", err)
	}

	written, copyErr := io.Copy(dst, io.LimitReader(src, maxEntryBytes+1))
	closeErr := dst.Close()
	if copyErr == nil && written > maxEntryBytes {
		copyErr = fmt.Errorf("archive entry %s exceeds %d bytes", base, maxEntryBytes)
	}
	if copyErr != nil || closeErr != nil {
		_ = os.Remove(target)
		return "", fmt.Errorf("extract %s: %w", base, errors.Join(copyErr, closeErr))
	}

	return target, nil
}
