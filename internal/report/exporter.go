package report

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/rs/zerolog/log"
	"github.com/xuri/excelize/v2"

	"sitealarms/services/summarizer/internal/classify"
)

const (
	DefaultFileName = "Summary.xlsx"
	// RunsDir holds one report copy per run next to the latest report.
	RunsDir        = "runs"
	maxColumnWidth = 60
	minColumnWidth = 8
)

var ErrInvalidRunID = errors.New("invalid run id")

// Artifact describes a published report. Path is the run's own copy when a run id was given,
// otherwise the latest report.
type Artifact struct {
	Path    string         `json:"path"`
	Sheets  map[string]int `json:"sheets"`
	Bytes   int64          `json:"bytes"`
	Content []byte         `json:"-"`
}

// Exporter writes the report under a fixed name in Dir.
type Exporter struct {
	Dir      string
	FileName string
}

func NewExporter(dir, fileName string) Exporter {
	if strings.TrimSpace(fileName) == "" {
		fileName = DefaultFileName
	}
	return Exporter{Dir: dir, FileName: fileName}
}

func (e Exporter) Path() string {
	name := e.FileName
	if name == "" {
		name = DefaultFileName
	}
	return filepath.Join(e.Dir, name)
}

func (e Exporter) RunPath(runID string) string {
	return RunPath(e.Path(), runID)
}

// RunPath is the location of runID's report for the latest report at reportPath.
func RunPath(reportPath, runID string) string {
	return filepath.Join(filepath.Dir(reportPath), RunsDir, runID, filepath.Base(reportPath))
}

func validRunID(runID string) bool {
	return runID != "" && runID != "." && runID != ".." && filepath.Base(runID) == runID &&
		!strings.ContainsAny(runID, `/\`)
}

// Export writes every non-empty subset to its own sheet. With a run id the workbook is first
// stored as that run's copy, then it replaces the latest report. Each file is written to a
// temporary name and renamed, so readers never observe a partial file.
func (e Exporter) Export(ctx context.Context, result classify.Result, opts Options) (Artifact, error) {
	if opts.RunID != "" && !validRunID(opts.RunID) {
		return Artifact{}, fmt.Errorf("%w: %q", ErrInvalidRunID, opts.RunID)
	}
	sheets := BuildSheets(result, opts)

	var populated []Sheet
	for _, sheet := range sheets {
		if !sheet.Empty() {
			populated = append(populated, sheet)
		}
	}
	if len(populated) == 0 {
		populated = []Sheet{{Name: SheetDown}}
	}

	if err := ctx.Err(); err != nil {
		return Artifact{}, err
	}

	book := excelize.NewFile()
	defer func() {
		if err := book.Close(); err != nil {
			log.Warn().Err(err).Msg("close report workbook")
		}
	}()

	styles, err := newStyles(book)
	if err != nil {
		return Artifact{}, err
	}

	artifact := Artifact{Path: e.Path(), Sheets: make(map[string]int, len(populated))}
	for index, sheet := range populated {
		if index == 0 {
			if err := book.SetSheetName(book.GetSheetName(0), sheet.Name); err != nil {
				return Artifact{}, fmt.Errorf("rename sheet: %w", err)
			}
		} else if _, err := book.NewSheet(sheet.Name); err != nil {
			return Artifact{}, fmt.Errorf("add sheet %s: %w", sheet.Name, err)
		}
		if err := writeSheet(book, sheet, styles); err != nil {
			return Artifact{}, fmt.Errorf("write sheet %s: %w", sheet.Name, err)
		}
		artifact.Sheets[sheet.Name] = len(sheet.Rows)
	}
	book.SetActiveSheet(0)

	if err := ctx.Err(); err != nil {
		return Artifact{}, err
	}
	buffer, err := book.WriteToBuffer()
	if err != nil {
		return Artifact{}, fmt.Errorf("render report: %w", err)
	}
	artifact.Content = buffer.Bytes()
	artifact.Bytes = int64(len(artifact.Content))

	if opts.RunID != "" {
		artifact.Path = e.RunPath(opts.RunID)
		if err := writeAtomic(artifact.Path, artifact.Content); err != nil {
			return Artifact{}, err
		}
	}
	if err := writeAtomic(e.Path(), artifact.Content); err != nil {
		return Artifact{}, err
	}
	return artifact, nil
}

func writeAtomic(path string, payload []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create report dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".report-*.xlsx")
	if err != nil {
		return fmt.Errorf("create temp report: %w", err)
	}
	tmpName := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			_ = os.Remove(tmpName)
		}
	}()

	if _, err := tmp.Write(payload); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write report: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("sync report: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close report: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("publish report: %w", err)
	}
	committed = true
	return nil
}

type styles struct {
	header    int
	cell      int
	highlight int
}

func newStyles(book *excelize.File) (styles, error) {
	border := []excelize.Border{
		{Type: "left", Color: "000000", Style: 1},
		{Type: "right", Color: "000000", Style: 1},
		{Type: "top", Color: "000000", Style: 1},
		{Type: "bottom", Color: "000000", Style: 1},
	}
	alignment := &excelize.Alignment{Horizontal: "center", Vertical: "center", WrapText: true}

	header, err := book.NewStyle(&excelize.Style{
		Font:      &excelize.Font{Bold: true},
		Fill:      excelize.Fill{Type: "pattern", Color: []string{"D9D9D9"}, Pattern: 1},
		Border:    border,
		Alignment: alignment,
	})
	if err != nil {
		return styles{}, fmt.Errorf("header style: %w", err)
	}
	cell, err := book.NewStyle(&excelize.Style{Border: border, Alignment: alignment})
	if err != nil {
		return styles{}, fmt.Errorf("cell style: %w", err)
	}
	highlight, err := book.NewStyle(&excelize.Style{
		Font:      &excelize.Font{Bold: true, Color: "FF0000"},
		Fill:      excelize.Fill{Type: "pattern", Color: []string{"FFFF00"}, Pattern: 1},
		Border:    border,
		Alignment: alignment,
	})
	if err != nil {
		return styles{}, fmt.Errorf("highlight style: %w", err)
	}
	return styles{header: header, cell: cell, highlight: highlight}, nil
}

func writeSheet(book *excelize.File, sheet Sheet, styles styles) error {
	header := make([]any, len(sheet.Columns))
	widths := make([]int, len(sheet.Columns))
	durationColumn := -1
	for index, column := range sheet.Columns {
		header[index] = column
		widths[index] = longestLine(column)
		if column == ColDuration {
			durationColumn = index
		}
	}
	if err := book.SetSheetRow(sheet.Name, "A1", &header); err != nil {
		return err
	}
	if len(sheet.Columns) == 0 {
		return nil
	}
	last, err := excelize.CoordinatesToCellName(len(sheet.Columns), 1)
	if err != nil {
		return err
	}
	if err := book.SetCellStyle(sheet.Name, "A1", last, styles.header); err != nil {
		return err
	}

	for rowIndex, values := range sheet.Rows {
		cells := make([]any, len(values))
		for index, value := range values {
			cells[index] = value
			if width := longestLine(value); width > widths[index] {
				widths[index] = width
			}
		}
		first, err := excelize.CoordinatesToCellName(1, rowIndex+2)
		if err != nil {
			return err
		}
		if err := book.SetSheetRow(sheet.Name, first, &cells); err != nil {
			return err
		}
		end, err := excelize.CoordinatesToCellName(len(values), rowIndex+2)
		if err != nil {
			return err
		}
		if err := book.SetCellStyle(sheet.Name, first, end, styles.cell); err != nil {
			return err
		}

		if durationColumn >= 0 && LongDuration(values[durationColumn]) {
			cell, err := excelize.CoordinatesToCellName(durationColumn+1, rowIndex+2)
			if err != nil {
				return err
			}
			if err := book.SetCellStyle(sheet.Name, cell, cell, styles.highlight); err != nil {
				return err
			}
		}
	}

	for index, width := range widths {
		name, err := excelize.ColumnNumberToName(index + 1)
		if err != nil {
			return err
		}
		if err := book.SetColWidth(sheet.Name, name, name, float64(clampWidth(width+2))); err != nil {
			return err
		}
	}
	return nil
}

// LongDuration reports whether an HH:MM duration has an hour component of at least two.
func LongDuration(value string) bool {
	hours, _, found := strings.Cut(strings.TrimSpace(value), ":")
	if !found {
		return false
	}
	parsed, err := strconv.Atoi(hours)
	return err == nil && parsed >= 2
}

func longestLine(value string) int {
	longest := 0
	for _, line := range strings.Split(value, "\n") {
		if length := utf8.RuneCountInString(line); length > longest {
			longest = length
		}
	}
	return longest
}

func clampWidth(width int) int {
	return min(max(width, minColumnWidth), maxColumnWidth)
}
