// Package workbook reads spreadsheet and delimited-text inputs as header-keyed tables.
package workbook

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/xuri/excelize/v2"
)

var ErrSheetNotFound = errors.New("sheet not found")

// Row holds one data row keyed by trimmed header text.
type Row map[string]string

// Get returns the trimmed value for column, or "" when the column is absent.
func (r Row) Get(column string) string {
	return strings.TrimSpace(r[column])
}

type Table struct {
	Header []string
	Rows   []Row
}

// HasColumn reports whether the header contains column.
func (t *Table) HasColumn(column string) bool {
	for _, name := range t.Header {
		if name == column {
			return true
		}
	}
	return false
}

type Workbook struct {
	path string
	file *excelize.File
}

func Open(path string) (*Workbook, error) {
	file, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("open workbook %s: %w", filepath.Base(path), err)
	}
	return &Workbook{path: path, file: file}, nil
}

func (w *Workbook) Sheets() []string {
	return w.file.GetSheetList()
}

// Table loads sheet using raw cell values so that date cells stay as Excel serial numbers.
func (w *Workbook) Table(sheet string) (*Table, error) {
	if idx, err := w.file.GetSheetIndex(sheet); err != nil || idx < 0 {
		return nil, fmt.Errorf("%w: %s", ErrSheetNotFound, sheet)
	}

	rows, err := w.file.GetRows(sheet, excelize.Options{RawCellValue: true})
	if err != nil {
		return nil, fmt.Errorf("read sheet %s: %w", sheet, err)
	}
	return buildTable(rows), nil
}

func (w *Workbook) Close() error {
	return w.file.Close()
}

// ReadCSV parses delimited text whose first record is the header.
func ReadCSV(r io.Reader) (*Table, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true

	records, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("parse csv: %w", err)
	}
	if len(records) > 0 && len(records[0]) > 0 {
		records[0][0] = strings.TrimPrefix(records[0][0], "\ufeff")
	}
	return buildTable(records), nil
}

// ReadTableFile reads a .csv file or the first sheet of a workbook.
func ReadTableFile(path string) (*Table, error) {
	if strings.EqualFold(filepath.Ext(path), ".csv") {
		file, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		defer file.Close()
		return ReadCSV(file)
	}

	book, err := Open(path)
	if err != nil {
		return nil, err
	}
	defer book.Close()

	sheets := book.Sheets()
	if len(sheets) == 0 {
		return nil, fmt.Errorf("%w: %s has no sheets", ErrSheetNotFound, filepath.Base(path))
	}
	return book.Table(sheets[0])
}

func buildTable(records [][]string) *Table {
	table := &Table{}
	if len(records) == 0 {
		return table
	}

	table.Header = make([]string, len(records[0]))
	for i, name := range records[0] {
		table.Header[i] = strings.TrimSpace(name)
	}

	table.Rows = make([]Row, 0, len(records)-1)
	for _, record := range records[1:] {
		if isBlankRecord(record) {
			continue
		}
		row := make(Row, len(table.Header))
		for i, name := range table.Header {
			if name == "" {
				continue
			}
			if i < len(record) {
				row[name] = record[i]
			} else {
				row[name] = ""
			}
		}
		table.Rows = append(table.Rows, row)
	}
	return table
}

func isBlankRecord(record []string) bool {
	for _, value := range record {
		if strings.TrimSpace(value) != "" {
			return false
		}
	}
	return true
}
