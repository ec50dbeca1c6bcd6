// Package workbooktest builds xlsx fixtures for tests.
package workbooktest

import (
	"path/filepath"
	"testing"

	"github.com/xuri/excelize/v2"
)

// Sheet is a named grid whose first row is the header.
type Sheet struct {
	Name string
	Rows [][]any
}

// Write saves sheets into dir/name and returns the full path.
func Write(t *testing.T, dir, name string, sheets ...Sheet) string {
	t.Helper()

	file := excelize.NewFile()
	defer file.Close()

	for index, sheet := range sheets {
		if index == 0 {
			if err := file.SetSheetName("Sheet1", sheet.Name); err != nil {
				t.Fatalf("rename first sheet: %v", err)
			}
		} else if _, err := file.NewSheet(sheet.Name); err != nil {
			t.Fatalf("create sheet %s: %v", sheet.Name, err)
		}

		for rowIndex, row := range sheet.Rows {
			cell, err := excelize.CoordinatesToCellName(1, rowIndex+1)
			if err != nil {
				t.Fatalf("cell name: %v", err)
			}
			values := row
			if err := file.SetSheetRow(sheet.Name, cell, &values); err != nil {
				t.Fatalf("write row %d of %s: %v", rowIndex+1, sheet.Name, err)
			}
		}
	}

	path := filepath.Join(dir, name)
	if err := file.SaveAs(path); err != nil {
		t.Fatalf("save workbook: %v", err)
	}
	return path
}
