// Package alarms extracts per-site down and environmental alarm aggregates from an uploaded
// alarm workbook.
package alarms

import (
	"regexp"

	"sitealarms/services/summarizer/internal/reference"
	"sitealarms/services/summarizer/internal/workbook"
)

// Alarm sheet column names.
const (
	ColAlarmText      = "Alarm Text"
	ColAlarmTime      = "Alarm Time"
	ColSiteName       = "Site Name"
	ColName           = "Name"
	ColObjectClass    = "Object Class"
	ColUserInfo       = "User Additional Information"
	ColDiagnosticInfo = "Diagnostic Info"
	ColSupplementary  = "Supplementary Information"
)

// Source hands out sheets by name. *workbook.Workbook implements it.
type Source interface {
	Table(sheet string) (*workbook.Table, error)
}

// TechSheet maps a workbook sheet to the technology label it carries.
type TechSheet struct {
	Sheet string
	Tech  string
}

var siteCodePattern = regexp.MustCompile(`\d{4}(?:AL|DE|SI)`)

var siteCodeColumns = []string{ColSiteName, ColName}

// SiteCode returns the first site code found in the name-like columns, or "".
func SiteCode(row workbook.Row) string {
	for _, column := range siteCodeColumns {
		if code := siteCodePattern.FindString(reference.Normalize(row.Get(column))); code != "" {
			return code
		}
	}
	return ""
}
