package reference

import (
	"fmt"
	"strings"

	"sitealarms/services/summarizer/internal/workbook"
)

// Catalog and dictionary column names as exported by the reference sheets.
const (
	ColSiteCode    = "Site Code"
	ColSiteName    = "Site Name"
	ColOffice      = "SC Office"
	ColSiteType    = "Site Type"
	ColZone        = "OZ"
	ColVIP         = "VIP"
	ColCEO         = "CEO"
	ColRouter      = "Router"
	ColBackupTime  = "Backup time"
	ColNodalDegree = "Nodal Deg."
	ColPowerSource = "Power Source"

	ColAlarmText     = "Alarm Text"
	ColCategory      = "Category"
	ColRenamedAlarm  = "Renamed Alarm"
	ColCriticality   = "Alarm crtiticality"
	ColSupplementary = "Supplementary Information"
	ColHardwareName  = "Output"
	ColComment       = "Comment"
)

// ParseSiteCatalog keeps the first row seen for every normalized site code.
func ParseSiteCatalog(table *workbook.Table) (map[string]SiteRecord, error) {
	if !table.HasColumn(ColSiteCode) {
		return nil, fmt.Errorf("site catalog: missing %q column", ColSiteCode)
	}

	sites := make(map[string]SiteRecord, len(table.Rows))
	for _, row := range table.Rows {
		code := Normalize(row.Get(ColSiteCode))
		if code == "" {
			continue
		}
		if _, exists := sites[code]; exists {
			continue
		}
		sites[code] = SiteRecord{
			Code:          code,
			Name:          row.Get(ColSiteName),
			Office:        row.Get(ColOffice),
			Class:         ParseSiteClass(row.Get(ColSiteType)),
			Zone:          row.Get(ColZone),
			VIP:           parseFlag(row.Get(ColVIP)),
			CEO:           parseFlag(row.Get(ColCEO)),
			Router:        parseFlag(row.Get(ColRouter)),
			BackupMinutes: cleanNumber(row.Get(ColBackupTime)),
			NodalDegree:   cleanNumber(row.Get(ColNodalDegree)),
			PowerSource:   row.Get(ColPowerSource),
		}
	}
	return sites, nil
}

// ParseComments reads the vocabulary from the Comment column, or the first column when the
// sheet has no such header. The blank choice is always first.
func ParseComments(table *workbook.Table) []string {
	column := ColComment
	if !table.HasColumn(column) {
		if len(table.Header) == 0 {
			return nil
		}
		column = table.Header[0]
	}

	comments := []string{""}
	seen := map[string]bool{"": true}
	for _, row := range table.Rows {
		value := row.Get(column)
		if seen[value] {
			continue
		}
		seen[value] = true
		comments = append(comments, value)
	}
	return comments
}

func ParseCategories(table *workbook.Table) (map[string]string, error) {
	if !table.HasColumn(ColAlarmText) || !table.HasColumn(ColCategory) {
		return nil, fmt.Errorf("alarm categories: need %q and %q columns", ColAlarmText, ColCategory)
	}

	categories := make(map[string]string, len(table.Rows))
	for _, row := range table.Rows {
		key := Normalize(row.Get(ColAlarmText))
		if key == "" {
			continue
		}
		categories[key] = strings.ToUpper(row.Get(ColCategory))
	}
	return categories, nil
}

func ParseRenames(table *workbook.Table) (map[string]AlarmRename, error) {
	if !table.HasColumn(ColAlarmText) || !table.HasColumn(ColRenamedAlarm) {
		return nil, fmt.Errorf("alarm renames: need %q and %q columns", ColAlarmText, ColRenamedAlarm)
	}

	renames := make(map[string]AlarmRename, len(table.Rows))
	for _, row := range table.Rows {
		key := Normalize(row.Get(ColAlarmText))
		if key == "" {
			continue
		}
		renames[key] = AlarmRename{
			DisplayName: row.Get(ColRenamedAlarm),
			Critical:    strings.EqualFold(row.Get(ColCriticality), "CRITICAL"),
		}
	}
	return renames, nil
}

func ParseHardware(table *workbook.Table) (map[string]string, error) {
	if !table.HasColumn(ColSupplementary) || !table.HasColumn(ColHardwareName) {
		return nil, fmt.Errorf("hardware renames: need %q and %q columns", ColSupplementary, ColHardwareName)
	}

	hardware := make(map[string]string, len(table.Rows))
	for _, row := range table.Rows {
		key := Normalize(row.Get(ColSupplementary))
		if key == "" {
			continue
		}
		hardware[key] = row.Get(ColHardwareName)
	}
	return hardware, nil
}

func parseFlag(value string) bool {
	switch strings.ToUpper(strings.TrimSpace(value)) {
	case "TRUE", "YES", "1", "1.0":
		return true
	}
	return false
}

// cleanNumber drops a trailing ".0" left by spreadsheet exports of integer columns.
func cleanNumber(value string) string {
	value = strings.TrimSpace(value)
	if strings.EqualFold(value, "nan") {
		return ""
	}
	return strings.TrimSuffix(value, ".0")
}
