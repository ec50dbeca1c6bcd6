// Package report writes the styled multi-sheet summary workbook.
package report

import (
	"html"
	"strings"
	"time"

	"sitealarms/services/summarizer/internal/alarms"
	"sitealarms/services/summarizer/internal/classify"
)

const (
	SheetDown     = "Down Alarms"
	SheetEnv      = "ENV Alarms"
	SheetCritical = "Critical ENV"
)

// Display column names. Identity and reference columns come first.
const (
	ColSiteCode     = "Site Code"
	ColSiteName     = "Site Name"
	ColOffice       = "SC Office"
	ColSiteType     = "Site Type"
	ColZone         = "OZ"
	ColVIP          = "VIP"
	ColCEO          = "CEO"
	ColRouter       = "Router"
	ColBackupTime   = "Backup time"
	ColNodalDegree  = "Nodal Deg."
	ColPowerSource  = "Power Source"
	ColDownAlarm    = "Down Alarm"
	ColDownType     = "Down Type"
	ColDescription  = "Down Alarm Description"
	ColAlarmTime    = "Alarm Time"
	ColEnvAlarms    = "ENV Alarms"
	ColEnvAlarm     = "ENV Alarm"
	ColEnvAlarmTime = "ENV Alarm Time"
	ColDuration     = "Duration"
	ColComment      = "Comment"
)

var summaryColumns = []string{
	ColSiteCode, ColSiteName, ColOffice, ColSiteType, ColZone, ColVIP, ColCEO, ColRouter,
	ColBackupTime, ColNodalDegree, ColPowerSource,
	ColDownAlarm, ColDownType, ColDescription, ColAlarmTime,
	ColEnvAlarms, ColEnvAlarmTime, ColDuration, ColComment,
}

var criticalColumns = []string{
	ColSiteCode, ColSiteName, ColOffice, ColSiteType, ColEnvAlarm, ColEnvAlarmTime, ColComment,
}

// Options carry the caller's edits for one export.
type Options struct {
	// Comments maps site code to free-text comment.
	Comments map[string]string
	// Window is an inclusive date filter. Rows without a time always pass.
	Window alarms.Window
	// RunID names the run's own copy of the report. Empty writes only the latest report.
	RunID string
}

// Sheet is one exported table in display form.
type Sheet struct {
	Name    string
	Columns []string
	Rows    [][]string
}

func (s Sheet) Empty() bool { return len(s.Rows) == 0 }

// BuildSheets projects a classification result into the three report subsets. Subsets without
// rows are returned empty.
func BuildSheets(result classify.Result, opts Options) []Sheet {
	down := Sheet{Name: SheetDown}
	env := Sheet{Name: SheetEnv}
	critical := Sheet{Name: SheetCritical}

	var downRecords, envRecords, criticalRecords []map[string]string
	for _, row := range result.Rows {
		switch {
		case row.DownAlarm != "":
			if opts.passes(row.DownTime, row.HasDownTime()) {
				downRecords = append(downRecords, summaryRecord(row, opts))
			}
		case row.EnvAlarms != "":
			if opts.passes(row.EnvTime, row.HasEnvTime()) {
				envRecords = append(envRecords, summaryRecord(row, opts))
			}
		}
	}
	for _, row := range result.Critical {
		if opts.passes(row.EnvTime, row.HasEnvTime()) {
			criticalRecords = append(criticalRecords, criticalRecord(row, opts))
		}
	}

	down.Columns, down.Rows = project(summaryColumns, downRecords)
	env.Columns, env.Rows = project(summaryColumns, envRecords)
	critical.Columns, critical.Rows = project(criticalColumns, criticalRecords)
	return []Sheet{down, env, critical}
}

func (o Options) passes(t time.Time, known bool) bool {
	if !known || !o.Window.Active() {
		return true
	}
	return o.Window.Contains(t)
}

func (o Options) comment(code string) string {
	return strings.TrimSpace(o.Comments[code])
}

func summaryRecord(row classify.SummaryRow, opts Options) map[string]string {
	site := row.Site
	return map[string]string{
		ColSiteCode:     row.SiteCode,
		ColSiteName:     row.SiteName,
		ColOffice:       row.Office,
		ColSiteType:     string(site.Class),
		ColZone:         site.Zone,
		ColVIP:          flag(site.VIP),
		ColCEO:          flag(site.CEO),
		ColRouter:       flag(site.Router),
		ColBackupTime:   site.BackupMinutes,
		ColNodalDegree:  site.NodalDegree,
		ColPowerSource:  site.PowerSource,
		ColDownAlarm:    row.DownAlarm,
		ColDownType:     string(row.DownType),
		ColDescription:  plainText(row.Description),
		ColAlarmTime:    row.AlarmTime,
		ColEnvAlarms:    plainText(row.EnvAlarms),
		ColEnvAlarmTime: row.EnvAlarmTime,
		ColDuration:     row.Duration,
		ColComment:      opts.comment(row.SiteCode),
	}
}

func criticalRecord(row classify.CriticalEnvRow, opts Options) map[string]string {
	return map[string]string{
		ColSiteCode:     row.SiteCode,
		ColSiteName:     row.SiteName,
		ColOffice:       row.Office,
		ColSiteType:     string(row.Class),
		ColEnvAlarm:     plainText(row.Alarms),
		ColEnvAlarmTime: row.EnvAlarmTime,
		ColComment:      opts.comment(row.SiteCode),
	}
}

// project keeps the columns that carry a value in at least one record.
func project(columns []string, records []map[string]string) ([]string, [][]string) {
	var kept []string
	for _, column := range columns {
		for _, record := range records {
			if strings.TrimSpace(record[column]) != "" {
				kept = append(kept, column)
				break
			}
		}
	}

	rows := make([][]string, 0, len(records))
	for _, record := range records {
		values := make([]string, len(kept))
		for index, column := range kept {
			values[index] = record[column]
		}
		rows = append(rows, values)
	}
	return kept, rows
}

// plainText turns display markup back into spreadsheet text.
func plainText(value string) string {
	return html.UnescapeString(strings.ReplaceAll(value, classify.LineBreak, "\n"))
}

func flag(set bool) string {
	if set {
		return "Yes"
	}
	return ""
}
