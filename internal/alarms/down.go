package alarms

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/samber/lo"

	"sitealarms/services/summarizer/internal/reference"
)

// TechDetail collects the partial-outage detail for one technology of a site.
type TechDetail struct {
	Tech     string
	Cells    []string
	Hardware []string
}

// Lines renders the detail as description lines: the cell count first, then hardware alarms.
func (d TechDetail) Lines() []string {
	lines := make([]string, 0, len(d.Hardware)+1)
	if len(d.Cells) > 0 {
		lines = append(lines, CellsLine(d.Tech, len(d.Cells)))
	}
	return append(lines, d.Hardware...)
}

func CellsLine(tech string, count int) string {
	return tech + " Cells: " + strconv.Itoa(count)
}

func HardwareLine(name, unit string) string {
	return fmt.Sprintf("HW Alarm: %s (%s)", name, unit)
}

// DownAggregate is everything the down sheets say about one site.
type DownAggregate struct {
	SiteCode string
	// Techs is the display list: O&M technologies plus "<tech> Cells" for cell-only ones.
	Techs []string
	// OMTechs are technologies with an O&M-category alarm.
	OMTechs []string
	// CellTechs are technologies with only cell-category alarms. Never overlaps OMTechs.
	CellTechs []string
	// CombinedTechs are O&M technologies that also carried cell-category alarms.
	CombinedTechs []string
	Details       []TechDetail
	Descriptions  []string
	Times         []time.Time
	RawTimes      []string

	om       map[string]bool
	cells    map[string]bool
	combined map[string]bool
	details  map[string]*TechDetail
	order    []string
	lines    map[string]bool
}

func newDownAggregate(code string) *DownAggregate {
	return &DownAggregate{
		SiteCode: code,
		om:       make(map[string]bool),
		cells:    make(map[string]bool),
		combined: make(map[string]bool),
		details:  make(map[string]*TechDetail),
		lines:    make(map[string]bool),
	}
}

func (a *DownAggregate) markOM(tech string) {
	a.om[tech] = true
	if a.cells[tech] {
		delete(a.cells, tech)
		a.combined[tech] = true
	}
}

func (a *DownAggregate) markCells(tech string) {
	if a.om[tech] {
		a.combined[tech] = true
		return
	}
	a.cells[tech] = true
}

func (a *DownAggregate) detail(tech string) *TechDetail {
	if detail, ok := a.details[tech]; ok {
		return detail
	}
	detail := &TechDetail{Tech: tech}
	a.details[tech] = detail
	a.order = append(a.order, tech)
	return detail
}

func (a *DownAggregate) addLine(line string) {
	if a.lines[line] {
		return
	}
	a.lines[line] = true
	a.Descriptions = append(a.Descriptions, line)
}

// addDetail records the cell and hardware detail of one cell-category row.
func (a *DownAggregate) addDetail(sheetTech string, cells []TechCells, hardware []string) {
	targets := make([]string, 0, len(cells))
	for _, entry := range cells {
		detail := a.detail(entry.Tech)
		detail.Cells = lo.Uniq(append(detail.Cells, entry.Cells...))
		targets = append(targets, entry.Tech)
	}
	if len(targets) == 0 {
		targets = append(targets, sheetTech)
	}

	for _, tech := range targets {
		detail := a.detail(tech)
		detail.Hardware = lo.Uniq(append(detail.Hardware, hardware...))
	}
}

func (a *DownAggregate) finish() {
	a.OMTechs = sortedKeys(a.om)
	a.CellTechs = sortedKeys(a.cells)
	a.CombinedTechs = sortedKeys(a.combined)

	a.Techs = append([]string{}, a.OMTechs...)
	for _, tech := range a.CellTechs {
		a.Techs = append(a.Techs, tech+" Cells")
	}
	sort.Strings(a.Techs)

	a.Details = make([]TechDetail, 0, len(a.order))
	for _, tech := range a.order {
		detail := *a.details[tech]
		a.Details = append(a.Details, detail)
		for _, line := range detail.Lines() {
			a.addLine(line)
		}
	}
}

// Earliest returns the earliest parsed alarm time.
func (a *DownAggregate) Earliest() (time.Time, bool) {
	if len(a.Times) == 0 {
		return time.Time{}, false
	}
	return lo.MinBy(a.Times, func(x, y time.Time) bool { return x.Before(y) }), true
}

// Extractor turns alarm sheets into per-site aggregates against one reference snapshot.
type Extractor struct {
	Snapshot   *reference.Snapshot
	TechSheets []TechSheet
	EnvSheet   string
	Window     Window
	Location   *time.Location
}

// Down reads every technology sheet. A sheet that is absent or lacks the alarm text column is
// skipped with a warning; only context cancellation fails the pass.
func (e Extractor) Down(ctx context.Context, src Source) (map[string]*DownAggregate, error) {
	snapshot := e.snapshot()
	result := make(map[string]*DownAggregate)

	for _, sheet := range e.TechSheets {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		table, err := src.Table(sheet.Sheet)
		if err != nil {
			log.Warn().Err(err).Str("sheet", sheet.Sheet).Msg("skipping down sheet")
			continue
		}
		if !table.HasColumn(ColAlarmText) {
			log.Warn().Str("sheet", sheet.Sheet).Str("column", ColAlarmText).Msg("skipping down sheet without required column")
			continue
		}

		kept := 0
		for _, row := range table.Rows {
			text := reference.Normalize(row.Get(ColAlarmText))
			category, known := snapshot.Category(text)
			if text == "" || !known {
				continue
			}
			code := SiteCode(row)
			if code == "" || !snapshot.IsValidSite(code) {
				continue
			}
			rawTime := row.Get(ColAlarmTime)
			parsed, parsedOK, admitted := e.Window.admits(rawTime, e.Location)
			if !admitted {
				continue
			}

			aggregate, ok := result[code]
			if !ok {
				aggregate = newDownAggregate(code)
				result[code] = aggregate
			}

			if category == reference.CategoryOM {
				aggregate.markOM(sheet.Tech)
			} else {
				aggregate.markCells(sheet.Tech)
				aggregate.addDetail(sheet.Tech, FaultyCells(row.Get(ColUserInfo)), hardwareLines(snapshot, row.Get(ColSupplementary), row.Get(ColDiagnosticInfo)))
			}

			if rawTime != "" {
				aggregate.RawTimes = append(aggregate.RawTimes, rawTime)
			}
			if parsedOK {
				aggregate.Times = append(aggregate.Times, parsed)
			}
			kept++
		}
		log.Debug().Str("sheet", sheet.Sheet).Int("rows", len(table.Rows)).Int("kept", kept).Msg("down sheet extracted")
	}

	for _, aggregate := range result {
		aggregate.finish()
	}
	return result, nil
}

// hardwareLines names the hardware alarm of a row once per unit in its diagnostics, or once
// with the supplementary value as the unit when the diagnostics name none.
func hardwareLines(snapshot *reference.Snapshot, supplementary, diagnostics string) []string {
	supplementary = strings.TrimSpace(supplementary)
	if supplementary == "" {
		return nil
	}
	units := UnitNames(diagnostics)
	if len(units) == 0 {
		units = []string{supplementary}
	}

	name := snapshot.HardwareName(supplementary)
	lines := make([]string, 0, len(units))
	for _, unit := range units {
		lines = append(lines, HardwareLine(name, unit))
	}
	return lines
}

func (e Extractor) snapshot() *reference.Snapshot {
	if e.Snapshot == nil {
		return reference.Empty()
	}
	return e.Snapshot
}

func sortedKeys(set map[string]bool) []string {
	keys := lo.Keys(set)
	sort.Strings(keys)
	return keys
}
