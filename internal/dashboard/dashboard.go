// Package dashboard aggregates classified rows into the counters and orderings of the
// interactive view.
package dashboard

import (
	"sort"
	"strings"

	"github.com/samber/lo"

	"sitealarms/services/summarizer/internal/classify"
)

type Counters struct {
	TotalDown   int `json:"totalDown"`
	PartialDown int `json:"partialDown"`
	EnvAlarms   int `json:"envAlarms"`
}

func (c *Counters) add(row classify.SummaryRow) {
	switch row.DownType {
	case classify.DownTotal:
		c.TotalDown++
	case classify.DownPartial:
		c.PartialDown++
	}
	c.EnvAlarms += EnvAlarmCount(row.EnvAlarms)
}

type OfficeCounters struct {
	Office string `json:"office"`
	Counters
}

// TechCount is the number of down sites carrying a technology.
type TechCount struct {
	Tech  string `json:"tech"`
	Sites int    `json:"sites"`
}

type Dashboard struct {
	Offices        []OfficeCounters          `json:"offices"`
	Summary        Counters                  `json:"summary"`
	DownRows       []classify.SummaryRow     `json:"downRows"`
	EnvOnlyRows    []classify.SummaryRow     `json:"envOnlyRows"`
	TechCounts     []TechCount               `json:"techCounts"`
	DownTypeCounts map[classify.DownType]int `json:"downTypeCounts"`
}

// DefaultTechs are always present in TechCounts, even when no site is down on them.
var DefaultTechs = []string{"2G", "3G", "4G", "5G"}

// EnvAlarmCount counts the alarms in a joined environmental alarm string.
func EnvAlarmCount(joined string) int {
	if strings.TrimSpace(joined) == "" {
		return 0
	}
	return len(strings.Split(joined, classify.EnvSeparator))
}

// Build groups rows by office. Down rows are ordered by earliest down time ascending and
// environmental-only rows by latest environmental time descending; ties keep site-code order.
func Build(rows []classify.SummaryRow) Dashboard {
	offices := make(map[string]*Counters)
	board := Dashboard{
		Offices:        []OfficeCounters{},
		DownRows:       []classify.SummaryRow{},
		EnvOnlyRows:    []classify.SummaryRow{},
		DownTypeCounts: map[classify.DownType]int{classify.DownTotal: 0, classify.DownPartial: 0},
	}
	techSites := lo.SliceToMap(DefaultTechs, func(tech string) (string, int) { return tech, 0 })

	for _, row := range rows {
		counters, ok := offices[row.Office]
		if !ok {
			counters = &Counters{}
			offices[row.Office] = counters
		}
		counters.add(row)
		board.Summary.add(row)

		if row.DownType != classify.DownNone {
			board.DownTypeCounts[row.DownType]++
		}
		for _, tech := range row.DownTechs {
			techSites[tech]++
		}

		switch {
		case row.DownAlarm != "":
			board.DownRows = append(board.DownRows, row)
		case row.EnvAlarms != "":
			board.EnvOnlyRows = append(board.EnvOnlyRows, row)
		}
	}

	names := lo.Keys(offices)
	sort.Strings(names)
	for _, name := range names {
		board.Offices = append(board.Offices, OfficeCounters{Office: name, Counters: *offices[name]})
	}

	sort.SliceStable(board.DownRows, func(i, j int) bool {
		return board.DownRows[i].DownTime.Before(board.DownRows[j].DownTime)
	})
	sort.SliceStable(board.EnvOnlyRows, func(i, j int) bool {
		return board.EnvOnlyRows[i].EnvTime.After(board.EnvOnlyRows[j].EnvTime)
	})

	techs := lo.Keys(techSites)
	sort.Strings(techs)
	for _, tech := range techs {
		board.TechCounts = append(board.TechCounts, TechCount{Tech: tech, Sites: techSites[tech]})
	}
	return board
}
