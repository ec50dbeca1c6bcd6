package alarms

import (
	"context"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/samber/lo"

	"sitealarms/services/summarizer/internal/reference"
	"sitealarms/services/summarizer/internal/workbook"
)

const DefaultEnvSheet = "Environmental"

// EnvAggregate is the environmental alarm list of one site, in first-seen order.
type EnvAggregate struct {
	SiteCode string
	Alarms   []string
	Times    []time.Time
	RawTimes []string
}

// Latest returns the most recent parsed alarm time.
func (a *EnvAggregate) Latest() (time.Time, bool) {
	if len(a.Times) == 0 {
		return time.Time{}, false
	}
	return lo.MaxBy(a.Times, func(x, y time.Time) bool { return x.After(y) }), true
}

// EnvAlarmKey picks the text that names an environmental alarm row: the alarm text for BSC
// objects, the user information when there is no alarm text, otherwise the supplementary
// information unless it is blank.
func EnvAlarmKey(row workbook.Row) string {
	alarmText := row.Get(ColAlarmText)
	supplementary := row.Get(ColSupplementary)

	switch {
	case reference.Normalize(row.Get(ColObjectClass)) == "BSC":
		return alarmText
	case alarmText == "":
		return row.Get(ColUserInfo)
	case supplementary == "" || strings.EqualFold(supplementary, "nan"):
		return alarmText
	default:
		return supplementary
	}
}

// Env reads the environmental sheet. A missing sheet yields no aggregates and a warning.
func (e Extractor) Env(ctx context.Context, src Source) (map[string]*EnvAggregate, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	snapshot := e.snapshot()
	result := make(map[string]*EnvAggregate)

	sheet := e.EnvSheet
	if sheet == "" {
		sheet = DefaultEnvSheet
	}
	table, err := src.Table(sheet)
	if err != nil {
		log.Warn().Err(err).Str("sheet", sheet).Msg("skipping environmental sheet")
		return result, nil
	}

	for _, row := range table.Rows {
		code := SiteCode(row)
		if code == "" || !snapshot.IsValidSite(code) {
			continue
		}
		name := snapshot.RenameAlarm(EnvAlarmKey(row))
		if name == "" {
			continue
		}
		rawTime := row.Get(ColAlarmTime)
		parsed, parsedOK, admitted := e.Window.admits(rawTime, e.Location)
		if !admitted {
			continue
		}

		aggregate, ok := result[code]
		if !ok {
			aggregate = &EnvAggregate{SiteCode: code}
			result[code] = aggregate
		}
		if !lo.Contains(aggregate.Alarms, name) {
			aggregate.Alarms = append(aggregate.Alarms, name)
		}
		if rawTime != "" {
			aggregate.RawTimes = append(aggregate.RawTimes, rawTime)
		}
		if parsedOK {
			aggregate.Times = append(aggregate.Times, parsed)
		}
	}

	log.Debug().Str("sheet", sheet).Int("rows", len(table.Rows)).Int("sites", len(result)).Msg("environmental sheet extracted")
	return result, nil
}
