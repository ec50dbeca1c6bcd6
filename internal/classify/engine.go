package classify

import (
	"context"
	"fmt"
	"html"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/samber/lo"

	"sitealarms/services/summarizer/internal/alarms"
	"sitealarms/services/summarizer/internal/reference"
)

const (
	// LineBreak separates description lines in display strings.
	LineBreak = "<br>"
	// EnvSeparator joins environmental alarm names.
	EnvSeparator = " | "
	TimeLayout   = "2006-01-02 15:04:05"
	TotalDown    = "Total Down"

	longDuration = 2 * time.Hour
)

// Sort-key sentinels for rows without a parsed time: unaffected down times sort last and
// unaffected environmental times sort first.
var (
	NoDownTime = time.Date(9999, time.December, 31, 23, 59, 59, 0, time.UTC)
	NoEnvTime  = time.Time{}
)

type SummaryRow struct {
	SiteCode       string               `json:"siteCode"`
	SiteName       string               `json:"siteName"`
	DisplayName    string               `json:"displayName"`
	Office         string               `json:"office"`
	Site           reference.SiteRecord `json:"site"`
	DownAlarm      string               `json:"downAlarm"`
	DownType       DownType             `json:"downType"`
	Description    string               `json:"description"`
	AlarmTime      string               `json:"alarmTime"`
	EnvAlarms      string               `json:"envAlarms"`
	EnvAlarmTime   string               `json:"envAlarmTime"`
	Duration       string               `json:"duration"`
	LongDuration   bool                 `json:"longDuration"`
	Comment        string               `json:"comment"`
	CommentOptions []string             `json:"commentOptions"`
	DownTechs      []string             `json:"downTechs,omitempty"`
	DownTime       time.Time            `json:"-"`
	EnvTime        time.Time            `json:"-"`
}

func (r SummaryRow) HasDownTime() bool { return !r.DownTime.Equal(NoDownTime) }
func (r SummaryRow) HasEnvTime() bool  { return !r.EnvTime.Equal(NoEnvTime) }

// CriticalEnvRow lists the critical environmental alarms of a non small-cell site.
type CriticalEnvRow struct {
	SiteCode     string              `json:"siteCode"`
	SiteName     string              `json:"siteName"`
	Office       string              `json:"office"`
	Class        reference.SiteClass `json:"siteType"`
	Alarms       string              `json:"envAlarm"`
	EnvAlarmTime string              `json:"envAlarmTime"`
	EnvTime      time.Time           `json:"-"`
}

func (r CriticalEnvRow) HasEnvTime() bool { return !r.EnvTime.Equal(NoEnvTime) }

type Input struct {
	// Snapshot pins the reference data used by the extraction. When nil the engine's
	// provider is asked for the current snapshot.
	Snapshot *reference.Snapshot
	Down     map[string]*alarms.DownAggregate
	Env      map[string]*alarms.EnvAggregate
	Zone     string
	Now      time.Time
}

type Result struct {
	Rows     []SummaryRow     `json:"rows"`
	Critical []CriticalEnvRow `json:"critical"`
	Comments []string         `json:"comments"`
}

type Engine struct {
	Provider reference.Provider
}

func NewEngine(provider reference.Provider) Engine {
	return Engine{Provider: provider}
}

// Classify builds one row per catalog site in zone that carries a down or environmental
// alarm, in ascending site-code order.
func (e Engine) Classify(ctx context.Context, in Input) Result {
	snapshot := in.Snapshot
	if snapshot == nil {
		snapshot = e.snapshot(ctx, in.Now)
	}
	zone := strings.TrimSpace(in.Zone)

	result := Result{Rows: []SummaryRow{}, Critical: []CriticalEnvRow{}, Comments: snapshot.Comments}
	for _, code := range snapshot.Codes() {
		site, _ := snapshot.Site(code)
		if zone != "" && !strings.EqualFold(strings.TrimSpace(site.Zone), zone) {
			continue
		}

		row, critical := classifySite(snapshot, site, in.Down[code], in.Env[code], in.Now)
		if row.DownAlarm == "" && row.EnvAlarms == "" {
			continue
		}
		result.Rows = append(result.Rows, row)
		if critical != nil {
			result.Critical = append(result.Critical, *critical)
		}
	}
	return result
}

func (e Engine) snapshot(ctx context.Context, now time.Time) *reference.Snapshot {
	if e.Provider == nil {
		return reference.Empty()
	}
	snapshot, err := e.Provider.Refresh(ctx, now)
	if err != nil {
		log.Warn().Err(err).Msg("classifying with cached reference data")
	}
	if snapshot == nil {
		return reference.Empty()
	}
	return snapshot
}

func classifySite(snapshot *reference.Snapshot, site reference.SiteRecord, down *alarms.DownAggregate, env *alarms.EnvAggregate, now time.Time) (SummaryRow, *CriticalEnvRow) {
	row := SummaryRow{
		SiteCode:       site.Code,
		SiteName:       site.Name,
		DisplayName:    Decorate(site),
		Office:         site.Office,
		Site:           site,
		CommentOptions: snapshot.Comments,
		DownTime:       NoDownTime,
		EnvTime:        NoEnvTime,
	}

	if down != nil {
		row.DownAlarm = strings.Join(down.Techs, ", ")
		row.DownTechs = lo.Uniq(append(append([]string{}, down.OMTechs...), down.CellTechs...))
		if earliest, ok := down.Earliest(); ok {
			row.DownTime = earliest
			row.AlarmTime = earliest.Format(TimeLayout)
			row.Duration, row.LongDuration = FormatDuration(now.Sub(earliest))
		}

		om := len(down.OMTechs)
		partial := len(lo.Without(down.CellTechs, down.OMTechs...))
		row.DownType = DecideDownType(site.Class, om, partial, len(down.CombinedTechs) > 0)

		switch row.DownType {
		case DownTotal:
			row.Description = TotalDown
		case DownPartial:
			row.Description = joinEscaped(down.Descriptions, LineBreak)
		}
	}

	var critical *CriticalEnvRow
	if env != nil && len(env.Alarms) > 0 {
		row.EnvAlarms = joinEscaped(env.Alarms, EnvSeparator)
		if latest, ok := env.Latest(); ok {
			row.EnvTime = latest
			row.EnvAlarmTime = latest.Format(TimeLayout)
			if row.Duration == "" {
				row.Duration, row.LongDuration = FormatDuration(now.Sub(latest))
			}
		}

		if !site.Class.IsSmallCell() {
			flagged := lo.Filter(env.Alarms, func(alarm string, _ int) bool { return snapshot.IsCritical(alarm) })
			if len(flagged) > 0 {
				critical = &CriticalEnvRow{
					SiteCode:     site.Code,
					SiteName:     site.Name,
					Office:       site.Office,
					Class:        site.Class,
					Alarms:       joinEscaped(flagged, EnvSeparator),
					EnvAlarmTime: row.EnvAlarmTime,
					EnvTime:      row.EnvTime,
				}
			}
		}
	}
	return row, critical
}

// FormatDuration renders an elapsed time as HH:MM. Negative durations clamp to zero.
func FormatDuration(elapsed time.Duration) (string, bool) {
	if elapsed < 0 {
		elapsed = 0
	}
	minutes := int(elapsed / time.Minute)
	return fmt.Sprintf("%02d:%02d", minutes/60, minutes%60), elapsed >= longDuration
}

func joinEscaped(values []string, separator string) string {
	escaped := make([]string, 0, len(values))
	for _, value := range values {
		escaped = append(escaped, html.EscapeString(value))
	}
	return strings.Join(lo.Uniq(escaped), separator)
}
