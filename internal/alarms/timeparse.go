package alarms

import (
	"strconv"
	"strings"
	"time"

	"github.com/araddon/dateparse"
	"github.com/xuri/excelize/v2"
)

// Excel serial day numbers between 1900-01-01 and 9999-12-31.
const (
	minExcelSerial = 1
	maxExcelSerial = 2958466
)

// ParseTime reads an alarm timestamp cell. Workbooks store dates either as Excel serial
// numbers or as text in one of many layouts; both are read as wall-clock time in loc.
func ParseTime(value string, loc *time.Location) (time.Time, bool) {
	value = strings.TrimSpace(value)
	if value == "" || strings.EqualFold(value, "nan") || strings.EqualFold(value, "nat") {
		return time.Time{}, false
	}
	if loc == nil {
		loc = time.Local
	}

	if serial, err := strconv.ParseFloat(value, 64); err == nil && serial >= minExcelSerial && serial < maxExcelSerial {
		parsed, err := excelize.ExcelDateToTime(serial, false)
		if err != nil {
			return time.Time{}, false
		}
		parsed = parsed.Round(time.Second)
		return time.Date(parsed.Year(), parsed.Month(), parsed.Day(), parsed.Hour(), parsed.Minute(), parsed.Second(), 0, loc), true
	}

	parsed, err := dateparse.ParseIn(value, loc)
	if err != nil {
		return time.Time{}, false
	}
	return parsed, true
}

// Window restricts alarms to an inclusive time range. A zero bound is open.
type Window struct {
	From time.Time
	To   time.Time
}

// RecentDays keeps alarms raised in the last days before now. days <= 0 disables the window.
func RecentDays(now time.Time, days int) Window {
	if days <= 0 {
		return Window{}
	}
	return Window{From: now.AddDate(0, 0, -days)}
}

// DayRange covers whole calendar days from the start of from to the end of to, in loc.
// Either bound may be zero.
func DayRange(from, to time.Time, loc *time.Location) Window {
	if loc == nil {
		loc = time.Local
	}
	var window Window
	if !from.IsZero() {
		from = from.In(loc)
		window.From = time.Date(from.Year(), from.Month(), from.Day(), 0, 0, 0, 0, loc)
	}
	if !to.IsZero() {
		to = to.In(loc)
		window.To = time.Date(to.Year(), to.Month(), to.Day(), 0, 0, 0, 0, loc).AddDate(0, 0, 1).Add(-time.Nanosecond)
	}
	return window
}

func (w Window) Active() bool {
	return !w.From.IsZero() || !w.To.IsZero()
}

func (w Window) Contains(t time.Time) bool {
	if !w.From.IsZero() && t.Before(w.From) {
		return false
	}
	if !w.To.IsZero() && t.After(w.To) {
		return false
	}
	return true
}

// admits reports whether a row with the given raw timestamp passes the window. While the
// window is active, rows without a parsable timestamp are dropped.
func (w Window) admits(raw string, loc *time.Location) (time.Time, bool, bool) {
	parsed, ok := ParseTime(raw, loc)
	if !w.Active() {
		return parsed, ok, true
	}
	if !ok {
		return parsed, false, false
	}
	return parsed, true, w.Contains(parsed)
}
