// Package classify merges down and environmental aggregates with the site catalog into one
// summary row per affected site.
package classify

import "sitealarms/services/summarizer/internal/reference"

type DownType string

const (
	DownNone    DownType = ""
	DownPartial DownType = "Partial"
	DownTotal   DownType = "Total"
)

// DecideDownType applies the per-class rule table. om counts O&M-down technologies, partial
// counts cell-only technologies and combined reports a technology that was both.
func DecideDownType(class reference.SiteClass, om, partial int, combined bool) DownType {
	affected := om + partial

	switch class {
	case reference.ClassMicro:
		if affected >= 2 || combined {
			return DownTotal
		}
		if affected == 1 {
			return DownPartial
		}
	case reference.ClassPico, reference.ClassNano:
		if affected >= 1 {
			return DownTotal
		}
	default:
		if om >= 3 || (om == 2 && partial >= 1) {
			return DownTotal
		}
		if affected > 0 {
			return DownPartial
		}
	}
	return DownNone
}
