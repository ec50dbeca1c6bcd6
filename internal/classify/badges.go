package classify

import (
	"fmt"
	"html"
	"strings"

	"sitealarms/services/summarizer/internal/reference"
)

// Decorate renders the site name with its presentational badges as HTML.
func Decorate(site reference.SiteRecord) string {
	var b strings.Builder
	b.WriteString(html.EscapeString(site.Name))
	b.WriteString(LineBreak)

	writeBadge := func(kind, text string) {
		fmt.Fprintf(&b, `<span class="badge badge-%s me-1">%s</span>`, kind, html.EscapeString(text))
	}
	if site.BackupMinutes != "" {
		writeBadge("bdt", site.BackupMinutes+" mins")
	}
	if site.NodalDegree != "" {
		writeBadge("nodal", site.NodalDegree)
	}
	if site.PowerSource != "" {
		writeBadge("power", site.PowerSource)
	}
	if site.Class != "" {
		writeBadge("site", string(site.Class))
	}

	var flags []string
	for _, flag := range []struct {
		name string
		set  bool
	}{{"VIP", site.VIP}, {"CEO", site.CEO}, {"Router", site.Router}} {
		if flag.set {
			flags = append(flags, fmt.Sprintf(`<span class="badge badge-%s me-1">%s</span>`, strings.ToLower(flag.name), flag.name))
		}
	}
	b.WriteString(strings.Join(flags, " "))
	return b.String()
}
