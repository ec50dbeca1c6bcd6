package store

import "time"

const (
	RunKindUpload   = "upload"
	RunKindReexport = "reexport"
)

// Run is the ledger entry of one report generation. Alarm content is never stored.
type Run struct {
	ID           string    `json:"id"`
	Kind         string    `json:"kind"`
	Zone         string    `json:"zone"`
	WorkbookName string    `json:"workbookName"`
	ReportKey    string    `json:"reportKey"`
	SiteRows     int       `json:"siteRows"`
	DownRows     int       `json:"downRows"`
	EnvRows      int       `json:"envRows"`
	CriticalRows int       `json:"criticalRows"`
	TotalDown    int       `json:"totalDown"`
	PartialDown  int       `json:"partialDown"`
	EnvAlarms    int       `json:"envAlarms"`
	DurationMs   int       `json:"durationMs"`
	CreatedAt    time.Time `json:"createdAt"`
}

type RunInput struct {
	ID           string
	Kind         string
	Zone         string
	WorkbookName string
	ReportKey    string
	SiteRows     int
	DownRows     int
	EnvRows      int
	CriticalRows int
	TotalDown    int
	PartialDown  int
	EnvAlarms    int
	DurationMs   int
}

type CleanupResult struct {
	DeletedRuns              int      `json:"deletedRuns"`
	DeletedReportObjects     int      `json:"deletedReportObjects"`
	DeletedReportObjectKeys  []string `json:"-"`
	FailedReportObjectDelete int      `json:"failedReportObjectDelete"`
	RetentionDays            int      `json:"retentionDays"`
}
