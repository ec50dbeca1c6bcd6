package reference

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/carlmjohnson/requests"

	"sitealarms/services/summarizer/internal/workbook"
)

// Loader builds a complete Snapshot from its sources.
type Loader interface {
	Load(ctx context.Context, now time.Time) (*Snapshot, error)
}

// Sources loads the catalog and comment vocabulary from HTTP(S) URLs or local files, and the
// three lookup tables from local xlsx or csv files.
type Sources struct {
	SiteCatalog       string
	Comments          string
	AlarmCategoryPath string
	AlarmRenamePath   string
	HardwarePath      string
}

func (s Sources) Load(ctx context.Context, now time.Time) (*Snapshot, error) {
	if strings.TrimSpace(s.SiteCatalog) == "" {
		return nil, fmt.Errorf("site catalog source not configured")
	}

	catalogTable, err := loadTable(ctx, s.SiteCatalog)
	if err != nil {
		return nil, fmt.Errorf("load site catalog: %w", err)
	}
	sites, err := ParseSiteCatalog(catalogTable)
	if err != nil {
		return nil, err
	}

	var comments []string
	if strings.TrimSpace(s.Comments) != "" {
		commentTable, err := loadTable(ctx, s.Comments)
		if err != nil {
			return nil, fmt.Errorf("load comment vocabulary: %w", err)
		}
		comments = ParseComments(commentTable)
	}

	categoryTable, err := workbook.ReadTableFile(s.AlarmCategoryPath)
	if err != nil {
		return nil, fmt.Errorf("load alarm categories: %w", err)
	}
	categories, err := ParseCategories(categoryTable)
	if err != nil {
		return nil, err
	}

	renameTable, err := workbook.ReadTableFile(s.AlarmRenamePath)
	if err != nil {
		return nil, fmt.Errorf("load alarm renames: %w", err)
	}
	renames, err := ParseRenames(renameTable)
	if err != nil {
		return nil, err
	}

	hardwareTable, err := workbook.ReadTableFile(s.HardwarePath)
	if err != nil {
		return nil, fmt.Errorf("load hardware renames: %w", err)
	}
	hardware, err := ParseHardware(hardwareTable)
	if err != nil {
		return nil, err
	}

	return NewSnapshot(sites, categories, renames, hardware, comments, now), nil
}

func loadTable(ctx context.Context, location string) (*workbook.Table, error) {
	if !isRemote(location) {
		return workbook.ReadTableFile(location)
	}

	var body bytes.Buffer
	err := requests.
		URL(location).
		Accept("text/csv").
		ToBytesBuffer(&body).
		Fetch(ctx)
	if err != nil {
		return nil, err
	}
	return workbook.ReadCSV(&body)
}

func isRemote(location string) bool {
	lower := strings.ToLower(strings.TrimSpace(location))
	return strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://")
}
