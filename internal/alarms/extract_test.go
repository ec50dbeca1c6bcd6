package alarms

import (
	"context"
	"reflect"
	"testing"
	"time"

	"sitealarms/services/summarizer/internal/reference"
	"sitealarms/services/summarizer/internal/workbook"
)

type fakeWorkbook map[string]*workbook.Table

func (f fakeWorkbook) Table(sheet string) (*workbook.Table, error) {
	table, ok := f[sheet]
	if !ok {
		return nil, workbook.ErrSheetNotFound
	}
	return table, nil
}

func table(header []string, rows ...[]string) *workbook.Table {
	result := &workbook.Table{Header: header}
	for _, values := range rows {
		row := make(workbook.Row, len(header))
		for index, column := range header {
			if index < len(values) {
				row[column] = values[index]
			}
		}
		result.Rows = append(result.Rows, row)
	}
	return result
}

var downHeader = []string{ColSiteName, ColAlarmText, ColAlarmTime, ColUserInfo, ColDiagnosticInfo, ColSupplementary}

var testSheets = []TechSheet{
	{Sheet: "2G_Down", Tech: "2G"},
	{Sheet: "3G_Down", Tech: "3G"},
	{Sheet: "4G_Down", Tech: "4G"},
	{Sheet: "5G_Down", Tech: "5G"},
}

func testSnapshot() *reference.Snapshot {
	return reference.NewSnapshot(
		map[string]reference.SiteRecord{
			"1234AL": {Code: "1234AL", Class: reference.ClassMacro},
			"5678DE": {Code: "5678DE", Class: reference.ClassMicro},
			"9012SI": {Code: "9012SI", Class: reference.ClassPico},
		},
		map[string]string{
			"NE O&M CONNECTION FAILURE": reference.CategoryOM,
			"CELL FAULTY":               "CELLS",
		},
		map[string]reference.AlarmRename{
			"DOOR OPEN": {DisplayName: "Door Open", Critical: true},
		},
		map[string]string{"RF UNIT VSWR THRESHOLD CROSSED": "VSWR"},
		nil,
		time.Time{},
	)
}

func newExtractor() Extractor {
	return Extractor{Snapshot: testSnapshot(), TechSheets: testSheets, Location: time.UTC}
}

func TestSiteCodeSearchesNameColumns(t *testing.T) {
	row := workbook.Row{ColSiteName: "cairo-1234al-tower"}
	if got := SiteCode(row); got != "1234AL" {
		t.Fatalf("expected 1234AL, got %q", got)
	}
	row = workbook.Row{ColSiteName: "unknown", ColName: "NODE_5678DE_B"}
	if got := SiteCode(row); got != "5678DE" {
		t.Fatalf("expected fallback to Name column, got %q", got)
	}
	if got := SiteCode(workbook.Row{ColSiteName: "1234XX"}); got != "" {
		t.Fatalf("expected no match, got %q", got)
	}
}

func TestDownMarksOMAcrossTechnologies(t *testing.T) {
	book := fakeWorkbook{
		"2G_Down": table(downHeader, []string{"1234AL Tower", "NE O&M Connection Failure", "2024-05-01 08:00:00"}),
		"3G_Down": table(downHeader, []string{"1234AL Tower", "ne o&m connection\nfailure", "2024-05-01 07:30:00"}),
		"4G_Down": table(downHeader,
			[]string{"1234AL Tower", "NE O&M Connection Failure", "2024-05-01 09:00:00"},
			[]string{"7777AL", "NE O&M Connection Failure", "2024-05-01 09:00:00"},
			[]string{"1234AL Tower", "Unrelated Alarm", "2024-05-01 09:00:00"},
		),
	}

	result, err := newExtractor().Down(context.Background(), book)
	if err != nil {
		t.Fatalf("extract failed: %v", err)
	}
	if len(result) != 1 {
		t.Fatalf("expected only the catalog site, got %d sites", len(result))
	}

	site := result["1234AL"]
	if !reflect.DeepEqual(site.OMTechs, []string{"2G", "3G", "4G"}) {
		t.Fatalf("unexpected O&M techs %v", site.OMTechs)
	}
	if len(site.CellTechs) != 0 || len(site.Descriptions) != 0 {
		t.Fatalf("O&M rows must not add cell detail: %+v", site)
	}
	earliest, ok := site.Earliest()
	if !ok || !earliest.Equal(time.Date(2024, 5, 1, 7, 30, 0, 0, time.UTC)) {
		t.Fatalf("unexpected earliest time %v", earliest)
	}
}

func TestDownCellDetailAndCombinedFlag(t *testing.T) {
	book := fakeWorkbook{
		"3G_Down": table(downHeader,
			[]string{"5678DE", "Cell Faulty", "2024-05-01 08:00:00", "faulty_cells=UMTS:1,2;UMTS:3", "unitName=RRU1", "RF Unit VSWR Threshold Crossed"},
			[]string{"5678DE", "Cell Faulty", "2024-05-01 08:05:00", "faulty_cells=UMTS:2", "", "RF Unit VSWR Threshold Crossed"},
		),
		"4G_Down": table(downHeader,
			[]string{"5678DE", "Cell Faulty", "2024-05-01 08:00:00", "", "", "Board Fault"},
			[]string{"5678DE", "NE O&M Connection Failure", "2024-05-01 08:10:00"},
		),
	}

	result, err := newExtractor().Down(context.Background(), book)
	if err != nil {
		t.Fatalf("extract failed: %v", err)
	}
	site := result["5678DE"]

	if !reflect.DeepEqual(site.OMTechs, []string{"4G"}) || !reflect.DeepEqual(site.CellTechs, []string{"3G"}) {
		t.Fatalf("unexpected tech sets om=%v cells=%v", site.OMTechs, site.CellTechs)
	}
	if !reflect.DeepEqual(site.CombinedTechs, []string{"4G"}) {
		t.Fatalf("expected 4G combined flag, got %v", site.CombinedTechs)
	}
	if !reflect.DeepEqual(site.Techs, []string{"3G Cells", "4G"}) {
		t.Fatalf("unexpected display techs %v", site.Techs)
	}

	wantLines := []string{
		"UMTS Cells: 3",
		"HW Alarm: VSWR (RRU1)",
		"HW Alarm: VSWR (RF Unit VSWR Threshold Crossed)",
		"HW Alarm: Board Fault (Board Fault)",
	}
	if !reflect.DeepEqual(site.Descriptions, wantLines) {
		t.Fatalf("expected %q, got %q", wantLines, site.Descriptions)
	}
	if len(site.Details) != 2 || site.Details[0].Tech != "UMTS" || site.Details[1].Tech != "4G" {
		t.Fatalf("unexpected details %+v", site.Details)
	}
}

func TestDownSkipsBrokenSheets(t *testing.T) {
	book := fakeWorkbook{
		"2G_Down": table([]string{"Something"}, []string{"x"}),
		"5G_Down": table(downHeader, []string{"9012SI", "Cell Faulty", "2024-05-01 08:00:00"}),
	}

	result, err := newExtractor().Down(context.Background(), book)
	if err != nil {
		t.Fatalf("broken sheets must not fail the pass: %v", err)
	}
	if _, ok := result["9012SI"]; !ok {
		t.Fatal("expected the readable sheet to be extracted")
	}
}

func TestDownHonoursCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := newExtractor().Down(ctx, fakeWorkbook{}); err == nil {
		t.Fatal("expected context error")
	}
}

func TestWindowFiltersRows(t *testing.T) {
	book := fakeWorkbook{
		"2G_Down": table(downHeader,
			[]string{"1234AL", "NE O&M Connection Failure", "2024-04-01 08:00:00"},
			[]string{"5678DE", "NE O&M Connection Failure", "not a date"},
			[]string{"9012SI", "NE O&M Connection Failure", "2024-05-02 23:59:00"},
		),
	}

	extractor := newExtractor()
	extractor.Window = DayRange(time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC), time.Date(2024, 5, 2, 0, 0, 0, 0, time.UTC), time.UTC)
	result, err := extractor.Down(context.Background(), book)
	if err != nil {
		t.Fatalf("extract failed: %v", err)
	}
	if len(result) != 1 || result["9012SI"] == nil {
		t.Fatalf("expected only the in-range row, got %v", result)
	}

	extractor.Window = Window{}
	result, _ = extractor.Down(context.Background(), book)
	if len(result) != 3 {
		t.Fatalf("expected all rows without a window, got %d", len(result))
	}
	if site := result["5678DE"]; len(site.Times) != 0 || len(site.RawTimes) != 1 {
		t.Fatalf("unparsable time must be kept raw only: %+v", site)
	}
}

func TestEnvAlarmKeyPriority(t *testing.T) {
	cases := []struct {
		name string
		row  workbook.Row
		want string
	}{
		{"bsc uses alarm text", workbook.Row{ColObjectClass: "bsc", ColAlarmText: "Door Open", ColSupplementary: "Other"}, "Door Open"},
		{"empty text uses user info", workbook.Row{ColUserInfo: "Mains Failure"}, "Mains Failure"},
		{"nan supplementary uses text", workbook.Row{ColAlarmText: "High Temp", ColSupplementary: "NaN"}, "High Temp"},
		{"supplementary wins", workbook.Row{ColAlarmText: "External Alarm", ColSupplementary: "Door Open"}, "Door Open"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := EnvAlarmKey(tc.row); got != tc.want {
				t.Fatalf("expected %q, got %q", tc.want, got)
			}
		})
	}
}

func TestEnvAggregatesRenamedAlarms(t *testing.T) {
	header := []string{ColName, ColObjectClass, ColAlarmText, ColSupplementary, ColAlarmTime}
	book := fakeWorkbook{
		DefaultEnvSheet: table(header,
			[]string{"9012SI", "", "External Alarm", "door open", "2024-05-01 08:00:00"},
			[]string{"9012SI", "", "External Alarm", "DOOR OPEN", "2024-05-01 10:00:00"},
			[]string{"9012SI", "", "High Temp", "", "45413.5"},
			[]string{"4444SI", "", "High Temp", "", "2024-05-01 10:00:00"},
		),
	}

	result, err := newExtractor().Env(context.Background(), book)
	if err != nil {
		t.Fatalf("extract failed: %v", err)
	}
	site := result["9012SI"]
	if site == nil || len(result) != 1 {
		t.Fatalf("unexpected result %v", result)
	}
	if !reflect.DeepEqual(site.Alarms, []string{"Door Open", "High Temp"}) {
		t.Fatalf("unexpected alarms %v", site.Alarms)
	}
	latest, ok := site.Latest()
	if !ok || !latest.Equal(time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)) {
		t.Fatalf("expected excel serial to be the latest time, got %v", latest)
	}
}

func TestEnvMissingSheetIsNotFatal(t *testing.T) {
	result, err := newExtractor().Env(context.Background(), fakeWorkbook{})
	if err != nil || len(result) != 0 {
		t.Fatalf("expected empty result, got %v, %v", result, err)
	}
}

func TestParseTime(t *testing.T) {
	loc := time.FixedZone("EET", 2*3600)
	cases := []struct {
		value string
		want  time.Time
		ok    bool
	}{
		{"2024-05-01 08:00:00", time.Date(2024, 5, 1, 8, 0, 0, 0, loc), true},
		{"45413.25", time.Date(2024, 5, 1, 6, 0, 0, 0, loc), true},
		{"", time.Time{}, false},
		{"NaT", time.Time{}, false},
		{"garbage", time.Time{}, false},
	}
	for _, tc := range cases {
		got, ok := ParseTime(tc.value, loc)
		if ok != tc.ok {
			t.Fatalf("%q: expected ok=%v, got %v", tc.value, tc.ok, ok)
		}
		if ok && !got.Equal(tc.want) {
			t.Fatalf("%q: expected %v, got %v", tc.value, tc.want, got)
		}
	}
}

func TestRecentDays(t *testing.T) {
	now := time.Date(2024, 5, 10, 12, 0, 0, 0, time.UTC)
	window := RecentDays(now, 40)
	if !window.Contains(now.AddDate(0, 0, -39)) || window.Contains(now.AddDate(0, 0, -41)) {
		t.Fatalf("unexpected window %+v", window)
	}
	if RecentDays(now, 0).Active() {
		t.Fatal("zero days must disable the window")
	}
}
