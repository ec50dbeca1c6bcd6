// Package reference holds the site catalog and alarm dictionaries used to classify an extract.
package reference

import (
	"sort"
	"strings"
	"time"
)

type SiteClass string

const (
	ClassMacro SiteClass = "MACRO"
	ClassMicro SiteClass = "MICRO"
	ClassPico  SiteClass = "PICO"
	ClassNano  SiteClass = "NANO"
)

// ParseSiteClass upper-cases the catalog value. Unknown values are kept as-is and are
// classified with the MACRO rules.
func ParseSiteClass(value string) SiteClass {
	return SiteClass(strings.ToUpper(strings.TrimSpace(value)))
}

// IsSmallCell is true for MICRO, PICO and NANO sites.
func (c SiteClass) IsSmallCell() bool {
	return c == ClassMicro || c == ClassPico || c == ClassNano
}

type SiteRecord struct {
	Code          string    `json:"code"`
	Name          string    `json:"name"`
	Office        string    `json:"office"`
	Class         SiteClass `json:"class"`
	Zone          string    `json:"zone"`
	VIP           bool      `json:"vip"`
	CEO           bool      `json:"ceo"`
	Router        bool      `json:"router"`
	BackupMinutes string    `json:"backupMinutes"`
	NodalDegree   string    `json:"nodalDegree"`
	PowerSource   string    `json:"powerSource"`
}

// CategoryOM marks an operations-and-maintenance outage in the alarm-category dictionary.
const CategoryOM = "O&M"

type AlarmRename struct {
	DisplayName string
	Critical    bool
}

// Snapshot is one consistent set of catalog and dictionaries. It is never mutated after
// construction; refreshes build a new Snapshot.
type Snapshot struct {
	Sites      map[string]SiteRecord
	Categories map[string]string
	Renames    map[string]AlarmRename
	Critical   map[string]struct{}
	Hardware   map[string]string
	Comments   []string
	LoadedAt   time.Time

	codes []string
	zones []string
}

// DefaultComments is the comment vocabulary used when no remote vocabulary was ever loaded.
var DefaultComments = []string{
	"", "Weather Issue", "Access Requested", "Access Blocked",
	"On way to site", "Working in site", "Spare parts required",
	"Spare Shortage", "Power Issue", "Cleared", "Access Tower H&S",
	"H&S case", "HDSL", "Planned Action", "Cascaded",
	"Shared PM Issue", "Theft and sabotage", "Owner PM Issue",
}

// NewSnapshot indexes the given parts. Nil maps are replaced with empty ones.
func NewSnapshot(
	sites map[string]SiteRecord,
	categories map[string]string,
	renames map[string]AlarmRename,
	hardware map[string]string,
	comments []string,
	loadedAt time.Time,
) *Snapshot {
	if sites == nil {
		sites = map[string]SiteRecord{}
	}
	if categories == nil {
		categories = map[string]string{}
	}
	if renames == nil {
		renames = map[string]AlarmRename{}
	}
	if hardware == nil {
		hardware = map[string]string{}
	}
	if len(comments) == 0 {
		comments = DefaultComments
	}

	critical := make(map[string]struct{})
	for key, rename := range renames {
		if !rename.Critical {
			continue
		}
		critical[key] = struct{}{}
		if display := Normalize(rename.DisplayName); display != "" {
			critical[display] = struct{}{}
		}
	}

	codes := make([]string, 0, len(sites))
	zoneSet := make(map[string]struct{})
	for code, site := range sites {
		codes = append(codes, code)
		if zone := strings.TrimSpace(site.Zone); zone != "" {
			zoneSet[zone] = struct{}{}
		}
	}
	sort.Strings(codes)

	zones := make([]string, 0, len(zoneSet))
	for zone := range zoneSet {
		zones = append(zones, zone)
	}
	sort.Strings(zones)

	return &Snapshot{
		Sites:      sites,
		Categories: categories,
		Renames:    renames,
		Critical:   critical,
		Hardware:   hardware,
		Comments:   comments,
		LoadedAt:   loadedAt,
		codes:      codes,
		zones:      zones,
	}
}

// Empty is the default served when no refresh ever succeeded.
func Empty() *Snapshot {
	return NewSnapshot(nil, nil, nil, nil, nil, time.Time{})
}

// Codes returns the catalog site codes in ascending order.
func (s *Snapshot) Codes() []string {
	return s.codes
}

// Zones returns the distinct operational zones in ascending order.
func (s *Snapshot) Zones() []string {
	return s.zones
}

func (s *Snapshot) IsValidSite(code string) bool {
	_, ok := s.Sites[code]
	return ok
}

func (s *Snapshot) Site(code string) (SiteRecord, bool) {
	site, ok := s.Sites[code]
	return site, ok
}

// Category looks up an already-normalized alarm text.
func (s *Snapshot) Category(normalizedText string) (string, bool) {
	category, ok := s.Categories[normalizedText]
	return category, ok
}

// RenameAlarm resolves a raw environmental alarm key case-insensitively, falling back to the
// trimmed key itself.
func (s *Snapshot) RenameAlarm(key string) string {
	if rename, ok := s.Renames[Normalize(key)]; ok && strings.TrimSpace(rename.DisplayName) != "" {
		return strings.TrimSpace(rename.DisplayName)
	}
	return strings.TrimSpace(key)
}

func (s *Snapshot) IsCritical(alarm string) bool {
	_, ok := s.Critical[Normalize(alarm)]
	return ok
}

// HardwareName resolves supplementary information through the hardware-rename dictionary,
// falling back to the trimmed raw value.
func (s *Snapshot) HardwareName(supplementary string) string {
	if name, ok := s.Hardware[Normalize(supplementary)]; ok && name != "" {
		return name
	}
	return strings.TrimSpace(supplementary)
}

var lineBreaks = strings.NewReplacer("\r\n", " ", "\r", " ", "\n", " ")

// Normalize upper-cases, replaces line breaks with spaces and trims. It is the key form of
// every dictionary lookup.
func Normalize(value string) string {
	return strings.TrimSpace(strings.ToUpper(lineBreaks.Replace(value)))
}
