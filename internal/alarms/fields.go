package alarms

import (
	"regexp"
	"strings"
)

// Field is one key of a semi-structured alarm sub-field together with its values.
type Field struct {
	Key    string
	Values []string
}

var spacedEquals = regexp.MustCompile(`\s*=\s*`)

// ParseFields parses the free-text "key=value;key=value" sub-fields found in the user
// information and diagnostic columns.
//
//	text     := segment (';' segment)*
//	segment  := [prefix] pair (WS pair)* | continuation
//	pair     := key '=' value
//
// Keys are lower-cased. Words after a pair's value up to the next pair belong to that value.
// A segment without '=' is a continuation and adds a value to the previous key; leading
// continuations and empty segments are ignored.
func ParseFields(text string) []Field {
	text = spacedEquals.ReplaceAllString(text, "=")

	var fields []Field
	for _, segment := range strings.Split(text, ";") {
		segment = strings.TrimSpace(segment)
		if segment == "" {
			continue
		}

		if !strings.Contains(segment, "=") {
			if len(fields) > 0 {
				last := &fields[len(fields)-1]
				last.Values = append(last.Values, segment)
			}
			continue
		}

		var current *Field
		var words []string
		flush := func() {
			if current == nil {
				return
			}
			if value := strings.Join(words, " "); value != "" {
				current.Values = append(current.Values, value)
			}
			fields = append(fields, *current)
			current, words = nil, nil
		}

		for _, token := range strings.Fields(segment) {
			key, value, found := strings.Cut(token, "=")
			if !found || key == "" {
				if current != nil {
					words = append(words, token)
				}
				continue
			}
			flush()
			current = &Field{Key: strings.ToLower(key)}
			if value != "" {
				words = append(words, value)
			}
		}
		flush()
	}
	return fields
}

// Lookup returns every value recorded under key across all of its occurrences.
func Lookup(fields []Field, key string) []string {
	key = strings.ToLower(key)
	var values []string
	for _, field := range fields {
		if field.Key == key {
			values = append(values, field.Values...)
		}
	}
	return values
}

// TechCells is the set of faulty cells reported for one sub-technology.
type TechCells struct {
	Tech  string
	Cells []string
}

// FaultyCells reads the faulty_cells section ("faulty_cells=TECH:cell,cell;TECH2:cell").
// Technologies keep their first-seen order and cells are de-duplicated.
func FaultyCells(text string) []TechCells {
	var result []TechCells
	index := make(map[string]int)
	seen := make(map[string]map[string]bool)

	for _, value := range Lookup(ParseFields(text), "faulty_cells") {
		tech, cells, found := strings.Cut(value, ":")
		tech = strings.ToUpper(strings.TrimSpace(tech))
		if !found || tech == "" {
			continue
		}
		position, ok := index[tech]
		if !ok {
			position = len(result)
			index[tech] = position
			result = append(result, TechCells{Tech: tech})
			seen[tech] = make(map[string]bool)
		}
		for _, cell := range strings.Split(cells, ",") {
			cell = strings.ToUpper(strings.TrimSpace(cell))
			if cell == "" || seen[tech][cell] {
				continue
			}
			seen[tech][cell] = true
			result[position].Cells = append(result[position].Cells, cell)
		}
	}
	return result
}

// UnitNames returns the distinct hardware unit tokens of every unitName key, upper-cased.
func UnitNames(text string) []string {
	var units []string
	seen := make(map[string]bool)
	for _, value := range Lookup(ParseFields(text), "unitname") {
		tokens := strings.Fields(value)
		if len(tokens) == 0 {
			continue
		}
		unit := strings.ToUpper(tokens[0])
		if seen[unit] {
			continue
		}
		seen[unit] = true
		units = append(units, unit)
	}
	return units
}
