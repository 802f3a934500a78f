// Package analyze samples column values to infer shape (array-like,
// date-like) and to enumerate candidate unique values for the value-mapping
// assistant. Results are advisory: the caps below bound UI payload sizes, not
// correctness.
package analyze

import (
	"regexp"
	"sort"
	"strings"

	"datastudio/internal/rowvalue"
	"datastudio/internal/rules"
	"datastudio/pkg/records"
)

const (
	// sampleScanLimit bounds how many non-empty values Column inspects.
	sampleScanLimit = 200
	// sampleKeepLimit bounds how many raw sample values are returned.
	sampleKeepLimit = 20
	// uniqueTagLimit bounds the returned unique-tag list.
	uniqueTagLimit = 50
	// uniqueValueScanLimit is the default scan bound for UniqueValues.
	uniqueValueScanLimit = 5000
	// uniqueValueKeepLimit bounds the returned unique-value list.
	uniqueValueKeepLimit = 500
)

// datePattern matches ISO-style YYYY-MM-DD prefixes and D/M/YY(YY)-style
// separator dates.
var datePattern = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}|^\d{1,2}[/.\-]\d{1,2}[/.\-]\d{2,4}`)

// ColumnProfile is the result of sampling one column.
type ColumnProfile struct {
	IsArrayLikely bool     `json:"isArrayLikely"`
	IsDateLikely  bool     `json:"isDateLikely"`
	SampleValues  []string `json:"sampleValues"`
	UniqueTags    []string `json:"uniqueTags"`
}

// Column scans up to 200 non-empty values of key and reports whether the
// column looks array-valued or date-valued, along with raw samples and the
// unique tags seen in array-shaped cells.
//
// The numeric date trigger uses the range (35000, 60000). This is narrower
// than the smart-date parser's own (30000, 60000) window; the two ranges are
// kept distinct on purpose.
func Column(rows []records.Record, key string) ColumnProfile {
	var p ColumnProfile
	tags := map[string]bool{}
	var tagOrder []string

	scanned := 0
	for _, row := range rows {
		if scanned >= sampleScanLimit {
			break
		}
		raw, ok := row[key]
		if !ok || raw == nil {
			continue
		}
		s := records.Stringify(raw)
		if strings.TrimSpace(s) == "" {
			continue
		}
		scanned++

		if len(p.SampleValues) < sampleKeepLimit {
			p.SampleValues = append(p.SampleValues, s)
		}

		if rowvalue.HasArrayShape(s) {
			p.IsArrayLikely = true
			for _, tag := range rowvalue.ParseArray(raw) {
				if !tags[tag] {
					tags[tag] = true
					tagOrder = append(tagOrder, tag)
				}
			}
			// Array-shaped cells skip date detection.
			continue
		}

		if datePattern.MatchString(s) {
			p.IsDateLikely = true
		} else if n, isNum := raw.(float64); isNum && n > 35000 && n < 60000 {
			p.IsDateLikely = true
		}
	}

	if len(tagOrder) > uniqueTagLimit {
		tagOrder = tagOrder[:uniqueTagLimit]
	}
	p.UniqueTags = tagOrder
	return p
}

// UniqueValues enumerates the distinct values a rule method would operate on
// for the given column, to drive the "map these values" UI.
//
// Token collection branches by method family:
//   - array_extract_by_prefix collects the extracted token per row (prefix
//     match, or first item);
//   - extract_serialize collects comma-split tokens (slashes preserved);
//   - other array_* methods (except array_count) collect every parsed item;
//   - everything else collects the raw stringified value.
//
// At most limit non-empty values are scanned (5000 when limit <= 0) and the
// sorted result is truncated to 500 entries. Exhaustiveness within those caps
// is a design choice, not a bug.
func UniqueValues(rows []records.Record, key, method string, limit int, params map[string]any) []string {
	if limit <= 0 {
		limit = uniqueValueScanLimit
	}
	prefix := ""
	if params != nil {
		if s, ok := params["prefix"].(string); ok {
			prefix = s
		}
	}

	seen := map[string]bool{}
	add := func(v string) {
		v = strings.TrimSpace(v)
		if v != "" {
			seen[v] = true
		}
	}

	scanned := 0
	for _, row := range rows {
		if scanned >= limit {
			break
		}
		raw, ok := row[key]
		if !ok || raw == nil {
			continue
		}
		s := records.Stringify(raw)
		if strings.TrimSpace(s) == "" {
			continue
		}
		scanned++

		switch {
		case method == rules.MethodArrayExtractByPrefix:
			items := rowvalue.ParseArray(raw)
			if len(items) == 0 {
				continue
			}
			picked := items[0]
			if prefix != "" {
				for _, it := range items {
					if strings.HasPrefix(strings.TrimSpace(it), prefix) {
						picked = it
						break
					}
				}
			}
			add(picked)

		case method == rules.MethodExtractSerialize:
			for _, token := range strings.Split(s, ",") {
				add(token)
			}

		case strings.HasPrefix(method, "array_") && method != rules.MethodArrayCount:
			for _, it := range rowvalue.ParseArray(raw) {
				add(it)
			}

		default:
			add(s)
		}
	}

	out := make([]string, 0, len(seen))
	for v := range seen {
		out = append(out, v)
	}
	sort.Strings(out)
	if len(out) > uniqueValueKeepLimit {
		out = out[:uniqueValueKeepLimit]
	}
	return out
}

// GuessColumnType maps a column profile to the schema type used in
// ColumnConfig records: tag_array when array-like, date when date-like,
// otherwise string.
func GuessColumnType(p ColumnProfile) string {
	switch {
	case p.IsArrayLikely:
		return "tag_array"
	case p.IsDateLikely:
		return "date"
	default:
		return "string"
	}
}
