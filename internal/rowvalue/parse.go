// Package rowvalue contains the best-effort cell parsing heuristics used by
// the rule engine and the column analyzer.
//
// Both entry points are total functions: they never return an error and never
// panic. Unparseable input degrades to an explicit fallback (a single-element
// array, or ok=false for dates) so that batch processing stays resilient to
// dirty spreadsheet data.
package rowvalue

import (
	"encoding/json"
	"regexp"
	"strconv"
	"strings"
	"time"

	"datastudio/pkg/records"
)

// delimiterRun matches one or more consecutive list delimiters as they appear
// in real-world spreadsheet cells: comma, pipe, slash, semicolon, newline.
var delimiterRun = regexp.MustCompile(`[,|/;\n]+`)

// excelEpochOffsetDays is the day offset between the Excel serial-date epoch
// (1899-12-30, after the leap-year bug adjustment) and the Unix epoch.
const excelEpochOffsetDays = 25569

// ParseArray coerces a raw cell value into a list of strings.
//
// nil and blank input produce an empty slice. A bracket-delimited value is
// treated as JSON after rewriting single quotes to double quotes; a failed
// JSON parse is not an error, it falls through to delimiter splitting. A value
// containing any of `, | / ; \n` is split on runs of those characters with
// empty segments dropped. Anything else comes back as a one-element slice.
func ParseArray(raw any) []string {
	s := strings.TrimSpace(records.Stringify(raw))
	if s == "" {
		return []string{}
	}

	if strings.HasPrefix(s, "[") && strings.HasSuffix(s, "]") {
		normalized := strings.ReplaceAll(s, "'", `"`)
		var items []any
		if err := json.Unmarshal([]byte(normalized), &items); err == nil {
			out := make([]string, 0, len(items))
			for _, it := range items {
				out = append(out, records.Stringify(it))
			}
			return out
		}
		// Malformed bracket syntax: fall through to delimiter splitting.
	}

	if delimiterRun.MatchString(s) {
		parts := delimiterRun.Split(s, -1)
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
		return out
	}

	return []string{s}
}

// HasArrayShape reports whether a trimmed cell value would split into multiple
// items under ParseArray, i.e. it is bracket-delimited or contains a list
// delimiter. The analyzer uses this as its array-likelihood trigger.
func HasArrayShape(s string) bool {
	s = strings.TrimSpace(s)
	if s == "" {
		return false
	}
	if strings.HasPrefix(s, "[") && strings.HasSuffix(s, "]") {
		return true
	}
	return delimiterRun.MatchString(s)
}

// nativeLayouts are tried in order before the split-and-reassemble fallback.
var nativeLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
	"Jan 2, 2006",
	"January 2, 2006",
	"2 Jan 2006",
}

var dateSeparators = regexp.MustCompile(`[/\-. :]+`)

// ParseSmartDate interprets a raw cell value as a date.
//
// Numbers inside the heuristic Excel serial range (30000, 60000) convert via
// the Excel epoch. Strings try the native layouts first, then fall back to
// splitting on `/ - . space :` and reassembling day/month/year, with a
// two-digit-year heuristic (<100 adds 2000) and a Buddhist-calendar heuristic
// (year > 2400 subtracts 543). The second return value is false when no
// interpretation succeeds; the function never panics.
func ParseSmartDate(raw any) (time.Time, bool) {
	switch n := raw.(type) {
	case float64:
		return fromExcelSerial(n)
	case int:
		return fromExcelSerial(float64(n))
	case int64:
		return fromExcelSerial(float64(n))
	case nil:
		return time.Time{}, false
	}

	s := strings.TrimSpace(records.Stringify(raw))
	if s == "" {
		return time.Time{}, false
	}

	for _, layout := range nativeLayouts {
		// Short numeric strings like "5-3-24" technically satisfy
		// "2006-01-02" with a year of 5; require a plausible year so
		// those fall through to the day-first reconstruction instead.
		if t, err := time.Parse(layout, s); err == nil && t.Year() >= 1000 {
			return t.UTC(), true
		}
	}

	// Day-first reconstruction: "5/3/24", "05-03-2024", "5.3.2567 14:30".
	parts := dateSeparators.Split(s, -1)
	if len(parts) < 3 {
		return time.Time{}, false
	}
	day, err1 := strconv.Atoi(parts[0])
	month, err2 := strconv.Atoi(parts[1])
	year, err3 := strconv.Atoi(parts[2])
	if err1 != nil || err2 != nil || err3 != nil {
		return time.Time{}, false
	}
	if year < 100 {
		year += 2000
	}
	if year > 2400 {
		year -= 543
	}
	if month < 1 || month > 12 || day < 1 || day > 31 {
		return time.Time{}, false
	}

	hour, minute := 0, 0
	if len(parts) >= 5 {
		if h, err := strconv.Atoi(parts[3]); err == nil && h >= 0 && h < 24 {
			if m, err := strconv.Atoi(parts[4]); err == nil && m >= 0 && m < 60 {
				hour, minute = h, m
			}
		}
	}

	t := time.Date(year, time.Month(month), day, hour, minute, 0, 0, time.UTC)
	// time.Date normalizes overflow (e.g. day 31 in April becomes May 1);
	// treat that as a failed parse rather than a silent shift.
	if t.Day() != day || t.Month() != time.Month(month) {
		return time.Time{}, false
	}
	return t, true
}

// fromExcelSerial converts an Excel serial-date number to a UTC time. Values
// outside the (30000, 60000) heuristic window are rejected so that ordinary
// numeric cells (ids, amounts) are not misread as dates.
func fromExcelSerial(serial float64) (time.Time, bool) {
	if serial <= 30000 || serial >= 60000 {
		return time.Time{}, false
	}
	ms := int64((serial - excelEpochOffsetDays) * 86400 * 1000)
	return time.UnixMilli(ms).UTC(), true
}
