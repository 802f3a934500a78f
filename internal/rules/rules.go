// Package rules implements the declarative per-column transformation engine.
//
// A Rule maps exactly one source column to one derived target column via a
// named method. Rules are immutable input: the engine never mutates a rule,
// and Apply is a pure function of (row, rule), which keeps transformation
// results deterministic and safe to re-run.
package rules

import (
	"strings"
	"time"

	"datastudio/internal/config"
	"datastudio/internal/rowvalue"
	"datastudio/pkg/records"
)

// Method names accepted by Apply. An unrecognized method passes the source
// value through unchanged.
const (
	MethodCopy                 = "copy"
	MethodArrayCount           = "array_count"
	MethodArrayJoin            = "array_join"
	MethodArrayExtract         = "array_extract"
	MethodArrayExtractByPrefix = "array_extract_by_prefix"
	MethodArrayIncludes        = "array_includes"
	MethodExtractSerialize     = "extract_serialize"
	MethodDateExtract          = "date_extract"
)

// NullValueKey is the ValueMap key consulted by extract_serialize when none of
// a cell's tokens match any mapped value.
const NullValueKey = "__NULL_VALUE__"

// Rule describes one derived column.
type Rule struct {
	ID         string            `json:"id"`
	TargetName string            `json:"targetName"`
	SourceKey  string            `json:"sourceKey"`
	Method     string            `json:"method"`
	Params     config.Options    `json:"params,omitempty"`
	ValueMap   map[string]string `json:"valueMap,omitempty"`
}

// Apply computes the derived value for one rule over one row.
//
// The ValueMap application point differs by method and that asymmetry is part
// of the contract: array_join, array_extract, array_extract_by_prefix, and
// extract_serialize map values internally (before aggregation), every other
// method maps the computed result afterwards.
func Apply(row records.Record, rule Rule) any {
	raw := row[rule.SourceKey]

	var result any
	mappedInternally := false

	switch rule.Method {
	case MethodArrayCount:
		result = len(rowvalue.ParseArray(raw))

	case MethodArrayJoin:
		items := rowvalue.ParseArray(raw)
		mapped := make([]string, len(items))
		for i, it := range items {
			mapped[i] = mapValue(rule.ValueMap, it)
		}
		result = strings.Join(mapped, rule.Params.String("delimiter", ", "))
		mappedInternally = true

	case MethodArrayExtract:
		items := rowvalue.ParseArray(raw)
		idx := rule.Params.Int("index", 0)
		if idx >= 0 && idx < len(items) {
			result = mapValue(rule.ValueMap, items[idx])
		} else {
			result = nil
		}
		mappedInternally = true

	case MethodArrayExtractByPrefix:
		items := rowvalue.ParseArray(raw)
		if len(items) == 0 {
			result = nil
		} else {
			picked := items[0]
			if prefix := rule.Params.String("prefix", ""); prefix != "" {
				for _, it := range items {
					if strings.HasPrefix(strings.TrimSpace(it), prefix) {
						picked = it
						break
					}
				}
			}
			result = mapValue(rule.ValueMap, picked)
		}
		mappedInternally = true

	case MethodArrayIncludes:
		keyword := strings.ToLower(rule.Params.String("keyword", ""))
		found := false
		if keyword != "" {
			for _, it := range rowvalue.ParseArray(raw) {
				if strings.Contains(strings.ToLower(it), keyword) {
					found = true
					break
				}
			}
		}
		result = found

	case MethodExtractSerialize:
		result = extractSerialize(raw, rule.ValueMap)
		mappedInternally = true

	case MethodDateExtract:
		result = dateExtract(raw, rule.Params.String("datePart", ""))

	default:
		// copy and anything unrecognized: pass through.
		result = raw
	}

	if !mappedInternally && result != nil && rule.ValueMap != nil {
		key := strings.TrimSpace(records.Stringify(result))
		if mapped, ok := rule.ValueMap[key]; ok {
			result = mapped
		}
	}
	return result
}

// mapValue substitutes item through vm when a mapping exists; otherwise the
// item is returned unchanged.
func mapValue(vm map[string]string, item string) string {
	if vm != nil {
		if mapped, ok := vm[strings.TrimSpace(item)]; ok {
			return mapped
		}
	}
	return item
}

// extractSerialize splits the source on commas only (slashes are preserved,
// unlike the array methods), maps each trimmed token through vm, and joins the
// distinct non-empty mapped values with ",". When nothing matched, the
// NullValueKey entry is used as fallback if present; otherwise the result is
// nil.
func extractSerialize(raw any, vm map[string]string) any {
	var (
		out  []string
		seen = map[string]bool{}
	)
	for _, token := range strings.Split(records.Stringify(raw), ",") {
		token = strings.TrimSpace(token)
		if token == "" {
			continue
		}
		mapped, ok := vm[token]
		if !ok || mapped == "" {
			continue
		}
		if !seen[mapped] {
			seen[mapped] = true
			out = append(out, mapped)
		}
	}
	if len(out) == 0 {
		if fallback, ok := vm[NullValueKey]; ok {
			return fallback
		}
		return nil
	}
	return strings.Join(out, ",")
}

// dateExtract parses the source via the smart date heuristic and formats the
// requested part. An unparseable source yields nil.
func dateExtract(raw any, part string) any {
	t, ok := rowvalue.ParseSmartDate(raw)
	if !ok {
		return nil
	}
	switch part {
	case "year":
		return t.Format("2006")
	case "month":
		return t.Format("01")
	case "day":
		return t.Format("02")
	case "date_only":
		return t.Format("2006-01-02")
	case "time_only":
		return t.Format("15:04")
	default:
		return t.Format(time.RFC3339)
	}
}

// ApplyTransformation runs every rule over every row. The output rows contain
// exactly the rule target keys; source columns not targeted by any rule are
// dropped. No rules means no output.
func ApplyTransformation(rows []records.Record, ruleSet []Rule) []records.Record {
	if len(ruleSet) == 0 {
		return []records.Record{}
	}
	out := make([]records.Record, len(rows))
	for i, row := range rows {
		derived := make(records.Record, len(ruleSet))
		for _, r := range ruleSet {
			derived[r.TargetName] = Apply(row, r)
		}
		out[i] = derived
	}
	return out
}

// TargetColumns returns the rule target names in declaration order,
// de-duplicated by first occurrence.
func TargetColumns(ruleSet []Rule) []string {
	seen := map[string]bool{}
	out := make([]string, 0, len(ruleSet))
	for _, r := range ruleSet {
		if !seen[r.TargetName] {
			seen[r.TargetName] = true
			out = append(out, r.TargetName)
		}
	}
	return out
}
