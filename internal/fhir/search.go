package fhir

import (
	"encoding/json"
	"net/url"
	"sort"
	"strconv"
	"strings"
)

// FilterKind enumerates the fixed filter variants the Search Evaluator
// supports.
type FilterKind string

const (
	FilterExact      FilterKind = "exact"
	FilterBoolean    FilterKind = "boolean"
	FilterContains   FilterKind = "contains"
	FilterIdentifier FilterKind = "identifier"
)

// Filter is one conjunctive predicate applied during a search scan.
type Filter struct {
	Kind   FilterKind
	Field  string
	Value  string
	System string // only meaningful for FilterIdentifier
}

// SortSpec describes a single sort key, grounded on the teacher's
// internal/platform/fhir/sort.go directive shape ("-field" for descending).
type SortSpec struct {
	Field      string
	Descending bool
}

// SearchQuery is the parsed form of a FHIR search query string.
type SearchQuery struct {
	ResourceType string
	Filters      []Filter
	Sort         []SortSpec
	Count        int
	Offset       int
	RawQuery     string // query string as received, for link suffix preservation
}

// QueryResult is the outcome of evaluating a SearchQuery against the store.
type QueryResult struct {
	Total     int
	Page      []*ResourceEnvelope
	Offset    int
	Count     int
}

const defaultCount = 20

// ParseSearchQuery parses raw FHIR search parameters (as from
// url.Values) into a SearchQuery. Recognized control parameters are
// _count, _offset, and _sort; other "_"-prefixed parameters are ignored
// and every remaining parameter becomes a Filter. A trailing ":contains"
// modifier selects a substring filter; ":exact" and any other modifier
// leave an exact filter. Identifier-valued parameters become identifier
// filters and may carry "system|value"; the values "true" and "false"
// become boolean filters.
func ParseSearchQuery(resourceType string, values url.Values, rawQuery string) SearchQuery {
	q := SearchQuery{
		ResourceType: resourceType,
		Count:        defaultCount,
		RawQuery:     rawQuery,
	}

	for key, vals := range values {
		if len(vals) == 0 {
			continue
		}
		val := vals[0]
		switch key {
		case "_count":
			if n, err := strconv.Atoi(val); err == nil && n >= 0 {
				q.Count = n
			}
			continue
		case "_offset":
			if n, err := strconv.Atoi(val); err == nil && n >= 0 {
				q.Offset = n
			}
			continue
		case "_sort":
			for _, field := range strings.Split(val, ",") {
				field = strings.TrimSpace(field)
				if field == "" {
					continue
				}
				desc := strings.HasPrefix(field, "-")
				field = strings.TrimPrefix(field, "-")
				q.Sort = append(q.Sort, SortSpec{Field: field, Descending: desc})
			}
			continue
		}
		if strings.HasPrefix(key, "_") {
			// Reserved control parameters not otherwise recognized are
			// ignored rather than treated as a field filter.
			continue
		}

		field := key
		kind := FilterExact
		if idx := strings.Index(key, ":"); idx >= 0 {
			field = key[:idx]
			switch key[idx+1:] {
			case "exact":
				kind = FilterExact
			case "contains":
				kind = FilterContains
			}
		}

		if field == "identifier" || strings.HasSuffix(field, "-identifier") {
			system, value := splitIdentifier(val)
			q.Filters = append(q.Filters, Filter{Kind: FilterIdentifier, Field: field, System: system, Value: value})
			continue
		}

		if val == "true" || val == "false" {
			q.Filters = append(q.Filters, Filter{Kind: FilterBoolean, Field: field, Value: val})
			continue
		}

		q.Filters = append(q.Filters, Filter{Kind: kind, Field: field, Value: val})
	}

	return q
}

func splitIdentifier(raw string) (system, value string) {
	if idx := strings.Index(raw, "|"); idx >= 0 {
		return raw[:idx], raw[idx+1:]
	}
	return "", raw
}

// Evaluate runs a linear scan over the store's per-type subspace, applying
// filters conjunctively, then sorting and paginating. Soft-deleted resources
// are excluded from search results.
func Evaluate(store *Store, q SearchQuery) QueryResult {
	candidates := store.allByType(q.ResourceType)

	matched := make([]*ResourceEnvelope, 0, len(candidates))
	for idx, env := range candidates {
		if env.Deleted {
			continue
		}
		if matchesAll(env, q.Filters) {
			matched = append(matched, env)
			_ = idx
		}
	}

	// Always order the result set, even with no _sort: the store's scan
	// order comes from a map and is not stable across calls, which would
	// otherwise make paging (offset/count) incoherent between requests.
	sort.SliceStable(matched, func(i, j int) bool {
		return lessBySort(matched[i], matched[j], q.Sort)
	})

	total := len(matched)
	offset := q.Offset
	if offset > total {
		offset = total
	}
	end := total
	count := q.Count
	if count > 0 && offset+count < end {
		end = offset + count
	} else if count == 0 {
		end = offset
	}

	page := matched[offset:end]
	return QueryResult{Total: total, Page: page, Offset: q.Offset, Count: q.Count}
}

func matchesAll(env *ResourceEnvelope, filters []Filter) bool {
	for _, f := range filters {
		if !matches(env, f) {
			return false
		}
	}
	return true
}

func fieldValue(env *ResourceEnvelope, field string) (interface{}, bool) {
	switch field {
	case "_id":
		return env.ID, true
	case "_lastUpdated":
		return env.LastUpdated.UTC().Format("2006-01-02T15:04:05Z07:00"), true
	case "resourceType", "resource_type":
		return env.ResourceType, true
	}
	var doc map[string]interface{}
	if err := json.Unmarshal(env.Payload, &doc); err != nil {
		return nil, false
	}
	v, ok := doc[field]
	return v, ok
}

func matches(env *ResourceEnvelope, f Filter) bool {
	switch f.Kind {
	case FilterExact:
		v, ok := fieldValue(env, f.Field)
		if !ok {
			return false
		}
		return stringify(v) == f.Value
	case FilterBoolean:
		v, ok := fieldValue(env, f.Field)
		if !ok {
			return false
		}
		switch b := v.(type) {
		case bool:
			want := f.Value == "true"
			return b == want
		case string:
			return b == f.Value
		}
		return false
	case FilterContains:
		v, ok := fieldValue(env, f.Field)
		if !ok {
			return false
		}
		return strings.Contains(stringify(v), f.Value)
	case FilterIdentifier:
		v, ok := fieldValue(env, f.Field)
		if !ok {
			return false
		}
		arr, ok := v.([]interface{})
		if !ok {
			return false
		}
		for _, item := range arr {
			m, ok := item.(map[string]interface{})
			if !ok {
				continue
			}
			val, _ := m["value"].(string)
			sys, _ := m["system"].(string)
			if f.System != "" {
				if sys == f.System && val == f.Value {
					return true
				}
				continue
			}
			if val == f.Value {
				return true
			}
		}
		return false
	}
	return false
}

func stringify(v interface{}) string {
	switch t := v.(type) {
	case string:
		return t
	case bool:
		if t {
			return "true"
		}
		return "false"
	default:
		data, _ := json.Marshal(v)
		return string(data)
	}
}

func lessBySort(a, b *ResourceEnvelope, specs []SortSpec) bool {
	for _, s := range specs {
		av, _ := fieldValue(a, s.Field)
		bv, _ := fieldValue(b, s.Field)
		as, bs := stringify(av), stringify(bv)
		if as == bs {
			continue
		}
		if s.Descending {
			return as > bs
		}
		return as < bs
	}
	// Deterministic baseline: every other field tied (or no sort requested
	// at all) falls back to id order so repeated identical queries paginate
	// consistently.
	return a.ID < b.ID
}
