// Package sqlsurface exposes the in-memory resource store to analysts as a
// constrained read-only SQL surface. The full SQL parser/planner and its
// language-server front end are external collaborators; this package
// defines the QueryPlanner contract and a minimal translator covering
// "SELECT <cols> FROM <ResourceType> WHERE <field> = <value>".
package sqlsurface

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/ehr/fhir-core/internal/fhir"
)

// Plan is a parsed, ready-to-run query against one resource type.
type Plan struct {
	ResourceType string
	Columns      []string
	Filter       *fhir.Filter // nil means "no WHERE clause"
}

// QueryPlanner turns a SQL-surface query string into a runnable Plan. The
// full-featured planner (joins, aggregates, the FHIRPath-to-column mapping
// for nested fields) is an external collaborator; this interface is the
// seam it plugs into.
type QueryPlanner interface {
	Plan(query string) (*Plan, error)
}

// SimplePlanner implements QueryPlanner for a single-table equality
// grammar: no joins, no aggregates, at most one WHERE clause of the form
// "field = 'value'" or "field = 123".
type SimplePlanner struct{}

func (SimplePlanner) Plan(query string) (*Plan, error) {
	q := strings.TrimSpace(query)
	q = strings.TrimSuffix(q, ";")
	upper := strings.ToUpper(q)
	if !strings.HasPrefix(upper, "SELECT ") {
		return nil, fmt.Errorf("sqlsurface: query must start with SELECT")
	}

	fromIdx := indexOfKeyword(upper, "FROM")
	if fromIdx < 0 {
		return nil, fmt.Errorf("sqlsurface: missing FROM clause")
	}
	colsPart := strings.TrimSpace(q[len("SELECT"):fromIdx])
	rest := strings.TrimSpace(q[fromIdx+len("FROM"):])

	whereIdx := indexOfKeyword(strings.ToUpper(rest), "WHERE")
	var tablePart, wherePart string
	if whereIdx >= 0 {
		tablePart = strings.TrimSpace(rest[:whereIdx])
		wherePart = strings.TrimSpace(rest[whereIdx+len("WHERE"):])
	} else {
		tablePart = strings.TrimSpace(rest)
	}
	if tablePart == "" {
		return nil, fmt.Errorf("sqlsurface: missing resource type after FROM")
	}

	var columns []string
	if colsPart == "*" {
		columns = nil
	} else {
		for _, c := range strings.Split(colsPart, ",") {
			columns = append(columns, strings.TrimSpace(c))
		}
	}

	plan := &Plan{ResourceType: tablePart, Columns: columns}
	if wherePart != "" {
		filter, err := parseEquality(wherePart)
		if err != nil {
			return nil, err
		}
		plan.Filter = filter
	}
	return plan, nil
}

func indexOfKeyword(upper, keyword string) int {
	// Only match the keyword as a whole word to avoid matching inside an
	// identifier such as a column literally named "platform".
	idx := 0
	for {
		rel := strings.Index(upper[idx:], keyword)
		if rel < 0 {
			return -1
		}
		pos := idx + rel
		before := pos == 0 || upper[pos-1] == ' '
		afterPos := pos + len(keyword)
		after := afterPos >= len(upper) || upper[afterPos] == ' '
		if before && after {
			return pos
		}
		idx = pos + len(keyword)
	}
}

func parseEquality(clause string) (*fhir.Filter, error) {
	eq := strings.Index(clause, "=")
	if eq < 0 {
		return nil, fmt.Errorf("sqlsurface: only equality WHERE clauses are supported")
	}
	field := strings.TrimSpace(clause[:eq])
	value := strings.TrimSpace(clause[eq+1:])
	value = strings.Trim(value, "'\"")
	if field == "" {
		return nil, fmt.Errorf("sqlsurface: empty WHERE field")
	}
	return &fhir.Filter{Kind: fhir.FilterExact, Field: field, Value: value}, nil
}

// Execute runs a Plan against the store and projects the requested columns
// out of each matching resource's JSON payload.
func Execute(store *fhir.Store, plan *Plan) ([]map[string]interface{}, error) {
	query := fhir.SearchQuery{ResourceType: plan.ResourceType, Count: -1}
	if plan.Filter != nil {
		query.Filters = []fhir.Filter{*plan.Filter}
	}
	result := fhir.Evaluate(store, query)

	rows := make([]map[string]interface{}, 0, len(result.Page))
	for _, env := range result.Page {
		row, err := project(env, plan.Columns)
		if err != nil {
			return nil, err
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// project extracts the requested top-level columns from a resource's JSON
// payload, plus the always-available "id" and "last_updated" columns. An
// empty columns list (SELECT *) returns the full decoded document.
func project(env *fhir.ResourceEnvelope, columns []string) (map[string]interface{}, error) {
	var doc map[string]interface{}
	if err := json.Unmarshal(env.Payload, &doc); err != nil {
		return nil, fmt.Errorf("sqlsurface: decoding %s/%s: %w", env.ResourceType, env.ID, err)
	}
	doc["id"] = env.ID
	doc["last_updated"] = env.LastUpdated.UTC().Format("2006-01-02T15:04:05Z07:00")

	if len(columns) == 0 {
		return doc, nil
	}
	row := make(map[string]interface{}, len(columns))
	for _, c := range columns {
		row[c] = doc[c]
	}
	return row, nil
}
