package fhir

import (
	"encoding/json"
	"net/url"
	"testing"
)

func seedPatients(t *testing.T, s *Store) {
	t.Helper()
	docs := []struct {
		id     string
		family string
		active bool
	}{
		{"p1", "Adams", true},
		{"p2", "Baker", false},
		{"p3", "Carter", true},
	}
	for _, d := range docs {
		payload, _ := marshalDoc(map[string]interface{}{"family": d.family, "active": d.active})
		if err := s.Insert(&ResourceEnvelope{ResourceType: "Patient", ID: d.id, Payload: payload}); err != nil {
			t.Fatalf("seed insert %s: %v", d.id, err)
		}
	}
}

func marshalDoc(m map[string]interface{}) ([]byte, error) {
	return json.Marshal(m)
}

func TestParseSearchQueryControlParams(t *testing.T) {
	values := url.Values{"_count": {"5"}, "_offset": {"10"}, "_sort": {"-family"}, "family": {"Adams"}}
	q := ParseSearchQuery("Patient", values, values.Encode())

	if q.Count != 5 || q.Offset != 10 {
		t.Fatalf("expected count=5 offset=10, got count=%d offset=%d", q.Count, q.Offset)
	}
	if len(q.Sort) != 1 || q.Sort[0].Field != "family" || !q.Sort[0].Descending {
		t.Fatalf("expected descending sort on family, got %+v", q.Sort)
	}
	if len(q.Filters) != 1 || q.Filters[0].Field != "family" || q.Filters[0].Value != "Adams" {
		t.Fatalf("expected one exact filter on family=Adams, got %+v", q.Filters)
	}
}

func TestEvaluateExcludesDeleted(t *testing.T) {
	s := NewStore()
	seedPatients(t, s)
	s.Delete("Patient", "p2")

	result := Evaluate(s, SearchQuery{ResourceType: "Patient", Count: 20})
	if result.Total != 2 {
		t.Fatalf("expected 2 live patients, got %d", result.Total)
	}
}

func TestEvaluateExactFilter(t *testing.T) {
	s := NewStore()
	seedPatients(t, s)

	result := Evaluate(s, SearchQuery{
		ResourceType: "Patient",
		Filters:      []Filter{{Kind: FilterExact, Field: "family", Value: "Baker"}},
		Count:        20,
	})
	if result.Total != 1 || result.Page[0].ID != "p2" {
		t.Fatalf("expected exactly p2, got total=%d page=%+v", result.Total, result.Page)
	}
}

func TestEvaluateBooleanFilter(t *testing.T) {
	s := NewStore()
	seedPatients(t, s)

	result := Evaluate(s, SearchQuery{
		ResourceType: "Patient",
		Filters:      []Filter{{Kind: FilterBoolean, Field: "active", Value: "true"}},
		Count:        20,
	})
	if result.Total != 2 {
		t.Fatalf("expected 2 active patients, got %d", result.Total)
	}
}

func TestEvaluatePaginationAndTieBreak(t *testing.T) {
	s := NewStore()
	seedPatients(t, s)

	result := Evaluate(s, SearchQuery{ResourceType: "Patient", Count: 1, Offset: 0})
	if len(result.Page) != 1 {
		t.Fatalf("expected page size 1, got %d", len(result.Page))
	}
	if result.Total != 3 {
		t.Fatalf("expected total 3, got %d", result.Total)
	}
	if result.Page[0].ID != "p1" {
		t.Errorf("expected the unsorted first page to start with the lowest _id p1, got %s", result.Page[0].ID)
	}
}

func TestEvaluateSortDescendingThenIDTieBreak(t *testing.T) {
	s := NewStore()
	payloadA, _ := marshalDoc(map[string]interface{}{"family": "Same"})
	payloadB, _ := marshalDoc(map[string]interface{}{"family": "Same"})
	_ = s.Insert(&ResourceEnvelope{ResourceType: "Patient", ID: "b", Payload: payloadB})
	_ = s.Insert(&ResourceEnvelope{ResourceType: "Patient", ID: "a", Payload: payloadA})

	result := Evaluate(s, SearchQuery{
		ResourceType: "Patient",
		Sort:         []SortSpec{{Field: "family", Descending: true}},
		Count:        20,
	})
	if len(result.Page) != 2 {
		t.Fatalf("expected 2 results, got %d", len(result.Page))
	}
	if result.Page[0].ID != "a" || result.Page[1].ID != "b" {
		t.Errorf("expected tie-break ascending by _id (a before b), got %s then %s", result.Page[0].ID, result.Page[1].ID)
	}
}
