package fhir

import "testing"

func TestBuildPaginationLinksMiddlePage(t *testing.T) {
	links := buildPaginationLinks(SearchBundleParams{
		BaseURL:  "https://host/fhir/Patient",
		RawQuery: "family=Smith&_count=10&_offset=10",
		Offset:   10,
		Count:    10,
		Total:    35,
	})

	byRel := map[string]string{}
	for _, l := range links {
		byRel[l.Relation] = l.URL
	}

	if _, ok := byRel["self"]; !ok {
		t.Fatal("expected a self link")
	}
	if byRel["first"] != "https://host/fhir/Patient?family=Smith&_count=10&_offset=0" {
		t.Errorf("unexpected first link: %s", byRel["first"])
	}
	if byRel["previous"] != "https://host/fhir/Patient?family=Smith&_count=10&_offset=0" {
		t.Errorf("unexpected previous link: %s", byRel["previous"])
	}
	if byRel["next"] != "https://host/fhir/Patient?family=Smith&_count=10&_offset=20" {
		t.Errorf("unexpected next link: %s", byRel["next"])
	}
	if byRel["last"] != "https://host/fhir/Patient?family=Smith&_count=10&_offset=30" {
		t.Errorf("unexpected last link: %s", byRel["last"])
	}
}

func TestBuildPaginationLinksFirstPageNoPrevious(t *testing.T) {
	links := buildPaginationLinks(SearchBundleParams{
		BaseURL: "https://host/fhir/Patient",
		Offset:  0,
		Count:   10,
		Total:   3,
	})
	for _, l := range links {
		if l.Relation == "previous" {
			t.Error("did not expect a previous link on the first page")
		}
		if l.Relation == "next" {
			t.Error("did not expect a next link when total fits on one page")
		}
	}
}

func TestBuildPaginationLinksEmptyResult(t *testing.T) {
	links := buildPaginationLinks(SearchBundleParams{
		BaseURL: "https://host/fhir/Patient",
		Offset:  0,
		Count:   10,
		Total:   0,
	})
	byRel := map[string]string{}
	for _, l := range links {
		byRel[l.Relation] = l.URL
	}
	if byRel["last"] != byRel["first"] {
		t.Errorf("expected last to equal first for an empty result, got last=%s first=%s", byRel["last"], byRel["first"])
	}
}

func TestNewSearchBundleAssemblesEntries(t *testing.T) {
	env := &ResourceEnvelope{ResourceType: "Patient", ID: "p1", VersionID: 1, Payload: patientPayload("Smith")}
	bundle, err := NewSearchBundle([]*ResourceEnvelope{env}, SearchBundleParams{
		BaseURL: "https://host/fhir/Patient",
		Count:   20,
		Total:   1,
	})
	if err != nil {
		t.Fatalf("NewSearchBundle: %v", err)
	}
	if bundle.Type != "searchset" {
		t.Errorf("expected type searchset, got %s", bundle.Type)
	}
	if len(bundle.Entry) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(bundle.Entry))
	}
	if bundle.Entry[0].FullURL != "https://host/fhir/Patient/p1" {
		t.Errorf("unexpected fullUrl: %s", bundle.Entry[0].FullURL)
	}
	if bundle.Entry[0].Search == nil || bundle.Entry[0].Search.Mode != "match" {
		t.Error("expected search.mode=match on every entry")
	}
}

func TestNewHistoryBundleMapsMethodToRequest(t *testing.T) {
	entries := []*HistoryEntry{
		{ResourceType: "Patient", ResourceID: "p1", VersionID: 1, Method: HistoryCreate, Snapshot: &ResourceEnvelope{ResourceType: "Patient", ID: "p1", Payload: patientPayload("A")}},
		{ResourceType: "Patient", ResourceID: "p1", VersionID: 2, Method: HistoryDelete},
	}
	bundle, err := NewHistoryBundle(entries, "https://host/fhir/Patient", 2)
	if err != nil {
		t.Fatalf("NewHistoryBundle: %v", err)
	}
	if bundle.Entry[0].Request.Method != "POST" || bundle.Entry[0].Response.Status != "201" {
		t.Errorf("expected create entry mapped to POST/201, got %+v", bundle.Entry[0])
	}
	if bundle.Entry[1].Request.Method != "DELETE" || bundle.Entry[1].Response.Status != "204" {
		t.Errorf("expected delete entry mapped to DELETE/204, got %+v", bundle.Entry[1])
	}
	if bundle.Entry[1].Resource != nil {
		t.Error("expected no resource body for a deletion history entry")
	}
}
