package sqlsurface

import (
	"encoding/json"
	"testing"

	"github.com/ehr/fhir-core/internal/fhir"
)

func insertPatient(t *testing.T, store *fhir.Store, id, family string) {
	t.Helper()
	payload, _ := json.Marshal(map[string]interface{}{
		"name":   []map[string]interface{}{{"family": family}},
		"family": family,
	})
	if err := store.Insert(&fhir.ResourceEnvelope{ResourceType: "Patient", ID: id, Payload: payload}); err != nil {
		t.Fatalf("seed insert: %v", err)
	}
}

func TestSimplePlannerParsesSelectStar(t *testing.T) {
	plan, err := SimplePlanner{}.Plan("SELECT * FROM Patient")
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	if plan.ResourceType != "Patient" {
		t.Errorf("expected resource type Patient, got %q", plan.ResourceType)
	}
	if plan.Columns != nil {
		t.Errorf("expected nil columns for SELECT *, got %v", plan.Columns)
	}
	if plan.Filter != nil {
		t.Errorf("expected no filter, got %+v", plan.Filter)
	}
}

func TestSimplePlannerParsesColumnsAndWhere(t *testing.T) {
	plan, err := SimplePlanner{}.Plan("SELECT id, family FROM Patient WHERE family = 'Smith'")
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	if len(plan.Columns) != 2 || plan.Columns[0] != "id" || plan.Columns[1] != "family" {
		t.Errorf("unexpected columns: %v", plan.Columns)
	}
	if plan.Filter == nil || plan.Filter.Field != "family" || plan.Filter.Value != "Smith" {
		t.Errorf("unexpected filter: %+v", plan.Filter)
	}
}

func TestSimplePlannerRejectsMissingFrom(t *testing.T) {
	if _, err := SimplePlanner{}.Plan("SELECT id"); err == nil {
		t.Fatal("expected an error for a query with no FROM clause")
	}
}

func TestSimplePlannerRejectsNonSelect(t *testing.T) {
	if _, err := SimplePlanner{}.Plan("DELETE FROM Patient"); err == nil {
		t.Fatal("expected an error for a non-SELECT query")
	}
}

func TestExecuteAppliesFilterAndProjectsColumns(t *testing.T) {
	store := fhir.NewStore()
	insertPatient(t, store, "1", "Smith")
	insertPatient(t, store, "2", "Jones")

	plan, err := SimplePlanner{}.Plan("SELECT id FROM Patient WHERE family = 'Jones'")
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	plan.Columns = []string{"id"}

	rows, err := Execute(store, plan)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("expected 1 row, got %d", len(rows))
	}
	if rows[0]["id"] != "2" {
		t.Errorf("expected row for id 2, got %v", rows[0])
	}
}

func TestExecuteSelectStarReturnsFullDocument(t *testing.T) {
	store := fhir.NewStore()
	insertPatient(t, store, "1", "Smith")

	plan, err := SimplePlanner{}.Plan("SELECT * FROM Patient")
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	rows, err := Execute(store, plan)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("expected 1 row, got %d", len(rows))
	}
	if _, ok := rows[0]["last_updated"]; !ok {
		t.Error("expected the projected row to include last_updated")
	}
	if rows[0]["id"] != "1" {
		t.Errorf("expected id 1, got %v", rows[0]["id"])
	}
}
