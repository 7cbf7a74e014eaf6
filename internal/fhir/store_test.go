package fhir

import (
	"encoding/json"
	"testing"
)

func patientPayload(name string) json.RawMessage {
	doc, _ := json.Marshal(map[string]interface{}{"name": []map[string]interface{}{{"family": name}}})
	return doc
}

func TestStoreInsertGet(t *testing.T) {
	s := NewStore()
	env := &ResourceEnvelope{ResourceType: "Patient", ID: "p1", Payload: patientPayload("Smith")}
	if err := s.Insert(env); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	got, ok := s.Get("Patient", "p1")
	if !ok {
		t.Fatal("expected resource to exist")
	}
	if got.VersionID != 1 {
		t.Errorf("expected version 1, got %d", got.VersionID)
	}
	if got.Deleted {
		t.Error("freshly inserted resource should not be deleted")
	}
}

func TestStoreInsertConflict(t *testing.T) {
	s := NewStore()
	env := &ResourceEnvelope{ResourceType: "Patient", ID: "p1", Payload: patientPayload("Smith")}
	if err := s.Insert(env); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if err := s.Insert(&ResourceEnvelope{ResourceType: "Patient", ID: "p1", Payload: patientPayload("Jones")}); err != ErrResourceConflict {
		t.Errorf("expected ErrResourceConflict, got %v", err)
	}
}

func TestStoreUpdateNotFound(t *testing.T) {
	s := NewStore()
	_, err := s.Update("Patient", "missing", &ResourceEnvelope{Payload: patientPayload("X")})
	if err != ErrResourceNotFound {
		t.Errorf("expected ErrResourceNotFound, got %v", err)
	}
}

func TestStoreUpdateVersionIncrements(t *testing.T) {
	s := NewStore()
	_ = s.Insert(&ResourceEnvelope{ResourceType: "Patient", ID: "p1", Payload: patientPayload("Smith")})

	prior, err := s.Update("Patient", "p1", &ResourceEnvelope{Payload: patientPayload("Smythe")})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if prior.VersionID != 1 {
		t.Errorf("expected prior version 1, got %d", prior.VersionID)
	}

	current, _ := s.Get("Patient", "p1")
	if current.VersionID != 2 {
		t.Errorf("expected current version 2, got %d", current.VersionID)
	}
}

func TestStoreDeleteIsSoftAndIdempotent(t *testing.T) {
	s := NewStore()
	_ = s.Insert(&ResourceEnvelope{ResourceType: "Patient", ID: "p1", Payload: patientPayload("Smith")})

	prior := s.Delete("Patient", "p1")
	if prior == nil || prior.Deleted {
		t.Fatal("expected Delete to return the pre-delete envelope, not yet marked deleted")
	}

	got, ok := s.Get("Patient", "p1")
	if !ok {
		t.Fatal("soft-deleted resource should still be retrievable via Get")
	}
	if !got.Deleted {
		t.Error("expected resource to be marked deleted")
	}

	// Deleting again must not panic or error.
	again := s.Delete("Patient", "p1")
	if again == nil || !again.Deleted {
		t.Error("second delete should return the already-deleted envelope")
	}
}

func TestStoreDeleteNeverExisted(t *testing.T) {
	s := NewStore()
	prior := s.Delete("Patient", "ghost")
	if prior != nil {
		t.Errorf("expected nil prior for deleting an id that never existed, got %+v", prior)
	}
	if _, ok := s.Get("Patient", "ghost"); ok {
		t.Error("a never-created id should not exist after delete")
	}
}

func TestStoreCountByTypeExcludesDeleted(t *testing.T) {
	s := NewStore()
	_ = s.Insert(&ResourceEnvelope{ResourceType: "Patient", ID: "p1", Payload: patientPayload("A")})
	_ = s.Insert(&ResourceEnvelope{ResourceType: "Patient", ID: "p2", Payload: patientPayload("B")})
	s.Delete("Patient", "p2")

	if n := s.CountByType("Patient"); n != 1 {
		t.Errorf("expected 1 live Patient, got %d", n)
	}
}

func TestStoreForceInsertAndForceDelete(t *testing.T) {
	s := NewStore()
	env := &ResourceEnvelope{ResourceType: "Patient", ID: "p1", VersionID: 7, Payload: patientPayload("Restored")}
	s.ForceInsert(env)

	got, ok := s.Get("Patient", "p1")
	if !ok || got.VersionID != 7 {
		t.Fatalf("expected force-inserted envelope at version 7, got %+v ok=%v", got, ok)
	}

	s.ForceDelete("Patient", "p1")
	if _, ok := s.Get("Patient", "p1"); ok {
		t.Error("expected slot to be gone after ForceDelete")
	}
}
