// Package fhir implements the storage engine, transaction manager, search
// evaluator, bundle assembler, REST engine, and error mapping described for
// the FHIR resource server core.
package fhir

import (
	"encoding/json"
	"fmt"
	"time"
)

// Meta carries the version and lifecycle metadata FHIR attaches to every
// resource instance.
type Meta struct {
	VersionID   string    `json:"versionId,omitempty"`
	LastUpdated time.Time `json:"lastUpdated,omitempty"`
}

// ResourceEnvelope pairs a resource's opaque JSON payload with the version
// and lifecycle metadata the Storage Engine owns. The payload is never
// decoded into a resource-type-specific struct; only the fields needed for
// search and meta maintenance are projected out of it.
type ResourceEnvelope struct {
	ResourceType string
	ID           string
	VersionID    uint64
	LastUpdated  time.Time
	Deleted      bool
	Payload      json.RawMessage
}

// StorageKey derives the map key identifying a resource instance.
func StorageKey(resourceType, id string) string {
	return fmt.Sprintf("%s/%s", resourceType, id)
}

// Clone returns a deep-enough copy of the envelope: the payload slice is
// copied so later in-place JSON mutation of one copy cannot leak into
// another (rollback snapshots and history entries depend on this).
func (e *ResourceEnvelope) Clone() *ResourceEnvelope {
	if e == nil {
		return nil
	}
	payload := make(json.RawMessage, len(e.Payload))
	copy(payload, e.Payload)
	return &ResourceEnvelope{
		ResourceType: e.ResourceType,
		ID:           e.ID,
		VersionID:    e.VersionID,
		LastUpdated:  e.LastUpdated,
		Deleted:      e.Deleted,
		Payload:      payload,
	}
}

// ETag renders the weak ETag for the envelope's current version.
func (e *ResourceEnvelope) ETag() string {
	return fmt.Sprintf(`W/"%d"`, e.VersionID)
}

// WithMeta returns the payload with resourceType/id/meta.versionId/meta.lastUpdated
// injected, leaving all other fields from the stored payload untouched.
func (e *ResourceEnvelope) WithMeta() (json.RawMessage, error) {
	var doc map[string]interface{}
	if len(e.Payload) == 0 {
		doc = map[string]interface{}{}
	} else if err := json.Unmarshal(e.Payload, &doc); err != nil {
		return nil, fmt.Errorf("decode stored payload: %w", err)
	}
	doc["resourceType"] = e.ResourceType
	doc["id"] = e.ID
	doc["meta"] = map[string]interface{}{
		"versionId":   fmt.Sprintf("%d", e.VersionID),
		"lastUpdated": e.LastUpdated.UTC().Format(time.RFC3339Nano),
	}
	return json.Marshal(doc)
}

// ParseETag extracts the numeric version from a weak or strong ETag value
// such as `W/"3"` or `"3"`.
func ParseETag(etag string) (uint64, error) {
	s := trimETag(etag)
	var v uint64
	if _, err := fmt.Sscanf(s, "%d", &v); err != nil {
		return 0, fmt.Errorf("ETag must contain a numeric version: %q", etag)
	}
	return v, nil
}

func trimETag(etag string) string {
	s := etag
	for len(s) > 0 && (s[0] == ' ' || s[0] == '\t') {
		s = s[1:]
	}
	if len(s) >= 2 && s[0] == 'W' && s[1] == '/' {
		s = s[2:]
	}
	s = trimQuotes(s)
	return s
}

func trimQuotes(s string) string {
	for len(s) > 0 && (s[0] == '"' || s[0] == ' ') {
		s = s[1:]
	}
	for len(s) > 0 && (s[len(s)-1] == '"' || s[len(s)-1] == ' ') {
		s = s[:len(s)-1]
	}
	return s
}

// HistoryMethod enumerates the operation that produced a HistoryEntry.
type HistoryMethod string

const (
	HistoryCreate HistoryMethod = "Create"
	HistoryUpdate HistoryMethod = "Update"
	HistoryDelete HistoryMethod = "Delete"
)

// HistoryEntry is an append-only record of a past version of a resource.
type HistoryEntry struct {
	ResourceType string
	ResourceID   string
	VersionID    uint64
	Method       HistoryMethod
	Snapshot     *ResourceEnvelope
	Timestamp    time.Time
}
