package fhir

import (
	"sort"
	"sync"
	"time"
)

// HistoryLog is the append-only version log for every resource instance.
// Grounded on the teacher's HistoryRepository/VersionTracker split
// (internal/platform/fhir/version_tracker.go) but kept entirely in memory:
// writers are short and serialized under a single reader-writer lock,
// readers clone only the subset of entries they need.
type HistoryLog struct {
	mu      sync.RWMutex
	entries []*HistoryEntry
}

// NewHistoryLog constructs an empty history log.
func NewHistoryLog() *HistoryLog {
	return &HistoryLog{}
}

// Append records a new history entry. Entries are ordered by wall time;
// since callers append under the store's single version counter, a Create
// entry for a given id always precedes its updates.
func (h *HistoryLog) Append(e *HistoryEntry) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.entries = append(h.entries, e)
}

// HistoryParams controls the window and pagination of a history query.
type HistoryParams struct {
	Since  time.Time // zero value: no lower bound
	At     time.Time // zero value: no upper bound
	Count  int       // 0 means "use default" (applied by caller)
	Offset int
}

// ForInstance returns the ordered history (oldest first) for one (type,id),
// filtered by HistoryParams, plus the total count before pagination.
func (h *HistoryLog) ForInstance(resourceType, id string, p HistoryParams) (entries []*HistoryEntry, total int) {
	return h.filter(func(e *HistoryEntry) bool {
		return e.ResourceType == resourceType && e.ResourceID == id
	}, p)
}

// ForType returns the ordered history (oldest first) across all instances of
// a resource type.
func (h *HistoryLog) ForType(resourceType string, p HistoryParams) (entries []*HistoryEntry, total int) {
	return h.filter(func(e *HistoryEntry) bool {
		return e.ResourceType == resourceType
	}, p)
}

func (h *HistoryLog) filter(pred func(*HistoryEntry) bool, p HistoryParams) ([]*HistoryEntry, int) {
	h.mu.RLock()
	snapshot := make([]*HistoryEntry, len(h.entries))
	copy(snapshot, h.entries)
	h.mu.RUnlock()

	matched := make([]*HistoryEntry, 0)
	for _, e := range snapshot {
		if !pred(e) {
			continue
		}
		if !p.Since.IsZero() && e.Timestamp.Before(p.Since) {
			continue
		}
		if !p.At.IsZero() && e.Timestamp.After(p.At) {
			continue
		}
		matched = append(matched, e)
	}

	sort.SliceStable(matched, func(i, j int) bool {
		return matched[i].Timestamp.Before(matched[j].Timestamp)
	})

	total = len(matched)
	offset := p.Offset
	if offset > total {
		offset = total
	}
	end := total
	if p.Count > 0 && offset+p.Count < end {
		end = offset + p.Count
	}
	return matched[offset:end], total
}

// Version returns the historical envelope recorded at a specific version,
// for vread.
func (h *HistoryLog) Version(resourceType, id string, versionID uint64) (*HistoryEntry, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, e := range h.entries {
		if e.ResourceType == resourceType && e.ResourceID == id && e.VersionID == versionID {
			return e, true
		}
	}
	return nil, false
}
