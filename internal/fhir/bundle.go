package fhir

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"time"
)

// Bundle is the FHIR Bundle resource. Grounded on the teacher's
// internal/platform/fhir/bundle.go Bundle/BundleEntry/BundleLink shape.
type Bundle struct {
	ResourceType string        `json:"resourceType"`
	Type         string        `json:"type"`
	Total        *int          `json:"total,omitempty"`
	Timestamp    *time.Time    `json:"timestamp,omitempty"`
	Link         []BundleLink  `json:"link,omitempty"`
	Entry        []BundleEntry `json:"entry,omitempty"`
}

type BundleLink struct {
	Relation string `json:"relation"`
	URL      string `json:"url"`
}

type BundleEntry struct {
	FullURL  string          `json:"fullUrl,omitempty"`
	Resource json.RawMessage `json:"resource,omitempty"`
	Search   *BundleSearch   `json:"search,omitempty"`
	Request  *BundleRequest  `json:"request,omitempty"`
	Response *BundleResponse `json:"response,omitempty"`
}

type BundleSearch struct {
	Mode string `json:"mode,omitempty"`
}

type BundleRequest struct {
	Method string `json:"method"`
	URL    string `json:"url"`
}

type BundleResponse struct {
	Status       string      `json:"status"`
	Location     string      `json:"location,omitempty"`
	Etag         string      `json:"etag,omitempty"`
	LastModified string      `json:"lastModified,omitempty"`
	Outcome      interface{} `json:"outcome,omitempty"`
}

// SearchBundleParams carries everything the Bundle Assembler needs to build
// pagination links for a searchset Bundle.
type SearchBundleParams struct {
	BaseURL  string // e.g. https://host/fhir/Patient
	RawQuery string // the query string as received, including pagination keys
	Offset   int
	Count    int
	Total    int
}

// NewSearchBundle assembles a searchset Bundle with self/first/prev/next/last
// links. Every link preserves the query suffix: all parameters except
// _count and _offset, kept byte-exact as received.
func NewSearchBundle(resources []*ResourceEnvelope, params SearchBundleParams) (*Bundle, error) {
	now := time.Now().UTC()
	entries := make([]BundleEntry, len(resources))
	for i, env := range resources {
		raw, err := env.WithMeta()
		if err != nil {
			return nil, fmt.Errorf("assemble bundle entry: %w", err)
		}
		entries[i] = BundleEntry{
			FullURL:  fmt.Sprintf("%s/%s", baseWithoutType(params.BaseURL), StorageKey(env.ResourceType, env.ID)),
			Resource: raw,
			Search:   &BundleSearch{Mode: "match"},
		}
	}

	total := params.Total
	return &Bundle{
		ResourceType: "Bundle",
		Type:         "searchset",
		Total:        &total,
		Timestamp:    &now,
		Link:         buildPaginationLinks(params),
		Entry:        entries,
	}, nil
}

func baseWithoutType(baseURL string) string {
	idx := strings.LastIndex(baseURL, "/")
	if idx < 0 {
		return baseURL
	}
	return baseURL[:idx]
}

// querySuffix strips _count and _offset from rawQuery, keeping every other
// parameter byte-exact (URL-encoded as received) and concatenated with "&".
func querySuffix(rawQuery string) string {
	if rawQuery == "" {
		return ""
	}
	parts := strings.Split(rawQuery, "&")
	kept := make([]string, 0, len(parts))
	for _, p := range parts {
		if p == "" {
			continue
		}
		key := p
		if idx := strings.Index(p, "="); idx >= 0 {
			key = p[:idx]
		}
		if decoded, err := url.QueryUnescape(key); err == nil {
			key = decoded
		}
		if key == "_count" || key == "_offset" {
			continue
		}
		kept = append(kept, p)
	}
	return strings.Join(kept, "&")
}

func pageURL(baseURL, suffix string, offset, count int) string {
	q := fmt.Sprintf("_count=%d&_offset=%d", count, offset)
	if suffix != "" {
		q = suffix + "&" + q
	}
	return baseURL + "?" + q
}

// buildPaginationLinks implements the self/first/last/previous/next
// link-building algorithm.
func buildPaginationLinks(p SearchBundleParams) []BundleLink {
	suffix := querySuffix(p.RawQuery)
	links := []BundleLink{
		{Relation: "self", URL: pageURL(p.BaseURL, suffix, p.Offset, p.Count)},
	}

	links = append(links, BundleLink{Relation: "first", URL: pageURL(p.BaseURL, suffix, 0, p.Count)})

	if p.Count > 0 && p.Total > 0 {
		lastOffset := ((p.Total - 1) / p.Count) * p.Count
		links = append(links, BundleLink{Relation: "last", URL: pageURL(p.BaseURL, suffix, lastOffset, p.Count)})
	} else {
		links = append(links, BundleLink{Relation: "last", URL: pageURL(p.BaseURL, suffix, 0, p.Count)})
	}

	if p.Offset > 0 {
		prevOffset := p.Offset - p.Count
		if prevOffset < 0 {
			prevOffset = 0
		}
		links = append(links, BundleLink{Relation: "previous", URL: pageURL(p.BaseURL, suffix, prevOffset, p.Count)})
	}

	if p.Offset+p.Count < p.Total {
		links = append(links, BundleLink{Relation: "next", URL: pageURL(p.BaseURL, suffix, p.Offset+p.Count, p.Count)})
	}

	return links
}

// NewHistoryBundle assembles a type=history Bundle from a slice of history
// entries, each carrying its method and per-version metadata.
func NewHistoryBundle(entries []*HistoryEntry, baseURL string, total int) (*Bundle, error) {
	now := time.Now().UTC()
	bundleEntries := make([]BundleEntry, len(entries))
	for i, e := range entries {
		var raw json.RawMessage
		var err error
		if e.Method == HistoryDelete {
			raw = nil
		} else if e.Snapshot != nil {
			raw, err = e.Snapshot.WithMeta()
			if err != nil {
				return nil, fmt.Errorf("assemble history entry: %w", err)
			}
		}
		method := "PUT"
		status := "200"
		switch e.Method {
		case HistoryCreate:
			method, status = "POST", "201"
		case HistoryDelete:
			method, status = "DELETE", "204"
		}
		bundleEntries[i] = BundleEntry{
			FullURL:  fmt.Sprintf("%s/%s", baseURL, StorageKey(e.ResourceType, e.ResourceID)),
			Resource: raw,
			Request:  &BundleRequest{Method: method, URL: StorageKey(e.ResourceType, e.ResourceID)},
			Response: &BundleResponse{
				Status:       status,
				Etag:         fmt.Sprintf(`W/"%d"`, e.VersionID),
				LastModified: e.Timestamp.UTC().Format(time.RFC1123),
			},
		}
	}

	return &Bundle{
		ResourceType: "Bundle",
		Type:         "history",
		Total:        intPtr(total),
		Timestamp:    &now,
		Entry:        bundleEntries,
	}, nil
}

func intPtr(v int) *int { return &v }

// NewTransactionResponseBundle wraps per-entry outcomes of a processed
// transaction Bundle.
func NewTransactionResponseBundle(entries []BundleEntry) *Bundle {
	now := time.Now().UTC()
	return &Bundle{ResourceType: "Bundle", Type: "transaction-response", Timestamp: &now, Entry: entries}
}

// NewBatchResponseBundle wraps per-entry outcomes of a processed batch Bundle.
func NewBatchResponseBundle(entries []BundleEntry) *Bundle {
	now := time.Now().UTC()
	return &Bundle{ResourceType: "Bundle", Type: "batch-response", Timestamp: &now, Entry: entries}
}

// FormatReference renders a relative FHIR reference string.
func FormatReference(resourceType, id string) string {
	return fmt.Sprintf("%s/%s", resourceType, id)
}
