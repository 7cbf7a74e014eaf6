package fhir

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strings"

	"github.com/google/uuid"
)

// methodPriority orders bundle entries the way the teacher's
// TransactionProcessor does: deletes first, then creates, then updates and
// patches, then reads last, so a transaction that both creates a resource
// and deletes another unrelated one never races on evaluation order.
func methodPriority(method string) int {
	switch strings.ToUpper(method) {
	case http.MethodDelete:
		return 0
	case http.MethodPost:
		return 1
	case http.MethodPut:
		return 2
	case http.MethodPatch:
		return 3
	case http.MethodGet:
		return 4
	default:
		return 5
	}
}

// processingOrder returns entry indices sorted by methodPriority, stable
// within a priority group so same-method entries keep their bundle order.
func processingOrder(entries []BundleEntry) []int {
	order := make([]int, len(entries))
	for i := range entries {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		ma := ""
		if entries[order[a]].Request != nil {
			ma = entries[order[a]].Request.Method
		}
		mb := ""
		if entries[order[b]].Request != nil {
			mb = entries[order[b]].Request.Method
		}
		return methodPriority(ma) < methodPriority(mb)
	})
	return order
}

// parseEntryURL splits a Bundle entry's request.url into resourceType,
// optional id, and optional query, e.g. "Patient/123" or "Patient?name=Jim".
// Only direct type/id addressing is supported inside a bundle; conditional
// PUT/DELETE entries (addressed by query alone) are rejected, since the
// Transaction Manager's rollback snapshot is keyed by a fixed id captured
// before execution.
func parseEntryURL(url string) (resourceType, id string, ok bool) {
	url = strings.TrimPrefix(url, "/")
	if idx := strings.Index(url, "?"); idx >= 0 {
		url = url[:idx]
	}
	parts := strings.SplitN(url, "/", 2)
	resourceType = parts[0]
	if resourceType == "" {
		return "", "", false
	}
	if len(parts) == 2 {
		id = parts[1]
	}
	return resourceType, id, true
}

// resolveReferences substitutes every string value in payload that exactly
// matches an entry's fullUrl ("urn:uuid:...") with the "{type}/{id}"
// reference assigned to that entry, mirroring the teacher's idMap pass over
// a transaction's POST entries before the rest of the bundle is applied.
func resolveReferences(payload []byte, idMap map[string]string) []byte {
	if len(idMap) == 0 || len(payload) == 0 {
		return payload
	}
	var doc interface{}
	if err := json.Unmarshal(payload, &doc); err != nil {
		return payload
	}
	resolved := resolveValue(doc, idMap)
	out, err := json.Marshal(resolved)
	if err != nil {
		return payload
	}
	return out
}

func resolveValue(v interface{}, idMap map[string]string) interface{} {
	switch val := v.(type) {
	case string:
		if ref, ok := idMap[val]; ok {
			return ref
		}
		return val
	case map[string]interface{}:
		for k, sub := range val {
			val[k] = resolveValue(sub, idMap)
		}
		return val
	case []interface{}:
		for i, sub := range val {
			val[i] = resolveValue(sub, idMap)
		}
		return val
	default:
		return v
	}
}

// stripEnvelopeFields removes the fields the Storage Engine owns
// (resourceType, id, meta) from an incoming bundle entry's resource, the
// same trio Create/Update/Patch strip in rest.go before storing a payload.
func stripEnvelopeFields(payload []byte) []byte {
	if len(payload) == 0 {
		return payload
	}
	var doc map[string]interface{}
	if err := json.Unmarshal(payload, &doc); err != nil {
		return payload
	}
	delete(doc, "resourceType")
	delete(doc, "id")
	delete(doc, "meta")
	out, err := json.Marshal(doc)
	if err != nil {
		return payload
	}
	return out
}

// ProcessBundle executes a transaction or batch Bundle against store,
// grounded on the teacher's TransactionProcessor.ProcessTransaction /
// ProcessBatch split. A "transaction" Bundle is run as a single Transaction:
// every entry succeeds or the whole batch is rolled back. A "batch" Bundle
// runs each entry as its own one-operation Transaction, so entries succeed
// or fail independently and a single bad entry never undoes its neighbors.
func ProcessBundle(store *Store, req *Bundle) (*Bundle, error) {
	if req.Type != "transaction" && req.Type != "batch" {
		return nil, fmt.Errorf("fhir: bundle type must be transaction or batch, got %q", req.Type)
	}

	order := processingOrder(req.Entry)

	idMap := make(map[string]string, len(req.Entry))
	postIDs := make(map[int]string, len(req.Entry))
	for _, i := range order {
		entry := req.Entry[i]
		if entry.Request == nil || !strings.EqualFold(entry.Request.Method, http.MethodPost) {
			continue
		}
		resourceType, id, ok := parseEntryURL(entry.Request.URL)
		if !ok {
			return nil, fmt.Errorf("entry %d: unparseable request.url %q", i, entry.Request.URL)
		}
		if id == "" {
			id = uuid.NewString()
		}
		postIDs[i] = id
		if entry.FullURL != "" {
			idMap[entry.FullURL] = resourceType + "/" + id
		}
	}

	ops := make([]Operation, len(order))
	for pos, i := range order {
		op, err := buildOperation(i, req.Entry[i], postIDs, idMap)
		if err != nil {
			return nil, err
		}
		ops[pos] = op
	}

	responses := make([]BundleEntry, len(req.Entry))
	respType := "transaction-response"
	if req.Type == "batch" {
		respType = "batch-response"
		for pos, i := range order {
			tx := NewTransaction(store)
			if err := tx.Execute([]Operation{ops[pos]}); err != nil {
				_ = tx.Rollback()
				responses[i] = errorEntry(err)
				continue
			}
			_ = tx.Commit()
			responses[i] = resultEntry(ops[pos].Kind, tx.Results()[0])
		}
		return &Bundle{ResourceType: "Bundle", Type: respType, Entry: responses}, nil
	}

	tx := NewTransaction(store)
	if err := tx.Execute(ops); err != nil {
		if rerr := tx.Rollback(); rerr != nil {
			return nil, fmt.Errorf("transaction failed and rollback also failed: %w (rollback: %v)", err, rerr)
		}
		return nil, fmt.Errorf("transaction rolled back: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	results := tx.Results()
	for pos, i := range order {
		responses[i] = resultEntry(ops[pos].Kind, results[pos])
	}
	return &Bundle{ResourceType: "Bundle", Type: respType, Entry: responses}, nil
}

func buildOperation(index int, entry BundleEntry, postIDs map[int]string, idMap map[string]string) (Operation, error) {
	if entry.Request == nil {
		return Operation{}, fmt.Errorf("entry %d: missing request", index)
	}
	resourceType, id, ok := parseEntryURL(entry.Request.URL)
	if !ok {
		return Operation{}, fmt.Errorf("entry %d: unparseable request.url %q", index, entry.Request.URL)
	}
	method := strings.ToUpper(entry.Request.Method)

	var payload []byte
	if len(entry.Resource) > 0 {
		payload = stripEnvelopeFields(resolveReferences(entry.Resource, idMap))
	}

	switch method {
	case http.MethodPost:
		id = postIDs[index]
		return Operation{
			Kind:         OpCreate,
			ResourceType: resourceType,
			ID:           id,
			Run: func(store *Store) (interface{}, error) {
				env := &ResourceEnvelope{ResourceType: resourceType, ID: id, Payload: payload}
				if err := store.Insert(env); err != nil {
					return nil, err
				}
				stored, _ := store.Get(resourceType, id)
				return stored, nil
			},
		}, nil
	case http.MethodPut:
		if id == "" {
			return Operation{}, fmt.Errorf("entry %d: conditional (query-only) PUT is not supported inside a bundle", index)
		}
		return Operation{
			Kind:         OpUpdate,
			ResourceType: resourceType,
			ID:           id,
			Run: func(store *Store) (interface{}, error) {
				env := &ResourceEnvelope{ResourceType: resourceType, ID: id, Payload: payload}
				if _, ok := store.Get(resourceType, id); !ok {
					if err := store.Insert(env); err != nil {
						return nil, err
					}
				} else if _, err := store.Update(resourceType, id, env); err != nil {
					return nil, err
				}
				stored, _ := store.Get(resourceType, id)
				return stored, nil
			},
		}, nil
	case http.MethodDelete:
		if id == "" {
			return Operation{}, fmt.Errorf("entry %d: conditional (query-only) DELETE is not supported inside a bundle", index)
		}
		return Operation{
			Kind:         OpDelete,
			ResourceType: resourceType,
			ID:           id,
			Run: func(store *Store) (interface{}, error) {
				store.Delete(resourceType, id)
				return nil, nil
			},
		}, nil
	case http.MethodGet:
		if id == "" {
			return Operation{}, fmt.Errorf("entry %d: GET requires an id inside a bundle", index)
		}
		return Operation{
			Kind:         OpRead,
			ResourceType: resourceType,
			ID:           id,
			Run: func(store *Store) (interface{}, error) {
				env, ok := store.Get(resourceType, id)
				if !ok || env.Deleted {
					return nil, fmt.Errorf("entry %d: %s/%s not found", index, resourceType, id)
				}
				return env, nil
			},
		}, nil
	default:
		return Operation{}, fmt.Errorf("entry %d: unsupported method %q", index, entry.Request.Method)
	}
}

func resultEntry(kind OperationKind, result OperationResult) BundleEntry {
	if result.Err != nil {
		return errorEntry(result.Err)
	}
	switch kind {
	case OpDelete:
		return BundleEntry{Response: &BundleResponse{Status: "204"}}
	case OpCreate, OpUpdate, OpRead:
		env, ok := result.Value.(*ResourceEnvelope)
		if !ok || env == nil {
			return errorEntry(fmt.Errorf("operation produced no resource"))
		}
		status := "200"
		if kind == OpCreate {
			status = "201"
		}
		body, err := env.WithMeta()
		if err != nil {
			return errorEntry(err)
		}
		return BundleEntry{
			FullURL:  env.ResourceType + "/" + env.ID,
			Resource: json.RawMessage(body),
			Response: &BundleResponse{Status: status, Etag: env.ETag()},
		}
	default:
		return errorEntry(fmt.Errorf("unhandled operation kind %q", kind))
	}
}

func errorEntry(err error) BundleEntry {
	outcome := NewOperationOutcome(NewAPIError(KindBadRequest, err.Error()))
	return BundleEntry{Response: &BundleResponse{Status: "400", Outcome: outcome}}
}
