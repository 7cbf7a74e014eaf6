package fhir

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// PatchOperation represents a single JSON Patch operation (RFC 6902).
// Grounded directly on the teacher's internal/platform/fhir/patch.go.
type PatchOperation struct {
	Op    string      `json:"op"`
	Path  string      `json:"path"`
	Value interface{} `json:"value,omitempty"`
	From  string      `json:"from,omitempty"`
}

// ParseJSONPatch parses a JSON Patch document.
func ParseJSONPatch(data []byte) ([]PatchOperation, error) {
	var ops []PatchOperation
	if err := json.Unmarshal(data, &ops); err != nil {
		return nil, fmt.Errorf("invalid JSON Patch document: %w", err)
	}
	for i, op := range ops {
		if op.Op == "" {
			return nil, fmt.Errorf("patch operation %d: missing 'op' field", i)
		}
		if op.Path == "" && op.Op != "test" {
			return nil, fmt.Errorf("patch operation %d: missing 'path' field", i)
		}
	}
	return ops, nil
}

// ApplyJSONPatch applies RFC 6902 operations to a deep copy of resource.
func ApplyJSONPatch(resource map[string]interface{}, ops []PatchOperation) (map[string]interface{}, error) {
	result := deepCopyMap(resource)
	for i, op := range ops {
		var err error
		switch op.Op {
		case "add":
			err = patchAdd(result, op.Path, op.Value)
		case "remove":
			err = patchRemove(result, op.Path)
		case "replace":
			err = patchReplace(result, op.Path, op.Value)
		case "move":
			err = patchMove(result, op.From, op.Path)
		case "copy":
			err = patchCopy(result, op.From, op.Path)
		case "test":
			err = patchTest(result, op.Path, op.Value)
		default:
			err = fmt.Errorf("unknown patch operation: %s", op.Op)
		}
		if err != nil {
			return nil, fmt.Errorf("patch operation %d (%s) failed: %w", i, op.Op, err)
		}
	}
	return result, nil
}

// FHIRPathPatchOperation represents one element of a FHIRPath Patch
// Parameters resource (`application/fhir+json` PATCH body). Only a
// restricted FHIRPath subset is supported (a dotted/array path into the
// resource tree), not a general expression evaluator.
type FHIRPathPatchOperation struct {
	Type  string      `json:"type"` // insert | delete | replace | add
	Path  string      `json:"path"` // dotted path, e.g. "Patient.name[0].given"
	Name  string      `json:"name,omitempty"`
	Value interface{} `json:"value,omitempty"`
	Index int         `json:"index,omitempty"`
}

// ParseFHIRPathPatch decodes a FHIRPath Patch Parameters resource into a
// flat operation list by reading each parameter part's "type"/"path"/
// "name"/"value"/"index" children.
func ParseFHIRPathPatch(data []byte) ([]FHIRPathPatchOperation, error) {
	var doc struct {
		Parameter []struct {
			Name string `json:"name"`
			Part []struct {
				Name          string      `json:"name"`
				ValueString   *string     `json:"valueString,omitempty"`
				ValueInteger  *int        `json:"valueInteger,omitempty"`
				ValueBoolean  *bool       `json:"valueBoolean,omitempty"`
				Value         interface{} `json:"value,omitempty"`
			} `json:"part"`
		} `json:"parameter"`
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("invalid FHIRPath Patch document: %w", err)
	}

	var ops []FHIRPathPatchOperation
	for _, p := range doc.Parameter {
		if p.Name != "operation" {
			continue
		}
		op := FHIRPathPatchOperation{}
		for _, part := range p.Part {
			switch part.Name {
			case "type":
				if part.ValueString != nil {
					op.Type = *part.ValueString
				}
			case "path":
				if part.ValueString != nil {
					op.Path = *part.ValueString
				}
			case "name":
				if part.ValueString != nil {
					op.Name = *part.ValueString
				}
			case "index":
				if part.ValueInteger != nil {
					op.Index = *part.ValueInteger
				}
			case "value":
				op.Value = part.Value
			}
		}
		if op.Type == "" || op.Path == "" {
			return nil, fmt.Errorf("fhirpath patch operation missing type or path")
		}
		ops = append(ops, op)
	}
	if len(ops) == 0 {
		return nil, fmt.Errorf("fhirpath patch document contains no operations")
	}
	return ops, nil
}

// ApplyFHIRPathPatch applies the narrowed FHIRPath patch subset. The path
// is resolved by treating "ResourceTypeName." as an optional leading
// segment naming the root, and everything after it as a JSON-Patch-style
// dotted path (array indices in brackets, e.g. "name[0].given").
func ApplyFHIRPathPatch(resource map[string]interface{}, ops []FHIRPathPatchOperation) (map[string]interface{}, error) {
	result := deepCopyMap(resource)
	for i, op := range ops {
		jsonPath := fhirPathToJSONPointer(op.Path)
		var err error
		switch op.Type {
		case "add":
			target := jsonPath
			if op.Name != "" {
				target = jsonPath + "/" + op.Name
			}
			err = patchAdd(result, target, op.Value)
		case "insert":
			err = patchAdd(result, fmt.Sprintf("%s/%d", jsonPath, op.Index), op.Value)
		case "replace":
			err = patchReplace(result, jsonPath, op.Value)
		case "delete":
			err = patchRemove(result, jsonPath)
		default:
			err = fmt.Errorf("unknown fhirpath patch type: %s", op.Type)
		}
		if err != nil {
			return nil, fmt.Errorf("fhirpath patch operation %d (%s) failed: %w", i, op.Type, err)
		}
	}
	return result, nil
}

// fhirPathToJSONPointer converts a narrow FHIRPath expression such as
// "Patient.name[0].given" into a JSON-Patch-style path "/name/0/given",
// discarding a leading resource-type segment if present.
func fhirPathToJSONPointer(path string) string {
	segments := strings.Split(path, ".")
	if isResourceTypeSegment(segments[0]) {
		segments = segments[1:]
	}
	var b strings.Builder
	for _, seg := range segments {
		for {
			open := strings.Index(seg, "[")
			if open < 0 {
				b.WriteString("/")
				b.WriteString(seg)
				break
			}
			close := strings.Index(seg, "]")
			if close < 0 || close < open {
				b.WriteString("/")
				b.WriteString(seg)
				break
			}
			b.WriteString("/")
			b.WriteString(seg[:open])
			b.WriteString("/")
			b.WriteString(seg[open+1 : close])
			seg = seg[close+1:]
			if seg == "" {
				break
			}
		}
	}
	return b.String()
}

func isResourceTypeSegment(s string) bool {
	return len(s) > 0 && s[0] >= 'A' && s[0] <= 'Z'
}

// --- RFC 6902 primitive operations, grounded on the teacher's patch.go ---

func patchAdd(doc map[string]interface{}, path string, value interface{}) error {
	if path == "" || path == "/" {
		return fmt.Errorf("cannot replace root document")
	}
	parent, lastKey, err := resolvePath(doc, path, true)
	if err != nil {
		return err
	}
	switch p := parent.(type) {
	case map[string]interface{}:
		p[lastKey] = value
	case []interface{}:
		if lastKey == "-" {
			parentMap, parentKey := resolveParentOfPath(doc, path)
			if parentMap != nil {
				parentMap[parentKey] = append(p, value)
			}
			return nil
		}
		idx, err := strconv.Atoi(lastKey)
		if err != nil {
			return fmt.Errorf("invalid array index: %s", lastKey)
		}
		if idx < 0 || idx > len(p) {
			return fmt.Errorf("array index out of bounds: %d", idx)
		}
		newArr := make([]interface{}, len(p)+1)
		copy(newArr, p[:idx])
		newArr[idx] = value
		copy(newArr[idx+1:], p[idx:])
		parentMap, parentKey := resolveParentOfPath(doc, path)
		if parentMap != nil {
			parentMap[parentKey] = newArr
		}
	}
	return nil
}

func patchRemove(doc map[string]interface{}, path string) error {
	parent, lastKey, err := resolvePath(doc, path, false)
	if err != nil {
		return err
	}
	switch p := parent.(type) {
	case map[string]interface{}:
		if _, ok := p[lastKey]; !ok {
			return fmt.Errorf("path not found: %s", path)
		}
		delete(p, lastKey)
	case []interface{}:
		idx, err := strconv.Atoi(lastKey)
		if err != nil {
			return fmt.Errorf("invalid array index: %s", lastKey)
		}
		if idx < 0 || idx >= len(p) {
			return fmt.Errorf("array index out of bounds: %d", idx)
		}
		newArr := append(p[:idx], p[idx+1:]...)
		parentMap, parentKey := resolveParentOfPath(doc, path)
		if parentMap != nil {
			parentMap[parentKey] = newArr
		}
	}
	return nil
}

func patchReplace(doc map[string]interface{}, path string, value interface{}) error {
	parent, lastKey, err := resolvePath(doc, path, false)
	if err != nil {
		return err
	}
	switch p := parent.(type) {
	case map[string]interface{}:
		if _, ok := p[lastKey]; !ok {
			return fmt.Errorf("path not found: %s", path)
		}
		p[lastKey] = value
	case []interface{}:
		idx, err := strconv.Atoi(lastKey)
		if err != nil {
			return fmt.Errorf("invalid array index: %s", lastKey)
		}
		if idx < 0 || idx >= len(p) {
			return fmt.Errorf("array index out of bounds: %d", idx)
		}
		p[idx] = value
	}
	return nil
}

func patchMove(doc map[string]interface{}, from, path string) error {
	parent, lastKey, err := resolvePath(doc, from, false)
	if err != nil {
		return fmt.Errorf("move from: %w", err)
	}
	var value interface{}
	switch p := parent.(type) {
	case map[string]interface{}:
		value = p[lastKey]
	case []interface{}:
		idx, _ := strconv.Atoi(lastKey)
		value = p[idx]
	}
	if err := patchRemove(doc, from); err != nil {
		return fmt.Errorf("move remove: %w", err)
	}
	if err := patchAdd(doc, path, value); err != nil {
		return fmt.Errorf("move add: %w", err)
	}
	return nil
}

func patchCopy(doc map[string]interface{}, from, path string) error {
	parent, lastKey, err := resolvePath(doc, from, false)
	if err != nil {
		return fmt.Errorf("copy from: %w", err)
	}
	var value interface{}
	switch p := parent.(type) {
	case map[string]interface{}:
		value = p[lastKey]
	case []interface{}:
		idx, _ := strconv.Atoi(lastKey)
		value = p[idx]
	}
	return patchAdd(doc, path, value)
}

func patchTest(doc map[string]interface{}, path string, expected interface{}) error {
	parent, lastKey, err := resolvePath(doc, path, false)
	if err != nil {
		return fmt.Errorf("test path not found: %w", err)
	}
	var actual interface{}
	switch p := parent.(type) {
	case map[string]interface{}:
		actual = p[lastKey]
	case []interface{}:
		idx, _ := strconv.Atoi(lastKey)
		actual = p[idx]
	}
	actualJSON, _ := json.Marshal(actual)
	expectedJSON, _ := json.Marshal(expected)
	if string(actualJSON) != string(expectedJSON) {
		return fmt.Errorf("test failed: expected %s but got %s at %s", string(expectedJSON), string(actualJSON), path)
	}
	return nil
}

func resolvePath(doc map[string]interface{}, path string, createMissing bool) (interface{}, string, error) {
	parts := splitPath(path)
	if len(parts) == 0 {
		return nil, "", fmt.Errorf("empty path")
	}
	var current interface{} = doc
	for i := 0; i < len(parts)-1; i++ {
		switch c := current.(type) {
		case map[string]interface{}:
			next, ok := c[parts[i]]
			if !ok {
				if createMissing {
					newMap := make(map[string]interface{})
					c[parts[i]] = newMap
					current = newMap
					continue
				}
				return nil, "", fmt.Errorf("path not found at segment: %s", parts[i])
			}
			current = next
		case []interface{}:
			idx, err := strconv.Atoi(parts[i])
			if err != nil {
				return nil, "", fmt.Errorf("invalid array index: %s", parts[i])
			}
			if idx < 0 || idx >= len(c) {
				return nil, "", fmt.Errorf("array index out of bounds: %d", idx)
			}
			current = c[idx]
		default:
			return nil, "", fmt.Errorf("cannot traverse into non-container at: %s", parts[i])
		}
	}
	return current, parts[len(parts)-1], nil
}

func resolveParentOfPath(doc map[string]interface{}, path string) (map[string]interface{}, string) {
	parts := splitPath(path)
	if len(parts) <= 1 {
		return doc, parts[0]
	}
	parentPath := "/" + strings.Join(parts[:len(parts)-1], "/")
	parent, _, err := resolvePath(doc, parentPath, false)
	if err != nil {
		return nil, ""
	}
	parentMap, ok := parent.(map[string]interface{})
	if !ok {
		return nil, ""
	}
	return parentMap, parts[len(parts)-2]
}

func splitPath(path string) []string {
	path = strings.TrimPrefix(path, "/")
	if path == "" {
		return nil
	}
	return strings.Split(path, "/")
}

func deepCopyMap(m map[string]interface{}) map[string]interface{} {
	data, _ := json.Marshal(m)
	var result map[string]interface{}
	_ = json.Unmarshal(data, &result)
	return result
}
