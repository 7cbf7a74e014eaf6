package fhir

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

// FHIRContentType is the canonical response content type.
const FHIRContentType = "application/fhir+json; charset=utf-8"

// Engine is the FHIR REST Engine: stateless apart from a reference to the
// Storage Engine and an id policy. Grounded on the teacher's handler style
// across internal/platform/fhir/{conditional.go,versioning.go,patch.go} and
// the per-domain handler registration pattern in cmd/ehr-server/main.go,
// generalized into one engine serving every resource type uniformly instead
// of one generated handler per domain package.
type Engine struct {
	Store *Store

	// IDGenerator produces a fresh resource id on create when the body
	// omits one. Defaults to uuid.NewString if nil.
	IDGenerator func() string
}

// NewEngine constructs a REST Engine bound to store.
func NewEngine(store *Store) *Engine {
	return &Engine{Store: store}
}

func (e *Engine) newID() string {
	if e.IDGenerator != nil {
		return e.IDGenerator()
	}
	return uuid.NewString()
}

// --- request/response plumbing ---

func writeOutcome(c echo.Context, err *APIError) error {
	c.Response().Header().Set(echo.HeaderContentType, FHIRContentType)
	return c.JSON(err.Kind.HTTPStatus(), NewOperationOutcome(err))
}

func writeJSON(c echo.Context, status int, body interface{}) error {
	c.Response().Header().Set(echo.HeaderContentType, FHIRContentType)
	return c.JSON(status, body)
}

func setVersionHeaders(c echo.Context, env *ResourceEnvelope) {
	c.Response().Header().Set("ETag", env.ETag())
	c.Response().Header().Set("Last-Modified", env.LastUpdated.UTC().Format(time.RFC1123))
}

// PreferReturn is the parsed Prefer: return directive.
type PreferReturn string

const (
	ReturnMinimal          PreferReturn = "minimal"
	ReturnRepresentation   PreferReturn = "representation"
	ReturnOperationOutcome PreferReturn = "OperationOutcome"
)

// parsePrefer extracts the return directive from a Prefer header value,
// grounded on the teacher's internal/platform/fhir/prefer_handling.go.
func parsePrefer(header string) PreferReturn {
	for _, sep := range []string{",", ";"} {
		for _, part := range strings.Split(header, sep) {
			part = strings.TrimSpace(part)
			if strings.HasPrefix(part, "return=") {
				val := strings.TrimSpace(part[len("return="):])
				switch PreferReturn(val) {
				case ReturnMinimal, ReturnRepresentation, ReturnOperationOutcome:
					return PreferReturn(val)
				}
			}
		}
	}
	return ReturnRepresentation
}

// checkContentType rejects any Content-Type that is neither
// application/fhir+json, application/json, nor the JSON Patch / FHIR Patch
// media types this engine dispatches on.
func checkContentType(contentType string) bool {
	ct := strings.ToLower(strings.TrimSpace(strings.Split(contentType, ";")[0]))
	switch ct {
	case "application/fhir+json", "application/json", "application/json-patch+json", "":
		return true
	}
	return false
}

// checkAccept rejects any Accept header that is neither */*,
// application/fhir+json, nor application/json.
func checkAccept(accept string) bool {
	if accept == "" {
		return true
	}
	for _, part := range strings.Split(accept, ",") {
		mt := strings.ToLower(strings.TrimSpace(strings.Split(part, ";")[0]))
		switch mt {
		case "*/*", "application/fhir+json", "application/json":
			return true
		}
	}
	return false
}

// NegotiationMiddleware enforces the Accept/Content-Type policy ahead of
// every FHIR route.
func (e *Engine) NegotiationMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if !checkAccept(c.Request().Header.Get("Accept")) {
				return writeOutcome(c, NewAPIError(KindUnsupportedMediaType, "unsupported Accept header"))
			}
			if c.Request().ContentLength > 0 && !checkContentType(c.Request().Header.Get("Content-Type")) {
				return writeOutcome(c, NewAPIError(KindUnsupportedMediaType, "unsupported Content-Type header"))
			}
			return next(c)
		}
	}
}

const contextKeyResourceType = "fhir.resourceType"

// resourceTypeOf recovers the resource type bound to this route group by
// RegisterRoutes. Each resource type gets its own fixed-prefix echo group
// (mirroring the teacher's one-group-per-domain wiring in main.go), so the
// type is captured in a closure-installed middleware rather than parsed out
// of the path.
func resourceTypeOf(c echo.Context) string {
	rt, _ := c.Get(contextKeyResourceType).(string)
	return rt
}

func resourceBase(c echo.Context, resourceType string) string {
	scheme := "http"
	if c.Request().TLS != nil {
		scheme = "https"
	}
	return fmt.Sprintf("%s://%s/%s", scheme, c.Request().Host, resourceType)
}

// --- Read / VRead ---

// Read implements GET /{type}/{id}.
func (e *Engine) Read(c echo.Context) error {
	resourceType := resourceTypeOf(c)
	id := c.Param("id")

	env, ok := e.Store.Get(resourceType, id)
	if !ok {
		return writeOutcome(c, NewAPIError(KindNotFound, fmt.Sprintf("%s/%s not found", resourceType, id)))
	}
	if env.Deleted {
		return writeOutcome(c, NewAPIError(KindGone, fmt.Sprintf("%s/%s has been deleted", resourceType, id)))
	}

	if inm := c.Request().Header.Get("If-None-Match"); inm != "" {
		if v, err := ParseETag(inm); err == nil && v == env.VersionID {
			setVersionHeaders(c, env)
			return c.NoContent(http.StatusNotModified)
		}
	}
	if ims := c.Request().Header.Get("If-Modified-Since"); ims != "" {
		if t, err := time.Parse(time.RFC1123, ims); err == nil && !env.LastUpdated.After(t) {
			setVersionHeaders(c, env)
			return c.NoContent(http.StatusNotModified)
		}
	}

	setVersionHeaders(c, env)
	body, err := env.WithMeta()
	if err != nil {
		return writeOutcome(c, NewAPIError(KindInternal, "failed to render resource"))
	}
	return writeJSON(c, http.StatusOK, json.RawMessage(body))
}

// VRead implements GET /{type}/{id}/_history/{vid}.
func (e *Engine) VRead(c echo.Context) error {
	resourceType := resourceTypeOf(c)
	id := c.Param("id")
	vidStr := c.Param("vid")

	vid, err := strconv.ParseUint(vidStr, 10, 64)
	if err != nil {
		return writeOutcome(c, NewAPIError(KindBadRequest, "invalid version id"))
	}

	entry, ok := e.Store.History().Version(resourceType, id, vid)
	if !ok {
		return writeOutcome(c, NewAPIError(KindNotFound, "version not found"))
	}
	if entry.Method == HistoryDelete {
		return writeOutcome(c, NewAPIError(KindGone, "this version is a deletion marker"))
	}

	body, err := entry.Snapshot.WithMeta()
	if err != nil {
		return writeOutcome(c, NewAPIError(KindInternal, "failed to render resource"))
	}
	c.Response().Header().Set("ETag", fmt.Sprintf(`W/"%d"`, entry.VersionID))
	c.Response().Header().Set("Last-Modified", entry.Timestamp.UTC().Format(time.RFC1123))
	return writeJSON(c, http.StatusOK, json.RawMessage(body))
}

// --- Create ---

func decodeBody(c echo.Context) (map[string]interface{}, error) {
	var doc map[string]interface{}
	if err := json.NewDecoder(c.Request().Body).Decode(&doc); err != nil {
		return nil, err
	}
	return doc, nil
}

// Create implements POST /{type}, honoring If-None-Exist for conditional
// create and the Prefer return directive.
func (e *Engine) Create(c echo.Context) error {
	resourceType := resourceTypeOf(c)
	doc, err := decodeBody(c)
	if err != nil {
		return writeOutcome(c, NewAPIError(KindBadRequest, "malformed JSON body"))
	}

	if rt, ok := doc["resourceType"].(string); ok && rt != "" && rt != resourceType {
		return writeOutcome(c, NewAPIError(KindBadRequest, "resourceType in body does not match URL"))
	}

	if ifNoneExist := c.Request().Header.Get("If-None-Exist"); ifNoneExist != "" {
		q := parseSimpleQuery(resourceType, ifNoneExist)
		result := Evaluate(e.Store, q)
		switch result.Total {
		case 0:
			// fall through to normal create
		case 1:
			env := result.Page[0]
			setVersionHeaders(c, env)
			c.Response().Header().Set("Content-Location", fmt.Sprintf("%s/%s", resourceBase(c, resourceType), env.ID))
			body, _ := env.WithMeta()
			return writeJSON(c, http.StatusOK, json.RawMessage(body))
		default:
			return writeOutcome(c, NewAPIError(KindPreconditionFailed, "multiple resources match If-None-Exist criteria"))
		}
	}

	id, _ := doc["id"].(string)
	if id == "" {
		id = e.newID()
	}
	delete(doc, "meta")
	delete(doc, "resourceType")
	delete(doc, "id")
	payload, _ := json.Marshal(doc)

	env := &ResourceEnvelope{ResourceType: resourceType, ID: id, Payload: payload}
	if err := e.Store.Insert(env); err != nil {
		return writeOutcome(c, NewAPIError(KindConflict, "a resource with this id already exists"))
	}
	stored, _ := e.Store.Get(resourceType, id)

	setVersionHeaders(c, stored)
	c.Response().Header().Set("Location", fmt.Sprintf("%s/%s", resourceBase(c, resourceType), id))
	return e.writeMutationResponse(c, http.StatusCreated, stored, "resource created")
}

func (e *Engine) writeMutationResponse(c echo.Context, status int, env *ResourceEnvelope, message string) error {
	switch parsePrefer(c.Request().Header.Get("Prefer")) {
	case ReturnMinimal:
		return c.NoContent(status)
	case ReturnOperationOutcome:
		return writeJSON(c, status, InformationalOutcome(message))
	default:
		body, err := env.WithMeta()
		if err != nil {
			return writeOutcome(c, NewAPIError(KindInternal, "failed to render resource"))
		}
		return writeJSON(c, status, json.RawMessage(body))
	}
}

// parseSimpleQuery parses an If-None-Exist criteria string (a raw query
// string without the leading '?') into a SearchQuery.
func parseSimpleQuery(resourceType, criteria string) SearchQuery {
	values := make(map[string][]string)
	for _, pair := range strings.Split(criteria, "&") {
		if pair == "" {
			continue
		}
		kv := strings.SplitN(pair, "=", 2)
		k := kv[0]
		v := ""
		if len(kv) == 2 {
			v = kv[1]
		}
		values[k] = append(values[k], v)
	}
	return ParseSearchQuery(resourceType, values, criteria)
}

// --- Update ---

// Update implements PUT /{type}/{id}: version-checked update, or
// create-on-update when the id is absent and no If-Match was supplied.
func (e *Engine) Update(c echo.Context) error {
	resourceType := resourceTypeOf(c)
	id := c.Param("id")
	return e.updateByID(c, resourceType, id)
}

func (e *Engine) updateByID(c echo.Context, resourceType, id string) error {
	doc, err := decodeBody(c)
	if err != nil {
		return writeOutcome(c, NewAPIError(KindBadRequest, "malformed JSON body"))
	}
	if bodyID, ok := doc["id"].(string); ok && bodyID != "" && bodyID != id {
		return writeOutcome(c, NewAPIError(KindBadRequest, "id in body does not match URL"))
	}

	ifMatch := c.Request().Header.Get("If-Match")
	current, exists := e.Store.Get(resourceType, id)

	if !exists {
		if ifMatch != "" {
			return writeOutcome(c, NewAPIError(KindPreconditionFailed, "If-Match supplied for a resource that does not exist"))
		}
		delete(doc, "meta")
		delete(doc, "resourceType")
		delete(doc, "id")
		payload, _ := json.Marshal(doc)
		env := &ResourceEnvelope{ResourceType: resourceType, ID: id, Payload: payload}
		if err := e.Store.Insert(env); err != nil {
			return writeOutcome(c, NewAPIError(KindConflict, "concurrent create race on this id"))
		}
		stored, _ := e.Store.Get(resourceType, id)
		setVersionHeaders(c, stored)
		c.Response().Header().Set("Location", fmt.Sprintf("%s/%s", resourceBase(c, resourceType), id))
		return e.writeMutationResponse(c, http.StatusCreated, stored, "resource created")
	}

	if ifMatch != "" {
		expected, err := ParseETag(ifMatch)
		if err != nil {
			return writeOutcome(c, NewAPIError(KindBadRequest, "invalid If-Match header"))
		}
		if expected != current.VersionID {
			return writeOutcome(c, NewAPIError(KindConflict, "version conflict"))
		}
	}

	delete(doc, "meta")
	delete(doc, "resourceType")
	delete(doc, "id")
	payload, _ := json.Marshal(doc)
	env := &ResourceEnvelope{ResourceType: resourceType, ID: id, Payload: payload}
	if _, err := e.Store.Update(resourceType, id, env); err != nil {
		return writeOutcome(c, NewAPIError(KindNotFound, "resource not found"))
	}
	stored, _ := e.Store.Get(resourceType, id)
	setVersionHeaders(c, stored)
	return e.writeMutationResponse(c, http.StatusOK, stored, "resource updated")
}

// ConditionalUpdate implements PUT /{type}?query.
func (e *Engine) ConditionalUpdate(c echo.Context) error {
	resourceType := resourceTypeOf(c)
	q := ParseSearchQuery(resourceType, c.QueryParams(), c.QueryString())
	result := Evaluate(e.Store, q)
	switch result.Total {
	case 0:
		return e.Create(c)
	case 1:
		c.SetParamNames("type", "id")
		c.SetParamValues(resourceType, result.Page[0].ID)
		return e.Update(c)
	default:
		return writeOutcome(c, NewAPIError(KindPreconditionFailed, "multiple resources match the conditional update criteria"))
	}
}

// --- Delete ---

// Delete implements DELETE /{type}/{id}: always 204, idempotent.
func (e *Engine) Delete(c echo.Context) error {
	resourceType := resourceTypeOf(c)
	id := c.Param("id")
	e.Store.Delete(resourceType, id)
	return c.NoContent(http.StatusNoContent)
}

// ConditionalDelete implements DELETE /{type}?query.
func (e *Engine) ConditionalDelete(c echo.Context) error {
	resourceType := resourceTypeOf(c)
	q := ParseSearchQuery(resourceType, c.QueryParams(), c.QueryString())
	result := Evaluate(e.Store, q)
	switch result.Total {
	case 0:
		return c.NoContent(http.StatusNoContent)
	case 1:
		e.Store.Delete(resourceType, result.Page[0].ID)
		return c.NoContent(http.StatusNoContent)
	default:
		return writeOutcome(c, NewAPIError(KindPreconditionFailed, "multiple resources match the conditional delete criteria"))
	}
}

// --- Patch ---

// Patch implements PATCH /{type}/{id}, dispatching by Content-Type.
func (e *Engine) Patch(c echo.Context) error {
	resourceType := resourceTypeOf(c)
	id := c.Param("id")
	return e.patchByID(c, resourceType, id)
}

func (e *Engine) patchByID(c echo.Context, resourceType, id string) error {
	current, ok := e.Store.Get(resourceType, id)
	if !ok || current.Deleted {
		return writeOutcome(c, NewAPIError(KindNotFound, "resource not found"))
	}

	if ifMatch := c.Request().Header.Get("If-Match"); ifMatch != "" {
		expected, err := ParseETag(ifMatch)
		if err != nil {
			return writeOutcome(c, NewAPIError(KindBadRequest, "invalid If-Match header"))
		}
		if expected != current.VersionID {
			return writeOutcome(c, NewAPIError(KindConflict, "version conflict"))
		}
	}

	body, err := readAll(c)
	if err != nil {
		return writeOutcome(c, NewAPIError(KindBadRequest, "failed to read request body"))
	}

	var doc map[string]interface{}
	if err := json.Unmarshal(current.Payload, &doc); err != nil {
		return writeOutcome(c, NewAPIError(KindInternal, "failed to decode stored resource"))
	}

	contentType := strings.ToLower(strings.TrimSpace(strings.Split(c.Request().Header.Get("Content-Type"), ";")[0]))
	var patched map[string]interface{}
	switch contentType {
	case "application/json-patch+json":
		ops, err := ParseJSONPatch(body)
		if err != nil {
			return writeOutcome(c, NewAPIError(KindBadRequest, err.Error()))
		}
		patched, err = ApplyJSONPatch(doc, ops)
		if err != nil {
			return writeOutcome(c, NewAPIError(KindBadRequest, err.Error()))
		}
	case "application/fhir+json":
		ops, err := ParseFHIRPathPatch(body)
		if err != nil {
			return writeOutcome(c, NewAPIError(KindBadRequest, err.Error()))
		}
		patched, err = ApplyFHIRPathPatch(doc, ops)
		if err != nil {
			return writeOutcome(c, NewAPIError(KindBadRequest, err.Error()))
		}
	default:
		return writeOutcome(c, NewAPIError(KindUnsupportedMediaType, "patch requires application/json-patch+json or application/fhir+json"))
	}

	if rt, ok := patched["resourceType"].(string); ok && rt != "" && rt != resourceType {
		return writeOutcome(c, NewAPIError(KindBadRequest, "patch must not change resourceType"))
	}
	if pid, ok := patched["id"].(string); ok && pid != "" && pid != id {
		return writeOutcome(c, NewAPIError(KindBadRequest, "patch must not change id"))
	}

	delete(patched, "meta")
	delete(patched, "resourceType")
	delete(patched, "id")
	payload, _ := json.Marshal(patched)
	env := &ResourceEnvelope{ResourceType: resourceType, ID: id, Payload: payload}
	if _, err := e.Store.Update(resourceType, id, env); err != nil {
		return writeOutcome(c, NewAPIError(KindNotFound, "resource not found"))
	}
	stored, _ := e.Store.Get(resourceType, id)
	setVersionHeaders(c, stored)
	return e.writeMutationResponse(c, http.StatusOK, stored, "resource patched")
}

// ConditionalPatch implements PATCH /{type}?query. A single match is
// patched and more than one match fails with PreconditionFailed, as in
// conditional update; unlike conditional update, zero matches return
// NotFound and nothing is created.
func (e *Engine) ConditionalPatch(c echo.Context) error {
	resourceType := resourceTypeOf(c)
	q := ParseSearchQuery(resourceType, c.QueryParams(), c.QueryString())
	result := Evaluate(e.Store, q)
	switch result.Total {
	case 0:
		return writeOutcome(c, NewAPIError(KindNotFound, "no resource matches the conditional patch criteria"))
	case 1:
		c.SetParamNames("type", "id")
		c.SetParamValues(resourceType, result.Page[0].ID)
		return e.Patch(c)
	default:
		return writeOutcome(c, NewAPIError(KindPreconditionFailed, "multiple resources match the conditional patch criteria"))
	}
}

func readAll(c echo.Context) ([]byte, error) {
	buf := make([]byte, 0, 4096)
	chunk := make([]byte, 4096)
	for {
		n, err := c.Request().Body.Read(chunk)
		if n > 0 {
			buf = append(buf, chunk[:n]...)
		}
		if err != nil {
			break
		}
	}
	return buf, nil
}

// --- Search ---

// Search implements GET /{type}?query.
func (e *Engine) Search(c echo.Context) error {
	resourceType := resourceTypeOf(c)
	q := ParseSearchQuery(resourceType, c.QueryParams(), c.QueryString())
	result := Evaluate(e.Store, q)

	bundle, err := NewSearchBundle(result.Page, SearchBundleParams{
		BaseURL:  resourceBase(c, resourceType),
		RawQuery: c.QueryString(),
		Offset:   q.Offset,
		Count:    q.Count,
		Total:    result.Total,
	})
	if err != nil {
		return writeOutcome(c, NewAPIError(KindInternal, "failed to assemble search bundle"))
	}
	return writeJSON(c, http.StatusOK, bundle)
}

// --- History ---

func parseHistoryParams(c echo.Context) (HistoryParams, error) {
	var p HistoryParams
	if since := c.QueryParam("_since"); since != "" {
		t, err := parseFlexDate(since)
		if err != nil {
			return p, fmt.Errorf("invalid _since: %w", err)
		}
		p.Since = t
	}
	if at := c.QueryParam("_at"); at != "" {
		t, err := parseFlexDate(at)
		if err != nil {
			return p, fmt.Errorf("invalid _at: %w", err)
		}
		p.At = t
	}
	p.Count = defaultCount
	if cnt := c.QueryParam("_count"); cnt != "" {
		if n, err := strconv.Atoi(cnt); err == nil && n >= 0 {
			p.Count = n
		}
	}
	if off := c.QueryParam("__offset"); off != "" {
		if n, err := strconv.Atoi(off); err == nil && n >= 0 {
			p.Offset = n
		}
	}
	return p, nil
}

func parseFlexDate(s string) (time.Time, error) {
	layouts := []string{time.RFC3339, time.RFC3339Nano, "2006-01-02T15:04:05", "2006-01-02"}
	var lastErr error
	for _, layout := range layouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		} else {
			lastErr = err
		}
	}
	return time.Time{}, lastErr
}

// InstanceHistory implements GET /{type}/{id}/_history.
func (e *Engine) InstanceHistory(c echo.Context) error {
	resourceType := resourceTypeOf(c)
	id := c.Param("id")
	p, err := parseHistoryParams(c)
	if err != nil {
		return writeOutcome(c, NewAPIError(KindBadRequest, err.Error()))
	}
	entries, total := e.Store.History().ForInstance(resourceType, id, p)
	bundle, err := NewHistoryBundle(entries, resourceBase(c, resourceType), total)
	if err != nil {
		return writeOutcome(c, NewAPIError(KindInternal, "failed to assemble history bundle"))
	}
	return writeJSON(c, http.StatusOK, bundle)
}

// TypeHistory implements GET /{type}/_history.
func (e *Engine) TypeHistory(c echo.Context) error {
	resourceType := resourceTypeOf(c)
	p, err := parseHistoryParams(c)
	if err != nil {
		return writeOutcome(c, NewAPIError(KindBadRequest, err.Error()))
	}
	entries, total := e.Store.History().ForType(resourceType, p)
	bundle, err := NewHistoryBundle(entries, resourceBase(c, resourceType), total)
	if err != nil {
		return writeOutcome(c, NewAPIError(KindInternal, "failed to assemble history bundle"))
	}
	return writeJSON(c, http.StatusOK, bundle)
}

// --- Batch / Transaction ---

// Batch implements POST /{base}: a Bundle of type transaction or batch,
// dispatched to the Transaction Manager via ProcessBundle.
func (e *Engine) Batch(c echo.Context) error {
	var req Bundle
	if err := json.NewDecoder(c.Request().Body).Decode(&req); err != nil {
		return writeOutcome(c, NewAPIError(KindBadRequest, "malformed JSON body"))
	}
	if req.ResourceType != "Bundle" {
		return writeOutcome(c, NewAPIError(KindBadRequest, "body must be a Bundle resource"))
	}

	resp, err := ProcessBundle(e.Store, &req)
	if err != nil {
		return writeOutcome(c, NewAPIError(KindBadRequest, err.Error()))
	}
	return writeJSON(c, http.StatusOK, resp)
}

// --- Capabilities ---

// Capabilities implements GET /metadata.
func (e *Engine) Capabilities(builder *CapabilityBuilder) echo.HandlerFunc {
	return func(c echo.Context) error {
		summary := c.QueryParam("_summary")
		stmt := builder.Build()
		if summary == "count" {
			return writeJSON(c, http.StatusOK, map[string]interface{}{
				"resourceType": "CapabilityStatement",
				"count":        len(stmt.Rest[0].Resource),
			})
		}
		return writeJSON(c, http.StatusOK, stmt)
	}
}

// RegisterRoutes wires every REST interaction onto an echo group, the same
// per-domain RegisterRoutes shape the teacher uses for each of its domain
// handlers.
func (e *Engine) RegisterRoutes(g *echo.Group, resourceType string) {
	base := g.Group("/" + resourceType)
	base.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			c.Set(contextKeyResourceType, resourceType)
			return next(c)
		}
	})
	base.GET("", e.Search)
	base.POST("", e.Create)
	base.PUT("", e.ConditionalUpdate)
	base.DELETE("", e.ConditionalDelete)
	base.PATCH("", e.ConditionalPatch)
	base.GET("/_history", e.TypeHistory)
	base.GET("/:id", e.Read)
	base.PUT("/:id", e.Update)
	base.DELETE("/:id", e.Delete)
	base.PATCH("/:id", e.Patch)
	base.GET("/:id/_history", e.InstanceHistory)
	base.GET("/:id/_history/:vid", e.VRead)
}
