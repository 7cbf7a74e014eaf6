package fhir

// ErrorKind enumerates the exhaustive REST/OAuth error taxonomy used across
// this server. Grounded on the teacher's NewOperationOutcome/ErrorOutcome
// helpers (internal/platform/fhir/resource.go), generalized into a typed
// kind so the HTTP status/severity/code triad stays centralized.
type ErrorKind string

const (
	KindBadRequest             ErrorKind = "BadRequest"
	KindUnauthorized           ErrorKind = "Unauthorized"
	KindForbidden              ErrorKind = "Forbidden"
	KindNotFound               ErrorKind = "NotFound"
	KindGone                   ErrorKind = "Gone"
	KindConflict               ErrorKind = "Conflict"
	KindPreconditionFailed     ErrorKind = "PreconditionFailed"
	KindUnsupportedMediaType   ErrorKind = "UnsupportedMediaType"
	KindUnsupportedGrantType   ErrorKind = "UnsupportedGrantType"
	KindUnsupportedResponse    ErrorKind = "UnsupportedResponseType"
	KindInvalidClient          ErrorKind = "InvalidClient"
	KindInvalidGrant           ErrorKind = "InvalidGrant"
	KindInvalidRequest         ErrorKind = "InvalidRequest"
	KindInvalidScope           ErrorKind = "InvalidScope"
	KindPkceVerificationFailed ErrorKind = "PkceVerificationFailed"
	KindInternal               ErrorKind = "Internal"
)

type taxonomyEntry struct {
	status   int
	severity string
	code     string
}

var taxonomy = map[ErrorKind]taxonomyEntry{
	KindBadRequest:             {400, "error", "invalid"},
	KindUnauthorized:           {401, "error", "unauthorized"},
	KindForbidden:              {403, "error", "forbidden"},
	KindNotFound:               {404, "error", "not-found"},
	KindGone:                   {410, "error", "not-found"},
	KindConflict:               {409, "error", "conflict"},
	KindPreconditionFailed:     {412, "error", "conflict"},
	KindUnsupportedMediaType:   {415, "error", "not-supported"},
	KindUnsupportedGrantType:   {400, "error", "not-supported"},
	KindUnsupportedResponse:    {400, "error", "not-supported"},
	KindInvalidClient:          {401, "error", "unauthorized"},
	KindInvalidGrant:           {400, "error", "invalid"},
	KindInvalidRequest:         {400, "error", "invalid"},
	KindInvalidScope:           {400, "error", "invalid"},
	KindPkceVerificationFailed: {400, "error", "invalid"},
	KindInternal:               {500, "fatal", "exception"},
}

// HTTPStatus returns the status code for a kind, defaulting to 500 for an
// unrecognized kind (should not happen for any kind produced internally).
func (k ErrorKind) HTTPStatus() int {
	if e, ok := taxonomy[k]; ok {
		return e.status
	}
	return 500
}

// APIError is the sentinel error type the REST and OAuth engines return;
// the transport layer maps it to an OperationOutcome JSON body.
type APIError struct {
	Kind        ErrorKind
	Diagnostics string // human-readable, free of tokens/codes/state values
}

func (e *APIError) Error() string {
	return string(e.Kind) + ": " + e.Diagnostics
}

// NewAPIError constructs an APIError.
func NewAPIError(kind ErrorKind, diagnostics string) *APIError {
	return &APIError{Kind: kind, Diagnostics: diagnostics}
}

// OperationOutcomeIssue is one issue entry of an OperationOutcome.
type OperationOutcomeIssue struct {
	Severity    string `json:"severity"`
	Code        string `json:"code"`
	Diagnostics string `json:"diagnostics,omitempty"`
}

// OperationOutcome is the FHIR-flavored error envelope, always carrying
// exactly one issue for errors produced by this core.
type OperationOutcome struct {
	ResourceType string                  `json:"resourceType"`
	Issue        []OperationOutcomeIssue `json:"issue"`
}

// NewOperationOutcome builds a single-issue OperationOutcome from an APIError.
func NewOperationOutcome(err *APIError) *OperationOutcome {
	entry, ok := taxonomy[err.Kind]
	if !ok {
		entry = taxonomy[KindInternal]
	}
	return &OperationOutcome{
		ResourceType: "OperationOutcome",
		Issue: []OperationOutcomeIssue{{
			Severity:    entry.severity,
			Code:        entry.code,
			Diagnostics: err.Diagnostics,
		}},
	}
}

// InformationalOutcome builds an informational OperationOutcome for
// Prefer: return=OperationOutcome responses on success.
func InformationalOutcome(message string) *OperationOutcome {
	return &OperationOutcome{
		ResourceType: "OperationOutcome",
		Issue: []OperationOutcomeIssue{{
			Severity:    "information",
			Code:        "informational",
			Diagnostics: message,
		}},
	}
}
