package fhir

import "time"

// CapabilityStatement is the FHIR `metadata` resource. Grounded on the
// teacher's internal/platform/fhir/bundle.go CapabilityStatement/CSRest/
// CSResource/NewCapabilityStatement/ResourceCapability types.
type CapabilityStatement struct {
	ResourceType   string            `json:"resourceType"`
	Status         string            `json:"status"`
	Date           string            `json:"date"`
	Kind           string            `json:"kind"`
	FHIRVersion    string            `json:"fhirVersion"`
	Format         []string          `json:"format"`
	Implementation *CSImplementation `json:"implementation,omitempty"`
	Rest           []CSRest          `json:"rest"`
}

type CSImplementation struct {
	Description string `json:"description"`
	URL         string `json:"url,omitempty"`
}

type CSRest struct {
	Mode     string       `json:"mode"`
	Resource []CSResource `json:"resource"`
	Security *CSSecurity  `json:"security,omitempty"`
}

type CSResource struct {
	Type        string          `json:"type"`
	Profile     string          `json:"profile,omitempty"`
	Interaction []CSInteraction `json:"interaction"`
	SearchParam []CSSearchParam `json:"searchParam,omitempty"`
	Versioning  string          `json:"versioning,omitempty"`
	ReadHistory bool            `json:"readHistory,omitempty"`
}

type CSInteraction struct {
	Code string `json:"code"`
}

type CSSearchParam struct {
	Name       string `json:"name"`
	Type       string `json:"type"`
	Definition string `json:"definition,omitempty"`
}

type CSSecurity struct {
	CORS    bool              `json:"cors"`
	Service []CodeableConcept `json:"service,omitempty"`
}

// CodeableConcept and Coding are the minimal subset needed to describe the
// SMART-on-FHIR security service in the capability statement.
type CodeableConcept struct {
	Coding []Coding `json:"coding,omitempty"`
	Text   string   `json:"text,omitempty"`
}

type Coding struct {
	System  string `json:"system,omitempty"`
	Code    string `json:"code,omitempty"`
	Display string `json:"display,omitempty"`
}

// ProfileLookup is the opaque interface the builder consults for canonical
// profile URIs, standing in for the terminology/canonical-package manager
// external collaborator (out of scope for this core).
type ProfileLookup interface {
	ProfileFor(resourceType string) string
}

// NoProfileLookup is a ProfileLookup that never advertises a profile URI.
type NoProfileLookup struct{}

func (NoProfileLookup) ProfileFor(string) string { return "" }

// ResourceRegistration describes one resource type's advertised search
// parameters, registered by the deployment: the exact set of advertised
// types is a deployment decision, not fixed by this package.
type ResourceRegistration struct {
	Type         string
	SearchParams []CSSearchParam
}

// CapabilityBuilder assembles the server's CapabilityStatement from a
// caller-supplied registry, mirroring the teacher's AddResource-loop idiom
// in cmd/ehr-server/main.go.
type CapabilityBuilder struct {
	baseURL    string
	profiles   ProfileLookup
	registered []ResourceRegistration
}

// NewCapabilityBuilder constructs a builder for a given base URL. If
// profiles is nil, NoProfileLookup is used.
func NewCapabilityBuilder(baseURL string, profiles ProfileLookup) *CapabilityBuilder {
	if profiles == nil {
		profiles = NoProfileLookup{}
	}
	return &CapabilityBuilder{baseURL: baseURL, profiles: profiles}
}

// AddResource registers a resource type with standard CRUD+history
// interactions and the given search parameters.
func (b *CapabilityBuilder) AddResource(resourceType string, searchParams []CSSearchParam) {
	b.registered = append(b.registered, ResourceRegistration{Type: resourceType, SearchParams: searchParams})
}

// Build assembles the CapabilityStatement.
func (b *CapabilityBuilder) Build() *CapabilityStatement {
	resources := make([]CSResource, 0, len(b.registered))
	for _, r := range b.registered {
		resources = append(resources, CSResource{
			Type:    r.Type,
			Profile: b.profiles.ProfileFor(r.Type),
			Interaction: []CSInteraction{
				{Code: "read"}, {Code: "vread"}, {Code: "update"},
				{Code: "patch"}, {Code: "delete"}, {Code: "history-instance"},
				{Code: "history-type"}, {Code: "create"}, {Code: "search-type"},
			},
			SearchParam: r.SearchParams,
			Versioning:  "versioned",
			ReadHistory: true,
		})
	}

	return &CapabilityStatement{
		ResourceType: "CapabilityStatement",
		Status:       "active",
		Date:         time.Now().UTC().Format("2006-01-02"),
		Kind:         "instance",
		FHIRVersion:  "4.0.1",
		Format:       []string{"json"},
		Implementation: &CSImplementation{
			Description: "FHIR resource server",
			URL:         b.baseURL,
		},
		Rest: []CSRest{
			{
				Mode:     "server",
				Resource: resources,
				Security: &CSSecurity{
					CORS: true,
					Service: []CodeableConcept{{
						Coding: []Coding{{
							System:  "http://terminology.hl7.org/CodeSystem/restful-security-service",
							Code:    "SMART-on-FHIR",
							Display: "SMART on FHIR",
						}},
						Text: "OAuth2 using SMART on FHIR profile",
					}},
				},
			},
		},
	}
}
