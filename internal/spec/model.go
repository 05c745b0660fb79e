package spec

import (
	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// Internal model definitions built by Parse and consumed by Normalize.

type HttpMethod string

const (
	GET     HttpMethod = "get"
	POST    HttpMethod = "post"
	PUT     HttpMethod = "put"
	DELETE  HttpMethod = "delete"
	PATCH   HttpMethod = "patch"
	HEAD    HttpMethod = "head"
	OPTIONS HttpMethod = "options"
	TRACE   HttpMethod = "trace"
)

// methodSlots is the fixed, ordered set of operation slots on a path item.
var methodSlots = []HttpMethod{GET, POST, PUT, DELETE, PATCH, HEAD, OPTIONS, TRACE}

// SchemaKind classifies a resolved schema node.
type SchemaKind string

const (
	KindPrimitive SchemaKind = "primitive"
	KindObject    SchemaKind = "object"
	KindArray     SchemaKind = "array"
	KindComposite SchemaKind = "composite"
	// KindCycle marks a reference that was already being expanded higher up
	// the same resolution path. The node is terminal; Ref holds the pointer.
	KindCycle SchemaKind = "unresolved-cycle"
)

// NewProperties returns an empty insertion-ordered property map.
func NewProperties() *orderedmap.OrderedMap[string, *SchemaNode] {
	return orderedmap.New[string, *SchemaNode]()
}

// SchemaNode is a fully resolved, JSON-Schema-like type. Apart from KindCycle
// markers it carries no $ref: every reference has been inlined.
type SchemaNode struct {
	Kind                 SchemaKind                                   `json:"kind"`
	Type                 string                                       `json:"type,omitempty"`
	Format               string                                       `json:"format,omitempty"`
	Title                string                                       `json:"title,omitempty"`
	Description          string                                       `json:"description,omitempty"`
	Nullable             bool                                         `json:"nullable,omitempty"`
	Properties           *orderedmap.OrderedMap[string, *SchemaNode] `json:"properties,omitempty"`
	Required             []string                                     `json:"required,omitempty"`
	Items                *SchemaNode                                  `json:"items,omitempty"`
	AdditionalProperties *SchemaNode                                  `json:"additionalProperties,omitempty"`
	AllOf                []*SchemaNode                                `json:"allOf,omitempty"`
	OneOf                []*SchemaNode                                `json:"oneOf,omitempty"`
	AnyOf                []*SchemaNode                                `json:"anyOf,omitempty"`
	Enum                 []any                                        `json:"enum,omitempty"`
	Default              any                                          `json:"default,omitempty"`

	// Ref is only set on KindCycle markers.
	Ref string `json:"$ref,omitempty"`
	// Origin is the pointer this node was expanded from, if any. Source
	// bookkeeping only; Normalize drops it.
	Origin string `json:"x-origin,omitempty"`
}

// IsCycle reports whether s is a cycle-breaking marker.
func (s *SchemaNode) IsCycle() bool { return s != nil && s.Kind == KindCycle }

// TypeLabel computes the single primitive type label of a schema: an explicit
// type wins, declared properties imply "object", anything else is "any".
func TypeLabel(s *SchemaNode) string {
	if s == nil {
		return "any"
	}
	if s.Type != "" {
		return s.Type
	}
	if s.Properties != nil && s.Properties.Len() > 0 {
		return "object"
	}
	return "any"
}

type APIModel struct {
	Title       string
	Version     string
	Description string
	BaseURL     string
	Tags        []string
	Endpoints   []EndpointDescriptor
	AuthSchemes []AuthSchemeDescriptor
	// Schemas holds the named components.schemas entries in document order.
	Schemas *orderedmap.OrderedMap[string, *SchemaNode]
	// Warnings collects non-fatal structural validation findings.
	Warnings []string
}

type EndpointDescriptor struct {
	OperationID string
	Method      HttpMethod
	Path        string
	Summary     string
	Description string
	Tags        []string
	Parameters  []ParameterDescriptor
	RequestBody *RequestBodyDescriptor
	Responses   []ResponseDescriptor
	// Security lists the names of the auth schemes the operation references.
	Security []string
}

type ParameterDescriptor struct {
	Name        string
	In          string // query|path|header|cookie
	Required    bool
	Description string
	Schema      *SchemaNode
	TypeLabel   string
}

type RequestBodyDescriptor struct {
	ContentType string
	Required    bool
	Description string
	Schema      *SchemaNode
	SchemaName  string // name hint when the media schema is a direct $ref
}

type ResponseDescriptor struct {
	Status      string // 200, 4XX, default
	Description string
	ContentType string
	Schema      *SchemaNode
	SchemaName  string
}

type AuthKind string

const (
	AuthAPIKey        AuthKind = "apiKey"
	AuthHTTP          AuthKind = "http"
	AuthOAuth2        AuthKind = "oauth2"
	AuthOpenIDConnect AuthKind = "openIdConnect"
)

type AuthSchemeDescriptor struct {
	Name         string   `json:"name"`
	Kind         AuthKind `json:"kind"`
	In           string   `json:"in,omitempty"`        // apiKey location
	ParamName    string   `json:"paramName,omitempty"` // apiKey parameter name
	Scheme       string   `json:"scheme,omitempty"`    // http scheme, e.g. bearer
	BearerFormat string   `json:"bearerFormat,omitempty"`
	Description  string   `json:"description,omitempty"`
}

// Summary is a small report over an APIModel.
type Summary struct {
	Title       string         `json:"title"`
	Version     string         `json:"version"`
	BaseURL     string         `json:"baseUrl"`
	Endpoints   int            `json:"endpoints"`
	Methods     map[string]int `json:"methods"`
	Schemas     int            `json:"schemas"`
	AuthSchemes int            `json:"authSchemes"`
	Warnings    int            `json:"warnings,omitempty"`
}

// Summary counts endpoints per method, named schemas and auth schemes.
func (m *APIModel) Summary() Summary {
	s := Summary{
		Title:       m.Title,
		Version:     m.Version,
		BaseURL:     m.BaseURL,
		Endpoints:   len(m.Endpoints),
		Methods:     make(map[string]int),
		AuthSchemes: len(m.AuthSchemes),
		Warnings:    len(m.Warnings),
	}
	if m.Schemas != nil {
		s.Schemas = m.Schemas.Len()
	}
	for _, ep := range m.Endpoints {
		s.Methods[string(ep.Method)]++
	}
	return s
}
