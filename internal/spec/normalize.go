package spec

import (
	"strings"

	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// CompactModel is the prompt-oriented projection of an APIModel: no source
// bookkeeping, flattened descriptions, one type label per schema and parameter.
type CompactModel struct {
	Title       string                                          `json:"title"`
	Version     string                                          `json:"version"`
	Description string                                          `json:"description,omitempty"`
	BaseURL     string                                          `json:"baseUrl"`
	Endpoints   []CompactEndpoint                               `json:"endpoints"`
	AuthSchemes []AuthSchemeDescriptor                          `json:"authSchemes,omitempty"`
	Schemas     *orderedmap.OrderedMap[string, *CompactSchema] `json:"schemas"`
}

type CompactSchema struct {
	Type                 string                                          `json:"type,omitempty"`
	Format               string                                          `json:"format,omitempty"`
	Description          string                                          `json:"description,omitempty"`
	Nullable             bool                                            `json:"nullable,omitempty"`
	Properties           *orderedmap.OrderedMap[string, *CompactSchema] `json:"properties,omitempty"`
	Required             []string                                        `json:"required,omitempty"`
	Items                *CompactSchema                                  `json:"items,omitempty"`
	AdditionalProperties *CompactSchema                                  `json:"additionalProperties,omitempty"`
	AllOf                []*CompactSchema                                `json:"allOf,omitempty"`
	OneOf                []*CompactSchema                                `json:"oneOf,omitempty"`
	AnyOf                []*CompactSchema                                `json:"anyOf,omitempty"`
	Enum                 []any                                           `json:"enum,omitempty"`
	Default              any                                             `json:"default,omitempty"`
	// SelfRef names the schema a broken cycle points back to.
	SelfRef string `json:"$self,omitempty"`
}

type CompactParameter struct {
	Name        string         `json:"name"`
	In          string         `json:"in"`
	Required    bool           `json:"required,omitempty"`
	Type        string         `json:"type"`
	Description string         `json:"description,omitempty"`
	Schema      *CompactSchema `json:"schema,omitempty"`
}

type CompactBody struct {
	ContentType string         `json:"contentType,omitempty"`
	Required    bool           `json:"required,omitempty"`
	Description string         `json:"description,omitempty"`
	Schema      *CompactSchema `json:"schema,omitempty"`
}

type CompactResponse struct {
	Status      string         `json:"status"`
	Description string         `json:"description,omitempty"`
	ContentType string         `json:"contentType,omitempty"`
	Schema      *CompactSchema `json:"schema,omitempty"`
}

type CompactEndpoint struct {
	OperationID string             `json:"operationId"`
	Method      string             `json:"method"`
	Path        string             `json:"path"`
	Summary     string             `json:"summary,omitempty"`
	Description string             `json:"description,omitempty"`
	Parameters  []CompactParameter `json:"parameters,omitempty"`
	RequestBody *CompactBody       `json:"requestBody,omitempty"`
	Responses   []CompactResponse  `json:"responses,omitempty"`
	Auth        []string           `json:"auth,omitempty"`
}

// Normalize projects m into a CompactModel. It only reads m; every schema,
// slice and enum/default value in the result is a fresh copy.
func Normalize(m *APIModel) *CompactModel {
	if m == nil {
		return nil
	}
	cm := &CompactModel{
		Title:       m.Title,
		Version:     m.Version,
		Description: flatten(m.Description),
		BaseURL:     m.BaseURL,
		Schemas:     orderedmap.New[string, *CompactSchema](),
		AuthSchemes: append([]AuthSchemeDescriptor(nil), m.AuthSchemes...),
	}
	for i := range cm.AuthSchemes {
		cm.AuthSchemes[i].Description = flatten(cm.AuthSchemes[i].Description)
	}
	if m.Schemas != nil {
		for pair := m.Schemas.Oldest(); pair != nil; pair = pair.Next() {
			cm.Schemas.Set(pair.Key, compactSchema(pair.Value))
		}
	}

	cm.Endpoints = make([]CompactEndpoint, 0, len(m.Endpoints))
	for _, ep := range m.Endpoints {
		ce := CompactEndpoint{
			OperationID: ep.OperationID,
			Method:      strings.ToUpper(string(ep.Method)),
			Path:        ep.Path,
			Summary:     flatten(ep.Summary),
			Description: flatten(ep.Description),
			Auth:        append([]string(nil), ep.Security...),
		}
		for _, p := range ep.Parameters {
			ce.Parameters = append(ce.Parameters, CompactParameter{
				Name:        p.Name,
				In:          p.In,
				Required:    p.Required,
				Type:        TypeLabel(p.Schema),
				Description: flatten(p.Description),
				Schema:      compactSchema(p.Schema),
			})
		}
		if rb := ep.RequestBody; rb != nil {
			ce.RequestBody = &CompactBody{
				ContentType: rb.ContentType,
				Required:    rb.Required,
				Description: flatten(rb.Description),
				Schema:      compactSchema(rb.Schema),
			}
		}
		for _, r := range ep.Responses {
			ce.Responses = append(ce.Responses, CompactResponse{
				Status:      r.Status,
				Description: flatten(r.Description),
				ContentType: r.ContentType,
				Schema:      compactSchema(r.Schema),
			})
		}
		cm.Endpoints = append(cm.Endpoints, ce)
	}
	return cm
}

// Endpoint returns the endpoint with the given operation id.
func (cm *CompactModel) Endpoint(operationID string) (CompactEndpoint, bool) {
	for _, ep := range cm.Endpoints {
		if ep.OperationID == operationID {
			return ep, true
		}
	}
	return CompactEndpoint{}, false
}

func compactSchema(s *SchemaNode) *CompactSchema {
	if s == nil {
		return nil
	}
	if s.IsCycle() {
		return &CompactSchema{SelfRef: refName(s.Ref)}
	}
	out := &CompactSchema{
		Type:        TypeLabel(s),
		Format:      s.Format,
		Description: flatten(joinNonEmpty(s.Title, s.Description)),
		Nullable:    s.Nullable,
		Required:    append([]string(nil), s.Required...),
		Items:       compactSchema(s.Items),
		Enum:        cloneValues(s.Enum),
		Default:     cloneValue(s.Default),
	}
	if s.AdditionalProperties != nil {
		out.AdditionalProperties = compactSchema(s.AdditionalProperties)
	}
	if s.Properties != nil && s.Properties.Len() > 0 {
		out.Properties = orderedmap.New[string, *CompactSchema]()
		for pair := s.Properties.Oldest(); pair != nil; pair = pair.Next() {
			out.Properties.Set(pair.Key, compactSchema(pair.Value))
		}
	}
	out.AllOf = compactList(s.AllOf)
	out.OneOf = compactList(s.OneOf)
	out.AnyOf = compactList(s.AnyOf)
	return out
}

func compactList(in []*SchemaNode) []*CompactSchema {
	if len(in) == 0 {
		return nil
	}
	out := make([]*CompactSchema, 0, len(in))
	for _, s := range in {
		out = append(out, compactSchema(s))
	}
	return out
}

// flatten collapses all whitespace runs, newlines included, into single spaces.
func flatten(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func joinNonEmpty(title, desc string) string {
	switch {
	case title == "":
		return desc
	case desc == "":
		return title
	default:
		return title + ": " + desc
	}
}

func cloneValues(in []any) []any {
	if in == nil {
		return nil
	}
	out := make([]any, len(in))
	for i, v := range in {
		out[i] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[k] = cloneValue(val)
		}
		return out
	case []any:
		return cloneValues(t)
	default:
		return v
	}
}
