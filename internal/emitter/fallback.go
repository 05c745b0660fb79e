package emitter

import (
	"encoding/json"
	"fmt"
	"strings"
	"text/template"

	orderedmap "github.com/wk8/go-ordered-map/v2"

	"github.com/mark3labs/specforge/internal/pipeline"
	"github.com/mark3labs/specforge/internal/spec"
)

type toolDefinition struct {
	Name        string                              `json:"name"`
	Description string                              `json:"description"`
	InputSchema *orderedmap.OrderedMap[string, any] `json:"inputSchema"`
}

// fallbackTools derives MCP tool definitions straight from the model. It is
// used when the tools stage produced nothing.
func fallbackTools(cm *spec.CompactModel) ([]byte, error) {
	tools := make([]toolDefinition, 0, len(cm.Endpoints))
	for _, ep := range cm.Endpoints {
		desc := ep.Summary
		if desc == "" {
			desc = humanize(ep.OperationID)
		}
		tools = append(tools, toolDefinition{
			Name:        ep.OperationID,
			Description: desc,
			InputSchema: inputSchema(ep),
		})
	}
	b, err := json.MarshalIndent(tools, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal tool definitions: %w", err)
	}
	return append(b, '\n'), nil
}

// inputSchema merges parameters and the request body into one object schema.
// The body is exposed as a "body" property.
func inputSchema(ep spec.CompactEndpoint) *orderedmap.OrderedMap[string, any] {
	props := orderedmap.New[string, any]()
	var required []string
	for _, p := range ep.Parameters {
		var s any = map[string]any{"type": p.Type}
		if p.Schema != nil {
			s = p.Schema
		}
		props.Set(p.Name, s)
		if p.Required {
			required = append(required, p.Name)
		}
	}
	if rb := ep.RequestBody; rb != nil {
		var s any = map[string]any{"type": "object"}
		if rb.Schema != nil {
			s = rb.Schema
		}
		props.Set("body", s)
		if rb.Required {
			required = append(required, "body")
		}
	}

	out := orderedmap.New[string, any]()
	out.Set("type", "object")
	out.Set("properties", props)
	if len(required) > 0 {
		out.Set("required", required)
	}
	return out
}

var readmeTemplate = template.Must(template.New("readme").Funcs(template.FuncMap{
	"humanize": humanize,
}).Parse(`# {{ .Title }}

MCP server for {{ .API }}{{ if .Version }} (version {{ .Version }}){{ end }}.
{{- if .Description }}

{{ .Description }}
{{- end }}

## Tools

| Tool | Method | Path | Description |
| ---- | ------ | ---- | ----------- |
{{- range .Endpoints }}
| ` + "`{{ .OperationID }}`" + ` | {{ .Method }} | ` + "`{{ .Path }}`" + ` | {{ if .Summary }}{{ .Summary }}{{ else }}{{ humanize .OperationID }}{{ end }} |
{{- end }}
{{- if .Placeholders }}

The following handlers could not be generated and contain placeholders:
{{ range .Placeholders }}
- ` + "`{{ . }}`" + `
{{- end }}
{{- end }}

## Configuration

| Variable | Description |
| -------- | ----------- |
| ` + "`API_BASE_URL`" + ` | Base URL of the API (default ` + "`{{ .BaseURL }}`" + `) |
{{- range .Env }}
| ` + "`{{ .Name }}`" + ` | {{ .Description }} |
{{- end }}
`))

type envVar struct {
	Name        string
	Description string
}

type readmeData struct {
	Title        string
	API          string
	Version      string
	Description  string
	BaseURL      string
	Endpoints    []spec.CompactEndpoint
	Placeholders []string
	Env          []envVar
}

// renderFallbackReadme writes a README from the model when the readme stage
// failed or was filtered.
func renderFallbackReadme(cm *spec.CompactModel, out *pipeline.Output, toolName string) (string, error) {
	d := readmeData{
		Title:       humanTitle(toolName),
		API:         cm.Title,
		Version:     cm.Version,
		Description: cm.Description,
		BaseURL:     cm.BaseURL,
		Endpoints:   cm.Endpoints,
		Env:         authEnv(cm.AuthSchemes),
	}
	if d.API == "" {
		d.API = "the API"
	}
	for _, ep := range cm.Endpoints {
		if code, ok := out.Implementations[ep.OperationID]; !ok || pipeline.IsPlaceholder(code) {
			d.Placeholders = append(d.Placeholders, ep.OperationID)
		}
	}
	var b strings.Builder
	if err := readmeTemplate.Execute(&b, d); err != nil {
		return "", fmt.Errorf("render README.md: %w", err)
	}
	return strings.TrimSpace(b.String()), nil
}

// authEnv names one environment variable per auth scheme.
func authEnv(schemes []spec.AuthSchemeDescriptor) []envVar {
	var env []envVar
	seen := map[string]bool{}
	for _, s := range schemes {
		var v envVar
		switch s.Kind {
		case spec.AuthAPIKey:
			v = envVar{Name: "API_KEY", Description: fmt.Sprintf("API key sent in %s `%s`", s.In, s.ParamName)}
		case spec.AuthHTTP:
			if strings.EqualFold(s.Scheme, "basic") {
				v = envVar{Name: "API_BASIC_AUTH", Description: "Credentials as `user:password`"}
			} else {
				v = envVar{Name: "API_TOKEN", Description: "Bearer token"}
			}
		case spec.AuthOAuth2, spec.AuthOpenIDConnect:
			v = envVar{Name: "API_ACCESS_TOKEN", Description: "OAuth access token"}
		default:
			continue
		}
		if seen[v.Name] {
			continue
		}
		seen[v.Name] = true
		env = append(env, v)
	}
	return env
}
