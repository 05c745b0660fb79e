package pipeline

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"text/template"

	orderedmap "github.com/wk8/go-ordered-map/v2"

	"github.com/mark3labs/specforge/internal/spec"
)

// Language describes one output language of the generated package.
type Language struct {
	ID    string
	Name  string
	Fence string
	// Tags are the fence info strings accepted when extracting code.
	Tags []string
}

var languages = map[string]Language{
	"typescript": {ID: "typescript", Name: "TypeScript", Fence: "typescript", Tags: []string{"typescript", "ts"}},
	"go":         {ID: "go", Name: "Go", Fence: "go", Tags: []string{"go", "golang"}},
}

// LookupLanguage resolves a language id such as "typescript" or "go".
func LookupLanguage(id string) (Language, bool) {
	l, ok := languages[strings.ToLower(strings.TrimSpace(id))]
	return l, ok
}

// operationShape is the slice of an endpoint the types stage needs.
type operationShape struct {
	OperationID string                 `json:"operationId"`
	RequestBody *spec.CompactBody      `json:"requestBody,omitempty"`
	Responses   []spec.CompactResponse `json:"responses,omitempty"`
}

// endpointRef is the slice of an endpoint the main and readme stages need.
type endpointRef struct {
	OperationID string `json:"operationId"`
	Method      string `json:"method"`
	Path        string `json:"path"`
	Summary     string `json:"summary,omitempty"`
}

type promptData struct {
	Lang        Language
	Title       string
	Version     string
	Description string
	BaseURL     string
	Schemas     *orderedmap.OrderedMap[string, *spec.CompactSchema]
	Operations  []operationShape
	Endpoints   []spec.CompactEndpoint
	Endpoint    spec.CompactEndpoint
	Refs        []endpointRef
	Auth        []spec.AuthSchemeDescriptor
	Model       *spec.CompactModel
}

var funcs = template.FuncMap{
	"json": func(v any) (string, error) {
		b, err := json.MarshalIndent(v, "", "  ")
		return string(b), err
	},
}

const preamble = `You are generating part of a {{.Lang.Name}} Model Context Protocol (MCP) server that exposes the HTTP API "{{.Title}}" (version {{.Version}}, base URL {{.BaseURL}}) as MCP tools.
`

var prompts = template.Must(template.New("prompts").Funcs(funcs).Parse(`
{{define "types"}}` + preamble + `
Write the {{.Lang.Name}} type definitions for every schema below and for every request body and response shape listed under operations. Keep property names exactly as given, mark optional properties as optional, keep enums as literal unions or constants, and add a short doc comment from each description.

Schemas:
{{json .Schemas}}

Operations:
{{json .Operations}}

Answer with a single ` + "```" + `{{.Lang.Fence}} code block and nothing else.
{{end}}

{{define "tools"}}` + preamble + `
Write the MCP tool definitions. Each operation below becomes one tool named after its operationId, with the summary as description and a JSON Schema for its input built from the path, query and header parameters plus the request body.

Operations:
{{json .Endpoints}}

Answer with a single ` + "```" + `{{.Lang.Fence}} code block that exports the list of tool definitions.
{{end}}

{{define "endpoint"}}` + preamble + `
Implement the handler for exactly one tool. It must validate its input, build the HTTP request to {{.Endpoint.Method}} {{.Endpoint.Path}} against the base URL, apply authentication, and return the parsed response or a descriptive error.
{{if .Auth}}
Authentication schemes:
{{json .Auth}}
{{end}}
Operation:
{{json .Endpoint}}

Answer with a single ` + "```" + `{{.Lang.Fence}} code block containing only this handler and the imports it needs.
{{end}}

{{define "main"}}` + preamble + `
Write the main entry point. It reads the base URL and credentials from environment variables, registers one tool per operation below (definitions and handlers are generated separately and named after the operationId), and serves MCP over stdio.
{{if .Auth}}
Authentication schemes:
{{json .Auth}}
{{end}}
Operations:
{{json .Refs}}

Answer with a single ` + "```" + `{{.Lang.Fence}} code block.
{{end}}

{{define "readme"}}` + preamble + `
Write the README.md for the generated server: what it does, how to install and run it, the environment variables it needs, and a table of the available tools.
{{with .Description}}
API description: {{.}}
{{end}}{{if .Auth}}
Authentication schemes:
{{json .Auth}}
{{end}}
Tools:
{{json .Refs}}

Answer in Markdown.
{{end}}

{{define "monolithic"}}` + preamble + `
Generate the whole server in one answer. Emit every file as its own section introduced by a line "### FILE: <name>" followed by one ` + "```" + `{{.Lang.Fence}} code block (the README uses a markdown block). Use exactly these section names:
### FILE: types
### FILE: tools
{{- range .Model.Endpoints}}
### FILE: endpoints/{{.OperationID}}
{{- end}}
### FILE: main
### FILE: README

API model:
{{json .Model}}
{{end}}
`))

func render(name string, data promptData) (string, error) {
	var buf bytes.Buffer
	if err := prompts.ExecuteTemplate(&buf, name, data); err != nil {
		return "", fmt.Errorf("render %s prompt: %w", name, err)
	}
	return strings.TrimSpace(buf.String()), nil
}

func baseData(lang Language, cm *spec.CompactModel) promptData {
	d := promptData{
		Lang:        lang,
		Title:       cm.Title,
		Version:     cm.Version,
		Description: cm.Description,
		BaseURL:     cm.BaseURL,
		Auth:        cm.AuthSchemes,
	}
	for _, ep := range cm.Endpoints {
		d.Refs = append(d.Refs, endpointRef{OperationID: ep.OperationID, Method: ep.Method, Path: ep.Path, Summary: ep.Summary})
	}
	return d
}

func typesPrompt(lang Language, cm *spec.CompactModel) (string, error) {
	d := baseData(lang, cm)
	d.Schemas = cm.Schemas
	for _, ep := range cm.Endpoints {
		if ep.RequestBody == nil && len(ep.Responses) == 0 {
			continue
		}
		d.Operations = append(d.Operations, operationShape{OperationID: ep.OperationID, RequestBody: ep.RequestBody, Responses: ep.Responses})
	}
	return render("types", d)
}

func toolsPrompt(lang Language, cm *spec.CompactModel) (string, error) {
	d := baseData(lang, cm)
	d.Endpoints = make([]spec.CompactEndpoint, 0, len(cm.Endpoints))
	for _, ep := range cm.Endpoints {
		ep.Responses = nil
		d.Endpoints = append(d.Endpoints, ep)
	}
	return render("tools", d)
}

func endpointPrompt(lang Language, cm *spec.CompactModel, ep spec.CompactEndpoint) (string, error) {
	d := baseData(lang, cm)
	d.Endpoint = ep
	d.Auth = authFor(cm.AuthSchemes, ep.Auth)
	return render("endpoint", d)
}

func mainPrompt(lang Language, cm *spec.CompactModel) (string, error) {
	return render("main", baseData(lang, cm))
}

func readmePrompt(lang Language, cm *spec.CompactModel) (string, error) {
	return render("readme", baseData(lang, cm))
}

func monolithicPrompt(lang Language, cm *spec.CompactModel) (string, error) {
	d := baseData(lang, cm)
	d.Model = cm
	return render("monolithic", d)
}

// authFor keeps only the schemes an endpoint references.
func authFor(all []spec.AuthSchemeDescriptor, names []string) []spec.AuthSchemeDescriptor {
	var out []spec.AuthSchemeDescriptor
	for _, a := range all {
		for _, n := range names {
			if a.Name == n {
				out = append(out, a)
				break
			}
		}
	}
	return out
}
