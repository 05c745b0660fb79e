package emitter

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"

	orderedmap "github.com/wk8/go-ordered-map/v2"

	"github.com/mark3labs/specforge/internal/pipeline"
	"github.com/mark3labs/specforge/internal/spec"
)

func minimalModel() *spec.CompactModel {
	return &spec.CompactModel{
		Title:   "Sample API",
		Version: "1.0.0",
		BaseURL: "https://api.example.com",
		Endpoints: []spec.CompactEndpoint{
			{
				OperationID: "sayHello",
				Method:      "GET",
				Path:        "/hello",
				Summary:     "Say hello",
				Parameters:  []spec.CompactParameter{{Name: "name", In: "query", Type: "string"}},
			},
			{
				OperationID: "createGreeting",
				Method:      "POST",
				Path:        "/hello",
				RequestBody: &spec.CompactBody{ContentType: "application/json", Required: true, Schema: &spec.CompactSchema{Type: "object"}},
			},
		},
		AuthSchemes: []spec.AuthSchemeDescriptor{{Name: "bearer", Kind: spec.AuthHTTP, Scheme: "bearer"}},
		Schemas:     orderedmap.New[string, *spec.CompactSchema](),
	}
}

func minimalOutput(lang string) *pipeline.Output {
	return &pipeline.Output{
		Language:        lang,
		Types:           "export type Hello = { message: string };",
		ToolDefinitions: "export const tools = [];",
		MainServer:      "console.log('hi');",
		Readme:          "# Sample\n\nGenerated readme.",
		Implementations: map[string]string{
			"sayHello":       "export async function sayHello() {}",
			"createGreeting": pipeline.Placeholder("createGreeting", errors.New("provider returned 503")),
		},
		Report: &pipeline.Report{Strategy: pipeline.StrategyStaged, Language: lang},
	}
}

func plannedSet(res *Result) map[string]bool {
	have := make(map[string]bool, len(res.Planned))
	for _, pf := range res.Planned {
		have[pf.RelPath] = true
	}
	return have
}

func TestEmit_DryRun_Plan(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()

	res, err := Emit(context.Background(), minimalModel(), minimalOutput("typescript"), Options{
		OutDir:   dir,
		ToolName: "mytool",
		DryRun:   true,
	})
	if err != nil {
		t.Fatalf("emit: %v", err)
	}
	if res.ToolName != "mytool" || res.PackageName != "mytool" || res.Language != "typescript" {
		t.Fatalf("names mismatch: %+v", res)
	}
	want := []string{
		"package.json",
		"tsconfig.json",
		".gitignore",
		"README.md",
		"api-model.json",
		"generation-report.json",
		"src/types.ts",
		"src/tools.ts",
		"src/index.ts",
		"src/handlers/say-hello.ts",
		"src/handlers/create-greeting.ts",
	}
	have := plannedSet(res)
	for _, p := range want {
		if !have[p] {
			t.Fatalf("planned missing %s", p)
		}
	}
	for i := 1; i < len(res.Planned); i++ {
		if res.Planned[i-1].RelPath >= res.Planned[i].RelPath {
			t.Fatalf("plan not sorted at %d: %s >= %s", i, res.Planned[i-1].RelPath, res.Planned[i].RelPath)
		}
	}
	if entries, _ := os.ReadDir(dir); len(entries) != 0 {
		t.Fatalf("expected no files written on dry-run")
	}
}

func TestEmit_WriteAndContents(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()

	_, err := Emit(context.Background(), minimalModel(), minimalOutput("typescript"), Options{
		OutDir:   dir,
		ToolName: "mytool",
		Version:  "2.0.0",
		Force:    true,
	})
	if err != nil {
		t.Fatalf("emit: %v", err)
	}

	b, err := os.ReadFile(filepath.Join(dir, "package.json"))
	if err != nil {
		t.Fatalf("read package.json: %v", err)
	}
	var manifest map[string]any
	if err := json.Unmarshal(b, &manifest); err != nil {
		t.Fatalf("package.json: %v", err)
	}
	if manifest["name"] != "mytool" || manifest["version"] != "2.0.0" {
		t.Fatalf("unexpected manifest: %v", manifest)
	}

	h, err := os.ReadFile(filepath.Join(dir, "src", "handlers", "create-greeting.ts"))
	if err != nil {
		t.Fatalf("read handler: %v", err)
	}
	if !strings.HasPrefix(string(h), "export {};") || !strings.Contains(string(h), pipeline.PlaceholderMarker) {
		t.Fatalf("placeholder handler not wrapped:\n%s", h)
	}

	readme, _ := os.ReadFile(filepath.Join(dir, "README.md"))
	if !strings.Contains(string(readme), "Generated readme.") {
		t.Fatalf("generated README not used:\n%s", readme)
	}

	model, _ := os.ReadFile(filepath.Join(dir, "api-model.json"))
	if !strings.Contains(string(model), `"operationId": "sayHello"`) {
		t.Fatalf("api-model.json missing endpoint:\n%s", model)
	}
}

func TestEmit_NonEmptyDirRequiresForce(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "keep.txt"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	_, err := Emit(context.Background(), minimalModel(), minimalOutput("typescript"), Options{OutDir: dir})
	if err == nil || !strings.Contains(err.Error(), "not empty") {
		t.Fatalf("expected not-empty error, got %v", err)
	}
}

func TestEmit_RequiresOutDir(t *testing.T) {
	t.Parallel()
	if _, err := Emit(context.Background(), minimalModel(), minimalOutput("typescript"), Options{}); err == nil {
		t.Fatalf("expected error without OutDir")
	}
}

func TestBuild_FallbackReadmeAndTools(t *testing.T) {
	t.Parallel()
	out := minimalOutput("typescript")
	out.Readme = ""
	out.ToolDefinitions = ""

	res, err := Build(minimalModel(), out, Options{})
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if res.ToolName != "sample-api" {
		t.Fatalf("derived tool name = %q", res.ToolName)
	}

	readme := string(res.Files["README.md"])
	for _, want := range []string{"MCP server for Sample API (version 1.0.0)", "`sayHello`", "Say hello", "Create greeting", "`createGreeting`", "API_TOKEN", "https://api.example.com"} {
		if !strings.Contains(readme, want) {
			t.Fatalf("fallback README missing %q:\n%s", want, readme)
		}
	}

	if _, ok := res.Files["src/tools.ts"]; ok {
		t.Fatalf("tools.ts should not be written without tool definitions")
	}
	var tools []struct {
		Name        string         `json:"name"`
		Description string         `json:"description"`
		InputSchema map[string]any `json:"inputSchema"`
	}
	if err := json.Unmarshal(res.Files["src/tools.json"], &tools); err != nil {
		t.Fatalf("tools.json: %v", err)
	}
	if len(tools) != 2 || tools[0].Name != "sayHello" || tools[1].Description != "Create greeting" {
		t.Fatalf("unexpected tools: %+v", tools)
	}
	req, _ := tools[1].InputSchema["required"].([]any)
	if len(req) != 1 || req[0] != "body" {
		t.Fatalf("body should be required: %v", tools[1].InputSchema)
	}
}

func TestBuild_GoLayout(t *testing.T) {
	t.Parallel()
	out := minimalOutput("go")
	out.Types = "type Hello struct{ Message string }"
	out.MainServer = "package main\n\nfunc main() {}"
	out.Implementations["sayHello"] = "package handlers\n\nfunc SayHello() {}"

	res, err := Build(minimalModel(), out, Options{ToolName: "mytool", PackageName: "example.com/mytool"})
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if got := string(res.Files["go.mod"]); !strings.HasPrefix(got, "module example.com/mytool\n") {
		t.Fatalf("go.mod = %q", got)
	}
	if got := string(res.Files["internal/types/types.go"]); !strings.HasPrefix(got, "package types\n") {
		t.Fatalf("types.go missing package clause:\n%s", got)
	}
	if got := string(res.Files["cmd/mytool/main.go"]); strings.Count(got, "package main") != 1 {
		t.Fatalf("main.go package clause duplicated:\n%s", got)
	}
	if _, ok := res.Files["internal/handlers/create_greeting.go"]; !ok {
		t.Fatalf("missing placeholder handler file")
	}
	if res.Planned[0].RelPath != ".gitignore" {
		t.Fatalf("unexpected first planned file %s", res.Planned[0].RelPath)
	}
	for _, pf := range res.Planned {
		if pf.RelPath == "Makefile" && pf.Mode != 0o755 {
			t.Fatalf("Makefile mode = %v", pf.Mode)
		}
	}

	reg := string(res.Files["internal/handlers/endpoints.go"])
	for _, want := range []string{
		"// Code generated by specforge. DO NOT EDIT.",
		"package handlers",
		`"sayHello"`,
		`"SayHello"`,
		`const BaseURL = "https://api.example.com"`,
		"func Lookup(operationID string) (Endpoint, bool)",
	} {
		if !strings.Contains(reg, want) {
			t.Fatalf("endpoints.go missing %q:\n%s", want, reg)
		}
	}
	if !regexp.MustCompile(`Generated:\s+false`).MatchString(reg) || !regexp.MustCompile(`Generated:\s+true`).MatchString(reg) {
		t.Fatalf("endpoints.go should flag the placeholder:\n%s", reg)
	}
}

func TestBuild_UnsupportedLanguage(t *testing.T) {
	t.Parallel()
	if _, err := Build(minimalModel(), minimalOutput("cobol"), Options{}); err == nil {
		t.Fatalf("expected unsupported language error")
	}
}

func TestWriteZip_Deterministic(t *testing.T) {
	t.Parallel()
	res, err := Build(minimalModel(), minimalOutput("typescript"), Options{ToolName: "mytool"})
	if err != nil {
		t.Fatalf("build: %v", err)
	}

	var a, b bytes.Buffer
	if err := WriteZip(&a, res); err != nil {
		t.Fatalf("zip: %v", err)
	}
	if err := WriteZip(&b, res); err != nil {
		t.Fatalf("zip: %v", err)
	}
	if !bytes.Equal(a.Bytes(), b.Bytes()) {
		t.Fatalf("archives differ between runs")
	}

	zr, err := zip.NewReader(bytes.NewReader(a.Bytes()), int64(a.Len()))
	if err != nil {
		t.Fatalf("open zip: %v", err)
	}
	if len(zr.File) != len(res.Files) {
		t.Fatalf("zip has %d entries, want %d", len(zr.File), len(res.Files))
	}
	for _, f := range zr.File {
		if !strings.HasPrefix(f.Name, "mytool/") {
			t.Fatalf("entry %s not under tool directory", f.Name)
		}
	}
}

func TestNames(t *testing.T) {
	t.Parallel()
	cases := []struct{ in, want string }{
		{"Pet Store API", "pet-store-api"},
		{"  ", ""},
		{"My/Service v2", "my-service-v2"},
	}
	for _, c := range cases {
		if got := deriveToolName(c.in); got != c.want {
			t.Errorf("deriveToolName(%q) = %q, want %q", c.in, got, c.want)
		}
	}
	if got := tsHandlerFile("getPetById"); got != "get-pet-by-id.ts" {
		t.Errorf("tsHandlerFile = %q", got)
	}
	if got := goHandlerFile("getPetById"); got != "get_pet_by_id.go" {
		t.Errorf("goHandlerFile = %q", got)
	}
}
