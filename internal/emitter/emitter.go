// Package emitter assembles generated text into a package file tree: it lays
// out files per target language, adds the manifest, the README (generated or
// fallback) and a JSON dump of the API model, then writes the tree to disk or
// into a ZIP archive.
package emitter

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path"
	"sort"
	"strings"

	"github.com/mark3labs/specforge/internal/pipeline"
	"github.com/mark3labs/specforge/internal/spec"
)

// Options controls how a package is laid out and written.
type Options struct {
	OutDir      string // target directory; required by Emit
	ToolName    string // binary/tool name; derived from the API title when empty
	PackageName string // npm package or Go module name; defaults to ToolName
	Version     string // package version; defaults to 0.1.0
	Force       bool   // overwrite a non-empty OutDir
	DryRun      bool   // plan only, write nothing
}

// PlannedFile describes a file the emitter intends to write.
type PlannedFile struct {
	RelPath string      `json:"path"`
	Size    int         `json:"size"`
	Mode    os.FileMode `json:"mode"`
}

// Result holds the resolved names, the plan and the file contents.
type Result struct {
	ToolName    string
	PackageName string
	Language    string
	Planned     []PlannedFile
	// Files maps slash-separated relative paths to contents.
	Files map[string][]byte
}

// Build lays out the package for out.Language without touching the disk.
func Build(cm *spec.CompactModel, out *pipeline.Output, opts Options) (*Result, error) {
	if cm == nil {
		return nil, fmt.Errorf("emitter: nil model")
	}
	if out == nil {
		return nil, fmt.Errorf("emitter: nil generation output")
	}

	toolName := ResolveToolName(opts.ToolName, cm.Title)
	version := strings.TrimSpace(opts.Version)
	if version == "" {
		version = "0.1.0"
	}

	var (
		files   map[string][]byte
		pkgName string
		err     error
	)
	switch out.Language {
	case "typescript", "":
		pkgName = sanitizePackageName(opts.PackageName)
		if pkgName == "" {
			pkgName = toolName
		}
		files, err = typescriptLayout(layoutData{cm: cm, out: out, tool: toolName, pkg: pkgName, version: version})
	case "go":
		pkgName = strings.TrimSpace(opts.PackageName)
		if pkgName == "" {
			pkgName = toolName
		}
		files, err = goLayout(layoutData{cm: cm, out: out, tool: toolName, pkg: pkgName, version: version})
	default:
		return nil, fmt.Errorf("emitter: unsupported language %q", out.Language)
	}
	if err != nil {
		return nil, err
	}

	if err := addCommonFiles(files, cm, out, toolName); err != nil {
		return nil, err
	}

	lang := out.Language
	if lang == "" {
		lang = "typescript"
	}
	return &Result{ToolName: toolName, PackageName: pkgName, Language: lang, Planned: plan(files), Files: files}, nil
}

// Emit builds the package and writes it to opts.OutDir unless DryRun is set.
func Emit(ctx context.Context, cm *spec.CompactModel, out *pipeline.Output, opts Options) (*Result, error) {
	if strings.TrimSpace(opts.OutDir) == "" {
		return nil, fmt.Errorf("emitter: OutDir is required")
	}
	res, err := Build(cm, out, opts)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if opts.DryRun {
		return res, nil
	}
	if err := writeFiles(opts.OutDir, res.Files, opts.Force); err != nil {
		return nil, err
	}
	return res, nil
}

type layoutData struct {
	cm      *spec.CompactModel
	out     *pipeline.Output
	tool    string
	pkg     string
	version string
}

// addCommonFiles adds what every layout carries: README, model dump, report.
func addCommonFiles(files map[string][]byte, cm *spec.CompactModel, out *pipeline.Output, toolName string) error {
	readme := strings.TrimSpace(out.Readme)
	if readme == "" {
		r, err := renderFallbackReadme(cm, out, toolName)
		if err != nil {
			return err
		}
		readme = r
	}
	files["README.md"] = []byte(readme + "\n")

	modelJSON, err := json.MarshalIndent(cm, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal api-model.json: %w", err)
	}
	files["api-model.json"] = append(modelJSON, '\n')

	if out.Report != nil {
		rep, err := json.MarshalIndent(out.Report, "", "  ")
		if err != nil {
			return fmt.Errorf("marshal generation-report.json: %w", err)
		}
		files["generation-report.json"] = append(rep, '\n')
	}
	return nil
}

// plan lists files in deterministic order.
func plan(files map[string][]byte) []PlannedFile {
	rels := make([]string, 0, len(files))
	for p := range files {
		rels = append(rels, p)
	}
	sort.Strings(rels)
	planned := make([]PlannedFile, 0, len(rels))
	for _, rel := range rels {
		mode := os.FileMode(0o644)
		if isExecutable(rel) {
			mode = 0o755
		}
		planned = append(planned, PlannedFile{RelPath: rel, Size: len(files[rel]), Mode: mode})
	}
	return planned
}

// implementation returns the generated handler for operationID, wrapped so a
// placeholder still parses as a source file of the target language.
func implementation(out *pipeline.Output, operationID, header string) []byte {
	code, ok := out.Implementations[operationID]
	if !ok {
		code = pipeline.Placeholder(operationID, fmt.Errorf("no implementation was generated"))
	}
	if pipeline.IsPlaceholder(code) && header != "" {
		code = header + "\n\n" + code
	}
	return []byte(strings.TrimRight(code, "\n") + "\n")
}

func join(elem ...string) string { return path.Join(elem...) }
