package cli

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"

	"github.com/mark3labs/specforge/internal/emitter"
	"github.com/mark3labs/specforge/internal/generation"
	"github.com/mark3labs/specforge/internal/logging"
	"github.com/mark3labs/specforge/internal/pipeline"
	"github.com/mark3labs/specforge/internal/spec"
)

// GenerateConfig captures all inputs that influence the generate command after
// merging defaults, config file values, and CLI overrides.
type GenerateConfig struct {
	Input       string
	Lang        string
	Out         string
	Zip         bool
	Strategy    string
	Model       string
	IncludeTags []string
	ExcludeTags []string
	ToolName    string
	PackageName string
	ConfigPath  string
	Validate    bool
	DryRun      bool
	Force       bool
	Verbose     bool
}

func defaultGenerateConfig() GenerateConfig {
	return GenerateConfig{Lang: pipeline.DefaultLanguage, Strategy: string(pipeline.StrategyAuto)}
}

var generateRunner = runGenerate

// newGenerator builds the generation client for one run.
var newGenerator = func(ctx context.Context, cfg *GenerateConfig, log logging.Logger) (pipeline.Generator, error) {
	gcfg, err := generation.ConfigFromEnv()
	if err != nil {
		return nil, err
	}
	if cfg.Model != "" {
		gcfg.Model = cfg.Model
	}
	client, err := generation.New(ctx, gcfg, generation.WithLogger(log))
	if err != nil {
		return nil, err
	}
	return client, nil
}

func newGenerateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Generate an MCP server package from an OpenAPI document",
		Long: "Generate an MCP server package from an OpenAPI 3.x document. " +
			"Options can be provided via flags, config files, or defaults. " +
			"The generation client reads " + generation.EnvAPIKey + " and optional " +
			generation.EnvModel + ", " + generation.EnvTemperature + " and " + generation.EnvMaxOutputTokens + " from the environment.",
		Example: strings.TrimSpace(`  specforge generate --input openapi.yaml --out ./petstore-mcp
  specforge generate --input https://example.com/openapi.json --lang go --strategy staged --zip
  specforge --config specforge.yaml generate --force --dry-run`),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := resolveGenerateConfig(cmd)
			if err != nil {
				return err
			}
			return generateRunner(cmd.Context(), cfg)
		},
	}

	flags := cmd.Flags()
	flags.String("input", "", "Path or URL to the OpenAPI document")
	flags.String("lang", "", "Target language (typescript|go); defaults to typescript")
	flags.String("out", "", "Output directory, or archive path with --zip (derived from the API title when omitted)")
	flags.Bool("zip", false, "Write a ZIP archive instead of a directory")
	flags.String("strategy", "", "Generation strategy (auto|staged|monolithic); defaults to auto")
	flags.String("model", "", "Model name; overrides "+generation.EnvModel)
	flags.StringSlice("include-tags", nil, "Only include operations with these tags")
	flags.StringSlice("exclude-tags", nil, "Exclude operations with these tags")
	flags.String("tool-name", "", "Override the generated MCP tool name")
	flags.String("package-name", "", "Override the generated package/module name")
	flags.Bool("validate", false, "Run structural validation and log findings as warnings")
	flags.Bool("dry-run", false, "Preview the plan and planned outputs without calling the model or writing files")
	flags.Bool("force", false, "Overwrite existing output when set")

	return cmd
}

func resolveGenerateConfig(cmd *cobra.Command) (*GenerateConfig, error) {
	cfg := defaultGenerateConfig()

	configPath, err := cmd.Flags().GetString("config")
	if err != nil {
		return nil, err
	}
	configPath = strings.TrimSpace(configPath)
	if configPath != "" {
		cfg.ConfigPath = configPath
		if err := applyGenerateConfigFromFile(&cfg, configPath); err != nil {
			return nil, err
		}
	}

	if err := applyGenerateFlagOverrides(cmd.Flags(), &cfg); err != nil {
		return nil, err
	}

	cfg.normalize()
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func applyGenerateFlagOverrides(flags *pflag.FlagSet, cfg *GenerateConfig) error {
	stringFlags := map[string]*string{
		"input":        &cfg.Input,
		"lang":         &cfg.Lang,
		"out":          &cfg.Out,
		"strategy":     &cfg.Strategy,
		"model":        &cfg.Model,
		"tool-name":    &cfg.ToolName,
		"package-name": &cfg.PackageName,
	}
	for name, dst := range stringFlags {
		if !flags.Changed(name) {
			continue
		}
		value, err := flags.GetString(name)
		if err != nil {
			return err
		}
		*dst = value
	}

	boolFlags := map[string]*bool{
		"zip":      &cfg.Zip,
		"validate": &cfg.Validate,
		"dry-run":  &cfg.DryRun,
		"force":    &cfg.Force,
		"verbose":  &cfg.Verbose,
	}
	for name, dst := range boolFlags {
		if !flags.Changed(name) {
			continue
		}
		value, err := flags.GetBool(name)
		if err != nil {
			return err
		}
		*dst = value
	}

	if flags.Changed("include-tags") {
		value, err := flags.GetStringSlice("include-tags")
		if err != nil {
			return err
		}
		cfg.IncludeTags = sanitizeTags(value)
	}
	if flags.Changed("exclude-tags") {
		value, err := flags.GetStringSlice("exclude-tags")
		if err != nil {
			return err
		}
		cfg.ExcludeTags = sanitizeTags(value)
	}

	return nil
}

func (c *GenerateConfig) normalize() {
	c.Input = strings.TrimSpace(c.Input)
	c.Lang = strings.ToLower(strings.TrimSpace(c.Lang))
	c.Out = strings.TrimSpace(c.Out)
	c.Strategy = strings.ToLower(strings.TrimSpace(c.Strategy))
	c.Model = strings.TrimSpace(c.Model)
	c.ToolName = strings.TrimSpace(c.ToolName)
	c.PackageName = strings.TrimSpace(c.PackageName)
	c.IncludeTags = sanitizeTags(c.IncludeTags)
	c.ExcludeTags = sanitizeTags(c.ExcludeTags)
}

func (c *GenerateConfig) validate() error {
	if c.Input == "" {
		return newUsageError("generate: --input is required (set via flag or config file)")
	}

	switch c.Lang {
	case "":
		c.Lang = pipeline.DefaultLanguage
	case "ts":
		c.Lang = "typescript"
	case "typescript", "go":
	default:
		return newUsageError(fmt.Sprintf("generate: unsupported --lang %q (allowed: typescript, go)", c.Lang))
	}

	st, err := pipeline.ParseStrategy(c.Strategy)
	if err != nil {
		return newUsageError(fmt.Sprintf("generate: %v", err))
	}
	c.Strategy = string(st)

	overlap := intersect(c.IncludeTags, c.ExcludeTags)
	if len(overlap) > 0 {
		return newUsageError(fmt.Sprintf("generate: include/exclude tags overlap: %s", strings.Join(overlap, ", ")))
	}

	return nil
}

func runGenerate(ctx context.Context, cfg *GenerateConfig) error {
	log := logging.New(os.Stderr, cfg.Verbose)

	// 1) Load and resolve the document (file or http/https URL).
	m, err := spec.Load(ctx, cfg.Input,
		spec.WithIncludeTags(cfg.IncludeTags),
		spec.WithExcludeTags(cfg.ExcludeTags),
		spec.WithValidation(cfg.Validate),
		spec.WithLogger(log),
	)
	if err != nil {
		return specUsageError(err)
	}
	for _, w := range m.Warnings {
		log.Warn("document validation", "finding", w)
	}
	if len(m.Endpoints) == 0 {
		return newUsageError(fmt.Sprintf("generate: %s has no operations left after filtering", cfg.Input))
	}
	cm := spec.Normalize(m)

	// 2) Derive names and the destination.
	toolName := emitter.ResolveToolName(cfg.ToolName, cm.Title)
	dest := cfg.Out
	if dest == "" {
		dest = toolName
	}
	if cfg.Zip && !strings.HasSuffix(strings.ToLower(dest), ".zip") {
		dest += ".zip"
	}
	absDest := dest
	if ap, err := filepath.Abs(dest); err == nil {
		absDest = ap
	}

	popts := []pipeline.Option{
		pipeline.WithLanguage(cfg.Lang),
		pipeline.WithStrategy(pipeline.Strategy(cfg.Strategy)),
		pipeline.WithLogger(log),
	}
	emitOpts := emitter.Options{
		OutDir:      dest,
		ToolName:    toolName,
		PackageName: cfg.PackageName,
		Force:       cfg.Force,
		DryRun:      cfg.DryRun,
	}

	// 3) Dry-run: plan without calling the model.
	if cfg.DryRun {
		plan, err := pipeline.Plan(cm, popts...)
		if err != nil {
			return newUsageError(fmt.Sprintf("generate: %v", err))
		}
		res, err := emitter.Build(cm, plannedOutput(cm, plan), emitOpts)
		if err != nil {
			return err
		}
		printPlan(absDest, plan, res, cfg.Zip)
		return nil
	}

	// 4) Generate.
	gen, err := newGenerator(ctx, cfg, log)
	if err != nil {
		return err
	}
	orch, err := pipeline.New(gen, popts...)
	if err != nil {
		return newUsageError(fmt.Sprintf("generate: %v", err))
	}
	out, err := orch.Run(ctx, cm)
	if err != nil {
		return err
	}

	// 5) Assemble.
	var res *emitter.Result
	if cfg.Zip {
		res, err = emitter.Build(cm, out, emitOpts)
		if err == nil {
			err = writeArchive(dest, res, cfg.Force)
		}
	} else {
		res, err = emitter.Emit(ctx, cm, out, emitOpts)
	}
	if err != nil {
		return wrapOutputError(err, absDest)
	}
	printSummary(absDest, res, out.Report)
	return nil
}

// plannedOutput stands in for generated text during a dry run.
func plannedOutput(cm *spec.CompactModel, plan pipeline.RunPlan) *pipeline.Output {
	return &pipeline.Output{
		Language:        plan.Language,
		Implementations: make(map[string]string, len(cm.Endpoints)),
		Report:          &pipeline.Report{Strategy: plan.Strategy, Language: plan.Language},
	}
}

func writeArchive(path string, res *emitter.Result, force bool) error {
	if _, err := os.Stat(path); err == nil && !force {
		return fmt.Errorf("output archive %q already exists (use --force to overwrite)", path)
	}
	var buf bytes.Buffer
	if err := emitter.WriteZip(&buf, res); err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("mkdir %s: %w", filepath.Dir(path), err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("write archive: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("rename archive into place: %w", err)
	}
	return nil
}

func printPlan(dest string, plan pipeline.RunPlan, res *emitter.Result, zip bool) {
	fmt.Fprintf(os.Stdout, "Strategy: %s (%d generation call(s), monolithic prompt %d bytes)\n", plan.Strategy, plan.Calls, plan.PromptBytes)
	if zip {
		fmt.Fprintf(os.Stdout, "Planned archive %s (%d files):\n", dest, len(res.Planned))
	} else {
		fmt.Fprintf(os.Stdout, "Planned writes to %s (%d files):\n", dest, len(res.Planned))
	}
	for _, p := range res.Planned {
		fmt.Fprintf(os.Stdout, "- %s\n", p.RelPath)
	}
}

func printSummary(dest string, res *emitter.Result, rep *pipeline.Report) {
	fmt.Fprintf(os.Stdout, "Generated %s (%s, %s strategy, model %s) at %s\n", res.ToolName, res.Language, rep.Strategy, rep.Model, dest)
	fmt.Fprintf(os.Stdout, "Endpoints: %s\n", rep.EndpointSummary())
	fmt.Fprintf(os.Stdout, "Tokens: %d prompt, %d response, %d total\n", rep.Usage.PromptTokens, rep.Usage.ResponseTokens, rep.Usage.TotalTokens)
	if failed := rep.Failed(); len(failed) > 0 {
		fmt.Fprintln(os.Stdout, "Not generated:")
		for _, it := range failed {
			label := string(it.Stage)
			if it.Item != "" {
				label += " " + it.Item
			}
			fmt.Fprintf(os.Stdout, "- %s: %s\n", label, it.Error)
		}
	}
}

func wrapOutputError(err error, outDir string) error {
	// Provide clearer guidance for common FS failures.
	msg := err.Error()
	lower := strings.ToLower(msg)
	if strings.Contains(lower, "permission") || strings.Contains(lower, "read-only") || strings.Contains(lower, "mkdir") ||
		strings.Contains(lower, "rename") || strings.Contains(lower, "output directory") || strings.Contains(lower, "already exists") {
		return newUsageError(fmt.Sprintf("output error for %s: %s\nHint: choose a different --out or use --force when appropriate.", outDir, msg))
	}
	return err
}

func sanitizeTags(tags []string) []string {
	if len(tags) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(tags))
	result := make([]string, 0, len(tags))
	for _, tag := range tags {
		trimmed := strings.TrimSpace(tag)
		if trimmed == "" {
			continue
		}
		if _, exists := seen[trimmed]; exists {
			continue
		}
		seen[trimmed] = struct{}{}
		result = append(result, trimmed)
	}
	if len(result) == 0 {
		return nil
	}
	return result
}

func intersect(a, b []string) []string {
	if len(a) == 0 || len(b) == 0 {
		return nil
	}
	set := make(map[string]struct{}, len(a))
	for _, item := range a {
		set[item] = struct{}{}
	}
	var result []string
	for _, item := range b {
		if _, ok := set[item]; ok {
			result = append(result, item)
		}
	}
	return result
}

func applyGenerateConfigFromFile(cfg *GenerateConfig, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return newUsageError(fmt.Sprintf("read config file %q: %v", path, err))
	}

	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return newUsageError(fmt.Sprintf("parse config file %q: %v", path, err))
	}

	stringFields := map[string]*string{
		"input":       &cfg.Input,
		"lang":        &cfg.Lang,
		"out":         &cfg.Out,
		"strategy":    &cfg.Strategy,
		"model":       &cfg.Model,
		"toolname":    &cfg.ToolName,
		"packagename": &cfg.PackageName,
	}
	boolFields := map[string]*bool{
		"zip":      &cfg.Zip,
		"validate": &cfg.Validate,
		"dryrun":   &cfg.DryRun,
		"force":    &cfg.Force,
		"verbose":  &cfg.Verbose,
	}

	for key, value := range raw {
		normalized := normalizeKey(key)
		if dst, ok := stringFields[normalized]; ok {
			str, err := valueAsString(value)
			if err != nil {
				return newUsageError(fmt.Sprintf("config field %q: %v", key, err))
			}
			*dst = str
			continue
		}
		if dst, ok := boolFields[normalized]; ok {
			val, err := valueAsBool(value)
			if err != nil {
				return newUsageError(fmt.Sprintf("config field %q: %v", key, err))
			}
			*dst = val
			continue
		}
		switch normalized {
		case "includetags":
			list, err := valueAsStringSlice(value)
			if err != nil {
				return newUsageError(fmt.Sprintf("config field %q: %v", key, err))
			}
			cfg.IncludeTags = sanitizeTags(list)
		case "excludetags":
			list, err := valueAsStringSlice(value)
			if err != nil {
				return newUsageError(fmt.Sprintf("config field %q: %v", key, err))
			}
			cfg.ExcludeTags = sanitizeTags(list)
		default:
			return newUsageError(fmt.Sprintf("config file %q: unknown field %q", path, key))
		}
	}

	return nil
}

func normalizeKey(raw string) string {
	lowered := strings.ToLower(strings.TrimSpace(raw))
	lowered = strings.ReplaceAll(lowered, "-", "")
	lowered = strings.ReplaceAll(lowered, "_", "")
	return lowered
}

func valueAsString(v any) (string, error) {
	switch val := v.(type) {
	case string:
		return strings.TrimSpace(val), nil
	case nil:
		return "", nil
	default:
		return "", fmt.Errorf("expected string, got %T", v)
	}
}

func valueAsStringSlice(v any) ([]string, error) {
	switch val := v.(type) {
	case nil:
		return nil, nil
	case string:
		if strings.TrimSpace(val) == "" {
			return nil, nil
		}
		return splitAndTrim(val), nil
	case []any:
		items := make([]string, 0, len(val))
		for idx, elem := range val {
			str, err := valueAsString(elem)
			if err != nil {
				return nil, fmt.Errorf("element %d: %w", idx, err)
			}
			if str != "" {
				items = append(items, str)
			}
		}
		return items, nil
	default:
		return nil, fmt.Errorf("expected string or list, got %T", v)
	}
}

func valueAsBool(v any) (bool, error) {
	switch val := v.(type) {
	case bool:
		return val, nil
	case string:
		trimmed := strings.ToLower(strings.TrimSpace(val))
		switch trimmed {
		case "true", "t", "1", "yes", "y":
			return true, nil
		case "false", "f", "0", "no", "n":
			return false, nil
		case "":
			return false, nil
		default:
			return false, fmt.Errorf("invalid boolean value %q", val)
		}
	case nil:
		return false, nil
	default:
		return false, fmt.Errorf("expected boolean, got %T", v)
	}
}

func splitAndTrim(csv string) []string {
	parts := strings.Split(csv, ",")
	cleaned := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			cleaned = append(cleaned, trimmed)
		}
	}
	return cleaned
}
