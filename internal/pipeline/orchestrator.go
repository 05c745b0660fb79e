// Package pipeline sequences generation calls into a complete MCP server
// package: types, tool definitions, one implementation per endpoint, the main
// entry point and a README.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mark3labs/specforge/internal/generation"
	"github.com/mark3labs/specforge/internal/logging"
	"github.com/mark3labs/specforge/internal/spec"
)

// Generator is the part of generation.Client the orchestrator uses.
type Generator interface {
	Generate(ctx context.Context, prompt string, opts generation.GenerateOptions) (*generation.Result, error)
	ModelName() string
}

var _ Generator = (*generation.Client)(nil)

// Strategy selects how a run is split into generation calls.
type Strategy string

const (
	// StrategyAuto uses the monolithic strategy when its prompt fits under
	// the threshold and falls back to staged otherwise, or when the
	// monolithic answer cannot be used.
	StrategyAuto       Strategy = "auto"
	StrategyStaged     Strategy = "staged"
	StrategyMonolithic Strategy = "monolithic"
)

// ParseStrategy validates a strategy name; empty means auto.
func ParseStrategy(s string) (Strategy, error) {
	switch st := Strategy(strings.ToLower(strings.TrimSpace(s))); st {
	case "":
		return StrategyAuto, nil
	case StrategyAuto, StrategyStaged, StrategyMonolithic:
		return st, nil
	}
	return "", fmt.Errorf("unknown strategy %q (expected auto, staged or monolithic)", s)
}

const (
	DefaultLanguage            = "typescript"
	DefaultInterCallDelay      = time.Second
	DefaultMonolithicThreshold = 30000
)

// Settings configures an Orchestrator.
type Settings struct {
	Language            string
	Strategy            Strategy
	InterCallDelay      time.Duration
	MonolithicThreshold int
	Options             generation.GenerateOptions
	Logger              logging.Logger
}

type Option func(*Settings)

func WithLanguage(id string) Option { return func(s *Settings) { s.Language = id } }

func WithStrategy(st Strategy) Option { return func(s *Settings) { s.Strategy = st } }

// WithInterCallDelay sets the pause between consecutive generation calls.
func WithInterCallDelay(d time.Duration) Option {
	return func(s *Settings) { s.InterCallDelay = d }
}

// WithMonolithicThreshold sets the largest monolithic prompt, in bytes, that
// StrategyAuto will send.
func WithMonolithicThreshold(n int) Option {
	return func(s *Settings) { s.MonolithicThreshold = n }
}

func WithGenerateOptions(o generation.GenerateOptions) Option {
	return func(s *Settings) { s.Options = o }
}

func WithLogger(l logging.Logger) Option {
	return func(s *Settings) { s.Logger = logging.OrNop(l) }
}

// Orchestrator runs pipelines against one Generator. Runs are independent:
// all per-run state lives in the run itself.
type Orchestrator struct {
	gen      Generator
	settings Settings
	lang     Language
	log      logging.Logger
}

// New builds an orchestrator. It fails on an unknown language or strategy.
func New(gen Generator, opts ...Option) (*Orchestrator, error) {
	if gen == nil {
		return nil, errors.New("pipeline: generator is nil")
	}
	s, lang, err := resolveSettings(opts)
	if err != nil {
		return nil, err
	}
	return &Orchestrator{gen: gen, settings: s, lang: lang, log: s.Logger.With("component", "pipeline")}, nil
}

func resolveSettings(opts []Option) (Settings, Language, error) {
	s := Settings{
		Language:            DefaultLanguage,
		Strategy:            StrategyAuto,
		InterCallDelay:      DefaultInterCallDelay,
		MonolithicThreshold: DefaultMonolithicThreshold,
		Logger:              logging.NopLogger{},
	}
	for _, opt := range opts {
		opt(&s)
	}
	lang, ok := LookupLanguage(s.Language)
	if !ok {
		return s, lang, fmt.Errorf("unsupported language %q (expected typescript or go)", s.Language)
	}
	st, err := ParseStrategy(string(s.Strategy))
	if err != nil {
		return s, lang, err
	}
	s.Strategy = st
	return s, lang, nil
}

// RunPlan describes what Run would do without calling the generator.
type RunPlan struct {
	Language    string
	Strategy    Strategy
	Calls       int
	PromptBytes int
}

// Plan resolves the strategy Run would start with for cm. PromptBytes is the
// size of the monolithic prompt. An auto run that falls back to staged makes
// more calls than planned.
func Plan(cm *spec.CompactModel, opts ...Option) (RunPlan, error) {
	s, lang, err := resolveSettings(opts)
	if err != nil {
		return RunPlan{}, err
	}
	prompt, err := monolithicPrompt(lang, cm)
	if err != nil {
		return RunPlan{}, err
	}
	p := RunPlan{Language: lang.ID, Strategy: s.Strategy, PromptBytes: len(prompt)}
	if p.Strategy == StrategyAuto {
		p.Strategy = StrategyMonolithic
		if len(prompt) >= s.MonolithicThreshold {
			p.Strategy = StrategyStaged
		}
	}
	p.Calls = 1
	if p.Strategy == StrategyStaged {
		p.Calls = 4 + len(cm.Endpoints)
	}
	return p, nil
}

// Output is everything a run produced, ready for assembly.
type Output struct {
	Language        string
	Types           string
	ToolDefinitions string
	MainServer      string
	Readme          string
	// Implementations maps operation id to handler code or a placeholder.
	Implementations map[string]string
	Report          *Report
}

// Run executes the configured strategy.
func (o *Orchestrator) Run(ctx context.Context, cm *spec.CompactModel) (*Output, error) {
	switch o.settings.Strategy {
	case StrategyStaged:
		return o.RunStaged(ctx, cm)
	case StrategyMonolithic:
		return o.RunMonolithic(ctx, cm)
	}

	prompt, err := monolithicPrompt(o.lang, cm)
	if err != nil {
		return nil, err
	}
	if len(prompt) >= o.settings.MonolithicThreshold {
		o.log.Info("model too large for a single call, using staged strategy", "promptBytes", len(prompt), "threshold", o.settings.MonolithicThreshold)
		return o.RunStaged(ctx, cm)
	}
	out, err := o.runMonolithic(ctx, cm, prompt)
	if err == nil {
		return out, nil
	}
	var se *StageError
	if ctx.Err() != nil || !errors.As(err, &se) || Categorize(err) == CategoryCredentials {
		return nil, err
	}
	o.log.Warn("monolithic run unusable, falling back to staged strategy", "error", err)
	staged, serr := o.RunStaged(ctx, cm)
	if serr != nil {
		return nil, serr
	}
	staged.Report.Items = append(out.Report.Items, staged.Report.Items...)
	staged.Report.Usage.Add(&out.Report.Usage)
	return staged, nil
}

// run is the mutable state of one pipeline execution.
type run struct {
	o      *Orchestrator
	cm     *spec.CompactModel
	out    *Output
	calls  int
	report *Report
}

func (o *Orchestrator) newRun(cm *spec.CompactModel, st Strategy) *run {
	rep := &Report{Strategy: st, Language: o.lang.ID, Started: time.Now()}
	return &run{
		o:      o,
		cm:     cm,
		report: rep,
		out: &Output{
			Language:        o.lang.ID,
			Implementations: make(map[string]string, len(cm.Endpoints)),
			Report:          rep,
		},
	}
}

func (r *run) finish() *Output {
	r.report.Duration = time.Since(r.report.Started)
	return r.out
}

// call waits out the inter-call delay, then performs one generation call and
// records its tagged result. The returned error is the call's own failure.
func (r *run) call(ctx context.Context, stage Stage, item, prompt string) (*generation.Result, ItemResult, error) {
	if err := r.pace(ctx); err != nil {
		return nil, ItemResult{Stage: stage, Item: item, Status: StatusFailed, Error: err.Error()}, err
	}
	r.calls++
	log := r.o.log.With("stage", stage)
	if item != "" {
		log = log.With("item", item)
	}
	log.Debug("generation started", "promptBytes", len(prompt))

	res, err := r.o.gen.Generate(ctx, prompt, r.o.settings.Options)
	ir := ItemResult{Stage: stage, Item: item, Status: StatusSucceeded}
	if res != nil {
		ir.Model, ir.Attempts, ir.Duration = res.Model, res.Attempts, res.Duration
		ir.Filtered, ir.Usage = res.Filtered, res.Usage
	}
	if err != nil {
		ir.Status = StatusFailed
		ir.Error = err.Error()
		log.Warn("generation failed", "error", err)
	} else {
		log.Debug("generation finished", "attempts", ir.Attempts, "filtered", ir.Filtered)
	}
	return res, ir, err
}

func (r *run) pace(ctx context.Context) error {
	d := r.o.settings.InterCallDelay
	if r.calls == 0 || d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// required runs a stage whose failure aborts the run.
func (r *run) required(ctx context.Context, stage Stage, prompt string, err error) (string, error) {
	if err != nil {
		return "", &StageError{Stage: stage, Err: err}
	}
	res, ir, err := r.call(ctx, stage, "", prompt)
	if err == nil && res.Filtered && strings.TrimSpace(res.Text) == "" {
		err = fmt.Errorf("%w (%s)", ErrFilteredOutput, res.FilterReason)
		ir.Status, ir.Error = StatusFailed, err.Error()
	}
	r.report.add(ir)
	if err != nil {
		return "", &StageError{Stage: stage, Err: err}
	}
	return ExtractCode(res.Text, r.o.lang.Tags...), nil
}

// optional runs a stage whose failure is recorded but tolerated.
func (r *run) optional(ctx context.Context, stage Stage, prompt string, err error) (string, bool) {
	if err != nil {
		r.report.add(ItemResult{Stage: stage, Status: StatusFailed, Error: err.Error()})
		return "", false
	}
	res, ir, err := r.call(ctx, stage, "", prompt)
	if err == nil && strings.TrimSpace(res.Text) == "" {
		err = errors.New("empty output")
		if res.Filtered {
			err = fmt.Errorf("%w (%s)", ErrFilteredOutput, res.FilterReason)
		}
		ir.Status, ir.Error = StatusFailed, err.Error()
	}
	r.report.add(ir)
	if err != nil {
		return "", false
	}
	return res.Text, true
}

// RunStaged generates types, tool definitions, every endpoint, the main
// server and the README in that order. Endpoint failures become placeholders;
// types and main server failures abort the run with a *StageError.
func (o *Orchestrator) RunStaged(ctx context.Context, cm *spec.CompactModel) (*Output, error) {
	r := o.newRun(cm, StrategyStaged)
	o.log.Info("staged run started", "endpoints", len(cm.Endpoints), "language", o.lang.ID, "model", o.gen.ModelName())

	p, err := typesPrompt(o.lang, cm)
	if r.out.Types, err = r.required(ctx, StageTypes, p, err); err != nil {
		return nil, err
	}

	p, err = toolsPrompt(o.lang, cm)
	if text, ok := r.optional(ctx, StageTools, p, err); ok {
		r.out.ToolDefinitions = ExtractCode(text, o.lang.Tags...)
	}

	if err := r.endpoints(ctx); err != nil {
		return nil, err
	}

	p, err = mainPrompt(o.lang, cm)
	if r.out.MainServer, err = r.required(ctx, StageMain, p, err); err != nil {
		return nil, err
	}

	p, err = readmePrompt(o.lang, cm)
	if text, ok := r.optional(ctx, StageReadme, p, err); ok {
		r.out.Readme = ExtractMarkdown(text)
	}

	out := r.finish()
	o.log.Info("staged run finished", "endpoints", out.Report.EndpointSummary(), "totalTokens", out.Report.Usage.TotalTokens, "duration", out.Report.Duration)
	return out, nil
}

// endpoints generates implementations one after another. Only a cancelled
// context stops the loop; any other failure yields a placeholder.
func (r *run) endpoints(ctx context.Context) error {
	for _, ep := range r.cm.Endpoints {
		prompt, err := endpointPrompt(r.o.lang, r.cm, ep)
		var (
			res *generation.Result
			ir  = ItemResult{Stage: StageEndpoints, Item: ep.OperationID, Status: StatusFailed}
		)
		if err == nil {
			res, ir, err = r.call(ctx, StageEndpoints, ep.OperationID, prompt)
		}
		if err == nil && res.Filtered && strings.TrimSpace(res.Text) == "" {
			err = fmt.Errorf("%w (%s)", ErrFilteredOutput, res.FilterReason)
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			ir.Status, ir.Error = StatusFailed, ctxErr.Error()
			r.report.add(ir)
			return &StageError{Stage: StageEndpoints, Err: ctxErr}
		}
		if err != nil {
			ir.Status, ir.Error = StatusPlaceholder, err.Error()
			r.out.Implementations[ep.OperationID] = Placeholder(ep.OperationID, err)
		} else {
			r.out.Implementations[ep.OperationID] = ExtractCode(res.Text, r.o.lang.Tags...)
		}
		r.report.add(ir)
	}
	ok, total := r.report.EndpointCounts()
	r.o.log.Info("endpoint stage finished", "succeeded", ok, "total", total)
	return nil
}

// PlaceholderMarker starts every placeholder implementation.
const PlaceholderMarker = "GENERATION FAILED"

// Placeholder is the stand-in implementation recorded for a failed endpoint.
// It is a comment in both supported languages.
func Placeholder(operationID string, err error) string {
	msg := strings.ReplaceAll(err.Error(), "\n", " ")
	return fmt.Sprintf("// %s: %s\n// %s\n", PlaceholderMarker, operationID, msg)
}

// IsPlaceholder reports whether code is a placeholder implementation.
func IsPlaceholder(code string) bool {
	return strings.HasPrefix(code, "// "+PlaceholderMarker)
}

// RunMonolithic generates everything in one call and splits the answer into
// sections. Missing types or main sections are fatal; a missing endpoint
// section becomes a placeholder.
func (o *Orchestrator) RunMonolithic(ctx context.Context, cm *spec.CompactModel) (*Output, error) {
	prompt, err := monolithicPrompt(o.lang, cm)
	if err != nil {
		return nil, err
	}
	out, err := o.runMonolithic(ctx, cm, prompt)
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (o *Orchestrator) runMonolithic(ctx context.Context, cm *spec.CompactModel, prompt string) (*Output, error) {
	r := o.newRun(cm, StrategyMonolithic)
	o.log.Info("monolithic run started", "endpoints", len(cm.Endpoints), "promptBytes", len(prompt), "model", o.gen.ModelName())

	res, ir, err := r.call(ctx, StageMonolithic, "", prompt)
	r.report.add(ir)
	if err != nil {
		return r.finish(), &StageError{Stage: StageMonolithic, Err: err}
	}

	sections := make(map[string]string)
	for _, s := range SplitSections(res.Text) {
		sections[strings.ToLower(s.Name)] = s.Body
	}
	if len(sections) == 0 {
		return r.finish(), &StageError{Stage: StageMonolithic, Err: errors.New("response contains no \"### FILE:\" sections")}
	}

	var missing []string
	get := func(name string) string {
		body, ok := sections[name]
		if !ok {
			missing = append(missing, name)
		}
		return body
	}
	r.out.Types = ExtractCode(get("types"), o.lang.Tags...)
	r.out.MainServer = ExtractCode(get("main"), o.lang.Tags...)
	if len(missing) > 0 {
		return r.finish(), &StageError{Stage: StageMonolithic, Err: fmt.Errorf("response is missing sections: %s", strings.Join(missing, ", "))}
	}
	if body, ok := sections["tools"]; ok {
		r.out.ToolDefinitions = ExtractCode(body, o.lang.Tags...)
	}
	if body, ok := sections["readme"]; ok {
		r.out.Readme = ExtractMarkdown(body)
	}

	for _, ep := range cm.Endpoints {
		item := ItemResult{Stage: StageEndpoints, Item: ep.OperationID, Status: StatusSucceeded, Model: res.Model}
		body, ok := sections["endpoints/"+strings.ToLower(ep.OperationID)]
		if ok && strings.TrimSpace(body) != "" {
			r.out.Implementations[ep.OperationID] = ExtractCode(body, o.lang.Tags...)
		} else {
			err := errors.New("section missing from monolithic response")
			item.Status, item.Error = StatusPlaceholder, err.Error()
			r.out.Implementations[ep.OperationID] = Placeholder(ep.OperationID, err)
		}
		r.report.Items = append(r.report.Items, item)
	}

	out := r.finish()
	o.log.Info("monolithic run finished", "endpoints", out.Report.EndpointSummary(), "totalTokens", out.Report.Usage.TotalTokens)
	return out, nil
}
