package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mark3labs/specforge/internal/generation"
	"github.com/mark3labs/specforge/internal/spec"
)

const itemsDoc = `openapi: 3.0.3
info: {title: Items API, version: "1.0.0"}
paths:
  /items:
    get:
      summary: List items
      responses:
        "200":
          description: ok
          content:
            application/json:
              schema:
                type: array
                items: {$ref: '#/components/schemas/Item'}
    post:
      operationId: createItem
      requestBody:
        content:
          application/json:
            schema: {$ref: '#/components/schemas/Item'}
      responses:
        "201": {description: created}
components:
  schemas:
    Item:
      type: object
      properties:
        id: {type: integer}
        name: {type: string}
`

// scriptedGenerator answers each prompt with the first rule whose marker the
// prompt contains.
type scriptedGenerator struct {
	rules   []rule
	prompts []string
}

type rule struct {
	marker string
	text   string
	err    error
	filter bool
}

func (g *scriptedGenerator) Generate(_ context.Context, prompt string, _ generation.GenerateOptions) (*generation.Result, error) {
	g.prompts = append(g.prompts, prompt)
	for _, r := range g.rules {
		if !strings.Contains(prompt, r.marker) {
			continue
		}
		res := &generation.Result{Model: "fake", Attempts: 1, Usage: &generation.Usage{PromptTokens: 10, ResponseTokens: 5, TotalTokens: 15}}
		if r.err != nil {
			res.Attempts = 3
			return res, fmt.Errorf("%w: %w", generation.ErrGenerationFailed, r.err)
		}
		res.Success = true
		res.Text = r.text
		res.Filtered = r.filter
		return res, nil
	}
	return &generation.Result{Success: true, Model: "fake", Attempts: 1, Text: "```typescript\n// default\n```"}, nil
}

func (g *scriptedGenerator) ModelName() string { return "fake" }

func itemsModel(t *testing.T) *spec.CompactModel {
	t.Helper()
	m, err := spec.Parse([]byte(itemsDoc))
	require.NoError(t, err)
	return spec.Normalize(m)
}

func newStaged(t *testing.T, g Generator, opts ...Option) *Orchestrator {
	t.Helper()
	opts = append([]Option{WithStrategy(StrategyStaged), WithInterCallDelay(0)}, opts...)
	o, err := New(g, opts...)
	require.NoError(t, err)
	return o
}

func TestRunStaged_EndpointFailureIsIsolated(t *testing.T) {
	g := &scriptedGenerator{rules: []rule{
		{marker: "type definitions", text: "```typescript\nexport interface Item { id: number; name: string }\n```"},
		{marker: "tool definitions", text: "```ts\nexport const tools = [];\n```"},
		{marker: "main entry point", text: "```typescript\nmain();\n```"},
		{marker: "README.md", text: "# Items API\n\n```bash\nnpm start\n```\n"},
		// Earlier prompts also list createItem, so this rule has to come after them.
		{marker: `"operationId": "createItem"`, err: &generation.ProviderError{Status: 503, Retryable: true, Cause: errors.New("overloaded")}},
		{marker: "Implement the handler", text: "Here you go:\n```typescript\nexport async function getItems() {}\n```\nDone."},
	}}
	o := newStaged(t, g)

	out, err := o.Run(context.Background(), itemsModel(t))
	require.NoError(t, err)

	assert.Equal(t, "export interface Item { id: number; name: string }", out.Types)
	assert.Equal(t, "export const tools = [];", out.ToolDefinitions)
	assert.Equal(t, "main();", out.MainServer)
	assert.Equal(t, "# Items API\n\n```bash\nnpm start\n```", out.Readme)

	require.Len(t, out.Implementations, 2)
	assert.Equal(t, "export async function getItems() {}", out.Implementations["getItems"])
	assert.True(t, IsPlaceholder(out.Implementations["createItem"]))
	assert.Contains(t, out.Implementations["createItem"], "overloaded")

	assert.Equal(t, "1/2 succeeded", out.Report.EndpointSummary())
	failed := out.Report.Failed()
	require.Len(t, failed, 1)
	assert.Equal(t, StatusPlaceholder, failed[0].Status)
	assert.Equal(t, 3, failed[0].Attempts)

	assert.Len(t, g.prompts, 6)
	assert.Equal(t, 6*15, out.Report.Usage.TotalTokens)
	assert.Equal(t, StrategyStaged, out.Report.Strategy)
}

func TestRunStaged_StageOrder(t *testing.T) {
	g := &scriptedGenerator{}
	o := newStaged(t, g)
	out, err := o.RunStaged(context.Background(), itemsModel(t))
	require.NoError(t, err)

	var stages []Stage
	for _, it := range out.Report.Items {
		stages = append(stages, it.Stage)
	}
	assert.Equal(t, []Stage{StageTypes, StageTools, StageEndpoints, StageEndpoints, StageMain, StageReadme}, stages)
	assert.Equal(t, "getItems", out.Report.Items[2].Item)
	assert.Equal(t, "createItem", out.Report.Items[3].Item)
}

func TestRunStaged_FatalStages(t *testing.T) {
	for _, tc := range []struct {
		marker string
		stage  Stage
	}{
		{"type definitions", StageTypes},
		{"main entry point", StageMain},
	} {
		t.Run(string(tc.stage), func(t *testing.T) {
			g := &scriptedGenerator{rules: []rule{{marker: tc.marker, err: errors.New("400 bad request")}}}
			out, err := newStaged(t, g).RunStaged(context.Background(), itemsModel(t))
			require.Error(t, err)
			assert.Nil(t, out)

			var se *StageError
			require.ErrorAs(t, err, &se)
			assert.Equal(t, tc.stage, se.Stage)
			assert.ErrorIs(t, err, generation.ErrGenerationFailed)
		})
	}
}

func TestRunStaged_FilteredTypesIsFatal(t *testing.T) {
	g := &scriptedGenerator{rules: []rule{{marker: "type definitions", filter: true}}}
	_, err := newStaged(t, g).RunStaged(context.Background(), itemsModel(t))
	assert.ErrorIs(t, err, ErrFilteredOutput)
}

func TestRunStaged_OptionalStagesTolerateFailure(t *testing.T) {
	g := &scriptedGenerator{rules: []rule{
		{marker: "tool definitions", err: errors.New("500 internal")},
		{marker: "README.md", filter: true},
	}}
	out, err := newStaged(t, g).RunStaged(context.Background(), itemsModel(t))
	require.NoError(t, err)
	assert.Empty(t, out.ToolDefinitions)
	assert.Empty(t, out.Readme)

	tools := out.Report.Stage(StageTools)
	require.Len(t, tools, 1)
	assert.Equal(t, StatusFailed, tools[0].Status)
	readme := out.Report.Stage(StageReadme)
	require.Len(t, readme, 1)
	assert.Contains(t, readme[0].Error, ErrFilteredOutput.Error())
	assert.Equal(t, "2/2 succeeded", out.Report.EndpointSummary())
}

func TestRunStaged_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := newStaged(t, &scriptedGenerator{}).RunStaged(ctx, itemsModel(t))
	assert.ErrorIs(t, err, context.Canceled)
}

const monolithicAnswer = "Sure.\n" +
	"### FILE: types\n```typescript\nexport type Item = {id: number};\n```\n" +
	"### FILE: tools\n```typescript\nexport const tools = [];\n```\n" +
	"### FILE: endpoints/getItems\n```typescript\nexport const getItems = 1;\n```\n" +
	"### FILE: main\n```typescript\nstart();\n```\n" +
	"### FILE: README\n# Items\n"

func TestRunMonolithic(t *testing.T) {
	g := &scriptedGenerator{rules: []rule{{marker: "### FILE: types", text: monolithicAnswer}}}
	o, err := New(g, WithStrategy(StrategyMonolithic), WithInterCallDelay(0))
	require.NoError(t, err)

	out, err := o.Run(context.Background(), itemsModel(t))
	require.NoError(t, err)
	require.Len(t, g.prompts, 1)
	assert.Contains(t, g.prompts[0], "### FILE: endpoints/createItem")

	assert.Equal(t, "export type Item = {id: number};", out.Types)
	assert.Equal(t, "start();", out.MainServer)
	assert.Equal(t, "# Items", out.Readme)
	assert.Equal(t, "export const getItems = 1;", out.Implementations["getItems"])
	assert.True(t, IsPlaceholder(out.Implementations["createItem"]))
	assert.Equal(t, "1/2 succeeded", out.Report.EndpointSummary())
}

func TestRunMonolithic_MissingSectionsIsFatal(t *testing.T) {
	g := &scriptedGenerator{rules: []rule{{marker: "### FILE: types", text: "```typescript\nall in one\n```"}}}
	o, err := New(g, WithStrategy(StrategyMonolithic), WithInterCallDelay(0))
	require.NoError(t, err)

	_, err = o.Run(context.Background(), itemsModel(t))
	var se *StageError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, StageMonolithic, se.Stage)
}

func TestRunAuto(t *testing.T) {
	t.Run("small model goes monolithic", func(t *testing.T) {
		g := &scriptedGenerator{rules: []rule{{marker: "### FILE: types", text: monolithicAnswer}}}
		o, err := New(g, WithInterCallDelay(0))
		require.NoError(t, err)
		out, err := o.Run(context.Background(), itemsModel(t))
		require.NoError(t, err)
		assert.Equal(t, StrategyMonolithic, out.Report.Strategy)
		assert.Len(t, g.prompts, 1)
	})

	t.Run("large model goes staged", func(t *testing.T) {
		g := &scriptedGenerator{}
		o, err := New(g, WithInterCallDelay(0), WithMonolithicThreshold(100))
		require.NoError(t, err)
		out, err := o.Run(context.Background(), itemsModel(t))
		require.NoError(t, err)
		assert.Equal(t, StrategyStaged, out.Report.Strategy)
		assert.Len(t, g.prompts, 6)
	})

	t.Run("unusable monolithic answer falls back", func(t *testing.T) {
		g := &scriptedGenerator{rules: []rule{{marker: "### FILE: types", text: "no sections"}}}
		o, err := New(g, WithInterCallDelay(0))
		require.NoError(t, err)
		out, err := o.Run(context.Background(), itemsModel(t))
		require.NoError(t, err)
		assert.Len(t, g.prompts, 7)
		assert.Equal(t, StageMonolithic, out.Report.Items[0].Stage)
		assert.Equal(t, "2/2 succeeded", out.Report.EndpointSummary())
	})

	t.Run("credential failure does not fall back", func(t *testing.T) {
		g := &scriptedGenerator{rules: []rule{{marker: "### FILE: types", err: generation.ErrValidationFailed}}}
		o, err := New(g, WithInterCallDelay(0))
		require.NoError(t, err)
		_, err = o.Run(context.Background(), itemsModel(t))
		require.Error(t, err)
		assert.ErrorIs(t, err, generation.ErrValidationFailed)
		assert.Equal(t, CategoryCredentials, Categorize(err))
		assert.Len(t, g.prompts, 1)
	})
}

func TestNew_Validation(t *testing.T) {
	_, err := New(&scriptedGenerator{}, WithLanguage("cobol"))
	assert.Error(t, err)
	_, err = New(&scriptedGenerator{}, WithStrategy("parallel"))
	assert.Error(t, err)
	_, err = New(nil)
	assert.Error(t, err)

	o, err := New(&scriptedGenerator{}, WithLanguage("Go"))
	require.NoError(t, err)
	assert.Equal(t, "go", o.lang.ID)
}

func TestPlan(t *testing.T) {
	cm := itemsModel(t)

	p, err := Plan(cm)
	require.NoError(t, err)
	assert.Equal(t, StrategyMonolithic, p.Strategy)
	assert.Equal(t, 1, p.Calls)
	assert.Positive(t, p.PromptBytes)
	assert.Equal(t, "typescript", p.Language)

	p, err = Plan(cm, WithMonolithicThreshold(100))
	require.NoError(t, err)
	assert.Equal(t, StrategyStaged, p.Strategy)
	assert.Equal(t, 6, p.Calls)

	p, err = Plan(cm, WithStrategy("STAGED"), WithLanguage("go"))
	require.NoError(t, err)
	assert.Equal(t, StrategyStaged, p.Strategy)
	assert.Equal(t, "go", p.Language)

	_, err = Plan(cm, WithLanguage("cobol"))
	assert.Error(t, err)
}

func TestParseStrategy(t *testing.T) {
	st, err := ParseStrategy("")
	require.NoError(t, err)
	assert.Equal(t, StrategyAuto, st)
	st, err = ParseStrategy(" Staged ")
	require.NoError(t, err)
	assert.Equal(t, StrategyStaged, st)
	_, err = ParseStrategy("fast")
	assert.Error(t, err)
}

func TestCategorize(t *testing.T) {
	_, parseErr := spec.Parse([]byte("swagger: '2.0'"))
	tests := []struct {
		name string
		err  error
		want Category
	}{
		{"parse", parseErr, CategoryInput},
		{"credential", fmt.Errorf("wrap: %w", generation.ErrMissingCredential), CategoryCredentials},
		{"no model", &StageError{Stage: StageTypes, Err: generation.ErrNoModelAvailable}, CategoryCredentials},
		{"busy", &StageError{Stage: StageMain, Err: &generation.ProviderError{Status: 429, Retryable: true}}, CategoryTransient},
		{"forbidden", &generation.ProviderError{Status: 403}, CategoryCredentials},
		{"rejected key on model listing", fmt.Errorf("%w: %w", generation.ErrGenerationFailed,
			fmt.Errorf("%w: list models: %w", generation.ErrValidationFailed, &generation.ProviderError{Status: 400, Cause: errors.New("API key not valid")})), CategoryCredentials},
		{"other", errors.New("boom"), CategoryUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Categorize(tt.err))
			assert.NotEmpty(t, tt.want.Hint())
		})
	}
}
