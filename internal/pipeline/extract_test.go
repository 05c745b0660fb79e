package pipeline

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractCode(t *testing.T) {
	tests := []struct {
		name string
		text string
		tags []string
		want string
	}{
		{
			name: "tagged block wins over earlier block",
			text: "```bash\nnpm i\n```\nthen\n```typescript\nconst a = 1;\n```",
			tags: []string{"typescript", "ts"},
			want: "const a = 1;",
		},
		{
			name: "alternate tag",
			text: "```ts\nconst b = 2;\n```",
			tags: []string{"typescript", "ts"},
			want: "const b = 2;",
		},
		{
			name: "first block when no tag matches",
			text: "```js\nfirst()\n```\n```py\nsecond()\n```",
			tags: []string{"go"},
			want: "first()",
		},
		{
			name: "raw text without fences",
			text: "  package main\n\nfunc main() {}\n",
			tags: []string{"go"},
			want: "package main\n\nfunc main() {}",
		},
		{
			name: "unterminated fence",
			text: "```go\npackage main\nfunc main() {",
			tags: []string{"go"},
			want: "package main\nfunc main() {",
		},
		{
			name: "nested fence inside tagged block",
			text: "```go\n// Example:\n// ```sh\n// go run .\n// ```\npackage main\n```",
			tags: []string{"go"},
			want: "// Example:\n// ```sh\n// go run .\n// ```\npackage main",
		},
		{
			name: "info string with attributes",
			text: "```go title=\"main.go\"\npackage main\n```",
			tags: []string{"go"},
			want: "package main",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ExtractCode(tt.text, tt.tags...))
		})
	}
}

func TestExtractMarkdown(t *testing.T) {
	assert.Equal(t, "# Title", ExtractMarkdown("Here it is:\n```markdown\n# Title\n```"))
	assert.Equal(t, "# Title\n\n```sh\nrun\n```", ExtractMarkdown("\n# Title\n\n```sh\nrun\n```\n"))

	readme := "Here is the README:\n```markdown\n# Pet MCP\n\nInstall:\n\n```bash\nnpm install\n```\n\n## Tools\n\n```json\n{\"a\": 1}\n```\n\nDone.\n```\ntrailing chatter"
	assert.Equal(t, "# Pet MCP\n\nInstall:\n\n```bash\nnpm install\n```\n\n## Tools\n\n```json\n{\"a\": 1}\n```\n\nDone.", ExtractMarkdown(readme))

	longer := "````markdown\n# T\n```\nplain\n```\n````"
	assert.Equal(t, "# T\n```\nplain\n```", ExtractMarkdown(longer))
}

func TestSplitSections(t *testing.T) {
	text := "intro\n### FILE: types\nA\n## FILE:  endpoints/getItems \nB\n### FILE: main\nC"
	got := SplitSections(text)
	require.Len(t, got, 3)
	assert.Equal(t, "types", got[0].Name)
	assert.Equal(t, "\nA\n", got[0].Body)
	assert.Equal(t, "endpoints/getItems", got[1].Name)
	assert.Equal(t, "main", got[2].Name)
	assert.Equal(t, "\nC", got[2].Body)

	assert.Empty(t, SplitSections("no markers here"))
}

func TestPlaceholder(t *testing.T) {
	p := Placeholder("getItems", assert.AnError)
	assert.True(t, IsPlaceholder(p))
	assert.Contains(t, p, "getItems")
	assert.False(t, IsPlaceholder("export const x = 1;"))
}
