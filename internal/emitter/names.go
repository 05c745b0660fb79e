package emitter

import (
	"strings"

	"github.com/gobuffalo/flect"
	"github.com/stoewer/go-strcase"
)

func sanitizeToolName(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		return ""
	}
	name = strings.NewReplacer(" ", "-", "/", "-").Replace(name)
	b := strings.Builder{}
	for _, r := range name {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '-' || r == '_' {
			b.WriteRune(r)
		}
	}
	return strings.Trim(b.String(), "-")
}

// sanitizePackageName keeps what npm accepts in an unscoped name.
func sanitizePackageName(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		return ""
	}
	name = strings.NewReplacer(" ", "-", "/", "-").Replace(name)
	b := strings.Builder{}
	for _, r := range name {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '-' || r == '_' || r == '.' {
			b.WriteRune(r)
		}
	}
	return strings.Trim(b.String(), "-.")
}

// deriveToolName turns an API title into a kebab-case tool name,
// "Pet Store API" becomes "pet-store-api".
func deriveToolName(title string) string {
	t := strings.NewReplacer("/", " ", "_", " ", ".", " ", ",", " ", ":", " ").Replace(strings.TrimSpace(title))
	parts := strings.Fields(t)
	if len(parts) == 0 {
		return ""
	}
	return sanitizeToolName(strcase.KebabCase(strings.Join(parts, " ")))
}

// ResolveToolName sanitizes name, or derives one from the API title when name
// is empty. It never returns an empty string.
func ResolveToolName(name, title string) string {
	if tool := sanitizeToolName(name); tool != "" {
		return tool
	}
	if tool := deriveToolName(title); tool != "" {
		return tool
	}
	return "mcp-server"
}

func tsHandlerFile(operationID string) string { return strcase.KebabCase(operationID) + ".ts" }

func goHandlerFile(operationID string) string { return strcase.SnakeCase(operationID) + ".go" }

// goIdent is the exported Go identifier for an operation id.
func goIdent(operationID string) string { return strcase.UpperCamelCase(operationID) }

// humanTitle renders an identifier for people: "pet-store-api" becomes "Pet Store API".
func humanTitle(s string) string { return flect.Titleize(s) }

// humanize describes an operation with no summary: "listPets" becomes "List pets".
func humanize(operationID string) string { return flect.Humanize(operationID) }
