package emitter

import (
	"encoding/json"
	"fmt"
	"strings"
)

type npmManifest struct {
	Name            string            `json:"name"`
	Version         string            `json:"version"`
	Description     string            `json:"description,omitempty"`
	Type            string            `json:"type"`
	Main            string            `json:"main"`
	Bin             map[string]string `json:"bin"`
	Files           []string          `json:"files"`
	Scripts         map[string]string `json:"scripts"`
	Dependencies    map[string]string `json:"dependencies"`
	DevDependencies map[string]string `json:"devDependencies"`
}

const tsconfig = `{
  "compilerOptions": {
    "target": "ES2022",
    "module": "NodeNext",
    "moduleResolution": "NodeNext",
    "outDir": "dist",
    "rootDir": "src",
    "strict": true,
    "esModuleInterop": true,
    "skipLibCheck": true,
    "resolveJsonModule": true
  },
  "include": ["src"]
}
`

const tsGitignore = "node_modules/\ndist/\n.env\n"

func typescriptLayout(d layoutData) (map[string][]byte, error) {
	files := map[string][]byte{}

	manifest := npmManifest{
		Name:        d.pkg,
		Version:     d.version,
		Description: strings.TrimSpace(fmt.Sprintf("MCP server for %s", d.cm.Title)),
		Type:        "module",
		Main:        "dist/index.js",
		Bin:         map[string]string{d.tool: "dist/index.js"},
		Files:       []string{"dist"},
		Scripts: map[string]string{
			"build": "tsc",
			"start": "node dist/index.js",
		},
		Dependencies: map[string]string{
			"@modelcontextprotocol/sdk": "^1.0.0",
			"zod":                       "^3.23.0",
		},
		DevDependencies: map[string]string{
			"@types/node": "^20.0.0",
			"typescript":  "^5.4.0",
		},
	}
	pj, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal package.json: %w", err)
	}
	files["package.json"] = append(pj, '\n')
	files["tsconfig.json"] = []byte(tsconfig)
	files[".gitignore"] = []byte(tsGitignore)

	files[join("src", "types.ts")] = source(d.out.Types)
	files[join("src", "index.ts")] = source(d.out.MainServer)
	if strings.TrimSpace(d.out.ToolDefinitions) != "" {
		files[join("src", "tools.ts")] = source(d.out.ToolDefinitions)
	} else {
		tools, err := fallbackTools(d.cm)
		if err != nil {
			return nil, err
		}
		files[join("src", "tools.json")] = tools
	}

	for _, ep := range d.cm.Endpoints {
		files[join("src", "handlers", tsHandlerFile(ep.OperationID))] = implementation(d.out, ep.OperationID, "export {};")
	}
	return files, nil
}

func source(s string) []byte {
	return []byte(strings.TrimRight(s, "\n") + "\n")
}
