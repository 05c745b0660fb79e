package emitter

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/dave/jennifer/jen"

	"github.com/mark3labs/specforge/internal/pipeline"
)

const goGitignore = "/bin/\n.env\n"

func goLayout(d layoutData) (map[string][]byte, error) {
	files := map[string][]byte{}

	files["go.mod"] = []byte(fmt.Sprintf("module %s\n\ngo 1.22\n", d.pkg))
	files[".gitignore"] = []byte(goGitignore)
	files["Makefile"] = []byte(fmt.Sprintf("build:\n\tgo build -o bin/%s ./cmd/%s\n\nrun: build\n\t./bin/%s\n", d.tool, d.tool, d.tool))

	files[join("cmd", d.tool, "main.go")] = goSource(d.out.MainServer, "main")
	files[join("internal", "types", "types.go")] = goSource(d.out.Types, "types")
	if strings.TrimSpace(d.out.ToolDefinitions) != "" {
		files[join("internal", "tools", "tools.go")] = goSource(d.out.ToolDefinitions, "tools")
	} else {
		tools, err := fallbackTools(d.cm)
		if err != nil {
			return nil, err
		}
		files[join("internal", "tools", "tools.json")] = tools
	}

	for _, ep := range d.cm.Endpoints {
		files[join("internal", "handlers", goHandlerFile(ep.OperationID))] = implementation(d.out, ep.OperationID, "package handlers")
	}
	reg, err := endpointRegistry(d)
	if err != nil {
		return nil, err
	}
	files[join("internal", "handlers", "endpoints.go")] = reg
	return files, nil
}

// goSource makes sure a generated file starts with a package clause.
func goSource(code, pkg string) []byte {
	code = strings.TrimSpace(code)
	if !hasPackageClause(code) {
		code = "package " + pkg + "\n\n" + code
	}
	return []byte(code + "\n")
}

func hasPackageClause(code string) bool {
	for _, line := range strings.Split(code, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "//") {
			continue
		}
		return strings.HasPrefix(line, "package ")
	}
	return false
}

// endpointRegistry renders handlers/endpoints.go: one Endpoint entry per
// operation, flagging the ones that only have a placeholder.
func endpointRegistry(d layoutData) ([]byte, error) {
	f := jen.NewFile("handlers")
	f.HeaderComment("Code generated by specforge. DO NOT EDIT.")

	f.Comment("Endpoint describes one API operation exposed as an MCP tool.")
	f.Type().Id("Endpoint").Struct(
		jen.Id("OperationID").String(),
		jen.Id("Method").String(),
		jen.Id("Path").String(),
		jen.Id("Summary").String(),
		jen.Comment("Handler is the name of the handler function for the operation."),
		jen.Id("Handler").String(),
		jen.Comment("Generated is false when the handler is a placeholder."),
		jen.Id("Generated").Bool(),
	)

	f.Comment("BaseURL is the default server URL of the API.")
	f.Const().Id("BaseURL").Op("=").Lit(d.cm.BaseURL)

	f.Comment("Endpoints lists every operation in document order.")
	f.Var().Id("Endpoints").Op("=").Index().Id("Endpoint").ValuesFunc(func(g *jen.Group) {
		for _, ep := range d.cm.Endpoints {
			code, ok := d.out.Implementations[ep.OperationID]
			generated := ok && !pipeline.IsPlaceholder(code)
			g.Values(jen.Dict{
				jen.Id("OperationID"): jen.Lit(ep.OperationID),
				jen.Id("Method"):      jen.Lit(ep.Method),
				jen.Id("Path"):        jen.Lit(ep.Path),
				jen.Id("Summary"):     jen.Lit(ep.Summary),
				jen.Id("Handler"):     jen.Lit(goIdent(ep.OperationID)),
				jen.Id("Generated"):   jen.Lit(generated),
			})
		}
	})

	f.Comment("Lookup returns the endpoint registered for operationID.")
	f.Func().Id("Lookup").Params(jen.Id("operationID").String()).Params(jen.Id("Endpoint"), jen.Bool()).Block(
		jen.For(jen.List(jen.Id("_"), jen.Id("ep")).Op(":=").Range().Id("Endpoints")).Block(
			jen.If(jen.Id("ep").Dot("OperationID").Op("==").Id("operationID")).Block(
				jen.Return(jen.Id("ep"), jen.True()),
			),
		),
		jen.Return(jen.Id("Endpoint").Values(), jen.False()),
	)

	var buf bytes.Buffer
	if err := f.Render(&buf); err != nil {
		return nil, fmt.Errorf("render endpoints.go: %w", err)
	}
	return buf.Bytes(), nil
}
