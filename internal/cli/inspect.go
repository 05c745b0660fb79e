package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/davecgh/go-spew/spew"
	"github.com/spf13/cobra"

	"github.com/mark3labs/specforge/internal/logging"
	"github.com/mark3labs/specforge/internal/spec"
)

type InspectConfig struct {
	Input    string
	Dump     bool
	JSON     bool
	Validate bool
	Verbose  bool
}

var inspectRunner = runInspect

func newInspectCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "inspect",
		Short: "Summarize the endpoints, schemas and auth schemes of an OpenAPI document",
		Example: strings.TrimSpace(`  specforge inspect --input openapi.yaml
  specforge inspect --input openapi.yaml --validate --json
  specforge inspect --input openapi.yaml --dump`),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := &InspectConfig{}
			var err error
			if cfg.Input, err = cmd.Flags().GetString("input"); err != nil {
				return err
			}
			if cfg.Dump, err = cmd.Flags().GetBool("dump"); err != nil {
				return err
			}
			if cfg.JSON, err = cmd.Flags().GetBool("json"); err != nil {
				return err
			}
			if cfg.Validate, err = cmd.Flags().GetBool("validate"); err != nil {
				return err
			}
			if cfg.Verbose, err = cmd.Flags().GetBool("verbose"); err != nil {
				return err
			}
			cfg.Input = strings.TrimSpace(cfg.Input)
			if cfg.Input == "" {
				return newUsageError("inspect: --input is required")
			}
			if cfg.Dump && cfg.JSON {
				return newUsageError("inspect: --dump and --json are mutually exclusive")
			}
			return inspectRunner(cmd, cfg)
		},
	}

	cmd.Flags().String("input", "", "Path or URL to the OpenAPI document")
	cmd.Flags().Bool("dump", false, "Dump the normalized model")
	cmd.Flags().Bool("json", false, "Print the summary as JSON")
	cmd.Flags().Bool("validate", false, "Run structural validation and list findings")

	return cmd
}

func runInspect(cmd *cobra.Command, cfg *InspectConfig) error {
	log := logging.New(os.Stderr, cfg.Verbose)
	m, err := spec.Load(cmd.Context(), cfg.Input, spec.WithValidation(cfg.Validate), spec.WithLogger(log))
	if err != nil {
		return specUsageError(err)
	}
	w := cmd.OutOrStdout()

	switch {
	case cfg.Dump:
		dumper := spew.ConfigState{Indent: "  ", DisablePointerAddresses: true, DisableCapacities: true, SortKeys: true}
		dumper.Fdump(w, spec.Normalize(m))
		return nil
	case cfg.JSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(struct {
			spec.Summary
			Findings []string `json:"findings,omitempty"`
		}{m.Summary(), m.Warnings})
	}
	printInspectSummary(w, m)
	return nil
}

func printInspectSummary(w io.Writer, m *spec.APIModel) {
	s := m.Summary()
	fmt.Fprintf(w, "%s %s\n", s.Title, s.Version)
	fmt.Fprintf(w, "Base URL: %s\n", s.BaseURL)

	methods := make([]string, 0, len(s.Methods))
	for k := range s.Methods {
		methods = append(methods, k)
	}
	sort.Strings(methods)
	parts := make([]string, 0, len(methods))
	for _, k := range methods {
		parts = append(parts, fmt.Sprintf("%s %d", strings.ToUpper(k), s.Methods[k]))
	}
	fmt.Fprintf(w, "Endpoints: %d", s.Endpoints)
	if len(parts) > 0 {
		fmt.Fprintf(w, " (%s)", strings.Join(parts, ", "))
	}
	fmt.Fprintln(w)
	fmt.Fprintf(w, "Schemas: %d\n", s.Schemas)
	fmt.Fprintf(w, "Auth schemes: %d\n", s.AuthSchemes)

	for _, ep := range m.Endpoints {
		fmt.Fprintf(w, "  %-7s %s  %s\n", strings.ToUpper(string(ep.Method)), ep.Path, ep.OperationID)
	}
	if len(m.Warnings) > 0 {
		fmt.Fprintf(w, "Validation findings: %d\n", len(m.Warnings))
		for _, f := range m.Warnings {
			fmt.Fprintf(w, "  - %s\n", f)
		}
	}
}
