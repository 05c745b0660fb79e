package spec

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/getkin/kin-openapi/openapi3"
)

// validateStructure runs kin-openapi's loader and validator over raw and turns
// every finding into a warning line. External refs stay disabled: the own
// resolver already rejects them, and validation must never touch the network.
func validateStructure(ctx context.Context, raw []byte) (warnings []string) {
	defer func() {
		if r := recover(); r != nil {
			warnings = append(warnings, fmt.Sprintf("validator aborted: %v", r))
		}
	}()

	loader := openapi3.NewLoader()
	loader.IsExternalRefsAllowed = false
	doc, err := loader.LoadFromData(raw)
	if err != nil {
		return []string{fmt.Sprintf("load: %v", err)}
	}
	if err := doc.Validate(ctx); err != nil {
		return flattenValidation(err)
	}
	return nil
}

func flattenValidation(err error) []string {
	var me openapi3.MultiError
	if errors.As(err, &me) {
		out := make([]string, 0, len(me))
		for _, e := range me {
			out = append(out, strings.TrimSpace(e.Error()))
		}
		return out
	}
	return []string{strings.TrimSpace(err.Error())}
}
