package tool

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"supportmesh/internal/domain"
)

// validatedTool checks model-supplied arguments against the tool's declared
// parameters before the tool runs.
type validatedTool struct {
	domain.Tool
	schema *jsonschema.Schema
}

// WithSchemaValidation wraps t so that arguments failing its parameter schema
// come back as an error result naming each offending field, and t never runs.
// Tools without a schema are returned unchanged.
func WithSchemaValidation(t domain.Tool) (domain.Tool, error) {
	raw := t.Schema().Parameters
	if len(raw) == 0 || string(raw) == "null" {
		return t, nil
	}
	schema, err := jsonschema.CompileString(t.Name()+".schema.json", string(raw))
	if err != nil {
		return nil, domain.NewSubSystemError("tool", "WithSchemaValidation", domain.ErrInvalidInput,
			fmt.Sprintf("%s schema: %v", t.Name(), err))
	}
	return &validatedTool{Tool: t, schema: schema}, nil
}

// Execute treats empty arguments as {}, which models send for no-arg tools.
func (v *validatedTool) Execute(ctx context.Context, params json.RawMessage) (*domain.ToolResult, error) {
	if len(bytes.TrimSpace(params)) == 0 {
		params = json.RawMessage(`{}`)
	}
	var doc any
	if err := json.Unmarshal(params, &doc); err != nil {
		return ErrResult("%s: arguments are not valid JSON: %v", v.Name(), err)
	}
	if err := v.schema.Validate(doc); err != nil {
		return ErrResult("%s: invalid arguments: %s", v.Name(), describeViolations(err))
	}
	return v.Tool.Execute(ctx, params)
}

// describeViolations flattens a validation error into "field: problem" pairs,
// sorted by field.
func describeViolations(err error) string {
	var ve *jsonschema.ValidationError
	if !errors.As(err, &ve) {
		return err.Error()
	}
	var out []string
	var walk func(*jsonschema.ValidationError)
	walk = func(e *jsonschema.ValidationError) {
		if len(e.Causes) == 0 {
			field := strings.TrimPrefix(e.InstanceLocation, "/")
			if field == "" {
				field = "arguments"
			}
			out = append(out, field+": "+e.Message)
			return
		}
		for _, c := range e.Causes {
			walk(c)
		}
	}
	walk(ve)
	sort.Strings(out)
	return strings.Join(out, "; ")
}
