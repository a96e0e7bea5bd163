// Package validation checks insertion requests before a graph is built:
// JSON Schema Draft 2020-12 for shape, plus semantic checks the schema
// cannot express.
package validation

import (
	"encoding/json"
	"fmt"
	"strings"

	jsonschema "github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/matgraph/ionflow/pkg/schema"
)

// requestSchemaJSON is the JSON Schema for InsertionRequest documents.
// Embedded as a constant to avoid filesystem dependencies.
const requestSchemaJSON = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "$id": "https://ionflow.dev/schemas/request.json",
  "type": "object",
  "required": ["structure", "species"],
  "properties": {
    "name": { "type": "string" },
    "structure": { "$ref": "#/$defs/structure" },
    "species": {
      "type": "string",
      "minLength": 1
    },
    "max_steps": {
      "type": "integer",
      "minimum": 0
    },
    "candidates_per_step": {
      "type": "integer",
      "minimum": 0
    },
    "skip_bulk_relax": { "type": "boolean" },
    "stop_condition": { "type": "string" },
    "admit_filter": { "type": "string" },
    "metadata": { "type": "object" }
  },
  "additionalProperties": false,
  "$defs": {
    "structure": {
      "type": "object",
      "required": ["lattice", "sites"],
      "properties": {
        "lattice": {
          "type": "array",
          "minItems": 3,
          "maxItems": 3,
          "items": {
            "type": "array",
            "minItems": 3,
            "maxItems": 3,
            "items": { "type": "number" }
          }
        },
        "sites": {
          "type": "array",
          "minItems": 1,
          "items": { "$ref": "#/$defs/site" }
        }
      },
      "additionalProperties": false
    },
    "site": {
      "type": "object",
      "required": ["species", "coords"],
      "properties": {
        "species": {
          "type": "string",
          "minLength": 1
        },
        "coords": {
          "type": "array",
          "minItems": 3,
          "maxItems": 3,
          "items": { "type": "number" }
        }
      },
      "additionalProperties": false
    }
  }
}`

// RequestValidator validates InsertionRequest documents against the
// embedded JSON Schema. Safe for concurrent use.
type RequestValidator struct {
	compiled *jsonschema.Schema
}

// NewRequestValidator compiles the embedded request schema.
func NewRequestValidator() (*RequestValidator, error) {
	c := jsonschema.NewCompiler()
	c.AssertFormat()

	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(requestSchemaJSON))
	if err != nil {
		return nil, fmt.Errorf("unmarshal request schema: %w", err)
	}
	if err := c.AddResource("https://ionflow.dev/schemas/request.json", doc); err != nil {
		return nil, fmt.Errorf("add request schema resource: %w", err)
	}
	compiled, err := c.Compile("https://ionflow.dev/schemas/request.json")
	if err != nil {
		return nil, fmt.Errorf("compile request schema: %w", err)
	}

	return &RequestValidator{compiled: compiled}, nil
}

// ValidateRequest validates a decoded request: schema shape first, then
// the semantic checks of semantic.go.
func (v *RequestValidator) ValidateRequest(req *schema.InsertionRequest) error {
	if req == nil {
		return schema.NewError(schema.ErrCodeValidation, "request is nil")
	}

	doc, err := toJSONValue(req)
	if err != nil {
		return schema.NewError(schema.ErrCodeValidation, "failed to serialize request").WithCause(err)
	}
	if err := v.compiled.Validate(doc); err != nil {
		return toFlowError(err)
	}

	return validateSemantics(req)
}

// ParseRequest decodes and validates a raw JSON request document.
func (v *RequestValidator) ParseRequest(raw []byte) (*schema.InsertionRequest, error) {
	var req schema.InsertionRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeValidation,
			"request is not valid JSON: %s", err.Error()).WithCause(err)
	}
	if err := v.ValidateRequest(&req); err != nil {
		return nil, err
	}
	return &req, nil
}

// toJSONValue round-trips a Go value through JSON encoding so that numbers
// become json.Number, as the jsonschema library requires.
func toJSONValue(v any) (any, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return jsonschema.UnmarshalJSON(strings.NewReader(string(b)))
}

// toFlowError converts a jsonschema.ValidationError into a FlowError with
// the leaf violations listed in details.
func toFlowError(err error) *schema.FlowError {
	verr, ok := err.(*jsonschema.ValidationError)
	if !ok {
		return schema.NewError(schema.ErrCodeValidation, err.Error())
	}

	violations := collectViolations(verr)
	if len(violations) == 0 {
		return schema.NewError(schema.ErrCodeValidation, verr.Error())
	}
	if len(violations) == 1 {
		return schema.NewError(schema.ErrCodeValidation, violations[0]).
			WithDetails(map[string]any{"violations": violations})
	}
	return schema.NewErrorf(schema.ErrCodeValidation,
		"validation failed with %d errors", len(violations)).
		WithDetails(map[string]any{"violations": violations})
}

// collectViolations walks a ValidationError tree and collects leaf messages
// with their instance locations.
func collectViolations(verr *jsonschema.ValidationError) []string {
	if len(verr.Causes) == 0 {
		loc := "/"
		if len(verr.InstanceLocation) > 0 {
			loc = "/" + strings.Join(verr.InstanceLocation, "/")
		}
		return []string{fmt.Sprintf("%s: %s", loc, verr.Error())}
	}

	var violations []string
	for _, cause := range verr.Causes {
		violations = append(violations, collectViolations(cause)...)
	}
	return violations
}
