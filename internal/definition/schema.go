package definition

import (
	"fmt"
	"strings"

	jsonschema "github.com/santhosh-tekuri/jsonschema/v6"
)

// workflowSchemaJSON validates the raw definition record before parsing.
// Deliberately permissive: unknown fields pass through for forward
// compatibility, only the fields the engine reads are constrained. The step
// kind discriminator is not required — a step with none of the four kind
// keys parses as a command step with an empty target.
const workflowSchemaJSON = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "$id": "https://open-cloud-ops.dev/schemas/workflow.json",
  "type": "object",
  "required": ["name"],
  "properties": {
    "name": {"type": "string", "minLength": 1},
    "description": {"type": "string"},
    "version": {"type": "string"},
    "timeout_seconds": {"type": "integer", "minimum": 1},
    "on_failure": {"type": "string"},
    "on_success": {"type": "string"},
    "metadata": {"type": "object"},
    "steps": {
      "type": "array",
      "items": {"$ref": "#/$defs/step"}
    }
  },
  "$defs": {
    "step": {
      "type": "object",
      "required": ["name"],
      "properties": {
        "name": {"type": "string", "minLength": 1},
        "command": {"type": "string"},
        "agent": {"type": "string"},
        "shell": {"type": "string"},
        "parallel": {"type": "array", "items": {"type": "string"}},
        "inputs": {"type": "object"},
        "outputs": {"type": "array", "items": {"type": "string"}},
        "gate": {"$ref": "#/$defs/gate"},
        "timeout_seconds": {"type": "integer", "minimum": 1},
        "retry_count": {"type": "integer", "minimum": 0},
        "continue_on_failure": {"type": "boolean"},
        "depends_on": {"type": "array", "items": {"type": "string"}}
      }
    },
    "gate": {
      "type": "object",
      "properties": {
        "type": {"type": "string", "enum": ["manual", "timeout", "conditional"]},
        "message": {"type": "string"},
        "timeout_seconds": {"type": "integer", "minimum": 0},
        "condition": {"type": "string"},
        "fallback": {"type": "string"},
        "approvers": {"type": "array", "items": {"type": "string"}},
        "notify": {"type": "boolean"}
      }
    }
  }
}`

const workflowSchemaURL = "https://open-cloud-ops.dev/schemas/workflow.json"

func compileWorkflowSchema() (*jsonschema.Schema, error) {
	c := jsonschema.NewCompiler()
	c.AssertFormat()

	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(workflowSchemaJSON))
	if err != nil {
		return nil, fmt.Errorf("unmarshal workflow schema: %w", err)
	}
	if err := c.AddResource(workflowSchemaURL, doc); err != nil {
		return nil, fmt.Errorf("add workflow schema resource: %w", err)
	}

	compiled, err := c.Compile(workflowSchemaURL)
	if err != nil {
		return nil, fmt.Errorf("compile workflow schema: %w", err)
	}
	return compiled, nil
}
