// Package definition loads declarative pipeline definitions from YAML files
// and parses them into immutable workflow templates. Definitions are
// validated against an embedded JSON Schema before parsing; unknown fields
// are ignored for forward compatibility.
package definition

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/goccy/go-yaml"
	jsonschema "github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/bigdegenenergy/open-cloud-ops/pkg/schema"
)

// Loader retrieves workflow definitions by name from a directory of YAML
// files (<dir>/<name>.yaml).
type Loader struct {
	dir      string
	compiled *jsonschema.Schema
}

// NewLoader creates a Loader reading definitions from dir. The embedded
// workflow schema is compiled once up front.
func NewLoader(dir string) (*Loader, error) {
	compiled, err := compileWorkflowSchema()
	if err != nil {
		return nil, err
	}
	return &Loader{dir: dir, compiled: compiled}, nil
}

// Dir returns the definitions directory.
func (l *Loader) Dir() string { return l.dir }

// Load reads, validates, and parses the definition named name. Fails with
// NOT_FOUND if no definition file matches, VALIDATION_ERROR if required
// fields are missing or malformed.
func (l *Loader) Load(name string) (*schema.WorkflowDefinition, error) {
	safeName, err := schema.SanitizeIdentifier(name)
	if err != nil {
		return nil, err
	}

	path := filepath.Join(l.dir, safeName+".yaml")
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, schema.NewErrorf(schema.ErrCodeNotFound, "workflow definition not found: %s", safeName)
		}
		return nil, schema.NewErrorf(schema.ErrCodeStore, "read definition %s: %v", path, err).WithCause(err)
	}

	var doc map[string]any
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "parse definition %s: %v", safeName, err).WithCause(err)
	}

	return l.Parse(doc)
}

// Parse validates a raw definition record and builds a WorkflowDefinition
// from it. The record shape is the one produced by YAML or JSON decoding.
func (l *Loader) Parse(doc map[string]any) (*schema.WorkflowDefinition, error) {
	// Round-trip through JSON so both the validator and the parser see one
	// canonical value shape regardless of the decoder that produced doc.
	encoded, err := json.Marshal(doc)
	if err != nil {
		return nil, schema.NewError(schema.ErrCodeValidation, "definition is not JSON-serializable").WithCause(err)
	}

	if err := l.validate(encoded); err != nil {
		return nil, err
	}

	var canonical map[string]any
	if err := json.Unmarshal(encoded, &canonical); err != nil {
		return nil, schema.NewError(schema.ErrCodeValidation, "decode definition").WithCause(err)
	}

	def := &schema.WorkflowDefinition{
		Name:           stringField(canonical, "name", ""),
		Description:    stringField(canonical, "description", ""),
		Version:        stringField(canonical, "version", "1.0.0"),
		OnFailure:      stringField(canonical, "on_failure", "notify"),
		OnSuccess:      stringField(canonical, "on_success", "notify"),
		TimeoutSeconds: intField(canonical, "timeout_seconds", schema.DefaultWorkflowTimeoutSeconds),
		Metadata:       mapField(canonical, "metadata"),
	}

	rawSteps, _ := canonical["steps"].([]any)
	for i, rawStep := range rawSteps {
		stepDoc, ok := rawStep.(map[string]any)
		if !ok {
			return nil, schema.NewErrorf(schema.ErrCodeValidation, "step %d is not a mapping", i)
		}
		step, err := parseStep(stepDoc)
		if err != nil {
			return nil, err
		}
		def.Steps = append(def.Steps, *step)
	}

	return def, nil
}

func (l *Loader) validate(encoded []byte) error {
	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(string(encoded)))
	if err != nil {
		return schema.NewError(schema.ErrCodeValidation, "decode definition for validation").WithCause(err)
	}
	if err := l.compiled.Validate(doc); err != nil {
		return toValidationError(err)
	}
	return nil
}

// parseStep builds one WorkflowStep. The step kind is determined by which of
// the four mutually exclusive key families is present; a step with none
// defaults to a command step with an empty target rather than failing the
// whole load.
func parseStep(doc map[string]any) (*schema.WorkflowStep, error) {
	step := &schema.WorkflowStep{
		Name:              stringField(doc, "name", ""),
		Type:              schema.StepTypeCommand,
		Inputs:            mapField(doc, "inputs"),
		Outputs:           stringSliceField(doc, "outputs"),
		TimeoutSeconds:    intField(doc, "timeout_seconds", schema.DefaultStepTimeoutSeconds),
		RetryCount:        intField(doc, "retry_count", 0),
		ContinueOnFailure: boolField(doc, "continue_on_failure", false),
		DependsOn:         stringSliceField(doc, "depends_on"),
	}

	switch {
	case doc["command"] != nil:
		step.Type = schema.StepTypeCommand
		step.Target = stringField(doc, "command", "")
	case doc["agent"] != nil:
		step.Type = schema.StepTypeAgent
		step.Target = stringField(doc, "agent", "")
	case doc["shell"] != nil:
		step.Type = schema.StepTypeShell
		step.Target = stringField(doc, "shell", "")
	case doc["parallel"] != nil:
		step.Type = schema.StepTypeParallel
		// Parallel targets are flattened to a comma-joined list; consumers
		// re-split on comma.
		step.Target = strings.Join(stringSliceField(doc, "parallel"), ",")
	}

	if rawGate, ok := doc["gate"].(map[string]any); ok {
		gate, err := parseGate(rawGate)
		if err != nil {
			return nil, err
		}
		step.Gate = gate
	}

	return step, nil
}

func parseGate(doc map[string]any) (*schema.ApprovalGate, error) {
	gate := &schema.ApprovalGate{
		Type:      schema.GateType(stringField(doc, "type", string(schema.GateTypeManual))),
		Message:   stringField(doc, "message", schema.DefaultGateMessage),
		Condition: stringField(doc, "condition", ""),
		Fallback:  stringField(doc, "fallback", schema.FallbackFail),
		Approvers: stringSliceField(doc, "approvers"),
		Notify:    boolField(doc, "notify", true),
	}

	switch gate.Type {
	case schema.GateTypeManual, schema.GateTypeTimeout, schema.GateTypeConditional:
	default:
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "unknown gate type %q", gate.Type)
	}

	if raw, ok := doc["timeout_seconds"]; ok {
		if n, ok := toInt(raw); ok {
			gate.TimeoutSeconds = &n
		}
	}

	return gate, nil
}

// --- Field helpers ---

func stringField(doc map[string]any, key, fallback string) string {
	if s, ok := doc[key].(string); ok {
		return s
	}
	return fallback
}

func intField(doc map[string]any, key string, fallback int) int {
	if n, ok := toInt(doc[key]); ok {
		return n
	}
	return fallback
}

func toInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	case json.Number:
		if i, err := n.Int64(); err == nil {
			return int(i), true
		}
	}
	return 0, false
}

func boolField(doc map[string]any, key string, fallback bool) bool {
	if b, ok := doc[key].(bool); ok {
		return b
	}
	return fallback
}

func mapField(doc map[string]any, key string) map[string]any {
	if m, ok := doc[key].(map[string]any); ok {
		return m
	}
	return map[string]any{}
}

func stringSliceField(doc map[string]any, key string) []string {
	raw, ok := doc[key].([]any)
	if !ok {
		return nil
	}
	result := make([]string, 0, len(raw))
	for _, item := range raw {
		if s, ok := item.(string); ok {
			result = append(result, s)
		}
	}
	return result
}

// toValidationError flattens a jsonschema validation failure into a
// VALIDATION_ERROR with per-violation detail.
func toValidationError(err error) *schema.WorkflowError {
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
	return schema.NewErrorf(schema.ErrCodeValidation, "definition invalid: %d violations", len(violations)).
		WithDetails(map[string]any{"violations": violations})
}

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
