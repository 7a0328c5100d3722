// Package expressions implements the restricted expression surface of the
// engine: a single-grammar condition matcher for gates and textual variable
// substitution for step inputs. Gate conditions can affect pipeline safety,
// so the evaluator deliberately trades expressiveness for a small, auditable
// surface: anything outside the one supported grammar evaluates to false,
// never errors.
package expressions

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/bigdegenenergy/open-cloud-ops/pkg/schema"
)

// conditionPattern is the one supported grammar: <path> <op> <literal>.
// Paths allow dotted and bracket-string segments (step names may contain
// hyphens, which bare dotted notation cannot express). Literals are integers
// or single/double-quoted strings.
var conditionPattern = regexp.MustCompile(
	`^([\w\-]+(?:\.[\w\-]+|\['[^']*'\]|\["[^"]*"\])*)\s*(==|!=|<=|>=|<|>)\s*(-?\d+|'[^']*'|"[^"]*")$`)

// bracketPattern matches one bracket-string path segment.
var bracketPattern = regexp.MustCompile(`\['([^']*)'\]|\["([^"]*)"\]`)

// EvaluateCondition evaluates a conditional gate expression against the
// accumulated step results and variables.
//
// The context exposes:
//   - steps: step name -> result fields (status, output, error, ...)
//   - findings: severity counts pulled from any step output carrying a
//     "findings" list (convenience alias for review-style pipelines)
//   - variables: the workflow variable map, also spread at top level
//
// Example conditions:
//
//	findings.critical == 0
//	test_coverage > 80
//	steps['build-unit'].status == 'completed'
func EvaluateCondition(condition string, stepResults []schema.StepResult, variables map[string]any) bool {
	match := conditionPattern.FindStringSubmatch(strings.TrimSpace(condition))
	if match == nil {
		return false
	}
	leftExpr, op, rightExpr := match[1], match[2], match[3]

	left, ok := resolvePath(leftExpr, buildContext(stepResults, variables))
	if !ok {
		return false
	}

	if strings.HasPrefix(rightExpr, "'") || strings.HasPrefix(rightExpr, `"`) {
		return compareStrings(left, op, rightExpr[1:len(rightExpr)-1])
	}
	right, err := strconv.ParseInt(rightExpr, 10, 64)
	if err != nil {
		return false
	}
	return compareNumbers(left, op, float64(right))
}

// buildContext assembles the evaluation context from step results and
// variables.
func buildContext(stepResults []schema.StepResult, variables map[string]any) map[string]any {
	steps := make(map[string]any, len(stepResults))
	findings := map[string]any{"critical": 0, "high": 0, "medium": 0, "low": 0}

	for i := range stepResults {
		r := &stepResults[i]
		steps[r.StepName] = map[string]any{
			"step_name":        r.StepName,
			"status":           string(r.Status),
			"output":           r.Output,
			"error":            r.Error,
			"duration_seconds": r.DurationSeconds,
			"retry_attempts":   r.RetryAttempts,
		}

		// Count finding severities from any step output that carries a
		// findings list.
		output, ok := r.Output.(map[string]any)
		if !ok {
			continue
		}
		list, ok := output["findings"].([]any)
		if !ok {
			continue
		}
		for _, item := range list {
			finding, ok := item.(map[string]any)
			if !ok {
				continue
			}
			severity, _ := finding["severity"].(string)
			if severity == "" {
				severity = "low"
			}
			count, _ := toFloat(findings[severity])
			findings[severity] = int(count) + 1
		}
	}

	context := map[string]any{
		"steps":     steps,
		"findings":  findings,
		"variables": variables,
	}
	for name, value := range variables {
		if _, reserved := context[name]; !reserved {
			context[name] = value
		}
	}
	return context
}

// resolvePath walks a dotted/bracketed accessor through nested maps.
// Unresolvable paths report false, never error.
func resolvePath(expr string, context map[string]any) (any, bool) {
	var value any = context
	for _, part := range splitPath(expr) {
		m, ok := value.(map[string]any)
		if !ok {
			return nil, false
		}
		value, ok = m[part]
		if !ok {
			return nil, false
		}
	}
	return value, true
}

// splitPath breaks "steps['build-unit'].status" into its segments, handling
// both dotted and bracket-string notation.
func splitPath(expr string) []string {
	var parts []string
	rest := expr
	for rest != "" {
		loc := bracketPattern.FindStringSubmatchIndex(rest)
		if loc == nil {
			for _, p := range strings.Split(rest, ".") {
				if p != "" {
					parts = append(parts, p)
				}
			}
			break
		}
		before := rest[:loc[0]]
		for _, p := range strings.Split(before, ".") {
			if p != "" {
				parts = append(parts, p)
			}
		}
		if loc[2] >= 0 {
			parts = append(parts, rest[loc[2]:loc[3]])
		} else {
			parts = append(parts, rest[loc[4]:loc[5]])
		}
		rest = rest[loc[1]:]
		rest = strings.TrimPrefix(rest, ".")
	}
	return parts
}

func compareStrings(left any, op string, right string) bool {
	s, ok := left.(string)
	if !ok {
		// Type mismatch: only inequality can hold.
		return op == "!="
	}
	switch op {
	case "==":
		return s == right
	case "!=":
		return s != right
	case "<":
		return s < right
	case ">":
		return s > right
	case "<=":
		return s <= right
	case ">=":
		return s >= right
	}
	return false
}

func compareNumbers(left any, op string, right float64) bool {
	l, ok := toFloat(left)
	if !ok {
		return op == "!="
	}
	switch op {
	case "==":
		return l == right
	case "!=":
		return l != right
	case "<":
		return l < right
	case ">":
		return l > right
	case "<=":
		return l <= right
	case ">=":
		return l >= right
	}
	return false
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case float64:
		return n, true
	case float32:
		return float64(n), true
	}
	return 0, false
}
