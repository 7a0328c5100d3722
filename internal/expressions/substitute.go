package expressions

import (
	"fmt"
	"strings"

	"github.com/alessio/shellescape"
)

// Substitute replaces {{ name }} tokens in value with the textual form of
// the corresponding variable. It recurses through nested structures: map
// values are substituted (keys untouched), every sequence element is
// substituted. There is no expression evaluation inside the braces, only
// pure string substitution.
//
// When shellSafe is true every substituted value is shell-escaped to prevent
// command injection; the literal template text is never escaped.
func Substitute(value any, variables map[string]any, shellSafe bool) any {
	switch v := value.(type) {
	case string:
		for name, varValue := range variables {
			text := fmt.Sprintf("%v", varValue)
			if shellSafe {
				text = shellescape.Quote(text)
			}
			v = strings.ReplaceAll(v, "{{ "+name+" }}", text)
		}
		return v
	case map[string]any:
		result := make(map[string]any, len(v))
		for k, item := range v {
			result[k] = Substitute(item, variables, shellSafe)
		}
		return result
	case []any:
		result := make([]any, len(v))
		for i, item := range v {
			result[i] = Substitute(item, variables, shellSafe)
		}
		return result
	}
	return value
}

// SubstituteString is Substitute specialized for string templates such as
// shell command text.
func SubstituteString(template string, variables map[string]any, shellSafe bool) string {
	return Substitute(template, variables, shellSafe).(string)
}
