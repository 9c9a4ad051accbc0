package mcpdesk

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// PreviousResult is the placeholder a plan author can use to pass the
// preceding step's result into an argument.
const PreviousResult = "PREVIOUS_RESULT"

// ExpressionKey marks an argument object as an expression binding: {"$expr": "..."}.
const ExpressionKey = "$expr"

// stepRefPattern is StepVariablePattern anchored to the whole argument.
var stepRefPattern = regexp.MustCompile(`^` + StepVariablePattern.String() + `$`)

// ParseBinding converts a raw argument value, as written in model output or a
// plan file, into an ArgumentSource for the step at index.
//
//	"$step0"          -> result of step 0
//	"$step0.price"    -> field "price" of step 0's result
//	"$step0[1].price" -> field "price" of the second element of step 0's result
//	"PREVIOUS_RESULT" -> result of step index-1
//	{"$expr": "..."}  -> expression over earlier results
//
// Anything else is a literal.
func ParseBinding(raw interface{}, index int) (ArgumentSource, error) {
	switch v := raw.(type) {
	case string:
		s := strings.TrimSpace(v)
		if s == PreviousResult {
			return StepRef(index-1, ""), nil
		}
		if m := stepRefPattern.FindStringSubmatch(s); m != nil {
			n, err := strconv.Atoi(m[1])
			if err != nil {
				return ArgumentSource{}, fmt.Errorf("invalid step reference %q: %w", s, err)
			}
			return StepRef(n, strings.TrimPrefix(m[2], ".")), nil
		}
	case map[string]interface{}:
		if expr, ok := v[ExpressionKey]; ok {
			if len(v) != 1 {
				return ArgumentSource{}, fmt.Errorf("expression binding must only contain %q", ExpressionKey)
			}
			s, ok := expr.(string)
			if !ok || strings.TrimSpace(s) == "" {
				return ArgumentSource{}, fmt.Errorf("expression binding must be a non-empty string")
			}
			return Expr(s), nil
		}
	}
	return Literal(raw), nil
}

// ParseBindings converts every raw argument of one step.
func ParseBindings(raw map[string]interface{}, index int) (map[string]ArgumentSource, error) {
	args := make(map[string]ArgumentSource, len(raw))
	for name, value := range raw {
		src, err := ParseBinding(value, index)
		if err != nil {
			return nil, fmt.Errorf("argument '%s': %w", name, err)
		}
		args[name] = src
	}
	return args, nil
}

// EncodeBinding is the inverse of ParseBinding.
func EncodeBinding(a ArgumentSource) interface{} {
	switch a.Kind {
	case BindingStep:
		return stepRef(a.Step, a.Field)
	case BindingExpression:
		return map[string]interface{}{ExpressionKey: a.Expression}
	}
	return a.Value
}

// stepRef writes a step reference; a field path starting with an index has no
// separating dot.
func stepRef(step int, field string) string {
	switch {
	case field == "":
		return fmt.Sprintf("$step%d", step)
	case strings.HasPrefix(field, "["):
		return fmt.Sprintf("$step%d%s", step, field)
	default:
		return fmt.Sprintf("$step%d.%s", step, field)
	}
}
