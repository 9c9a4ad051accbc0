package executor

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/ZanzyTHEbar/mcpdesk"
)

// resolveArguments turns a step's bindings into concrete values. References to
// failed steps resolve to mcpdesk.Unavailable. Optional arguments that resolve
// to nil are dropped.
func resolveArguments(step mcpdesk.PlanStep, outcomes []mcpdesk.StepOutcome, functions *FunctionRegistry) (map[string]interface{}, error) {
	resolved := make(map[string]interface{}, len(step.Args))
	for _, name := range step.ArgNames() {
		arg := step.Args[name]
		var value interface{}
		var err error

		switch arg.Kind {
		case mcpdesk.BindingLiteral:
			value = arg.Value
		case mcpdesk.BindingStep:
			value, err = resolveStepOutput(arg, outcomes)
		case mcpdesk.BindingExpression:
			value, err = evaluateExpression(arg.Expression, outcomes, functions)
		default:
			err = fmt.Errorf("unknown binding kind '%s'", arg.Kind)
		}
		if err != nil {
			return nil, mcpdesk.NewArgResolutionError("execution", step.Index, name, err)
		}
		if value == nil {
			continue
		}
		resolved[name] = value
	}
	return resolved, nil
}

func resolveStepOutput(arg mcpdesk.ArgumentSource, outcomes []mcpdesk.StepOutcome) (interface{}, error) {
	if arg.Step < 0 || arg.Step >= len(outcomes) {
		return nil, fmt.Errorf("step %d is out of range", arg.Step)
	}
	dep := outcomes[arg.Step]
	if !dep.OK() {
		return mcpdesk.Unavailable, nil
	}
	if arg.Field == "" || arg.Field == "*" {
		return dep.Value, nil
	}
	return extractPath(dep.Value, splitPath(arg.Field))
}

// splitPath splits "a.b[0].c" into ["a", "b", "0", "c"].
func splitPath(path string) []string {
	path = strings.ReplaceAll(path, "[", ".")
	path = strings.ReplaceAll(path, "]", "")
	var parts []string
	for _, p := range strings.Split(path, ".") {
		if p != "" {
			parts = append(parts, p)
		}
	}
	return parts
}

// extractPath walks a result value. Map keys and array indexes are supported;
// other composite values are viewed through their JSON encoding.
func extractPath(value interface{}, path []string) (interface{}, error) {
	current := value
	for depth, key := range path {
		switch v := plain(current).(type) {
		case map[string]interface{}:
			next, ok := v[key]
			if !ok {
				return nil, fmt.Errorf("field '%s' not found in result", strings.Join(path[:depth+1], "."))
			}
			current = next
		case []interface{}:
			idx, err := strconv.Atoi(key)
			if err != nil || idx < 0 || idx >= len(v) {
				return nil, fmt.Errorf("invalid index '%s' for result of length %d", key, len(v))
			}
			current = v[idx]
		default:
			return nil, fmt.Errorf("cannot read field '%s' from a %T result", key, current)
		}
	}
	return current, nil
}

// plain converts structs and typed collections to the generic shapes produced
// by encoding/json. Scalars and generic shapes are returned unchanged.
func plain(value interface{}) interface{} {
	switch value.(type) {
	case nil, string, bool, float64, map[string]interface{}, []interface{}:
		return value
	case int, int32, int64, float32, uint, uint32, uint64:
		return value
	}
	data, err := json.Marshal(value)
	if err != nil {
		return value
	}
	var out interface{}
	if err := json.Unmarshal(data, &out); err != nil {
		return value
	}
	return out
}

// checkResolvedTypes re-checks argument types once references have values.
func checkResolvedTypes(args map[string]interface{}, desc mcpdesk.ToolDescriptor) error {
	for _, spec := range desc.Params {
		v, ok := args[spec.Name]
		if !ok {
			if spec.Required {
				return fmt.Errorf("required argument '%s' resolved to no value", spec.Name)
			}
			continue
		}
		if !spec.Type.Accepts(v) {
			if coerced, ok := coerce(v, spec.Type); ok {
				args[spec.Name] = coerced
				continue
			}
			return fmt.Errorf("argument '%s' resolved to %T, expected %s", spec.Name, v, spec.Type)
		}
	}
	return nil
}

// coerce renders a structured step result as text for string parameters, so a
// step can feed a previous result into a text tool.
func coerce(v interface{}, t mcpdesk.ParamType) (interface{}, bool) {
	if t != mcpdesk.ParamString {
		return nil, false
	}
	switch s := v.(type) {
	case fmt.Stringer:
		return s.String(), true
	case float64, int, int64, bool:
		return fmt.Sprint(s), true
	}
	data, err := json.Marshal(plain(v))
	if err != nil {
		return nil, false
	}
	return string(data), true
}
