package executor

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"sync"

	"github.com/Knetic/govaluate"

	"github.com/ZanzyTHEbar/mcpdesk"
)

// FunctionRegistry holds the functions expressions may call. Only registered
// functions are visible to an expression.
type FunctionRegistry struct {
	mu        sync.RWMutex
	functions map[string]govaluate.ExpressionFunction
}

// NewFunctionRegistry creates a registry with the built-in functions.
func NewFunctionRegistry() *FunctionRegistry {
	r := &FunctionRegistry{functions: make(map[string]govaluate.ExpressionFunction)}
	for name, fn := range builtinFunctions {
		r.functions[name] = fn
	}
	return r
}

var (
	defaultFunctionsOnce sync.Once
	defaultFunctions     *FunctionRegistry
)

// DefaultFunctions returns the process-wide registry used by executors that
// were not given one.
func DefaultFunctions() *FunctionRegistry {
	defaultFunctionsOnce.Do(func() {
		defaultFunctions = NewFunctionRegistry()
	})
	return defaultFunctions
}

// RegisterExpressionFunction adds a function to the default registry.
func RegisterExpressionFunction(name string, fn govaluate.ExpressionFunction) {
	DefaultFunctions().Register(name, fn)
}

// Register adds or replaces a function.
func (r *FunctionRegistry) Register(name string, fn govaluate.ExpressionFunction) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.functions[name] = fn
}

// Functions returns a copy of the registered functions.
func (r *FunctionRegistry) Functions() map[string]govaluate.ExpressionFunction {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]govaluate.ExpressionFunction, len(r.functions))
	for k, v := range r.functions {
		out[k] = v
	}
	return out
}

// ValidateExpression checks that expr parses with the registry's functions.
func (r *FunctionRegistry) ValidateExpression(expr string) error {
	replaced := mcpdesk.StepVariablePattern.ReplaceAllString(expr, "v")
	_, err := govaluate.NewEvaluableExpressionWithFunctions(replaced, r.Functions())
	return err
}

// evaluateExpression evaluates expr with its $stepN variables bound to earlier
// outcomes. If any referenced step failed the whole expression is unavailable.
func evaluateExpression(expr string, outcomes []mcpdesk.StepOutcome, functions *FunctionRegistry) (interface{}, error) {
	if strings.TrimSpace(expr) == "" {
		return nil, fmt.Errorf("empty expression")
	}
	if functions == nil {
		functions = DefaultFunctions()
	}

	variables := map[string]interface{}{}
	var resolveErr error
	unavailable := false
	replaced := mcpdesk.StepVariablePattern.ReplaceAllStringFunc(expr, func(matched string) string {
		m := mcpdesk.StepVariablePattern.FindStringSubmatch(matched)
		idx, err := strconv.Atoi(m[1])
		if err != nil || idx < 0 || idx >= len(outcomes) {
			resolveErr = fmt.Errorf("reference %s is out of range", matched)
			return matched
		}
		dep := outcomes[idx]
		if !dep.OK() {
			unavailable = true
			return "unavailable"
		}
		val, err := extractPath(dep.Value, splitPath(m[2]))
		if err != nil && resolveErr == nil {
			resolveErr = fmt.Errorf("%s: %w", matched, err)
		}
		name := "step" + m[1]
		for _, part := range splitPath(m[2]) {
			name += "_" + part
		}
		variables[name] = numeric(val)
		return name
	})
	if resolveErr != nil {
		return nil, resolveErr
	}
	if unavailable {
		return mcpdesk.Unavailable, nil
	}

	evalExpr, err := govaluate.NewEvaluableExpressionWithFunctions(replaced, functions.Functions())
	if err != nil {
		return nil, mcpdesk.NewError(mcpdesk.ErrCodeExpressionFailure, "expression", fmt.Sprintf("failed to parse expression: %s", expr), err)
	}
	result, err := evalExpr.Evaluate(variables)
	if err != nil {
		return nil, mcpdesk.NewError(mcpdesk.ErrCodeExpressionFailure, "expression", fmt.Sprintf("failed to evaluate expression: %s", expr), err)
	}
	return result, nil
}

// numeric widens integer values to float64, the only number type the
// evaluator does arithmetic on.
func numeric(v interface{}) interface{} {
	switch n := v.(type) {
	case int:
		return float64(n)
	case int32:
		return float64(n)
	case int64:
		return float64(n)
	case float32:
		return float64(n)
	case uint:
		return float64(n)
	case uint64:
		return float64(n)
	}
	return v
}

func toNumber(v interface{}) (float64, error) {
	switch n := numeric(v).(type) {
	case float64:
		return n, nil
	case string:
		return strconv.ParseFloat(strings.TrimSpace(n), 64)
	case bool:
		if n {
			return 1, nil
		}
		return 0, nil
	}
	return 0, fmt.Errorf("%v is not a number", v)
}

func arity(name string, args []interface{}, n int) error {
	if len(args) != n {
		return fmt.Errorf("%s expects %d argument(s), got %d", name, n, len(args))
	}
	return nil
}

var builtinFunctions = map[string]govaluate.ExpressionFunction{
	"len": func(args ...interface{}) (interface{}, error) {
		if err := arity("len", args, 1); err != nil {
			return nil, err
		}
		switch v := plain(args[0]).(type) {
		case string:
			return float64(len([]rune(v))), nil
		case []interface{}:
			return float64(len(v)), nil
		case map[string]interface{}:
			return float64(len(v)), nil
		}
		return nil, fmt.Errorf("len: unsupported type %T", args[0])
	},
	"upper": func(args ...interface{}) (interface{}, error) {
		if err := arity("upper", args, 1); err != nil {
			return nil, err
		}
		return strings.ToUpper(fmt.Sprint(args[0])), nil
	},
	"lower": func(args ...interface{}) (interface{}, error) {
		if err := arity("lower", args, 1); err != nil {
			return nil, err
		}
		return strings.ToLower(fmt.Sprint(args[0])), nil
	},
	"trim": func(args ...interface{}) (interface{}, error) {
		if err := arity("trim", args, 1); err != nil {
			return nil, err
		}
		return strings.TrimSpace(fmt.Sprint(args[0])), nil
	},
	"concat": func(args ...interface{}) (interface{}, error) {
		var b strings.Builder
		for _, a := range args {
			b.WriteString(fmt.Sprint(a))
		}
		return b.String(), nil
	},
	"str": func(args ...interface{}) (interface{}, error) {
		if err := arity("str", args, 1); err != nil {
			return nil, err
		}
		if f, ok := args[0].(float64); ok {
			return strconv.FormatFloat(f, 'f', -1, 64), nil
		}
		return fmt.Sprint(args[0]), nil
	},
	"num": func(args ...interface{}) (interface{}, error) {
		if err := arity("num", args, 1); err != nil {
			return nil, err
		}
		return toNumber(args[0])
	},
	"abs": func(args ...interface{}) (interface{}, error) {
		if err := arity("abs", args, 1); err != nil {
			return nil, err
		}
		f, err := toNumber(args[0])
		if err != nil {
			return nil, err
		}
		return math.Abs(f), nil
	},
	"round": func(args ...interface{}) (interface{}, error) {
		if len(args) < 1 || len(args) > 2 {
			return nil, fmt.Errorf("round expects 1 or 2 arguments, got %d", len(args))
		}
		f, err := toNumber(args[0])
		if err != nil {
			return nil, err
		}
		places := 0.0
		if len(args) == 2 {
			if places, err = toNumber(args[1]); err != nil {
				return nil, err
			}
		}
		scale := math.Pow(10, places)
		return math.Round(f*scale) / scale, nil
	},
	"min": func(args ...interface{}) (interface{}, error) {
		return fold("min", args, math.Min)
	},
	"max": func(args ...interface{}) (interface{}, error) {
		return fold("max", args, math.Max)
	},
	"pct_change": func(args ...interface{}) (interface{}, error) {
		if err := arity("pct_change", args, 2); err != nil {
			return nil, err
		}
		from, err := toNumber(args[0])
		if err != nil {
			return nil, err
		}
		to, err := toNumber(args[1])
		if err != nil {
			return nil, err
		}
		if from == 0 {
			return nil, fmt.Errorf("pct_change: base value is zero")
		}
		return (to - from) / from * 100, nil
	},
	"contains": func(args ...interface{}) (interface{}, error) {
		if err := arity("contains", args, 2); err != nil {
			return nil, err
		}
		return strings.Contains(fmt.Sprint(args[0]), fmt.Sprint(args[1])), nil
	},
}

func fold(name string, args []interface{}, f func(a, b float64) float64) (interface{}, error) {
	if len(args) == 0 {
		return nil, fmt.Errorf("%s expects at least one argument", name)
	}
	acc, err := toNumber(args[0])
	if err != nil {
		return nil, err
	}
	for _, a := range args[1:] {
		n, err := toNumber(a)
		if err != nil {
			return nil, err
		}
		acc = f(acc, n)
	}
	return acc, nil
}
