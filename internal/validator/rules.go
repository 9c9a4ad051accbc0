package validator

import (
	"fmt"

	"github.com/Knetic/govaluate"

	"github.com/ZanzyTHEbar/mcpdesk"
)

// The checks below are shared with the planner's structural validation. Each
// returns the first violation in plan order, or nil.

// CheckDependencies rejects step indexes that do not match their position and
// any reference that does not point strictly backward.
func CheckDependencies(plan *mcpdesk.Plan) *mcpdesk.RuleViolation {
	for i, step := range plan.Steps {
		if step.Index != i {
			return &mcpdesk.RuleViolation{
				Rule:      mcpdesk.RuleInvalidDependency,
				StepIndex: i,
				Tool:      step.Tool,
				Message:   fmt.Sprintf("step at position %d declares index %d", i, step.Index),
			}
		}
		for _, name := range step.ArgNames() {
			arg := step.Args[name]
			for _, ref := range arg.References() {
				if ref >= i || ref < 0 {
					kind := "forward"
					switch {
					case ref == i:
						kind = "self"
					case ref < 0:
						kind = "out-of-range"
					}
					return &mcpdesk.RuleViolation{
						Rule:      mcpdesk.RuleInvalidDependency,
						StepIndex: i,
						Tool:      step.Tool,
						Param:     name,
						Message:   fmt.Sprintf("%s reference to step %d", kind, ref),
					}
				}
			}
		}
	}
	return nil
}

// CheckTools rejects steps naming a tool that is not in the catalog.
func CheckTools(plan *mcpdesk.Plan, catalog mcpdesk.Catalog) *mcpdesk.RuleViolation {
	for i, step := range plan.Steps {
		if _, ok := catalog.Lookup(step.Tool); !ok {
			return &mcpdesk.RuleViolation{
				Rule:      mcpdesk.RuleUnknownTool,
				StepIndex: i,
				Tool:      step.Tool,
				Message:   fmt.Sprintf("tool '%s' is not registered", step.Tool),
			}
		}
	}
	return nil
}

// CheckArguments type-checks every step's bindings against its tool schema.
// Literal values must match the declared type; references are checked at run
// time once their value is known. Unknown tools are skipped.
func CheckArguments(plan *mcpdesk.Plan, catalog mcpdesk.Catalog) *mcpdesk.RuleViolation {
	for i, step := range plan.Steps {
		desc, ok := catalog.Lookup(step.Tool)
		if !ok {
			continue
		}
		if v := checkStepArguments(i, step, desc); v != nil {
			return v
		}
	}
	return nil
}

func checkStepArguments(i int, step mcpdesk.PlanStep, desc mcpdesk.ToolDescriptor) *mcpdesk.RuleViolation {
	violation := func(param, msg string) *mcpdesk.RuleViolation {
		return &mcpdesk.RuleViolation{
			Rule:      mcpdesk.RuleInvalidArguments,
			StepIndex: i,
			Tool:      step.Tool,
			Param:     param,
			Message:   msg,
		}
	}

	for _, name := range step.ArgNames() {
		arg := step.Args[name]
		spec, ok := desc.Param(name)
		if !ok {
			return violation(name, fmt.Sprintf("tool '%s' has no parameter '%s'", desc.Name, name))
		}
		switch arg.Kind {
		case mcpdesk.BindingLiteral:
			if arg.Value == nil {
				if spec.Required {
					return violation(name, fmt.Sprintf("required parameter '%s' is null", name))
				}
				continue
			}
			if !spec.Type.Accepts(arg.Value) {
				return violation(name, fmt.Sprintf("parameter '%s' expects %s, got %T", name, spec.Type, arg.Value))
			}
		case mcpdesk.BindingExpression:
			if err := checkExpressionSyntax(arg.Expression); err != nil {
				return violation(name, fmt.Sprintf("expression for '%s' cannot be parsed: %v", name, err))
			}
		case mcpdesk.BindingStep:
		default:
			return violation(name, fmt.Sprintf("parameter '%s' has unknown binding kind '%s'", name, arg.Kind))
		}
	}

	for _, spec := range desc.Params {
		if !spec.Required {
			continue
		}
		if _, ok := step.Args[spec.Name]; !ok {
			return violation(spec.Name, fmt.Sprintf("missing required parameter '%s'", spec.Name))
		}
	}
	return nil
}

// CheckSize rejects plans longer than maxSteps. A non-positive maxSteps
// disables the check.
func CheckSize(plan *mcpdesk.Plan, maxSteps int) *mcpdesk.RuleViolation {
	if maxSteps > 0 && len(plan.Steps) > maxSteps {
		return &mcpdesk.RuleViolation{
			Rule:      mcpdesk.RulePlanTooLarge,
			StepIndex: mcpdesk.PlanLevel,
			Message:   fmt.Sprintf("plan has %d steps, maximum is %d", len(plan.Steps), maxSteps),
		}
	}
	return nil
}

// checkExpressionSyntax parses an expression with its step variables replaced
// by plain identifiers. Functions are resolved at run time, so calls are
// accepted here by supplying a permissive function table.
func checkExpressionSyntax(expr string) error {
	replaced := mcpdesk.StepVariablePattern.ReplaceAllString(expr, "v")
	_, err := govaluate.NewEvaluableExpressionWithFunctions(replaced, permissiveFunctions(replaced))
	return err
}

func permissiveFunctions(expr string) map[string]govaluate.ExpressionFunction {
	fns := make(map[string]govaluate.ExpressionFunction)
	for _, m := range functionCallPattern.FindAllStringSubmatch(expr, -1) {
		fns[m[1]] = func(args ...interface{}) (interface{}, error) { return nil, nil }
	}
	return fns
}
