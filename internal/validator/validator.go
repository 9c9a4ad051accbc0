// Package validator implements the deterministic policy gate between the
// planner and the executor.
package validator

import (
	"fmt"
	"regexp"
	"strconv"

	"github.com/ZanzyTHEbar/mcpdesk"
)

var functionCallPattern = regexp.MustCompile(`([a-zA-Z_][a-zA-Z0-9_]*)\s*\(`)

// DefaultMaxSteps bounds plans when no limit is configured.
const DefaultMaxSteps = 10

// Policy is the validator's configuration input.
type Policy struct {
	// MaxSteps is the largest plan accepted. Zero or less disables the limit.
	MaxSteps int
	// ElevationRequired lists the risk tags that only elevated requests may run.
	ElevationRequired []mcpdesk.RiskTag
	// RiskOverrides replaces the registered risk tag of individual tools.
	RiskOverrides map[string]mcpdesk.RiskTag
}

// DefaultPolicy requires elevation for destructive tools only.
func DefaultPolicy() Policy {
	return Policy{
		MaxSteps:          DefaultMaxSteps,
		ElevationRequired: []mcpdesk.RiskTag{mcpdesk.RiskDestructive},
	}
}

// PolicyValidator evaluates plans against a Policy. It holds no mutable state.
type PolicyValidator struct {
	policy   Policy
	elevated map[mcpdesk.RiskTag]struct{}
}

// New creates a validator for the given policy.
func New(policy Policy) *PolicyValidator {
	elevated := make(map[mcpdesk.RiskTag]struct{}, len(policy.ElevationRequired))
	for _, tag := range policy.ElevationRequired {
		elevated[tag] = struct{}{}
	}
	overrides := make(map[string]mcpdesk.RiskTag, len(policy.RiskOverrides))
	for k, v := range policy.RiskOverrides {
		overrides[k] = v
	}
	policy.RiskOverrides = overrides
	return &PolicyValidator{policy: policy, elevated: elevated}
}

// Policy returns the validator's policy.
func (v *PolicyValidator) Policy() Policy {
	return v.policy
}

// EffectiveRisk returns the risk tag the policy assigns to a tool.
func (v *PolicyValidator) EffectiveRisk(desc mcpdesk.ToolDescriptor) mcpdesk.RiskTag {
	if risk, ok := v.policy.RiskOverrides[desc.Name]; ok {
		return risk
	}
	return desc.Risk
}

// RequiresElevation reports whether the policy reserves risk for elevated requests.
func (v *PolicyValidator) RequiresElevation(risk mcpdesk.RiskTag) bool {
	_, ok := v.elevated[risk]
	return ok
}

// Validate returns exactly one verdict for the plan.
//
// Dependency structure is checked before the numbered rules: a forward or
// self reference is always InvalidDependency whatever else the plan contains,
// and pruning needs a well-formed dependency graph to decide what it breaks.
// The remaining rules run in order: unknown tools, elevation pruning,
// argument types, plan size.
func (v *PolicyValidator) Validate(plan *mcpdesk.Plan, catalog mcpdesk.Catalog, vctx mcpdesk.ValidationContext) mcpdesk.Verdict {
	if plan.IsEmpty() {
		if plan == nil {
			plan = &mcpdesk.Plan{}
		}
		return mcpdesk.Approved(plan)
	}

	if violation := CheckDependencies(plan); violation != nil {
		return mcpdesk.Rejected(*violation)
	}
	if violation := CheckTools(plan, catalog); violation != nil {
		return mcpdesk.Rejected(*violation)
	}

	candidate, changes, origin, violation := v.prune(plan, catalog, vctx)
	if violation != nil {
		return mcpdesk.Rejected(*violation)
	}

	if violation := CheckArguments(candidate, catalog); violation != nil {
		violation.StepIndex = origin[violation.StepIndex]
		return mcpdesk.Rejected(*violation)
	}
	if violation := CheckSize(candidate, v.policy.MaxSteps); violation != nil {
		return mcpdesk.Rejected(*violation)
	}

	if len(changes) > 0 {
		return mcpdesk.ApprovedWithModification(candidate, changes)
	}
	return mcpdesk.Approved(candidate)
}

// prune removes steps the request is not allowed to run. It returns the
// surviving plan, the modifications made, and a map from new step index to the
// original index. Pruning is refused when a surviving step reads a pruned one
// or nothing would be left to run.
func (v *PolicyValidator) prune(plan *mcpdesk.Plan, catalog mcpdesk.Catalog, vctx mcpdesk.ValidationContext) (*mcpdesk.Plan, []mcpdesk.Modification, []int, *mcpdesk.RuleViolation) {
	identity := make([]int, len(plan.Steps))
	for i := range identity {
		identity[i] = i
	}
	if vctx.Elevated || len(v.elevated) == 0 {
		return plan.Clone(), nil, identity, nil
	}

	pruned := make(map[int]mcpdesk.RiskTag)
	first := -1
	for i, step := range plan.Steps {
		desc, _ := catalog.Lookup(step.Tool)
		risk := v.EffectiveRisk(desc)
		if v.RequiresElevation(risk) {
			pruned[i] = risk
			if first < 0 {
				first = i
			}
		}
	}
	if len(pruned) == 0 {
		return plan.Clone(), nil, identity, nil
	}

	for i, step := range plan.Steps {
		if _, gone := pruned[i]; gone {
			continue
		}
		for _, ref := range step.References() {
			if risk, gone := pruned[ref]; gone {
				return nil, nil, nil, &mcpdesk.RuleViolation{
					Rule:      mcpdesk.RuleUnsafeOperation,
					StepIndex: ref,
					Tool:      plan.Steps[ref].Tool,
					Message: fmt.Sprintf("step %d (%s) is %s and requires an elevated context; step %d depends on it",
						ref, plan.Steps[ref].Tool, risk, i),
				}
			}
		}
	}
	if len(pruned) == len(plan.Steps) {
		return nil, nil, nil, &mcpdesk.RuleViolation{
			Rule:      mcpdesk.RuleUnsafeOperation,
			StepIndex: first,
			Tool:      plan.Steps[first].Tool,
			Message: fmt.Sprintf("step %d (%s) is %s and requires an elevated context; nothing else would remain to run",
				first, plan.Steps[first].Tool, pruned[first]),
		}
	}

	renumber := make(map[int]int, len(plan.Steps))
	var origin []int
	var changes []mcpdesk.Modification
	out := &mcpdesk.Plan{Query: plan.Query, DirectAnswer: plan.DirectAnswer}
	for i, step := range plan.Steps {
		if risk, gone := pruned[i]; gone {
			changes = append(changes, mcpdesk.Modification{
				Kind:      "pruned",
				StepIndex: i,
				Tool:      step.Tool,
				Reason:    fmt.Sprintf("%s tool requires an elevated context", risk),
			})
			continue
		}
		renumber[i] = len(out.Steps)
		origin = append(origin, i)
		out.Steps = append(out.Steps, remapStep(step, len(out.Steps), renumber))
	}
	return out, changes, origin, nil
}

// remapStep copies step under a new index with its references renumbered.
func remapStep(step mcpdesk.PlanStep, index int, renumber map[int]int) mcpdesk.PlanStep {
	args := make(map[string]mcpdesk.ArgumentSource, len(step.Args))
	for name, arg := range step.Args {
		switch arg.Kind {
		case mcpdesk.BindingStep:
			arg.Step = renumber[arg.Step]
		case mcpdesk.BindingExpression:
			arg.Expression = mcpdesk.StepVariablePattern.ReplaceAllStringFunc(arg.Expression, func(m string) string {
				sub := mcpdesk.StepVariablePattern.FindStringSubmatch(m)
				n, err := strconv.Atoi(sub[1])
				if err != nil {
					return m
				}
				return "$step" + strconv.Itoa(renumber[n]) + sub[2]
			})
		}
		args[name] = arg
	}
	return mcpdesk.PlanStep{Index: index, Tool: step.Tool, Args: args, Rationale: step.Rationale}
}
