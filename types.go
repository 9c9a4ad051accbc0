package mcpdesk

import (
	"fmt"
	"math"
	"regexp"
	"sort"
	"strconv"
	"time"
)

// RiskTag classifies a tool's potential for harmful side effects.
type RiskTag string

const (
	RiskSafe        RiskTag = "safe"
	RiskPrivileged  RiskTag = "privileged"
	RiskDestructive RiskTag = "destructive"
)

// Valid reports whether r is one of the known risk tags.
func (r RiskTag) Valid() bool {
	switch r {
	case RiskSafe, RiskPrivileged, RiskDestructive:
		return true
	}
	return false
}

// Category groups tools by capability.
type Category string

const (
	CategorySystem     Category = "system"
	CategoryFinancial  Category = "financial"
	CategoryNavigation Category = "navigation"
	CategoryRedaction  Category = "redaction"
	CategoryAnalysis   Category = "analysis"
)

// ParamType is the declared type of a tool parameter.
type ParamType string

const (
	ParamString  ParamType = "string"
	ParamNumber  ParamType = "number"
	ParamInteger ParamType = "integer"
	ParamBoolean ParamType = "boolean"
	ParamObject  ParamType = "object"
	ParamArray   ParamType = "array"
	ParamAny     ParamType = "any"
)

// Valid reports whether t is a known parameter type.
func (t ParamType) Valid() bool {
	switch t {
	case ParamString, ParamNumber, ParamInteger, ParamBoolean, ParamObject, ParamArray, ParamAny:
		return true
	}
	return false
}

// Accepts reports whether v is an acceptable value for a parameter of type t.
// Values decoded from JSON arrive as float64, map[string]interface{} and []interface{},
// so those shapes are accepted alongside their native Go counterparts.
func (t ParamType) Accepts(v interface{}) bool {
	if t == ParamAny || t == "" {
		return true
	}
	switch t {
	case ParamString:
		_, ok := v.(string)
		return ok
	case ParamBoolean:
		_, ok := v.(bool)
		return ok
	case ParamNumber:
		_, ok := toFloat(v)
		return ok
	case ParamInteger:
		f, ok := toFloat(v)
		return ok && f == math.Trunc(f)
	case ParamObject:
		_, ok := v.(map[string]interface{})
		return ok
	case ParamArray:
		switch v.(type) {
		case []interface{}, []string, []float64, []int, []map[string]interface{}:
			return true
		}
		return false
	}
	return false
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	}
	return 0, false
}

// ParamSpec describes one named, typed parameter of a tool.
type ParamSpec struct {
	Name        string    `json:"name"`
	Type        ParamType `json:"type"`
	Required    bool      `json:"required"`
	Description string    `json:"description,omitempty"`
}

// ToolDescriptor is the registry entry for a tool. It is immutable once the
// registry has been built.
type ToolDescriptor struct {
	Name        string      `json:"name"`
	Description string      `json:"description,omitempty"`
	Category    Category    `json:"category,omitempty"`
	Params      []ParamSpec `json:"params"`
	Risk        RiskTag     `json:"risk"`
	Tool        Tool        `json:"-"`
}

// Param looks up a parameter by name.
func (d ToolDescriptor) Param(name string) (ParamSpec, bool) {
	for _, p := range d.Params {
		if p.Name == name {
			return p, true
		}
	}
	return ParamSpec{}, false
}

// BindingKind identifies how an argument value is obtained.
type BindingKind string

const (
	BindingLiteral    BindingKind = "literal"
	BindingStep       BindingKind = "step"
	BindingExpression BindingKind = "expression"
)

// ArgumentSource binds a tool parameter to a literal, to the result of an
// earlier step, or to an expression over earlier step results.
type ArgumentSource struct {
	Kind       BindingKind `json:"kind"`
	Value      interface{} `json:"value,omitempty"`
	Step       int         `json:"step"`
	Field      string      `json:"field,omitempty"`
	Expression string      `json:"expression,omitempty"`
}

// Literal binds a constant value.
func Literal(v interface{}) ArgumentSource {
	return ArgumentSource{Kind: BindingLiteral, Value: v}
}

// StepRef binds the result of step (or a dotted field path inside it).
func StepRef(step int, field string) ArgumentSource {
	return ArgumentSource{Kind: BindingStep, Step: step, Field: field}
}

// Expr binds the value of a govaluate expression. Variables of the form
// $stepN or $stepN.field refer to earlier step results.
func Expr(expression string) ArgumentSource {
	return ArgumentSource{Kind: BindingExpression, Expression: expression}
}

// StepVariablePattern matches step references inside expressions.
var StepVariablePattern = regexp.MustCompile(`\$step([0-9]+)((?:\.[a-zA-Z0-9_]+|\[[0-9]+\])*)`)

// References returns the step indexes read by this binding.
func (a ArgumentSource) References() []int {
	switch a.Kind {
	case BindingStep:
		return []int{a.Step}
	case BindingExpression:
		var refs []int
		for _, m := range StepVariablePattern.FindAllStringSubmatch(a.Expression, -1) {
			n, err := strconv.Atoi(m[1])
			if err != nil {
				continue
			}
			refs = append(refs, n)
		}
		return refs
	}
	return nil
}

// String renders the binding the way a plan author would write it.
func (a ArgumentSource) String() string {
	switch a.Kind {
	case BindingStep:
		return stepRef(a.Step, a.Field)
	case BindingExpression:
		return fmt.Sprintf("expr(%s)", a.Expression)
	}
	return fmt.Sprintf("%v", a.Value)
}

// PlanStep is one tool invocation within a plan.
type PlanStep struct {
	Index     int                       `json:"index"`
	Tool      string                    `json:"tool"`
	Args      map[string]ArgumentSource `json:"args"`
	Rationale string                    `json:"rationale,omitempty"`
}

// References returns the sorted, de-duplicated step indexes this step reads.
func (s PlanStep) References() []int {
	seen := make(map[int]struct{})
	var refs []int
	for _, arg := range s.Args {
		for _, r := range arg.References() {
			if _, ok := seen[r]; ok {
				continue
			}
			seen[r] = struct{}{}
			refs = append(refs, r)
		}
	}
	sort.Ints(refs)
	return refs
}

// ArgNames returns the step's argument names in sorted order.
func (s PlanStep) ArgNames() []string {
	names := make([]string, 0, len(s.Args))
	for name := range s.Args {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Plan is the ordered list of steps produced for one query. A plan with no
// steps is the direct-answer path.
type Plan struct {
	Query        string     `json:"query"`
	Steps        []PlanStep `json:"steps"`
	DirectAnswer string     `json:"direct_answer,omitempty"`
}

// IsEmpty reports whether the plan has no steps.
func (p *Plan) IsEmpty() bool {
	return p == nil || len(p.Steps) == 0
}

// Clone returns a deep copy of the plan structure. Literal values are shared.
func (p *Plan) Clone() *Plan {
	if p == nil {
		return nil
	}
	out := &Plan{Query: p.Query, DirectAnswer: p.DirectAnswer, Steps: make([]PlanStep, len(p.Steps))}
	for i, s := range p.Steps {
		args := make(map[string]ArgumentSource, len(s.Args))
		for k, v := range s.Args {
			args[k] = v
		}
		out.Steps[i] = PlanStep{Index: s.Index, Tool: s.Tool, Args: args, Rationale: s.Rationale}
	}
	return out
}

// Rule names a validator rule.
type Rule string

const (
	RuleUnknownTool       Rule = "UnknownTool"
	RuleUnsafeOperation   Rule = "UnsafeOperation"
	RuleInvalidArguments  Rule = "InvalidArguments"
	RulePlanTooLarge      Rule = "PlanTooLarge"
	RuleInvalidDependency Rule = "InvalidDependency"
)

// PlanLevel is the StepIndex of violations that concern the whole plan.
const PlanLevel = -1

// RuleViolation is the structured reason behind a rejection.
type RuleViolation struct {
	Rule      Rule   `json:"rule"`
	StepIndex int    `json:"step_index"`
	Tool      string `json:"tool,omitempty"`
	Param     string `json:"param,omitempty"`
	Message   string `json:"message"`
}

func (v *RuleViolation) Error() string {
	if v.StepIndex == PlanLevel {
		return fmt.Sprintf("%s: %s", v.Rule, v.Message)
	}
	return fmt.Sprintf("%s at step %d: %s", v.Rule, v.StepIndex, v.Message)
}

// Modification records a change the validator made to an approved plan.
type Modification struct {
	Kind      string `json:"kind"`
	StepIndex int    `json:"step_index"`
	Tool      string `json:"tool"`
	Reason    string `json:"reason"`
}

// VerdictKind tags a validation verdict.
type VerdictKind string

const (
	VerdictApproved                 VerdictKind = "approved"
	VerdictApprovedWithModification VerdictKind = "approved_with_modification"
	VerdictRejected                 VerdictKind = "rejected"
)

// Verdict is the validator's decision on a plan.
type Verdict struct {
	Kind      VerdictKind    `json:"kind"`
	Plan      *Plan          `json:"plan,omitempty"`
	Changes   []Modification `json:"changes,omitempty"`
	Violation *RuleViolation `json:"violation,omitempty"`
}

func Approved(plan *Plan) Verdict {
	return Verdict{Kind: VerdictApproved, Plan: plan}
}

func ApprovedWithModification(plan *Plan, changes []Modification) Verdict {
	return Verdict{Kind: VerdictApprovedWithModification, Plan: plan, Changes: changes}
}

func Rejected(v RuleViolation) Verdict {
	return Verdict{Kind: VerdictRejected, Violation: &v}
}

// IsApproved reports whether the plan may be executed.
func (v Verdict) IsApproved() bool {
	return v.Kind == VerdictApproved || v.Kind == VerdictApprovedWithModification
}

// FailureKind classifies a failed step.
type FailureKind string

const (
	FailureToolError        FailureKind = "ToolError"
	FailureTimeout          FailureKind = "Timeout"
	FailureDependencyFailed FailureKind = "DependencyFailed"
	FailureAborted          FailureKind = "Aborted"
)

// StepFailure describes why a step did not produce a value.
type StepFailure struct {
	Kind    FailureKind `json:"kind"`
	Message string      `json:"message"`
}

// StepOutcome is the recorded result of one plan step.
type StepOutcome struct {
	Index    int           `json:"index"`
	Tool     string        `json:"tool"`
	Value    interface{}   `json:"value,omitempty"`
	Failure  *StepFailure  `json:"failure,omitempty"`
	Duration time.Duration `json:"duration"`
}

// Succeeded builds a successful outcome.
func Succeeded(index int, tool string, value interface{}, d time.Duration) StepOutcome {
	return StepOutcome{Index: index, Tool: tool, Value: value, Duration: d}
}

// Failed builds a failed outcome.
func Failed(index int, tool string, kind FailureKind, message string, d time.Duration) StepOutcome {
	return StepOutcome{Index: index, Tool: tool, Failure: &StepFailure{Kind: kind, Message: message}, Duration: d}
}

// OK reports whether the step succeeded.
func (o StepOutcome) OK() bool {
	return o.Failure == nil
}

// ExecutionStatus is the overall status of an execution.
type ExecutionStatus string

const (
	StatusCompleted          ExecutionStatus = "Completed"
	StatusPartiallyCompleted ExecutionStatus = "PartiallyCompleted"
	StatusAborted            ExecutionStatus = "Aborted"
)

// ExecutionResult holds the outcomes of a plan in plan order.
type ExecutionResult struct {
	Status   ExecutionStatus `json:"status"`
	Outcomes []StepOutcome   `json:"outcomes"`
	Duration time.Duration   `json:"duration"`
}

// Successes returns the successful outcomes in plan order.
func (r *ExecutionResult) Successes() []StepOutcome {
	var out []StepOutcome
	for _, o := range r.Outcomes {
		if o.OK() {
			out = append(out, o)
		}
	}
	return out
}

// Failures returns the failed outcomes in plan order.
func (r *ExecutionResult) Failures() []StepOutcome {
	var out []StepOutcome
	for _, o := range r.Outcomes {
		if !o.OK() {
			out = append(out, o)
		}
	}
	return out
}

type unavailable struct{}

func (unavailable) String() string { return "<unavailable>" }

// Unavailable is the value a reference to a failed step resolves to.
var Unavailable interface{} = unavailable{}

// IsUnavailable reports whether v is the Unavailable sentinel.
func IsUnavailable(v interface{}) bool {
	_, ok := v.(unavailable)
	return ok
}

// ArtifactKind tags a structured artifact.
type ArtifactKind string

const (
	ArtifactTable ArtifactKind = "table"
	ArtifactChart ArtifactKind = "chart"
	ArtifactText  ArtifactKind = "text"
)

// Artifact is structured output surfaced alongside the response text.
type Artifact struct {
	Kind      ArtifactKind `json:"kind"`
	Title     string       `json:"title,omitempty"`
	StepIndex int          `json:"step_index"`
	Data      interface{}  `json:"data"`
}

// ArtifactSource is implemented by tool results that carry artifacts.
type ArtifactSource interface {
	Artifacts() []Artifact
}

// ResponseStatus is the overall status tag of a response.
type ResponseStatus string

const (
	ResponseOK       ResponseStatus = "ok"
	ResponsePartial  ResponseStatus = "partial"
	ResponseRejected ResponseStatus = "rejected"
	ResponseError    ResponseStatus = "error"
)

// Turn is one earlier exchange in a session.
type Turn struct {
	Query  string `json:"query"`
	Answer string `json:"answer"`
}

// Request is the input to one orchestration cycle. All context travels with it.
type Request struct {
	ID        string `json:"id,omitempty"`
	SessionID string `json:"session_id,omitempty"`
	Query     string `json:"query"`
	Elevated  bool   `json:"elevated,omitempty"`
	History   []Turn `json:"history,omitempty"`
}

// Response is the user-facing result of one orchestration cycle.
type Response struct {
	RequestID string         `json:"request_id"`
	SessionID string         `json:"session_id,omitempty"`
	Query     string         `json:"query"`
	Status    ResponseStatus `json:"status"`
	Text      string         `json:"text"`
	Artifacts []Artifact     `json:"artifacts,omitempty"`
	Caveats   []string       `json:"caveats,omitempty"`
	Verdict   *Verdict       `json:"verdict,omitempty"`
	Outcomes  []StepOutcome  `json:"outcomes,omitempty"`
	Duration  time.Duration  `json:"duration"`
}

// Rejection returns the validator's refusal as an error, or nil when the
// response was not rejected.
func (r Response) Rejection() error {
	if r.Status != ResponseRejected || r.Verdict == nil || r.Verdict.Violation == nil {
		return nil
	}
	return NewValidationRejection(r.Verdict.Violation)
}
