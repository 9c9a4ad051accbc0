// Package summarizer turns pipeline results into the user-facing response.
package summarizer

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/ZanzyTHEbar/mcpdesk"
	"github.com/ZanzyTHEbar/mcpdesk/internal/prompt"
)

// DefaultMaxValueLength bounds how much of one step result is narrated or
// sent to the language model.
const DefaultMaxValueLength = 2000

// Summarizer implements mcpdesk.Summarizer. Without a language model it
// narrates deterministically; with one, the model writes the prose over the
// successful results only.
type Summarizer struct {
	model       mcpdesk.LanguageModel
	prompts     *prompt.Registry
	maxValueLen int
	callTimeout time.Duration
}

// Option configures a Summarizer.
type Option func(*Summarizer)

// WithModel enables language-model prose.
func WithModel(model mcpdesk.LanguageModel) Option {
	return func(s *Summarizer) {
		s.model = model
	}
}

// WithPrompts replaces the prompt registry.
func WithPrompts(r *prompt.Registry) Option {
	return func(s *Summarizer) {
		if r != nil {
			s.prompts = r
		}
	}
}

// WithMaxValueLength sets the per-result truncation length.
func WithMaxValueLength(n int) Option {
	return func(s *Summarizer) {
		if n > 0 {
			s.maxValueLen = n
		}
	}
}

// WithCallTimeout bounds each model call.
func WithCallTimeout(d time.Duration) Option {
	return func(s *Summarizer) {
		s.callTimeout = d
	}
}

// New creates a summarizer.
func New(opts ...Option) *Summarizer {
	s := &Summarizer{
		prompts:     prompt.NewRegistry(),
		maxValueLen: DefaultMaxValueLength,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Summarize implements mcpdesk.Summarizer.
func (s *Summarizer) Summarize(ctx context.Context, in mcpdesk.SummaryInput) mcpdesk.Response {
	resp := mcpdesk.Response{
		RequestID: in.Request.ID,
		SessionID: in.Request.SessionID,
		Query:     in.Request.Query,
		Verdict:   in.Verdict,
	}

	switch {
	case in.Err != nil:
		resp.Status = mcpdesk.ResponseError
		resp.Text = ExplainError(in.Err)
	case in.Verdict != nil && in.Verdict.Kind == mcpdesk.VerdictRejected:
		resp.Status = mcpdesk.ResponseRejected
		resp.Text = ExplainRejection(in.Verdict.Violation)
	case in.Result == nil || in.Plan.IsEmpty():
		resp.Status = mcpdesk.ResponseOK
		resp.Text = s.directAnswer(ctx, in)
	default:
		s.summarizeResult(ctx, in, &resp)
	}
	return resp
}

func (s *Summarizer) summarizeResult(ctx context.Context, in mcpdesk.SummaryInput, resp *mcpdesk.Response) {
	result := in.Result
	resp.Outcomes = result.Outcomes
	resp.Artifacts = ExtractArtifacts(result.Outcomes)
	resp.Caveats = s.caveats(in)

	switch result.Status {
	case mcpdesk.StatusCompleted:
		resp.Status = mcpdesk.ResponseOK
	case mcpdesk.StatusPartiallyCompleted:
		resp.Status = mcpdesk.ResponsePartial
	default:
		resp.Status = mcpdesk.ResponseError
		resp.Text = s.explainAbort(result)
		return
	}

	text := s.narrate(result.Successes())
	if s.model != nil {
		if prose, err := s.prose(ctx, in.Request.Query, result.Successes()); err != nil {
			log.Printf("Falling back to plain narration (error: %v)", err)
		} else {
			text = prose
		}
	}
	if len(resp.Caveats) > 0 {
		text += "\n\nNote:\n- " + strings.Join(resp.Caveats, "\n- ")
	}
	resp.Text = text
}

func (s *Summarizer) directAnswer(ctx context.Context, in mcpdesk.SummaryInput) string {
	if in.Plan != nil && strings.TrimSpace(in.Plan.DirectAnswer) != "" {
		return strings.TrimSpace(in.Plan.DirectAnswer)
	}
	if s.model != nil {
		input := prompt.PlannerInput{Query: in.Request.Query, History: in.Request.History}
		if text, err := s.generate(ctx, prompt.Direct, input); err == nil && text != "" {
			return text
		} else if err != nil {
			log.Printf("Direct answer generation failed (error: %v)", err)
		}
	}
	return "No tools were needed for this request, and no answer was produced."
}

func (s *Summarizer) narrate(successes []mcpdesk.StepOutcome) string {
	if len(successes) == 0 {
		return "No step produced a result."
	}
	lines := make([]string, 0, len(successes))
	for _, o := range successes {
		lines = append(lines, fmt.Sprintf("Step %d (%s): %s", o.Index+1, o.Tool, s.render(o.Value)))
	}
	return strings.Join(lines, "\n")
}

func (s *Summarizer) prose(ctx context.Context, query string, successes []mcpdesk.StepOutcome) (string, error) {
	if len(successes) == 0 {
		return "", fmt.Errorf("no successful results to summarize")
	}
	findings := make([]string, 0, len(successes))
	for _, o := range successes {
		findings = append(findings, fmt.Sprintf("%s: %s", o.Tool, s.render(o.Value)))
	}
	text, err := s.generate(ctx, prompt.Summary, prompt.SummaryInput{Query: query, Findings: findings})
	if err != nil {
		return "", err
	}
	if text == "" {
		return "", fmt.Errorf("model returned an empty summary")
	}
	return text, nil
}

func (s *Summarizer) generate(ctx context.Context, name string, input interface{}) (string, error) {
	p, err := s.prompts.RenderPrompt(name, input)
	if err != nil {
		return "", mcpdesk.NewSynthesisError(err)
	}
	if s.callTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.callTimeout)
		defer cancel()
	}
	out, err := s.model.Generate(ctx, p)
	if err != nil {
		return "", mcpdesk.NewSynthesisError(err)
	}
	return strings.TrimSpace(out), nil
}

// caveats lists every failed step and every step the validator removed.
func (s *Summarizer) caveats(in mcpdesk.SummaryInput) []string {
	var out []string
	if in.Verdict != nil {
		for _, c := range in.Verdict.Changes {
			out = append(out, fmt.Sprintf("Step %d (%s) was not run: %s.", c.StepIndex+1, c.Tool, c.Reason))
		}
	}
	for _, o := range in.Result.Failures() {
		out = append(out, describeFailure(o))
	}
	return out
}

func (s *Summarizer) explainAbort(result *mcpdesk.ExecutionResult) string {
	var b strings.Builder
	b.WriteString("The request could not be completed")
	if n := len(result.Successes()); n > 0 {
		fmt.Fprintf(&b, " (%d of %d steps finished before it was stopped)", n, len(result.Outcomes))
	}
	b.WriteString(".")
	for _, o := range result.Failures() {
		b.WriteString("\n- ")
		b.WriteString(describeFailure(o))
	}
	return b.String()
}

func describeFailure(o mcpdesk.StepOutcome) string {
	var what string
	switch o.Failure.Kind {
	case mcpdesk.FailureTimeout:
		what = "timed out"
	case mcpdesk.FailureDependencyFailed:
		what = "was skipped because an earlier step failed"
	case mcpdesk.FailureAborted:
		what = "was not run"
	default:
		what = "failed"
	}
	return fmt.Sprintf("Step %d (%s) %s: %s", o.Index+1, o.Tool, what, o.Failure.Message)
}

// ExplainRejection renders a validator rejection for the user.
func ExplainRejection(v *mcpdesk.RuleViolation) string {
	if v == nil {
		return "The plan for this request was rejected."
	}
	var reason string
	switch v.Rule {
	case mcpdesk.RuleUnknownTool:
		reason = "it uses a tool that does not exist"
	case mcpdesk.RuleUnsafeOperation:
		reason = "it includes an operation that needs elevated permission"
	case mcpdesk.RuleInvalidArguments:
		reason = "a tool would be called with invalid arguments"
	case mcpdesk.RulePlanTooLarge:
		reason = "it needs too many steps"
	case mcpdesk.RuleInvalidDependency:
		reason = "its steps depend on each other in an impossible order"
	default:
		reason = "it breaks a safety rule"
	}
	where := ""
	if v.StepIndex != mcpdesk.PlanLevel {
		where = fmt.Sprintf(" Problem at step %d", v.StepIndex+1)
		if v.Tool != "" {
			where += fmt.Sprintf(" (%s)", v.Tool)
		}
		where += "."
	}
	return fmt.Sprintf("I did not run this request because %s [%s].%s %s", reason, v.Rule, where, v.Message)
}

// ExplainError renders a pipeline error for the user.
func ExplainError(err error) string {
	switch {
	case mcpdesk.HasCode(err, mcpdesk.ErrCodeTimeout):
		return "The request timed out before it could be completed."
	case mcpdesk.HasCode(err, mcpdesk.ErrCodeCancelled):
		return "The request was cancelled."
	case mcpdesk.HasCode(err, mcpdesk.ErrCodeInvalidRequest):
		if e, ok := mcpdesk.AsError(err); ok {
			return "Invalid request: " + e.Message + "."
		}
	case mcpdesk.HasCode(err, mcpdesk.ErrCodePlanGeneration):
		return "I could not work out how to handle this request: " + err.Error()
	}
	return "The request failed: " + err.Error()
}
