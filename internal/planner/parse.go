package planner

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/ZanzyTHEbar/mcpdesk"
	"github.com/ZanzyTHEbar/mcpdesk/internal/validator"
)

// wireStep is one step as the model writes it.
type wireStep struct {
	Tool        *string                `json:"tool"`
	Args        map[string]interface{} `json:"args"`
	Rationale   string                 `json:"rationale"`
	Description string                 `json:"description"`
	Response    string                 `json:"response"`
}

type wirePlan struct {
	Steps  []wireStep `json:"steps"`
	Plan   []wireStep `json:"plan"`
	Answer string     `json:"answer"`
}

var errNoJSON = errors.New("output does not contain a JSON object or array")

// stripFences removes a surrounding markdown code block, if any.
func stripFences(raw string) string {
	s := strings.TrimSpace(raw)
	start := strings.Index(s, "```")
	if start < 0 {
		return s
	}
	rest := s[start+3:]
	if nl := strings.IndexByte(rest, '\n'); nl >= 0 {
		// Drop the language tag on the opening fence.
		if tag := strings.TrimSpace(rest[:nl]); !strings.ContainsAny(tag, "{[") {
			rest = rest[nl+1:]
		}
	}
	if end := strings.Index(rest, "```"); end >= 0 {
		rest = rest[:end]
	}
	return strings.TrimSpace(rest)
}

// locateJSON returns the first complete JSON value that starts with '{' or '['.
func locateJSON(s string) (json.RawMessage, error) {
	start := strings.IndexAny(s, "{[")
	if start < 0 {
		return nil, errNoJSON
	}
	dec := json.NewDecoder(strings.NewReader(s[start:]))
	dec.UseNumber()
	var raw json.RawMessage
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("invalid JSON: %w", err)
	}
	return raw, nil
}

// parsePlan turns model output into a plan. It performs no schema checks.
func parsePlan(output, query string) (*mcpdesk.Plan, error) {
	raw, err := locateJSON(stripFences(output))
	if err != nil {
		return nil, err
	}

	var steps []wireStep
	var answer string
	if raw[0] == '[' {
		if err := decodeJSON(raw, &steps); err != nil {
			return nil, fmt.Errorf("invalid step list: %w", err)
		}
	} else {
		var wp wirePlan
		if err := decodeJSON(raw, &wp); err != nil {
			return nil, fmt.Errorf("invalid plan object: %w", err)
		}
		steps = wp.Steps
		if steps == nil {
			steps = wp.Plan
		}
		answer = strings.TrimSpace(wp.Answer)
		if steps == nil && answer == "" {
			return nil, errors.New(`plan object has neither "steps" nor "answer"`)
		}
	}

	plan := &mcpdesk.Plan{Query: query, DirectAnswer: answer}
	for i, ws := range steps {
		if ws.Tool == nil || strings.TrimSpace(*ws.Tool) == "" {
			if len(steps) == 1 && ws.Response != "" {
				plan.DirectAnswer = strings.TrimSpace(ws.Response)
				return plan, nil
			}
			return nil, fmt.Errorf("step %d has no tool", i)
		}
		args, err := mcpdesk.ParseBindings(normalize(ws.Args), i)
		if err != nil {
			return nil, fmt.Errorf("step %d: %w", i, err)
		}
		rationale := ws.Rationale
		if rationale == "" {
			rationale = ws.Description
		}
		plan.Steps = append(plan.Steps, mcpdesk.PlanStep{
			Index:     i,
			Tool:      strings.TrimSpace(*ws.Tool),
			Args:      args,
			Rationale: rationale,
		})
	}
	return plan, nil
}

// checkStructure applies the validator's structural rules so an unusable plan
// can be corrected before it leaves the planner.
func checkStructure(plan *mcpdesk.Plan, catalog mcpdesk.Catalog) error {
	if v := validator.CheckDependencies(plan); v != nil {
		return v
	}
	if v := validator.CheckTools(plan, catalog); v != nil {
		return v
	}
	if v := validator.CheckArguments(plan, catalog); v != nil {
		return v
	}
	return nil
}

func decodeJSON(raw json.RawMessage, v interface{}) error {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	return dec.Decode(v)
}

// normalize converts json.Number values into float64 so literals match the
// shapes produced by encoding/json elsewhere.
func normalize(args map[string]interface{}) map[string]interface{} {
	if args == nil {
		return map[string]interface{}{}
	}
	out := make(map[string]interface{}, len(args))
	for k, v := range args {
		out[k] = normalizeValue(v)
	}
	return out
}

func normalizeValue(v interface{}) interface{} {
	switch t := v.(type) {
	case json.Number:
		if f, err := t.Float64(); err == nil {
			return f
		}
		return t.String()
	case map[string]interface{}:
		return normalize(t)
	case []interface{}:
		out := make([]interface{}, len(t))
		for i, e := range t {
			out[i] = normalizeValue(e)
		}
		return out
	}
	return v
}
