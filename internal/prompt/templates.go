package prompt

import (
	"fmt"
	"strings"

	"github.com/ZanzyTHEbar/mcpdesk"
)

// Built-in prompt names, one per file under prompts/.
const (
	Planner    = "planner"
	Corrective = "planner_corrective"
	Summary    = "summary"
	Direct     = "direct_answer"
)

// ToolView is the rendering of a tool descriptor inside a prompt.
type ToolView struct {
	Name        string   `json:"name"`
	Category    string   `json:"category"`
	Risk        string   `json:"risk"`
	Description string   `json:"description"`
	Params      []string `json:"params,omitempty"`
}

// PlannerInput feeds the planner and corrective prompts.
type PlannerInput struct {
	Query    string         `json:"query"`
	History  []mcpdesk.Turn `json:"history,omitempty"`
	Tools    []ToolView     `json:"tools,omitempty"`
	MaxSteps int            `json:"maxSteps"`
	Previous string         `json:"previous,omitempty"`
	Problem  string         `json:"problem,omitempty"`
}

// SummaryInput feeds the summary prompt.
type SummaryInput struct {
	Query    string   `json:"query"`
	Findings []string `json:"findings"`
}

// NewPlannerInput describes the catalog for the planner.
func NewPlannerInput(req mcpdesk.PlanRequest, catalog mcpdesk.Catalog, maxSteps int) PlannerInput {
	var tools []ToolView
	if catalog != nil {
		for _, d := range catalog.Descriptors() {
			tools = append(tools, describe(d))
		}
	}
	return PlannerInput{
		Query:    req.Query,
		History:  req.History,
		Tools:    tools,
		MaxSteps: maxSteps,
	}
}

func describe(d mcpdesk.ToolDescriptor) ToolView {
	category := string(d.Category)
	if category == "" {
		category = "general"
	}
	description := strings.TrimSpace(d.Description)
	if description == "" {
		description = "no description"
	}
	params := make([]string, 0, len(d.Params))
	for _, p := range d.Params {
		req := "optional"
		if p.Required {
			req = "required"
		}
		line := fmt.Sprintf("%s (%s, %s)", p.Name, p.Type, req)
		if p.Description != "" {
			line += ": " + p.Description
		}
		params = append(params, line)
	}
	return ToolView{
		Name:        d.Name,
		Category:    category,
		Risk:        string(d.Risk),
		Description: description,
		Params:      params,
	}
}
