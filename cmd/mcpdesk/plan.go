package main

import (
	"context"
	"encoding/json"
	"os"
	"strings"

	"github.com/ZanzyTHEbar/mcpdesk"
)

// PlanCmd prints the plan and verdict for a request without executing it.
type PlanCmd struct {
	Elevated bool `long:"elevated" description:"validate as an elevated request"`
	Args     struct {
		Query []string `positional-arg-name:"query" required:"yes"`
	} `positional-args:"yes"`
}

func (c *PlanCmd) Execute(_ []string) error {
	ctx := context.Background()
	a, err := buildApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	plan, verdict, err := a.Orchestrator.DryRun(ctx, mcpdesk.Request{
		Query:    strings.Join(c.Args.Query, " "),
		Elevated: c.Elevated,
	})
	if err != nil {
		return err
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(struct {
		Plan    *mcpdesk.Plan   `json:"plan"`
		Verdict mcpdesk.Verdict `json:"verdict"`
	}{plan, verdict})
}
