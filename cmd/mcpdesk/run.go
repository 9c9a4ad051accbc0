package main

import (
	"context"
	"fmt"

	"github.com/ZanzyTHEbar/mcpdesk"
	"github.com/ZanzyTHEbar/mcpdesk/internal/app"
	"github.com/ZanzyTHEbar/mcpdesk/internal/executor"
)

// RunCmd validates and executes a plan file (YAML or JSON) without a model.
type RunCmd struct {
	Elevated bool `long:"elevated" description:"allow tools that require elevation"`
	JSON     bool `long:"json" description:"print the full response as JSON"`
	Args     struct {
		File string `positional-arg-name:"plan-file" required:"yes"`
	} `positional-args:"yes"`
}

func (c *RunCmd) Execute(_ []string) error {
	plan, err := executor.LoadPlanFile(c.Args.File)
	if err != nil {
		return err
	}

	ctx := context.Background()
	a, err := buildApp(ctx, app.Offline())
	if err != nil {
		return err
	}
	defer a.Close()

	query := plan.Query
	if query == "" {
		query = "run " + c.Args.File
	}
	resp := a.RunPlan(ctx, plan, mcpdesk.Request{Query: query, Elevated: c.Elevated})
	if err := printResponse(resp, c.JSON); err != nil {
		return err
	}
	if err := resp.Rejection(); err != nil {
		return err
	}
	if resp.Status == mcpdesk.ResponseError {
		return fmt.Errorf("plan was not executed: %s", resp.Status)
	}
	return nil
}
