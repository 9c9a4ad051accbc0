package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/ZanzyTHEbar/mcpdesk"
)

// AskCmd answers one request and prints the response.
type AskCmd struct {
	Session  string `short:"s" long:"session" description:"session id; earlier turns are sent to the planner"`
	Elevated bool   `long:"elevated" description:"allow tools that require elevation"`
	JSON     bool   `long:"json" description:"print the full response as JSON"`
	Args     struct {
		Query []string `positional-arg-name:"query" required:"yes"`
	} `positional-args:"yes"`
}

func (c *AskCmd) Execute(_ []string) error {
	ctx := context.Background()
	a, err := buildApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	resp := a.Handle(ctx, mcpdesk.Request{
		SessionID: c.Session,
		Query:     strings.Join(c.Args.Query, " "),
		Elevated:  c.Elevated,
	})
	if err := printResponse(resp, c.JSON); err != nil {
		return err
	}
	if err := resp.Rejection(); err != nil {
		return err
	}
	if resp.Status == mcpdesk.ResponseError {
		return fmt.Errorf("request failed")
	}
	return nil
}

func printResponse(resp mcpdesk.Response, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(resp)
	}
	fmt.Println(resp.Text)
	for _, c := range resp.Caveats {
		fmt.Printf("  ! %s\n", c)
	}
	for _, art := range resp.Artifacts {
		data, err := json.Marshal(art.Data)
		if err != nil {
			return err
		}
		fmt.Printf("[%s] %s %s\n", art.Kind, art.Title, data)
	}
	return nil
}
