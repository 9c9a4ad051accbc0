package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/ZanzyTHEbar/mcpdesk/internal/app"
)

// ToolsCmd lists the registered tools.
type ToolsCmd struct{}

func (c *ToolsCmd) Execute(_ []string) error {
	a, err := buildApp(context.Background(), app.Offline())
	if err != nil {
		return err
	}
	defer a.Close()

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tCATEGORY\tRISK\tRULE\tPARAMS")
	for _, d := range a.Orchestrator.Tools() {
		params := make([]string, 0, len(d.Params))
		for _, p := range d.Params {
			name := p.Name
			if !p.Required {
				name += "?"
			}
			params = append(params, name)
		}
		risk := a.Validator.EffectiveRisk(d)
		rule := "-"
		if a.Validator.RequiresElevation(risk) {
			rule = "elevated"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", d.Name, d.Category, risk, rule, strings.Join(params, ", "))
	}
	return w.Flush()
}
