// Command mcpdesk answers natural-language requests with planned tool calls.
package main

import (
	"context"
	"errors"
	"os"

	"github.com/jessevdk/go-flags"

	"github.com/ZanzyTHEbar/mcpdesk/internal/app"
	"github.com/ZanzyTHEbar/mcpdesk/internal/config"
)

// Options is the root command. Sub-commands read the shared flags from it.
type Options struct {
	Config string `short:"c" long:"config" env:"MCPDESK_CONFIG" description:"configuration file (YAML)"`

	Serve ServeCmd `command:"serve" description:"Start the HTTP API"`
	Ask   AskCmd   `command:"ask" description:"Answer one request"`
	Plan  PlanCmd  `command:"plan" description:"Plan and validate a request without running it"`
	Run   RunCmd   `command:"run" description:"Validate and execute a plan file"`
	Tools ToolsCmd `command:"tools" description:"List the registered tools"`
	Key   KeyCmd   `command:"key" description:"Store a provider API key in the OS keyring"`
}

var options Options

func main() {
	parser := flags.NewParser(&options, flags.Default)
	if _, err := parser.Parse(); err != nil {
		var ferr *flags.Error
		if errors.As(err, &ferr) && ferr.Type == flags.ErrHelp {
			os.Exit(0)
		}
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, error) {
	return config.Load(options.Config)
}

func buildApp(ctx context.Context, opts ...app.Option) (*app.App, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	return app.Build(ctx, cfg, opts...)
}
