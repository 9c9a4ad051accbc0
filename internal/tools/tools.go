// Package tools ships the built-in tool providers: sandboxed file access,
// CSV analysis, stock quotes, page scraping and text redaction.
package tools

import (
	"fmt"
	"strings"
	"sync"

	"github.com/ZanzyTHEbar/mcpdesk"
	"github.com/ZanzyTHEbar/mcpdesk/internal/adapters"
)

// Options configures the shipped providers.
type Options struct {
	// BaseDir is the sandbox every file tool works in.
	BaseDir string
	// Quotes backs the financial tools. Nil leaves them registered but failing.
	Quotes  QuoteSource
	Browser BrowserOptions
	// Disabled names tools that are not registered.
	Disabled []string
}

// Toolbox owns the shipped providers and the resources behind them.
type Toolbox struct {
	system  *System
	quotes  QuoteSource
	browser *Browser

	mu        sync.RWMutex
	providers []mcpdesk.ToolProvider
}

// New builds the toolbox. The sandbox directory is created if missing.
func New(opts Options) (*Toolbox, error) {
	system, err := NewSystem(opts.BaseDir)
	if err != nil {
		return nil, err
	}
	tb := &Toolbox{
		system:  system,
		quotes:  opts.Quotes,
		browser: NewBrowser(opts.Browser),
	}
	tb.SetDisabled(opts.Disabled)
	return tb, nil
}

// SetDisabled rebuilds the provider list without the named tools and returns
// it. The browser and sandbox are shared with the previous list.
func (tb *Toolbox) SetDisabled(names []string) []mcpdesk.ToolProvider {
	disabled := make(map[string]bool, len(names))
	for _, name := range names {
		if name = strings.TrimSpace(name); name != "" {
			disabled[name] = true
		}
	}
	filter := func(p *adapters.Provider) mcpdesk.ToolProvider {
		if len(disabled) == 0 {
			return p
		}
		return filtered{Provider: p, disabled: disabled}
	}

	providers := []mcpdesk.ToolProvider{
		filter(tb.system.Provider()),
		filter(AnalysisProvider(tb.system)),
		filter(FinancialProvider(tb.quotes)),
		filter(tb.browser.Provider()),
		filter(RedactionProvider()),
	}
	tb.mu.Lock()
	tb.providers = providers
	tb.mu.Unlock()
	return providers
}

// Providers returns the providers to build the registry from.
func (tb *Toolbox) Providers() []mcpdesk.ToolProvider {
	tb.mu.RLock()
	defer tb.mu.RUnlock()
	return tb.providers
}

// Root returns the sandbox directory.
func (tb *Toolbox) Root() string {
	return tb.system.Root()
}

// Close shuts down the browser if one was started.
func (tb *Toolbox) Close() error {
	return tb.browser.Close()
}

type filtered struct {
	*adapters.Provider
	disabled map[string]bool
}

func (f filtered) Tools() []mcpdesk.ToolDescriptor {
	all := f.Provider.Tools()
	out := all[:0]
	for _, d := range all {
		if !f.disabled[d.Name] {
			out = append(out, d)
		}
	}
	return out
}

func stringArg(args map[string]interface{}, name string) (string, error) {
	v, ok := args[name]
	if !ok || v == nil {
		return "", fmt.Errorf("missing required argument %q", name)
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("argument %q must be a string, got %T", name, v)
	}
	return s, nil
}

func optionalString(args map[string]interface{}, name, fallback string) string {
	if s, ok := args[name].(string); ok && s != "" {
		return s
	}
	return fallback
}
