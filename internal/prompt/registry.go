// Package prompt renders the text sent to language models.
package prompt

import (
	"embed"
	"encoding/json"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strings"
	"sync"

	"github.com/google/dotprompt/go/dotprompt"

	"github.com/ZanzyTHEbar/mcpdesk"
)

//go:embed prompts/*.prompt
var builtinPrompts embed.FS

// Registry manages named dotprompt sources. A prompt marks its system and user
// messages with {{role "system"}} and {{role "user"}}. Files whose name starts
// with an underscore are partials.
type Registry struct {
	mu       sync.RWMutex
	prompts  map[string]string
	partials map[string]string
	helpers  map[string]any
}

// NewRegistry creates a registry preloaded with the built-in prompts.
func NewRegistry() *Registry {
	r := &Registry{
		prompts:  make(map[string]string),
		partials: make(map[string]string),
		helpers:  make(map[string]any),
	}
	if err := r.LoadFS(builtinPrompts, "prompts"); err != nil {
		panic(fmt.Sprintf("built-in prompts: %v", err))
	}
	return r
}

// LoadFS registers every .prompt file in dir. Partials are loaded first.
func (r *Registry) LoadFS(fsys fs.FS, dir string) error {
	entries, err := fs.ReadDir(fsys, dir)
	if err != nil {
		return fmt.Errorf("failed to read prompt directory '%s': %w", dir, err)
	}
	sort.Slice(entries, func(i, j int) bool {
		pi, pj := strings.HasPrefix(entries[i].Name(), "_"), strings.HasPrefix(entries[j].Name(), "_")
		if pi != pj {
			return pi
		}
		return entries[i].Name() < entries[j].Name()
	})

	for _, e := range entries {
		if e.IsDir() || path.Ext(e.Name()) != ".prompt" {
			continue
		}
		content, err := fs.ReadFile(fsys, path.Join(dir, e.Name()))
		if err != nil {
			return fmt.Errorf("failed to read prompt '%s': %w", e.Name(), err)
		}
		name := strings.TrimSuffix(e.Name(), ".prompt")
		if strings.HasPrefix(name, "_") {
			err = r.DefinePartial(strings.TrimPrefix(name, "_"), string(content))
		} else {
			err = r.DefinePrompt(name, string(content))
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// DefinePrompt compiles and registers a prompt source, replacing any previous
// definition with the same name.
func (r *Registry) DefinePrompt(name, source string) error {
	if _, err := r.newDotprompt().Compile(source, nil); err != nil {
		return fmt.Errorf("failed to define prompt '%s': %w", name, err)
	}
	r.mu.Lock()
	r.prompts[name] = source
	r.mu.Unlock()
	return nil
}

// DefinePartial registers a partial usable as {{>name}}.
func (r *Registry) DefinePartial(name, source string) error {
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("partial name is empty")
	}
	r.mu.Lock()
	r.partials[name] = source
	r.mu.Unlock()
	return nil
}

// DefineHelper registers a Handlebars helper for prompts rendered afterwards.
func (r *Registry) DefineHelper(name string, helper any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.helpers[name]; ok {
		return fmt.Errorf("helper '%s' is already defined", name)
	}
	r.helpers[name] = helper
	return nil
}

// Names returns the registered prompt names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.prompts))
	for name := range r.prompts {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// RenderPrompt renders the named prompt with the given input. The input is
// exposed to the template through its JSON field names.
func (r *Registry) RenderPrompt(name string, input interface{}) (mcpdesk.Prompt, error) {
	r.mu.RLock()
	source, ok := r.prompts[name]
	r.mu.RUnlock()
	if !ok {
		return mcpdesk.Prompt{}, fmt.Errorf("prompt '%s' not found", name)
	}

	vars, err := toInput(input)
	if err != nil {
		return mcpdesk.Prompt{}, fmt.Errorf("failed to render prompt '%s': %w", name, err)
	}
	rendered, err := r.newDotprompt().Render(source, &dotprompt.DataArgument{Input: vars}, nil)
	if err != nil {
		return mcpdesk.Prompt{}, fmt.Errorf("failed to render prompt '%s': %w", name, err)
	}

	var sys, usr strings.Builder
	for _, msg := range rendered.Messages {
		out := &usr
		if msg.Role == dotprompt.RoleSystem {
			out = &sys
		}
		for _, part := range msg.Content {
			if text, ok := part.(*dotprompt.TextPart); ok {
				out.WriteString(text.Text)
			}
		}
	}
	return mcpdesk.Prompt{
		System: strings.TrimSpace(sys.String()),
		User:   strings.TrimSpace(usr.String()),
	}, nil
}

// newDotprompt returns a fresh instance; a Dotprompt keeps the last compiled
// template and its registered helpers, so instances are not shared.
func (r *Registry) newDotprompt() *dotprompt.Dotprompt {
	r.mu.RLock()
	defer r.mu.RUnlock()
	partials := make(map[string]string, len(r.partials))
	for k, v := range r.partials {
		partials[k] = v
	}
	helpers := make(map[string]any, len(r.helpers))
	for k, v := range r.helpers {
		helpers[k] = v
	}
	return dotprompt.NewDotprompt(&dotprompt.DotpromptOptions{
		Partials: partials,
		Helpers:  helpers,
	})
}

func toInput(input interface{}) (map[string]any, error) {
	switch v := input.(type) {
	case nil:
		return map[string]any{}, nil
	case map[string]any:
		return v, nil
	}
	data, err := json.Marshal(input)
	if err != nil {
		return nil, err
	}
	var vars map[string]any
	if err := json.Unmarshal(data, &vars); err != nil {
		return nil, fmt.Errorf("prompt input must be an object: %w", err)
	}
	return vars, nil
}
