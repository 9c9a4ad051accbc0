package tools

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/ZanzyTHEbar/mcpdesk"
	"github.com/ZanzyTHEbar/mcpdesk/internal/adapters"
)

// purposeDirs maps a create_file purpose to its subdirectory and default
// extension.
var purposeDirs = map[string]struct{ dir, ext string }{
	"scripts":   {"scripts", ".py"},
	"research":  {"research", ".md"},
	"redaction": {"redaction", ".md"},
	"docs":      {"docs", ".md"},
	"general":   {"", ".txt"},
}

// System implements the file tools. Every path is resolved inside root.
type System struct {
	root string
}

// NewSystem creates the sandbox directory and its purpose subdirectories.
func NewSystem(root string) (*System, error) {
	if root == "" {
		return nil, fmt.Errorf("tool sandbox directory is not configured")
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	for _, p := range purposeDirs {
		if err := os.MkdirAll(filepath.Join(abs, p.dir), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create sandbox: %w", err)
		}
	}
	real, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve sandbox: %w", err)
	}
	return &System{root: real}, nil
}

// Root returns the absolute sandbox directory.
func (s *System) Root() string { return s.root }

// Resolve maps a user path into the sandbox. Absolute paths are treated as
// relative to the root; paths that climb out of it, lexically or through a
// symlink, are refused. The returned path has its symlinks resolved.
func (s *System) Resolve(path string) (string, error) {
	p := filepath.ToSlash(strings.TrimSpace(path))
	p = strings.TrimPrefix(p, "/")
	if p == "" {
		p = "."
	}
	full := filepath.Join(s.root, filepath.FromSlash(p))
	if !s.contains(full) {
		return "", fmt.Errorf("access denied: %s is outside the sandbox", path)
	}
	real, err := evalExisting(full)
	if err != nil {
		return "", fmt.Errorf("access denied: %s: %w", path, err)
	}
	if !s.contains(real) {
		return "", fmt.Errorf("access denied: %s links outside the sandbox", path)
	}
	return real, nil
}

func (s *System) contains(full string) bool {
	rel, err := filepath.Rel(s.root, full)
	return err == nil && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

// evalExisting resolves symlinks in the longest existing prefix of p and
// appends the rest unchanged, so paths that are about to be created can be
// checked too. A dangling symlink is an error.
func evalExisting(p string) (string, error) {
	var tail []string
	cur := p
	for {
		real, err := filepath.EvalSymlinks(cur)
		if err == nil {
			return filepath.Join(append([]string{real}, tail...)...), nil
		}
		if !errors.Is(err, fs.ErrNotExist) {
			return "", err
		}
		if _, lerr := os.Lstat(cur); lerr == nil {
			return "", fmt.Errorf("dangling symlink %s", filepath.Base(cur))
		}
		parent := filepath.Dir(cur)
		if parent == cur {
			return p, nil
		}
		tail = append([]string{filepath.Base(cur)}, tail...)
		cur = parent
	}
}

func (s *System) rel(full string) string {
	rel, err := filepath.Rel(s.root, full)
	if err != nil {
		return full
	}
	return filepath.ToSlash(rel)
}

// Provider exposes the file tools.
func (s *System) Provider() *adapters.Provider {
	return adapters.NewProvider("system",
		adapters.NewGoToolAdapter("read_file", s.readFile,
			adapters.WithDescription("Reads a text file from the workspace."),
			adapters.WithCategory(mcpdesk.CategorySystem),
			adapters.WithParameters(adapters.Required("path", mcpdesk.ParamString, "path inside the workspace"))),
		adapters.NewGoToolAdapter("list_structure", s.listStructure,
			adapters.WithDescription("Lists the files and folders of the workspace. Use it first to find files."),
			adapters.WithCategory(mcpdesk.CategorySystem),
			adapters.WithParameters(adapters.Optional("directory", mcpdesk.ParamString, "subfolder to list, '.' for all"))),
		adapters.NewGoToolAdapter("create_file", s.createFile,
			adapters.WithDescription("Creates or overwrites a file. Bare names are filed by purpose: scripts, research, redaction, docs or general."),
			adapters.WithCategory(mcpdesk.CategorySystem),
			adapters.WithRisk(mcpdesk.RiskPrivileged),
			adapters.WithParameters(
				adapters.Required("path", mcpdesk.ParamString, "file name or path"),
				adapters.Required("content", mcpdesk.ParamString, "full file content"),
				adapters.Optional("purpose", mcpdesk.ParamString, "scripts | research | redaction | docs | general"))),
		adapters.NewGoToolAdapter("delete_file", s.deleteFile,
			adapters.WithDescription("Permanently deletes a file."),
			adapters.WithCategory(mcpdesk.CategorySystem),
			adapters.WithRisk(mcpdesk.RiskDestructive),
			adapters.WithParameters(adapters.Required("path", mcpdesk.ParamString, "file to delete"))),
	)
}

func (s *System) readFile(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	path, err := stringArg(args, "path")
	if err != nil {
		return nil, err
	}
	full, err := s.Resolve(path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(full)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

func (s *System) listStructure(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	dir, err := s.Resolve(optionalString(args, "directory", "."))
	if err != nil {
		return nil, err
	}

	var lines []string
	err = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		rel, _ := filepath.Rel(dir, path)
		depth := 0
		if rel != "." {
			depth = strings.Count(filepath.ToSlash(rel), "/") + 1
		}
		name := d.Name()
		if d.IsDir() {
			name += "/"
		}
		lines = append(lines, strings.Repeat("    ", depth)+name)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return strings.Join(lines, "\n"), nil
}

func (s *System) createFile(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	path, err := stringArg(args, "path")
	if err != nil {
		return nil, err
	}
	content, err := stringArg(args, "content")
	if err != nil {
		return nil, err
	}
	purpose, ok := purposeDirs[strings.ToLower(optionalString(args, "purpose", "general"))]
	if !ok {
		return nil, fmt.Errorf("unknown purpose %q", args["purpose"])
	}

	if filepath.Ext(path) == "" {
		path += purpose.ext
	}
	if !strings.ContainsAny(filepath.ToSlash(path), "/") {
		path = filepath.Join(purpose.dir, path)
	}
	full, err := s.Resolve(path)
	if err != nil {
		return nil, err
	}
	if info, err := os.Stat(full); err == nil && info.IsDir() {
		return nil, fmt.Errorf("cannot create file: %s is a directory", path)
	}
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return nil, err
	}
	if err := os.WriteFile(full, []byte(content), 0o644); err != nil {
		return nil, err
	}
	return fmt.Sprintf("File created at: %s", s.rel(full)), nil
}

func (s *System) deleteFile(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	path, err := stringArg(args, "path")
	if err != nil {
		return nil, err
	}
	full, err := s.Resolve(path)
	if err != nil {
		return nil, err
	}
	if full == s.root {
		return nil, fmt.Errorf("refusing to delete the workspace root")
	}
	info, err := os.Stat(full)
	if err != nil {
		return nil, err
	}
	if info.IsDir() {
		return nil, fmt.Errorf("%s is a directory", path)
	}
	if err := os.Remove(full); err != nil {
		return nil, err
	}
	return fmt.Sprintf("Deleted %s", s.rel(full)), nil
}
