package tools

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"unicode"

	"github.com/ZanzyTHEbar/mcpdesk"
	"github.com/ZanzyTHEbar/mcpdesk/internal/adapters"
)

var (
	tagPattern   = regexp.MustCompile(`<[^>]*>`)
	spacePattern = regexp.MustCompile(`\s+`)
)

// CleanText strips HTML tags and collapses whitespace.
func CleanText(text string) string {
	text = tagPattern.ReplaceAllString(text, " ")
	return strings.TrimSpace(spacePattern.ReplaceAllString(text, " "))
}

var summaryLevels = map[string]int{"basic": 2, "detailed": 5}

// SummarizeText keeps the leading sentences of text: two for "basic", five
// for "detailed".
func SummarizeText(text, level string) (string, error) {
	n, ok := summaryLevels[level]
	if !ok {
		return "", fmt.Errorf("unknown summary level %q", level)
	}
	sentences := splitSentences(CleanText(text))
	if len(sentences) > n {
		sentences = sentences[:n]
	}
	return strings.Join(sentences, " "), nil
}

func splitSentences(text string) []string {
	var out []string
	start := 0
	runes := []rune(text)
	for i, r := range runes {
		if r != '.' && r != '!' && r != '?' {
			continue
		}
		if i+1 < len(runes) && !unicode.IsSpace(runes[i+1]) {
			continue
		}
		if s := strings.TrimSpace(string(runes[start : i+1])); s != "" {
			out = append(out, s)
		}
		start = i + 1
	}
	if s := strings.TrimSpace(string(runes[start:])); s != "" {
		out = append(out, s)
	}
	return out
}

var latexEscaper = strings.NewReplacer(
	`\`, `\textbackslash{}`,
	`&`, `\&`,
	`%`, `\%`,
	`$`, `\$`,
	`#`, `\#`,
	`_`, `\_`,
	`{`, `\{`,
	`}`, `\}`,
	`~`, `\textasciitilde{}`,
	`^`, `\textasciicircum{}`,
)

// ParseToLatex escapes text and wraps it in a minimal article document.
func ParseToLatex(text string) string {
	return "\\documentclass{article}\n\\begin{document}\n" + latexEscaper.Replace(text) + "\n\\end{document}\n"
}

// RedactionProvider exposes the text tools.
func RedactionProvider() *adapters.Provider {
	textTool := func(fn func(string) string) adapters.ToolFunc {
		return func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
			text, err := stringArg(args, "text")
			if err != nil {
				return nil, err
			}
			return fn(text), nil
		}
	}
	summarize := func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
		text, err := stringArg(args, "text")
		if err != nil {
			return nil, err
		}
		return SummarizeText(text, optionalString(args, "level", "basic"))
	}
	textParam := adapters.Required("text", mcpdesk.ParamString, "input text")

	return adapters.NewProvider("redaction",
		adapters.NewGoToolAdapter("clean_text", textTool(CleanText),
			adapters.WithDescription("Removes HTML tags and extra whitespace."),
			adapters.WithCategory(mcpdesk.CategoryRedaction),
			adapters.WithParameters(textParam)),
		adapters.NewGoToolAdapter("summarize_text", summarize,
			adapters.WithDescription("Shortens text to its leading sentences."),
			adapters.WithCategory(mcpdesk.CategoryRedaction),
			adapters.WithParameters(textParam, adapters.Optional("level", mcpdesk.ParamString, "basic | detailed"))),
		adapters.NewGoToolAdapter("parse_to_latex", textTool(ParseToLatex),
			adapters.WithDescription("Converts text into a LaTeX document."),
			adapters.WithCategory(mcpdesk.CategoryRedaction),
			adapters.WithParameters(textParam)),
	)
}
