package summarizer

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/ZanzyTHEbar/mcpdesk"
)

// ExtractArtifacts collects artifacts from successful outcomes in plan order.
// Values implementing mcpdesk.ArtifactSource report their own; maps may carry
// "table" and "chart" entries, titled by an optional "title" entry.
func ExtractArtifacts(outcomes []mcpdesk.StepOutcome) []mcpdesk.Artifact {
	var out []mcpdesk.Artifact
	for _, o := range outcomes {
		if !o.OK() || o.Value == nil {
			continue
		}
		switch v := o.Value.(type) {
		case mcpdesk.ArtifactSource:
			for _, a := range v.Artifacts() {
				a.StepIndex = o.Index
				out = append(out, a)
			}
		case map[string]interface{}:
			title, _ := v["title"].(string)
			for _, kind := range []mcpdesk.ArtifactKind{mcpdesk.ArtifactTable, mcpdesk.ArtifactChart} {
				if data, ok := v[string(kind)]; ok && data != nil {
					out = append(out, mcpdesk.Artifact{Kind: kind, Title: title, StepIndex: o.Index, Data: data})
				}
			}
		}
	}
	return out
}

// render turns a step result into narration text no longer than maxValueLen.
// Results carrying a "summary" (or a String method) are described by it.
func (s *Summarizer) render(value interface{}) string {
	var text string
	switch v := value.(type) {
	case nil:
		text = "done"
	case string:
		text = v
	case fmt.Stringer:
		text = v.String()
	case map[string]interface{}:
		if summary, ok := v["summary"].(string); ok && summary != "" {
			text = summary
			break
		}
		text = compactJSON(v)
	default:
		text = compactJSON(v)
	}
	return truncate(strings.TrimSpace(text), s.maxValueLen)
}

func compactJSON(v interface{}) string {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(data)
}

func truncate(s string, n int) string {
	r := []rune(s)
	if n <= 0 || len(r) <= n {
		return s
	}
	return string(r[:n]) + "…"
}
