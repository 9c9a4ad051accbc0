package tools

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/ZanzyTHEbar/mcpdesk"
	"github.com/ZanzyTHEbar/mcpdesk/internal/adapters"
)

// ColumnStats summarises one CSV column.
type ColumnStats struct {
	Column  string   `json:"column"`
	Kind    string   `json:"kind"`
	Count   int      `json:"count"`
	Missing int      `json:"missing"`
	Mean    *float64 `json:"mean,omitempty"`
	Min     *float64 `json:"min,omitempty"`
	Max     *float64 `json:"max,omitempty"`
	StdDev  *float64 `json:"std_dev,omitempty"`
	Unique  int      `json:"unique,omitempty"`
}

// AnalysisProvider exposes describe_dataset over files in the sandbox.
func AnalysisProvider(sys *System) *adapters.Provider {
	describe := func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
		file, err := stringArg(args, "file")
		if err != nil {
			return nil, err
		}
		full, err := sys.Resolve(file)
		if err != nil {
			return nil, err
		}
		f, err := os.Open(full)
		if err != nil {
			return nil, err
		}
		defer f.Close()

		rows, stats, err := DescribeCSV(f)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", file, err)
		}
		return map[string]interface{}{
			"summary": summarizeStats(file, rows, stats),
			"title":   fmt.Sprintf("Summary statistics for %s", file),
			"rows":    rows,
			"table":   stats,
		}, nil
	}

	return adapters.NewProvider("analysis",
		adapters.NewGoToolAdapter("describe_dataset", describe,
			adapters.WithDescription("Computes summary statistics for a CSV file in the workspace."),
			adapters.WithCategory(mcpdesk.CategoryAnalysis),
			adapters.WithParameters(adapters.Required("file", mcpdesk.ParamString, "CSV file inside the workspace"))),
	)
}

// DescribeCSV reads a CSV with a header row and returns the row count and
// per-column statistics. A column is numeric when every non-empty cell parses
// as a number.
func DescribeCSV(r io.Reader) (int, []ColumnStats, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return 0, nil, fmt.Errorf("file is empty")
	}
	if err != nil {
		return 0, nil, err
	}

	cols := make([][]string, len(header))
	rows := 0
	for {
		rec, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return 0, nil, err
		}
		rows++
		for i := range header {
			v := ""
			if i < len(rec) {
				v = strings.TrimSpace(rec[i])
			}
			cols[i] = append(cols[i], v)
		}
	}

	stats := make([]ColumnStats, len(header))
	for i, name := range header {
		stats[i] = columnStats(strings.TrimSpace(name), cols[i])
	}
	return rows, stats, nil
}

func columnStats(name string, values []string) ColumnStats {
	st := ColumnStats{Column: name, Kind: "numeric"}
	var nums []float64
	unique := make(map[string]struct{})
	for _, v := range values {
		if v == "" {
			st.Missing++
			continue
		}
		st.Count++
		unique[v] = struct{}{}
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			nums = append(nums, f)
		} else {
			st.Kind = "text"
		}
	}
	if st.Kind == "text" || len(nums) == 0 {
		st.Kind = "text"
		st.Unique = len(unique)
		return st
	}

	lo, hi, sum := nums[0], nums[0], 0.0
	for _, n := range nums {
		lo = math.Min(lo, n)
		hi = math.Max(hi, n)
		sum += n
	}
	mean := sum / float64(len(nums))
	var sq float64
	for _, n := range nums {
		sq += (n - mean) * (n - mean)
	}
	std := 0.0
	if len(nums) > 1 {
		std = math.Sqrt(sq / float64(len(nums)-1))
	}
	st.Mean, st.Min, st.Max, st.StdDev = round(mean), round(lo), round(hi), round(std)
	return st
}

func round(f float64) *float64 {
	r := math.Round(f*1e4) / 1e4
	return &r
}

func summarizeStats(file string, rows int, stats []ColumnStats) string {
	parts := make([]string, 0, len(stats))
	for _, s := range stats {
		if s.Kind == "numeric" {
			parts = append(parts, fmt.Sprintf("%s mean %s, min %s, max %s",
				s.Column, formatNum(*s.Mean), formatNum(*s.Min), formatNum(*s.Max)))
		} else {
			parts = append(parts, fmt.Sprintf("%s has %d distinct values", s.Column, s.Unique))
		}
	}
	return fmt.Sprintf("%s has %d rows and %d columns; %s", file, rows, len(stats), strings.Join(parts, "; "))
}

func formatNum(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
