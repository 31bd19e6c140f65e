// Package report extracts summary metrics from the text printed by the IOR
// and mdtest benchmarks. Both parsers are tolerant line scanners: lines they
// do not recognise are skipped and never fail the parse.
package report

import (
	"regexp"
	"strconv"
	"strings"
)

// Rate is a bandwidth figure as printed by IOR, e.g. "1234.56 MiB/s".
type Rate struct {
	Raw   string  `json:"raw"`
	Value float64 `json:"value"`
	Unit  string  `json:"unit"`
}

// Throughput holds the maximum write and read bandwidth of an IOR run.
// Either field is nil when the report did not contain it.
type Throughput struct {
	MaxWrite *Rate `json:"max_write,omitempty"`
	MaxRead  *Rate `json:"max_read,omitempty"`
}

// Empty reports whether neither bandwidth figure was found.
func (t Throughput) Empty() bool {
	return t.MaxWrite == nil && t.MaxRead == nil
}

// OperationStats is one data row of the mdtest "SUMMARY rate" table.
type OperationStats struct {
	Operation string `json:"operation"`
	Max       string `json:"max"`
	Min       string `json:"min"`
	Mean      string `json:"mean"`
	StdDev    string `json:"stddev"`
}

var (
	maxWritePattern = regexp.MustCompile(`Max Write:\s+([\d.]+)\s+(\w+/s)`)
	maxReadPattern  = regexp.MustCompile(`Max Read:\s+([\d.]+)\s+(\w+/s)`)
	columnSplit     = regexp.MustCompile(`\s{2,}`)
)

const (
	summaryMarker = "SUMMARY rate"
	headerPrefix  = "Operation"
	summaryFields = 5
)

// ParseThroughput scans IOR output for the "Max Write" and "Max Read"
// summary lines. The first match of each label wins.
func ParseThroughput(output string) Throughput {
	var t Throughput
	for line := range strings.Lines(output) {
		if t.MaxWrite == nil && strings.Contains(line, "Max Write") {
			t.MaxWrite = matchRate(maxWritePattern, line)
		}
		if t.MaxRead == nil && strings.Contains(line, "Max Read") {
			t.MaxRead = matchRate(maxReadPattern, line)
		}
	}
	return t
}

func matchRate(pattern *regexp.Regexp, line string) *Rate {
	m := pattern.FindStringSubmatch(line)
	if m == nil {
		return nil
	}
	value, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return nil // e.g. "1.2.3"
	}
	return &Rate{Raw: m[1], Value: value, Unit: m[2]}
}

// ParseSummaryTable extracts the rows of the mdtest "SUMMARY rate" table.
//
// The table is located by the marker line, then the first following line
// starting with "Operation". The header and the separator line under it are
// skipped; data rows follow until a blank line or a line starting with "--".
// Only lines that split into exactly five columns on runs of two or more
// spaces are kept. Output without the table yields an empty result.
func ParseSummaryTable(output string) []OperationStats {
	lines := strings.Split(strings.ReplaceAll(output, "\r\n", "\n"), "\n")

	start := -1
	inSummary := false
	for i, line := range lines {
		if !inSummary {
			if strings.Contains(line, summaryMarker) {
				inSummary = true
			}
			continue
		}
		if strings.HasPrefix(strings.TrimSpace(line), headerPrefix) {
			start = i + 2
			break
		}
	}
	if start < 0 {
		return []OperationStats{}
	}

	rows := []OperationStats{}
	for i := start; i < len(lines); i++ {
		line := strings.TrimSpace(lines[i])
		if line == "" || strings.HasPrefix(line, "--") {
			break
		}
		cols := columnSplit.Split(line, -1)
		if len(cols) != summaryFields {
			continue
		}
		rows = append(rows, OperationStats{
			Operation: cols[0],
			Max:       cols[1],
			Min:       cols[2],
			Mean:      cols[3],
			StdDev:    cols[4],
		})
	}
	return rows
}
