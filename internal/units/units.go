// Package units converts human-entered size strings into megabytes and back
// into the size tokens accepted by the benchmarks.
package units

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"
)

// ParseError reports a size string that does not match the expected shape.
type ParseError struct {
	Input string
	Kind  string // "relative" or "absolute"
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("could not parse %s size %q", e.Kind, e.Input)
}

var (
	relativePattern = regexp.MustCompile(`(?i)^(\d+)([KMGT]?)B?$`)
	absolutePattern = regexp.MustCompile(`(?i)^(\d+)([KMG])$`)
)

// relativeMultipliers maps a unit suffix to its size in MB.
// M is listed explicitly so the bare and M forms agree.
var relativeMultipliers = map[string]float64{
	"":  1,
	"K": 1.0 / 1024,
	"M": 1,
	"G": 1024,
	"T": 1024 * 1024,
}

var absoluteMultipliers = map[string]float64{
	"K": 1.0 / 1024,
	"M": 1,
	"G": 1024,
}

// ParseRelativeSize parses memory capacities such as "128G", "131072M",
// "64gb" or a bare number of megabytes.
func ParseRelativeSize(s string) (float64, error) {
	m := relativePattern.FindStringSubmatch(strings.TrimSpace(s))
	if m == nil {
		return 0, &ParseError{Input: s, Kind: "relative"}
	}
	return scale(s, "relative", m[1], relativeMultipliers[strings.ToUpper(m[2])])
}

// ParseAbsoluteSize parses transfer size tokens such as "4k", "1M" or "2G".
// A unit is mandatory and T is not accepted. Zero is returned as a value;
// rejecting it is the caller's decision.
func ParseAbsoluteSize(s string) (float64, error) {
	m := absolutePattern.FindStringSubmatch(strings.TrimSpace(s))
	if m == nil {
		return 0, &ParseError{Input: s, Kind: "absolute"}
	}
	return scale(s, "absolute", m[1], absoluteMultipliers[strings.ToUpper(m[2])])
}

func scale(input, kind, digits string, mult float64) (float64, error) {
	n, err := strconv.ParseUint(digits, 10, 64)
	if err != nil {
		return 0, &ParseError{Input: input, Kind: kind}
	}
	return float64(n) * mult, nil
}

// FormatSize renders mb as whole gigabytes ("48g") when it is at least one
// gigabyte, otherwise as whole megabytes ("512m"). Fractions are truncated.
func FormatSize(mb float64) string {
	if mb >= 1024 {
		return fmt.Sprintf("%dg", int64(math.Floor(mb/1024)))
	}
	return fmt.Sprintf("%dm", int64(math.Floor(mb)))
}

// ToKiB converts megabytes to whole kibibytes. Every value produced by the
// parsers is an integral number of KiB, so rounding only absorbs float error.
func ToKiB(mb float64) int64 {
	return int64(math.Round(mb * 1024))
}

// FromKiB converts kibibytes to megabytes.
func FromKiB(kib int64) float64 {
	return float64(kib) / 1024
}

// FormatKiB renders kib with the largest of g, m or k that divides it
// exactly, so the token always denotes the same byte count.
func FormatKiB(kib int64) string {
	switch {
	case kib != 0 && kib%(1024*1024) == 0:
		return fmt.Sprintf("%dg", kib/(1024*1024))
	case kib != 0 && kib%1024 == 0:
		return fmt.Sprintf("%dm", kib/1024)
	default:
		return fmt.Sprintf("%dk", kib)
	}
}

// Humanize renders mb in IEC units for console output, e.g. "48 GiB".
func Humanize(mb float64) string {
	if mb < 0 {
		mb = 0
	}
	return humanize.IBytes(uint64(math.Round(mb * 1024 * 1024)))
}
