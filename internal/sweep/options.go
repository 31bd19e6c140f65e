package sweep

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/iosweep/iosweep/internal/launcher"
	"github.com/iosweep/iosweep/internal/units"
)

// ConfigError is a fatal problem with the sweep options, reported before
// any run is attempted.
type ConfigError struct {
	Problems []string
}

func (e *ConfigError) Error() string {
	return "invalid sweep configuration: " + strings.Join(e.Problems, "; ")
}

// Options are the user-supplied settings of one sweep.
type Options struct {
	Mode          launcher.Mode `validate:"required,oneof=ior mdtest"`
	Machinefile   string        `validate:"required"`
	NodeCounts    []int         `validate:"required,dive,gt=0"`
	PPNs          []int         `validate:"required,dive,gt=0"`
	Workdir       string        `validate:"required"`
	Memory        string        // ior
	TransferSizes []string      // ior
	NumFiles      int           `validate:"gte=0"` // mdtest
	Interface     string
	Output        string
	ParquetOutput string
	LogDir        string
	Cooldown      time.Duration
}

// flagNames maps option fields to the command line flags that set them.
var flagNames = map[string]string{
	"Mode":          "--benchmark",
	"Machinefile":   "--machinefile",
	"NodeCounts":    "--num-hosts",
	"PPNs":          "--ppn",
	"Workdir":       "--workdir",
	"Memory":        "--memory",
	"TransferSizes": "--transfer-size",
	"NumFiles":      "--num-files",
}

var validate = validator.New()

// Validate checks the options for the selected mode.
func (o *Options) Validate() error {
	var problems []string

	if err := validate.Struct(o); err != nil {
		problems = append(problems, describeValidation(err)...)
	}

	switch o.Mode {
	case launcher.ModeIOR:
		if o.Memory == "" {
			problems = append(problems, "--memory is required for ior")
		} else if _, err := units.ParseRelativeSize(o.Memory); err != nil {
			problems = append(problems, fmt.Sprintf("--memory: %v", err))
		}
		if len(o.TransferSizes) == 0 {
			problems = append(problems, "--transfer-size is required for ior")
		}
	case launcher.ModeMDTest:
		if o.NumFiles <= 0 {
			problems = append(problems, "--num-files is required for mdtest")
		}
	}

	if o.Cooldown < 0 {
		problems = append(problems, "--cooldown cannot be negative")
	}

	if len(problems) > 0 {
		return &ConfigError{Problems: problems}
	}
	return nil
}

// Params converts validated options into grid inputs.
func (o *Options) Params(availableNodes int) (Params, error) {
	p := Params{
		Mode:           o.Mode,
		NodeCounts:     o.NodeCounts,
		PPNs:           o.PPNs,
		TransferSizes:  o.TransferSizes,
		TargetFiles:    o.NumFiles,
		AvailableNodes: availableNodes,
	}
	if o.Mode == launcher.ModeIOR {
		mb, err := units.ParseRelativeSize(o.Memory)
		if err != nil {
			return Params{}, &ConfigError{Problems: []string{fmt.Sprintf("--memory: %v", err)}}
		}
		p.MemoryMB = mb
	}
	return p, nil
}

func describeValidation(err error) []string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return []string{err.Error()}
	}

	var out []string
	for _, fe := range verrs {
		field, _, _ := strings.Cut(fe.StructField(), "[")
		name := flagNames[field]
		if name == "" {
			name = fe.Field()
		}
		switch fe.Tag() {
		case "required":
			out = append(out, name+" is required")
		case "oneof":
			out = append(out, fmt.Sprintf("%s must be one of: %s", name, fe.Param()))
		case "gt":
			out = append(out, fmt.Sprintf("%s values must be greater than %s", name, fe.Param()))
		default:
			out = append(out, fmt.Sprintf("%s failed validation (%s)", name, fe.Tag()))
		}
	}
	return out
}

// ParseIntList parses a comma separated list such as "1,2,4,8". Empty
// entries are ignored; an empty input yields nil.
func ParseIntList(s string) ([]int, error) {
	var out []int
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		n, err := strconv.Atoi(part)
		if err != nil {
			return nil, fmt.Errorf("invalid integer %q in list %q", part, s)
		}
		out = append(out, n)
	}
	return out, nil
}

// ParseList splits a comma separated list, trimming entries and dropping
// empty ones.
func ParseList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
