package sweep

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iosweep/iosweep/internal/launcher"
)

func validIOROptions() Options {
	return Options{
		Mode:          launcher.ModeIOR,
		Machinefile:   "machines",
		NodeCounts:    []int{1, 2},
		PPNs:          []int{4},
		Workdir:       "/scratch",
		Memory:        "128G",
		TransferSizes: []string{"4M"},
	}
}

func TestOptions_Validate_IOR(t *testing.T) {
	o := validIOROptions()
	assert.NoError(t, o.Validate())
}

func TestOptions_Validate_MDTest(t *testing.T) {
	o := Options{
		Mode:        launcher.ModeMDTest,
		Machinefile: "machines",
		NodeCounts:  []int{1},
		PPNs:        []int{1},
		Workdir:     "/scratch",
		NumFiles:    1000,
	}
	assert.NoError(t, o.Validate())

	o.NumFiles = 0
	err := o.Validate()
	var cerr *ConfigError
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, []string{"--num-files is required for mdtest"}, cerr.Problems)
}

func TestOptions_Validate_Problems(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Options)
		want   string
	}{
		{"missing mode", func(o *Options) { o.Mode = "" }, "--benchmark is required"},
		{"unknown mode", func(o *Options) { o.Mode = "fio" }, "--benchmark must be one of: ior mdtest"},
		{"missing machinefile", func(o *Options) { o.Machinefile = "" }, "--machinefile is required"},
		{"missing hosts", func(o *Options) { o.NodeCounts = nil }, "--num-hosts is required"},
		{"zero host count", func(o *Options) { o.NodeCounts = []int{1, 0} }, "--num-hosts values must be greater than 0"},
		{"negative ppn", func(o *Options) { o.PPNs = []int{-2} }, "--ppn values must be greater than 0"},
		{"missing workdir", func(o *Options) { o.Workdir = "" }, "--workdir is required"},
		{"missing memory", func(o *Options) { o.Memory = "" }, "--memory is required for ior"},
		{"bad memory", func(o *Options) { o.Memory = "lots" }, "--memory: could not parse relative size"},
		{"missing transfer", func(o *Options) { o.TransferSizes = nil }, "--transfer-size is required for ior"},
		{"negative cooldown", func(o *Options) { o.Cooldown = -time.Second }, "--cooldown cannot be negative"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o := validIOROptions()
			tt.mutate(&o)

			err := o.Validate()
			var cerr *ConfigError
			require.ErrorAs(t, err, &cerr)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestOptions_Params(t *testing.T) {
	o := validIOROptions()
	p, err := o.Params(4)
	require.NoError(t, err)
	assert.Equal(t, 131072.0, p.MemoryMB)
	assert.Equal(t, 4, p.AvailableNodes)
	assert.Equal(t, []string{"4M"}, p.TransferSizes)

	o.Memory = "huge"
	_, err = o.Params(4)
	var cerr *ConfigError
	assert.ErrorAs(t, err, &cerr)
}

func TestParseIntList(t *testing.T) {
	got, err := ParseIntList("1, 2,,4,8 ")
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2, 4, 8}, got)

	got, err = ParseIntList("")
	require.NoError(t, err)
	assert.Nil(t, got)

	_, err = ParseIntList("1,two")
	assert.Error(t, err)
}

func TestParseList(t *testing.T) {
	assert.Equal(t, []string{"4k", "128k", "1M"}, ParseList(" 4k,128k,, 1M"))
	assert.Nil(t, ParseList(""))
}
