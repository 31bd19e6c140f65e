package units

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRelativeSize(t *testing.T) {
	tests := []struct {
		input string
		want  float64
	}{
		{"128G", 131072},
		{"128g", 131072},
		{"131072M", 131072},
		{"131072m", 131072},
		{"131072", 131072},
		{"64GB", 65536},
		{"64gb", 65536},
		{"2T", 2 * 1024 * 1024},
		{"512K", 0.5},
		{"1kb", 1.0 / 1024},
		{" 4G ", 4096},
		{"0", 0},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseRelativeSize(tt.input)
			require.NoError(t, err)
			assert.InDelta(t, tt.want, got, 1e-9)
		})
	}
}

func TestParseRelativeSize_Invalid(t *testing.T) {
	for _, input := range []string{"", "G", "12X", "1.5G", "-4G", "4P", "4 G", "4GiB"} {
		t.Run(input, func(t *testing.T) {
			_, err := ParseRelativeSize(input)
			require.Error(t, err)

			var perr *ParseError
			assert.True(t, errors.As(err, &perr))
			assert.Equal(t, "relative", perr.Kind)
		})
	}
}

func TestParseAbsoluteSize(t *testing.T) {
	tests := []struct {
		input string
		want  float64
	}{
		{"4k", 4.0 / 1024},
		{"128K", 0.125},
		{"1M", 1},
		{"1m", 1},
		{"4G", 4096},
		{"0M", 0},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseAbsoluteSize(tt.input)
			require.NoError(t, err)
			assert.InDelta(t, tt.want, got, 1e-12)
		})
	}
}

func TestParseAbsoluteSize_Invalid(t *testing.T) {
	for _, input := range []string{"4", "4T", "4MB", "k", "1.5M", ""} {
		t.Run(input, func(t *testing.T) {
			_, err := ParseAbsoluteSize(input)
			var perr *ParseError
			require.ErrorAs(t, err, &perr)
			assert.Equal(t, "absolute", perr.Kind)
			assert.Contains(t, err.Error(), input)
		})
	}
}

func TestFormatSize(t *testing.T) {
	tests := []struct {
		mb   float64
		want string
	}{
		{49152, "48g"},
		{1024, "1g"},
		{1536, "1g"},
		{1023.9, "1023m"},
		{512, "512m"},
		{0.5, "0m"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, FormatSize(tt.mb), "FormatSize(%v)", tt.mb)
	}
}

func TestFormatSize_RoundTripsWholeUnits(t *testing.T) {
	for _, input := range []string{"1M", "512M", "1023M", "1G", "4G", "48G", "1024K", "2048k"} {
		mb, err := ParseAbsoluteSize(input)
		require.NoError(t, err)

		back, err := ParseAbsoluteSize(FormatSize(mb))
		require.NoError(t, err)
		assert.Equal(t, ToKiB(mb), ToKiB(back), "round trip of %s", input)
	}
}

func TestFormatKiB(t *testing.T) {
	assert.Equal(t, "48g", FormatKiB(48*1024*1024))
	assert.Equal(t, "1536m", FormatKiB(1536*1024))
	assert.Equal(t, "100k", FormatKiB(100))
	assert.Equal(t, "0k", FormatKiB(0))

	for _, input := range []string{"4k", "3K", "1536M", "7G"} {
		mb, err := ParseAbsoluteSize(input)
		require.NoError(t, err)
		back, err := ParseAbsoluteSize(FormatKiB(ToKiB(mb)))
		require.NoError(t, err)
		assert.Equal(t, ToKiB(mb), ToKiB(back), "round trip of %s", input)
	}
}

func TestToKiB(t *testing.T) {
	assert.Equal(t, int64(4), ToKiB(4.0/1024))
	assert.Equal(t, int64(1024), ToKiB(1))
	assert.Equal(t, int64(128*1024*1024), ToKiB(131072))
	assert.InDelta(t, 0.125, FromKiB(128), 1e-12)
}

func TestHumanize(t *testing.T) {
	assert.Equal(t, "48 GiB", Humanize(49152))
	assert.Equal(t, "4.0 MiB", Humanize(4))
	assert.Equal(t, "0 B", Humanize(-1))
}
