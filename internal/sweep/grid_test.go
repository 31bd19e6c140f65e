package sweep

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iosweep/iosweep/internal/launcher"
	"github.com/iosweep/iosweep/internal/units"
)

func TestDeriveBlock_128GFourProcs(t *testing.T) {
	mem, err := units.ParseRelativeSize("128G")
	require.NoError(t, err)

	block, err := DeriveBlock(mem, 4, "4M")
	require.NoError(t, err)

	assert.Equal(t, 49152.0, block.InitialBlockMB)
	assert.Equal(t, 49152.0, block.BlockMB)
	assert.Equal(t, 4.0, block.TransferMB)
	assert.Equal(t, "48g", block.Token)
}

func TestDeriveBlock_RoundsDownToTransferMultiple(t *testing.T) {
	// 1.5 * 1000 / 7 = 214.28MB; 3k transfers do not divide it.
	block, err := DeriveBlock(1000, 7, "3k")
	require.NoError(t, err)

	blockKiB := units.ToKiB(block.BlockMB)
	assert.Equal(t, int64(219426), blockKiB)
	assert.Zero(t, blockKiB%3)
	assert.Equal(t, "219426k", block.Token)
}

func TestDeriveBlock_TokenStaysExact(t *testing.T) {
	// 1536MB would print as "1g" and lose half a gigabyte.
	block, err := DeriveBlock(1024, 1, "512M")
	require.NoError(t, err)
	assert.Equal(t, 1536.0, block.BlockMB)
	assert.Equal(t, "1536m", block.Token)

	block, err = DeriveBlock(1024, 3, "4k")
	require.NoError(t, err)
	assert.Equal(t, "512m", block.Token)
}

func TestDeriveBlock_Errors(t *testing.T) {
	_, err := DeriveBlock(1024, 1, "4T")
	var perr *units.ParseError
	assert.ErrorAs(t, err, &perr)

	_, err = DeriveBlock(1024, 1, "0M")
	assert.ErrorIs(t, err, ErrZeroTransfer)

	_, err = DeriveBlock(1, 4, "1M")
	var infeasible *InfeasibleError
	require.ErrorAs(t, err, &infeasible)
	assert.Equal(t, 0.375, infeasible.InitialBlockMB)
	assert.Equal(t, 0.0, infeasible.BlockMB)
	assert.Contains(t, err.Error(), "smaller than transfer size")

	_, err = DeriveBlock(1024, 0, "1M")
	assert.Error(t, err)
}

func TestDeriveBlock_Properties(t *testing.T) {
	memories := []string{"1G", "3G", "64G", "96G", "128G", "1000M", "1T"}
	transfers := []string{"1k", "3k", "4k", "64k", "128K", "1M", "3M", "4M", "16M", "1G"}

	for _, m := range memories {
		memMB, err := units.ParseRelativeSize(m)
		require.NoError(t, err)

		for ppn := 1; ppn <= 64; ppn++ {
			for _, x := range transfers {
				xferMB, err := units.ParseAbsoluteSize(x)
				require.NoError(t, err)

				initial := 1.5 * memMB / float64(ppn)
				block, err := DeriveBlock(memMB, ppn, x)
				if xferMB > initial {
					var infeasible *InfeasibleError
					assert.ErrorAs(t, err, &infeasible, "mem=%s ppn=%d xfer=%s", m, ppn, x)
					continue
				}
				require.NoError(t, err, "mem=%s ppn=%d xfer=%s", m, ppn, x)

				blockKiB := units.ToKiB(block.BlockMB)
				xferKiB := units.ToKiB(xferMB)
				assert.Zero(t, blockKiB%xferKiB, "block not a multiple: mem=%s ppn=%d xfer=%s", m, ppn, x)
				assert.LessOrEqual(t, block.BlockMB, initial)
				assert.GreaterOrEqual(t, blockKiB, xferKiB)

				tokenMB, err := units.ParseAbsoluteSize(block.Token)
				require.NoError(t, err, "token %q", block.Token)
				assert.Equal(t, blockKiB, units.ToKiB(tokenMB), "token %q", block.Token)
			}
		}
	}
}

func TestDeriveFiles(t *testing.T) {
	tests := []struct {
		target, nodes, ppn int
		perProc, total     int
	}{
		{1000, 2, 2, 250, 1000},
		{10, 3, 4, 1, 12},
		{1000, 3, 1, 333, 999},
		{0, 1, 1, 1, 1},
		{7, 1, 7, 1, 7},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("%d/%dx%d", tt.target, tt.nodes, tt.ppn), func(t *testing.T) {
			perProc, total := DeriveFiles(tt.target, tt.nodes, tt.ppn)
			assert.Equal(t, tt.perProc, perProc)
			assert.Equal(t, tt.total, total)
		})
	}
}

func TestDeriveFiles_Properties(t *testing.T) {
	for target := 0; target <= 200; target += 7 {
		for nodes := 1; nodes <= 6; nodes++ {
			for ppn := 1; ppn <= 8; ppn++ {
				procs := nodes * ppn
				perProc, total := DeriveFiles(target, nodes, ppn)
				assert.GreaterOrEqual(t, perProc, 1)
				if target >= procs {
					assert.Equal(t, target-target%procs, total)
				} else {
					assert.Equal(t, 1, perProc)
					assert.Equal(t, procs, total)
				}
			}
		}
	}
}

func TestEnumerate_IOROrder(t *testing.T) {
	plan, err := Enumerate(Params{
		Mode:          launcher.ModeIOR,
		NodeCounts:    []int{1, 2},
		PPNs:          []int{4, 8},
		MemoryMB:      131072,
		TransferSizes: []string{"4M", "1M"},
	})
	require.NoError(t, err)
	require.Len(t, plan.Points, 8)
	assert.Empty(t, plan.Skipped)

	var got []string
	for i, p := range plan.Points {
		assert.Equal(t, i, p.Index)
		got = append(got, fmt.Sprintf("%d/%d/%s", p.NodeCount, p.PPN, p.TransferSize))
	}
	assert.Equal(t, []string{
		"1/4/4M", "1/4/1M", "1/8/4M", "1/8/1M",
		"2/4/4M", "2/4/1M", "2/8/4M", "2/8/1M",
	}, got)

	assert.Equal(t, "48g", plan.Points[0].BlockSize)
	assert.Equal(t, "24g", plan.Points[2].BlockSize)
}

func TestEnumerate_IORSkips(t *testing.T) {
	plan, err := Enumerate(Params{
		Mode:           launcher.ModeIOR,
		NodeCounts:     []int{1, 16},
		PPNs:           []int{4},
		MemoryMB:       4,
		TransferSizes:  []string{"bogus", "0k", "4M", "1M"},
		AvailableNodes: 8,
	})
	require.NoError(t, err)

	require.Len(t, plan.Points, 1)
	assert.Equal(t, "1M", plan.Points[0].TransferSize)
	assert.Equal(t, "1m", plan.Points[0].BlockSize)

	reasons := map[SkipReason]int{}
	for _, s := range plan.Skipped {
		reasons[s.Reason]++
		assert.NotEmpty(t, s.Detail)
	}
	assert.Equal(t, map[SkipReason]int{
		SkipBadTransfer:       1,
		SkipZeroTransfer:      1,
		SkipInfeasible:        1,
		SkipInsufficientNodes: 1,
	}, reasons)
}

func TestEnumerate_MDTest(t *testing.T) {
	plan, err := Enumerate(Params{
		Mode:        launcher.ModeMDTest,
		NodeCounts:  []int{2, 3},
		PPNs:        []int{2, 4},
		TargetFiles: 1000,
	})
	require.NoError(t, err)
	require.Len(t, plan.Points, 4)

	first := plan.Points[0]
	assert.Equal(t, 2, first.NodeCount)
	assert.Equal(t, 2, first.PPN)
	assert.Equal(t, 250, first.FilesPerProc)
	assert.Equal(t, 1000, first.TotalFiles)
	assert.Equal(t, 4, first.TotalProcs())
	assert.Empty(t, first.BlockSize)

	last := plan.Points[3]
	assert.Equal(t, 3, last.NodeCount)
	assert.Equal(t, 4, last.PPN)
	assert.Equal(t, 83, last.FilesPerProc)
	assert.Equal(t, 996, last.TotalFiles)
}

func TestEnumerate_UnknownMode(t *testing.T) {
	_, err := Enumerate(Params{Mode: "fio"})
	assert.Error(t, err)
}

func TestRunConfig_Invocation(t *testing.T) {
	cfg := RunConfig{Mode: launcher.ModeIOR, NodeCount: 2, PPN: 4, TransferSize: "4M", BlockSize: "48g"}
	inv := cfg.Invocation("/tmp/m", "/scratch")
	assert.Equal(t, launcher.Invocation{
		Mode:         launcher.ModeIOR,
		PPN:          4,
		Machinefile:  "/tmp/m",
		Workdir:      "/scratch",
		TransferSize: "4M",
		BlockSize:    "48g",
	}, inv)
}

func TestSkipReason_Fallback(t *testing.T) {
	assert.Equal(t, SkipBadTransfer, skipReason(errors.New("other")))
}
