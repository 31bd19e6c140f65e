// Package sweep enumerates the parameter grid of a benchmark campaign and
// derives the per-run block sizes and file counts.
package sweep

import (
	"errors"
	"fmt"

	"github.com/iosweep/iosweep/internal/launcher"
	"github.com/iosweep/iosweep/internal/units"
)

// blockMemoryFactor is the share of node memory written per node in ior
// mode, so that the data set cannot be served from the page cache.
const blockMemoryFactor = 1.5

// ErrZeroTransfer is returned for a transfer size of zero bytes.
var ErrZeroTransfer = errors.New("transfer size must be > 0")

// InfeasibleError reports a grid point whose block size rounds below one
// transfer.
type InfeasibleError struct {
	InitialBlockMB float64
	BlockMB        float64
	TransferMB     float64
}

func (e *InfeasibleError) Error() string {
	return fmt.Sprintf("blocksize (%gMB rounded down to %gMB) smaller than transfer size (%gMB)",
		e.InitialBlockMB, e.BlockMB, e.TransferMB)
}

// RunConfig is one point of the grid. Derived fields are filled by
// Enumerate and never change afterwards.
type RunConfig struct {
	Index     int           `json:"index"`
	Mode      launcher.Mode `json:"mode"`
	NodeCount int           `json:"node_count"`
	PPN       int           `json:"ppn"`

	// ior
	TransferSize   string  `json:"transfer_size,omitempty"`
	TransferMB     float64 `json:"transfer_mb,omitempty"`
	InitialBlockMB float64 `json:"initial_block_mb,omitempty"`
	BlockMB        float64 `json:"block_mb,omitempty"`
	BlockSize      string  `json:"block_size,omitempty"`

	// mdtest
	TargetFiles  int `json:"target_files,omitempty"`
	FilesPerProc int `json:"files_per_proc,omitempty"`
	TotalFiles   int `json:"total_files,omitempty"`
}

// TotalProcs returns the number of benchmark processes across all nodes.
func (c RunConfig) TotalProcs() int {
	return c.NodeCount * c.PPN
}

// Invocation returns the launcher input for this grid point.
func (c RunConfig) Invocation(machinefile, workdir string) launcher.Invocation {
	return launcher.Invocation{
		Mode:         c.Mode,
		PPN:          c.PPN,
		Machinefile:  machinefile,
		Workdir:      workdir,
		TransferSize: c.TransferSize,
		BlockSize:    c.BlockSize,
		FilesPerProc: c.FilesPerProc,
	}
}

// Params are the inputs of the grid.
type Params struct {
	Mode       launcher.Mode
	NodeCounts []int
	PPNs       []int

	MemoryMB      float64  // per node, ior
	TransferSizes []string // ior

	TargetFiles int // mdtest

	// AvailableNodes bounds the node counts when positive.
	AvailableNodes int
}

// SkipReason classifies a grid point that will not be executed.
type SkipReason string

const (
	SkipBadTransfer       SkipReason = "bad_transfer_size"
	SkipZeroTransfer      SkipReason = "zero_transfer_size"
	SkipInfeasible        SkipReason = "infeasible_block_size"
	SkipInsufficientNodes SkipReason = "insufficient_nodes"
)

// Skip records a grid point left out of the plan.
type Skip struct {
	NodeCount    int        `json:"node_count"`
	PPN          int        `json:"ppn,omitempty"`
	TransferSize string     `json:"transfer_size,omitempty"`
	Reason       SkipReason `json:"reason"`
	Detail       string     `json:"detail"`
}

// Plan is the ordered list of grid points to run plus the ones skipped.
type Plan struct {
	Mode    launcher.Mode `json:"mode"`
	Points  []RunConfig   `json:"points"`
	Skipped []Skip        `json:"skipped,omitempty"`
}

// Enumerate walks node counts (outer), then processes per node, then
// transfer sizes, and returns the grid points in that order.
func Enumerate(p Params) (*Plan, error) {
	if !p.Mode.Valid() {
		return nil, fmt.Errorf("unknown benchmark mode %q", p.Mode)
	}

	plan := &Plan{Mode: p.Mode, Points: []RunConfig{}}
	add := func(c RunConfig) {
		c.Index = len(plan.Points)
		plan.Points = append(plan.Points, c)
	}

	for _, nodes := range p.NodeCounts {
		if p.AvailableNodes > 0 && nodes > p.AvailableNodes {
			plan.Skipped = append(plan.Skipped, Skip{
				NodeCount: nodes,
				Reason:    SkipInsufficientNodes,
				Detail:    fmt.Sprintf("node count %d exceeds the %d nodes in the node list", nodes, p.AvailableNodes),
			})
			continue
		}

		for _, ppn := range p.PPNs {
			switch p.Mode {
			case launcher.ModeIOR:
				for _, xfer := range p.TransferSizes {
					block, err := DeriveBlock(p.MemoryMB, ppn, xfer)
					if err != nil {
						plan.Skipped = append(plan.Skipped, Skip{
							NodeCount:    nodes,
							PPN:          ppn,
							TransferSize: xfer,
							Reason:       skipReason(err),
							Detail:       err.Error(),
						})
						continue
					}
					add(RunConfig{
						Mode:           p.Mode,
						NodeCount:      nodes,
						PPN:            ppn,
						TransferSize:   xfer,
						TransferMB:     block.TransferMB,
						InitialBlockMB: block.InitialBlockMB,
						BlockMB:        block.BlockMB,
						BlockSize:      block.Token,
					})
				}
			case launcher.ModeMDTest:
				perProc, total := DeriveFiles(p.TargetFiles, nodes, ppn)
				add(RunConfig{
					Mode:         p.Mode,
					NodeCount:    nodes,
					PPN:          ppn,
					TargetFiles:  p.TargetFiles,
					FilesPerProc: perProc,
					TotalFiles:   total,
				})
			}
		}
	}

	return plan, nil
}

func skipReason(err error) SkipReason {
	var perr *units.ParseError
	var infeasible *InfeasibleError
	switch {
	case errors.As(err, &perr):
		return SkipBadTransfer
	case errors.Is(err, ErrZeroTransfer):
		return SkipZeroTransfer
	case errors.As(err, &infeasible):
		return SkipInfeasible
	default:
		return SkipBadTransfer
	}
}

// BlockSpec is the derived block size for one ior grid point.
type BlockSpec struct {
	TransferMB     float64
	InitialBlockMB float64
	BlockMB        float64
	Token          string
}

// DeriveBlock computes the per-process block size for an ior run: 1.5x the
// node memory split across ppn processes, rounded down to a whole multiple
// of the transfer size.
//
// The arithmetic is done in KiB so the rounding is exact for K-sized
// transfers. The token is FormatSize of the block unless that would not
// denote the block exactly, in which case a lossless token is used.
func DeriveBlock(memoryMB float64, ppn int, transfer string) (BlockSpec, error) {
	if ppn <= 0 {
		return BlockSpec{}, fmt.Errorf("processes per node must be positive, got %d", ppn)
	}

	xferMB, err := units.ParseAbsoluteSize(transfer)
	if err != nil {
		return BlockSpec{}, err
	}
	xferKiB := units.ToKiB(xferMB)
	if xferKiB == 0 {
		return BlockSpec{}, ErrZeroTransfer
	}

	initialMB := blockMemoryFactor * memoryMB / float64(ppn)
	initialKiB := units.ToKiB(memoryMB) * 3 / int64(2*ppn)
	blockKiB := initialKiB / xferKiB * xferKiB
	blockMB := units.FromKiB(blockKiB)

	if blockKiB < xferKiB {
		return BlockSpec{}, &InfeasibleError{
			InitialBlockMB: initialMB,
			BlockMB:        blockMB,
			TransferMB:     xferMB,
		}
	}

	token := units.FormatSize(blockMB)
	if tokenMB, err := units.ParseAbsoluteSize(token); err != nil || units.ToKiB(tokenMB) != blockKiB {
		token = units.FormatKiB(blockKiB)
	}

	return BlockSpec{
		TransferMB:     xferMB,
		InitialBlockMB: initialMB,
		BlockMB:        blockMB,
		Token:          token,
	}, nil
}

// DeriveFiles splits targetFiles across nodes*ppn processes. Every process
// creates at least one file, so the total may differ from the target.
func DeriveFiles(targetFiles, nodes, ppn int) (perProc, total int) {
	procs := nodes * ppn
	if procs <= 0 {
		return 0, 0
	}
	perProc = max(targetFiles/procs, 1)
	return perProc, perProc * procs
}
