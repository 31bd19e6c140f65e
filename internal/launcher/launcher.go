// Package launcher builds the MPI launcher invocation for a grid point and
// runs it as an external process.
package launcher

import (
	"fmt"
	"strconv"
)

// Mode selects the benchmark driven by the launcher.
type Mode string

const (
	ModeIOR    Mode = "ior"
	ModeMDTest Mode = "mdtest"
)

// Valid reports whether m is a known benchmark mode.
func (m Mode) Valid() bool {
	return m == ModeIOR || m == ModeMDTest
}

const (
	DefaultExecutable = "mpirun"
	DefaultInterface  = "eth0"
	DefaultPML        = "ob1"
	DefaultBTL        = "tcp,self"
	DefaultIORPath    = "ior"
	DefaultMDTestPath = "mdtest"
)

// Launcher describes how benchmark processes are spawned across nodes.
type Launcher struct {
	Executable string // launcher binary, e.g. mpirun
	Interface  string // network interface for MPI traffic
	PML        string // point-to-point messaging layer
	BTL        string // byte transfer layers
	IORPath    string
	MDTestPath string
}

// Option configures a Launcher
type Option func(*Launcher)

// WithExecutable sets the launcher binary
func WithExecutable(path string) Option {
	return func(l *Launcher) {
		if path != "" {
			l.Executable = path
		}
	}
}

// WithInterface sets the network interface passed to the TCP transport
func WithInterface(iface string) Option {
	return func(l *Launcher) {
		if iface != "" {
			l.Interface = iface
		}
	}
}

// WithTransport overrides the pml and btl selections
func WithTransport(pml, btl string) Option {
	return func(l *Launcher) {
		if pml != "" {
			l.PML = pml
		}
		if btl != "" {
			l.BTL = btl
		}
	}
}

// WithBenchmarkPaths sets the ior and mdtest binaries
func WithBenchmarkPaths(ior, mdtest string) Option {
	return func(l *Launcher) {
		if ior != "" {
			l.IORPath = ior
		}
		if mdtest != "" {
			l.MDTestPath = mdtest
		}
	}
}

// New creates a Launcher with Open MPI defaults.
func New(opts ...Option) *Launcher {
	l := &Launcher{
		Executable: DefaultExecutable,
		Interface:  DefaultInterface,
		PML:        DefaultPML,
		BTL:        DefaultBTL,
		IORPath:    DefaultIORPath,
		MDTestPath: DefaultMDTestPath,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Invocation is the benchmark-specific part of one launch.
type Invocation struct {
	Mode         Mode
	PPN          int
	Machinefile  string
	Workdir      string
	TransferSize string // ior
	BlockSize    string // ior
	FilesPerProc int    // mdtest
}

// Args returns the argument vector for inv, starting with the launcher
// executable.
func (l *Launcher) Args(inv Invocation) ([]string, error) {
	if inv.PPN <= 0 {
		return nil, fmt.Errorf("processes per node must be positive, got %d", inv.PPN)
	}
	if inv.Machinefile == "" {
		return nil, fmt.Errorf("machinefile cannot be empty")
	}

	argv := []string{
		l.Executable, "--oversubscribe",
		"--mca", "pml", l.PML,
		"--mca", "btl", l.BTL,
		"--mca", "btl_tcp_if_include", l.Interface,
		"--machinefile", inv.Machinefile,
		"-npernode", strconv.Itoa(inv.PPN),
	}

	switch inv.Mode {
	case ModeIOR:
		if inv.TransferSize == "" || inv.BlockSize == "" {
			return nil, fmt.Errorf("ior requires transfer and block size")
		}
		argv = append(argv, l.IORPath,
			"-t", inv.TransferSize,
			"-b", inv.BlockSize,
			"-o", inv.Workdir,
			"-vv")
	case ModeMDTest:
		if inv.FilesPerProc <= 0 {
			return nil, fmt.Errorf("mdtest requires a positive file count per process, got %d", inv.FilesPerProc)
		}
		argv = append(argv, l.MDTestPath,
			"-n", strconv.Itoa(inv.FilesPerProc),
			"-d", inv.Workdir)
	default:
		return nil, fmt.Errorf("unknown benchmark mode %q", inv.Mode)
	}

	return argv, nil
}
