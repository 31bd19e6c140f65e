package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/iosweep/iosweep/internal/config"
	"github.com/iosweep/iosweep/internal/launcher"
	"github.com/iosweep/iosweep/internal/sweep"
)

// gridFlags are the flags shared by commands that enumerate a grid.
type gridFlags struct {
	benchmark     string
	machinefile   string
	numHosts      string
	ppn           string
	workdir       string
	memory        string
	transferSizes string
	numFiles      int
	iface         string
}

func (f *gridFlags) register(cmd *cobra.Command) {
	flags := cmd.Flags()
	flags.StringVarP(&f.benchmark, "benchmark", "b", "", "benchmark to run (ior, mdtest)")
	flags.StringVar(&f.machinefile, "machinefile", "", "node list, one host per line")
	flags.StringVar(&f.numHosts, "num-hosts", "", "comma separated node counts, e.g. 1,2,4")
	flags.StringVar(&f.ppn, "ppn", "", "comma separated processes per node, e.g. 1,8,16")
	flags.StringVarP(&f.workdir, "workdir", "d", "", "directory on the filesystem under test")
	flags.StringVar(&f.memory, "memory", "", "memory per node, e.g. 128G (ior)")
	flags.StringVar(&f.transferSizes, "transfer-size", "", "comma separated transfer sizes, e.g. 1M,4M (ior)")
	flags.IntVar(&f.numFiles, "num-files", 0, "target number of files across all processes (mdtest)")
	flags.StringVar(&f.iface, "interface", "", "network interface for MPI traffic (default from config)")
}

// options converts the flags into sweep options. List syntax errors are
// reported as configuration errors.
func (f *gridFlags) options(cfg *config.Config) (sweep.Options, error) {
	var problems []string

	nodeCounts, err := sweep.ParseIntList(f.numHosts)
	if err != nil {
		problems = append(problems, fmt.Sprintf("--num-hosts: %v", err))
	}
	ppns, err := sweep.ParseIntList(f.ppn)
	if err != nil {
		problems = append(problems, fmt.Sprintf("--ppn: %v", err))
	}
	if len(problems) > 0 {
		return sweep.Options{}, &sweep.ConfigError{Problems: problems}
	}

	iface := f.iface
	if iface == "" {
		iface = cfg.Launcher.Interface
	}

	return sweep.Options{
		Mode:          launcher.Mode(f.benchmark),
		Machinefile:   f.machinefile,
		NodeCounts:    nodeCounts,
		PPNs:          ppns,
		Workdir:       f.workdir,
		Memory:        f.memory,
		TransferSizes: sweep.ParseList(f.transferSizes),
		NumFiles:      f.numFiles,
		Interface:     iface,
	}, nil
}

// newLauncher builds the MPI launcher from config, with the interface
// chosen for this sweep.
func newLauncher(cfg *config.Config, iface string) *launcher.Launcher {
	return launcher.New(
		launcher.WithExecutable(cfg.Launcher.Executable),
		launcher.WithInterface(iface),
		launcher.WithTransport(cfg.Launcher.PML, cfg.Launcher.BTL),
		launcher.WithBenchmarkPaths(cfg.Launcher.IOR, cfg.Launcher.MDTest),
	)
}
