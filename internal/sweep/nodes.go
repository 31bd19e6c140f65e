package sweep

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"
)

// LoadNodeList reads an MPI machinefile listing the available nodes.
func LoadNodeList(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open node list: %w", err)
	}
	defer f.Close()

	nodes, err := ParseNodeList(f)
	if err != nil {
		return nil, fmt.Errorf("failed to read node list %s: %w", path, err)
	}
	return nodes, nil
}

// ParseNodeList returns one node per non-blank line, skipping comments.
// Order is preserved: the first N entries form the N-node subset.
func ParseNodeList(r io.Reader) ([]string, error) {
	var nodes []string
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		nodes = append(nodes, line)
	}
	return nodes, scanner.Err()
}

// Machinefile is a temporary node list handed to the launcher for one
// node-count iteration.
type Machinefile struct {
	path string
}

// WriteMachinefile writes nodes to a new temporary file in dir (the system
// temp directory when dir is empty).
func WriteMachinefile(dir string, nodes []string) (*Machinefile, error) {
	f, err := os.CreateTemp(dir, "machinefile-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create machinefile: %w", err)
	}

	w := bufio.NewWriter(f)
	for _, n := range nodes {
		fmt.Fprintln(w, n)
	}
	if err := w.Flush(); err != nil {
		f.Close()
		os.Remove(f.Name())
		return nil, fmt.Errorf("failed to write machinefile: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(f.Name())
		return nil, fmt.Errorf("failed to close machinefile: %w", err)
	}

	return &Machinefile{path: f.Name()}, nil
}

// Path returns the file location.
func (m *Machinefile) Path() string {
	return m.path
}

// Release deletes the file. It is safe to call more than once.
func (m *Machinefile) Release() error {
	if m == nil || m.path == "" {
		return nil
	}
	err := os.Remove(m.path)
	m.path = ""
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove machinefile: %w", err)
	}
	return nil
}

// WithMachinefile writes the first n nodes to a machinefile, calls fn with
// its path and removes the file afterwards, whatever fn returns.
func WithMachinefile(dir string, nodes []string, n int, fn func(path string) error) (err error) {
	if n > len(nodes) {
		return fmt.Errorf("node count %d exceeds the %d nodes available", n, len(nodes))
	}

	mf, err := WriteMachinefile(dir, nodes[:n])
	if err != nil {
		return err
	}
	defer func() {
		if rerr := mf.Release(); rerr != nil && err == nil {
			err = rerr
		}
	}()

	return fn(mf.Path())
}
