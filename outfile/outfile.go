// Package outfile implements the opaque output-file directory sink
// (spec.md §6's outdir_manager): add_file/clobber semantics, treated by
// the core as a black box. The concrete plotting/output-file subsystem
// stays out of core scope; only this interface is specified.
package outfile

import (
	"fmt"
	"os"
	"path/filepath"
)

// Manager allocates absolute paths for output files written under a
// single output directory, enforcing clobber/non-clobber semantics at
// construction.
type Manager struct {
	Dir     string
	Clobber bool

	seen map[string]struct{}
}

// New constructs a Manager rooted at dir. If dir is empty, the manager
// refuses every AddFile call (spec.md §4.2's add_file contract: "no
// outdir_manager in pipeline_object::add_file()" is the zero-value case;
// here it is the empty-dir case).
func New(dir string, clobber bool) *Manager {
	return &Manager{Dir: dir, Clobber: clobber, seen: make(map[string]struct{})}
}

// AddFile returns the absolute path for basename under Dir, creating
// Dir if needed and failing if the file already exists and Clobber is
// false.
func (m *Manager) AddFile(basename string) (string, error) {
	if m.Dir == "" {
		return "", fmt.Errorf("rfpipe: attempted to write output file, but outdir was empty")
	}
	if err := os.MkdirAll(m.Dir, 0o755); err != nil {
		return "", fmt.Errorf("rfpipe: couldn't create output directory %s: %w", m.Dir, err)
	}
	path := filepath.Join(m.Dir, basename)

	if !m.Clobber {
		if _, dup := m.seen[basename]; dup {
			return "", fmt.Errorf("rfpipe: output file %s already exists in this run", path)
		}
		if _, err := os.Stat(path); err == nil {
			return "", fmt.Errorf("rfpipe: output file %s already exists and clobber=false", path)
		}
	}
	m.seen[basename] = struct{}{}
	return path, nil
}
