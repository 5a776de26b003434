// Package workspace manages per-attempt scratch directories.
package workspace

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	appErr "codeio/pkg/errors"
)

// Workspace is a freshly created directory unique to one attempt. It holds
// the source file and, for compiled languages, the build artifact. The owner
// must call Close on every exit path.
type Workspace struct {
	dir string
}

// New creates the attempt directory under root (os.TempDir when empty).
func New(root string, attemptID int64) (*Workspace, error) {
	if root == "" {
		root = os.TempDir()
	}
	dir := filepath.Join(root, fmt.Sprintf("attempt-%d-%s", attemptID, uuid.NewString()))
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, appErr.Wrapf(err, appErr.WorkspaceError, "create workspace failed")
	}
	return &Workspace{dir: dir}, nil
}

// Dir returns the workspace directory path.
func (w *Workspace) Dir() string {
	return w.dir
}

// ExePath returns the path of the build artifact. Profiles that need a
// suffix (prog.jar, prog.exe) append it in their command templates.
func (w *Workspace) ExePath() string {
	return filepath.Join(w.dir, "prog")
}

// WriteSource writes the source file exactly once, UTF-8 encoded, and
// returns its path.
func (w *Workspace) WriteSource(name, content string) (string, error) {
	path := filepath.Join(w.dir, name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		return "", appErr.Wrapf(err, appErr.WorkspaceError, "write source failed")
	}
	return path, nil
}

// Close removes the workspace recursively.
func (w *Workspace) Close() error {
	return os.RemoveAll(w.dir)
}
