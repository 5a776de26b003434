package workspace

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestWorkspaceLifecycle(t *testing.T) {
	root := t.TempDir()
	ws, err := New(root, 17)
	if err != nil {
		t.Fatalf("create workspace: %v", err)
	}

	if !strings.HasPrefix(filepath.Base(ws.Dir()), "attempt-17-") {
		t.Errorf("dir = %q, want attempt-17- prefix", ws.Dir())
	}

	srcPath, err := ws.WriteSource("main.py", "print(42)")
	if err != nil {
		t.Fatalf("write source: %v", err)
	}
	content, err := os.ReadFile(srcPath)
	if err != nil {
		t.Fatalf("read source back: %v", err)
	}
	if string(content) != "print(42)" {
		t.Errorf("source content = %q", content)
	}

	if exe := ws.ExePath(); filepath.Dir(exe) != ws.Dir() || filepath.Base(exe) != "prog" {
		t.Errorf("exe path = %q", exe)
	}

	if err := ws.Close(); err != nil {
		t.Fatalf("close workspace: %v", err)
	}
	if _, err := os.Stat(ws.Dir()); !os.IsNotExist(err) {
		t.Errorf("workspace still exists after close")
	}
}

func TestWorkspacesAreUniquePerAttempt(t *testing.T) {
	root := t.TempDir()
	a, err := New(root, 1)
	if err != nil {
		t.Fatalf("create workspace: %v", err)
	}
	defer a.Close()
	b, err := New(root, 1)
	if err != nil {
		t.Fatalf("create workspace: %v", err)
	}
	defer b.Close()

	if a.Dir() == b.Dir() {
		t.Errorf("two workspaces for the same attempt share a directory: %s", a.Dir())
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	ws, err := New(t.TempDir(), 2)
	if err != nil {
		t.Fatalf("create workspace: %v", err)
	}
	if err := ws.Close(); err != nil {
		t.Fatalf("first close: %v", err)
	}
	if err := ws.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
}
