package loader

import (
	"os"
	"strings"
	"testing"
)

// TestProbeLinuxSelf runs ProbeLinux against the test binary's own
// pid, whose /proc/<pid>/maps is always readable.
func TestProbeLinuxSelf(t *testing.T) {
	mods, err := ProbeLinux(os.Getpid())
	if err != nil {
		t.Fatalf("ProbeLinux: %v", err)
	}
	if len(mods) == 0 {
		t.Fatal("expected at least one mapped module for the test binary itself")
	}
	for _, m := range mods {
		if m.Path == "" {
			t.Error("module path should never be empty")
		}
		if strings.HasPrefix(m.Path, "[") {
			t.Errorf("anonymous mapping %q should have been filtered out", m.Path)
		}
	}
}

func TestProbeLinuxNoSuchProcess(t *testing.T) {
	if _, err := ProbeLinux(1 << 30); err == nil {
		t.Error("expected an error probing a nonexistent pid")
	}
}
