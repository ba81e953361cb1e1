package integration

import (
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
)

func TestStandaloneBinaryVersionAndHelpWorkOutsideRepo(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("standalone binary copy/exec test is unix-focused")
	}
	goModPathBytes, err := exec.Command("go", "env", "GOMOD").Output()
	if err != nil {
		t.Fatalf("go env GOMOD: %v", err)
	}
	goModPath := strings.TrimSpace(string(goModPathBytes))
	if goModPath == "" {
		t.Fatalf("go env GOMOD returned empty")
	}
	repoRoot := filepath.Dir(goModPath)

	buildDir := t.TempDir()
	binaryPath := filepath.Join(buildDir, "ingestkit")

	build := exec.Command("go", "build", "-o", binaryPath, "./cmd/ingestkit")
	build.Dir = repoRoot
	build.Env = os.Environ()
	if out, err := build.CombinedOutput(); err != nil {
		t.Fatalf("go build: %v\n%s", err, string(out))
	}

	outside := t.TempDir()
	copiedBinary := filepath.Join(outside, "ingestkit")

	// Use a direct file copy to avoid relying on platform-specific tools.
	data, err := os.ReadFile(binaryPath)
	if err != nil {
		t.Fatalf("read built binary: %v", err)
	}
	if err := os.WriteFile(copiedBinary, data, 0o755); err != nil {
		t.Fatalf("write copied binary: %v", err)
	}

	version := exec.Command(copiedBinary, "version")
	version.Dir = outside
	out, err := version.CombinedOutput()
	if err != nil {
		t.Fatalf("version failed: %v\n%s", err, string(out))
	}
	if !strings.HasPrefix(string(out), "ingestkit ") {
		t.Fatalf("unexpected version output: %s", string(out))
	}

	help := exec.Command(copiedBinary, "--help")
	help.Dir = outside
	out, err = help.CombinedOutput()
	if err != nil {
		t.Fatalf("--help failed: %v\n%s", err, string(out))
	}
	for _, sub := range []string{"fetch", "history", "serve"} {
		if !strings.Contains(string(out), sub) {
			t.Fatalf("--help is missing the %s command:\n%s", sub, string(out))
		}
	}

	// An invalid rate limit must be rejected before any request is made.
	fetch := exec.Command(copiedBinary, "fetch", "http://127.0.0.1:1/")
	fetch.Dir = outside
	fetch.Env = append(os.Environ(), "INGESTKIT_SESSION_THROTTLER_RATE_LIMIT=0")
	out, err = fetch.CombinedOutput()
	if err == nil {
		t.Fatalf("fetch with zero rate limit should fail:\n%s", string(out))
	}
	if !strings.Contains(string(out), "throttler_rate_limit must be positive") {
		t.Fatalf("expected configuration error, got:\n%s", string(out))
	}
}
