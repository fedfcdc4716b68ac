package agent

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// syntaxCheck validates just the changed file with a language-appropriate
// tool. Unknown extensions and missing tools skip the check; a real syntax
// error is fatal for the task.
func syntaxCheck(repoDir, relPath string) (checked bool, err error) {
	switch strings.ToLower(filepath.Ext(relPath)) {
	case ".py":
		return runCheckTool(repoDir, "python3", "-m", "py_compile", relPath)
	case ".go":
		// gofmt -l parses the file; parse errors land on stderr with a
		// non-zero exit.
		return runCheckTool(repoDir, "gofmt", "-l", relPath)
	case ".js", ".mjs":
		return runCheckTool(repoDir, "node", "--check", relPath)
	case ".json":
		data, rerr := os.ReadFile(filepath.Join(repoDir, relPath))
		if rerr != nil {
			return false, fmt.Errorf("read %s: %w", relPath, rerr)
		}
		if !json.Valid(data) {
			return true, fmt.Errorf("invalid JSON in %s", relPath)
		}
		return true, nil
	default:
		return false, nil
	}
}

func runCheckTool(dir, tool string, args ...string) (bool, error) {
	if _, err := exec.LookPath(tool); err != nil {
		return false, nil // tool not installed, skip
	}

	cmd := exec.Command(tool, args...)
	cmd.Dir = dir

	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return true, fmt.Errorf("%s failed: %s", tool, strings.TrimSpace(stderr.String()))
	}
	return true, nil
}

// projectChecks runs best-effort dependency install and tests when a known
// project manifest is present. Failures here are exploratory signal only and
// never fail the task.
func projectChecks(repoDir string, report *Reporter) {
	switch {
	case fileExists(filepath.Join(repoDir, "package.json")):
		report.Log("Detected Node.js project. Running npm install (best effort)...")
		runBestEffort(repoDir, report, "npm", "install")
		report.Log("Running npm test (best effort)...")
		runBestEffort(repoDir, report, "npm", "test")

	case fileExists(filepath.Join(repoDir, "requirements.txt")):
		report.Log("Detected Python project. Installing requirements (best effort)...")
		runBestEffort(repoDir, report, "pip3", "install", "-r", "requirements.txt")
		report.Log("Running pytest (best effort)...")
		runBestEffort(repoDir, report, "pytest")

	case fileExists(filepath.Join(repoDir, "go.mod")):
		report.Log("Detected Go project. Running go vet (best effort)...")
		runBestEffort(repoDir, report, "go", "vet", "./...")

	default:
		report.Log("No recognized project manifest. Skipping deps/tests.")
	}
}

func runBestEffort(dir string, report *Reporter, tool string, args ...string) {
	if _, err := exec.LookPath(tool); err != nil {
		report.Logf("%s not installed, skipping.", tool)
		return
	}

	cmd := exec.Command(tool, args...)
	cmd.Dir = dir
	if out, err := cmd.CombinedOutput(); err != nil {
		report.Logf("%s %s finished with warnings: %s", tool, strings.Join(args, " "), truncateOutput(string(out)))
		return
	}
	report.Logf("%s %s finished.", tool, strings.Join(args, " "))
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

func truncateOutput(s string) string {
	s = strings.TrimSpace(s)
	if len(s) > 400 {
		return s[:400] + "..."
	}
	return s
}
