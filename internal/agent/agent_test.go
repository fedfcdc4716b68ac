package agent

import (
	"os"
	"path/filepath"
	"testing"
)

func TestResolveTargetFile(t *testing.T) {
	repoDir := t.TempDir()
	if err := os.MkdirAll(filepath.Join(repoDir, "src"), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(repoDir, "src", "app.py"), []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name   string
		target string
		want   string
		ok     bool
	}{
		{"plain path", "src/app.py", "src/app.py", true},
		{"leading slash", "/src/app.py", "src/app.py", true},
		{"windows separators", `src\app.py`, "src/app.py", true},
		{"main prefix alias", "main/src/app.py", "src/app.py", true},
		{"missing file", "src/other.py", "", false},
		{"empty", "", "", false},
		{"directory", "src", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := resolveTargetFile(repoDir, tt.target)
			if tt.ok && err != nil {
				t.Fatalf("resolveTargetFile(%q) failed: %v", tt.target, err)
			}
			if !tt.ok && err == nil {
				t.Fatalf("resolveTargetFile(%q) should fail", tt.target)
			}
			if got != tt.want {
				t.Errorf("resolveTargetFile(%q) = %q, want %q", tt.target, got, tt.want)
			}
		})
	}
}

func TestResolveTargetFilePrefersExactPath(t *testing.T) {
	repoDir := t.TempDir()
	// Both main/app.py and app.py exist; the exact path wins.
	if err := os.MkdirAll(filepath.Join(repoDir, "main"), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(repoDir, "main", "app.py"), []byte("a"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(repoDir, "app.py"), []byte("b"), 0644); err != nil {
		t.Fatal(err)
	}

	got, err := resolveTargetFile(repoDir, "main/app.py")
	if err != nil {
		t.Fatalf("resolveTargetFile failed: %v", err)
	}
	if got != "main/app.py" {
		t.Errorf("Expected exact path main/app.py, got %q", got)
	}
}

func TestSyntaxCheckJSON(t *testing.T) {
	repoDir := t.TempDir()

	if err := os.WriteFile(filepath.Join(repoDir, "good.json"), []byte(`{"a":1}`), 0644); err != nil {
		t.Fatal(err)
	}
	checked, err := syntaxCheck(repoDir, "good.json")
	if err != nil {
		t.Errorf("Valid JSON must pass, got %v", err)
	}
	if !checked {
		t.Error("JSON files must be checked")
	}

	if err := os.WriteFile(filepath.Join(repoDir, "bad.json"), []byte(`{"a":`), 0644); err != nil {
		t.Fatal(err)
	}
	checked, err = syntaxCheck(repoDir, "bad.json")
	if err == nil {
		t.Error("Invalid JSON must fail")
	}
	if !checked {
		t.Error("JSON files must be checked even when invalid")
	}
}

func TestSyntaxCheckUnknownExtensionSkips(t *testing.T) {
	repoDir := t.TempDir()
	if err := os.WriteFile(filepath.Join(repoDir, "notes.txt"), []byte("anything"), 0644); err != nil {
		t.Fatal(err)
	}

	checked, err := syntaxCheck(repoDir, "notes.txt")
	if err != nil {
		t.Errorf("Unknown extensions must not fail, got %v", err)
	}
	if checked {
		t.Error("Unknown extensions must be skipped")
	}
}

func TestTruncateOutput(t *testing.T) {
	long := make([]byte, 1000)
	for i := range long {
		long[i] = 'x'
	}
	got := truncateOutput(string(long))
	if len(got) != 403 {
		t.Errorf("Expected truncation to 400 chars plus ellipsis, got %d", len(got))
	}

	if got := truncateOutput("  short  "); got != "short" {
		t.Errorf("Expected trimmed output, got %q", got)
	}
}
