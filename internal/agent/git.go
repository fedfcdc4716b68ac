package agent

import (
	"bytes"
	"fmt"
	"os/exec"
	"strings"
)

// Fixed commit identity for agent-made commits.
const (
	commitName  = "Gitpilot Agent"
	commitEmail = "gitpilot-agent@local"
)

// gitRunner runs git commands in one repository checkout.
type gitRunner struct {
	dir string
}

func (g *gitRunner) run(args ...string) error {
	_, err := g.capture(args...)
	return err
}

func (g *gitRunner) capture(args ...string) (string, error) {
	cmd := exec.Command("git", args...)
	if g.dir != "" {
		cmd.Dir = g.dir
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("git %s: %w: %s", strings.Join(args, " "), err, strings.TrimSpace(stderr.String()))
	}
	return stdout.String(), nil
}

func gitClone(repoURL, dest string) (*gitRunner, error) {
	cmd := exec.Command("git", "clone", repoURL, dest)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("git clone: %w: %s", err, strings.TrimSpace(stderr.String()))
	}
	return &gitRunner{dir: dest}, nil
}

func (g *gitRunner) checkout(branch string) error {
	return g.run("checkout", branch)
}

func (g *gitRunner) checkoutNew(branch string) error {
	return g.run("checkout", "-b", branch)
}

func (g *gitRunner) configIdentity() error {
	if err := g.run("config", "user.email", commitEmail); err != nil {
		return err
	}
	return g.run("config", "user.name", commitName)
}

func (g *gitRunner) add(path string) error {
	return g.run("add", path)
}

func (g *gitRunner) addAll() error {
	return g.run("add", "-A")
}

func (g *gitRunner) commit(message string) error {
	return g.run("commit", "-m", message)
}

// statusPorcelain returns the machine-readable working tree status; empty
// output means no changes.
func (g *gitRunner) statusPorcelain() (string, error) {
	return g.capture("status", "--porcelain")
}

func (g *gitRunner) diff() (string, error) {
	return g.capture("diff")
}

func (g *gitRunner) apply(patch string) error {
	cmd := exec.Command("git", "apply", "--whitespace=nowarn", "-")
	cmd.Dir = g.dir
	cmd.Stdin = strings.NewReader(patch)

	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("git apply: %w: %s", err, strings.TrimSpace(stderr.String()))
	}
	return nil
}

func (g *gitRunner) setRemoteURL(url string) error {
	return g.run("remote", "set-url", "origin", url)
}

func (g *gitRunner) pushUpstream(branch string) error {
	return g.run("push", "-u", "origin", branch)
}

// authenticatedRemoteURL embeds the push credential into the remote URL.
func authenticatedRemoteURL(repoFullName, token string) string {
	return fmt.Sprintf("https://x-access-token:%s@github.com/%s.git", token, repoFullName)
}
