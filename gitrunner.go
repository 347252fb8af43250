package multirepo

import (
	"context"
	"os/exec"
	"path/filepath"
	"strings"
)

// CmdResult holds the result of a shelled-out command, mirroring the
// teacher's wt.CmdResult exactly (stdout/stderr/exit code).
type CmdResult struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// GitRunner executes git commands against a working directory. It is the
// shelled-out primitive used by DefaultMaterializer (`git clone`), Publish
// (`git push`) and the CLI (branch, checkout, fetch). Object-graph
// work goes through go-git
// directly (bridge_read.go, bridge_write.go); this interface is reserved
// for the process-boundary operations spec.md §1 treats as out of scope
// for the core's abstraction, same split the teacher makes.
type GitRunner interface {
	Run(ctx context.Context, args []string, dir string) (*CmdResult, error)
}

// DefaultGitRunner implements GitRunner using os/exec.
type DefaultGitRunner struct{}

func (r *DefaultGitRunner) Run(ctx context.Context, args []string, dir string) (*CmdResult, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	if dir != "" {
		cmd.Dir = dir
	}

	stdout, err := cmd.Output()
	result := &CmdResult{Stdout: string(stdout)}

	if exitErr, ok := err.(*exec.ExitError); ok {
		result.Stderr = string(exitErr.Stderr)
		result.ExitCode = exitErr.ExitCode()
		return result, err
	}
	return result, err
}

// RepoNameFromURL extracts a repository name from a clone URL, for naming
// child handles and synthetic-anchor namespaces.
func RepoNameFromURL(url string) string {
	if strings.HasPrefix(url, "git@") {
		parts := strings.Split(url, ":")
		if len(parts) >= 2 {
			path := parts[len(parts)-1]
			return strings.TrimSuffix(filepath.Base(path), ".git")
		}
	}
	path := url
	if idx := strings.LastIndex(url, "/"); idx >= 0 {
		path = url[idx+1:]
	}
	return strings.TrimSuffix(path, ".git")
}
