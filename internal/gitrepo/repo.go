package gitrepo

import (
	"context"
	"os"
	"path/filepath"
	"strings"
)

// DefaultBranch is the branch converted repositories are pushed to
const DefaultBranch = "master"

// Status is the parsed output of git status --porcelain
type Status struct {
	// Changed is true when anything is modified, added, deleted or untracked
	Changed bool
	// Untracked is true when a plain add would miss something (untracked or
	// deleted paths)
	Untracked bool
	Lines     []string
}

// ParseStatus parses porcelain v1 output
func ParseStatus(out string) Status {
	var st Status
	for _, line := range strings.Split(out, "\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}
		st.Lines = append(st.Lines, line)
		st.Changed = true

		code := line
		if len(code) > 2 {
			code = code[:2]
		}
		if code == "??" || strings.Contains(code, "D") {
			st.Untracked = true
		}
	}
	return st
}

// Repo is a handle on one local working tree
type Repo struct {
	dir    string
	runner Runner
}

// Open returns a handle for dir. It does not touch the filesystem.
func Open(dir string, runner Runner) *Repo {
	return &Repo{dir: dir, runner: runner}
}

// Dir returns the working tree path
func (r *Repo) Dir() string {
	return r.dir
}

// HasGitDir reports whether the working tree has been initialised
func (r *Repo) HasGitDir() bool {
	_, err := os.Stat(filepath.Join(r.dir, ".git"))
	return err == nil
}

// Init creates the repository with branch checked out
func (r *Repo) Init(ctx context.Context, branch string) error {
	if _, err := r.runner.Run(ctx, r.dir, "init"); err != nil {
		return err
	}
	_, err := r.runner.Run(ctx, r.dir, "symbolic-ref", "HEAD", "refs/heads/"+branch)
	return err
}

// AddAll stages every change including deletions
func (r *Repo) AddAll(ctx context.Context) error {
	_, err := r.runner.Run(ctx, r.dir, "add", "-A", ".")
	return err
}

// Commit records staged changes
func (r *Repo) Commit(ctx context.Context, message string) error {
	_, err := r.runner.Run(ctx, r.dir, "commit", "-m", message)
	return err
}

// Status runs git status --porcelain
func (r *Repo) Status(ctx context.Context) (Status, error) {
	out, err := r.runner.Run(ctx, r.dir, "status", "--porcelain")
	if err != nil {
		return Status{}, err
	}
	return ParseStatus(out), nil
}

// HasRemote reports whether a remote with the given name is configured
func (r *Repo) HasRemote(ctx context.Context, name string) (bool, error) {
	out, err := r.runner.Run(ctx, r.dir, "remote")
	if err != nil {
		return false, err
	}
	for _, line := range strings.Fields(out) {
		if line == name {
			return true, nil
		}
	}
	return false, nil
}

// HasRemoteBranch reports whether branch has been pushed to remote
func (r *Repo) HasRemoteBranch(ctx context.Context, remote, branch string) (bool, error) {
	out, err := r.runner.Run(ctx, r.dir, "ls-remote", "--heads", remote, branch)
	if err != nil {
		return false, err
	}
	return strings.TrimSpace(out) != "", nil
}

// AddRemote configures a remote
func (r *Repo) AddRemote(ctx context.Context, name, url string) error {
	_, err := r.runner.Run(ctx, r.dir, "remote", "add", name, url)
	return err
}

// Push pushes branch to remote, optionally setting the upstream
func (r *Repo) Push(ctx context.Context, remote, branch string, setUpstream bool) error {
	args := []string{"push"}
	if setUpstream {
		args = append(args, "-u")
	}
	args = append(args, remote, branch)
	_, err := r.runner.Run(ctx, r.dir, args...)
	return err
}

// Pull merges remote changes into the current branch
func (r *Repo) Pull(ctx context.Context, remote, branch string) error {
	_, err := r.runner.Run(ctx, r.dir, "pull", "--no-rebase", "--no-edit", remote, branch)
	return err
}
