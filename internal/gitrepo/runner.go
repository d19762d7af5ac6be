// Package gitrepo runs git as a subprocess against one working tree at a
// time. Every call sets the working directory on the command itself.
package gitrepo

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Runner executes one git command in dir and returns its stdout
type Runner interface {
	Run(ctx context.Context, dir string, args ...string) (string, error)
}

// CommandError reports a failed git subprocess
type CommandError struct {
	Subcommand string
	Args       []string
	ExitCode   int
	Output     string
	Err        error
}

func (e *CommandError) Error() string {
	if e.Output != "" {
		return fmt.Sprintf("git %s failed: %s", e.Subcommand, e.Output)
	}
	return fmt.Sprintf("git %s failed: %v", e.Subcommand, e.Err)
}

func (e *CommandError) Unwrap() error {
	return e.Err
}

// Identity is the author used for commits made by the tool
type Identity struct {
	Name  string
	Email string
}

// ExecRunner runs the git binary
type ExecRunner struct {
	Binary   string
	Timeout  time.Duration
	Identity Identity
	logger   *zap.Logger
}

// NewExecRunner creates a runner using git from PATH
func NewExecRunner(timeout time.Duration, identity Identity, logger *zap.Logger) *ExecRunner {
	return &ExecRunner{
		Binary:   "git",
		Timeout:  timeout,
		Identity: identity,
		logger:   logger,
	}
}

// Run executes git with args in dir
func (r *ExecRunner) Run(ctx context.Context, dir string, args ...string) (string, error) {
	if len(args) == 0 {
		return "", fmt.Errorf("no git subcommand given")
	}
	if r.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.Timeout)
		defer cancel()
	}

	r.logger.Debug("Doing git", zap.String("dir", dir), zap.Strings("args", args))

	cmd := exec.CommandContext(ctx, r.Binary, args...)
	cmd.Dir = dir
	cmd.Env = append(os.Environ(), "GIT_TERMINAL_PROMPT=0")
	if r.Identity.Name != "" {
		cmd.Env = append(cmd.Env,
			"GIT_AUTHOR_NAME="+r.Identity.Name,
			"GIT_COMMITTER_NAME="+r.Identity.Name,
		)
	}
	if r.Identity.Email != "" {
		cmd.Env = append(cmd.Env,
			"GIT_AUTHOR_EMAIL="+r.Identity.Email,
			"GIT_COMMITTER_EMAIL="+r.Identity.Email,
		)
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	if err == nil {
		return stdout.String(), nil
	}

	cerr := &CommandError{
		Subcommand: args[0],
		Args:       args,
		ExitCode:   -1,
		Output:     strings.TrimSpace(stdout.String() + stderr.String()),
		Err:        err,
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		cerr.ExitCode = exitErr.ExitCode()
	}
	if ctx.Err() != nil {
		cerr.Err = fmt.Errorf("%w: %v", ctx.Err(), err)
	}

	r.logger.Warn("Git error",
		zap.String("dir", dir),
		zap.String("subcommand", cerr.Subcommand),
		zap.Int("exit_code", cerr.ExitCode),
		zap.String("output", cerr.Output),
	)
	return stdout.String(), cerr
}
