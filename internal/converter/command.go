package converter

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"sync"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"go.uber.org/zap"
)

// Exit codes the external converters use to report classified failures
const (
	ExitTitleNotTranslated = 3
	ExitMissingSource      = 4
)

const stepPrefix = "trying:"

// CommandConfig describes how to invoke an external converter program
type CommandConfig struct {
	Command string        `yaml:"command"`
	Args    []string      `yaml:"args"`
	Extra   []string      `yaml:"extra"`
	Timeout time.Duration `yaml:"timeout"`
}

// Validate checks a converter entry from the configuration file
func (c CommandConfig) Validate() error {
	return validation.Errors{
		"command": validation.Validate(c.Command, validation.Required),
		"timeout": validation.Validate(c.Timeout, validation.Min(time.Duration(0)).Error("must not be negative")),
	}.Filter()
}

// BuildArgs constructs the argument list for one conversion
func BuildArgs(cfg CommandConfig, p Params) ([]string, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}

	args := append([]string(nil), cfg.Args...)
	args = append(args, "-l", p.LanguageCode, "-r", p.RepoURL, "-o", p.OutDir)
	args = append(args, cfg.Extra...)
	if p.Quiet {
		args = append(args, "-q")
	}
	return args, nil
}

// Command runs an external converter as a subprocess
type Command struct {
	cfg    CommandConfig
	args   []string
	logger *zap.Logger
	steps  *stepWriter
}

// NewCommandFactory returns a Factory producing Command converters
func NewCommandFactory(cfg CommandConfig, logger *zap.Logger) Factory {
	return func(p Params) (Converter, error) {
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
		if p.Language.Code == "" {
			return nil, fmt.Errorf("information for language %q was not found", p.LanguageCode)
		}
		args, err := BuildArgs(cfg, p)
		if err != nil {
			return nil, err
		}
		return &Command{
			cfg:    cfg,
			args:   args,
			logger: logger.With(zap.String("converter", cfg.Command), zap.String("lang", p.LanguageCode)),
			steps:  &stepWriter{step: "Init"},
		}, nil
	}
}

// Trying returns the last step the converter reported
func (c *Command) Trying() string {
	return c.steps.current()
}

// Run executes the converter and classifies its exit status
func (c *Command) Run(ctx context.Context) error {
	if c.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.Timeout)
		defer cancel()
	}

	c.steps.set("Running " + c.cfg.Command)
	c.logger.Debug("Running converter", zap.Strings("args", c.args))

	cmd := exec.CommandContext(ctx, c.cfg.Command, c.args...)
	var stderr bytes.Buffer
	cmd.Stdout = c.steps
	cmd.Stderr = &stderr

	err := cmd.Run()
	c.steps.flush()
	if err == nil {
		return nil
	}

	detail := strings.TrimSpace(stderr.String())
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		switch exitErr.ExitCode() {
		case ExitTitleNotTranslated:
			return fmt.Errorf("%w: %s", ErrTitleNotTranslated, detail)
		case ExitMissingSource:
			return fmt.Errorf("%w: %s", ErrMissingSource, detail)
		}
	}
	if ctx.Err() != nil {
		return fmt.Errorf("converter stopped: %w", ctx.Err())
	}
	if detail != "" {
		return fmt.Errorf("command failed: %w: %s", err, detail)
	}
	return fmt.Errorf("command failed: %w", err)
}

// stepWriter receives converter stdout and remembers the current step.
// Lines starting with "trying:" name a step explicitly, otherwise the last
// non-empty line is used.
type stepWriter struct {
	mu       sync.Mutex
	step     string
	explicit bool
	partial  []byte
}

func (w *stepWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.partial = append(w.partial, p...)
	for {
		i := bytes.IndexByte(w.partial, '\n')
		if i < 0 {
			break
		}
		w.line(string(w.partial[:i]))
		w.partial = w.partial[i+1:]
	}
	return len(p), nil
}

func (w *stepWriter) line(s string) {
	s = strings.TrimSpace(s)
	if s == "" {
		return
	}
	if strings.HasPrefix(strings.ToLower(s), stepPrefix) {
		w.step = strings.TrimSpace(s[len(stepPrefix):])
		w.explicit = true
		return
	}
	if !w.explicit {
		w.step = s
	}
}

func (w *stepWriter) flush() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.partial) > 0 {
		w.line(string(w.partial))
		w.partial = nil
	}
}

func (w *stepWriter) set(step string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.step = step
	w.explicit = false
}

func (w *stepWriter) current() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.step
}
