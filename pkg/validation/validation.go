// Package validation runs the type-check and test commands that decide
// whether a deletion batch is kept.
package validation

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"os/exec"
	"runtime"
	"time"

	"github.com/akiramei/funcqc-sub009/internal/logging"
	"github.com/akiramei/funcqc-sub009/pkg/analyzer"
	"github.com/akiramei/funcqc-sub009/pkg/models"
)

// DefaultTimeout bounds each validation command.
const DefaultTimeout = 5 * time.Minute

// maxOutput is how much trailing command output an Outcome keeps.
const maxOutput = 4096

// Outcome is the result of one validation command. Performed is false
// when the command was not configured, could not be launched, or timed out.
type Outcome struct {
	Passed    bool
	Performed bool
	Output    string
	Duration  time.Duration
	Err       error
}

// Validator runs type-check and test validation.
type Validator interface {
	RunTypeCheck(ctx context.Context) Outcome
	RunTests(ctx context.Context) Outcome
}

// Run executes both checks and combines them. A check that was not
// performed does not fail the status; the status is performed when at
// least one check ran.
func Run(ctx context.Context, v Validator) models.ValidationStatus {
	if v == nil {
		return models.ValidationStatus{}
	}
	tc := v.RunTypeCheck(ctx)
	tests := v.RunTests(ctx)
	return models.ValidationStatus{
		Performed:       tc.Performed || tests.Performed,
		TypeCheckPassed: !tc.Performed || tc.Passed,
		TestsPassed:     !tests.Performed || tests.Passed,
	}
}

// Noop never runs anything; every outcome is not performed.
type Noop struct{}

func (Noop) RunTypeCheck(context.Context) Outcome { return Outcome{} }
func (Noop) RunTests(context.Context) Outcome     { return Outcome{} }

// CommandValidator runs shell commands in a working directory.
type CommandValidator struct {
	typeCheckCommand string
	testCommand      string
	dir              string
	timeout          time.Duration
	logger           *slog.Logger
}

// Option is a functional option for configuring CommandValidator.
type Option func(*CommandValidator)

// WithTypeCheckCommand sets the type-check command, e.g. "npx tsc --noEmit".
func WithTypeCheckCommand(command string) Option {
	return func(v *CommandValidator) {
		v.typeCheckCommand = command
	}
}

// WithTestCommand sets the test command, e.g. "go test ./...".
func WithTestCommand(command string) Option {
	return func(v *CommandValidator) {
		v.testCommand = command
	}
}

// WithDir sets the directory commands run in.
func WithDir(dir string) Option {
	return func(v *CommandValidator) {
		v.dir = dir
	}
}

// WithTimeout bounds each command. Values <= 0 keep the default.
func WithTimeout(d time.Duration) Option {
	return func(v *CommandValidator) {
		if d > 0 {
			v.timeout = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(v *CommandValidator) {
		v.logger = logging.OrDiscard(logger)
	}
}

// NewCommandValidator creates a validator for the given commands.
func NewCommandValidator(opts ...Option) *CommandValidator {
	v := &CommandValidator{
		timeout: DefaultTimeout,
		logger:  logging.Discard(),
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// RunTypeCheck runs the type-check command.
func (v *CommandValidator) RunTypeCheck(ctx context.Context) Outcome {
	return v.run(ctx, "type-check", v.typeCheckCommand)
}

// RunTests runs the test command.
func (v *CommandValidator) RunTests(ctx context.Context) Outcome {
	return v.run(ctx, "tests", v.testCommand)
}

func (v *CommandValidator) run(ctx context.Context, name, command string) Outcome {
	if command == "" {
		return Outcome{}
	}

	ctx, cancel := context.WithTimeout(ctx, v.timeout)
	defer cancel()

	shell, flag := "sh", "-c"
	if runtime.GOOS == "windows" {
		shell, flag = "cmd", "/C"
	}
	cmd := exec.CommandContext(ctx, shell, flag, command)
	cmd.Dir = v.dir
	// Children of the shell may hold the output pipe open after a kill.
	cmd.WaitDelay = time.Second

	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out

	start := time.Now()
	err := cmd.Run()
	outcome := Outcome{Output: tail(out.String()), Duration: time.Since(start)}

	switch {
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		outcome.Err = &analyzer.ProcessError{Command: command, TimedOut: true, Err: ctx.Err()}
	case err == nil:
		outcome.Performed = true
		outcome.Passed = true
	case isExitFailure(err):
		outcome.Performed = true
	default:
		outcome.Err = &analyzer.ProcessError{Command: command, Err: err}
	}

	if outcome.Err != nil {
		v.logger.Warn("validation not performed", "check", name, "command", command, "error", outcome.Err)
	} else {
		v.logger.Info("validation finished", "check", name, "passed", outcome.Passed, "duration", outcome.Duration)
	}
	return outcome
}

// isExitFailure reports whether the command ran and exited non-zero.
// Shell codes 126 and 127 mean the command could not be started.
func isExitFailure(err error) bool {
	var exitErr *exec.ExitError
	if !errors.As(err, &exitErr) {
		return false
	}
	code := exitErr.ExitCode()
	return code != 126 && code != 127 && code != -1
}

func tail(s string) string {
	if len(s) <= maxOutput {
		return s
	}
	return s[len(s)-maxOutput:]
}
