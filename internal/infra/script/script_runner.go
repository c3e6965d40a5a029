// internal/infra/script/script_runner.go
package script

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"path/filepath"
	"strings"

	"update-runner/internal/domain"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// outputTailLimit caps how much combined output is kept in run records.
const outputTailLimit = 8 * 1024

// Runner invokes the Python interpreter inside the working copy: once to
// install the dependency manifest, then per script with the store
// credentials injected into that process environment only.
type Runner struct {
	python  string
	workdir string
	logger  *slog.Logger
	tracer  trace.Tracer
}

// NewRunner creates a script runner bound to one interpreter and working copy.
func NewRunner(python, workdir string, logger *slog.Logger) *Runner {
	return &Runner{
		python:  python,
		workdir: workdir,
		logger:  logger.With("component", "script-runner"),
		tracer:  otel.Tracer("update-runner-script"),
	}
}

// Provision verifies the interpreter is usable and installs the dependency
// manifest.
func (r *Runner) Provision(ctx context.Context, requirements string) (string, error) {
	ctx, span := r.tracer.Start(ctx, "script.Provision",
		trace.WithAttributes(attribute.String("python.requirements", requirements)))
	defer span.End()

	version, err := r.execute(ctx, nil, "--version")
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "interpreter not available")
		return version, fmt.Errorf("interpreter %s not available: %w", r.python, err)
	}
	version = strings.TrimSpace(version)
	r.logger.Info("provisioning runtime", "interpreter", version)
	span.SetAttributes(attribute.String("python.version", version))

	out, err := r.execute(ctx, nil, "-m", "pip", "install", "-r", requirements)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "dependency install failed")
		return out, fmt.Errorf("installing %s: %w", requirements, err)
	}
	return version, nil
}

// RunScript executes one script with the store credentials in its
// environment and returns the tail of its combined output.
func (r *Runner) RunScript(ctx context.Context, name string, creds domain.StoreCredentials, args ...string) (string, error) {
	ctx, span := r.tracer.Start(ctx, "script.RunScript",
		trace.WithAttributes(
			attribute.String("script.name", name),
			attribute.StringSlice("script.args", args),
		))
	defer span.End()

	r.logger.Info("running script", "script", name, "args", args)

	out, err := r.execute(ctx, creds.Env(), append([]string{name}, args...)...)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "script failed")
		r.logger.Error("script failed", "script", name, "error", err)
		return out, fmt.Errorf("script %s: %w", filepath.Base(name), err)
	}
	r.logger.Info("script finished", "script", name)
	return out, nil
}

// execute runs the interpreter in the working copy with extraEnv appended to
// the inherited environment.
func (r *Runner) execute(ctx context.Context, extraEnv []string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, r.python, args...)
	cmd.Dir = r.workdir
	if len(extraEnv) > 0 {
		cmd.Env = append(cmd.Environ(), extraEnv...)
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	output := stdout.String()
	if errOutput := stderr.String(); errOutput != "" {
		if output != "" {
			output = fmt.Sprintf("[STDERR]:\n%s\n[STDOUT]:\n%s", errOutput, output)
		} else {
			output = fmt.Sprintf("[STDERR]:\n%s", errOutput)
		}
	}
	output = tail(output)

	if err != nil {
		return output, fmt.Errorf("%s %s failed: %w", r.python, strings.Join(args, " "), err)
	}
	return output, nil
}

// tail keeps the last outputTailLimit bytes of s.
func tail(s string) string {
	if len(s) <= outputTailLimit {
		return s
	}
	return s[len(s)-outputTailLimit:]
}
