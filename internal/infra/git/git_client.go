// internal/infra/git/git_client.go
package git

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"os/exec"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// ErrNonFastForward is returned when the remote has diverged and the local
// branch cannot be fast-forwarded or the push is rejected.
var ErrNonFastForward = errors.New("remote diverged: non-fast-forward")

// Client runs git against a single working copy. All commands execute with a
// scrubbed environment: the store credentials are stripped, so they can never
// leak into hooks or the commit/push steps.
type Client struct {
	repoURL string
	branch  string
	workdir string
	logger  *slog.Logger
	tracer  trace.Tracer
}

// NewClient creates a git client for one repository working copy.
func NewClient(repoURL, branch, workdir string, logger *slog.Logger) *Client {
	return &Client{
		repoURL: repoURL,
		branch:  branch,
		workdir: workdir,
		logger:  logger.With("component", "git-client"),
		tracer:  otel.Tracer("update-runner-git"),
	}
}

// Workdir returns the working copy path.
func (c *Client) Workdir() string {
	return c.workdir
}

// Ensure makes the working copy present at the branch head: clone when the
// checkout is absent, otherwise fetch and check out the branch.
func (c *Client) Ensure(ctx context.Context) error {
	ctx, span := c.tracer.Start(ctx, "git.Ensure",
		trace.WithAttributes(attribute.String("git.branch", c.branch)))
	defer span.End()

	if _, err := os.Stat(c.workdir + "/.git"); os.IsNotExist(err) {
		c.logger.Info("cloning repository", "branch", c.branch)
		_, err := c.runIn(ctx, "", "clone", "--branch", c.branch, "--single-branch", c.repoURL, c.workdir)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "clone failed")
			return err
		}
		return nil
	}

	if _, err := c.run(ctx, "fetch", "origin", c.branch); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "fetch failed")
		return err
	}
	if _, err := c.run(ctx, "checkout", c.branch); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "checkout failed")
		return err
	}
	return nil
}

// SyncFFOnly fast-forwards the local branch from the remote. A divergent
// remote fails the run; there is no conflict-resolution policy.
func (c *Client) SyncFFOnly(ctx context.Context) error {
	ctx, span := c.tracer.Start(ctx, "git.SyncFFOnly")
	defer span.End()

	out, err := c.run(ctx, "pull", "--ff-only", "origin", c.branch)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "pull failed")
		if strings.Contains(out, "Not possible to fast-forward") ||
			strings.Contains(out, "divergent") {
			return fmt.Errorf("%w: %s", ErrNonFastForward, c.branch)
		}
		return err
	}
	return nil
}

// HasChanges stages everything and reports whether the tree differs from
// HEAD. The diff-index guard keeps an empty diff from failing the run.
func (c *Client) HasChanges(ctx context.Context) (bool, error) {
	ctx, span := c.tracer.Start(ctx, "git.HasChanges")
	defer span.End()

	if _, err := c.run(ctx, "add", "--all"); err != nil {
		span.RecordError(err)
		return false, err
	}

	_, err := c.run(ctx, "diff-index", "--quiet", "HEAD", "--")
	if err == nil {
		return false, nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) && exitErr.ExitCode() == 1 {
		return true, nil
	}
	span.RecordError(err)
	return false, err
}

// CommitAll commits the staged changes with the fixed author identity and
// returns the new commit hash.
func (c *Client) CommitAll(ctx context.Context, author, email, message string) (string, error) {
	ctx, span := c.tracer.Start(ctx, "git.CommitAll",
		trace.WithAttributes(attribute.String("git.author", author)))
	defer span.End()

	_, err := c.run(ctx,
		"-c", "user.name="+author,
		"-c", "user.email="+email,
		"commit", "-m", message,
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "commit failed")
		return "", err
	}

	hash, err := c.run(ctx, "rev-parse", "HEAD")
	if err != nil {
		span.RecordError(err)
		return "", err
	}
	hash = strings.TrimSpace(hash)
	span.SetAttributes(attribute.String("git.commit", hash))
	c.logger.Info("created commit", "commit", hash, "message", message)
	return hash, nil
}

// Push publishes the branch. When token is non-empty it is injected into the
// push URL only for this invocation and is never written to the repository
// config or the logs.
func (c *Client) Push(ctx context.Context, token string) error {
	ctx, span := c.tracer.Start(ctx, "git.Push",
		trace.WithAttributes(attribute.String("git.branch", c.branch)))
	defer span.End()

	remote := "origin"
	if token != "" {
		authed, err := authenticatedURL(c.repoURL, token)
		if err != nil {
			span.RecordError(err)
			return err
		}
		remote = authed
	}

	out, err := c.run(ctx, "push", remote, c.branch)
	if token != "" {
		// git echoes the remote URL on some failures.
		out = strings.ReplaceAll(out, token, "REDACTED")
	}
	if err != nil {
		span.SetStatus(codes.Error, "push failed")
		if strings.Contains(out, "non-fast-forward") || strings.Contains(out, "fetch first") {
			err = fmt.Errorf("%w: push rejected", ErrNonFastForward)
		}
		// The raw error may embed the remote URL; record a fixed message.
		span.RecordError(errors.New("git push failed"))
		c.logger.Error("git push failed", "branch", c.branch, "output", out)
		return err
	}
	c.logger.Info("pushed branch", "branch", c.branch)
	return nil
}

// authenticatedURL inserts the token into an https remote URL.
func authenticatedURL(repoURL, token string) (string, error) {
	u, err := url.Parse(repoURL)
	if err != nil {
		return "", fmt.Errorf("invalid repository URL: %w", err)
	}
	if u.Scheme != "https" && u.Scheme != "http" {
		return "", fmt.Errorf("token auth requires an http(s) remote, got %q", u.Scheme)
	}
	u.User = url.UserPassword("x-access-token", token)
	return u.String(), nil
}

// run executes git inside the working copy.
func (c *Client) run(ctx context.Context, args ...string) (string, error) {
	return c.runIn(ctx, c.workdir, args...)
}

// runIn executes git in dir (or the process cwd when dir is empty) and
// returns the combined output.
func (c *Client) runIn(ctx context.Context, dir string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = dir
	cmd.Env = scrubbedEnv()

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

	if err != nil {
		return output, fmt.Errorf("git %s failed: %w", args[0], err)
	}
	return output, nil
}

// scrubbedEnv returns the process environment without the store credentials.
func scrubbedEnv() []string {
	env := os.Environ()
	out := env[:0:0]
	for _, kv := range env {
		if strings.HasPrefix(kv, "SUPABASE_URL=") || strings.HasPrefix(kv, "SUPABASE_KEY=") {
			continue
		}
		out = append(out, kv)
	}
	return out
}
