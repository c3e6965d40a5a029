package usecase

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"update-runner/internal/domain"
	"update-runner/internal/infra/local"

	"github.com/stretchr/testify/require"
)

type fakeGit struct {
	mu      sync.Mutex
	calls   []string
	changes bool

	failEnsure bool
	failSync   bool
	failPush   bool

	commitAuthor  string
	commitEmail   string
	commitMessage string
	pushToken     string
}

func (f *fakeGit) record(call string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call)
}

func (f *fakeGit) Ensure(context.Context) error {
	f.record("ensure")
	if f.failEnsure {
		return errors.New("clone failed")
	}
	return nil
}

func (f *fakeGit) SyncFFOnly(context.Context) error {
	f.record("sync")
	if f.failSync {
		return errors.New("remote diverged")
	}
	return nil
}

func (f *fakeGit) HasChanges(context.Context) (bool, error) {
	f.record("haschanges")
	return f.changes, nil
}

func (f *fakeGit) CommitAll(_ context.Context, author, email, message string) (string, error) {
	f.record("commit")
	f.commitAuthor = author
	f.commitEmail = email
	f.commitMessage = message
	return "deadbeef", nil
}

func (f *fakeGit) Push(_ context.Context, token string) error {
	f.record("push")
	f.pushToken = token
	if f.failPush {
		return errors.New("push rejected")
	}
	return nil
}

type scriptCall struct {
	name  string
	creds domain.StoreCredentials
	args  []string
}

type fakeScripts struct {
	mu          sync.Mutex
	provisioned bool
	scriptCalls []scriptCall
	failScript  string // script name that exits non-zero
}

func (f *fakeScripts) Provision(context.Context, string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.provisioned = true
	return "Python 3.12.0", nil
}

func (f *fakeScripts) RunScript(_ context.Context, name string, creds domain.StoreCredentials, args ...string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.scriptCalls = append(f.scriptCalls, scriptCall{name: name, creds: creds, args: args})
	if name == f.failScript {
		return "", errors.New("exit status 1")
	}
	return "done", nil
}

func testJob(t *testing.T) *domain.UpdateJob {
	t.Helper()
	job := &domain.UpdateJob{
		Name:            "quarterly-update",
		RepoURL:         "https://example.com/org/data.git",
		Workdir:         t.TempDir(),
		CheckerScript:   "source_format_checker.py",
		CollectorScript: "scrape_financial_data.py",
	}
	require.NoError(t, job.Validate())
	return job
}

func newTestService(t *testing.T, g *fakeGit, s *fakeScripts) (*RunService, domain.RunRepository) {
	t.Helper()
	repo := local.NewMemoryRunRepository()
	svc := NewRunService(testJob(t), g, s, local.NewProcessLocker(), repo,
		"GIT_PUSH_TOKEN", slog.New(slog.DiscardHandler))
	return svc, repo
}

// TestRunOnce_NoChanges_NoCommit: both scripts succeed with a clean tree, so
// the run succeeds without committing or pushing.
func TestRunOnce_NoChanges_NoCommit(t *testing.T) {
	g := &fakeGit{changes: false}
	s := &fakeScripts{}
	svc, repo := newTestService(t, g, s)

	run, err := svc.RunOnce(context.Background(), domain.TriggerManual, "")
	require.NoError(t, err)
	require.Equal(t, domain.RunStatusSucceeded, run.Status)
	require.Empty(t, run.Commit)

	require.Equal(t, []string{"ensure", "sync", "haschanges"}, g.calls)
	require.True(t, s.provisioned)
	require.Len(t, run.Steps, 7)
	for _, step := range run.Steps {
		require.Equal(t, domain.StepStatusSucceeded, step.Status)
	}

	saved, err := repo.Get(context.Background(), run.ID)
	require.NoError(t, err)
	require.Equal(t, domain.RunStatusSucceeded, saved.Status)
}

// TestRunOnce_Changes_SingleCommit: file changes produce exactly one commit
// with the fixed identity and message, pushed with the configured token.
func TestRunOnce_Changes_SingleCommit(t *testing.T) {
	t.Setenv("GIT_PUSH_TOKEN", "tok123")
	g := &fakeGit{changes: true}
	s := &fakeScripts{}
	svc, _ := newTestService(t, g, s)

	run, err := svc.RunOnce(context.Background(), domain.TriggerManual, "")
	require.NoError(t, err)
	require.Equal(t, domain.RunStatusSucceeded, run.Status)
	require.Equal(t, "deadbeef", run.Commit)

	require.Equal(t, []string{"ensure", "sync", "haschanges", "commit", "push"}, g.calls)
	require.Equal(t, "GitHub Action", g.commitAuthor)
	require.Equal(t, "action@github.com", g.commitEmail)
	require.Equal(t, "updated logs", g.commitMessage)
	require.Equal(t, "tok123", g.pushToken)
}

// TestRunOnce_ValidationFails_AbortsRest: a failing checker script means the
// collection script never runs and nothing is committed or pushed.
func TestRunOnce_ValidationFails_AbortsRest(t *testing.T) {
	g := &fakeGit{changes: true}
	s := &fakeScripts{failScript: "source_format_checker.py"}
	svc, repo := newTestService(t, g, s)

	run, err := svc.RunOnce(context.Background(), domain.TriggerManual, "")
	require.Error(t, err)
	require.Equal(t, domain.RunStatusFailed, run.Status)

	require.Len(t, s.scriptCalls, 1)
	require.Equal(t, "source_format_checker.py", s.scriptCalls[0].name)
	require.Equal(t, []string{"ensure", "sync"}, g.calls)

	require.Len(t, run.Steps, 4)
	require.Equal(t, "validate", run.Steps[3].Name)
	require.Equal(t, domain.StepStatusFailed, run.Steps[3].Status)

	saved, err := repo.Get(context.Background(), run.ID)
	require.NoError(t, err)
	require.Equal(t, domain.RunStatusFailed, saved.Status)
}

// TestRunOnce_CollectFails_NoCommitPush: a failing collection script aborts
// before the commit and push steps.
func TestRunOnce_CollectFails_NoCommitPush(t *testing.T) {
	g := &fakeGit{changes: true}
	s := &fakeScripts{failScript: "scrape_financial_data.py"}
	svc, _ := newTestService(t, g, s)

	run, err := svc.RunOnce(context.Background(), domain.TriggerManual, "")
	require.Error(t, err)
	require.Equal(t, domain.RunStatusFailed, run.Status)
	require.Equal(t, []string{"ensure", "sync"}, g.calls)
	require.Len(t, run.Steps, 5)
}

// TestRunOnce_PeriodFlag: the collection script always receives the period
// flag, defaulting to quarterly.
func TestRunOnce_PeriodFlag(t *testing.T) {
	for period, flag := range map[domain.Period]string{
		"":                     "-q",
		domain.PeriodAnnual:    "-a",
		domain.PeriodQuarterly: "-q",
	} {
		g := &fakeGit{}
		s := &fakeScripts{}
		svc, _ := newTestService(t, g, s)

		_, err := svc.RunOnce(context.Background(), domain.TriggerManual, period)
		require.NoError(t, err)
		require.Len(t, s.scriptCalls, 2)
		require.Empty(t, s.scriptCalls[0].args, "checker takes no period flag")
		require.Equal(t, []string{flag}, s.scriptCalls[1].args)
	}
}

// TestRunOnce_CredentialsReachScripts: both script invocations see the store
// credentials from the environment.
func TestRunOnce_CredentialsReachScripts(t *testing.T) {
	t.Setenv("SUPABASE_URL", "https://store.example.com")
	t.Setenv("SUPABASE_KEY", "secret-key")

	g := &fakeGit{}
	s := &fakeScripts{}
	svc, _ := newTestService(t, g, s)

	_, err := svc.RunOnce(context.Background(), domain.TriggerManual, "")
	require.NoError(t, err)
	require.Len(t, s.scriptCalls, 2)
	for _, call := range s.scriptCalls {
		require.Equal(t, "https://store.example.com", call.creds.URL)
		require.Equal(t, "secret-key", call.creds.Key)
	}
}

// TestRunOnce_LockHeld_Skipped: a dispatch that finds the run lock held is
// recorded as skipped, not queued.
func TestRunOnce_LockHeld_Skipped(t *testing.T) {
	g := &fakeGit{}
	s := &fakeScripts{}
	locker := local.NewProcessLocker()
	repo := local.NewMemoryRunRepository()
	svc := NewRunService(testJob(t), g, s, locker, repo, "GIT_PUSH_TOKEN",
		slog.New(slog.DiscardHandler))

	held, err := locker.Lock(context.Background(), "quarterly-update")
	require.NoError(t, err)
	defer func() { require.NoError(t, held.Unlock(context.Background())) }()

	run, err := svc.RunOnce(context.Background(), domain.TriggerManual, "")
	require.ErrorIs(t, err, domain.ErrLockNotAcquired)
	require.Equal(t, domain.RunStatusSkipped, run.Status)
	require.Empty(t, g.calls, "no step may run while the lock is held")

	saved, err := repo.Get(context.Background(), run.ID)
	require.NoError(t, err)
	require.Equal(t, domain.RunStatusSkipped, saved.Status)
}

// TestDispatch_ReturnsDetachedRecord: the record returned by Dispatch is a
// snapshot; the background goroutine mutates its own copy, and callers read
// progress through the repository. Reading the returned record while the run
// finishes must stay race-free.
func TestDispatch_ReturnsDetachedRecord(t *testing.T) {
	g := &fakeGit{changes: true}
	s := &fakeScripts{}
	svc, repo := newTestService(t, g, s)

	run, err := svc.Dispatch(context.Background(), domain.TriggerManual, "")
	require.NoError(t, err)
	require.Equal(t, domain.RunStatusRunning, run.Status)

	require.Eventually(t, func() bool {
		// Read the returned record the way the HTTP handler does, while
		// the run is still completing in the background.
		_ = run.Status
		saved, getErr := repo.Get(context.Background(), run.ID)
		return getErr == nil && saved.Status == domain.RunStatusSucceeded
	}, 5*time.Second, 10*time.Millisecond)

	// The dispatch response is still the initial record.
	require.Equal(t, domain.RunStatusRunning, run.Status)
	require.Empty(t, run.Steps)

	saved, err := repo.Get(context.Background(), run.ID)
	require.NoError(t, err)
	require.Equal(t, domain.RunStatusSucceeded, saved.Status)
	require.Equal(t, "deadbeef", saved.Commit)
	require.Len(t, saved.Steps, 7)
}

// TestRunOnce_InvalidPeriod rejects unknown periods before locking.
func TestRunOnce_InvalidPeriod(t *testing.T) {
	svc, _ := newTestService(t, &fakeGit{}, &fakeScripts{})
	_, err := svc.RunOnce(context.Background(), domain.TriggerManual, "monthly")
	require.Error(t, err)
}
