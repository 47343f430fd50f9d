// Package gitops implements the working-copy mutation layer by shelling out
// to the git binary. Each WorkCopy is a disposable clone in a temp directory,
// acquired for one invocation and removed on Close.
package gitops

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"

	"github.com/hayato-mori/issuepilot/internal/app"
)

// skipDirs are directory names excluded from file enumeration.
var skipDirs = map[string]bool{
	".git":          true,
	".venv":         true,
	"__pycache__":   true,
	".pytest_cache": true,
	"node_modules":  true,
}

const autostashMessage = "issuepilot-autostash"

// WorkCopy is one cloned working copy.
type WorkCopy struct {
	dir     string
	repoURL string
	token   string
	log     app.Logger
}

// Clone checks out repoURL at baseBranch into a fresh temp directory. The
// token, when set, is embedded in the URL for the clone and stripped from
// the stored remote afterward; later fetches and pushes re-embed it per
// call.
func Clone(ctx context.Context, repoURL, baseBranch, token string, log app.Logger) (*WorkCopy, error) {
	dir, err := os.MkdirTemp("", "issuepilot-")
	if err != nil {
		return nil, fmt.Errorf("create temp dir: %w", err)
	}

	w := &WorkCopy{dir: dir, repoURL: repoURL, token: token, log: log}
	if _, err := w.git(ctx, "clone", "--branch", baseBranch, w.authURL(), dir); err != nil {
		os.RemoveAll(dir)
		return nil, fmt.Errorf("clone %s: %w", repoURL, err)
	}
	// Do not leave the credential on disk in .git/config.
	if w.authURL() != repoURL {
		if _, err := w.git(ctx, "remote", "set-url", "origin", repoURL); err != nil {
			os.RemoveAll(dir)
			return nil, fmt.Errorf("reset remote url: %w", err)
		}
	}
	return w, nil
}

// Root returns the checkout directory.
func (w *WorkCopy) Root() string {
	return w.dir
}

// Close removes the temporary checkout.
func (w *WorkCopy) Close() error {
	if w.dir == "" {
		return nil
	}
	err := os.RemoveAll(w.dir)
	w.dir = ""
	return err
}

// Files walks the checkout and returns repository-relative paths in sorted
// order, skipping VCS and tooling directories.
func (w *WorkCopy) Files() ([]string, error) {
	var files []string
	err := filepath.WalkDir(w.dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if skipDirs[d.Name()] && path != w.dir {
				return filepath.SkipDir
			}
			return nil
		}
		rel, err := filepath.Rel(w.dir, path)
		if err != nil {
			return err
		}
		files = append(files, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("enumerate files: %w", err)
	}
	sort.Strings(files)
	return files, nil
}

// ReadFile returns the content of a file under the checkout root.
func (w *WorkCopy) ReadFile(path string) (string, error) {
	data, err := os.ReadFile(filepath.Join(w.dir, filepath.FromSlash(path)))
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// WriteFile writes content under the checkout root, creating parent
// directories as needed.
func (w *WorkCopy) WriteFile(path, content string) error {
	target := filepath.Join(w.dir, filepath.FromSlash(path))
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return fmt.Errorf("create parent dirs for %s: %w", path, err)
	}
	if err := os.WriteFile(target, []byte(content), 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}

// DeleteFile removes a file under the checkout root. Deleting an absent
// file is not an error.
func (w *WorkCopy) DeleteFile(path string) error {
	err := os.Remove(filepath.Join(w.dir, filepath.FromSlash(path)))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("delete %s: %w", path, err)
	}
	return nil
}

// EnsureBranch checks out branch, creating it from the matching remote
// branch if one exists, otherwise fresh from the current base. A dirty
// working copy (untracked files included) is stashed around the switch; a
// failed stash pop is logged but does not fail the switch.
func (w *WorkCopy) EnsureBranch(ctx context.Context, branch string) error {
	stashed, err := w.stashIfDirty(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if !stashed {
			return
		}
		if _, err := w.git(ctx, "stash", "pop"); err != nil {
			w.log.Warn("failed to re-apply stashed changes: %v", err)
		}
	}()

	if _, err := w.git(ctx, "rev-parse", "--verify", "--quiet", "refs/heads/"+branch); err == nil {
		_, err := w.git(ctx, "checkout", branch)
		return err
	}

	// Fetch the remote branch through a credentialed URL; absence is fine.
	if _, err := w.git(ctx, "fetch", w.authURL(),
		fmt.Sprintf("+refs/heads/%s:refs/remotes/origin/%s", branch, branch)); err == nil {
		if _, err := w.git(ctx, "checkout", "-b", branch, "refs/remotes/origin/"+branch); err == nil {
			return nil
		}
	}

	_, err = w.git(ctx, "checkout", "-b", branch)
	return err
}

// StageAndCommit stages exactly the listed paths and commits. Deleted paths
// stage as removals. A commit with nothing staged is treated as a no-op.
func (w *WorkCopy) StageAndCommit(ctx context.Context, paths []string, message string) error {
	if len(paths) == 0 {
		return nil
	}
	args := append([]string{"add", "--"}, paths...)
	if _, err := w.git(ctx, args...); err != nil {
		return fmt.Errorf("stage files: %w", err)
	}
	out, err := w.git(ctx,
		"-c", "user.name=issuepilot",
		"-c", "user.email=issuepilot@localhost",
		"commit", "-m", message)
	if err != nil {
		if strings.Contains(out, "nothing to commit") {
			w.log.Info("no changes to commit")
			return nil
		}
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// Push publishes branch to the remote. The credential is embedded in the
// push URL for this call only and never written to the repository config.
func (w *WorkCopy) Push(ctx context.Context, branch string) error {
	if _, err := w.git(ctx, "push", w.authURL(), fmt.Sprintf("%s:%s", branch, branch)); err != nil {
		return fmt.Errorf("push %s: %w", branch, err)
	}
	return nil
}

func (w *WorkCopy) stashIfDirty(ctx context.Context) (bool, error) {
	status, err := w.git(ctx, "status", "--porcelain")
	if err != nil {
		return false, fmt.Errorf("check status: %w", err)
	}
	if strings.TrimSpace(status) == "" {
		return false, nil
	}
	before := w.stashCount(ctx)
	if _, err := w.git(ctx, "stash", "push", "-u", "-m", autostashMessage); err != nil {
		return false, fmt.Errorf("stash local changes: %w", err)
	}
	created := w.stashCount(ctx) > before
	if created {
		w.log.Warn("working copy had local changes; stashed before branch switch")
	}
	return created, nil
}

func (w *WorkCopy) stashCount(ctx context.Context) int {
	out, err := w.git(ctx, "stash", "list")
	if err != nil {
		return 0
	}
	count := 0
	for _, line := range strings.Split(out, "\n") {
		if strings.TrimSpace(line) != "" {
			count++
		}
	}
	return count
}

// authURL returns the remote URL with the access token embedded, or the URL
// unchanged when no token is configured or the URL is not https.
func (w *WorkCopy) authURL() string {
	if w.token == "" || !strings.HasPrefix(w.repoURL, "https://") {
		return w.repoURL
	}
	base := w.repoURL
	if !strings.HasSuffix(base, ".git") {
		base += ".git"
	}
	return strings.Replace(base, "https://", "https://x-access-token:"+w.token+"@", 1)
}

func (w *WorkCopy) git(ctx context.Context, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = w.dir
	out, err := cmd.CombinedOutput()
	// git echoes the remote URL on clone/fetch/push failures, which may
	// embed the access token.
	text := w.redact(string(out))
	if err != nil {
		return text, fmt.Errorf("git %s: %w\n%s", args[0], err, text)
	}
	return text, nil
}

func (w *WorkCopy) redact(s string) string {
	if w.token == "" {
		return s
	}
	return strings.ReplaceAll(s, w.token, "***")
}
