package output

import "context"

// Workspace is a disposable clone of the target repository, bound to one
// invocation. Close must be called on every exit path; it removes the
// temporary checkout.
type Workspace interface {
	// Root returns the absolute path of the checkout.
	Root() string

	// Files enumerates repository-relative file paths in deterministic
	// (lexical walk) order, excluding VCS and tooling directories.
	Files() ([]string, error)

	ReadFile(path string) (string, error)
	WriteFile(path, content string) error
	DeleteFile(path string) error

	// EnsureBranch checks out branch, creating it locally or from its
	// remote counterpart as needed. Local modifications are stashed around
	// the switch and restored afterward.
	EnsureBranch(ctx context.Context, branch string) error

	// StageAndCommit stages exactly the listed paths and commits them.
	StageAndCommit(ctx context.Context, paths []string, message string) error

	// Push publishes branch to the remote, embedding the credential in the
	// remote URL for this call only.
	Push(ctx context.Context, branch string) error

	Close() error
}

// CloneFunc acquires a workspace for a repository at the configured base
// branch.
type CloneFunc func(ctx context.Context, repo string) (Workspace, error)
