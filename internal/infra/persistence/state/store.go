// Package state persists the durable workflow record for each
// (repository, issue) pair as one JSON file under the state directory.
package state

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/afero"

	"github.com/hayato-mori/issuepilot/internal/domain/model/workflow"
	"github.com/hayato-mori/issuepilot/internal/infra/persistence/file"
)

// ErrCorruptState indicates an existing record could not be decoded. The
// workflow fails loudly on it instead of silently resetting progress.
var ErrCorruptState = errors.New("workflow state record is corrupt")

// Store reads and writes workflow state records. Each save fully overwrites
// the record; callers supply the complete desired state every time.
type Store struct {
	fs  afero.Fs
	dir string
}

// NewStore returns a store rooted at dir.
func NewStore(fs afero.Fs, dir string) *Store {
	return &Store{fs: fs, dir: dir}
}

// Key derives the deterministic record name for a (repository, issue) pair.
func Key(repo string, issue int) string {
	return fmt.Sprintf("%s_%d.json", strings.ReplaceAll(repo, "/", "_"), issue)
}

func (s *Store) path(repo string, issue int) string {
	return filepath.Join(s.dir, Key(repo, issue))
}

// Load returns the stored record, or (nil, nil) when none exists. A record
// that exists but cannot be decoded returns ErrCorruptState.
func (s *Store) Load(repo string, issue int) (*workflow.State, error) {
	path := s.path(repo, issue)
	data, err := afero.ReadFile(s.fs, path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read state %s: %w", path, err)
	}

	var st workflow.State
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrCorruptState, path, err)
	}
	if !workflow.ValidSteps[st.Step] {
		return nil, fmt.Errorf("%w: %s: unknown step %q", ErrCorruptState, path, st.Step)
	}
	return &st, nil
}

// Save overwrites the record atomically and stamps the update time.
func (s *Store) Save(repo string, issue int, st *workflow.State) error {
	st.UpdatedAt = time.Now().UTC().Format(time.RFC3339Nano)
	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}
	if err := file.WriteAtomic(s.fs, s.path(repo, issue), data, 0o644); err != nil {
		return fmt.Errorf("write state: %w", err)
	}
	return nil
}

// Clear removes the record. Removing an absent record is not an error.
func (s *Store) Clear(repo string, issue int) error {
	err := s.fs.Remove(s.path(repo, issue))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("clear state: %w", err)
	}
	return nil
}
