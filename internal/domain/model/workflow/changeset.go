package workflow

import (
	"encoding/json"
	"fmt"
	"strings"
)

// FileOp tags the kind of a file operation in a change set.
type FileOp string

const (
	OpModify FileOp = "modify"
	OpDelete FileOp = "delete"

	// OpUnrecognized marks an entry the model produced in a shape we do not
	// understand. Such entries are skipped by the apply step and reported to
	// the caller for logging.
	OpUnrecognized FileOp = "unrecognized"
)

// FileChange is one file operation proposed by the model.
type FileChange struct {
	Op      FileOp `json:"action"`
	Path    string `json:"path"`
	Content string `json:"content,omitempty"`
}

// ChangeSet is the transient output of one generation step. It is consumed
// immediately by the working-copy mutation layer and not retained across
// iterations.
type ChangeSet struct {
	Message string
	Files   []FileChange
}

// Paths returns the paths of all recognized file operations, in order.
// Deleted paths are included so their removal can be staged.
func (cs *ChangeSet) Paths() []string {
	var paths []string
	for _, f := range cs.Files {
		if f.Op == OpUnrecognized {
			continue
		}
		paths = append(paths, f.Path)
	}
	return paths
}

// rawChangeSet mirrors the JSON shape the generation prompt asks for.
// files_to_modify entries are decoded permissively below because models
// regularly return strings or oddly typed content in place of objects.
type rawChangeSet struct {
	CommitMessage string            `json:"commit_message"`
	FilesToModify []json.RawMessage `json:"files_to_modify"`
}

type rawFileEntry struct {
	Path    string          `json:"path"`
	Action  string          `json:"action"`
	Content json.RawMessage `json:"content"`
}

// DecodeChangeSet converts a structured model response into a ChangeSet.
// Entries that cannot be understood become OpUnrecognized with a reason in
// the second return value; the caller decides how to report them.
func DecodeChangeSet(raw json.RawMessage) (*ChangeSet, []string, error) {
	var rc rawChangeSet
	if err := json.Unmarshal(raw, &rc); err != nil {
		return nil, nil, fmt.Errorf("decode change set: %w", err)
	}
	if strings.TrimSpace(rc.CommitMessage) == "" {
		return nil, nil, fmt.Errorf("decode change set: missing commit_message")
	}

	cs := &ChangeSet{Message: rc.CommitMessage}
	var skipped []string
	for i, entry := range rc.FilesToModify {
		fc, reason := decodeFileEntry(entry)
		if reason != "" {
			skipped = append(skipped, fmt.Sprintf("entry %d: %s", i, reason))
		}
		cs.Files = append(cs.Files, fc)
	}
	return cs, skipped, nil
}

func decodeFileEntry(entry json.RawMessage) (FileChange, string) {
	var rf rawFileEntry
	if err := json.Unmarshal(entry, &rf); err != nil {
		// Not an object; most often the model emitted a bare path string.
		return FileChange{Op: OpUnrecognized}, fmt.Sprintf("not an object: %s", truncateRaw(entry))
	}
	if rf.Path == "" {
		return FileChange{Op: OpUnrecognized}, "missing path"
	}
	if rf.Action == string(OpDelete) {
		return FileChange{Op: OpDelete, Path: rf.Path}, ""
	}
	content, ok := decodeContent(rf.Content)
	if !ok {
		return FileChange{Op: OpUnrecognized, Path: rf.Path}, fmt.Sprintf("no usable content for %s", rf.Path)
	}
	return FileChange{Op: OpModify, Path: rf.Path, Content: content}, ""
}

// decodeContent accepts the content shapes models actually produce: a plain
// string, a list of lines, or an arbitrary JSON value that is re-encoded.
func decodeContent(raw json.RawMessage) (string, bool) {
	if len(raw) == 0 || string(raw) == "null" {
		return "", false
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s, true
	}
	var lines []any
	if err := json.Unmarshal(raw, &lines); err == nil {
		parts := make([]string, len(lines))
		for i, line := range lines {
			if str, ok := line.(string); ok {
				parts[i] = str
			} else {
				parts[i] = fmt.Sprint(line)
			}
		}
		return strings.Join(parts, "\n"), true
	}
	pretty, err := json.MarshalIndent(json.RawMessage(raw), "", "  ")
	if err != nil {
		return "", false
	}
	return string(pretty), true
}

func truncateRaw(raw json.RawMessage) string {
	s := string(raw)
	if len(s) > 80 {
		return s[:80] + "..."
	}
	return s
}
