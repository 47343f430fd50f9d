// Package jsonx extracts JSON objects from free-form model output. Models
// routinely wrap their JSON in prose or code fences; this package recovers
// the object when possible and repairs it with one extra model call when not.
package jsonx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrDecode marks output that could not be parsed as a JSON object, even
// after the repair round. Callers match it with errors.Is.
var ErrDecode = errors.New("structured output is not a JSON object")

// Extract returns the JSON object contained in raw. It first tries the text
// as-is, then the substring between the first '{' and the last '}'.
func Extract(raw string) (json.RawMessage, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return nil, fmt.Errorf("empty response: %w", ErrDecode)
	}
	if obj, ok := parseObject(s); ok {
		return obj, nil
	}
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start == -1 || end == -1 || end <= start {
		return nil, fmt.Errorf("no JSON object found: %w", ErrDecode)
	}
	if obj, ok := parseObject(s[start : end+1]); ok {
		return obj, nil
	}
	return nil, fmt.Errorf("malformed JSON object: %w", ErrDecode)
}

func parseObject(s string) (json.RawMessage, bool) {
	var obj map[string]any
	if err := json.Unmarshal([]byte(s), &obj); err != nil {
		return nil, false
	}
	return json.RawMessage(s), true
}

// GenerateFunc issues one text completion. It matches the inference
// gateway's Generate signature.
type GenerateFunc func(ctx context.Context, prompt, system string) (string, error)

// Repairer adds a single model-backed repair round on top of Extract.
// The cost is bounded: exactly one extra inference call, then one more
// extraction attempt.
type Repairer struct {
	Generate GenerateFunc
}

// Extract behaves like the package-level Extract, but on failure asks the
// model once to rewrite the text as valid JSON and tries again.
func (r *Repairer) Extract(ctx context.Context, raw string) (json.RawMessage, error) {
	obj, err := Extract(raw)
	if err == nil {
		return obj, nil
	}
	if r == nil || r.Generate == nil {
		return nil, err
	}
	repaired, rerr := r.Generate(ctx, repairPrompt(raw), "Return only valid JSON.")
	if rerr != nil {
		return nil, fmt.Errorf("repair call failed: %v: %w", rerr, err)
	}
	return Extract(repaired)
}

func repairPrompt(content string) string {
	return "Fix the following content to valid JSON. " +
		"Return only the JSON object and nothing else.\n\nContent:\n" + content
}
