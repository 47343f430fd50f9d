package workflow

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestVerdictEventNormalizesDecision(t *testing.T) {
	tests := []struct {
		decision string
		want     string
	}{
		{"approve", "APPROVE"},
		{"APPROVE", "APPROVE"},
		{" request_changes ", "REQUEST_CHANGES"},
		{"comment", "COMMENT"},
		{"lgtm", "COMMENT"},
		{"", "COMMENT"},
	}
	for _, tt := range tests {
		v := &ReviewVerdict{Decision: tt.decision}
		assert.Equal(t, tt.want, v.Event(), "decision %q", tt.decision)
	}
}

func TestVerdictBodyListsIssues(t *testing.T) {
	v := &ReviewVerdict{
		Summary: "Two problems found.",
		Issues: []ReviewIssue{
			{Severity: "major", Message: "nil dereference", File: "main.go", Line: 10},
			{Message: "typo in comment"},
		},
	}
	body := v.Body()
	assert.Contains(t, body, "Two problems found.")
	assert.Contains(t, body, "- major: nil dereference (main.go:10)")
	assert.Contains(t, body, "- info: typo in comment")
}

func TestVerdictBodyFallsBackWhenEmpty(t *testing.T) {
	v := &ReviewVerdict{}
	assert.Equal(t, "Review completed.", v.Body())
}
