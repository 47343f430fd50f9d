package issue

import (
	"regexp"
	"sort"
	"strings"

	"golang.org/x/text/unicode/norm"
)

const (
	maxScoredFiles   = 8
	maxSelectedFiles = 10
	maxFileChars     = 8000
)

// commonFiles are always included in the context bundle when present.
var commonFiles = []string{
	"README.md",
	"go.mod",
	"package.json",
	"pyproject.toml",
	"requirements.txt",
}

var (
	keywordPattern = regexp.MustCompile(`[a-z0-9_-]+`)
	pathPattern    = regexp.MustCompile(`(?:\./|/)?[\w./-]+\.(?:go|py|md|txt|toml|yml|yaml|json|js|ts)`)
)

// selectFiles picks a bounded, relevant subset of repository paths for the
// context bundle. The policy is deterministic: common files first, then paths
// the issue text names directly (in order of appearance), then the top 8
// keyword-scored paths, with a first-3 fallback when nothing matched, capped
// at 10 total.
func selectFiles(filePaths []string, issueText string) []string {
	keywords := extractKeywords(issueText)
	directPaths := extractPaths(issueText)

	present := make(map[string]bool, len(filePaths))
	for _, p := range filePaths {
		present[p] = true
	}

	var selected []string
	chosen := map[string]bool{}
	add := func(path string) {
		if !chosen[path] {
			chosen[path] = true
			selected = append(selected, path)
		}
	}

	for _, name := range commonFiles {
		if present[name] {
			add(name)
		}
	}
	for _, path := range directPaths {
		if present[path] {
			add(path)
		}
	}

	type scoredPath struct {
		score int
		path  string
	}
	var scored []scoredPath
	for _, path := range filePaths {
		if chosen[path] {
			continue
		}
		lower := strings.ToLower(path)
		score := 0
		for keyword := range keywords {
			if strings.Contains(lower, keyword) {
				score++
			}
		}
		if score > 0 {
			scored = append(scored, scoredPath{score: score, path: path})
		}
	}
	// Stable sort keeps enumeration order as the tie-breaker.
	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].score > scored[j].score
	})
	for i := 0; i < len(scored) && i < maxScoredFiles; i++ {
		add(scored[i].path)
	}

	if len(selected) == 0 {
		for i := 0; i < len(filePaths) && i < 3; i++ {
			add(filePaths[i])
		}
	}
	if len(selected) > maxSelectedFiles {
		selected = selected[:maxSelectedFiles]
	}
	return selected
}

// extractKeywords tokenizes the issue text into scoring keywords. The text is
// NFKC-normalized first so full-width forms match ASCII paths.
func extractKeywords(text string) map[string]bool {
	normalized := strings.ToLower(norm.NFKC.String(text))
	keywords := map[string]bool{}
	for _, word := range keywordPattern.FindAllString(normalized, -1) {
		if len(word) > 2 {
			keywords[word] = true
		}
	}
	return keywords
}

// extractPaths returns file paths named directly in the issue text, in order
// of appearance, identified by a file-extension-anchored pattern.
func extractPaths(text string) []string {
	var paths []string
	seen := map[string]bool{}
	for _, match := range pathPattern.FindAllString(text, -1) {
		path := strings.TrimLeft(match, "./")
		if path != "" && !seen[path] {
			seen[path] = true
			paths = append(paths, path)
		}
	}
	return paths
}

// truncateContent bounds per-file content in the context bundle.
func truncateContent(content string) string {
	if len(content) > maxFileChars {
		return content[:maxFileChars] + "\n... [truncated]"
	}
	return content
}
