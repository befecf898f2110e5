package workingcopy

import "strings"

// Matcher decides whether a repo-relative path participates in a snapshot
// or checkout, per spec §4.5's "matcher = (sparse pattern intersect
// optional fsmonitor-provided changed-set)".
type Matcher interface {
	Matches(repoPath string) bool
}

// sparseMatcher matches paths under any of a set of prefixes, per spec's
// "Sparse patterns: path prefixes restricting which files participate in
// snapshot/checkout". An empty pattern set matches everything.
type sparseMatcher struct {
	prefixes []string
}

func newSparseMatcher(patterns []string) *sparseMatcher {
	return &sparseMatcher{prefixes: patterns}
}

func (m *sparseMatcher) Matches(repoPath string) bool {
	if len(m.prefixes) == 0 {
		return true
	}
	for _, prefix := range m.prefixes {
		if prefix == "" || repoPath == prefix || strings.HasPrefix(repoPath, prefix+"/") {
			return true
		}
	}
	return false
}

// changedSetMatcher restricts to a fsmonitor-provided set of changed paths,
// when one is available (spec §4.5 "optional filesystem monitor
// integration"); a nil changed set means "no fsmonitor data", matching
// everything instead of nothing.
type changedSetMatcher struct {
	changed map[string]struct{} // nil => unavailable, matches all
}

func (m *changedSetMatcher) Matches(repoPath string) bool {
	if m.changed == nil {
		return true
	}
	_, ok := m.changed[repoPath]
	return ok
}

// intersectionMatcher is the logical AND of several matchers.
type intersectionMatcher struct {
	of []Matcher
}

func (m *intersectionMatcher) Matches(repoPath string) bool {
	for _, sub := range m.of {
		if !sub.Matches(repoPath) {
			return false
		}
	}
	return true
}

func buildMatcher(sparsePatterns []string, changed map[string]struct{}) Matcher {
	return &intersectionMatcher{of: []Matcher{
		newSparseMatcher(sparsePatterns),
		&changedSetMatcher{changed: changed},
	}}
}
