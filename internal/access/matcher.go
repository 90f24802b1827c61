package access

import (
	"path"
	"strings"
)

// Level is the access classification of a request path.
type Level int

const (
	// Protected paths require an authenticated session.
	Protected Level = iota
	// Public paths bypass authentication and CSRF checks entirely.
	Public
)

// Rule maps an ordered path pattern to an access level.
//
// Pattern language: segments are matched literally, "*" (alone or inside a
// segment, e.g. "*.css") matches within a single segment, and a trailing
// "/**" matches any number of remaining segments.
type Rule struct {
	Pattern string
	Level   Level
}

// Matcher classifies request paths against an ordered rule list.
// First match wins; paths matching no rule are Protected.
type Matcher struct {
	rules []Rule
}

// NewMatcher creates a matcher over the given rules. The rule slice is not
// copied and must not be mutated afterwards.
func NewMatcher(rules []Rule) *Matcher {
	return &Matcher{rules: rules}
}

// PublicRules builds a rule list marking every pattern Public.
func PublicRules(patterns []string) []Rule {
	rules := make([]Rule, 0, len(patterns))
	for _, p := range patterns {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		rules = append(rules, Rule{Pattern: p, Level: Public})
	}
	return rules
}

// Classify returns the access level of the given request path.
//
// The path is normalized first: dot segments are resolved before any rule is
// consulted, so `/assets/../user` is classified as `/user`, not as an asset.
// Upstreams normalize too, and the two views of the path must agree or a
// traversal-shaped request would slip through as Public.
func (m *Matcher) Classify(requestPath string) Level {
	cleaned := path.Clean("/" + requestPath)
	if strings.Contains(cleaned, "..") {
		return Protected
	}

	for _, rule := range m.rules {
		if matchPattern(rule.Pattern, cleaned) {
			return rule.Level
		}
	}
	return Protected
}

// matchPattern matches one pattern against one path, segment by segment.
func matchPattern(pattern, requestPath string) bool {
	patSegs := strings.Split(strings.Trim(pattern, "/"), "/")
	pathSegs := strings.Split(strings.Trim(requestPath, "/"), "/")

	// "/" as a pattern only matches the root document.
	if pattern == "/" {
		return requestPath == "/"
	}

	for i, seg := range patSegs {
		if seg == "**" && i == len(patSegs)-1 {
			// Trailing "/**" swallows the rest, including zero segments.
			return true
		}
		if i >= len(pathSegs) {
			return false
		}
		ok, err := path.Match(seg, pathSegs[i])
		if err != nil || !ok {
			return false
		}
	}
	return len(patSegs) == len(pathSegs)
}
