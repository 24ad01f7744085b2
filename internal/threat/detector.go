// Package threat inspects request-supplied data for known attack signatures.
//
// The detector is a pure function over its inputs: it holds compiled
// signature sets but no per-request state. Signature lists are configuration
// data; the defaults below are a starting point, not a contract.
package threat

import (
	"html"
	"regexp"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// Reason labels for positive matches
const (
	ReasonSQLInjection  = "sql_injection_pattern"
	ReasonMarkup        = "markup_injection"
	ReasonPathTraversal = "path_traversal"
	ReasonUserAgent     = "denylisted_user_agent"
)

// DefaultSQLPatterns matches common SQL-injection fragments
var DefaultSQLPatterns = []string{
	`(?i)union[\s/*]+select`,
	`(?i)\bselect\b.+\bfrom\b`,
	`(?i)insert[\s/*]+into`,
	`(?i)\bdrop\s+table\b`,
	`(?i)\bor\b\s+['"]?\d+['"]?\s*=\s*['"]?\d+`,
	`(?i);\s*--`,
	`(?i)\bsleep\s*\(`,
	`(?i)\bbenchmark\s*\(`,
}

// DefaultMarkupPatterns matches script and markup injection attempts
var DefaultMarkupPatterns = []string{
	`(?i)<\s*script`,
	`(?i)javascript\s*:`,
	`(?i)on(error|load|click|mouseover)\s*=`,
	`(?i)<\s*iframe`,
	`(?i)data\s*:\s*text/html`,
}

// DefaultTraversalPatterns matches path-traversal sequences
var DefaultTraversalPatterns = []string{
	`\.\./`,
	`\.\.\\`,
	`(?i)%2e%2e[/\\]`,
	`(?i)%2e%2e%2f`,
	`(?i)/etc/passwd`,
}

// DefaultUserAgentDenylist marks automation clients. Substring matching is a
// coarse heuristic, which is exactly why the list is configurable.
var DefaultUserAgentDenylist = []string{
	"sqlmap",
	"nikto",
	"nmap",
	"masscan",
	"curl/",
	"python-requests",
	"go-http-client",
}

// Result is the outcome of an inspection
type Result struct {
	Suspicious bool
	Reasons    []string
}

// Config holds the signature sets for a Detector. Empty slices fall back to
// the package defaults.
type Config struct {
	SQLPatterns       []string
	MarkupPatterns    []string
	TraversalPatterns []string
	UserAgentDenylist []string
}

// Detector scans request payloads against compiled signature sets
type Detector struct {
	sqlPatterns       []*regexp.Regexp
	markupPatterns    []*regexp.Regexp
	traversalPatterns []*regexp.Regexp
	uaDenylist        []string
	policy            *bluemonday.Policy
}

// NewDetector compiles the configured signature sets. Invalid patterns are
// reported rather than silently dropped.
func NewDetector(cfg Config) (*Detector, error) {
	sql := cfg.SQLPatterns
	if len(sql) == 0 {
		sql = DefaultSQLPatterns
	}
	markup := cfg.MarkupPatterns
	if len(markup) == 0 {
		markup = DefaultMarkupPatterns
	}
	traversal := cfg.TraversalPatterns
	if len(traversal) == 0 {
		traversal = DefaultTraversalPatterns
	}
	denylist := cfg.UserAgentDenylist
	if len(denylist) == 0 {
		denylist = DefaultUserAgentDenylist
	}

	d := &Detector{
		uaDenylist: lowerAll(denylist),
		policy:     bluemonday.StrictPolicy(),
	}

	var err error
	if d.sqlPatterns, err = compileAll(sql); err != nil {
		return nil, err
	}
	if d.markupPatterns, err = compileAll(markup); err != nil {
		return nil, err
	}
	if d.traversalPatterns, err = compileAll(traversal); err != nil {
		return nil, err
	}

	return d, nil
}

// Payload is a serialized view of everything the client supplied
type Payload struct {
	// Values holds all request-supplied fields (query and body), flattened
	Values []string
	// UserAgent is the client-supplied User-Agent header
	UserAgent string
}

// Inspect scans the payload and returns the contributing reasons for any
// positive match. Each reason is reported at most once.
func (d *Detector) Inspect(p Payload) Result {
	var result Result

	for _, value := range p.Values {
		if value == "" {
			continue
		}
		if matchAny(d.sqlPatterns, value) {
			result.addReason(ReasonSQLInjection)
		}
		if d.hasMarkup(value) {
			result.addReason(ReasonMarkup)
		}
		if matchAny(d.traversalPatterns, value) {
			result.addReason(ReasonPathTraversal)
		}
	}

	if ua := strings.ToLower(p.UserAgent); ua != "" {
		for _, marker := range d.uaDenylist {
			if strings.Contains(ua, marker) {
				result.addReason(ReasonUserAgent)
				break
			}
		}
	}

	result.Suspicious = len(result.Reasons) > 0
	return result
}

// hasMarkup combines the configured patterns with a sanitizer round-trip:
// if stripping all markup changes the value, the value contained markup.
// The sanitizer entity-escapes bare angle brackets, so the output is
// unescaped before comparing; plain text like "1 < 2" survives the
// round-trip unchanged.
func (d *Detector) hasMarkup(value string) bool {
	if matchAny(d.markupPatterns, value) {
		return true
	}
	if strings.ContainsRune(value, '<') && html.UnescapeString(d.policy.Sanitize(value)) != value {
		return true
	}
	return false
}

func (r *Result) addReason(reason string) {
	for _, existing := range r.Reasons {
		if existing == reason {
			return
		}
	}
	r.Reasons = append(r.Reasons, reason)
}

func matchAny(patterns []*regexp.Regexp, value string) bool {
	for _, p := range patterns {
		if p.MatchString(value) {
			return true
		}
	}
	return false
}

func compileAll(patterns []string) ([]*regexp.Regexp, error) {
	compiled := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, err
		}
		compiled = append(compiled, re)
	}
	return compiled, nil
}

func lowerAll(values []string) []string {
	out := make([]string, len(values))
	for i, v := range values {
		out[i] = strings.ToLower(v)
	}
	return out
}
