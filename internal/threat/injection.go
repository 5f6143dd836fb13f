package threat

import (
	"regexp"

	"fleetgate/internal/model"
)

// Injection patterns are matched against the raw query string and, for
// non-GET requests, the body. SQL patterns are graded critical, script/HTML
// injection high, and operator-supplied custom patterns medium.
var (
	sqlPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)('\s*(or|and)\s*')`),
		regexp.MustCompile(`(?i)('\s*(or|and)\s+[^=]+=)`),
		regexp.MustCompile(`(?i)\b(union\s+(all\s+)?select)\b`),
		regexp.MustCompile(`(?i)\b(select\s+.+\s+from|insert\s+into|delete\s+from|drop\s+(table|database)|update\s+\w+\s+set)\b`),
		regexp.MustCompile(`(?i)(;\s*--|--\s*$|/\*.*\*/)`),
		regexp.MustCompile(`(?i)\b(exec(ute)?\s*\(|xp_cmdshell)\b`),
	}
	scriptPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)<\s*script[^>]*>`),
		regexp.MustCompile(`(?i)javascript\s*:`),
		regexp.MustCompile(`(?i)on(load|error|click|mouseover|focus)\s*=`),
		regexp.MustCompile(`(?i)<\s*(iframe|object|embed)[^>]*>`),
		regexp.MustCompile(`(?i)document\s*\.\s*(cookie|write)`),
	}
)

// injectionMatch is the result of scanning one payload.
type injectionMatch struct {
	kind     string
	severity model.Severity
	pattern  string
}

// scanInjection checks the payloads against the built-in and custom pattern
// sets, returning the first match in severity order.
func scanInjection(payloads []string, custom []*regexp.Regexp) *injectionMatch {
	for _, p := range payloads {
		if p == "" {
			continue
		}
		for _, re := range sqlPatterns {
			if re.MatchString(p) {
				return &injectionMatch{kind: "sql", severity: model.SeverityCritical, pattern: re.String()}
			}
		}
		for _, re := range scriptPatterns {
			if re.MatchString(p) {
				return &injectionMatch{kind: "script", severity: model.SeverityHigh, pattern: re.String()}
			}
		}
		for _, re := range custom {
			if re.MatchString(p) {
				return &injectionMatch{kind: "custom", severity: model.SeverityMedium, pattern: re.String()}
			}
		}
	}
	return nil
}

// compilePatterns compiles operator-supplied pattern strings, skipping and
// reporting the invalid ones.
func compilePatterns(patterns []string) ([]*regexp.Regexp, []string) {
	var compiled []*regexp.Regexp
	var bad []string
	for _, p := range patterns {
		re, err := regexp.Compile(p)
		if err != nil {
			bad = append(bad, p)
			continue
		}
		compiled = append(compiled, re)
	}
	return compiled, bad
}
