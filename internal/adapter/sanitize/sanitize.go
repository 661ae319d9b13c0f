package sanitize

import (
	"context"
	"log/slog"
	"regexp"
	"strings"

	"memvault/internal/domain"
)

// secretPattern names one class of credential-bearing text.
type secretPattern struct {
	name    string
	pattern *regexp.Regexp
}

var secretPatterns = []secretPattern{
	{"aws access key", regexp.MustCompile(`\bAKIA[0-9A-Z]{16}\b`)},
	{"api key assignment", regexp.MustCompile(`(?i)\b(api[_-]?key|apikey|secret[_-]?key|access[_-]?token)\s*[:=]\s*['"]?[\w/+.-]{16,}`)},
	{"bearer token", regexp.MustCompile(`(?i)\bbearer\s+[\w._~+/-]{20,}=*`)},
	{"private key block", regexp.MustCompile(`-----BEGIN\s+(?:RSA\s+|EC\s+|OPENSSH\s+)?PRIVATE KEY-----`)},
	{"password assignment", regexp.MustCompile(`(?i)\b(password|passwd|pwd)\s*[:=]\s*\S{6,}`)},
	{"github token", regexp.MustCompile(`\bgh[pousr]_[A-Za-z0-9]{36,}\b`)},
	{"slack token", regexp.MustCompile(`\bxox[baprs]-[\w-]{10,}\b`)},
}

var whitespaceRe = regexp.MustCompile(`[ \t]+`)

// RuleSanitizer implements domain.Sanitizer with a fixed pattern table.
// Text matching any credential pattern is flagged outright rather than
// scrubbed: a record with a hole where the secret was is rarely worth
// keeping, and the flag tells the caller to reject the save.
type RuleSanitizer struct {
	logger *slog.Logger
}

func NewRuleSanitizer(logger *slog.Logger) *RuleSanitizer {
	return &RuleSanitizer{logger: logger}
}

// Sanitize implements domain.Sanitizer. Never returns an error; the table
// is static and matching cannot fail.
func (s *RuleSanitizer) Sanitize(_ context.Context, text string) (domain.SanitizeResult, error) {
	for _, p := range secretPatterns {
		if p.pattern.MatchString(text) {
			s.logger.Debug("content flagged", "pattern", p.name)
			return domain.SanitizeResult{
				Flagged: true,
				Reason:  "contains " + p.name,
			}, nil
		}
	}
	return domain.SanitizeResult{Cleaned: normalizeWhitespace(text)}, nil
}

// normalizeWhitespace collapses runs of spaces and tabs and trims each line.
func normalizeWhitespace(text string) string {
	lines := strings.Split(text, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimSpace(whitespaceRe.ReplaceAllString(line, " "))
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}

// Compile-time interface check.
var _ domain.Sanitizer = (*RuleSanitizer)(nil)
