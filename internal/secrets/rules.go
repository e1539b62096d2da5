package secrets

import (
	"regexp"
	"strings"
)

// Rule is a builtin detection rule. When Keywords is non-empty the rule
// only runs on text containing one of them (case-insensitive).
type Rule struct {
	ID          string
	Description string
	Pattern     *regexp.Regexp
	Keywords    []string
}

func (r Rule) applies(lower string) bool {
	if len(r.Keywords) == 0 {
		return true
	}
	for _, kw := range r.Keywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

// BuiltinRules returns the rules run alongside gitleaks.
func BuiltinRules() []Rule {
	return []Rule{
		{
			ID:          "aws-access-key-id",
			Description: "AWS Access Key ID",
			Pattern:     regexp.MustCompile(`(A3T[A-Z0-9]|AKIA|AGPA|AIDA|AROA|AIPA|ANPA|ANVA|ASIA)[A-Z0-9]{16}`),
		},
		{
			ID:          "generic-api-key",
			Description: "API key assignment",
			Pattern:     regexp.MustCompile(`(?i)(?:api[_-]?key|apikey)\s*[:=]\s*['"]?[A-Za-z0-9_\-]{16,64}['"]?`),
			Keywords:    []string{"api"},
		},
		{
			ID:          "generic-secret",
			Description: "Password or secret assignment",
			Pattern:     regexp.MustCompile(`(?i)(?:secret|password|passwd|pwd)\s*[:=]\s*['"]?[^\s'"]{8,}['"]?`),
			Keywords:    []string{"secret", "password", "passwd", "pwd"},
		},
		{
			ID:          "private-key",
			Description: "PEM private key header",
			Pattern:     regexp.MustCompile(`-----BEGIN (?:RSA |DSA |EC |OPENSSH |PGP )?PRIVATE KEY(?:[- ]BLOCK)?-----`),
		},
		{
			ID:          "github-token",
			Description: "GitHub token",
			Pattern:     regexp.MustCompile(`(?:ghp|gho|ghu|ghs)_[A-Za-z0-9]{36}|github_pat_[A-Za-z0-9_]{22,}`),
		},
		{
			ID:          "slack-token",
			Description: "Slack token",
			Pattern:     regexp.MustCompile(`xox[baprs]-[A-Za-z0-9\-]{10,}`),
		},
		{
			ID:          "database-url",
			Description: "Connection URL with credentials",
			Pattern:     regexp.MustCompile(`(?i)(?:postgres|postgresql|mysql|mongodb|redis|amqp)://[^:\s/]+:[^@\s]+@\S+`),
		},
		{
			ID:          "jwt",
			Description: "JSON Web Token",
			Pattern:     regexp.MustCompile(`eyJ[A-Za-z0-9_-]*\.eyJ[A-Za-z0-9_-]*\.[A-Za-z0-9_-]*`),
		},
		{
			ID:          "bearer-token",
			Description: "Bearer token",
			Pattern:     regexp.MustCompile(`(?i)bearer\s+[A-Za-z0-9_\-\.]{20,}`),
			Keywords:    []string{"bearer"},
		},
	}
}
