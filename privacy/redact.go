// SPDX-License-Identifier: ice License 1.0

package privacy

import (
	"regexp"
)

type (
	Result struct {
		Redacted    string
		WasRedacted bool
		Matched     []string
	}

	rule struct {
		Name        string
		Pattern     *regexp.Regexp
		Replacement string
	}

	// Engine scrubs sensitive substrings before anything is signed or
	// broadcast. Rules run in order over the same text and accumulate;
	// replacement tokens match no rule, so redaction is idempotent.
	Engine struct {
		rules []rule
	}
)

// Connection strings go first on purpose: the email rule would otherwise
// eat the `pass@host` part and leave the username behind.
func defaultRules() []rule {
	return []rule{
		{
			Name:        "connection_string",
			Pattern:     regexp.MustCompile(`[a-zA-Z][a-zA-Z0-9+.-]*://[^\s:@/]+:[^\s@/]+@\S+`),
			Replacement: "[REDACTED_CONNECTION_STRING]",
		},
		{
			Name:        "credential_assignment",
			Pattern:     regexp.MustCompile(`(?i)(password|passwd|pwd|secret|api[_-]?key|access[_-]?token|auth[_-]?token)\s*[=:]\s*[^\s,;]+`),
			Replacement: "[REDACTED_CREDENTIAL]",
		},
		{
			Name:        "aws_access_key",
			Pattern:     regexp.MustCompile(`\bAKIA[0-9A-Z]{16}\b`),
			Replacement: "[REDACTED_AWS_KEY]",
		},
		{
			Name:        "github_token",
			Pattern:     regexp.MustCompile(`\bgh[pousr]_[A-Za-z0-9]{20,}\b`),
			Replacement: "[REDACTED_GITHUB_TOKEN]",
		},
		{
			Name:        "bearer_token",
			Pattern:     regexp.MustCompile(`(?i)\bbearer\s+[A-Za-z0-9._~+/-]{8,}=*`),
			Replacement: "[REDACTED_BEARER_TOKEN]",
		},
		{
			Name:        "email",
			Pattern:     regexp.MustCompile(`\b[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}\b`),
			Replacement: "[REDACTED_EMAIL]",
		},
		{
			Name:        "ipv4_address",
			Pattern:     regexp.MustCompile(`\b(?:\d{1,3}\.){3}\d{1,3}\b`),
			Replacement: "[REDACTED_IP]",
		},
		{
			Name:        "user_path",
			Pattern:     regexp.MustCompile(`(?:/home/|/Users/|C:\\Users\\)[A-Za-z0-9._-]+`),
			Replacement: "[REDACTED_USER_PATH]",
		},
		{
			Name:        "gov_id",
			Pattern:     regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b`),
			Replacement: "[REDACTED_GOV_ID]",
		},
		{
			Name:        "phone_number",
			Pattern:     regexp.MustCompile(`(?:\+\d{7,15}|\(?\d{3}\)?[-. ]\d{3}[-. ]\d{4})\b`),
			Replacement: "[REDACTED_PHONE]",
		},
	}
}

func NewEngine() *Engine {
	return &Engine{rules: defaultRules()}
}

func (e *Engine) Redact(text string) Result {
	res := Result{Redacted: text}
	for i := range e.rules {
		r := &e.rules[i]
		if !r.Pattern.MatchString(res.Redacted) {
			continue
		}
		res.Redacted = r.Pattern.ReplaceAllString(res.Redacted, r.Replacement)
		res.WasRedacted = true
		res.Matched = append(res.Matched, r.Name)
	}

	return res
}
