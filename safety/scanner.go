// SPDX-License-Identifier: ice License 1.0

package safety

import (
	"regexp"
	"strings"
)

type (
	Severity   string
	TrustLevel string

	Flag struct {
		Severity    Severity
		PatternName string
		Field       string
		Matched     string
	}

	ScanResult struct {
		Safe       bool
		TrustLevel TrustLevel
		Score      int
		Flags      []Flag
	}

	rule struct {
		Name     string
		Severity Severity
		Pattern  *regexp.Regexp
	}

	// Scanner pattern-scores document content before publish. Pattern matching
	// over free text has inherent false positives; the score buckets below are
	// the contract, not a claim of optimal detection.
	Scanner struct {
		rules []rule
	}
)

const (
	SeverityCritical Severity = "critical"
	SeverityWarning  Severity = "warning"
	SeverityInfo     Severity = "info"

	TrustLevelVerified  TrustLevel = "verified"
	TrustLevelCommunity TrustLevel = "community"
	TrustLevelFlagged   TrustLevel = "flagged"
	TrustLevelBlocked   TrustLevel = "blocked"
)

const (
	criticalPenalty = 30
	warningPenalty  = 10
	flagPenalty     = 2
	flaggedScoreCap = 80
)

func defaultRules() []rule {
	return []rule{
		{"code_execution", SeverityCritical, regexp.MustCompile(`(?i)\b(?:eval|exec|execSync|spawnSync|system|popen)\s*\(`)},
		{"process_spawn", SeverityCritical, regexp.MustCompile(`(?i)\b(?:child_process|subprocess|os\.system|Runtime\.getRuntime)\b`)},
		{"pipe_to_shell", SeverityCritical, regexp.MustCompile(`(?i)\b(?:curl|wget)\b[^|\n]*\|\s*(?:ba|z|fi)?sh\b`)},
		{"destructive_shell", SeverityCritical, regexp.MustCompile(`(?i)\brm\s+-[rf]{2}\s+[/~]`)},
		{"credential_harvesting", SeverityCritical, regexp.MustCompile(`(?i)(?:send|enter|paste|share)\s+(?:me\s+)?(?:your|the)\s+(?:private\s*key|seed\s*phrase|password|nsec)`)},
		{"sensitive_path", SeverityWarning, regexp.MustCompile(`(?i)(?:~/\.ssh|/etc/passwd|/etc/shadow|id_rsa|\.aws/credentials)`)},
		{"command_substitution", SeverityWarning, regexp.MustCompile("\\$\\([^)]+\\)|`[^`]+`")},
		{"raw_ip_url", SeverityWarning, regexp.MustCompile(`https?://(?:\d{1,3}\.){3}\d{1,3}`)},
		{"base64_blob", SeverityWarning, regexp.MustCompile(`[A-Za-z0-9+/]{64,}={0,2}`)},
		{"obfuscation_hint", SeverityInfo, regexp.MustCompile(`(?i)\b(?:atob|btoa|fromCharCode|unescape)\s*\(`)},
		{"dynamic_import", SeverityInfo, regexp.MustCompile(`(?i)\bimport\s*\(\s*['"]https?:`)},
	}
}

func NewScanner() *Scanner {
	return &Scanner{rules: defaultRules()}
}

// Scan checks the four content fields independently. A single critical match
// dominates the outcome, while many small warnings still erode the score.
func (s *Scanner) Scan(name, description, body string, tags []string) ScanResult {
	fields := []struct {
		field string
		text  string
	}{
		{"name", name},
		{"description", description},
		{"body", body},
		{"tags", strings.Join(tags, " ")},
	}

	res := ScanResult{Safe: true, Score: 100, TrustLevel: TrustLevelCommunity}
	var criticals, warnings int
	for _, f := range fields {
		if f.text == "" {
			continue
		}
		for i := range s.rules {
			r := &s.rules[i]
			match := r.Pattern.FindString(f.text)
			if match == "" {
				continue
			}
			res.Flags = append(res.Flags, Flag{
				Severity:    r.Severity,
				PatternName: r.Name,
				Field:       f.field,
				Matched:     truncate(match, 64),
			})
			switch r.Severity {
			case SeverityCritical:
				criticals++
			case SeverityWarning:
				warnings++
			}
		}
	}

	res.Score = max(0, 100-criticalPenalty*criticals-warningPenalty*warnings-flagPenalty*len(res.Flags))
	switch {
	case criticals > 0:
		res.Safe = false
		res.TrustLevel = TrustLevelBlocked
	case res.Score < flaggedScoreCap:
		res.TrustLevel = TrustLevelFlagged
	default:
		res.TrustLevel = TrustLevelCommunity
	}

	return res
}

func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}

	return s[:limit]
}
