package signals

import (
	"regexp"
	"strings"

	"repo-sentinel/internal/model"
)

// PatternScanner flags suspicious textual patterns in commit diffs. It
// is a local pre-filter ahead of the threat oracle, not a verdict: a
// match raises the commit's visibility, the oracle decides what it means.
type PatternScanner struct {
	patterns []detectionPattern
}

type detectionPattern struct {
	Name        string
	Description string
	Regex       *regexp.Regexp
	Severity    model.Severity
}

// Match is one detected suspicious pattern.
type Match struct {
	Name        string
	Description string
	Severity    model.Severity
}

// NewPatternScanner creates a scanner with the default pattern set.
func NewPatternScanner() *PatternScanner {
	return &PatternScanner{patterns: defaultPatterns()}
}

// Scan returns each pattern matched anywhere in text, at most once per
// pattern.
func (s *PatternScanner) Scan(text string) []Match {
	var matches []Match
	for _, p := range s.patterns {
		if p.Regex.MatchString(text) {
			matches = append(matches, Match{
				Name:        p.Name,
				Description: p.Description,
				Severity:    p.Severity,
			})
		}
	}
	return matches
}

// Names returns just the pattern names of matches, for attachment to a
// commit record.
func Names(matches []Match) []string {
	if len(matches) == 0 {
		return nil
	}
	names := make([]string, len(matches))
	for i, m := range matches {
		names[i] = m.Name
	}
	return names
}

func defaultPatterns() []detectionPattern {
	return []detectionPattern{
		{
			Name:        "remote_code_fetch",
			Description: "Downloading and executing remote code",
			Regex:       regexp.MustCompile(`(?i)(curl|wget)[^\n|]*\|\s*(ba|z|da)?sh|fetch\([^)]*\)\.then[^\n]*eval`),
			Severity:    model.SeverityCritical,
		},
		{
			Name:        "obfuscated_eval",
			Description: "Evaluating decoded or obfuscated payloads",
			Regex:       regexp.MustCompile(`(?i)eval\s*\(\s*(atob|base64|Buffer\.from|b64decode|fromCharCode)|exec\s*\(\s*(base64|b64decode|codecs\.decode)`),
			Severity:    model.SeverityCritical,
		},
		{
			Name:        "install_hook",
			Description: "Lifecycle script added to a package manifest",
			Regex:       regexp.MustCompile(`"(preinstall|postinstall|preuninstall)"\s*:`),
			Severity:    model.SeverityHigh,
		},
		{
			Name:        "env_exfiltration",
			Description: "Environment variables read alongside an outbound request",
			Regex:       regexp.MustCompile(`(?i)(process\.env|os\.environ)[^\n]*(https?://|fetch\(|requests\.|urlopen|XMLHttpRequest)|(?:https?://|fetch\(|requests\.|urlopen|XMLHttpRequest)[^\n]*(?:process\.env|os\.environ)`),
			Severity:    model.SeverityCritical,
		},
		{
			Name:        "credential_paths",
			Description: "Reading credential or key material paths",
			Regex:       regexp.MustCompile(`\.ssh/id_|\.aws/credentials|\.npmrc|/etc/(passwd|shadow)|\.docker/config\.json`),
			Severity:    model.SeverityHigh,
		},
		{
			Name:        "reverse_shell",
			Description: "Reverse shell command",
			Regex:       regexp.MustCompile(`(?i)(nc|ncat|netcat|socat)\s+[^\n]*-[elp]|/dev/tcp/|bash\s+-i\s+>&`),
			Severity:    model.SeverityCritical,
		},
		{
			Name:        "crypto_miner",
			Description: "Cryptocurrency mining indicators",
			Regex:       regexp.MustCompile(`(?i)(stratum\+tcp|xmrig|minerd|cryptonight|hashrate)`),
			Severity:    model.SeverityMedium,
		},
		{
			Name:        "hardcoded_ip_callback",
			Description: "Direct connection to a hardcoded IP address",
			Regex:       regexp.MustCompile(`(https?|ftp)://\d{1,3}\.\d{1,3}\.\d{1,3}\.\d{1,3}`),
			Severity:    model.SeverityMedium,
		},
		{
			Name:        "metadata_service",
			Description: "Cloud metadata service access",
			Regex:       regexp.MustCompile(`169\.254\.169\.254|metadata\.google|metadata\.aws`),
			Severity:    model.SeverityHigh,
		},
		{
			Name:        "hex_packed_string",
			Description: "Long hex- or unicode-escaped string literal",
			Regex:       regexp.MustCompile(`(\\x[0-9a-fA-F]{2}){16,}|(\\u[0-9a-fA-F]{4}){12,}`),
			Severity:    model.SeverityMedium,
		},
	}
}

// HighestSeverity returns the most severe level across matches, or false
// when matches is empty.
func HighestSeverity(matches []Match) (model.Severity, bool) {
	if len(matches) == 0 {
		return "", false
	}
	rank := map[model.Severity]int{
		model.SeverityLow:      0,
		model.SeverityMedium:   1,
		model.SeverityHigh:     2,
		model.SeverityCritical: 3,
	}
	best := matches[0].Severity
	for _, m := range matches[1:] {
		if rank[m.Severity] > rank[best] {
			best = m.Severity
		}
	}
	return best, true
}

// describe joins match descriptions for log lines.
func describe(matches []Match) string {
	parts := make([]string, len(matches))
	for i, m := range matches {
		parts[i] = m.Name
	}
	return strings.Join(parts, ", ")
}
