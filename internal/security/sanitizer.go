// Package security implements the adversary-aware LLM boundary: the input
// sanitizer, the threat classifier, the trust resolver and the output
// validator (spec §4.5-§4.8).
package security

import (
	"regexp"
	"strings"
)

const maxSanitizedLength = 4000
const minBase64Run = 100

// SanitizeResult is the sanitizer's output (spec §4.6). Sanitized text is
// always derived fresh; the caller's original string is never mutated.
type SanitizeResult struct {
	Sanitized       string
	StrippedPatterns []string
	Truncated       bool
	OriginalLength  int
}

type patternRule struct {
	name    string
	pattern *regexp.Regexp
}

// injectionCatalog is the ordered list of known-bad fragments the sanitizer
// redacts, grouped per spec §4.6 step 3.
var injectionCatalog = []patternRule{
	// Direct instruction overrides
	{"instruction_override", regexp.MustCompile(`(?i)ignore\s+(all\s+)?previous\s+instructions`)},
	{"instruction_override", regexp.MustCompile(`(?i)disregard\s+(all\s+)?previous\s+instructions`)},
	{"instruction_override", regexp.MustCompile(`(?i)forget\s+(your\s+|all\s+)?instructions`)},
	{"instruction_override", regexp.MustCompile(`(?i)override\s+system\s+prompt`)},
	{"instruction_override", regexp.MustCompile(`(?i)new\s+instructions\s*:`)},

	// Role switches
	{"role_switch", regexp.MustCompile(`(?i)you\s+are\s+now\s+a\b`)},
	{"role_switch", regexp.MustCompile(`(?i)act\s+as\s+(a|an)\b`)},
	{"role_switch", regexp.MustCompile(`(?i)pretend\s+to\s+be\b`)},

	// Jailbreak markers
	{"jailbreak", regexp.MustCompile(`\bDAN\b`)},
	{"jailbreak", regexp.MustCompile(`(?i)developer\s+mode`)},
	{"jailbreak", regexp.MustCompile(`(?i)do\s+anything\s+now`)},
	{"jailbreak", regexp.MustCompile(`(?i)jailbreak`)},

	// Delimiter/token injections
	{"token_injection", regexp.MustCompile(`<\|im_start\|>`)},
	{"token_injection", regexp.MustCompile(`<\|im_end\|>`)},
	{"token_injection", regexp.MustCompile(`<\|endoftext\|>`)},
	{"token_injection", regexp.MustCompile(`\[INST\]`)},
	{"token_injection", regexp.MustCompile(`<<SYS>>`)},
	{"token_injection", regexp.MustCompile(`(?im)^\s*(system|assistant|user)\s*:`)},

	// Exfiltration
	{"exfiltration", regexp.MustCompile(`(?i)reveal\s+your\s+system\s+prompt`)},
	{"exfiltration", regexp.MustCompile(`(?i)what\s+are\s+your\s+instructions`)},

	// Privilege escalation
	{"privilege_escalation", regexp.MustCompile(`(?i)merge\s+this\s+pr`)},
	{"privilege_escalation", regexp.MustCompile(`(?i)delete\s+the\s+repo`)},
	{"privilege_escalation", regexp.MustCompile(`(?i)grant\s+me\s+access`)},

	// Social engineering
	{"social_engineering", regexp.MustCompile(`(?i)\bemergency\b`)},
	{"social_engineering", regexp.MustCompile(`(?i)\burgent\s*:`)},
	{"social_engineering", regexp.MustCompile(`(?i)i\s+am\s+the\s+owner`)},
	{"social_engineering", regexp.MustCompile(`(?i)trust\s+me\b`)},
	{"social_engineering", regexp.MustCompile(`(?i)i\s+authorized\s+this`)},
}

var (
	htmlCommentPattern = regexp.MustCompile(`(?s)<!--.*?-->`)
	base64Pattern      = regexp.MustCompile(`[A-Za-z0-9+/]{100,}={0,2}`)

	// invisibleChars covers zero-width, bidi control, BOM, replacement,
	// soft hyphen and line/paragraph separators.
	invisibleChars = []rune{
		'\u200B', '\u200C', '\u200D', '\u200E', '\u200F', // zero-width, bidi marks
		'\u202A', '\u202B', '\u202C', '\u202D', '\u202E', // bidi embedding/override
		'\uFEFF', // BOM
		'\uFFFD', // replacement character
		'\u00AD', // soft hyphen
		'\u2028', // line separator
		'\u2029', // paragraph separator
	}
)

// Sanitize strips injection attempts from untrusted text before it is ever
// framed into an LLM prompt (spec §4.6). The steps run in the documented
// order: HTML comments, invisible characters, known-bad fragments, base64
// recording, then truncation.
func Sanitize(input string) SanitizeResult {
	originalLength := len(input)

	text := htmlCommentPattern.ReplaceAllString(input, "[HTML_COMMENT_REMOVED]")
	text = stripInvisible(text)

	var stripped []string
	for _, rule := range injectionCatalog {
		if rule.pattern.MatchString(text) {
			stripped = append(stripped, rule.name)
			text = rule.pattern.ReplaceAllString(text, "[REDACTED:"+rule.name+"]")
		}
	}

	for _, m := range base64Pattern.FindAllString(text, -1) {
		if len(m) >= minBase64Run {
			stripped = append(stripped, "base64_run")
		}
	}

	truncated := false
	if len(text) > maxSanitizedLength {
		const marker = "...[TRUNCATED]"
		text = text[:maxSanitizedLength-len(marker)] + marker
		truncated = true
	}

	return SanitizeResult{
		Sanitized:        text,
		StrippedPatterns: stripped,
		Truncated:        truncated,
		OriginalLength:   originalLength,
	}
}

func stripInvisible(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		skip := false
		for _, inv := range invisibleChars {
			if r == inv {
				skip = true
				break
			}
		}
		if !skip {
			b.WriteRune(r)
		}
	}
	return b.String()
}
