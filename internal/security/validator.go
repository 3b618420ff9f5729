package security

import (
	"fmt"
	"path"
	"regexp"
	"strings"
)

// ValidationSeverity distinguishes a hard failure from an advisory warning.
type ValidationSeverity string

// Severities a validation issue can carry.
const (
	SeverityError   ValidationSeverity = "error"
	SeverityWarning ValidationSeverity = "warning"
)

// ValidationIssue is one problem found in a proposed file.
type ValidationIssue struct {
	Path     string
	Severity ValidationSeverity
	Message  string
}

// ValidationResult is the output validator's verdict over a set of files
// (spec §4.5). Valid is true iff no issue carries error severity.
type ValidationResult struct {
	Valid  bool
	Issues []ValidationIssue
}

// ProposedFile is one file an LLM coding iteration wants to write.
type ProposedFile struct {
	Path    string
	Content string
}

const (
	maxTotalBytes = 50000
	maxFileCount  = 30
)

var forbiddenPathPatterns = []*regexp.Regexp{
	regexp.MustCompile(`^\.github/workflows/`),
	regexp.MustCompile(`^\.gitlab-ci\.yml$`),
	regexp.MustCompile(`^\.gitlab/ci/`),
	regexp.MustCompile(`(^|/)Jenkinsfile$`),
	regexp.MustCompile(`^\.circleci/`),
	regexp.MustCompile(`^\.travis\.yml$`),
	regexp.MustCompile(`^azure-pipelines\.yml$`),
	regexp.MustCompile(`(^|/)Dockerfile$`),
	regexp.MustCompile(`(^|/)docker-compose\.ya?ml$`),
	regexp.MustCompile(`(^|/)\.env`),
	regexp.MustCompile(`(^|/)\.npmrc$`),
	regexp.MustCompile(`(^|/)\.yarnrc`),
	regexp.MustCompile(`(^|/)\.pypirc$`),
	regexp.MustCompile(`^\.ssh/`),
	regexp.MustCompile(`^\.gnupg/`),
	regexp.MustCompile(`(^|/)package-lock\.json$`),
	regexp.MustCompile(`(^|/)yarn\.lock$`),
	regexp.MustCompile(`(^|/)Gemfile\.lock$`),
}

var secretPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)(api_key|api[_-]?token|password)\s*[:=]\s*["'][^"'\s]{6,}["']`),
	regexp.MustCompile(`\bghp_[A-Za-z0-9]{20,}\b`),
	regexp.MustCompile(`\bgho_[A-Za-z0-9]{20,}\b`),
	regexp.MustCompile(`\bghu_[A-Za-z0-9]{20,}\b`),
	regexp.MustCompile(`\bghs_[A-Za-z0-9]{20,}\b`),
	regexp.MustCompile(`\bghr_[A-Za-z0-9]{20,}\b`),
	regexp.MustCompile(`\bglpat-[A-Za-z0-9_-]{10,}\b`),
	regexp.MustCompile(`\bsk-[A-Za-z0-9]{20,}\b`),
	regexp.MustCompile(`\bAKIA[0-9A-Z]{16}\b`),
	regexp.MustCompile(`\bASIA[0-9A-Z]{16}\b`),
	regexp.MustCompile(`-----BEGIN [A-Z ]*PRIVATE KEY-----`),
	regexp.MustCompile(`\bxox[bpas]-[A-Za-z0-9-]{10,}\b`),
}

var dangerousPatterns = []*regexp.Regexp{
	regexp.MustCompile(`\beval\s*\(`),
	regexp.MustCompile(`\bexec\s*\(`),
	regexp.MustCompile(`\bspawn\s*\(`),
	regexp.MustCompile(`\bsubprocess\.`),
	regexp.MustCompile(`\bos\.system\s*\(`),
	regexp.MustCompile(`\bchild_process\b`),
}

// Validate runs every hard rule and advisory check over the proposed files
// (spec §4.5). It is the sole guard between the coder's LLM output and a
// write reaching the forge.
func Validate(files []ProposedFile) ValidationResult {
	var issues []ValidationIssue

	totalBytes := 0
	for _, f := range files {
		totalBytes += len(f.Content)

		if reason, ok := forbiddenPath(f.Path); ok {
			issues = append(issues, ValidationIssue{Path: f.Path, Severity: SeverityError, Message: reason})
		}

		for _, p := range secretPatterns {
			if p.MatchString(f.Content) {
				issues = append(issues, ValidationIssue{
					Path: f.Path, Severity: SeverityError,
					Message: "content appears to contain an embedded secret",
				})
				break
			}
		}

		for _, p := range dangerousPatterns {
			if p.MatchString(f.Content) {
				issues = append(issues, ValidationIssue{
					Path: f.Path, Severity: SeverityWarning,
					Message: fmt.Sprintf("content matches a dangerous pattern: %s", p.String()),
				})
			}
		}
	}

	if totalBytes > maxTotalBytes {
		issues = append(issues, ValidationIssue{
			Severity: SeverityWarning,
			Message:  fmt.Sprintf("total change size %d bytes exceeds threshold %d", totalBytes, maxTotalBytes),
		})
	}
	if len(files) > maxFileCount {
		issues = append(issues, ValidationIssue{
			Severity: SeverityWarning,
			Message:  fmt.Sprintf("file count %d exceeds threshold %d", len(files), maxFileCount),
		})
	}

	valid := true
	for _, iss := range issues {
		if iss.Severity == SeverityError {
			valid = false
			break
		}
	}

	return ValidationResult{Valid: valid, Issues: issues}
}

func forbiddenPath(p string) (string, bool) {
	clean := path.Clean(strings.TrimPrefix(p, "/"))
	for _, pattern := range forbiddenPathPatterns {
		if pattern.MatchString(clean) {
			return fmt.Sprintf("path %q matches a forbidden pattern", clean), true
		}
	}
	return "", false
}
