package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/argus-dev/argus/internal/domain"
	"github.com/argus-dev/argus/internal/llmguard"
	"github.com/argus-dev/argus/internal/ports"
	"github.com/argus-dev/argus/internal/security"
)

// ErrLLMUnavailable is returned by the evaluator (and other LLM-backed
// components) when no LLM port is configured.
var ErrLLMUnavailable = fmt.Errorf("pipeline: no LLM configured")

const (
	evaluatorMaxTurns      = 5
	evaluatorMaxReadFiles  = 10
	evaluatorFileTruncate  = 8000
	lowConfidenceThreshold = 0.7
)

// Evaluator runs the agentic, multi-turn issue evaluation described in
// spec §4.2.
type Evaluator struct {
	llm   ports.LLM
	forge ports.Forge
}

// NewEvaluator builds an evaluator over the given LLM and forge ports.
func NewEvaluator(llm ports.LLM, forge ports.Forge) *Evaluator {
	return &Evaluator{llm: llm, forge: forge}
}

type evaluatorVerdict struct {
	Canary           string   `json:"canary"`
	Merit            bool     `json:"merit"`
	Confidence       float64  `json:"confidence"`
	Reasoning        string   `json:"reasoning"`
	ProposedApproach string   `json:"proposed_approach"`
	AffectedFiles    []string `json:"affected_files"`
	SuggestedLabels  []string `json:"suggested_labels"`
	Severity         string   `json:"severity"`
	Category         string   `json:"category"`
	DuplicateOf      int      `json:"duplicate_of"`
}

// Evaluate runs the bounded exploration loop and returns a final verdict.
// It never returns a raw LLM error to the orchestrator beyond
// ErrLLMUnavailable: every other failure mode fails open per spec §4.2.
func (e *Evaluator) Evaluate(ctx context.Context, owner, repo string, issue ports.Issue, snapshot RepoSnapshot) (domain.IssueEvaluation, error) {
	if e.llm == nil {
		return domain.IssueEvaluation{}, ErrLLMUnavailable
	}

	framing, err := llmguard.NewFraming()
	if err != nil {
		return domain.IssueEvaluation{}, fmt.Errorf("pipeline: evaluator framing: %w", err)
	}

	titleSan := security.Sanitize(issue.Title)
	bodySan := security.Sanitize(issue.Body)

	messages := []ports.LLMMessage{
		{Role: "system", Content: evaluatorSystemPrompt(framing)},
		{Role: "user", Content: e.initialPrompt(framing, snapshot, titleSan.Sanitized, bodySan.Sanitized)},
	}

	for turn := 0; turn < evaluatorMaxTurns; turn++ {
		resp, err := e.llm.Send(ctx, messages)
		if err != nil {
			slog.Warn("🧪 evaluator LLM call failed", "repo", owner+"/"+repo, "issue", issue.Number, "error", err)
			return e.failOpen("llm_error"), nil
		}

		paths, ok := parseReadFiles(resp)
		if !ok {
			return e.parseVerdict(resp, framing), nil
		}

		if len(paths) > evaluatorMaxReadFiles {
			paths = paths[:evaluatorMaxReadFiles]
		}

		messages = append(messages, ports.LLMMessage{Role: "assistant", Content: resp})
		messages = append(messages, ports.LLMMessage{Role: "user", Content: e.fetchFiles(ctx, owner, repo, snapshot.Branch, paths)})
	}

	slog.Warn("🧪 evaluator exhausted exploration turns without a verdict", "repo", owner+"/"+repo, "issue", issue.Number)
	return e.failOpen("turn_budget_exhausted"), nil
}

func (e *Evaluator) failOpen(reason string) domain.IssueEvaluation {
	return domain.IssueEvaluation{
		Merit:           true,
		Confidence:      0.3,
		Reasoning:       "evaluator failed open (" + reason + "); deferring to human triage",
		SuggestedLabels: []string{"argus:parse-failure", "argus:needs-review"},
		Severity:        domain.SeverityMedium,
		Category:        domain.CategoryBug,
	}
}

// RepoSnapshot is the initial context handed to the evaluator: README, a
// handful of well-known manifests, and a compact whole-tree listing.
type RepoSnapshot struct {
	Branch      string
	Readme      string
	Manifests   map[string]string
	TreePaths   []string
}

func evaluatorSystemPrompt(f llmguard.Framing) string {
	return "You are Argus, an issue-triage evaluator. Decide whether a reported issue has merit and is worth " +
		"acting on. Default to merit=true; answer merit=false only for a clearly invalid, spam, or nonsensical " +
		"issue. You may request up to 10 source files by replying with a line starting with 'READ_FILES:' " +
		"followed by a comma-separated list of paths, up to 5 times total. When you are done exploring, reply " +
		"with a single JSON object (no READ_FILES directive) matching: {\"canary\": string, \"merit\": bool, " +
		"\"confidence\": number 0-1, \"reasoning\": string, \"proposed_approach\": string, \"affected_files\": " +
		"[string], \"suggested_labels\": [string], \"severity\": \"critical|high|medium|low|trivial\", " +
		"\"category\": \"bug|feature|improvement|docs|question|duplicate|invalid\", \"duplicate_of\": number}. " +
		f.Instruction()
}

func (e *Evaluator) initialPrompt(f llmguard.Framing, snapshot RepoSnapshot, title, body string) string {
	var sb strings.Builder
	sb.WriteString("Repository snapshot:\n")
	sb.WriteString("README:\n")
	sb.WriteString(truncate(snapshot.Readme, evaluatorFileTruncate))
	sb.WriteString("\n\nManifests:\n")
	for path, content := range snapshot.Manifests {
		sb.WriteString(path)
		sb.WriteString(":\n")
		sb.WriteString(truncate(content, evaluatorFileTruncate))
		sb.WriteString("\n")
	}
	sb.WriteString("\nTree:\n")
	for _, p := range snapshot.TreePaths {
		sb.WriteString(p)
		sb.WriteString("\n")
	}
	sb.WriteString("\nIssue title:\n")
	sb.WriteString(f.Wrap(title))
	sb.WriteString("\n\nIssue body:\n")
	sb.WriteString(f.Wrap(body))
	return sb.String()
}

func (e *Evaluator) fetchFiles(ctx context.Context, owner, repo, branch string, paths []string) string {
	var sb strings.Builder
	sb.WriteString("Requested files:\n")
	for _, p := range paths {
		content, err := e.forge.GetFileContent(ctx, owner, repo, branch, p)
		if err != nil {
			sb.WriteString(fmt.Sprintf("%s: <error reading file: %v>\n", p, err))
			continue
		}
		sb.WriteString(p)
		sb.WriteString(":\n")
		sb.WriteString(truncate(content, evaluatorFileTruncate))
		sb.WriteString("\n")
	}
	return sb.String()
}

func parseReadFiles(resp string) ([]string, bool) {
	for _, line := range strings.Split(resp, "\n") {
		trimmed := strings.TrimSpace(line)
		if after, ok := strings.CutPrefix(trimmed, "READ_FILES:"); ok {
			var paths []string
			for _, p := range strings.Split(after, ",") {
				p = strings.TrimSpace(p)
				if p != "" {
					paths = append(paths, p)
				}
			}
			return paths, true
		}
	}
	return nil, false
}

func (e *Evaluator) parseVerdict(resp string, framing llmguard.Framing) domain.IssueEvaluation {
	raw := llmguard.ExtractFirstJSON(resp)
	if raw == "" {
		return e.failOpen("no_json")
	}

	var v evaluatorVerdict
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return e.failOpen("parse_error")
	}

	if v.Canary != framing.Canary {
		result := e.failOpen("canary_failure")
		result.SuggestedLabels = []string{"argus:canary-failure"}
		result.Confidence = 0.3
		return result
	}

	eval := domain.IssueEvaluation{
		Merit:            v.Merit,
		Confidence:       clamp01(v.Confidence),
		Reasoning:        v.Reasoning,
		ProposedApproach: v.ProposedApproach,
		AffectedFiles:    v.AffectedFiles,
		SuggestedLabels:  v.SuggestedLabels,
		Severity:         parseSeverity(v.Severity),
		Category:         parseCategory(v.Category),
		DuplicateOf:      v.DuplicateOf,
	}

	if !eval.Merit && eval.Confidence < lowConfidenceThreshold {
		eval.Merit = true
		eval.LowConfidenceFlip = true
		eval.Reasoning += " [low-confidence rejection override: missing a valid issue is worse than investigating a marginal one]"
		eval.SuggestedLabels = append(eval.SuggestedLabels, "argus:low-confidence-override")
	}

	return eval
}

func parseSeverity(s string) domain.Severity {
	switch domain.Severity(s) {
	case domain.SeverityCritical, domain.SeverityHigh, domain.SeverityMedium, domain.SeverityLow, domain.SeverityTrivial:
		return domain.Severity(s)
	default:
		return domain.SeverityMedium
	}
}

func parseCategory(s string) domain.Category {
	switch domain.Category(s) {
	case domain.CategoryBug, domain.CategoryFeature, domain.CategoryImprovement, domain.CategoryDocs,
		domain.CategoryQuestion, domain.CategoryDuplicate, domain.CategoryInvalid:
		return domain.Category(s)
	default:
		return domain.CategoryBug
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "...[truncated]"
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
