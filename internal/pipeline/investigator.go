package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"unicode"

	"github.com/argus-dev/argus/internal/domain"
	"github.com/argus-dev/argus/internal/llmguard"
	"github.com/argus-dev/argus/internal/ports"
)

const (
	investigatorMaxFiles    = 10
	investigatorMaxSearches = 5
	investigatorTruncate    = 5000
)

// Investigator fetches affected files and code-search hits, then
// synthesizes structured suggestions via a single canary-guarded LLM call
// (spec §4.3).
type Investigator struct {
	llm   ports.LLM
	forge ports.Forge
}

// NewInvestigator builds an investigator over the given LLM and forge ports.
func NewInvestigator(llm ports.LLM, forge ports.Forge) *Investigator {
	return &Investigator{llm: llm, forge: forge}
}

var capitalizedIdentifier = regexp.MustCompile(`\b[A-Z][A-Za-z0-9_]{2,}\b`)

// Investigate gathers context for an approved evaluation and produces a
// structured set of suggested changes. With no LLM configured it falls back
// to a heuristic: every affected file is suggested as a "modify" at low
// confidence (spec §4.3).
func (inv *Investigator) Investigate(ctx context.Context, owner, repo, branch string, eval domain.IssueEvaluation) domain.Investigation {
	files := eval.AffectedFiles
	if len(files) > investigatorMaxFiles {
		files = files[:investigatorMaxFiles]
	}

	contents := make(map[string]string, len(files))
	for _, path := range files {
		content, err := inv.forge.GetFileContent(ctx, owner, repo, branch, path)
		if err != nil {
			continue
		}
		contents[path] = truncate(content, investigatorTruncate)
	}

	if inv.llm == nil {
		return heuristicInvestigation(files)
	}

	queries := searchQueries(eval)
	var searchResults []string
	for i, q := range queries {
		if i >= investigatorMaxSearches {
			break
		}
		hits, err := inv.forge.SearchCode(ctx, owner, repo, q)
		if err != nil {
			continue
		}
		searchResults = append(searchResults, fmt.Sprintf("query %q -> %v", q, hits))
	}

	framing, err := llmguard.NewFraming()
	if err != nil {
		return heuristicInvestigation(files)
	}

	prompt := investigationPrompt(framing, eval, contents, searchResults)
	resp, err := inv.llm.Send(ctx, []ports.LLMMessage{
		{Role: "system", Content: investigatorSystemPrompt(framing)},
		{Role: "user", Content: prompt},
	})
	if err != nil {
		return heuristicInvestigation(files)
	}

	return parseInvestigation(resp, framing, files)
}

func heuristicInvestigation(files []string) domain.Investigation {
	changes := make([]domain.SuggestedChange, 0, len(files))
	for _, f := range files {
		changes = append(changes, domain.SuggestedChange{Path: f, Action: "modify", Reason: "named in the evaluation as affected"})
	}
	return domain.Investigation{
		SuggestedChanges: changes,
		Confidence:       0.3,
		Notes:            "heuristic fallback: no LLM configured",
	}
}

// searchQueries derives up to investigatorMaxSearches search terms from
// capitalized identifiers in the proposed approach and salient keywords in
// the reasoning (spec §4.3).
func searchQueries(eval domain.IssueEvaluation) []string {
	seen := map[string]bool{}
	var queries []string

	for _, m := range capitalizedIdentifier.FindAllString(eval.ProposedApproach, -1) {
		if !seen[m] {
			seen[m] = true
			queries = append(queries, m)
		}
	}

	for _, word := range strings.Fields(eval.Reasoning) {
		clean := strings.TrimFunc(word, func(r rune) bool { return !unicode.IsLetter(r) && !unicode.IsDigit(r) })
		if len(clean) > 5 && !seen[clean] {
			seen[clean] = true
			queries = append(queries, clean)
		}
		if len(queries) >= investigatorMaxSearches {
			break
		}
	}

	return queries
}

func investigatorSystemPrompt(f llmguard.Framing) string {
	return "You are Argus's investigator. Given an issue evaluation, affected file contents, and code search " +
		"hits, produce a single JSON object: {\"canary\": string, \"suggested_changes\": " +
		"[{\"path\": string, \"action\": \"modify|create|delete\", \"reason\": string}], \"dependencies\": " +
		"[string], \"confidence\": number 0-1, \"notes\": string}. " + f.Instruction()
}

func investigationPrompt(f llmguard.Framing, eval domain.IssueEvaluation, contents map[string]string, searchResults []string) string {
	var sb strings.Builder
	sb.WriteString("Evaluation:\n")
	sb.WriteString(f.Wrap(fmt.Sprintf("approach: %s\nreasoning: %s\naffected_files: %v",
		eval.ProposedApproach, eval.Reasoning, eval.AffectedFiles)))
	sb.WriteString("\n\nFile contents:\n")
	for path, content := range contents {
		sb.WriteString(path)
		sb.WriteString(":\n")
		sb.WriteString(content)
		sb.WriteString("\n")
	}
	sb.WriteString("\nCode search results:\n")
	for _, r := range searchResults {
		sb.WriteString(r)
		sb.WriteString("\n")
	}
	return sb.String()
}

type investigationResponse struct {
	Canary           string   `json:"canary"`
	SuggestedChanges []struct {
		Path   string `json:"path"`
		Action string `json:"action"`
		Reason string `json:"reason"`
	} `json:"suggested_changes"`
	Dependencies []string `json:"dependencies"`
	Confidence   float64  `json:"confidence"`
	Notes        string   `json:"notes"`
}

func parseInvestigation(resp string, framing llmguard.Framing, fallbackFiles []string) domain.Investigation {
	raw := llmguard.ExtractFirstJSON(resp)
	if raw == "" {
		return heuristicInvestigation(fallbackFiles)
	}

	var v investigationResponse
	if err := json.Unmarshal([]byte(raw), &v); err != nil || v.Canary != framing.Canary {
		return heuristicInvestigation(fallbackFiles)
	}

	changes := make([]domain.SuggestedChange, 0, len(v.SuggestedChanges))
	for _, c := range v.SuggestedChanges {
		changes = append(changes, domain.SuggestedChange{Path: c.Path, Action: c.Action, Reason: c.Reason})
	}

	return domain.Investigation{
		SuggestedChanges: changes,
		Dependencies:     v.Dependencies,
		Confidence:       clamp01(v.Confidence),
		Notes:            v.Notes,
	}
}
