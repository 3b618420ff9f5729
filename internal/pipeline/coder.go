package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/argus-dev/argus/internal/audit"
	"github.com/argus-dev/argus/internal/domain"
	"github.com/argus-dev/argus/internal/llmguard"
	"github.com/argus-dev/argus/internal/ports"
	"github.com/argus-dev/argus/internal/security"
)

const (
	ciPollInterval   = 30 * time.Second
	ciWaitDeadline   = 10 * time.Minute
	ciNoChecksGrace  = 2 * time.Minute
	maxFailingChecks = 3
)

// Coder runs the iterative, CI-driven coding loop (spec §4.4).
type Coder struct {
	llm   ports.LLM
	forge ports.Forge
	log   *audit.Log
	clock func() time.Time
	sleep func(time.Duration)
}

// NewCoder builds a coder over the given LLM, forge and audit log.
func NewCoder(llm ports.LLM, forge ports.Forge, log *audit.Log) *Coder {
	return &Coder{llm: llm, forge: forge, log: log, clock: time.Now, sleep: time.Sleep}
}

type coderResponse struct {
	Canary        string `json:"canary"`
	CommitMessage string `json:"commit_message"`
	Reasoning     string `json:"reasoning"`
	SelfReview    string `json:"self_review"`
	Files         []struct {
		Path    string `json:"path"`
		Content string `json:"content"`
	} `json:"files"`
}

// CodeIssue runs iterations until CI passes, the iteration cap is hit, or a
// fatal error occurs. It returns the full append-only iteration history.
func (c *Coder) CodeIssue(ctx context.Context, issue *domain.TrackedIssue, eval domain.IssueEvaluation, inv domain.Investigation, dryRun bool) error {
	if c.llm == nil {
		return ErrLLMUnavailable
	}

	var previousCILog string
	var previousFiles []string

	for iter := 0; iter < issue.MaxIter; iter++ {
		index := len(issue.CodingIterations)
		framing, err := llmguard.NewFraming()
		if err != nil {
			return fmt.Errorf("pipeline: coder framing: %w", err)
		}

		prompt := c.buildPrompt(framing, eval, inv, index, previousCILog, previousFiles)
		resp, err := c.llm.Send(ctx, []ports.LLMMessage{
			{Role: "system", Content: coderSystemPrompt(framing)},
			{Role: "user", Content: prompt},
		})
		if err != nil {
			return fmt.Errorf("pipeline: coder llm call failed: %w", err)
		}

		parsed, ok := parseCoderResponse(resp, framing)
		if !ok {
			issue.CodingIterations = append(issue.CodingIterations, domain.CodingIteration{
				Index: index, Blocked: true, BlockReason: "canary or JSON parse failure",
				CIResult: domain.CIFailing, CILog: "coder response failed canary/JSON validation",
			})
			c.auditBlocked(ctx, issue, "canary_or_parse_failure")
			previousCILog = "coder response failed canary/JSON validation; retry with a valid JSON object"
			continue
		}

		files := make([]security.ProposedFile, 0, len(parsed.Files))
		paths := make([]string, 0, len(parsed.Files))
		for _, f := range parsed.Files {
			files = append(files, security.ProposedFile{Path: f.Path, Content: f.Content})
			paths = append(paths, f.Path)
		}

		validation := security.Validate(files)
		if !validation.Valid {
			reasons := validationReasons(validation)
			issue.CodingIterations = append(issue.CodingIterations, domain.CodingIteration{
				Index: index, FilesChanged: paths, CommitMessage: parsed.CommitMessage,
				Reasoning: parsed.Reasoning, SelfReview: parsed.SelfReview,
				Blocked: true, BlockReason: reasons, CIResult: domain.CIFailing, CILog: reasons,
			})
			c.auditBlocked(ctx, issue, reasons)
			previousCILog = "output validator rejected the proposed change: " + reasons
			previousFiles = paths
			continue
		}

		if dryRun {
			issue.CodingIterations = append(issue.CodingIterations, domain.CodingIteration{
				Index: index, FilesChanged: paths, CommitMessage: parsed.CommitMessage,
				Reasoning: parsed.Reasoning, SelfReview: parsed.SelfReview, CIResult: domain.CIPassing,
				CILog: "dry-run: write suppressed",
			})
			return nil
		}

		for _, f := range files {
			msg := parsed.CommitMessage + " (" + f.Path + ")"
			if err := c.forge.CreateOrUpdateFile(ctx, issue.Repo.Owner, issue.Repo.Name, issue.Branch, f.Path, f.Content, msg); err != nil {
				return fmt.Errorf("pipeline: push %s: %w", f.Path, err)
			}
		}
		c.auditPush(ctx, issue, paths)

		result, log := c.waitForCI(ctx, issue)
		issue.CodingIterations = append(issue.CodingIterations, domain.CodingIteration{
			Index: index, FilesChanged: paths, CommitMessage: parsed.CommitMessage,
			Reasoning: parsed.Reasoning, SelfReview: parsed.SelfReview, CIResult: result, CILog: log,
		})

		if result == domain.CIPassing {
			return nil
		}

		previousCILog = log
		previousFiles = paths
	}

	return fmt.Errorf("pipeline: exceeded coding iteration budget (%d)", issue.MaxIter)
}

func (c *Coder) buildPrompt(f llmguard.Framing, eval domain.IssueEvaluation, inv domain.Investigation, iteration int, previousCILog string, previousFiles []string) string {
	var sb strings.Builder
	sb.WriteString("Evaluation summary:\n")
	sb.WriteString(f.Wrap(fmt.Sprintf("approach: %s\nseverity: %s\ncategory: %s", eval.ProposedApproach, eval.Severity, eval.Category)))
	sb.WriteString("\n\nInvestigator suggestions:\n")
	for _, s := range inv.SuggestedChanges {
		sb.WriteString(fmt.Sprintf("- %s %s: %s\n", s.Action, s.Path, s.Reason))
	}
	if iteration > 0 {
		sb.WriteString("\nThe previous iteration's CI run failed. Fix what CI reported:\n")
		sb.WriteString(f.Wrap(previousCILog))
		sb.WriteString("\n\nFiles previously changed: ")
		sb.WriteString(strings.Join(previousFiles, ", "))
	}
	return sb.String()
}

func coderSystemPrompt(f llmguard.Framing) string {
	return "You are Argus's coder. Propose a code change as a single JSON object: {\"canary\": string, " +
		"\"files\": [{\"path\": string, \"content\": string}], \"commit_message\": string, \"reasoning\": " +
		"string, \"self_review\": string}. Never touch CI configuration, container descriptors, credential " +
		"files, or lockfiles; never embed secrets. " + f.Instruction()
}

func parseCoderResponse(resp string, framing llmguard.Framing) (coderResponse, bool) {
	raw := llmguard.ExtractFirstJSON(resp)
	if raw == "" {
		return coderResponse{}, false
	}
	var v coderResponse
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return coderResponse{}, false
	}
	if v.Canary != framing.Canary {
		return coderResponse{}, false
	}
	return v, true
}

func validationReasons(res security.ValidationResult) string {
	var parts []string
	for _, iss := range res.Issues {
		if iss.Severity == security.SeverityError {
			parts = append(parts, iss.Message)
		}
	}
	return strings.Join(parts, "; ")
}

// waitForCI polls CI at a fixed interval up to a deadline (spec §4.4). If no
// checks or statuses appear at all within the grace period, it reports
// passing with a "no CI configured" log.
func (c *Coder) waitForCI(ctx context.Context, issue *domain.TrackedIssue) (domain.CIResult, string) {
	owner, repo := issue.Repo.Owner, issue.Repo.Name
	start := c.clock()
	sawAnyCheck := false

	for {
		elapsed := c.clock().Sub(start)
		if elapsed > ciWaitDeadline {
			return domain.CIFailing, "CI wait deadline exceeded"
		}

		pr, err := c.forge.GetPR(ctx, owner, repo, issue.PRNumber)
		var ref string
		if err == nil {
			ref = pr.HeadSHA
		}
		if ref == "" {
			// No PR yet (pre-PR iteration): nothing to check.
			c.sleep(ciPollInterval)
			continue
		}

		combined, _ := c.forge.GetCombinedStatus(ctx, owner, repo, ref)
		runs, _ := c.forge.GetCheckRuns(ctx, owner, repo, ref)

		if len(combined.Contexts) > 0 || len(runs) > 0 {
			sawAnyCheck = true
		}

		if !sawAnyCheck && elapsed > ciNoChecksGrace {
			return domain.CIPassing, "no CI configured"
		}

		if sawAnyCheck {
			result, log, done := aggregateCIResult(combined, runs, c.forge, ctx, owner, repo)
			if done {
				return result, log
			}
		}

		c.sleep(ciPollInterval)
	}
}

func aggregateCIResult(combined ports.CombinedStatus, runs []ports.CheckRun, forge ports.Forge, ctx context.Context, owner, repo string) (domain.CIResult, string, bool) {
	allCompleted := true
	hasFailure := combined.State == "failure" || combined.State == "error"

	var failingLogs []string
	failingCount := 0
	for _, r := range runs {
		if r.Status != "completed" {
			allCompleted = false
			continue
		}
		if r.Conclusion == "failure" || r.Conclusion == "error" || r.Conclusion == "cancelled" || r.Conclusion == "timed_out" {
			hasFailure = true
			if failingCount < maxFailingChecks {
				annotations, err := forge.GetCheckRunAnnotations(ctx, owner, repo, r.ID)
				if err == nil {
					failingLogs = append(failingLogs, fmt.Sprintf("%s: %s", r.Name, strings.Join(annotations, "; ")))
				} else {
					failingLogs = append(failingLogs, r.Name+": conclusion "+r.Conclusion)
				}
				failingCount++
			}
		}
	}

	if combined.State == "pending" && !hasFailure {
		allCompleted = false
	}

	if !allCompleted {
		return domain.CIPending, "", false
	}
	if hasFailure {
		return domain.CIFailing, strings.Join(failingLogs, "\n"), true
	}
	return domain.CIPassing, "all checks passing", true
}

func (c *Coder) auditPush(ctx context.Context, issue *domain.TrackedIssue, paths []string) {
	_, err := c.log.Append(ctx, auditAppendInput("push_code", issue, "pushed", strings.Join(paths, ",")))
	if err != nil {
		slog.Error("📒 failed to append push_code audit entry", "error", err)
	}
}

func (c *Coder) auditBlocked(ctx context.Context, issue *domain.TrackedIssue, reason string) {
	_, err := c.log.Append(ctx, auditAppendInput("push_code", issue, "BLOCKED", reason))
	if err != nil {
		slog.Error("📒 failed to append BLOCKED audit entry", "error", err)
	}
}
