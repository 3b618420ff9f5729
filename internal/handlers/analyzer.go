package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/argus-dev/argus/internal/crypto"
	"github.com/argus-dev/argus/internal/domain"
	"github.com/argus-dev/argus/internal/llmguard"
	"github.com/argus-dev/argus/internal/ports"
	"github.com/argus-dev/argus/internal/security"
)

const (
	weightCorrectness  = 0.30
	weightCompleteness = 0.20
	weightCodeQuality  = 0.20
	weightTestCoverage = 0.15
	weightMinimalism   = 0.15
	ciFailingPenalty   = 0.2
	trustBonusFactor   = 0.05
	maxDiffBytes       = 6000
)

// Analyzer discovers and scores competing pull requests against the same
// issue (spec §4.11). A competing PR is one opened by anyone other than this
// run's own instance, referencing the same issue.
type Analyzer struct {
	forge  ports.Forge
	llm    ports.LLM
	stamps *crypto.StampManager
}

// NewAnalyzer builds a PR analyzer over the given forge, LLM and stamp
// manager. llm may be nil, in which case scoring fails open to a neutral
// midpoint composite for every dimension.
func NewAnalyzer(forge ports.Forge, llm ports.LLM, stamps *crypto.StampManager) *Analyzer {
	return &Analyzer{forge: forge, llm: llm, stamps: stamps}
}

// FindCompetitors lists open PRs referencing issueNumber, excluding ourPR.
func (a *Analyzer) FindCompetitors(ctx context.Context, target CommentTarget, issueNumber, ourPR int) ([]ports.PullRequest, error) {
	all, err := a.forge.ListPRsForIssue(ctx, target.Owner, target.Repo, issueNumber)
	if err != nil {
		return nil, fmt.Errorf("handlers: list PRs for issue #%d: %w", issueNumber, err)
	}
	out := make([]ports.PullRequest, 0, len(all))
	for _, pr := range all {
		if pr.Number == ourPR {
			continue
		}
		out = append(out, pr)
	}
	return out, nil
}

type competitorVerdict struct {
	Canary              string  `json:"canary"`
	Correctness         float64 `json:"correctness"`
	Completeness        float64 `json:"completeness"`
	CodeQuality         float64 `json:"code_quality"`
	TestCoverage        float64 `json:"test_coverage"`
	MinimalInvasiveness float64 `json:"minimal_invasiveness"`
}

// Score fetches a competing PR's diff and CI state and produces a weighted
// composite score (spec §4.11). trust is the PR author's effective trust
// score (0-1), contributing a small bonus to the composite.
func (a *Analyzer) Score(ctx context.Context, target CommentTarget, pr ports.PullRequest, trust float64) (domain.CompetitorScore, error) {
	files, err := a.forge.ListPRFiles(ctx, target.Owner, target.Repo, pr.Number)
	if err != nil {
		return domain.CompetitorScore{}, fmt.Errorf("handlers: list files for PR #%d: %w", pr.Number, err)
	}
	combined, err := a.forge.GetCombinedStatus(ctx, target.Owner, target.Repo, pr.HeadSHA)
	ciFailing := err == nil && (combined.State == "failure" || combined.State == "error")

	verdict := a.judge(ctx, files)

	composite := weightCorrectness*verdict.Correctness +
		weightCompleteness*verdict.Completeness +
		weightCodeQuality*verdict.CodeQuality +
		weightTestCoverage*verdict.TestCoverage +
		weightMinimalism*verdict.MinimalInvasiveness

	if ciFailing {
		composite -= ciFailingPenalty
	}
	composite += trustBonusFactor * trust
	composite = clamp01(composite)

	return domain.CompetitorScore{
		PRNumber:            pr.Number,
		Correctness:         verdict.Correctness,
		Completeness:        verdict.Completeness,
		CodeQuality:         verdict.CodeQuality,
		TestCoverage:        verdict.TestCoverage,
		MinimalInvasiveness: verdict.MinimalInvasiveness,
		CIFailing:           ciFailing,
		TrustScore:          trust,
		Composite:           composite,
		IsOurInstance:       a.stamps.HasValidStamp(pr.Body),
	}, nil
}

// judge issues a single canary-guarded LLM call scoring a competitor's diff
// across five dimensions, each in [0,1]. Fails open to a neutral 0.5 on any
// LLM error, canary mismatch, or parse failure (spec §4.5's fail-open
// pattern, applied here to scoring rather than evaluation).
func (a *Analyzer) judge(ctx context.Context, files []ports.FileChange) competitorVerdict {
	neutral := competitorVerdict{Correctness: 0.5, Completeness: 0.5, CodeQuality: 0.5, TestCoverage: 0.5, MinimalInvasiveness: 0.5}
	if a.llm == nil {
		return neutral
	}

	framing, err := llmguard.NewFraming()
	if err != nil {
		slog.Warn("handlers: failed to build framing for competitor scoring", "error", err)
		return neutral
	}

	diff := renderDiff(files)
	san := security.Sanitize(diff)

	system := "You score a competing pull request's diff against five dimensions: correctness, completeness, code_quality, test_coverage, minimal_invasiveness, each 0.0-1.0. " +
		framing.Instruction() +
		` Respond with strict JSON only: {"canary": "...", "correctness": 0.0, "completeness": 0.0, "code_quality": 0.0, "test_coverage": 0.0, "minimal_invasiveness": 0.0}.`

	resp, err := a.llm.Send(ctx, []ports.LLMMessage{
		{Role: "system", Content: system},
		{Role: "user", Content: framing.Wrap(san.Sanitized)},
	})
	if err != nil {
		slog.Warn("handlers: competitor scoring LLM call failed, failing open", "error", err)
		return neutral
	}
	if !framing.CanaryPresent(resp) {
		slog.Warn("handlers: competitor scoring canary mismatch, failing open")
		return neutral
	}

	raw := llmguard.ExtractFirstJSON(resp)
	if raw == "" {
		return neutral
	}
	var verdict competitorVerdict
	if err := json.Unmarshal([]byte(raw), &verdict); err != nil {
		slog.Warn("handlers: competitor scoring response unparseable, failing open", "error", err)
		return neutral
	}
	return clampVerdict(verdict)
}

func clampVerdict(v competitorVerdict) competitorVerdict {
	v.Correctness = clamp01(v.Correctness)
	v.Completeness = clamp01(v.Completeness)
	v.CodeQuality = clamp01(v.CodeQuality)
	v.TestCoverage = clamp01(v.TestCoverage)
	v.MinimalInvasiveness = clamp01(v.MinimalInvasiveness)
	return v
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

func renderDiff(files []ports.FileChange) string {
	var b strings.Builder
	for _, f := range files {
		fmt.Fprintf(&b, "--- %s (%s, +%d/-%d)\n%s\n", f.Path, f.Status, f.Additions, f.Deletions, f.Patch)
		if b.Len() > maxDiffBytes {
			break
		}
	}
	out := b.String()
	if len(out) > maxDiffBytes {
		out = out[:maxDiffBytes] + "\n...[truncated]"
	}
	return out
}
