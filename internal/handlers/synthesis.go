package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/argus-dev/argus/internal/audit"
	"github.com/argus-dev/argus/internal/crypto"
	"github.com/argus-dev/argus/internal/domain"
	"github.com/argus-dev/argus/internal/llmguard"
	"github.com/argus-dev/argus/internal/ports"
	"github.com/argus-dev/argus/internal/security"
)

const (
	synthesisContributionFloor = 0.3
	synthesisDepthBonus        = 0.05
	synthesisScoreGap          = 0.15
	synthesisMinContributors   = 3
)

// ShouldSynthesize reports whether a competing PR is far enough ahead of
// ours, or enough distinct competitors each contribute something real, to
// warrant a synthesis plan (spec §4.11).
func ShouldSynthesize(ours float64, competitors []domain.CompetitorScore) bool {
	if len(competitors) == 0 {
		return false
	}
	best := 0.0
	contributing := 0
	for _, c := range competitors {
		if c.Composite > best {
			best = c.Composite
		}
		if c.Composite >= synthesisContributionFloor {
			contributing++
		}
	}
	if best >= ours+synthesisScoreGap {
		return true
	}
	return contributing >= synthesisMinContributors
}

// SynthesisPlanner assembles and posts a plan that draws on the strongest
// parts of multiple competing PRs, without ever merging anything itself
// (spec §4.11: humans merge, Argus only proposes).
type SynthesisPlanner struct {
	forge  ports.Forge
	llm    ports.LLM
	stamps *crypto.StampManager
	log    *audit.Log
}

// NewSynthesisPlanner builds a synthesis planner over the given forge, LLM,
// stamp manager and audit log.
func NewSynthesisPlanner(forge ports.Forge, llm ports.LLM, stamps *crypto.StampManager, log *audit.Log) *SynthesisPlanner {
	return &SynthesisPlanner{forge: forge, llm: llm, stamps: stamps, log: log}
}

// Plan fetches files for our PR and every contributing competitor, detects
// path-level conflicts, summarizes each source's strengths, and projects a
// synthesis score.
func (p *SynthesisPlanner) Plan(ctx context.Context, target CommentTarget, ourPR int, ours domain.CompetitorScore, competitors []domain.CompetitorScore) (domain.SynthesisPlan, error) {
	sources := []int{ourPR}
	sorted := append([]domain.CompetitorScore(nil), competitors...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Composite > sorted[j].Composite })
	for _, c := range sorted {
		if c.Composite >= synthesisContributionFloor {
			sources = append(sources, c.PRNumber)
		}
	}

	filesByPR := make(map[int][]ports.FileChange, len(sources))
	for _, num := range sources {
		files, err := p.forge.ListPRFiles(ctx, target.Owner, target.Repo, num)
		if err != nil {
			return domain.SynthesisPlan{}, fmt.Errorf("handlers: list files for PR #%d: %w", num, err)
		}
		filesByPR[num] = files
	}

	strengths := make(map[int][]string, len(sources))
	for _, num := range sources {
		strengths[num] = p.strengthsFor(ctx, filesByPR[num])
	}

	best := ours.Composite
	for _, c := range sorted {
		if c.Composite > best {
			best = c.Composite
		}
	}
	projected := clamp01(best + synthesisDepthBonus*float64(len(sources)-1))

	return domain.SynthesisPlan{
		SourcePRs:      sources,
		Strengths:      strengths,
		ProjectedScore: projected,
		Conflicts:      detectConflicts(filesByPR),
	}, nil
}

func detectConflicts(filesByPR map[int][]ports.FileChange) []string {
	owners := make(map[string][]int)
	for num, files := range filesByPR {
		for _, f := range files {
			owners[f.Path] = appendUniqueInt(owners[f.Path], num)
		}
	}
	var conflicts []string
	for path, prs := range owners {
		if len(prs) < 2 {
			continue
		}
		sort.Ints(prs)
		nums := make([]string, len(prs))
		for i, n := range prs {
			nums[i] = fmt.Sprintf("#%d", n)
		}
		conflicts = append(conflicts, fmt.Sprintf("%s is modified by %s", path, strings.Join(nums, ", ")))
	}
	sort.Strings(conflicts)
	return conflicts
}

type strengthsVerdict struct {
	Canary    string   `json:"canary"`
	Strengths []string `json:"strengths"`
}

// strengthsFor asks the LLM for 2-3 strengths of one source's diff. Fails
// open to a single generic note rather than blocking the plan.
func (p *SynthesisPlanner) strengthsFor(ctx context.Context, files []ports.FileChange) []string {
	fallback := []string{"diff could not be summarized automatically; review manually"}
	if p.llm == nil {
		return fallback
	}

	framing, err := llmguard.NewFraming()
	if err != nil {
		slog.Warn("handlers: failed to build framing for strengths summary", "error", err)
		return fallback
	}

	san := security.Sanitize(renderDiff(files))
	system := "You summarize 2-3 concrete strengths of a pull request's diff, from a code-review perspective. " +
		framing.Instruction() +
		` Respond with strict JSON only: {"canary": "...", "strengths": ["...", "..."]}.`

	resp, err := p.llm.Send(ctx, []ports.LLMMessage{
		{Role: "system", Content: system},
		{Role: "user", Content: framing.Wrap(san.Sanitized)},
	})
	if err != nil || !framing.CanaryPresent(resp) {
		return fallback
	}

	raw := llmguard.ExtractFirstJSON(resp)
	if raw == "" {
		return fallback
	}
	var verdict strengthsVerdict
	if err := json.Unmarshal([]byte(raw), &verdict); err != nil || len(verdict.Strengths) == 0 {
		return fallback
	}
	return verdict.Strengths
}

// PostPlan renders the synthesis plan as a stamped PR comment and audits
// it. Posting the plan is the full extent of Argus's involvement: a human
// decides whether and how to act on it.
func (p *SynthesisPlanner) PostPlan(ctx context.Context, target CommentTarget, ourPR int, plan domain.SynthesisPlan) error {
	var b strings.Builder
	b.WriteString("### Synthesis plan\n\n")
	fmt.Fprintf(&b, "Projected composite score if merged: **%.2f**\n\n", plan.ProjectedScore)
	b.WriteString("Sources, in contribution order:\n")
	for _, num := range plan.SourcePRs {
		b.WriteString(fmt.Sprintf("- #%d\n", num))
		for _, s := range plan.Strengths[num] {
			fmt.Fprintf(&b, "  - %s\n", s)
		}
	}
	if len(plan.Conflicts) > 0 {
		b.WriteString("\nPotential conflicts:\n")
		for _, c := range plan.Conflicts {
			fmt.Fprintf(&b, "- %s\n", c)
		}
	}
	b.WriteString("\nThis plan is informational; no merge is performed automatically.")

	_, footer, err := p.stamps.Emit([]byte(b.String()))
	if err != nil {
		return fmt.Errorf("handlers: emit synthesis stamp: %w", err)
	}

	if _, err := p.forge.AddPRComment(ctx, target.Owner, target.Repo, ourPR, b.String()+footer); err != nil {
		return fmt.Errorf("handlers: post synthesis plan: %w", err)
	}

	_, _ = p.log.Append(ctx, audit.AppendInput{
		ActionKind: "synthesis_plan",
		Repo:       target.repoKey(),
		Target:     fmt.Sprintf("#%d", ourPR),
		Decision:   "posted",
		Details:    fmt.Sprintf("sources=%v projected=%.2f conflicts=%d", plan.SourcePRs, plan.ProjectedScore, len(plan.Conflicts)),
	})
	return nil
}
