// Package handlers implements the moderation and competing-work layers that
// sit on top of the core pipeline: the comment handler (spec §4.9), the
// loop/chain detector (spec §4.12) and the PR analyzer/synthesis planner
// (spec §4.11).
package handlers

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/argus-dev/argus/internal/audit"
	"github.com/argus-dev/argus/internal/crypto"
	"github.com/argus-dev/argus/internal/domain"
	"github.com/argus-dev/argus/internal/ports"
	"github.com/argus-dev/argus/internal/security"
)

// CommentTarget identifies where a moderated comment or body lives.
type CommentTarget struct {
	Platform domain.Platform
	Owner    string
	Repo     string
	Number   int
	IsPR     bool
}

// flagBlockTracker is the CommentHandler's own record of prior moderation
// actions, fed back into the trust resolver's history modifier (spec §4.8).
type flagBlockTracker struct {
	mu     sync.Mutex
	flags  map[string]int
	blocks map[string]int
}

func newFlagBlockTracker() *flagBlockTracker {
	return &flagBlockTracker{flags: make(map[string]int), blocks: make(map[string]int)}
}

func (t *flagBlockTracker) PriorFlags(username string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.flags[username]
}

func (t *flagBlockTracker) PriorBlocks(username string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.blocks[username]
}

func (t *flagBlockTracker) recordFlag(username string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.flags[username]++
}

func (t *flagBlockTracker) recordBlock(username string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.blocks[username]++
}

// CommentHandler runs the moderation pipeline over inbound comments and PR
// bodies: sanitize, classify, resolve trust, compare against the author's
// thresholds, act, audit (spec §4.9).
type CommentHandler struct {
	forge      ports.Forge
	classifier *security.Classifier
	resolver   *security.Resolver
	tracker    *flagBlockTracker
	stamps     *crypto.StampManager
	log        *audit.Log
}

// NewCommentHandler builds a comment handler over the given forge,
// classifier, stamp manager and audit log. It owns its trust resolver so
// that flags and blocks it issues feed back into future trust resolution.
func NewCommentHandler(forge ports.Forge, classifier *security.Classifier, stamps *crypto.StampManager, log *audit.Log) *CommentHandler {
	tracker := newFlagBlockTracker()
	return &CommentHandler{
		forge:      forge,
		classifier: classifier,
		resolver:   security.NewResolver(forge, tracker),
		tracker:    tracker,
		stamps:     stamps,
		log:        log,
	}
}

// Handle runs one comment (or, with isBody true, an issue/PR body) through
// the moderation pipeline and executes whatever actions it selects. Owners
// are immune: per spec §4.8, the owner account is used to test the system,
// so moderating it would break testing.
func (h *CommentHandler) Handle(ctx context.Context, target CommentTarget, comment ports.Comment, isBody bool) ([]domain.ModerationAction, error) {
	if h.stamps.HasValidStamp(comment.Body) {
		return []domain.ModerationAction{domain.ActionNone}, nil
	}

	profile, err := h.resolver.Resolve(ctx, string(target.Platform), target.Owner, target.Repo, comment.Author)
	if err != nil {
		return nil, fmt.Errorf("handlers: resolve trust for %s: %w", comment.Author, err)
	}

	if profile.Tier == domain.TierOwner {
		h.audit(ctx, target, comment, "owner_immune", "moderation skipped: owner account", 0)
		return []domain.ModerationAction{domain.ActionNone}, nil
	}

	san := security.Sanitize(comment.Body)
	assessment := h.classifier.Classify(ctx, comment.Body, san)
	thresholds := domain.ComputeThresholds(profile.EffectiveScore)

	actions := selectActions(assessment, thresholds)
	if isBody {
		actions = remapForBody(actions)
	}

	h.audit(ctx, target, comment, strings.Join(actionStrings(actions), ","),
		fmt.Sprintf("classification=%s confidence=%.2f threat_type=%s trust=%.2f",
			assessment.Classification, assessment.Confidence, assessment.ThreatType, profile.EffectiveScore), 0)

	for _, action := range actions {
		if err := h.execute(ctx, target, comment, action, assessment); err != nil {
			h.auditEntry(ctx, "moderation_action_failed", target, comment.Author, string(action), err.Error())
			continue
		}
		h.auditEntry(ctx, "moderation_action", target, comment.Author, string(action), "")
	}

	return actions, nil
}

// selectActions maps a threat assessment's confidence against the author's
// thresholds to a graduated set of actions (spec §4.9).
func selectActions(assessment domain.ThreatAssessment, th domain.Thresholds) []domain.ModerationAction {
	if assessment.Classification == domain.ThreatClean {
		return []domain.ModerationAction{domain.ActionNone}
	}

	conf := assessment.Confidence
	switch {
	case conf >= th.Report:
		return []domain.ModerationAction{domain.ActionFlag, domain.ActionDelete, domain.ActionBlock, domain.ActionReport}
	case conf >= th.Block:
		return []domain.ModerationAction{domain.ActionFlag, domain.ActionDelete, domain.ActionBlock}
	case conf >= th.Flag:
		return []domain.ModerationAction{domain.ActionFlag}
	default:
		return []domain.ModerationAction{domain.ActionNone}
	}
}

// remapForBody swaps delete for update_pr: an issue/PR body can't be
// deleted the way a comment can, only replaced.
func remapForBody(actions []domain.ModerationAction) []domain.ModerationAction {
	out := make([]domain.ModerationAction, 0, len(actions))
	seen := make(map[domain.ModerationAction]bool)
	for _, a := range actions {
		if a == domain.ActionDelete {
			a = domain.ActionUpdatePR
		}
		if seen[a] {
			continue
		}
		seen[a] = true
		out = append(out, a)
	}
	return out
}

func (h *CommentHandler) execute(ctx context.Context, target CommentTarget, comment ports.Comment, action domain.ModerationAction, assessment domain.ThreatAssessment) error {
	switch action {
	case domain.ActionNone:
		return nil

	case domain.ActionFlag:
		h.tracker.recordFlag(comment.Author)
		h.resolver.Invalidate(string(target.Platform), target.Owner, target.Repo, comment.Author)
		_, footer, err := h.stamps.Emit([]byte(comment.Body))
		if err != nil {
			return fmt.Errorf("flag: emit stamp: %w", err)
		}
		body := fmt.Sprintf("🚩 Flagged as **%s** (confidence %.2f, %s).%s",
			assessment.Classification, assessment.Confidence, assessment.ThreatType, footer)
		if target.IsPR {
			_, err = h.forge.AddPRComment(ctx, target.Owner, target.Repo, target.Number, body)
		} else {
			_, err = h.forge.AddIssueComment(ctx, target.Owner, target.Repo, target.Number, body)
		}
		return err

	case domain.ActionDelete:
		if comment.ID == 0 {
			return fmt.Errorf("delete: no comment id for target body")
		}
		return h.forge.DeleteComment(ctx, target.Owner, target.Repo, comment.ID)

	case domain.ActionUpdatePR:
		san := security.Sanitize(comment.Body)
		_, footer, err := h.stamps.Emit([]byte(san.Sanitized))
		if err != nil {
			return fmt.Errorf("update_pr: emit stamp: %w", err)
		}
		replacement := san.Sanitized + "\n\n*This description was sanitized after a moderation flag.*" + footer
		return h.forge.UpdatePRBody(ctx, target.Owner, target.Repo, target.Number, replacement)

	case domain.ActionBlock:
		h.tracker.recordBlock(comment.Author)
		h.resolver.Invalidate(string(target.Platform), target.Owner, target.Repo, comment.Author)
		return h.forge.BlockUser(ctx, target.Owner, target.Repo, comment.Author)

	case domain.ActionReport:
		reason := fmt.Sprintf("%s (confidence %.2f): %s", assessment.ThreatType, assessment.Confidence, strings.Join(assessment.Evidence, "; "))
		return h.forge.ReportUser(ctx, target.Owner, target.Repo, comment.Author, reason)

	default:
		return fmt.Errorf("unknown moderation action %q", action)
	}
}

func actionStrings(actions []domain.ModerationAction) []string {
	out := make([]string, len(actions))
	for i, a := range actions {
		out[i] = string(a)
	}
	return out
}

func (t CommentTarget) repoKey() string {
	return domain.RepoDescriptor{Platform: t.Platform, Owner: t.Owner, Name: t.Repo}.Key()
}

func (h *CommentHandler) audit(ctx context.Context, target CommentTarget, comment ports.Comment, decision, details string, llmCalls int) {
	_, _ = h.log.Append(ctx, audit.AppendInput{
		ActionKind:   "comment_moderation",
		Repo:         target.repoKey(),
		Target:       fmt.Sprintf("#%d/%s:%d", target.Number, comment.Author, comment.ID),
		Decision:     decision,
		Details:      details,
		LLMCallCount: llmCalls,
	})
}

func (h *CommentHandler) auditEntry(ctx context.Context, kind string, target CommentTarget, username, decision, details string) {
	_, _ = h.log.Append(ctx, audit.AppendInput{
		ActionKind: kind,
		Repo:       target.repoKey(),
		Target:     fmt.Sprintf("#%d/%s", target.Number, username),
		Decision:   decision,
		Details:    details,
	})
}
