package pipeline

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/argus-dev/argus/internal/domain"
	"github.com/argus-dev/argus/internal/ports"
)

// EditDetector watches a tracked issue's body for edits made after it was
// evaluated, so a stale evaluation never silently carries a mutated issue
// forward (spec §4.10).
type EditDetector struct {
	forge ports.Forge
}

// NewEditDetector builds an edit detector over the given forge port.
func NewEditDetector(forge ports.Forge) *EditDetector {
	return &EditDetector{forge: forge}
}

// HashBody returns the stable hash an issue body is tracked under.
func HashBody(body string) string {
	sum := sha256.Sum256([]byte(body))
	return hex.EncodeToString(sum[:])
}

// CheckResult reports whether an issue's live body diverges from the hash
// recorded at evaluation time.
type CheckResult struct {
	Edited   bool
	OldHash  string
	NewHash  string
	NewBody  string
	NewTitle string
}

// Check re-fetches the issue and compares its current body hash against the
// one recorded on the tracked issue. A mismatch means the issue was edited
// since evaluation and the orchestrator should transition back to
// re-evaluate rather than continue coding against a stale understanding
// (spec §4.1, §4.10).
func (d *EditDetector) Check(ctx context.Context, issue *domain.TrackedIssue) (CheckResult, error) {
	live, err := d.forge.GetIssue(ctx, issue.Repo.Owner, issue.Repo.Name, issue.Number)
	if err != nil {
		return CheckResult{}, fmt.Errorf("pipeline: edit detector fetch issue: %w", err)
	}

	newHash := HashBody(live.Body)
	return CheckResult{
		Edited:   newHash != issue.BodyHash,
		OldHash:  issue.BodyHash,
		NewHash:  newHash,
		NewBody:  live.Body,
		NewTitle: live.Title,
	}, nil
}

// EditResponse is the state-machine transition a detected edit drives (spec
// §4.1, §4.10).
type EditResponse int

const (
	// EditNone means the body is unchanged, or the issue is already terminal.
	EditNone EditResponse = iota
	// EditReEvaluate means the edit should restart evaluation from scratch.
	EditReEvaluate
	// EditFlag means the edit landed mid-fix and work must halt without
	// pushing anything further; a human has to look at it.
	EditFlag
)

// ClassifyEdit decides how a detected edit should affect the state machine.
// An edit while a fix is already in flight (coding/iterating) is far more
// dangerous than one caught before branching: the coder may be committing
// against an understanding of the issue that no longer holds, so that case
// halts and flags rather than silently restarting. Any other non-terminal
// state (pr-open and friends) just re-evaluates.
func ClassifyEdit(state domain.IssueState, res CheckResult) EditResponse {
	if !res.Edited || state.Terminal() {
		return EditNone
	}
	switch state {
	case domain.StateCoding, domain.StateIterating:
		return EditFlag
	default:
		return EditReEvaluate
	}
}
