package pipeline

import (
	"github.com/argus-dev/argus/internal/audit"
	"github.com/argus-dev/argus/internal/domain"
)

// auditAppendInput builds the common shape of a pipeline-stage audit entry.
// decision is typically "pushed", "BLOCKED", "approved", "rejected", etc.;
// details carries stage-specific free text (changed paths, block reasons).
func auditAppendInput(actionKind string, issue *domain.TrackedIssue, decision, details string) audit.AppendInput {
	return audit.AppendInput{
		ActionKind: actionKind,
		Repo:       issue.Repo.Key(),
		Target:     issue.Key(),
		Decision:   decision,
		Details:    details,
	}
}
