package security

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/argus-dev/argus/internal/domain"
	"github.com/argus-dev/argus/internal/ports"
)

type fakeForge struct {
	ports.Forge
	role ports.Role
	hist ports.UserHistory
}

func (f *fakeForge) GetRepoRole(_ context.Context, _, _, _ string) (ports.Role, error) {
	return f.role, nil
}

func (f *fakeForge) GetUserHistory(_ context.Context, _, _, _ string) (ports.UserHistory, error) {
	return f.hist, nil
}

type fakeTracker struct {
	flags, blocks int
}

func (f fakeTracker) PriorFlags(string) int  { return f.flags }
func (f fakeTracker) PriorBlocks(string) int { return f.blocks }

func TestResolveOwnerHasFullTrust(t *testing.T) {
	forge := &fakeForge{role: ports.RoleOwner}
	r := NewResolver(forge, nil)
	profile, err := r.Resolve(context.Background(), "github", "o", "r", "alice")
	require.NoError(t, err)
	require.Equal(t, 1.0, profile.EffectiveScore)
}

func TestResolveClampsEffectiveScoreToUnitInterval(t *testing.T) {
	forge := &fakeForge{role: ports.RoleNone, hist: ports.UserHistory{MergedPRs: 1000, ClosedValidIssues: 1000, TotalComments: 1000}}
	r := NewResolver(forge, nil)
	profile, err := r.Resolve(context.Background(), "github", "o", "r", "bob")
	require.NoError(t, err)
	require.GreaterOrEqual(t, profile.EffectiveScore, 0.0)
	require.LessOrEqual(t, profile.EffectiveScore, 1.0)
}

func TestResolveAppliesFlagAndBlockPenalties(t *testing.T) {
	forge := &fakeForge{role: ports.RoleWrite}
	tracker := fakeTracker{flags: 10, blocks: 10}
	r := NewResolver(forge, tracker)
	profile, err := r.Resolve(context.Background(), "github", "o", "r", "carol")
	require.NoError(t, err)
	require.Less(t, profile.EffectiveScore, domain.TierReviewer.BaseScore())
}

func TestThresholdsFlagLessOrEqualBlock(t *testing.T) {
	for _, tt := range []float64{0.0, 0.3, 0.5, 0.75, 0.99, 1.0} {
		th := domain.ComputeThresholds(tt)
		require.LessOrEqual(t, th.Flag, th.Block)
	}
}

func TestResolveCachesWithinTTL(t *testing.T) {
	forge := &fakeForge{role: ports.RoleMaintainer}
	r := NewResolver(forge, nil)
	first, err := r.Resolve(context.Background(), "github", "o", "r", "dave")
	require.NoError(t, err)
	forge.role = ports.RoleNone // forge state changes, cache should still win
	second, err := r.Resolve(context.Background(), "github", "o", "r", "dave")
	require.NoError(t, err)
	require.Equal(t, first.Tier, second.Tier)
}

func TestResolveInvalidateForcesRefresh(t *testing.T) {
	forge := &fakeForge{role: ports.RoleMaintainer}
	r := NewResolver(forge, nil)
	_, err := r.Resolve(context.Background(), "github", "o", "r", "erin")
	require.NoError(t, err)
	forge.role = ports.RoleNone
	r.Invalidate("github", "o", "r", "erin")
	refreshed, err := r.Resolve(context.Background(), "github", "o", "r", "erin")
	require.NoError(t, err)
	require.Equal(t, "unknown", string(refreshed.Tier))
}
