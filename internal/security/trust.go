package security

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/argus-dev/argus/internal/domain"
	"github.com/argus-dev/argus/internal/ports"
)

const trustCacheTTL = 10 * time.Minute

const (
	mergedPRModifier      = 0.02
	mergedPRModifierCap   = 0.1
	closedIssueModifier   = 0.01
	closedIssueModifierCap = 0.05
	engagement20Bonus     = 0.02
	engagement100Bonus    = 0.03
	flagModifier          = -0.05
	flagModifierCap       = -0.15
	blockModifier         = -0.15
	blockModifierCap      = -0.3
)

// FlagBlockTracker supplies prior-flag/prior-block counts recorded by the
// comment handler, feeding back into the trust resolver's history modifier.
type FlagBlockTracker interface {
	PriorFlags(username string) int
	PriorBlocks(username string) int
}

// Resolver computes and caches trust profiles (spec §4.8).
type Resolver struct {
	forge   ports.Forge
	history FlagBlockTracker

	mu    sync.Mutex
	cache map[string]domain.TrustProfile
}

// NewResolver builds a trust resolver over the given forge and history
// tracker.
func NewResolver(forge ports.Forge, history FlagBlockTracker) *Resolver {
	return &Resolver{forge: forge, history: history, cache: make(map[string]domain.TrustProfile)}
}

func cacheKey(platform, ownerRepo, username string) string {
	return platform + "|" + ownerRepo + "|" + username
}

// Resolve returns the cached profile if fresh, otherwise recomputes it from
// the forge.
func (r *Resolver) Resolve(ctx context.Context, platform, owner, repo, username string) (domain.TrustProfile, error) {
	key := cacheKey(platform, owner+"/"+repo, username)

	r.mu.Lock()
	if cached, ok := r.cache[key]; ok && time.Since(cached.LastUpdated) < trustCacheTTL {
		r.mu.Unlock()
		return cached, nil
	}
	r.mu.Unlock()

	role, err := r.forge.GetRepoRole(ctx, owner, repo, username)
	if err != nil {
		return domain.TrustProfile{}, fmt.Errorf("security: resolve role for %s: %w", username, err)
	}
	hist, err := r.forge.GetUserHistory(ctx, owner, repo, username)
	if err != nil {
		return domain.TrustProfile{}, fmt.Errorf("security: resolve history for %s: %w", username, err)
	}

	tier := tierFromRole(role)
	base := tier.BaseScore()

	mod := historyModifier(hist, r.priorFlags(username), r.priorBlocks(username))
	effective := clamp01(base + mod)

	profile := domain.TrustProfile{
		Username:          username,
		Tier:              tier,
		BaseScore:         base,
		HistoryModifier:   mod,
		EffectiveScore:    effective,
		MergedPRs:         hist.MergedPRs,
		ClosedValidIssues: hist.ClosedValidIssues,
		TotalComments:     hist.TotalComments,
		PriorFlags:        r.priorFlags(username),
		PriorBlocks:       r.priorBlocks(username),
		LastUpdated:       time.Now(),
	}

	r.mu.Lock()
	r.cache[key] = profile
	r.mu.Unlock()

	return profile, nil
}

// Invalidate drops the cached profile for one user, forcing a fresh
// resolution on next use.
func (r *Resolver) Invalidate(platform, owner, repo, username string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.cache, cacheKey(platform, owner+"/"+repo, username))
}

func (r *Resolver) priorFlags(username string) int {
	if r.history == nil {
		return 0
	}
	return r.history.PriorFlags(username)
}

func (r *Resolver) priorBlocks(username string) int {
	if r.history == nil {
		return 0
	}
	return r.history.PriorBlocks(username)
}

func tierFromRole(role ports.Role) domain.TrustTier {
	switch role {
	case ports.RoleOwner, ports.RoleAdmin:
		return domain.TierOwner
	case ports.RoleMaintainer:
		return domain.TierMaintainer
	case ports.RoleWrite:
		return domain.TierReviewer
	case ports.RoleTriage:
		return domain.TierContributor
	case ports.RoleRead:
		return domain.TierParticipant
	default:
		return domain.TierUnknown
	}
}

func historyModifier(hist ports.UserHistory, priorFlags, priorBlocks int) float64 {
	mod := 0.0

	mod += clampCap(float64(hist.MergedPRs)*mergedPRModifier, mergedPRModifierCap)
	mod += clampCap(float64(hist.ClosedValidIssues)*closedIssueModifier, closedIssueModifierCap)

	if hist.TotalComments >= 100 {
		mod += engagement20Bonus + engagement100Bonus
	} else if hist.TotalComments >= 20 {
		mod += engagement20Bonus
	}

	mod += clampCapNeg(float64(priorFlags)*flagModifier, flagModifierCap)
	mod += clampCapNeg(float64(priorBlocks)*blockModifier, blockModifierCap)

	if mod > 0.2 {
		mod = 0.2
	}
	if mod < -0.3 {
		mod = -0.3
	}
	return mod
}

func clampCap(v, cap float64) float64 {
	if v > cap {
		return cap
	}
	return v
}

func clampCapNeg(v, floor float64) float64 {
	if v < floor {
		return floor
	}
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
