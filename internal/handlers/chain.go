package handlers

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/argus-dev/argus/internal/audit"
	"github.com/argus-dev/argus/internal/crypto"
	"github.com/argus-dev/argus/internal/domain"
	"github.com/argus-dev/argus/internal/ports"
)

const (
	maxChainDepth          = 3
	unreachableDepth       = 4
	maxAcksPerWindow       = 3
	ackWindow              = 2 * time.Hour
	feedbackOverlapThresh  = 0.5
	feedbackConsecutiveReq = 2
	fingerprintLen         = 120
)

var (
	chainBranchPattern = regexp.MustCompile(`(?:sub-pr-|pr[-/])(\d+)`)
	chainRefPattern    = regexp.MustCompile(`#(\d+)`)
	fencedCodePattern  = regexp.MustCompile("(?s)```.*?```")
	inlineCodePattern  = regexp.MustCompile("`[^`]*`")
	wipPrefixes        = []string{"[wip]", "wip:", "draft:", "[draft]"}
)

// BuildGraph links open PRs into a chain graph (spec §4.12): an edge runs
// from a PR to its parent when the PR's base branch is another open PR's
// head branch, when its branch name carries a "pr-N"/"sub-pr-N" pattern, or
// when its body references another open PR by number.
func BuildGraph(prs []ports.PullRequest) map[int]*domain.ChainNode {
	nodes := make(map[int]*domain.ChainNode, len(prs))
	headToPR := make(map[string]int, len(prs))
	for _, pr := range prs {
		nodes[pr.Number] = &domain.ChainNode{PR: pr.Number}
		headToPR[pr.HeadBranch] = pr.Number
	}

	for _, pr := range prs {
		var parents []int
		if parent, ok := headToPR[pr.BaseBranch]; ok && parent != pr.Number {
			parents = appendUniqueInt(parents, parent)
		}
		if m := chainBranchPattern.FindStringSubmatch(pr.HeadBranch); m != nil {
			if n, err := strconv.Atoi(m[1]); err == nil && n != pr.Number {
				if _, exists := nodes[n]; exists {
					parents = appendUniqueInt(parents, n)
				}
			}
		}
		for _, m := range chainRefPattern.FindAllStringSubmatch(stripCode(pr.Body), -1) {
			n, err := strconv.Atoi(m[1])
			if err != nil || n == pr.Number {
				continue
			}
			if _, exists := nodes[n]; exists {
				parents = appendUniqueInt(parents, n)
			}
		}

		nodes[pr.Number].Parents = parents
		for _, p := range parents {
			nodes[p].Children = append(nodes[p].Children, pr.Number)
		}
	}

	return nodes
}

func appendUniqueInt(xs []int, x int) []int {
	for _, v := range xs {
		if v == x {
			return xs
		}
	}
	return append(xs, x)
}

// ComputeDepths runs a multi-source BFS from every root (a node with no
// parents). Nodes unreachable from any root — isolated cycles — get
// unreachableDepth, per spec §4.12.
func ComputeDepths(nodes map[int]*domain.ChainNode) map[int]int {
	depth := make(map[int]int, len(nodes))
	visited := make(map[int]bool, len(nodes))

	var roots []int
	for id, n := range nodes {
		if len(n.Parents) == 0 {
			roots = append(roots, id)
		}
	}
	sort.Ints(roots)

	queue := make([]int, 0, len(roots))
	for _, r := range roots {
		depth[r] = 0
		visited[r] = true
		queue = append(queue, r)
	}

	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, child := range nodes[cur].Children {
			if visited[child] {
				continue
			}
			visited[child] = true
			depth[child] = depth[cur] + 1
			queue = append(queue, child)
		}
	}

	for id := range nodes {
		if !visited[id] {
			depth[id] = unreachableDepth
		}
	}
	return depth
}

func stripCode(s string) string {
	s = fencedCodePattern.ReplaceAllString(s, " ")
	return inlineCodePattern.ReplaceAllString(s, " ")
}

// fingerprint reduces a comment body to the first ~120 lowercase,
// whitespace-collapsed characters with code stripped, for overlap scoring.
func fingerprint(body string) string {
	lower := strings.ToLower(stripCode(body))
	lower = strings.Join(strings.Fields(lower), " ")
	if len(lower) > fingerprintLen {
		lower = lower[:fingerprintLen]
	}
	return lower
}

func jaccard(a, b string) float64 {
	setA := make(map[string]bool)
	for _, w := range strings.Fields(a) {
		setA[w] = true
	}
	setB := make(map[string]bool)
	for _, w := range strings.Fields(b) {
		setB[w] = true
	}
	if len(setA) == 0 && len(setB) == 0 {
		return 0
	}
	inter, union := 0, make(map[string]bool)
	for w := range setA {
		union[w] = true
		if setB[w] {
			inter++
		}
	}
	for w := range setB {
		union[w] = true
	}
	if len(union) == 0 {
		return 0
	}
	return float64(inter) / float64(len(union))
}

// IsWIP reports whether a PR should be skipped as work-in-progress (spec
// §4.12): draft flag, a WIP/Draft title prefix, or a construction-emoji
// title.
func IsWIP(pr ports.PullRequest) bool {
	if pr.Draft {
		return true
	}
	title := strings.TrimSpace(pr.Title)
	lower := strings.ToLower(title)
	for _, p := range wipPrefixes {
		if strings.HasPrefix(lower, p) {
			return true
		}
	}
	return strings.HasPrefix(title, "🚧")
}

func latestFingerprint(comments []ports.ReviewComment) string {
	if len(comments) == 0 {
		return ""
	}
	latest := comments[0]
	for _, c := range comments[1:] {
		if c.CreatedAt.After(latest.CreatedAt) {
			latest = c
		}
	}
	return fingerprint(latest.Body)
}

// Decision is the chain detector's verdict for one PR on one pass.
type Decision struct {
	Skip        bool // WIP or already disengaged: leave it alone
	Disengaged  bool // this call (or a past one) disengaged from the chain
	RateLimited bool // wanted to disengage but the ack rate limit blocked it
}

// ChainDetector watches open-PR chains for runaway depth or repeated
// feedback loops between cooperating agents (spec §4.12). Disengagement is
// permanent for the life of the detector.
type ChainDetector struct {
	forge  ports.Forge
	stamps *crypto.StampManager
	log    *audit.Log
	clock  func() time.Time

	mu         sync.Mutex
	disengaged map[string]bool
	acks       map[string][]time.Time
}

// NewChainDetector builds a chain detector over the given forge, stamp
// manager and audit log.
func NewChainDetector(forge ports.Forge, stamps *crypto.StampManager, log *audit.Log) *ChainDetector {
	return &ChainDetector{
		forge:      forge,
		stamps:     stamps,
		log:        log,
		clock:      time.Now,
		disengaged: make(map[string]bool),
		acks:       make(map[string][]time.Time),
	}
}

func (d *ChainDetector) key(target CommentTarget, prNumber int) string {
	return target.repoKey() + "#" + strconv.Itoa(prNumber)
}

// Evaluate decides what, if anything, to do about one PR in a precomputed
// chain graph. ancestry is the ordered list of ancestor PR numbers from the
// chain's root down to (but excluding) pr.Number; reviewComments supplies
// each PR's review comments, keyed by number.
func (d *ChainDetector) Evaluate(ctx context.Context, target CommentTarget, pr ports.PullRequest, depth int, ancestry []int, reviewComments map[int][]ports.ReviewComment) (Decision, error) {
	key := d.key(target, pr.Number)

	if IsWIP(pr) {
		return Decision{Skip: true}, nil
	}

	d.mu.Lock()
	already := d.disengaged[key]
	d.mu.Unlock()
	if already {
		return Decision{Skip: true, Disengaged: true}, nil
	}

	if depth >= maxChainDepth {
		return d.disengage(ctx, target, pr, key, fmt.Sprintf("chain depth %d reached the limit of %d", depth, maxChainDepth))
	}

	fingerprints := make([]string, 0, len(ancestry)+1)
	for _, num := range ancestry {
		fingerprints = append(fingerprints, latestFingerprint(reviewComments[num]))
	}
	fingerprints = append(fingerprints, latestFingerprint(reviewComments[pr.Number]))

	if shouldDisengageOnFeedback(depth, fingerprints) {
		return d.disengage(ctx, target, pr, key, "repeated review feedback detected across the PR chain")
	}

	return Decision{}, nil
}

// shouldDisengageOnFeedback reports whether at least feedbackConsecutiveReq
// consecutive adjacent fingerprint pairs overlap above threshold, at a
// chain depth of 2 or more (spec §4.12).
func shouldDisengageOnFeedback(depth int, fingerprints []string) bool {
	if depth < 2 || len(fingerprints) < feedbackConsecutiveReq+1 {
		return false
	}
	consecutive := 0
	for i := 1; i < len(fingerprints); i++ {
		if fingerprints[i-1] == "" || fingerprints[i] == "" {
			consecutive = 0
			continue
		}
		if jaccard(fingerprints[i-1], fingerprints[i]) > feedbackOverlapThresh {
			consecutive++
			if consecutive >= feedbackConsecutiveReq {
				return true
			}
		} else {
			consecutive = 0
		}
	}
	return false
}

func (d *ChainDetector) allowAck(key string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	cutoff := d.clock().Add(-ackWindow)
	kept := d.acks[key][:0]
	for _, t := range d.acks[key] {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	if len(kept) >= maxAcksPerWindow {
		d.acks[key] = kept
		return false
	}
	d.acks[key] = append(kept, d.clock())
	return true
}

func (d *ChainDetector) disengage(ctx context.Context, target CommentTarget, pr ports.PullRequest, key, reason string) (Decision, error) {
	if !d.allowAck(key) {
		return Decision{RateLimited: true}, nil
	}

	_, footer, err := d.stamps.Emit([]byte(reason))
	if err != nil {
		return Decision{}, fmt.Errorf("handlers: emit disengage stamp: %w", err)
	}
	body := fmt.Sprintf("🔁 Disengaging from this PR chain: %s. No further automated replies will be posted here.%s", reason, footer)
	if _, err := d.forge.AddPRComment(ctx, target.Owner, target.Repo, pr.Number, body); err != nil {
		return Decision{}, fmt.Errorf("handlers: post disengage comment: %w", err)
	}

	d.mu.Lock()
	d.disengaged[key] = true
	d.mu.Unlock()

	_, _ = d.log.Append(ctx, audit.AppendInput{
		ActionKind: "chain_disengage",
		Repo:       target.repoKey(),
		Target:     fmt.Sprintf("#%d", pr.Number),
		Decision:   "disengaged",
		Details:    reason,
	})

	return Decision{Disengaged: true}, nil
}
