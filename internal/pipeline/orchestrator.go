package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/argus-dev/argus/internal/audit"
	"github.com/argus-dev/argus/internal/crypto"
	"github.com/argus-dev/argus/internal/domain"
	"github.com/argus-dev/argus/internal/handlers"
	"github.com/argus-dev/argus/internal/ports"
	"github.com/argus-dev/argus/internal/security"
)

// Default tuning values, overridden by OrchestratorConfig when set.
const (
	defaultPollInterval = 5 * time.Minute
	defaultMaxIter      = 5

	// forgeRetryMaxElapsed bounds a handful of fast in-tick retries for a
	// transient forge failure; anything still failing after this window
	// falls back to TransientForgeError and waits for the next poll tick.
	forgeRetryMaxElapsed = 15 * time.Second
)

// OrchestratorConfig holds the operator-tunable knobs for a run (spec §5).
type OrchestratorConfig struct {
	MaxConcurrentIssues int
	MaxCodingIterations int
	DefaultPollInterval time.Duration
	BranchPrefix        string
	DryRun              bool
	StuckAfter          time.Duration // 0 disables the watchdog
}

func (c OrchestratorConfig) withDefaults() OrchestratorConfig {
	if c.MaxConcurrentIssues <= 0 {
		c.MaxConcurrentIssues = 3
	}
	if c.MaxCodingIterations <= 0 {
		c.MaxCodingIterations = defaultMaxIter
	}
	if c.DefaultPollInterval <= 0 {
		c.DefaultPollInterval = defaultPollInterval
	}
	if c.BranchPrefix == "" {
		c.BranchPrefix = "argus/"
	}
	return c
}

type trackedState struct {
	state domain.IssueState
	since time.Time
}

// Orchestrator drives every tracked issue through the pipeline state machine
// (spec §4.1): it polls each watched repo on its own schedule, fans work out
// to a bounded pool of concurrent issue workers, and wires the evaluator,
// investigator, coder and the moderation/competing-work handlers together.
type Orchestrator struct {
	forge    ports.Forge
	notifier ports.Notifier
	log      *audit.Log
	stamps   *crypto.StampManager

	evaluator    *Evaluator
	investigator *Investigator
	coder        *Coder
	editDetector *EditDetector

	comments  *handlers.CommentHandler
	chain     *handlers.ChainDetector
	analyzer  *handlers.Analyzer
	synthesis *handlers.SynthesisPlanner
	resolver  *security.Resolver

	cfg   OrchestratorConfig
	clock func() time.Time

	mu         sync.Mutex
	tracked    map[string]*domain.TrackedIssue
	lastPoll   map[string]time.Time
	stateSince map[string]trackedState
}

// NewOrchestrator wires every pipeline stage and handler into a single
// driver. Callers assemble the stages themselves (NewEvaluator,
// NewInvestigator, NewCoder, NewEditDetector, handlers.New*) so tests can
// substitute fakes at any layer.
func NewOrchestrator(
	forge ports.Forge,
	notifier ports.Notifier,
	log *audit.Log,
	stamps *crypto.StampManager,
	evaluator *Evaluator,
	investigator *Investigator,
	coder *Coder,
	editDetector *EditDetector,
	comments *handlers.CommentHandler,
	chain *handlers.ChainDetector,
	analyzer *handlers.Analyzer,
	synthesis *handlers.SynthesisPlanner,
	cfg OrchestratorConfig,
) *Orchestrator {
	return &Orchestrator{
		forge:        forge,
		notifier:     notifier,
		log:          log,
		stamps:       stamps,
		evaluator:    evaluator,
		investigator: investigator,
		coder:        coder,
		editDetector: editDetector,
		comments:     comments,
		chain:        chain,
		analyzer:     analyzer,
		synthesis:    synthesis,
		resolver:     security.NewResolver(forge, nil),
		cfg:          cfg.withDefaults(),
		clock:        time.Now,
		tracked:      make(map[string]*domain.TrackedIssue),
		lastPoll:     make(map[string]time.Time),
		stateSince:   make(map[string]trackedState),
	}
}

// Run starts one polling loop per watched repo and blocks until ctx is
// cancelled, the operator's emergency-stop mechanism (spec §7).
func (o *Orchestrator) Run(ctx context.Context, repos []domain.RepoDescriptor) error {
	var wg sync.WaitGroup
	for _, repo := range repos {
		repo := repo
		wg.Add(1)
		go func() {
			defer wg.Done()
			o.pollLoop(ctx, repo)
		}()
	}
	wg.Wait()
	return ctx.Err()
}

// pollLoop ticks immediately, then on the repo's configured interval (or the
// operator-wide default) until ctx is done.
func (o *Orchestrator) pollLoop(ctx context.Context, repo domain.RepoDescriptor) {
	interval := repo.PollInterval
	if interval <= 0 {
		interval = o.cfg.DefaultPollInterval
	}

	o.pollRepo(ctx, repo)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			o.pollRepo(ctx, repo)
		}
	}
}

// pollRepo is the "poll" operation (spec §4.1): discover new issues, track
// them, run the chain detector across the repo's open PRs, then fan out
// process_next over every non-terminal tracked issue bounded by
// max_concurrent_issues.
func (o *Orchestrator) pollRepo(ctx context.Context, repo domain.RepoDescriptor) {
	if ctx.Err() != nil {
		return
	}

	since := o.lastPollTime(repo)
	issues, err := o.forge.ListIssuesUpdatedSince(ctx, repo.Owner, repo.Name, since)
	if err != nil {
		slog.Warn("pipeline: poll failed", "repo", repo.Key(), "error", err)
		return
	}
	o.setLastPollTime(repo)

	for _, gi := range issues {
		o.trackIfNew(ctx, repo, gi)
	}

	o.evaluateChains(ctx, repo)

	// A semaphore bounds how many issues run at once (max_concurrent_issues);
	// the errgroup just gives every worker a shared cancellable context so an
	// emergency stop reaches issues already in flight.
	sem := semaphore.NewWeighted(int64(o.cfg.MaxConcurrentIssues))
	g, gctx := errgroup.WithContext(ctx)
	for _, issue := range o.nonTerminalIssues(repo) {
		issue := issue
		if err := sem.Acquire(gctx, 1); err != nil {
			break // context cancelled: stop fanning out more workers
		}
		g.Go(func() error {
			defer sem.Release(1)
			o.processNext(gctx, repo, issue)
			return nil
		})
	}
	_ = g.Wait()
}

// processNext is "process_next" (spec §4.1): check for a stale body, apply
// the watchdog, then run one step of the state machine for this issue.
func (o *Orchestrator) processNext(ctx context.Context, repo domain.RepoDescriptor, issue *domain.TrackedIssue) {
	o.checkEdit(ctx, issue)

	if o.checkWatchdog(issue) {
		issue.State = domain.StateStuck
		issue.LastError = fmt.Sprintf("no progress for longer than %s", o.cfg.StuckAfter)
		o.auditSimple(issue, "watchdog", "stuck", issue.LastError)
		o.notify(ctx, "pipeline-error", issue, issue.LastError)
		return
	}

	o.process(ctx, repo, issue)
	issue.UpdatedAt = o.clock()
}

// process is the per-tick state machine step (spec §4.1).
func (o *Orchestrator) process(ctx context.Context, repo domain.RepoDescriptor, issue *domain.TrackedIssue) {
	switch issue.State {
	case domain.StatePending, domain.StateReEvaluate:
		o.stepEvaluate(ctx, repo, issue)
	case domain.StateApproved, domain.StateBranching:
		o.stepBranch(ctx, repo, issue)
	case domain.StateCoding, domain.StateIterating, domain.StateWaitingCI:
		o.stepCode(ctx, repo, issue)
	case domain.StatePROpen:
		o.stepPROpen(ctx, repo, issue)
	case domain.StateAnalyzingCompeting:
		o.stepAnalyzingCompeting(ctx, repo, issue)
	case domain.StateSynthesizing:
		o.stepSynthesizing(ctx, repo, issue)
	default:
		// terminal state: nothing to do until a future edit reopens it
	}
}

func (o *Orchestrator) stepEvaluate(ctx context.Context, repo domain.RepoDescriptor, issue *domain.TrackedIssue) {
	issue.State = domain.StateEvaluating
	gi, err := o.forge.GetIssue(ctx, repo.Owner, repo.Name, issue.Number)
	if err != nil {
		issue.State = domain.StatePending
		o.auditSimple(issue, "evaluate", "retry", (&TransientForgeError{Op: "get_issue", Err: err}).Error())
		return
	}
	issue.Title = gi.Title
	issue.URL = gi.URL
	issue.BodyHash = HashBody(gi.Body)

	branch, err := o.getDefaultBranch(ctx, repo)
	if err != nil {
		issue.State = domain.StatePending
		o.auditSimple(issue, "evaluate", "retry", err.Error())
		return
	}

	snapshot := o.buildSnapshot(ctx, repo, branch)
	eval, err := o.evaluator.Evaluate(ctx, repo.Owner, repo.Name, gi, snapshot)
	if err != nil {
		issue.State = domain.StateStuck
		issue.LastError = err.Error()
		o.auditSimple(issue, "evaluate", "stuck", err.Error())
		o.notify(ctx, "pipeline-error", issue, err.Error())
		return
	}
	issue.Evaluation = &eval

	if !eval.Merit {
		issue.State = domain.StateRejected
		o.auditSimple(issue, "evaluate", "rejected", eval.Reasoning)
		return
	}
	issue.State = domain.StateApproved
	o.auditSimple(issue, "evaluate", "approved", eval.Reasoning)
	o.notify(ctx, "evaluation", issue, eval.Reasoning)
}

func (o *Orchestrator) stepBranch(ctx context.Context, repo domain.RepoDescriptor, issue *domain.TrackedIssue) {
	issue.State = domain.StateBranching

	if o.cfg.DryRun {
		issue.Branch = fmt.Sprintf("%sissue-%d-dry-run", o.cfg.BranchPrefix, issue.Number)
		inv := o.investigator.Investigate(ctx, repo.Owner, repo.Name, issue.Branch, *issue.Evaluation)
		issue.Investigation = &inv
		issue.State = domain.StateCoding
		return
	}

	base, err := o.getDefaultBranch(ctx, repo)
	if err != nil {
		o.auditSimple(issue, "branch", "retry", err.Error())
		return
	}
	branch := fmt.Sprintf("%sissue-%d", o.cfg.BranchPrefix, issue.Number)
	if err := o.forge.CreateBranchFrom(ctx, repo.Owner, repo.Name, base, branch); err != nil {
		o.auditSimple(issue, "branch", "retry", (&TransientForgeError{Op: "create_branch", Err: err}).Error())
		return
	}
	issue.Branch = branch

	inv := o.investigator.Investigate(ctx, repo.Owner, repo.Name, branch, *issue.Evaluation)
	issue.Investigation = &inv
	issue.State = domain.StateCoding
}

func (o *Orchestrator) stepCode(ctx context.Context, repo domain.RepoDescriptor, issue *domain.TrackedIssue) {
	if issue.MaxIter <= 0 {
		issue.MaxIter = o.cfg.MaxCodingIterations
	}
	if err := o.coder.CodeIssue(ctx, issue, *issue.Evaluation, *issue.Investigation, o.cfg.DryRun); err != nil {
		issue.LastError = err.Error()
		issue.State = domain.StateStuck
		o.auditSimple(issue, "code", "stuck", err.Error())
		o.notify(ctx, "pipeline-error", issue, err.Error())
		return
	}

	if o.cfg.DryRun {
		issue.State = domain.StateDone
		return
	}

	if issue.PRNumber == 0 {
		base, err := o.getDefaultBranch(ctx, repo)
		if err != nil {
			o.auditSimple(issue, "code", "retry", err.Error())
			return
		}
		pr, err := o.forge.CreatePR(ctx, repo.Owner, repo.Name, prTitle(issue), prBody(issue), issue.Branch, base)
		if err != nil {
			o.auditSimple(issue, "code", "retry", (&TransientForgeError{Op: "create_pr", Err: err}).Error())
			return
		}
		issue.PRNumber = pr.Number
		issue.PRURL = pr.URL
		o.acknowledgePR(ctx, repo, issue, pr)
		o.notify(ctx, "pr-created", issue, pr.URL)
	}
	issue.State = domain.StatePROpen
}

// acknowledgePR posts a stamped comment on the source issue pointing at the
// PR that closes it (spec §8 scenario 1). The stamp is what lets a future
// poll's last-word check (hasOurLastWord) recognize this issue as already
// answered.
func (o *Orchestrator) acknowledgePR(ctx context.Context, repo domain.RepoDescriptor, issue *domain.TrackedIssue, pr ports.PullRequest) {
	body := fmt.Sprintf("Opened %s to fix this.", pr.URL)
	_, footer, err := o.stamps.Emit([]byte(body))
	if err != nil {
		slog.Warn("pipeline: emit PR-ack stamp failed", "issue", issue.Key(), "error", err)
		return
	}
	if _, err := o.forge.AddIssueComment(ctx, repo.Owner, repo.Name, issue.Number, body+footer); err != nil {
		slog.Warn("pipeline: post PR-ack comment failed", "issue", issue.Key(), "error", err)
	}
}

// getDefaultBranch retries a flaky default-branch lookup a few times within
// forgeRetryMaxElapsed before surfacing a TransientForgeError for the
// orchestrator's own tick-level retry to take over.
func (o *Orchestrator) getDefaultBranch(ctx context.Context, repo domain.RepoDescriptor) (string, error) {
	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = forgeRetryMaxElapsed

	var branch string
	err := backoff.Retry(func() error {
		b, err := o.forge.GetDefaultBranch(ctx, repo.Owner, repo.Name)
		if err != nil {
			return err
		}
		branch = b
		return nil
	}, backoff.WithContext(bo, ctx))
	if err != nil {
		return "", &TransientForgeError{Op: "get_default_branch", Err: err}
	}
	return branch, nil
}

func prTitle(issue *domain.TrackedIssue) string {
	return fmt.Sprintf("Fix #%d: %s", issue.Number, issue.Title)
}

func prBody(issue *domain.TrackedIssue) string {
	approach := ""
	if issue.Evaluation != nil {
		approach = issue.Evaluation.ProposedApproach
	}
	return fmt.Sprintf("Closes #%d.\n\n%s", issue.Number, approach)
}

// stepPROpen is "poll_pr_comments" plus competing-PR discovery (spec §4.1,
// §4.9, §4.11): moderate any new comments, then check for competing PRs
// opened against the same issue.
func (o *Orchestrator) stepPROpen(ctx context.Context, repo domain.RepoDescriptor, issue *domain.TrackedIssue) {
	o.pollPRComments(ctx, repo, issue)

	target := o.prTarget(repo, issue.PRNumber)
	competitors, err := o.analyzer.FindCompetitors(ctx, target, issue.Number, issue.PRNumber)
	if err != nil || len(competitors) == 0 {
		issue.State = domain.StateDone
		return
	}
	issue.State = domain.StateAnalyzingCompeting
}

// pollPRComments applies the last-word skip rule: any comment already
// carrying one of our own stamps is our prior output, not new input, so the
// comment handler never re-moderates its own work.
func (o *Orchestrator) pollPRComments(ctx context.Context, repo domain.RepoDescriptor, issue *domain.TrackedIssue) {
	if issue.PRNumber == 0 {
		return
	}
	target := o.prTarget(repo, issue.PRNumber)

	cs, err := o.forge.ListConversationComments(ctx, repo.Owner, repo.Name, issue.PRNumber)
	if err != nil {
		return
	}
	for _, c := range cs {
		if o.stamps.HasValidStamp(c.Body) {
			continue
		}
		if _, err := o.comments.Handle(ctx, target, c, false); err != nil {
			slog.Warn("pipeline: comment handler failed", "repo", repo.Key(), "pr", issue.PRNumber, "error", err)
		}
	}
}

func (o *Orchestrator) stepAnalyzingCompeting(ctx context.Context, repo domain.RepoDescriptor, issue *domain.TrackedIssue) {
	target := o.prTarget(repo, issue.PRNumber)

	ourPR, err := o.forge.GetPR(ctx, repo.Owner, repo.Name, issue.PRNumber)
	if err != nil {
		issue.State = domain.StatePROpen
		return
	}
	ours, err := o.analyzer.Score(ctx, target, ourPR, 1.0)
	if err != nil {
		issue.State = domain.StatePROpen
		return
	}

	competitors, err := o.analyzer.FindCompetitors(ctx, target, issue.Number, issue.PRNumber)
	if err != nil {
		issue.State = domain.StatePROpen
		return
	}

	scores := make([]domain.CompetitorScore, 0, len(competitors))
	for _, c := range competitors {
		trust := o.competitorTrust(ctx, repo, c.Author)
		score, err := o.analyzer.Score(ctx, target, c, trust)
		if err != nil {
			continue
		}
		scores = append(scores, score)
	}
	issue.CompetingAnalyses = scores
	o.notify(ctx, "competing-prs-analyzed", issue, fmt.Sprintf("%d competitor(s) scored", len(scores)))

	if handlers.ShouldSynthesize(ours.Composite, scores) {
		issue.State = domain.StateSynthesizing
		return
	}
	issue.State = domain.StateDone
}

func (o *Orchestrator) stepSynthesizing(ctx context.Context, repo domain.RepoDescriptor, issue *domain.TrackedIssue) {
	target := o.prTarget(repo, issue.PRNumber)

	ourPR, err := o.forge.GetPR(ctx, repo.Owner, repo.Name, issue.PRNumber)
	if err != nil {
		issue.State = domain.StateAnalyzingCompeting
		return
	}
	ours, err := o.analyzer.Score(ctx, target, ourPR, 1.0)
	if err != nil {
		issue.State = domain.StateAnalyzingCompeting
		return
	}

	plan, err := o.synthesis.Plan(ctx, target, issue.PRNumber, ours, issue.CompetingAnalyses)
	if err != nil {
		issue.State = domain.StateStuck
		issue.LastError = err.Error()
		return
	}
	if err := o.synthesis.PostPlan(ctx, target, issue.PRNumber, plan); err != nil {
		// retry next tick; the plan is cheap to recompute
		return
	}
	issue.State = domain.StateDone
}

// evaluateChains runs the loop/chain detector (spec §4.12) over every open
// PR in the repo, independent of which tracked issue (if any) it belongs to:
// chains can involve sub-agent PRs the orchestrator never opened itself.
func (o *Orchestrator) evaluateChains(ctx context.Context, repo domain.RepoDescriptor) {
	prs, err := o.forge.ListOpenPRs(ctx, repo.Owner, repo.Name)
	if err != nil {
		return
	}
	nodes := handlers.BuildGraph(prs)
	depths := handlers.ComputeDepths(nodes)

	for _, pr := range prs {
		ancestry := ancestorChain(nodes, pr.Number)

		reviewComments := make(map[int][]ports.ReviewComment, len(ancestry)+1)
		for _, num := range append(append([]int{}, ancestry...), pr.Number) {
			rc, err := o.forge.ListReviewComments(ctx, repo.Owner, repo.Name, num)
			if err == nil {
				reviewComments[num] = rc
			}
		}

		target := o.prTarget(repo, pr.Number)
		if _, err := o.chain.Evaluate(ctx, target, pr, depths[pr.Number], ancestry, reviewComments); err != nil {
			slog.Warn("pipeline: chain detector failed", "repo", repo.Key(), "pr", pr.Number, "error", err)
		}
	}
}

// ancestorChain walks a PR's single-parent lineage back to its root,
// oldest first, for the chain detector's feedback-repetition check.
func ancestorChain(nodes map[int]*domain.ChainNode, pr int) []int {
	var chain []int
	visited := map[int]bool{}
	cur := pr
	for {
		node, ok := nodes[cur]
		if !ok || len(node.Parents) == 0 || visited[cur] {
			break
		}
		visited[cur] = true
		parent := node.Parents[0]
		chain = append([]int{parent}, chain...)
		cur = parent
	}
	return chain
}

func (o *Orchestrator) competitorTrust(ctx context.Context, repo domain.RepoDescriptor, username string) float64 {
	profile, err := o.resolver.Resolve(ctx, string(repo.Platform), repo.Owner, repo.Name, username)
	if err != nil {
		return domain.TierUnknown.BaseScore()
	}
	return profile.EffectiveScore
}

func (o *Orchestrator) checkEdit(ctx context.Context, issue *domain.TrackedIssue) {
	if issue.State == domain.StatePending || issue.BodyHash == "" {
		return
	}
	res, err := o.editDetector.Check(ctx, issue)
	if err != nil {
		return
	}
	switch ClassifyEdit(issue.State, res) {
	case EditFlag:
		// An edit mid-fix invalidates whatever the coder is already doing
		// against the old body; halt rather than push a stale fix further.
		issue.State = domain.StateFlagged
		issue.BodyHash = res.NewHash
		o.auditSimple(issue, "edit_detected", "flagged", ErrEditDetected.Error())
		o.notify(ctx, "pipeline-error", issue, ErrEditDetected.Error())
	case EditReEvaluate:
		issue.State = domain.StateReEvaluate
		issue.BodyHash = res.NewHash
		o.auditSimple(issue, "edit_detected", "re-evaluate", ErrEditDetected.Error())
	}
}

// checkWatchdog reports whether issue has been sitting in the same
// non-terminal state for longer than StuckAfter (spec §7). It also records
// the current state as a side effect, so a state transition always resets
// the clock for the next call.
func (o *Orchestrator) checkWatchdog(issue *domain.TrackedIssue) bool {
	if o.cfg.StuckAfter <= 0 || issue.State.Terminal() {
		return false
	}
	key := issue.Key()
	now := o.clock()

	o.mu.Lock()
	defer o.mu.Unlock()
	st, ok := o.stateSince[key]
	if !ok || st.state != issue.State {
		o.stateSince[key] = trackedState{state: issue.State, since: now}
		return false
	}
	return now.Sub(st.since) > o.cfg.StuckAfter
}

// trackIfNew starts tracking an issue the first time poll sees it. An issue
// whose last comment already carries one of our own stamps is our own prior
// "last word" (spec §4.1): we answered it already and nothing has spoken
// since, so it's tracked straight into a terminal state instead of being
// run through the pipeline again.
func (o *Orchestrator) trackIfNew(ctx context.Context, repo domain.RepoDescriptor, gi ports.Issue) *domain.TrackedIssue {
	key := repo.Key() + "#" + strconv.Itoa(gi.Number)

	o.mu.Lock()
	if existing, ok := o.tracked[key]; ok {
		o.mu.Unlock()
		return existing
	}
	o.mu.Unlock()

	issue := &domain.TrackedIssue{
		Repo:      repo,
		Number:    gi.Number,
		Title:     gi.Title,
		URL:       gi.URL,
		State:     domain.StatePending,
		MaxIter:   o.cfg.MaxCodingIterations,
		CreatedAt: o.clock(),
		UpdatedAt: o.clock(),
	}
	if o.hasOurLastWord(ctx, repo, gi.Number) {
		issue.State = domain.StateDone
		o.auditSimple(issue, "poll", "skip", "last comment already carries our stamp")
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	if existing, ok := o.tracked[key]; ok {
		return existing
	}
	o.tracked[key] = issue
	return issue
}

// hasOurLastWord reports whether the most recent comment on the issue is
// already stamped by this instance.
func (o *Orchestrator) hasOurLastWord(ctx context.Context, repo domain.RepoDescriptor, number int) bool {
	comments, err := o.forge.ListIssueComments(ctx, repo.Owner, repo.Name, number)
	if err != nil || len(comments) == 0 {
		return false
	}
	last := comments[len(comments)-1]
	return o.stamps.HasValidStamp(last.Body)
}

func (o *Orchestrator) nonTerminalIssues(repo domain.RepoDescriptor) []*domain.TrackedIssue {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]*domain.TrackedIssue, 0, len(o.tracked))
	for _, issue := range o.tracked {
		if issue.Repo.Key() == repo.Key() && !issue.State.Terminal() {
			out = append(out, issue)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Number < out[j].Number })
	return out
}

func (o *Orchestrator) lastPollTime(repo domain.RepoDescriptor) time.Time {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.lastPoll[repo.Key()]
}

func (o *Orchestrator) setLastPollTime(repo domain.RepoDescriptor) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.lastPoll[repo.Key()] = o.clock()
}

func (o *Orchestrator) buildSnapshot(ctx context.Context, repo domain.RepoDescriptor, branch string) RepoSnapshot {
	readme, _ := o.forge.GetFileContent(ctx, repo.Owner, repo.Name, branch, "README.md")
	entries, _ := o.forge.ListTree(ctx, repo.Owner, repo.Name, branch, "", true)

	manifests := make(map[string]string, 2)
	for _, candidate := range []string{"go.mod", "package.json"} {
		if content, err := o.forge.GetFileContent(ctx, repo.Owner, repo.Name, branch, candidate); err == nil {
			manifests[candidate] = content
		}
	}

	paths := make([]string, 0, len(entries))
	for _, e := range entries {
		paths = append(paths, e.Path)
	}

	return RepoSnapshot{Branch: branch, Readme: readme, Manifests: manifests, TreePaths: paths}
}

func (o *Orchestrator) prTarget(repo domain.RepoDescriptor, prNumber int) handlers.CommentTarget {
	return handlers.CommentTarget{Platform: repo.Platform, Owner: repo.Owner, Repo: repo.Name, Number: prNumber, IsPR: true}
}

func (o *Orchestrator) auditSimple(issue *domain.TrackedIssue, actionKind, decision, details string) {
	if o.log == nil {
		return
	}
	if _, err := o.log.Append(context.Background(), auditAppendInput(actionKind, issue, decision, details)); err != nil {
		slog.Warn("pipeline: audit append failed", "issue", issue.Key(), "error", err)
	}
}

func (o *Orchestrator) notify(ctx context.Context, event string, issue *domain.TrackedIssue, detail string) {
	if o.notifier == nil {
		return
	}
	if err := o.notifier.Notify(ctx, event, map[string]string{
		"repo":   issue.Repo.Key(),
		"issue":  strconv.Itoa(issue.Number),
		"state":  string(issue.State),
		"detail": detail,
	}); err != nil {
		slog.Warn("pipeline: notify failed", "event", event, "error", err)
	}
}

