package retrosim

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"retrosim/internal/audit"
	"retrosim/internal/cluster"
	"retrosim/internal/coherence"
	"retrosim/internal/engine"
	"retrosim/internal/evolution"
	"retrosim/internal/model"
	"retrosim/internal/retrodiction"
	"retrosim/internal/rules"
	"retrosim/internal/storage"
	"retrosim/internal/trust"
	"retrosim/internal/worldstate"
)

const (
	defaultDBPath            = "retrosim.db"
	defaultMutationTrailPath = "mutation_audit.jsonl"
	defaultTrustTrailPath    = "trust_trail.jsonl"
)

// ErrInvalidInput wraps failures to read or parse caller-supplied state,
// ground truth and forecast files.
var ErrInvalidInput = errors.New("invalid input file")

type Options struct {
	StoreKind         string
	DBPath            string
	RulesPath         string
	MutationTrailPath string
	TrustTrailPath    string
	DecayRate         float64
	Seed              int64
}

// Client wires the rule store, turn engine, retrodiction and trust layers
// behind one handle. It is the surface the CLI drives.
type Client struct {
	opts Options

	store      storage.Store
	rules      *rules.Store
	turns      *engine.Engine
	scorer     *trust.Scorer
	controller *evolution.Controller

	mutationTrail *audit.Trail
	trustTrail    *audit.Trail
	initialized   bool
}

type RunRequest struct {
	StatePath string
	Turns     int
	Overrides map[string]map[string]float64
}

type RunSummary struct {
	Turns       int
	Final       *worldstate.Snapshot
	Transitions []model.TransitionRecord
	Faults      []engine.Fault
}

type RetrodictRequest struct {
	StatePath string
	TruthPath string
	Mode      string
	Turns     int
}

type ScoreRequest struct {
	Paths   []string
	Workers int
	// RuleID optionally selects one rule to score from the firings observed
	// in the batch; the result is written back to the rule's trust score.
	RuleID string
}

type ScoreSummary struct {
	Entries  []model.TrustEntry
	Failures []trust.ItemFailure
	// RuleEntry is set when the request named a rule.
	RuleEntry *model.TrustEntry
}

func New(opts Options) (*Client, error) {
	if opts.DBPath == "" {
		opts.DBPath = defaultDBPath
	}
	if opts.MutationTrailPath == "" {
		opts.MutationTrailPath = defaultMutationTrailPath
	}
	if opts.TrustTrailPath == "" {
		opts.TrustTrailPath = defaultTrustTrailPath
	}

	store, err := storage.NewStore(opts.StoreKind, opts.DBPath)
	if err != nil {
		return nil, err
	}

	return &Client{
		opts:  opts,
		store: store,
		rules: rules.NewStore(),
	}, nil
}

// Init loads the rule registry, opens both audit trails and builds the
// engine, scorer and controller. Trust entries already on the trust trail
// seed the scorer, so phase decisions survive process restarts. Init is
// idempotent.
func (c *Client) Init(ctx context.Context) error {
	if c.initialized {
		return nil
	}

	if err := c.store.Init(ctx); err != nil {
		return err
	}

	if c.opts.RulesPath != "" {
		if err := c.rules.Load(rules.FileSource{Path: c.opts.RulesPath}); err != nil {
			return err
		}
		for _, rule := range c.rules.All() {
			if err := c.store.SaveRule(ctx, rule); err != nil {
				return err
			}
		}
	}

	mutationTrail, err := audit.Open(c.opts.MutationTrailPath)
	if err != nil {
		return err
	}
	trustTrail, err := audit.Open(c.opts.TrustTrailPath)
	if err != nil {
		_ = mutationTrail.Close()
		return err
	}

	turns, err := engine.New(c.rules, engine.Config{DecayRate: c.opts.DecayRate})
	if err != nil {
		_ = mutationTrail.Close()
		_ = trustTrail.Close()
		return err
	}

	scorer := trust.NewScorer(trust.Config{Trail: trustTrail})
	seed, err := audit.ReadTrustEntries(c.opts.TrustTrailPath)
	if err != nil {
		_ = mutationTrail.Close()
		_ = trustTrail.Close()
		return err
	}
	scorer.SeedHistory(seed)

	controller, err := evolution.New(c.rules, scorer, mutationTrail, evolution.Config{Seed: c.opts.Seed})
	if err != nil {
		_ = mutationTrail.Close()
		_ = trustTrail.Close()
		return err
	}

	c.mutationTrail = mutationTrail
	c.trustTrail = trustTrail
	c.turns = turns
	c.scorer = scorer
	c.controller = controller
	c.initialized = true
	return nil
}

func (c *Client) Close() error {
	var errs []error
	if c.mutationTrail != nil {
		errs = append(errs, c.mutationTrail.Close())
	}
	if c.trustTrail != nil {
		errs = append(errs, c.trustTrail.Close())
	}
	errs = append(errs, storage.CloseIfSupported(c.store))
	return errors.Join(errs...)
}

// Run advances the world the requested number of turns, feeding transition
// records into the trust scorer as it goes.
func (c *Client) Run(ctx context.Context, req RunRequest) (RunSummary, error) {
	if err := c.Init(ctx); err != nil {
		return RunSummary{}, err
	}
	if req.Turns <= 0 {
		req.Turns = 1
	}

	state, err := loadSnapshot(req.StatePath)
	if err != nil {
		return RunSummary{}, err
	}

	summary := RunSummary{Turns: req.Turns}
	for step := 0; step < req.Turns; step++ {
		if err := ctx.Err(); err != nil {
			return summary, err
		}
		result, err := c.turns.Advance(state, req.Overrides)
		if err != nil {
			return summary, err
		}
		state = result.State
		summary.Transitions = append(summary.Transitions, result.Transitions...)
		summary.Faults = append(summary.Faults, result.Faults...)
		c.scorer.ObserveTransitions(result.Transitions)
	}
	summary.Final = state
	return summary, nil
}

// Retrodict replays the engine against recorded history and persists the
// resulting forecast records.
func (c *Client) Retrodict(ctx context.Context, req RetrodictRequest) ([]model.ForecastRecord, error) {
	if err := c.Init(ctx); err != nil {
		return nil, err
	}
	if req.Turns <= 0 {
		req.Turns = 1
	}

	state, err := loadSnapshot(req.StatePath)
	if err != nil {
		return nil, err
	}

	cfg := retrodiction.Config{Mode: retrodiction.InjectionMode(req.Mode)}
	if req.TruthPath != "" {
		loader, err := loadTruth(req.TruthPath)
		if err != nil {
			return nil, err
		}
		cfg.Loader = loader
	}

	replay, err := retrodiction.New(c.turns, cfg)
	if err != nil {
		return nil, err
	}

	records, err := replay.Run(ctx, state, req.Turns)
	if err != nil {
		return records, err
	}
	for _, record := range records {
		if err := c.store.SaveForecast(ctx, record); err != nil {
			return records, err
		}
	}
	return records, nil
}

// Score runs the trust scorer over batch forecast files, persisting the
// trust history of every scored trace. When the request names a rule, the
// firings observed in the batch are scored into a rule-level trust entry and
// written back to the registry, which is what moves a rule between
// autoevolution phases.
func (c *Client) Score(ctx context.Context, req ScoreRequest) (ScoreSummary, error) {
	if err := c.Init(ctx); err != nil {
		return ScoreSummary{}, err
	}
	if len(req.Paths) == 0 {
		return ScoreSummary{}, errors.New("score requires at least one forecast file")
	}
	if req.Workers <= 0 {
		req.Workers = 4
	}

	issues := coherence.Scan(c.rules)
	results := c.scorer.ScoreFiles(ctx, req.Paths, issues, req.Workers)

	var summary ScoreSummary
	for _, result := range results {
		if result.Err != nil {
			if errors.Is(result.Err, context.Canceled) || errors.Is(result.Err, context.DeadlineExceeded) {
				return summary, result.Err
			}
			return summary, fmt.Errorf("%w: score %s: %v", ErrInvalidInput, result.Path, result.Err)
		}
		summary.Entries = append(summary.Entries, result.Entries...)
		summary.Failures = append(summary.Failures, result.Failures...)
	}

	seen := map[string]struct{}{}
	for _, entry := range summary.Entries {
		if _, ok := seen[entry.ID]; ok {
			continue
		}
		seen[entry.ID] = struct{}{}
		if err := c.store.SaveTrustHistory(ctx, entry.ID, c.scorer.History(entry.ID)); err != nil {
			return summary, err
		}
	}

	if req.RuleID != "" {
		if _, ok := c.rules.Get(req.RuleID); !ok {
			return summary, fmt.Errorf("%w: %s", rules.ErrRuleNotFound, req.RuleID)
		}
		entry, err := c.scorer.ScoreRule(req.RuleID)
		if err != nil {
			return summary, err
		}
		if err := c.rules.UpdateTrust(req.RuleID, entry.Score); err != nil {
			return summary, err
		}
		if err := c.persistRule(ctx, req.RuleID); err != nil {
			return summary, err
		}
		if err := c.store.SaveTrustHistory(ctx, req.RuleID, c.scorer.History(req.RuleID)); err != nil {
			return summary, err
		}
		summary.RuleEntry = &entry
	}
	return summary, nil
}

// Mutate proposes (and unless dry-run, applies) a bounded parameter
// perturbation for one rule.
func (c *Client) Mutate(ctx context.Context, ruleID string, dryRun bool) (*model.MutationProposal, error) {
	if err := c.Init(ctx); err != nil {
		return nil, err
	}
	proposal, err := c.controller.ProposeMutation(ruleID, dryRun)
	if err != nil {
		return nil, err
	}
	if err := c.persistRule(ctx, ruleID); err != nil {
		return proposal, err
	}
	if err := c.mirrorAudit(ctx, 1); err != nil {
		return proposal, err
	}
	return proposal, nil
}

// Deprecate disables a rule. Deprecating an already-disabled rule is a no-op
// that still leaves an audit entry.
func (c *Client) Deprecate(ctx context.Context, ruleID string, dryRun bool) (bool, error) {
	if err := c.Init(ctx); err != nil {
		return false, err
	}
	applied, err := c.controller.Deprecate(ruleID, dryRun)
	if err != nil {
		return false, err
	}
	if err := c.persistRule(ctx, ruleID); err != nil {
		return applied, err
	}
	if err := c.mirrorAudit(ctx, 1); err != nil {
		return applied, err
	}
	return applied, nil
}

// PromoteCandidates re-enables every disabled rule whose recent trust history
// sustains above the promotion threshold.
func (c *Client) PromoteCandidates(ctx context.Context) ([]string, error) {
	if err := c.Init(ctx); err != nil {
		return nil, err
	}
	promoted, err := c.controller.PromoteCandidates()
	if err != nil {
		return nil, err
	}
	for _, ruleID := range promoted {
		if err := c.persistRule(ctx, ruleID); err != nil {
			return promoted, err
		}
	}
	if len(promoted) > 0 {
		if err := c.mirrorAudit(ctx, len(promoted)); err != nil {
			return promoted, err
		}
	}
	return promoted, nil
}

// AuditSummary returns the last n mutation audit entries, oldest first.
func (c *Client) AuditSummary(ctx context.Context, n int) ([]model.AuditEntry, error) {
	if err := c.Init(ctx); err != nil {
		return nil, err
	}
	return c.controller.AuditSummary(n)
}

// Clusters summarizes rules grouped by domain with mutation-derived
// volatility.
func (c *Client) Clusters(ctx context.Context, window int) ([]model.ClusterSummary, error) {
	if err := c.Init(ctx); err != nil {
		return nil, err
	}
	if window <= 0 {
		window = 20
	}
	trail, err := audit.ReadAuditEntries(c.opts.MutationTrailPath, 0)
	if err != nil {
		return nil, err
	}
	return cluster.Summarize(c.rules, trail, window), nil
}

// Scan runs the coherence checker over the loaded rule registry.
func (c *Client) Scan(ctx context.Context) ([]coherence.Issue, error) {
	if err := c.Init(ctx); err != nil {
		return nil, err
	}
	return coherence.Scan(c.rules), nil
}

func (c *Client) persistRule(ctx context.Context, ruleID string) error {
	rule, ok := c.rules.Get(ruleID)
	if !ok {
		return nil
	}
	return c.store.SaveRule(ctx, rule)
}

func (c *Client) mirrorAudit(ctx context.Context, n int) error {
	entries, err := c.controller.AuditSummary(n)
	if err != nil {
		return err
	}
	for _, entry := range entries {
		if err := c.store.AppendAudit(ctx, entry); err != nil {
			return err
		}
	}
	return nil
}

func loadSnapshot(path string) (*worldstate.Snapshot, error) {
	if path == "" {
		return worldstate.New(), nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: read state file: %v", ErrInvalidInput, err)
	}
	state := worldstate.New()
	if err := json.Unmarshal(raw, state); err != nil {
		return nil, fmt.Errorf("%w: parse state file: %v", ErrInvalidInput, err)
	}
	return state, nil
}

func loadTruth(path string) (retrodiction.MemoryLoader, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: read ground truth file: %v", ErrInvalidInput, err)
	}
	var snapshots []*worldstate.Snapshot
	if err := json.Unmarshal(raw, &snapshots); err != nil {
		return nil, fmt.Errorf("%w: parse ground truth file: %v", ErrInvalidInput, err)
	}
	loader := make(retrodiction.MemoryLoader, len(snapshots))
	for _, snapshot := range snapshots {
		if snapshot == nil {
			continue
		}
		loader[snapshot.Turn] = snapshot
	}
	return loader, nil
}
