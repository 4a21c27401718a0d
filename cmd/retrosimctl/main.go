package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"

	"retrosim/internal/rules"
	"retrosim/internal/trust"
	simapi "retrosim/pkg/retrosim"
)

func main() {
	if err := run(context.Background(), os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(exitCode(err))
	}
}

// exitCode maps error classes for scripting: 1 for unknown rules and general
// failures, 2 for unreadable or malformed input files.
func exitCode(err error) int {
	switch {
	case errors.Is(err, simapi.ErrInvalidInput),
		errors.Is(err, rules.ErrRegistryLoad),
		errors.Is(err, trust.ErrMalformedForecastRecord):
		return 2
	default:
		return 1
	}
}

func run(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return usageError("missing command")
	}

	switch args[0] {
	case "run":
		return runRun(ctx, args[1:])
	case "retrodict":
		return runRetrodict(ctx, args[1:])
	case "mutate":
		return runMutate(ctx, args[1:])
	case "deprecate":
		return runDeprecate(ctx, args[1:])
	case "score":
		return runScore(ctx, args[1:])
	case "promote-candidates":
		return runPromoteCandidates(ctx, args[1:])
	case "audit-summary":
		return runAuditSummary(ctx, args[1:])
	case "clusters":
		return runClusters(ctx, args[1:])
	case "scan":
		return runScan(ctx, args[1:])
	default:
		return usageError(fmt.Sprintf("unknown command: %s", args[0]))
	}
}

func usageError(msg string) error {
	return fmt.Errorf("%s\nusage: retrosimctl <run|retrodict|mutate|deprecate|score|promote-candidates|audit-summary|clusters|scan> [flags]", msg)
}

type commonFlags struct {
	storeKind     *string
	dbPath        *string
	rulesPath     *string
	mutationTrail *string
	trustTrail    *string
	seed          *int64
}

func registerCommonFlags(fs *flag.FlagSet) commonFlags {
	return commonFlags{
		storeKind:     fs.String("store", "memory", "store backend: memory|sqlite"),
		dbPath:        fs.String("db-path", "retrosim.db", "sqlite database path"),
		rulesPath:     fs.String("rules", "", "rule definition JSON path"),
		mutationTrail: fs.String("mutation-trail", "mutation_audit.jsonl", "mutation audit trail path"),
		trustTrail:    fs.String("trust-trail", "trust_trail.jsonl", "trust history trail path"),
		seed:          fs.Int64("seed", 0, "rng seed (0 uses wall clock)"),
	}
}

func newClient(flags commonFlags, decayRate float64) (*simapi.Client, error) {
	return simapi.New(simapi.Options{
		StoreKind:         *flags.storeKind,
		DBPath:            *flags.dbPath,
		RulesPath:         *flags.rulesPath,
		MutationTrailPath: *flags.mutationTrail,
		TrustTrailPath:    *flags.trustTrail,
		DecayRate:         decayRate,
		Seed:              *flags.seed,
	})
}

func runRun(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	flags := registerCommonFlags(fs)
	statePath := fs.String("state", "", "initial world state JSON path (empty starts from a blank world)")
	turns := fs.Int("turns", 1, "turn count")
	decayRate := fs.Float64("decay-rate", 0, "overlay decay rate toward the neutral baseline")
	if err := fs.Parse(args); err != nil {
		return err
	}

	client, err := newClient(flags, *decayRate)
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()

	summary, err := client.Run(ctx, simapi.RunRequest{StatePath: *statePath, Turns: *turns})
	if err != nil {
		return err
	}

	fmt.Printf("advanced turns=%d fired=%d faults=%d\n", summary.Turns, len(summary.Transitions), len(summary.Faults))
	return printJSON(summary.Final)
}

func runRetrodict(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("retrodict", flag.ContinueOnError)
	flags := registerCommonFlags(fs)
	statePath := fs.String("state", "", "initial world state JSON path")
	truthPath := fs.String("truth", "", "ground truth snapshot array JSON path")
	mode := fs.String("mode", "seed_then_free", "injection mode: seed_then_free|strict_injection")
	turns := fs.Int("turns", 1, "turn count")
	if err := fs.Parse(args); err != nil {
		return err
	}

	client, err := newClient(flags, 0)
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()

	records, err := client.Retrodict(ctx, simapi.RetrodictRequest{
		StatePath: *statePath,
		TruthPath: *truthPath,
		Mode:      *mode,
		Turns:     *turns,
	})
	if err != nil {
		return err
	}

	fmt.Printf("retrodicted turns=%d mode=%s\n", len(records), *mode)
	return printJSON(records)
}

func runMutate(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("mutate", flag.ContinueOnError)
	flags := registerCommonFlags(fs)
	ruleID := fs.String("rule", "", "rule id to mutate")
	dryRun := fs.Bool("dry-run", false, "propose without applying")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *ruleID == "" {
		return usageError("mutate requires -rule")
	}

	client, err := newClient(flags, 0)
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()

	proposal, err := client.Mutate(ctx, *ruleID, *dryRun)
	if err != nil {
		return err
	}

	fmt.Printf("mutation rule=%s accepted=%t dry_run=%t\n", proposal.RuleID, proposal.Accepted, proposal.DryRun)
	return printJSON(proposal)
}

func runDeprecate(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("deprecate", flag.ContinueOnError)
	flags := registerCommonFlags(fs)
	ruleID := fs.String("rule", "", "rule id to deprecate")
	dryRun := fs.Bool("dry-run", false, "propose without applying")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *ruleID == "" {
		return usageError("deprecate requires -rule")
	}

	client, err := newClient(flags, 0)
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()

	applied, err := client.Deprecate(ctx, *ruleID, *dryRun)
	if err != nil {
		return err
	}

	fmt.Printf("deprecate rule=%s applied=%t dry_run=%t\n", *ruleID, applied, *dryRun)
	return nil
}

func runScore(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("score", flag.ContinueOnError)
	flags := registerCommonFlags(fs)
	forecasts := fs.String("forecasts", "", "comma-separated forecast JSONL paths")
	workers := fs.Int("workers", 4, "worker count")
	ruleID := fs.String("rule", "", "also score this rule from the observed firings")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *forecasts == "" {
		return usageError("score requires -forecasts")
	}

	client, err := newClient(flags, 0)
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()

	summary, err := client.Score(ctx, simapi.ScoreRequest{
		Paths:   strings.Split(*forecasts, ","),
		Workers: *workers,
		RuleID:  *ruleID,
	})
	if err != nil {
		return err
	}

	fmt.Printf("scored entries=%d skipped=%d\n", len(summary.Entries), len(summary.Failures))
	if summary.RuleEntry != nil {
		fmt.Printf("rule %s trust=%.3f\n", summary.RuleEntry.ID, summary.RuleEntry.Score)
	}
	for _, failure := range summary.Failures {
		fmt.Fprintf(os.Stderr, "skipped %s:%d: %v\n", failure.Path, failure.Line, failure.Err)
	}
	return printJSON(summary.Entries)
}

func runPromoteCandidates(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("promote-candidates", flag.ContinueOnError)
	flags := registerCommonFlags(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}

	client, err := newClient(flags, 0)
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()

	promoted, err := client.PromoteCandidates(ctx)
	if err != nil {
		return err
	}

	fmt.Printf("promoted=%d\n", len(promoted))
	for _, ruleID := range promoted {
		fmt.Println(ruleID)
	}
	return nil
}

func runAuditSummary(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("audit-summary", flag.ContinueOnError)
	flags := registerCommonFlags(fs)
	limit := fs.Int("n", 20, "number of trailing entries")
	if err := fs.Parse(args); err != nil {
		return err
	}

	client, err := newClient(flags, 0)
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()

	entries, err := client.AuditSummary(ctx, *limit)
	if err != nil {
		return err
	}
	return printJSON(entries)
}

func runClusters(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("clusters", flag.ContinueOnError)
	flags := registerCommonFlags(fs)
	window := fs.Int("window", 20, "volatility normalization window")
	if err := fs.Parse(args); err != nil {
		return err
	}

	client, err := newClient(flags, 0)
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()

	summaries, err := client.Clusters(ctx, *window)
	if err != nil {
		return err
	}
	return printJSON(summaries)
}

func runScan(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("scan", flag.ContinueOnError)
	flags := registerCommonFlags(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}

	client, err := newClient(flags, 0)
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()

	issues, err := client.Scan(ctx)
	if err != nil {
		return err
	}

	fmt.Printf("issues=%d\n", len(issues))
	return printJSON(issues)
}

func printJSON(v any) error {
	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	return encoder.Encode(v)
}
