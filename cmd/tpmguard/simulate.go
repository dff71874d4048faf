package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/samber/lo"
	"github.com/spf13/cobra"

	"github.com/omarluq/tpmguard/internal/di"
	"github.com/omarluq/tpmguard/internal/logging"
	"github.com/omarluq/tpmguard/internal/quota"
	"github.com/omarluq/tpmguard/internal/ratelimit"
)

// Caller outcomes reported by simulate.
const (
	outcomeGranted = "granted"
	outcomeWaited  = "waited"
	outcomeDenied  = "denied"
	outcomeFailed  = "failed"
)

// waitThreshold separates a granted call from one that slept for a refill.
const waitThreshold = 5 * time.Millisecond

var simulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "Run concurrent callers against a provider quota",
	Long: `Start a number of concurrent callers that each consume tokens from the
bucket for one provider and direction, using the quota table from the config
file, then print how many were granted, waited or denied.`,
	RunE: runSimulate,
}

func init() {
	flags := simulateCmd.Flags()
	flags.String("provider", string(quota.Anthropic), "provider name")
	flags.String("direction", string(quota.Input), "input or output")
	flags.Int("callers", 10, "number of concurrent callers")
	flags.Float64("tokens", 1000, "tokens each caller consumes")
	flags.Float64("rpm", 0, "requests-per-minute hint, 0 for none")
	flags.Bool("no-wait", false, "deny instead of waiting for a refill")
	flags.Duration("timeout", time.Minute, "overall deadline for the run")
	flags.Bool("json", false, "print the report as JSON")
	rootCmd.AddCommand(simulateCmd)
}

type simulateOptions struct {
	provider  quota.Provider
	direction quota.Direction
	callers   int
	tokens    float64
	rpm       float64
	noWait    bool
}

// simulateReport summarizes a run.
type simulateReport struct {
	Bucket  *ratelimit.KeyedSnapshot `json:"bucket,omitempty"`
	Key     string                   `json:"key"`
	Callers int                      `json:"callers"`
	Granted int                      `json:"granted"`
	Waited  int                      `json:"waited"`
	Denied  int                      `json:"denied"`
	Failed  int                      `json:"failed"`
	Elapsed time.Duration            `json:"elapsed_ns"`
}

func runSimulate(cmd *cobra.Command, _ []string) error {
	opts, err := simulateOptionsFromFlags(cmd)
	if err != nil {
		return err
	}
	timeout, err := cmd.Flags().GetDuration("timeout")
	if err != nil {
		return fmt.Errorf("failed to get timeout flag: %w", err)
	}
	asJSON, err := cmd.Flags().GetBool("json")
	if err != nil {
		return fmt.Errorf("failed to get json flag: %w", err)
	}

	container, err := di.NewContainer(configPath())
	if err != nil {
		return err
	}
	defer shutdownQuietly(container)

	logSvc := di.MustInvoke[*di.LoggerService](container)
	logSvc.Install()
	limiterSvc, err := di.Invoke[*di.LimiterService](container)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(logSvc.Logger.WithContext(cmd.Context()), timeout)
	defer cancel()

	report, err := simulate(ctx, limiterSvc.Limiter, opts)
	if err != nil {
		return err
	}
	return printReport(cmd.OutOrStdout(), report, asJSON)
}

func simulateOptionsFromFlags(cmd *cobra.Command) (simulateOptions, error) {
	flags := cmd.Flags()
	provider, err := flags.GetString("provider")
	if err != nil {
		return simulateOptions{}, fmt.Errorf("failed to get provider flag: %w", err)
	}
	direction, err := flags.GetString("direction")
	if err != nil {
		return simulateOptions{}, fmt.Errorf("failed to get direction flag: %w", err)
	}
	callers, err := flags.GetInt("callers")
	if err != nil {
		return simulateOptions{}, fmt.Errorf("failed to get callers flag: %w", err)
	}
	if callers < 1 {
		return simulateOptions{}, fmt.Errorf("--callers must be at least 1, got %d", callers)
	}
	tokens, err := flags.GetFloat64("tokens")
	if err != nil {
		return simulateOptions{}, fmt.Errorf("failed to get tokens flag: %w", err)
	}
	rpm, err := flags.GetFloat64("rpm")
	if err != nil {
		return simulateOptions{}, fmt.Errorf("failed to get rpm flag: %w", err)
	}
	noWait, err := flags.GetBool("no-wait")
	if err != nil {
		return simulateOptions{}, fmt.Errorf("failed to get no-wait flag: %w", err)
	}

	return simulateOptions{
		provider:  quota.Provider(provider),
		direction: quota.Direction(direction),
		callers:   callers,
		tokens:    tokens,
		rpm:       rpm,
		noWait:    noWait,
	}, nil
}

// simulate starts opts.callers goroutines against limiter and tallies their outcomes.
// Each caller gets its own caller ID on its context logger.
func simulate(ctx context.Context, limiter *quota.Limiter, opts simulateOptions) (simulateReport, error) {
	key := quota.Key(opts.provider, opts.direction)
	if limiter.Quota(opts.provider, opts.direction).IsAbsent() {
		return simulateReport{}, fmt.Errorf("%w: %s", quota.ErrUnknownQuota, key)
	}

	consumeOpts := []quota.ConsumeOption{}
	if opts.rpm > 0 {
		consumeOpts = append(consumeOpts, quota.WithRPM(opts.rpm))
	}
	if opts.noWait {
		consumeOpts = append(consumeOpts, quota.WithoutWait())
	}

	outcomes := make([]string, opts.callers)
	start := time.Now()

	var wg sync.WaitGroup
	for i := range opts.callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			callerCtx := logging.AddCallerID(ctx, "")
			outcomes[i] = consumeOnce(callerCtx, limiter, opts, consumeOpts)
		}()
	}
	wg.Wait()

	counts := lo.CountValues(outcomes)
	report := simulateReport{
		Key:     key,
		Callers: opts.callers,
		Granted: counts[outcomeGranted],
		Waited:  counts[outcomeWaited],
		Denied:  counts[outcomeDenied],
		Failed:  counts[outcomeFailed],
		Elapsed: time.Since(start),
	}
	if bucket, ok := limiter.Manager().Lookup(key).Get(); ok {
		report.Bucket = &ratelimit.KeyedSnapshot{Key: key, Snapshot: bucket.Snapshot()}
	}
	return report, nil
}

func consumeOnce(
	ctx context.Context,
	limiter *quota.Limiter,
	opts simulateOptions,
	consumeOpts []quota.ConsumeOption,
) string {
	logger := zerolog.Ctx(ctx)
	began := time.Now()

	allowed, err := limiter.Consume(ctx, opts.provider, opts.direction, opts.tokens, consumeOpts...)
	took := time.Since(began)

	switch {
	case err != nil:
		logger.Warn().Err(err).Dur("took", took).Msg("consume failed")
		return outcomeFailed
	case !allowed:
		logger.Debug().Float64("tokens", opts.tokens).Msg("denied")
		return outcomeDenied
	case took >= waitThreshold:
		logger.Debug().Float64("tokens", opts.tokens).Dur("took", took).Msg("granted after wait")
		return outcomeWaited
	default:
		logger.Debug().Float64("tokens", opts.tokens).Msg("granted")
		return outcomeGranted
	}
}

func printReport(w io.Writer, report simulateReport, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	}

	_, err := fmt.Fprintf(w,
		"%s: %d callers in %s\n  granted: %d\n  waited:  %d\n  denied:  %d\n  failed:  %d\n",
		report.Key, report.Callers, report.Elapsed.Round(time.Millisecond),
		report.Granted, report.Waited, report.Denied, report.Failed,
	)
	if err != nil {
		return err
	}
	if report.Bucket != nil {
		_, err = fmt.Fprintf(w, "  bucket:  %.0f of %.0f tokens available (%.0f tpm)\n",
			report.Bucket.Available, report.Bucket.MaxCapacity, report.Bucket.TokensPerMinute)
	}
	return err
}
