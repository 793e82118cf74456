// Package batch runs independent reconstructions concurrently.
package batch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"musrmaxent/pkg/config"
	"musrmaxent/pkg/logging"
	"musrmaxent/pkg/metrics"
	"musrmaxent/pkg/reconstruction"
)

// RunResult is the outcome of one reconstruction in a batch.
type RunResult struct {
	Index   int
	RunID   string
	Seed    uint64
	Metrics reconstruction.ValidationMetrics

	// Err is set when the run failed outright.
	Err error
}

// Summary collects the results of a batch in run order.
type Summary struct {
	Results      []RunResult
	Converged    int
	NotConverged int
	Failed       int
	Duration     time.Duration
}

// Options configures a Runner.
type Options struct {
	// Workers bounds concurrent reconstructions. Zero uses the config.
	Workers int

	Logger   *slog.Logger
	Recorder *metrics.Recorder
}

// Runner fans reconstructions of one configuration out over workers. Run i
// uses noise seed Simulation.Seed + i.
type Runner struct {
	cfg      *config.Config
	workers  int
	logger   *slog.Logger
	recorder *metrics.Recorder
}

// NewRunner creates a runner for cfg.
func NewRunner(cfg *config.Config, opts Options) *Runner {
	workers := opts.Workers
	if workers <= 0 {
		workers = cfg.Batch.Workers
	}
	if workers <= 0 {
		workers = 1
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	return &Runner{cfg: cfg, workers: workers, logger: logger, recorder: opts.Recorder}
}

// Run executes runs reconstructions. Failed runs are reported in the
// summary; only cancellation aborts the batch.
func (r *Runner) Run(ctx context.Context, runs int) (*Summary, error) {
	if runs <= 0 {
		return nil, fmt.Errorf("batch: run count %d must be positive", runs)
	}
	start := time.Now()
	results := make([]RunResult, runs)

	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(r.workers)

	for i := 0; i < runs; i++ {
		g.Go(func() error {
			if err := gCtx.Err(); err != nil {
				return err
			}
			results[i] = r.runOne(gCtx, i)
			if errors.Is(results[i].Err, context.Canceled) || errors.Is(results[i].Err, context.DeadlineExceeded) {
				return results[i].Err
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("batch: aborted: %w", err)
	}

	sum := &Summary{Results: results, Duration: time.Since(start)}
	for _, res := range results {
		switch {
		case res.Err != nil:
			sum.Failed++
		case res.Metrics.Converged:
			sum.Converged++
		default:
			sum.NotConverged++
		}
	}
	r.logger.Info("batch finished",
		"runs", runs, "converged", sum.Converged, "not_converged", sum.NotConverged,
		"failed", sum.Failed, "duration", sum.Duration)
	return sum, nil
}

func (r *Runner) runOne(ctx context.Context, i int) RunResult {
	seed := r.cfg.Simulation.Seed + uint64(i)
	rec := reconstruction.NewReconstructor(&reconstruction.Params{
		Config: r.cfg,
		Seed:   seed,
		Logger: r.logger,
	})

	began := time.Now()
	err := rec.Process(ctx)
	res := RunResult{Index: i, RunID: rec.RunID(), Seed: seed, Err: err}
	if err == nil {
		res.Metrics = rec.GetMetrics()
	}

	if r.recorder != nil {
		obs := metrics.Observation{Duration: time.Since(began)}
		switch {
		case err != nil:
			obs.Outcome = metrics.OutcomeFailed
		case res.Metrics.Converged:
			obs.Outcome = metrics.OutcomeConverged
		default:
			obs.Outcome = metrics.OutcomeMaxIter
		}
		obs.Iterations = res.Metrics.Iterations
		obs.ChiRatio = res.Metrics.ChiRatio
		obs.Factor = res.Metrics.Factor
		r.recorder.Observe(obs)
	}
	if err != nil {
		r.logger.Error("run failed", "batch_index", i, "seed", seed, "error", err)
	}
	return res
}
