package main

import (
	"context"
	"math/rand"
	"time"

	"github.com/go-swisstm/stm/stm"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var hammerConfigPath string

func init() {
	cmd := newHammerCmd()
	cmd.Flags().StringVar(&hammerConfigPath, "config", "", "path to a TOML hammer config file")
	rootCmd.AddCommand(cmd)
}

func newHammerCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "hammer",
		Short: "Run concurrent conservative-transfer transactions and check conservation",
		Long: `hammer starts thread_count goroutines that repeatedly pick two of
counter_count transactional counters and move one unit from one to the
other inside a single Atomic transaction, for duration_seconds. When the
workers finish, it reads every counter back in one read-only transaction
and fails if the total has drifted from counter_count * initial_value —
the conservation property only an isolation violation could break.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHammer(cmd.Context())
		},
	}
}

func runHammer(ctx context.Context) error {
	cfg, err := loadHammerConfig(hammerConfigPath)
	if err != nil {
		return err
	}

	logger, err := zap.NewProduction()
	if err != nil {
		return errors.Wrap(err, "construct logger")
	}
	defer logger.Sync() //nolint:errcheck

	logger.Info("starting hammer test",
		zap.Int("thread_count", cfg.ThreadCount),
		zap.Int("counter_count", cfg.CounterCount),
		zap.Uint64("initial_value", cfg.InitialValue),
		zap.Int("duration_seconds", cfg.DurationSeconds),
	)

	counters := make([]*stm.Var[uint64], cfg.CounterCount)
	for i := range counters {
		counters[i] = stm.NewVar(cfg.InitialValue)
	}

	deadline := time.Now().Add(time.Duration(cfg.DurationSeconds) * time.Second)
	group, _ := errgroup.WithContext(ctx)

	for worker := 0; worker < cfg.ThreadCount; worker++ {
		worker := worker
		group.Go(func() error {
			return runHammerWorker(worker, counters, deadline)
		})
	}

	if err := group.Wait(); err != nil {
		return errors.Wrap(err, "hammer worker failed")
	}

	total, err := sumCounters(counters)
	if err != nil {
		return errors.Wrap(err, "final conservation read")
	}

	want := cfg.InitialValue * uint64(cfg.CounterCount)
	logger.Info("hammer test finished", zap.Uint64("total", total), zap.Uint64("want", want))
	if total != want {
		return errors.Errorf("conservation violated: total=%d want=%d", total, want)
	}
	return nil
}

func runHammerWorker(seed int, counters []*stm.Var[uint64], deadline time.Time) error {
	rng := rand.New(rand.NewSource(int64(seed) + 1))
	n := len(counters)
	for time.Now().Before(deadline) {
		from := rng.Intn(n)
		to := rng.Intn(n)
		if from == to {
			continue
		}
		if err := instrumentedAtomic(func() error {
			return transferOne(counters[from], counters[to])
		}); err != nil {
			return err
		}
	}
	return nil
}

func transferOne(from, to *stm.Var[uint64]) error {
	fv, err := from.Get()
	if err != nil {
		return err
	}
	if fv == 0 {
		return nil
	}
	tv, err := to.Get()
	if err != nil {
		return err
	}
	if err := from.Set(fv - 1); err != nil {
		return err
	}
	return to.Set(tv + 1)
}

func sumCounters(counters []*stm.Var[uint64]) (uint64, error) {
	var total uint64
	err := stm.AtomicRead(func() error {
		total = 0
		for _, c := range counters {
			v, err := c.Get()
			if err != nil {
				return err
			}
			total += v
		}
		return nil
	})
	return total, err
}
