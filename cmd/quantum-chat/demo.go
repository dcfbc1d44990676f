package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/pzverkov/quantum-chat/internal/constants"
	qerrors "github.com/pzverkov/quantum-chat/internal/errors"
	"github.com/pzverkov/quantum-chat/pkg/qkd"
)

type demoOptions struct {
	rounds        int
	symbols       int
	interceptRate float64
	seed          uint64
}

func demoCmd() *cobra.Command {
	opts := demoOptions{}

	cmd := &cobra.Command{
		Use:   "demo",
		Short: "Run key agreement rounds and print statistics",
		Long: `Runs a batch of BB84 agreement rounds over a clean channel and over a
channel with an active intercept-resend eavesdropper, and prints the
observed error rates and detection outcomes.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDemo(opts)
		},
	}

	flags := cmd.Flags()
	flags.IntVar(&opts.rounds, "rounds", 20, "rounds per scenario")
	flags.IntVar(&opts.symbols, "symbols", constants.DefaultSymbols, "raw symbols per round")
	flags.Float64Var(&opts.interceptRate, "intercept-rate", constants.DefaultInterceptRate, "per-symbol interception probability")
	flags.Uint64Var(&opts.seed, "seed", 0, "fixed random seed (0 uses system randomness)")

	return cmd
}

func runDemo(opts demoOptions) error {
	cfg := qkd.Config{
		Symbols:       opts.symbols,
		InterceptRate: opts.interceptRate,
	}
	if opts.seed != 0 {
		seed := opts.seed
		cfg.NewSource = func() *qkd.Source {
			s := qkd.NewSeededSource(seed)
			seed++
			return s
		}
	}

	engine, err := qkd.NewEngine(cfg)
	if err != nil {
		return err
	}

	fmt.Printf("BB84 key agreement demo: %d symbols, %d rounds per scenario\n\n", opts.symbols, opts.rounds)

	fmt.Println("--- Clean channel ---")
	if err := demoScenario(engine, opts.rounds, false); err != nil {
		return err
	}

	fmt.Printf("\n--- Intercepted channel (rate %.2f) ---\n", opts.interceptRate)
	return demoScenario(engine, opts.rounds, true)
}

func demoScenario(engine *qkd.Engine, rounds int, intercept bool) error {
	ctx := context.Background()

	var (
		established  int
		detected     int
		insufficient int
		rateSum      float64
		rateCount    int
		fingerprint  string
	)

	for i := 0; i < rounds; i++ {
		res, err := engine.Run(ctx, intercept)
		switch {
		case err == nil:
			established++
			rateSum += res.ErrorRate
			rateCount++
			fingerprint = res.Fingerprint
		case qerrors.Is(err, qerrors.ErrInterceptionDetected):
			detected++
			var det *qkd.DetectionError
			if qerrors.As(err, &det) {
				rateSum += det.ErrorRate
				rateCount++
			}
		case qerrors.Is(err, qerrors.ErrInsufficientMaterial):
			insufficient++
		default:
			return err
		}
	}

	fmt.Printf("rounds:              %d\n", rounds)
	fmt.Printf("keys established:    %d\n", established)
	fmt.Printf("interceptions found: %d\n", detected)
	if insufficient > 0 {
		fmt.Printf("insufficient runs:   %d\n", insufficient)
	}
	if rateCount > 0 {
		fmt.Printf("mean error rate:     %.3f (threshold %.2f)\n", rateSum/float64(rateCount), engine.Config().Threshold)
	}
	if fingerprint != "" {
		fmt.Printf("last fingerprint:    %s\n", fingerprint)
	}

	return nil
}
