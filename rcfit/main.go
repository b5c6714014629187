package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/itohio/gorc/pkg/acquire"
	"github.com/itohio/gorc/pkg/config"
	"github.com/itohio/gorc/pkg/fit"
	"github.com/itohio/gorc/pkg/meter"
)

var (
	configPath string
	useMock    bool
	verbose    bool

	measureWorkers int
	measureMethod  string
	mockRC         float64
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "rcfit <rc-seconds>",
		Short: "Measure an RC time constant with a pump/probe peripheral",
		Long: `Drive an RC circuit with a square wave sized for the expected time constant,
capture the response, fit every charge and discharge segment and print the mean
time constant with its population standard deviation.

Examples:
  rcfit 1e-2                       # measure, expecting about 10 ms
  rcfit --mock 1e-3                # run against the simulated circuit
  rcfit scope --points 6000        # print a raw capture
  rcfit config init                # write a default config.yaml`,
		Args:         cobra.ExactArgs(1),
		SilenceUsage: true,
		RunE:         runMeasure,
	}

	rootCmd.PersistentFlags().StringVar(&configPath, "config", "config.yaml", "configuration file path")
	rootCmd.PersistentFlags().BoolVar(&useMock, "mock", false, "use the simulated device instead of hardware")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")

	rootCmd.Flags().IntVar(&measureWorkers, "workers", 0, "concurrent segment fits (overrides config)")
	rootCmd.Flags().StringVar(&measureMethod, "method", "", "fit method: lm, nelder-mead or lbfgs (overrides config)")
	rootCmd.Flags().Float64Var(&mockRC, "mock-rc", 0, "time constant simulated by --mock (default: the target)")

	rootCmd.AddCommand(newScopeCmd())
	rootCmd.AddCommand(newPortsCmd())
	rootCmd.AddCommand(newConfigCmd())

	return rootCmd
}

func runMeasure(cmd *cobra.Command, args []string) error {
	rc, err := strconv.ParseFloat(args[0], 64)
	if err != nil {
		return fmt.Errorf("invalid time constant %q: %w", args[0], err)
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	if measureWorkers > 0 {
		cfg.Fit.Workers = measureWorkers
	}
	if measureMethod != "" {
		cfg.Fit.Method = measureMethod
	}
	if useMock {
		cfg.Mock.RC = rc
		if mockRC > 0 {
			cfg.Mock.RC = mockRC
		}
	}

	stim, timing, err := acquire.DeriveTiming(rc)
	if err != nil {
		return err
	}
	if verbose {
		log.Printf("Drive %s, probe %s, %d segments", stim.Block(), timing.Block(), acquire.SegmentCount(stim, timing))
	}

	m, err := meter.New(&cfg.Fit, meter.Options{Verbose: verbose})
	if err != nil {
		return err
	}
	if verbose {
		m.OnFit(func(res fit.Result, err error) {
			if err == nil {
				log.Printf("Segment %d (%s): tau=%v ±%v", res.Index, res.Kind, res.TimeConstant, res.TimeConstantErr)
			}
		})
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	session, closeConsole, err := openSession(cfg, stim, timing)
	if err != nil {
		return err
	}
	defer closeConsole()
	defer session.Close()

	points, err := session.Run(ctx)
	if err != nil {
		return fmt.Errorf("acquisition failed: %w", err)
	}

	est, err := m.Analyze(ctx, points, session.SegmentCount())
	if err != nil {
		return fmt.Errorf("analysis failed: %w", err)
	}

	fmt.Fprintln(cmd.OutOrStdout(), est)
	return nil
}
