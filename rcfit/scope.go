package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/itohio/gorc/pkg/acquire"
	"github.com/itohio/gorc/pkg/config"
	"github.com/itohio/gorc/pkg/picoscope"
	"github.com/itohio/gorc/pkg/sample"
)

var (
	scopeProbe     acquire.Timing
	scopeDrive     acquire.Stimulus
	scopeMaxPoints int
	scopeAverage   int
)

func newScopeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "scope",
		Short: "Capture and print a raw waveform",
		Long: `Run a single acquisition with explicit timing and print one "<t_us> <raw>" line
per sample. Times are in microseconds, raw values are on the 12-bit scale.`,
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE:         runScope,
	}

	cmd.Flags().Uint32Var(&scopeProbe.Delay, "probe-delay", 0, "probe delay (µs)")
	cmd.Flags().Uint32Var(&scopeProbe.High, "probe-high", 50, "probe high time (µs)")
	cmd.Flags().Uint32Var(&scopeProbe.Low, "probe-low", 50, "probe low time (µs)")
	cmd.Flags().Uint32Var(&scopeProbe.Points, "points", 6000, "number of samples")
	cmd.Flags().Uint32Var(&scopeDrive.Delay, "drive-delay", 0, "drive delay (µs)")
	cmd.Flags().Uint32Var(&scopeDrive.High, "drive-high", 100, "drive high time (µs)")
	cmd.Flags().Uint32Var(&scopeDrive.Low, "drive-low", 100, "drive low time (µs)")
	cmd.Flags().IntVar(&scopeAverage, "average", 0, "average consecutive samples (0 = disabled)")
	cmd.Flags().IntVar(&scopeMaxPoints, "max-points", 0, "decimate the output to at most this many lines (0 = all)")

	return cmd
}

func runScope(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	session, closeConsole, err := openSession(cfg, scopeDrive, scopeProbe)
	if err != nil {
		return err
	}
	defer closeConsole()
	defer session.Close()

	points, err := session.Run(ctx)
	if err != nil {
		return fmt.Errorf("acquisition failed: %w", err)
	}

	if scopeAverage > 1 {
		points = sample.Average(nil, points, scopeAverage)
	}
	points = sample.Downsample(nil, points, scopeMaxPoints)

	out := cmd.OutOrStdout()
	for _, p := range points {
		fmt.Fprintf(out, "%.3f %.1f\n", p.T*1e6, p.V*picoscope.FullScale)
	}
	return nil
}
