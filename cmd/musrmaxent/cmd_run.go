package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"musrmaxent/pkg/export"
	"musrmaxent/pkg/reconstruction"
)

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Simulate a precession dataset and reconstruct its spectrum",
		Args:  cobra.NoArgs,
		RunE:  runReconstruction,
	}
	cmd.Flags().String("config", defaultConfigPath, "YAML config file (defaults apply when missing)")
	cmd.Flags().Uint64("seed", 0, "noise seed, overrides simulation.seed when non-zero")
	cmd.Flags().Bool("verbose", false, "print per-iteration progress")
	cmd.Flags().String("output", "", "save the spectrum to this file (.csv or .yaml)")
	cmd.Flags().String("warm-start", "", "resume from a spectrum saved by --output")
	return cmd
}

func runReconstruction(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if cmd.Flags().Changed("verbose") {
		cfg.Output.Verbose, _ = cmd.Flags().GetBool("verbose")
	}
	logger, err := newLogger(cmd, cfg)
	if err != nil {
		return err
	}
	seed, _ := cmd.Flags().GetUint64("seed")
	outputPath, _ := cmd.Flags().GetString("output")
	warmPath, _ := cmd.Flags().GetString("warm-start")

	out := cmd.OutOrStdout()
	banner(out, "MAXIMUM ENTROPY SPECTRAL RECONSTRUCTION")

	params := &reconstruction.Params{
		Config: cfg,
		Seed:   seed,
		Logger: logger,
	}
	if warmPath != "" {
		warm, err := export.LoadSpectrum(warmPath)
		if err != nil {
			return fmt.Errorf("failed to load warm start: %w", err)
		}
		params.WarmStart = warm.Intensity
		fmt.Fprintf(out, "Resuming from %s\n", warmPath)
	}
	if cfg.Output.Verbose {
		params.Progress = func(iteration int, chisq string) {
			fmt.Fprintf(out, "  iteration %4d  chi2/chi0 = %s\n", iteration, chisq)
		}
	}

	reconstructor := reconstruction.NewReconstructor(params)

	fmt.Fprintf(out, "Reconstructing %d frequency bins from %d points in %d groups...\n",
		cfg.Instrument.ImageSize, cfg.Instrument.Points, len(cfg.Instrument.Groups))
	startTime := time.Now()
	if err := reconstructor.Process(cmd.Context()); err != nil {
		return fmt.Errorf("reconstruction failed: %w", err)
	}
	processingTime := time.Since(startTime)

	m := reconstructor.GetMetrics()
	if m.Converged {
		fmt.Fprintf(out, "\nReconstruction converged in %d iterations (%.2f seconds)\n", m.Iterations, processingTime.Seconds())
	} else {
		fmt.Fprintf(out, "\nReconstruction stopped after %d iterations without converging (%.2f seconds)\n",
			m.Iterations, processingTime.Seconds())
	}
	printMetrics(cmd, reconstructor)

	if outputPath != "" {
		if err := export.SaveSpectrum(reconstructor.Spectrum(), outputPath); err != nil {
			return fmt.Errorf("failed to save spectrum: %w", err)
		}
		fmt.Fprintf(out, "\nSpectrum saved to: %s\n", outputPath)
	}
	return nil
}

func printMetrics(cmd *cobra.Command, r *reconstruction.Reconstructor) {
	out := cmd.OutOrStdout()
	m := r.GetMetrics()
	peakFreq, peakValue := r.Spectrum().Peak()

	fmt.Fprintf(out, "\nFit Quality:\n")
	fmt.Fprintf(out, "=======================================\n")
	fmt.Fprintf(out, "Chi-squared ratio (chi2/chi0): %.4f\n", m.ChiRatio)
	fmt.Fprintf(out, "Entropy: %.4f\n", m.Entropy)
	fmt.Fprintf(out, "Sigma factor: %.4f\n", m.Factor)
	fmt.Fprintf(out, "Residual mean: %.4f\n", m.Residuals.Mean)
	fmt.Fprintf(out, "Residual std dev: %.4f\n", m.Residuals.StdDev)
	fmt.Fprintf(out, "Largest residual: %.4f\n", m.Residuals.MaxAbs)
	fmt.Fprintf(out, "Strongest line: %.4f MHz (intensity %.4f)\n", peakFreq, peakValue)

	if !m.HasTruth {
		return
	}
	s := m.Spectrum
	fmt.Fprintf(out, "\nComparison with simulated spectrum:\n")
	fmt.Fprintf(out, "=======================================\n")
	fmt.Fprintf(out, "Root Mean Square Error (RMSE): %.6f\n", s.RMSE)
	fmt.Fprintf(out, "Max relative error: %.4f\n", s.MaxRelativeError)
	fmt.Fprintf(out, "Correlation: %.4f\n", s.Correlation)
	fmt.Fprintf(out, "Mutual Information (MI): %.3f\n", s.MutualInformation)
	fmt.Fprintf(out, "Structural Similarity Index (SSIM): %.3f\n", s.SSIM)
	fmt.Fprintf(out, "Entropy Difference: %.3f\n", s.EntropyDiff)
	fmt.Fprintf(out, "Peak shift: %d bins\n", s.PeakShift)
	fmt.Fprintf(out, "Overall Accuracy: %.2f%%\n", s.Accuracy)
}
