package reconstruction

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"gonum.org/v1/gonum/mat"

	"musrmaxent/internal/models"
	"musrmaxent/pkg/config"
	"musrmaxent/pkg/evaluation"
	"musrmaxent/pkg/logging"
	"musrmaxent/pkg/maxent"
	"musrmaxent/pkg/response"
	"musrmaxent/pkg/synth"
)

// ErrNoSignal is returned when no positive flat prior fits the data.
var ErrNoSignal = errors.New("reconstruction: data carry no positive signal")

// ValidationMetrics holds the quality of one reconstruction.
type ValidationMetrics struct {
	// Spectrum compares the reconstruction with the simulated truth. It is
	// the zero value for measured data.
	Spectrum evaluation.SpectrumMetrics

	// HasTruth reports whether Spectrum was computed.
	HasTruth bool

	// Residuals summarizes the normalized misfit of the final image.
	Residuals evaluation.ResidualStats

	// Converged reports whether the MaxEnt convergence test passed.
	Converged bool

	Iterations int
	ChiRatio   float64
	Entropy    float64
	Factor     float64
	Duration   time.Duration
}

// Params holds the reconstruction parameters.
type Params struct {
	// Config supplies the instrument, MaxEnt and simulation settings.
	Config *config.Config

	// Dataset, when set, is reconstructed instead of a simulated one. Its
	// shape must match the instrument section of Config.
	Dataset *models.Dataset

	// Seed overrides Config.Simulation.Seed when non-zero.
	Seed uint64

	// WarmStart resumes from a previous spectrum.
	WarmStart []float64

	// Logger receives pipeline events. Nil discards them.
	Logger *slog.Logger

	// Progress is forwarded to the MaxEnt iterator.
	Progress func(iteration int, chisq string)
}

// Reconstructor runs one MaxEnt reconstruction:
// 1. Building the response model from the instrument settings
// 2. Simulating a dataset, unless one is supplied
// 3. Choosing the prior
// 4. Running the MaxEnt iteration
// 5. Calculating quality metrics
type Reconstructor struct {
	params *Params
	runID  string
	logger *slog.Logger

	model   *response.Model
	dataset *models.Dataset
	base    []float64
	result  *maxent.Result

	metrics ValidationMetrics
}

// NewReconstructor creates a new reconstructor instance with the provided parameters.
func NewReconstructor(params *Params) *Reconstructor {
	logger := params.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	id := uuid.NewString()
	return &Reconstructor{
		params: params,
		runID:  id,
		logger: logger.With("run_id", id),
	}
}

// RunID identifies this reconstruction in logs.
func (r *Reconstructor) RunID() string { return r.runID }

// Process runs the complete reconstruction pipeline. Reaching the iteration
// limit is not an error: the best image is kept and Converged is false in
// the metrics.
func (r *Reconstructor) Process(ctx context.Context) error {
	if r.params.Config == nil {
		return fmt.Errorf("reconstruction: nil config")
	}
	cfg := r.params.Config
	start := time.Now()

	// Step 1: Response model
	model, err := response.NewModel(ResponseParams(cfg))
	if err != nil {
		return fmt.Errorf("failed to build response model: %w", err)
	}
	r.model = model
	r.logger.Debug("response model ready",
		"image_size", cfg.Instrument.ImageSize, "points", cfg.Instrument.Points, "fft_size", model.FFTSize())

	// Step 2: Dataset
	if r.params.Dataset != nil {
		r.dataset = r.params.Dataset
	} else if r.dataset, err = r.simulate(); err != nil {
		return fmt.Errorf("failed to simulate dataset: %w", err)
	}
	if points, groups := r.dataset.Dims(); points != cfg.Instrument.Points || groups != len(cfg.Instrument.Groups) {
		return fmt.Errorf("%w: dataset is %d×%d, instrument expects %d×%d", maxent.ErrInvalidInput,
			points, groups, cfg.Instrument.Points, len(cfg.Instrument.Groups))
	}

	// Step 3: Prior
	level := cfg.MaxEnt.PriorLevel
	if level == 0 {
		level = EstimateFlatLevel(model, r.dataset.Datum, r.dataset.Sigma)
		if !(level > 0) {
			return ErrNoSignal
		}
	}
	r.base = maxent.UniformPrior(cfg.Instrument.ImageSize, level)

	// Step 4: MaxEnt
	problem, err := maxent.NewProblem(r.dataset.Datum, r.dataset.Sigma, r.base, model)
	if err != nil {
		return fmt.Errorf("failed to set up problem: %w", err)
	}
	opts := MaxEntOptions(cfg)
	opts.Progress = r.params.Progress

	begin := maxent.ColdStart()
	if r.params.WarmStart != nil {
		begin = maxent.WarmStart(r.params.WarmStart)
	}
	it, err := maxent.NewIterator(problem, opts, begin)
	if err != nil {
		return fmt.Errorf("failed to start iteration: %w", err)
	}

	r.logger.Info("reconstruction started",
		"dataset", r.dataset.ID, "prior", level, "active_points", problem.ActivePoints(), "sumfix", opts.SumFix)
	res, err := it.Run(ctx)
	switch {
	case errors.Is(err, maxent.ErrNotConverged):
		r.logger.Warn("reconstruction did not converge", "error", err)
	case err != nil:
		return fmt.Errorf("maxent failed: %w", err)
	}
	r.result = res

	// Step 5: Metrics
	if err := r.calculateValidationMetrics(); err != nil {
		return err
	}
	r.metrics.Duration = time.Since(start)

	r.logger.Info("reconstruction finished",
		"converged", r.metrics.Converged,
		"iterations", r.metrics.Iterations,
		"chi_ratio", r.metrics.ChiRatio,
		"duration", r.metrics.Duration)
	return nil
}

func (r *Reconstructor) simulate() (*models.Dataset, error) {
	cfg := r.params.Config
	seed := cfg.Simulation.Seed
	if r.params.Seed != 0 {
		seed = r.params.Seed
	}
	truth := SimulationSpectrum(cfg).Sample(r.model.Frequencies())
	return synth.Simulate(r.model, truth, synth.Options{
		NoiseFraction: cfg.Simulation.NoiseFraction,
		Lifetime:      cfg.Simulation.Lifetime,
		MaskedPoints:  cfg.Simulation.MaskedPoints,
		Seed:          seed,
	})
}

func (r *Reconstructor) calculateValidationMetrics() error {
	res := r.result
	m := ValidationMetrics{
		Converged:  res.Converged(),
		Iterations: res.Iterations,
		ChiRatio:   res.Final.ChiRatio(),
		Entropy:    res.Final.Entropy,
		Factor:     res.Final.Factor,
	}

	pred := r.model.ForwardImage(res.Image)
	rs, err := evaluation.Residuals(pred, r.dataset.Datum, res.Sigma)
	if err != nil {
		return fmt.Errorf("failed to compute residuals: %w", err)
	}
	m.Residuals = rs

	if r.dataset.Truth != nil {
		sm, err := evaluation.CompareSpectra(r.dataset.Truth, res.Image)
		if err != nil {
			return fmt.Errorf("failed to compare spectra: %w", err)
		}
		m.Spectrum = sm
		m.HasTruth = true
	}
	r.metrics = m
	return nil
}

// GetMetrics returns the quality metrics of the last Process call.
func (r *Reconstructor) GetMetrics() ValidationMetrics {
	return r.metrics
}

// Result returns the MaxEnt result, nil before Process succeeds.
func (r *Reconstructor) Result() *maxent.Result { return r.result }

// Dataset returns the reconstructed dataset.
func (r *Reconstructor) Dataset() *models.Dataset { return r.dataset }

// Spectrum returns the reconstructed spectrum on its frequency grid.
func (r *Reconstructor) Spectrum() models.Spectrum {
	if r.result == nil {
		return models.Spectrum{}
	}
	return models.Spectrum{
		Frequencies: r.model.Frequencies(),
		Intensity:   append([]float64(nil), r.result.Image...),
	}
}

// ResponseParams maps the instrument section onto a response model.
func ResponseParams(cfg *config.Config) response.Params {
	in := cfg.Instrument
	groups := make([]response.Group, len(in.Groups))
	for g, gc := range in.Groups {
		groups[g] = response.Group{Phase: gc.Phase, Amplitude: gc.Amplitude}
	}
	var eff []float64
	if in.RawCounts {
		eff = response.DecayEfficiency(in.Points, in.TimeStep, in.MuonLifetime)
	}
	return response.Params{
		ImageSize:  in.ImageSize,
		Points:     in.Points,
		FFTSize:    in.FFTSize,
		TimeStep:   in.TimeStep,
		Groups:     groups,
		Efficiency: eff,
		Pulse: response.PulseShape{
			Width:      in.PulseWidth,
			Separation: in.DoublePulseSeparation,
		},
		Backend: response.BackendKind(in.Backend),
	}
}

// MaxEntOptions maps the maxent section onto iterator options.
func MaxEntOptions(cfg *config.Config) maxent.Options {
	me := cfg.MaxEnt
	opts := maxent.DefaultOptions()
	opts.MaxIter = me.MaxIter
	opts.SumFix = me.SumFix
	opts.RescaleSigma = me.RescaleSigma
	opts.Blank = me.Blank
	opts.FloorFactor = me.FloorFactor
	opts.TestLimit = me.TestLimit
	opts.ChiLimit = me.ChiLimit
	opts.MoveTolerance = me.MoveTolerance
	opts.MaxMoveLoops = me.MaxMoveLoops
	opts.DistanceLimit = me.DistanceLimit
	return opts
}

// SimulationSpectrum returns the spectrum described by the simulation section.
func SimulationSpectrum(cfg *config.Config) synth.Spectrum {
	s := synth.Spectrum{Background: cfg.Simulation.Background}
	for _, l := range cfg.Simulation.Lines {
		s.Lines = append(s.Lines, synth.Line{Frequency: l.Frequency, Amplitude: l.Amplitude, Width: l.Width})
	}
	return s
}

// EstimateFlatLevel returns the flat image level whose prediction best fits
// datum in the weighted least-squares sense. Masked bins are ignored.
func EstimateFlatLevel(resp maxent.Response, datum, sigma mat.Matrix) float64 {
	n, points, groups := resp.Dims()
	ones := make([]float64, n)
	for i := range ones {
		ones[i] = 1
	}
	flat := mat.NewDense(points, groups, nil)
	resp.Forward(flat, ones)

	var num, den float64
	for t := 0; t < points; t++ {
		for g := 0; g < groups; g++ {
			s := sigma.At(t, g)
			if s >= maxent.MaskThreshold {
				continue
			}
			w := 1 / (s * s)
			u := flat.At(t, g)
			num += w * u * datum.At(t, g)
			den += w * u * u
		}
	}
	if den == 0 {
		return 0
	}
	return num / den
}
