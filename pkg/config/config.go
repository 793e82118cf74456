// Package config provides configuration loading and management for musrmaxent.
// It handles loading configuration from YAML files and provides default values.
package config

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"runtime"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

var validate = validator.New()

// GroupConfig describes one detector group
type GroupConfig struct {
	// Phase is the detector phase in radians
	Phase float64 `yaml:"phase" validate:"gte=-7,lte=7"`

	// Amplitude scales the group response; 0 means 1
	Amplitude float64 `yaml:"amplitude" validate:"gte=0"`
}

// LineConfig describes one simulated precession line
type LineConfig struct {
	// Frequency is the line centre in MHz
	Frequency float64 `yaml:"frequency" validate:"gte=0"`

	// Amplitude is the peak height above background
	Amplitude float64 `yaml:"amplitude" validate:"gt=0"`

	// Width is the Gaussian standard deviation in MHz
	Width float64 `yaml:"width" validate:"gt=0"`
}

// Config represents the application configuration loaded from YAML
type Config struct {
	// Instrument describes the histograms and the response model
	Instrument struct {
		// ImageSize is the number of reconstructed frequency bins
		ImageSize int `yaml:"imageSize" validate:"gt=0"`

		// Points is the number of time bins per group
		Points int `yaml:"points" validate:"gt=0"`

		// TimeStep is the histogram bin width in µs
		TimeStep float64 `yaml:"timeStep" validate:"gt=0"`

		// FFTSize is the transform length; 0 picks the next power of two
		FFTSize int `yaml:"fftSize" validate:"gte=0"`

		// Groups lists the detector groups
		Groups []GroupConfig `yaml:"groups" validate:"required,min=1,dive"`

		// RawCounts weights the response by the muon decay, for histograms
		// that are not lifetime corrected
		RawCounts bool `yaml:"rawCounts"`

		// MuonLifetime is the decay constant in µs used with RawCounts
		MuonLifetime float64 `yaml:"muonLifetime" validate:"gte=0"`

		// PulseWidth is the Gaussian width of the muon pulse in µs
		PulseWidth float64 `yaml:"pulseWidth" validate:"gte=0"`

		// DoublePulseSeparation is the spacing of a double pulse in µs
		DoublePulseSeparation float64 `yaml:"doublePulseSeparation" validate:"gte=0"`

		// Backend selects the FFT implementation
		Backend string `yaml:"backend" validate:"oneof=gonum algofft"`
	} `yaml:"instrument"`

	// MaxEnt parameters
	MaxEnt struct {
		// MaxIter is the iteration budget of one reconstruction
		MaxIter int `yaml:"maxIter" validate:"gt=0"`

		// SumFix holds the spectrum total fixed
		SumFix bool `yaml:"sumFix"`

		// RescaleSigma allows the uncertainties to be inflated
		RescaleSigma bool `yaml:"rescaleSigma"`

		// PriorLevel is the flat prior; 0 estimates it from the data
		PriorLevel float64 `yaml:"priorLevel" validate:"gte=0"`

		// Blank overrides the entropy normalization; 0 uses the prior mean
		Blank float64 `yaml:"blank" validate:"gte=0"`

		// FloorFactor sets the positivity floor as a fraction of Blank
		FloorFactor float64 `yaml:"floorFactor" validate:"gt=0"`

		TestLimit     float64 `yaml:"testLimit" validate:"gt=0"`
		ChiLimit      float64 `yaml:"chiLimit" validate:"gt=0"`
		MoveTolerance float64 `yaml:"moveTolerance" validate:"gt=0"`
		MaxMoveLoops  int     `yaml:"maxMoveLoops" validate:"gt=0"`
		DistanceLimit float64 `yaml:"distanceLimit" validate:"gt=0"`
	} `yaml:"maxent"`

	// Simulation parameters for synthetic datasets
	Simulation struct {
		// Background is the flat spectral level under the lines
		Background float64 `yaml:"background" validate:"gte=0"`

		// Lines are the precession lines of the simulated spectrum
		Lines []LineConfig `yaml:"lines" validate:"dive"`

		// NoiseFraction is the uncertainty as a fraction of the signal RMS
		NoiseFraction float64 `yaml:"noiseFraction" validate:"gte=0,lt=10"`

		// Lifetime grows the uncertainty with time when positive
		Lifetime float64 `yaml:"lifetime" validate:"gte=0"`

		// MaskedPoints leading bins are treated as dead time
		MaskedPoints int `yaml:"maskedPoints" validate:"gte=0"`

		// Seed is the noise seed of the first run
		Seed uint64 `yaml:"seed"`
	} `yaml:"simulation"`

	// Batch parameters
	Batch struct {
		// Runs is the number of independent reconstructions
		Runs int `yaml:"runs" validate:"gt=0"`

		// Workers bounds how many run at once
		Workers int `yaml:"workers" validate:"gt=0"`
	} `yaml:"batch"`

	// Output parameters
	Output struct {
		// Verbose prints per-iteration progress
		Verbose bool `yaml:"verbose"`

		// LogLevel is one of debug, info, warn, error
		LogLevel string `yaml:"logLevel" validate:"oneof=debug info warn error"`

		// LogJSON switches the log format to JSON
		LogJSON bool `yaml:"logJSON"`

		// MetricsFile receives Prometheus textfile metrics when set
		MetricsFile string `yaml:"metricsFile"`
	} `yaml:"output"`
}

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	cfg := &Config{}

	// Instrument: four detectors in quadrature
	cfg.Instrument.ImageSize = 128
	cfg.Instrument.Points = 256
	cfg.Instrument.TimeStep = 0.016
	cfg.Instrument.FFTSize = 0
	for g := 0; g < 4; g++ {
		cfg.Instrument.Groups = append(cfg.Instrument.Groups, GroupConfig{
			Phase:     float64(g) * math.Pi / 2,
			Amplitude: 1,
		})
	}
	cfg.Instrument.MuonLifetime = 2.19703
	cfg.Instrument.Backend = "gonum"

	// MaxEnt control constants
	cfg.MaxEnt.MaxIter = 200
	cfg.MaxEnt.FloorFactor = 1e-3
	cfg.MaxEnt.TestLimit = 0.02
	cfg.MaxEnt.ChiLimit = 0.01
	cfg.MaxEnt.MoveTolerance = 1e-3
	cfg.MaxEnt.MaxMoveLoops = 500
	cfg.MaxEnt.DistanceLimit = 0.1

	// Simulation: two lines on a weak background
	cfg.Simulation.Background = 0.2
	cfg.Simulation.Lines = []LineConfig{
		{Frequency: 5, Amplitude: 3, Width: 0.5},
		{Frequency: 12, Amplitude: 1.5, Width: 0.8},
	}
	cfg.Simulation.NoiseFraction = 0.02
	cfg.Simulation.Seed = 1

	cfg.Batch.Runs = 8
	cfg.Batch.Workers = runtime.NumCPU() // Use all available cores by default

	cfg.Output.Verbose = true
	cfg.Output.LogLevel = "info"

	return cfg
}

// Validate checks field ranges and the constraints between fields
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if c.Simulation.MaskedPoints >= c.Instrument.Points {
		return fmt.Errorf("invalid config: %d masked points leave no data of %d",
			c.Simulation.MaskedPoints, c.Instrument.Points)
	}
	if n := c.Instrument.FFTSize; n != 0 && (n < c.Instrument.ImageSize || n < c.Instrument.Points) {
		return fmt.Errorf("invalid config: fft size %d shorter than image or data", n)
	}
	return nil
}

// LoadConfig loads configuration from a YAML file
// If the file doesn't exist, it returns the default configuration
func LoadConfig(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	// Check if config file exists
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return cfg, nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// SaveConfig saves the configuration to a YAML file
func SaveConfig(cfg *Config, configPath string) error {
	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("error creating config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("error marshaling config: %w", err)
	}

	if err := os.WriteFile(configPath, data, 0644); err != nil {
		return fmt.Errorf("error writing config file: %w", err)
	}

	return nil
}

// CreateDefaultConfigFile creates a default configuration file at the specified path
func CreateDefaultConfigFile(configPath string) error {
	cfg := DefaultConfig()
	return SaveConfig(cfg, configPath)
}
