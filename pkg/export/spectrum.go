// Package export saves reconstructed spectra and reads them back, so a
// later run can resume from a previous result.
package export

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"musrmaxent/internal/models"
)

// ErrMalformed is returned when a spectrum file cannot be decoded.
var ErrMalformed = errors.New("export: malformed spectrum file")

var csvHeader = []string{"frequency_mhz", "intensity"}

func isCSV(filename string) bool {
	return strings.EqualFold(filepath.Ext(filename), ".csv")
}

// SaveSpectrum writes spec to filename, creating parent directories. A .csv
// extension writes frequency,intensity rows; any other extension writes YAML.
func SaveSpectrum(spec models.Spectrum, filename string) error {
	if len(spec.Frequencies) != len(spec.Intensity) {
		return fmt.Errorf("export: %d frequencies for %d intensities", len(spec.Frequencies), len(spec.Intensity))
	}
	if err := os.MkdirAll(filepath.Dir(filename), 0755); err != nil {
		return fmt.Errorf("error creating output directory: %w", err)
	}

	file, err := os.Create(filename)
	if err != nil {
		return err
	}
	defer file.Close()

	if isCSV(filename) {
		err = writeCSV(file, spec)
	} else {
		err = writeYAML(file, spec)
	}
	if err != nil {
		return fmt.Errorf("error writing spectrum: %w", err)
	}
	return file.Close()
}

// LoadSpectrum reads a spectrum written by SaveSpectrum.
func LoadSpectrum(filename string) (models.Spectrum, error) {
	file, err := os.Open(filename)
	if err != nil {
		return models.Spectrum{}, err
	}
	defer file.Close()

	var spec models.Spectrum
	if isCSV(filename) {
		spec, err = readCSV(file)
	} else if err = yaml.NewDecoder(file).Decode(&spec); err != nil {
		err = fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if err != nil {
		return models.Spectrum{}, err
	}
	if len(spec.Frequencies) != len(spec.Intensity) {
		return models.Spectrum{}, fmt.Errorf("%w: %d frequencies for %d intensities",
			ErrMalformed, len(spec.Frequencies), len(spec.Intensity))
	}
	return spec, nil
}

func writeCSV(w io.Writer, spec models.Spectrum) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return err
	}
	for i, f := range spec.Frequencies {
		row := []string{
			strconv.FormatFloat(f, 'g', -1, 64),
			strconv.FormatFloat(spec.Intensity[i], 'g', -1, 64),
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func writeYAML(w io.Writer, spec models.Spectrum) error {
	data, err := yaml.Marshal(spec)
	if err != nil {
		return err
	}
	_, err = w.Write(data)
	return err
}

func readCSV(r io.Reader) (models.Spectrum, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = len(csvHeader)
	rows, err := cr.ReadAll()
	if err != nil {
		return models.Spectrum{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if len(rows) == 0 || rows[0][0] != csvHeader[0] {
		return models.Spectrum{}, fmt.Errorf("%w: missing header", ErrMalformed)
	}

	var spec models.Spectrum
	for line, row := range rows[1:] {
		f, err := strconv.ParseFloat(row[0], 64)
		if err != nil {
			return models.Spectrum{}, fmt.Errorf("%w: row %d: %v", ErrMalformed, line+2, err)
		}
		v, err := strconv.ParseFloat(row[1], 64)
		if err != nil {
			return models.Spectrum{}, fmt.Errorf("%w: row %d: %v", ErrMalformed, line+2, err)
		}
		spec.Frequencies = append(spec.Frequencies, f)
		spec.Intensity = append(spec.Intensity, v)
	}
	return spec, nil
}
