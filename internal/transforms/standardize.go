package transforms

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// SpectScalerName is the file a fitted scaler is saved to in a results
// directory.
const SpectScalerName = "StandardizeSpect.json"

// StandardizeSpect subtracts the per-frequency mean and divides by the
// per-frequency standard deviation of the spectrograms it was fit on.
type StandardizeSpect struct {
	MeanFreqs  []float64 `json:"mean_freqs"`
	StdFreqs   []float64 `json:"std_freqs"`
	NonZeroStd []bool    `json:"non_zero_std"`
}

// Fitter accumulates spectrograms for fitting a StandardizeSpect.
type Fitter struct {
	rows [][]float64
}

// Add includes every time bin of spect in the fit.
func (f *Fitter) Add(spect mat.Matrix) error {
	r, c := spect.Dims()
	if f.rows == nil {
		f.rows = make([][]float64, r)
	}
	if r != len(f.rows) {
		return fmt.Errorf("spectrogram has %d frequency bins, expected %d", r, len(f.rows))
	}
	for i := range r {
		for j := range c {
			f.rows[i] = append(f.rows[i], spect.At(i, j))
		}
	}
	return nil
}

// Scaler returns the fitted transform. Standard deviations are population
// standard deviations.
func (f *Fitter) Scaler() (*StandardizeSpect, error) {
	if len(f.rows) == 0 || len(f.rows[0]) == 0 {
		return nil, errors.New("no spectrograms to fit")
	}
	s := &StandardizeSpect{
		MeanFreqs:  make([]float64, len(f.rows)),
		StdFreqs:   make([]float64, len(f.rows)),
		NonZeroStd: make([]bool, len(f.rows)),
	}
	for i, row := range f.rows {
		mean, variance := stat.PopMeanVariance(row, nil)
		s.MeanFreqs[i] = mean
		s.StdFreqs[i] = math.Sqrt(variance)
		s.NonZeroStd[i] = s.StdFreqs[i] != 0
	}
	return s, nil
}

// FitStandardizeSpect fits a scaler on the given spectrograms.
func FitStandardizeSpect(spects ...mat.Matrix) (*StandardizeSpect, error) {
	var f Fitter
	for _, spect := range spects {
		if err := f.Add(spect); err != nil {
			return nil, err
		}
	}
	return f.Scaler()
}

// Transform returns a standardized copy of spect. Rows whose standard
// deviation is zero are only mean-subtracted.
func (s *StandardizeSpect) Transform(spect mat.Matrix) (*mat.Dense, error) {
	r, c := spect.Dims()
	if r != len(s.MeanFreqs) {
		return nil, fmt.Errorf("spectrogram has %d frequency bins, scaler was fit on %d", r, len(s.MeanFreqs))
	}
	out := mat.NewDense(r, c, nil)
	out.Apply(func(i, j int, v float64) float64 {
		v -= s.MeanFreqs[i]
		if s.NonZeroStd[i] {
			v /= s.StdFreqs[i]
		}
		return v
	}, spect)
	return out, nil
}

// Save writes the scaler as JSON.
func (s *StandardizeSpect) Save(path string) error {
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("encode spect scaler: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create spect scaler directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write spect scaler: %w", err)
	}
	return nil
}

// LoadStandardizeSpect reads a scaler written by Save.
func LoadStandardizeSpect(path string) (*StandardizeSpect, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read spect scaler: %w", err)
	}
	var s StandardizeSpect
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("decode spect scaler %s: %w", path, err)
	}
	if len(s.MeanFreqs) == 0 || len(s.MeanFreqs) != len(s.StdFreqs) || len(s.MeanFreqs) != len(s.NonZeroStd) {
		return nil, fmt.Errorf("spect scaler %s: mean, std and non-zero vectors must have the same non-zero length", path)
	}
	return &s, nil
}
