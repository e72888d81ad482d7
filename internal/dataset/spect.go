package dataset

import (
	"fmt"
	"math"
	"os"

	"github.com/daniellowtw/matlab"
	"gonum.org/v1/gonum/mat"
)

// SpectKeys names the arrays inside a spectrogram file.
type SpectKeys struct {
	Spect    string
	Freq     string
	Timebins string
}

// Spect is a spectrogram loaded from an array file: S has one row per
// frequency bin and one column per time bin.
type Spect struct {
	S *mat.Dense
	F []float64
	T []float64
}

// TimebinDur returns the mean spacing of the time bin vector rounded to five
// decimals.
func (s *Spect) TimebinDur() (float64, error) {
	return TimebinDurFromVec(s.T)
}

// Duration returns the number of time bins times the time bin duration.
func (s *Spect) Duration() (float64, error) {
	dur, err := s.TimebinDur()
	if err != nil {
		return 0, err
	}
	return float64(len(s.T)) * dur, nil
}

// TimebinDurFromVec computes the duration of one time bin from a vector of
// bin times.
func TimebinDurFromVec(t []float64) (float64, error) {
	if len(t) < 2 {
		return 0, fmt.Errorf("time bin vector needs at least two values, got %d", len(t))
	}
	mean := (t[len(t)-1] - t[0]) / float64(len(t)-1)
	if mean <= 0 {
		return 0, fmt.Errorf("time bin vector is not increasing")
	}
	return math.Round(mean*1e5) / 1e5, nil
}

// LoadSpect reads a .mat or .npz spectrogram file.
func LoadSpect(path, format string, keys SpectKeys) (*Spect, error) {
	var (
		arrays map[string]array
		err    error
	)
	switch format {
	case "mat":
		arrays, err = readMat(path, keys)
	case "npz":
		arrays, err = readNPZFile(path)
	default:
		return nil, fmt.Errorf("spectrogram format %q is not supported", format)
	}
	if err != nil {
		return nil, err
	}

	get := func(key string) (array, error) {
		arr, ok := arrays[key]
		if !ok {
			return array{}, fmt.Errorf("%s: no array named %q", path, key)
		}
		return arr, nil
	}
	f, err := get(keys.Freq)
	if err != nil {
		return nil, err
	}
	t, err := get(keys.Timebins)
	if err != nil {
		return nil, err
	}
	s, err := get(keys.Spect)
	if err != nil {
		return nil, err
	}
	rows, cols := len(f.data), len(t.data)
	if len(s.data) != rows*cols {
		return nil, fmt.Errorf("%s: spectrogram has %d values, expected %d frequency bins x %d time bins",
			path, len(s.data), rows, cols)
	}
	if len(s.shape) == 2 && (s.shape[0] != rows || s.shape[1] != cols) {
		return nil, fmt.Errorf("%s: spectrogram shape %v does not match (%d, %d)", path, s.shape, rows, cols)
	}
	return &Spect{
		S: mat.NewDense(rows, cols, s.data),
		F: f.data,
		T: t.data,
	}, nil
}

func readNPZFile(path string) (map[string]array, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open npz: %w", err)
	}
	defer file.Close()
	info, err := file.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat npz: %w", err)
	}
	arrays, err := readNPZ(file, info.Size())
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return arrays, nil
}

// readMat loads the three spectrogram variables. MATLAB stores matrices in
// column-major order; the result is converted to row-major using the
// lengths of the frequency and time vectors.
func readMat(path string, keys SpectKeys) (map[string]array, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open mat: %w", err)
	}
	defer file.Close()

	mf, err := matlab.NewFileFromReader(file)
	if err != nil {
		return nil, fmt.Errorf("parse mat %s: %w", path, err)
	}
	out := make(map[string]array, 3)
	for _, key := range []string{keys.Spect, keys.Freq, keys.Timebins} {
		v, found := mf.GetVar(key)
		if !found {
			continue
		}
		values := v.Value()
		data := make([]float64, len(values))
		for i, raw := range values {
			value, ok := matNumber(raw)
			if !ok {
				return nil, fmt.Errorf("mat %s: variable %q holds non-numeric %T", path, key, raw)
			}
			data[i] = value
		}
		out[key] = array{shape: []int{len(data)}, data: data}
	}
	spect, hasSpect := out[keys.Spect]
	freq, hasFreq := out[keys.Freq]
	timebins, hasTime := out[keys.Timebins]
	if hasSpect && hasFreq && hasTime && len(spect.data) == len(freq.data)*len(timebins.data) {
		spect.data = fortranToC(spect.data, len(freq.data), len(timebins.data))
		out[keys.Spect] = spect
	}
	return out, nil
}

func matNumber(raw any) (float64, bool) {
	switch v := raw.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int8:
		return float64(v), true
	case uint8:
		return float64(v), true
	case int16:
		return float64(v), true
	case uint16:
		return float64(v), true
	case int32:
		return float64(v), true
	case uint32:
		return float64(v), true
	case int64:
		return float64(v), true
	case uint64:
		return float64(v), true
	default:
		return 0, false
	}
}
