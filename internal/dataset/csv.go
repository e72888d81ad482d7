package dataset

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/go-gota/gota/dataframe"
	"github.com/go-gota/gota/series"
)

// Columns of a dataset CSV, in the order they are written.
var Columns = []string{
	"audio_path",
	"spect_path",
	"annot_path",
	"annot_format",
	"duration",
	"timebin_dur",
	"split",
}

var columnTypes = map[string]series.Type{
	"audio_path":   series.String,
	"spect_path":   series.String,
	"annot_path":   series.String,
	"annot_format": series.String,
	"duration":     series.Float,
	"timebin_dur":  series.Float,
	"split":        series.String,
}

// ReadCSV loads a dataset written by WriteCSV.
func ReadCSV(path string) (*Dataset, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open dataset csv: %w", err)
	}
	defer f.Close()

	df := dataframe.ReadCSV(f, dataframe.WithTypes(columnTypes), dataframe.NaNValues(nil))
	if df.Err != nil {
		return nil, fmt.Errorf("parse dataset csv %s: %w", path, df.Err)
	}
	if err := requireColumns(df, Columns, path); err != nil {
		return nil, err
	}

	audio := df.Col("audio_path").Records()
	spect := df.Col("spect_path").Records()
	annot := df.Col("annot_path").Records()
	annotFormat := df.Col("annot_format").Records()
	split := df.Col("split").Records()
	durations := df.Col("duration").Float()
	timebins := df.Col("timebin_dur").Float()

	ds := &Dataset{Clips: make([]Clip, df.Nrow())}
	for i := range ds.Clips {
		ds.Clips[i] = Clip{
			AudioPath:   audio[i],
			SpectPath:   spect[i],
			AnnotPath:   annot[i],
			AnnotFormat: annotFormat[i],
			Duration:    durations[i],
			TimebinDur:  timebins[i],
			Split:       split[i],
		}
		if ds.Clips[i].AudioPath == "" && ds.Clips[i].SpectPath == "" {
			return nil, fmt.Errorf("dataset csv %s: row %d has neither audio_path nor spect_path", path, i+1)
		}
		if !validSeconds(durations[i]) {
			return nil, fmt.Errorf("dataset csv %s: row %d has a missing or negative duration (%v)", path, i+1, durations[i])
		}
		if !validSeconds(timebins[i]) {
			return nil, fmt.Errorf("dataset csv %s: row %d has a missing or negative timebin_dur (%v)", path, i+1, timebins[i])
		}
	}
	return ds, nil
}

// WriteCSV persists the dataset. Floats are written with full precision.
func (d *Dataset) WriteCSV(path string) error {
	if d.Len() == 0 {
		return fmt.Errorf("write dataset csv: dataset is empty")
	}
	values := make(map[string][]string, len(Columns))
	for _, clip := range d.Clips {
		values["audio_path"] = append(values["audio_path"], clip.AudioPath)
		values["spect_path"] = append(values["spect_path"], clip.SpectPath)
		values["annot_path"] = append(values["annot_path"], clip.AnnotPath)
		values["annot_format"] = append(values["annot_format"], clip.AnnotFormat)
		values["duration"] = append(values["duration"], strconv.FormatFloat(clip.Duration, 'g', -1, 64))
		values["timebin_dur"] = append(values["timebin_dur"], strconv.FormatFloat(clip.TimebinDur, 'g', -1, 64))
		split := clip.Split
		if split == "" {
			split = SplitNone
		}
		values["split"] = append(values["split"], split)
	}
	cols := make([]series.Series, 0, len(Columns))
	for _, name := range Columns {
		cols = append(cols, series.New(values[name], series.String, name))
	}
	df := dataframe.New(cols...)
	if df.Err != nil {
		return fmt.Errorf("build dataset frame: %w", df.Err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create dataset directory: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create dataset csv: %w", err)
	}
	if err := df.WriteCSV(f); err != nil {
		_ = f.Close()
		return fmt.Errorf("write dataset csv: %w", err)
	}
	return f.Close()
}

func requireColumns(df dataframe.DataFrame, required []string, path string) error {
	present := make(map[string]struct{}, df.Ncol())
	for _, name := range df.Names() {
		present[name] = struct{}{}
	}
	var missing []string
	for _, name := range required {
		if _, ok := present[name]; !ok {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("%s is missing columns: %s", path, strings.Join(missing, ", "))
	}
	return nil
}

// validSeconds rejects the NaN gota reads from an empty or malformed cell,
// and negative values.
func validSeconds(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0) && v >= 0
}
