package dataset

import (
	"bytes"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/go-gota/gota/dataframe"
	"github.com/go-gota/gota/series"
	"golang.org/x/text/unicode/norm"
)

// AnnotFormatCSV is the built-in annotation format: one row per segment with
// onset_s, offset_s and label columns. A file shared by many clips adds an
// audio_path column naming the clip each row belongs to.
const AnnotFormatCSV = "csv"

const annotKeyColumn = "audio_path"

var annotColumns = []string{"onset_s", "offset_s", "label"}

var annotTypes = map[string]series.Type{
	"onset_s":      series.Float,
	"offset_s":     series.Float,
	"label":        series.String,
	annotKeyColumn: series.String,
}

// annotFile is one parsed annotation CSV: segments grouped by clip key. A
// per-clip file uses the empty key.
type annotFile map[string][]Segment

// AnnotPathFor returns the per-clip annotation file for source.
func AnnotPathFor(source string) string {
	return source + ".csv"
}

// ReadAnnotations parses an annotation file in the csv format.
func ReadAnnotations(path string) (map[string][]Segment, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read annotation: %w", err)
	}
	// A header without rows is a clip with no segments.
	if len(bytes.Fields(data)) <= 1 {
		return map[string][]Segment{}, nil
	}

	df := dataframe.ReadCSV(bytes.NewReader(data), dataframe.WithTypes(annotTypes), dataframe.NaNValues(nil))
	if df.Err != nil {
		return nil, fmt.Errorf("parse annotation %s: %w", path, df.Err)
	}
	if err := requireColumns(df, annotColumns, path); err != nil {
		return nil, err
	}

	onsets := df.Col("onset_s").Float()
	offsets := df.Col("offset_s").Float()
	labels := df.Col("label").Records()
	var keys []string
	if hasColumn(df, annotKeyColumn) {
		keys = df.Col(annotKeyColumn).Records()
	}

	out := annotFile{}
	for i := range onsets {
		seg := Segment{Onset: onsets[i], Offset: offsets[i], Label: NormalizeLabel(labels[i])}
		if seg.Label == "" {
			return nil, fmt.Errorf("annotation %s: row %d has an empty label", path, i+1)
		}
		if math.IsNaN(seg.Onset) || math.IsNaN(seg.Offset) {
			return nil, fmt.Errorf("annotation %s: row %d is missing onset_s or offset_s", path, i+1)
		}
		if seg.Onset < 0 || seg.Offset <= seg.Onset {
			return nil, fmt.Errorf("annotation %s: row %d has invalid onset %.6g / offset %.6g", path, i+1, seg.Onset, seg.Offset)
		}
		key := ""
		if keys != nil {
			key = filepath.Base(keys[i])
		}
		out[key] = append(out[key], seg)
	}
	for key := range out {
		segs := out[key]
		sort.SliceStable(segs, func(a, b int) bool { return segs[a].Onset < segs[b].Onset })
	}
	return out, nil
}

// NormalizeLabel puts a label into Unicode NFC so labels typed on different
// systems compare equal.
func NormalizeLabel(label string) string {
	return norm.NFC.String(label)
}

// LoadAnnotations fills Segments for every clip with an annotation path.
// Shared annotation files are parsed once.
func (d *Dataset) LoadAnnotations() error {
	cache := map[string]annotFile{}
	for i := range d.Clips {
		clip := &d.Clips[i]
		if clip.AnnotPath == "" {
			continue
		}
		if clip.AnnotFormat != "" && clip.AnnotFormat != AnnotFormatCSV {
			return fmt.Errorf("clip %s: annotation format %q is not supported", clip.Source(), clip.AnnotFormat)
		}
		parsed, ok := cache[clip.AnnotPath]
		if !ok {
			segments, err := ReadAnnotations(clip.AnnotPath)
			if err != nil {
				return err
			}
			parsed = segments
			cache[clip.AnnotPath] = parsed
		}
		segments, err := parsed.segmentsFor(*clip)
		if err != nil {
			return err
		}
		clip.Segments = segments
	}
	return nil
}

func (a annotFile) segmentsFor(clip Clip) ([]Segment, error) {
	if segs, ok := a[clip.AnnotKey()]; ok {
		return segs, nil
	}
	if segs, ok := a[""]; ok && len(a) == 1 {
		return segs, nil
	}
	if len(a) == 0 {
		return nil, nil
	}
	return nil, fmt.Errorf("annotation %s has no rows for %s", clip.AnnotPath, clip.AnnotKey())
}

func hasColumn(df dataframe.DataFrame, name string) bool {
	for _, col := range df.Names() {
		if col == name {
			return true
		}
	}
	return false
}

// WriteAnnotations writes segments for many clips into one csv annotation
// file with an audio_path key column. keys[i] names the clip of
// segments[i]; only its base name is stored.
func WriteAnnotations(path string, keys []string, segments [][]Segment) error {
	if len(keys) != len(segments) {
		return fmt.Errorf("write annotations: %d keys for %d segment lists", len(keys), len(segments))
	}
	header := append([]string{annotKeyColumn}, annotColumns...)
	records := [][]string{header}
	for i, key := range keys {
		for _, seg := range segments[i] {
			records = append(records, []string{
				filepath.Base(key),
				strconv.FormatFloat(seg.Onset, 'g', -1, 64),
				strconv.FormatFloat(seg.Offset, 'g', -1, 64),
				seg.Label,
			})
		}
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create annotation directory: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create annotation csv: %w", err)
	}
	if len(records) == 1 {
		// gota cannot build a frame without rows.
		_, err = f.WriteString(strings.Join(header, ",") + "\n")
	} else {
		df := dataframe.LoadRecords(records, dataframe.DetectTypes(false), dataframe.HasHeader(true))
		if df.Err != nil {
			_ = f.Close()
			return fmt.Errorf("build annotation frame: %w", df.Err)
		}
		err = df.WriteCSV(f)
	}
	if err != nil {
		_ = f.Close()
		return fmt.Errorf("write annotation csv: %w", err)
	}
	return f.Close()
}
