package engine

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/go-gota/gota/dataframe"
)

// MetricsFileName is the metrics CSV written for every train or eval job.
const MetricsFileName = "metrics.csv"

// writeMetricsCSV stores metrics as split,metric,value rows sorted by split
// then metric.
func writeMetricsCSV(path string, metrics map[string]map[string]float64) error {
	records := [][]string{{"split", "metric", "value"}}
	for _, split := range sortedKeys(metrics) {
		for _, name := range sortedKeys(metrics[split]) {
			records = append(records, []string{split, name, formatFloat(metrics[split][name])})
		}
	}
	return writeRecords(path, records)
}

// writeRecords writes string records, header first, as CSV through gota.
func writeRecords(path string, records [][]string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create %s: %w", filepath.Dir(path), err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", filepath.Base(path), err)
	}
	if len(records) == 1 {
		err = writeHeader(f, records[0])
	} else {
		df := dataframe.LoadRecords(records, dataframe.DetectTypes(false), dataframe.HasHeader(true))
		if df.Err != nil {
			_ = f.Close()
			return fmt.Errorf("build %s: %w", filepath.Base(path), df.Err)
		}
		err = df.WriteCSV(f)
	}
	if err != nil {
		_ = f.Close()
		return fmt.Errorf("write %s: %w", filepath.Base(path), err)
	}
	return f.Close()
}

func writeHeader(f *os.File, header []string) error {
	_, err := f.WriteString(strings.Join(header, ",") + "\n")
	return err
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}
