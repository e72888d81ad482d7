package testsupport

import (
	"os"
	"path/filepath"
	"testing"

	"vak/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*configBuilder)

type configBuilder struct {
	t       testing.TB
	baseDir string
	cfg     *config.Config
}

// NewConfig produces a config seeded with unique temp directories per test.
// It defaults common fields and applies any provided options.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfgVal := config.Default()
	cfgVal.Path = filepath.Join(base, "config.toml")
	cfgVal.SpectParams.TimebinsKey = "t"

	builder := &configBuilder{
		t:       t,
		baseDir: base,
		cfg:     &cfgVal,
	}
	for _, opt := range opts {
		opt(builder)
	}
	return builder.cfg
}

// WithPrep adds a PREP section reading files of the given spectrogram format
// from dataDir.
func WithPrep(dataDir, spectFormat string, labelset []string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Prep = &config.Prep{
			DataDir:     dataDir,
			OutputDir:   filepath.Join(b.baseDir, "prep"),
			SpectFormat: spectFormat,
			AnnotFormat: "csv",
			Labelset:    labelset,
		}
	}
}

// WithDurations sets the PREP split durations; nil leaves a split unset.
func WithDurations(train, val, test *float64) ConfigOption {
	return func(b *configBuilder) {
		if b.cfg.Prep == nil {
			b.t.Fatal("WithDurations requires WithPrep")
		}
		b.cfg.Prep.TrainDur = train
		b.cfg.Prep.ValDur = val
		b.cfg.Prep.TestDur = test
	}
}

// WithTrain adds a TRAIN section for the TweetyNet model writing results
// under the temp directory.
func WithTrain(csvPath string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Train = &config.Train{
			Models:                []string{"TweetyNet"},
			RootResultsDir:        filepath.Join(b.baseDir, "results"),
			CSVPath:               csvPath,
			NumEpochs:             2,
			BatchSize:             4,
			ValStep:               10,
			NormalizeSpectrograms: true,
			NumWorkers:            1,
			Device:                "cpu",
			Shuffle:               true,
		}
	}
}

// WithRunnerScript writes script as an executable runner and points
// RUNNER.command at it.
func WithRunnerScript(script string) ConfigOption {
	return func(b *configBuilder) {
		binDir := filepath.Join(b.baseDir, "bin")
		if err := os.MkdirAll(binDir, 0o755); err != nil {
			b.t.Fatalf("mkdir bin dir: %v", err)
		}
		target := filepath.Join(binDir, "vak-runner")
		if err := os.WriteFile(target, []byte(script), 0o755); err != nil {
			b.t.Fatalf("write runner stub: %v", err)
		}
		b.cfg.Runner.Command = target
	}
}

// WithStubbedBinaries writes stub executables for the provided names and
// prepends them to PATH. If names is empty, the default runner is stubbed.
func WithStubbedBinaries(names ...string) ConfigOption {
	return func(b *configBuilder) {
		if len(names) == 0 {
			names = []string{"vak-runner"}
		}
		binDir := filepath.Join(b.baseDir, "stubs")
		if err := os.MkdirAll(binDir, 0o755); err != nil {
			b.t.Fatalf("mkdir bin dir: %v", err)
		}
		script := []byte("#!/bin/sh\nexit 0\n")
		for _, name := range names {
			target := filepath.Join(binDir, name)
			if err := os.WriteFile(target, script, 0o755); err != nil {
				b.t.Fatalf("write stub %s: %v", name, err)
			}
		}

		oldPath := os.Getenv("PATH")
		if err := os.Setenv("PATH", binDir+string(os.PathListSeparator)+oldPath); err != nil {
			b.t.Fatalf("set PATH: %v", err)
		}
		b.t.Cleanup(func() {
			_ = os.Setenv("PATH", oldPath)
		})
	}
}

// BaseDir returns the root temp directory backing the generated config.
func BaseDir(cfg *config.Config) string {
	return filepath.Dir(cfg.Path)
}

// Float returns a pointer to v, for the optional duration fields.
func Float(v float64) *float64 {
	return &v
}
