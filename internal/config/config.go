package config

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Section names as they appear in a config file.
const (
	SectionSpectParams = "SPECT_PARAMS"
	SectionDataLoader  = "DATALOADER"
	SectionPrep        = "PREP"
	SectionTrain       = "TRAIN"
	SectionEval        = "EVAL"
	SectionPredict     = "PREDICT"
	SectionLearncurve  = "LEARNCURVE"
	SectionRunner      = "RUNNER"
)

// SpectParams describes how spectrograms were (or will be) computed and the
// keys used to read them from array files.
type SpectParams struct {
	FFTSize       int       `toml:"fft_size"`
	StepSize      int       `toml:"step_size"`
	FreqCutoffs   []float64 `toml:"freq_cutoffs"`
	Thresh        *float64  `toml:"thresh"`
	TransformType string    `toml:"transform_type"`
	SpectKey      string    `toml:"spect_key"`
	FreqKey       string    `toml:"freq_key"`
	TimebinsKey   string    `toml:"timebins_key"`
	AudioPathKey  string    `toml:"audio_path_key"`
}

// DataLoader holds options for windowing spectrograms into batches.
type DataLoader struct {
	WindowSize int `toml:"window_size"`
}

// Prep configures dataset preparation. Durations are in seconds; nil means
// unset and -1 means "use the remainder of the dataset".
type Prep struct {
	DataDir     string   `toml:"data_dir"`
	OutputDir   string   `toml:"output_dir"`
	AudioFormat string   `toml:"audio_format"`
	SpectFormat string   `toml:"spect_format"`
	AnnotFormat string   `toml:"annot_format"`
	AnnotFile   string   `toml:"annot_file"`
	Labelset    []string `toml:"labelset"`
	TrainDur    *float64 `toml:"train_dur"`
	ValDur      *float64 `toml:"val_dur"`
	TestDur     *float64 `toml:"test_dur"`
}

// Train configures a training run.
type Train struct {
	Models                []string `toml:"models"`
	RootResultsDir        string   `toml:"root_results_dir"`
	CSVPath               string   `toml:"csv_path"`
	NumEpochs             int      `toml:"num_epochs"`
	BatchSize             int      `toml:"batch_size"`
	ValStep               int      `toml:"val_step"`
	CkptStep              int      `toml:"ckpt_step"`
	Patience              int      `toml:"patience"`
	CheckpointPath        string   `toml:"checkpoint_path"`
	SpectScalerPath       string   `toml:"spect_scaler_path"`
	NormalizeSpectrograms bool     `toml:"normalize_spectrograms"`
	NumWorkers            int      `toml:"num_workers"`
	Device                string   `toml:"device"`
	Shuffle               bool     `toml:"shuffle"`
}

// Eval configures evaluation of a trained checkpoint on a test split.
type Eval struct {
	Models          []string `toml:"models"`
	CSVPath         string   `toml:"csv_path"`
	CheckpointPath  string   `toml:"checkpoint_path"`
	LabelmapPath    string   `toml:"labelmap_path"`
	OutputDir       string   `toml:"output_dir"`
	BatchSize       int      `toml:"batch_size"`
	NumWorkers      int      `toml:"num_workers"`
	Device          string   `toml:"device"`
	SpectScalerPath string   `toml:"spect_scaler_path"`
}

// Predict configures inference on unannotated data.
type Predict struct {
	Models           []string `toml:"models"`
	CSVPath          string   `toml:"csv_path"`
	CheckpointPath   string   `toml:"checkpoint_path"`
	LabelmapPath     string   `toml:"labelmap_path"`
	BatchSize        int      `toml:"batch_size"`
	NumWorkers       int      `toml:"num_workers"`
	Device           string   `toml:"device"`
	SpectScalerPath  string   `toml:"spect_scaler_path"`
	AnnotCSVFilename string   `toml:"annot_csv_filename"`
	OutputDir        string   `toml:"output_dir"`
	MinSegmentDur    *float64 `toml:"min_segment_dur"`
	MajorityVote     bool     `toml:"majority_vote"`
	SaveNetOutputs   bool     `toml:"save_net_outputs"`
}

// Learncurve configures a learning curve: the TRAIN options plus the
// training-set durations and replicate count.
type Learncurve struct {
	Train
	TrainSetDurs    []float64 `toml:"train_set_durs"`
	NumReplicates   int       `toml:"num_replicates"`
	PreviousRunPath string    `toml:"previous_run_path"`
}

// Runner configures the external framework process that trains and runs
// models.
type Runner struct {
	Command string            `toml:"command"`
	Args    []string          `toml:"args"`
	Timeout int               `toml:"timeout"`
	Env     map[string]string `toml:"env"`
}

// Config encapsulates a parsed configuration file.
//
// SpectParams, DataLoader and Runner are always populated (defaults apply when
// the section is absent). The command sections are nil unless present in the
// file and requested by the caller. Models holds the free-form tables named
// after the models listed in a `models` option.
type Config struct {
	SpectParams SpectParams
	DataLoader  DataLoader
	Runner      Runner
	Prep        *Prep
	Train       *Train
	Eval        *Eval
	Predict     *Predict
	Learncurve  *Learncurve
	Models      map[string]map[string]any

	// Path is the absolute path of the file the config was loaded from.
	Path string
}

// Load reads, validates and parses the configuration file at path. When
// sections are given only those are parsed; the rest are still checked for
// valid section names.
func Load(path string, sections ...string) (*Config, error) {
	doc, resolved, err := ReadDocument(path)
	if err != nil {
		return nil, err
	}
	return FromTOML(doc, resolved, sections...)
}

// ReadDocument loads a TOML file into a generic document map.
func ReadDocument(path string) (map[string]any, string, error) {
	if strings.TrimSpace(path) == "" {
		return nil, "", errors.New("config path is required")
	}
	resolved, err := expandPath(path)
	if err != nil {
		return nil, "", err
	}
	info, err := os.Stat(resolved)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, "", fmt.Errorf("config file not found: %s", resolved)
		}
		return nil, "", fmt.Errorf("stat config: %w", err)
	}
	if info.IsDir() {
		return nil, "", fmt.Errorf("config path is a directory: %s", resolved)
	}
	data, err := os.ReadFile(resolved)
	if err != nil {
		return nil, "", fmt.Errorf("read config: %w", err)
	}
	doc := map[string]any{}
	if err := toml.Unmarshal(data, &doc); err != nil {
		return nil, "", fmt.Errorf("parse config %s: %w", resolved, err)
	}
	return doc, resolved, nil
}

// FromTOML converts a decoded TOML document into a Config. path is only used
// to make error messages clearer and may be empty.
func FromTOML(doc map[string]any, path string, sections ...string) (*Config, error) {
	if err := ValidateSections(doc, path); err != nil {
		return nil, err
	}
	if err := validateSectionCombinations(doc); err != nil {
		return nil, err
	}

	requested := sections
	if len(requested) == 0 {
		requested = SectionNames()
	}
	for _, name := range requested {
		if !registry.hasSection(name) {
			return nil, fmt.Errorf("%w: %q is not a section that can be parsed", ErrInvalidSection, name)
		}
	}

	cfg := Default()
	cfg.Path = path
	for _, name := range requested {
		raw, ok := doc[name]
		if !ok {
			continue
		}
		if err := ValidateOptions(doc, name, path); err != nil {
			return nil, err
		}
		coerced, err := registry.coerceSection(name, raw.(map[string]any))
		if err != nil {
			return nil, err
		}
		if err := cfg.decodeSection(name, coerced); err != nil {
			return nil, err
		}
	}
	cfg.Models = modelTables(doc)

	if err := cfg.normalize(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) decodeSection(name string, values map[string]any) error {
	var target any
	switch name {
	case SectionSpectParams:
		target = &c.SpectParams
	case SectionDataLoader:
		target = &c.DataLoader
	case SectionRunner:
		target = &c.Runner
	case SectionPrep:
		c.Prep = &Prep{}
		target = c.Prep
	case SectionTrain:
		train := defaultTrain()
		c.Train = &train
		target = c.Train
	case SectionEval:
		eval := defaultEval()
		c.Eval = &eval
		target = c.Eval
	case SectionPredict:
		predict := defaultPredict()
		c.Predict = &predict
		target = c.Predict
	case SectionLearncurve:
		c.Learncurve = &Learncurve{Train: defaultTrain()}
		target = c.Learncurve
	default:
		return fmt.Errorf("%w: %s", ErrInvalidSection, name)
	}

	data, err := toml.Marshal(values)
	if err != nil {
		return fmt.Errorf("encode %s: %w", name, err)
	}
	decoder := toml.NewDecoder(bytes.NewReader(data))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(target); err != nil {
		return fmt.Errorf("decode %s: %w", name, err)
	}
	return nil
}

// modelTables collects top-level tables that are not pipeline sections. They
// were already checked against the models options by ValidateSections.
func modelTables(doc map[string]any) map[string]map[string]any {
	out := map[string]map[string]any{}
	for name, value := range doc {
		if registry.hasSection(name) {
			continue
		}
		table, ok := value.(map[string]any)
		if !ok {
			continue
		}
		out[name] = table
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// SectionNames returns every section name that can be parsed, in the order
// commands consume them.
func SectionNames() []string {
	return []string{
		SectionSpectParams,
		SectionDataLoader,
		SectionPrep,
		SectionEval,
		SectionTrain,
		SectionLearncurve,
		SectionPredict,
		SectionRunner,
	}
}

// CommandSection maps a CLI command name onto the section holding its options.
func CommandSection(command string) (string, bool) {
	switch strings.ToLower(strings.TrimSpace(command)) {
	case "prep":
		return SectionPrep, true
	case "train":
		return SectionTrain, true
	case "eval":
		return SectionEval, true
	case "predict":
		return SectionPredict, true
	case "learncurve":
		return SectionLearncurve, true
	default:
		return "", false
	}
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}
	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}
