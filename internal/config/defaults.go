package config

const (
	defaultFFTSize        = 512
	defaultStepSize       = 64
	defaultSpectKey       = "s"
	defaultFreqKey        = "f"
	defaultTimebinsKey    = "t"
	defaultAudioPathKey   = "audio_path"
	defaultWindowSize     = 88
	defaultNumWorkers     = 2
	defaultDevice         = "cpu"
	defaultPredictBatch   = 1
	defaultAnnotCSVSuffix = ".annot.csv"
	defaultRunnerCommand  = "vak-runner"
)

// Default returns a Config populated with the defaults of the always-present
// sections. Command sections stay nil.
func Default() Config {
	return Config{
		SpectParams: SpectParams{
			FFTSize:      defaultFFTSize,
			StepSize:     defaultStepSize,
			SpectKey:     defaultSpectKey,
			FreqKey:      defaultFreqKey,
			TimebinsKey:  defaultTimebinsKey,
			AudioPathKey: defaultAudioPathKey,
		},
		DataLoader: DataLoader{
			WindowSize: defaultWindowSize,
		},
		Runner: Runner{
			Command: defaultRunnerCommand,
		},
	}
}

func defaultTrain() Train {
	return Train{
		NormalizeSpectrograms: true,
		NumWorkers:            defaultNumWorkers,
		Device:                defaultDevice,
		Shuffle:               true,
	}
}

func defaultEval() Eval {
	return Eval{
		NumWorkers: defaultNumWorkers,
		Device:     defaultDevice,
	}
}

func defaultPredict() Predict {
	return Predict{
		BatchSize:  defaultPredictBatch,
		NumWorkers: defaultNumWorkers,
		Device:     defaultDevice,
	}
}
