package runtime

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// snapshotModel is one model entry in the startup snapshot appended to the
// runtime's configuration file.
type snapshotModel struct {
	DefaultVersion  bool   `json:"defaultVersion"`
	MarName         string `json:"marName"`
	MinWorkers      int    `json:"minWorkers"`
	MaxWorkers      int    `json:"maxWorkers"`
	BatchSize       int    `json:"batchSize"`
	MaxBatchDelay   int    `json:"maxBatchDelay"`
	ResponseTimeout int    `json:"responseTimeout"`
}

type snapshot struct {
	Name       string                              `json:"name"`
	ModelCount int                                 `json:"modelCount"`
	Models     map[string]map[string]snapshotModel `json:"models"`
}

// WriteConfig renders the runtime configuration file into the session's
// scratch directory, binding the fixed ports and loading the session's
// archive as the default version at startup. It returns the file's path.
func WriteConfig(session *Session) (string, error) {
	if err := os.MkdirAll(filepath.Join(session.GenDir, "logs"), 0o755); err != nil {
		return "", fmt.Errorf("create scratch directory: %w", err)
	}

	snap, err := startupSnapshot(session)
	if err != nil {
		return "", err
	}

	var b strings.Builder
	fmt.Fprintf(&b, "inference_address=http://0.0.0.0:%d\n", InferencePort)
	fmt.Fprintf(&b, "management_address=http://0.0.0.0:%d\n", ManagementPort)
	fmt.Fprintf(&b, "metrics_address=http://0.0.0.0:%d\n", MetricsPort)
	fmt.Fprintf(&b, "metrics_mode=prometheus\n")
	fmt.Fprintf(&b, "number_of_gpu=%d\n", session.GPUs)
	fmt.Fprintf(&b, "install_py_dep_per_model=true\n")
	fmt.Fprintf(&b, "model_store=%s\n", session.ModelStore)
	fmt.Fprintf(&b, "model_snapshot=%s\n", snap)

	path := filepath.Join(session.GenDir, "config.properties")
	if err := os.WriteFile(path, []byte(b.String()), 0o644); err != nil {
		return "", fmt.Errorf("write runtime config: %w", err)
	}
	return path, nil
}

// startupSnapshot builds the model_snapshot JSON value. Unset registration
// parameters fall back to the runtime defaults the original deployment used.
func startupSnapshot(session *Session) (string, error) {
	version := session.Version
	if version == "" {
		version = "1.0"
	}
	workers := orDefault(session.Registration.InitialWorkers, 1)
	snap := snapshot{
		Name:       "startup.cfg",
		ModelCount: 1,
		Models: map[string]map[string]snapshotModel{
			session.ModelName: {
				version: {
					DefaultVersion:  true,
					MarName:         session.ArchiveName,
					MinWorkers:      workers,
					MaxWorkers:      workers,
					BatchSize:       orDefault(session.Registration.BatchSize, 1),
					MaxBatchDelay:   orDefault(session.Registration.MaxBatchDelay, 1),
					ResponseTimeout: orDefault(session.Registration.ResponseTimeout, 120),
				},
			},
		},
	}
	data, err := json.Marshal(snap)
	if err != nil {
		return "", fmt.Errorf("encode startup snapshot: %w", err)
	}
	return string(data), nil
}

func orDefault(value, fallback int) int {
	if value > 0 {
		return value
	}
	return fallback
}

// handlerEnv renders the session's generation and quantization parameters as
// environment variables read by the model handler.
func handlerEnv(session *Session) []string {
	var env []string
	if generation := session.Generation; generation != nil {
		if generation.Temperature > 0 {
			env = append(env, fmt.Sprintf("NAI_TEMPERATURE=%g", generation.Temperature))
		}
		if generation.RepetitionPenalty > 0 {
			env = append(env, fmt.Sprintf("NAI_REP_PENALTY=%g", generation.RepetitionPenalty))
		}
		if generation.TopP > 0 {
			env = append(env, fmt.Sprintf("NAI_TOP_P=%g", generation.TopP))
		}
		if generation.MaxNewTokens > 0 {
			env = append(env, fmt.Sprintf("NAI_MAX_TOKENS=%d", generation.MaxNewTokens))
		}
	}
	if session.QuantizeBits > 0 {
		env = append(env, fmt.Sprintf("NAI_QUANTIZATION=%d", session.QuantizeBits))
	}
	return env
}

// ValidateQuantizeBits checks a requested quantization bit width.
func ValidateQuantizeBits(bits int) error {
	switch bits {
	case 0, 4, 8:
		return nil
	}
	return fmt.Errorf("unsupported quantization bit width %d (supported: 4, 8)", bits)
}
