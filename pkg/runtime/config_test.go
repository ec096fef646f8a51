package runtime

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nutanix/nai-llm/pkg/catalog"
)

func testSession(t *testing.T) *Session {
	t.Helper()
	return &Session{
		ModelName:   "mpt_7b",
		Version:     "1.0",
		ArchiveName: "mpt_7b_ada218f.mar",
		ModelStore:  filepath.Join(t.TempDir(), "model-store"),
		GenDir:      filepath.Join(t.TempDir(), "gen"),
		Registration: catalog.RegistrationParams{
			InitialWorkers:  2,
			BatchSize:       1,
			MaxBatchDelay:   200,
			ResponseTimeout: 2000,
		},
	}
}

func TestWriteConfig(t *testing.T) {
	session := testSession(t)
	session.GPUs = 2

	path, err := WriteConfig(session)
	require.NoError(t, err)
	require.Equal(t, filepath.Join(session.GenDir, "config.properties"), path)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	config := string(data)
	require.Contains(t, config, "inference_address=http://0.0.0.0:8080\n")
	require.Contains(t, config, "management_address=http://0.0.0.0:8081\n")
	require.Contains(t, config, "metrics_address=http://0.0.0.0:8082\n")
	require.Contains(t, config, "number_of_gpu=2\n")
	require.Contains(t, config, "model_store="+session.ModelStore+"\n")
	require.Contains(t, config, `"marName":"mpt_7b_ada218f.mar"`)
	require.Contains(t, config, `"minWorkers":2`)
	require.Contains(t, config, `"maxWorkers":2`)
	require.Contains(t, config, `"maxBatchDelay":200`)
	require.Contains(t, config, `"responseTimeout":2000`)
	require.Contains(t, config, `"defaultVersion":true`)

	info, err := os.Stat(filepath.Join(session.GenDir, "logs"))
	require.NoError(t, err)
	require.True(t, info.IsDir())
}

func TestWriteConfigDefaults(t *testing.T) {
	session := testSession(t)
	session.Version = ""
	session.Registration = catalog.RegistrationParams{}

	path, err := WriteConfig(session)
	require.NoError(t, err)
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	config := string(data)
	require.Contains(t, config, `"1.0":{`)
	require.Contains(t, config, `"minWorkers":1`)
	require.Contains(t, config, `"batchSize":1`)
	require.Contains(t, config, `"maxBatchDelay":1`)
	require.Contains(t, config, `"responseTimeout":120`)
}

func TestHandlerEnv(t *testing.T) {
	session := testSession(t)
	session.Generation = &catalog.GenerationParams{
		Temperature:       0.7,
		RepetitionPenalty: 1.3,
		TopP:              0.95,
		MaxNewTokens:      200,
	}
	session.QuantizeBits = 4

	env := handlerEnv(session)
	require.Contains(t, env, "NAI_TEMPERATURE=0.7")
	require.Contains(t, env, "NAI_REP_PENALTY=1.3")
	require.Contains(t, env, "NAI_TOP_P=0.95")
	require.Contains(t, env, "NAI_MAX_TOKENS=200")
	require.Contains(t, env, "NAI_QUANTIZATION=4")
}

func TestHandlerEnvEmpty(t *testing.T) {
	session := testSession(t)
	require.Empty(t, handlerEnv(session))
}

func TestValidateQuantizeBits(t *testing.T) {
	require.NoError(t, ValidateQuantizeBits(0))
	require.NoError(t, ValidateQuantizeBits(4))
	require.NoError(t, ValidateQuantizeBits(8))
	require.Error(t, ValidateQuantizeBits(2))
	require.Error(t, ValidateQuantizeBits(16))
}
