package archive

import (
	"archive/zip"
	"encoding/binary"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/nutanix/nai-llm/pkg/logging"
)

func testLogger() logging.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

func TestName(t *testing.T) {
	require.Equal(t, "mpt_7b_ada218f", Name("mpt_7b", "ada218f9a93b5f1c6dce48a4cc9ff01fcba431e7"))
	require.Equal(t, "mpt_7b_abc", Name("mpt_7b", "abc"))
	require.Equal(t, "custom", Name("custom", ""))
}

func writeModelDir(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "pytorch_model.bin"), []byte("weights"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.json"), []byte("{}"), 0o644))
	return dir
}

func writeHandler(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "handler.py")
	require.NoError(t, os.WriteFile(path, []byte("def handle(): pass\n"), 0o644))
	return path
}

func TestGenerate(t *testing.T) {
	modelDir := writeModelDir(t)
	outputDir := t.TempDir()

	artifact, err := Generate(testLogger(), Options{
		ModelName:   "mpt_7b",
		Version:     "ada218f9a93b5f1c6dce48a4cc9ff01fcba431e7",
		ModelDir:    modelDir,
		HandlerPath: writeHandler(t),
		OutputDir:   outputDir,
	})
	require.NoError(t, err)
	require.Equal(t, filepath.Join(outputDir, "mpt_7b_ada218f.mar"), artifact.Path)
	require.Positive(t, artifact.Size)
	require.NoError(t, artifact.Digest.Validate())

	reader, err := zip.OpenReader(artifact.Path)
	require.NoError(t, err)
	defer reader.Close()

	names := make(map[string]bool)
	for _, file := range reader.File {
		names[file.Name] = true
	}
	require.True(t, names["pytorch_model.bin"])
	require.True(t, names["config.json"])
	require.True(t, names["handler.py"])
	require.True(t, names["MAR-INF/MANIFEST.json"])

	manifestFile, err := reader.Open("MAR-INF/MANIFEST.json")
	require.NoError(t, err)
	defer manifestFile.Close()
	var m struct {
		Runtime string `json:"runtime"`
		Model   struct {
			ModelName    string `json:"modelName"`
			ModelVersion string `json:"modelVersion"`
			Handler      string `json:"handler"`
		} `json:"model"`
	}
	require.NoError(t, json.NewDecoder(manifestFile).Decode(&m))
	require.Equal(t, "python", m.Runtime)
	require.Equal(t, "mpt_7b", m.Model.ModelName)
	require.Equal(t, "ada218f9a93b5f1c6dce48a4cc9ff01fcba431e7", m.Model.ModelVersion)
	require.Equal(t, "handler.py", m.Model.Handler)
}

func TestGenerateOverwritesExistingArchive(t *testing.T) {
	modelDir := writeModelDir(t)
	outputDir := t.TempDir()
	handler := writeHandler(t)
	opts := Options{
		ModelName:   "mpt_7b",
		Version:     "ada218f",
		ModelDir:    modelDir,
		HandlerPath: handler,
		OutputDir:   outputDir,
	}

	first, err := Generate(testLogger(), opts)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(modelDir, "extra.bin"), []byte("more"), 0o644))
	second, err := Generate(testLogger(), opts)
	require.NoError(t, err)
	require.Equal(t, first.Path, second.Path)
	require.NotEqual(t, first.Digest, second.Digest)

	entries, err := os.ReadDir(outputDir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
}

func TestGenerateRejectsMissingWeights(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.json"), []byte("{}"), 0o644))

	_, err := Generate(testLogger(), Options{
		ModelName:   "empty",
		ModelDir:    dir,
		HandlerPath: writeHandler(t),
		OutputDir:   t.TempDir(),
	})
	require.ErrorIs(t, err, ErrNoWeights)
	var pkgErr *PackagingError
	require.ErrorAs(t, err, &pkgErr)
	require.Equal(t, "empty", pkgErr.Model)
}

func TestGenerateRejectsMissingHandler(t *testing.T) {
	_, err := Generate(testLogger(), Options{
		ModelName:   "mpt_7b",
		ModelDir:    writeModelDir(t),
		HandlerPath: filepath.Join(t.TempDir(), "absent.py"),
		OutputDir:   t.TempDir(),
	})
	require.ErrorIs(t, err, ErrMissingHandler)
}

func TestExists(t *testing.T) {
	outputDir := t.TempDir()
	_, ok := Exists(outputDir, "mpt_7b", "ada218f")
	require.False(t, ok)

	_, err := Generate(testLogger(), Options{
		ModelName:   "mpt_7b",
		Version:     "ada218f",
		ModelDir:    writeModelDir(t),
		HandlerPath: writeHandler(t),
		OutputDir:   outputDir,
	})
	require.NoError(t, err)

	path, ok := Exists(outputDir, "mpt_7b", "ada218f")
	require.True(t, ok)
	require.Equal(t, filepath.Join(outputDir, "mpt_7b_ada218f.mar"), path)
}

func writeSafetensors(t *testing.T, path string, header map[string]any, dataLen int) {
	t.Helper()
	raw, err := json.Marshal(header)
	require.NoError(t, err)

	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()
	require.NoError(t, binary.Write(f, binary.LittleEndian, uint64(len(raw))))
	_, err = f.Write(raw)
	require.NoError(t, err)
	_, err = f.Write(make([]byte, dataLen))
	require.NoError(t, err)
}

func TestParseSafetensorsHeader(t *testing.T) {
	path := filepath.Join(t.TempDir(), "model.safetensors")
	writeSafetensors(t, path, map[string]any{
		"__metadata__": map[string]string{"format": "pt"},
		"wte.weight": map[string]any{
			"dtype":        "F16",
			"shape":        []int64{4, 8},
			"data_offsets": []int64{0, 64},
		},
		"lm_head.weight": map[string]any{
			"dtype":        "F16",
			"shape":        []int64{8, 2},
			"data_offsets": []int64{64, 96},
		},
	}, 96)

	header, err := ParseSafetensorsHeader(path)
	require.NoError(t, err)
	require.Equal(t, "pt", header.Metadata["format"])
	require.Equal(t, int64(48), header.Parameters())
	require.Equal(t, "F16", header.Quantization())
}

func TestParseSafetensorsHeaderMixedDtypes(t *testing.T) {
	path := filepath.Join(t.TempDir(), "model.safetensors")
	writeSafetensors(t, path, map[string]any{
		"a": map[string]any{"dtype": "F16", "shape": []int64{2}, "data_offsets": []int64{0, 4}},
		"b": map[string]any{"dtype": "F32", "shape": []int64{2}, "data_offsets": []int64{4, 12}},
	}, 12)

	header, err := ParseSafetensorsHeader(path)
	require.NoError(t, err)
	require.Equal(t, "mixed", header.Quantization())
}

func TestParseSafetensorsHeaderRejectsGarbage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "model.safetensors")
	require.NoError(t, os.WriteFile(path, []byte("not a safetensors file"), 0o644))
	_, err := ParseSafetensorsHeader(path)
	require.Error(t, err)
}
