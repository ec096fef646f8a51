package catalog

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseAndResolve(t *testing.T) {
	cat, err := Parse([]byte(`{
		"mpt_7b": {
			"repo_id": "mosaicml/mpt-7b",
			"repo_version": "abc1234def",
			"handler": "handler.py",
			"registration_params": {"initial_workers": 2, "batch_size": 1}
		}
	}`))
	require.NoError(t, err)

	spec, err := cat.Resolve("mpt_7b")
	require.NoError(t, err)
	require.Equal(t, "mpt_7b", spec.Name)
	require.Equal(t, "mosaicml/mpt-7b", spec.RepoID)
	require.Equal(t, "abc1234def", spec.Revision)
	require.Equal(t, 2, spec.Registration.InitialWorkers)
	require.Nil(t, spec.Generation)
}

func TestResolveUnknownModel(t *testing.T) {
	cat, err := Parse([]byte(`{"known": {"repo_id": "org/known"}}`))
	require.NoError(t, err)

	_, err = cat.Resolve("missing")
	require.ErrorIs(t, err, ErrUnknownModel)
	var unknown *UnknownModelError
	require.True(t, errors.As(err, &unknown))
	require.Equal(t, "missing", unknown.Name)
	require.Equal(t, []string{"known"}, unknown.Known)
}

func TestParseRejectsMissingRepoID(t *testing.T) {
	_, err := Parse([]byte(`{"broken": {"handler": "handler.py"}}`))
	require.Error(t, err)
	require.Contains(t, err.Error(), "broken")
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "models.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"m": {"repo_id": "org/m"}}`), 0o644))

	cat, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, []string{"m"}, cat.Names())
}

func TestDefaultCatalog(t *testing.T) {
	cat, err := Default()
	require.NoError(t, err)
	names := cat.Names()
	require.Contains(t, names, "mpt_7b")
	require.Contains(t, names, "falcon_7b")
	require.Contains(t, names, "llama2_7b")
}

func TestRequiresToken(t *testing.T) {
	require.True(t, ModelSpec{RepoID: "meta-llama/Llama-2-7b-hf"}.RequiresToken())
	require.False(t, ModelSpec{RepoID: "mosaicml/mpt-7b"}.RequiresToken())
}

func TestNamesSorted(t *testing.T) {
	cat, err := Parse([]byte(`{"b": {"repo_id": "org/b"}, "a": {"repo_id": "org/a"}}`))
	require.NoError(t, err)
	require.Equal(t, []string{"a", "b"}, cat.Names())
}
