package commands

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRootCommandWiring(t *testing.T) {
	root := NewRootCmd()
	expected := []string{
		"version", "download", "run", "start", "stop", "register",
		"unregister", "describe", "set-default", "scale", "predict",
		"status", "cleanup",
	}
	var names []string
	for _, c := range root.Commands() {
		names = append(names, c.Name())
	}
	for _, name := range expected {
		require.Contains(t, names, name)
	}
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := NewRootCmd()
	out := new(bytes.Buffer)
	root.SetOut(out)
	root.SetErr(out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestDownloadRequiresFlags(t *testing.T) {
	_, err := execute(t, "download")
	require.Error(t, err)
	require.Contains(t, err.Error(), "model-name")
}

func TestRunRequiresModelName(t *testing.T) {
	_, err := execute(t, "run")
	require.Error(t, err)
	require.Contains(t, err.Error(), "model-name")
}

func TestRunRejectsUnknownTarget(t *testing.T) {
	_, err := execute(t, "run", "--model-name", "mpt_7b", "--target", "mainframe")
	require.Error(t, err)
	require.Contains(t, err.Error(), "mainframe")
}

func TestVersionCommand(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)
	require.Contains(t, out, Version)
}

func TestResolveTokenFallsBackToEnv(t *testing.T) {
	t.Setenv("HF_TOKEN", "from-env")
	require.Equal(t, "from-env", resolveToken(""))
	require.Equal(t, "explicit", resolveToken("explicit"))
}
