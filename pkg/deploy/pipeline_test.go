package deploy

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/nutanix/nai-llm/pkg/catalog"
	"github.com/nutanix/nai-llm/pkg/hardware"
	"github.com/nutanix/nai-llm/pkg/hub"
	"github.com/nutanix/nai-llm/pkg/logging"
	"github.com/nutanix/nai-llm/pkg/management"
	"github.com/nutanix/nai-llm/pkg/runtime"
)

func testLogger() logging.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

// fakeTarget records lifecycle calls instead of launching anything.
type fakeTarget struct {
	started       *runtime.Session
	healthChecked int
	stopped       int
	startErr      error
	healthErr     error
}

func (f *fakeTarget) Start(ctx context.Context, session *runtime.Session) error {
	if f.startErr != nil {
		return f.startErr
	}
	f.started = session
	return nil
}

func (f *fakeTarget) HealthCheck(ctx context.Context) error {
	f.healthChecked++
	return f.healthErr
}

func (f *fakeTarget) Wait(ctx context.Context) error {
	return nil
}

func (f *fakeTarget) Stop(ctx context.Context) error {
	f.stopped++
	return nil
}

func testCatalog(t *testing.T) *catalog.Catalog {
	t.Helper()
	cat, err := catalog.Parse([]byte(`{
		"test_model": {
			"repo_id": "org/test",
			"repo_version": "rev1234567",
			"handler": "handler.py",
			"registration_params": {"initial_workers": 1}
		}
	}`))
	require.NoError(t, err)
	return cat
}

// fakeHub serves the org/test repository at revision rev1234567.
func fakeHub(t *testing.T) (*hub.Client, *atomic.Int64) {
	t.Helper()
	var requests atomic.Int64
	mux := http.NewServeMux()
	mux.HandleFunc("/api/models/org/test/revision/rev1234567", func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		_, _ = w.Write([]byte(`{"siblings": [
			{"rfilename": "config.json"},
			{"rfilename": "pytorch_model.bin"}
		]}`))
	})
	mux.HandleFunc("/org/test/resolve/rev1234567/", func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		_, _ = w.Write([]byte("content of " + r.URL.Path))
	})
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return hub.NewClient(testLogger(), hub.WithEndpoint(server.URL)), &requests
}

func fakeRuntime(t *testing.T, model string) (*management.Client, *atomic.Int64) {
	t.Helper()
	var predictions atomic.Int64
	mux := http.NewServeMux()
	mux.HandleFunc("/models/"+model, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		_, _ = w.Write([]byte(`[{
			"modelName": "` + model + `",
			"modelVersion": "1.0",
			"workers": [{"status": "READY"}]
		}]`))
	})
	mux.HandleFunc("/predictions/"+model, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		predictions.Add(1)
		_, _ = w.Write([]byte("generated text"))
	})
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	client := management.NewClient(testLogger(),
		management.WithInferenceAddress(server.URL),
		management.WithManagementAddress(server.URL),
	)
	return client, &predictions
}

func testOptions(t *testing.T) Options {
	t.Helper()
	base := t.TempDir()
	handler := filepath.Join(base, "handler.py")
	require.NoError(t, os.WriteFile(handler, []byte("def handle(): pass\n"), 0o644))

	dataDir := filepath.Join(base, "data")
	require.NoError(t, os.MkdirAll(dataDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dataDir, "sample.json"), []byte(`{"prompt": "hi"}`), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dataDir, "prompt.txt"), []byte("hi"), 0o644))

	return Options{
		ModelName:   "test_model",
		ModelStore:  filepath.Join(base, "model-store"),
		GenDir:      filepath.Join(base, "gen"),
		HandlerPath: handler,
		DataDir:     dataDir,
	}
}

func TestPipelineEndToEnd(t *testing.T) {
	hubClient, _ := fakeHub(t)
	client, predictions := fakeRuntime(t, "test_model")
	target := &fakeTarget{}
	opts := testOptions(t)

	pipeline := NewPipeline(testLogger(), testCatalog(t), hubClient, client, target, opts)
	require.NoError(t, pipeline.Run(context.Background()))
	require.Equal(t, StageTeardown, pipeline.LastStage())

	require.NotNil(t, target.started)
	require.Equal(t, "test_model", target.started.ModelName)
	require.Equal(t, "test_model_rev1234.mar", target.started.ArchiveName)
	require.Equal(t, 1, target.healthChecked)
	require.Equal(t, 1, target.stopped)
	require.Equal(t, int64(2), predictions.Load())

	entries, err := os.ReadDir(opts.ModelStore)
	require.NoError(t, err)
	var archives []string
	for _, entry := range entries {
		if filepath.Ext(entry.Name()) == ".mar" {
			archives = append(archives, entry.Name())
		}
	}
	require.Equal(t, []string{"test_model_rev1234.mar"}, archives)
}

func TestPipelineUnknownModelFailsBeforeAnyActivity(t *testing.T) {
	hubClient, requests := fakeHub(t)
	target := &fakeTarget{}
	opts := testOptions(t)
	opts.ModelName = "missing"

	pipeline := NewPipeline(testLogger(), testCatalog(t), hubClient, nil, target, opts)
	err := pipeline.Run(context.Background())
	require.ErrorIs(t, err, catalog.ErrUnknownModel)

	var stageErr *StageError
	require.ErrorAs(t, err, &stageErr)
	require.Equal(t, StageResolve, stageErr.Stage)
	require.Zero(t, requests.Load())
	require.Nil(t, target.started)
	_, err = os.Stat(opts.GenDir)
	require.True(t, os.IsNotExist(err))
}

func TestPipelineRejectsBadQuantizeBits(t *testing.T) {
	hubClient, requests := fakeHub(t)
	opts := testOptions(t)
	opts.QuantizeBits = 3

	pipeline := NewPipeline(testLogger(), testCatalog(t), hubClient, nil, &fakeTarget{}, opts)
	err := pipeline.Run(context.Background())
	require.ErrorIs(t, err, ErrInvalidRequest)
	require.Zero(t, requests.Load())
}

func TestPipelineGPUMismatchFailsBeforeStart(t *testing.T) {
	hubClient, _ := fakeHub(t)
	client, _ := fakeRuntime(t, "test_model")
	target := &fakeTarget{}
	opts := testOptions(t)
	opts.GPUs = 99

	pipeline := NewPipeline(testLogger(), testCatalog(t), hubClient, client, target, opts)
	err := pipeline.Run(context.Background())
	var stageErr *StageError
	require.ErrorAs(t, err, &stageErr)
	require.Equal(t, StageHardware, stageErr.Stage)
	var mismatch *hardware.MismatchError
	require.ErrorAs(t, err, &mismatch)
	require.Nil(t, target.started)
}

func TestPipelineDetachedSkipsLocalGPUCheck(t *testing.T) {
	hubClient, _ := fakeHub(t)
	target := &fakeTarget{}
	opts := testOptions(t)
	opts.GPUs = 99

	// No management client means the runtime lives on a remote cluster, so
	// the GPU request must not be checked against this host's hardware.
	pipeline := NewPipeline(testLogger(), testCatalog(t), hubClient, nil, target, opts)
	require.NoError(t, pipeline.Run(context.Background()))
	require.Equal(t, StageTeardown, pipeline.LastStage())
	require.NotNil(t, target.started)
	require.Equal(t, 99, target.started.GPUs)
}

func TestPipelineCustomModelServedFromExistingArchive(t *testing.T) {
	hubClient, requests := fakeHub(t)
	client, predictions := fakeRuntime(t, "homegrown")
	target := &fakeTarget{}
	opts := testOptions(t)
	opts.ModelName = "homegrown"
	require.NoError(t, os.MkdirAll(opts.ModelStore, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(opts.ModelStore, "homegrown.mar"), []byte("archive"), 0o644))

	pipeline := NewPipeline(testLogger(), testCatalog(t), hubClient, client, target, opts)
	require.NoError(t, pipeline.Run(context.Background()))
	require.Equal(t, StageTeardown, pipeline.LastStage())

	require.NotNil(t, target.started)
	require.Equal(t, "homegrown", target.started.ModelName)
	require.Equal(t, "homegrown.mar", target.started.ArchiveName)
	require.Empty(t, target.started.Version)
	require.Zero(t, requests.Load())
	require.Equal(t, int64(2), predictions.Load())
}

func TestPipelineSkipsPackagingWhenArchiveExists(t *testing.T) {
	hubClient, _ := fakeHub(t)
	client, _ := fakeRuntime(t, "test_model")
	opts := testOptions(t)
	opts.DataDir = ""

	pipeline := NewPipeline(testLogger(), testCatalog(t), hubClient, client, &fakeTarget{}, opts)
	require.NoError(t, pipeline.Run(context.Background()))

	archivePath := filepath.Join(opts.ModelStore, "test_model_rev1234.mar")
	first, err := os.Stat(archivePath)
	require.NoError(t, err)

	// A second run reuses the archive but needs an empty download dir.
	require.NoError(t, os.RemoveAll(filepath.Join(opts.GenDir, "download")))
	rerun := NewPipeline(testLogger(), testCatalog(t), hubClient, client, &fakeTarget{}, opts)
	require.NoError(t, rerun.Run(context.Background()))

	second, err := os.Stat(archivePath)
	require.NoError(t, err)
	require.Equal(t, first.ModTime(), second.ModTime())
}

func TestCleanupIdempotent(t *testing.T) {
	target := &fakeTarget{}
	genDir := filepath.Join(t.TempDir(), "gen")
	require.NoError(t, os.MkdirAll(filepath.Join(genDir, "logs"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(genDir, "config.properties"), []byte("x"), 0o644))

	require.NoError(t, Cleanup(context.Background(), testLogger(), target, genDir))
	_, err := os.Stat(genDir)
	require.True(t, os.IsNotExist(err))

	require.NoError(t, Cleanup(context.Background(), testLogger(), target, genDir))
	require.NoError(t, Cleanup(context.Background(), testLogger(), nil, genDir))
	require.Equal(t, 2, target.stopped)
}
