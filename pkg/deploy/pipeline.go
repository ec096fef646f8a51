// Package deploy drives the end-to-end deployment pipeline: resolve the model,
// fetch its weights, package them, start the serving runtime, and verify it
// serves.
package deploy

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/nutanix/nai-llm/pkg/archive"
	"github.com/nutanix/nai-llm/pkg/catalog"
	"github.com/nutanix/nai-llm/pkg/hardware"
	"github.com/nutanix/nai-llm/pkg/hub"
	"github.com/nutanix/nai-llm/pkg/logging"
	"github.com/nutanix/nai-llm/pkg/management"
	"github.com/nutanix/nai-llm/pkg/runtime"
)

// Stage identifies one step of the deployment pipeline.
type Stage string

const (
	StageResolve  Stage = "resolve"
	StageDownload Stage = "download"
	StagePackage  Stage = "package"
	StageHardware Stage = "hardware-check"
	StageStart    Stage = "start"
	StageHealth   Stage = "health-check"
	StageRegister Stage = "register"
	StagePredict  Stage = "predict"
	StageTeardown Stage = "teardown"
)

// Options configure one deployment run.
type Options struct {
	// ModelName selects the model from the catalog.
	ModelName string
	// ModelPath is the directory holding (or receiving) the model weights.
	// Empty means a directory under the scratch dir.
	ModelPath string
	// ModelStore is the directory archives are generated into and served from.
	ModelStore string
	// RepoVersion overrides the catalog's repository revision.
	RepoVersion string
	// GenDir is the scratch directory for launch-time artifacts.
	GenDir string
	// HandlerPath overrides the catalog's handler script.
	HandlerPath string
	// SkipDownload serves weights already present in ModelPath, after
	// verifying them against the repository file list.
	SkipDownload bool
	// GPUs is the requested GPU count; zero means CPU-only.
	GPUs int
	// QuantizeBits requests handler-side quantization (4 or 8; zero off).
	QuantizeBits int
	// DataDir holds sample inputs sent as predictions after startup.
	DataDir string
	// KeepAlive leaves the runtime serving until the context is canceled or
	// the runtime exits, instead of tearing down after the run.
	KeepAlive bool
	// RuntimeArgs are passed through to the runtime command line.
	RuntimeArgs []string
}

// Pipeline wires the deployment stages over explicit collaborators. A nil
// management client skips the post-start register and predict stages, which
// is the detached (cluster) mode.
type Pipeline struct {
	log     logging.Logger
	catalog *catalog.Catalog
	hub     *hub.Client
	client  *management.Client
	target  runtime.Target
	opts    Options

	lastStage Stage
	session   *runtime.Session
	custom    bool
}

// NewPipeline assembles a pipeline.
func NewPipeline(log logging.Logger, cat *catalog.Catalog, hubClient *hub.Client,
	client *management.Client, target runtime.Target, opts Options) *Pipeline {
	return &Pipeline{
		log:     log,
		catalog: cat,
		hub:     hubClient,
		client:  client,
		target:  target,
		opts:    opts,
	}
}

// LastStage returns the most recently completed stage.
func (p *Pipeline) LastStage() Stage {
	return p.lastStage
}

// Run executes the pipeline stages in order. A failing stage aborts the run
// with a StageError naming it; completed stages are not rolled back.
func (p *Pipeline) Run(ctx context.Context) error {
	var spec catalog.ModelSpec
	stages := []struct {
		stage Stage
		run   func(context.Context) error
	}{
		{StageResolve, func(ctx context.Context) error {
			var err error
			spec, err = p.resolve()
			return err
		}},
		{StageDownload, func(ctx context.Context) error {
			return p.download(ctx, spec)
		}},
		{StagePackage, func(ctx context.Context) error {
			return p.pack(spec)
		}},
		{StageHardware, func(ctx context.Context) error {
			// Detached deployments run on cluster hardware, so the
			// operator host's GPUs say nothing about the request.
			if p.client == nil {
				p.log.Infoln("Detached deployment, skipping local hardware check")
				return nil
			}
			info := hardware.Detect(p.log)
			hardware.Describe(p.log, info)
			return hardware.EnsureGPUs(info, p.opts.GPUs)
		}},
		{StageStart, func(ctx context.Context) error {
			return p.target.Start(ctx, p.session)
		}},
		{StageHealth, p.target.HealthCheck},
		{StageRegister, p.verifyRegistered},
		{StagePredict, p.predictSamples},
		{StageTeardown, p.teardown},
	}
	for _, s := range stages {
		if err := s.run(ctx); err != nil {
			return &StageError{Stage: s.stage, Err: err}
		}
		p.lastStage = s.stage
	}
	return nil
}

// resolve looks the model up and validates the request, assembling the
// runtime session. A name absent from the catalog is served as a custom
// model when a pre-built archive for it is already in the model store;
// otherwise resolution fails before any network or download activity.
func (p *Pipeline) resolve() (catalog.ModelSpec, error) {
	spec, err := p.catalog.Resolve(p.opts.ModelName)
	if err != nil {
		if !errors.Is(err, catalog.ErrUnknownModel) {
			return catalog.ModelSpec{}, err
		}
		if _, ok := archive.Exists(p.opts.ModelStore, p.opts.ModelName, ""); !ok {
			return catalog.ModelSpec{}, err
		}
		p.log.Warnf("Model %s is not in the catalog, serving custom archive %s.mar without validation",
			p.opts.ModelName, p.opts.ModelName)
		p.custom = true
		spec = catalog.ModelSpec{Name: p.opts.ModelName}
	}
	if p.opts.RepoVersion != "" && !p.custom {
		spec.Revision = p.opts.RepoVersion
	}
	if err := runtime.ValidateQuantizeBits(p.opts.QuantizeBits); err != nil {
		return catalog.ModelSpec{}, &ValidationError{Reason: err.Error()}
	}
	if spec.RequiresToken() && !p.hub.HasToken() {
		return catalog.ModelSpec{}, &ValidationError{
			Reason: fmt.Sprintf("model %s requires a hub access token", spec.Name),
		}
	}

	p.session = &runtime.Session{
		ModelName:    spec.Name,
		Version:      spec.Revision,
		ArchiveName:  archive.Name(spec.Name, spec.Revision) + ".mar",
		ModelStore:   p.opts.ModelStore,
		GenDir:       p.opts.GenDir,
		GPUs:         p.opts.GPUs,
		QuantizeBits: p.opts.QuantizeBits,
		Registration: spec.Registration,
		Generation:   spec.Generation,
		RuntimeArgs:  p.opts.RuntimeArgs,
	}
	return spec, nil
}

// modelDir is where the weights live for this run.
func (p *Pipeline) modelDir(spec catalog.ModelSpec) string {
	if p.opts.ModelPath != "" {
		return p.opts.ModelPath
	}
	return filepath.Join(p.opts.GenDir, "download", spec.Name)
}

// download fetches the model snapshot, or verifies an existing local copy
// when the download is skipped. Custom models have no repository to fetch.
func (p *Pipeline) download(ctx context.Context, spec catalog.ModelSpec) error {
	if p.custom {
		return nil
	}
	dir := p.modelDir(spec)
	if p.opts.SkipDownload {
		ok, err := p.hub.VerifyLocal(ctx, spec.RepoID, spec.Revision, dir, hub.DefaultIgnoreSuffixes)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("local files in %s do not match %s@%s", dir, spec.RepoID, spec.Revision)
		}
		p.log.Infof("Skipping download, verified local copy of %s in %s", spec.RepoID, dir)
		return nil
	}
	_, err := p.hub.Download(ctx, spec.RepoID, spec.Revision, dir, hub.DefaultIgnoreSuffixes)
	return err
}

// pack generates the model archive unless one for this model and version is
// already in the model store. Custom models ship their own archive.
func (p *Pipeline) pack(spec catalog.ModelSpec) error {
	if p.custom {
		return nil
	}
	if path, ok := archive.Exists(p.opts.ModelStore, spec.Name, spec.Revision); ok {
		p.log.Infof("Archive %s already present, skipping generation", path)
		return nil
	}
	if err := os.MkdirAll(p.opts.ModelStore, 0o755); err != nil {
		return fmt.Errorf("create model store: %w", err)
	}
	handler := spec.Handler
	if p.opts.HandlerPath != "" {
		handler = p.opts.HandlerPath
	}
	_, err := archive.Generate(p.log, archive.Options{
		ModelName:   spec.Name,
		Version:     spec.Revision,
		ModelDir:    p.modelDir(spec),
		HandlerPath: handler,
		OutputDir:   p.opts.ModelStore,
	})
	return err
}

// verifyRegistered confirms the runtime registered the model from its startup
// snapshot.
func (p *Pipeline) verifyRegistered(ctx context.Context) error {
	if p.client == nil {
		return nil
	}
	statuses, err := p.client.Describe(ctx, p.session.ModelName, "")
	if err != nil {
		return err
	}
	for _, status := range statuses {
		p.log.Infof("Model %s version %s registered with %d worker(s)",
			status.ModelName, status.ModelVersion, len(status.Workers))
	}
	return nil
}

// predictSamples sends every file in the input directory as a prediction.
// JSON files go out as JSON, everything else as plain text.
func (p *Pipeline) predictSamples(ctx context.Context) error {
	if p.client == nil || p.opts.DataDir == "" {
		return nil
	}
	entries, err := os.ReadDir(p.opts.DataDir)
	if err != nil {
		return fmt.Errorf("read input directory: %w", err)
	}
	var names []string
	for _, entry := range entries {
		if !entry.IsDir() {
			names = append(names, entry.Name())
		}
	}
	sort.Strings(names)

	for _, name := range names {
		payload, err := os.Open(filepath.Join(p.opts.DataDir, name))
		if err != nil {
			return fmt.Errorf("open input %s: %w", name, err)
		}
		contentType := "text/plain"
		if strings.HasSuffix(name, ".json") {
			contentType = "application/json"
		}
		response, err := p.client.Predict(ctx, p.session.ModelName, contentType, payload)
		payload.Close()
		if err != nil {
			return err
		}
		p.log.Infof("Prediction for %s: %s", name, strings.TrimSpace(string(response)))
	}
	return nil
}

// teardown ends the run: an ephemeral run stops the runtime, a keep-alive run
// serves until the context is canceled or the runtime exits on its own.
func (p *Pipeline) teardown(ctx context.Context) error {
	if !p.opts.KeepAlive {
		return p.target.Stop(ctx)
	}
	p.log.Infoln("Serving, press Ctrl+C to stop")
	waitErr := p.target.Wait(ctx)
	if err := p.target.Stop(context.WithoutCancel(ctx)); err != nil {
		return err
	}
	return waitErr
}

// Cleanup stops the runtime and removes the scratch directory. It is
// idempotent: with no live session and no scratch directory it is a no-op.
func Cleanup(ctx context.Context, log logging.Logger, target runtime.Target, genDir string) error {
	if target != nil {
		if err := target.Stop(ctx); err != nil {
			return err
		}
	}
	if genDir == "" {
		return nil
	}
	if _, err := os.Stat(genDir); os.IsNotExist(err) {
		return nil
	}
	log.Infof("Removing scratch directory %s", genDir)
	if err := os.RemoveAll(genDir); err != nil {
		return fmt.Errorf("remove scratch directory: %w", err)
	}
	return nil
}
