package runtime

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"text/template"
	"time"

	"github.com/nutanix/nai-llm/pkg/logging"
	"github.com/nutanix/nai-llm/pkg/logtail"
	"github.com/nutanix/nai-llm/pkg/proc"
)

// memoryUnits are the binary-suffix quantities accepted for container memory.
var memoryUnits = []string{"Ei", "Pi", "Ti", "Gi", "Mi", "Ki"}

const (
	// defaultStorage is the capacity requested for the model volume.
	defaultStorage   = "100Gi"
	defaultNamespace = "default"
)

// KubernetesOptions configure a cluster deployment of the serving runtime.
type KubernetesOptions struct {
	// DeploymentName names the inference service and its volume objects.
	DeploymentName string
	// Namespace is the target namespace; empty means "default".
	Namespace string
	// NFS is the model volume source in "server:path" form.
	NFS string
	// CPUs and Memory are the container resource request and limit. Memory
	// must carry one of the binary suffixes (Ki through Ei).
	CPUs   int
	Memory string
	// Storage is the volume capacity; empty means 100Gi.
	Storage string
	// Kubectl overrides the kubectl binary.
	Kubectl string
	// StartupTimeout and PollInterval bound the readiness watch.
	StartupTimeout time.Duration
	PollInterval   time.Duration
}

// KubernetesTarget deploys the serving runtime as a cluster inference service
// backed by an NFS persistent volume.
type KubernetesTarget struct {
	log            logging.Logger
	name           string
	namespace      string
	nfsServer      string
	nfsPath        string
	cpus           int
	memory         string
	storage        string
	kubectl        string
	startupTimeout time.Duration
	pollInterval   time.Duration

	mu      sync.Mutex
	applied bool
	session *Session
}

// NewKubernetesTarget validates the cluster options and returns a target.
// A missing KUBECONFIG is fatal here: the cluster path cannot proceed without
// one, while the local path never consults it.
func NewKubernetesTarget(log logging.Logger, opts KubernetesOptions) (*KubernetesTarget, error) {
	if os.Getenv("KUBECONFIG") == "" {
		return nil, errors.New("KUBECONFIG is not set, required for a Kubernetes deployment")
	}
	if opts.DeploymentName == "" {
		return nil, errors.New("deployment name is required")
	}
	if err := validateMemory(opts.Memory); err != nil {
		return nil, err
	}
	server, path, ok := strings.Cut(opts.NFS, ":")
	if !ok || server == "" || path == "" {
		return nil, fmt.Errorf("NFS share %q not in <address>:<share_path> form", opts.NFS)
	}

	target := &KubernetesTarget{
		log:            log,
		name:           opts.DeploymentName,
		namespace:      opts.Namespace,
		nfsServer:      server,
		nfsPath:        path,
		cpus:           opts.CPUs,
		memory:         opts.Memory,
		storage:        opts.Storage,
		kubectl:        opts.Kubectl,
		startupTimeout: opts.StartupTimeout,
		pollInterval:   opts.PollInterval,
	}
	if target.namespace == "" {
		target.namespace = defaultNamespace
	}
	if target.storage == "" {
		target.storage = defaultStorage
	}
	if target.kubectl == "" {
		target.kubectl = "kubectl"
	}
	if target.startupTimeout <= 0 {
		target.startupTimeout = defaultStartupTimeout
	}
	if target.pollInterval <= 0 {
		target.pollInterval = defaultPollInterval
	}
	return target, nil
}

func validateMemory(memory string) error {
	for _, unit := range memoryUnits {
		if strings.HasSuffix(memory, unit) {
			return nil
		}
	}
	return fmt.Errorf("container memory %q must use one of the units %v", memory, memoryUnits)
}

var manifestTemplate = template.Must(template.New("manifests").Parse(`apiVersion: v1
kind: PersistentVolume
metadata:
  name: {{.Name}}
  labels:
    storage: nfs
spec:
  capacity:
    storage: {{.Storage}}
  accessModes:
    - ReadWriteMany
  persistentVolumeReclaimPolicy: Retain
  nfs:
    server: {{.NFSServer}}
    path: {{.NFSPath}}
---
apiVersion: v1
kind: PersistentVolumeClaim
metadata:
  name: {{.Name}}
  namespace: {{.Namespace}}
spec:
  storageClassName: ""
  accessModes:
    - ReadWriteMany
  resources:
    requests:
      storage: {{.Storage}}
  selector:
    matchLabels:
      storage: nfs
---
apiVersion: serving.kserve.io/v1beta1
kind: InferenceService
metadata:
  name: {{.Name}}
  namespace: {{.Namespace}}
spec:
  predictor:
    pytorch:
      protocolVersion: v2
      storageUri: pvc://{{.Name}}/{{.ModelName}}
      env:
        - name: TS_SERVICE_ENVELOPE
          value: body
        - name: TS_NUMBER_OF_GPU
          value: "{{.GPUs}}"
{{- range .HandlerEnv}}
        - name: {{.Name}}
          value: "{{.Value}}"
{{- end}}
      resources:
        requests:
          cpu: "{{.CPUs}}"
          memory: {{.Memory}}
          nvidia.com/gpu: "{{.GPUs}}"
        limits:
          cpu: "{{.CPUs}}"
          memory: {{.Memory}}
          nvidia.com/gpu: "{{.GPUs}}"
`))

type manifestParams struct {
	Name       string
	Namespace  string
	Storage    string
	NFSServer  string
	NFSPath    string
	ModelName  string
	GPUs       int
	CPUs       int
	Memory     string
	HandlerEnv []envVar
}

type envVar struct {
	Name  string
	Value string
}

// Start implements Target.Start: render the volume and inference service
// manifests into the scratch directory and apply them.
func (t *KubernetesTarget) Start(ctx context.Context, session *Session) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.applied {
		return errors.New("deployment already applied")
	}

	path, err := t.writeManifests(session)
	if err != nil {
		return err
	}
	t.log.Infof("Applying deployment %s from %s", t.name, path)
	if _, err := t.runKubectl(ctx, "apply", "-f", path); err != nil {
		return fmt.Errorf("apply deployment %q: %w", t.name, err)
	}
	t.applied = true
	t.session = session
	return nil
}

func (t *KubernetesTarget) writeManifests(session *Session) (string, error) {
	if err := os.MkdirAll(session.GenDir, 0o755); err != nil {
		return "", fmt.Errorf("create scratch directory: %w", err)
	}
	params := manifestParams{
		Name:      t.name,
		Namespace: t.namespace,
		Storage:   t.storage,
		NFSServer: t.nfsServer,
		NFSPath:   t.nfsPath,
		ModelName: session.ModelName,
		GPUs:      session.GPUs,
		CPUs:      t.cpus,
		Memory:    t.memory,
	}
	for _, entry := range handlerEnv(session) {
		name, value, _ := strings.Cut(entry, "=")
		params.HandlerEnv = append(params.HandlerEnv, envVar{Name: name, Value: value})
	}
	var buf bytes.Buffer
	if err := manifestTemplate.Execute(&buf, params); err != nil {
		return "", fmt.Errorf("render manifests: %w", err)
	}
	path := filepath.Join(session.GenDir, t.name+".yaml")
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		return "", fmt.Errorf("write manifests: %w", err)
	}
	return path, nil
}

// HealthCheck implements Target.HealthCheck by polling the inference
// service's Ready condition.
func (t *KubernetesTarget) HealthCheck(ctx context.Context) error {
	t.mu.Lock()
	applied := t.applied
	t.mu.Unlock()
	if !applied {
		return errors.New("deployment not applied")
	}

	deadline := time.NewTimer(t.startupTimeout)
	defer deadline.Stop()
	ticker := time.NewTicker(t.pollInterval)
	defer ticker.Stop()

	jsonpath := `jsonpath={.status.conditions[?(@.type=="Ready")].status}`
	var lastErr error
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-deadline.C:
			return &StartupTimeoutError{Timeout: t.startupTimeout, LastErr: lastErr}
		case <-ticker.C:
			out, err := t.runKubectl(ctx, "get", "inferenceservice", t.name,
				"-n", t.namespace, "-o", jsonpath)
			if err != nil {
				lastErr = err
				continue
			}
			if strings.TrimSpace(out) == "True" {
				t.log.Infof("Inference service %s is ready", t.name)
				return nil
			}
			lastErr = fmt.Errorf("inference service %s not ready", t.name)
		}
	}
}

// Wait implements Target.Wait. A cluster deployment outlives this process, so
// waiting only blocks on the caller's context.
func (t *KubernetesTarget) Wait(ctx context.Context) error {
	t.mu.Lock()
	applied := t.applied
	t.mu.Unlock()
	if !applied {
		return nil
	}
	<-ctx.Done()
	return nil
}

// Stop implements Target.Stop by deleting the deployment objects. Missing
// objects are ignored so stopping twice is safe.
func (t *KubernetesTarget) Stop(ctx context.Context) error {
	t.mu.Lock()
	applied := t.applied
	t.applied = false
	t.session = nil
	t.mu.Unlock()
	if !applied {
		return nil
	}
	return t.Delete(ctx)
}

// Delete removes the deployment objects unconditionally, for tearing down a
// deployment applied by an earlier invocation.
func (t *KubernetesTarget) Delete(ctx context.Context) error {
	t.log.Infof("Deleting deployment %s", t.name)
	for _, kind := range []string{"inferenceservice", "persistentvolumeclaim", "persistentvolume"} {
		args := []string{"delete", kind, t.name, "--ignore-not-found"}
		if kind != "persistentvolume" {
			args = append(args, "-n", t.namespace)
		}
		if _, err := t.runKubectl(ctx, args...); err != nil {
			return fmt.Errorf("delete %s %q: %w", kind, t.name, err)
		}
	}
	return nil
}

// runKubectl executes one kubectl invocation under supervision and returns
// its standard output. Failures carry the command's output tail.
func (t *KubernetesTarget) runKubectl(ctx context.Context, args ...string) (string, error) {
	var stdout bytes.Buffer
	tail := logtail.New(outputTailSize)
	process, err := proc.Start(ctx, func(command *exec.Cmd) {
		command.Stdout = io.MultiWriter(&stdout, tail)
		command.Stderr = tail
	}, t.kubectl, args...)
	if err != nil {
		return "", err
	}
	defer process.Close()

	if err := process.Command().Wait(); err != nil {
		if output := tail.String(); output != "" {
			return "", fmt.Errorf("%w\nwith output: %s", err, output)
		}
		return "", err
	}
	return stdout.String(), nil
}
