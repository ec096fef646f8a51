package commands

import (
	"fmt"
	"time"

	"github.com/mattn/go-shellwords"
	"github.com/spf13/cobra"

	"github.com/nutanix/nai-llm/pkg/deploy"
	"github.com/nutanix/nai-llm/pkg/logging"
	"github.com/nutanix/nai-llm/pkg/management"
	"github.com/nutanix/nai-llm/pkg/runtime"
)

// targetFlags configure the compute target shared by run, start, and stop.
type targetFlags struct {
	target         string
	startupTimeout time.Duration
	deployName     string
	namespace      string
	nfs            string
	cpus           int
	memory         string
}

func (f *targetFlags) register(c *cobra.Command) {
	flags := c.Flags()
	flags.StringVar(&f.target, "target", "local", "compute target (local|kubernetes)")
	flags.DurationVar(&f.startupTimeout, "startup-timeout", 0, "how long to wait for the runtime to become ready")
	flags.StringVar(&f.deployName, "deploy-name", "", "cluster deployment name (kubernetes target)")
	flags.StringVar(&f.namespace, "namespace", "", "cluster namespace (kubernetes target)")
	flags.StringVar(&f.nfs, "nfs", "", "model volume NFS share as <address>:<share_path> (kubernetes target)")
	flags.IntVar(&f.cpus, "cpus", 1, "container CPU request (kubernetes target)")
	flags.StringVar(&f.memory, "mem", "", "container memory request, e.g. 32Gi (kubernetes target)")
}

// build constructs the compute target. The management client is nil for the
// kubernetes target, whose runtime is not reachable on the local ports.
func (f *targetFlags) build(log logging.Logger, client *management.Client) (runtime.Target, *management.Client, error) {
	switch f.target {
	case "local":
		target := runtime.NewLocalTarget(log, client, runtime.WithStartupTimeout(f.startupTimeout))
		return target, client, nil
	case "kubernetes":
		target, err := runtime.NewKubernetesTarget(log, runtime.KubernetesOptions{
			DeploymentName: f.deployName,
			Namespace:      f.namespace,
			NFS:            f.nfs,
			CPUs:           f.cpus,
			Memory:         f.memory,
			StartupTimeout: f.startupTimeout,
		})
		return target, nil, err
	}
	return nil, nil, fmt.Errorf("unknown target %q (local|kubernetes)", f.target)
}

func newRunCmd(rootOpts *rootOptions) *cobra.Command {
	var (
		modelName    string
		modelPath    string
		modelStore   string
		genDir       string
		repoVersion  string
		hfToken      string
		noDownload   bool
		handlerPath  string
		dataDir      string
		gpus         int
		quantizeBits int
		keepAlive    bool
		runtimeArgs  string
		target       targetFlags
	)
	c := &cobra.Command{
		Use:   "run",
		Short: "Deploy a model end to end and serve it",
		RunE: func(cmd *cobra.Command, args []string) error {
			log := newLogger("run")
			ctx := cmd.Context()

			cat, err := rootOpts.loadCatalog()
			if err != nil {
				return err
			}
			extraArgs, err := shellwords.Parse(runtimeArgs)
			if err != nil {
				return fmt.Errorf("parse --runtime-args: %w", err)
			}

			computeTarget, client, err := target.build(log, rootOpts.newManagementClient(log))
			if err != nil {
				return err
			}
			hubClient := newHubClient(log, hfToken)

			pipeline := deploy.NewPipeline(log, cat, hubClient, client, computeTarget, deploy.Options{
				ModelName:    modelName,
				ModelPath:    modelPath,
				ModelStore:   modelStore,
				RepoVersion:  repoVersion,
				GenDir:       genDir,
				HandlerPath:  handlerPath,
				SkipDownload: noDownload,
				GPUs:         gpus,
				QuantizeBits: quantizeBits,
				DataDir:      dataDir,
				KeepAlive:    keepAlive,
				RuntimeArgs:  extraArgs,
			})
			if err := pipeline.Run(ctx); err != nil {
				return err
			}
			log.Infoln("Deployment finished")
			return nil
		},
	}
	flags := c.Flags()
	flags.StringVar(&modelName, "model-name", "", "name of the model to deploy")
	flags.StringVar(&modelPath, "model-path", "", "directory holding (or receiving) the model weights")
	flags.StringVar(&modelStore, "model-store", "gen/model-store", "directory archives are generated into and served from")
	flags.StringVar(&genDir, "gen-dir", "gen", "scratch directory for launch-time artifacts")
	flags.StringVar(&repoVersion, "repo-version", "", "repository revision to deploy (default: catalog revision)")
	flags.StringVar(&hfToken, "hf-token", "", "hub access token for gated repositories")
	flags.BoolVar(&noDownload, "no-download", false, "serve weights already present in --model-path")
	flags.StringVar(&handlerPath, "handler", "", "handler script override")
	flags.StringVar(&dataDir, "data", "", "directory of sample inputs to run predictions with")
	flags.IntVar(&gpus, "gpus", 0, "number of GPUs to use (0 = CPU)")
	flags.IntVar(&quantizeBits, "quantize-bits", 0, "quantize weights to 4 or 8 bits (0 = off)")
	flags.BoolVar(&keepAlive, "keep-alive", false, "keep serving after the run instead of tearing down")
	flags.StringVar(&runtimeArgs, "runtime-args", "", "extra arguments passed to the serving runtime")
	target.register(c)
	_ = c.MarkFlagRequired("model-name")
	return c
}
