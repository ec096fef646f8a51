package commands

import (
	"context"
	"errors"
	"fmt"

	"github.com/mattn/go-shellwords"
	"github.com/spf13/cobra"

	"github.com/nutanix/nai-llm/pkg/archive"
	"github.com/nutanix/nai-llm/pkg/catalog"
	"github.com/nutanix/nai-llm/pkg/runtime"
)

func newStartCmd(rootOpts *rootOptions) *cobra.Command {
	var (
		modelName    string
		modelStore   string
		genDir       string
		gpus         int
		quantizeBits int
		runtimeArgs  string
		target       targetFlags
	)
	c := &cobra.Command{
		Use:   "start",
		Short: "Start the serving runtime with an already generated archive",
		RunE: func(cmd *cobra.Command, args []string) error {
			log := newLogger("start")
			ctx := cmd.Context()

			cat, err := rootOpts.loadCatalog()
			if err != nil {
				return err
			}
			spec, err := cat.Resolve(modelName)
			if err != nil {
				if !errors.Is(err, catalog.ErrUnknownModel) {
					return err
				}
				if _, ok := archive.Exists(modelStore, modelName, ""); !ok {
					return err
				}
				log.Warnf("Model %s is not in the catalog, serving custom archive without validation", modelName)
				spec = catalog.ModelSpec{Name: modelName}
			}
			if err := runtime.ValidateQuantizeBits(quantizeBits); err != nil {
				return err
			}
			archivePath, ok := archive.Exists(modelStore, spec.Name, spec.Revision)
			if !ok {
				return fmt.Errorf("no archive for model %s in %s, run download first", spec.Name, modelStore)
			}
			log.Infof("Serving archive %s", archivePath)

			extraArgs, err := shellwords.Parse(runtimeArgs)
			if err != nil {
				return fmt.Errorf("parse --runtime-args: %w", err)
			}
			computeTarget, _, err := target.build(log, rootOpts.newManagementClient(log))
			if err != nil {
				return err
			}

			session := &runtime.Session{
				ModelName:    spec.Name,
				Version:      spec.Revision,
				ArchiveName:  archive.Name(spec.Name, spec.Revision) + ".mar",
				ModelStore:   modelStore,
				GenDir:       genDir,
				GPUs:         gpus,
				QuantizeBits: quantizeBits,
				Registration: spec.Registration,
				Generation:   spec.Generation,
				RuntimeArgs:  extraArgs,
			}
			if err := computeTarget.Start(ctx, session); err != nil {
				return err
			}
			if err := computeTarget.HealthCheck(ctx); err != nil {
				_ = computeTarget.Stop(ctx)
				return err
			}
			log.Infoln("Serving, press Ctrl+C to stop")
			waitErr := computeTarget.Wait(ctx)
			if err := computeTarget.Stop(context.WithoutCancel(ctx)); err != nil {
				return err
			}
			return waitErr
		},
	}
	flags := c.Flags()
	flags.StringVar(&modelName, "model-name", "", "name of the model to serve")
	flags.StringVar(&modelStore, "model-store", "gen/model-store", "directory holding model archives")
	flags.StringVar(&genDir, "gen-dir", "gen", "scratch directory for launch-time artifacts")
	flags.IntVar(&gpus, "gpus", 0, "number of GPUs to use (0 = CPU)")
	flags.IntVar(&quantizeBits, "quantize-bits", 0, "quantize weights to 4 or 8 bits (0 = off)")
	flags.StringVar(&runtimeArgs, "runtime-args", "", "extra arguments passed to the serving runtime")
	target.register(c)
	_ = c.MarkFlagRequired("model-name")
	return c
}
