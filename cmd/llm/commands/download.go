package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nutanix/nai-llm/pkg/archive"
	"github.com/nutanix/nai-llm/pkg/hub"
)

func newDownloadCmd(rootOpts *rootOptions) *cobra.Command {
	var (
		modelName   string
		modelPath   string
		marOutput   string
		repoVersion string
		hfToken     string
		noDownload  bool
		handlerPath string
	)
	c := &cobra.Command{
		Use:   "download",
		Short: "Download model weights and generate a model archive",
		RunE: func(cmd *cobra.Command, args []string) error {
			log := newLogger("download")
			ctx := cmd.Context()

			cat, err := rootOpts.loadCatalog()
			if err != nil {
				return err
			}
			spec, err := cat.Resolve(modelName)
			if err != nil {
				return err
			}
			if repoVersion != "" {
				spec.Revision = repoVersion
			}
			if handlerPath == "" {
				handlerPath = spec.Handler
			}

			hubClient := hub.NewClient(log, hub.WithToken(resolveToken(hfToken)))
			if spec.RequiresToken() && !hubClient.HasToken() {
				return fmt.Errorf("model %s requires a hub access token (--hf-token or HF_TOKEN)", spec.Name)
			}

			if noDownload {
				ok, err := hubClient.VerifyLocal(ctx, spec.RepoID, spec.Revision, modelPath, hub.DefaultIgnoreSuffixes)
				if err != nil {
					return err
				}
				if !ok {
					return fmt.Errorf("local files in %s do not match %s@%s", modelPath, spec.RepoID, spec.Revision)
				}
				log.Infof("Verified local copy of %s in %s", spec.RepoID, modelPath)
			} else {
				if _, err := hubClient.Download(ctx, spec.RepoID, spec.Revision, modelPath, hub.DefaultIgnoreSuffixes); err != nil {
					return err
				}
			}

			artifact, err := archive.Generate(log, archive.Options{
				ModelName:   spec.Name,
				Version:     spec.Revision,
				ModelDir:    modelPath,
				HandlerPath: handlerPath,
				OutputDir:   marOutput,
			})
			if err != nil {
				return err
			}
			log.Infof("Model archive ready at %s", artifact.Path)
			return nil
		},
	}
	flags := c.Flags()
	flags.StringVar(&modelName, "model-name", "", "name of the model to download")
	flags.StringVar(&modelPath, "model-path", "", "directory to download the model weights into")
	flags.StringVar(&marOutput, "mar-output", "", "directory to place the generated archive in")
	flags.StringVar(&repoVersion, "repo-version", "", "repository revision to download (default: catalog revision)")
	flags.StringVar(&hfToken, "hf-token", "", "hub access token for gated repositories")
	flags.BoolVar(&noDownload, "no-download", false, "skip the download, verify files already in --model-path")
	flags.StringVar(&handlerPath, "handler", "", "handler script to bundle (default: catalog handler)")
	_ = c.MarkFlagRequired("model-name")
	_ = c.MarkFlagRequired("model-path")
	_ = c.MarkFlagRequired("mar-output")
	return c
}
