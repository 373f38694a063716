package ingest

import (
	"encoding/json"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/heliocloud-data/registry/internal/config"
)

func NewCommand() *cobra.Command {
	var configPath string
	var jobFolder string
	var remote string

	cmd := &cobra.Command{
		Use:   "ingest",
		Short: "Ingests an upload job: validates the manifest, publishes files and indices, and updates the catalog",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, _ := zap.NewDevelopment()
			defer logger.Sync()
			l := logger.Named("registry.ingest")

			if remote != "" {
				return invokeRemote(cmd, l, remote, jobFolder)
			}

			c, err := config.NewRegistryFromFile(configPath)
			if err != nil {
				return err
			}

			s, err := config.InitializeStore(c, l)
			if err != nil {
				return err
			}

			repo, err := config.InitializeRepository(cmd.Context(), c, l)
			if err != nil {
				return err
			}
			defer repo.Close(cmd.Context())

			ing, err := config.InitializeIngester(c, s, repo, l)
			if err != nil {
				return err
			}

			result, err := ing.Ingest(cmd.Context(), jobFolder)
			if err != nil {
				return err
			}

			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(result)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to config file")
	cmd.Flags().StringVarP(&jobFolder, "job-folder", "j", "", "Sub folder of the ingest bucket holding the upload job")
	cmd.Flags().StringVarP(&remote, "remote", "r", "", "Base URL of a remote registry to invoke instead of running locally")
	cmd.MarkFlagRequired("job-folder")

	return cmd
}
