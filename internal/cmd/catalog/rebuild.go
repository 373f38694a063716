package catalog

import (
	"encoding/json"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/heliocloud-data/registry/internal/client"
	"github.com/heliocloud-data/registry/internal/config"
)

func newRebuildCommand() *cobra.Command {
	var configPath string
	var remote string

	cmd := &cobra.Command{
		Use:   "rebuild",
		Short: "Regenerates catalog.json for every endpoint from the catalog database",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, _ := zap.NewDevelopment()
			defer logger.Sync()
			l := logger.Named("registry.catalog.rebuild")

			if remote != "" {
				c := client.New(remote, client.WithLogger(l))
				resp, err := c.RebuildCatalog(cmd.Context())
				if err != nil {
					return err
				}
				return printJSON(resp)
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

			cat, err := config.InitializeCataloger(c, s, repo, l)
			if err != nil {
				return err
			}

			updates, err := cat.Rebuild(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(updates)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to config file")
	cmd.Flags().StringVarP(&remote, "remote", "r", "", "Base URL of a remote registry to invoke instead of running locally")

	return cmd
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
