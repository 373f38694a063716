package ingest

import (
	"encoding/json"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/heliocloud-data/registry/internal/client"
)

// invokeRemote triggers the ingest on a running registry instead of
// executing it in process.
func invokeRemote(cmd *cobra.Command, l *zap.Logger, baseURL, jobFolder string) error {
	c := client.New(baseURL, client.WithLogger(l))

	resp, err := c.Ingest(cmd.Context(), jobFolder)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(resp)
}
