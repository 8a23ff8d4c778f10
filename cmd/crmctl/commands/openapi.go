package commands

import (
	"encoding/json"
	"os"

	"github.com/nexuscrm/mycrm/internal/domain/entity"
	"github.com/nexuscrm/mycrm/internal/interfaces/rest"
	"github.com/spf13/cobra"
)

func openapiCmd() *cobra.Command {
	var (
		serverURL string
		output    string
	)
	cmd := &cobra.Command{
		Use:   "openapi",
		Short: "Print the OpenAPI document of the HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			doc := rest.OpenAPI(entity.NewCRMRegistry(), serverURL)
			b, err := json.MarshalIndent(doc, "", "  ")
			if err != nil {
				return err
			}
			b = append(b, '\n')
			if output != "" {
				return os.WriteFile(output, b, 0o644)
			}
			_, err = cmd.OutOrStdout().Write(b)
			return err
		},
	}
	cmd.Flags().StringVar(&serverURL, "url", "http://localhost:8080", "public base URL of the server")
	cmd.Flags().StringVarP(&output, "output", "o", "", "write to a file instead of stdout")
	return cmd
}
