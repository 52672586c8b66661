package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/TimurManjosov/flagkit/internal/snapshot"
)

var exportOutput string

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export the feature payload",
	Long: `Write the feature payload served by a flagkit server (or read from the
local file) as JSON or YAML.

Examples:
  flagkit export --remote http://localhost:8080 --output features.json --format json
  flagkit export --features features.json --format yaml > features.yaml`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		s, err := openSession(ctx)
		if err != nil {
			return err
		}

		snap := s.snap
		if s.remote != nil {
			if snap, err = s.remote.FetchFeatures(ctx, ""); err != nil {
				return fmt.Errorf("failed to fetch features: %w", err)
			}
		}
		payload := snapshot.Payload{Features: snap.Features, SavedGroups: snap.SavedGroups}

		var output io.Writer = cmd.OutOrStdout()
		if exportOutput != "" && exportOutput != "-" {
			file, err := os.Create(exportOutput)
			if err != nil {
				return fmt.Errorf("failed to create output file: %w", err)
			}
			defer file.Close()
			output = file
		}

		switch format {
		case "json":
			encoder := json.NewEncoder(output)
			encoder.SetIndent("", "  ")
			if err := encoder.Encode(payload); err != nil {
				return fmt.Errorf("failed to encode JSON: %w", err)
			}
		case "yaml", "table":
			// YAML is the default export format; round-trip through JSON so
			// values keep their JSON shape.
			raw, err := json.Marshal(payload)
			if err != nil {
				return fmt.Errorf("failed to encode payload: %w", err)
			}
			var generic any
			if err := yaml.Unmarshal(raw, &generic); err != nil {
				return fmt.Errorf("failed to encode YAML: %w", err)
			}
			encoder := yaml.NewEncoder(output)
			defer encoder.Close()
			encoder.SetIndent(2)
			if err := encoder.Encode(generic); err != nil {
				return fmt.Errorf("failed to encode YAML: %w", err)
			}
		default:
			return fmt.Errorf("unsupported export format: %s", format)
		}

		if exportOutput != "" && exportOutput != "-" && !quiet {
			fmt.Fprintf(os.Stderr, "Exported %d feature(s) to %s (etag %s)\n", snap.Len(), exportOutput, snap.ETag)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(exportCmd)

	exportCmd.Flags().StringVarP(&exportOutput, "output", "o", "", "Output file (default: stdout)")
}
