package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/TimurManjosov/flagkit/internal/cli"
	"github.com/TimurManjosov/flagkit/internal/engine"
)

var runCmd = &cobra.Command{
	Use:   "run <experiment.json>",
	Short: "Run an inline experiment",
	Long: `Run an experiment definition against the given attributes and print the
assigned variation. Use - to read the experiment from stdin.

Examples:
  flagkit run hero.json --attributes '{"id": "u1"}'
  echo '{"key": "hero", "variations": ["a", "b"]}' | flagkit run - --attributes '{"id": "u1"}'`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		f, err := outputFormat()
		if err != nil {
			return err
		}

		var raw []byte
		if args[0] == "-" {
			raw, err = readAll(cmd)
		} else {
			raw, err = os.ReadFile(args[0])
		}
		if err != nil {
			return fmt.Errorf("failed to read experiment: %w", err)
		}
		var exp engine.Experiment
		if err := json.Unmarshal(raw, &exp); err != nil {
			return fmt.Errorf("failed to parse experiment: %w", err)
		}
		if exp.Key == "" {
			return fmt.Errorf("experiment key is required")
		}

		ctx := context.Background()
		s, err := openSession(ctx)
		if err != nil {
			return err
		}

		var res *engine.ExperimentResult
		if s.remote != nil {
			s.req.Experiment = &exp
			if res, err = s.remote.Run(ctx, s.req); err != nil {
				return fmt.Errorf("failed to run experiment: %w", err)
			}
		} else {
			res = s.local.Run(&exp)
		}

		if quiet {
			return nil
		}
		return cli.PrintExperimentResult(cmd.OutOrStdout(), res, f)
	},
}

func init() {
	rootCmd.AddCommand(runCmd)
}
