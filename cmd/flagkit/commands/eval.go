package commands

import (
	"context"
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/TimurManjosov/flagkit/internal/cli"
	"github.com/TimurManjosov/flagkit/internal/engine"
)

var evalCmd = &cobra.Command{
	Use:   "eval [key...]",
	Short: "Evaluate features",
	Long: `Evaluate one or more features for the given attributes. With no keys,
every feature in the payload is evaluated.

Examples:
  flagkit eval checkout --attributes '{"id": "u1"}'
  flagkit eval banner checkout --format json
  flagkit eval --remote http://localhost:8080 --attributes @user.json`,
	RunE: func(cmd *cobra.Command, args []string) error {
		f, err := outputFormat()
		if err != nil {
			return err
		}
		ctx := context.Background()
		s, err := openSession(ctx)
		if err != nil {
			return err
		}

		var results map[string]*engine.FeatureResult
		if s.remote != nil {
			s.req.Keys = args
			out, err := s.remote.EvalAll(ctx, s.req)
			if err != nil {
				return fmt.Errorf("failed to evaluate features: %w", err)
			}
			results = out.Features
		} else {
			keys := args
			if len(keys) == 0 {
				for k := range s.snap.Features {
					keys = append(keys, k)
				}
				sort.Strings(keys)
			}
			results = make(map[string]*engine.FeatureResult, len(keys))
			for _, k := range keys {
				results[k] = s.local.EvalFeature(k)
			}
		}

		if quiet {
			return nil
		}
		return cli.PrintFeatureResults(cmd.OutOrStdout(), results, f)
	},
}

func init() {
	rootCmd.AddCommand(evalCmd)
}
