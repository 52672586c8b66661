package commands

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/TimurManjosov/flagkit/internal/cli"
	"github.com/TimurManjosov/flagkit/internal/snapshot"
	"github.com/TimurManjosov/flagkit/internal/validation"
)

// errLintFailed makes the process exit non-zero after findings were printed.
var errLintFailed = errors.New("lint found problems")

var lintCmd = &cobra.Command{
	Use:   "lint [features.json]",
	Short: "Validate a feature payload",
	Long: `Check a feature payload against the payload schema, then lint the
decoded features for problems the evaluator would silently ignore: regexes
that do not compile, unknown operators or saved groups, bad version
literals, inconsistent weights, coverage or namespaces.

Without an argument the --features file is linted.

Examples:
  flagkit lint features.json
  flagkit lint features.json --format json`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		f, err := outputFormat()
		if err != nil {
			return err
		}

		path := featuresPath
		if len(args) == 1 {
			path = args[0]
		}
		if path == "" {
			return fmt.Errorf("no feature file given")
		}

		var raw []byte
		if path == "-" {
			raw, err = readAll(cmd)
		} else {
			raw, err = os.ReadFile(path)
		}
		if err != nil {
			return fmt.Errorf("failed to read features: %w", err)
		}
		if len(raw) > validation.MaxPayloadSize {
			return fmt.Errorf("payload exceeds %d bytes", validation.MaxPayloadSize)
		}

		result, err := validation.ValidatePayloadSchema(raw)
		if err != nil {
			return err
		}
		if result.Valid {
			snap, err := snapshot.Parse(raw)
			if err != nil {
				return err
			}
			result = validation.LintFeatures(snap.Features, snap.SavedGroups)
		}

		if !quiet {
			if err := cli.PrintLint(cmd.OutOrStdout(), result, f); err != nil {
				return err
			}
		}
		if !result.Valid {
			return errLintFailed
		}
		return nil
	},
}

func readAll(cmd *cobra.Command) ([]byte, error) {
	return io.ReadAll(cmd.InOrStdin())
}

func init() {
	rootCmd.AddCommand(lintCmd)
}
