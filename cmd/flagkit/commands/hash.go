package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/TimurManjosov/flagkit/internal/cli"
	"github.com/TimurManjosov/flagkit/internal/rollout"
)

var (
	hashSeed    string
	hashVersion int
)

var hashCmd = &cobra.Command{
	Use:   "hash <value...>",
	Short: "Compute bucketing hashes",
	Long: `Print the bucketing hash in [0, 1) for each value, the number an
experiment compares against its bucket ranges.

Examples:
  flagkit hash u1 u2 u3 --seed checkout-exp
  flagkit hash u1 --seed checkout-exp --version 1`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		f, err := outputFormat()
		if err != nil {
			return err
		}

		rows := make([]cli.HashRow, 0, len(args))
		for _, v := range args {
			n, ok := rollout.Hash(hashSeed, v, hashVersion)
			if !ok {
				return fmt.Errorf("unsupported hash version: %d", hashVersion)
			}
			rows = append(rows, cli.HashRow{Seed: hashSeed, Value: v, Version: hashVersion, Hash: n})
		}

		if quiet {
			return nil
		}
		return cli.PrintHashes(cmd.OutOrStdout(), rows, f)
	},
}

func init() {
	rootCmd.AddCommand(hashCmd)

	hashCmd.Flags().StringVar(&hashSeed, "seed", "", "Hash seed, usually the experiment key")
	hashCmd.Flags().IntVar(&hashVersion, "version", 2, "Hash version (1 or 2)")
}
