package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/TimurManjosov/flagkit/internal/cli"
	"github.com/TimurManjosov/flagkit/internal/client"
	"github.com/TimurManjosov/flagkit/internal/engine"
	"github.com/TimurManjosov/flagkit/internal/provider"
	"github.com/TimurManjosov/flagkit/internal/snapshot"
	"github.com/TimurManjosov/flagkit/internal/value"
)

var (
	// Global flags
	profile      string
	remoteURL    string
	featuresPath string
	attributes   string
	forced       string
	format       string
	quiet        bool
	verbose      bool
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "flagkit",
	Short: "Evaluate feature flags and experiments from the command line",
	Long: `flagkit evaluates features and experiments against a feature payload,
either a local JSON file or a running flagkit server.

Examples:
  flagkit eval checkout --attributes '{"id": "u1", "country": "US"}'
  flagkit eval --features features.json --format json
  flagkit run experiment.json --attributes @user.json
  flagkit lint features.json
  flagkit hash u1 --seed checkout-exp`,
	SilenceUsage: true,
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&profile, "profile", "", "Config profile to use")
	rootCmd.PersistentFlags().StringVar(&remoteURL, "remote", "", "Base URL of a flagkit server")
	rootCmd.PersistentFlags().StringVar(&featuresPath, "features", "", "Path to a feature payload JSON file")
	rootCmd.PersistentFlags().StringVar(&attributes, "attributes", "", "User attributes as a JSON object, or @file")
	rootCmd.PersistentFlags().StringVar(&forced, "forced", "", "Forced variations as a JSON object of experiment key to index")
	rootCmd.PersistentFlags().StringVar(&format, "format", "table", "Output format (table, json, yaml)")
	rootCmd.PersistentFlags().BoolVar(&quiet, "quiet", false, "Suppress output")
	rootCmd.PersistentFlags().BoolVar(&verbose, "verbose", false, "Log evaluation decisions to stderr")
}

func newLogger() zerolog.Logger {
	level := zerolog.WarnLevel
	if verbose {
		level = zerolog.DebugLevel
	}
	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).Level(level).With().Timestamp().Logger()
}

// readArg returns s, or the contents of the file it names when prefixed with @.
func readArg(s string) ([]byte, error) {
	if rest, ok := strings.CutPrefix(s, "@"); ok {
		return os.ReadFile(rest)
	}
	return []byte(s), nil
}

func parseAttributes() (engine.Attributes, error) {
	if attributes == "" {
		return engine.Attributes{}, nil
	}
	raw, err := readArg(attributes)
	if err != nil {
		return nil, fmt.Errorf("read attributes: %w", err)
	}
	obj, err := value.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("parse attributes: %w", err)
	}
	if obj.Kind() != value.KindObject {
		return nil, fmt.Errorf("attributes must be a JSON object")
	}
	attrs := make(engine.Attributes, obj.Len())
	for _, k := range obj.Keys() {
		attrs[k], _ = obj.Get(k)
	}
	return attrs, nil
}

func parseForced() (map[string]int, error) {
	if forced == "" {
		return nil, nil
	}
	raw, err := readArg(forced)
	if err != nil {
		return nil, fmt.Errorf("read forced variations: %w", err)
	}
	var out map[string]int
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("parse forced variations: %w", err)
	}
	return out, nil
}

// session is what an evaluation command runs against: a local evaluator
// or a remote client, never both.
type session struct {
	local  *engine.Evaluator
	snap   *snapshot.Snapshot
	remote *client.Client
	req    client.EvalRequest
}

func openSession(ctx context.Context) (*session, error) {
	p, err := cli.ResolveProfile(profile, remoteURL, featuresPath)
	if err != nil {
		return nil, fmt.Errorf("configuration error: %w", err)
	}
	attrs, err := parseAttributes()
	if err != nil {
		return nil, err
	}
	fv, err := parseForced()
	if err != nil {
		return nil, err
	}

	if p.Remote() {
		return &session{
			remote: client.NewClient(p.BaseURL),
			req:    client.EvalRequest{Attributes: attrs, ForcedVariations: fv},
		}, nil
	}

	log := newLogger()
	snap, err := provider.NewFileSource(p.FeaturesFile, log).Load(ctx)
	if err != nil {
		return nil, err
	}
	ev := engine.NewEvaluator(engine.Context{
		Attributes:       attrs,
		Features:         snap.Features,
		SavedGroups:      snap.SavedGroups,
		ForcedVariations: fv,
	}, engine.Options{Logger: &log})
	return &session{local: ev, snap: snap}, nil
}

func outputFormat() (cli.OutputFormat, error) {
	return cli.ParseFormat(format)
}
