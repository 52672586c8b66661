package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strconv"

	"github.com/olekukonko/tablewriter"
	"gopkg.in/yaml.v3"

	"github.com/TimurManjosov/flagkit/internal/engine"
	"github.com/TimurManjosov/flagkit/internal/validation"
)

// OutputFormat specifies the output format for CLI commands
type OutputFormat string

const (
	FormatTable OutputFormat = "table"
	FormatJSON  OutputFormat = "json"
	FormatYAML  OutputFormat = "yaml"
)

// ParseFormat validates a --format value.
func ParseFormat(s string) (OutputFormat, error) {
	switch f := OutputFormat(s); f {
	case FormatTable, FormatJSON, FormatYAML:
		return f, nil
	}
	return "", fmt.Errorf("unsupported format: %s", s)
}

// PrintFeatureResults outputs evaluated features keyed by feature key.
func PrintFeatureResults(w io.Writer, results map[string]*engine.FeatureResult, format OutputFormat) error {
	switch format {
	case FormatJSON:
		return printJSON(w, map[string]any{"features": results})
	case FormatYAML:
		return printYAML(w, map[string]any{"features": results})
	case FormatTable:
		return printFeatureTable(w, results)
	default:
		return fmt.Errorf("unsupported format: %s", format)
	}
}

// PrintExperimentResult outputs a single experiment assignment.
func PrintExperimentResult(w io.Writer, res *engine.ExperimentResult, format OutputFormat) error {
	switch format {
	case FormatJSON:
		return printJSON(w, res)
	case FormatYAML:
		return printYAML(w, res)
	case FormatTable:
		table := tablewriter.NewWriter(w)
		table.Header("Experiment", "In Experiment", "Variation", "Value", "Hash", "Bucket", "Sticky")
		bucket := "-"
		if res.Bucket != nil {
			bucket = strconv.FormatFloat(*res.Bucket, 'f', 4, 64)
		}
		if err := table.Append(
			res.Key,
			strconv.FormatBool(res.InExperiment),
			strconv.Itoa(res.VariationID),
			truncate(res.Value.Content(), 40),
			res.HashAttribute+"="+res.HashValue,
			bucket,
			strconv.FormatBool(res.StickyBucketUsed),
		); err != nil {
			return err
		}
		return table.Render()
	default:
		return fmt.Errorf("unsupported format: %s", format)
	}
}

// PrintLint outputs lint findings sorted by field.
func PrintLint(w io.Writer, result *validation.ValidationResult, format OutputFormat) error {
	switch format {
	case FormatJSON:
		return printJSON(w, result)
	case FormatYAML:
		return printYAML(w, result)
	case FormatTable:
		if result.Valid {
			_, err := fmt.Fprintln(w, "No problems found.")
			return err
		}
		table := tablewriter.NewWriter(w)
		table.Header("Field", "Problem")
		for _, field := range result.Fields() {
			if err := table.Append(field, result.Errors[field]); err != nil {
				return err
			}
		}
		return table.Render()
	default:
		return fmt.Errorf("unsupported format: %s", format)
	}
}

// HashRow is one line of `flagkit hash` output.
type HashRow struct {
	Seed    string  `json:"seed" yaml:"seed"`
	Value   string  `json:"value" yaml:"value"`
	Version int     `json:"version" yaml:"version"`
	Hash    float64 `json:"hash" yaml:"hash"`
}

// PrintHashes outputs bucketing hashes.
func PrintHashes(w io.Writer, rows []HashRow, format OutputFormat) error {
	switch format {
	case FormatJSON:
		return printJSON(w, rows)
	case FormatYAML:
		return printYAML(w, rows)
	case FormatTable:
		table := tablewriter.NewWriter(w)
		table.Header("Seed", "Value", "Version", "Hash")
		for _, r := range rows {
			if err := table.Append(r.Seed, r.Value, strconv.Itoa(r.Version), strconv.FormatFloat(r.Hash, 'f', 4, 64)); err != nil {
				return err
			}
		}
		return table.Render()
	default:
		return fmt.Errorf("unsupported format: %s", format)
	}
}

func printJSON(w io.Writer, data any) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(data)
}

// printYAML round-trips through JSON so values use their JSON field names
// and value.Value renders as plain data rather than its internal struct.
func printYAML(w io.Writer, data any) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return err
	}
	var generic any
	if err := yaml.Unmarshal(raw, &generic); err != nil {
		return err
	}
	encoder := yaml.NewEncoder(w)
	defer encoder.Close()
	encoder.SetIndent(2)
	return encoder.Encode(generic)
}

func printFeatureTable(w io.Writer, results map[string]*engine.FeatureResult) error {
	keys := make([]string, 0, len(results))
	for k := range results {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	table := tablewriter.NewWriter(w)
	table.Header("Key", "Value", "On", "Source", "Rule", "Variation")

	for _, k := range keys {
		res := results[k]
		variation := "-"
		if res.ExperimentResult != nil {
			variation = strconv.Itoa(res.ExperimentResult.VariationID)
		}
		if err := table.Append(
			k,
			truncate(res.Value.Content(), 40),
			strconv.FormatBool(res.On),
			string(res.Source),
			res.RuleID,
			variation,
		); err != nil {
			return err
		}
	}

	return table.Render()
}

func truncate(s string, n int) string {
	if len(s) > n {
		return s[:n-3] + "..."
	}
	return s
}
