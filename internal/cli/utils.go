// Package cli provides output formatting for the setsumei command line.
package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/hyperjump/setsumei/internal/attribution"
	"github.com/hyperjump/setsumei/internal/models"
	"github.com/hyperjump/setsumei/pkg/utils"
)

// OutputFormat is the format for command output.
type OutputFormat string

const (
	// OutputText is human-readable text (default).
	OutputText OutputFormat = "text"
	// OutputJSON is structured JSON for machine consumption.
	OutputJSON OutputFormat = "json"
)

// ParseOutputFormat accepts "text" or "json"; anything else is an error.
func ParseOutputFormat(s string) (OutputFormat, error) {
	switch OutputFormat(strings.ToLower(s)) {
	case "", OutputText:
		return OutputText, nil
	case OutputJSON:
		return OutputJSON, nil
	default:
		return "", fmt.Errorf("unknown output format %q (want text or json)", s)
	}
}

const highlightCount = 10

// WriteExplanation writes an explanation to w in the given format.
func WriteExplanation(w io.Writer, exp *models.Explanation, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, exp)
	}
	writeExplanationText(w, exp)
	return nil
}

func writeExplanationText(w io.Writer, exp *models.Explanation) {
	fmt.Fprintf(w, "\nInstance %d (%s)", exp.Index, exp.Identifier)
	if exp.Cached {
		fmt.Fprint(w, " [cached]")
	}
	fmt.Fprintf(w, "\nPredicted class: %s (%.4f)\n", exp.PredictedClass, exp.PredictedProbability)
	if exp.TargetClass != exp.PredictedClass {
		fmt.Fprintf(w, "Explaining class: %s\n", exp.TargetClass)
	}
	fmt.Fprintln(w, "\nProbabilities:")
	for _, p := range exp.Probabilities {
		fmt.Fprintf(w, "  %-20s %.4f\n", p.Class, p.Probability)
	}

	fmt.Fprintf(w, "\nFeature weights (%d):\n", len(exp.FeatureWeights))
	if exp.Truncated {
		fmt.Fprintln(w, "  (fewer features than requested could be mapped)")
	}
	for _, fw := range exp.FeatureWeights {
		fmt.Fprintf(w, "  %+.4f  %s\n", fw.Weight, fw.Feature)
	}

	fmt.Fprintln(w, "\nText:")
	for i, seg := range exp.Words {
		fmt.Fprintf(w, "  [%d] %s\n", i+1, annotate(seg))
	}
	if top := attribution.Highlights(exp.Words, highlightCount); len(top) > 0 {
		fmt.Fprintln(w, "\nImportant words:")
		for _, a := range top {
			fmt.Fprintf(w, "  %+.4f  %s\n", a.Score, a.Word)
		}
	}
	fmt.Fprintf(w, "\n%d samples, seed %d, %dms\n", exp.NumSamples, exp.Seed, exp.ElapsedMS)
}

// annotate renders a segment with the score of every non-zero word in brackets.
func annotate(words []models.WordAttribution) string {
	parts := make([]string, len(words))
	for i, a := range words {
		if a.Score == 0 {
			parts[i] = a.Word
			continue
		}
		parts[i] = fmt.Sprintf("%s[%+.3f]", a.Word, a.Score)
	}
	return strings.Join(parts, " ")
}

// WriteInstances writes instance summaries, e.g. search hits, to w.
func WriteInstances(w io.Writer, query string, instances []models.InstanceSummary, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, map[string]interface{}{
			"query":     query,
			"instances": instances,
		})
	}
	fmt.Fprintf(w, "\nFound %d instances", len(instances))
	if query != "" {
		fmt.Fprintf(w, " for %q", query)
	}
	fmt.Fprint(w, "\n\n")
	for _, inst := range instances {
		fmt.Fprintf(w, "─────────────────────────────────────────────────────────\n")
		fmt.Fprintf(w, "Index: %d | ID: %s", inst.Index, inst.Identifier)
		if inst.Score != 0 {
			fmt.Fprintf(w, " | Score: %.4f", inst.Score)
		}
		if !inst.Embedded {
			fmt.Fprint(w, " | no embedding")
		}
		fmt.Fprintf(w, "\n%s\n\n", utils.Truncate(inst.Preview, 200))
	}
	return nil
}

// WriteError reports a failed explanation. JSON output carries "explainable": false.
func WriteError(w io.Writer, err error, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, map[string]interface{}{
			"error":       err.Error(),
			"explainable": false,
		})
	}
	_, werr := fmt.Fprintf(w, "could not generate explanation: %v\n", err)
	return werr
}

// WriteStatus writes a status map as indented JSON or as sorted key/value lines.
func WriteStatus(w io.Writer, status map[string]interface{}, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, status)
	}
	keys := make([]string, 0, len(status))
	for k := range status {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(w, "%-20s %v\n", k+":", status[k])
	}
	return nil
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
