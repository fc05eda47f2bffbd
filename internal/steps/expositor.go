// Copyright 2026 Veristat Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package steps

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/veristat/veristat/internal/artifact"
	"github.com/veristat/veristat/internal/registry"
	"github.com/veristat/veristat/internal/step"
	"github.com/veristat/veristat/internal/store"
)

// Expositor assembles the final Markdown report from whatever artifacts
// the run produced. It degrades section by section: a missing input
// becomes a short note, never a failure. The report is written in both
// forms, as a pending document and as a file in the run directory.
type Expositor struct{}

func (*Expositor) Name() string { return registry.StepExpositor }

func (*Expositor) Run(ctx context.Context, runID string, st *store.Store) (*step.Result, error) {
	if ctx.Err() != nil {
		return nil, canceled(ctx)
	}

	var b strings.Builder
	sections := []any{}
	section := func(title, body string) {
		fmt.Fprintf(&b, "## %s\n\n%s\n\n", title, body)
		sections = append(sections, title)
	}

	b.WriteString("# Analysis Report\n\n")
	fmt.Fprintf(&b, "Run `%s`.\n\n", runID)

	if card, err := st.Read(runID, artifact.IdentityCard); err == nil {
		section("Dataset", fmt.Sprintf(
			"Source `%v` (%v): %.0f rows, %.0f columns. Fingerprint `%v`.",
			card["source_file"], card["source_format"],
			num(card["row_count"]), num(card["column_count"]), card["fingerprint"]))
	} else {
		section("Dataset", "Dataset identity is unavailable for this run.")
	}

	if report, err := st.Read(runID, artifact.ValidationReport); err == nil {
		verdict := "Analysis proceeded."
		if proceed, ok := report["can_proceed"].(bool); ok && !proceed {
			verdict = "Data quality was too low for full analysis; only descriptive sections follow."
		}
		section("Data Quality", fmt.Sprintf("Quality score %.1f/100. %s",
			num(report["data_quality_score"]), verdict))
	}

	if insights, err := st.Read(runID, artifact.RegressionInsights); err == nil {
		section("Drivers", regressionSection(insights))
	} else {
		section("Drivers", "Regression analysis was skipped for this run.")
	}

	if analytics, err := st.Read(runID, artifact.EnhancedAnalytics); err == nil {
		if segments, ok := analytics["segments"].([]any); ok && len(segments) > 0 {
			section("Segments", fmt.Sprintf("The data separates into %d behavioral segments.", len(segments)))
		}
	}

	if personas, err := st.Read(runID, artifact.Personas); err == nil {
		if list, ok := personas["personas"].([]any); ok && len(list) > 0 {
			section("Personas", personasSection(list))
		}
	}

	if ts, err := st.Read(runID, artifact.TimeseriesSummary); err == nil {
		if trends, ok := ts["trends"].([]any); ok && len(trends) > 0 {
			section("Trends", trendsSection(trends))
		}
	}

	if anomalies, err := st.Read(runID, artifact.AnomalyReport); err == nil {
		if total := num(anomalies["total_outliers"]); total > 0 {
			section("Anomalies", fmt.Sprintf("%.0f outlying values were flagged across the numeric columns.", total))
		}
	}

	markdown := b.String()

	doc := store.Document{
		"markdown": markdown,
		"sections": sections,
	}
	if err := st.Write(runID, artifact.Pending(artifact.FinalReport), doc); err != nil {
		return nil, err
	}

	path, err := st.Path(runID, artifact.FinalReportFile)
	if err != nil {
		return nil, err
	}
	if err := os.WriteFile(path, []byte(markdown), 0o644); err != nil {
		return nil, fmt.Errorf("writing report file: %w", err)
	}

	return ok(), nil
}

func regressionSection(insights store.Document) string {
	if available, ok := insights["available"].(bool); ok && !available {
		return "No usable regression model could be fitted."
	}
	var b strings.Builder
	if fit, ok := insights["model_fit"].(map[string]any); ok {
		fmt.Fprintf(&b, "The model explains %.0f%% of the variance in `%v`.",
			100*num(fit["r2"]), insights["target"])
	}
	if importance, ok := insights["importance"].([]any); ok && len(importance) > 0 {
		top, _ := importance[0].(map[string]any)
		for _, e := range importance[1:] {
			entry, _ := e.(map[string]any)
			if num(entry["importance"]) > num(top["importance"]) {
				top = entry
			}
		}
		fmt.Fprintf(&b, " The strongest driver is `%v` (%.0f%% of total importance).",
			top["feature"], num(top["importance"]))
	}
	if b.Len() == 0 {
		return "Regression results are present but carry no model summary."
	}
	return b.String()
}

func personasSection(list []any) string {
	var parts []string
	for _, p := range list {
		persona, _ := p.(map[string]any)
		parts = append(parts, fmt.Sprintf("**%v** (%.0f%% of rows)",
			persona["label"], 100*num(persona["share"])))
	}
	return strings.Join(parts, ", ") + "."
}

func trendsSection(trends []any) string {
	var parts []string
	for _, t := range trends {
		trend, _ := t.(map[string]any)
		if trend["direction"] == "flat" {
			continue
		}
		parts = append(parts, fmt.Sprintf("`%v` is %v", trend["column"], trend["direction"]))
	}
	if len(parts) == 0 {
		return "All tracked series are flat over the observed window."
	}
	return strings.Join(parts, "; ") + "."
}

func num(v any) float64 {
	f, _ := v.(float64)
	return f
}
