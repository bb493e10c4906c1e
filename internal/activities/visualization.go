package activities

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"github.com/finsight-ai/orchestrator/internal/llm"
	"github.com/finsight-ai/orchestrator/internal/metrics"
	"github.com/finsight-ai/orchestrator/internal/util"
)

// VisualizationInput is the input for table/graph extraction. MaxTables
// and MaxGraphs tighten the configured ceilings when positive; they can
// never raise them.
type VisualizationInput struct {
	Query     string `json:"query"`
	Response  string `json:"response"`
	MaxTables int    `json:"max_tables,omitempty"`
	MaxGraphs int    `json:"max_graphs,omitempty"`
}

// VisualizationResult holds the extracted, validated, and bounded
// tables and graphs. Both slices are empty (never nil) on any failure.
type VisualizationResult struct {
	Tables     []Table `json:"tables"`
	Graphs     []Graph `json:"graphs"`
	TokensUsed int     `json:"tokens_used"`
}

// ExtractVisualizations pulls chartable data out of the final report.
// Extraction is decoration: every failure mode returns empty slices
// with a nil error, and the report ships without charts.
func (a *Activities) ExtractVisualizations(ctx context.Context, in VisualizationInput) (VisualizationResult, error) {
	start := time.Now()
	cfg := a.config()
	empty := VisualizationResult{Tables: []Table{}, Graphs: []Graph{}}

	maxTables := cfg.Visualization.MaxTables
	if in.MaxTables > 0 && in.MaxTables < maxTables {
		maxTables = in.MaxTables
	}
	maxGraphs := cfg.Visualization.MaxGraphs
	if in.MaxGraphs > 0 && in.MaxGraphs < maxGraphs {
		maxGraphs = in.MaxGraphs
	}

	resp, err := a.llm.Complete(ctx, llm.CompletionRequest{
		Instructions: renderPrompt(visualizationPrompt, map[string]string{
			"query":    in.Query,
			"response": in.Response,
		}),
		Input:       in.Response,
		ExpectJSON:  true,
		Temperature: 0,
		Component:   "visualization",
	})
	if err != nil {
		a.logger.Warn("Visualization extraction failed, shipping without charts", zap.Error(err))
		metrics.VisualizationParseErrors.Inc()
		return empty, nil
	}

	raw := extractJSONObject(resp.Response)
	if raw == "" {
		metrics.VisualizationParseErrors.Inc()
		return empty, nil
	}

	var parsed struct {
		Tables []Table `json:"tables"`
		Graphs []Graph `json:"graphs"`
	}
	if err := json.Unmarshal([]byte(raw), &parsed); err != nil {
		a.logger.Warn("Visualization response unparseable", zap.Error(err))
		metrics.VisualizationParseErrors.Inc()
		return empty, nil
	}

	tables := make([]Table, 0, len(parsed.Tables))
	for _, t := range parsed.Tables {
		if t.Title == "" || len(t.Rows) == 0 {
			continue
		}
		tables = append(tables, t)
		if len(tables) == maxTables {
			break
		}
	}

	graphs := make([]Graph, 0, len(parsed.Graphs))
	for _, g := range parsed.Graphs {
		if !GraphTypes[g.Type] || g.Title == "" || len(g.Datasets) == 0 {
			continue
		}
		// Narratives often carry numbers as strings ("12%", "3.4 billion");
		// coerce what parses so the series charts as numeric.
		for di := range g.Datasets {
			for vi, v := range g.Datasets[di].Data {
				if s, ok := v.(string); ok {
					if num, numOK := util.ParseNumericValue(s); numOK {
						g.Datasets[di].Data[vi] = num
					}
				}
			}
		}
		graphs = append(graphs, g)
		if len(graphs) == maxGraphs {
			break
		}
	}

	metrics.VisualizationLatency.Observe(time.Since(start).Seconds())
	metrics.TablesExtracted.Observe(float64(len(tables)))
	metrics.GraphsExtracted.Observe(float64(len(graphs)))
	return VisualizationResult{
		Tables:     tables,
		Graphs:     graphs,
		TokensUsed: resp.TokensUsed,
	}, nil
}
