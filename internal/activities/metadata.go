package activities

import (
	"context"
	"encoding/json"

	"go.uber.org/zap"

	"github.com/finsight-ai/orchestrator/internal/llm"
)

// MetadataInput is the input for query metadata extraction.
type MetadataInput struct {
	Query string `json:"query"`
}

// QueryMetadata is the structured context extracted from a query.
// Every field may be empty; extraction is advisory and never blocks
// the research flow.
type QueryMetadata struct {
	CompanyName     string `json:"company_name"`
	Industry        string `json:"industry"`
	Country         string `json:"country"`
	FinancialMetric string `json:"financial_metric"`
	TypeOfAnalysis  string `json:"type_of_analysis"`
	TimePeriod      string `json:"time_period"`
	Date            string `json:"date"`
}

// ExtractQueryMetadata pulls financial entities and analysis context out
// of the query. Failures degrade to empty metadata rather than an error;
// downstream agents just get less context.
func (a *Activities) ExtractQueryMetadata(ctx context.Context, in MetadataInput) (QueryMetadata, error) {
	resp, err := a.llm.Complete(ctx, llm.CompletionRequest{
		Instructions: metadataPrompt,
		Input:        in.Query,
		ExpectJSON:   true,
		Temperature:  0,
		Component:    "metadata",
		Cacheable:    true,
	})
	if err != nil {
		a.logger.Warn("Metadata extraction failed, continuing without", zap.Error(err))
		return QueryMetadata{}, nil
	}

	raw := extractJSONObject(resp.Response)
	if raw == "" {
		a.logger.Warn("Metadata response contained no JSON object")
		return QueryMetadata{}, nil
	}

	var meta QueryMetadata
	if err := json.Unmarshal([]byte(raw), &meta); err != nil {
		a.logger.Warn("Metadata response unparseable", zap.Error(err))
		return QueryMetadata{}, nil
	}
	return meta, nil
}

// ToMap flattens the metadata into agent-context form, dropping empty
// fields so prompts stay uncluttered.
func (m QueryMetadata) ToMap() map[string]interface{} {
	out := make(map[string]interface{})
	for k, v := range map[string]string{
		"company_name":     m.CompanyName,
		"industry":         m.Industry,
		"country":          m.Country,
		"financial_metric": m.FinancialMetric,
		"type_of_analysis": m.TypeOfAnalysis,
		"time_period":      m.TimePeriod,
		"date":             m.Date,
	} {
		if v != "" && v != "null" {
			out[k] = v
		}
	}
	return out
}
