package nlq

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/sashabaranov/go-openai"

	"github.com/voltgrid/nlqgate/internal/logger"
)

// telemetrySchemaContext pins the generator to the real telemetry schema so
// it does not invent tables or columns.
const telemetrySchemaContext = `Available schema (do not invent tables or columns outside of it):
- telemetry_raw(company_id, logical_id, ts, voltage, current, frequency, power_factor, payload)
- ca_device_daily_energy(company_id, logical_id, day, kwh_estimated)
- ca_device_daily_simple(company_id, logical_id, day, avg_power, min_freq, max_freq, pf_avg)
- companies(id), sites(id, company_id), logical_devices(id, site_id)
- daily_metrics(company_id, device_id, site_id, day, kwh, avg_power, min_freq, max_freq, pf_avg)

Graph model: (Company)-[:HAS_SITE]->(Site)-[:HAS_DEVICE]->(Device),
Device nodes carry lastTs, voltage, current, frequency, powerFactor.`

// OpenAIGenerator implements Generator on top of the OpenAI chat API.
type OpenAIGenerator struct {
	client *openai.Client
	model  string
}

// NewOpenAIGenerator creates a generator using the given API key and model.
func NewOpenAIGenerator(apiKey, model string) *OpenAIGenerator {
	return &OpenAIGenerator{
		client: openai.NewClient(apiKey),
		model:  model,
	}
}

func (g *OpenAIGenerator) complete(ctx context.Context, prompt string, maxTokens int) (string, error) {
	resp, err := g.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:               g.model,
		Temperature:         0.1,
		MaxCompletionTokens: maxTokens,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
	})
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("model returned no choices")
	}
	return resp.Choices[0].Message.Content, nil
}

// GenerateQueries asks the model for a Cypher/SQL pair answering the given
// question, scoped to the company.
func (g *OpenAIGenerator) GenerateQueries(ctx context.Context, text, companyID string) (*Queries, error) {
	prompt := fmt.Sprintf(`You translate questions about IoT telemetry into queries.

Return strictly valid JSON in this exact format:
{"cypher":"<Cypher query>","sql":"<SQL query>"}

Rules:
- The SQL targets PostgreSQL/TimescaleDB; the Cypher targets Neo4j.
- Scope everything to one company: SQL uses a $1 positional parameter for
  the company id; Cypher uses a $companyId parameter.
- Return at most 100 rows.

%s

Question: %s
Company: %s
`, telemetrySchemaContext, text, companyID)

	raw, err := g.complete(ctx, prompt, 1024)
	if err != nil {
		logger.Error("query generation call failed", "error", err)
		return nil, &GenerationError{Err: err}
	}

	var parsed struct {
		Cypher string `json:"cypher"`
		SQL    string `json:"sql"`
	}
	if err := json.Unmarshal([]byte(stripCodeFences(raw)), &parsed); err != nil {
		return nil, &GenerationError{Err: fmt.Errorf("model did not return valid JSON: %w", err)}
	}

	cypher := strings.TrimSpace(parsed.Cypher)
	sqlText := strings.TrimSpace(parsed.SQL)
	if cypher == "" && sqlText == "" {
		return nil, &GenerationError{Err: fmt.Errorf("model returned neither cypher nor sql")}
	}
	return &Queries{Cypher: cypher, SQL: sqlText}, nil
}

// GenerateSchedule asks the model to convert a natural-language description
// into a five-field cron expression.
func (g *OpenAIGenerator) GenerateSchedule(ctx context.Context, text string) (*Schedule, error) {
	prompt := fmt.Sprintf(`You convert natural-language descriptions into cron expressions.

Return strictly valid JSON in this exact format:
{"cron":"<cron expression, or empty when impossible>","summary":"<short explanation>"}

Rules:
- Use standard five-field cron (minute hour day-of-month month day-of-week) in UTC.
- "every N minutes" means "*/N * * * *"; "every N hours" means "0 */N * * *".
- When the description cannot be interpreted, return an empty cron and
  explain why in the summary.

Description: %s
`, text)

	raw, err := g.complete(ctx, prompt, 256)
	if err != nil {
		logger.Error("schedule generation call failed", "error", err)
		return nil, &GenerationError{Err: err}
	}

	var parsed struct {
		Cron    string `json:"cron"`
		Summary string `json:"summary"`
	}
	if err := json.Unmarshal([]byte(stripCodeFences(raw)), &parsed); err != nil {
		return nil, &GenerationError{Err: fmt.Errorf("model did not return valid JSON: %w", err)}
	}

	cron := strings.TrimSpace(parsed.Cron)
	summary := strings.TrimSpace(parsed.Summary)
	if cron == "" {
		return nil, &InvalidScheduleError{Summary: summary}
	}
	return &Schedule{Cron: cron, Summary: summary}, nil
}

// stripCodeFences removes a surrounding markdown code fence, which some
// models add around JSON despite instructions.
func stripCodeFences(raw string) string {
	cleaned := strings.TrimSpace(raw)
	if !strings.HasPrefix(cleaned, "```") {
		return cleaned
	}
	cleaned = strings.TrimPrefix(cleaned, "```json")
	cleaned = strings.TrimPrefix(cleaned, "```")
	cleaned = strings.TrimSuffix(cleaned, "```")
	return strings.TrimSpace(cleaned)
}
