// Package agent wraps the Gemini client used to draft mapping rules from
// a sample source record and a destination layout. Suggestions are
// drafts: they go through the normal rule-set validation before anything
// executes them.
package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"

	"payroll-bridge/internal/mapping"
	"payroll-bridge/internal/registry"
)

// Agent wraps the Gemini client and model used for rule suggestion.
type Agent struct {
	client *genai.Client
	model  *genai.GenerativeModel
}

// NewAgent initializes the Gemini client. If the API key is empty, the
// caller receives a nil Agent and no error so that commands can decide
// how to handle missing configuration.
func NewAgent(ctx context.Context, apiKey string) (*Agent, error) {
	if apiKey == "" {
		return nil, nil
	}

	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create genai client: %w", err)
	}

	model := client.GenerativeModel("gemini-2.5-flash-preview-09-2025")
	model.SafetySettings = []*genai.SafetySetting{
		{
			Category:  genai.HarmCategoryHarassment,
			Threshold: genai.HarmBlockNone,
		},
		{
			Category:  genai.HarmCategoryHateSpeech,
			Threshold: genai.HarmBlockNone,
		},
		{
			Category:  genai.HarmCategorySexuallyExplicit,
			Threshold: genai.HarmBlockNone,
		},
		{
			Category:  genai.HarmCategoryDangerousContent,
			Threshold: genai.HarmBlockNone,
		},
	}

	return &Agent{
		client: client,
		model:  model,
	}, nil
}

// Close releases underlying resources.
func (a *Agent) Close() {
	if a == nil || a.client == nil {
		return
	}
	if err := a.client.Close(); err != nil {
		log.Printf("warning: failed to close Gemini client: %v", err)
	}
}

// SuggestRequest describes what the agent should map.
type SuggestRequest struct {
	SourceSystem      string         `json:"source_system"`
	DestinationSystem string         `json:"destination_system"`
	SampleRecord      mapping.Record `json:"sample_record"`
	DestinationFields []string       `json:"destination_fields"`
}

const suggestSystemPrompt = `You are an expert payroll and 401(k) integration engineer.
Given a sample payroll source record and the destination field layout, draft the mapping rules that transform source records into destination records.

RULES:
1. Use ONLY transformations from the provided list; leave "transformation" empty when the value maps verbatim.
2. Monetary amounts destined for recordkeepers are sent in cents via "to_cents".
3. Respond ONLY with a single, minified JSON object. Do not include markdown ticks, "json", or any other conversational text.
4. The JSON format MUST be: {"field_mappings":[{"source_field":"...","destination_field":"...","transformation":"","required":false}],"default_values":[{"destination_field":"...","value":"...","apply_when":"if_null"}]}
5. Cover every destination field either with a field mapping or a default value.
`

// SuggestRules asks the model for a draft rule set and validates the
// result against the transformation registry before returning it.
func (a *Agent) SuggestRules(ctx context.Context, req SuggestRequest, reg *registry.Registry) (*mapping.Rules, error) {
	if a == nil || a.model == nil {
		return nil, fmt.Errorf("ai agent is not initialized")
	}

	userPrompt, err := buildSuggestPrompt(req, reg.List())
	if err != nil {
		return nil, err
	}

	a.model.SystemInstruction = &genai.Content{Parts: []genai.Part{genai.Text(suggestSystemPrompt)}}

	resp, err := a.model.GenerateContent(ctx, genai.Text(userPrompt))
	if err != nil {
		return nil, fmt.Errorf("failed to generate content: %w", err)
	}

	if len(resp.Candidates) == 0 || resp.Candidates[0] == nil || len(resp.Candidates[0].Content.Parts) == 0 {
		return nil, fmt.Errorf("no response from agent: %v", resp)
	}

	part := resp.Candidates[0].Content.Parts[0]
	textPart, ok := part.(genai.Text)
	if !ok {
		return nil, fmt.Errorf("unexpected response type from agent: %T", part)
	}

	log.Printf("AI Agent Raw Response: %s", textPart)

	return parseRulesResponse(string(textPart), reg)
}

// buildSuggestPrompt renders the user prompt: the sample record, the
// destination layout, and the transformation catalog the model may use.
func buildSuggestPrompt(req SuggestRequest, definitions []registry.Definition) (string, error) {
	if len(req.SampleRecord) == 0 {
		return "", fmt.Errorf("sample record is required")
	}
	if len(req.DestinationFields) == 0 {
		return "", fmt.Errorf("destination fields are required")
	}

	sample, err := json.Marshal(req.SampleRecord)
	if err != nil {
		return "", fmt.Errorf("marshal sample record: %w", err)
	}

	names := make([]string, len(definitions))
	for i, def := range definitions {
		names[i] = def.Name
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Source system: %s\n", req.SourceSystem)
	fmt.Fprintf(&b, "Destination system: %s\n", req.DestinationSystem)
	fmt.Fprintf(&b, "Sample source record: %s\n", sample)
	fmt.Fprintf(&b, "Destination fields: %s\n", strings.Join(req.DestinationFields, ", "))
	fmt.Fprintf(&b, "Available transformations: %s\n", strings.Join(names, ", "))
	return b.String(), nil
}

// parseRulesResponse decodes the model's JSON and rejects suggestions
// referencing unknown transformations.
func parseRulesResponse(text string, reg *registry.Registry) (*mapping.Rules, error) {
	cleaned := strings.TrimSpace(text)
	cleaned = strings.TrimPrefix(cleaned, "```json")
	cleaned = strings.TrimPrefix(cleaned, "```")
	cleaned = strings.TrimSuffix(cleaned, "```")
	cleaned = strings.TrimSpace(cleaned)

	var rules mapping.Rules
	if err := json.Unmarshal([]byte(cleaned), &rules); err != nil {
		return nil, fmt.Errorf("failed to parse agent's JSON response: %w (response was: %s)", err, text)
	}
	if len(rules.FieldMappings) == 0 {
		return nil, fmt.Errorf("agent suggested no field mappings (response was: %s)", text)
	}
	for _, fm := range rules.FieldMappings {
		if fm.Transformation != "" && !reg.Has(fm.Transformation) {
			return nil, fmt.Errorf("agent suggested unknown transformation %q", fm.Transformation)
		}
	}
	return &rules, nil
}
