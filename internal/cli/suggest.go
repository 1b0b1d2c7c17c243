package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"payroll-bridge/internal/agent"
	"payroll-bridge/internal/config"
	"payroll-bridge/internal/mapping"
	"payroll-bridge/internal/registry"
)

// SuggestCommand asks the AI agent to draft mapping rules from a sample
// record and a destination layout.
func SuggestCommand() *cobra.Command {
	var (
		sourceSystem      string
		destinationSystem string
		samplePath        string
		fields            string
	)

	cmd := &cobra.Command{
		Use:   "suggest",
		Short: "Draft mapping rules with the AI agent",
		Long: `Draft mapping rules with the AI agent.

Requires GEMINI_API_KEY. The suggestion is a draft: review it and run
validate-ruleset before activating anything.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Load()

			ctx := cmd.Context()
			aiAgent, err := agent.NewAgent(ctx, cfg.GeminiAPIKey)
			if err != nil {
				return err
			}
			if aiAgent == nil {
				return fmt.Errorf("GEMINI_API_KEY is not set")
			}
			defer aiAgent.Close()

			raw, err := os.ReadFile(samplePath)
			if err != nil {
				return fmt.Errorf("read sample record: %w", err)
			}
			var sample mapping.Record
			if err := json.Unmarshal(raw, &sample); err != nil {
				return fmt.Errorf("parse sample record: %w", err)
			}

			var destinationFields []string
			for _, f := range strings.Split(fields, ",") {
				if f = strings.TrimSpace(f); f != "" {
					destinationFields = append(destinationFields, f)
				}
			}

			rules, err := aiAgent.SuggestRules(ctx, agent.SuggestRequest{
				SourceSystem:      sourceSystem,
				DestinationSystem: destinationSystem,
				SampleRecord:      sample,
				DestinationFields: destinationFields,
			}, registry.NewWithBuiltins())
			if err != nil {
				return err
			}

			encoder := json.NewEncoder(os.Stdout)
			encoder.SetIndent("", "  ")
			return encoder.Encode(rules)
		},
	}

	cmd.Flags().StringVar(&sourceSystem, "source", "", "Source system name")
	cmd.Flags().StringVar(&destinationSystem, "destination", "", "Destination system name")
	cmd.Flags().StringVar(&samplePath, "sample", "", "Sample source record file (JSON object)")
	cmd.Flags().StringVar(&fields, "fields", "", "Comma-separated destination fields")
	cmd.MarkFlagRequired("sample")
	cmd.MarkFlagRequired("fields")
	return cmd
}
