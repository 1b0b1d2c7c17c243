package cli

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"payroll-bridge/internal/mapping"
	"payroll-bridge/internal/validation"
)

// ValidateRecordsCommand runs business validation rules over mapped
// records.
func ValidateRecordsCommand() *cobra.Command {
	var (
		rulesPath   string
		recordsPath string
	)

	cmd := &cobra.Command{
		Use:   "validate-records",
		Short: "Run business validation rules over mapped records",
		Long: `Run business validation rules over mapped records.

Exit status is non-zero when any ERROR-severity violation is found;
WARNING and INFO violations are reported but do not block.

Example:
  payroll-bridge validate-records --rules plan-rules.yaml --records mapped.json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			rules, err := validation.LoadRulesFile(rulesPath)
			if err != nil {
				return err
			}
			engine, err := validation.NewEngine(rules)
			if err != nil {
				return err
			}
			records, err := mapping.LoadRecordsFile(recordsPath)
			if err != nil {
				return err
			}

			violations := engine.ValidateBatch(records)
			encoder := json.NewEncoder(os.Stdout)
			encoder.SetIndent("", "  ")
			if err := encoder.Encode(map[string]any{
				"violations": violations,
				"count":      len(violations),
			}); err != nil {
				return err
			}

			if validation.BlocksAcceptance(violations) {
				return fmt.Errorf("validation found blocking violations")
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&rulesPath, "rules", "", "Validation rules file (YAML or JSON)")
	cmd.Flags().StringVar(&recordsPath, "records", "", "Records file (JSON array)")
	cmd.MarkFlagRequired("rules")
	cmd.MarkFlagRequired("records")
	return cmd
}
