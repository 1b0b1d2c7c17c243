package cli

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"payroll-bridge/internal/mapping"
	"payroll-bridge/internal/registry"
)

// RunMappingCommand executes a rule-set file against a records file and
// prints the result as JSON.
func RunMappingCommand() *cobra.Command {
	var (
		ruleSetPath string
		recordsPath string
		lookupsPath string
		orgID       string
		workers     int
		strict      bool
	)

	cmd := &cobra.Command{
		Use:   "run-mapping",
		Short: "Execute a mapping rule set against a batch of records",
		Long: `Execute a mapping rule set against a batch of records.

Rule sets load from YAML or JSON; records and lookup tables from JSON.

Examples:
  payroll-bridge run-mapping --ruleset adp-to-fidelity.yaml --records batch.json
  payroll-bridge run-mapping --ruleset rs.yaml --records batch.json --lookups tables.json --workers 8`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ruleSet, err := mapping.LoadRuleSetFile(ruleSetPath)
			if err != nil {
				return err
			}
			records, err := mapping.LoadRecordsFile(recordsPath)
			if err != nil {
				return err
			}
			var lookups map[string]map[string]any
			if lookupsPath != "" {
				if lookups, err = mapping.LoadLookupTablesFile(lookupsPath); err != nil {
					return err
				}
			}

			opts := []mapping.Option{mapping.WithWorkers(workers)}
			if strict {
				opts = append(opts, mapping.WithSuccessPolicy(mapping.WarningsFailRecord))
			}
			engine := mapping.NewEngine(registry.NewWithBuiltins(), opts...)

			result, err := engine.Execute(cmd.Context(), ruleSet, records, mapping.ExecOptions{
				OrganizationID: orgID,
				LookupTables:   lookups,
			})
			if err != nil {
				return err
			}

			encoder := json.NewEncoder(os.Stdout)
			encoder.SetIndent("", "  ")
			if err := encoder.Encode(result); err != nil {
				return err
			}
			if !result.Success {
				return fmt.Errorf("%d of %d record(s) failed",
					result.Metrics.FailedRecords, result.Metrics.TotalRecords)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&ruleSetPath, "ruleset", "", "Rule set file (YAML or JSON)")
	cmd.Flags().StringVar(&recordsPath, "records", "", "Source records file (JSON array)")
	cmd.Flags().StringVar(&lookupsPath, "lookups", "", "Named lookup tables file (JSON object)")
	cmd.Flags().StringVar(&orgID, "org", "", "Organization id for logging and escalation")
	cmd.Flags().IntVar(&workers, "workers", 0, "Parallel workers (0 = sequential)")
	cmd.Flags().BoolVar(&strict, "strict", false, "Treat lookup-miss warnings as record failures")
	cmd.MarkFlagRequired("ruleset")
	cmd.MarkFlagRequired("records")
	return cmd
}
