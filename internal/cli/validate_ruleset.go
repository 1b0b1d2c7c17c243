package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"payroll-bridge/internal/mapping"
	"payroll-bridge/internal/registry"
)

// ValidateRuleSetCommand checks a rule-set file without executing it.
func ValidateRuleSetCommand() *cobra.Command {
	var ruleSetPath string

	cmd := &cobra.Command{
		Use:   "validate-ruleset",
		Short: "Validate a mapping rule set file",
		RunE: func(cmd *cobra.Command, args []string) error {
			ruleSet, err := mapping.LoadRuleSetFile(ruleSetPath)
			if err != nil {
				return err
			}

			if err := mapping.Validate(ruleSet, registry.NewWithBuiltins()); err != nil {
				var invalid *mapping.InvalidRuleSetError
				if errors.As(err, &invalid) {
					fmt.Printf("Rule set %s is INVALID:\n", ruleSet.ID)
					for _, issue := range invalid.Issues {
						fmt.Printf("  - %s\n", issue)
					}
					return fmt.Errorf("%d issue(s) found", len(invalid.Issues))
				}
				return err
			}

			fmt.Printf("Rule set %s is valid.\n", ruleSet.ID)
			return nil
		},
	}

	cmd.Flags().StringVar(&ruleSetPath, "ruleset", "", "Rule set file (YAML or JSON)")
	cmd.MarkFlagRequired("ruleset")
	return cmd
}

// ListTransformationsCommand prints the built-in transformation catalog.
func ListTransformationsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "transformations",
		Short: "List the built-in transformation catalog",
		RunE: func(cmd *cobra.Command, args []string) error {
			for _, def := range registry.NewWithBuiltins().List() {
				fmt.Printf("%-18s %-10s %s -> %s  %s\n",
					def.Name, def.Category, def.InputType, def.OutputType, def.Description)
			}
			return nil
		},
	}
}
