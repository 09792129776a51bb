package main

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/pario-ai/steer/pkg/models"
	"github.com/pario-ai/steer/pkg/router"
)

func newRulesCmd(configPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rules",
		Short: "Inspect, test and manage steering rules",
	}
	cmd.AddCommand(
		newRulesListCmd(configPath),
		newRulesTestCmd(configPath),
		newRulesImportCmd(configPath),
		newRulesToggleCmd(configPath, true),
		newRulesToggleCmd(configPath, false),
	)
	return cmd
}

func newRulesListCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List rules from the configured source, enabled or not",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openStore(cmd.Context(), *configPath)
			if err != nil {
				return err
			}
			defer func() { _ = a.Close() }()

			rules, err := ruleSource(a.cfg, a.rules).Load(cmd.Context())
			if err != nil {
				return err
			}
			if len(rules) == 0 {
				fmt.Printf("No rules in source %q.\n", a.cfg.Router.RulesSource)
				return nil
			}
			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "PRIORITY\tID\tTAG\tENABLED\tCONDITIONS\tTARGET\tFALLBACK")
			for _, r := range rules {
				fallback := "-"
				if r.Action.FallbackModel != "" {
					fallback = r.Action.FallbackProvider + "/" + r.Action.FallbackModel
				}
				fmt.Fprintf(w, "%d\t%s\t%s\t%t\t%d\t%s/%s\t%s\n",
					r.Priority, r.ID, r.Tag, r.Enabled, len(r.Conditions),
					r.Action.Provider, r.Action.Model, fallback)
			}
			return w.Flush()
		},
	}
}

func newRulesTestCmd(configPath *string) *cobra.Command {
	var (
		req     models.SelectionRequest
		context map[string]string
		asJSON  bool
	)

	cmd := &cobra.Command{
		Use:   "test",
		Short: "Show the routing decision for a request without dispatching it",
		Example: `  steer rules test --prompt "fix this stack trace" --task-type code-generation
  steer rules test --prompt "hi" --context priority=high --user vip-1`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(context) > 0 {
				req.Context = make(map[string]any, len(context))
				for k, v := range context {
					req.Context[k] = v
				}
			}
			if err := req.Validate(false); err != nil {
				return err
			}

			a, err := openStore(cmd.Context(), *configPath)
			if err != nil {
				return err
			}
			defer func() { _ = a.Close() }()

			engine := buildEngine(cmd.Context(), a)
			if err := engine.LoadError(); err != nil {
				fmt.Fprintf(os.Stderr, "warning: %v; showing the default decision\n", err)
			}
			dec := engine.DetermineRouting(cmd.Context(), &req)
			if asJSON {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(dec)
			}
			fmt.Printf("Provider:   %s\nModel:      %s\nEst. cost:  $%.6f\nConfidence: %.2f\nRules:      %v\nReasoning:  %s\n",
				dec.Provider, dec.Model, dec.EstimatedCost, dec.ConfidenceScore, dec.RoutingRulesApplied, dec.Reasoning)
			if dec.FallbackModel != "" {
				fmt.Printf("Fallback:   %s/%s\n", dec.FallbackProvider, dec.FallbackModel)
			}
			return nil
		},
	}

	f := cmd.Flags()
	f.StringVar(&req.Prompt, "prompt", "", "prompt text")
	f.StringVar(&req.Scope.UserID, "user", "", "user id")
	f.StringVar(&req.Scope.TeamID, "team", "", "team id")
	f.StringVar(&req.Scope.ProjectID, "project", "", "project id")
	f.StringVar(&req.Metadata.TaskType, "task-type", "", "task type")
	f.StringVar(&req.Metadata.QualityRequirement, "quality", "", "standard, high or maximum")
	f.StringVar(&req.Metadata.BudgetPriority, "budget-priority", "", "cost-saving, balanced or quality-first")
	f.StringToStringVar(&context, "context", nil, "request context key=value pairs")
	f.BoolVar(&asJSON, "json", false, "print the decision as JSON")
	return cmd
}

type ruleFile struct {
	Rules []models.SteeringRule `yaml:"rules"`
}

func newRulesImportCmd(configPath *string) *cobra.Command {
	var withDefaults bool

	cmd := &cobra.Command{
		Use:   "import [file.yaml]",
		Short: "Upsert rules from a YAML file into the database",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var rules []models.SteeringRule
			if withDefaults {
				rules = router.DefaultRules()
			}
			if len(args) == 1 {
				data, err := os.ReadFile(args[0])
				if err != nil {
					return err
				}
				var rf ruleFile
				if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), &rf); err != nil {
					return fmt.Errorf("parse %s: %w", args[0], err)
				}
				rules = append(rules, rf.Rules...)
			}
			if len(rules) == 0 {
				return fmt.Errorf("nothing to import: pass a file or --defaults")
			}
			for _, r := range rules {
				if err := router.ValidateRule(r); err != nil {
					return err
				}
			}

			a, err := openStore(cmd.Context(), *configPath)
			if err != nil {
				return err
			}
			defer func() { _ = a.Close() }()

			for i := range rules {
				if err := a.rules.Upsert(cmd.Context(), &rules[i]); err != nil {
					return err
				}
			}
			fmt.Printf("Imported %d rules.\n", len(rules))
			if a.cfg.Router.RulesSource != "database" {
				fmt.Println("Note: router.rules_source is not \"database\"; the gateway will not read these rules.")
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&withDefaults, "defaults", false, "include the built-in default rules")
	return cmd
}

func newRulesToggleCmd(configPath *string, enable bool) *cobra.Command {
	use, short := "disable <rule-id>", "Disable a stored rule"
	if enable {
		use, short = "enable <rule-id>", "Enable a stored rule"
	}
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openStore(cmd.Context(), *configPath)
			if err != nil {
				return err
			}
			defer func() { _ = a.Close() }()

			if err := a.rules.SetEnabled(cmd.Context(), args[0], enable); err != nil {
				return fmt.Errorf("rule %s: %w", args[0], err)
			}
			fmt.Printf("Rule %s enabled=%t. Running gateways pick it up on POST /v1/rules/reload.\n", args[0], enable)
			return nil
		},
	}
}
