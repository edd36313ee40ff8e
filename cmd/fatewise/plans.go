package main

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/fatewise/fatewise/domain/plan"
	"github.com/spf13/cobra"
)

var plansCmd = &cobra.Command{
	Use:   "plans",
	Short: "Show the plan catalog",
	Long: `Show the plan catalog the server would run with.

Plans come from the config file's plans list, or the built-in defaults
when none are declared.

Examples:
  fatewise plans
  fatewise plans --config /etc/fatewise/config.yaml`,
	RunE: runPlans,
}

func init() {
	rootCmd.AddCommand(plansCmd)
}

func runPlans(cmd *cobra.Command, args []string) error {
	cfg, _, err := loadConfig()
	if err != nil {
		return fmt.Errorf("error loading config: %w", err)
	}

	catalog, err := cfg.BuildCatalog()
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tCREDITS\tDURATION\tPRICE\tFEATURES")
	for _, p := range catalog.List() {
		features := make([]string, 0, len(p.Features))
		for _, f := range p.Features {
			features = append(features, string(f))
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			p.ID, p.Name, creditsLabel(p), durationLabel(p),
			priceLabel(p), strings.Join(features, ","))
	}
	return w.Flush()
}

func creditsLabel(p plan.Plan) string {
	switch p.CreditModel {
	case plan.CreditUnlimited:
		return "unlimited"
	case plan.CreditFixed:
		return fmt.Sprintf("%d", p.Credits)
	default:
		return "-"
	}
}

func durationLabel(p plan.Plan) string {
	if !p.Expires() {
		return "-"
	}
	return fmt.Sprintf("%dd", p.DurationDays)
}

func priceLabel(p plan.Plan) string {
	if p.PriceCents == 0 {
		return "free"
	}
	return fmt.Sprintf("$%d.%02d", p.PriceCents/100, p.PriceCents%100)
}
