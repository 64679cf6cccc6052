package main

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/verdantqa/greenlight/internal/billing"
	"github.com/verdantqa/greenlight/internal/config"
	"gorm.io/gorm"
)

func newUsageCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "usage",
		Short: "Usage metering commands",
	}

	cmd.AddCommand(newUsageRollupCmd())
	cmd.AddCommand(newUsageShowCmd())
	return cmd
}

func newUsageRollupCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "rollup",
		Short: "Fold pending usage records into billing periods",
		Long:  "Runs one rollup pass immediately, outside the serve scheduler. Safe to run while the server is up.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			gormDB, err := connectFromConfig(cfg)
			if err != nil {
				return err
			}
			n, err := billing.Rollup(gormDB)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Rolled up %d usage records\n", n)
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "greenlight.yaml", "path to Greenlight config file")
	return cmd
}

func newUsageShowCmd() *cobra.Command {
	var (
		configPath string
		orgRef     string
	)

	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show aggregated usage for an organization",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			gormDB, err := connectFromConfig(cfg)
			if err != nil {
				return err
			}
			return usageShow(cmd.OutOrStdout(), gormDB, orgRef)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "greenlight.yaml", "path to Greenlight config file")
	cmd.Flags().StringVar(&orgRef, "org", "", "organization id or slug")
	cmd.MarkFlagRequired("org")
	return cmd
}

func usageShow(out io.Writer, gormDB *gorm.DB, orgRef string) error {
	org, err := findOrg(gormDB, orgRef)
	if err != nil {
		return err
	}
	periods, pending, err := billing.Summary(gormDB, org.ID)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "PERIOD\tKIND\tQUANTITY")
	for _, p := range periods {
		fmt.Fprintf(w, "%s\t%s\t%d\n", p.PeriodStart.Format("2006-01-02 15:04"), p.Kind, p.Quantity)
	}
	if err := w.Flush(); err != nil {
		return err
	}
	if pending > 0 {
		fmt.Fprintf(out, "\n%d records pending rollup\n", pending)
	}
	return nil
}
