package cli

import (
	"fmt"
	"text/tabwriter"

	"github.com/kursadbilgin/campaign-dispatch/internal/domain"
	"github.com/spf13/cobra"
)

func (a *app) configCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Show or change the organization's sending policy",
	}
	cmd.AddCommand(a.configGetCommand(), a.configSetCommand())
	return cmd
}

func (a *app) configGetCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "get",
		Short: "Show the schedule config, creating defaults on first use",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := a.services.Configs.GetOrCreate(cmd.Context(), a.opts.organizationID)
			if err != nil {
				return err
			}
			return a.printConfig(cmd, cfg)
		},
	}
}

func (a *app) configSetCommand() *cobra.Command {
	var (
		dailyLimit int
		minGap     int
		maxGap     int
		timezone   string
	)

	cmd := &cobra.Command{
		Use:   "set",
		Short: "Update fields of the schedule config",
		Example: `  campaignctl config set --org org-1 --daily-limit 300
  campaignctl config set --org org-1 --min-gap 2 --max-gap 5 --timezone Europe/Istanbul`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var patch domain.ScheduleConfigPatch
			flags := cmd.Flags()
			if flags.Changed("daily-limit") {
				patch.DailyLimit = &dailyLimit
			}
			if flags.Changed("min-gap") {
				patch.MinGapMinutes = &minGap
			}
			if flags.Changed("max-gap") {
				patch.MaxGapMinutes = &maxGap
			}
			if flags.Changed("timezone") {
				patch.Timezone = &timezone
			}
			if patch.IsEmpty() {
				return fmt.Errorf("nothing to update: pass at least one of --daily-limit, --min-gap, --max-gap, --timezone")
			}

			cfg, err := a.services.Configs.Update(cmd.Context(), a.opts.organizationID, patch)
			if err != nil {
				return err
			}
			return a.printConfig(cmd, cfg)
		},
	}

	cmd.Flags().IntVar(&dailyLimit, "daily-limit", 0, "Emails per local day (1-500)")
	cmd.Flags().IntVar(&minGap, "min-gap", 0, "Minimum minutes between sends")
	cmd.Flags().IntVar(&maxGap, "max-gap", 0, "Maximum minutes between sends")
	cmd.Flags().StringVar(&timezone, "timezone", "", "IANA timezone of the sending day")
	return cmd
}

func (a *app) printConfig(cmd *cobra.Command, cfg *domain.ScheduleConfig) error {
	if a.opts.jsonOutput {
		return a.writeJSON(cmd.OutOrStdout(), cfg)
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "organization\t%s\n", cfg.OrganizationID)
	fmt.Fprintf(w, "daily limit\t%d\n", cfg.DailyLimit)
	fmt.Fprintf(w, "gap (minutes)\t%d-%d\n", cfg.MinGapMinutes, cfg.MaxGapMinutes)
	fmt.Fprintf(w, "timezone\t%s\n", cfg.Timezone)
	return w.Flush()
}
