package cli

import (
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/kursadbilgin/campaign-dispatch/internal/service"
	"github.com/spf13/cobra"
)

func (a *app) scheduleCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "schedule <campaign-id>",
		Short: "Schedule every pending email of a campaign",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			result, err := a.services.Campaigns.Schedule(cmd.Context(), args[0], a.opts.organizationID, a.opts.actorID)
			if err != nil {
				return err
			}
			if a.opts.jsonOutput {
				return a.writeJSON(cmd.OutOrStdout(), result)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "scheduled %d emails (%d today, %d later), %d failed\n",
				result.Scheduled, result.ScheduledForToday, result.ScheduledForLater, result.Failed)
			if result.EstimatedCompletionTime != nil {
				fmt.Fprintf(out, "last send at %s\n", result.EstimatedCompletionTime.UTC().Format(time.RFC3339))
			}
			return nil
		},
	}
}

func (a *app) pauseCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "pause <campaign-id>",
		Short: "Cancel outstanding send jobs and park their emails",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			result, err := a.services.Campaigns.Pause(cmd.Context(), args[0], a.opts.organizationID)
			if err != nil {
				return err
			}
			if a.opts.jsonOutput {
				return a.writeJSON(cmd.OutOrStdout(), result)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "paused: %d send jobs cancelled\n", result.CancelledJobs)
			return nil
		},
	}
}

func (a *app) resumeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "resume <campaign-id>",
		Short: "Reschedule paused emails with fresh quota",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			result, err := a.services.Campaigns.Resume(cmd.Context(), args[0], a.opts.organizationID, a.opts.actorID)
			if err != nil {
				return err
			}
			if a.opts.jsonOutput {
				return a.writeJSON(cmd.OutOrStdout(), result)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "resumed: %d rescheduled, %d failed\n", result.Rescheduled, result.Failed)
			return nil
		},
	}
}

func (a *app) cancelCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <campaign-id>",
		Short: "Cancel a campaign and every unsent email",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			result, err := a.services.Campaigns.Cancel(cmd.Context(), args[0], a.opts.organizationID)
			if err != nil {
				return err
			}
			if a.opts.jsonOutput {
				return a.writeJSON(cmd.OutOrStdout(), result)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "cancelled: %d emails\n", result.CancelledEmails)
			return nil
		},
	}
}

func (a *app) statusCommand() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "status <campaign-id>",
		Short: "Show a campaign's schedule and send status breakdown",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			schedule, err := a.services.Schedules.GetSchedule(cmd.Context(), args[0], a.opts.organizationID)
			if err != nil {
				return err
			}
			if a.opts.jsonOutput {
				return a.writeJSON(cmd.OutOrStdout(), schedule)
			}
			return printSchedule(cmd, schedule, limit)
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "Maximum scheduled emails to list (0 for all)")
	return cmd
}

func printSchedule(cmd *cobra.Command, s *service.CampaignSchedule, limit int) error {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "%s (%s): %s\n", s.Session.Name, s.Session.ID, s.Session.Status)
	fmt.Fprintf(out, "total %d  pending %d  scheduled %d  sent %d  paused %d  cancelled %d  failed %d\n",
		s.Stats.Total, s.Stats.Pending, s.Stats.Scheduled, s.Stats.Sent, s.Stats.Paused, s.Stats.Cancelled, s.Stats.Failed)

	rows := s.ScheduledEmails
	if len(rows) == 0 {
		return nil
	}
	if limit > 0 && len(rows) > limit {
		rows = rows[:limit]
	}

	fmt.Fprintln(out)
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "SCHEDULED\tRECIPIENT\tEMAIL\tJOB\tERROR")
	for _, row := range rows {
		errText := ""
		if row.Error != nil {
			errText = strings.TrimSpace(*row.Error)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			row.ScheduledTime.UTC().Format(time.RFC3339),
			row.Recipient,
			row.SendStatus,
			row.JobStatus,
			errText,
		)
	}
	if err := w.Flush(); err != nil {
		return err
	}

	if hidden := len(s.ScheduledEmails) - len(rows); hidden > 0 {
		fmt.Fprintf(out, "... %d more\n", hidden)
	}
	return nil
}
