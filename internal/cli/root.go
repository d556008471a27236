// Package cli implements campaignctl, the operator command line over the
// campaign lifecycle, schedule query and schedule config services.
package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/kursadbilgin/campaign-dispatch/internal/domain"
	"github.com/kursadbilgin/campaign-dispatch/internal/service"
	"github.com/spf13/cobra"
)

type CampaignLifecycle interface {
	Schedule(ctx context.Context, campaignID, organizationID, actorID string) (*service.ScheduleResult, error)
	Pause(ctx context.Context, campaignID, organizationID string) (*service.PauseResult, error)
	Resume(ctx context.Context, campaignID, organizationID, actorID string) (*service.ResumeResult, error)
	Cancel(ctx context.Context, campaignID, organizationID string) (*service.CancelResult, error)
}

type ScheduleReader interface {
	GetSchedule(ctx context.Context, campaignID, organizationID string) (*service.CampaignSchedule, error)
}

type ScheduleConfigService interface {
	GetOrCreate(ctx context.Context, organizationID string) (*domain.ScheduleConfig, error)
	Update(ctx context.Context, organizationID string, patch domain.ScheduleConfigPatch) (*domain.ScheduleConfig, error)
}

type Services struct {
	Campaigns CampaignLifecycle
	Schedules ScheduleReader
	Configs   ScheduleConfigService
}

// Connector builds the services on first use so --help works offline.
type Connector func(ctx context.Context) (*Services, error)

type options struct {
	organizationID string
	actorID        string
	jsonOutput     bool
}

type app struct {
	connect  Connector
	opts     options
	services *Services
}

func NewRootCommand(connect Connector) *cobra.Command {
	a := &app{connect: connect}

	root := &cobra.Command{
		Use:           "campaignctl",
		Short:         "Operate campaign email schedules",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if strings.TrimSpace(a.opts.organizationID) == "" {
				return fmt.Errorf("--org is required")
			}
			services, err := a.connect(cmd.Context())
			if err != nil {
				return err
			}
			a.services = services
			return nil
		},
	}

	root.PersistentFlags().StringVar(&a.opts.organizationID, "org", "", "Organization id (required)")
	root.PersistentFlags().StringVar(&a.opts.actorID, "actor", "", "Actor recorded on schedule and resume")
	root.PersistentFlags().BoolVar(&a.opts.jsonOutput, "json", false, "Output as JSON")

	root.AddCommand(
		a.scheduleCommand(),
		a.pauseCommand(),
		a.resumeCommand(),
		a.cancelCommand(),
		a.statusCommand(),
		a.configCommand(),
	)
	return root
}

func (a *app) writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
