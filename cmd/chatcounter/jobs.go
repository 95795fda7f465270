package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/stellarlinkco/chatcounter/internal/config"
	"github.com/stellarlinkco/chatcounter/internal/cron"
	"github.com/stellarlinkco/chatcounter/internal/logging"
)

// loadJobs opens the job file without starting the scheduler. A running
// gateway picks up changes on its next start.
func loadJobs() (*cron.Service, error) {
	svc := cron.NewService(config.CronStorePath())
	svc.SetLogger(logging.Discard())
	if err := svc.Load(); err != nil {
		return nil, fmt.Errorf("load jobs: %w", err)
	}
	return svc, nil
}

func newJobsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "Manage scheduled snapshots and reports",
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List scheduled jobs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := loadJobs()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			jobs := svc.ListJobs()
			if len(jobs) == 0 {
				fmt.Fprintln(out, "No jobs.")
				return nil
			}
			for _, job := range jobs {
				fmt.Fprintf(out, "%s  %-20s %-8s %-24s enabled=%v", job.ID, job.Name, job.Payload.Action, describeSchedule(job.Schedule), job.Enabled)
				if job.State.LastStatus != "" {
					fmt.Fprintf(out, " last=%s", job.State.LastStatus)
				}
				fmt.Fprintln(out)
			}
			return nil
		},
	}

	var (
		name     string
		expr     string
		every    time.Duration
		kind     string
		scope    string
		guild    string
		channel  string
		to       string
		snapshot bool
	)
	add := &cobra.Command{
		Use:   "add",
		Short: "Schedule a report or snapshot job",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var sched cron.Schedule
			switch {
			case expr != "":
				sched = cron.Schedule{Kind: cron.KindCron, Expr: expr}
			case every > 0:
				sched = cron.Schedule{Kind: cron.KindEvery, EveryMs: every.Milliseconds()}
			default:
				return fmt.Errorf("set --cron or --every")
			}

			payload := cron.Payload{Action: cron.ActionSnapshot}
			if !snapshot {
				payload = cron.Payload{
					Action:      cron.ActionReport,
					Report:      kind,
					Scope:       scope,
					CommunityID: guild,
					Channel:     channel,
					To:          to,
				}
			}
			if name == "" {
				name = payload.Action
			}

			svc, err := loadJobs()
			if err != nil {
				return err
			}
			job, err := svc.AddJob(name, sched, payload)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Added job %s (%s)\n", job.ID, job.Name)
			return nil
		},
	}
	add.Flags().StringVar(&name, "name", "", "job name")
	add.Flags().StringVar(&expr, "cron", "", "cron expression with seconds, e.g. \"0 0 9 * * MON\"")
	add.Flags().DurationVar(&every, "every", 0, "fixed interval, e.g. 6h")
	add.Flags().StringVar(&kind, "report", "leaderboard", "leaderboard, topwords or topdict")
	add.Flags().StringVar(&scope, "scope", "", "scope token for the report")
	add.Flags().StringVarP(&guild, "community", "c", "", "community the report covers")
	add.Flags().StringVar(&channel, "channel", "", "channel that receives the report")
	add.Flags().StringVar(&to, "to", "", "chat id that receives the report")
	add.Flags().BoolVar(&snapshot, "snapshot", false, "archive a counter snapshot instead of sending a report")

	remove := &cobra.Command{
		Use:   "remove <id>",
		Short: "Remove a job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := loadJobs()
			if err != nil {
				return err
			}
			if !svc.RemoveJob(args[0]) {
				return fmt.Errorf("job %s not found", args[0])
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Removed job %s\n", args[0])
			return nil
		},
	}

	setEnabled := func(use string, enabled bool) *cobra.Command {
		return &cobra.Command{
			Use:   use + " <id>",
			Short: use + " a job",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				svc, err := loadJobs()
				if err != nil {
					return err
				}
				job, err := svc.EnableJob(args[0], enabled)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Job %s enabled=%v\n", job.ID, job.Enabled)
				return nil
			},
		}
	}

	cmd.AddCommand(list, add, remove, setEnabled("enable", true), setEnabled("disable", false))
	return cmd
}

func describeSchedule(s cron.Schedule) string {
	switch s.Kind {
	case cron.KindCron:
		return "cron " + s.Expr
	case cron.KindEvery:
		return "every " + (time.Duration(s.EveryMs) * time.Millisecond).String()
	case cron.KindAt:
		return "at " + time.UnixMilli(s.AtMs).Format(time.RFC3339)
	}
	return s.Kind
}
