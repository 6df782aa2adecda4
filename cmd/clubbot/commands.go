package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"clubbot/internal/app"
	"clubbot/internal/reminder"
	"clubbot/internal/tenant"
	"clubbot/internal/timer"
)

type cli struct {
	cfgPath string
	tenant  string
}

func newRootCommand() *cobra.Command {
	c := &cli{}
	root := &cobra.Command{
		Use:   "clubbot",
		Short: "Club operations reminder bot",
		Long: `clubbot keeps task and meeting reminders in step with the club ledger
and delivers them to Telegram.

Examples:
  clubbot run --config config.yaml
  clubbot reconcile --tenant g1
  clubbot remind --tenant g1 --in 30m --mention @dana "bring the banner"
  clubbot timers list --tenant g1`,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVarP(&c.cfgPath, "config", "c", "./config.yaml", "path to config (yaml or json)")
	root.PersistentFlags().StringVarP(&c.tenant, "tenant", "t", "", "limit to one tenant id")

	root.AddCommand(
		c.runCommand(),
		c.reconcileCommand(),
		c.fireCommand(),
		c.cleanupCommand(),
		c.remindCommand(),
		c.timersCommand(),
		c.entityCommand(),
	)
	return root
}

func (c *cli) open() (*app.App, error) {
	return app.New(c.cfgPath)
}

// tenants resolves the --tenant flag against the registry.
func (c *cli) tenants(a *app.App) ([]tenant.Tenant, error) {
	if id := strings.TrimSpace(c.tenant); id != "" {
		tn, err := a.Tenants().Get(id)
		if err != nil {
			return nil, err
		}
		return []tenant.Tenant{tn}, nil
	}
	return a.Tenants().List(), nil
}

func (c *cli) runCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the scheduler until interrupted",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := c.open()
			if err != nil {
				return err
			}
			if err := a.Start(ctx); err != nil {
				_ = a.Close()
				return err
			}

			reason := app.StopSignal
			select {
			case <-ctx.Done():
			case <-a.Done():
				if a.Err() != nil {
					reason = app.StopFatalError
				}
			}
			stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			_ = a.Stop(stopCtx, reason)
			return a.Err()
		},
	}
}

func (c *cli) reconcileCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "reconcile",
		Short: "Run one reconcile pass and print what changed",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := c.open()
			if err != nil {
				return err
			}
			defer a.Close()
			tenants, err := c.tenants(a)
			if err != nil {
				return err
			}
			var failed []string
			out := cmd.OutOrStdout()
			for _, tn := range tenants {
				res, err := a.Reconciler().Reconcile(cmd.Context(), tn)
				fmt.Fprintf(out, "%s: added=%d updated=%d cancelled=%d blocked=%d skipped=%d\n",
					tn.ID, res.Added, res.Updated, res.Cancelled, res.Blocked, res.Skipped)
				if err != nil {
					fmt.Fprintf(out, "%s: error: %v\n", tn.ID, err)
					failed = append(failed, tn.ID)
				}
			}
			if len(failed) > 0 {
				return fmt.Errorf("reconcile failed for %s", strings.Join(failed, ","))
			}
			return nil
		},
	}
}

func (c *cli) fireCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "fire",
		Short: "Deliver every timer that is due now",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := c.open()
			if err != nil {
				return err
			}
			defer a.Close()
			tenants, err := c.tenants(a)
			if err != nil {
				return err
			}
			now := time.Now()
			out := cmd.OutOrStdout()
			errs := 0
			for _, tn := range tenants {
				res := a.Firing().TickTenant(cmd.Context(), tn, now)
				fmt.Fprintf(out, "%s: due=%d fired=%d failed=%d skipped=%d\n", tn.ID, res.Due, res.Fired, res.Failed, res.Skipped)
				errs += res.Errors
			}
			if errs > 0 {
				return fmt.Errorf("%d tenant(s) could not be loaded", errs)
			}
			return nil
		},
	}
}

func (c *cli) cleanupCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "cleanup",
		Short: "Delete terminal timers older than the retention window",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := c.open()
			if err != nil {
				return err
			}
			defer a.Close()
			tenants, err := c.tenants(a)
			if err != nil {
				return err
			}
			now := time.Now()
			out := cmd.OutOrStdout()
			var failed []string
			for _, tn := range tenants {
				n, err := a.Firing().CleanupTenant(cmd.Context(), tn, now)
				if err != nil {
					fmt.Fprintf(out, "%s: error: %v\n", tn.ID, err)
					failed = append(failed, tn.ID)
					continue
				}
				fmt.Fprintf(out, "%s: deleted %d timer(s)\n", tn.ID, n)
			}
			if len(failed) > 0 {
				return fmt.Errorf("cleanup failed for %s", strings.Join(failed, ","))
			}
			return nil
		},
	}
}

func (c *cli) remindCommand() *cobra.Command {
	var (
		in      time.Duration
		at      string
		mention string
		channel string
	)
	cmd := &cobra.Command{
		Use:   "remind <message>",
		Short: "Schedule a one-off reminder",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if strings.TrimSpace(c.tenant) == "" {
				return errors.New("--tenant is required")
			}
			req := reminder.Request{
				Message: strings.Join(args, " "),
				Mention: mention,
				Delay:   in,
				Channel: channel,
			}
			if at != "" {
				t, err := time.Parse(time.RFC3339, at)
				if err != nil {
					return fmt.Errorf("--at: %w", err)
				}
				req.At = t
			}
			a, err := c.open()
			if err != nil {
				return err
			}
			defer a.Close()
			t, err := a.Reminders().Schedule(cmd.Context(), c.tenant, req)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "scheduled %s for %s in channel %s\n", t.ID, t.FireAt.Format(time.RFC3339), t.ChannelID)
			return nil
		},
	}
	cmd.Flags().DurationVar(&in, "in", 0, "delay before the reminder fires")
	cmd.Flags().StringVar(&at, "at", "", "fire time (RFC3339); wins over --in")
	cmd.Flags().StringVar(&mention, "mention", "", "who to mention")
	cmd.Flags().StringVar(&channel, "channel", "", "chat target; default is the tenant task channel")
	return cmd
}

func (c *cli) timersCommand() *cobra.Command {
	var all bool
	cmd := &cobra.Command{
		Use:   "timers",
		Short: "Inspect stored timers",
	}
	list := &cobra.Command{
		Use:   "list",
		Short: "List timers (active only unless --all)",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := c.open()
			if err != nil {
				return err
			}
			defer a.Close()
			tenants, err := c.tenants(a)
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "TENANT\tID\tTYPE\tSTATE\tFIRE AT\tCHANNEL")
			for _, tn := range tenants {
				ts, err := a.Ledger().ListTimers(cmd.Context(), tn.ID)
				if err != nil {
					return fmt.Errorf("%s: %w", tn.ID, err)
				}
				for _, t := range ts {
					if !all && !t.Active() {
						continue
					}
					fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
						tn.ID, t.ID, t.Type, t.State, t.FireAt.In(tn.Loc()).Format("2006-01-02 15:04 MST"), t.ChannelID)
				}
			}
			return tw.Flush()
		},
	}
	list.Flags().BoolVar(&all, "all", false, "include fired, failed, cancelled and blocked timers")
	cmd.AddCommand(list)
	return cmd
}

// entityCommand writes task and meeting rows by hand, standing in for the
// agent layer that normally owns them.
func (c *cli) entityCommand() *cobra.Command {
	var (
		kind, title, status, at, mention, owner string
	)
	cmd := &cobra.Command{
		Use:   "entity",
		Short: "Manage task and meeting rows",
	}
	put := &cobra.Command{
		Use:   "put <id>",
		Short: "Create or replace a task or meeting row",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if strings.TrimSpace(c.tenant) == "" {
				return errors.New("--tenant is required")
			}
			e := timer.Entity{
				Kind:    timer.RefType(kind),
				ID:      args[0],
				Title:   title,
				Status:  status,
				Mention: mention,
				Owner:   owner,
			}
			if e.Kind != timer.RefTask && e.Kind != timer.RefMeeting {
				return fmt.Errorf("--kind must be task or meeting, got %q", kind)
			}
			if at != "" {
				t, err := time.Parse(time.RFC3339, at)
				if err != nil {
					return fmt.Errorf("--at: %w", err)
				}
				e.At = t
			}
			a, err := c.open()
			if err != nil {
				return err
			}
			defer a.Close()
			if _, err := a.Tenants().Get(c.tenant); err != nil {
				return err
			}
			if err := a.Store().PutEntity(cmd.Context(), c.tenant, e); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "stored %s %s\n", e.Kind, e.ID)
			return nil
		},
	}
	put.Flags().StringVar(&kind, "kind", "task", "task or meeting")
	put.Flags().StringVar(&title, "title", "", "title shown in reminders")
	put.Flags().StringVar(&status, "status", timer.TaskOpen, "lifecycle status")
	put.Flags().StringVar(&at, "at", "", "due or start time (RFC3339)")
	put.Flags().StringVar(&mention, "mention", "", "who reminders mention")
	put.Flags().StringVar(&owner, "owner", "", "owner name")
	cmd.AddCommand(put)
	return cmd
}
