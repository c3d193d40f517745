package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/civicpulse/civicpulse-server/internal/client"
	"github.com/civicpulse/civicpulse-server/internal/models"
	"github.com/civicpulse/civicpulse-server/internal/offline"
	"github.com/civicpulse/civicpulse-server/internal/services"
	"github.com/civicpulse/civicpulse-server/internal/state"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

func newLoginCmd(a *app) *cobra.Command {
	var code string
	cmd := &cobra.Command{
		Use:   "login <phone-or-email>",
		Short: "Log in with a one-time code",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			identifier := args[0]

			if code == "" {
				if err := a.api.SendOTP(ctx, identifier); err != nil {
					return err
				}
				fmt.Fprint(cmd.OutOrStdout(), "Code sent. Enter code: ")
				line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
				if err != nil && !errors.Is(err, io.EOF) {
					return fmt.Errorf("read code: %w", err)
				}
				code = strings.TrimSpace(line)
			}

			sess, token, err := a.api.VerifyOTP(ctx, identifier, code)
			if err != nil {
				return err
			}
			stored := models.StoredSession{Session: *sess, Token: token}
			if err := a.store.Save(ctx, state.KeySession, stored); err != nil {
				return fmt.Errorf("save session: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Logged in as %s until %s\n",
				sess.Identifier, sess.ExpiresAt.Local().Format(time.RFC1123))
			return nil
		},
	}
	cmd.Flags().StringVar(&code, "code", "", "one-time code (prompted for when omitted)")
	return cmd
}

func newLogoutCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "End the current session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			if a.session == nil {
				fmt.Fprintln(cmd.OutOrStdout(), "Not logged in")
				return nil
			}
			if err := a.api.Logout(ctx); err != nil && client.StatusCode(err) != http.StatusUnauthorized {
				// The local session is dropped regardless.
				a.logger.Warnw("Server logout failed", "error", err)
			}
			if err := a.store.Delete(ctx, state.KeySession); err != nil {
				return fmt.Errorf("clear session: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Logged out")
			return nil
		},
	}
}

func newReportCmd(a *app) *cobra.Command {
	var (
		p        models.PendingReport
		photo    string
		priority string
	)
	cmd := &cobra.Command{
		Use:   "report",
		Short: "Submit a new issue report (queued when offline)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			p.Priority = models.Priority(strings.ToLower(priority))
			if strings.HasPrefix(photo, "http://") || strings.HasPrefix(photo, "https://") {
				p.PhotoURL = photo
			} else {
				data, err := os.ReadFile(photo)
				if err != nil {
					return fmt.Errorf("read photo: %w", err)
				}
				p.PhotoData = data
				p.PhotoName = photo
			}

			report, queued, err := a.submitOrQueue(cmd.Context(), p)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if queued != nil {
				fmt.Fprintf(out, "API unreachable. Report queued (%s); run `civicpulse sync` later.\n", queued.IdempotencyKey)
				return nil
			}
			fmt.Fprintf(out, "Report submitted. Ticket %s, expected resolution in %d days.\n",
				report.TicketID, report.EstimatedResolutionDays)
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVarP(&p.Description, "description", "d", "", "what is wrong")
	f.StringVarP(&p.Category, "category", "c", "", "Roads, Water, Electricity, Waste, Safety or Other")
	f.Float64Var(&p.Latitude, "lat", 0, "latitude")
	f.Float64Var(&p.Longitude, "lng", 0, "longitude")
	f.StringVar(&p.Address, "address", "", "street address")
	f.StringVar(&p.Landmark, "landmark", "", "nearby landmark")
	f.StringVar(&p.CitizenName, "name", "", "your name, shown to the department")
	f.StringVar(&p.CitizenPhone, "phone", "", "contact number")
	f.StringVar(&priority, "priority", string(models.PriorityMedium), "low, medium or high")
	f.StringVar(&photo, "photo", "", "photo file path or URL")
	for _, name := range []string{"description", "category", "lat", "lng", "photo"} {
		cmd.MarkFlagRequired(name)
	}
	return cmd
}

func newPendingCmd(a *app) *cobra.Command {
	var drop string
	cmd := &cobra.Command{
		Use:   "pending",
		Short: "Show reports waiting to be sent",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			out := cmd.OutOrStdout()
			if drop != "" {
				ok, err := a.queue.Discard(cmd.Context(), drop)
				if err != nil {
					return err
				}
				if !ok {
					return fmt.Errorf("no pending report with key %s", drop)
				}
				fmt.Fprintf(out, "Dropped %s\n", drop)
				return nil
			}

			pending := a.queue.Pending()
			if len(pending) == 0 {
				fmt.Fprintln(out, "No pending reports")
				return nil
			}
			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "KEY\tQUEUED\tCATEGORY\tDESCRIPTION")
			for _, p := range pending {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n",
					p.IdempotencyKey,
					p.QueuedAt.Local().Format("2006-01-02 15:04"),
					services.FormatCategory(p.Category),
					services.Truncate(p.Description, 40),
				)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().StringVar(&drop, "drop", "", "remove the pending report with this key")
	return cmd
}

func newSyncCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Send all pending reports now",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			n, err := a.queue.Flush(cmd.Context(), a.submit)
			if err != nil {
				fmt.Fprintf(cmd.OutOrStdout(), "Sync incomplete; %d reports remain queued.\n", a.queue.Len())
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Sent %d pending reports\n", n)
			return nil
		},
	}
}

func newListCmd(a *app) *cobra.Command {
	var (
		opts     client.ListOptions
		filter   string
		lat, lng float64
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List reports",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			opts.Filter = models.FilterKind(filter)
			if cmd.Flags().Changed("lat") || cmd.Flags().Changed("lng") {
				opts.Center = &models.Coordinate{Latitude: lat, Longitude: lng}
			}

			reports, err := a.api.ListReports(ctx, opts)
			switch {
			case err == nil:
				if opts.Filter == "" || opts.Filter == models.FilterAll {
					if serr := a.store.Save(ctx, state.KeyReports, reports); serr != nil {
						a.logger.Warnw("Failed to cache reports", "error", serr)
					}
				}
			case errors.Is(err, client.ErrUnavailable):
				if lerr := a.store.Load(ctx, state.KeyReports, &reports); lerr != nil {
					return err
				}
				fmt.Fprintln(cmd.ErrOrStderr(), "API unreachable; showing cached reports")
			default:
				return err
			}
			return printReports(cmd.OutOrStdout(), reports)
		},
	}
	f := cmd.Flags()
	f.StringVar(&filter, "filter", "all", "all, my or nearby")
	f.StringVar(&opts.UserID, "user", "", "owner id for --filter my (defaults to the session)")
	f.Float64Var(&lat, "lat", 0, "latitude for --filter nearby")
	f.Float64Var(&lng, "lng", 0, "longitude for --filter nearby")
	f.Float64Var(&opts.RadiusKm, "radius", 0, "radius in km for --filter nearby")
	f.StringVarP(&opts.Query, "query", "q", "", "search description, category and address")
	return cmd
}

func newShowCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "show <report-id>",
		Short: "Show a report and its activity",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			r, err := a.api.GetReport(ctx, args[0])
			if err != nil {
				return err
			}
			activity, err := a.api.Activity(ctx, args[0])
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Ticket:    %s\n", r.TicketID)
			fmt.Fprintf(out, "Status:    %s (%d days left)\n", r.DisplayStatus, r.SLARemainingDays)
			fmt.Fprintf(out, "Category:  %s\n", services.FormatCategory(r.Category))
			fmt.Fprintf(out, "Priority:  %s\n", services.FormatCategory(string(r.Priority)))
			if r.CitizenName != "" {
				fmt.Fprintf(out, "Reporter:  %s %s\n", r.CitizenName, r.CitizenPhone)
			}
			fmt.Fprintf(out, "Location:  %.5f, %.5f %s\n", r.Latitude, r.Longitude, r.Address)
			fmt.Fprintf(out, "Reported:  %s\n", r.CreatedAt.Local().Format(time.RFC1123))
			fmt.Fprintf(out, "\n%s\n\n", r.Description)
			for _, e := range activity {
				fmt.Fprintf(out, "  %s  %s\n", e.CreatedAt.Local().Format("2006-01-02 15:04"), e.Description)
			}
			return nil
		},
	}
}

func newStatusCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "status <report-id> <open|inProgress|resolved>",
		Short: "Change a report's status",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := a.api.UpdateStatus(cmd.Context(), args[0], args[1])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s is now %s\n", r.TicketID, r.DisplayStatus)
			return nil
		},
	}
}

func newStatsCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show report statistics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := a.api.Summary(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Total %d  Open %d  In progress %d  Resolved %d  This month %d  Resolution rate %d%%\n",
				s.Total, s.Open, s.InProgress, s.Resolved, s.ThisMonth, s.ResolutionRate)
			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			for cat, n := range s.ByCategory {
				fmt.Fprintf(tw, "  %s\t%d\n", services.FormatCategory(cat), n)
			}
			return tw.Flush()
		},
	}
}

func newWatchCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Send pending reports automatically when the API comes back",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Watching %s every %s with %d reports queued (Ctrl-C to stop)\n",
				a.cfg.APIURL, a.cfg.ProbeInterval, a.queue.Len())

			monitor := offline.NewMonitor(a.queue, a.api.Ping, a.logger)
			g, ctx := errgroup.WithContext(cmd.Context())
			g.Go(func() error {
				monitor.Start(ctx, a.cfg.ProbeInterval)
				return nil
			})
			g.Go(func() error {
				ticker := time.NewTicker(a.cfg.ProbeInterval)
				defer ticker.Stop()
				online := false
				for {
					select {
					case <-ctx.Done():
						return nil
					case <-ticker.C:
						if now := a.queue.Online(); now != online {
							online = now
							fmt.Fprintf(out, "%s API %s, %d reports queued\n",
								time.Now().Format("15:04:05"), onlineLabel(online), a.queue.Len())
						}
					}
				}
			})
			if err := g.Wait(); err != nil {
				return err
			}
			fmt.Fprintf(out, "Stopped with %d reports queued\n", a.queue.Len())
			return nil
		},
	}
}

func onlineLabel(online bool) string {
	if online {
		return "reachable"
	}
	return "unreachable"
}

func printReports(w io.Writer, reports []models.ReportView) error {
	if len(reports) == 0 {
		fmt.Fprintln(w, "No reports")
		return nil
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "TICKET\tSTATUS\tCATEGORY\tSLA\tID\tDESCRIPTION")
	for _, r := range reports {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%dd\t%s\t%s\n",
			r.TicketID,
			r.DisplayStatus,
			services.FormatCategory(r.Category),
			r.SLARemainingDays,
			r.ID,
			services.Truncate(r.Description, 40),
		)
	}
	return tw.Flush()
}
