package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"badgerline/internal/app"
	"badgerline/internal/config"
	"badgerline/internal/domain"
	"badgerline/internal/repo"
	"badgerline/internal/scheduler"
	"badgerline/internal/server"
)

func sweepCmd() *cobra.Command {
	return &cobra.Command{
		Use:       "sweep <reminders|deadlines|expirations|all>",
		Short:     "Run a scheduler sweep once",
		Long:      "Runs one pass of the reminder, deadline-warning or expiration sweep. Use it from cron or a systemd timer when 'badger serve' is not running.",
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{scheduler.SweepReminders, scheduler.SweepDeadlines, scheduler.SweepExpirations, scheduler.SweepAll},
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				reports, err := rt.Scheduler.Run(ctx, args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(reports)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Sweep", "Scanned", "Notified", "Expired", "Skipped", "Failed"})
				for _, r := range reports {
					tw.AppendRow(table.Row{r.Sweep, r.Scanned, r.Notified, r.Expired, r.Skipped, r.Failed})
				}
				tw.Render()
				for _, r := range reports {
					for _, e := range r.Errors {
						fmt.Printf("%s: %s\n", r.Sweep, e)
					}
				}
				return nil
			})
		},
	}
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show delivery counts by status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				counts, err := rt.Engine.Summary(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(counts)
				}
				fmt.Println("Deliveries:")
				for _, s := range domain.Statuses {
					fmt.Printf("  %s: %d\n", s, counts[s])
				}
				return nil
			})
		},
	}
}

func logCmd() *cobra.Command {
	l := &cobra.Command{
		Use:   "log",
		Short: "Event and notification log",
		Long:  "Every state change, submission, chat message and redemption is recorded as an event. Notification outcomes are kept separately.",
	}
	l.AddCommand(logTailCmd())
	l.AddCommand(logNotificationsCmd())
	return l
}

func logTailCmd() *cobra.Command {
	var n int
	var deliveryID, evtType string
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Tail events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				evts, err := rt.Engine.Repo.LatestEvents(ctx, n, deliveryID, evtType)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(evts)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "TS", "Type", "Delivery", "Actor", "Payload"})
				for _, e := range evts {
					tw.AppendRow(table.Row{e.ID, e.TS, e.Type, e.DeliveryID, e.ActorID, e.Payload})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&n, "n", 20, "number of events")
	cmd.Flags().StringVar(&deliveryID, "delivery", "", "filter by delivery id")
	cmd.Flags().StringVar(&evtType, "type", "", "filter by event type")
	return cmd
}

func logNotificationsCmd() *cobra.Command {
	var f repo.NotificationFilters
	var kind string
	cmd := &cobra.Command{
		Use:   "notifications",
		Short: "List notification dispatch outcomes",
		RunE: func(cmd *cobra.Command, args []string) error {
			f.Kind = domain.NotificationKind(kind)
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				recs, err := rt.Engine.Repo.ListNotifications(ctx, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(recs)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Created", "Kind", "Delivery", "Recipient", "Status", "Error"})
				for _, r := range recs {
					tw.AppendRow(table.Row{r.ID, r.CreatedAt, r.Kind, r.DeliveryID, r.RecipientID, r.Status, r.Error})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&f.DeliveryID, "delivery", "", "filter by delivery id")
	cmd.Flags().StringVar(&f.RecipientID, "recipient", "", "filter by recipient id")
	cmd.Flags().StringVar(&kind, "kind", "", "filter by notification kind: "+sortedKinds())
	cmd.Flags().IntVar(&f.Limit, "limit", 50, "max rows")
	return cmd
}

func configCmd() *cobra.Command {
	cfg := &cobra.Command{
		Use:   "config",
		Short: "Inspect workspace config",
		Long:  "badger.yml in the workspace tunes the companion, sweep intervals, reminder cadence, milestones and collaborators. Missing fields keep their defaults. Credentials come from the environment only.",
	}
	cfg.AddCommand(configShowCmd())
	cfg.AddCommand(configValidateCmd())
	cfg.AddCommand(configInitCmd())
	return cfg
}

func configShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show the effective config",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadOptional(viper.GetString("workspace"))
			if err != nil {
				return err
			}
			if viper.GetBool("json") {
				return printJSON(cfg)
			}
			out, err := cfg.YAML()
			if err != nil {
				return err
			}
			fmt.Print(out)
			return nil
		},
	}
}

func configValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate badger.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := config.Load(viper.GetString("workspace"))
			if viper.GetBool("json") {
				return printJSON(map[string]any{"ok": err == nil, "error": fmt.Sprint(err)})
			}
			if err != nil {
				return err
			}
			fmt.Println("config OK")
			return nil
		},
	}
}

func configInitCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write the default badger.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.Path(viper.GetString("workspace"))
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists; use --force to overwrite", path)
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault()), 0o644); err != nil {
				return err
			}
			fmt.Printf("wrote %s\n", path)
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")
	return cmd
}

func tokenCmd() *cobra.Command {
	t := &cobra.Command{Use: "token", Short: "API bearer tokens"}
	var subject string
	var roles []string
	var ttl time.Duration
	issue := &cobra.Command{
		Use:   "issue",
		Short: "Issue a signed bearer token for the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			secret := viper.GetString("jwt-secret")
			if secret == "" {
				return errors.New("BADGER_JWT_SECRET is required to sign tokens")
			}
			if subject == "" {
				subject = actorID()
			}
			tok, err := server.IssueToken(secret, subject, roles, ttl)
			if err != nil {
				return err
			}
			if viper.GetBool("json") {
				return printJSON(map[string]any{"token": tok, "subject": subject, "roles": roles})
			}
			fmt.Println(tok)
			return nil
		},
	}
	issue.Flags().StringVar(&subject, "subject", "", "token subject (defaults to --actor-id)")
	issue.Flags().StringSliceVar(&roles, "role", nil, "roles to grant, e.g. payments")
	issue.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime")
	t.AddCommand(issue)
	return t
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	var noScheduler, devHeader bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API and the sweep scheduler",
		RunE: func(cmd *cobra.Command, args []string) error {
			authCfg := server.AuthConfig{JWTSecret: viper.GetString("jwt-secret"), AllowLegacyActorHeader: devHeader}
			if authCfg.JWTSecret == "" && !devHeader {
				return errors.New("BADGER_JWT_SECRET is required for bearer auth")
			}
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				handler, err := server.New(server.Config{Engine: rt.Engine, BasePath: basePath, Auth: authCfg})
				if err != nil {
					return err
				}
				if !noScheduler {
					runner := scheduler.NewRunner(rt.Scheduler, rt.Engine.Config.Scheduler)
					runner.Start()
					defer func() {
						stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
						defer cancel()
						runner.Stop(stopCtx)
					}()
				}
				srv := &http.Server{Addr: addr, Handler: handler, ReadHeaderTimeout: 10 * time.Second}
				go func() {
					<-ctx.Done()
					shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					srv.Shutdown(shutdownCtx)
				}()
				fmt.Printf("Serving Badgerline API on http://%s%s (OpenAPI at %s/openapi.json, Swagger UI at /docs)\n", addr, basePath, basePath)
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v1", "API base path")
	cmd.Flags().BoolVar(&noScheduler, "no-scheduler", false, "do not run sweeps in this process")
	cmd.Flags().BoolVar(&devHeader, "dev-actor-header", false, "accept X-Actor-Id instead of bearer tokens (local development only)")
	return cmd
}

// sortedKinds lists the notification kinds for help text.
func sortedKinds() string {
	kinds := []string{
		string(domain.NotifyNewDelivery), string(domain.NotifyReminder), string(domain.NotifyDeadlineWarning),
		string(domain.NotifyMilestone), string(domain.NotifyExpired),
	}
	sort.Strings(kinds)
	return strings.Join(kinds, ", ")
}
