package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/golang-jwt/jwt/v5"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"leadboard/internal/app"
	"leadboard/internal/board"
	"leadboard/internal/cache"
	"leadboard/internal/config"
	"leadboard/internal/db"
	"leadboard/internal/domain"
	"leadboard/internal/events"
	"leadboard/internal/log"
	"leadboard/internal/migrate"
	"leadboard/internal/server"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "lb",
	Short: "Leadboard operator CLI",
	Long: `Leadboard mirrors a remote lead store and moves leads through the pipeline.
- Board: leads grouped into New, Vetted, Enriching, Enriched and Contacted.
- Moves are optimistic: the board changes first and reloads from the remote store if the update fails.
- Agents: discovery, vetting and tech_debt runs scheduled on the remote runner; 'lb agents logs' shows history.
- Journal: a local log of this workspace's activity, view with 'lb log tail'.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		workspace := viper.GetString("workspace")
		if err := config.LoadEnv(workspace); err != nil {
			return err
		}
		c, err := config.LoadOptional(workspace)
		if err != nil {
			return err
		}
		if err := c.ApplyEnv(); err != nil {
			return err
		}
		if base := viper.GetString("base-url"); base != "" {
			c.API.BaseURL = base
			if err := c.Validate(); err != nil {
				return err
			}
		}
		level := c.Log.Level
		if v := viper.GetString("log-level"); v != "" {
			level = v
		}
		log.Setup(level)
		cfg = c
		return nil
	},
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("LEADBOARD")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("base-url", "", "remote API base URL (overrides config)")
	rootCmd.PersistentFlags().String("log-level", "", "log level (debug, info, warn, error)")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("base-url", rootCmd.PersistentFlags().Lookup("base-url"))
	_ = viper.BindPFlag("log-level", rootCmd.PersistentFlags().Lookup("log-level"))
}

func registerCommands() {
	rootCmd.AddCommand(boardCmd())
	rootCmd.AddCommand(moveCmd())
	rootCmd.AddCommand(leadsCmd())
	rootCmd.AddCommand(agentsCmd())
	rootCmd.AddCommand(discoverCmd())
	rootCmd.AddCommand(statsCmd())
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(tokenCmd())
}

func boardCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "board",
		Short: "Show leads grouped by stage",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd.Context(), func(ctx context.Context, s *app.Session) error {
				b, _ := s.Board.Current()
				if viper.GetBool("json") {
					return printJSON(b)
				}
				printBoard(b)
				return nil
			})
		},
	}
}

func moveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "move <lead-id> <stage>",
		Short: "Move a lead to another stage",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			stage, err := domain.ParseStage(args[1])
			if err != nil {
				return err
			}
			return withSession(cmd.Context(), func(ctx context.Context, s *app.Session) error {
				t, err := s.Engine.Move(ctx, id, stage)
				if err != nil {
					if t != nil && viper.GetBool("json") {
						_ = printJSON(map[string]any{"id": t.ID, "lead_id": t.LeadID, "state": t.State().String(), "error": err.Error()})
					}
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{"id": t.ID, "lead_id": t.LeadID, "from": t.From, "to": t.To, "state": t.State().String()})
				}
				fmt.Printf("Lead %d moved %s -> %s\n", t.LeadID, t.From.Label(), t.To.Label())
				return nil
			})
		},
	}
	return cmd
}

func leadsCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "leads", Short: "Manage leads"}
	cmd.AddCommand(leadsListCmd())
	cmd.AddCommand(leadsShowCmd())
	cmd.AddCommand(leadsCreateCmd())
	cmd.AddCommand(leadsDeleteCmd())
	cmd.AddCommand(leadsClearCmd())
	return cmd
}

func leadsListCmd() *cobra.Command {
	var stage string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List leads in remote order",
		RunE: func(cmd *cobra.Command, args []string) error {
			if stage != "" {
				if _, err := domain.ParseStage(stage); err != nil {
					return err
				}
			}
			return withSession(cmd.Context(), func(ctx context.Context, s *app.Session) error {
				var leads []domain.Lead
				for _, l := range s.Cache.Snapshot() {
					if stage == "" || string(l.Stage) == stage {
						leads = append(leads, l)
					}
				}
				if viper.GetBool("json") {
					return printJSON(leads)
				}
				tw := newTable()
				tw.AppendHeader(table.Row{"ID", "Company", "Stage", "Vetting", "Score", "Region"})
				for _, l := range leads {
					tw.AppendRow(table.Row{l.ID, l.CompanyName, l.Stage.Label(), l.VettingStatus, l.Score, deref(l.Region)})
				}
				tw.AppendFooter(table.Row{"", "", "", "", "Total", len(leads)})
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&stage, "stage", "", "stage filter")
	return cmd
}

func leadsShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <lead-id>",
		Short: "Show one lead from the remote store",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return withRemote(cmd.Context(), func(ctx context.Context, s *app.Session) error {
				l, err := s.Remote.GetLead(ctx, id)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(l)
				}
				tw := newTable()
				tw.AppendRows([]table.Row{
					{"ID", l.ID},
					{"Company", l.CompanyName},
					{"Website", deref(l.Website)},
					{"Region", deref(l.Region)},
					{"Stage", l.Stage.Label()},
					{"Vetting", l.VettingStatus},
					{"Score", l.Score},
					{"Created", relative(l.CreatedAt)},
				})
				tw.Render()
				return nil
			})
		},
	}
}

func leadsCreateCmd() *cobra.Command {
	var website, region string
	cmd := &cobra.Command{
		Use:   "create <company-name>",
		Short: "Create a lead",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			in := domain.LeadCreate{CompanyName: args[0], Website: optionalString(website), Region: optionalString(region)}
			if err := in.Validate(); err != nil {
				return err
			}
			return withRemote(cmd.Context(), func(ctx context.Context, s *app.Session) error {
				l, err := s.Remote.CreateLead(ctx, in)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(l)
				}
				fmt.Printf("Created lead %d (%s)\n", l.ID, l.CompanyName)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&website, "website", "", "company website")
	cmd.Flags().StringVar(&region, "region", "", "region")
	return cmd
}

func leadsDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <lead-id>...",
		Short: "Delete leads",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ids := make([]int64, 0, len(args))
			for _, a := range args {
				id, err := parseID(a)
				if err != nil {
					return err
				}
				ids = append(ids, id)
			}
			return withSession(cmd.Context(), func(ctx context.Context, s *app.Session) error {
				if err := s.Engine.DeleteLeads(ctx, ids); err != nil {
					return err
				}
				fmt.Printf("Deleted %d lead(s)\n", len(ids))
				return nil
			})
		},
	}
}

func leadsClearCmd() *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Delete every lead",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !yes {
				return errors.New("refusing to delete every lead without --yes")
			}
			return withSession(cmd.Context(), func(ctx context.Context, s *app.Session) error {
				n, err := s.Engine.ClearLeads(ctx)
				if err != nil {
					return err
				}
				fmt.Printf("Deleted %d lead(s)\n", n)
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&yes, "yes", false, "confirm")
	return cmd
}

func agentsCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "agents", Short: "Run agents and inspect their history"}
	cmd.AddCommand(agentsListCmd())
	cmd.AddCommand(agentsRunCmd())
	cmd.AddCommand(agentsLogsCmd())
	cmd.AddCommand(agentsWatchCmd())
	return cmd
}

func agentsListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List agents with their latest run",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRemote(cmd.Context(), func(ctx context.Context, s *app.Session) error {
				if err := s.History.Refresh(ctx); err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(domain.Agents())
				}
				tw := newTable()
				tw.AppendHeader(table.Row{"Agent", "Name", "Last run", "Status", "Description"})
				for _, a := range domain.Agents() {
					last, status := "never", ""
					if r, ok := s.History.Latest(a.ID); ok {
						last, status = relative(r.StartTime), string(r.Status)
					}
					tw.AppendRow(table.Row{a.ID, a.Name, last, status, a.Description})
				}
				tw.Render()
				return nil
			})
		},
	}
}

func agentsRunCmd() *cobra.Command {
	var wait bool
	cmd := &cobra.Command{
		Use:   "run <agent>",
		Short: "Schedule an agent run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRemote(cmd.Context(), func(ctx context.Context, s *app.Session) error {
				res, err := s.Trigger.Execute(ctx, args[0], nil)
				if err != nil {
					return err
				}
				if wait {
					// let the settle window elapse so the refreshed history includes the new run
					select {
					case <-time.After(cfg.Agents.SettleDelay + 100*time.Millisecond):
					case <-ctx.Done():
						return ctx.Err()
					}
				}
				if viper.GetBool("json") {
					return printJSON(res)
				}
				fmt.Printf("Agent %s %s. %s\n", res.AgentName, res.Status, res.Message)
				if wait {
					if r, ok := s.History.Latest(args[0]); ok {
						fmt.Printf("Latest run #%d %s, started %s\n", r.ID, r.Status, relative(r.StartTime))
					}
				}
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&wait, "wait", false, "wait for the settle window and show the refreshed history")
	return cmd
}

func agentsLogsCmd() *cobra.Command {
	var agent string
	var limit int
	cmd := &cobra.Command{
		Use:   "logs",
		Short: "Show recent agent runs",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRemote(cmd.Context(), func(ctx context.Context, s *app.Session) error {
				runs, err := s.Remote.AgentLogs(ctx, domain.RunQuery{Limit: limit, AgentName: agent})
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(runs)
				}
				printRuns(runs)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&agent, "agent", "", "agent filter")
	cmd.Flags().IntVar(&limit, "limit", 20, "number of runs")
	return cmd
}

func agentsWatchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Poll agent history until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRemote(cmd.Context(), func(ctx context.Context, s *app.Session) error {
				unsub := s.History.Subscribe(func(runs []domain.AgentRun) {
					if viper.GetBool("json") {
						_ = json.NewEncoder(os.Stdout).Encode(runs)
						return
					}
					fmt.Printf("\n%s\n", time.Now().Format(time.TimeOnly))
					printRuns(runs)
				})
				defer unsub()
				if err := s.HistoryPoller.Start(ctx); err != nil {
					return err
				}
				<-ctx.Done()
				return nil
			})
		},
	}
}

func discoverCmd() *cobra.Command {
	var target int
	var wait bool
	cmd := &cobra.Command{
		Use:   "discover",
		Short: "Trigger bulk lead discovery",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !cmd.Flags().Changed("target") {
				target = cfg.Discovery.TargetCount
			}
			return withSession(cmd.Context(), func(ctx context.Context, s *app.Session) error {
				before := s.Cache.Len()
				if err := s.Engine.Discover(ctx, target); err != nil {
					return err
				}
				fmt.Println("Discovery started")
				if !wait {
					return nil
				}
				done := make(chan struct{})
				unsub := s.Cache.Subscribe(func(ev cache.Event) {
					if ev.Kind == cache.EventReloaded {
						select {
						case <-done:
						default:
							close(done)
						}
					}
				})
				defer unsub()
				select {
				case <-done:
				case <-ctx.Done():
					return ctx.Err()
				}
				fmt.Printf("Board reloaded: %d lead(s), %+d\n", s.Cache.Len(), s.Cache.Len()-before)
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&target, "target", 0, "number of leads to discover")
	cmd.Flags().BoolVar(&wait, "wait", false, "wait for the delayed board reload")
	return cmd
}

func statsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show pipeline figures",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd.Context(), func(ctx context.Context, s *app.Session) error {
				st := s.Board.Stats()
				if viper.GetBool("json") {
					return printJSON(st)
				}
				tw := newTable()
				tw.AppendRows([]table.Row{
					{"Total leads", humanize.Comma(int64(st.TotalLeads))},
					{"Approved", st.Approved},
					{"Rejected", st.Rejected},
					{"Pipeline value", "$" + humanize.Comma(int64(st.PipelineValue))},
					{"Conversion rate", strconv.FormatFloat(st.ConversionRate, 'f', 1, 64) + "%"},
				})
				for _, stage := range domain.Stages() {
					tw.AppendRow(table.Row{stage.Label(), st.ByStage[string(stage)]})
				}
				tw.Render()
				return nil
			})
		},
	}
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the dashboard HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			if addr == "" {
				addr = cfg.Server.Addr
			}
			if basePath == "" {
				basePath = cfg.Server.BasePath
			}
			secret := cfg.Server.JWTSecret
			if v := os.Getenv("LEADBOARD_JWT_SECRET"); v != "" {
				secret = v
			}
			workspace := viper.GetString("workspace")
			if _, err := db.EnsureWorkspace(workspace); err != nil {
				return err
			}
			ctx := cmd.Context()
			s, err := app.Open(ctx, app.Options{Workspace: workspace, Config: cfg, Journal: true})
			if err != nil {
				return err
			}
			defer s.Close()
			if err := s.Start(ctx); err != nil {
				fmt.Fprintln(os.Stderr, "warning:", err)
			}
			hooks, err := server.StartWebhooks(ctx, s.DB, cfg.Webhooks, 0, log.WithModule("webhooks"))
			if err != nil {
				return err
			}
			if hooks != nil {
				defer hooks.Stop()
			}
			handler, err := server.New(server.Config{
				Session:  s,
				BasePath: basePath,
				Auth:     server.AuthConfig{JWTSecret: secret},
				Logger:   log.WithModule("server"),
			})
			if err != nil {
				return err
			}
			srv := &http.Server{Addr: addr, Handler: handler, ReadHeaderTimeout: 10 * time.Second}
			go func() {
				<-ctx.Done()
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				srv.Shutdown(shutdownCtx)
			}()
			fmt.Printf("Serving Leadboard API on http://%s%s (OpenAPI at %s/openapi.json, Swagger UI at /docs)\n", addr, basePath, basePath)
			if secret == "" {
				fmt.Fprintln(os.Stderr, "warning: server.jwt_secret is empty, API is unauthenticated")
			}
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default from config)")
	cmd.Flags().StringVar(&basePath, "base-path", "", "API base path (default from config)")
	return cmd
}

func logCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "log", Short: "Inspect the local activity journal"}
	cmd.AddCommand(logTailCmd())
	return cmd
}

func logTailCmd() *cobra.Command {
	var n int
	var evtType string
	var leadID int64
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Tail journal events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withJournal(cmd.Context(), func(ctx context.Context, conn *sql.DB) error {
				evts, err := events.Tail(ctx, conn, events.Query{Limit: n, Type: evtType, LeadID: leadID})
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(evts)
				}
				tw := newTable()
				tw.AppendHeader(table.Row{"ID", "When", "Type", "Lead", "Ref", "Payload"})
				for _, e := range evts {
					lead := ""
					if e.LeadID != nil {
						lead = strconv.FormatInt(*e.LeadID, 10)
					}
					payload, _ := json.Marshal(e.Payload)
					tw.AppendRow(table.Row{e.ID, relative(e.TS), e.Type, lead, e.Ref, string(payload)})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&n, "n", 20, "number of events")
	cmd.Flags().StringVar(&evtType, "type", "", "event type filter")
	cmd.Flags().Int64Var(&leadID, "lead", 0, "lead id filter")
	return cmd
}

func configCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "config", Short: "Manage leadboard.yml"}
	cmd.AddCommand(&cobra.Command{
		Use:   "init",
		Short: "Write a default leadboard.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			p := config.Path(viper.GetString("workspace"))
			if _, err := os.Stat(p); err == nil {
				return fmt.Errorf("%s already exists", p)
			}
			if err := os.WriteFile(p, []byte(config.GenerateDefault()), 0o644); err != nil {
				return err
			}
			fmt.Println("Wrote", p)
			return nil
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
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
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "validate",
		Short: "Validate leadboard.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := config.Load(viper.GetString("workspace")); err != nil {
				return err
			}
			fmt.Println("config ok")
			return nil
		},
	})
	return cmd
}

func tokenCmd() *cobra.Command {
	var subject string
	var scopes []string
	var ttl time.Duration
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a bearer token for the dashboard API",
		RunE: func(cmd *cobra.Command, args []string) error {
			secret := cfg.Server.JWTSecret
			if v := os.Getenv("LEADBOARD_JWT_SECRET"); v != "" {
				secret = v
			}
			if secret == "" {
				return errors.New("server.jwt_secret or LEADBOARD_JWT_SECRET is required")
			}
			claims := jwt.RegisteredClaims{IssuedAt: jwt.NewNumericDate(time.Now())}
			if ttl > 0 {
				claims.ExpiresAt = jwt.NewNumericDate(time.Now().Add(ttl))
			}
			token, err := server.IssueToken(secret, subject, scopes, claims)
			if err != nil {
				return err
			}
			fmt.Println(token)
			return nil
		},
	}
	cmd.Flags().StringVar(&subject, "subject", "operator", "token subject")
	cmd.Flags().StringSliceVar(&scopes, "scope", nil, "token scopes")
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime (0 for none)")
	return cmd
}

// --- helpers ---

// withSession opens a session, loads the cache and waits for in-flight work before closing.
func withSession(ctx context.Context, fn func(context.Context, *app.Session) error) error {
	return openSession(ctx, func(ctx context.Context, s *app.Session) error {
		if err := s.Load(ctx); err != nil {
			return err
		}
		if err := fn(ctx, s); err != nil {
			return err
		}
		drainCtx, cancel := context.WithTimeout(ctx, cfg.API.Timeout+cfg.Discovery.ReloadDelay+time.Second)
		defer cancel()
		return s.Engine.Drain(drainCtx)
	})
}

// withRemote opens a session without loading leads.
func withRemote(ctx context.Context, fn func(context.Context, *app.Session) error) error {
	return openSession(ctx, fn)
}

func withJournal(ctx context.Context, fn func(context.Context, *sql.DB) error) error {
	workspace := viper.GetString("workspace")
	if _, err := os.Stat(db.Path(workspace)); err != nil {
		return fmt.Errorf("no journal in %s: %w", workspace, err)
	}
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.MigrateContext(ctx, conn); err != nil {
		return err
	}
	return fn(ctx, conn)
}

func openSession(ctx context.Context, fn func(context.Context, *app.Session) error) error {
	workspace := viper.GetString("workspace")
	if _, err := db.EnsureWorkspace(workspace); err != nil {
		return err
	}
	s, err := app.Open(ctx, app.Options{Workspace: workspace, Config: cfg, Journal: true})
	if err != nil {
		return err
	}
	defer s.Close()
	return fn(ctx, s)
}

func newTable() table.Writer {
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	return tw
}

func printBoard(b board.Board) {
	tw := newTable()
	header := table.Row{}
	longest := 0
	for _, col := range b.Columns {
		header = append(header, fmt.Sprintf("%s (%d)", col.Label, col.Count()))
		longest = max(longest, len(col.Leads))
	}
	tw.AppendHeader(header)
	for i := 0; i < longest; i++ {
		row := table.Row{}
		for _, col := range b.Columns {
			if i < len(col.Leads) {
				l := col.Leads[i]
				row = append(row, fmt.Sprintf("#%d %s", l.ID, l.CompanyName))
			} else {
				row = append(row, "")
			}
		}
		tw.AppendRow(row)
	}
	tw.Render()
	if len(b.Unassigned) > 0 {
		fmt.Printf("%d lead(s) in unknown stages: %v\n", len(b.Unassigned), b.Unassigned)
	}
}

func printRuns(runs []domain.AgentRun) {
	tw := newTable()
	tw.AppendHeader(table.Row{"ID", "Agent", "Status", "Started", "Duration", "Leads", "Error"})
	for _, r := range runs {
		dur := "running"
		if d, ok := r.Duration(); ok {
			dur = d.Round(time.Second).String()
		}
		tw.AppendRow(table.Row{r.ID, r.AgentName, r.Status, relative(r.StartTime), dur, humanize.Comma(int64(r.LeadsProcessed)), deref(r.ErrorMessage)})
	}
	tw.Render()
}

func relative(ts string) string {
	if ts == "" {
		return ""
	}
	t, err := domain.ParseTimestamp(ts)
	if err != nil {
		return ts
	}
	return humanize.Time(t)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func parseID(v string) (int64, error) {
	id, err := strconv.ParseInt(v, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid lead id %q", v)
	}
	return id, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func optionalString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
