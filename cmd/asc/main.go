package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"ascent/internal/app"
	"ascent/internal/catalog"
	"ascent/internal/config"
	"ascent/internal/db"
	"ascent/internal/domain"
	"ascent/internal/engine"
	"ascent/internal/events"
	"ascent/internal/logger"
	"ascent/internal/migrate"
	"ascent/internal/repo"
	"ascent/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "asc",
	Short: "Ascent CLI",
	Long: `Ascent tracks an organization's progression through AI capability milestones.
Core concepts:
- Workspace: the .ascent directory holding the database; the milestone catalog
  lives in ascent.yml next to it (asc catalog export generates the default).
- Organization: owns one progression record per milestone type. Records start
  locked and unlock as prerequisite milestones are achieved.
- Attempt: a weighted trial against the achievement probability; resources
  declared on the attempt are recorded as invested whatever the outcome.
- Risk: the capability-alignment gap scaled by complexity; watch for high and
  critical levels before attempting frontier milestones.
- Challenge: a safety-versus-capability trade-off; resolve with safety,
  capability, or defer.
- Event log: diary of everything that happened, view with 'asc log tail'.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		workspace := viper.GetString("workspace")
		if _, err := db.EnsureWorkspace(workspace); err != nil {
			return err
		}
		return nil
	},
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	if err := rootCmd.Execute(); err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("ASCENT")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("actor-id", "local-user", "actor identifier")
	rootCmd.PersistentFlags().String("org", "", "organization id (defaults to the only org)")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("actor-id", rootCmd.PersistentFlags().Lookup("actor-id"))
	_ = viper.BindPFlag("org", rootCmd.PersistentFlags().Lookup("org"))
}

func registerCommands() {
	rootCmd.AddCommand(orgCmd())
	rootCmd.AddCommand(milestoneCmd())
	rootCmd.AddCommand(challengeCmd())
	rootCmd.AddCommand(catalogCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(serveCmd())
}

func orgCmd() *cobra.Command {
	org := &cobra.Command{Use: "org", Short: "Manage organizations"}
	org.AddCommand(orgCreateCmd())
	org.AddCommand(orgListCmd())
	org.AddCommand(orgShowCmd())
	return org
}

func orgCreateCmd() *cobra.Command {
	var id, name, stance string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create organization with seeded milestone records",
		RunE: func(cmd *cobra.Command, args []string) error {
			if id == "" {
				return fmt.Errorf("--id required")
			}
			s := domain.AlignmentStance(stance)
			switch s {
			case domain.StanceSafetyFirst, domain.StanceBalanced, domain.StanceCapabilityFirst:
			default:
				return fmt.Errorf("invalid --stance %q", stance)
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				o, err := e.InitOrganization(ctx, id, name, s, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(o)
			})
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "organization id")
	cmd.Flags().StringVar(&name, "name", "", "organization name")
	cmd.Flags().StringVar(&stance, "stance", string(domain.StanceBalanced), "safety_first|balanced|capability_first")
	return cmd
}

func orgListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List organizations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.Repo.ListOrgs(ctx)
				if err != nil {
					return err
				}
				return printJSONOrTable(items)
			})
		},
	}
}

func orgShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show the active organization and its progression summary",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withOrg(cmd.Context(), func(ctx context.Context, e engine.Engine, org domain.Organization) error {
				counts, err := e.Repo.CountRecordsByStatus(ctx, org.ID)
				if err != nil {
					return err
				}
				return printJSONOrTable(map[string]any{
					"org":              org,
					"milestone_counts": counts,
				})
			})
		},
	}
}

func milestoneCmd() *cobra.Command {
	m := &cobra.Command{Use: "milestone", Short: "Milestone progression"}
	m.AddCommand(milestoneListCmd())
	m.AddCommand(milestoneShowCmd())
	m.AddCommand(milestoneCheckCmd())
	m.AddCommand(milestoneProbabilityCmd())
	m.AddCommand(milestoneRiskCmd())
	m.AddCommand(milestoneImpactCmd())
	m.AddCommand(milestoneAttemptCmd())
	return m
}

func milestoneArg(args []string) (domain.MilestoneType, error) {
	if len(args) != 1 {
		return "", fmt.Errorf("milestone type argument required")
	}
	if !domain.ValidMilestoneType(args[0]) {
		return "", fmt.Errorf("unknown milestone type %s", args[0])
	}
	return domain.MilestoneType(args[0]), nil
}

func milestoneListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List progression records",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withOrg(cmd.Context(), func(ctx context.Context, e engine.Engine, org domain.Organization) error {
				items, err := e.ListRecords(ctx, org.ID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Milestone", "Status", "Attempts", "Research", "Compute", "Months"})
				for _, r := range items {
					tw.AppendRow(table.Row{
						r.MilestoneType, r.Status, r.AttemptCount,
						fmt.Sprintf("%.0f", r.ResearchPointsInvested),
						fmt.Sprintf("%.0f", r.ComputeBudgetSpent),
						fmt.Sprintf("%.1f", r.MonthsInProgress),
					})
				}
				tw.Render()
				return nil
			})
		},
	}
}

func milestoneShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <type>",
		Short: "Show one progression record",
		RunE: func(cmd *cobra.Command, args []string) error {
			t, err := milestoneArg(args)
			if err != nil {
				return err
			}
			return withOrg(cmd.Context(), func(ctx context.Context, e engine.Engine, org domain.Organization) error {
				rec, err := e.GetRecord(ctx, org.ID, t)
				if err != nil {
					return err
				}
				return printJSONOrTable(rec)
			})
		},
	}
}

func milestoneCheckCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check <type>",
		Short: "Check the attempt gate",
		RunE: func(cmd *cobra.Command, args []string) error {
			t, err := milestoneArg(args)
			if err != nil {
				return err
			}
			return withOrg(cmd.Context(), func(ctx context.Context, e engine.Engine, org domain.Organization) error {
				res, err := e.CheckPrerequisites(ctx, org.ID, t)
				if err != nil {
					return err
				}
				return printJSONOrTable(res)
			})
		},
	}
}

func milestoneProbabilityCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "probability <type>",
		Short: "Show the achievement probability breakdown",
		RunE: func(cmd *cobra.Command, args []string) error {
			t, err := milestoneArg(args)
			if err != nil {
				return err
			}
			return withOrg(cmd.Context(), func(ctx context.Context, e engine.Engine, org domain.Organization) error {
				b, err := e.Probability(ctx, org.ID, t)
				if err != nil {
					return err
				}
				return printJSONOrTable(b)
			})
		},
	}
}

func milestoneRiskCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "risk <type>",
		Short: "Evaluate capability-alignment risk",
		RunE: func(cmd *cobra.Command, args []string) error {
			t, err := milestoneArg(args)
			if err != nil {
				return err
			}
			return withOrg(cmd.Context(), func(ctx context.Context, e engine.Engine, org domain.Organization) error {
				r, err := e.Risk(ctx, org.ID, t)
				if err != nil {
					return err
				}
				return printJSONOrTable(r)
			})
		},
	}
}

func milestoneImpactCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "impact <type>",
		Short: "Score the milestone's projected impact",
		RunE: func(cmd *cobra.Command, args []string) error {
			t, err := milestoneArg(args)
			if err != nil {
				return err
			}
			return withOrg(cmd.Context(), func(ctx context.Context, e engine.Engine, org domain.Organization) error {
				r, err := e.Impact(ctx, org.ID, t)
				if err != nil {
					return err
				}
				return printJSONOrTable(r)
			})
		},
	}
}

func milestoneAttemptCmd() *cobra.Command {
	var research, compute float64
	cmd := &cobra.Command{
		Use:   "attempt <type>",
		Short: "Run an achievement trial",
		RunE: func(cmd *cobra.Command, args []string) error {
			t, err := milestoneArg(args)
			if err != nil {
				return err
			}
			return withOrg(cmd.Context(), func(ctx context.Context, e engine.Engine, org domain.Organization) error {
				res, err := e.AttemptAchievement(ctx, engine.AttemptOptions{
					OrgID:          org.ID,
					MilestoneType:  t,
					ResearchPoints: research,
					ComputeBudget:  compute,
					ActorID:        viper.GetString("actor-id"),
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(res)
			})
		},
	}
	cmd.Flags().Float64Var(&research, "research-points", 0, "research points to invest")
	cmd.Flags().Float64Var(&compute, "compute", 0, "compute budget to spend")
	return cmd
}

func challengeCmd() *cobra.Command {
	c := &cobra.Command{Use: "challenge", Short: "Alignment challenges"}
	c.AddCommand(challengePresentCmd())
	c.AddCommand(challengeResolveCmd())
	c.AddCommand(challengeListCmd())
	return c
}

func challengePresentCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "present <type>",
		Short: "Present a safety-versus-capability trade-off",
		RunE: func(cmd *cobra.Command, args []string) error {
			t, err := milestoneArg(args)
			if err != nil {
				return err
			}
			return withOrg(cmd.Context(), func(ctx context.Context, e engine.Engine, org domain.Organization) error {
				ch, err := e.PresentChallenge(ctx, org.ID, t, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(ch)
			})
		},
	}
}

func challengeResolveCmd() *cobra.Command {
	var id, choice string
	cmd := &cobra.Command{
		Use:   "resolve <type>",
		Short: "Resolve a presented challenge",
		RunE: func(cmd *cobra.Command, args []string) error {
			t, err := milestoneArg(args)
			if err != nil {
				return err
			}
			if id == "" {
				return fmt.Errorf("--id required")
			}
			return withOrg(cmd.Context(), func(ctx context.Context, e engine.Engine, org domain.Organization) error {
				rec, err := e.ResolveChallenge(ctx, org.ID, t, id, choice, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(rec)
			})
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "challenge id")
	cmd.Flags().StringVar(&choice, "choice", "", "safety|capability|defer")
	return cmd
}

func challengeListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list <type>",
		Short: "List challenges for a milestone",
		RunE: func(cmd *cobra.Command, args []string) error {
			t, err := milestoneArg(args)
			if err != nil {
				return err
			}
			return withOrg(cmd.Context(), func(ctx context.Context, e engine.Engine, org domain.Organization) error {
				items, err := e.ListChallenges(ctx, org.ID, t)
				if err != nil {
					return err
				}
				return printJSONOrTable(items)
			})
		},
	}
}

func catalogCmd() *cobra.Command {
	c := &cobra.Command{Use: "catalog", Short: "Milestone catalog"}
	c.AddCommand(catalogShowCmd())
	c.AddCommand(catalogExportCmd())
	return c
}

func catalogShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show the active milestone catalog",
		RunE: func(cmd *cobra.Command, args []string) error {
			cat, err := loadCatalog(viper.GetString("workspace"))
			if err != nil {
				return err
			}
			entries := cat.Entries()
			if viper.GetBool("json") {
				return printJSON(entries)
			}
			tw := table.NewWriter()
			tw.SetOutputMirror(os.Stdout)
			tw.AppendHeader(table.Row{"Milestone", "Complexity", "Research", "Compute", "Months", "Prerequisites"})
			for _, e := range entries {
				prereqs := make([]string, len(e.Requirements.Prerequisites))
				for i, p := range e.Requirements.Prerequisites {
					prereqs[i] = string(p)
				}
				tw.AppendRow(table.Row{
					e.Type, e.Complexity,
					fmt.Sprintf("%.0f", e.Requirements.ResearchPointsCost),
					fmt.Sprintf("%.0f", e.Requirements.ComputeBudgetRequired),
					fmt.Sprintf("%.0f", e.Requirements.EstimatedMonths),
					strings.Join(prereqs, ", "),
				})
			}
			tw.Render()
			return nil
		},
	}
}

func catalogExportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "export",
		Short: "Write the default catalog to ascent.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.Path(viper.GetString("workspace"))
			if _, err := os.Stat(path); err == nil {
				return fmt.Errorf("%s already exists", path)
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault()), 0o644); err != nil {
				return err
			}
			fmt.Println("wrote", path)
			return nil
		},
	}
}

func logCmd() *cobra.Command {
	log := &cobra.Command{
		Use:   "log",
		Short: "Event log",
	}
	log.AddCommand(logTailCmd())
	return log
}

func logTailCmd() *cobra.Command {
	var n int
	var evtType, milestone string
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Tail events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withOrg(cmd.Context(), func(ctx context.Context, e engine.Engine, org domain.Organization) error {
				items, err := e.Repo.LatestEvents(ctx, repo.EventFilters{
					OrgID:         org.ID,
					Type:          evtType,
					MilestoneType: milestone,
					Limit:         n,
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(items)
			})
		},
	}
	cmd.Flags().IntVar(&n, "n", 20, "number of events")
	cmd.Flags().StringVar(&evtType, "type", "", "event type filter")
	cmd.Flags().StringVar(&milestone, "milestone", "", "milestone type filter")
	return cmd
}

func serveCmd() *cobra.Command {
	var addr, basePath, logMode string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			if _, err := db.EnsureWorkspace(workspace); err != nil {
				return err
			}
			conn, err := db.Open(db.Config{Workspace: workspace})
			if err != nil {
				return err
			}
			defer conn.Close()
			if err := migrate.Migrate(conn); err != nil {
				return err
			}
			cat, err := loadCatalog(workspace)
			if err != nil {
				return err
			}
			log, err := logger.New(logMode)
			if err != nil {
				return err
			}
			defer log.Sync()
			e := engine.New(conn, cat)
			if redisAddr := os.Getenv("ASCENT_REDIS_ADDR"); redisAddr != "" {
				pub := events.NewRedisPublisher(redisAddr, os.Getenv("ASCENT_REDIS_STREAM"), log)
				defer pub.Close()
				e.Events.Publisher = pub
			}
			handler, err := server.New(server.Config{
				Engine:   e,
				BasePath: basePath,
				Auth:     server.AuthConfig{JWTSecret: os.Getenv("ASCENT_JWT_SECRET")},
				Log:      log,
			})
			if err != nil {
				return err
			}
			srv := &http.Server{Addr: addr, Handler: handler}
			go func() {
				<-cmd.Context().Done()
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				srv.Shutdown(ctx)
			}()
			log.Infow("serving", "addr", addr, "base_path", basePath)
			fmt.Printf("Serving Ascent API on http://%s%s (OpenAPI at /openapi.json, Swagger UI at /docs)\n", addr, basePath)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v0", "API base path")
	cmd.Flags().StringVar(&logMode, "log-mode", "production", "zap mode: production|development")
	return cmd
}

// --- helpers ---

func loadCatalog(workspace string) (*catalog.Catalog, error) {
	path := config.Path(workspace)
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return catalog.Compile(config.Default())
	}
	cfg, err := config.FromFile(path)
	if err != nil {
		return nil, err
	}
	return catalog.Compile(cfg)
}

func withEngine(ctx context.Context, fn func(context.Context, engine.Engine) error) error {
	workspace := viper.GetString("workspace")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		return err
	}
	cat, err := loadCatalog(workspace)
	if err != nil {
		return err
	}
	return fn(ctx, engine.New(conn, cat))
}

func withOrg(ctx context.Context, fn func(context.Context, engine.Engine, domain.Organization) error) error {
	return withEngine(ctx, func(ctx context.Context, e engine.Engine) error {
		org, err := app.ResolveOrg(ctx, e, viper.GetString("org"), viper.GetString("actor-id"))
		if err != nil {
			return err
		}
		return fn(ctx, e, org)
	})
}

func printJSONOrTable(v any) error {
	if viper.GetBool("json") {
		return printJSON(v)
	}
	b, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(b))
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
