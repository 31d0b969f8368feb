package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gofrs/flock"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"

	"voicetrack/internal/app"
	"voicetrack/internal/config"
	"voicetrack/internal/db"
	"voicetrack/internal/domain"
	"voicetrack/internal/engine"
	"voicetrack/internal/repo"
	"voicetrack/internal/server"
	"voicetrack/internal/tracker"
	"voicetrack/internal/webhooks"
)

var rootCmd = &cobra.Command{
	Use:   "vt",
	Short: "Voicetrack CLI",
	Long: `Voicetrack tracks voice-over projects through approval stages.
- Project: one production, seeded from a workflow template (voicetrack.yml or the built-in four stages).
- Stage: an ordered group of tasks; its status and progress are derived from the tasks.
- Task: approved, not_approved, needs_revision or in_progress. A task opens only once every earlier task in its stage is approved.
- Project data: free-form JSON values keyed per project.
- Event log: every change, view with 'vt log tail'.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(exitCode(err))
	}
}

func initConfig() {
	viper.SetEnvPrefix("VOICETRACK")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", "", "workspace directory (default from settings, else .)")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("actor-id", "local-user", "actor identifier recorded on events")
	rootCmd.PersistentFlags().String("project", "", "project id (defaults to the only project in the workspace)")
	rootCmd.PersistentFlags().String("config", "", "settings file (default <workspace>/voicetrack.toml)")
	rootCmd.PersistentFlags().String("log-level", "", "log level override (debug, info, warn, error)")
	for _, name := range []string{"workspace", "json", "actor-id", "project", "config", "log-level"} {
		_ = viper.BindPFlag(name, rootCmd.PersistentFlags().Lookup(name))
	}
}

func registerCommands() {
	rootCmd.AddCommand(projectCmd())
	rootCmd.AddCommand(stageCmd())
	rootCmd.AddCommand(taskCmd())
	rootCmd.AddCommand(dataCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(serveCmd())
}

func projectCmd() *cobra.Command {
	prj := &cobra.Command{Use: "project", Short: "Manage projects"}
	prj.AddCommand(projectCreateCmd())
	prj.AddCommand(projectListCmd())
	prj.AddCommand(projectShowCmd())
	prj.AddCommand(projectUpdateCmd())
	prj.AddCommand(projectDeleteCmd())
	return prj
}

func projectCreateCmd() *cobra.Command {
	var id, name, template string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a project from the workflow template",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				cfg, err := app.WorkflowConfig(rt.Settings.Workspace, template)
				if err != nil {
					return err
				}
				p, err := rt.Engine.CreateProject(ctx, engine.ProjectCreateOptions{
					ID:      id,
					Name:    name,
					Config:  cfg,
					ActorID: viper.GetString("actor-id"),
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(p)
			})
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "project id (generated when empty)")
	cmd.Flags().StringVar(&name, "name", "", "project name (defaults to project.name from the template)")
	cmd.Flags().StringVar(&template, "template", "", "workflow YAML (default <workspace>/voicetrack.yml, else built-in)")
	return cmd
}

func projectListCmd() *cobra.Command {
	var status string
	var limit int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List projects",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				items, err := rt.Engine.ListProjects(ctx, repo.ProjectFilters{Status: domain.ProjectStatus(status), Limit: limit})
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := newTable()
				tw.AppendHeader(table.Row{"ID", "Name", "Status", "Created"})
				for _, p := range items {
					tw.AppendRow(table.Row{p.ID, p.Name, p.Status, p.CreatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "filter by status (active, completed, archived)")
	cmd.Flags().IntVar(&limit, "limit", 50, "max projects")
	return cmd
}

func projectShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show a project and its summary",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withProject(cmd.Context(), func(ctx context.Context, rt *app.Runtime, projectID string) error {
				p, err := rt.Engine.GetProject(ctx, projectID)
				if err != nil {
					return err
				}
				sum, err := rt.Engine.ProjectSummary(ctx, projectID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{"project": p, "summary": sum})
				}
				fmt.Printf("%s (%s) [%s]\n", p.Name, p.ID, p.Status)
				fmt.Printf("progress %d%% (%d/%d approved)", sum.OverallProgress, sum.ApprovedTasks, sum.TotalTasks)
				if sum.CurrentStageID != "" {
					fmt.Printf(", current stage %s", sum.CurrentStageID)
				}
				fmt.Println()
				return nil
			})
		},
	}
	return cmd
}

func projectUpdateCmd() *cobra.Command {
	var name, status string
	cmd := &cobra.Command{
		Use:   "update",
		Short: "Rename a project or change its status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withProject(cmd.Context(), func(ctx context.Context, rt *app.Runtime, projectID string) error {
				opts := engine.ProjectUpdateOptions{ID: projectID, Status: status, ActorID: viper.GetString("actor-id")}
				if cmd.Flags().Changed("name") {
					opts.Name = &name
				}
				p, err := rt.Engine.UpdateProject(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(p)
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "new name")
	cmd.Flags().StringVar(&status, "status", "", "status (active, completed, archived)")
	return cmd
}

func projectDeleteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete",
		Short: "Delete a project with its stages, tasks and data",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withProject(cmd.Context(), func(ctx context.Context, rt *app.Runtime, projectID string) error {
				if err := rt.Engine.DeleteProject(ctx, projectID, viper.GetString("actor-id")); err != nil {
					return err
				}
				if !viper.GetBool("json") {
					fmt.Printf("deleted %s\n", projectID)
					return nil
				}
				return printJSON(map[string]string{"deleted": projectID})
			})
		},
	}
	return cmd
}

func stageCmd() *cobra.Command {
	st := &cobra.Command{Use: "stage", Short: "Inspect stages"}
	st.AddCommand(stageListCmd())
	return st
}

func stageListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List stages with derived status and progress",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withProject(cmd.Context(), func(ctx context.Context, rt *app.Runtime, projectID string) error {
				stages, err := rt.Engine.LoadStages(ctx, projectID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(stages)
				}
				printStages(stages)
				return nil
			})
		},
	}
	return cmd
}

func taskCmd() *cobra.Command {
	t := &cobra.Command{Use: "task", Short: "Review tasks"}
	t.AddCommand(taskStatusCmd())
	t.AddCommand(taskGateCmd())
	return t
}

func taskStatusCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "status <stage-id> <task-id> <status>",
		Short: "Set a task status",
		Long:  "Statuses: approved, not_approved, needs_revision, in_progress. The legacy names disapproved, rejected, pending and revision are accepted.",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withProject(cmd.Context(), func(ctx context.Context, rt *app.Runtime, projectID string) error {
				t, err := rt.Engine.UpdateTaskStatus(ctx, engine.TaskStatusOptions{
					ProjectID: projectID,
					StageID:   args[0],
					TaskID:    args[1],
					Status:    args[2],
					ActorID:   viper.GetString("actor-id"),
					Force:     force,
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "bypass the gate when the project allows overrides")
	return cmd
}

func taskGateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "gate <stage-id> <task-id>",
		Short: "Show whether a task is open and what blocks it",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withProject(cmd.Context(), func(ctx context.Context, rt *app.Runtime, projectID string) error {
				gate, err := rt.Engine.CanInteract(ctx, projectID, args[0], args[1])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(gate)
				}
				if gate.Allowed {
					fmt.Printf("%s/%s is open\n", args[0], args[1])
					return nil
				}
				fmt.Printf("%s/%s is waiting on:\n", args[0], args[1])
				for _, b := range gate.Blocking {
					fmt.Printf("  %d. %s (%s) [%s]\n", b.Order, b.Title, b.ID, b.Status)
				}
				return nil
			})
		},
	}
	return cmd
}

func dataCmd() *cobra.Command {
	d := &cobra.Command{Use: "data", Short: "Manage project data values"}
	d.AddCommand(dataSetCmd())
	d.AddCommand(dataGetCmd())
	d.AddCommand(dataListCmd())
	d.AddCommand(dataDeleteCmd())
	return d
}

func dataSetCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "set <key> <json>",
		Short: "Store a JSON value under key",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withProject(cmd.Context(), func(ctx context.Context, rt *app.Runtime, projectID string) error {
				d, err := rt.Engine.SetProjectData(ctx, engine.DataSetOptions{
					ProjectID: projectID,
					Key:       args[0],
					Value:     json.RawMessage(args[1]),
					ActorID:   viper.GetString("actor-id"),
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(d)
			})
		},
	}
	return cmd
}

func dataGetCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "get <key>",
		Short: "Print the value stored under key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withProject(cmd.Context(), func(ctx context.Context, rt *app.Runtime, projectID string) error {
				d, err := rt.Engine.GetProjectData(ctx, projectID, args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(d)
				}
				fmt.Println(d.Value)
				return nil
			})
		},
	}
	return cmd
}

func dataListCmd() *cobra.Command {
	var prefix string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List data keys",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withProject(cmd.Context(), func(ctx context.Context, rt *app.Runtime, projectID string) error {
				items, err := rt.Engine.ListProjectData(ctx, projectID, prefix)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := newTable()
				tw.AppendHeader(table.Row{"Key", "Value", "Updated"})
				for _, d := range items {
					tw.AppendRow(table.Row{d.Key, truncate(d.Value, 60), d.UpdatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&prefix, "prefix", "", "only keys with this prefix")
	return cmd
}

func dataDeleteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete <key>",
		Short: "Delete the value stored under key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withProject(cmd.Context(), func(ctx context.Context, rt *app.Runtime, projectID string) error {
				return rt.Engine.DeleteProjectData(ctx, projectID, args[0], viper.GetString("actor-id"))
			})
		},
	}
	return cmd
}

func logCmd() *cobra.Command {
	l := &cobra.Command{Use: "log", Short: "Read the event log"}
	l.AddCommand(logTailCmd())
	return l
}

func logTailCmd() *cobra.Command {
	var n int
	var evtType, entityKind, entityID string
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Show the latest events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withProject(cmd.Context(), func(ctx context.Context, rt *app.Runtime, projectID string) error {
				evts, err := rt.Engine.Repo.LatestEvents(ctx, repo.EventFilters{
					ProjectID:  projectID,
					Type:       evtType,
					EntityKind: entityKind,
					EntityID:   entityID,
					Limit:      n,
				})
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(evts)
				}
				tw := newTable()
				tw.AppendHeader(table.Row{"ID", "Time", "Type", "Entity", "Actor"})
				for _, evt := range evts {
					tw.AppendRow(table.Row{evt.ID, evt.TS, evt.Type, evt.EntityKind + ":" + evt.EntityID, evt.ActorID})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&n, "n", 20, "number of events")
	cmd.Flags().StringVar(&evtType, "type", "", "event type filter")
	cmd.Flags().StringVar(&entityKind, "entity-kind", "", "entity kind (project, task, project_data)")
	cmd.Flags().StringVar(&entityID, "entity-id", "", "entity id")
	return cmd
}

func configCmd() *cobra.Command {
	cfg := &cobra.Command{
		Use:   "config",
		Short: "Inspect settings and workflow config",
		Long:  "Settings (voicetrack.toml) configure the binary. The workflow (voicetrack.yml) is the stage template copied into each new project.",
	}
	cfg.AddCommand(configShowCmd())
	cfg.AddCommand(configValidateCmd())
	return cfg
}

func configShowCmd() *cobra.Command {
	var showDefault, showSettings bool
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show the project workflow config",
		RunE: func(cmd *cobra.Command, args []string) error {
			if showSettings {
				if showDefault {
					out, err := config.SampleSettings()
					if err != nil {
						return err
					}
					fmt.Print(out)
					return nil
				}
				settings, _, err := app.LoadSettings(runtimeOptions())
				if err != nil {
					return err
				}
				return printJSONOrTable(settings)
			}
			if showDefault {
				return printConfig(config.Default())
			}
			return withProject(cmd.Context(), func(ctx context.Context, rt *app.Runtime, projectID string) error {
				cfg, err := rt.Engine.ProjectConfig(ctx, projectID)
				if err != nil {
					return err
				}
				return printConfig(cfg)
			})
		},
	}
	cmd.Flags().BoolVar(&showDefault, "default", false, "print the built-in template instead")
	cmd.Flags().BoolVar(&showSettings, "settings", false, "show runtime settings instead of the workflow")
	return cmd
}

func configValidateCmd() *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate settings and the workflow template",
		RunE: func(cmd *cobra.Command, args []string) error {
			settings, _, err := app.LoadSettings(runtimeOptions())
			if err == nil {
				_, err = app.WorkflowConfig(settings.Workspace, file)
			}
			if viper.GetBool("json") {
				out := map[string]any{"ok": err == nil}
				if err != nil {
					out["error"] = err.Error()
				}
				return printJSON(out)
			}
			if err != nil {
				return err
			}
			fmt.Println("config OK")
			return nil
		},
	}
	cmd.Flags().StringVar(&file, "file", "", "workflow YAML to validate (default <workspace>/voicetrack.yml)")
	return cmd
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API and webhook dispatcher",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return withRuntime(ctx, func(ctx context.Context, rt *app.Runtime) error {
				lock := flock.New(db.LockPath(rt.Settings.Workspace))
				locked, err := lock.TryLock()
				if err != nil {
					return fmt.Errorf("lock workspace: %w", err)
				}
				if !locked {
					return fmt.Errorf("another vt serve is running on %s", rt.Settings.Workspace)
				}
				defer lock.Unlock()

				if !cmd.Flags().Changed("addr") {
					addr = rt.Settings.Server.Addr
				}
				if !cmd.Flags().Changed("base-path") {
					basePath = rt.Settings.Server.BasePath
				}
				handler, err := server.New(server.Config{Engine: rt.Engine, BasePath: basePath, Logger: rt.Logger})
				if err != nil {
					return err
				}
				srv := &http.Server{Addr: addr, Handler: handler, ReadHeaderTimeout: 10 * time.Second}
				dispatcher := webhooks.New(rt.Engine.Repo, webhooks.Options{
					Interval:  rt.Settings.Webhooks.PollInterval(),
					Timeout:   rt.Settings.Webhooks.Timeout(),
					BatchSize: rt.Settings.Webhooks.BatchSize,
					Logger:    rt.Logger,
				})

				g, gctx := errgroup.WithContext(ctx)
				g.Go(func() error {
					rt.Logger.Info("serving voicetrack api",
						slog.String("addr", addr),
						slog.String("base_path", basePath),
						slog.String("workspace", rt.Settings.Workspace))
					if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
						return err
					}
					return nil
				})
				g.Go(func() error {
					return dispatcher.Run(gctx)
				})
				g.Go(func() error {
					<-gctx.Done()
					shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					return srv.Shutdown(shutdownCtx)
				})
				err = g.Wait()
				rt.Logger.Info("voicetrack api stopped")
				return err
			})
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address (default from settings)")
	cmd.Flags().StringVar(&basePath, "base-path", "/v1", "API base path (default from settings)")
	return cmd
}

// --- helpers ---

func runtimeOptions() app.Options {
	return app.Options{
		Workspace:    viper.GetString("workspace"),
		SettingsPath: viper.GetString("config"),
		LogLevel:     viper.GetString("log-level"),
	}
}

func withRuntime(ctx context.Context, fn func(context.Context, *app.Runtime) error) error {
	if ctx == nil {
		ctx = context.Background()
	}
	rt, err := app.Open(ctx, runtimeOptions())
	if err != nil {
		return err
	}
	defer rt.Close()
	return fn(ctx, rt)
}

func withProject(ctx context.Context, fn func(context.Context, *app.Runtime, string) error) error {
	return withRuntime(ctx, func(ctx context.Context, rt *app.Runtime) error {
		projectID, err := app.ResolveProject(ctx, rt.Engine.Repo, viper.GetString("project"))
		if err != nil {
			return err
		}
		return fn(ctx, rt, projectID)
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

func printConfig(cfg *config.Config) error {
	if viper.GetBool("json") {
		return printJSON(cfg)
	}
	out, err := cfg.YAML()
	if err != nil {
		return err
	}
	fmt.Print(out)
	return nil
}

func newTable() table.Writer {
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.SetStyle(table.StyleLight)
	return tw
}

func printStages(stages []domain.Stage) {
	tw := newTable()
	tw.AppendHeader(table.Row{"#", "Stage", "Status", "Progress", "Task", "Task status", "Open"})
	for _, st := range stages {
		for i, t := range st.Tasks {
			stageCell, statusCell, progressCell := "", "", ""
			if i == 0 {
				stageCell = fmt.Sprintf("%s (%s)", st.Title, st.ID)
				statusCell = string(st.Status)
				progressCell = fmt.Sprintf("%d%%", st.Progress)
			}
			open := "no"
			if tracker.CanInteractWithTask(stages, st.ID, t.Order) {
				open = "yes"
			}
			tw.AppendRow(table.Row{fmt.Sprintf("%d.%d", st.Order, t.Order), stageCell, statusCell, progressCell, t.Title + " (" + t.ID + ")", t.Status, open})
		}
		if len(st.Tasks) == 0 {
			tw.AppendRow(table.Row{fmt.Sprintf("%d", st.Order), fmt.Sprintf("%s (%s)", st.Title, st.ID), st.Status, fmt.Sprintf("%d%%", st.Progress), "", "", ""})
		}
		tw.AppendSeparator()
	}
	tw.Render()
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}

// exitCode maps domain errors to distinct exit statuses for scripts.
func exitCode(err error) int {
	switch {
	case errors.Is(err, domain.ErrGated):
		return 3
	case errors.Is(err, domain.ErrNotFound):
		return 4
	case errors.Is(err, domain.ErrValidation):
		return 2
	default:
		return 1
	}
}
