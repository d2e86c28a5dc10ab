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

	"stateline/internal/app"
	"stateline/internal/config"
	"stateline/internal/db"
	"stateline/internal/domain"
	"stateline/internal/jql"
	"stateline/internal/migrate"
	"stateline/internal/repo"
	"stateline/internal/server"
	"stateline/internal/workflow"
)

var rootCmd = &cobra.Command{
	Use:   "sl",
	Short: "Stateline CLI",
	Long: `Stateline tracks issues through configurable workflows and answers JQL queries.
- Workspace: a .stateline directory holding the database; stateline.yml holds project config.
- Workflows: statuses plus transitions, with conditions (who sees a transition),
  validators (what must hold to execute it) and post-functions (what happens after).
- Schemes: map issue types to workflows per project, with a default.
- Issues: records that move status only through workflow transitions.
- JQL: query language over issues ('sl search', 'sl validate').
- Event log: diary of changes, view with 'sl log tail'.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		workspace := viper.GetString("workspace")
		if _, err := db.EnsureWorkspace(workspace); err != nil {
			return err
		}
		return nil
	},
}

func main() {
	cobra.OnInitialize(initViper)
	addPersistentFlags()
	registerCommands()
	if err := rootCmd.Execute(); err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
}

func initViper() {
	viper.SetEnvPrefix("STATELINE")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("actor", "", "acting user email (defaults to the project lead)")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("actor", rootCmd.PersistentFlags().Lookup("actor"))
}

func registerCommands() {
	rootCmd.AddCommand(initCmd())
	rootCmd.AddCommand(workflowCmd())
	rootCmd.AddCommand(issueCmd())
	rootCmd.AddCommand(searchCmd())
	rootCmd.AddCommand(validateCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(serveCmd())
}

func initCmd() *cobra.Command {
	var id, key, name string
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Initialize a workspace with config, database and default workflow",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			path := config.Path(workspace)
			if _, err := os.Stat(path); os.IsNotExist(err) {
				if id == "" {
					return fmt.Errorf("--id required for a new workspace")
				}
				if key == "" {
					key = strings.ToUpper(id)
				}
				if err := os.WriteFile(path, []byte(config.GenerateDefault(id, key)), 0o644); err != nil {
					return err
				}
				fmt.Println("wrote", path)
			}
			return withEngine(cmd.Context(), func(ctx context.Context, env cmdEnv) error {
				fmt.Printf("project %s ready (db %s)\n", env.Project.Key, db.Path(workspace))
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "project id")
	cmd.Flags().StringVar(&key, "key", "", "project key (defaults to upper-cased id)")
	cmd.Flags().StringVar(&name, "name", "", "project name")
	return cmd
}

func workflowCmd() *cobra.Command {
	wf := &cobra.Command{Use: "workflow", Short: "Manage workflows"}
	wf.AddCommand(workflowListCmd())
	wf.AddCommand(workflowShowCmd())
	wf.AddCommand(workflowImportCmd())
	wf.AddCommand(workflowExportCmd())
	wf.AddCommand(workflowCloneCmd())
	return wf
}

func workflowListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List workflows",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, env cmdEnv) error {
				items, err := env.Engine.Repo.ListWorkflows(ctx, env.OrgID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Name", "Active", "Default"})
				for _, w := range items {
					tw.AppendRow(table.Row{w.ID, w.Name, w.IsActive, w.IsDefault})
				}
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

func workflowShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <workflow-id-or-name>",
		Short: "Show a workflow's statuses and transitions",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, env cmdEnv) error {
				wf, err := resolveWorkflow(ctx, env, args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(wf)
				}
				fmt.Printf("%s (%s)\n", wf.Name, wf.ID)
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Status", "Category", "Initial"})
				for _, s := range wf.Statuses {
					tw.AppendRow(table.Row{s.Name, s.Category, s.IsInitial})
				}
				tw.Render()
				tw = table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Transition", "From", "To", "Gated"})
				for _, t := range wf.Transitions {
					from := "(create)"
					if t.FromStatusID != nil {
						if s := workflow.StatusByID(&wf, *t.FromStatusID); s != nil {
							from = s.Name
						}
					}
					to := t.ToStatusID
					if s := workflow.StatusByID(&wf, t.ToStatusID); s != nil {
						to = s.Name
					}
					tw.AppendRow(table.Row{t.Name, from, to, !t.Validators.IsZero()})
				}
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

func workflowImportCmd() *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Import a workflow definition from YAML",
		RunE: func(cmd *cobra.Command, args []string) error {
			if file == "" {
				return fmt.Errorf("--file required")
			}
			data, err := os.ReadFile(file)
			if err != nil {
				return err
			}
			def, err := config.ParseWorkflowDef(data)
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, env cmdEnv) error {
				wf, err := def.ToWorkflow(env.OrgID, time.Now())
				if err != nil {
					return err
				}
				if err := env.Engine.SaveWorkflow(ctx, wf, env.Actor.Email); err != nil {
					return err
				}
				fmt.Printf("imported workflow %s (%s)\n", wf.Name, wf.ID)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&file, "file", "", "workflow yaml file")
	return cmd
}

func workflowExportCmd() *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "export <workflow-id-or-name>",
		Short: "Export a workflow definition as YAML",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, env cmdEnv) error {
				wf, err := resolveWorkflow(ctx, env, args[0])
				if err != nil {
					return err
				}
				data, err := config.MarshalWorkflowDef(config.FromWorkflow(&wf))
				if err != nil {
					return err
				}
				if file == "" {
					fmt.Print(string(data))
					return nil
				}
				return os.WriteFile(file, data, 0o644)
			})
		},
	}
	cmd.Flags().StringVar(&file, "file", "", "output file (default stdout)")
	return cmd
}

func workflowCloneCmd() *cobra.Command {
	var name string
	cmd := &cobra.Command{
		Use:   "clone <workflow-id-or-name>",
		Short: "Clone a workflow under a new name",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if name == "" {
				return fmt.Errorf("--name required")
			}
			return withEngine(cmd.Context(), func(ctx context.Context, env cmdEnv) error {
				src, err := resolveWorkflow(ctx, env, args[0])
				if err != nil {
					return err
				}
				clone, err := env.Engine.CloneWorkflow(ctx, src.ID, name, env.Actor.Email)
				if err != nil {
					return err
				}
				fmt.Printf("cloned %s -> %s (%s)\n", src.Name, clone.Name, clone.ID)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "name for the clone")
	return cmd
}

func issueCmd() *cobra.Command {
	iss := &cobra.Command{Use: "issue", Short: "Manage issues"}
	iss.AddCommand(issueCreateCmd())
	iss.AddCommand(issueShowCmd())
	iss.AddCommand(issueListCmd())
	iss.AddCommand(issueTransitionsCmd())
	iss.AddCommand(issueMoveCmd())
	return iss
}

func issueCreateCmd() *cobra.Command {
	var summary, desc, typeID, priority, assignee, due string
	var labels []string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an issue in its workflow's initial status",
		RunE: func(cmd *cobra.Command, args []string) error {
			if summary == "" {
				return fmt.Errorf("--summary required")
			}
			return withEngine(cmd.Context(), func(ctx context.Context, env cmdEnv) error {
				issue, err := env.Engine.CreateIssue(ctx, workflow.IssueCreateOptions{
					ProjectID:     env.Project.ID,
					Summary:       summary,
					Description:   desc,
					TypeID:        typeID,
					TypeName:      env.Config.IssueTypeName(typeID),
					Priority:      priority,
					ReporterEmail: env.Actor.Email,
					AssigneeEmail: assignee,
					Labels:        labels,
					DueDate:       due,
				})
				if err != nil {
					return err
				}
				fmt.Printf("created %s: %s [%s]\n", issue.Key, issue.Summary, issue.StatusName)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&summary, "summary", "", "issue summary")
	cmd.Flags().StringVar(&desc, "description", "", "issue description")
	cmd.Flags().StringVar(&typeID, "type", "task", "issue type id")
	cmd.Flags().StringVar(&priority, "priority", "", "priority")
	cmd.Flags().StringVar(&assignee, "assignee", "", "assignee email")
	cmd.Flags().StringVar(&due, "due", "", "due date (RFC3339)")
	cmd.Flags().StringSliceVar(&labels, "label", nil, "label (repeatable)")
	return cmd
}

func issueShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <issue-key>",
		Short: "Show an issue",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, env cmdEnv) error {
				issue, err := env.Engine.Repo.GetIssue(ctx, args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(issue)
				}
				fmt.Printf("%s  %s\n", issue.Key, issue.Summary)
				fmt.Printf("  status: %s  type: %s  priority: %s\n", issue.StatusName, issue.TypeName, orDash(issue.Priority))
				fmt.Printf("  assignee: %s  reporter: %s\n", orDash(issue.AssigneeEmail), orDash(issue.ReporterEmail))
				if issue.Resolution != "" {
					fmt.Printf("  resolution: %s (resolved %s)\n", issue.Resolution, issue.ResolvedAt)
				}
				if len(issue.Labels) > 0 {
					fmt.Printf("  labels: %s\n", strings.Join(issue.Labels, ", "))
				}
				comments, err := repo.Comments{DB: env.Engine.DB}.ListComments(ctx, issue.ID)
				if err != nil {
					return err
				}
				for _, c := range comments {
					fmt.Printf("  [%s] %s: %s\n", c.CreatedAt, c.Author, c.Body)
				}
				return nil
			})
		},
	}
	return cmd
}

func issueListCmd() *cobra.Command {
	var query string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List issues, optionally filtered by JQL",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, env cmdEnv) error {
				issues, err := env.Engine.Search(ctx, query, &env.Actor)
				if err != nil {
					return err
				}
				return printIssues(issues)
			})
		},
	}
	cmd.Flags().StringVar(&query, "jql", "", "JQL filter")
	return cmd
}

func issueTransitionsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "transitions <issue-key>",
		Short: "List transitions available from the issue's current status",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, env cmdEnv) error {
				issue, err := env.Engine.Repo.GetIssue(ctx, args[0])
				if err != nil {
					return err
				}
				available, err := env.Engine.AvailableTransitions(ctx, &issue, &env.Actor)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(available)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Transition", "Gated"})
				for _, t := range available {
					tw.AppendRow(table.Row{t.ID, t.Name, !t.Validators.IsZero()})
				}
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

func issueMoveCmd() *cobra.Command {
	var resolution, comment string
	var fields []string
	cmd := &cobra.Command{
		Use:   "move <issue-key> <transition-name-or-id>",
		Short: "Execute a workflow transition",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			data := workflow.Data{Resolution: resolution, Comment: comment}
			for _, f := range fields {
				k, v, ok := strings.Cut(f, "=")
				if !ok {
					return fmt.Errorf("--field wants key=value, got %q", f)
				}
				if data.Fields == nil {
					data.Fields = map[string]string{}
				}
				data.Fields[k] = v
			}
			return withEngine(cmd.Context(), func(ctx context.Context, env cmdEnv) error {
				issue, err := env.Engine.Repo.GetIssue(ctx, args[0])
				if err != nil {
					return err
				}
				transitionID, err := resolveTransition(ctx, env, &issue, args[1])
				if err != nil {
					return err
				}
				moved, err := env.Engine.ExecuteTransition(ctx, issue.Key, transitionID, env.Actor, data)
				if err != nil {
					var ve *workflow.ValidationError
					if errors.As(err, &ve) {
						for _, msg := range ve.Errors {
							fmt.Println(" -", msg)
						}
					}
					return err
				}
				fmt.Printf("%s: %s -> %s\n", moved.Key, issue.StatusName, moved.StatusName)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&resolution, "resolution", "", "resolution to set")
	cmd.Flags().StringVar(&comment, "comment", "", "comment to attach")
	cmd.Flags().StringSliceVar(&fields, "field", nil, "field value key=value (repeatable)")
	return cmd
}

func searchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "search <jql>",
		Short: "Search issues with JQL",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, env cmdEnv) error {
				issues, err := env.Engine.Search(ctx, args[0], &env.Actor)
				if err != nil {
					return err
				}
				return printIssues(issues)
			})
		},
	}
	return cmd
}

func validateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate <jql>",
		Short: "Validate JQL syntax without executing",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := jql.Validate(args[0]); err != nil {
				fmt.Println("invalid:", err)
				os.Exit(1)
			}
			fmt.Println("ok")
			return nil
		},
	}
	return cmd
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
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Tail events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, env cmdEnv) error {
				events, err := env.Engine.Events.Tail(ctx, env.Project.ID, n)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(events)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"TS", "Type", "Entity", "Actor"})
				for _, e := range events {
					tw.AppendRow(table.Row{e.TS, e.Type, e.EntityID, e.ActorID})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&n, "n", 20, "number of events")
	return cmd
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, env cmdEnv) error {
				authCfg := server.AuthConfig{JWTSecret: os.Getenv("STATELINE_JWT_SECRET")}
				if authCfg.JWTSecret == "" {
					return fmt.Errorf("STATELINE_JWT_SECRET is required for bearer auth")
				}
				handler, err := server.New(server.Config{
					Engine:   env.Engine,
					Project:  env.Config,
					BasePath: basePath,
					Auth:     authCfg,
				})
				if err != nil {
					return err
				}
				srv := &http.Server{Addr: addr, Handler: handler}
				go func() {
					<-ctx.Done()
					shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					srv.Shutdown(shutdownCtx)
				}()
				fmt.Printf("Serving Stateline API on http://%s%s (OpenAPI at %s/openapi.json)\n", addr, basePath, basePath)
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v0", "API base path")
	return cmd
}

// --- helpers ---

type cmdEnv struct {
	Engine  workflow.Engine
	Config  *config.Config
	Project domain.Project
	Actor   domain.User
	OrgID   string
}

func withEngine(ctx context.Context, fn func(context.Context, cmdEnv) error) error {
	workspace := viper.GetString("workspace")
	cfg, err := config.Load(workspace)
	if err != nil {
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
	r := repo.Repo{DB: conn}
	project, err := app.EnsureProject(ctx, cfg, r)
	if err != nil {
		return err
	}
	actorID := viper.GetString("actor")
	if actorID == "" {
		actorID = cfg.Project.Lead
	}
	actor, err := app.ResolveActor(ctx, cfg, r, actorID)
	if err != nil {
		return err
	}
	env := cmdEnv{
		Engine:  workflow.New(conn),
		Config:  cfg,
		Project: project,
		Actor:   actor,
		OrgID:   orgID(cfg),
	}
	return fn(ctx, env)
}

func orgID(cfg *config.Config) string {
	if cfg.Org != "" {
		return cfg.Org
	}
	return "default-org"
}

func resolveWorkflow(ctx context.Context, env cmdEnv, ref string) (domain.Workflow, error) {
	wf, err := env.Engine.Repo.GetWorkflow(ctx, ref)
	if err == nil {
		return wf, nil
	}
	if !errors.Is(err, repo.ErrNotFound) {
		return domain.Workflow{}, err
	}
	return env.Engine.Repo.GetWorkflowByName(ctx, env.OrgID, ref)
}

func resolveTransition(ctx context.Context, env cmdEnv, issue *domain.Issue, ref string) (string, error) {
	wf, err := env.Engine.WorkflowForIssue(ctx, issue)
	if err != nil {
		return "", err
	}
	if t := workflow.TransitionByID(&wf, ref); t != nil {
		return t.ID, nil
	}
	for _, t := range wf.Transitions {
		if strings.EqualFold(t.Name, ref) {
			return t.ID, nil
		}
	}
	return "", fmt.Errorf("transition %q: %w", ref, repo.ErrNotFound)
}

func printIssues(issues []domain.Issue) error {
	if viper.GetBool("json") {
		return printJSON(issues)
	}
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendHeader(table.Row{"Key", "Summary", "Type", "Status", "Assignee"})
	for _, is := range issues {
		tw.AppendRow(table.Row{is.Key, is.Summary, is.TypeName, is.StatusName, orDash(is.AssigneeEmail)})
	}
	tw.Render()
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
