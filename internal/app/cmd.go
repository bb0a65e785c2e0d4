package app

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/hitoshi/jobboard/internal/config"
	"github.com/hitoshi/jobboard/internal/fetch"
	"github.com/hitoshi/jobboard/internal/identity"
	"github.com/hitoshi/jobboard/internal/model"
)

// annotationSetup はコマンドが必要とする初期化の範囲を示すアノテーションキー。
const annotationSetup = "jobboard/setup"

const (
	// setupNone は初期化を行わない（healthcheck）。
	setupNone = "none"
	// setupConfig はConfigとロガーのみ初期化する（migrate）。
	setupConfig = "config"
)

// teardownTimeout はベストエフォートタスクの完了を待つ上限。
const teardownTimeout = 10 * time.Second

// RuntimeFactory はConfigからRuntimeを構築する。テストで差し替える。
type RuntimeFactory func(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Runtime, error)

// cli はコマンドツリーと実行中のRuntimeを保持する。
type cli struct {
	root       *cobra.Command
	stdout     io.Writer
	stderr     io.Writer
	newRuntime RuntimeFactory

	text   bool
	cfg    *config.Config
	logger *slog.Logger
	rt     *Runtime
}

func newCLI(stdout, stderr io.Writer, factory RuntimeFactory) *cli {
	c := &cli{stdout: stdout, stderr: stderr, newRuntime: factory}

	root := &cobra.Command{
		Use:               "jobboard",
		Short:             "Job board client: sign in, browse jobs, track applications",
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: c.setup,
	}
	root.SetOut(stdout)
	root.SetErr(stderr)
	root.PersistentFlags().BoolVar(&c.text, "text", false, "Render results as plain text instead of JSON")

	root.AddCommand(
		c.loginCmd(),
		c.signupCmd(),
		c.loginGoogleCmd(),
		c.logoutCmd(),
		c.resetPasswordCmd(),
		c.whoamiCmd(),
		c.jobsCmd(),
		c.jobCmd(),
		c.searchCmd(),
		c.recommendationsCmd(),
		c.applyCmd(),
		c.saveCmd(),
		c.unsaveCmd(),
		c.savedCmd(),
		c.appliedCmd(),
		c.profileCmd(),
		c.preferencesCmd(),
		c.settingsCmd(),
		c.resumeCmd(),
		c.aiJobsCmd(),
		c.analyticsCmd(),
		c.catalogCmd("skills", "List skills known to the backend", c.getSkills),
		c.catalogCmd("categories", "List job categories", c.getCategories),
		c.statusCmd(),
		c.serveCmd(),
		c.migrateCmd(),
		c.healthcheckCmd(),
	)

	c.root = root
	return c
}

// setup はコマンドのアノテーションに応じてConfigとRuntimeを初期化する。
func (c *cli) setup(cmd *cobra.Command, _ []string) error {
	if skipSetup(cmd) {
		return nil
	}
	mode := cmd.Annotations[annotationSetup]

	cfg, l, err := Init(c.stderr)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}
	c.cfg = cfg
	c.logger = l

	if mode == setupConfig {
		return nil
	}

	rt, err := c.newRuntime(cmd.Context(), cfg, l)
	if err != nil {
		return err
	}
	c.rt = rt
	return nil
}

// skipSetup は初期化不要のコマンド（healthcheck、help、補完）かどうかを判定する。
func skipSetup(cmd *cobra.Command) bool {
	if cmd.Annotations[annotationSetup] == setupNone {
		return true
	}
	for p := cmd; p != nil; p = p.Parent() {
		switch p.Name() {
		case "help", "completion", cobra.ShellCompRequestCmd, cobra.ShellCompNoDescRequestCmd:
			return true
		}
	}
	return false
}

// teardown はRuntimeを閉じる。コマンドの成否に関わらず呼ぶ。
func (c *cli) teardown() error {
	if c.rt == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), teardownTimeout)
	defer cancel()

	err := c.rt.Close(ctx)
	c.rt = nil
	return err
}

func (c *cli) render() renderer {
	return renderer{w: c.stdout, text: c.text}
}

// printJSON は任意の値をJSONとして出力する。
func (c *cli) printJSON(v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode output: %w", err)
	}
	return c.render().payload(data)
}

// awaitQuery はQueryの初回呼び出しの完了を待ち、結果を返す。
func awaitQuery(q *fetch.Query[model.Payload]) (model.Payload, error) {
	q.Wait()
	state := q.State()
	if state.Phase == fetch.PhaseRejected {
		return nil, state.Err
	}
	return state.Data, nil
}

// showQuery はQueryの結果を出力する。
func (c *cli) showQuery(q *fetch.Query[model.Payload]) error {
	data, err := awaitQuery(q)
	if err != nil {
		return err
	}
	return c.render().payload(data)
}

// execute はミューテーションをExecutorで実行して結果を出力する。
func (c *cli) execute(ctx context.Context, call fetch.Call[model.Payload]) error {
	data, err := c.rt.Hooks.Executor().Execute(ctx, call)
	if err != nil {
		return err
	}
	return c.render().payload(data)
}

// readSecret はフラグが空の場合に入力から1行読み込む。
func readSecret(cmd *cobra.Command, value, prompt string) (string, error) {
	if value != "" {
		return value, nil
	}
	fmt.Fprint(cmd.ErrOrStderr(), prompt)
	line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
	if err != nil && !(errors.Is(err, io.EOF) && line != "") {
		return "", fmt.Errorf("failed to read %s", strings.TrimSuffix(strings.ToLower(prompt), ": "))
	}
	return strings.TrimRight(line, "\r\n"), nil
}

// --- Identity ---

func (c *cli) loginCmd() *cobra.Command {
	var email, password string
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Sign in with email and password",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			pw, err := readSecret(cmd, password, "Password: ")
			if err != nil {
				return err
			}
			p, err := c.rt.Identity.SignInWithPassword(cmd.Context(), email, pw)
			if err != nil {
				return fmt.Errorf("sign-in failed: %w", err)
			}
			return c.printJSON(p)
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "Account email")
	cmd.Flags().StringVar(&password, "password", "", "Account password (read from stdin when omitted)")
	cmd.MarkFlagRequired("email")
	return cmd
}

func (c *cli) signupCmd() *cobra.Command {
	var email, password, name string
	cmd := &cobra.Command{
		Use:   "signup",
		Short: "Create an account and sign in",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			pw, err := readSecret(cmd, password, "Password: ")
			if err != nil {
				return err
			}
			p, err := c.rt.Identity.SignUp(cmd.Context(), email, pw, name)
			if err != nil {
				return fmt.Errorf("sign-up failed: %w", err)
			}
			return c.printJSON(p)
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "Account email")
	cmd.Flags().StringVar(&password, "password", "", "Account password (read from stdin when omitted)")
	cmd.Flags().StringVar(&name, "name", "", "Display name")
	cmd.MarkFlagRequired("email")
	return cmd
}

func (c *cli) loginGoogleCmd() *cobra.Command {
	var code string
	cmd := &cobra.Command{
		Use:   "login-google",
		Short: "Sign in with Google",
		Long: `Sign in with a Google account.

Without --code, prints the authorization URL to open in a browser.
After consenting, pass the returned authorization code with --code.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := c.rt.Config
			if !cfg.GoogleSignInEnabled() {
				return fmt.Errorf("google sign-in is not configured: set GOOGLE_CLIENT_ID, GOOGLE_CLIENT_SECRET and GOOGLE_REDIRECT_URL")
			}
			login := identity.NewGoogleLogin(identity.GoogleConfig{
				ClientID:     cfg.GoogleClientID,
				ClientSecret: cfg.GoogleClientSecret,
				RedirectURL:  cfg.GoogleRedirectURL,
			}, c.rt.Identity)

			if code == "" {
				_, err := fmt.Fprintln(c.stdout, login.LoginURL(uuid.New().String()))
				return err
			}

			p, err := login.Exchange(cmd.Context(), code)
			if err != nil {
				return fmt.Errorf("google sign-in failed: %w", err)
			}
			return c.printJSON(p)
		},
	}
	cmd.Flags().StringVar(&code, "code", "", "Authorization code returned by Google")
	return cmd
}

func (c *cli) logoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Sign out",
		Long: `Sign out. The local session is cleared even when the identity
provider cannot be reached; the remote failure is reported as a warning.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := c.rt.Session.Logout(cmd.Context()); err != nil {
				fmt.Fprintf(c.stderr, "warning: %v\n", err)
			}
			_, err := fmt.Fprintln(c.stdout, "signed out")
			return err
		},
	}
}

func (c *cli) resetPasswordCmd() *cobra.Command {
	var email string
	cmd := &cobra.Command{
		Use:   "reset-password",
		Short: "Send a password reset email",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := c.rt.Identity.SendPasswordResetEmail(cmd.Context(), email); err != nil {
				return fmt.Errorf("password reset failed: %w", err)
			}
			_, err := fmt.Fprintf(c.stdout, "password reset email sent to %s\n", email)
			return err
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "Account email")
	cmd.MarkFlagRequired("email")
	return cmd
}

func (c *cli) whoamiCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Show the signed-in user",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			state := c.rt.Session.State()
			if c.text {
				if !state.SignedIn() {
					_, err := fmt.Fprintln(c.stdout, "not signed in")
					return err
				}
				p := state.Principal
				_, err := fmt.Fprintf(c.stdout, "%s <%s> (%s)\n", p.DisplayName, p.Email, p.UID)
				return err
			}
			return c.printJSON(state)
		},
	}
}

// --- Jobs ---

func (c *cli) jobsCmd() *cobra.Command {
	var params map[string]string
	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "List job listings",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.showQuery(c.rt.Hooks.Jobs(cmd.Context(), params))
		},
	}
	cmd.Flags().StringToStringVar(&params, "param", nil, "Query parameter key=value (repeatable)")
	return cmd
}

func (c *cli) jobCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "job <id>",
		Short: "Show a job listing",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.showQuery(c.rt.Hooks.JobDetail(cmd.Context(), args[0]))
		},
	}
}

func (c *cli) searchCmd() *cobra.Command {
	var params map[string]string
	cmd := &cobra.Command{
		Use:   "search",
		Short: "Search job listings",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			p := model.Params(params)
			return c.execute(cmd.Context(), func(ctx context.Context) (model.Payload, error) {
				return c.rt.API.SearchJobs(ctx, p)
			})
		},
	}
	cmd.Flags().StringToStringVar(&params, "param", nil, "Search parameter key=value (repeatable)")
	return cmd
}

func (c *cli) recommendationsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "recommendations",
		Short: "Show recommended jobs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.showQuery(c.rt.Hooks.JobRecommendations(cmd.Context()))
		},
	}
}

func (c *cli) applyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "apply <id>",
		Short: "Apply for a job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := args[0]
			return c.execute(cmd.Context(), func(ctx context.Context) (model.Payload, error) {
				return c.rt.API.ApplyForJob(ctx, id)
			})
		},
	}
}

func (c *cli) saveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "save <id>",
		Short: "Save a job (also kept in the local saved list)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := args[0]
			err := c.execute(cmd.Context(), func(ctx context.Context) (model.Payload, error) {
				return c.rt.API.SaveJob(ctx, id)
			})
			if err != nil {
				return err
			}

			c.rt.Runner.Go(cmd.Context(), "mirror_saved_job", func(ctx context.Context) error {
				job, err := c.rt.API.GetJobDetail(ctx, id)
				if err != nil {
					return err
				}
				return c.rt.LocalJobs.Add(ctx, job)
			})
			return nil
		},
	}
}

func (c *cli) unsaveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "unsave <id>",
		Short: "Remove a job from the saved list",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := args[0]
			err := c.execute(cmd.Context(), func(ctx context.Context) (model.Payload, error) {
				return c.rt.API.UnsaveJob(ctx, id)
			})
			if err != nil {
				return err
			}

			c.rt.Runner.Go(cmd.Context(), "unmirror_saved_job", func(ctx context.Context) error {
				return c.rt.LocalJobs.Remove(ctx, id)
			})
			return nil
		},
	}
}

func (c *cli) savedCmd() *cobra.Command {
	var local bool
	cmd := &cobra.Command{
		Use:   "saved",
		Short: "List saved jobs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if local {
				jobs, err := c.rt.LocalJobs.List(cmd.Context())
				if err != nil {
					return err
				}
				return c.render().jobs(jobs)
			}
			return c.showQuery(c.rt.Hooks.SavedJobs(cmd.Context()))
		},
	}
	cmd.Flags().BoolVar(&local, "local", false, "Read the locally kept list instead of the backend")
	return cmd
}

func (c *cli) appliedCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "applied",
		Short: "List jobs you applied for",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.showQuery(c.rt.Hooks.AppliedJobs(cmd.Context()))
		},
	}
}

// --- Profile / User ---

func (c *cli) profileCmd() *cobra.Command {
	var cached bool
	cmd := &cobra.Command{
		Use:   "profile",
		Short: "Show your profile",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if cached {
				p, err := c.rt.Profiles.Load(cmd.Context())
				if err != nil {
					return err
				}
				if p == nil {
					return fmt.Errorf("no cached profile")
				}
				return c.render().payload(p)
			}

			data, err := awaitQuery(c.rt.Hooks.UserProfile(cmd.Context()))
			if err != nil {
				return err
			}
			c.rt.Session.UpdateProfile(cmd.Context(), data)
			return c.render().payload(data)
		},
	}
	cmd.Flags().BoolVar(&cached, "cached", false, "Show the locally cached profile")

	update := &cobra.Command{
		Use:   "update <file.json>",
		Short: "Replace your profile with the JSON document in file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			body, err := readJSONFile(args[0])
			if err != nil {
				return err
			}
			data, err := c.rt.Hooks.Executor().Execute(cmd.Context(), func(ctx context.Context) (model.Payload, error) {
				return c.rt.API.UpdateUserProfile(ctx, body)
			})
			if err != nil {
				return err
			}
			c.rt.Session.UpdateProfile(cmd.Context(), data)
			return c.render().payload(data)
		},
	}
	cmd.AddCommand(update)
	return cmd
}

func (c *cli) preferencesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "preferences",
		Short: "Show your job preferences",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.showQuery(c.rt.Hooks.UserPreferences(cmd.Context()))
		},
	}
	cmd.AddCommand(c.updateFromFileCmd("Replace your job preferences", func(ctx context.Context, body json.RawMessage) (model.Payload, error) {
		return c.rt.API.UpdateUserPreferences(ctx, body)
	}))
	return cmd
}

func (c *cli) settingsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "settings",
		Short: "Show your account settings",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.showQuery(c.rt.Hooks.UserSettings(cmd.Context()))
		},
	}
	cmd.AddCommand(c.updateFromFileCmd("Replace your account settings", func(ctx context.Context, body json.RawMessage) (model.Payload, error) {
		return c.rt.API.UpdateUserSettings(ctx, body)
	}))
	return cmd
}

func (c *cli) updateFromFileCmd(short string, call func(ctx context.Context, body json.RawMessage) (model.Payload, error)) *cobra.Command {
	return &cobra.Command{
		Use:   "update <file.json>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			body, err := readJSONFile(args[0])
			if err != nil {
				return err
			}
			return c.execute(cmd.Context(), func(ctx context.Context) (model.Payload, error) {
				return call(ctx, body)
			})
		},
	}
}

func readJSONFile(path string) (json.RawMessage, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	if !json.Valid(data) {
		return nil, fmt.Errorf("%s is not valid JSON", path)
	}
	return json.RawMessage(data), nil
}

func (c *cli) resumeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "resume",
		Short: "Upload or analyze your resume",
	}

	upload := &cobra.Command{
		Use:   "upload <file>",
		Short: "Upload a resume file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(args[0])
			if err != nil {
				return fmt.Errorf("failed to open resume: %w", err)
			}
			defer f.Close()

			name := filepath.Base(args[0])
			return c.execute(cmd.Context(), func(ctx context.Context) (model.Payload, error) {
				return c.rt.API.UploadResume(ctx, name, f)
			})
		},
	}

	analyze := &cobra.Command{
		Use:   "analyze",
		Short: "Analyze the uploaded resume",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.execute(cmd.Context(), c.rt.API.AnalyzeResume)
		},
	}

	cmd.AddCommand(upload, analyze)
	return cmd
}

func (c *cli) aiJobsCmd() *cobra.Command {
	var refresh bool
	var params map[string]string
	cmd := &cobra.Command{
		Use:   "ai-jobs",
		Short: "Show jobs matched to your profile",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			p := model.Params(params)
			return c.execute(cmd.Context(), func(ctx context.Context) (model.Payload, error) {
				if refresh {
					return c.rt.API.RefreshAIJobs(ctx, p)
				}
				return c.rt.API.GetAIJobs(ctx, p)
			})
		},
	}
	cmd.Flags().BoolVar(&refresh, "refresh", false, "Ask the backend to recompute matches")
	cmd.Flags().StringToStringVar(&params, "param", nil, "Parameter key=value (repeatable)")
	return cmd
}

func (c *cli) analyticsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "analytics",
		Short: "Show analytics",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "dashboard",
			Short: "Show your dashboard analytics",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return c.showQuery(c.rt.Hooks.DashboardAnalytics(cmd.Context()))
			},
		},
		&cobra.Command{
			Use:   "trends",
			Short: "Show job market trends",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return c.showQuery(c.rt.Hooks.JobTrends(cmd.Context()))
			},
		},
	)
	return cmd
}

func (c *cli) getSkills(ctx context.Context) (model.Payload, error) {
	return c.rt.API.GetSkills(ctx)
}

func (c *cli) getCategories(ctx context.Context) (model.Payload, error) {
	return c.rt.API.GetCategories(ctx)
}

func (c *cli) catalogCmd(use, short string, call fetch.Call[model.Payload]) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.execute(cmd.Context(), call)
		},
	}
}

func (c *cli) statusCmd() *cobra.Command {
	var health bool
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show backend API status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if health {
				return c.execute(cmd.Context(), c.rt.API.GetHealthStatus)
			}
			return c.execute(cmd.Context(), c.rt.API.GetAPIStatus)
		},
	}
	cmd.Flags().BoolVar(&health, "health", false, "Query the backend health endpoint instead")
	return cmd
}

// --- Operations ---

func (c *cli) serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the local companion HTTP server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), c.rt)
		},
	}
}

func (c *cli) migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:         "migrate",
		Short:       "Apply database migrations for the postgres state store",
		Args:        cobra.NoArgs,
		Annotations: map[string]string{annotationSetup: setupConfig},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMigrate(c.cfg, c.logger)
		},
	}
}

func (c *cli) healthcheckCmd() *cobra.Command {
	var url string
	cmd := &cobra.Command{
		Use:         "healthcheck",
		Short:       "Probe the companion server /health endpoint",
		Args:        cobra.NoArgs,
		Annotations: map[string]string{annotationSetup: setupNone},
		RunE: func(cmd *cobra.Command, args []string) error {
			if url == "" {
				port := os.Getenv("SERVER_PORT")
				if port == "" {
					port = "8080"
				}
				url = "http://localhost:" + port
			}
			return runHealthcheck(cmd.Context(), strings.TrimRight(url, "/"))
		},
	}
	cmd.Flags().StringVar(&url, "url", "", "Server base URL (default http://localhost:$SERVER_PORT)")
	return cmd
}
