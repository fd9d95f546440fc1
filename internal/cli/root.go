// Package cli implements the memhub command line.
package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"

	"github.com/capitalize-ai/memory-hub/internal/auth"
	"github.com/capitalize-ai/memory-hub/internal/config"
	"github.com/capitalize-ai/memory-hub/internal/transport"
	"github.com/capitalize-ai/memory-hub/pkg/logger"
	"github.com/capitalize-ai/memory-hub/pkg/tracing"
)

var (
	version = "dev"
	commit  = "unknown"
)

type rootOptions struct {
	logLevel string
	authFile string
	baseURL  string
	verbose  bool
}

// app is the per-invocation wiring shared by subcommands.
type app struct {
	cfg     *config.Config
	log     *logger.Logger
	store   *auth.FileStore
	session *auth.Session
	client  *transport.Client
	tp      *sdktrace.TracerProvider
}

type appKey struct{}

// NewRootCommand builds the memhub command tree.
func NewRootCommand() *cobra.Command {
	opts := &rootOptions{}

	root := &cobra.Command{
		Use:   "memhub",
		Short: "Chat with your Memory Hub from the terminal",
		Long: `memhub talks to a Memory Hub backend: it streams answers, keeps your
sessions in order and saves partial answers when you interrupt them.

Quick Start:
  memhub login --token <jwt>      # store credentials
  memhub chat                     # start a new chat
  memhub sessions list            # list previous sessions
  memhub serve                    # run the local HTTP bridge`,
		Version:       fmt.Sprintf("%s (commit: %s)", version, commit),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context(), opts)
			if err != nil {
				return err
			}
			cmd.SetContext(context.WithValue(cmd.Context(), appKey{}, a))
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if a, ok := cmd.Context().Value(appKey{}).(*app); ok {
				a.close(cmd.Context())
			}
		},
	}

	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "Log level (debug, info, warn, error); overrides LOG_LEVEL")
	root.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "Shorthand for --log-level debug")
	root.PersistentFlags().StringVar(&opts.authFile, "auth-file", "", "Credentials file; overrides MEMHUB_AUTH_FILE")
	root.PersistentFlags().StringVar(&opts.baseURL, "api", "", "Backend base URL; overrides MEMHUB_API_BASE_URL")
	root.SetVersionTemplate(`{{printf "%s\n" .Version}}`)

	root.AddCommand(
		newLoginCommand(),
		newLogoutCommand(),
		newSessionsCommand(),
		newHistoryCommand(),
		newChatCommand(),
		newServeCommand(),
		newActivityCommand(),
	)
	return root
}

// Execute runs the root command and exits non-zero on error.
func Execute() {
	if err := NewRootCommand().ExecuteContext(context.Background()); err != nil {
		logger.Global().Debug("command failed", zap.Error(err))
		fmt.Fprintln(os.Stderr, errorStyle.Render("Error: "+err.Error()))
		os.Exit(1)
	}
}

func newApp(ctx context.Context, opts *rootOptions) (*app, error) {
	cfg := config.Load()
	if opts.logLevel != "" {
		cfg.LogLevel = opts.logLevel
	}
	if opts.verbose {
		cfg.LogLevel = "debug"
	}
	if opts.authFile != "" {
		cfg.AuthFile = opts.authFile
	}
	if opts.baseURL != "" {
		cfg.APIBaseURL = opts.baseURL
	}

	logOpts := logger.Options{Level: cfg.LogLevel}
	if cfg.LogFile != "" {
		logOpts.OutputPaths = []string{cfg.LogFile}
	}
	log, err := logger.NewWithOptions(logOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}
	logger.SetGlobal(log)

	a := &app{
		cfg:   cfg,
		log:   log,
		store: auth.NewFileStore(cfg.AuthFile),
	}
	a.session = auth.NewSession(a.store, log)
	a.client = transport.NewClient(cfg.APIBaseURL, log)

	if cfg.TracingEnabled {
		tp, err := tracing.InitTracer(ctx, "memhub", cfg.TracingEndpoint)
		if err != nil {
			log.Warn("failed to initialize tracing", zap.Error(err))
		} else {
			a.tp = tp
		}
	}
	return a, nil
}

func appFrom(cmd *cobra.Command) *app {
	return cmd.Context().Value(appKey{}).(*app)
}

// requireSession validates the config and loads stored credentials.
func (a *app) requireSession() error {
	if err := a.cfg.Validate(); err != nil {
		return err
	}
	if err := a.session.Init(auth.Identity{
		TenantID: a.cfg.TenantID,
		UserID:   a.cfg.UserID,
		Token:    a.cfg.Token,
	}); err != nil {
		return fmt.Errorf("failed to load credentials: %w", err)
	}
	return nil
}

func (a *app) close(ctx context.Context) {
	if err := tracing.Shutdown(ctx, a.tp); err != nil {
		a.log.Warn("failed to shut down tracing", zap.Error(err))
	}
	_ = a.log.Sync()
}
