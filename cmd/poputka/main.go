package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"poputka/internal/client"
	"poputka/internal/config"
	"poputka/internal/engine"
	"poputka/internal/logging"
	"poputka/internal/models"
	"poputka/internal/tui"
	"poputka/internal/ws"
)

type flags struct {
	server     string
	user       string
	role       string
	token      string
	interval   time.Duration
	transport  string
	autoSelect bool
	logLevel   string
	logSink    string
}

func newRootCmd() *cobra.Command {
	f := &flags{}

	root := &cobra.Command{
		Use:           "poputka",
		Short:         "Chat with your delivery partners from the terminal",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, f)
			if err != nil {
				return err
			}
			return runChat(cmd.Context(), cfg)
		},
	}

	f.register(root)

	root.AddCommand(&cobra.Command{
		Use:   "partners",
		Short: "List your conversations and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, f)
			if err != nil {
				return err
			}
			return listPartners(cmd, cfg)
		},
	})

	return root
}

func (f *flags) register(cmd *cobra.Command) {
	pf := cmd.PersistentFlags()
	pf.StringVar(&f.server, "server", "", "Chat server URL (or set POPUTKA_SERVER)")
	pf.StringVarP(&f.user, "user", "u", "", "Your user id (or set POPUTKA_USER)")
	pf.StringVarP(&f.role, "role", "r", "", "Your role: sender or traveler (or set POPUTKA_ROLE)")
	pf.StringVar(&f.token, "token", "", "Auth token (or set POPUTKA_TOKEN)")
	pf.DurationVar(&f.interval, "poll-interval", config.DefaultPollInterval, "How often to refresh the open thread")
	pf.StringVar(&f.transport, "transport", "", "poll or stream (or set POPUTKA_TRANSPORT)")
	pf.BoolVar(&f.autoSelect, "auto-select", false, "Open the first conversation on start (default depends on role)")
	pf.StringVar(&f.logLevel, "log-level", "", "debug, info, warn or error (or set LOG_LEVEL)")
	pf.StringVar(&f.logSink, "log-sink", "", "stderr, stdout or file:<path> (or set LOG_SINK)")
}

// loadConfig reads the environment and lets explicitly set flags win.
func loadConfig(cmd *cobra.Command, f *flags) (*config.Client, error) {
	cfg, err := config.LoadClient()
	if err != nil {
		return nil, err
	}

	changed := cmd.Flags().Changed
	if changed("server") {
		cfg.ServerURL = f.server
	}
	if changed("user") {
		cfg.UserID = f.user
	}
	if changed("role") {
		role, err := models.ParseRole(f.role)
		if err != nil {
			return nil, err
		}
		cfg.Role = role
		if _, ok := os.LookupEnv("AUTO_SELECT"); !ok {
			cfg.AutoSelect = role.DefaultAutoSelect()
		}
	}
	if changed("token") {
		cfg.Token = f.token
	}
	if changed("poll-interval") {
		cfg.PollInterval = f.interval
	}
	if changed("transport") {
		cfg.Transport = config.Transport(f.transport)
	}
	if changed("auto-select") {
		cfg.AutoSelect = f.autoSelect
	}
	if changed("log-level") {
		cfg.LogLevel = f.logLevel
	}
	if changed("log-sink") {
		cfg.LogSink = f.logSink
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func newEngine(cfg *config.Client, logger *zap.Logger, onEvent func(engine.Event)) (*engine.Engine, error) {
	c, err := client.New(client.Config{
		BaseURL: cfg.ServerURL,
		Token:   cfg.Token,
		Logger:  logger,
	})
	if err != nil {
		return nil, err
	}

	engineCfg := engine.Config{
		UserID:                cfg.UserID,
		Role:                  cfg.Role,
		PollInterval:          cfg.PollInterval,
		AutoSelectFirstThread: cfg.AutoSelect,
		Transport:             cfg.Transport,
		Backend:               c,
		Profiles:              c,
		OnEvent:               onEvent,
		Logger:                logger,
	}
	if cfg.Transport == config.TransportStream {
		engineCfg.Stream = engine.FromStream(ws.NewStream(ws.StreamConfig{
			BaseURL: c.BaseURL(),
			Token:   c.Token(),
			Logger:  logger,
		}))
	}

	return engine.New(engineCfg)
}

func runChat(ctx context.Context, cfg *config.Client) error {
	logger, err := logging.New(cfg.LogLevel, cfg.LogSink)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	events := tui.NewEventQueue()
	e, err := newEngine(cfg, logger, events.Push)
	if err != nil {
		return err
	}

	logger.Info("chat started",
		zap.String("user_id", cfg.UserID),
		zap.String("role", string(cfg.Role)),
		zap.String("transport", string(cfg.Transport)))

	err = tui.Run(tui.Options{Engine: e, Events: events, Role: cfg.Role}, e, tea.WithContext(ctx))
	if errors.Is(err, tea.ErrProgramKilled) && ctx.Err() != nil {
		return nil
	}
	return err
}

func listPartners(cmd *cobra.Command, cfg *config.Client) error {
	logger, err := logging.New(cfg.LogLevel, cfg.LogSink)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	// Listing never opens a thread.
	cfg.AutoSelect = false
	e, err := newEngine(cfg, logger, nil)
	if err != nil {
		return err
	}
	defer e.Dispose()

	partners, err := e.LoadPartners(cmd.Context())
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if len(partners) == 0 {
		_, _ = fmt.Fprintln(out, "No conversations yet")
		return nil
	}
	for _, p := range partners {
		_, _ = fmt.Fprintf(out, "%-8s %-24s %s\n", p.ID, p.DisplayName, p.LatestMessagePreview)
	}
	return nil
}

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "load .env: %v\n", err)
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "poputka: %v\n", err)
		os.Exit(1)
	}
}
