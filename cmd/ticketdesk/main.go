// ticketdesk is a terminal client for the helpdesk ticket service. It
// keeps notifications and the user's tickets in sync over the push
// channel and renders them in a Bubble Tea UI.
//
// Usage:
//
//	ticketdesk [--config path] [--api-url url] [--log-level level] [command]
//
// With no command the interactive UI starts. Commands: login, register,
// logout, whoami, watch, reports, users.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/pflag"

	"github.com/nhle/ticketdesk/internal/api"
	"github.com/nhle/ticketdesk/internal/app"
	"github.com/nhle/ticketdesk/internal/credential"
	"github.com/nhle/ticketdesk/internal/model"
	"github.com/nhle/ticketdesk/internal/notify"
	"github.com/nhle/ticketdesk/internal/realtime"
	"github.com/nhle/ticketdesk/internal/store"
	appsync "github.com/nhle/ticketdesk/internal/sync"
	"github.com/nhle/ticketdesk/internal/tickets"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// globalFlags are accepted before the command name.
type globalFlags struct {
	configPath string
	apiURL     string
	logLevel   string
}

func run(args []string) error {
	var g globalFlags
	fs := pflag.NewFlagSet("ticketdesk", pflag.ContinueOnError)
	fs.SetInterspersed(false)
	fs.StringVar(&g.configPath, "config", model.DefaultConfigPath(), "path to the YAML config file")
	fs.StringVar(&g.apiURL, "api-url", "", "REST API root, overrides api.base_url")
	fs.StringVar(&g.logLevel, "log-level", "", "debug, info, warn or error; overrides log.level")
	fs.Usage = func() { printHelp(fs) }

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}

	cfg, err := model.LoadConfig(g.configPath)
	if err != nil {
		return err
	}
	if g.apiURL != "" {
		cfg.API.BaseURL = g.apiURL
	}
	if g.logLevel != "" {
		cfg.Log.Level = g.logLevel
	}

	rest := fs.Args()
	command := ""
	if len(rest) > 0 {
		command, rest = rest[0], rest[1:]
	}

	// The UI owns the terminal, so logs always go to the file; the
	// headless commands also echo warnings to stderr.
	logger, closeLog, err := newLogger(cfg.Log, command != "")
	if err != nil {
		return err
	}
	defer closeLog()

	switch command {
	case "":
		return runUI(cfg, g.configPath, logger)
	case "login":
		return runLogin(cfg, logger, rest)
	case "register":
		return runRegister(cfg, logger, rest)
	case "logout":
		return runLogout(cfg, logger)
	case "whoami":
		return runWhoami(cfg)
	case "watch":
		return runWatch(cfg, logger)
	case "reports":
		return runReports(cfg)
	case "users":
		return runUsers(cfg, rest)
	case "help":
		printHelp(fs)
		return nil
	default:
		return fmt.Errorf("unknown command %q (see ticketdesk help)", command)
	}
}

func printHelp(fs *pflag.FlagSet) {
	fmt.Fprintf(os.Stderr, `ticketdesk: live helpdesk tickets and notifications in the terminal.

Usage:
  ticketdesk [flags] [command]

Commands:
  (none)     start the interactive UI
  login      sign in and store the session in the system keyring
  register   create an account
  logout     forget the stored session and cached lists
  whoami     show the signed-in user
  watch      stream live sync events to stdout
  reports    show the admin ticket summary
  users      list users with ticket counts (admin)

Flags:
%s`, fs.FlagUsages())
}

// newLogger opens the configured log file. With echo set, warnings and
// errors are also written to stderr.
func newLogger(cfg model.LogConfig, echo bool) (*slog.Logger, func(), error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		return nil, nil, fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
	}

	var out io.Writer = io.Discard
	closeFn := func() {}
	if cfg.File != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.File), 0o755); err != nil {
			return nil, nil, fmt.Errorf("creating log directory: %w", err)
		}
		f, err := os.OpenFile(cfg.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
		if err != nil {
			return nil, nil, fmt.Errorf("opening log file: %w", err)
		}
		out = f
		closeFn = func() { _ = f.Close() }
	}

	handler := slog.Handler(slog.NewTextHandler(out, &slog.HandlerOptions{Level: level}))
	if echo {
		handler = fanout{handler, slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn})}
	}
	return slog.New(handler), closeFn, nil
}

// services is the wired object graph shared by the UI and the headless
// commands.
type services struct {
	client *api.Client
	vault  *credential.Vault
	coord  *appsync.Coordinator
	cache  *store.SQLiteStore
}

func (s *services) Close() {
	s.coord.Close()
	if s.cache != nil {
		_ = s.cache.Close()
	}
}

func openVault() (*credential.Vault, error) {
	ring, err := credential.Open()
	if err != nil {
		return nil, err
	}
	return credential.NewVault(ring), nil
}

func setup(cfg *model.AppConfig, logger *slog.Logger) (*services, error) {
	policies, err := cfg.WritePolicies()
	if err != nil {
		return nil, err
	}
	vault, err := openVault()
	if err != nil {
		return nil, err
	}

	client := api.NewClient(cfg.API, "")
	notes := notify.New(client, policies, logger)
	cache := tickets.New(client, tickets.Options{
		ExclusiveRouting: cfg.Tickets.ExclusiveRouting,
		Policies:         policies,
	}, logger)
	hub := realtime.NewHub(realtime.ConfigFrom(cfg.API, cfg.Realtime), notes, cache, logger)

	s := &services{client: client, vault: vault}
	deps := appsync.Deps{
		Client:         client,
		Vault:          vault,
		Notes:          notes,
		Tickets:        cache,
		Hub:            hub,
		Logger:         logger,
		ResyncInterval: time.Duration(cfg.Realtime.ResyncIntervalSec) * time.Second,
	}
	if cfg.Cache.Enabled {
		if err := os.MkdirAll(filepath.Dir(cfg.Cache.Path), 0o755); err != nil {
			return nil, fmt.Errorf("creating cache directory: %w", err)
		}
		db, err := store.NewSQLiteStore(cfg.Cache.Path)
		if err != nil {
			// Running without the snapshot cache only costs a slower
			// first paint.
			logger.Warn("snapshot cache unavailable", "path", cfg.Cache.Path, "error", err)
		} else {
			s.cache = db
			deps.Cache = db
		}
	}
	s.coord = appsync.NewCoordinator(deps)
	return s, nil
}

func runUI(cfg *model.AppConfig, configPath string, logger *slog.Logger) error {
	s, err := setup(cfg, logger)
	if err != nil {
		return err
	}
	defer s.Close()

	logger.Info("starting ui", "api", cfg.API.BaseURL)
	p := tea.NewProgram(app.New(s.coord, logger).WithSettings(*cfg, configPath), tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		return fmt.Errorf("tui error: %w", err)
	}
	return nil
}

// fanout sends each record to every handler that accepts its level.
type fanout []slog.Handler

func (f fanout) Enabled(ctx context.Context, l slog.Level) bool {
	for _, h := range f {
		if h.Enabled(ctx, l) {
			return true
		}
	}
	return false
}

func (f fanout) Handle(ctx context.Context, r slog.Record) error {
	var errs []error
	for _, h := range f {
		if h.Enabled(ctx, r.Level) {
			errs = append(errs, h.Handle(ctx, r.Clone()))
		}
	}
	return errors.Join(errs...)
}

func (f fanout) WithAttrs(attrs []slog.Attr) slog.Handler {
	out := make(fanout, len(f))
	for i, h := range f {
		out[i] = h.WithAttrs(attrs)
	}
	return out
}

func (f fanout) WithGroup(name string) slog.Handler {
	out := make(fanout, len(f))
	for i, h := range f {
		out[i] = h.WithGroup(name)
	}
	return out
}

// roleList renders the accepted roles for flag help.
func roleList() string {
	return strings.Join([]string{string(model.RoleEmployee), string(model.RoleDeveloper), string(model.RoleAdmin)}, ", ")
}
