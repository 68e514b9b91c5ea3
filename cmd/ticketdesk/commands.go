package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/spf13/pflag"

	"github.com/nhle/ticketdesk/internal/api"
	"github.com/nhle/ticketdesk/internal/credential"
	"github.com/nhle/ticketdesk/internal/model"
	"github.com/nhle/ticketdesk/internal/notify"
	"github.com/nhle/ticketdesk/internal/store"
	appsync "github.com/nhle/ticketdesk/internal/sync"
	"github.com/nhle/ticketdesk/internal/tickets"
)

// commandTimeout bounds each headless REST call.
const commandTimeout = 30 * time.Second

func runLogin(cfg *model.AppConfig, logger *slog.Logger, args []string) error {
	var req api.LoginRequest
	fs := pflag.NewFlagSet("login", pflag.ContinueOnError)
	fs.StringVar(&req.Email, "email", "", "account email")
	fs.StringVar(&req.Password, "password", "", "account password (prompted when empty)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	var fields []huh.Field
	if req.Email == "" {
		fields = append(fields, huh.NewInput().Title("Email").Value(&req.Email))
	}
	if req.Password == "" {
		fields = append(fields, huh.NewInput().Title("Password").EchoMode(huh.EchoModePassword).Value(&req.Password))
	}
	if len(fields) > 0 {
		if err := huh.NewForm(huh.NewGroup(fields...)).Run(); err != nil {
			return err
		}
	}

	vault, err := openVault()
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()

	resp, err := api.NewClient(cfg.API, "").Login(ctx, req)
	if err != nil {
		return err
	}
	session := resp.Session()
	if err := vault.Save(session); err != nil {
		return err
	}
	logger.Info("signed in", "user_id", session.UserID())
	fmt.Printf("Signed in as %s (%s)\n", session.User.DisplayName(), session.User.Role)
	return nil
}

func runRegister(cfg *model.AppConfig, logger *slog.Logger, args []string) error {
	var req api.RegisterRequest
	var role string
	fs := pflag.NewFlagSet("register", pflag.ContinueOnError)
	fs.StringVar(&req.Name, "name", "", "display name")
	fs.StringVar(&req.Email, "email", "", "account email")
	fs.StringVar(&req.Password, "password", "", "account password (prompted when empty)")
	fs.StringVar(&role, "role", string(model.RoleEmployee), "one of: "+roleList())
	if err := fs.Parse(args); err != nil {
		return err
	}
	req.Role = model.Role(role)

	var fields []huh.Field
	if req.Name == "" {
		fields = append(fields, huh.NewInput().Title("Name").Value(&req.Name))
	}
	if req.Email == "" {
		fields = append(fields, huh.NewInput().Title("Email").Value(&req.Email))
	}
	if req.Password == "" {
		fields = append(fields, huh.NewInput().Title("Password").EchoMode(huh.EchoModePassword).Value(&req.Password))
	}
	if len(fields) > 0 {
		if err := huh.NewForm(huh.NewGroup(fields...)).Run(); err != nil {
			return err
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()

	resp, err := api.NewClient(cfg.API, "").Register(ctx, req)
	if err != nil {
		return err
	}
	session := resp.Session()
	if !session.Active() {
		fmt.Println("Account created. Run `ticketdesk login` to sign in.")
		return nil
	}

	vault, err := openVault()
	if err != nil {
		return err
	}
	if err := vault.Save(session); err != nil {
		return err
	}
	logger.Info("registered", "user_id", session.UserID())
	fmt.Printf("Account created, signed in as %s\n", session.User.DisplayName())
	return nil
}

func runLogout(cfg *model.AppConfig, logger *slog.Logger) error {
	vault, err := openVault()
	if err != nil {
		return err
	}
	session, err := vault.Load()
	if err != nil && !errors.Is(err, credential.ErrNoSession) {
		return err
	}

	var errs []error
	if userID := session.UserID(); userID != "" && cfg.Cache.Enabled {
		if db, err := store.NewSQLiteStore(cfg.Cache.Path); err == nil {
			errs = append(errs, db.ClearUser(context.Background(), userID))
			_ = db.Close()
		} else {
			logger.Warn("snapshot cache unavailable", "path", cfg.Cache.Path, "error", err)
		}
	}
	errs = append(errs, vault.Clear())
	if err := errors.Join(errs...); err != nil {
		return err
	}
	fmt.Println("Signed out.")
	return nil
}

func runWhoami(cfg *model.AppConfig) error {
	vault, err := openVault()
	if err != nil {
		return err
	}
	session, err := vault.Load()
	if errors.Is(err, credential.ErrNoSession) {
		fmt.Println("Not signed in.")
		return nil
	}
	if err != nil {
		return err
	}
	u := session.User
	fmt.Printf("%s <%s>\nrole: %s\nid:   %s\napi:  %s\n", u.DisplayName(), u.Email, u.Role, u.ID, cfg.API.BaseURL)

	if line := cacheLine(cfg, u.ID); line != "" {
		fmt.Println(line)
	}
	return nil
}

// cacheLine describes the snapshot cache for userID, or returns "" when
// there is nothing to report.
func cacheLine(cfg *model.AppConfig, userID string) string {
	if !cfg.Cache.Enabled {
		return ""
	}
	if _, err := os.Stat(cfg.Cache.Path); err != nil {
		return ""
	}
	db, err := store.NewSQLiteStore(cfg.Cache.Path)
	if err != nil {
		return ""
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()
	sum, err := store.Summarize(ctx, db, userID)
	if err != nil || sum.LastSaved().IsZero() {
		return ""
	}
	return formatSummary(sum)
}

func formatSummary(sum store.Summary) string {
	return fmt.Sprintf("sync: %s (%d unread, %d open raised, %d open assigned)",
		sum.LastSaved().Local().Format("2006-01-02 15:04"), sum.Unread, sum.OpenRaised, sum.OpenAssigned)
}

// runWatch mounts the stored session headlessly and prints every sync
// event until interrupted.
func runWatch(cfg *model.AppConfig, logger *slog.Logger) error {
	s, err := setup(cfg, logger)
	if err != nil {
		return err
	}
	defer s.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	session, err := s.coord.Resume(ctx)
	if errors.Is(err, credential.ErrNoSession) {
		return errors.New("not signed in, run `ticketdesk login` first")
	}
	if err != nil {
		return err
	}
	fmt.Printf("watching as %s, ctrl+c to stop\n", session.User.DisplayName())

	notes, cache := s.coord.Notes(), s.coord.Tickets()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg := <-s.coord.Events():
			line := describe(msg, notes, cache)
			if line == "" {
				continue
			}
			fmt.Printf("%s  %s\n", time.Now().Format("15:04:05"), line)
			if _, expired := msg.(appsync.AuthExpiredMsg); expired {
				return errors.New("session expired, sign in again")
			}
		}
	}
}

// describe renders one bridged message for the watch command.
func describe(msg any, notes *notify.Store, cache *tickets.Cache) string {
	switch m := msg.(type) {
	case appsync.ConnStatusMsg:
		return "connection " + m.Status.String()
	case appsync.NotificationsMsg:
		if m.Event.Kind == notify.EventState {
			return ""
		}
		line := fmt.Sprintf("notifications %s (%d total, %d unread)", m.Event.Kind, len(notes.List()), notes.UnreadCount())
		if n, ok := notes.Get(m.Event.ID); ok && m.Event.Kind == notify.EventAdded {
			line += ": " + n.Title
		}
		return line
	case appsync.TicketsMsg:
		if m.Event.Kind == tickets.EventState {
			return ""
		}
		line := fmt.Sprintf("tickets %s (%d raised, %d assigned)", m.Event.Kind,
			len(cache.Raised(tickets.Filter{})), len(cache.Assigned(tickets.Filter{})))
		if t, ok := cache.Get(m.Event.ID); ok {
			line += fmt.Sprintf(": %s [%s]", t.Title, t.Status)
		}
		return line
	case appsync.SessionMsg:
		if m.Session.Active() {
			return "session mounted for " + m.Session.UserID()
		}
		return "session ended"
	case appsync.AuthExpiredMsg:
		return "server rejected the session: " + m.Err.Error()
	default:
		return ""
	}
}

// adminClient returns a client authenticated with the stored session.
func adminClient(cfg *model.AppConfig) (*api.Client, error) {
	vault, err := openVault()
	if err != nil {
		return nil, err
	}
	session, err := vault.Load()
	if errors.Is(err, credential.ErrNoSession) {
		return nil, errors.New("not signed in, run `ticketdesk login` first")
	}
	if err != nil {
		return nil, err
	}
	if !session.User.Role.IsAdmin() {
		return nil, fmt.Errorf("%s is not an admin", session.User.DisplayName())
	}
	return api.NewClient(cfg.API, session.Token), nil
}

func runReports(cfg *model.AppConfig) error {
	client, err := adminClient(cfg)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()

	r, err := client.AdminReports(ctx)
	if err != nil {
		return err
	}
	t := newTable("Metric", "Tickets").Rows(
		[]string{"Total", strconv.Itoa(r.TotalTickets)},
		[]string{"Open", strconv.Itoa(r.Open)},
		[]string{"Resolved", strconv.Itoa(r.Resolved)},
		[]string{"High priority", strconv.Itoa(r.High)},
		[]string{"Medium priority", strconv.Itoa(r.Medium)},
		[]string{"Low priority", strconv.Itoa(r.Low)},
	)
	fmt.Println(t.Render())
	return nil
}

func runUsers(cfg *model.AppConfig, args []string) error {
	var f api.UserFilter
	var priority, after, before string
	fs := pflag.NewFlagSet("users", pflag.ContinueOnError)
	fs.StringVar(&f.Role, "role", "", "only users with this role ("+roleList()+")")
	fs.StringVar(&priority, "priority", "", "only users with tickets of this priority")
	fs.StringVar(&after, "assigned-after", "", "only tickets assigned after YYYY-MM-DD")
	fs.StringVar(&before, "resolved-before", "", "only tickets resolved before YYYY-MM-DD")
	if err := fs.Parse(args); err != nil {
		return err
	}
	f.Priority = model.Priority(priority)
	var err error
	if f.AssignedAfter, err = parseDate(after); err != nil {
		return fmt.Errorf("--assigned-after: %w", err)
	}
	if f.ResolvedBefore, err = parseDate(before); err != nil {
		return fmt.Errorf("--resolved-before: %w", err)
	}

	client, err := adminClient(cfg)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()

	users, err := client.AdminUsers(ctx, f)
	if err != nil {
		return err
	}
	t := newTable("Name", "Email", "Role", "Raised", "Resolved")
	for _, u := range users {
		t.Row(u.Name, u.Email, u.Role, strconv.Itoa(u.TicketsRaised), strconv.Itoa(u.TicketsResolved))
	}
	fmt.Println(t.Render())
	return nil
}

func parseDate(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return time.Parse("2006-01-02", s)
}

func newTable(headers ...string) *table.Table {
	return table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(lipgloss.Color("240"))).
		Headers(headers...)
}
