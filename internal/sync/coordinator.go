// Package sync ties the notification store, ticket cache and push
// connection to one signed-in session and bridges their events into the
// Bubble Tea runtime.
package sync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	gosync "sync"
	"sync/atomic"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/nhle/ticketdesk/internal/api"
	"github.com/nhle/ticketdesk/internal/credential"
	"github.com/nhle/ticketdesk/internal/model"
	"github.com/nhle/ticketdesk/internal/notify"
	"github.com/nhle/ticketdesk/internal/realtime"
	"github.com/nhle/ticketdesk/internal/store"
	"github.com/nhle/ticketdesk/internal/tickets"
)

// NotificationsMsg is a tea.Msg sent after the notification store changed.
type NotificationsMsg struct {
	Event notify.Event
}

// TicketsMsg is a tea.Msg sent after the ticket cache changed.
type TicketsMsg struct {
	Event tickets.Event
}

// ConnStatusMsg is a tea.Msg sent on every push connection transition.
type ConnStatusMsg struct {
	Status realtime.Status
}

// SessionMsg is a tea.Msg sent when a session is mounted or, with an
// inactive Session, unmounted.
type SessionMsg struct {
	Session model.Session
}

// AuthExpiredMsg is a tea.Msg sent when the server rejected the token.
type AuthExpiredMsg struct {
	Err error
}

const (
	defaultResync  = 60 * time.Second
	defaultPersist = 500 * time.Millisecond

	// refreshTimeout is the maximum time allowed for one full refetch.
	refreshTimeout = 30 * time.Second
)

// Deps are the services a Coordinator drives.
type Deps struct {
	Client  *api.Client
	Vault   *credential.Vault
	Notes   *notify.Store
	Tickets *tickets.Cache
	Hub     *realtime.Hub

	// Cache persists snapshots between runs. Nil disables persistence.
	Cache store.Store

	Logger *slog.Logger

	// ResyncInterval is how often to refetch while the push connection
	// is down.
	ResyncInterval time.Duration

	// PersistInterval is how often changed lists are written to Cache.
	PersistInterval time.Duration
}

// Coordinator owns the lifetime of one signed-in session at a time.
type Coordinator struct {
	deps   Deps
	logger *slog.Logger

	noteEvents   <-chan notify.Event
	ticketEvents <-chan tickets.Event
	msgCh        chan tea.Msg
	closeCh      chan struct{}
	pumpDone     chan struct{}

	dirtyNotes   atomic.Bool
	dirtyTickets atomic.Bool
	refreshing   atomic.Bool

	mu      gosync.Mutex
	session model.Session
	conn    *realtime.Conn
	cancel  context.CancelFunc
	wg      gosync.WaitGroup
	closed  bool
}

// NewCoordinator wires the services together. Nothing is mounted until
// Resume, Mount or Login is called.
func NewCoordinator(deps Deps) *Coordinator {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.ResyncInterval <= 0 {
		deps.ResyncInterval = defaultResync
	}
	if deps.PersistInterval <= 0 {
		deps.PersistInterval = defaultPersist
	}
	c := &Coordinator{
		deps:         deps,
		logger:       deps.Logger.With("component", "sync"),
		noteEvents:   deps.Notes.Subscribe(),
		ticketEvents: deps.Tickets.Subscribe(),
		msgCh:        make(chan tea.Msg, 128),
		closeCh:      make(chan struct{}),
		pumpDone:     make(chan struct{}),
	}
	go c.pump()
	return c
}

// Notes returns the notification store.
func (c *Coordinator) Notes() *notify.Store { return c.deps.Notes }

// Tickets returns the ticket cache.
func (c *Coordinator) Tickets() *tickets.Cache { return c.deps.Tickets }

// Client returns the shared REST client.
func (c *Coordinator) Client() *api.Client { return c.deps.Client }

// Session returns the mounted session, or an inactive one.
func (c *Coordinator) Session() model.Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session
}

// Status returns the push connection state.
func (c *Coordinator) Status() realtime.Status {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return realtime.StatusDisconnected
	}
	return conn.Status()
}

// Resume mounts the session persisted by a previous run. It returns
// credential.ErrNoSession when nobody is signed in.
func (c *Coordinator) Resume(ctx context.Context) (model.Session, error) {
	session, err := c.deps.Vault.Load()
	if err != nil {
		return model.Session{}, err
	}
	if err := c.Mount(ctx, session); err != nil {
		return model.Session{}, err
	}
	return session, nil
}

// Login signs in, persists the session and mounts it.
func (c *Coordinator) Login(ctx context.Context, req api.LoginRequest) (model.Session, error) {
	resp, err := c.deps.Client.Login(ctx, req)
	if err != nil {
		return model.Session{}, err
	}
	return c.signIn(ctx, resp.Session())
}

// Register creates an account. When the server signs the new user in
// directly the session is mounted; otherwise the returned session is
// inactive and the caller should ask the user to log in.
func (c *Coordinator) Register(ctx context.Context, req api.RegisterRequest) (model.Session, error) {
	resp, err := c.deps.Client.Register(ctx, req)
	if err != nil {
		return model.Session{}, err
	}
	session := resp.Session()
	if !session.Active() {
		return session, nil
	}
	return c.signIn(ctx, session)
}

func (c *Coordinator) signIn(ctx context.Context, session model.Session) (model.Session, error) {
	if err := c.deps.Vault.Save(session); err != nil {
		return model.Session{}, fmt.Errorf("saving session: %w", err)
	}
	c.Unmount()
	c.deps.Notes.Reset()
	c.deps.Tickets.Reset()
	if err := c.Mount(ctx, session); err != nil {
		return model.Session{}, err
	}
	c.logger.Info("signed in", "user_id", session.UserID())
	return session, nil
}

// Logout unmounts the session, clears both stores and forgets the
// persisted credentials and cached lists.
func (c *Coordinator) Logout(ctx context.Context) error {
	userID := c.Session().UserID()
	c.Unmount()
	c.deps.Notes.Reset()
	c.deps.Tickets.Reset()
	c.deps.Tickets.SetUser("")
	c.deps.Client.SetToken("")
	c.dirtyNotes.Store(false)
	c.dirtyTickets.Store(false)

	var errs []error
	if err := c.deps.Vault.Clear(); err != nil {
		errs = append(errs, fmt.Errorf("clearing credentials: %w", err))
	}
	if c.deps.Cache != nil && userID != "" {
		if err := c.deps.Cache.ClearUser(ctx, userID); err != nil {
			errs = append(errs, err)
		}
	}
	c.send(SessionMsg{})
	c.logger.Info("signed out", "user_id", userID)
	return errors.Join(errs...)
}

// Mount activates session: the cached snapshot is shown, a full fetch
// starts in the background and the push connection is acquired. An
// inactive session leaves everything inert.
func (c *Coordinator) Mount(ctx context.Context, session model.Session) error {
	if !session.Active() {
		c.logger.Debug("mount skipped, session inactive")
		return nil
	}
	c.Unmount()

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return errors.New("coordinator closed")
	}
	c.mu.Unlock()

	c.deps.Client.SetToken(session.Token)
	c.deps.Tickets.SetUser(session.UserID())
	c.restore(ctx, session.UserID())

	conn := c.deps.Hub.Acquire(session)
	statuses := conn.Subscribe()

	runCtx, cancel := context.WithCancel(context.Background())
	c.mu.Lock()
	c.session = session
	c.conn = conn
	c.cancel = cancel
	c.mu.Unlock()

	c.wg.Go(func() { c.refresh(runCtx) })
	c.wg.Go(func() { c.run(runCtx, session, statuses, conn.Status()) })

	c.send(SessionMsg{Session: session})
	return nil
}

// Unmount stops background work for the mounted session and releases
// its push connection. Store contents are kept.
func (c *Coordinator) Unmount() {
	c.mu.Lock()
	session, cancel := c.session, c.cancel
	c.session = model.Session{}
	c.conn = nil
	c.cancel = nil
	c.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	c.wg.Wait()
	c.deps.Hub.Release(session)
}

// Retry restarts a push connection that gave up.
func (c *Coordinator) Retry() {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn != nil {
		conn.Retry()
	}
}

// CacheSummary reports what the snapshot cache holds for the mounted
// user. It returns a zero Summary when nobody is mounted or caching is
// disabled.
func (c *Coordinator) CacheSummary(ctx context.Context) (store.Summary, error) {
	userID := c.Session().UserID()
	if c.deps.Cache == nil || userID == "" {
		return store.Summary{}, nil
	}
	return store.Summarize(ctx, c.deps.Cache, userID)
}

// Refresh refetches both lists for the mounted session.
func (c *Coordinator) Refresh(ctx context.Context) error {
	if !c.Session().Active() {
		return nil
	}
	return c.refresh(ctx)
}

// CreateTicket raises a ticket through the cache and then refetches
// notifications, since the server may have generated some for it.
func (c *Coordinator) CreateTicket(ctx context.Context, req api.CreateTicketRequest) (*model.Ticket, error) {
	t, err := c.deps.Tickets.Create(ctx, req)
	if err != nil {
		return nil, err
	}
	if err := c.deps.Notes.Fetch(ctx); err != nil {
		c.logger.Debug("refetching notifications after create", "error", err)
	}
	return t, nil
}

// Events returns the channel carrying every bridged tea.Msg. Use it
// outside Bubble Tea; inside, use WaitForNext.
func (c *Coordinator) Events() <-chan tea.Msg {
	return c.msgCh
}

// WaitForNext returns a tea.Cmd that waits for the next bridged message.
// Call it again after handling each message to keep listening.
func (c *Coordinator) WaitForNext() tea.Cmd {
	return func() tea.Msg {
		select {
		case msg := <-c.msgCh:
			return msg
		case <-c.closeCh:
			return nil
		}
	}
}

// Close unmounts, flushes pending snapshots and stops the hub.
func (c *Coordinator) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.mu.Unlock()

	c.Unmount()
	close(c.closeCh)
	<-c.pumpDone
	c.deps.Hub.Close()
}

// refresh runs both fetches concurrently. Overlapping calls are skipped.
func (c *Coordinator) refresh(ctx context.Context) error {
	if !c.refreshing.CompareAndSwap(false, true) {
		return nil
	}
	defer c.refreshing.Store(false)

	ctx, cancel := context.WithTimeout(ctx, refreshTimeout)
	defer cancel()

	var wg gosync.WaitGroup
	var noteErr, ticketErr error
	wg.Go(func() { noteErr = c.deps.Notes.Fetch(ctx) })
	wg.Go(func() { ticketErr = c.deps.Tickets.Load(ctx) })
	wg.Wait()

	err := errors.Join(noteErr, ticketErr)
	if api.IsAuthError(err) {
		c.logger.Warn("session rejected by server", "error", err)
		c.send(AuthExpiredMsg{Err: err})
	}
	return err
}

// run drives resync and persistence for one mounted session.
func (c *Coordinator) run(
	ctx context.Context,
	session model.Session,
	statuses <-chan realtime.Status,
	initial realtime.Status,
) {
	resync := time.NewTicker(c.deps.ResyncInterval)
	defer resync.Stop()
	persist := time.NewTicker(c.deps.PersistInterval)
	defer persist.Stop()

	userID := session.UserID()
	connected := initial == realtime.StatusConnected
	dropped := false

	for {
		select {
		case <-ctx.Done():
			flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			c.flush(flushCtx, userID)
			cancel()
			return

		case st := <-statuses:
			c.send(ConnStatusMsg{Status: st})
			switch st {
			case realtime.StatusConnected:
				connected = true
				if dropped {
					// Events sent while we were away are lost; catch up.
					dropped = false
					c.wg.Go(func() { c.refresh(ctx) })
				}
			case realtime.StatusBackoff, realtime.StatusFailed:
				if connected {
					dropped = true
				}
				connected = false
			}

		case <-resync.C:
			if !connected {
				c.logger.Debug("resyncing while push connection is down")
				c.wg.Go(func() { c.refresh(ctx) })
			}

		case <-persist.C:
			c.flush(ctx, userID)
		}
	}
}

// restore seeds empty stores from the persisted snapshot.
func (c *Coordinator) restore(ctx context.Context, userID string) {
	if c.deps.Cache == nil {
		return
	}
	notes, err := c.deps.Cache.LoadNotifications(ctx, userID)
	if err != nil {
		c.logger.Warn("loading cached notifications", "error", err)
	} else if len(notes) > 0 {
		c.deps.Notes.Restore(notes)
	}

	raised, assigned, err := c.deps.Cache.LoadTickets(ctx, userID)
	if err != nil {
		c.logger.Warn("loading cached tickets", "error", err)
	} else if len(raised)+len(assigned) > 0 {
		c.deps.Tickets.Restore(raised, assigned)
	}
}

// flush writes lists that changed since the last flush.
func (c *Coordinator) flush(ctx context.Context, userID string) {
	if c.deps.Cache == nil {
		return
	}
	if c.dirtyNotes.Swap(false) {
		if err := c.deps.Cache.SaveNotifications(ctx, userID, c.deps.Notes.List()); err != nil {
			c.logger.Warn("persisting notifications", "error", err)
		}
	}
	if c.dirtyTickets.Swap(false) {
		all := tickets.Filter{}
		err := c.deps.Cache.SaveTickets(ctx, userID, c.deps.Tickets.Raised(all), c.deps.Tickets.Assigned(all))
		if err != nil {
			c.logger.Warn("persisting tickets", "error", err)
		}
	}
}

// pump forwards store events to msgCh and marks lists for persistence.
func (c *Coordinator) pump() {
	defer close(c.pumpDone)
	for {
		select {
		case <-c.closeCh:
			return
		case ev := <-c.noteEvents:
			if ev.Kind != notify.EventState && ev.Kind != notify.EventReset {
				c.dirtyNotes.Store(true)
			}
			c.send(NotificationsMsg{Event: ev})
		case ev := <-c.ticketEvents:
			if ev.Kind != tickets.EventState && ev.Kind != tickets.EventReset {
				c.dirtyTickets.Store(true)
			}
			c.send(TicketsMsg{Event: ev})
		}
	}
}

// send delivers msg without blocking. Views re-read the stores on
// every message, so a dropped one only delays a redraw.
func (c *Coordinator) send(msg tea.Msg) {
	select {
	case c.msgCh <- msg:
	default:
	}
}
