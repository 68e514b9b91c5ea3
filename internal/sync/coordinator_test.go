package sync

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/99designs/keyring"
	json "github.com/goccy/go-json"
	"github.com/golang-jwt/jwt/v5"
	"github.com/olahol/melody"

	"github.com/nhle/ticketdesk/internal/api"
	"github.com/nhle/ticketdesk/internal/credential"
	"github.com/nhle/ticketdesk/internal/model"
	"github.com/nhle/ticketdesk/internal/notify"
	"github.com/nhle/ticketdesk/internal/realtime"
	"github.com/nhle/ticketdesk/internal/store"
	"github.com/nhle/ticketdesk/internal/testutil"
	"github.com/nhle/ticketdesk/internal/tickets"
)

const waitFor = 3 * time.Second

const (
	notesBody   = `[{"_id":"n1","title":"Ticket assigned","ticket":"t1","read":false}]`
	ticketsBody = `{"raised":[{"_id":"t1","title":"VPN","createdBy":"u1","assignedTo":"u2","status":"open","priority":"high"}],"assigned":[]}`
)

// backend fakes the REST API and the push socket on one server.
type backend struct {
	srv   *httptest.Server
	m     *melody.Melody
	joins chan realtime.JoinPayload
	token string

	noteHits     atomic.Int32
	rejectSocket atomic.Bool
	unauthorized atomic.Bool
	gate         chan struct{}
}

func signToken(t *testing.T) string {
	t.Helper()
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"id":  "u1",
		"exp": time.Now().Add(time.Hour).Unix(),
	}).SignedString([]byte("secret"))
	if err != nil {
		t.Fatal(err)
	}
	return tok
}

func newBackend(t *testing.T) *backend {
	t.Helper()
	b := &backend{
		m:     melody.New(),
		joins: make(chan realtime.JoinPayload, 8),
		token: signToken(t),
	}
	b.m.HandleMessage(func(_ *melody.Session, msg []byte) {
		var env realtime.Envelope
		if json.Unmarshal(msg, &env) != nil || env.Event != realtime.EventJoin {
			return
		}
		var join realtime.JoinPayload
		if json.Unmarshal(env.Data, &join) == nil {
			b.joins <- join
		}
	})

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		if b.rejectSocket.Load() {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		b.m.HandleRequest(w, r) //nolint:errcheck
	})
	mux.HandleFunc("POST /api/auth/login", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"token":"`+b.token+`","user":{"_id":"u1","name":"Ann","email":"ann@example.com","role":"employee"}}`) //nolint:errcheck
	})
	mux.HandleFunc("GET /api/notifications", func(w http.ResponseWriter, r *http.Request) {
		b.noteHits.Add(1)
		if !b.wait(r) {
			return
		}
		if b.unauthorized.Load() {
			w.WriteHeader(http.StatusUnauthorized)
			io.WriteString(w, `{"message":"token expired"}`) //nolint:errcheck
			return
		}
		io.WriteString(w, notesBody) //nolint:errcheck
	})
	mux.HandleFunc("GET /api/tickets", func(w http.ResponseWriter, r *http.Request) {
		if !b.wait(r) {
			return
		}
		io.WriteString(w, ticketsBody) //nolint:errcheck
	})

	b.srv = httptest.NewServer(mux)
	t.Cleanup(func() {
		b.m.Close() //nolint:errcheck
		b.srv.Close()
	})
	return b
}

// wait blocks on the gate, if any. It reports false when the client
// went away first.
func (b *backend) wait(r *http.Request) bool {
	if b.gate == nil {
		return true
	}
	select {
	case <-b.gate:
		return true
	case <-r.Context().Done():
		return false
	}
}

func newTestCoordinator(t *testing.T, b *backend, cache store.Store, resync time.Duration) *Coordinator {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	client := api.NewClient(model.APIConfig{BaseURL: b.srv.URL + "/api"}, "")
	notes := notify.New(client, nil, logger)
	tix := tickets.New(client, tickets.Options{}, logger)
	hub := realtime.NewHub(realtime.Config{
		URL:            "ws" + strings.TrimPrefix(b.srv.URL, "http") + "/ws",
		InitialBackoff: 10 * time.Millisecond,
		MaxBackoff:     20 * time.Millisecond,
	}, notes, tix, logger)

	c := NewCoordinator(Deps{
		Client:          client,
		Vault:           credential.NewVault(keyring.NewArrayKeyring(nil)),
		Notes:           notes,
		Tickets:         tix,
		Hub:             hub,
		Cache:           cache,
		Logger:          logger,
		ResyncInterval:  resync,
		PersistInterval: 10 * time.Millisecond,
	})
	t.Cleanup(c.Close)
	return c
}

var credentials = api.LoginRequest{Email: "ann@example.com", Password: "hunter22"}

// waitMsg reads bridged messages until one of type T arrives.
func waitMsg[T any](t *testing.T, c *Coordinator) T {
	t.Helper()
	deadline := time.After(waitFor)
	for {
		select {
		case msg := <-c.Events():
			if v, ok := msg.(T); ok {
				return v
			}
		case <-deadline:
			var zero T
			t.Fatalf("timed out waiting for %T", zero)
			return zero
		}
	}
}

func TestLoginMountsSession(t *testing.T) {
	b := newBackend(t)
	c := newTestCoordinator(t, b, nil, time.Hour)

	session, err := c.Login(context.Background(), credentials)
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if session.UserID() != "u1" || c.Session().UserID() != "u1" {
		t.Errorf("session = %+v", session)
	}
	if c.Client().Token() != b.token {
		t.Error("client token not set")
	}

	saved, err := c.deps.Vault.Load()
	if err != nil || saved.Token != b.token {
		t.Errorf("vault = %+v, %v", saved, err)
	}

	join := testutil.RequireReceive(t, b.joins, waitFor, "join")
	if join.UserID != "u1" {
		t.Errorf("join userId = %q", join.UserID)
	}
	testutil.RequireEventually(t, waitFor, func() bool {
		return len(c.Notes().List()) == 1 && len(c.Tickets().Raised(tickets.Filter{})) == 1
	}, "initial fetch")

	testutil.RequireEventually(t, waitFor, func() bool {
		return c.Status() == realtime.StatusConnected
	}, "push connection up")
}

func TestPushReachesStores(t *testing.T) {
	b := newBackend(t)
	c := newTestCoordinator(t, b, nil, time.Hour)
	if _, err := c.Login(context.Background(), credentials); err != nil {
		t.Fatal(err)
	}
	testutil.RequireReceive(t, b.joins, waitFor, "join")
	testutil.RequireEventually(t, waitFor, func() bool {
		return len(c.Notes().List()) == 1
	}, "initial fetch")

	frame, _ := realtime.Encode(realtime.EventNotification, map[string]any{"_id": "n2", "title": "Resolved"})
	b.m.Broadcast(frame) //nolint:errcheck

	testutil.RequireEventually(t, waitFor, func() bool {
		list := c.Notes().List()
		return len(list) == 2 && list[0].ID == "n2"
	}, "pushed notification at head")
	if n := c.Notes().UnreadCount(); n != 2 {
		t.Errorf("UnreadCount = %d, want 2", n)
	}

	for {
		msg := waitMsg[NotificationsMsg](t, c)
		if msg.Event.Kind == notify.EventAdded && msg.Event.ID == "n2" {
			break
		}
	}
}

func TestMountRestoresCachedSnapshot(t *testing.T) {
	b := newBackend(t)
	b.gate = make(chan struct{})
	cache := testutil.NewTestStore(t)
	ctx := context.Background()

	cached := []model.Notification{{ID: "old", Title: "from last run"}}
	if err := cache.SaveNotifications(ctx, "u1", cached); err != nil {
		t.Fatal(err)
	}
	raised := []model.Ticket{{ID: "t0", Title: "cached", Status: model.StatusOpen}}
	if err := cache.SaveTickets(ctx, "u1", raised, nil); err != nil {
		t.Fatal(err)
	}

	c := newTestCoordinator(t, b, cache, time.Hour)
	t.Cleanup(func() { close(b.gate) })
	if sum, err := c.CacheSummary(ctx); err != nil || !sum.LastSaved().IsZero() {
		t.Errorf("CacheSummary before mount = %+v, %v", sum, err)
	}
	session := model.Session{Token: b.token, User: &model.User{ID: "u1"}}
	if err := c.Mount(ctx, session); err != nil {
		t.Fatal(err)
	}

	if list := c.Notes().List(); len(list) != 1 || list[0].ID != "old" {
		t.Errorf("notifications before fetch = %+v", list)
	}
	if raised := c.Tickets().Raised(tickets.Filter{}); len(raised) != 1 || raised[0].ID != "t0" {
		t.Errorf("raised before fetch = %+v", raised)
	}

	sum, err := c.CacheSummary(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if sum.Unread != 1 || sum.OpenRaised != 1 || sum.LastSaved().IsZero() {
		t.Errorf("CacheSummary = %+v", sum)
	}
}

func TestSnapshotPersisted(t *testing.T) {
	b := newBackend(t)
	cache := testutil.NewTestStore(t)
	c := newTestCoordinator(t, b, cache, time.Hour)
	if _, err := c.Login(context.Background(), credentials); err != nil {
		t.Fatal(err)
	}

	testutil.RequireEventually(t, waitFor, func() bool {
		notes, _ := cache.LoadNotifications(context.Background(), "u1")
		raised, _, _ := cache.LoadTickets(context.Background(), "u1")
		return len(notes) == 1 && len(raised) == 1
	}, "snapshot written to cache")
}

func TestLogoutClearsEverything(t *testing.T) {
	b := newBackend(t)
	cache := testutil.NewTestStore(t)
	c := newTestCoordinator(t, b, cache, time.Hour)
	ctx := context.Background()

	session, err := c.Login(ctx, credentials)
	if err != nil {
		t.Fatal(err)
	}
	testutil.RequireEventually(t, waitFor, func() bool {
		notes, _ := cache.LoadNotifications(ctx, "u1")
		return len(notes) == 1
	}, "snapshot written")

	if err := c.Logout(ctx); err != nil {
		t.Fatalf("Logout: %v", err)
	}

	if c.Session().Active() {
		t.Error("session still mounted")
	}
	if len(c.Notes().List()) != 0 || len(c.Tickets().Raised(tickets.Filter{})) != 0 {
		t.Error("stores not reset")
	}
	if c.Client().Token() != "" {
		t.Error("client still carries token")
	}
	if _, err := c.deps.Vault.Load(); !errors.Is(err, credential.ErrNoSession) {
		t.Errorf("vault after logout: %v", err)
	}
	if c.deps.Hub.Refs(session) != 0 {
		t.Error("push connection still held")
	}
	if c.Status() != realtime.StatusDisconnected {
		t.Errorf("Status = %s", c.Status())
	}
	notes, _ := cache.LoadNotifications(ctx, "u1")
	if len(notes) != 0 {
		t.Errorf("cache still holds %d notifications", len(notes))
	}
}

func TestResumeWithoutCredentials(t *testing.T) {
	b := newBackend(t)
	c := newTestCoordinator(t, b, nil, time.Hour)

	_, err := c.Resume(context.Background())
	if !errors.Is(err, credential.ErrNoSession) {
		t.Fatalf("Resume = %v, want ErrNoSession", err)
	}
	if c.Session().Active() {
		t.Error("session mounted without credentials")
	}
	time.Sleep(50 * time.Millisecond)
	if n := b.noteHits.Load(); n != 0 {
		t.Errorf("%d requests made while signed out", n)
	}
}

func TestResumePersistedSession(t *testing.T) {
	b := newBackend(t)
	c := newTestCoordinator(t, b, nil, time.Hour)
	if err := c.deps.Vault.Save(model.Session{Token: b.token, User: &model.User{ID: "u1", Name: "Ann"}}); err != nil {
		t.Fatal(err)
	}

	session, err := c.Resume(context.Background())
	if err != nil {
		t.Fatalf("Resume: %v", err)
	}
	if session.UserID() != "u1" {
		t.Errorf("resumed %+v", session)
	}
	testutil.RequireReceive(t, b.joins, waitFor, "join after resume")
	testutil.RequireEventually(t, waitFor, func() bool {
		return len(c.Notes().List()) == 1
	}, "fetch after resume")
}

func TestMountInactiveIsInert(t *testing.T) {
	b := newBackend(t)
	c := newTestCoordinator(t, b, nil, 10*time.Millisecond)

	if err := c.Mount(context.Background(), model.Session{Token: "tok"}); err != nil {
		t.Fatal(err)
	}
	time.Sleep(50 * time.Millisecond)
	if n := b.noteHits.Load(); n != 0 {
		t.Errorf("%d fetches for an inactive session", n)
	}
	if c.Session().Active() {
		t.Error("inactive session mounted")
	}
}

func TestResyncWhileDisconnected(t *testing.T) {
	b := newBackend(t)
	b.rejectSocket.Store(true)
	c := newTestCoordinator(t, b, nil, 20*time.Millisecond)

	if _, err := c.Login(context.Background(), credentials); err != nil {
		t.Fatal(err)
	}
	testutil.RequireEventually(t, waitFor, func() bool {
		return b.noteHits.Load() >= 3
	}, "periodic resync while offline")
}

func TestAuthExpired(t *testing.T) {
	b := newBackend(t)
	b.unauthorized.Store(true)
	c := newTestCoordinator(t, b, nil, time.Hour)

	if _, err := c.Login(context.Background(), credentials); err != nil {
		t.Fatal(err)
	}
	msg := waitMsg[AuthExpiredMsg](t, c)
	if !api.IsAuthError(msg.Err) {
		t.Errorf("AuthExpiredMsg.Err = %v", msg.Err)
	}
}
