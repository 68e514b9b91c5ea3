package notify

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/nhle/ticketdesk/internal/model"
	"github.com/nhle/ticketdesk/internal/testutil"
)

// fakeRemote records calls and returns canned results. When gate is
// non-nil, ListNotifications blocks until it is closed. A write named in
// hold announces itself on held and returns whatever its channel sends.
type fakeRemote struct {
	mu      sync.Mutex
	list    []model.Notification
	listErr error
	failOps bool
	gate    chan struct{}
	entered chan struct{}
	hold    map[string]chan error
	held    chan string
	calls   []string
}

func (f *fakeRemote) called(name string) error {
	f.mu.Lock()
	f.calls = append(f.calls, name)
	wait, ok := f.hold[name]
	fail := f.failOps
	f.mu.Unlock()
	if ok {
		f.held <- name
		return <-wait
	}
	if fail {
		return errors.New("backend unavailable")
	}
	return nil
}

func (f *fakeRemote) ListNotifications(ctx context.Context) ([]model.Notification, error) {
	if f.entered != nil {
		f.entered <- struct{}{}
	}
	if f.gate != nil {
		<-f.gate
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]model.Notification(nil), f.list...), f.listErr
}

func (f *fakeRemote) MarkNotificationRead(ctx context.Context, id string) error {
	return f.called("read:" + id)
}

func (f *fakeRemote) MarkAllNotificationsRead(ctx context.Context) error {
	return f.called("read-all")
}

func (f *fakeRemote) DeleteNotification(ctx context.Context, id string) error {
	return f.called("delete:" + id)
}

func (f *fakeRemote) ClearNotifications(ctx context.Context) error {
	return f.called("clear")
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func note(id string) model.Notification {
	return model.Notification{ID: id, Title: "notification " + id}
}

func ids(ns []model.Notification) []string {
	out := make([]string, len(ns))
	for i, n := range ns {
		out[i] = n.ID
	}
	return out
}

func equalIDs(t *testing.T, got []model.Notification, want ...string) {
	t.Helper()
	g := ids(got)
	if len(g) != len(want) {
		t.Fatalf("ids = %v, want %v", g, want)
	}
	for i := range want {
		if g[i] != want[i] {
			t.Fatalf("ids = %v, want %v", g, want)
		}
	}
}

func TestAddGrowsByOnePerCall(t *testing.T) {
	remote := &fakeRemote{list: []model.Notification{note("a"), note("b")}}
	s := New(remote, nil, discardLogger())
	if err := s.Fetch(context.Background()); err != nil {
		t.Fatal(err)
	}

	s.Add(note("c"))
	s.Add(note("c"))
	s.Add(note("a"))

	if got := len(s.List()); got != 5 {
		t.Errorf("len = %d, want 2 + 3", got)
	}
	equalIDs(t, s.List(), "a", "c", "c", "a", "b")
}

func TestFetchThenPushOrder(t *testing.T) {
	remote := &fakeRemote{list: []model.Notification{note("n1")}}
	s := New(remote, nil, discardLogger())

	if err := s.Fetch(context.Background()); err != nil {
		t.Fatal(err)
	}
	s.Add(note("n2"))

	equalIDs(t, s.List(), "n2", "n1")
}

func TestMarkAsReadOnlyTouchesTarget(t *testing.T) {
	remote := &fakeRemote{list: []model.Notification{note("a"), note("b"), note("c")}}
	s := New(remote, nil, discardLogger())
	if err := s.Fetch(context.Background()); err != nil {
		t.Fatal(err)
	}

	if err := s.MarkAsRead(context.Background(), "b"); err != nil {
		t.Fatalf("MarkAsRead: %v", err)
	}
	for _, n := range s.List() {
		if n.Read != (n.ID == "b") {
			t.Errorf("%s.Read = %v", n.ID, n.Read)
		}
	}
	if got := s.UnreadCount(); got != 2 {
		t.Errorf("UnreadCount = %d, want 2", got)
	}
}

func TestRemoteFirstFailureLeavesStateUntouched(t *testing.T) {
	remote := &fakeRemote{list: []model.Notification{note("a"), note("b")}}
	s := New(remote, nil, discardLogger())
	if err := s.Fetch(context.Background()); err != nil {
		t.Fatal(err)
	}
	remote.failOps = true

	ctx := context.Background()
	if err := s.MarkAsRead(ctx, "a"); err == nil {
		t.Error("MarkAsRead: want error")
	}
	if err := s.MarkAllAsRead(ctx); err == nil {
		t.Error("MarkAllAsRead: want error")
	}
	if err := s.Delete(ctx, "a"); err == nil {
		t.Error("Delete: want error")
	}
	if err := s.ClearAll(ctx); err == nil {
		t.Error("ClearAll: want error")
	}

	equalIDs(t, s.List(), "a", "b")
	if s.UnreadCount() != 2 {
		t.Errorf("UnreadCount = %d, want 2", s.UnreadCount())
	}
}

func TestOptimisticRollback(t *testing.T) {
	remote := &fakeRemote{list: []model.Notification{note("a"), note("b"), note("c")}, failOps: true}
	policies := model.Policies{
		model.OpMarkAllRead: model.Optimistic,
		model.OpDelete:      model.Optimistic,
		model.OpClearAll:    model.Optimistic,
	}
	s := New(remote, policies, discardLogger())
	if err := s.Fetch(context.Background()); err != nil {
		t.Fatal(err)
	}

	ctx := context.Background()
	if err := s.MarkAllAsRead(ctx); err == nil {
		t.Fatal("MarkAllAsRead: want error")
	}
	if s.UnreadCount() != 3 {
		t.Errorf("UnreadCount after rollback = %d, want 3", s.UnreadCount())
	}

	if err := s.Delete(ctx, "b"); err == nil {
		t.Fatal("Delete: want error")
	}
	equalIDs(t, s.List(), "a", "b", "c")

	if err := s.ClearAll(ctx); err == nil {
		t.Fatal("ClearAll: want error")
	}
	equalIDs(t, s.List(), "a", "b", "c")
}

func TestOptimisticSuccess(t *testing.T) {
	remote := &fakeRemote{list: []model.Notification{note("a"), note("b")}}
	s := New(remote, model.Policies{model.OpDelete: model.Optimistic}, discardLogger())
	if err := s.Fetch(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := s.Delete(context.Background(), "a"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	equalIDs(t, s.List(), "b")
}

func TestDeleteAndClear(t *testing.T) {
	remote := &fakeRemote{list: []model.Notification{note("a"), note("b"), note("c")}}
	s := New(remote, nil, discardLogger())
	ctx := context.Background()
	if err := s.Fetch(ctx); err != nil {
		t.Fatal(err)
	}

	if err := s.Delete(ctx, "b"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	equalIDs(t, s.List(), "a", "c")

	if err := s.ClearAll(ctx); err != nil {
		t.Fatalf("ClearAll: %v", err)
	}
	if len(s.List()) != 0 {
		t.Errorf("List after ClearAll = %v", ids(s.List()))
	}
	want := []string{"delete:b", "clear"}
	if len(remote.calls) != 2 || remote.calls[0] != want[0] || remote.calls[1] != want[1] {
		t.Errorf("remote calls = %v, want %v", remote.calls, want)
	}
}

func TestFetchFailureKeepsCache(t *testing.T) {
	remote := &fakeRemote{list: []model.Notification{note("a")}}
	s := New(remote, nil, discardLogger())
	if err := s.Fetch(context.Background()); err != nil {
		t.Fatal(err)
	}

	remote.listErr = errors.New("boom")
	if err := s.Fetch(context.Background()); err == nil {
		t.Fatal("Fetch: want error")
	}
	equalIDs(t, s.List(), "a")
	st := s.State()
	if st.Loading || st.Err == nil {
		t.Errorf("State = %+v, want error flag and not loading", st)
	}
}

func TestResetClearsEverything(t *testing.T) {
	remote := &fakeRemote{list: []model.Notification{note("a")}, listErr: errors.New("boom")}
	s := New(remote, nil, discardLogger())
	s.Add(note("x"))
	_ = s.Fetch(context.Background())

	s.Reset()

	if len(s.List()) != 0 {
		t.Errorf("List = %v, want empty", ids(s.List()))
	}
	if st := s.State(); st.Loading || st.Err != nil {
		t.Errorf("State = %+v, want clear flags", st)
	}
	if len(remote.calls) != 0 {
		t.Errorf("Reset made remote calls: %v", remote.calls)
	}
}

func TestPushDuringFetchSurvives(t *testing.T) {
	remote := &fakeRemote{
		list:    []model.Notification{note("n1"), note("n0")},
		gate:    make(chan struct{}),
		entered: make(chan struct{}, 1),
	}
	s := New(remote, nil, discardLogger())

	done := make(chan error, 1)
	go func() { done <- s.Fetch(context.Background()) }()
	<-remote.entered

	if !s.State().Loading {
		t.Error("Loading = false during fetch")
	}
	s.Add(note("n2"))
	s.Add(note("n1")) // also in the snapshot: must not be duplicated
	close(remote.gate)
	if err := <-done; err != nil {
		t.Fatal(err)
	}

	equalIDs(t, s.List(), "n2", "n1", "n0")
	if s.State().Loading {
		t.Error("Loading = true after fetch")
	}
}

func TestReadDuringFetchIsReplayed(t *testing.T) {
	remote := &fakeRemote{
		list:    []model.Notification{note("a"), note("b")},
		entered: make(chan struct{}, 1),
	}
	s := New(remote, nil, discardLogger())
	if err := s.Fetch(context.Background()); err != nil {
		t.Fatal(err)
	}
	<-remote.entered

	remote.gate = make(chan struct{})
	done := make(chan error, 1)
	go func() { done <- s.Fetch(context.Background()) }()
	<-remote.entered

	if err := s.MarkAsRead(context.Background(), "a"); err != nil {
		t.Fatal(err)
	}
	if err := s.Delete(context.Background(), "b"); err != nil {
		t.Fatal(err)
	}
	close(remote.gate)
	if err := <-done; err != nil {
		t.Fatal(err)
	}

	list := s.List()
	equalIDs(t, list, "a")
	if !list[0].Read {
		t.Error("a.Read = false, want the read made during the fetch to stick")
	}
}

func TestFetchRacingResetIsDiscarded(t *testing.T) {
	remote := &fakeRemote{
		list:    []model.Notification{note("stale")},
		gate:    make(chan struct{}),
		entered: make(chan struct{}, 1),
	}
	s := New(remote, nil, discardLogger())

	done := make(chan error, 1)
	go func() { done <- s.Fetch(context.Background()) }()
	<-remote.entered
	s.Reset()
	close(remote.gate)
	if err := <-done; err != nil {
		t.Fatal(err)
	}

	if len(s.List()) != 0 {
		t.Errorf("List = %v, want fetch from previous session discarded", ids(s.List()))
	}
	if s.State().Loading {
		t.Error("Loading = true after reset")
	}
}

func TestRehydrate(t *testing.T) {
	remote := &fakeRemote{list: []model.Notification{note("a")}}
	s := New(remote, nil, discardLogger())
	ctx := context.Background()

	if err := s.Rehydrate(ctx, model.Session{Token: "tok"}); err != nil {
		t.Fatal(err)
	}
	if len(s.List()) != 0 {
		t.Error("Rehydrate without user fetched")
	}

	session := model.Session{Token: "tok", User: &model.User{ID: "u1"}}
	if err := s.Rehydrate(ctx, session); err != nil {
		t.Fatal(err)
	}
	equalIDs(t, s.List(), "a")
}

func TestRestoreOnlySeedsEmptyStore(t *testing.T) {
	s := New(&fakeRemote{}, nil, discardLogger())
	s.Restore([]model.Notification{note("cached")})
	equalIDs(t, s.List(), "cached")

	s.Add(note("live"))
	s.Restore([]model.Notification{note("other")})
	equalIDs(t, s.List(), "live", "cached")
}

func TestSubscribe(t *testing.T) {
	s := New(&fakeRemote{}, nil, discardLogger())
	events := s.Subscribe()

	s.Add(note("a"))
	ev := testutil.RequireReceive(t, events, time.Second, "added event")
	if ev.Kind != EventAdded || ev.ID != "a" {
		t.Errorf("event = %+v (%s)", ev, ev.Kind)
	}

	s.Reset()
	ev = testutil.RequireReceive(t, events, time.Second, "reset event")
	if ev.Kind != EventReset {
		t.Errorf("event = %s, want reset", ev.Kind)
	}
}

// holdWrite returns a remote whose write named name blocks until the
// returned channel sends its result.
func holdWrite(list []model.Notification, name string) (*fakeRemote, chan error) {
	result := make(chan error)
	return &fakeRemote{
		list: list,
		hold: map[string]chan error{name: result},
		held: make(chan string, 1),
	}, result
}

func TestRollbackKeepsConfirmedRead(t *testing.T) {
	remote, result := holdWrite([]model.Notification{note("a"), note("b"), note("c")}, "read:a")
	s := New(remote, model.Policies{model.OpMarkRead: model.Optimistic}, discardLogger())
	ctx := context.Background()
	if err := s.Fetch(ctx); err != nil {
		t.Fatal(err)
	}

	errc := make(chan error, 1)
	go func() { errc <- s.MarkAsRead(ctx, "a") }()
	testutil.RequireReceive(t, remote.held, time.Second, "read:a in flight")

	if err := s.MarkAsRead(ctx, "b"); err != nil {
		t.Fatalf("MarkAsRead(b): %v", err)
	}
	result <- errors.New("backend unavailable")
	if err := testutil.RequireReceive(t, errc, time.Second, "MarkAsRead(a) result"); err == nil {
		t.Fatal("MarkAsRead(a): want error")
	}

	for _, n := range s.List() {
		if want := n.ID == "b"; n.Read != want {
			t.Errorf("%s.Read = %v, want %v", n.ID, n.Read, want)
		}
	}
}

func TestRollbackKeepsAlreadyReadEntries(t *testing.T) {
	list := []model.Notification{note("a"), note("b")}
	list[1].Read = true
	remote, result := holdWrite(list, "read-all")
	s := New(remote, model.Policies{model.OpMarkAllRead: model.Optimistic}, discardLogger())
	ctx := context.Background()
	if err := s.Fetch(ctx); err != nil {
		t.Fatal(err)
	}

	errc := make(chan error, 1)
	go func() { errc <- s.MarkAllAsRead(ctx) }()
	testutil.RequireReceive(t, remote.held, time.Second, "read-all in flight")
	result <- errors.New("backend unavailable")
	if err := testutil.RequireReceive(t, errc, time.Second, "MarkAllAsRead result"); err == nil {
		t.Fatal("MarkAllAsRead: want error")
	}

	got, _ := s.Get("b")
	if !got.Read {
		t.Error("rollback marked a read entry unread")
	}
	if s.UnreadCount() != 1 {
		t.Errorf("UnreadCount = %d, want 1", s.UnreadCount())
	}
}

func TestRollbackKeepsConfirmedDelete(t *testing.T) {
	remote, result := holdWrite([]model.Notification{note("a"), note("b"), note("c")}, "delete:a")
	s := New(remote, model.Policies{model.OpDelete: model.Optimistic}, discardLogger())
	ctx := context.Background()
	if err := s.Fetch(ctx); err != nil {
		t.Fatal(err)
	}

	errc := make(chan error, 1)
	go func() { errc <- s.Delete(ctx, "a") }()
	testutil.RequireReceive(t, remote.held, time.Second, "delete:a in flight")

	if err := s.Delete(ctx, "b"); err != nil {
		t.Fatalf("Delete(b): %v", err)
	}
	result <- errors.New("backend unavailable")
	if err := testutil.RequireReceive(t, errc, time.Second, "Delete(a) result"); err == nil {
		t.Fatal("Delete(a): want error")
	}

	// a returns to its old position, b stays deleted.
	equalIDs(t, s.List(), "a", "c")
}

func TestRollbackAfterConfirmedClear(t *testing.T) {
	remote, result := holdWrite([]model.Notification{note("a"), note("b")}, "delete:a")
	s := New(remote, model.Policies{model.OpDelete: model.Optimistic}, discardLogger())
	ctx := context.Background()
	if err := s.Fetch(ctx); err != nil {
		t.Fatal(err)
	}

	errc := make(chan error, 1)
	go func() { errc <- s.Delete(ctx, "a") }()
	testutil.RequireReceive(t, remote.held, time.Second, "delete:a in flight")

	if err := s.ClearAll(ctx); err != nil {
		t.Fatalf("ClearAll: %v", err)
	}
	s.Add(note("c"))
	result <- errors.New("backend unavailable")
	if err := testutil.RequireReceive(t, errc, time.Second, "Delete(a) result"); err == nil {
		t.Fatal("Delete(a): want error")
	}

	equalIDs(t, s.List(), "c")
}
