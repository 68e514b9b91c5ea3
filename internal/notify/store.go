// Package notify caches the signed-in user's notifications and keeps
// them consistent across bulk fetches, push deliveries and read-state
// changes.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/nhle/ticketdesk/internal/model"
)

// Remote is the subset of the REST client the store calls.
type Remote interface {
	ListNotifications(ctx context.Context) ([]model.Notification, error)
	MarkNotificationRead(ctx context.Context, id string) error
	MarkAllNotificationsRead(ctx context.Context) error
	DeleteNotification(ctx context.Context, id string) error
	ClearNotifications(ctx context.Context) error
}

// EventKind classifies a change to the store.
type EventKind int

const (
	EventReplaced EventKind = iota // a fetch replaced the collection
	EventAdded                     // a push prepended one entry
	EventRead                      // one or all entries were marked read
	EventRemoved                   // one or all entries were deleted
	EventReset                     // logout cleared the store
	EventState                     // loading or error flag changed
)

func (k EventKind) String() string {
	switch k {
	case EventReplaced:
		return "replaced"
	case EventAdded:
		return "added"
	case EventRead:
		return "read"
	case EventRemoved:
		return "removed"
	case EventReset:
		return "reset"
	case EventState:
		return "state"
	default:
		return fmt.Sprintf("EventKind(%d)", int(k))
	}
}

// Event describes a change. ID is set for single-entry changes.
type Event struct {
	Kind EventKind
	ID   string
}

// State reports the fetch lifecycle flags.
type State struct {
	Loading bool

	// Err is the most recent background fetch failure, cleared by the
	// next successful fetch, Rehydrate or Reset.
	Err error
}

// opKind identifies a journaled local mutation.
type opKind int

const (
	opPush opKind = iota
	opRead
	opReadAll
	opDelete
	opClear
)

// op is a local mutation recorded while a fetch is in flight so it can
// be replayed on top of the snapshot that fetch returns.
type op struct {
	seq  uint64
	kind opKind
	id   string
	n    model.Notification
}

// Store is the notification cache. It is safe for concurrent use.
type Store struct {
	remote   Remote
	policies model.Policies
	logger   *slog.Logger

	mu       sync.Mutex
	items    []model.Notification
	loading  int
	err      error
	epoch    uint64
	seq      uint64
	inflight map[uint64]uint64 // fetch token -> seq at fetch start
	nextTok  uint64
	journal  []op

	// Writes the server accepted while an optimistic write was pending.
	// Rollbacks consult them so they only undo their own change.
	pending         int
	confirmedRead   map[string]bool
	confirmedGone   map[string]bool
	confirmedClears int

	subscribers []chan Event
}

// New creates an empty store backed by remote.
func New(remote Remote, policies model.Policies, logger *slog.Logger) *Store {
	if policies == nil {
		policies = model.DefaultPolicies()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		remote:   remote,
		policies: policies,
		logger:   logger.With("component", "notify"),
		inflight: make(map[uint64]uint64),

		confirmedRead: make(map[string]bool),
		confirmedGone: make(map[string]bool),
	}
}

// Subscribe returns a channel that receives an Event after every change.
// Events are dropped for subscribers whose buffer is full; they re-read
// the store on the next event they do receive.
func (s *Store) Subscribe() <-chan Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	ch := make(chan Event, 64)
	s.subscribers = append(s.subscribers, ch)
	return ch
}

// publish must be called without s.mu held.
func (s *Store) publish(ev Event) {
	s.mu.Lock()
	subscribers := s.subscribers
	s.mu.Unlock()

	for _, sub := range subscribers {
		select {
		case sub <- ev:
		default:
		}
	}
}

// Fetch replaces the cache with the server's list, in server order.
// Local changes made while the request was in flight are replayed on
// top of the snapshot. On failure the existing entries are kept, the
// error flag is set and the error is returned.
func (s *Store) Fetch(ctx context.Context) error {
	s.mu.Lock()
	epoch := s.epoch
	s.nextTok++
	tok := s.nextTok
	s.inflight[tok] = s.seq
	s.loading++
	s.mu.Unlock()
	s.publish(Event{Kind: EventState})

	list, err := s.remote.ListNotifications(ctx)

	s.mu.Lock()
	start := s.inflight[tok]
	delete(s.inflight, tok)
	if s.epoch != epoch {
		// Reset ran while we were waiting; the response belongs to a
		// session that no longer exists.
		s.mu.Unlock()
		s.logger.Debug("discarding notification fetch after reset")
		return nil
	}
	s.loading--
	if err != nil {
		s.err = err
		s.trimJournal()
		s.mu.Unlock()
		s.logger.Warn("fetching notifications failed", "error", err)
		s.publish(Event{Kind: EventState})
		return fmt.Errorf("notify.Fetch: %w", err)
	}

	s.items = s.replay(list, start)
	s.err = nil
	s.trimJournal()
	count := len(s.items)
	s.mu.Unlock()

	s.logger.Debug("notifications fetched", "count", count)
	s.publish(Event{Kind: EventReplaced})
	return nil
}

// replay applies every journaled op newer than start to snapshot.
func (s *Store) replay(snapshot []model.Notification, start uint64) []model.Notification {
	out := slices.Clone(snapshot)
	for _, o := range s.journal {
		if o.seq <= start {
			continue
		}
		switch o.kind {
		case opPush:
			if !slices.ContainsFunc(out, func(n model.Notification) bool { return n.ID == o.n.ID }) {
				out = slices.Insert(out, 0, o.n)
			}
		case opRead:
			markRead(out, o.id)
		case opReadAll:
			for i := range out {
				out[i].Read = true
			}
		case opDelete:
			out = slices.DeleteFunc(out, func(n model.Notification) bool { return n.ID == o.id })
		case opClear:
			out = out[:0]
		}
	}
	return out
}

// record journals a local mutation if any fetch is in flight and
// returns its sequence number. Callers hold s.mu.
func (s *Store) record(kind opKind, id string, n model.Notification) uint64 {
	s.seq++
	if len(s.inflight) > 0 {
		s.journal = append(s.journal, op{seq: s.seq, kind: kind, id: id, n: n})
	}
	return s.seq
}

// unrecord drops a journaled op whose remote call failed.
func (s *Store) unrecord(seq uint64) {
	s.journal = slices.DeleteFunc(s.journal, func(o op) bool { return o.seq == seq })
}

// trimJournal drops ops no in-flight fetch can still need.
func (s *Store) trimJournal() {
	if len(s.inflight) == 0 {
		s.journal = nil
		return
	}
	oldest := s.seq
	for _, start := range s.inflight {
		oldest = min(oldest, start)
	}
	s.journal = slices.DeleteFunc(s.journal, func(o op) bool { return o.seq <= oldest })
}

// Add prepends one notification. It never deduplicates: n calls grow the
// collection by n.
func (s *Store) Add(n model.Notification) {
	s.mu.Lock()
	s.items = slices.Insert(s.items, 0, n)
	s.record(opPush, n.ID, n)
	s.mu.Unlock()

	s.logger.Debug("notification received", "id", n.ID, "title", n.Title)
	s.publish(Event{Kind: EventAdded, ID: n.ID})
}

// MarkAsRead marks the notification with id as read, locally and on the
// server, according to the configured write policy.
func (s *Store) MarkAsRead(ctx context.Context, id string) error {
	remote := func(ctx context.Context) error { return s.remote.MarkNotificationRead(ctx, id) }
	err := s.write(ctx, model.OpMarkRead, remote, func() func() {
		wasUnread := s.unreadIDs(id)
		markRead(s.items, id)
		seq := s.record(opRead, id, model.Notification{})
		return func() {
			s.unrecord(seq)
			s.markUnread(wasUnread)
		}
	}, func() {
		s.confirmedRead[id] = true
	})
	if err != nil {
		return fmt.Errorf("notify.MarkAsRead: %w", err)
	}
	s.publish(Event{Kind: EventRead, ID: id})
	return nil
}

// MarkAllAsRead marks every notification as read.
func (s *Store) MarkAllAsRead(ctx context.Context) error {
	err := s.write(ctx, model.OpMarkAllRead, s.remote.MarkAllNotificationsRead, func() func() {
		wasUnread := s.unreadIDs("")
		for i := range s.items {
			s.items[i].Read = true
		}
		seq := s.record(opReadAll, "", model.Notification{})
		return func() {
			s.unrecord(seq)
			s.markUnread(wasUnread)
		}
	}, func() {
		for _, n := range s.items {
			s.confirmedRead[n.ID] = true
		}
	})
	if err != nil {
		return fmt.Errorf("notify.MarkAllAsRead: %w", err)
	}
	s.publish(Event{Kind: EventRead})
	return nil
}

// Delete removes the notification with id.
func (s *Store) Delete(ctx context.Context, id string) error {
	remote := func(ctx context.Context) error { return s.remote.DeleteNotification(ctx, id) }
	err := s.write(ctx, model.OpDelete, remote, func() func() {
		removed := s.removeWhere(func(n model.Notification) bool { return n.ID == id })
		seq := s.record(opDelete, id, model.Notification{})
		clears := s.confirmedClears
		return func() {
			s.unrecord(seq)
			s.reinsert(removed, clears)
		}
	}, func() {
		s.confirmedGone[id] = true
	})
	if err != nil {
		return fmt.Errorf("notify.Delete: %w", err)
	}
	s.publish(Event{Kind: EventRemoved, ID: id})
	return nil
}

// ClearAll removes every notification.
func (s *Store) ClearAll(ctx context.Context) error {
	err := s.write(ctx, model.OpClearAll, s.remote.ClearNotifications, func() func() {
		removed := s.removeWhere(func(model.Notification) bool { return true })
		seq := s.record(opClear, "", model.Notification{})
		clears := s.confirmedClears
		return func() {
			s.unrecord(seq)
			s.reinsert(removed, clears)
		}
	}, func() {
		s.confirmedClears++
	})
	if err != nil {
		return fmt.Errorf("notify.ClearAll: %w", err)
	}
	s.publish(Event{Kind: EventRemoved})
	return nil
}

// write runs a mutation under the policy configured for op. apply runs
// with s.mu held and returns the function that undoes it. confirm runs
// with s.mu held once the server has accepted the write.
//
// RemoteFirst calls the server and applies locally only on success.
// Optimistic applies locally first and rolls back if the server fails.
// A rollback never reverts what another confirmed write settled.
func (s *Store) write(
	ctx context.Context,
	op model.Operation,
	remote func(context.Context) error,
	apply func() (undo func()),
	confirm func(),
) error {
	policy := s.policies.For(op)

	if policy == model.Optimistic {
		s.mu.Lock()
		epoch := s.epoch
		undo := apply()
		s.pending++
		s.mu.Unlock()
		s.publish(Event{Kind: EventState})

		err := remote(ctx)

		s.mu.Lock()
		if s.epoch == epoch {
			if err != nil {
				undo()
			} else {
				confirm()
			}
			s.settle()
		}
		s.mu.Unlock()
		if err != nil {
			s.logger.Warn("notification write failed, rolled back", "op", op, "error", err)
			s.publish(Event{Kind: EventState})
			return err
		}
		return nil
	}

	if err := remote(ctx); err != nil {
		s.logger.Warn("notification write failed", "op", op, "error", err)
		return err
	}
	s.mu.Lock()
	apply()
	if s.pending > 0 {
		confirm()
	}
	s.mu.Unlock()
	return nil
}

// settle ends one optimistic write. Confirmations are only needed while
// some optimistic write could still roll back. Callers hold s.mu.
func (s *Store) settle() {
	s.pending--
	if s.pending > 0 {
		return
	}
	s.pending = 0
	clear(s.confirmedRead)
	clear(s.confirmedGone)
	s.confirmedClears = 0
}

// unreadIDs returns the IDs of unread entries, limited to id when set.
// Callers hold s.mu.
func (s *Store) unreadIDs(id string) []string {
	var ids []string
	for _, n := range s.items {
		if !n.Read && (id == "" || n.ID == id) {
			ids = append(ids, n.ID)
		}
	}
	return ids
}

// markUnread reverts ids to unread unless a confirmed write marked them
// read since. Callers hold s.mu.
func (s *Store) markUnread(ids []string) {
	for _, id := range ids {
		if s.confirmedRead[id] {
			continue
		}
		for i := range s.items {
			if s.items[i].ID == id {
				s.items[i].Read = false
			}
		}
	}
}

// removal is an entry taken out of the cache and where it was.
type removal struct {
	index int
	n     model.Notification
}

// removeWhere deletes matching entries and returns them with their
// positions. Callers hold s.mu.
func (s *Store) removeWhere(match func(model.Notification) bool) []removal {
	var out []removal
	kept := s.items[:0:0]
	for i, n := range s.items {
		if match(n) {
			out = append(out, removal{index: i, n: n})
			continue
		}
		kept = append(kept, n)
	}
	s.items = kept
	return out
}

// reinsert puts back entries removed by a failed write, at their old
// positions. Entries a confirmed delete removed stay gone, and nothing
// comes back once a clear was confirmed after clears was read. Callers
// hold s.mu.
func (s *Store) reinsert(entries []removal, clears int) {
	if s.confirmedClears != clears {
		return
	}
	for _, r := range entries {
		if s.confirmedGone[r.n.ID] {
			continue
		}
		if slices.ContainsFunc(s.items, func(n model.Notification) bool { return n.ID == r.n.ID }) {
			continue
		}
		s.items = slices.Insert(s.items, min(r.index, len(s.items)), r.n)
	}
}

func markRead(items []model.Notification, id string) {
	for i := range items {
		if items[i].ID == id {
			items[i].Read = true
		}
	}
}

// Reset clears the cache and its flags without contacting the server.
// Any fetch still in flight is discarded when it completes.
func (s *Store) Reset() {
	s.mu.Lock()
	s.items = nil
	s.err = nil
	s.loading = 0
	s.epoch++
	s.journal = nil
	clear(s.inflight)
	s.pending = 0
	clear(s.confirmedRead)
	clear(s.confirmedGone)
	s.confirmedClears = 0
	s.mu.Unlock()

	s.publish(Event{Kind: EventReset})
}

// Rehydrate refetches after sign-in. It does nothing unless session
// carries both a token and a user record.
func (s *Store) Rehydrate(ctx context.Context, session model.Session) error {
	if !session.Active() {
		return nil
	}
	s.mu.Lock()
	s.err = nil
	s.mu.Unlock()
	return s.Fetch(ctx)
}

// Restore seeds an empty store from a cached snapshot so something can
// be shown before the first fetch returns. It is ignored once the store
// holds entries.
func (s *Store) Restore(items []model.Notification) {
	s.mu.Lock()
	if len(s.items) > 0 {
		s.mu.Unlock()
		return
	}
	s.items = slices.Clone(items)
	s.mu.Unlock()
	s.publish(Event{Kind: EventReplaced})
}

// List returns a copy of the cached notifications, newest first.
func (s *Store) List() []model.Notification {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.items)
}

// Get returns the first notification with id.
func (s *Store) Get(id string) (model.Notification, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, n := range s.items {
		if n.ID == id {
			return n, true
		}
	}
	return model.Notification{}, false
}

// UnreadCount returns how many cached notifications are unread.
func (s *Store) UnreadCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	count := 0
	for _, n := range s.items {
		if !n.Read {
			count++
		}
	}
	return count
}

// State returns the loading and error flags.
func (s *Store) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return State{Loading: s.loading > 0, Err: s.err}
}
