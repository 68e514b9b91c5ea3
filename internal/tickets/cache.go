// Package tickets keeps the raised-by-me and assigned-to-me ticket lists
// in sync with REST snapshots and live push events.
package tickets

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nhle/ticketdesk/internal/api"
	"github.com/nhle/ticketdesk/internal/model"
)

// Remote is the subset of the REST client the cache calls.
type Remote interface {
	ListTickets(ctx context.Context) (*api.TicketSnapshot, error)
	GetTicket(ctx context.Context, id string) (*model.Ticket, error)
	CreateTicket(ctx context.Context, req api.CreateTicketRequest) (*model.Ticket, error)
	AddComment(ctx context.Context, id string, req api.CommentRequest) (*model.Ticket, error)
}

// Options configures routing and write behavior.
type Options struct {
	// ExclusiveRouting sends a ticket the user both raised and is
	// assigned to into raised-by-me only.
	ExclusiveRouting bool

	Policies model.Policies
}

// EventKind classifies a change to the cache.
type EventKind int

const (
	EventReplaced EventKind = iota
	EventCreated
	EventUpdated
	EventDeleted
	EventReset
	EventState
)

func (k EventKind) String() string {
	switch k {
	case EventReplaced:
		return "replaced"
	case EventCreated:
		return "created"
	case EventUpdated:
		return "updated"
	case EventDeleted:
		return "deleted"
	case EventReset:
		return "reset"
	case EventState:
		return "state"
	default:
		return fmt.Sprintf("EventKind(%d)", int(k))
	}
}

// Event describes a change. ID is set for single-ticket changes.
type Event struct {
	Kind EventKind
	ID   string
}

// State reports the load lifecycle flags.
type State struct {
	Loading bool
	Err     error
}

// revision is the newest server revision observed for a ticket.
type revision struct {
	version   int64
	updatedAt time.Time
}

func (r revision) newerThan(t *model.Ticket) bool {
	if r.version != t.Version {
		return r.version > t.Version
	}
	return r.updatedAt.After(t.UpdatedAt)
}

// mark records the last push that touched a ticket. Loads that started
// before seq must not overwrite what the push did.
type mark struct {
	seq     uint64
	deleted bool
	ticket  *model.Ticket
}

// Cache holds the two ticket collections. It is safe for concurrent use.
type Cache struct {
	remote   Remote
	opts     Options
	policies model.Policies
	logger   *slog.Logger

	mu       sync.Mutex
	userID   string
	raised   []model.Ticket
	assigned []model.Ticket
	loading  int
	err      error
	epoch    uint64
	seq      uint64
	inflight map[uint64]uint64 // load token -> seq at load start
	nextTok  uint64
	marks    map[string]mark
	seen     map[string]revision

	subscribers []chan Event
}

// New creates an empty cache backed by remote.
func New(remote Remote, opts Options, logger *slog.Logger) *Cache {
	policies := opts.Policies
	if policies == nil {
		policies = model.DefaultPolicies()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Cache{
		remote:   remote,
		opts:     opts,
		policies: policies,
		logger:   logger.With("component", "tickets"),
		inflight: make(map[uint64]uint64),
		marks:    make(map[string]mark),
		seen:     make(map[string]revision),
	}
}

// SetUser sets the identity used to route tickets into collections.
func (c *Cache) SetUser(userID string) {
	c.mu.Lock()
	c.userID = userID
	c.mu.Unlock()
}

// Subscribe returns a channel that receives an Event after every change.
// Events are dropped for subscribers whose buffer is full.
func (c *Cache) Subscribe() <-chan Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	ch := make(chan Event, 64)
	c.subscribers = append(c.subscribers, ch)
	return ch
}

func (c *Cache) publish(ev Event) {
	c.mu.Lock()
	subscribers := c.subscribers
	c.mu.Unlock()

	for _, sub := range subscribers {
		select {
		case sub <- ev:
		default:
		}
	}
}

// Load replaces both collections with a server snapshot. Tickets touched
// by a push after the load started keep their pushed state, and snapshot
// entries older than an already observed revision are ignored.
func (c *Cache) Load(ctx context.Context) error {
	c.mu.Lock()
	epoch := c.epoch
	c.nextTok++
	tok := c.nextTok
	c.inflight[tok] = c.seq
	c.loading++
	c.mu.Unlock()
	c.publish(Event{Kind: EventState})

	snap, err := c.remote.ListTickets(ctx)

	c.mu.Lock()
	start := c.inflight[tok]
	delete(c.inflight, tok)
	if c.epoch != epoch {
		c.mu.Unlock()
		c.logger.Debug("discarding ticket load after reset")
		return nil
	}
	c.loading--
	if err != nil {
		c.err = err
		c.trimMarks()
		c.mu.Unlock()
		c.logger.Warn("loading tickets failed", "error", err)
		c.publish(Event{Kind: EventState})
		return fmt.Errorf("tickets.Load: %w", err)
	}

	c.raised = c.merge(c.raised, snap.Raised, start)
	c.assigned = c.merge(c.assigned, snap.Assigned, start)
	for i := range snap.Raised {
		c.observe(&snap.Raised[i])
	}
	for i := range snap.Assigned {
		c.observe(&snap.Assigned[i])
	}
	c.err = nil
	c.trimMarks()
	raised, assigned := len(c.raised), len(c.assigned)
	c.mu.Unlock()

	c.logger.Debug("tickets loaded", "raised", raised, "assigned", assigned)
	c.publish(Event{Kind: EventReplaced})
	return nil
}

// merge combines one local collection with its snapshot counterpart.
// Callers hold c.mu.
func (c *Cache) merge(local, snapshot []model.Ticket, start uint64) []model.Ticket {
	localByID := make(map[string]model.Ticket, len(local))
	for _, t := range local {
		localByID[t.ID] = t
	}

	out := make([]model.Ticket, 0, len(snapshot))
	inSnapshot := make(map[string]bool, len(snapshot))
	for _, t := range snapshot {
		inSnapshot[t.ID] = true
		m, pushed := c.marks[t.ID]
		if pushed && m.seq > start {
			if m.deleted {
				continue
			}
			if cur, ok := localByID[t.ID]; ok {
				out = append(out, cur)
				continue
			}
			if m.ticket != nil && m.ticket.Newer(&t) {
				out = append(out, m.ticket.Clone())
				continue
			}
		}
		if rev, ok := c.seen[t.ID]; ok && rev.newerThan(&t) {
			if cur, ok := localByID[t.ID]; ok {
				out = append(out, cur)
				continue
			}
		}
		out = append(out, t.Clone())
	}

	for _, t := range local {
		if inSnapshot[t.ID] {
			continue
		}
		if m, ok := c.marks[t.ID]; (ok && m.seq > start && !m.deleted) || t.Pending {
			out = append(out, t)
		}
	}
	return out
}

// observe records t's revision in the ledger. Callers hold c.mu.
func (c *Cache) observe(t *model.Ticket) {
	if rev, ok := c.seen[t.ID]; ok && rev.newerThan(t) {
		return
	}
	c.seen[t.ID] = revision{version: t.Version, updatedAt: t.UpdatedAt}
}

// stale reports whether t is older than a revision already seen.
// Callers hold c.mu.
func (c *Cache) stale(t *model.Ticket) bool {
	rev, ok := c.seen[t.ID]
	return ok && rev.newerThan(t)
}

// stamp records a push that touched id while a load is in flight.
// Callers hold c.mu.
func (c *Cache) stamp(id string, deleted bool, t *model.Ticket) {
	c.seq++
	if len(c.inflight) == 0 {
		return
	}
	m := mark{seq: c.seq, deleted: deleted}
	if t != nil {
		cp := t.Clone()
		m.ticket = &cp
	}
	c.marks[id] = m
}

// trimMarks drops push marks no in-flight load can still need.
// Callers hold c.mu.
func (c *Cache) trimMarks() {
	if len(c.inflight) == 0 {
		clear(c.marks)
		return
	}
	oldest := c.seq
	for _, start := range c.inflight {
		oldest = min(oldest, start)
	}
	for id, m := range c.marks {
		if m.seq <= oldest {
			delete(c.marks, id)
		}
	}
}

// routes reports which collections t belongs to for the current user.
// Callers hold c.mu.
func (c *Cache) routes(t *model.Ticket) (raised, assigned bool) {
	if c.userID == "" {
		return false, false
	}
	raised = t.CreatorID() == c.userID
	assigned = t.AssigneeID() == c.userID
	if raised && assigned && c.opts.ExclusiveRouting {
		assigned = false
	}
	return raised, assigned
}

// Created ingests a ticketCreated push. The ticket is appended to
// raised-by-me if the user created it and, independently, to
// assigned-to-me if the user is its assignee. Tickets for neither are
// dropped. An ID already present is replaced in place.
func (c *Cache) Created(t model.Ticket) {
	c.mu.Lock()
	if c.stale(&t) {
		c.mu.Unlock()
		c.logger.Debug("ignoring stale ticketCreated", "id", t.ID, "version", t.Version)
		return
	}
	toRaised, toAssigned := c.routes(&t)
	if !toRaised && !toAssigned {
		c.mu.Unlock()
		c.logger.Debug("ticketCreated not for this user", "id", t.ID)
		return
	}
	c.observe(&t)
	c.stamp(t.ID, false, &t)
	if toRaised {
		c.raised = upsert(c.raised, t.Clone())
	}
	if toAssigned {
		c.assigned = upsert(c.assigned, t.Clone())
	}
	c.mu.Unlock()

	c.logger.Debug("ticket created", "id", t.ID, "raised", toRaised, "assigned", toAssigned)
	c.publish(Event{Kind: EventCreated, ID: t.ID})
}

// Updated ingests a ticketUpdated push. Each collection holding the ID
// has that entry replaced in place; a ticket in neither is ignored.
func (c *Cache) Updated(t model.Ticket) {
	c.mu.Lock()
	if c.stale(&t) {
		c.mu.Unlock()
		c.logger.Debug("ignoring stale ticketUpdated", "id", t.ID, "version", t.Version)
		return
	}
	c.observe(&t)
	c.stamp(t.ID, false, &t)
	inRaised := replace(c.raised, t)
	inAssigned := replace(c.assigned, t)
	c.mu.Unlock()
	if !inRaised && !inAssigned {
		return
	}

	c.logger.Debug("ticket updated", "id", t.ID, "status", t.Status)
	c.publish(Event{Kind: EventUpdated, ID: t.ID})
}

// Deleted ingests a ticketDeleted push, removing the ID from both
// collections wherever present.
func (c *Cache) Deleted(id string) {
	c.mu.Lock()
	c.stamp(id, true, nil)
	before := len(c.raised) + len(c.assigned)
	c.raised = slices.DeleteFunc(c.raised, func(t model.Ticket) bool { return t.ID == id })
	c.assigned = slices.DeleteFunc(c.assigned, func(t model.Ticket) bool { return t.ID == id })
	removed := before - len(c.raised) - len(c.assigned)
	c.mu.Unlock()

	if removed == 0 {
		return
	}
	c.logger.Debug("ticket deleted", "id", id)
	c.publish(Event{Kind: EventDeleted, ID: id})
}

func upsert(list []model.Ticket, t model.Ticket) []model.Ticket {
	if replace(list, t) {
		return list
	}
	return append(list, t)
}

func replace(list []model.Ticket, t model.Ticket) bool {
	found := false
	for i := range list {
		if list[i].ID == t.ID {
			list[i] = t.Clone()
			found = true
		}
	}
	return found
}

// Create raises a ticket through the API. Under the optimistic policy a
// pending placeholder is shown immediately and replaced by the server's
// ticket, or removed if the request fails.
func (c *Cache) Create(ctx context.Context, req api.CreateTicketRequest) (*model.Ticket, error) {
	if c.policies.For(model.OpCreateTicket) != model.Optimistic {
		created, err := c.remote.CreateTicket(ctx, req)
		if err != nil {
			c.logger.Warn("creating ticket failed", "error", err)
			return nil, fmt.Errorf("tickets.Create: %w", err)
		}
		c.Created(*created)
		return created, nil
	}

	placeholder := c.placeholder(req)
	c.mu.Lock()
	epoch := c.epoch
	toRaised, toAssigned := c.routes(&placeholder)
	if toRaised {
		c.raised = append(c.raised, placeholder)
	}
	if toAssigned {
		c.assigned = append(c.assigned, placeholder)
	}
	c.mu.Unlock()
	c.publish(Event{Kind: EventCreated, ID: placeholder.ID})

	created, err := c.remote.CreateTicket(ctx, req)

	c.mu.Lock()
	if c.epoch != epoch {
		c.mu.Unlock()
		if err != nil {
			return nil, fmt.Errorf("tickets.Create: %w", err)
		}
		return created, nil
	}
	if err != nil {
		c.dropPlaceholder(placeholder.ID)
		c.mu.Unlock()
		c.logger.Warn("creating ticket failed, placeholder removed", "error", err)
		c.publish(Event{Kind: EventDeleted, ID: placeholder.ID})
		return nil, fmt.Errorf("tickets.Create: %w", err)
	}
	c.confirmPlaceholder(placeholder.ID, *created)
	c.mu.Unlock()

	c.logger.Info("ticket created", "id", created.ID, "title", created.Title)
	c.publish(Event{Kind: EventCreated, ID: created.ID})
	return created, nil
}

func (c *Cache) placeholder(req api.CreateTicketRequest) model.Ticket {
	c.mu.Lock()
	userID := c.userID
	c.mu.Unlock()

	now := time.Now()
	t := model.Ticket{
		ID:          "pending-" + uuid.NewString(),
		Title:       req.Title,
		Description: req.Description,
		Priority:    req.Priority,
		Status:      model.StatusOpen,
		Category:    req.Category,
		CreatedBy:   &model.UserRef{ID: userID},
		CreatedAt:   now,
		UpdatedAt:   now,
		Pending:     true,
	}
	if t.Priority == "" {
		t.Priority = model.PriorityMedium
	}
	if t.Category == "" {
		t.Category = model.DefaultCategory
	}
	if req.AssignedTo != "" {
		t.AssignedTo = &model.UserRef{ID: req.AssignedTo}
	}
	return t
}

// dropPlaceholder removes a pending entry. Callers hold c.mu.
func (c *Cache) dropPlaceholder(id string) {
	match := func(t model.Ticket) bool { return t.ID == id }
	c.raised = slices.DeleteFunc(c.raised, match)
	c.assigned = slices.DeleteFunc(c.assigned, match)
}

// confirmPlaceholder swaps a pending entry for the server's ticket. If a
// push already delivered the ticket, the placeholder is just removed.
// Callers hold c.mu.
func (c *Cache) confirmPlaceholder(id string, created model.Ticket) {
	if c.contains(created.ID) {
		c.dropPlaceholder(id)
		return
	}
	c.observe(&created)
	c.stamp(created.ID, false, &created)
	swap := func(list []model.Ticket) {
		for i := range list {
			if list[i].ID == id {
				list[i] = created.Clone()
			}
		}
	}
	swap(c.raised)
	swap(c.assigned)
}

func (c *Cache) contains(id string) bool {
	match := func(t model.Ticket) bool { return t.ID == id }
	return slices.ContainsFunc(c.raised, match) || slices.ContainsFunc(c.assigned, match)
}

// Comment posts a comment and/or status change and applies the ticket
// the server returns.
func (c *Cache) Comment(ctx context.Context, id string, req api.CommentRequest) (*model.Ticket, error) {
	updated, err := c.remote.AddComment(ctx, id, req)
	if err != nil {
		c.logger.Warn("commenting on ticket failed", "id", id, "error", err)
		return nil, fmt.Errorf("tickets.Comment: %w", err)
	}
	c.Updated(*updated)
	return updated, nil
}

// Lookup returns a cached ticket or fetches it from the server. Fetched
// tickets that belong to a collection refresh it in place.
func (c *Cache) Lookup(ctx context.Context, id string) (*model.Ticket, error) {
	if t, ok := c.Get(id); ok {
		return &t, nil
	}
	t, err := c.remote.GetTicket(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("tickets.Lookup: %w", err)
	}
	c.Updated(*t)
	return t, nil
}

// Reset clears both collections and all flags.
func (c *Cache) Reset() {
	c.mu.Lock()
	c.raised = nil
	c.assigned = nil
	c.err = nil
	c.loading = 0
	c.epoch++
	clear(c.inflight)
	clear(c.marks)
	clear(c.seen)
	c.mu.Unlock()

	c.publish(Event{Kind: EventReset})
}

// Restore seeds an empty cache from a persisted snapshot. It is ignored
// once either collection holds entries.
func (c *Cache) Restore(raised, assigned []model.Ticket) {
	c.mu.Lock()
	if len(c.raised) > 0 || len(c.assigned) > 0 {
		c.mu.Unlock()
		return
	}
	c.raised = cloneAll(raised)
	c.assigned = cloneAll(assigned)
	c.mu.Unlock()
	c.publish(Event{Kind: EventReplaced})
}

// Raised returns raised-by-me tickets matching f.
func (c *Cache) Raised(f Filter) []model.Ticket {
	c.mu.Lock()
	defer c.mu.Unlock()
	return f.Apply(c.raised)
}

// Assigned returns assigned-to-me tickets matching f.
func (c *Cache) Assigned(f Filter) []model.Ticket {
	c.mu.Lock()
	defer c.mu.Unlock()
	return f.Apply(c.assigned)
}

// Get finds a ticket by ID in either collection.
func (c *Cache) Get(id string) (model.Ticket, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, list := range [][]model.Ticket{c.raised, c.assigned} {
		for _, t := range list {
			if t.ID == id {
				return t.Clone(), true
			}
		}
	}
	return model.Ticket{}, false
}

// State returns the loading and error flags.
func (c *Cache) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return State{Loading: c.loading > 0, Err: c.err}
}

func cloneAll(list []model.Ticket) []model.Ticket {
	if list == nil {
		return nil
	}
	out := make([]model.Ticket, len(list))
	for i, t := range list {
		out[i] = t.Clone()
	}
	return out
}
