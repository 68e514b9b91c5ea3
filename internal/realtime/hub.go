package realtime

import (
	"log/slog"
	"sync"

	"github.com/nhle/ticketdesk/internal/model"
)

// Hub shares one Conn per session among every view that needs live
// events. Each Acquire must be paired with a Release; the connection is
// closed when the last holder releases it.
type Hub struct {
	cfg     Config
	notes   NotificationSink
	tickets TicketSink
	logger  *slog.Logger
	opts    []Option

	mu    sync.Mutex
	conns map[string]*hubEntry
}

type hubEntry struct {
	conn *Conn
	refs int
}

// NewHub creates a hub whose connections feed notes and tickets.
func NewHub(cfg Config, notes NotificationSink, tickets TicketSink, logger *slog.Logger, opts ...Option) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		cfg:     cfg,
		notes:   notes,
		tickets: tickets,
		logger:  logger,
		opts:    opts,
		conns:   make(map[string]*hubEntry),
	}
}

func sessionKey(s model.Session) string {
	return s.UserID() + "\x00" + s.Token
}

// Acquire returns the running connection for session, starting one if
// needed. Inactive sessions get an inert connection that is not shared.
func (h *Hub) Acquire(session model.Session) *Conn {
	if !session.Active() {
		return NewConn(h.cfg, session, nil, nil, h.logger, h.opts...)
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	key := sessionKey(session)
	if e, ok := h.conns[key]; ok {
		e.refs++
		return e.conn
	}

	conn := NewConn(h.cfg, session, h.notes, h.tickets, h.logger, h.opts...)
	h.conns[key] = &hubEntry{conn: conn, refs: 1}
	conn.Start()
	return conn
}

// Release drops one reference to session's connection and closes it
// when none remain.
func (h *Hub) Release(session model.Session) {
	if !session.Active() {
		return
	}

	h.mu.Lock()
	key := sessionKey(session)
	e, ok := h.conns[key]
	if !ok {
		h.mu.Unlock()
		return
	}
	e.refs--
	if e.refs > 0 {
		h.mu.Unlock()
		return
	}
	delete(h.conns, key)
	h.mu.Unlock()

	e.conn.Close()
}

// Refs reports how many holders share session's connection.
func (h *Hub) Refs(session model.Session) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	if e, ok := h.conns[sessionKey(session)]; ok {
		return e.refs
	}
	return 0
}

// Close shuts down every connection regardless of reference counts.
func (h *Hub) Close() {
	h.mu.Lock()
	conns := h.conns
	h.conns = make(map[string]*hubEntry)
	h.mu.Unlock()

	for _, e := range conns {
		e.conn.Close()
	}
}
