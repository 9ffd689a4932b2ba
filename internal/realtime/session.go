// Package realtime implements the Subscription Manager: a
// WebSocket session per connected client, joined to named groups on the
// shared notify.Hub, pushing experiment_state/experiment_updated/
// distribution_updated messages and accepting subscribe/unsubscribe
// commands.
package realtime

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/goflagship/experiments/internal/distribution"
	"github.com/goflagship/experiments/internal/identity"
	"github.com/goflagship/experiments/internal/notify"
	"github.com/goflagship/experiments/internal/store"
	"github.com/goflagship/experiments/internal/telemetry"
)

// Close codes for the real-time channel.
const (
	CloseMissingAPIKey  = 4000
	CloseInvalidAPIKey  = 4001
	CloseNoIdentifier   = 4002
	CloseIdentityFailed = 4003
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Manager wires incoming WebSocket connections to the Identity Resolver,
// Distribution Service and Change Notifier.
type Manager struct {
	store    store.Store
	resolver *identity.Resolver
	dist     *distribution.Service
	hub      *notify.Hub
	log      zerolog.Logger
}

// New constructs a Manager.
func New(s store.Store, resolver *identity.Resolver, dist *distribution.Service, hub *notify.Hub, log zerolog.Logger) *Manager {
	return &Manager{store: s, resolver: resolver, dist: dist, hub: hub, log: log.With().Str("component", "realtime").Logger()}
}

// ServeHTTP upgrades the request to a WebSocket and runs the session
// until the connection closes: handshake, group membership, initial push,
// then the read and dispatch loops.
func (m *Manager) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	apiKey := r.URL.Query().Get("api_key")
	if apiKey == "" {
		m.rejectUpgrade(w, r, CloseMissingAPIKey, "missing api_key")
		return
	}

	project, err := m.store.GetProjectByAPIKey(r.Context(), apiKey)
	if err != nil {
		m.rejectUpgrade(w, r, CloseInvalidAPIKey, "invalid api_key")
		return
	}

	ids := store.IdentifierSet{
		ID:         r.URL.Query().Get("user_id"),
		DeviceID:   r.URL.Query().Get("device_id"),
		Email:      r.URL.Query().Get("email"),
		ExternalID: r.URL.Query().Get("external_id"),
	}
	if ids.Empty() {
		m.rejectUpgrade(w, r, CloseNoIdentifier, "no identifier supplied")
		return
	}

	user, err := m.resolver.Identify(r.Context(), project.ID, identity.IdentifyInput{IDs: ids})
	if err != nil {
		m.rejectUpgrade(w, r, CloseIdentityFailed, "identity resolution failed")
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		m.log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	requested := splitKeys(r.URL.Query().Get("experiments"))
	s := newSession(m, conn, project, user, requested)
	s.run(r.Context())
}

func (m *Manager) experimentByKey(ctx context.Context, projectID, key string) (*store.Experiment, error) {
	return m.store.GetExperimentByKey(ctx, projectID, key)
}

func (m *Manager) rejectUpgrade(w http.ResponseWriter, r *http.Request, code int, reason string) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		http.Error(w, reason, http.StatusBadRequest)
		return
	}
	closeMsg := websocket.FormatCloseMessage(code, reason)
	_ = conn.WriteControl(websocket.CloseMessage, closeMsg, time.Now().Add(5*time.Second))
	_ = conn.Close()
}

func splitKeys(raw string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// session is one connected client's Subscription Manager state: its
// joined groups, its inbound event channel and the underlying connection.
type session struct {
	mgr         *Manager
	conn        *websocket.Conn
	project     *store.Project
	user        *store.User
	sub         notify.Sub
	groups      map[string]struct{}
	initialKeys []string

	writeMu sync.Mutex
}

func newSession(m *Manager, conn *websocket.Conn, project *store.Project, user *store.User, requested []string) *session {
	return &session{
		mgr:         m,
		conn:        conn,
		project:     project,
		user:        user,
		sub:         notify.NewSub(),
		groups:      make(map[string]struct{}),
		initialKeys: requested,
	}
}

func (s *session) join(group string) {
	if _, ok := s.groups[group]; ok {
		return
	}
	s.mgr.hub.Join(s.sub, group)
	s.groups[group] = struct{}{}
}

func (s *session) leave(group string) {
	if _, ok := s.groups[group]; !ok {
		return
	}
	s.mgr.hub.Leave(s.sub, group)
	delete(s.groups, group)
}

func (s *session) leaveAll() {
	groups := make([]string, 0, len(s.groups))
	for g := range s.groups {
		groups = append(groups, g)
	}
	s.mgr.hub.LeaveAll(s.sub, groups)
	s.groups = make(map[string]struct{})
}

// run drives the session: group membership, initial push, then the
// read and dispatch loops until the connection closes.
func (s *session) run(ctx context.Context) {
	telemetry.RealtimeSessions.Inc()
	defer telemetry.RealtimeSessions.Dec()
	defer s.leaveAll()
	defer s.conn.Close()

	s.join("user:" + s.user.ID)
	s.join("project:" + s.project.ID)

	for _, key := range s.initialKeys {
		s.subscribeExperimentKey(ctx, key)
	}

	done := make(chan struct{})
	go s.dispatchLoop(done)
	s.readLoop(ctx)
	close(done)
}
