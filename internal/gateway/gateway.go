// Package gateway implements the §4.10 connection gateway: WebSocket
// accept, bearer-token auth, uid assignment, connection-pool registration,
// and cross-node event routing over the distributed store.
//
// Grounded on the teacher's internal/ws.Handler.ServeHTTP/runSession for the
// accept/session lifecycle shape, generalized from a single-process
// metadata-then-binary handler to a pooled, cross-node-routable one, and on
// cmd/gateway/main.go's awaitShutdown for the two-phase shutdown sequence.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/vce-gateway/gateway/internal/device"
	"github.com/vce-gateway/gateway/internal/metrics"
	"github.com/vce-gateway/gateway/internal/pool"
	"github.com/vce-gateway/gateway/internal/proto"
	"github.com/vce-gateway/gateway/internal/session"
	"github.com/vce-gateway/gateway/internal/store"
)

// connectionTTL bounds how long the `uid -> server` routing entry survives.
// The entry is written once when the session starts and is not refreshed.
const connectionTTL = 24 * time.Hour

// staleAfter is the idle threshold Monitor evicts sessions past, per §5.
const staleAfter = time.Hour

// consumerBlock is how long XRead blocks per poll when the stream is empty.
const consumerBlock = 3 * time.Second

// consumerBatch is the max entries Consumer dispatches per XRead.
const consumerBatch = 100

// shutdownGrace is how long Shutdown waits for background tasks to notice
// cancellation before force-closing the connection pool.
const shutdownGrace = 3 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  16384,
	WriteBufferSize: 16384,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Authenticator extracts a uid from a bearer token, or rejects the
// connection. The default Authenticator treats any non-empty token as the
// uid itself (the teacher has no multi-tenant auth layer to generalize
// from; see DESIGN.md).
type Authenticator func(token string) (uid string, ok bool)

// DefaultAuthenticator accepts any non-empty bearer token as the uid.
func DefaultAuthenticator(token string) (string, bool) {
	if token == "" {
		return "", false
	}
	return token, true
}

// Config bundles a Gateway's shared collaborators.
type Config struct {
	ServerID       string
	Store          store.Store
	DeviceRepo     func(uid string) *device.Repository
	SessionConfig  func(uid string) session.Config
	Authenticate   Authenticator
	PoolCapacity   int
	HeartbeatEvery time.Duration
}

// Gateway accepts WebSocket connections, owns the process-wide connection
// pool, and routes cross-node events over the distributed store's streams.
type Gateway struct {
	cfg  Config
	pool *pool.Pool[*session.Session]

	cancelBG context.CancelFunc
	bgDone   sync.WaitGroup
}

// New constructs a Gateway. Call Run to start its background tasks.
func New(cfg Config) *Gateway {
	if cfg.Authenticate == nil {
		cfg.Authenticate = DefaultAuthenticator
	}
	if cfg.PoolCapacity <= 0 {
		cfg.PoolCapacity = 1000
	}
	if cfg.HeartbeatEvery <= 0 {
		cfg.HeartbeatEvery = 30 * time.Second
	}
	return &Gateway{
		cfg:  cfg,
		pool: pool.New[*session.Session](cfg.PoolCapacity),
	}
}

func connKey(uid string) string   { return "ws:connection:" + uid }
func serverStream(id string) string { return "ws:server:" + id }

// Run starts the Monitor and Consumer background tasks. Call Shutdown to
// stop them and drain the connection pool.
func (g *Gateway) Run() {
	ctx, cancel := context.WithCancel(context.Background())
	g.cancelBG = cancel

	g.bgDone.Add(2)
	go func() { defer g.bgDone.Done(); g.monitor(ctx) }()
	go func() { defer g.bgDone.Done(); g.consume(ctx) }()
}

// Shutdown is the two-phase gateway teardown of §4.10: cancel the
// background tasks and give them shutdownGrace to notice, then close the
// pool (which closes every live session).
func (g *Gateway) Shutdown() {
	if g.cancelBG != nil {
		g.cancelBG()
	}
	done := make(chan struct{})
	go func() { g.bgDone.Wait(); close(done) }()
	select {
	case <-done:
	case <-time.After(shutdownGrace):
		slog.Warn("gateway shutdown: background tasks did not stop within grace period")
	}
	g.pool.Clear()
}

// ServeHTTP upgrades the connection, authenticates, assigns a uid, and
// registers a new Session in the pool.
func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	token := extractBearer(r)
	uid, ok := g.cfg.Authenticate(token)
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("gateway: websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	g.runConnection(uid, conn)
}

func extractBearer(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimPrefix(auth, "Bearer ")
	}
	return r.URL.Query().Get("token")
}

func (g *Gateway) runConnection(uid string, conn *websocket.Conn) {
	cfg := g.cfg.SessionConfig(uid)
	cfg.UID = uid
	sess := session.New(cfg, conn)

	if err := g.pool.Add(uid, sess); err != nil {
		slog.Warn("gateway: pool add rejected", "uid", uid, "error", err)
		return
	}
	defer func() {
		g.pool.Remove(uid)
		_ = g.cfg.Store.Del(context.Background(), connKey(uid))
		metrics.PoolOccupancy.Set(float64(g.pool.Len()))
	}()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sess.Init(ctx)
	defer sess.Close()

	if err := g.cfg.Store.Set(ctx, connKey(uid), g.cfg.ServerID, connectionTTL); err != nil {
		slog.Error("gateway: register connection routing entry failed", "uid", uid, "error", err)
	}
	metrics.PoolOccupancy.Set(float64(g.pool.Len()))

	slog.Info("gateway: session started", "uid", uid, "server_id", g.cfg.ServerID)
	g.readLoop(ctx, uid, conn, sess)
	slog.Info("gateway: session ended", "uid", uid)
}

func (g *Gateway) readLoop(ctx context.Context, uid string, conn *websocket.Conn, sess *session.Session) {
	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		if msgType != websocket.TextMessage {
			continue
		}
		var env proto.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			slog.Warn("gateway: malformed envelope", "uid", uid, "error", err)
			continue
		}
		sess.HandleEnvelope(ctx, env)
	}
}

// monitor evicts sessions idle past staleAfter every HeartbeatEvery, per
// §4.10/§5's "stale after 3600s without sender activity".
func (g *Gateway) monitor(ctx context.Context) {
	ticker := time.NewTicker(g.cfg.HeartbeatEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			g.evictStale()
		}
	}
}

func (g *Gateway) evictStale() {
	var stale []string
	g.pool.Iter(func(uid string, sess *session.Session) {
		if sess.IdleSince() > staleAfter {
			stale = append(stale, uid)
		}
	})
	for _, uid := range stale {
		if sess, ok := g.pool.Get(uid); ok {
			slog.Info("gateway: evicting idle session", "uid", uid)
			g.pool.Remove(uid)
			sess.Close()
			_ = g.cfg.Store.Del(context.Background(), connKey(uid))
		}
	}
	metrics.PoolOccupancy.Set(float64(g.pool.Len()))
}

// Dispatch delivers env to uid by looking up its owning server and XADDing
// onto that server's stream — including this node's own stream when uid is
// local, so delivery always goes through the same Consumer dispatch path.
// Events for unrouted uids are logged and dropped.
func (g *Gateway) Dispatch(ctx context.Context, uid string, env proto.Envelope) error {
	serverID, err := g.cfg.Store.Get(ctx, connKey(uid))
	if err != nil {
		metrics.RouteDispatchTotal.WithLabelValues("unknown_uid").Inc()
		slog.Warn("gateway: dispatch to unrouted uid dropped", "uid", uid)
		return fmt.Errorf("gateway dispatch: %w", err)
	}

	payload, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("gateway dispatch marshal: %w", err)
	}
	fields := map[string]string{"uid": uid, "envelope": string(payload)}
	if err := g.cfg.Store.XAdd(ctx, serverStream(serverID), fields); err != nil {
		metrics.RouteDispatchTotal.WithLabelValues("xadd_error").Inc()
		return fmt.Errorf("gateway dispatch xadd: %w", err)
	}
	metrics.RouteDispatchTotal.WithLabelValues("routed").Inc()
	return nil
}

// consume XREADs this node's own event stream and dispatches each entry to
// its local session, per §4.10.
func (g *Gateway) consume(ctx context.Context) {
	lastID := "$"
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		entries, err := g.cfg.Store.XRead(ctx, serverStream(g.cfg.ServerID), lastID, consumerBatch, consumerBlock)
		if err != nil {
			if errors.Is(ctx.Err(), context.Canceled) {
				return
			}
			slog.Error("gateway: consumer xread failed", "error", err)
			time.Sleep(time.Second)
			continue
		}
		for _, entry := range entries {
			lastID = entry.ID
			go g.dispatchLocal(entry)
		}
	}
}

func (g *Gateway) dispatchLocal(entry store.StreamEntry) {
	uid := entry.Fields["uid"]
	sess, ok := g.pool.Get(uid)
	if !ok {
		metrics.RouteDispatchTotal.WithLabelValues("disconnected").Inc()
		slog.Info("gateway: dropped routed event for disconnected uid", "uid", uid)
		return
	}
	var env proto.Envelope
	if err := json.Unmarshal([]byte(entry.Fields["envelope"]), &env); err != nil {
		slog.Error("gateway: consumer malformed envelope", "uid", uid, "error", err)
		return
	}
	sess.HandleEnvelope(context.Background(), env)
}

// NewServerID mints a random server identity for the stream namespace.
func NewServerID() string {
	return uuid.NewString()
}
