package transport

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
)

// RelaySettings tunes relay connections.
type RelaySettings struct {
	WriteTimeout time.Duration
	ReadTimeout  time.Duration
	PingInterval time.Duration
	SendBuffer   int
}

// DefaultRelaySettings returns the settings used by NewRelay.
func DefaultRelaySettings() RelaySettings {
	return RelaySettings{
		WriteTimeout: 5 * time.Second,
		ReadTimeout:  15 * time.Second,
		PingInterval: 5 * time.Second,
		SendBuffer:   256,
	}
}

// RelayOption configures a Relay.
type RelayOption func(*Relay)

// WithFanout sets the fanout shared with other relay instances.
func WithFanout(f Fanout) RelayOption {
	return func(r *Relay) {
		r.fanout = f
	}
}

// WithRelaySettings replaces the default settings.
func WithRelaySettings(s RelaySettings) RelayOption {
	return func(r *Relay) {
		r.settings = s
	}
}

// WithRelayLogger sets the relay logger.
func WithRelayLogger(l *slog.Logger) RelayOption {
	return func(r *Relay) {
		r.logger = l
	}
}

// Relay forwards frames between the websocket connections of a room.
//
// The relay never interprets updates. It stamps the sender on every
// frame and announces a leave message when a connection drops, so peers
// can garbage-collect the actor's presence.
type Relay struct {
	fanout   Fanout
	settings RelaySettings
	logger   *slog.Logger
	upgrader websocket.Upgrader

	mu    sync.Mutex
	rooms map[string]*room
}

type room struct {
	conns  map[*relayConn]bool
	cancel func()
}

type relayConn struct {
	ws    *websocket.Conn
	actor string
	send  chan []byte
}

// NewRelay creates a relay. Without WithFanout it serves a single
// instance.
func NewRelay(opts ...RelayOption) *Relay {
	r := &Relay{
		fanout:   NewLocalFanout(),
		settings: DefaultRelaySettings(),
		logger:   slog.Default(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		rooms: make(map[string]*room),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register mounts the relay routes on router:
//
//	GET /rooms/{room}/ws   websocket endpoint, actor from X-Actor-ID or ?actor=
//	GET /healthz           liveness check
func (r *Relay) Register(router *mux.Router) {
	router.HandleFunc("/rooms/{room}/ws", r.serveWS).Methods(http.MethodGet)
	router.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}).Methods(http.MethodGet)
}

// Handler returns a router serving only the relay routes.
func (r *Relay) Handler() http.Handler {
	router := mux.NewRouter()
	r.Register(router)
	return router
}

// Connections returns the number of open connections in a room.
func (r *Relay) Connections(roomID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if rm, ok := r.rooms[roomID]; ok {
		return len(rm.conns)
	}
	return 0
}

func (r *Relay) serveWS(w http.ResponseWriter, req *http.Request) {
	roomID := mux.Vars(req)["room"]
	actor := req.Header.Get("X-Actor-ID")
	if actor == "" {
		actor = req.URL.Query().Get("actor")
	}
	if actor == "" {
		http.Error(w, "missing actor id", http.StatusBadRequest)
		return
	}

	ws, err := r.upgrader.Upgrade(w, req, nil)
	if err != nil {
		r.logger.Warn("websocket upgrade failed", "room", roomID, "error", err)
		return
	}
	conn := &relayConn{ws: ws, actor: actor, send: make(chan []byte, r.settings.SendBuffer)}
	if err := r.join(req.Context(), roomID, conn); err != nil {
		r.logger.Error("joining room failed", "room", roomID, "actor", actor, "error", err)
		ws.Close()
		return
	}
	r.logger.Info("actor connected", "room", roomID, "actor", actor)

	go r.writePump(conn)
	r.readPump(roomID, conn)
}

func (r *Relay) join(ctx context.Context, roomID string, conn *relayConn) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	rm, ok := r.rooms[roomID]
	if !ok {
		rm = &room{conns: make(map[*relayConn]bool)}
		cancel, err := r.fanout.Subscribe(context.WithoutCancel(ctx), roomID, func(frame []byte) {
			r.broadcast(roomID, frame)
		})
		if err != nil {
			return err
		}
		rm.cancel = cancel
		r.rooms[roomID] = rm
	}
	rm.conns[conn] = true
	return nil
}

// leave unregisters a connection and returns whether it was registered.
func (r *Relay) leave(roomID string, conn *relayConn) bool {
	r.mu.Lock()
	rm, ok := r.rooms[roomID]
	if !ok || !rm.conns[conn] {
		r.mu.Unlock()
		return false
	}
	delete(rm.conns, conn)
	close(conn.send)
	var cancel func()
	if len(rm.conns) == 0 {
		delete(r.rooms, roomID)
		cancel = rm.cancel
	}
	r.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	return true
}

// broadcast queues a fanned-out frame on every addressed connection.
// Connections whose queue is full are dropped.
func (r *Relay) broadcast(roomID string, frame []byte) {
	m, err := Decode(frame)
	if err != nil {
		r.logger.Warn("dropping malformed fanout frame", "room", roomID, "error", err)
		return
	}

	r.mu.Lock()
	rm, ok := r.rooms[roomID]
	if !ok {
		r.mu.Unlock()
		return
	}
	var slow []*relayConn
	for conn := range rm.conns {
		if !m.addressedTo(conn.actor) {
			continue
		}
		select {
		case conn.send <- frame:
		default:
			slow = append(slow, conn)
		}
	}
	r.mu.Unlock()

	for _, conn := range slow {
		r.logger.Warn("dropping slow connection", "room", roomID, "actor", conn.actor)
		conn.ws.Close()
	}
}

func (r *Relay) publish(roomID string, m Message) {
	m.Room = roomID
	frame, err := Encode(m)
	if err != nil {
		r.logger.Error("encoding frame failed", "room", roomID, "error", err)
		return
	}
	if err := r.fanout.Publish(context.Background(), roomID, frame); err != nil {
		r.logger.Error("publishing frame failed", "room", roomID, "kind", m.Kind, "error", err)
	}
}

func (r *Relay) readPump(roomID string, conn *relayConn) {
	defer func() {
		conn.ws.Close()
		if r.leave(roomID, conn) {
			r.logger.Info("actor disconnected", "room", roomID, "actor", conn.actor)
			r.publish(roomID, Message{Kind: KindLeave, From: conn.actor})
		}
	}()

	conn.ws.SetReadDeadline(time.Now().Add(r.settings.ReadTimeout))
	conn.ws.SetPongHandler(func(string) error {
		return conn.ws.SetReadDeadline(time.Now().Add(r.settings.ReadTimeout))
	})
	for {
		messageType, data, err := conn.ws.ReadMessage()
		if err != nil {
			return
		}
		conn.ws.SetReadDeadline(time.Now().Add(r.settings.ReadTimeout))
		if messageType != websocket.TextMessage {
			continue
		}
		m, err := Decode(data)
		if err != nil {
			r.logger.Warn("dropping malformed frame", "room", roomID, "actor", conn.actor, "error", err)
			continue
		}
		if m.From != conn.actor {
			r.logger.Warn("rewriting spoofed sender",
				"room", roomID,
				"actor", conn.actor,
				"claimed", m.From)
			m.From = conn.actor
		}
		r.publish(roomID, m)
	}
}

func (r *Relay) writePump(conn *relayConn) {
	ticker := time.NewTicker(r.settings.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case frame, ok := <-conn.send:
			conn.ws.SetWriteDeadline(time.Now().Add(r.settings.WriteTimeout))
			if !ok {
				conn.ws.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := conn.ws.WriteMessage(websocket.TextMessage, frame); err != nil {
				conn.ws.Close()
				return
			}
		case <-ticker.C:
			if err := conn.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(r.settings.WriteTimeout)); err != nil {
				conn.ws.Close()
				return
			}
		}
	}
}

// ListenAndServe serves the relay on addr until ctx is done.
func (r *Relay) ListenAndServe(ctx context.Context, addr string) error {
	return Serve(ctx, addr, r.Handler(), r.logger)
}

// Serve runs an HTTP server for h on addr and shuts it down gracefully
// when ctx is done.
func Serve(ctx context.Context, addr string, h http.Handler, logger *slog.Logger) error {
	srv := &http.Server{Addr: addr, Handler: h, ReadHeaderTimeout: 5 * time.Second}
	errc := make(chan error, 1)
	go func() {
		logger.Info("relay listening", "addr", addr)
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return fmt.Errorf("relay: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
