package transport

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	pongWait   = 60 * time.Second
	pingPeriod = 30 * time.Second
	writeWait  = 10 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     buildCheckOrigin(),
}

// buildCheckOrigin allows every origin unless AGENTCHAT_ALLOWED_ORIGINS names
// an explicit allowlist, matching the teacher's production/dev split.
func buildCheckOrigin() func(r *http.Request) bool {
	allowedRaw := os.Getenv("AGENTCHAT_ALLOWED_ORIGINS")
	if allowedRaw == "" {
		return func(r *http.Request) bool { return true }
	}
	allowed := make(map[string]bool)
	for _, origin := range strings.Split(allowedRaw, ",") {
		allowed[strings.TrimSpace(origin)] = true
	}
	return func(r *http.Request) bool {
		return allowed[r.Header.Get("Origin")]
	}
}

// Conn wraps one upgraded WebSocket connection with a write mutex so
// concurrent senders (the dispatch loop, the callback queue, the heartbeat
// ticker) never interleave frames on the wire.
type Conn struct {
	ID      string
	RealIP  string
	UserAgent string

	ws      *websocket.Conn
	writeMu sync.Mutex
	done    chan struct{}
	once    sync.Once
}

// Send writes one frame, serialized against concurrent writers.
func (c *Conn) Send(data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.ws.SetWriteDeadline(time.Now().Add(writeWait))
	return c.ws.WriteMessage(websocket.TextMessage, data)
}

// Close closes the underlying connection exactly once.
func (c *Conn) Close() {
	c.once.Do(func() {
		close(c.done)
		c.ws.Close()
	})
}

// CloseWithCode sends a WebSocket close frame carrying code and reason
// before tearing down the connection, used for policy-violation
// disconnects (e.g. pre-auth rate limiting).
func (c *Conn) CloseWithCode(code int, reason string) {
	c.writeMu.Lock()
	c.ws.SetWriteDeadline(time.Now().Add(writeWait))
	c.ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason))
	c.writeMu.Unlock()
	c.Close()
}

// Handler receives the three lifecycle callbacks a transport listener
// drives. The server package implements this with its dispatch loop.
type Handler interface {
	OnConnect(c *Conn)
	OnMessage(c *Conn, data []byte)
	OnDisconnect(c *Conn)
}

// Listener runs the HTTP/WebSocket front door: /ws upgrade, /health, and
// /metrics, plus the per-IP connection cap and heartbeat.
type Listener struct {
	addr        string
	handler     Handler
	nextID      func() string
	maxConnPerIP int

	counter *ConnCounter
	srv     *http.Server
}

// NewListener constructs a Listener. nextID mints connection ids.
func NewListener(addr string, handler Handler, nextID func() string, maxConnPerIP int) *Listener {
	return &Listener{
		addr: addr, handler: handler, nextID: nextID, maxConnPerIP: maxConnPerIP,
		counter: NewConnCounter(),
	}
}

// Serve blocks, running the HTTP server until ctx is cancelled.
func (l *Listener) Serve(ctx context.Context) error {
	router := mux.NewRouter()
	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"healthy","service":"agentchat"}`))
	}).Methods("GET")
	router.Handle("/metrics", promhttp.Handler()).Methods("GET")
	router.HandleFunc("/ws", l.handleUpgrade)

	l.srv = &http.Server{
		Addr:         l.addr,
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := l.srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("transport: shutdown error", "error", err)
		}
	}()

	slog.Info("transport: listening", "addr", l.addr)
	if err := l.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (l *Listener) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	ip := remoteIP(r)
	if !l.counter.TryAcquire(ip, l.maxConnPerIP) {
		http.Error(w, "too many connections from this address", http.StatusTooManyRequests)
		return
	}

	wsConn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		l.counter.Release(ip)
		slog.Warn("transport: upgrade failed", "error", err)
		return
	}

	c := &Conn{
		ID: l.nextID(), RealIP: ip, UserAgent: r.Header.Get("User-Agent"),
		ws: wsConn, done: make(chan struct{}),
	}

	l.handler.OnConnect(c)
	go l.heartbeat(c)
	l.readLoop(c, ip)
}

func (l *Listener) readLoop(c *Conn, ip string) {
	defer func() {
		c.Close()
		l.counter.Release(ip)
		l.handler.OnDisconnect(c)
	}()

	c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		c.ws.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				slog.Debug("transport: read error", "conn_id", c.ID, "error", err)
			}
			return
		}
		l.handler.OnMessage(c, data)
	}
}

func (l *Listener) heartbeat(c *Conn) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			c.writeMu.Lock()
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			err := c.ws.WriteMessage(websocket.PingMessage, nil)
			c.writeMu.Unlock()
			if err != nil {
				return
			}
		case <-c.done:
			return
		}
	}
}

func remoteIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		return strings.TrimSpace(strings.Split(fwd, ",")[0])
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
