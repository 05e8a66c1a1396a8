// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package ws serves webio sessions over WebSocket, one session per
// connection.
//
// A client opens ?session=NEW to start a session or ?session=<id> to
// resume one. With a reconnect timeout, a session outlives its socket for
// that long and a resuming connection receives set_session_id followed by
// everything produced while it was away.
package ws

import (
	"log/slog"
	"net/http"
	"sync"
	"time"

	"code.hybscloud.com/webio"
	"code.hybscloud.com/webio/transport"
	"github.com/gorilla/websocket"
)

const writeWait = 10 * time.Second

// peer is one WebSocket connection attached to an entry.
type peer struct {
	conn    *websocket.Conn
	wake    chan struct{}
	done    chan struct{}
	once    sync.Once
	closing bool
}

func newPeer(conn *websocket.Conn) *peer {
	return &peer{conn: conn, wake: make(chan struct{}, 1), done: make(chan struct{})}
}

func (p *peer) notify() {
	select {
	case p.wake <- struct{}{}:
	default:
	}
}

func (p *peer) stopped() bool {
	select {
	case <-p.done:
		return true
	default:
		return false
	}
}

func (p *peer) stop() {
	p.once.Do(func() { close(p.done) })
}

// entry is a session together with the connection it is attached to.
type entry struct {
	mu   sync.Mutex
	sess webio.Session
	peer *peer
	// backlog holds commands taken from the session but not yet written.
	backlog []webio.Command
}

// take removes the backlog and the session's pending commands. Commands
// that cannot be encoded are dropped as they leave the session.
func (e *entry) take(log *slog.Logger) []webio.Command {
	e.mu.Lock()
	cmds := e.backlog
	e.backlog = nil
	e.mu.Unlock()
	if e.sess == nil {
		return cmds
	}
	return append(cmds, transport.Encodable(log, e.sess.ID(), e.sess.Commands())...)
}

// requeue puts unwritten commands back in front of the backlog.
func (e *entry) requeue(cmds []webio.Command) {
	if len(cmds) == 0 {
		return
	}
	e.mu.Lock()
	e.backlog = append(cmds, e.backlog...)
	e.mu.Unlock()
}

// Handler is an http.Handler that runs apps over WebSocket.
type Handler struct {
	cfg      transport.Config
	apps     webio.Apps
	upgrader websocket.Upgrader
	guard    http.Handler

	sessions *webio.Directory[*entry]
	detached *webio.Directory[*entry]
	// undelivered keeps the output of sessions that ended while detached.
	undelivered *webio.Directory[[]webio.Command]

	// script is the single entry of a script-mode handler.
	script *entry

	stop chan struct{}
	once sync.Once
}

// New returns a handler serving apps.
func New(apps webio.Apps, cfg transport.Config) (*Handler, error) {
	h, err := newHandler(cfg)
	if err != nil {
		return nil, err
	}
	h.apps = apps
	if h.cfg.ReconnectTimeout > 0 {
		interval := min(h.cfg.CleanupInterval, max(h.cfg.ReconnectTimeout/2, time.Second))
		go transport.RunReaper(h.stop, interval, h.sweep)
	}
	return h, nil
}

// NewScript returns a handler serving a single script session and
// installs that session with [webio.UseScriptSession]. Every connection
// attaches to it; a new connection replaces the previous one and receives
// whatever the previous one missed.
func NewScript(cfg transport.Config) (*Handler, *webio.ThreadSession, error) {
	h, err := newHandler(cfg)
	if err != nil {
		return nil, nil, err
	}
	e := &entry{}
	s := webio.NewScriptSession(webio.Options{
		Logger:    h.cfg.Logger,
		Debug:     h.cfg.Debug,
		Info:      webio.Info{Protocol: "websocket", Backend: "gorilla/websocket"},
		OnCommand: func(webio.Session) { h.notify(e) },
		OnClose:   func(webio.Session) { h.ended(e) },
	})
	e.sess = s
	h.script = e
	h.sessions.Put(s.ID(), e, time.Now())
	webio.UseScriptSession(s)
	return h, s, nil
}

func newHandler(cfg transport.Config) (*Handler, error) {
	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	h := &Handler{
		cfg:         cfg,
		sessions:    webio.NewDirectory[*entry](),
		detached:    webio.NewDirectory[*entry](),
		undelivered: webio.NewDirectory[[]webio.Command](),
		stop:        make(chan struct{}),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     cfg.OriginAllowed,
	}
	h.guard = cfg.Guard(http.HandlerFunc(h.serve))
	return h, nil
}

// Len returns the number of unclosed sessions.
func (h *Handler) Len() int { return h.sessions.Len() }

// Close stops the janitor and closes every session.
func (h *Handler) Close() {
	h.once.Do(func() {
		close(h.stop)
		if h.script != nil {
			webio.UseScriptSession(nil)
		}
		for _, e := range h.sessions.Values() {
			e.sess.Close(true)
		}
	})
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.guard.ServeHTTP(w, r)
}

func (h *Handler) serve(w http.ResponseWriter, r *http.Request) {
	if !websocket.IsWebSocketUpgrade(r) {
		if transport.Probe(w, r) {
			return
		}
		h.cfg.RenderPage(w, r, "ws")
		return
	}
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.cfg.Logger.Debug("websocket upgrade", "error", err)
		return
	}
	conn.SetReadLimit(h.cfg.MaxPayloadSize)

	var e *entry
	switch id := r.URL.Query().Get("session"); {
	case h.script != nil:
		e = h.script
		h.attach(e, conn, true)
	case id == "" || id == "NEW":
		e = h.open(r)
		h.attach(e, conn, h.cfg.ReconnectTimeout > 0)
		e.sess.Start()
	default:
		h.sweep(time.Now())
		var ok bool
		if e, ok = h.sessions.Get(id); !ok {
			h.bye(conn, id)
			return
		}
		h.detached.Remove(id)
		h.attach(e, conn, true)
	}
	h.read(e, conn)
}

func (h *Handler) open(r *http.Request) *entry {
	e := &entry{}
	app, ok := transport.LookupApp(h.apps, r)
	if !ok {
		app = webio.App(func() error { return webio.Put(webio.Text("No application.")) })
	}
	e.sess = webio.NewSession(app, webio.Options{
		Info:      transport.SessionInfo(r, "websocket", "gorilla/websocket"),
		Logger:    h.cfg.Logger,
		Debug:     h.cfg.Debug,
		OnCommand: func(webio.Session) { h.notify(e) },
		OnClose:   func(webio.Session) { h.ended(e) },
	})
	h.sessions.Put(e.sess.ID(), e, time.Now())
	h.cfg.Logger.Debug("session created", "session_id", e.sess.ID())
	return e
}

// attach makes conn the connection of e, replacing any previous one.
func (h *Handler) attach(e *entry, conn *websocket.Conn, announce bool) {
	p := newPeer(conn)
	e.mu.Lock()
	old := e.peer
	e.peer = p
	if announce {
		e.backlog = append([]webio.Command{webio.SetSessionID(e.sess.ID())}, e.backlog...)
	}
	e.mu.Unlock()
	if old != nil {
		old.stop()
	}
	go h.pump(e, p)
	p.notify()
}

// bye answers a connection naming an unknown session with the output
// that session left behind and close_session.
func (h *Handler) bye(conn *websocket.Conn, id string) {
	cmds, _ := h.undelivered.Remove(id)
	if n := len(cmds); n == 0 || cmds[n-1].Command != webio.CmdCloseSession {
		cmds = append(cmds, webio.CloseSession())
	}
	for _, cmd := range cmds {
		if err := write(conn, cmd); err != nil {
			break
		}
	}
	closeConn(conn)
}

// pump writes the commands of e to p until p stops. Commands that could
// not be written stay with e for the next connection.
func (h *Handler) pump(e *entry, p *peer) {
	defer p.conn.Close()
	for {
		select {
		case <-p.wake:
		case <-p.done:
			return
		}
		for cmds := e.take(h.cfg.Logger); len(cmds) > 0; cmds = e.take(h.cfg.Logger) {
			if p.stopped() {
				e.requeue(cmds)
				return
			}
			for i, cmd := range cmds {
				if err := write(p.conn, cmd); err != nil {
					h.cfg.Logger.Debug("websocket write", "session_id", e.sess.ID(), "error", err)
					e.requeue(cmds[i:])
					p.stop()
					return
				}
			}
		}
		e.mu.Lock()
		closing := p.closing
		e.mu.Unlock()
		if closing {
			closeConn(p.conn)
			p.stop()
			return
		}
	}
}

func (h *Handler) read(e *entry, conn *websocket.Conn) {
	for {
		typ, data, err := conn.ReadMessage()
		if err != nil {
			h.detach(e, conn)
			return
		}
		var ev webio.Event
		if typ == websocket.BinaryMessage {
			ev, err = webio.DecodeBinaryEvent(data)
		} else {
			ev, err = webio.DecodeEvent(data)
		}
		if err != nil {
			h.cfg.Logger.Warn("malformed event", "session_id", e.sess.ID(), "error", err)
			continue
		}
		e.sess.DeliverEvent(ev)
	}
}

// detach handles the loss of conn. Without a reconnect window the session
// closes at once.
func (h *Handler) detach(e *entry, conn *websocket.Conn) {
	e.mu.Lock()
	p := e.peer
	current := p != nil && p.conn == conn
	if current {
		e.peer = nil
	}
	e.mu.Unlock()
	if !current {
		return
	}
	p.stop()
	id := e.sess.ID()
	switch {
	case e == h.script:
	case h.cfg.ReconnectTimeout <= 0:
		h.sessions.Remove(id)
		e.sess.Close(true)
	case !e.sess.Closed():
		h.detached.Put(id, e, time.Now())
		h.cfg.Logger.Debug("session detached", "session_id", id)
	}
}

func (h *Handler) notify(e *entry) {
	e.mu.Lock()
	p := e.peer
	e.mu.Unlock()
	if p != nil {
		p.notify()
	}
}

// ended is called once the session has closed. An attached connection
// gets the remaining output and is closed; otherwise the output is kept
// for a late reconnect.
func (h *Handler) ended(e *entry) {
	id := e.sess.ID()
	h.sessions.Remove(id)
	h.detached.Remove(id)
	e.mu.Lock()
	p := e.peer
	if p != nil {
		p.closing = true
	}
	e.mu.Unlock()
	if p != nil {
		p.notify()
		return
	}
	if cmds := e.take(h.cfg.Logger); len(cmds) > 0 && h.cfg.ReconnectTimeout > 0 {
		h.undelivered.Put(id, cmds, time.Now())
	}
}

// sweep closes sessions detached for longer than the reconnect timeout.
func (h *Handler) sweep(now time.Time) {
	ttl := h.cfg.ReconnectTimeout
	if ttl <= 0 {
		return
	}
	for _, e := range h.detached.Evict(now, ttl) {
		h.cfg.Logger.Debug("session expired", "session_id", e.sess.ID())
		h.sessions.Remove(e.sess.ID())
		e.sess.Close(true)
	}
	h.undelivered.Evict(now, ttl)
}

func write(conn *websocket.Conn, cmd webio.Command) error {
	data, err := webio.EncodeCommand(cmd)
	if err != nil {
		return err
	}
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteMessage(websocket.TextMessage, data)
}

func closeConn(conn *websocket.Conn) {
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(writeWait))
	_ = conn.Close()
}
