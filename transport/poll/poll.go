// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package poll serves webio sessions over plain HTTP requests.
//
// The client pulls command batches with GET and pushes events with POST.
// Each session keeps a window of batches the client has not acknowledged
// yet, so a lost response is redelivered by the next pull:
//
//	GET  ?ack=N          -> {"commands": [[...], ...], "seq": first, "ack": latest event}
//	POST ?seq=E  [events] -> same response; events with id <= latest are ignored
package poll

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"code.hybscloud.com/webio"
	"code.hybscloud.com/webio/transport"
)

// Response is the body of every session request.
type Response struct {
	Commands [][]webio.Command `json:"commands"`
	Seq      int64             `json:"seq"`
	Ack      int64             `json:"ack"`
}

type batch struct {
	id   int64
	cmds []webio.Command
}

// conn is the per-session delivery state.
type conn struct {
	mu   sync.Mutex
	sess webio.Session
	log  *slog.Logger
	// window holds unacknowledged batches in id order.
	window []batch
	nextID int64
	// sent is the highest batch id returned to the client.
	sent int64
	// latest is the highest event id accepted.
	latest int64
}

func newConn(sess webio.Session, log *slog.Logger) *conn {
	return &conn{sess: sess, log: log, sent: -1, latest: -1}
}

// accept delivers the events numbered from seq that are newer than the
// latest accepted one and reports how many were delivered.
func (c *conn) accept(seq int64, hasSeq bool, events []webio.Event) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for i, ev := range events {
		if hasSeq {
			id := seq + int64(i)
			if id <= c.latest {
				continue
			}
			c.latest = id
		}
		c.sess.DeliverEvent(ev)
		n++
	}
	return n
}

// pull retires delivered batches with id <= ack, refills the window and
// returns the response. drained reports that the session has no further
// batches queued.
func (c *conn) pull(ack int64, size int) (resp Response, drained bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	limit := min(ack, c.sent)
	i := 0
	for i < len(c.window) && c.window[i].id <= limit {
		i++
	}
	c.window = c.window[i:]
	for len(c.window) < size {
		cmds := c.sess.NextBatch()
		if cmds == nil {
			drained = true
			break
		}
		if cmds = transport.Encodable(c.log, c.sess.ID(), cmds); len(cmds) == 0 {
			continue
		}
		c.window = append(c.window, batch{id: c.nextID, cmds: cmds})
		c.nextID++
	}
	resp = Response{Commands: make([][]webio.Command, 0, len(c.window)), Seq: c.nextID, Ack: c.latest}
	if len(c.window) > 0 {
		resp.Seq = c.window[0].id
		c.sent = max(c.sent, c.window[len(c.window)-1].id)
	}
	for _, b := range c.window {
		resp.Commands = append(resp.Commands, b.cmds)
	}
	return resp, drained
}

// Handler is an http.Handler that runs apps over the long-poll protocol.
type Handler struct {
	cfg   transport.Config
	apps  webio.Apps
	dir   *webio.Directory[*conn]
	guard http.Handler
	stop  chan struct{}
	once  sync.Once
}

// New returns a handler serving apps. Call Close to stop its reaper.
func New(apps webio.Apps, cfg transport.Config) (*Handler, error) {
	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	h := &Handler{
		cfg:  cfg,
		apps: apps,
		dir:  webio.NewDirectory[*conn](),
		stop: make(chan struct{}),
	}
	h.guard = cfg.Guard(http.HandlerFunc(h.serve))
	go transport.RunReaper(h.stop, cfg.CleanupInterval, h.sweep)
	return h, nil
}

// Len returns the number of live sessions.
func (h *Handler) Len() int { return h.dir.Len() }

// Close stops the reaper and closes every session.
func (h *Handler) Close() {
	h.once.Do(func() {
		close(h.stop)
		for _, c := range h.dir.Values() {
			h.dir.Remove(c.sess.ID())
			c.sess.Close(true)
		}
	})
}

func (h *Handler) sweep(now time.Time) {
	for _, c := range h.dir.Evict(now, h.cfg.SessionExpire) {
		h.cfg.Logger.Debug("session expired", "session_id", c.sess.ID())
		c.sess.Close(true)
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.guard.ServeHTTP(w, r)
}

func (h *Handler) serve(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		h.cors(w, r)
		w.WriteHeader(http.StatusNoContent)
		return
	}
	if r.Header.Get("Origin") != "" {
		h.cors(w, r)
	}
	if transport.Probe(w, r) {
		return
	}
	if r.Method != http.MethodGet && r.Method != http.MethodPost {
		transport.WriteJSON(w, http.StatusMethodNotAllowed, map[string]any{"error": "method not allowed"})
		return
	}

	sid, ok := r.Header[http.CanonicalHeaderKey(transport.HeaderSessionID)]
	if !ok {
		h.cfg.RenderPage(w, r, "http")
		return
	}
	id := strings.TrimSpace(strings.Join(sid, ""))
	ack := queryInt(r, "ack", -1)

	var (
		c       *conn
		created bool
	)
	if id == "" || id == "NEW" || strings.HasPrefix(id, "NEW-") {
		if r.Method == http.MethodPost {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		var err error
		c, created, err = h.open(r, strings.TrimPrefix(strings.TrimPrefix(id, "NEW"), "-"))
		if err != nil {
			transport.WriteJSON(w, http.StatusBadRequest, map[string]any{"error": err.Error()})
			return
		}
		w.Header().Set(transport.HeaderSessionID, c.sess.ID())
	} else {
		c, ok = h.dir.Touch(id, time.Now())
		if !ok {
			transport.WriteJSON(w, http.StatusOK, Response{
				Commands: [][]webio.Command{{webio.CloseSession()}},
				Seq:      ack + 1,
				Ack:      -1,
			})
			return
		}
	}

	wait := created
	if r.Method == http.MethodPost {
		events, err := transport.ReadEvents(w, r, h.cfg.MaxPayloadSize)
		if err != nil {
			h.cfg.Logger.Warn("malformed event", "session_id", c.sess.ID(), "error", err)
			transport.WriteJSON(w, http.StatusBadRequest, map[string]any{"error": err.Error()})
			return
		}
		seq, hasSeq := r.URL.Query().Get("seq"), false
		var first int64
		if seq != "" {
			if n, err := strconv.ParseInt(seq, 10, 64); err == nil {
				first, hasSeq = n, true
			}
		}
		if c.accept(first, hasSeq, events) > 0 {
			wait = true
		}
	}
	if wait {
		grace(r.Context(), h.cfg.PostGrace)
	}

	resp, drained := c.pull(ack, h.cfg.WindowSize)
	transport.WriteJSON(w, http.StatusOK, resp)
	if drained && c.sess.Closed() {
		h.dir.Remove(c.sess.ID())
	}
}

// open creates the session named id, or returns it when a retried
// creation request names a live session.
func (h *Handler) open(r *http.Request, id string) (*conn, bool, error) {
	if id == "" {
		id = webio.NewSessionID()
	} else if !validID(id) {
		return nil, false, webio.ErrBadArgument
	}
	if c, ok := h.dir.Touch(id, time.Now()); ok {
		return c, false, nil
	}
	app, ok := transport.LookupApp(h.apps, r)
	if !ok {
		return nil, false, webio.ErrBadArgument
	}
	sess := webio.NewSession(app, webio.Options{
		ID:     id,
		Info:   transport.SessionInfo(r, "http", "net/http"),
		Logger: h.cfg.Logger,
		Debug:  h.cfg.Debug,
	})
	c := newConn(sess, h.cfg.Logger)
	h.dir.Put(id, c, time.Now())
	h.cfg.Logger.Debug("session created", "session_id", id)
	sess.Start()
	return c, true, nil
}

func (h *Handler) cors(w http.ResponseWriter, r *http.Request) {
	if !h.cfg.OriginAllowed(r) {
		return
	}
	hd := w.Header()
	hd.Set("Access-Control-Allow-Origin", r.Header.Get("Origin"))
	hd.Set("Access-Control-Allow-Methods", "GET, POST")
	hd.Set("Access-Control-Allow-Headers", "content-type, "+transport.HeaderSessionID)
	hd.Set("Access-Control-Expose-Headers", transport.HeaderSessionID)
	hd.Set("Access-Control-Max-Age", strconv.Itoa(1440*60))
}

func grace(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
	}
}

func queryInt(r *http.Request, key string, def int64) int64 {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return def
	}
	return n
}

func validID(id string) bool {
	if len(id) > 64 {
		return false
	}
	for _, c := range id {
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '-', c == '_':
		default:
			return false
		}
	}
	return true
}
