// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package eventstream serves webio sessions over Server-Sent Events.
//
// GET ?session=NEW opens a stream for a new session; its first message is
// set_session_id. Every later command is one message whose id is a ULID,
// published on the session's topic. Events are POSTed with the
// webio-session-id header. A reconnecting EventSource resumes through
// Last-Event-ID within the reconnect window.
package eventstream

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"code.hybscloud.com/webio"
	"code.hybscloud.com/webio/transport"
	"github.com/oklog/ulid/v2"
	sse "github.com/tmaxmax/go-sse"
)

// subscriberBuffer is the number of messages a slow stream may lag.
const subscriberBuffer = 128

type channelMessageWriter struct {
	ch chan *sse.Message
}

func (w *channelMessageWriter) Send(message *sse.Message) error {
	select {
	case w.ch <- message.Clone():
		return nil
	default:
		return errors.New("sse subscriber is backpressured")
	}
}

func (w *channelMessageWriter) Flush() error {
	return nil
}

type entry struct {
	sess webio.Session
	wake chan struct{}
	// streams counts the open streams of the session.
	mu      sync.Mutex
	streams int
}

func (e *entry) notify() {
	select {
	case e.wake <- struct{}{}:
	default:
	}
}

// Handler is an http.Handler that runs apps over Server-Sent Events.
type Handler struct {
	cfg      transport.Config
	apps     webio.Apps
	provider *sse.Joe
	guard    http.Handler

	sessions *webio.Directory[*entry]
	detached *webio.Directory[*entry]

	stop chan struct{}
	once sync.Once
}

// New returns a handler serving apps. Messages stay replayable for the
// reconnect timeout, or for the session expiry when that is zero.
func New(apps webio.Apps, cfg transport.Config) (*Handler, error) {
	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	ttl := cfg.ReconnectTimeout
	if ttl <= 0 {
		ttl = cfg.SessionExpire
	}
	replayer, err := sse.NewValidReplayer(ttl, false)
	if err != nil {
		return nil, err
	}
	h := &Handler{
		cfg:      cfg,
		apps:     apps,
		provider: &sse.Joe{Replayer: replayer},
		sessions: webio.NewDirectory[*entry](),
		detached: webio.NewDirectory[*entry](),
		stop:     make(chan struct{}),
	}
	h.guard = cfg.Guard(http.HandlerFunc(h.serve))
	if cfg.ReconnectTimeout > 0 {
		interval := min(cfg.CleanupInterval, max(cfg.ReconnectTimeout/2, time.Second))
		go transport.RunReaper(h.stop, interval, h.sweep)
	}
	return h, nil
}

// Len returns the number of unclosed sessions.
func (h *Handler) Len() int { return h.sessions.Len() }

// Shutdown closes every session and the message provider.
func (h *Handler) Shutdown(ctx context.Context) error {
	var err error
	h.once.Do(func() {
		close(h.stop)
		for _, e := range h.sessions.Values() {
			e.sess.Close(true)
		}
		err = h.provider.Shutdown(ctx)
	})
	return err
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.guard.ServeHTTP(w, r)
}

func (h *Handler) serve(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		if r.URL.Query().Has("session") {
			h.stream(w, r)
			return
		}
		if transport.Probe(w, r) {
			return
		}
		h.cfg.RenderPage(w, r, "sse")
	case http.MethodPost:
		h.post(w, r)
	default:
		transport.WriteJSON(w, http.StatusMethodNotAllowed, map[string]any{"error": "method not allowed"})
	}
}

func (h *Handler) post(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(r.Header.Get(transport.HeaderSessionID))
	if id == "" {
		id = r.URL.Query().Get("session")
	}
	e, ok := h.sessions.Touch(id, time.Now())
	if !ok {
		transport.WriteJSON(w, http.StatusNotFound, map[string]any{"error": "unknown session"})
		return
	}
	events, err := transport.ReadEvents(w, r, h.cfg.MaxPayloadSize)
	if err != nil {
		h.cfg.Logger.Warn("malformed event", "session_id", id, "error", err)
		transport.WriteJSON(w, http.StatusBadRequest, map[string]any{"error": err.Error()})
		return
	}
	for _, ev := range events {
		e.sess.DeliverEvent(ev)
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) stream(w http.ResponseWriter, r *http.Request) {
	if !h.cfg.OriginAllowed(r) {
		transport.WriteJSON(w, http.StatusForbidden, map[string]any{"error": "origin not allowed"})
		return
	}
	id := r.URL.Query().Get("session")
	lastEventID := strings.TrimSpace(r.Header.Get("Last-Event-ID"))
	if lastEventID == "" {
		lastEventID = strings.TrimSpace(r.URL.Query().Get("lastEventId"))
	}

	var (
		e     *entry
		fresh bool
	)
	if id == "" || id == "NEW" {
		e, fresh = h.open(r), true
		id = e.sess.ID()
	} else {
		h.sweep(time.Now())
		var ok bool
		if e, ok = h.sessions.Touch(id, time.Now()); !ok {
			e = nil
		}
	}

	sess, err := sse.Upgrade(w, r)
	if err != nil {
		transport.WriteJSON(w, http.StatusInternalServerError, map[string]any{"error": err.Error()})
		if fresh {
			h.sessions.Remove(id)
			e.sess.Close(true)
		}
		return
	}
	if e == nil {
		_ = sess.Send(message("", webio.CloseSession()))
		_ = sess.Flush()
		return
	}

	var hello *sse.Message
	if fresh {
		helloID := ulid.Make().String()
		hello = message(helloID, webio.SetSessionID(id))
		if err := h.provider.Publish(hello, []string{id}); err != nil {
			h.cfg.Logger.Warn("sse publish", "session_id", id, "error", err)
		}
		lastEventID = helloID
	} else {
		h.detached.Remove(id)
		hello = message("", webio.SetSessionID(id))
	}
	if err := sess.Send(hello); err != nil {
		return
	}
	_ = sess.Flush()

	e.mu.Lock()
	e.streams++
	e.mu.Unlock()
	defer h.detach(e)
	if fresh {
		go h.publish(e)
		e.sess.Start()
	}

	writer := &channelMessageWriter{ch: make(chan *sse.Message, subscriberBuffer)}
	sub := sse.Subscription{Client: writer, Topics: []string{id}}
	if lastEventID != "" {
		sub.LastEventID = sse.ID(lastEventID)
	}
	subscribeErr := make(chan error, 1)
	go func() {
		subscribeErr <- h.provider.Subscribe(r.Context(), sub)
	}()
	for {
		select {
		case <-r.Context().Done():
			return
		case <-subscribeErr:
			return
		case msg := <-writer.ch:
			if err := sess.Send(msg); err != nil {
				return
			}
			_ = sess.Flush()
		}
	}
}

func (h *Handler) open(r *http.Request) *entry {
	e := &entry{wake: make(chan struct{}, 1)}
	app, ok := transport.LookupApp(h.apps, r)
	if !ok {
		app = webio.App(func() error { return webio.Put(webio.Text("No application.")) })
	}
	e.sess = webio.NewSession(app, webio.Options{
		Info:      transport.SessionInfo(r, "sse", "go-sse"),
		Logger:    h.cfg.Logger,
		Debug:     h.cfg.Debug,
		OnCommand: func(webio.Session) { e.notify() },
		OnClose: func(s webio.Session) {
			h.sessions.Remove(s.ID())
			h.detached.Remove(s.ID())
		},
	})
	h.sessions.Put(e.sess.ID(), e, time.Now())
	h.cfg.Logger.Debug("session created", "session_id", e.sess.ID())
	return e
}

// publish moves the session's commands to the provider until the session
// is done.
func (h *Handler) publish(e *entry) {
	topics := []string{e.sess.ID()}
	flush := func() {
		for _, cmd := range transport.Encodable(h.cfg.Logger, e.sess.ID(), e.sess.Commands()) {
			if err := h.provider.Publish(message(ulid.Make().String(), cmd), topics); err != nil {
				h.cfg.Logger.Warn("sse publish", "session_id", e.sess.ID(), "error", err)
			}
		}
	}
	for {
		select {
		case <-e.wake:
			flush()
		case <-e.sess.Done():
			flush()
			return
		}
	}
}

// detach handles the end of one stream of e.
func (h *Handler) detach(e *entry) {
	e.mu.Lock()
	e.streams--
	idle := e.streams == 0
	e.mu.Unlock()
	if !idle || e.sess.Closed() {
		return
	}
	if h.cfg.ReconnectTimeout <= 0 {
		h.sessions.Remove(e.sess.ID())
		e.sess.Close(true)
		return
	}
	h.detached.Put(e.sess.ID(), e, time.Now())
}

func (h *Handler) sweep(now time.Time) {
	if h.cfg.ReconnectTimeout <= 0 {
		return
	}
	for _, e := range h.detached.Evict(now, h.cfg.ReconnectTimeout) {
		h.cfg.Logger.Debug("session expired", "session_id", e.sess.ID())
		h.sessions.Remove(e.sess.ID())
		e.sess.Close(true)
	}
}

// message wraps cmd, which must have passed transport.Encodable.
func message(id string, cmd webio.Command) *sse.Message {
	m := &sse.Message{}
	if id != "" {
		m.ID = sse.ID(id)
	}
	data, _ := webio.EncodeCommand(cmd)
	m.AppendData(string(data))
	return m
}
