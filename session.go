// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package webio

import (
	"log/slog"
	"runtime/debug"
	"sync"

	"code.hybscloud.com/atomix"
	"code.hybscloud.com/kont"
)

// Kind is the execution model of a session.
type Kind uint8

const (
	// KindThread runs each task on its own goroutine with blocking I/O.
	KindThread Kind = iota + 1
	// KindCoop runs tasks as kont computations stepped by a [Loop].
	KindCoop
)

func (k Kind) String() string {
	switch k {
	case KindThread:
		return "thread"
	case KindCoop:
		return "coop"
	}
	return "unknown"
}

// UserAgent is the parsed User-Agent of the client.
type UserAgent struct {
	Raw            string
	Browser        string
	BrowserVersion string
	OS             string
	Platform       string
	Mobile         bool
	Bot            bool
}

// Info is the metadata a transport records when a session is created.
type Info struct {
	UserAgent  UserAgent
	Language   string
	ServerHost string
	Origin     string
	UserIP     string
	Protocol   string
	Backend    string
}

// Options configures a new session.
type Options struct {
	// ID is the session id. Empty means a fresh [NewSessionID].
	ID   string
	Info Info
	// Logger defaults to slog.Default().
	Logger *slog.Logger
	// Debug reports unhandled errors with a popup carrying the trace.
	Debug bool
	// OnCommand is called after commands become available to the
	// transport. It runs on the producing goroutine and must not block.
	OnCommand func(Session)
	// OnClose is called once, after the session closed and its
	// finalizers ran.
	OnClose func(Session)
	// Loop runs cooperative sessions. Nil means [DefaultLoop].
	Loop *Loop
}

// Session is one browser's connection and the application instance it runs.
type Session interface {
	ID() string
	Kind() Kind
	Info() Info
	// Local is the per-session key/value bag for application code.
	Local() *Local
	// Start runs the application.
	Start()
	// Send appends cmd to the outbound queue.
	Send(cmd Command) error
	// Commands removes and returns every pending command.
	Commands() []Command
	// NextBatch removes and returns the oldest complete batch, or nil.
	NextBatch() []Command
	// DeliverEvent routes a client event to the task it addresses.
	DeliverEvent(ev Event)
	// Close ends the session. With nonblock false a preemptive session
	// first gives the transport time to take pending commands.
	Close(nonblock bool)
	Closed() bool
	Done() <-chan struct{}
}

// Application is an entry point; its concrete type selects the session kind.
type Application interface {
	newSession(o Options) Session
	name() string
}

// App is a preemptive application body. It runs on its own goroutine
// and may block in I/O calls.
type App func() error

// CoopApp is a cooperative application body.
type CoopApp func() kont.Eff[struct{}]

func (a App) newSession(o Options) Session     { return NewThreadSession(a, o) }
func (a CoopApp) newSession(o Options) Session { return NewCoopSession(a, o) }
func (a App) name() string                     { return funcName(a) }
func (a CoopApp) name() string                 { return funcName(a) }

// NewSession creates a session of the kind app calls for. The session
// does not run until Start.
func NewSession(app Application, o Options) Session {
	return app.newSession(o)
}

// Local is a concurrency-safe key/value bag.
type Local struct {
	mu sync.Mutex
	m  map[string]any
}

// Get returns the value stored under key.
func (l *Local) Get(key string) (any, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	v, ok := l.m[key]
	return v, ok
}

// Set stores v under key.
func (l *Local) Set(key string, v any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.m == nil {
		l.m = make(map[string]any)
	}
	l.m[key] = v
}

// Delete removes key.
func (l *Local) Delete(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.m, key)
}

// core is the state shared by both session kinds.
type core struct {
	self      Session
	id        string
	info      Info
	log       *slog.Logger
	debug     bool
	onCommand func(Session)
	onClose   func(Session)

	queue  commandQueue
	local  Local
	closed atomix.Uint32
	done   chan struct{}

	mu         sync.Mutex
	scopes     map[string]*ScopeStack
	finalizers []func()
	callbacks  map[string]Callback
}

func (c *core) init(self Session, o Options, queueLimit int) {
	c.self = self
	c.id = o.ID
	if c.id == "" {
		c.id = NewSessionID()
	}
	c.info = o.Info
	logger := o.Logger
	if logger == nil {
		logger = slog.Default()
	}
	c.log = logger.With("session_id", c.id)
	c.debug = o.Debug
	c.onCommand = o.OnCommand
	c.onClose = o.OnClose
	c.queue.limit = queueLimit
	c.done = make(chan struct{})
	c.scopes = make(map[string]*ScopeStack)
	c.callbacks = make(map[string]Callback)
}

func (c *core) ID() string               { return c.id }
func (c *core) Info() Info               { return c.info }
func (c *core) Local() *Local            { return &c.local }
func (c *core) Done() <-chan struct{}    { return c.done }
func (c *core) Closed() bool             { return c.closed.Load() != 0 }
func (c *core) Commands() []Command      { return c.queue.drain() }
func (c *core) NextBatch() []Command     { return c.queue.nextBatch() }
func (c *core) markClosed() (first bool) { return c.closed.Add(1) == 1 }

// push appends cmd without notifying the transport.
func (c *core) push(cmd Command, batch Serial) error {
	if c.Closed() {
		return ErrSessionClosed
	}
	if dropped, overflow := c.queue.push(cmd, batch); overflow {
		c.log.Warn("outbound queue full, oldest command dropped",
			"dropped", dropped.Command, "limit", c.queue.limit)
	}
	return nil
}

func (c *core) notify() {
	if c.onCommand != nil {
		c.onCommand(c.self)
	}
}

// scopeStack returns the scope stack of taskID, creating it on first use.
func (c *core) scopeStack(taskID string) *ScopeStack {
	c.mu.Lock()
	defer c.mu.Unlock()
	st, ok := c.scopes[taskID]
	if !ok {
		st = NewScopeStack()
		c.scopes[taskID] = st
	}
	return st
}

func (c *core) dropScopes(taskID string) {
	c.mu.Lock()
	delete(c.scopes, taskID)
	c.mu.Unlock()
}

func (c *core) addFinalizer(fn func()) error {
	if c.Closed() {
		return ErrSessionClosed
	}
	c.mu.Lock()
	c.finalizers = append(c.finalizers, fn)
	c.mu.Unlock()
	return nil
}

// runFinalizers runs the deferred finalizers once, newest first.
// A panicking finalizer is logged and the rest still run.
func (c *core) runFinalizers() {
	c.mu.Lock()
	fns := c.finalizers
	c.finalizers = nil
	c.mu.Unlock()
	for i := len(fns) - 1; i >= 0; i-- {
		func() {
			defer func() {
				if r := recover(); r != nil {
					c.log.Error("deferred finalizer failed", "panic", r, "stack", string(debug.Stack()))
				}
			}()
			fns[i]()
		}()
	}
}

// finish tells the transport the session is gone. done is already closed.
func (c *core) finish() {
	c.log.Debug("session closed")
	if c.onClose != nil {
		c.onClose(c.self)
	}
}

func (c *core) addCallback(cb Callback) string {
	id := newCallbackID()
	c.mu.Lock()
	c.callbacks[id] = cb
	c.mu.Unlock()
	return id
}

func (c *core) callback(id string) (Callback, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	cb, ok := c.callbacks[id]
	return cb, ok
}

// keepAlive reports whether registered callbacks keep the session open
// after its tasks end.
func (c *core) keepAlive() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.callbacks) > 0
}
