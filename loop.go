// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package webio

import (
	"log/slog"
	"runtime/debug"
	"sync"

	"code.hybscloud.com/webio/internal/goroutineid"
)

// Loop is a single goroutine that runs posted functions in order. Every
// cooperative session owned by a loop is stepped on it, so session state
// needs no locking.
type Loop struct {
	mu      sync.Mutex
	pending []func()
	wake    chan struct{}
	stopped bool
	done    chan struct{}
	gid     uint64

	// current is the Context of the task being stepped. Loop goroutine only.
	current *Context
}

// NewLoop starts a loop goroutine.
func NewLoop() *Loop {
	l := &Loop{wake: make(chan struct{}, 1), done: make(chan struct{})}
	ready := make(chan struct{})
	go l.run(ready)
	<-ready
	return l
}

// DefaultLoop returns the process-wide loop shared by cooperative
// sessions created without an explicit one.
var DefaultLoop = sync.OnceValue(NewLoop)

// Post schedules fn on the loop. It returns false after Close.
func (l *Loop) Post(fn func()) bool {
	l.mu.Lock()
	if l.stopped {
		l.mu.Unlock()
		return false
	}
	l.pending = append(l.pending, fn)
	l.mu.Unlock()
	select {
	case l.wake <- struct{}{}:
	default:
	}
	return true
}

// Close stops the loop after the functions already posted have run.
func (l *Loop) Close() {
	l.mu.Lock()
	if l.stopped {
		l.mu.Unlock()
		<-l.done
		return
	}
	l.stopped = true
	l.mu.Unlock()
	select {
	case l.wake <- struct{}{}:
	default:
	}
	<-l.done
}

func (l *Loop) onLoop() bool {
	return goroutineid.Get() == l.gid
}

func (l *Loop) run(ready chan<- struct{}) {
	l.gid = goroutineid.Get()
	loops.Store(l.gid, l)
	defer func() {
		loops.Delete(l.gid)
		close(l.done)
	}()
	close(ready)
	for {
		l.mu.Lock()
		batch := l.pending
		l.pending = nil
		stopped := l.stopped
		l.mu.Unlock()
		for _, fn := range batch {
			l.call(fn)
		}
		if len(batch) > 0 {
			continue
		}
		if stopped {
			return
		}
		<-l.wake
	}
}

func (l *Loop) call(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("webio: loop function panicked", "panic", r, "stack", string(debug.Stack()))
		}
	}()
	fn()
}
