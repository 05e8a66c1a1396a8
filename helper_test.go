// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package webio_test

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"code.hybscloud.com/webio"
)

const waitTimeout = 3 * time.Second

var quietLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

// client plays the browser side of a session: it drains commands as they
// become available and feeds events back.
type client struct {
	tb   testing.TB
	sess webio.Session
	wake chan struct{}
	out  chan webio.Command
}

// open starts app in a new session driven by a client.
func open(tb testing.TB, app webio.Application) *client {
	tb.Helper()
	c := &client{
		tb:   tb,
		wake: make(chan struct{}, 1),
		out:  make(chan webio.Command, 1024),
	}
	c.sess = webio.NewSession(app, webio.Options{
		Logger: quietLogger,
		OnCommand: func(webio.Session) {
			select {
			case c.wake <- struct{}{}:
			default:
			}
		},
	})
	go c.collect()
	c.sess.Start()
	tb.Cleanup(func() { c.sess.Close(true) })
	return c
}

func (c *client) collect() {
	for {
		select {
		case <-c.wake:
		case <-c.sess.Done():
			c.drain()
			return
		}
		c.drain()
	}
}

func (c *client) drain() {
	for _, cmd := range c.sess.Commands() {
		c.out <- cmd
	}
}

// next returns the next command, failing the test after waitTimeout.
func (c *client) next() webio.Command {
	c.tb.Helper()
	select {
	case cmd := <-c.out:
		return cmd
	case <-time.After(waitTimeout):
		c.tb.Fatalf("no command within %v", waitTimeout)
		return webio.Command{}
	}
}

// expect returns the next command and checks its name.
func (c *client) expect(name string) webio.Command {
	c.tb.Helper()
	cmd := c.next()
	if cmd.Command != name {
		c.tb.Fatalf("got command %q (%v), want %q", cmd.Command, cmd.Spec, name)
	}
	return cmd
}

func (c *client) send(event, taskID string, data any) {
	c.sess.DeliverEvent(webio.Event{Event: event, TaskID: taskID, Data: data})
}

// closed waits until the session is done.
func (c *client) closed() {
	c.tb.Helper()
	select {
	case <-c.sess.Done():
	case <-time.After(waitTimeout):
		c.tb.Fatalf("session still open after %v", waitTimeout)
	}
}

// wait receives from ch, failing the test after waitTimeout.
func wait[T any](tb testing.TB, ch <-chan T) T {
	tb.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(waitTimeout):
		tb.Fatalf("nothing received within %v", waitTimeout)
		var zero T
		return zero
	}
}

func spec(tb testing.TB, cmd webio.Command) map[string]any {
	tb.Helper()
	m, ok := cmd.Spec.(map[string]any)
	if !ok {
		tb.Fatalf("spec of %q is %T, want map", cmd.Command, cmd.Spec)
	}
	return m
}
