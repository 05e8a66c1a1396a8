// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package webio_test

import (
	"errors"
	"slices"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"code.hybscloud.com/kont"
	"code.hybscloud.com/webio"
	"code.hybscloud.com/webio/coop"
)

func unit() kont.Eff[struct{}] { return kont.Pure(struct{}{}) }

func checkPromptForm(t *testing.T, cmd webio.Command, label string) {
	t.Helper()
	s := spec(t, cmd)
	if s["label"] != label {
		t.Fatalf("form label got %v, want %q", s["label"], label)
	}
	inputs, ok := s["inputs"].([]map[string]any)
	if !ok || len(inputs) != 1 {
		t.Fatalf("inputs got %v, want one item", s["inputs"])
	}
	in := inputs[0]
	if in["type"] != "text" || in["name"] != "name" || in["auto_focus"] != true {
		t.Fatalf("item got %v, want text input name with auto_focus", in)
	}
	if _, ok := in["label"]; ok {
		t.Fatalf("item has label %v, want none", in["label"])
	}
}

func TestPromptThread(t *testing.T) {
	skipRace(t)
	got := make(chan any, 1)
	c := open(t, webio.App(func() error {
		v, err := webio.Input("What is your name?", webio.Name("name"))
		if err != nil {
			return err
		}
		got <- v
		return nil
	}))

	form := c.expect(webio.CmdInputGroup)
	checkPromptForm(t, form, "What is your name?")
	if form.TaskID == "" {
		t.Fatalf("input_group carries no task id")
	}
	c.send(webio.EvtFromSubmit, form.TaskID, map[string]any{"name": "Ada"})
	if d := c.expect(webio.CmdDestroyForm); d.TaskID != form.TaskID {
		t.Fatalf("destroy_form task got %q, want %q", d.TaskID, form.TaskID)
	}
	if v := wait(t, got); v != "Ada" {
		t.Fatalf("got %v, want Ada", v)
	}
	c.expect(webio.CmdCloseSession)
	c.closed()
}

func TestPromptCoop(t *testing.T) {
	got := make(chan any, 1)
	c := open(t, webio.CoopApp(func() kont.Eff[struct{}] {
		return kont.Bind(coop.Input("", webio.Name("name")), func(v any) kont.Eff[struct{}] {
			got <- v
			return unit()
		})
	}))

	form := c.expect(webio.CmdInputGroup)
	checkPromptForm(t, form, "")
	c.send(webio.EvtFromSubmit, form.TaskID, map[string]any{"name": "Ada"})
	if d := c.expect(webio.CmdDestroyForm); d.TaskID != form.TaskID {
		t.Fatalf("destroy_form task got %q, want %q", d.TaskID, form.TaskID)
	}
	if v := wait(t, got); v != "Ada" {
		t.Fatalf("got %v, want Ada", v)
	}
	c.expect(webio.CmdCloseSession)
	c.closed()
}

func ageInRange(v any) error {
	n, _ := v.(int64)
	switch {
	case n < 10:
		return errors.New("Too young!!")
	case n > 60:
		return errors.New("Too old!!")
	}
	return nil
}

func checkValidatorLoop(t *testing.T, c *client, got <-chan any) {
	t.Helper()
	form := c.expect(webio.CmdInputGroup)
	c.send(webio.EvtFromSubmit, form.TaskID, map[string]any{"age": int64(5)})

	upd := c.expect(webio.CmdUpdateInput)
	s := spec(t, upd)
	if s["target_name"] != "age" {
		t.Fatalf("target_name got %v, want age", s["target_name"])
	}
	attrs, _ := s["attributes"].(map[string]any)
	if attrs["valid_status"] != false || attrs["invalid_feedback"] != "Too young!!" {
		t.Fatalf("attributes got %v", attrs)
	}

	c.send(webio.EvtFromSubmit, form.TaskID, map[string]any{"age": "25"})
	c.expect(webio.CmdDestroyForm)
	if v := wait(t, got); v != int64(25) {
		t.Fatalf("got %v (%T), want 25", v, v)
	}
}

func TestValidatorLoopThread(t *testing.T) {
	skipRace(t)
	got := make(chan any, 1)
	c := open(t, webio.App(func() error {
		v, err := webio.Input("age", webio.Name("age"), webio.Type(webio.TypeNumber), webio.Validate(ageInRange))
		if err != nil {
			return err
		}
		got <- v
		return nil
	}))
	checkValidatorLoop(t, c, got)
}

func TestValidatorLoopCoop(t *testing.T) {
	got := make(chan any, 1)
	c := open(t, webio.CoopApp(func() kont.Eff[struct{}] {
		in := coop.Input("age", webio.Name("age"), webio.Type(webio.TypeNumber), webio.Validate(ageInRange))
		return kont.Bind(in, func(v any) kont.Eff[struct{}] {
			got <- v
			return unit()
		})
	}))
	checkValidatorLoop(t, c, got)
}

func TestInputGroupDuplicateName(t *testing.T) {
	skipRace(t)
	errs := make(chan error, 1)
	open(t, webio.App(func() error {
		_, err := webio.InputGroup("dup", []webio.Item{
			webio.TextInput("a", webio.Name("x")),
			webio.TextInput("b", webio.Name("x")),
		})
		errs <- err
		return nil
	}))
	if err := wait(t, errs); !errors.Is(err, webio.ErrBadArgument) {
		t.Fatalf("got %v, want ErrBadArgument", err)
	}
}

func TestCancelForm(t *testing.T) {
	skipRace(t)
	got := make(chan map[string]any, 1)
	c := open(t, webio.App(func() error {
		v, err := webio.InputGroup("g", []webio.Item{webio.TextInput("a", webio.Name("a"))}, webio.Cancelable())
		if err != nil {
			return err
		}
		got <- v
		return nil
	}))
	form := c.expect(webio.CmdInputGroup)
	if spec(t, form)["cancelable"] != true {
		t.Fatalf("form is not cancelable: %v", form.Spec)
	}
	c.send(webio.EvtFromCancel, form.TaskID, nil)
	c.expect(webio.CmdDestroyForm)
	if v := wait(t, got); v != nil {
		t.Fatalf("got %v, want nil", v)
	}
}

// serialProbe records callback invocations and whether two ever overlapped.
type serialProbe struct {
	running atomic.Int32
	overlap atomic.Bool
	calls   chan any
}

func newSerialProbe() *serialProbe { return &serialProbe{calls: make(chan any, 8)} }

func (p *serialProbe) enter() {
	if p.running.Add(1) != 1 {
		p.overlap.Store(true)
	}
}

func (p *serialProbe) leave(v any) {
	p.running.Add(-1)
	p.calls <- v
}

func checkTwoCalls(t *testing.T, c *client, id string, p *serialProbe) {
	t.Helper()
	c.send(webio.EvtCallback, id, int64(1))
	c.send(webio.EvtCallback, id, int64(2))
	first, second := wait(t, p.calls), wait(t, p.calls)
	if first != int64(1) || second != int64(2) {
		t.Fatalf("calls got %v, %v, want 1, 2", first, second)
	}
}

func TestSerializedCallbackThread(t *testing.T) {
	skipRace(t)
	p := newSerialProbe()
	ids := make(chan string, 1)
	c := open(t, webio.App(func() error {
		id, err := webio.RegisterCallback(webio.Handler(func(v any) error {
			p.enter()
			time.Sleep(20 * time.Millisecond)
			p.leave(v)
			return nil
		}, webio.Serialized))
		if err != nil {
			return err
		}
		ids <- id
		return webio.Hold()
	}))
	checkTwoCalls(t, c, wait(t, ids), p)
	if p.overlap.Load() {
		t.Fatalf("serialized callback ran concurrently")
	}
}

func probeEff(p *serialProbe, v any) kont.Eff[struct{}] {
	enter := webio.Do(func(*webio.Context) error { p.enter(); return nil })
	leave := webio.Do(func(*webio.Context) error { p.leave(v); return nil })
	return kont.Then(enter, kont.Then(coop.Sleep(20*time.Millisecond), leave))
}

func TestSerializedCallbackCoop(t *testing.T) {
	p := newSerialProbe()
	ids := make(chan string, 1)
	c := open(t, webio.CoopApp(func() kont.Eff[struct{}] {
		cb := webio.EffHandler(func(v any) kont.Eff[struct{}] { return probeEff(p, v) }, webio.Serialized)
		return kont.Bind(coop.RegisterCallback(cb), func(id string) kont.Eff[struct{}] {
			ids <- id
			return coop.Hold()
		})
	}))
	checkTwoCalls(t, c, wait(t, ids), p)
	if p.overlap.Load() {
		t.Fatalf("serialized callback ran concurrently")
	}
}

func TestConcurrentCallbackCoop(t *testing.T) {
	p := newSerialProbe()
	ids := make(chan string, 1)
	c := open(t, webio.CoopApp(func() kont.Eff[struct{}] {
		cb := webio.EffHandler(func(v any) kont.Eff[struct{}] { return probeEff(p, v) }, webio.Concurrent)
		return kont.Bind(coop.RegisterCallback(cb), func(id string) kont.Eff[struct{}] {
			ids <- id
			return coop.Hold()
		})
	}))
	id := wait(t, ids)
	c.send(webio.EvtCallback, id, int64(1))
	c.send(webio.EvtCallback, id, int64(2))
	wait(t, p.calls)
	wait(t, p.calls)
	if !p.overlap.Load() {
		t.Fatalf("concurrent callbacks never overlapped")
	}
}

// finalizerProbe records the finalizers that ran and the error of the
// I/O each attempted.
type finalizerProbe struct {
	mu    sync.Mutex
	order []string
	errs  []error
}

func (p *finalizerProbe) fn(name string) func() {
	return func() {
		err := webio.Put(webio.Text("late"))
		p.mu.Lock()
		p.order = append(p.order, name)
		p.errs = append(p.errs, err)
		p.mu.Unlock()
	}
}

func (p *finalizerProbe) check(t *testing.T) {
	t.Helper()
	p.mu.Lock()
	defer p.mu.Unlock()
	if !slices.Equal(p.order, []string{"f2", "f1"}) {
		t.Fatalf("finalizers got %v, want [f2 f1]", p.order)
	}
	for i, err := range p.errs {
		if !errors.Is(err, webio.ErrSessionClosed) {
			t.Fatalf("I/O in %s got %v, want ErrSessionClosed", p.order[i], err)
		}
	}
}

func TestFinalizersThread(t *testing.T) {
	skipRace(t)
	p := &finalizerProbe{}
	ready := make(chan struct{}, 1)
	c := open(t, webio.App(func() error {
		if err := webio.Defer(p.fn("f1")); err != nil {
			return err
		}
		if err := webio.Defer(p.fn("f2")); err != nil {
			return err
		}
		ready <- struct{}{}
		return webio.Hold()
	}))
	wait(t, ready)
	c.sess.Close(true)
	c.sess.Close(true)
	c.closed()
	p.check(t)
}

func TestFinalizersCoop(t *testing.T) {
	p := &finalizerProbe{}
	ready := make(chan struct{}, 1)
	c := open(t, webio.CoopApp(func() kont.Eff[struct{}] {
		return kont.Then(coop.Defer(p.fn("f1")),
			kont.Then(coop.Defer(p.fn("f2")),
				kont.Then(webio.Do(func(*webio.Context) error { ready <- struct{}{}; return nil }),
					coop.Hold())))
	}))
	wait(t, ready)
	c.sess.Close(false)
	c.sess.Close(true)
	c.closed()
	p.check(t)
}

func TestClosedSessionRejectsSend(t *testing.T) {
	skipRace(t)
	c := open(t, webio.App(func() error { return webio.Hold() }))
	c.sess.Close(true)
	if err := c.sess.Send(webio.Command{Command: webio.CmdToast}); !errors.Is(err, webio.ErrSessionClosed) {
		t.Fatalf("got %v, want ErrSessionClosed", err)
	}
	if !c.sess.Closed() {
		t.Fatalf("session not closed")
	}
}

func TestRunAsyncTaskIdentity(t *testing.T) {
	handles := make(chan *webio.TaskHandle, 1)
	c := open(t, webio.CoopApp(func() kont.Eff[struct{}] {
		return kont.Bind(coop.RunAsync(coop.Put(webio.Text("bg"))), func(h *webio.TaskHandle) kont.Eff[struct{}] {
			handles <- h
			return unit()
		})
	}))
	h := wait(t, handles)
	out := c.expect(webio.CmdOutput)
	if out.TaskID != h.ID() {
		t.Fatalf("output task got %q, want %q", out.TaskID, h.ID())
	}
	c.expect(webio.CmdCloseSession)
	c.closed()
	if !h.Closed() {
		t.Fatalf("async task still running")
	}
}

func TestTaskHandleClose(t *testing.T) {
	handles := make(chan *webio.TaskHandle, 1)
	c := open(t, webio.CoopApp(func() kont.Eff[struct{}] {
		return kont.Bind(coop.RunAsync(coop.Hold()), func(h *webio.TaskHandle) kont.Eff[struct{}] {
			handles <- h
			return unit()
		})
	}))
	h := wait(t, handles)
	if h.Closed() {
		t.Fatalf("held task closed early")
	}
	h.Close()
	c.expect(webio.CmdCloseSession)
	c.closed()
	if !h.Closed() {
		t.Fatalf("task still running after Close")
	}
}

func TestDelayedAsyncOutput(t *testing.T) {
	c := open(t, webio.CoopApp(func() kont.Eff[struct{}] {
		slow := kont.Then(coop.Sleep(30*time.Millisecond), coop.Put(webio.Text("slow")))
		return kont.Then(coop.RunAsync(slow), unit())
	}))
	out := c.expect(webio.CmdOutput)
	if spec(t, out)["content"] != "slow" {
		t.Fatalf("output got %v", out.Spec)
	}
	c.expect(webio.CmdCloseSession)
}

func TestKeepAliveWithCallbacks(t *testing.T) {
	skipRace(t)
	ids := make(chan string, 1)
	calls := make(chan any, 1)
	c := open(t, webio.App(func() error {
		id, err := webio.RegisterCallback(webio.Handler(func(v any) error {
			calls <- v
			return nil
		}, webio.Serialized))
		ids <- id
		return err
	}))
	id := wait(t, ids)
	c.send(webio.EvtCallback, id, "late click")
	if v := wait(t, calls); v != "late click" {
		t.Fatalf("got %v, want late click", v)
	}
	if c.sess.Closed() {
		t.Fatalf("session closed while callbacks are registered")
	}
}

func TestUnhandledErrorReported(t *testing.T) {
	skipRace(t)
	c := open(t, webio.App(func() error {
		panic("boom")
	}))
	toast := c.expect(webio.CmdToast)
	if s := spec(t, toast); s["color"] != "error" {
		t.Fatalf("toast got %v", s)
	}
	c.expect(webio.CmdRunScript)
	c.expect(webio.CmdCloseSession)
	c.closed()
}

func TestUnhandledErrorCoop(t *testing.T) {
	c := open(t, webio.CoopApp(func() kont.Eff[struct{}] {
		return webio.Fail[struct{}](errors.New("boom"))
	}))
	c.expect(webio.CmdToast)
	c.expect(webio.CmdRunScript)
	c.expect(webio.CmdCloseSession)
}

func TestTryCatchesError(t *testing.T) {
	got := make(chan error, 1)
	open(t, webio.CoopApp(func() kont.Eff[struct{}] {
		return kont.Bind(coop.Try(coop.Remove(webio.RootScope)), func(r kont.Either[error, struct{}]) kont.Eff[struct{}] {
			err, _ := r.GetLeft()
			got <- err
			return unit()
		})
	}))
	if err := wait(t, got); !errors.Is(err, webio.ErrBadArgument) {
		t.Fatalf("got %v, want ErrBadArgument", err)
	}
}

func TestCurrentOutsideSession(t *testing.T) {
	if _, err := webio.Current(); !errors.Is(err, webio.ErrNoSession) {
		t.Fatalf("got %v, want ErrNoSession", err)
	}
	if err := webio.Put(webio.Text("x")); !errors.Is(err, webio.ErrNoSession) {
		t.Fatalf("got %v, want ErrNoSession", err)
	}
}

func TestBlockingIOInCoopSession(t *testing.T) {
	got := make(chan error, 1)
	open(t, webio.CoopApp(func() kont.Eff[struct{}] {
		return webio.Do(func(x *webio.Context) error {
			_, err := x.NextEvent()
			got <- err
			return nil
		})
	}))
	if err := wait(t, got); !errors.Is(err, webio.ErrWrongSessionKind) {
		t.Fatalf("got %v, want ErrWrongSessionKind", err)
	}
}

func TestLocalAndInfo(t *testing.T) {
	skipRace(t)
	got := make(chan any, 1)
	open(t, webio.App(func() error {
		l, err := webio.SessionLocal()
		if err != nil {
			return err
		}
		l.Set("k", 7)
		v, _ := l.Get("k")
		got <- v
		return nil
	}))
	if v := wait(t, got); v != 7 {
		t.Fatalf("got %v, want 7", v)
	}
}
