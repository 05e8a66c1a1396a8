// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package coop is the I/O contract for cooperative applications.
//
// Every function returns a [kont.Eff] that performs the operation when the
// session loop steps it. Blocking operations park the task instead of a
// goroutine:
//
//	func greet() kont.Eff[struct{}] {
//		return kont.Bind(coop.Input("name"), func(name any) kont.Eff[struct{}] {
//			return coop.Put(webio.Textf("Hello, %v", name))
//		})
//	}
//
// Errors are raised in the task; catch them with [Try].
package coop

import (
	"errors"
	"time"

	"code.hybscloud.com/kont"
	"code.hybscloud.com/webio"
)

// Try runs body and yields its error instead of raising it.
func Try[T any](body kont.Eff[T]) kont.Eff[kont.Either[error, T]] {
	return webio.Try(body)
}

// Sleep parks the task for d.
func Sleep(d time.Duration) kont.Eff[struct{}] {
	return webio.Delay(d)
}

// Info returns the session metadata.
func Info() kont.Eff[webio.Info] {
	return webio.Within(func(x *webio.Context) (webio.Info, error) { return x.Info(), nil })
}

// Local returns the session key/value bag.
func Local() kont.Eff[*webio.Local] {
	return webio.Within(func(x *webio.Context) (*webio.Local, error) { return x.Local(), nil })
}

type formStep struct {
	values map[string]any
	done   bool
}

// RunForm sends f and feeds it the task's events until it completes.
func RunForm(f *webio.Form) kont.Eff[map[string]any] {
	return kont.Then(webio.Do(f.Begin), formLoop(f))
}

func formLoop(f *webio.Form) kont.Eff[map[string]any] {
	return kont.Bind(webio.AwaitEvent(), func(ev webio.Event) kont.Eff[map[string]any] {
		step := webio.Within(func(x *webio.Context) (formStep, error) {
			values, done, err := f.Handle(x, ev)
			return formStep{values: values, done: done}, err
		})
		return kont.Bind(step, func(st formStep) kont.Eff[map[string]any] {
			if st.done {
				return kont.Pure(st.values)
			}
			return formLoop(f)
		})
	})
}

// InputGroup shows a form and yields the submitted values, or nil when
// the form is cancelled.
func InputGroup(label string, items []webio.Item, opts ...webio.FormOption) kont.Eff[map[string]any] {
	f, err := webio.NewForm(label, items, opts...)
	if err != nil {
		return webio.Fail[map[string]any](err)
	}
	return RunForm(f)
}

// Prompt shows a single item and yields its value.
func Prompt(it webio.Item) kont.Eff[any] {
	f, err := webio.PromptForm(it)
	if err != nil {
		return webio.Fail[any](err)
	}
	return kont.Map[kont.Resumed, map[string]any, any](RunForm(f), f.First)
}

// Input shows a single text input labelled label.
func Input(label string, opts ...webio.ItemOption) kont.Eff[any] {
	return Prompt(webio.TextInput(label, opts...))
}

// Put renders out into the current scope.
func Put(out webio.Output, opts ...webio.PutOption) kont.Eff[struct{}] {
	return webio.Do(func(x *webio.Context) error { return x.Put(out, opts...) })
}

func Toast(content string, opts ...webio.ToastOption) kont.Eff[struct{}] {
	return webio.Do(func(x *webio.Context) error { return x.Toast(content, opts...) })
}

func Popup(title string, content []webio.Output, opts ...webio.PopupOption) kont.Eff[struct{}] {
	return webio.Do(func(x *webio.Context) error { return x.Popup(title, content, opts...) })
}

func ClosePopup() kont.Eff[struct{}] {
	return webio.Do((*webio.Context).ClosePopup)
}

func SetScope(name string, opts ...webio.ScopeOption) kont.Eff[struct{}] {
	return webio.Do(func(x *webio.Context) error { return x.SetScope(name, opts...) })
}

func Clear(scope string) kont.Eff[struct{}] {
	return webio.Do(func(x *webio.Context) error { return x.Clear(scope) })
}

func Remove(scope string) kont.Eff[struct{}] {
	return webio.Do(func(x *webio.Context) error { return x.Remove(scope) })
}

func ScrollTo(scope, position string) kont.Eff[struct{}] {
	return webio.Do(func(x *webio.Context) error { return x.ScrollTo(scope, position) })
}

func SetTitle(title string) kont.Eff[struct{}] {
	return webio.Do(func(x *webio.Context) error { return x.SetTitle(title) })
}

func SetEnv(knobs map[string]any) kont.Eff[struct{}] {
	return webio.Do(func(x *webio.Context) error { return x.SetEnv(knobs) })
}

func RunJS(code string, args map[string]any) kont.Eff[struct{}] {
	return webio.Do(func(x *webio.Context) error { return x.RunJS(code, args) })
}

func Download(name string, content []byte) kont.Eff[struct{}] {
	return webio.Do(func(x *webio.Context) error { return x.Download(name, content) })
}

func SetProcessbar(name string, value float64, label string) kont.Eff[struct{}] {
	return webio.Do(func(x *webio.Context) error { return x.SetProcessbar(name, value, label) })
}

// EvalJS evaluates expr in the browser and yields its value.
func EvalJS(expr string, args map[string]any) kont.Eff[any] {
	if args == nil {
		args = map[string]any{}
	}
	send := webio.Do(func(x *webio.Context) error {
		return x.Send(webio.CmdRunScript, map[string]any{"code": expr, "args": args, "eval": true})
	})
	return kont.Then(send, jsResult())
}

func jsResult() kont.Eff[any] {
	return kont.Bind(webio.AwaitEvent(), func(ev webio.Event) kont.Eff[any] {
		if ev.Event == webio.EvtJSResult {
			return kont.Pure(ev.Data)
		}
		return jsResult()
	})
}

// RegisterCallback registers cb and yields its id.
func RegisterCallback(cb webio.Callback) kont.Eff[string] {
	return webio.Within(func(x *webio.Context) (string, error) { return x.RegisterCallback(cb) })
}

// Defer registers fn to run when the session closes.
func Defer(fn func()) kont.Eff[struct{}] {
	return webio.Do(func(x *webio.Context) error { return x.Defer(fn) })
}

// RunAsync starts body as a new task of the session.
func RunAsync(body kont.Eff[struct{}]) kont.Eff[*webio.TaskHandle] {
	return webio.Within(func(x *webio.Context) (*webio.TaskHandle, error) { return x.RunAsync(body) })
}

// Hold parks the task until the session closes.
func Hold() kont.Eff[struct{}] {
	return kont.Bind(webio.Try(webio.AwaitEvent()), func(r kont.Either[error, webio.Event]) kont.Eff[struct{}] {
		if err, failed := r.GetLeft(); failed {
			if errors.Is(err, webio.ErrSessionClosed) {
				return kont.Pure(struct{}{})
			}
			return webio.Fail[struct{}](err)
		}
		return Hold()
	})
}

// UseScope runs body with name as the current scope. An empty name
// picks a fresh one; clear empties an existing scope first.
func UseScope[T any](name string, clear bool, body kont.Eff[T]) kont.Eff[T] {
	if name == "" {
		name = "scope-" + webio.NewSessionID()[:8]
	}
	ifExist := "none"
	if clear {
		ifExist = "clear"
	}
	enter := webio.Do(func(x *webio.Context) error {
		if err := x.SetScope(name, webio.IfExist(ifExist)); err != nil {
			return err
		}
		return x.PushScope(name)
	})
	leave := webio.Do(func(x *webio.Context) error {
		_, err := x.PopScope()
		return err
	})
	return kont.Then(enter, kont.Bind(webio.Try(body), func(r kont.Either[error, T]) kont.Eff[T] {
		return kont.Then(leave, settle(r))
	}))
}

func settle[T any](r kont.Either[error, T]) kont.Eff[T] {
	if err, failed := r.GetLeft(); failed {
		return webio.Fail[T](err)
	}
	v, _ := r.GetRight()
	return kont.Pure(v)
}
