// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package webio

// Package-level I/O for preemptive applications. Each call resolves the
// calling goroutine's task with [Current].

// Input shows a single text input labelled label and returns its value.
func Input(label string, opts ...ItemOption) (any, error) {
	return Prompt(TextInput(label, opts...))
}

// Prompt shows a single item and returns its value.
func Prompt(it Item) (any, error) {
	return with(func(x *Context) (any, error) { return x.Prompt(it) })
}

// InputGroup shows a form and returns the submitted values.
func InputGroup(label string, items []Item, opts ...FormOption) (map[string]any, error) {
	return with(func(x *Context) (map[string]any, error) { return x.InputGroup(label, items, opts...) })
}

// Put renders out into the current scope.
func Put(out Output, opts ...PutOption) error {
	return with0(func(x *Context) error { return x.Put(out, opts...) })
}

func Toast(content string, opts ...ToastOption) error {
	return with0(func(x *Context) error { return x.Toast(content, opts...) })
}

func Popup(title string, content []Output, opts ...PopupOption) error {
	return with0(func(x *Context) error { return x.Popup(title, content, opts...) })
}

func ClosePopup() error {
	return with0(func(x *Context) error { return x.ClosePopup() })
}

func SetScope(name string, opts ...ScopeOption) error {
	return with0(func(x *Context) error { return x.SetScope(name, opts...) })
}

func Clear(scope string) error {
	return with0(func(x *Context) error { return x.Clear(scope) })
}

func Remove(scope string) error {
	return with0(func(x *Context) error { return x.Remove(scope) })
}

func ScrollTo(scope, position string) error {
	return with0(func(x *Context) error { return x.ScrollTo(scope, position) })
}

func UseScope(name string, clear bool, fn func() error) error {
	return with0(func(x *Context) error { return x.UseScope(name, clear, fn) })
}

func SetTitle(title string) error {
	return with0(func(x *Context) error { return x.SetTitle(title) })
}

func SetEnv(knobs map[string]any) error {
	return with0(func(x *Context) error { return x.SetEnv(knobs) })
}

func RunJS(code string, args map[string]any) error {
	return with0(func(x *Context) error { return x.RunJS(code, args) })
}

// EvalJS evaluates expr in the browser and returns its value.
func EvalJS(expr string, args map[string]any) (any, error) {
	return with(func(x *Context) (any, error) { return x.EvalJS(expr, args) })
}

func Download(name string, content []byte) error {
	return with0(func(x *Context) error { return x.Download(name, content) })
}

func SetProcessbar(name string, value float64, label string) error {
	return with0(func(x *Context) error { return x.SetProcessbar(name, value, label) })
}

// RegisterCallback registers cb with the calling task's session.
func RegisterCallback(cb Callback) (string, error) {
	return with(func(x *Context) (string, error) { return x.RegisterCallback(cb) })
}

// Defer registers fn to run when the session closes.
func Defer(fn func()) error {
	return with0(func(x *Context) error { return x.Defer(fn) })
}

// Hold blocks until the session closes.
func Hold() error {
	return with0(func(x *Context) error { return x.Hold() })
}

// RegisterThread runs fn as a new task of the calling session.
func RegisterThread(fn func() error) error {
	return with0(func(x *Context) error { return x.RegisterThread(fn) })
}

// SessionInfo returns the metadata of the calling task's session.
func SessionInfo() (Info, error) {
	return with(func(x *Context) (Info, error) { return x.Info(), nil })
}

// SessionLocal returns the key/value bag of the calling task's session.
func SessionLocal() (*Local, error) {
	return with(func(x *Context) (*Local, error) { return x.Local(), nil })
}
