// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package webio

import (
	"encoding/base64"
	"encoding/json"
	"time"
)

type toast struct {
	duration time.Duration
	position string
	color    string
	onClick  *Callback
}

// ToastOption configures a toast.
type ToastOption func(*toast)

// Duration sets how long the toast shows; zero keeps it until closed.
func Duration(d time.Duration) ToastOption { return func(t *toast) { t.duration = d } }

// ToastPosition is "left", "center" or "right".
func ToastPosition(p string) ToastOption { return func(t *toast) { t.position = p } }

// ToastColor is "info", "error", "warn", "success" or a CSS color.
func ToastColor(c string) ToastOption { return func(t *toast) { t.color = c } }

// OnClick invokes cb when the toast is clicked.
func OnClick(cb Callback) ToastOption { return func(t *toast) { t.onClick = &cb } }

// Toast shows a transient notification.
func (x *Context) Toast(content string, opts ...ToastOption) error {
	t := toast{duration: 2 * time.Second, position: "center", color: "info"}
	for _, o := range opts {
		o(&t)
	}
	spec := map[string]any{
		"content":  content,
		"duration": t.duration.Milliseconds(),
		"position": t.position,
		"color":    t.color,
	}
	if t.onClick != nil {
		id, err := x.RegisterCallback(*t.onClick)
		if err != nil {
			return err
		}
		spec["callback_id"] = id
	}
	return x.Send(CmdToast, spec)
}

type popup struct {
	size          string
	implicitClose bool
	closable      bool
}

// PopupOption configures a popup.
type PopupOption func(*popup)

// PopupSize is "small", "normal" or "large".
func PopupSize(size string) PopupOption { return func(p *popup) { p.size = size } }

// ImplicitClose lets a click outside the popup close it.
func ImplicitClose() PopupOption { return func(p *popup) { p.implicitClose = true } }

// Unclosable hides the close button.
func Unclosable() PopupOption { return func(p *popup) { p.closable = false } }

// Popup opens a modal dialog.
func (x *Context) Popup(title string, content []Output, opts ...PopupOption) error {
	p := popup{size: "normal", closable: true}
	for _, o := range opts {
		o(&p)
	}
	list, err := specs(x, content)
	if err != nil {
		return err
	}
	return x.Send(CmdPopup, map[string]any{
		"title":          title,
		"content":        list,
		"size":           p.size,
		"implicit_close": p.implicitClose,
		"closable":       p.closable,
	})
}

// ClosePopup closes the open popup.
func (x *Context) ClosePopup() error {
	return x.Send(CmdClosePopup, nil)
}

type scopeSpec struct {
	container string
	position  int
	ifExist   string
}

// ScopeOption configures [Context.SetScope].
type ScopeOption func(*scopeSpec)

// Container creates the scope inside another scope instead of the current one.
func Container(name string) ScopeOption { return func(s *scopeSpec) { s.container = name } }

// ScopePosition sets the index of the new scope in its container.
func ScopePosition(p int) ScopeOption { return func(s *scopeSpec) { s.position = p } }

// IfExist is "none" (keep), "remove" or "clear"; empty means keep.
func IfExist(action string) ScopeOption { return func(s *scopeSpec) { s.ifExist = action } }

// SetScope creates a scope.
func (x *Context) SetScope(name string, opts ...ScopeOption) error {
	s := scopeSpec{position: PositionBottom}
	for _, o := range opts {
		o(&s)
	}
	if s.container == "" {
		s.container = x.scopes().Top()
	}
	if !ValidName(name) || !ValidName(s.container) {
		return badArgument("invalid scope name %q", name)
	}
	spec := map[string]any{
		"set_scope": "pywebio-scope-" + name,
		"container": scopeSelector(s.container),
		"position":  s.position,
	}
	if s.ifExist != "" {
		spec["if_exist"] = s.ifExist
	}
	return x.Send(CmdOutputCtl, spec)
}

func (x *Context) scopeArg(name string) (string, error) {
	if name == "" {
		name = x.scopes().Top()
	}
	if !ValidName(name) {
		return "", badArgument("invalid scope name %q", name)
	}
	return scopeSelector(name), nil
}

// Clear empties a scope; "" is the current one.
func (x *Context) Clear(scope string) error {
	sel, err := x.scopeArg(scope)
	if err != nil {
		return err
	}
	return x.Send(CmdOutputCtl, map[string]any{"clear": sel})
}

// Remove deletes a scope. The root scope cannot be removed.
func (x *Context) Remove(scope string) error {
	sel, err := x.scopeArg(scope)
	if err != nil {
		return err
	}
	if sel == scopeSelector(RootScope) {
		return badArgument("cannot remove the root scope")
	}
	return x.Send(CmdOutputCtl, map[string]any{"remove": sel})
}

// ScrollTo scrolls the page to a scope; position is "top", "middle" or "bottom".
func (x *Context) ScrollTo(scope, position string) error {
	sel, err := x.scopeArg(scope)
	if err != nil {
		return err
	}
	if position == "" {
		position = "top"
	}
	return x.Send(CmdOutputCtl, map[string]any{"scroll_to": sel, "position": position})
}

// UseScope runs fn with name as the current scope. An empty name picks
// a fresh one; clear empties an existing scope first.
func (x *Context) UseScope(name string, clear bool, fn func() error) error {
	if name == "" {
		name = "scope-" + randomString(8)
	}
	ifExist := "none"
	if clear {
		ifExist = "clear"
	}
	if err := x.SetScope(name, IfExist(ifExist)); err != nil {
		return err
	}
	if err := x.PushScope(name); err != nil {
		return err
	}
	defer x.PopScope()
	return fn()
}

// SetTitle sets the document title.
func (x *Context) SetTitle(title string) error {
	return x.Send(CmdOutputCtl, map[string]any{"title": title})
}

// SetEnv changes client knobs such as output_fixed_height and
// auto_scroll_bottom.
func (x *Context) SetEnv(knobs map[string]any) error {
	return x.Send(CmdOutputCtl, knobs)
}

// RunJS executes code in the browser with args bound as variables.
func (x *Context) RunJS(code string, args map[string]any) error {
	if args == nil {
		args = map[string]any{}
	}
	return x.Send(CmdRunScript, map[string]any{"code": code, "args": args})
}

// EvalJS evaluates expr in the browser and blocks for its value.
// Preemptive sessions only.
func (x *Context) EvalJS(expr string, args map[string]any) (any, error) {
	if err := x.blocking(); err != nil {
		return nil, err
	}
	if args == nil {
		args = map[string]any{}
	}
	if err := x.Send(CmdRunScript, map[string]any{"code": expr, "args": args, "eval": true}); err != nil {
		return nil, err
	}
	for {
		ev, err := x.NextEvent()
		if err != nil {
			return nil, err
		}
		if ev.Event == EvtJSResult {
			return ev.Data, nil
		}
	}
}

// Download sends content to the browser as a file download.
func (x *Context) Download(name string, content []byte) error {
	return x.Send(CmdDownload, map[string]any{
		"name":    name,
		"content": base64.StdEncoding.EncodeToString(content),
	})
}

// SetProcessbar updates a bar created by [Processbar]; value is in [0,1].
func (x *Context) SetProcessbar(name string, value float64, label string) error {
	args, _ := json.Marshal([]any{"webio-processbar-" + name, value, label})
	return x.RunJS("WebIO.setProcessbar.apply(null, "+string(args)+")", nil)
}
