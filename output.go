// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package webio

import (
	"encoding/base64"
	"fmt"
	"maps"
	"net/http"
)

// Output is a renderable element. Elements that register callbacks are
// built against the Context that puts them.
type Output struct {
	build func(x *Context) (map[string]any, error)
}

func static(m map[string]any) Output {
	return Output{build: func(*Context) (map[string]any, error) { return maps.Clone(m), nil }}
}

// Spec renders the element for x.
func (o Output) Spec(x *Context) (map[string]any, error) {
	if o.build == nil {
		return nil, badArgument("empty output")
	}
	return o.build(x)
}

func specs(x *Context, outs []Output) ([]map[string]any, error) {
	list := make([]map[string]any, 0, len(outs))
	for _, o := range outs {
		m, err := o.Spec(x)
		if err != nil {
			return nil, err
		}
		list = append(list, m)
	}
	return list, nil
}

// Text is plain text.
func Text(s string) Output {
	return static(map[string]any{"type": "text", "content": s})
}

// Textf is Text with fmt formatting.
func Textf(format string, args ...any) Output {
	return Text(fmt.Sprintf(format, args...))
}

// Markdown is rendered and sanitized by the client.
func Markdown(md string) Output {
	return static(map[string]any{"type": "markdown", "content": md, "sanitize": true})
}

// HTML is inserted as is.
func HTML(html string) Output {
	return static(map[string]any{"type": "html", "content": html, "sanitize": false})
}

// Code is a highlighted code block.
func Code(content, lang string) Output {
	return static(map[string]any{"type": "code", "content": content, "language": lang})
}

// Table renders rows; a cell is a string, a number or an [Output].
func Table(rows [][]any, header ...string) Output {
	return Output{build: func(x *Context) (map[string]any, error) {
		data := make([][]any, 0, len(rows))
		for _, row := range rows {
			cells := make([]any, len(row))
			for i, c := range row {
				if o, ok := c.(Output); ok {
					m, err := o.Spec(x)
					if err != nil {
						return nil, err
					}
					cells[i] = m
					continue
				}
				cells[i] = c
			}
			data = append(data, cells)
		}
		m := map[string]any{"type": "table", "data": data}
		if len(header) > 0 {
			m["header"] = header
		}
		return m, nil
	}}
}

// Image embeds image bytes as a data URL. An empty mime type is sniffed.
func Image(src []byte, mime string) Output {
	if mime == "" {
		mime = http.DetectContentType(src)
	}
	return ImageURL("data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(src))
}

// ImageURL shows the image at url.
func ImageURL(url string) Output {
	return static(map[string]any{"type": "image", "src": url})
}

// FileLink is a link that downloads content as name.
func FileLink(name string, content []byte, label string) Output {
	if label == "" {
		label = name
	}
	return static(map[string]any{
		"type":    "file",
		"name":    name,
		"content": base64.StdEncoding.EncodeToString(content),
		"label":   label,
	})
}

// Buttons is a row of buttons. A click invokes onClick with the
// button's value.
func Buttons(buttons []Button, onClick Callback) Output {
	return Output{build: func(x *Context) (map[string]any, error) {
		id, err := x.RegisterCallback(onClick)
		if err != nil {
			return nil, err
		}
		list := make([]map[string]any, len(buttons))
		for i, b := range buttons {
			list[i] = b.spec()
		}
		return map[string]any{"type": "buttons", "callback_id": id, "buttons": list}, nil
	}}
}

// Tab is one pane of [Tabs].
type Tab struct {
	Title   string
	Content []Output
}

// Tabs shows one pane at a time.
func Tabs(tabs ...Tab) Output {
	return Output{build: func(x *Context) (map[string]any, error) {
		list := make([]map[string]any, 0, len(tabs))
		for _, t := range tabs {
			content, err := specs(x, t.Content)
			if err != nil {
				return nil, err
			}
			list = append(list, map[string]any{"title": t.Title, "content": content})
		}
		return map[string]any{"type": "tabs", "tabs": list}, nil
	}}
}

func container(typ string, extra map[string]any, content []Output) Output {
	return Output{build: func(x *Context) (map[string]any, error) {
		list, err := specs(x, content)
		if err != nil {
			return nil, err
		}
		m := map[string]any{"type": typ, "contents": list}
		for k, v := range extra {
			m[k] = v
		}
		return m, nil
	}}
}

// Scrollable is a fixed-height box. keepBottom follows new content.
func Scrollable(height int, keepBottom bool, content ...Output) Output {
	return container("scrollable", map[string]any{"height": height, "keep_bottom": keepBottom}, content)
}

// Collapse is a foldable section.
func Collapse(title string, open bool, content ...Output) Output {
	return container("collapse", map[string]any{"title": title, "open": open}, content)
}

// Row lays out content horizontally.
func Row(content ...Output) Output { return container("row", nil, content) }

// Column lays out content vertically.
func Column(content ...Output) Output { return container("column", nil, content) }

// Scope creates the named scope holding content.
func Scope(name string, content ...Output) Output {
	inner := container("scope", map[string]any{"dom_id": "pywebio-scope-" + name}, content)
	return Output{build: func(x *Context) (map[string]any, error) {
		if !ValidName(name) {
			return nil, badArgument("invalid scope name %q", name)
		}
		return inner.Spec(x)
	}}
}

// Loading is a spinner; shape is "border" or "grow".
func Loading(shape, color string) Output {
	if shape == "" {
		shape = "border"
	}
	if color == "" {
		color = "dark"
	}
	return static(map[string]any{"type": "loading", "shape": shape, "color": color})
}

// Processbar is a progress bar addressed later by name.
func Processbar(name string, init float64, label string, autoClose bool) Output {
	return static(map[string]any{
		"type":       "processbar",
		"dom_id":     "webio-processbar-" + name,
		"init":       init,
		"label":      label,
		"auto_close": autoClose,
	})
}

// Positions for [At].
const (
	PositionTop    = 0
	PositionBottom = -1
)

type placement struct {
	scope    string
	position int
	anchor   string
}

// PutOption places an output.
type PutOption func(*placement)

// InScope puts into the named scope instead of the current one.
func InScope(name string) PutOption { return func(p *placement) { p.scope = name } }

// At sets the index among the scope's children; negative counts from the end.
func At(position int) PutOption { return func(p *placement) { p.position = position } }

// Anchor names the output so it can be replaced later.
func Anchor(name string) PutOption { return func(p *placement) { p.anchor = name } }

// Put renders out into the current scope of the task.
func (x *Context) Put(out Output, opts ...PutOption) error {
	p := placement{position: PositionBottom}
	for _, o := range opts {
		o(&p)
	}
	if p.scope == "" {
		p.scope = x.scopes().Top()
	}
	if !ValidName(p.scope) {
		return badArgument("invalid scope name %q", p.scope)
	}
	spec, err := out.Spec(x)
	if err != nil {
		return err
	}
	spec["scope"] = scopeSelector(p.scope)
	spec["position"] = p.position
	if p.anchor != "" {
		if !ValidName(p.anchor) {
			return badArgument("invalid anchor name %q", p.anchor)
		}
		spec["anchor"] = p.anchor
	}
	return x.Send(CmdOutput, spec)
}
