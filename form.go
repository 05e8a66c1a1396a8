// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package webio

import (
	"errors"
	"maps"
	"math"
	"slices"
	"strconv"
	"strings"
)

// InputType is the client widget of an input item.
type InputType string

const (
	TypeText     InputType = "text"
	TypeNumber   InputType = "number"
	TypeFloat    InputType = "float"
	TypePassword InputType = "password"
	TypeURL      InputType = "url"
	TypeDate     InputType = "date"
	TypeTime     InputType = "time"
	TypeColor    InputType = "color"
	TypeDatetime InputType = "datetime-local"
	TypeTextarea InputType = "textarea"
	TypeSelect   InputType = "select"
	TypeCheckbox InputType = "checkbox"
	TypeRadio    InputType = "radio"
	TypeFile     InputType = "file"
	TypeActions  InputType = "actions"
)

var textTypes = map[InputType]bool{
	TypeText: true, TypeNumber: true, TypeFloat: true, TypePassword: true,
	TypeURL: true, TypeDate: true, TypeTime: true, TypeColor: true, TypeDatetime: true,
}

// invalidInput is the feedback for a value the item cannot convert.
const invalidInput = "Your input is not valid"

// Option is one choice of a select, checkbox or radio item.
type Option struct {
	Label    string
	Value    any
	Selected bool
	Disabled bool
}

func (o Option) spec() map[string]any {
	m := map[string]any{"label": o.Label, "value": o.Value}
	if o.Selected {
		m["selected"] = true
	}
	if o.Disabled {
		m["disabled"] = true
	}
	return m
}

// Button is one button of an actions item or a buttons output.
// Type is "submit" (default), "reset" or "cancel" for actions items.
type Button struct {
	Label    string
	Value    any
	Type     string
	Color    string
	Disabled bool
}

func (b Button) spec() map[string]any {
	m := map[string]any{"label": b.Label, "value": b.Value}
	if b.Type != "" {
		m["type"] = b.Type
	}
	if b.Color != "" {
		m["color"] = b.Color
	}
	if b.Disabled {
		m["disabled"] = true
	}
	return m
}

// Item is one field of an input form.
type Item struct {
	typ      InputType
	name     string
	label    string
	attrs    map[string]any
	validate func(any) error
	onChange func(any)
	multiple bool
	maxSize  any
	maxTotal any
	err      error
}

// ItemOption configures an [Item].
type ItemOption func(*Item)

func (it *Item) set(key string, v any) {
	if it.attrs == nil {
		it.attrs = make(map[string]any)
	}
	it.attrs[key] = v
}

// Name sets the key of the item in the submitted result.
func Name(name string) ItemOption { return func(it *Item) { it.name = name } }

// Type selects the widget of a text input.
func Type(t InputType) ItemOption {
	return func(it *Item) {
		if it.typ != TypeText || !textTypes[t] {
			it.err = badArgument("input type %q not allowed here", t)
			return
		}
		it.typ = t
	}
}

// Value sets the initial value.
func Value(v any) ItemOption { return func(it *Item) { it.set("value", v) } }

// Placeholder sets the placeholder text.
func Placeholder(s string) ItemOption { return func(it *Item) { it.set("placeholder", s) } }

// Required marks the item as required on the client.
func Required() ItemOption { return func(it *Item) { it.set("required", true) } }

// Readonly makes the item read-only.
func Readonly() ItemOption { return func(it *Item) { it.set("readonly", true) } }

// HelpText sets the hint shown below the item.
func HelpText(s string) ItemOption { return func(it *Item) { it.set("help_text", s) } }

// Rows sets the height of a textarea.
func Rows(n int) ItemOption { return func(it *Item) { it.set("rows", n) } }

// Inline lays out checkbox and radio options on one line.
func Inline() ItemOption { return func(it *Item) { it.set("inline", true) } }

// Accept restricts the file types of a file item.
func Accept(s string) ItemOption { return func(it *Item) { it.set("accept", s) } }

// Multiple allows several selections or files.
func Multiple() ItemOption {
	return func(it *Item) {
		it.multiple = true
		it.set("multiple", true)
	}
}

// MaxSize limits each uploaded file: a byte count or a string like "10M".
func MaxSize(v any) ItemOption { return func(it *Item) { it.maxSize = v } }

// MaxTotalSize limits the sum of uploaded files.
func MaxTotalSize(v any) ItemOption { return func(it *Item) { it.maxTotal = v } }

// Attr sets a client attribute that has no dedicated option.
func Attr(key string, v any) ItemOption { return func(it *Item) { it.set(key, v) } }

// Validate sets the item validator. A non-nil error marks the value
// invalid and its message is shown next to the item.
func Validate(fn func(value any) error) ItemOption {
	return func(it *Item) { it.validate = fn }
}

// OnChange is called with the converted value whenever the client
// reports a change.
func OnChange(fn func(value any)) ItemOption {
	return func(it *Item) {
		it.onChange = fn
		it.set("onchange", true)
	}
}

func newItem(typ InputType, label string, opts []ItemOption) Item {
	it := Item{typ: typ, label: label}
	for _, o := range opts {
		o(&it)
	}
	return it
}

// TextInput is a single-line input. Type selects number, float,
// password and the other text-like widgets.
func TextInput(label string, opts ...ItemOption) Item {
	return newItem(TypeText, label, opts)
}

// Textarea is a multi-line text input.
func Textarea(label string, opts ...ItemOption) Item {
	return newItem(TypeTextarea, label, opts)
}

// Select is a drop-down list.
func Select(label string, options []Option, opts ...ItemOption) Item {
	it := newItem(TypeSelect, label, opts)
	it.set("options", optionSpecs(options))
	return it
}

// Checkbox is a group of check boxes. Its value is a list.
func Checkbox(label string, options []Option, opts ...ItemOption) Item {
	it := newItem(TypeCheckbox, label, opts)
	it.multiple = true
	it.set("options", optionSpecs(options))
	return it
}

// Radio is a group of radio buttons.
func Radio(label string, options []Option, opts ...ItemOption) Item {
	it := newItem(TypeRadio, label, opts)
	it.set("options", optionSpecs(options))
	return it
}

// FileUpload is a file picker. Its value is a [File], or a []File with
// [Multiple].
func FileUpload(label string, opts ...ItemOption) Item {
	return newItem(TypeFile, label, opts)
}

// Actions is a row of buttons; the value is the clicked button's value.
func Actions(label string, buttons []Button, opts ...ItemOption) Item {
	it := newItem(TypeActions, label, opts)
	list := make([]map[string]any, 0, len(buttons))
	for _, b := range buttons {
		switch b.Type {
		case "", "submit", "reset", "cancel":
		default:
			it.err = badArgument("unknown button type %q", b.Type)
		}
		list = append(list, b.spec())
	}
	it.set("buttons", list)
	return it
}

func optionSpecs(options []Option) []map[string]any {
	out := make([]map[string]any, len(options))
	for i, o := range options {
		out[i] = o.spec()
	}
	return out
}

func (it *Item) spec() (map[string]any, error) {
	if it.err != nil {
		return nil, it.err
	}
	switch {
	case textTypes[it.typ]:
	case it.typ == TypeTextarea, it.typ == TypeSelect, it.typ == TypeCheckbox,
		it.typ == TypeRadio, it.typ == TypeFile, it.typ == TypeActions:
	default:
		return nil, badArgument("unknown input type %q", it.typ)
	}
	if !ValidName(it.name) {
		return nil, badArgument("invalid item name %q", it.name)
	}
	m := make(map[string]any, len(it.attrs)+4)
	for k, v := range it.attrs {
		m[k] = v
	}
	m["type"] = string(it.typ)
	m["name"] = it.name
	if it.label != "" {
		m["label"] = it.label
	}
	if it.typ == TypeFile {
		for key, raw := range map[string]any{"max_size": it.maxSize, "max_total_size": it.maxTotal} {
			if raw == nil {
				continue
			}
			n, err := ParseFileSize(raw)
			if err != nil {
				return nil, err
			}
			m[key] = n
		}
	}
	return m, nil
}

// convert turns the submitted value into the item's Go value.
func (it *Item) convert(raw any) (any, error) {
	switch it.typ {
	case TypeNumber:
		return toInt(raw)
	case TypeFloat:
		return toFloat(raw)
	case TypeCheckbox:
		return toList(raw), nil
	case TypeSelect:
		if it.multiple {
			return toList(raw), nil
		}
	case TypeFile:
		return it.files(raw)
	}
	return raw, nil
}

func (it *Item) files(raw any) (any, error) {
	list := toList(raw)
	files := make([]File, 0, len(list))
	for _, e := range list {
		m, ok := e.(map[string]any)
		if !ok {
			return nil, malformed("file record is %T", e)
		}
		f, err := fileFromRecord(m)
		if err != nil {
			return nil, err
		}
		files = append(files, f)
	}
	if it.multiple {
		return files, nil
	}
	if len(files) == 0 {
		return nil, nil
	}
	return files[0], nil
}

// check returns the feedback for an invalid value, or "".
func (it *Item) check(raw any) (any, string) {
	v, err := it.convert(raw)
	if err != nil {
		return nil, invalidInput
	}
	if it.validate == nil {
		return v, ""
	}
	if err := guard(func() error { return it.validate(v) }); err != nil {
		var pe *PanicError
		if errors.As(err, &pe) {
			return v, invalidInput
		}
		return v, err.Error()
	}
	return v, ""
}

func toInt(raw any) (any, error) {
	switch v := raw.(type) {
	case nil:
		return nil, nil
	case int64:
		return v, nil
	case float64:
		if v != math.Trunc(v) || math.IsInf(v, 0) {
			return nil, malformed("%v is not an integer", v)
		}
		return int64(v), nil
	case string:
		s := strings.TrimSpace(v)
		if s == "" {
			return nil, nil
		}
		return strconv.ParseInt(s, 10, 64)
	}
	return nil, malformed("%T is not a number", raw)
}

func toFloat(raw any) (any, error) {
	switch v := raw.(type) {
	case nil:
		return nil, nil
	case int64:
		return float64(v), nil
	case float64:
		return v, nil
	case string:
		s := strings.TrimSpace(v)
		if s == "" {
			return nil, nil
		}
		return strconv.ParseFloat(s, 64)
	}
	return nil, malformed("%T is not a number", raw)
}

func toList(raw any) []any {
	switch v := raw.(type) {
	case nil:
		return []any{}
	case []any:
		return v
	}
	return []any{raw}
}

// ParseFileSize parses a byte count. Strings may carry one of the
// suffixes k, m, g, t or p, each a power of 1024.
func ParseFileSize(v any) (int64, error) {
	switch n := v.(type) {
	case int:
		return int64(n), nil
	case int64:
		return n, nil
	case float64:
		return int64(n), nil
	case string:
		s := strings.ToLower(strings.TrimSpace(n))
		if s == "" {
			return 0, badArgument("empty file size")
		}
		mult := int64(1)
		if i := strings.IndexByte("kmgtp", s[len(s)-1]); i >= 0 {
			mult = int64(1) << (10 * (i + 1))
			s = s[:len(s)-1]
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil || f < 0 {
			return 0, badArgument("invalid file size %q", n)
		}
		return int64(f * float64(mult)), nil
	}
	return 0, badArgument("invalid file size %v", v)
}

// Form is the input-form state machine shared by both session kinds:
// Begin sends the form, Handle consumes each event addressed to the task
// until the form is submitted or cancelled.
type Form struct {
	label      string
	items      []*Item
	byName     map[string]*Item
	cancelable bool
	validate   func(map[string]any) error
	spec       map[string]any
}

// FormOption configures a [Form].
type FormOption func(*Form)

// Cancelable adds a cancel button; a cancelled form yields a nil result.
func Cancelable() FormOption { return func(f *Form) { f.cancelable = true } }

// ValidateForm sets a validator over all values. Return a *FieldError
// to mark one item invalid.
func ValidateForm(fn func(values map[string]any) error) FormOption {
	return func(f *Form) { f.validate = fn }
}

// NewForm checks items and builds the form.
func NewForm(label string, items []Item, opts ...FormOption) (*Form, error) {
	items = slices.Clone(items)
	f := &Form{label: label, byName: make(map[string]*Item, len(items))}
	for _, o := range opts {
		o(f)
	}
	inputs := make([]map[string]any, 0, len(items))
	focused := false
	for i := range items {
		it := &items[i]
		spec, err := it.spec()
		if err != nil {
			return nil, err
		}
		if _, dup := f.byName[it.name]; dup {
			return nil, badArgument("duplicate item name %q", it.name)
		}
		if _, ok := spec["auto_focus"]; ok {
			focused = true
		}
		f.byName[it.name] = it
		f.items = append(f.items, it)
		inputs = append(inputs, spec)
	}
	if !focused {
		for i, it := range f.items {
			if textTypes[it.typ] || it.typ == TypeTextarea {
				inputs[i]["auto_focus"] = true
				break
			}
		}
	}
	f.spec = map[string]any{"label": label, "inputs": inputs}
	if f.cancelable {
		f.spec["cancelable"] = true
	}
	return f, nil
}

// PromptForm wraps one item in a form. The item label becomes the form
// label, the item is focused unless it says otherwise, and it is named
// "data" unless it has a name.
func PromptForm(it Item) (*Form, error) {
	if it.name == "" {
		it.name = "data"
	}
	label := it.label
	it.label = ""
	it.attrs = maps.Clone(it.attrs)
	if _, ok := it.attrs["auto_focus"]; !ok {
		it.set("auto_focus", true)
	}
	return NewForm(label, []Item{it})
}

// First returns the value of the form's first item in values, or nil for
// a cancelled form.
func (f *Form) First(values map[string]any) any {
	if values == nil || len(f.items) == 0 {
		return nil
	}
	return values[f.items[0].name]
}

// Spec returns the input_group spec of the form.
func (f *Form) Spec() map[string]any { return f.spec }

// Begin sends the form to the client.
func (f *Form) Begin(x *Context) error {
	return x.Send(CmdInputGroup, f.spec)
}

// Handle consumes one event. done is true once the form is submitted,
// with the converted values, or cancelled, with nil values.
func (f *Form) Handle(x *Context, ev Event) (values map[string]any, done bool, err error) {
	switch ev.Event {
	case EvtInputEvent:
		return nil, false, f.inputEvent(x, ev.inputEvent())
	case EvtFromSubmit:
		return f.submit(x, ev.dataMap())
	case EvtFromCancel:
		if err := x.Send(CmdDestroyForm, nil); err != nil {
			return nil, false, err
		}
		return nil, true, nil
	}
	x.core.log.Debug("event ignored by form", "task_id", x.taskID, "event", ev.Event)
	return nil, false, nil
}

func (f *Form) inputEvent(x *Context, ie inputEvent) error {
	it, ok := f.byName[ie.name]
	if !ok {
		return nil
	}
	switch ie.event {
	case "blur":
		if _, msg := it.check(ie.value); msg != "" {
			return invalid(x, it.name, msg)
		}
		return x.Send(CmdUpdateInput, map[string]any{
			"target_name": it.name,
			"attributes":  map[string]any{"valid_status": 0},
		})
	case "change":
		if it.onChange == nil {
			return nil
		}
		v, err := it.convert(ie.value)
		if err != nil {
			return nil
		}
		if err := guard(func() error { it.onChange(v); return nil }); err != nil {
			x.core.report(x, err)
		}
	}
	return nil
}

func (f *Form) submit(x *Context, data map[string]any) (map[string]any, bool, error) {
	values := make(map[string]any, len(f.items))
	valid := true
	for _, it := range f.items {
		v, msg := it.check(data[it.name])
		if msg != "" {
			valid = false
			if err := invalid(x, it.name, msg); err != nil {
				return nil, false, err
			}
			continue
		}
		values[it.name] = v
	}
	if !valid {
		return nil, false, nil
	}
	if f.validate != nil {
		err := guard(func() error { return f.validate(values) })
		var fe *FieldError
		switch {
		case errors.As(err, &fe):
			return nil, false, invalid(x, fe.Name, fe.Message)
		case err != nil:
			return nil, false, err
		}
	}
	if err := x.Send(CmdDestroyForm, nil); err != nil {
		return nil, false, err
	}
	return values, true, nil
}

func invalid(x *Context, name, msg string) error {
	return x.Send(CmdUpdateInput, map[string]any{
		"target_name": name,
		"attributes": map[string]any{
			"valid_status":     false,
			"invalid_feedback": msg,
		},
	})
}
