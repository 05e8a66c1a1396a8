// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package webio

// InputGroup shows a form and blocks until it is submitted or cancelled.
// A cancelled form returns nil values. Preemptive sessions only.
func (x *Context) InputGroup(label string, items []Item, opts ...FormOption) (map[string]any, error) {
	if err := x.blocking(); err != nil {
		return nil, err
	}
	f, err := NewForm(label, items, opts...)
	if err != nil {
		return nil, err
	}
	return x.RunForm(f)
}

// Prompt shows a single item and returns its value.
func (x *Context) Prompt(it Item) (any, error) {
	if err := x.blocking(); err != nil {
		return nil, err
	}
	f, err := PromptForm(it)
	if err != nil {
		return nil, err
	}
	values, err := x.RunForm(f)
	if err != nil {
		return nil, err
	}
	return f.First(values), nil
}

// RunForm sends f and feeds it the task's events until it completes.
func (x *Context) RunForm(f *Form) (map[string]any, error) {
	if err := x.blocking(); err != nil {
		return nil, err
	}
	if err := f.Begin(x); err != nil {
		return nil, err
	}
	for {
		ev, err := x.NextEvent()
		if err != nil {
			return nil, err
		}
		values, done, err := f.Handle(x, ev)
		if err != nil {
			return nil, err
		}
		if done {
			return values, nil
		}
	}
}
