// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package webio

import (
	"container/list"
	"sync"
	"time"
)

// Directory maps session ids to values in order of last activity.
// Transports keep their live and detached sessions in one.
type Directory[V any] struct {
	mu      sync.Mutex
	entries map[string]*list.Element
	order   list.List
}

type dirEntry[V any] struct {
	id      string
	value   V
	touched time.Time
}

// NewDirectory returns an empty directory.
func NewDirectory[V any]() *Directory[V] {
	return &Directory[V]{entries: make(map[string]*list.Element)}
}

// Put stores v as the most recently active entry.
func (d *Directory[V]) Put(id string, v V, now time.Time) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if el, ok := d.entries[id]; ok {
		e := el.Value.(*dirEntry[V])
		e.value, e.touched = v, now
		d.order.MoveToBack(el)
		return
	}
	d.entries[id] = d.order.PushBack(&dirEntry[V]{id: id, value: v, touched: now})
}

// Get returns the entry without touching it.
func (d *Directory[V]) Get(id string) (V, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if el, ok := d.entries[id]; ok {
		return el.Value.(*dirEntry[V]).value, true
	}
	var zero V
	return zero, false
}

// Touch marks the entry active at now and returns it.
func (d *Directory[V]) Touch(id string, now time.Time) (V, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	el, ok := d.entries[id]
	if !ok {
		var zero V
		return zero, false
	}
	e := el.Value.(*dirEntry[V])
	e.touched = now
	d.order.MoveToBack(el)
	return e.value, true
}

// Remove deletes the entry and returns it.
func (d *Directory[V]) Remove(id string) (V, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	el, ok := d.entries[id]
	if !ok {
		var zero V
		return zero, false
	}
	delete(d.entries, id)
	d.order.Remove(el)
	return el.Value.(*dirEntry[V]).value, true
}

// Evict removes and returns the entries idle for longer than ttl,
// oldest first.
func (d *Directory[V]) Evict(now time.Time, ttl time.Duration) []V {
	d.mu.Lock()
	defer d.mu.Unlock()
	var out []V
	for el := d.order.Front(); el != nil; el = d.order.Front() {
		e := el.Value.(*dirEntry[V])
		if now.Sub(e.touched) <= ttl {
			break
		}
		d.order.Remove(el)
		delete(d.entries, e.id)
		out = append(out, e.value)
	}
	return out
}

// Len returns the number of entries.
func (d *Directory[V]) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.entries)
}

// Values returns the entries, least recently active first.
func (d *Directory[V]) Values() []V {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]V, 0, len(d.entries))
	for el := d.order.Front(); el != nil; el = el.Next() {
		out = append(out, el.Value.(*dirEntry[V]).value)
	}
	return out
}
