// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package webio_test

import (
	"slices"
	"testing"
	"time"

	"code.hybscloud.com/webio"
)

func TestDirectoryEvictOldestFirst(t *testing.T) {
	d := webio.NewDirectory[int]()
	t0 := time.Unix(1000, 0)
	d.Put("a", 1, t0)
	d.Put("b", 2, t0.Add(time.Second))
	d.Put("c", 3, t0.Add(2*time.Second))

	if _, ok := d.Touch("a", t0.Add(3*time.Second)); !ok {
		t.Fatalf("touch a: missing")
	}
	if got := d.Values(); !slices.Equal(got, []int{2, 3, 1}) {
		t.Fatalf("order got %v, want [2 3 1]", got)
	}

	got := d.Evict(t0.Add(5*time.Second), 2500*time.Millisecond)
	if !slices.Equal(got, []int{2, 3}) {
		t.Fatalf("evicted %v, want [2 3]", got)
	}
	if d.Len() != 1 {
		t.Fatalf("len got %d, want 1", d.Len())
	}
	if _, ok := d.Get("b"); ok {
		t.Fatalf("evicted entry still present")
	}
}

func TestDirectoryPutReplaces(t *testing.T) {
	d := webio.NewDirectory[string]()
	now := time.Now()
	d.Put("x", "old", now)
	d.Put("y", "y", now)
	d.Put("x", "new", now.Add(time.Second))
	if v, _ := d.Get("x"); v != "new" {
		t.Fatalf("got %q, want new", v)
	}
	if got := d.Values(); !slices.Equal(got, []string{"y", "new"}) {
		t.Fatalf("order got %v", got)
	}
	if v, ok := d.Remove("x"); !ok || v != "new" {
		t.Fatalf("remove got %q, %v", v, ok)
	}
	if _, ok := d.Remove("x"); ok {
		t.Fatalf("second remove found the entry")
	}
	if _, ok := d.Touch("x", now); ok {
		t.Fatalf("touch found a removed entry")
	}
}
