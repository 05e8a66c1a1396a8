// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package webio

import (
	"fmt"
	"net/url"
	"reflect"
	"runtime"
	"slices"
	"strings"
)

// IndexApp is the name of the application served when none is requested.
const IndexApp = "index"

// Apps maps application names to entry points.
type Apps map[string]Application

// NewApps names each application after its function.
func NewApps(list ...Application) Apps {
	apps := make(Apps, len(list))
	for _, a := range list {
		apps[a.name()] = a
	}
	return apps
}

// Lookup returns the application called name, falling back to the index.
// Without an index application, a generated one lists the others.
func (a Apps) Lookup(name string) (Application, bool) {
	if name == "" {
		name = IndexApp
	}
	if app, ok := a[name]; ok {
		return app, true
	}
	if app, ok := a[IndexApp]; ok {
		return app, true
	}
	if len(a) == 0 {
		return nil, false
	}
	return a.index(), true
}

// Names returns the application names in order.
func (a Apps) Names() []string {
	names := make([]string, 0, len(a))
	for n := range a {
		names = append(names, n)
	}
	slices.Sort(names)
	return names
}

func (a Apps) index() App {
	var md strings.Builder
	md.WriteString("### Applications\n\n")
	for _, n := range a.Names() {
		fmt.Fprintf(&md, "- [%s](?app=%s)\n", n, url.QueryEscape(n))
	}
	content := md.String()
	return func() error {
		return Put(Markdown(content))
	}
}

// funcName returns the unqualified name of fn, or "app" for closures.
func funcName(fn any) string {
	v := reflect.ValueOf(fn)
	if v.Kind() != reflect.Func || v.IsNil() {
		return "app"
	}
	f := runtime.FuncForPC(v.Pointer())
	if f == nil {
		return "app"
	}
	name := f.Name()
	if i := strings.LastIndexByte(name, '/'); i >= 0 {
		name = name[i+1:]
	}
	if i := strings.LastIndexByte(name, '.'); i >= 0 {
		name = name[i+1:]
	}
	name = strings.TrimSuffix(name, "-fm")
	if name == "" || strings.HasPrefix(name, "func") || !ValidName(name) {
		return "app"
	}
	return name
}
