// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package webio

import "regexp"

// RootScope is the bottom of every scope stack. It is never popped.
const RootScope = "ROOT"

var namePattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// ValidName reports whether name is usable as a scope or input item name.
func ValidName(name string) bool {
	return namePattern.MatchString(name)
}

// scopeSelector is the DOM selector the client uses for a scope.
func scopeSelector(name string) string {
	return "#pywebio-scope-" + name
}

// ScopeStack is the per-task stack of output scope names.
// It is not safe for concurrent use; each task owns its own stack.
type ScopeStack struct {
	names []string
}

// NewScopeStack returns a stack holding only [RootScope].
func NewScopeStack() *ScopeStack {
	return &ScopeStack{names: []string{RootScope}}
}

// Push makes name the current scope.
func (s *ScopeStack) Push(name string) error {
	if !ValidName(name) {
		return badArgument("invalid scope name %q", name)
	}
	s.names = append(s.names, name)
	return nil
}

// Pop removes and returns the current scope. Popping the root fails.
func (s *ScopeStack) Pop() (string, error) {
	if len(s.names) <= 1 {
		return "", badArgument("cannot pop the root scope")
	}
	top := s.names[len(s.names)-1]
	s.names = s.names[:len(s.names)-1]
	return top, nil
}

// Get returns the scope at idx counted from the root; negative indexes
// count from the top, so Get(-1) is the current scope.
func (s *ScopeStack) Get(idx int) (string, error) {
	if idx < 0 {
		idx += len(s.names)
	}
	if idx < 0 || idx >= len(s.names) {
		return "", badArgument("scope index %d out of range", idx)
	}
	return s.names[idx], nil
}

// Top returns the current scope.
func (s *ScopeStack) Top() string {
	return s.names[len(s.names)-1]
}

// Len returns the stack depth including the root.
func (s *ScopeStack) Len() int {
	return len(s.names)
}
