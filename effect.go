// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package webio

import (
	"context"
	"time"

	"code.hybscloud.com/kont"
)

// outcome is the resume value of every scheduler operation.
type outcome struct {
	value any
	err   error
}

// taskResult is the final value of a stepped task frame.
type taskResult struct{ value any }

// coopDispatcher is implemented by operations the cooperative scheduler
// handles. With ready false the task parks until the scheduler wakes it.
type coopDispatcher interface {
	dispatchCoop(s *CoopSession, t *coopTask) (o outcome, ready bool)
}

// withContext runs fn on the loop with the task's Context.
type withContext struct {
	kont.Phantom[outcome]
	fn func(*Context) (any, error)
}

func (op withContext) dispatchCoop(s *CoopSession, t *coopTask) (outcome, bool) {
	v, err := guardValue(func() (any, error) { return op.fn(t.ctx) })
	return outcome{value: v, err: err}, true
}

// awaitEvent parks until an event addressed to the task arrives.
type awaitEvent struct {
	kont.Phantom[outcome]
}

func (awaitEvent) dispatchCoop(s *CoopSession, t *coopTask) (outcome, bool) {
	if t.pending != nil {
		ev := *t.pending
		t.pending = nil
		return outcome{value: ev}, true
	}
	t.park(TaskAwaitingEvent)
	return outcome{}, false
}

// sleep parks for d.
type sleep struct {
	kont.Phantom[outcome]
	d time.Duration
}

func (op sleep) dispatchCoop(s *CoopSession, t *coopTask) (outcome, bool) {
	token := t.park(TaskAwaitingFuture)
	t.timer = time.AfterFunc(op.d, func() {
		s.loop.Post(func() { s.wakeIf(t, token, outcome{}) })
	})
	return outcome{}, false
}

// awaitFunc parks while fn runs on its own goroutine.
type awaitFunc struct {
	kont.Phantom[outcome]
	fn func(context.Context) (any, error)
}

func (op awaitFunc) dispatchCoop(s *CoopSession, t *coopTask) (outcome, bool) {
	ctx, cancel := context.WithCancel(context.Background())
	token := t.park(TaskAwaitingFuture)
	t.cancelFuture = cancel
	go func() {
		v, err := guardValue(func() (any, error) { return op.fn(ctx) })
		cancel()
		s.loop.Post(func() { s.wakeIf(t, token, outcome{value: v, err: err}) })
	}()
	return outcome{}, false
}

// tryFrame runs body as a nested frame of the same task and resumes with
// its result or the error it raised.
type tryFrame struct {
	kont.Phantom[outcome]
	body kont.Eff[taskResult]
}

// settle turns an outcome into a value, raising its error.
func settle[T any](m kont.Eff[outcome]) kont.Eff[T] {
	return kont.Bind(m, func(o outcome) kont.Eff[T] {
		if o.err != nil {
			return kont.ThrowError[error, T](o.err)
		}
		v, _ := o.value.(T)
		return kont.Pure(v)
	})
}

// Within runs fn on the loop with the calling task's Context. An error
// returned by fn is raised in the task.
func Within[T any](fn func(*Context) (T, error)) kont.Eff[T] {
	return settle[T](kont.Perform(withContext{fn: func(x *Context) (any, error) { return fn(x) }}))
}

// Do is Within for functions without a result.
func Do(fn func(*Context) error) kont.Eff[struct{}] {
	return Within(func(x *Context) (struct{}, error) { return struct{}{}, fn(x) })
}

// AwaitEvent parks the task until an event addressed to it arrives.
func AwaitEvent() kont.Eff[Event] {
	return settle[Event](kont.Perform(awaitEvent{}))
}

// Delay parks the task for d.
func Delay(d time.Duration) kont.Eff[struct{}] {
	return settle[struct{}](kont.Perform(sleep{d: d}))
}

// Await runs fn on a separate goroutine and parks the task until it
// returns. ctx is cancelled when the task is cancelled.
func Await[T any](fn func(ctx context.Context) (T, error)) kont.Eff[T] {
	return settle[T](kont.Perform(awaitFunc{fn: func(ctx context.Context) (any, error) { return fn(ctx) }}))
}

// Fail raises err in the task.
func Fail[T any](err error) kont.Eff[T] {
	return kont.ThrowError[error, T](err)
}

// Try runs body and captures an error it raises instead of ending the task.
func Try[T any](body kont.Eff[T]) kont.Eff[kont.Either[error, T]] {
	frame := kont.Map[kont.Resumed, T, taskResult](body, func(v T) taskResult { return taskResult{value: v} })
	return kont.Map[kont.Resumed, outcome, kont.Either[error, T]](
		kont.Perform(tryFrame{body: frame}),
		func(o outcome) kont.Either[error, T] {
			if o.err != nil {
				return kont.Left[error, T](o.err)
			}
			v, _ := o.value.(T)
			return kont.Right[error, T](v)
		})
}
