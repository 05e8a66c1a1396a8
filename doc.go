// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package webio is the session and I/O dispatch core of a browser-driven
// interaction framework.
//
// An application is a straight-line program of prompts and outputs. Each
// connected browser gets its own [Session] running one instance of that
// program; the session exchanges [Command] values (server to client) and
// [Event] values (client to server) with the front-end through a transport.
//
// # Session Kinds
//
//   - Preemptive: an [App] runs on its own goroutine. Input calls such as
//     [Input] block on a bounded per-task mailbox backed by
//     [code.hybscloud.com/lfq]. Extra goroutines join the session through
//     [RegisterThread].
//   - Cooperative: a [CoopApp] is a [code.hybscloud.com/kont.Eff]
//     computation. Every I/O call is an effect; a shared [Loop] steps the
//     computation one effect at a time and resumes it when the matching
//     event arrives. The suspendable API lives in package coop.
//
// [NewSession] picks the kind from the application's type, so one
// [Apps] dictionary may host both kinds.
//
// # Identity
//
// Every I/O call resolves the current session and task through a [Context].
// Preemptive tasks are found by goroutine; cooperative tasks receive the
// Context from the scheduler that is stepping them. Calls made outside any
// task fail with [ErrNoSession].
//
// # Transports
//
// A transport creates sessions with [NewSession], registers
// [Options].OnCommand to learn about pending output, drains it with
// [Session].Commands or [Session].NextBatch, and feeds client input back
// with [Session].DeliverEvent. Transport implementations live under the
// transport directory.
//
// # Example
//
//	app := webio.App(func() error {
//		name, err := webio.Input("What is your name?")
//		if err != nil {
//			return err
//		}
//		return webio.Put(webio.Textf("Hello, %v", name))
//	})
//	s := webio.NewSession(app, webio.Options{OnCommand: notify})
//	s.Start()
package webio
