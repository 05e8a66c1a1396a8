// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package webio

import (
	"encoding/json"
	"errors"
	"html"

	"golang.org/x/text/language"
)

var reportLanguages = language.NewMatcher([]language.Tag{language.English, language.Chinese})

var reportMessages = [...]struct{ title, toast, console string }{
	{"Error", "An internal error occurred in the application", "Internal server error"},
	{"错误", "应用发生内部错误", "服务端内部错误"},
}

// report tells the client about an error that ended a task. The session
// stays usable; only the failing task is gone.
func (c *core) report(x *Context, err error) {
	var stack []byte
	var pe *PanicError
	if errors.As(err, &pe) {
		stack = pe.Stack
	}
	c.log.Error("task failed", "task_id", x.taskID, "error", err, "stack", string(stack))

	tag, _ := language.Parse(c.info.Language)
	_, idx, _ := reportLanguages.Match(tag)
	msg := reportMessages[idx]

	detail := err.Error()
	if len(stack) > 0 {
		detail += "\n" + string(stack)
	}
	if c.debug {
		_ = x.Send(CmdPopup, map[string]any{
			"title": msg.title,
			"content": []map[string]any{{
				"type":     "html",
				"content":  "<pre>" + html.EscapeString(detail) + "</pre>",
				"sanitize": false,
			}},
			"size":           "large",
			"implicit_close": true,
			"closable":       true,
		})
	} else {
		_ = x.Send(CmdToast, map[string]any{
			"content":  msg.toast,
			"duration": 1000,
			// error toasts sit at the right, away from centered user toasts
			"position": "right",
			"color":    "error",
		})
	}
	line, _ := json.Marshal(msg.console + ":\n" + detail)
	_ = x.Send(CmdRunScript, map[string]any{
		"code": "console.error(" + string(line) + ")",
		"args": map[string]any{},
	})
}
