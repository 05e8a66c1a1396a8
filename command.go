// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package webio

// Command names sent from server to client.
const (
	CmdInputGroup   = "input_group"
	CmdUpdateInput  = "update_input"
	CmdDestroyForm  = "destroy_form"
	CmdOutput       = "output"
	CmdOutputCtl    = "output_ctl"
	CmdRunScript    = "run_script"
	CmdPopup        = "popup"
	CmdClosePopup   = "close_popup"
	CmdToast        = "toast"
	CmdDownload     = "download"
	CmdSetSessionID = "set_session_id"
	CmdCloseSession = "close_session"
)

// Event names sent from client to server.
const (
	EvtFromSubmit = "from_submit"
	EvtFromCancel = "from_cancel"
	EvtInputEvent = "input_event"
	EvtCallback   = "callback"
	EvtJSResult   = "js_result"
)

// Command is a server-to-client message. The Command tag defines the
// shape of Spec. TaskID names the originating task so that replies can be
// routed back to it.
type Command struct {
	Command string `json:"command"`
	Spec    any    `json:"spec,omitempty"`
	TaskID  string `json:"task_id,omitempty"`
}

// Event is a client-to-server message addressed to a task or callback.
type Event struct {
	Event  string `json:"event"`
	TaskID string `json:"task_id"`
	Data   any    `json:"data"`
}

// dataMap returns the event data as an object, or nil.
func (e Event) dataMap() map[string]any {
	m, _ := e.Data.(map[string]any)
	return m
}

// inputEvent is the data of an input_event.
type inputEvent struct {
	name  string
	event string
	value any
}

func (e Event) inputEvent() inputEvent {
	m := e.dataMap()
	var ie inputEvent
	ie.name, _ = m["name"].(string)
	ie.event, _ = m["event_name"].(string)
	ie.value = m["value"]
	return ie
}

// CloseSession is the command a transport emits for an unknown or evicted session.
func CloseSession() Command {
	return Command{Command: CmdCloseSession}
}

// SetSessionID is the command that tells a reconnecting client its session id.
func SetSessionID(id string) Command {
	return Command{Command: CmdSetSessionID, Spec: id}
}
