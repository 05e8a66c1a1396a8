// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package webio_test

import (
	"errors"
	"reflect"
	"testing"

	"code.hybscloud.com/kont"
	"code.hybscloud.com/webio"
	"code.hybscloud.com/webio/coop"
)

func TestParseFileSize(t *testing.T) {
	cases := []struct {
		in   any
		want int64
	}{
		{"1k", 1024},
		{"1K", 1024},
		{"1.5m", 3 << 19},
		{" 2g ", 2 << 30},
		{"300", 300},
		{4096, 4096},
		{int64(7), 7},
		{2.0, 2},
	}
	for _, tc := range cases {
		got, err := webio.ParseFileSize(tc.in)
		if err != nil || got != tc.want {
			t.Fatalf("ParseFileSize(%v) got %d, %v; want %d", tc.in, got, err, tc.want)
		}
	}
	for _, in := range []any{"", "k", "-1m", "1x", "abc", true} {
		if _, err := webio.ParseFileSize(in); !errors.Is(err, webio.ErrBadArgument) {
			t.Fatalf("ParseFileSize(%v) got %v, want ErrBadArgument", in, err)
		}
	}
}

func inputs(t *testing.T, f *webio.Form) []map[string]any {
	t.Helper()
	list, ok := f.Spec()["inputs"].([]map[string]any)
	if !ok {
		t.Fatalf("inputs got %T", f.Spec()["inputs"])
	}
	return list
}

func TestNewFormAutoFocus(t *testing.T) {
	f, err := webio.NewForm("info", []webio.Item{
		webio.Select("color", []webio.Option{{Label: "Red", Value: "r"}}, webio.Name("color")),
		webio.TextInput("name", webio.Name("name")),
		webio.Textarea("bio", webio.Name("bio")),
	})
	if err != nil {
		t.Fatalf("NewForm: %v", err)
	}
	in := inputs(t, f)
	if _, ok := in[0]["auto_focus"]; ok {
		t.Fatalf("select got auto_focus")
	}
	if in[1]["auto_focus"] != true {
		t.Fatalf("first text input has no auto_focus: %v", in[1])
	}
	if _, ok := in[2]["auto_focus"]; ok {
		t.Fatalf("textarea got auto_focus too")
	}
	if f.Spec()["label"] != "info" {
		t.Fatalf("label got %v", f.Spec()["label"])
	}

	f, err = webio.NewForm("", []webio.Item{
		webio.TextInput("a", webio.Name("a")),
		webio.Textarea("b", webio.Name("b"), webio.Attr("auto_focus", true)),
	})
	if err != nil {
		t.Fatalf("NewForm: %v", err)
	}
	if _, ok := inputs(t, f)[0]["auto_focus"]; ok {
		t.Fatalf("explicit auto_focus was overridden")
	}
}

func TestNewFormRejects(t *testing.T) {
	cases := map[string][]webio.Item{
		"unnamed":     {webio.TextInput("a")},
		"bad name":    {webio.TextInput("a", webio.Name("a b"))},
		"duplicate":   {webio.TextInput("a", webio.Name("a")), webio.Textarea("b", webio.Name("a"))},
		"button type": {webio.Actions("go", []webio.Button{{Label: "x", Value: 1, Type: "explode"}}, webio.Name("go"))},
		"text type":   {webio.Textarea("a", webio.Name("a"), webio.Type(webio.TypePassword))},
		"select type": {webio.TextInput("a", webio.Name("a"), webio.Type(webio.TypeSelect))},
		"file size":   {webio.FileUpload("f", webio.Name("f"), webio.MaxSize("lots"))},
	}
	for name, items := range cases {
		if _, err := webio.NewForm("", items); !errors.Is(err, webio.ErrBadArgument) {
			t.Fatalf("%s: got %v, want ErrBadArgument", name, err)
		}
	}
}

func TestFileUploadSpec(t *testing.T) {
	f, err := webio.NewForm("", []webio.Item{
		webio.FileUpload("docs", webio.Name("docs"), webio.Multiple(), webio.MaxSize("1k"), webio.MaxTotalSize("2m")),
	})
	if err != nil {
		t.Fatalf("NewForm: %v", err)
	}
	in := inputs(t, f)[0]
	if in["max_size"] != int64(1024) || in["max_total_size"] != int64(2<<20) {
		t.Fatalf("size limits got %v, %v", in["max_size"], in["max_total_size"])
	}
	if in["multiple"] != true {
		t.Fatalf("multiple got %v", in["multiple"])
	}
}

// openGroup runs a cooperative form and reports its values.
func openGroup(t *testing.T, items []webio.Item, opts ...webio.FormOption) (*client, <-chan map[string]any) {
	t.Helper()
	got := make(chan map[string]any, 1)
	c := open(t, webio.CoopApp(func() kont.Eff[struct{}] {
		return kont.Bind(coop.InputGroup("g", items, opts...), func(v map[string]any) kont.Eff[struct{}] {
			got <- v
			return unit()
		})
	}))
	return c, got
}

func TestCheckboxAndFloatValues(t *testing.T) {
	c, got := openGroup(t, []webio.Item{
		webio.Checkbox("pick", []webio.Option{{Label: "A", Value: "a"}, {Label: "B", Value: "b"}}, webio.Name("pick")),
		webio.TextInput("ratio", webio.Name("ratio"), webio.Type(webio.TypeFloat)),
		webio.TextInput("count", webio.Name("count"), webio.Type(webio.TypeNumber)),
	})
	form := c.expect(webio.CmdInputGroup)
	c.send(webio.EvtFromSubmit, form.TaskID, map[string]any{"pick": "a", "ratio": "2.5", "count": 3.0})
	c.expect(webio.CmdDestroyForm)

	v := wait(t, got)
	if !reflect.DeepEqual(v["pick"], []any{"a"}) {
		t.Fatalf("pick got %#v, want [a]", v["pick"])
	}
	if v["ratio"] != 2.5 {
		t.Fatalf("ratio got %#v, want 2.5", v["ratio"])
	}
	if v["count"] != int64(3) {
		t.Fatalf("count got %#v, want 3", v["count"])
	}
}

func TestFileUploadDataURL(t *testing.T) {
	c, got := openGroup(t, []webio.Item{webio.FileUpload("f", webio.Name("f"))})
	form := c.expect(webio.CmdInputGroup)
	c.send(webio.EvtFromSubmit, form.TaskID, map[string]any{"f": []any{map[string]any{
		"filename":      `..\dir/notes.txt`,
		"mime_type":     "",
		"last_modified": int64(1700000000),
		"dataurl":       "data:text/plain;base64,aGk=",
	}}})
	c.expect(webio.CmdDestroyForm)

	want := webio.File{Filename: "notes.txt", MimeType: "text/plain", LastModified: 1700000000, Content: []byte("hi")}
	if v := wait(t, got)["f"]; !reflect.DeepEqual(v, want) {
		t.Fatalf("got %#v, want %#v", v, want)
	}
}

func TestFileUploadBinaryEnvelope(t *testing.T) {
	c, got := openGroup(t, []webio.Item{webio.FileUpload("f", webio.Name("f"), webio.Multiple())})
	form := c.expect(webio.CmdInputGroup)

	data, err := webio.EncodeBinaryEvent(webio.Event{
		Event:  webio.EvtFromSubmit,
		TaskID: form.TaskID,
		Data: map[string]any{"f": []any{
			map[string]any{"filename": "a.bin", "mime_type": "application/octet-stream", "last_modified": int64(1), "content": []byte{1, 2}},
			map[string]any{"filename": "b.bin", "mime_type": "application/octet-stream", "last_modified": int64(2), "content": []byte{3}},
		}},
	})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	ev, err := webio.DecodeBinaryEvent(data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	c.sess.DeliverEvent(ev)
	c.expect(webio.CmdDestroyForm)

	files, ok := wait(t, got)["f"].([]webio.File)
	if !ok || len(files) != 2 {
		t.Fatalf("got %#v, want two files", files)
	}
	if files[0].Filename != "a.bin" || string(files[0].Content) != "\x01\x02" || string(files[1].Content) != "\x03" {
		t.Fatalf("files got %#v", files)
	}
}

func TestValidateFormFieldError(t *testing.T) {
	c, got := openGroup(t,
		[]webio.Item{webio.TextInput("a", webio.Name("a")), webio.TextInput("b", webio.Name("b"))},
		webio.ValidateForm(func(values map[string]any) error {
			if values["a"] == values["b"] {
				return &webio.FieldError{Name: "b", Message: "must differ"}
			}
			return nil
		}),
	)
	form := c.expect(webio.CmdInputGroup)
	c.send(webio.EvtFromSubmit, form.TaskID, map[string]any{"a": "x", "b": "x"})
	s := spec(t, c.expect(webio.CmdUpdateInput))
	attrs, _ := s["attributes"].(map[string]any)
	if s["target_name"] != "b" || attrs["invalid_feedback"] != "must differ" {
		t.Fatalf("update_input got %v", s)
	}

	c.send(webio.EvtFromSubmit, form.TaskID, map[string]any{"a": "x", "b": "y"})
	c.expect(webio.CmdDestroyForm)
	if v := wait(t, got); v["b"] != "y" {
		t.Fatalf("got %v", v)
	}
}

func TestInputEvents(t *testing.T) {
	changed := make(chan any, 1)
	c, _ := openGroup(t, []webio.Item{
		webio.TextInput("n", webio.Name("n"), webio.Type(webio.TypeNumber), webio.OnChange(func(v any) { changed <- v })),
	})
	form := c.expect(webio.CmdInputGroup)

	c.send(webio.EvtInputEvent, form.TaskID, map[string]any{"name": "n", "event_name": "change", "value": "42"})
	if v := wait(t, changed); v != int64(42) {
		t.Fatalf("change got %#v, want 42", v)
	}

	c.send(webio.EvtInputEvent, form.TaskID, map[string]any{"name": "n", "event_name": "blur", "value": "four"})
	attrs, _ := spec(t, c.expect(webio.CmdUpdateInput))["attributes"].(map[string]any)
	if attrs["valid_status"] != false || attrs["invalid_feedback"] != "Your input is not valid" {
		t.Fatalf("blur invalid got %v", attrs)
	}

	c.send(webio.EvtInputEvent, form.TaskID, map[string]any{"name": "n", "event_name": "blur", "value": "4"})
	attrs, _ = spec(t, c.expect(webio.CmdUpdateInput))["attributes"].(map[string]any)
	if attrs["valid_status"] != 0 {
		t.Fatalf("blur valid got %v", attrs)
	}
}

func TestValidatorPanicMarksInvalid(t *testing.T) {
	c, _ := openGroup(t, []webio.Item{
		webio.TextInput("a", webio.Name("a"), webio.Validate(func(any) error { panic("boom") })),
	})
	form := c.expect(webio.CmdInputGroup)
	c.send(webio.EvtFromSubmit, form.TaskID, map[string]any{"a": "x"})
	attrs, _ := spec(t, c.expect(webio.CmdUpdateInput))["attributes"].(map[string]any)
	if attrs["invalid_feedback"] != "Your input is not valid" {
		t.Fatalf("got %v", attrs)
	}
}

func TestPromptFormDefaultName(t *testing.T) {
	f, err := webio.PromptForm(webio.Textarea("bio"))
	if err != nil {
		t.Fatalf("PromptForm: %v", err)
	}
	in := inputs(t, f)[0]
	if in["name"] != "data" {
		t.Fatalf("item got %v", in)
	}
	if _, ok := in["label"]; ok || f.Spec()["label"] != "bio" {
		t.Fatalf("form label got %v, item %v", f.Spec()["label"], in)
	}
	if f.First(map[string]any{"data": "x"}) != "x" || f.First(nil) != nil {
		t.Fatalf("First does not return the item value")
	}
}

func TestPromptFormMovesLabel(t *testing.T) {
	f, err := webio.PromptForm(webio.TextInput("What is your name?"))
	if err != nil {
		t.Fatalf("PromptForm: %v", err)
	}
	if got := f.Spec()["label"]; got != "What is your name?" {
		t.Fatalf("form label got %v", got)
	}
	in := inputs(t, f)[0]
	if _, ok := in["label"]; ok {
		t.Fatalf("item kept label %v", in["label"])
	}
	if in["auto_focus"] != true {
		t.Fatalf("item got %v, want auto_focus", in)
	}
}

func TestPromptFormFocusesAnyItem(t *testing.T) {
	options := []webio.Option{{Label: "A", Value: "a"}, {Label: "B", Value: "b"}}
	items := map[string]webio.Item{
		"select":   webio.Select("pick", options),
		"checkbox": webio.Checkbox("pick", options),
		"radio":    webio.Radio("pick", options),
	}
	for name, it := range items {
		f, err := webio.PromptForm(it)
		if err != nil {
			t.Fatalf("%s: PromptForm: %v", name, err)
		}
		if in := inputs(t, f)[0]; in["auto_focus"] != true {
			t.Fatalf("%s: item got %v, want auto_focus", name, in)
		}
	}

	keep := webio.Radio("pick", options, webio.Attr("auto_focus", false))
	f, err := webio.PromptForm(keep)
	if err != nil {
		t.Fatalf("PromptForm: %v", err)
	}
	if in := inputs(t, f)[0]; in["auto_focus"] != false {
		t.Fatalf("explicit auto_focus was overridden: %v", in)
	}

	plain := webio.Select("pick", options, webio.Name("p"), webio.Value("a"))
	if _, err := webio.PromptForm(plain); err != nil {
		t.Fatalf("PromptForm: %v", err)
	}
	g, err := webio.NewForm("", []webio.Item{plain})
	if err != nil {
		t.Fatalf("NewForm: %v", err)
	}
	if in := inputs(t, g)[0]; in["label"] != "pick" || in["auto_focus"] != nil {
		t.Fatalf("PromptForm changed the caller's item: %v", in)
	}
}
