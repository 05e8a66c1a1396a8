// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package webio

import (
	"bytes"
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"math"
	"net/url"
	"path"
	"slices"
	"strconv"
	"strings"
)

// EncodeCommand encodes one command as JSON text.
func EncodeCommand(cmd Command) ([]byte, error) {
	return json.Marshal(cmd)
}

// EncodeCommands encodes a batch of commands as a JSON array.
// A nil batch encodes as [].
func EncodeCommands(cmds []Command) ([]byte, error) {
	if cmds == nil {
		cmds = []Command{}
	}
	return json.Marshal(cmds)
}

// DecodeCommand decodes a command produced by [EncodeCommand].
func DecodeCommand(data []byte) (Command, error) {
	var cmd Command
	if err := decodeJSON(data, &cmd); err != nil {
		return Command{}, malformed("%v", err)
	}
	cmd.Spec = normalize(cmd.Spec)
	return cmd, nil
}

// DecodeCommands decodes a batch produced by [EncodeCommands].
func DecodeCommands(data []byte) ([]Command, error) {
	var cmds []Command
	if err := decodeJSON(data, &cmds); err != nil {
		return nil, malformed("%v", err)
	}
	for i := range cmds {
		cmds[i].Spec = normalize(cmds[i].Spec)
	}
	return cmds, nil
}

// DecodeEvent decodes one text JSON event.
// Integral JSON numbers in the data decode as int64, others as float64.
func DecodeEvent(data []byte) (Event, error) {
	var ev Event
	if err := decodeJSON(data, &ev); err != nil {
		return Event{}, malformed("%v", err)
	}
	if ev.Event == "" {
		return Event{}, malformed("missing event name")
	}
	ev.Data = normalize(ev.Data)
	return ev, nil
}

// DecodeEvents decodes either a JSON array of events or a single event.
func DecodeEvents(data []byte) ([]Event, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || trimmed[0] != '[' {
		ev, err := DecodeEvent(trimmed)
		if err != nil {
			return nil, err
		}
		return []Event{ev}, nil
	}
	var raw []json.RawMessage
	if err := json.Unmarshal(trimmed, &raw); err != nil {
		return nil, malformed("%v", err)
	}
	events := make([]Event, 0, len(raw))
	for _, r := range raw {
		ev, err := DecodeEvent(r)
		if err != nil {
			return nil, err
		}
		events = append(events, ev)
	}
	return events, nil
}

func decodeJSON(data []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	return dec.Decode(v)
}

// normalize replaces json.Number values with int64 or float64.
func normalize(v any) any {
	switch x := v.(type) {
	case json.Number:
		if i, err := x.Int64(); err == nil {
			return i
		}
		f, _ := x.Float64()
		return f
	case map[string]any:
		for k, e := range x {
			x[k] = normalize(e)
		}
		return x
	case []any:
		for i, e := range x {
			x[i] = normalize(e)
		}
		return x
	}
	return v
}

// Binary event envelope:
//
//	[4-byte BE header length][JSON header]
//	[4-byte BE length][file bytes] ... one per file, in submission order
//
// In the header each file content is replaced by {"$webio_blob": index}.

const blobKey = "$webio_blob"

// EncodeBinaryEvent encodes ev in the binary envelope. Every []byte found
// in ev.Data is moved out of the JSON header into the file section.
func EncodeBinaryEvent(ev Event) ([]byte, error) {
	var blobs [][]byte
	header := ev
	header.Data = extractBlobs(ev.Data, &blobs)
	h, err := json.Marshal(header)
	if err != nil {
		return nil, err
	}
	if uint64(len(h)) > math.MaxUint32 {
		return nil, badArgument("event header too large")
	}
	size := 4 + len(h)
	for _, b := range blobs {
		if uint64(len(b)) > math.MaxUint32 {
			return nil, badArgument("file too large for binary envelope")
		}
		size += 4 + len(b)
	}
	out := make([]byte, 0, size)
	out = binary.BigEndian.AppendUint32(out, uint32(len(h)))
	out = append(out, h...)
	for _, b := range blobs {
		out = binary.BigEndian.AppendUint32(out, uint32(len(b)))
		out = append(out, b...)
	}
	return out, nil
}

// extractBlobs walks v in a deterministic order (map keys sorted) and
// returns a copy where []byte values are replaced by placeholders.
func extractBlobs(v any, blobs *[][]byte) any {
	switch x := v.(type) {
	case []byte:
		*blobs = append(*blobs, x)
		return map[string]any{blobKey: len(*blobs) - 1}
	case map[string]any:
		keys := make([]string, 0, len(x))
		for k := range x {
			keys = append(keys, k)
		}
		slices.Sort(keys)
		out := make(map[string]any, len(x))
		for _, k := range keys {
			out[k] = extractBlobs(x[k], blobs)
		}
		return out
	case []any:
		out := make([]any, len(x))
		for i, e := range x {
			out[i] = extractBlobs(e, blobs)
		}
		return out
	case []map[string]any:
		out := make([]any, len(x))
		for i, e := range x {
			out[i] = extractBlobs(e, blobs)
		}
		return out
	}
	return v
}

// DecodeBinaryEvent decodes the binary envelope written by
// [EncodeBinaryEvent], injecting file bytes where the header holds
// placeholders. Truncated frames, trailing bytes and dangling
// placeholders are rejected.
func DecodeBinaryEvent(data []byte) (Event, error) {
	if len(data) < 4 {
		return Event{}, malformed("binary envelope shorter than its header length")
	}
	hlen := uint64(binary.BigEndian.Uint32(data))
	rest := data[4:]
	if hlen > uint64(len(rest)) {
		return Event{}, malformed("binary envelope header truncated")
	}
	header := rest[:hlen]
	rest = rest[hlen:]

	var blobs [][]byte
	for len(rest) > 0 {
		if len(rest) < 4 {
			return Event{}, malformed("binary envelope file length truncated")
		}
		n := uint64(binary.BigEndian.Uint32(rest))
		rest = rest[4:]
		if n > uint64(len(rest)) {
			return Event{}, malformed("binary envelope file truncated")
		}
		blobs = append(blobs, bytes.Clone(rest[:n]))
		rest = rest[n:]
	}

	var ev Event
	if err := decodeJSON(header, &ev); err != nil {
		return Event{}, malformed("%v", err)
	}
	if ev.Event == "" {
		return Event{}, malformed("missing event name")
	}
	withFiles, err := injectBlobs(ev.Data, blobs)
	if err != nil {
		return Event{}, err
	}
	ev.Data = normalize(withFiles)
	return ev, nil
}

func injectBlobs(v any, blobs [][]byte) (any, error) {
	switch x := v.(type) {
	case map[string]any:
		if len(x) == 1 {
			if n, ok := x[blobKey].(json.Number); ok {
				i, err := strconv.Atoi(n.String())
				if err != nil || i < 0 || i >= len(blobs) {
					return nil, malformed("binary envelope placeholder %s out of range", n)
				}
				return blobs[i], nil
			}
		}
		for k, e := range x {
			r, err := injectBlobs(e, blobs)
			if err != nil {
				return nil, err
			}
			x[k] = r
		}
		return x, nil
	case []any:
		for i, e := range x {
			r, err := injectBlobs(e, blobs)
			if err != nil {
				return nil, err
			}
			x[i] = r
		}
		return x, nil
	}
	return v, nil
}

// File is one uploaded file.
type File struct {
	Filename     string
	MimeType     string
	LastModified int64
	Content      []byte
}

// fileFromRecord converts a submitted file record. The content comes from
// the binary envelope when present, otherwise from the data URL.
func fileFromRecord(m map[string]any) (File, error) {
	var f File
	name, _ := m["filename"].(string)
	f.Filename = baseName(name)
	f.MimeType, _ = m["mime_type"].(string)
	switch lm := m["last_modified"].(type) {
	case int64:
		f.LastModified = lm
	case float64:
		f.LastModified = int64(lm)
	}
	if b, ok := m["content"].([]byte); ok {
		f.Content = b
		return f, nil
	}
	raw, _ := m["dataurl"].(string)
	content, mime, err := decodeDataURL(raw)
	if err != nil {
		return File{}, err
	}
	f.Content = content
	if f.MimeType == "" {
		f.MimeType = mime
	}
	return f, nil
}

// baseName strips directories from a client-supplied file name.
func baseName(name string) string {
	name = strings.ReplaceAll(name, "\\", "/")
	b := path.Base(name)
	if b == "." || b == "/" {
		return ""
	}
	return b
}

func decodeDataURL(s string) ([]byte, string, error) {
	meta, payload, ok := strings.Cut(strings.TrimPrefix(s, "data:"), ",")
	if !ok || !strings.HasPrefix(s, "data:") {
		return nil, "", malformed("file content is not a data URL")
	}
	mime := meta
	if base, found := strings.CutSuffix(meta, ";base64"); found {
		mime = base
		b, err := base64.StdEncoding.DecodeString(payload)
		if err != nil {
			return nil, "", malformed("data URL: %v", err)
		}
		return b, mime, nil
	}
	text, err := url.PathUnescape(payload)
	if err != nil {
		return nil, "", malformed("data URL: %v", err)
	}
	return []byte(text), mime, nil
}
