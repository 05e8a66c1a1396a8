// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package webio

import (
	"crypto/rand"

	"code.hybscloud.com/atomix"
	"github.com/google/uuid"
)

// Serial numbers a batch of outbound commands.
// Zero means "no open batch".
type Serial = uint32

// counter is the global monotonic counter for batch serials.
var counter atomix.Uint32

// nextSerial returns the next monotonically increasing serial.
func nextSerial() Serial {
	s := counter.Add(1)
	if s == 0 {
		s = counter.Add(1)
	}
	return s
}

const idAlphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// randomString returns n characters drawn from [A-Za-z0-9].
func randomString(n int) string {
	buf := make([]byte, n)
	rand.Read(buf)
	for i, b := range buf {
		buf[i] = idAlphabet[int(b)%len(idAlphabet)]
	}
	return string(buf)
}

// NewSessionID returns an opaque 24-character session token.
func NewSessionID() string {
	return randomString(24)
}

// newTaskID returns "<name>-<10 random characters>".
func newTaskID(name string) string {
	if name == "" {
		name = "task"
	}
	return name + "-" + randomString(10)
}

// newCallbackID returns an opaque callback token.
func newCallbackID() string {
	return "CB-" + uuid.NewString()
}
