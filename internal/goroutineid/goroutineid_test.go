// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package goroutineid

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	cases := []struct {
		stack string
		want  uint64
	}{
		{"goroutine 123 [running]:\n", 123},
		{"goroutine 1 [running]:", 1},
		{"something else\n", 0},
		{"goroutine  [running]", 0},
		{"goroutine ", 0},
		{"", 0},
	}
	for _, c := range cases {
		require.Equal(t, c.want, parse([]byte(c.stack)), "stack %q", c.stack)
	}
}

func TestGetDistinguishesGoroutines(t *testing.T) {
	self := Get()
	require.Greater(t, self, uint64(0))
	require.Equal(t, self, Get())

	other := make(chan uint64)
	go func() { other <- Get() }()
	require.NotEqual(t, self, <-other)
}
