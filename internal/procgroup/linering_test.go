// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package procgroup

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLineRingKeepsLastN(t *testing.T) {
	r := NewLineRing(3)
	for i := 1; i <= 5; i++ {
		_, _ = fmt.Fprintf(r, "line %d\n", i)
	}
	assert.Equal(t, []string{"line 3", "line 4", "line 5"}, r.Lines())
}

func TestLineRingJoinsPartialWrites(t *testing.T) {
	r := NewLineRing(4)
	_, _ = r.Write([]byte("hel"))
	_, _ = r.Write([]byte("lo\r\nwor"))
	assert.Equal(t, []string{"hello", "wor"}, r.Lines())
	_, _ = r.Write([]byte("ld\n\n"))
	assert.Equal(t, "hello\nworld", r.String())
}
