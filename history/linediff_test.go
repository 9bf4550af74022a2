package history

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLineDiff(t *testing.T) {
	lines := LineDiff("a\nb\nc", "a\nB\nc\nd")
	assert.Equal(t, []Line{
		{Op: LineEqual, Text: "a"},
		{Op: LineRemoved, Text: "b"},
		{Op: LineAdded, Text: "B"},
		{Op: LineEqual, Text: "c"},
		{Op: LineAdded, Text: "d"},
	}, lines)
}

func TestLineDiff_NilAndNonString(t *testing.T) {
	assert.Equal(t, []Line{{Op: LineAdded, Text: "hello"}}, LineDiff(nil, "hello"))
	assert.Equal(t, []Line{{Op: LineRemoved, Text: "3"}, {Op: LineAdded, Text: "4"}}, LineDiff(int64(3), int64(4)))
	assert.Empty(t, LineDiff(nil, nil))
	assert.Equal(t, "+ x", Line{Op: LineAdded, Text: "x"}.String())
}
