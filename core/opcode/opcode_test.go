package opcode

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRangesAreContiguous(t *testing.T) {
	require.NoError(t, Verify())
}

func TestEveryOpcodeFallsInADeclaredRange(t *testing.T) {
	for o := Op(0); o < 1200; o++ {
		if !o.Defined() {
			continue
		}
		_, ok := RangeOf(o)
		assert.True(t, ok, "opcode %s (%d) has no range", o, uint16(o))
	}
}

func TestRangeBoundaries(t *testing.T) {
	tests := []struct {
		op   Op
		want string
	}{
		{NOP, "control"},
		{RETURN, "control"},
		{MOVE, "move"},
		{SCALAR_REF, "type"},
		{EQ, "numcmp"},
		{SPACESHIP, "numcmp"},
		{STR_EQ, "strcmp"},
		{CMP, "strcmp"},
		{ADD, "arith"},
		{ADD_ASSIGN, "compound"},
		{DEFINED_OR_ASSIGN, "compound"},
		{CONCAT, "string"},
		{PUSH, "collection"},
		{EACH, "collection"},
		{OPEN, "ioregex"},
		{MATCH_REGEX, "ioregex"},
	}
	for _, tt := range tests {
		r, ok := RangeOf(tt.op)
		require.True(t, ok, "%s", tt.op)
		assert.Equal(t, tt.want, r.Name, "%s", tt.op)
	}
}

func TestNumberingMatchesSpec(t *testing.T) {
	// the documented range anchors
	assert.Equal(t, Op(0), NOP)
	assert.Equal(t, Op(100), MOVE)
	assert.Equal(t, Op(300), EQ)
	assert.Equal(t, Op(350), STR_EQ)
	assert.Equal(t, Op(400), ADD)
	assert.Equal(t, Op(500), ADD_ASSIGN)
	assert.Equal(t, Op(600), CONCAT)
	assert.Equal(t, Op(700), LIST_NEW)
	assert.Equal(t, Op(900), OPEN)
}

func TestGapDetection(t *testing.T) {
	// sanity-check the checker itself: a synthetic gap must be caught
	saved := make(map[Op]string, len(names))
	for k, v := range names {
		saved[k] = v
	}
	defer func() { names = saved }()

	names[ADD+60] = "SYNTHETIC"
	assert.Error(t, Verify())
}

func TestStringNames(t *testing.T) {
	assert.Equal(t, "ADD", ADD.String())
	assert.Equal(t, "MATCH_REGEX", MATCH_REGEX.String())
	assert.Contains(t, Op(9999).String(), "9999")
}
