// Package compiler lowers the AST to register bytecode. One Chunk per
// subroutine body; nested subs compile into child chunks referenced from the
// parent's sub pool and constructed at runtime by MAKE_CLOSURE.
package compiler

import (
	"github.com/gperl-lang/gperl/core/opcode"
	"github.com/gperl-lang/gperl/runtime/trans"
)

// CapSrc says where a captured cell comes from in the *parent* frame.
type CapSrc uint8

const (
	CapSlot       CapSrc = iota // parent local slot
	CapCapture                  // parent's own capture table
	CapPersistent               // the persistent-id registry, by name
)

// CapDesc is one entry of a chunk's captured-variable table.
type CapDesc struct {
	Name  string
	Src   CapSrc
	Index int    // slot or capture index
	PName string // registry name for CapPersistent
}

// Chunk is one compiled subroutine body: a flat 16-bit opcode stream with
// its constant pools, register count, capture table and line table.
type Chunk struct {
	Name    string
	Package string
	File    string

	Code []uint16
	Strs []string
	Ints []int64
	Nums []float64

	NReg     int
	Captures []CapDesc
	Subs     []*Chunk
	Trans    []*trans.Spec

	// Lines maps each instruction start offset to the source token index,
	// parallel to Code (operand words repeat the opcode's entry).
	Lines []int32

	// TokenLines maps token index -> reported source line, so caller()
	// stays accurate after refactoring.
	TokenLines map[int32]LinePos
}

// LinePos is a resolved (file, line) pair for the line table.
type LinePos struct {
	File string
	Line int
}

// ByteSize is the emitted size against the host's per-method limit.
func (c *Chunk) ByteSize() int { return len(c.Code) * 2 }

func (c *Chunk) emit(tok int32, op opcode.Op, operands ...uint16) int {
	at := len(c.Code)
	c.Code = append(c.Code, uint16(op))
	c.Lines = append(c.Lines, tok)
	for _, w := range operands {
		c.Code = append(c.Code, w)
		c.Lines = append(c.Lines, tok)
	}
	return at
}

// patch rewrites the operand word at offset with an absolute jump target.
func (c *Chunk) patch(operandAt, target int) {
	c.Code[operandAt] = uint16(target)
}

func (c *Chunk) strIdx(s string) uint16 {
	for i, v := range c.Strs {
		if v == s {
			return uint16(i)
		}
	}
	c.Strs = append(c.Strs, s)
	return uint16(len(c.Strs) - 1)
}

func (c *Chunk) intIdx(v int64) uint16 {
	for i, x := range c.Ints {
		if x == v {
			return uint16(i)
		}
	}
	c.Ints = append(c.Ints, v)
	return uint16(len(c.Ints) - 1)
}

func (c *Chunk) numIdx(v float64) uint16 {
	for i, x := range c.Nums {
		if x == v {
			return uint16(i)
		}
	}
	c.Nums = append(c.Nums, v)
	return uint16(len(c.Nums) - 1)
}

// LineFor resolves an instruction offset to its reported source position.
func (c *Chunk) LineFor(pc int) (LinePos, bool) {
	if pc < 0 || pc >= len(c.Lines) {
		return LinePos{}, false
	}
	lp, ok := c.TokenLines[c.Lines[pc]]
	return lp, ok
}
