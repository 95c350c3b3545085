package main

import (
	"fmt"
	"os"

	op "github.com/gperl-lang/gperl/core/opcode"
	"github.com/gperl-lang/gperl/runtime/compiler"
	"github.com/gperl-lang/gperl/runtime/interp"
)

// operandCounts gives each opcode's operand word count for the lister.
// Ops missing here default to their handler's fixed shapes below.
var operandCounts = map[op.Op]int{
	op.NOP: 0, op.RETURN: 1, op.GOTO: 1, op.GOTO_IF_TRUE: 2,
	op.GOTO_IF_FALSE: 2, op.GOTO_IF_UNDEF: 2, op.GOTO_IF_DEFINED: 2,
	op.CALL: 4, op.CALL_SUB: 4, op.CALL_METHOD: 4, op.CALL_BUILTIN: 4,
	op.MAKE_CLOSURE: 2, op.EVAL_ENTER: 1, op.EVAL_LEAVE: 0, op.DIE: 1,
	op.WARN: 1, op.LAST: 1, op.NEXT: 1, op.REDO: 1,
	op.ITERATOR_CREATE: 4, op.ITERATOR_HAS_NEXT: 2, op.ITERATOR_NEXT: 2,
	op.WANTARRAY: 1, op.LOCAL_SAVE: 2, op.LOCAL_RESTORE: 1, op.CALLER: 3,
	op.LOOP_ENTER: 1, op.LOOP_LEAVE: 0,
	op.MOVE: 2, op.ASSIGN: 2, op.LOAD_UNDEF: 1, op.LOAD_IMM: 2,
	op.LOAD_CONST_STR: 2, op.LOAD_CONST_INT: 2, op.LOAD_CONST_NUM: 2,
	op.LOAD_LOCAL: 2, op.STORE_LOCAL: 2, op.LOAD_GLOBAL_SCALAR: 2,
	op.STORE_GLOBAL_SCALAR: 2, op.LOAD_GLOBAL_ARRAY: 2, op.STORE_GLOBAL_ARRAY: 2,
	op.LOAD_GLOBAL_HASH: 2, op.STORE_GLOBAL_HASH: 2, op.LOAD_GLOBAL_CODE: 2,
	op.LOAD_GLOB: 2, op.LOAD_PERSISTENT: 2, op.STORE_PERSISTENT: 2,
	op.LOAD_SPECIAL: 2, op.STORE_SPECIAL: 2, op.LOAD_CAPTURE: 2,
	op.STORE_CAPTURE: 2, op.ARG_ARRAY: 1, op.BIND_SPECIAL: 2,
	op.STORE_GLOBAL_CODE: 2,
	op.SCALAR_REF: 2, op.ARRAY_REF: 2, op.HASH_REF: 2, op.CODE_REF: 2,
	op.ANON_ARRAY: 2, op.ANON_HASH: 2, op.DEREF_SCALAR: 3, op.DEREF_ARRAY: 3,
	op.DEREF_HASH: 3, op.DEREF_CODE: 2, op.REF_TYPE: 2, op.BLESS: 3,
	op.DEFINED: 2, op.UNDEF_CLEAR: 1, op.WEAKEN: 1, op.NOT: 2, op.BOOL: 2,
	op.STRINGIFY: 2, op.NUMIFY: 2,
	op.NEG: 2, op.ABS: 2, op.SQRT: 2, op.INT_OP: 2, op.ATAN2: 3, op.SIN: 2,
	op.COS: 2, op.EXP: 2, op.LOG: 2, op.HEX_OP: 2, op.OCT_OP: 2,
	op.BITNOT: 2, op.INC: 1, op.DEC: 1,
	op.CONCAT: 3, op.REPEAT: 4, op.UC: 2, op.LC: 2, op.UCFIRST: 2,
	op.LCFIRST: 2, op.CHR: 2, op.ORD: 2, op.LENGTH: 2, op.SUBSTR: 5,
	op.INDEX_OP: 4, op.RINDEX_OP: 4, op.SPRINTF: 2, op.JOIN: 3,
	op.QUOTEMETA: 2, op.CHOMP: 2, op.CHOP: 2, op.REVERSE_STR: 2,
	op.LIST_NEW: 1, op.LIST_PUSH: 2, op.LIST_APPEND: 2, op.ARRAY_NEW: 1,
	op.HASH_NEW: 1, op.PUSH: 3, op.POP: 2, op.SHIFT: 2, op.UNSHIFT: 3,
	op.SPLICE: 6, op.ARRAY_GET: 4, op.ARRAY_SET: 3, op.ARRAY_LEN: 2,
	op.ARRAY_SETSIZE: 2, op.HASH_GET: 4, op.HASH_SET: 3, op.EXISTS: 3,
	op.DELETE: 4, op.KEYS: 3, op.VALUES: 2, op.EACH: 2, op.SLICE: 4,
	op.LIST_ASSIGN: 5, op.SORT_OP: 3, op.GREP_OP: 4, op.MAP_OP: 3,
	op.REVERSE_LIST: 2, op.RANGE_NEW: 3, op.SCALAR_OP: 2, op.WANTLIST: 2,
	op.OPEN: 4, op.CLOSE: 2, op.PRINT: 3, op.SAY: 3, op.PRINTF_OP: 3,
	op.READLINE_OP: 3, op.EOF_OP: 2, op.BINMODE: 3, op.MATCH_REGEX: 4,
	op.MATCH_REGEX_NOT: 3, op.REPLACE_REGEX: 5, op.TRANS_OP: 3, op.QR_NEW: 3,
	op.SPLIT_OP: 4, op.PACK_OP: 3, op.UNPACK_OP: 3,
	op.ADD_ASSIGN: 2, op.SUB_ASSIGN: 2, op.MUL_ASSIGN: 2, op.DIV_ASSIGN: 2,
	op.MOD_ASSIGN: 2, op.POW_ASSIGN: 2, op.CONCAT_ASSIGN: 2, op.REPEAT_ASSIGN: 2,
	op.SHL_ASSIGN: 2, op.SHR_ASSIGN: 2, op.BITAND_ASSIGN: 2, op.BITOR_ASSIGN: 2,
	op.BITXOR_ASSIGN: 2, op.AND_ASSIGN: 2, op.OR_ASSIGN: 2, op.DEFINED_OR_ASSIGN: 2,
}

// binary comparison ops all share dst,a,b
func operandCount(o op.Op) int {
	if n, ok := operandCounts[o]; ok {
		return n
	}
	return 3
}

func dumpBytecode(ctx *interp.Context, name, src string) error {
	code, diags := ctx.Compile(name, src)
	if code == nil {
		if d, bad := diags.FirstError(); bad {
			return fmt.Errorf("%s", d)
		}
		return fmt.Errorf("compilation failed")
	}
	chunk := code.Chunk.(*compiler.Chunk)
	dumpChunk(chunk, "")
	return nil
}

func dumpChunk(c *compiler.Chunk, indent string) {
	fmt.Fprintf(os.Stdout, "%schunk %s (%d regs, %d bytes)\n", indent, c.Name, c.NReg, c.ByteSize())
	pc := 0
	for pc < len(c.Code) {
		o := op.Op(c.Code[pc])
		n := operandCount(o)
		fmt.Fprintf(os.Stdout, "%s  %5d  %-20s", indent, pc, o)
		for i := 1; i <= n && pc+i < len(c.Code); i++ {
			fmt.Fprintf(os.Stdout, " %d", c.Code[pc+i])
		}
		fmt.Fprintln(os.Stdout)
		pc += 1 + n
	}
	for i, sub := range c.Subs {
		fmt.Fprintf(os.Stdout, "%s  sub[%d]:\n", indent, i)
		dumpChunk(sub, indent+"    ")
	}
}
