package vm

import "github.com/gperl-lang/gperl/runtime/values"

// iterator is the tagged union behind foreach: a numeric range that never
// materialises, an array walker that aliases the cells, or a hash-each view.
type iterator interface {
	hasNext() bool
	next() *values.Scalar
}

type rangeIter struct {
	cur, hi int64
}

func (it *rangeIter) hasNext() bool { return it.cur <= it.hi }

func (it *rangeIter) next() *values.Scalar {
	v := values.NewInt(it.cur)
	it.cur++
	return v
}

type stringRangeIter struct {
	cur, end string
	done     bool
}

func (it *stringRangeIter) hasNext() bool { return !it.done }

func (it *stringRangeIter) next() *values.Scalar {
	v := values.NewString(it.cur)
	if it.cur == it.end || len(it.cur) > len(it.end) {
		it.done = true
		return v
	}
	nxt, ok := values.StringIncrement(it.cur)
	if !ok || len(nxt) > len(it.end) {
		it.done = true
		return v
	}
	it.cur = nxt
	return v
}

// arrayIter aliases the live cells, so mutating the loop variable mutates
// the array element.
type arrayIter struct {
	arr *values.Array
	idx int
}

func (it *arrayIter) hasNext() bool { return it.idx < it.arr.Len() }

func (it *arrayIter) next() *values.Scalar {
	cell := it.arr.LV(it.idx)
	it.idx++
	return cell
}

type eachIter struct {
	h    *values.Hash
	keys []string
	idx  int
}

func (it *eachIter) hasNext() bool { return it.idx < len(it.keys) }

func (it *eachIter) next() *values.Scalar {
	k := it.keys[it.idx]
	it.idx++
	return values.NewString(k)
}

func (fr *Frame) newIterator(a, b uint16, kind int, opAt int) (int, error) {
	var it iterator
	switch kind {
	case IterRange:
		lov, hiv := fr.cell(a), fr.cell(b)
		if lov.IsInteger() || looksNumeric(lov) {
			it = &rangeIter{cur: lov.IntValue(), hi: hiv.IntValue()}
		} else {
			it = &stringRangeIter{cur: lov.Str(), end: hiv.Str()}
		}
	case IterEach:
		h, err := fr.hashAt(a, opAt)
		if err != nil {
			return 0, err
		}
		it = &eachIter{h: h, keys: h.Keys()}
	default:
		cell := fr.cell(a)
		if arr := cell.ArrayH(); arr != nil {
			it = &arrayIter{arr: arr}
		} else {
			arr := values.NewArray()
			arr.AppendAliased(values.Flatten(cell))
			it = &arrayIter{arr: arr}
		}
	}
	fr.iters = append(fr.iters, it)
	return len(fr.iters) - 1, nil
}

// IterList / IterRange / IterEach mirror the compiler's iterator kinds.
const (
	IterList  = 0
	IterRange = 1
	IterEach  = 2
)
