package values

import (
	"bufio"
	"io"
)

// Glob is a symbol-table entry: name-shared slots for scalar, array, hash,
// code, IO and format.
type Glob struct {
	Name   string // fully qualified
	Scalar *Scalar
	Array  *Array
	Hash   *Hash
	Code   *Code
	IO     *IO
	Format string
}

// NewGlob creates an empty glob for a fully qualified name.
func NewGlob(name string) *Glob {
	return &Glob{Name: name}
}

// ScalarCell returns the scalar slot, vivifying it.
func (g *Glob) ScalarCell() *Scalar {
	if g.Scalar == nil {
		g.Scalar = NewUndef()
	}
	return g.Scalar
}

// ArrayCell returns the array slot, vivifying it.
func (g *Glob) ArrayCell() *Array {
	if g.Array == nil {
		g.Array = NewArray()
	}
	return g.Array
}

// HashCell returns the hash slot, vivifying it.
func (g *Glob) HashCell() *Hash {
	if g.Hash == nil {
		g.Hash = NewHash()
	}
	return g.Hash
}

// IO is a file or stream handle attached to a glob.
type IO struct {
	Name   string
	Reader *bufio.Reader
	Writer io.Writer
	Closer io.Closer
	AtEOF  bool
	Lines  int // $. for this handle
}

// NewReadIO wraps a reader.
func NewReadIO(name string, r io.Reader) *IO {
	io_ := &IO{Name: name, Reader: bufio.NewReader(r)}
	if c, ok := r.(io.Closer); ok {
		io_.Closer = c
	}
	return io_
}

// NewWriteIO wraps a writer.
func NewWriteIO(name string, w io.Writer) *IO {
	io_ := &IO{Name: name, Writer: w}
	if c, ok := w.(io.Closer); ok {
		io_.Closer = c
	}
	return io_
}

// ReadLine reads up to and including sep (usually "\n"); a multi-byte sep
// ends the line at its last byte. An empty sep slurps the whole stream.
// Returns false at EOF with nothing read.
func (h *IO) ReadLine(sep string) (string, bool, error) {
	if h.Reader == nil {
		return "", false, nil
	}
	if sep == "" { // slurp mode ($/ = undef)
		var buf []byte
		tmp := make([]byte, 4096)
		for {
			n, err := h.Reader.Read(tmp)
			buf = append(buf, tmp[:n]...)
			if err == io.EOF {
				h.AtEOF = true
				break
			}
			if err != nil {
				return string(buf), len(buf) > 0, err
			}
		}
		return string(buf), len(buf) > 0, nil
	}
	delim := sep[len(sep)-1]
	line, err := h.Reader.ReadString(delim)
	if err == io.EOF {
		h.AtEOF = true
		if line == "" {
			return "", false, nil
		}
		err = nil
	}
	if err != nil {
		return "", false, err
	}
	h.Lines++
	return line, true, nil
}

// Close releases the underlying stream.
func (h *IO) Close() error {
	if h.Closer != nil {
		err := h.Closer.Close()
		h.Closer = nil
		return err
	}
	return nil
}
