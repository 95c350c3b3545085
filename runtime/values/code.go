package values

// CallFunc executes a code object. The interpreter installs it when the
// code object is constructed; tie/overload dispatch and sort comparators all
// go through the same entry.
type CallFunc func(args []*Scalar, ctx CallContext) ([]*Scalar, error)

// Code is a callable: an immutable compiled body plus the captured cells it
// closes over. Chunk is the backend body (the bytecode chunk for the
// register backend); values does not depend on its concrete type.
type Code struct {
	Name      string // fully qualified, empty for anonymous
	Package   string
	Prototype string
	HasProto  bool
	Chunk     interface{}
	Captures  []*Scalar // captured scalar cells, in capture-table order
	CapArrays []*Array
	CapHashes []*Hash
	Fn        CallFunc
}

// Call invokes the body. A nil Fn is an undefined subroutine.
func (c *Code) Call(args []*Scalar, ctx CallContext) ([]*Scalar, error) {
	return c.Fn(args, ctx)
}

// Defined reports whether the code object has a body.
func (c *Code) Defined() bool { return c != nil && c.Fn != nil }
