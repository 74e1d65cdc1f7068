// Package ownership implements the lifetime discipline every wrapping
// constructor in discore follows: a handle that wraps
// another handle carries an explicit tag saying whether tearing down the
// wrapper also tears down the thing it wraps. This exists because a
// disk chain's parent images are routinely shared between several
// differencing children — a reference-counted or GC-driven close would
// either leak the parent or double-close it depending on which child
// tears down first. An explicit per-edge tag makes the answer a property
// of the edge, not of a global object graph.
package ownership

import "io"

////////////////////////////////////////////////////////////////////////////////

// Ownership tags one wrapping edge in a handle graph.
type Ownership int

const (
	// None means the wrapper does not own the wrapped resource: closing
	// the wrapper leaves the wrapped resource open.
	None Ownership = iota

	// Dispose means the wrapper owns the wrapped resource: closing the
	// wrapper also closes the wrapped resource.
	Dispose
)

func (o Ownership) String() string {
	if o == Dispose {
		return "Dispose"
	}
	return "None"
}

////////////////////////////////////////////////////////////////////////////////

// Release closes closer iff own is Dispose. Every teardown path in
// discore that holds an ownership tag funnels through this so the
// "release iff Dispose" rule has exactly one
// implementation.
func Release(closer io.Closer, own Ownership) error {
	if own != Dispose || closer == nil {
		return nil
	}
	return closer.Close()
}
