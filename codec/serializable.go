package codec

////////////////////////////////////////////////////////////////////////////////

// Serializable is the contract every on-disk record type advertises: its
// encoded size and how to populate itself from a byte slice. ReadFrom may
// partially populate the receiver and returns the number of bytes it
// actually consumed, so a caller can walk a variable-length array of
// heterogeneous records without knowing each element's size up front.
type Serializable interface {
	// SizeBytes returns the number of bytes this record occupies on
	// disk. For fixed-size records this is a constant; for records whose
	// size depends on a field read earlier in the same structure (e.g. a
	// header whose HeaderLength field the reader must trust) it is
	// computed from already-populated fields.
	SizeBytes() int

	// ReadFrom populates the receiver from b and returns the number of
	// bytes consumed. b may be longer than SizeBytes(); ReadFrom must
	// not read past SizeBytes() bytes.
	ReadFrom(b []byte) (int, error)
}

// Writable extends Serializable for record types that can also be
// emitted. Not every on-disk record can: some are parsed-only. Keeping
// Writable a separate, narrower interface means the type system rejects
// an attempted write of a read-only record at compile time instead of
// returning direrr.ErrWriteNotSupported at run time — the compile-time
// check subsumes the runtime one, so no record type needs both.
type Writable interface {
	Serializable

	// WriteTo serializes the receiver into b, which must be at least
	// SizeBytes() long.
	WriteTo(b []byte) error
}
