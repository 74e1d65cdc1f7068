package codec

import (
	"bytes"
	"fmt"
	"unicode/utf16"

	"golang.org/x/text/encoding/unicode"

	"github.com/discore/discore/direrr"
)

////////////////////////////////////////////////////////////////////////////////

// ReadUTF16LE decodes a UTF-16LE code-unit slice into a native string.
// When stripTrailingNUL is set, trailing U+0000 code units are removed
// before decoding — the convention fixed-width name slots (VHD parent
// unicode name, GPT partition name) use for padding.
func ReadUTF16LE(b []byte, stripTrailingNUL bool) (string, error) {
	return readUTF16(b, unicode.LittleEndian, stripTrailingNUL)
}

// ReadUTF16BE is ReadUTF16LE for big-endian code units.
func ReadUTF16BE(b []byte, stripTrailingNUL bool) (string, error) {
	return readUTF16(b, unicode.BigEndian, stripTrailingNUL)
}

func readUTF16(b []byte, endian unicode.Endianness, stripTrailingNUL bool) (string, error) {
	if len(b)%2 != 0 {
		return "", direrr.NewCorruptError("UTF-16 slice has odd length %d", len(b))
	}

	if stripTrailingNUL {
		b = trimTrailingUTF16NUL(b, endian)
	}

	decoder := unicode.UTF16(endian, unicode.IgnoreBOM).NewDecoder()
	out, err := decoder.Bytes(b)
	if err != nil {
		return "", direrr.NewCorruptError("decoding UTF-16: %w", err)
	}
	return string(out), nil
}

func trimTrailingUTF16NUL(b []byte, endian unicode.Endianness) []byte {
	unit := func(i int) uint16 {
		if endian == unicode.LittleEndian {
			return uint16(b[i]) | uint16(b[i+1])<<8
		}
		return uint16(b[i])<<8 | uint16(b[i+1])
	}

	end := len(b)
	for end >= 2 && unit(end-2) == 0 {
		end -= 2
	}
	return b[:end]
}

////////////////////////////////////////////////////////////////////////////////

// WriteUTF16LE encodes s and zero-pads it into a fixed-width slot b,
// failing with direrr.ErrSliceTooShort if the encoded form overflows the
// slot.
func WriteUTF16LE(b []byte, s string) error {
	return writeUTF16(b, s, unicode.LittleEndian)
}

// WriteUTF16BE is WriteUTF16LE for big-endian code units.
func WriteUTF16BE(b []byte, s string) error {
	return writeUTF16(b, s, unicode.BigEndian)
}

func writeUTF16(b []byte, s string, endian unicode.Endianness) error {
	units := utf16.Encode([]rune(s))
	needed := len(units) * 2
	if err := need(b, needed); err != nil {
		return err
	}

	for i, u := range units {
		if endian == unicode.LittleEndian {
			b[i*2], b[i*2+1] = byte(u), byte(u>>8)
		} else {
			b[i*2], b[i*2+1] = byte(u>>8), byte(u)
		}
	}

	for i := needed; i < len(b); i++ {
		b[i] = 0
	}
	return nil
}

////////////////////////////////////////////////////////////////////////////////

// ReadLatin1Tag reads an exactly-4-byte Latin-1 tag string — the
// encoding VHD parent-locator platform codes ("W2ru", "W2ku") use.
func ReadLatin1Tag(b []byte) (string, error) {
	if err := need(b, 4); err != nil {
		return "", err
	}
	return string(b[:4]), nil
}

// WriteLatin1Tag writes a 4-character Latin-1 tag string, failing if tag
// is not exactly four bytes once encoded (every byte in a Go string
// literal restricted to Latin-1 code points is already one byte, so this
// is simply a length check).
func WriteLatin1Tag(b []byte, tag string) error {
	if len(tag) != 4 {
		return fmt.Errorf("latin-1 tag must be exactly 4 bytes, got %d", len(tag))
	}
	if err := need(b, 4); err != nil {
		return err
	}
	copy(b[:4], tag)
	return nil
}

////////////////////////////////////////////////////////////////////////////////

// EqualLatin1Tag reports whether the first 4 bytes of b spell tag,
// without allocating a string — used by cookie/magic checks.
func EqualLatin1Tag(b []byte, tag string) bool {
	if len(b) < 4 || len(tag) != 4 {
		return false
	}
	return bytes.Equal(b[:4], []byte(tag))
}
