package gpt

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/discore/discore/direrr"
)

////////////////////////////////////////////////////////////////////////////////

// efiSystemEntryBytes is one 128-byte GPT entry: type GUID
// C12A7328-F81F-11D2-BA4B-00A0C93EC93B (EFI System), unique GUID
// 11111111-2222-3333-4444-555555555555, first usable LBA 2048, last
// usable LBA 999999, no attribute flags, name "EFI".
var efiSystemEntryBytes = []byte{
	0x28, 0x73, 0x2a, 0xc1, 0x1f, 0xf8, 0xd2, 0x11, 0xba, 0x4b, 0x00, 0xa0, 0xc9, 0x3e, 0xc9, 0x3b,
	0x11, 0x11, 0x11, 0x11, 0x22, 0x22, 0x33, 0x33, 0x44, 0x44, 0x55, 0x55, 0x55, 0x55, 0x55, 0x55,
	0x00, 0x08, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
	0x3f, 0x42, 0x0f, 0x00, 0x00, 0x00, 0x00, 0x00,
	0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
	0x45, 0x00, 0x46, 0x00, 0x49, 0x00,
}

func fullEntryBytes() []byte {
	b := make([]byte, entrySize)
	copy(b, efiSystemEntryBytes)
	return b
}

// TestEntryDecodesEFISystemPartition covers the scenario: a type GUID
// of C12A7328-F81F-11D2-BA4B-00A0C93EC93B decodes with
// FriendlyType() == "EFI System" and the remaining fields as recorded.
func TestEntryDecodesEFISystemPartition(t *testing.T) {
	var e Entry
	n, err := e.ReadFrom(fullEntryBytes())
	require.NoError(t, err)
	require.Equal(t, entrySize, n)

	require.Equal(t, uuid.MustParse("C12A7328-F81F-11D2-BA4B-00A0C93EC93B"), e.TypeGUID)
	require.Equal(t, uuid.MustParse("11111111-2222-3333-4444-555555555555"), e.UniqueGUID)
	require.Equal(t, int64(2048), e.FirstUsableLBA)
	require.Equal(t, int64(999999), e.LastUsableLBA)
	require.Equal(t, uint64(0), e.AttributeFlags)
	require.Equal(t, "EFI", e.Name)
	require.Equal(t, "EFI System", e.FriendlyType())
	require.False(t, e.Empty())
}

func TestEntryFriendlyTypeFallsBackToGUIDString(t *testing.T) {
	e := Entry{TypeGUID: uuid.MustParse("DEADBEEF-0000-0000-0000-000000000000")}
	require.Equal(t, "deadbeef-0000-0000-0000-000000000000", e.FriendlyType())
}

func TestEntryWriteToReadFromRoundTrip(t *testing.T) {
	original := Entry{
		TypeGUID:       uuid.MustParse("0FC63DAF-8483-4772-8E79-3D69D8477DE4"),
		UniqueGUID:     uuid.New(),
		FirstUsableLBA: 40,
		LastUsableLBA:  20971519,
		AttributeFlags: 0x8000000000000001,
		Name:           "root",
	}

	b := make([]byte, entrySize)
	require.NoError(t, original.WriteTo(b))

	var decoded Entry
	n, err := decoded.ReadFrom(b)
	require.NoError(t, err)
	require.Equal(t, entrySize, n)
	require.Equal(t, original, decoded)
}

func TestEntryEmptySlotHasNilTypeGUID(t *testing.T) {
	var e Entry
	_, err := e.ReadFrom(make([]byte, entrySize))
	require.NoError(t, err)
	require.True(t, e.Empty())
}

func TestEntryReadFromRejectsShortBuffer(t *testing.T) {
	var e Entry
	_, err := e.ReadFrom(make([]byte, entrySize-1))
	require.ErrorIs(t, err, direrr.ErrSliceTooShort)
}

func TestEntryWriteToRejectsShortBuffer(t *testing.T) {
	e := Entry{TypeGUID: uuid.New()}
	err := e.WriteTo(make([]byte, entrySize-1))
	require.ErrorIs(t, err, direrr.ErrSliceTooShort)
}
