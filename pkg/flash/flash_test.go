package flash

import (
	"bytes"
	"math"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/flashmock/flashmock/pkg/backend"
)

func testOptions() *Options {
	return &Options{
		Capacity:         32768,
		ReadGranularity:  1,
		WriteGranularity: 1,
		EraseGranularity: 4096,
		SyncWrites:       true,
	}
}

func newMemFlash(t *testing.T, opts *Options) *Flash {
	t.Helper()
	f, err := New(backend.NewMemory(), opts)
	require.NoError(t, err)
	t.Cleanup(func() { f.Close() })
	return f
}

func TestOpenValidation(t *testing.T) {
	cases := []struct {
		name string
		opts Options
	}{
		{"read granularity not power of two", Options{Capacity: 4096, ReadGranularity: 3, WriteGranularity: 1, EraseGranularity: 4096}},
		{"write granularity not power of two", Options{Capacity: 4096, ReadGranularity: 1, WriteGranularity: 6, EraseGranularity: 4096}},
		{"erase granularity not power of two", Options{Capacity: 4096, ReadGranularity: 1, WriteGranularity: 1, EraseGranularity: 4095}},
		{"zero erase granularity", Options{Capacity: 4096, ReadGranularity: 1, WriteGranularity: 1, EraseGranularity: 0}},
		{"capacity not a multiple", Options{Capacity: 5000, ReadGranularity: 1, WriteGranularity: 1, EraseGranularity: 4096}},
		{"negative capacity", Options{Capacity: -4096, ReadGranularity: 1, WriteGranularity: 1, EraseGranularity: 4096}},
		{"write granularity above erase", Options{Capacity: 8192, ReadGranularity: 1, WriteGranularity: 8192, EraseGranularity: 4096}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			opts := tc.opts
			_, err := New(backend.NewMemory(), &opts)
			require.ErrorIs(t, err, ErrInvalidParameters)
		})
	}
}

func TestInitialStateErased(t *testing.T) {
	f := newMemFlash(t, testOptions())

	buf := make([]byte, f.Capacity())
	require.NoError(t, f.Read(0, buf))
	for i, v := range buf {
		if v != ErasedByte {
			t.Fatalf("byte %d is 0x%02x, want 0xFF", i, v)
		}
	}
}

func TestEraseIdempotent(t *testing.T) {
	f := newMemFlash(t, testOptions())

	require.NoError(t, f.Erase(0, 4096))
	require.NoError(t, f.Write(0, []byte{1, 2, 3, 4}))

	require.NoError(t, f.Erase(0, 4096))
	first := make([]byte, 4096)
	require.NoError(t, f.Read(0, first))

	require.NoError(t, f.Erase(0, 4096))
	second := make([]byte, 4096)
	require.NoError(t, f.Read(0, second))

	require.Equal(t, first, second)
	require.Equal(t, byte(ErasedByte), first[0])
}

func TestWriteRequiresErase(t *testing.T) {
	f := newMemFlash(t, testOptions())

	require.NoError(t, f.Write(0x100, []byte("first")))

	err := f.Write(0x100, []byte("second"))
	require.ErrorIs(t, err, ErrNotErased)

	// The failed write must not have touched the store.
	buf := make([]byte, 5)
	require.NoError(t, f.Read(0x100, buf))
	require.Equal(t, []byte("first"), buf)
}

func TestWriteNotErasedNamesOffset(t *testing.T) {
	f := newMemFlash(t, testOptions())

	require.NoError(t, f.Write(0x102, []byte{0xAB}))

	err := f.Write(0x100, make([]byte, 8))
	require.ErrorIs(t, err, ErrNotErased)
	require.Contains(t, err.Error(), "258") // 0x102
}

func TestRoundTrip(t *testing.T) {
	f := newMemFlash(t, testOptions())

	data := []byte("Hello, embedded-storage!")
	require.NoError(t, f.Erase(0, 4096))
	require.NoError(t, f.Write(0x100, data))

	buf := make([]byte, len(data))
	require.NoError(t, f.Read(0x100, buf))
	require.Equal(t, data, buf)
}

// The concrete scenario: 32KiB capacity, 4KiB erase blocks, byte-granular
// reads and writes.
func TestEraseWriteReadScenario(t *testing.T) {
	f := newMemFlash(t, testOptions())

	require.NoError(t, f.Erase(0, 4096))

	data := []byte("Hello, embedded-storage!")
	require.NoError(t, f.Write(0x100, data))

	buf := make([]byte, len(data))
	require.NoError(t, f.Read(0x100, buf))
	require.Equal(t, data, buf)

	require.ErrorIs(t, f.Write(0x100, data), ErrNotErased)
}

func TestAlignmentRejection(t *testing.T) {
	opts := &Options{
		Capacity:         32768,
		ReadGranularity:  4,
		WriteGranularity: 8,
		EraseGranularity: 4096,
	}
	f := newMemFlash(t, opts)

	require.ErrorIs(t, f.Read(2, make([]byte, 4)), ErrNotAligned)
	require.ErrorIs(t, f.Read(0, make([]byte, 5)), ErrNotAligned)
	require.ErrorIs(t, f.Write(4, make([]byte, 8)), ErrNotAligned)
	require.ErrorIs(t, f.Write(0, make([]byte, 12)), ErrNotAligned)
	require.ErrorIs(t, f.Erase(2048, 4096), ErrNotAligned)
	require.ErrorIs(t, f.Erase(0, 2048), ErrNotAligned)

	// None of it may have mutated the image.
	buf := make([]byte, 32768)
	require.NoError(t, f.Read(0, buf))
	for i, v := range buf {
		if v != ErasedByte {
			t.Fatalf("byte %d is 0x%02x after rejected ops, want 0xFF", i, v)
		}
	}
}

func TestBoundsRejection(t *testing.T) {
	f := newMemFlash(t, testOptions())

	require.ErrorIs(t, f.Read(32768, make([]byte, 1)), ErrOutOfBounds)
	require.ErrorIs(t, f.Read(32767, make([]byte, 2)), ErrOutOfBounds)
	require.ErrorIs(t, f.Read(-4096, make([]byte, 1)), ErrOutOfBounds)
	require.ErrorIs(t, f.Write(32768, []byte{0}), ErrOutOfBounds)
	require.ErrorIs(t, f.Erase(32768, 4096), ErrOutOfBounds)
	require.ErrorIs(t, f.Erase(28672, 8192), ErrOutOfBounds)

	// Ranges ending exactly at capacity are fine.
	require.NoError(t, f.Read(32767, make([]byte, 1)))
	require.NoError(t, f.Erase(28672, 4096))
}

// Offsets near MaxInt64 must be rejected as out of bounds; a wrapping
// off+length sum must not reach the backend.
func TestBoundsOverflow(t *testing.T) {
	f := newMemFlash(t, testOptions())

	require.ErrorIs(t, f.Read(math.MaxInt64-7, make([]byte, 16)), ErrOutOfBounds)
	require.ErrorIs(t, f.Write(math.MaxInt64-7, make([]byte, 16)), ErrOutOfBounds)
	require.ErrorIs(t, f.Erase(math.MaxInt64-4095, 4096), ErrOutOfBounds)
	require.ErrorIs(t, f.Erase(4096, math.MaxInt64-4095), ErrOutOfBounds)
}

// Same over the mmap backend, which indexes the mapping directly and
// would panic on a wrapped offset reaching it.
func TestBoundsOverflowMmap(t *testing.T) {
	path := t.TempDir() + "/flash.img"
	opts := testOptions()
	opts.Mmap = true

	f, err := Open(path, opts)
	require.NoError(t, err)
	defer f.Close()

	require.ErrorIs(t, f.Read(math.MaxInt64-7, make([]byte, 16)), ErrOutOfBounds)
	require.ErrorIs(t, f.Write(math.MaxInt64-7, make([]byte, 16)), ErrOutOfBounds)
}

// Writing 0xFF values is legal and leaves those bytes erased under the
// content-equality definition, so a later write to them succeeds.
func TestWriteErasedValueStaysWritable(t *testing.T) {
	f := newMemFlash(t, testOptions())

	require.NoError(t, f.Write(0, []byte{0xFF, 0xFF, 0xFF, 0xFF}))
	require.NoError(t, f.Write(0, []byte{1, 2, 3, 4}))

	buf := make([]byte, 4)
	require.NoError(t, f.Read(0, buf))
	require.Equal(t, []byte{1, 2, 3, 4}, buf)
}

func TestAccessors(t *testing.T) {
	opts := &Options{
		Capacity:         8192,
		ReadGranularity:  2,
		WriteGranularity: 4,
		EraseGranularity: 4096,
	}
	f := newMemFlash(t, opts)

	require.Equal(t, int64(8192), f.Capacity())
	require.Equal(t, int64(2), f.ReadGranularity())
	require.Equal(t, int64(4), f.WriteGranularity())
	require.Equal(t, int64(4096), f.EraseGranularity())
}

func TestZeroCapacity(t *testing.T) {
	opts := testOptions()
	opts.Capacity = 0
	f := newMemFlash(t, opts)

	require.NoError(t, f.Read(0, nil))
	require.ErrorIs(t, f.Read(0, make([]byte, 1)), ErrOutOfBounds)
	require.ErrorIs(t, f.Erase(0, 4096), ErrOutOfBounds)
}

func TestPersistence(t *testing.T) {
	path := t.TempDir() + "/flash.img"
	opts := testOptions()

	data := []byte("survives reopen")

	f, err := Open(path, opts)
	require.NoError(t, err)
	require.NoError(t, f.Write(4096, data))
	fp1, err := f.Fingerprint()
	require.NoError(t, err)
	require.NoError(t, f.Close())

	f, err = Open(path, opts)
	require.NoError(t, err)
	defer f.Close()

	buf := make([]byte, len(data))
	require.NoError(t, f.Read(4096, buf))
	require.Equal(t, data, buf)

	fp2, err := f.Fingerprint()
	require.NoError(t, err)
	require.Equal(t, fp1, fp2)

	// The tracker is rebuilt from content, so the erase-before-write rule
	// holds across reopen.
	require.ErrorIs(t, f.Write(4096, data), ErrNotErased)
}

func TestOpenExtendsShortImage(t *testing.T) {
	path := t.TempDir() + "/flash.img"
	opts := testOptions()

	f, err := Open(path, opts)
	require.NoError(t, err)
	require.NoError(t, f.Write(0, []byte{1, 2, 3, 4}))
	require.NoError(t, f.Close())

	// Reopen with a doubled capacity: old content survives, the new
	// region reads back erased.
	opts.Capacity *= 2
	f, err = Open(path, opts)
	require.NoError(t, err)
	defer f.Close()

	buf := make([]byte, 4)
	require.NoError(t, f.Read(0, buf))
	require.Equal(t, []byte{1, 2, 3, 4}, buf)

	tail := make([]byte, 32768)
	require.NoError(t, f.Read(32768, tail))
	require.True(t, bytes.Equal(tail, bytes.Repeat([]byte{ErasedByte}, len(tail))))
}

func TestOpenRejectsOversizedImage(t *testing.T) {
	path := t.TempDir() + "/flash.img"
	opts := testOptions()

	f, err := Open(path, opts)
	require.NoError(t, err)
	require.NoError(t, f.Close())

	opts.Capacity = 4096
	_, err = Open(path, opts)
	require.ErrorIs(t, err, ErrInvalidParameters)
}

func TestMmapBacked(t *testing.T) {
	path := t.TempDir() + "/flash.img"
	opts := testOptions()
	opts.Mmap = true

	f, err := Open(path, opts)
	require.NoError(t, err)

	buf := make([]byte, 4096)
	require.NoError(t, f.Read(0, buf))
	require.True(t, bytes.Equal(buf, bytes.Repeat([]byte{ErasedByte}, len(buf))))

	data := []byte("mapped")
	require.NoError(t, f.Write(64, data))
	require.NoError(t, f.Close())

	f, err = Open(path, opts)
	require.NoError(t, err)
	defer f.Close()

	got := make([]byte, len(data))
	require.NoError(t, f.Read(64, got))
	require.Equal(t, data, got)
	require.ErrorIs(t, f.Write(64, data), ErrNotErased)
}

func TestClosed(t *testing.T) {
	f := newMemFlash(t, testOptions())

	require.NoError(t, f.Close())
	require.NoError(t, f.Close())

	var err error
	err = f.Read(0, make([]byte, 1))
	require.ErrorIs(t, err, ErrClosed)
	err = f.Write(0, []byte{0})
	require.ErrorIs(t, err, ErrClosed)
	err = f.Erase(0, 4096)
	require.ErrorIs(t, err, ErrClosed)
	_, err = f.Fingerprint()
	require.ErrorIs(t, err, ErrClosed)
}

func TestFingerprintChangesWithContent(t *testing.T) {
	f := newMemFlash(t, testOptions())

	fp1, err := f.Fingerprint()
	require.NoError(t, err)

	require.NoError(t, f.Write(0, []byte{0x42}))
	fp2, err := f.Fingerprint()
	require.NoError(t, err)
	require.NotEqual(t, fp1, fp2)

	require.NoError(t, f.Erase(0, 4096))
	fp3, err := f.Fingerprint()
	require.NoError(t, err)
	require.Equal(t, fp1, fp3)
}
