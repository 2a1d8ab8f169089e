package serialize

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUvarint64RoundTrip(t *testing.T) {
	cases := []uint64{0, 1, 127, 128, 300, math.MaxUint32, math.MaxUint32 + 1, math.MaxUint64}
	for _, v := range cases {
		buf := WriteUvarint64(nil, v)
		got, n, err := ReadUvarint64(buf)
		require.NoError(t, err)
		assert.Equal(t, v, got)
		assert.Equal(t, len(buf), n)
	}
}

func TestUvarint64SurvivesValuesAbove32Bits(t *testing.T) {
	v := uint64(1) << 40
	buf := WriteUvarint64(nil, v)
	got, _, err := ReadUvarint64(buf)
	require.NoError(t, err)
	assert.Equal(t, v, got, "a 64-bit varint must not be silently truncated to 32 bits")
}

func TestReadUvarint64TruncatedBuffer(t *testing.T) {
	buf := WriteUvarint64(nil, math.MaxUint64)
	_, _, err := ReadUvarint64(buf[:1])
	assert.Error(t, err)
}

func TestBytesRoundTrip(t *testing.T) {
	buf := WriteBytes(nil, []byte("payload"))
	got, n, err := ReadBytes(buf)
	require.NoError(t, err)
	assert.Equal(t, "payload", string(got))
	assert.Equal(t, len(buf), n)
}

func TestReadBytesRejectsOversizedLength(t *testing.T) {
	buf := WriteUvarint64(nil, 1000)
	_, _, err := ReadBytes(buf)
	assert.Error(t, err)
}

func TestBuilderAccumulatesFields(t *testing.T) {
	var b Builder
	b.PutUvarint64(42)
	b.PutBytes([]byte("x"))

	buf := b.Bytes()
	v, n, err := ReadUvarint64(buf)
	require.NoError(t, err)
	assert.Equal(t, uint64(42), v)

	rest, _, err := ReadBytes(buf[n:])
	require.NoError(t, err)
	assert.Equal(t, "x", string(rest))
}
