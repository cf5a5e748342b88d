package haltypes

import (
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBaseRoundTrip(t *testing.T) {
	assert.Equal(t, "ACGTN", DecodeString(EncodeString("acgtn")))
	assert.Equal(t, "ACGTN", DecodeString(EncodeString("ACGTN")))
	assert.Equal(t, "N", DecodeString(EncodeString("x")), "unknown characters read as N")
	assert.Equal(t, "", DecodeString(EncodeString("")))
}

func TestBaseCodes(t *testing.T) {
	// The nibble codes are part of the on-disk format.
	assert.Equal(t, Base(0), EncodeBase('A'))
	assert.Equal(t, Base(1), EncodeBase('c'))
	assert.Equal(t, Base(2), EncodeBase('G'))
	assert.Equal(t, Base(3), EncodeBase('t'))
	assert.Equal(t, Base(4), EncodeBase('N'))
}

func TestBaseComplement(t *testing.T) {
	assert.Equal(t, BaseT, BaseA.Complement())
	assert.Equal(t, BaseA, BaseT.Complement())
	assert.Equal(t, BaseG, BaseC.Complement())
	assert.Equal(t, BaseC, BaseG.Complement())
	assert.Equal(t, BaseN, BaseN.Complement())
}

func TestNullIndex(t *testing.T) {
	assert.False(t, NullIndex.Valid())
	assert.True(t, ArrayIndex(0).Valid())
	assert.Equal(t, ^ArrayIndex(0), NullIndex)
}

func TestErrorKinds(t *testing.T) {
	err := New(OutOfRange, "index %d", 7)
	assert.Equal(t, OutOfRange, KindOf(err))
	assert.True(t, Is(err, OutOfRange))
	assert.False(t, Is(err, NotFound))
	assert.Contains(t, err.Error(), "OutOfRange")
	assert.Contains(t, err.Error(), "index 7")

	wrapped := Wrap(io.ErrUnexpectedEOF, IoFailure, "read %s", "x.hal")
	assert.Equal(t, IoFailure, KindOf(wrapped))
	assert.Contains(t, wrapped.Error(), "x.hal")

	assert.Equal(t, PreconditionViolated, KindOf(io.EOF), "foreign errors map to PreconditionViolated")
}
