package bitfield

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetClear(t *testing.T) {
	v := New(10)
	if v.Hex() != "0000" {
		t.Errorf("invalid value: %s", v.Hex())
	}

	v.Set(0)
	if v.Hex() != "8000" {
		t.Errorf("invalid value: %s", v.Hex())
	}

	v.Set(9)
	if v.Hex() != "8040" {
		t.Errorf("invalid value: %s", v.Hex())
	}

	func() {
		defer func() {
			if r := recover(); r == nil {
				t.Error("expected panic but not found")
			}
		}()
		v.Set(10)
	}()

	v.Clear(0)
	if v.Hex() != "0040" {
		t.Errorf("invalid value: %s", v.Hex())
	}

	assert.False(t, v.Test(2))
	assert.True(t, v.Test(9))
	assert.False(t, v.Test(10))
	assert.Equal(t, uint32(1), v.Count())
	assert.False(t, v.All())
}

func TestFromBytes(t *testing.T) {
	v, err := FromBytes([]byte{0xff, 0xc0}, 10)
	require.NoError(t, err)
	assert.True(t, v.All())
	assert.Equal(t, uint32(10), v.Count())

	_, err = FromBytes([]byte{0xff}, 10)
	assert.ErrorIs(t, err, ErrInvalidLength)

	_, err = FromBytes([]byte{0xff, 0xc0, 0x00}, 10)
	assert.ErrorIs(t, err, ErrInvalidLength)

	_, err = FromBytes([]byte{0xff, 0xe0}, 10)
	assert.ErrorIs(t, err, ErrSpareBitsSet)

	buf := []byte{0x80}
	v, err = FromBytes(buf, 3)
	require.NoError(t, err)
	buf[0] = 0
	assert.True(t, v.Test(0), "input must be copied")
}
