package domain

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const maxU128Decimal = "340282366920938463463374607431768211455"

func TestU128_String(t *testing.T) {
	assert.Equal(t, "0", U128{}.String())
	assert.Equal(t, "42", U128FromUint64(42).String())
	assert.Equal(t, "18446744073709551616", U128{Hi: 1}.String())
	assert.Equal(t, maxU128Decimal, MaxU128.String())
}

func TestParseU128(t *testing.T) {
	v, err := ParseU128(maxU128Decimal)
	require.NoError(t, err)
	assert.Equal(t, MaxU128, v)

	v, err = ParseU128("18446744073709551617")
	require.NoError(t, err)
	assert.Equal(t, U128{Hi: 1, Lo: 1}, v)

	for _, bad := range []string{"", "-1", "1.5", "1e3", "340282366920938463463374607431768211456", " 1"} {
		_, err := ParseU128(bad)
		assert.ErrorIs(t, err, ErrInvalidU128, "input %q", bad)
	}
}

func TestU128_LittleEndian(t *testing.T) {
	buf := make([]byte, 16)
	MaxU128.PutLittleEndian(buf)
	for _, b := range buf {
		assert.Equal(t, byte(0xff), b)
	}

	v := U128{Hi: 0x0102030405060708, Lo: 0x1112131415161718}
	v.PutLittleEndian(buf)
	assert.Equal(t, byte(0x18), buf[0])
	assert.Equal(t, byte(0x01), buf[15])
	assert.Equal(t, v, U128FromLittleEndian(buf))
}

func TestU128_JSON(t *testing.T) {
	type wrapper struct {
		Supply U128 `json:"supply"`
	}

	data, err := json.Marshal(wrapper{Supply: MaxU128})
	require.NoError(t, err)
	assert.JSONEq(t, `{"supply":"`+maxU128Decimal+`"}`, string(data))

	var out wrapper
	require.NoError(t, json.Unmarshal(data, &out))
	assert.Equal(t, MaxU128, out.Supply)

	// Bare numbers are accepted without float coercion.
	require.NoError(t, json.Unmarshal([]byte(`{"supply":`+maxU128Decimal+`}`), &out))
	assert.Equal(t, MaxU128, out.Supply)
}
